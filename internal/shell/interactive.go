package shell

import "strings"

// interactiveCommands is the recognized interactive command set spec §4.7
// names: "editors, pagers, interactive shells, docker run -it family".
var interactiveCommands = map[string]bool{
	"vim": true, "vi": true, "nvim": true, "emacs": true, "nano": true, "pico": true,
	"less": true, "more": true, "man": true,
	"bash": true, "zsh": true, "sh": true, "fish": true, "ksh": true,
	"ssh": true, "mysql": true, "psql": true, "sqlite3": true, "redis-cli": true,
	"top": true, "htop": true, "tmux": true, "screen": true,
}

// wantsPTY implements spec §4.7's "choose PTY vs. non-PTY by: explicit
// flag, a recognised interactive command set..., or explicit :pty REPL
// prefix." The :pty prefix is stripped by the REPL before argv reaches
// Dispatch, surfaced here only as the forcePTY flag.
func wantsPTY(argv []string, forcePTY, forceNoPTY bool) bool {
	if forceNoPTY {
		return false
	}
	if forcePTY {
		return true
	}
	if len(argv) == 0 {
		return false
	}
	if interactiveCommands[argv[0]] {
		return true
	}
	if argv[0] == "docker" && isDockerRunInteractive(argv[1:]) {
		return true
	}
	return false
}

func isDockerRunInteractive(args []string) bool {
	if len(args) == 0 || args[0] != "run" {
		return false
	}
	for _, a := range args[1:] {
		if a == "-it" || a == "-ti" {
			return true
		}
		if strings.Contains(a, "i") && strings.HasPrefix(a, "-") && strings.Contains(a, "t") && !strings.HasPrefix(a, "--") {
			return true
		}
	}
	return false
}
