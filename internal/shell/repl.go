package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"
)

// ptyPrefix is the REPL's explicit `:pty` escape (spec §4.7 "explicit
// :pty REPL prefix"), stripped before the remaining line is parsed.
const ptyPrefix = ":pty "

// RunREPL drives the interactive loop: read a line, parse it into argv,
// dispatch it, print the prompt again. Grounded in the teacher's
// cmd/wt/main.go REPL shape and egg.go's suspend-guard around external
// command execution, generalized to Substrate's Dispatch state machine.
//
// exit/quit are intercepted here, not by Dispatch (spec §4.7 "Interactive-
// loop commands exit and quit are intercepted by the loop, not by the
// dispatcher").
func (s *Shell) RunREPL(ctx context.Context) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGTERM {
				cancel()
				return
			}
			// SIGINT with no foreground child just re-prompts (spec §4.7
			// "forward to the current child group; if none, continue the
			// loop"); Dispatch owns forwarding while a child is running.
		}
	}()

	reader := bufio.NewReader(os.Stdin)
	lastExit := 0

	for {
		if ctx.Err() != nil {
			return lastExit
		}
		fmt.Fprint(os.Stdout, s.prompt())

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(os.Stdout)
				return lastExit
			}
			return lastExit
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		forcePTY := false
		if strings.HasPrefix(line, ptyPrefix) {
			forcePTY = true
			line = strings.TrimSpace(line[len(ptyPrefix):])
		}
		if line == "" {
			continue
		}

		switch line {
		case "exit", "quit":
			return lastExit
		}

		argv := splitFields(line)
		if len(argv) == 0 {
			continue
		}

		out, err := s.runGuarded(ctx, argv, forcePTY, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "substrate: %v\n", err)
			lastExit = 1
			continue
		}
		lastExit = out.ExitCode
	}
}

// runGuarded wraps Dispatch in the suspend-guard spec §4.7 requires: save
// terminal state before handing the terminal to a child, restore it on
// every exit path (normal completion, error, or panic recovery).
func (s *Shell) runGuarded(ctx context.Context, argv []string, forcePTY, forceNoPTY bool) (out *Outcome, err error) {
	fd := int(os.Stdin.Fd())
	var saved *term.State
	if term.IsTerminal(fd) {
		saved, _ = term.GetState(fd)
	}
	defer func() {
		if saved != nil {
			term.Restore(fd, saved)
		}
	}()
	return s.Dispatch(ctx, argv, forcePTY, forceNoPTY)
}

func (s *Shell) prompt() string {
	cwd := s.Cwd()
	return "substrate:" + shortenHome(cwd) + "$ "
}

func shortenHome(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home+"/") {
		return "~" + path[len(home):]
	}
	return path
}

// splitFields does unquoted whitespace splitting. Substrate's built-in
// command set and dispatch model make no promise of full shell grammar
// (spec §1 Non-goals "general-purpose shell scripting features beyond the
// small built-in set"); quoting and pipelines are left to the interactive
// line editor named as an external collaborator (spec §1 Out of scope).
func splitFields(line string) []string {
	return strings.Fields(line)
}
