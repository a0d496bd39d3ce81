package shell

import (
	"fmt"
	"os"
	"path/filepath"
)

// builtinNames is the small fixed built-in set spec §4.7 names: "change
// directory (supports previous-directory marker), print working directory,
// export environment variable (process-local), unset environment
// variable." Interactive-loop commands exit/quit are intercepted by the
// REPL itself, not by this dispatcher (spec §4.7).
var builtinNames = map[string]bool{
	"cd":     true,
	"pwd":    true,
	"export": true,
	"unset":  true,
}

// IsBuiltin reports whether name is handled without spawning a child.
func IsBuiltin(name string) bool {
	return builtinNames[name]
}

// RunBuiltin executes a built-in command in-process (spec §4.7 "Built-in
// commands handled without spawning a child"). It never touches the
// broker, transport, or span recorder beyond what Dispatch wraps it with.
func (s *Shell) RunBuiltin(argv []string) (string, error) {
	switch argv[0] {
	case "cd":
		return "", s.builtinCd(argv[1:])
	case "pwd":
		return s.Cwd() + "\n", nil
	case "export":
		return "", s.builtinExport(argv[1:])
	case "unset":
		return "", s.builtinUnset(argv[1:])
	default:
		return "", fmt.Errorf("shell: %s is not a built-in", argv[0])
	}
}

func (s *Shell) builtinCd(args []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.env["HOME"]
	if len(args) > 0 {
		target = args[0]
	}
	if target == "-" {
		prev, ok := s.env["OLDPWD"]
		if !ok {
			return fmt.Errorf("cd: OLDPWD not set")
		}
		target = prev
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(s.cwd, target)
	}
	target = filepath.Clean(target)

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("cd: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("cd: %s: not a directory", target)
	}

	s.env["OLDPWD"] = s.cwd
	s.cwd = target
	s.env["PWD"] = target
	return nil
}

func (s *Shell) builtinExport(args []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range args {
		k, v, ok := cutEnv(a)
		if !ok {
			// "export NAME" with no value exports the current value, a
			// no-op if NAME is already in the process-local table.
			continue
		}
		s.env[k] = v
	}
	return nil
}

func (s *Shell) builtinUnset(args []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range args {
		delete(s.env, name)
	}
	return nil
}

// EnvSlice returns a copy of the shell's process-local environment table as
// a map, for handing to a spawned child or the agent's execute request.
func (s *Shell) EnvSlice() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.env))
	for k, v := range s.env {
		out[k] = v
	}
	return out
}
