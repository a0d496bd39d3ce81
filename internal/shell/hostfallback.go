package shell

import (
	"context"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// dispatchHostFallback runs argv directly on the host, bypassing the world
// agent entirely (spec §4.7 "FellBack": triggered when the agent is
// unreachable or an agent-routed attempt errors mid-flight). It mirrors the
// shim's own process-group and signal-forwarding discipline (spec §4.1
// steps 7-9) so a fallback command behaves the same as a shimmed one: a new
// process group, forwarded SIGINT/SIGTERM (the PTY path also applies
// SIGWINCH as a window resize), and the 128+signal exit code convention for
// a child killed by a signal.
func (s *Shell) dispatchHostFallback(ctx context.Context, argv []string, cwd string, spanID string, usePTY bool) (*Outcome, error) {
	env := s.childEnv(spanID)
	envSlice := make([]string, 0, len(env))
	for k, v := range env {
		envSlice = append(envSlice, k+"="+v)
	}

	if usePTY {
		return s.hostFallbackPTY(argv, cwd, envSlice)
	}
	return s.hostFallbackExec(ctx, argv, cwd, envSlice)
}

func (s *Shell) hostFallbackExec(ctx context.Context, argv []string, cwd string, env []string) (*Outcome, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return &Outcome{ExitCode: 127}, nil
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	defer signal.Stop(sigCh)

	go func() {
		for {
			select {
			case sig := <-sigCh:
				if s, ok := sig.(syscall.Signal); ok {
					syscall.Kill(-cmd.Process.Pid, s)
				}
			case <-done:
				return
			}
		}
	}()

	err := cmd.Wait()
	close(done)

	return &Outcome{ExitCode: exitCodeFromErr(cmd, err)}, nil
}

func (s *Shell) hostFallbackPTY(argv []string, cwd string, env []string) (*Outcome, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = env

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return &Outcome{ExitCode: 127}, nil
	}
	defer ptmx.Close()

	fd := int(os.Stdin.Fd())
	isTerm := term.IsTerminal(fd)
	var oldState *term.State
	if isTerm {
		oldState, _ = term.MakeRaw(fd)
		if w, h, sizeErr := term.GetSize(fd); sizeErr == nil {
			pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(w), Rows: uint16(h)})
		}
	}
	restore := func() {
		if oldState != nil {
			term.Restore(fd, oldState)
		}
	}
	defer restore()

	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	defer func() {
		signal.Stop(winchCh)
		signal.Stop(sigCh)
	}()

	go func() {
		for {
			select {
			case <-winchCh:
				if w, h, sizeErr := term.GetSize(fd); sizeErr == nil {
					pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(w), Rows: uint16(h)})
				}
			case sig := <-sigCh:
				if sysSig, ok := sig.(syscall.Signal); ok {
					syscall.Kill(-cmd.Process.Pid, sysSig)
				}
			case <-done:
				return
			}
		}
	}()

	go func() {
		_, _ = io.Copy(ptmx, os.Stdin)
	}()
	go func() {
		_, _ = io.Copy(os.Stdout, ptmx)
	}()

	err = cmd.Wait()
	close(done)

	return &Outcome{ExitCode: exitCodeFromErr(cmd, err)}, nil
}

// exitCodeFromErr applies the 128+signal convention for a child killed by a
// signal (spec §4.1 step 9), otherwise returns the process's own exit code.
func exitCodeFromErr(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}
	return 1
}
