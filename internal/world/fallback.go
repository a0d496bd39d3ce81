//go:build !linux

package world

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"

	"github.com/ehrlich-b/substrate/internal/common"
	"github.com/ehrlich-b/substrate/internal/logger"
)

// fallbackWorld is used on every non-Linux host. The netns+cgroup+overlay+
// nft primitives are Linux-only by construction (spec §4.5 is scoped to
// Linux); on macOS and Windows the host-level isolation story runs through
// the Lima/WSL provisioning helpers, which spec §1 explicitly places out of
// scope ("external collaborators, not specified here"). This backend
// degrades to direct host execution and always reports every scope as
// degraded, matching spec §7's "On transport/world unavailable... execution
// continues" user-visible behavior.
type fallbackWorld struct {
	mu       sync.Mutex
	id       ID
	livePIDs map[int]bool
}

func newWorld(ctx context.Context, spec SessionSpec) (World, error) {
	logger.Warn("world: no Linux isolation primitives on this platform, running on host", "session", spec.SessionID)
	return &fallbackWorld{id: NewID(), livePIDs: make(map[int]bool)}, nil
}

// attachWorld has nothing to attach to: a fallbackWorld owns no OS-level
// resources (see newWorld), so there is never a prior world to reattach.
// EnsureSession always falls through to minting a fresh one.
func attachWorld(ctx context.Context, id ID, spec SessionSpec) (World, error) {
	return nil, fmt.Errorf("world: adoption unsupported on this platform")
}

func (w *fallbackWorld) ID() ID { return w.id }

func (w *fallbackWorld) Exec(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	cmd := exec.CommandContext(ctx, req.Cmd[0], req.Cmd[1:]...)
	cmd.Dir = req.Cwd
	cmd.Env = envSlice(req.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("world: spawn %s: %w", req.Cmd[0], err)
	}
	w.mu.Lock()
	w.livePIDs[cmd.Process.Pid] = true
	w.mu.Unlock()

	err := cmd.Wait()
	w.mu.Lock()
	delete(w.livePIDs, cmd.Process.Pid)
	w.mu.Unlock()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				exitCode = 128 + int(ws.Signal())
			} else {
				exitCode = exitErr.ExitCode()
			}
		} else {
			return nil, fmt.Errorf("world: wait %s: %w", req.Cmd[0], err)
		}
	}
	return &ExecResult{
		Exit:     exitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Degraded: []string{"netns", "cgroup", "overlay", "filter"},
	}, nil
}

type fallbackPTYHandle struct {
	w    *fallbackWorld
	cmd  *exec.Cmd
	ptmx *os.File
}

func (h *fallbackPTYHandle) PTY() *os.File { return h.ptmx }

func (h *fallbackPTYHandle) Resize(cols, rows int) error {
	return pty.Setsize(h.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (h *fallbackPTYHandle) Signal(sig syscall.Signal) error {
	if h.cmd.Process == nil {
		return fmt.Errorf("world: no process to signal")
	}
	return h.cmd.Process.Signal(sig)
}

func (h *fallbackPTYHandle) Wait() (*ExecResult, error) {
	err := h.cmd.Wait()
	h.ptmx.Close()
	h.w.mu.Lock()
	delete(h.w.livePIDs, h.cmd.Process.Pid)
	h.w.mu.Unlock()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("world: pty wait: %w", err)
		}
	}
	return &ExecResult{Exit: exitCode, Degraded: []string{"netns", "cgroup", "overlay", "filter"}}, nil
}

// ExecPTY runs req.Cmd attached to a host pseudo-terminal; no isolation
// primitives exist on this platform (see newWorld).
func (w *fallbackWorld) ExecPTY(ctx context.Context, req ExecRequest, cols, rows int) (PTYHandle, error) {
	cmd := exec.CommandContext(ctx, req.Cmd[0], req.Cmd[1:]...)
	cmd.Dir = req.Cwd
	cmd.Env = envSlice(req.Env)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, fmt.Errorf("world: pty start %s: %w", req.Cmd[0], err)
	}
	w.mu.Lock()
	w.livePIDs[cmd.Process.Pid] = true
	w.mu.Unlock()
	return &fallbackPTYHandle{w: w, cmd: cmd, ptmx: ptmx}, nil
}

func (w *fallbackWorld) FsDiff(ctx context.Context) (*common.FsDiff, error) {
	return nil, nil // no overlay exists to diff on this platform
}

func (w *fallbackWorld) Teardown(ctx context.Context) error { return nil }

func (w *fallbackWorld) Live() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.livePIDs) > 0
}

// Capabilities reports no isolation primitives on non-Linux hosts.
func Capabilities() map[string]bool {
	return map[string]bool{"namespaces": false, "overlay": false, "filter": false, "cgroup": false}
}
