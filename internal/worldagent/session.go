package worldagent

import (
	"io"
	"sync"
	"syscall"
	"time"

	"github.com/ehrlich-b/substrate/internal/logger"
	"github.com/ehrlich-b/substrate/internal/world"
)

// ptySession wraps one live PTYHandle plus the VTerm mirror used to replay
// a full-screen snapshot to a reattaching client (spec §4.6 "stream";
// SPEC_FULL.md PTY session reattach). Grounded in the teacher's
// egg.Session, trimmed to what the agent itself needs: the shell
// orchestrator owns REPL-level concerns (built-ins, line editing), not
// this package.
type ptySession struct {
	mu        sync.Mutex
	id        string
	handle    world.PTYHandle
	vterm     *VTerm
	startedAt time.Time
	done      chan struct{}
	exitOnce  sync.Once
	result    *world.ExecResult
}

func newPTYSession(id string, handle world.PTYHandle, cols, rows int) *ptySession {
	return &ptySession{
		id:        id,
		handle:    handle,
		vterm:     NewVTerm(cols, rows),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// pump copies PTY output into both the VTerm mirror and out, stopping when
// the PTY closes.
func (s *ptySession) pump(out func([]byte)) {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.handle.PTY().Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.vterm.Write(chunk)
			out(chunk)
		}
		if err != nil {
			if err != io.EOF {
				logger.Warn("worldagent: pty read error", "session", s.id, "err", err)
			}
			return
		}
	}
}

func (s *ptySession) resize(cols, rows int) error {
	s.vterm.Resize(cols, rows)
	return s.handle.Resize(cols, rows)
}

func (s *ptySession) signal(sig syscall.Signal) error {
	return s.handle.Signal(sig)
}

// wait blocks for process exit exactly once, caching the result so a
// concurrent reattach doesn't double-Wait.
func (s *ptySession) wait() *world.ExecResult {
	s.exitOnce.Do(func() {
		res, err := s.handle.Wait()
		if err != nil {
			logger.Warn("worldagent: pty wait error", "session", s.id, "err", err)
			res = &world.ExecResult{Exit: -1}
		}
		s.mu.Lock()
		s.result = res
		s.mu.Unlock()
		close(s.done)
	})
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *ptySession) kill() {
	_ = s.signal(syscall.SIGKILL)
}

// snapshot renders the current screen for a reattaching client (spec
// SPEC_FULL.md "a client that reconnects to a live stream session receives
// a full current-screen snapshot before resuming live output").
func (s *ptySession) snapshot() []byte {
	return s.vterm.Snapshot()
}
