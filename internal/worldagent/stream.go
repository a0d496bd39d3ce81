package worldagent

import (
	"context"
	"syscall"

	"github.com/ehrlich-b/substrate/internal/logger"
	"github.com/ehrlich-b/substrate/internal/transport"
	"github.com/ehrlich-b/substrate/internal/world"
)

// handleStream services one bidirectional PTY session (spec §4.6
// "stream"). Grounded in the teacher's egg.Server.Session gRPC handler,
// re-expressed over transport.Stream's JSON envelopes: a Start frame opens
// or reattaches a session, Stdin/Resize/Signal frames drive it, and
// Stdout/Exit/Error frames flow back until the handle closes.
func (a *Agent) handleStream(ctx context.Context, s transport.Stream) {
	defer s.Close()

	env, err := s.Recv()
	if err != nil {
		return
	}
	if env.Type != transport.TypeStart {
		a.sendError(s, "protocol", "expected start frame")
		return
	}
	var start transport.StartFrame
	if err := env.Decode(&start); err != nil {
		a.sendError(s, "protocol", err.Error())
		return
	}

	a.mu.Lock()
	sess, reattached := a.sessions[start.SessionID]
	a.mu.Unlock()

	if reattached && start.Reattach {
		a.registry.Touch(start.SessionID)
		a.streamReattach(ctx, s, sess)
		return
	}
	if reattached {
		a.sendError(s, "already_running", "session already has a live stream")
		return
	}

	spec := world.SessionSpec{
		SessionID:     start.SessionID,
		WorkspaceRoot: start.WorkspaceRoot,
		FSMode:        world.FSMode(start.FSMode),
		FSIsolation:   world.FSIsolation(start.FSIsolation),
		NetworkAllow:  start.NetworkAllow,
		AlwaysIsolate: start.AlwaysIsolate,
		ReuseSession:  true,
	}
	wld, err := a.backend.EnsureSession(ctx, spec)
	if err != nil {
		a.sendError(s, "world_setup", err.Error())
		return
	}

	handle, err := wld.ExecPTY(ctx, world.ExecRequest{Cmd: start.Cmd, Cwd: start.Cwd, Env: start.Env}, start.Cols, start.Rows)
	if err != nil {
		a.sendError(s, "spawn", err.Error())
		return
	}

	sess = newPTYSession(start.SessionID, handle, start.Cols, start.Rows)
	a.mu.Lock()
	a.sessions[start.SessionID] = sess
	a.mu.Unlock()
	a.registry.RecordSession(start.SessionID, string(wld.ID()))

	defer func() {
		a.mu.Lock()
		delete(a.sessions, start.SessionID)
		a.mu.Unlock()
	}()

	go sess.pump(func(chunk []byte) {
		outEnv, err := transport.NewEnvelope(transport.TypeStdout, transport.StdoutFrame{Data: chunk})
		if err == nil {
			s.Send(outEnv)
		}
	})

	go a.readClientFrames(s, sess)

	res := sess.wait()
	exitEnv, _ := transport.NewEnvelope(transport.TypeExit, transport.ExitFrame{
		Exit: res.Exit, WorldID: string(wld.ID()), ScopesUsed: res.ScopesUsed, Degraded: res.Degraded,
	})
	s.Send(exitEnv)
}

// streamReattach sends the current-screen snapshot to a reconnecting
// client then resumes forwarding live output (SPEC_FULL.md "a client that
// reconnects to a live stream session receives a full current-screen
// snapshot before resuming live output").
func (a *Agent) streamReattach(ctx context.Context, s transport.Stream, sess *ptySession) {
	snapEnv, _ := transport.NewEnvelope(transport.TypeStdout, transport.StdoutFrame{Data: sess.snapshot()})
	s.Send(snapEnv)
	a.readClientFrames(s, sess)
}

func (a *Agent) readClientFrames(s transport.Stream, sess *ptySession) {
	for {
		env, err := s.Recv()
		if err != nil {
			return
		}
		switch env.Type {
		case transport.TypeStdin:
			var f transport.StdinFrame
			if env.Decode(&f) == nil {
				sess.handle.PTY().Write(f.Data)
			}
		case transport.TypeResize:
			var f transport.ResizeFrame
			if env.Decode(&f) == nil {
				if err := sess.resize(f.Cols, f.Rows); err != nil {
					logger.Warn("worldagent: resize failed", "session", sess.id, "err", err)
				}
			}
		case transport.TypeSignal:
			var f transport.SignalFrame
			if env.Decode(&f) == nil {
				if err := sess.signal(syscall.Signal(f.Signal)); err != nil {
					logger.Warn("worldagent: signal failed", "session", sess.id, "err", err)
				}
			}
		}
	}
}

func (a *Agent) sendError(s transport.Stream, kind, msg string) {
	env, err := transport.NewEnvelope(transport.TypeError, transport.ErrorFrame{Kind: kind, Message: msg})
	if err == nil {
		s.Send(env)
	}
}
