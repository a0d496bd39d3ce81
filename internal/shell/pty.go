package shell

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/ehrlich-b/substrate/internal/policy"
	"github.com/ehrlich-b/substrate/internal/transport"
)

// dispatchPTY runs argv inside the world agent's bidirectional `stream`
// endpoint (spec §4.6 "stream"), putting the local terminal in raw mode
// and proxying stdin/stdout/signals/resize. Grounded in the teacher's
// eggSpawn (cmd/wt/egg.go): raw-mode via golang.org/x/term, SIGWINCH
// forwarding via a dedicated signal channel, stdin/stdout pump goroutines.
func (s *Shell) dispatchPTY(ctx context.Context, conn transport.Connector, spanID string, argv []string, cwd string, restrictions []policy.Restriction) (*Outcome, error) {
	stream, err := conn.Stream(ctx, "/stream")
	if err != nil {
		return nil, fmt.Errorf("shell: open stream: %w", err)
	}
	defer stream.Close()

	cols, rows := 80, 24
	fd := int(os.Stdin.Fd())
	isTerm := term.IsTerminal(fd)
	if isTerm {
		if w, h, sizeErr := term.GetSize(fd); sizeErr == nil {
			cols, rows = w, h
		}
	}

	childEnv := s.childEnv(spanID)
	spec := sessionSpecFor(s.SessionID(), cwd, restrictions)
	startEnv, err := transport.NewEnvelope(transport.TypeStart, transport.StartFrame{
		SessionID: s.SessionID(), Cmd: argv, Cwd: cwd, Env: childEnv, Cols: cols, Rows: rows, SpanID: spanID,
		WorkspaceRoot: spec.WorkspaceRoot, FSMode: spec.FSMode, FSIsolation: spec.FSIsolation,
		NetworkAllow: spec.NetworkAllow,
	})
	if err != nil {
		return nil, err
	}
	if err := stream.Send(startEnv); err != nil {
		return nil, fmt.Errorf("shell: send start frame: %w", err)
	}

	var oldState *term.State
	if isTerm {
		oldState, _ = term.MakeRaw(fd)
	}
	restore := func() {
		if oldState != nil {
			term.Restore(fd, oldState)
		}
	}

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
					frame, encErr := transport.NewEnvelope(transport.TypeResize, transport.ResizeFrame{Cols: w, Rows: h})
					if encErr == nil {
						stream.Send(frame)
					}
				}
			case sig := <-sigCh:
				frame, encErr := transport.NewEnvelope(transport.TypeSignal, transport.SignalFrame{Signal: signalNumber(sig)})
				if encErr == nil {
					stream.Send(frame)
				}
			case <-done:
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, readErr := os.Stdin.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				frame, encErr := transport.NewEnvelope(transport.TypeStdin, transport.StdinFrame{Data: data})
				if encErr == nil {
					if sendErr := stream.Send(frame); sendErr != nil {
						return
					}
				}
			}
			if readErr != nil {
				return
			}
		}
	}()

	outcome := &Outcome{}
	for {
		frame, recvErr := stream.Recv()
		if recvErr != nil {
			break
		}
		switch frame.Type {
		case transport.TypeStdout:
			var f transport.StdoutFrame
			if frame.Decode(&f) == nil {
				os.Stdout.Write(f.Data)
			}
		case transport.TypeExit:
			var f transport.ExitFrame
			if frame.Decode(&f) == nil {
				outcome.ExitCode = f.Exit
				outcome.WorldID = f.WorldID
				outcome.ScopesUsed = f.ScopesUsed
				outcome.Degraded = f.Degraded
			}
			close(done)
			restore()
			return outcome, nil
		case transport.TypeError:
			var f transport.ErrorFrame
			frame.Decode(&f)
			close(done)
			restore()
			return nil, fmt.Errorf("shell: agent stream error (%s): %s", f.Kind, f.Message)
		}
	}
	close(done)
	restore()
	return outcome, fmt.Errorf("shell: stream closed without an exit frame")
}

func signalNumber(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}
	return 0
}
