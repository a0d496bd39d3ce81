package shell

import (
	"context"
	"fmt"
	"os"

	"github.com/ehrlich-b/substrate/internal/policy"
	"github.com/ehrlich-b/substrate/internal/transport"
)

// dispatchExecute runs argv via the world agent's unary `execute` endpoint
// (spec §4.6): the agent captures stdout/stderr and returns them whole, so
// this path is only correct for non-interactive commands (spec §4.7
// "await the unary response (non-PTY)").
func (s *Shell) dispatchExecute(ctx context.Context, conn transport.Connector, spanID string, argv []string, cwd string, restrictions []policy.Restriction) (*Outcome, error) {
	env := s.childEnv(spanID)
	req := executeRequest{
		Cmd:         argv,
		Cwd:         cwd,
		Env:         env,
		SpanID:      spanID,
		SessionSpec: sessionSpecFor(s.SessionID(), cwd, restrictions),
	}

	resp, err := callExecute(ctx, conn, req)
	if err != nil {
		return nil, fmt.Errorf("shell: execute: %w", err)
	}

	os.Stdout.Write(decodeB64(resp.StdoutB64))
	os.Stderr.Write(decodeB64(resp.StderrB64))

	return &Outcome{
		ExitCode:   resp.Exit,
		ScopesUsed: resp.ScopesUsed,
		Degraded:   resp.Degraded,
		WorldID:    resp.WorldID,
		FsDiff:     decodeFsDiff(resp.FsDiff),
	}, nil
}
