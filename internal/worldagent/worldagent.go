// Package worldagent implements the long-running world agent service (spec
// §4.6): the capabilities/execute/stream/gc endpoints, PTY multiplexing for
// streaming sessions, and a sqlite-backed registry that lets the agent
// recognize a session's world across its own restarts. Grounded in the
// teacher's internal/egg/server.go service shape (Server/Session/RunConfig,
// replay buffer, PTY read loop) re-expressed over internal/transport's
// JSON/HTTP-over-UDS protocol instead of the teacher's gRPC service, since
// spec §4.4/§4.6 describe the wire protocol in explicit JSON-frame terms.
package worldagent

import (
	"context"
	"sync"
	"time"

	"github.com/ehrlich-b/substrate/internal/logger"
	"github.com/ehrlich-b/substrate/internal/transport"
	"github.com/ehrlich-b/substrate/internal/world"
)

// Capabilities is the response to the capabilities probe (spec §4.6): the
// agent's version and enabled isolation features, used by
// clients as a readiness signal before they trust any other endpoint.
type Capabilities struct {
	Version  string          `json:"version"`
	Features map[string]bool `json:"features"`
}

// Agent is the world agent service: it owns the world.Backend, a registry
// of live PTY sessions, and the sqlite-backed crash-recovery registry.
// Grounded in the teacher's egg.Server, generalized from one process per
// egg to one process serving every session (spec §4.6 "single-process,
// multi-threaded cooperative").
type Agent struct {
	backend  *world.Backend
	registry *Registry

	mu       sync.Mutex
	sessions map[string]*ptySession

	version string
}

// New constructs an Agent. registryPath is the sqlite database file used
// to recognize sessions across agent restarts (additive to startup GC, not
// a replacement for it).
func New(backend *world.Backend, registryPath, version string) (*Agent, error) {
	reg, err := OpenRegistry(registryPath)
	if err != nil {
		return nil, err
	}
	return &Agent{
		backend:  backend,
		registry: reg,
		sessions: make(map[string]*ptySession),
		version:  version,
	}, nil
}

// Register wires the agent's endpoints onto srv (spec §4.6 endpoint list).
func (a *Agent) Register(srv *transport.Server) {
	srv.HandleUnary("GET /capabilities", a.handleCapabilities)
	srv.HandleUnary("POST /execute", a.handleExecute)
	srv.HandleUnary("POST /gc", a.handleGC)
	srv.HandleUnary("GET /status", a.handleStatus)
	srv.HandleStream("POST /stream", a.handleStream)
}

// capabilities reports which isolation primitives this build/host can
// actually provide, independent of any particular session (spec §4.6).
func (a *Agent) capabilities() Capabilities {
	return Capabilities{Version: a.version, Features: world.Capabilities()}
}

// StartupGC runs a synchronous reaper sweep before the agent starts
// accepting connections (spec §4.6 "Startup GC").
func (a *Agent) StartupGC(ctx context.Context) {
	res := a.backend.GC(ctx)
	logger.Info("worldagent: startup gc", "removed", len(res.Removed), "kept", len(res.Kept), "errors", len(res.Errors))
}

// RunPeriodicGC runs the reaper pass every interval until ctx is
// cancelled (spec §4.5 "a periodic timer, default 10 min").
func (a *Agent) RunPeriodicGC(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			res := a.backend.GC(ctx)
			if len(res.Removed) > 0 || len(res.Errors) > 0 {
				logger.Info("worldagent: periodic gc", "removed", len(res.Removed), "errors", len(res.Errors))
			}
		}
	}
}

// Shutdown sends SIGKILL to every PTY session still tracked and closes the
// registry. It does not wait for sessions to finish and does not tear down
// their worlds.
func (a *Agent) Shutdown() {
	a.mu.Lock()
	sessions := make([]*ptySession, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.mu.Unlock()
	for _, s := range sessions {
		s.kill()
	}
	a.registry.Close()
}
