// Package shell implements the shell orchestrator (spec §4.7): the single
// entry point that turns a parsed command into an executed one, choosing
// between a built-in, agent-routed non-PTY execution, agent-routed PTY
// execution, or host fallback, and recording a span for every path.
//
// Grounded in the teacher's cmd/wt/main.go (REPL shape) and cmd/wt/egg.go's
// spawnEgg/eggSpawn (raw-mode terminal handling, SIGWINCH forwarding,
// stdin/stdout pump goroutines), and internal/daemon/daemon.go's
// signal-driven lifecycle for the REPL's own SIGINT/SIGTERM handling.
package shell

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/substrate/internal/common"
	"github.com/ehrlich-b/substrate/internal/config"
	"github.com/ehrlich-b/substrate/internal/logger"
	"github.com/ehrlich-b/substrate/internal/policy"
	"github.com/ehrlich-b/substrate/internal/span"
	"github.com/ehrlich-b/substrate/internal/transport"
)

// State is one step of the per-command state machine (spec §4.7).
type State string

const (
	StateParsed          State = "parsed"
	StateBrokerEvaluated State = "broker_evaluated"
	StateRejected        State = "rejected"
	StateTransportReady  State = "transport_ready"
	StateDispatched      State = "dispatched"
	StateCompleted       State = "completed"
	StateFellBack        State = "fell_back"
)

// Shell is the orchestrator: one instance per interactive session or
// single-shot invocation of cmd/substrate.
type Shell struct {
	Cfg      config.Config
	Broker   *policy.Broker
	Recorder *span.Recorder

	mu        sync.Mutex
	sessionID string
	cwd       string
	env       map[string]string

	connector    transport.Connector
	warnedOnce   bool
	lastDegraded []string
}

// New constructs a Shell rooted at cwd, minting a fresh session id (spec §3
// SessionId: "Created by the first shim/shell entry in a chain").
func New(cfg config.Config, broker *policy.Broker, recorder *span.Recorder, cwd string) *Shell {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := cutEnv(kv); ok {
			env[k] = v
		}
	}
	sessionID := env[common.EnvSessionID]
	if sessionID == "" {
		sessionID = "ses_" + uuid.Must(uuid.NewV7()).String()
	}
	return &Shell{
		Cfg:       cfg,
		Broker:    broker,
		Recorder:  recorder,
		sessionID: sessionID,
		cwd:       cwd,
		env:       env,
	}
}

func cutEnv(kv string) (string, string, bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

// SessionID returns the shell's correlation session id.
func (s *Shell) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Cwd returns the shell's current working directory.
func (s *Shell) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// envValue reads a correlation/config env carrier from the shell's
// process-local table (spec §6).
func (s *Shell) envValue(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.env[key]
}

// EnsureWorldAgentReady implements spec §4.7's
// "BrokerEvaluated -> TransportReady" transition: probe capabilities,
// attempt a bounded agent spawn if stale, and on failure emit exactly one
// warning for the calling invocation (spec property: "exactly one warning
// per invocation").
func (s *Shell) EnsureWorldAgentReady(ctx context.Context) (transport.Connector, bool) {
	if s.envValue(common.EnvWorldEnable) == "disabled" {
		s.warnOnce("substrate: world disabled (SUBSTRATE_WORLD=disabled), running on host")
		return nil, false
	}

	s.mu.Lock()
	if s.connector != nil {
		c := s.connector
		s.mu.Unlock()
		return c, true
	}
	s.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	candidates := transport.Candidates(s.Cfg.AgentSocket, "", tcpFallbackPort)
	conn, err := transport.Select(probeCtx, candidates, 2*time.Second)
	if err == nil {
		s.mu.Lock()
		s.connector = conn
		s.mu.Unlock()
		return conn, true
	}

	if spawnAgent(s.Cfg) {
		spawnCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
		defer cancel()
		if waitForAgent(spawnCtx, candidates) {
			conn, err := transport.Select(spawnCtx, candidates, 2*time.Second)
			if err == nil {
				s.mu.Lock()
				s.connector = conn
				s.mu.Unlock()
				return conn, true
			}
		}
	}

	s.warnOnce("substrate: world unavailable, running on host")
	return nil, false
}

const tcpFallbackPort = 47851

// warnOnce emits msg to stderr at most once per command: Dispatch resets
// the flag at the start of every command, so a REPL session that reuses one
// Shell gets one warning per invocation rather than one per process (see
// Dispatch).
func (s *Shell) warnOnce(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.warnedOnce {
		return
	}
	s.warnedOnce = true
	logger.Warn(msg)
	os.Stderr.WriteString(msg + "\n")
}

func (s *Shell) resetWarning() {
	s.mu.Lock()
	s.warnedOnce = false
	s.mu.Unlock()
}
