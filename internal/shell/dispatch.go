package shell

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/substrate/internal/common"
	"github.com/ehrlich-b/substrate/internal/policy"
)

// Outcome is what Dispatch reports back to the caller (the REPL or a
// single-shot invocation) once a command completes.
type Outcome struct {
	ExitCode   int
	State      State
	ScopesUsed []string
	Degraded   []string
	WorldID    string
	FsDiff     *common.FsDiff
}

// Dispatch runs one parsed command through the state machine spec §4.7
// defines: Parsed -> BrokerEvaluated -> (Rejected | TransportReady) ->
// Dispatched -> (Completed | FellBack). argv[0] is the command name.
func (s *Shell) Dispatch(ctx context.Context, argv []string, forcePTY, forceNoPTY bool) (*Outcome, error) {
	s.resetWarning()
	if len(argv) == 0 {
		return &Outcome{ExitCode: 0, State: StateCompleted}, nil
	}

	spanID := "spn_" + uuid.Must(uuid.NewV7()).String()
	parentSpan := s.env[common.EnvParentSpan]
	cwd := s.Cwd()
	redacted := common.RedactArgv(argv, common.RawLogging())

	if IsBuiltin(argv[0]) {
		return s.dispatchBuiltin(spanID, parentSpan, cwd, argv, redacted)
	}

	decision := s.Broker.Evaluate(argv, cwd, "")
	if decision.Kind == policy.Deny {
		return s.dispatchDenied(spanID, parentSpan, cwd, argv, redacted, decision)
	}

	// spec §6: the SUBSTRATE_FORCE_PTY/SUBSTRATE_DISABLE_PTY carriers give
	// the same override the :pty REPL prefix gives, for callers that aren't
	// going through the REPL at all.
	forcePTY = forcePTY || s.envValue(common.EnvForcePTY) == "1"
	forceNoPTY = forceNoPTY || s.envValue(common.EnvDisablePTY) == "1"
	usePTY := wantsPTY(argv, forcePTY, forceNoPTY)

	startSpan := &common.Span{
		Timestamp: time.Now(), Event: common.EventStart, SessionID: s.SessionID(),
		SpanID: spanID, ParentSpan: parentSpan, Component: common.ComponentShell,
		Command: argv[0], Argv: redacted, Cwd: cwd,
	}
	if decision.Kind == policy.AllowWithRestricted {
		startSpan.PolicyDecision = &common.PolicyOutcome{
			Kind: common.DecisionRestricted, Reason: decision.Reason,
			Restrictions: restrictionStrings(decision.Restrictions),
		}
	}
	s.recordSpan(startSpan)

	conn, ready := s.EnsureWorldAgentReady(ctx)

	var out *Outcome
	var err error
	state := StateDispatched
	if ready {
		if usePTY {
			out, err = s.dispatchPTY(ctx, conn, spanID, argv, cwd, decision.Restrictions)
		} else {
			out, err = s.dispatchExecute(ctx, conn, spanID, argv, cwd, decision.Restrictions)
		}
	}
	if !ready || err != nil {
		state = StateFellBack
		out, err = s.dispatchHostFallback(ctx, argv, cwd, spanID, usePTY)
	}
	if err != nil {
		return nil, err
	}
	out.State = state

	completeSpan := &common.Span{
		Timestamp: time.Now(), Event: common.EventComplete, SessionID: s.SessionID(),
		SpanID: spanID, ParentSpan: parentSpan, Component: common.ComponentShell,
		Command: argv[0], Argv: redacted, Cwd: cwd,
		ExitCode: intPtr(out.ExitCode), ScopesUsed: out.ScopesUsed, Degraded: out.Degraded,
		WorldID: out.WorldID, FsDiff: out.FsDiff,
	}
	if usePTY {
		// Open Question (spec §9): PTY spans skip fs_diff entirely rather
		// than attempt a mid-session diff with no clean "close" point.
		completeSpan.FsDiffStrategy = "skipped"
		completeSpan.FsDiff = nil
	}
	s.recordSpan(completeSpan)

	return out, nil
}

func (s *Shell) dispatchBuiltin(spanID, parentSpan, cwd string, argv, redacted []string) (*Outcome, error) {
	out, err := s.RunBuiltin(argv)
	exit := 0
	if err != nil {
		exit = 1
		os.Stderr.WriteString(err.Error() + "\n")
	} else if out != "" {
		os.Stdout.WriteString(out)
	}
	s.recordSpan(&common.Span{
		Timestamp: time.Now(), Event: common.EventBuiltin, SessionID: s.SessionID(),
		SpanID: spanID, ParentSpan: parentSpan, Component: common.ComponentShell,
		Command: argv[0], Argv: redacted, Cwd: cwd, ExitCode: intPtr(exit),
	})
	return &Outcome{ExitCode: exit, State: StateCompleted}, nil
}

func (s *Shell) dispatchDenied(spanID, parentSpan, cwd string, argv, redacted []string, decision policy.Decision) (*Outcome, error) {
	msg := "substrate: command denied by policy: " + decision.Reason
	os.Stderr.WriteString(msg + "\n")
	s.recordSpan(&common.Span{
		Timestamp: time.Now(), Event: common.EventComplete, SessionID: s.SessionID(),
		SpanID: spanID, ParentSpan: parentSpan, Component: common.ComponentShell,
		Command: argv[0], Argv: redacted, Cwd: cwd, ExitCode: intPtr(126),
		PolicyDecision: &common.PolicyOutcome{Kind: common.DecisionDeny, Reason: decision.Reason},
	})
	return &Outcome{ExitCode: 126, State: StateRejected}, nil
}

// childEnv builds the environment a spawned child (host fallback or the
// world agent's own exec) should see: the shell's process-local table plus
// the correlation carriers set exactly once before handoff, mirroring the
// shim's own discipline (spec §9 "the shim overwrites it exactly once
// before exec") — here the shell is the one becoming the chain's current
// head, so it takes on that same responsibility before executing a
// command that may itself exec shimmed descendants.
func (s *Shell) childEnv(spanID string) map[string]string {
	env := s.EnvSlice()
	env[common.EnvSessionID] = s.SessionID()
	env[common.EnvParentSpan] = spanID
	env[common.EnvNesting] = "1"
	if clean, ok := env["PATH"]; ok {
		env[common.EnvCleanPath] = clean
	}
	stack := common.PushCallStack(common.CallStack(env[common.EnvCallStack]), "substrate")
	env[common.EnvCallStack] = common.FormatCallStack(stack)
	return env
}

func restrictionStrings(rs []policy.Restriction) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		if r.Value == "" {
			out = append(out, r.Kind)
		} else {
			out = append(out, r.Kind+":"+r.Value)
		}
	}
	return out
}

func intPtr(n int) *int { return &n }

func (s *Shell) recordSpan(sp *common.Span) {
	if s.Recorder == nil {
		return
	}
	_ = s.Recorder.Write(sp)
}
