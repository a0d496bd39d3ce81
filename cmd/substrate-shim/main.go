// Command substrate-shim is the interception shim (spec §4.1): a single
// binary copied or symlinked under one filename per intercepted command.
// It resolves the real binary on the clean PATH, re-execs it inside its
// own process group while forwarding signals, and records a start/complete
// span pair around the call.
//
// Grounded in the teacher's cmd/wt/egg.go spawnEgg/eggSpawn process-group
// and signal-forwarding pattern, re-targeted from a PTY session to a plain
// child process, and in internal/span/recorder.go for the span pair this
// binary writes.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/substrate/internal/common"
	"github.com/ehrlich-b/substrate/internal/config"
	"github.com/ehrlich-b/substrate/internal/policy"
	"github.com/ehrlich-b/substrate/internal/span"
)

func main() {
	os.Exit(run())
}

func run() int {
	argv := os.Args
	if len(argv) == 0 {
		return 127
	}
	cmdName := filepath.Base(argv[0])
	args := argv[1:]

	// Step 1: early bypass (spec §4.1 step 1).
	if common.Bypassed() {
		return execReal(cmdName, args, cleanPath(), os.Environ())
	}

	// Step 2: nesting guard (spec §4.1 step 2, Property 3).
	if common.Nesting() {
		return execReal(cmdName, args, cleanPath(), os.Environ())
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "substrate-shim: config: %v\n", err)
	}

	// Step 3: context assembly.
	sessionID := os.Getenv(common.EnvSessionID)
	if sessionID == "" {
		sessionID = "ses_" + uuid.Must(uuid.NewV7()).String()
	}
	spanID := "spn_" + uuid.Must(uuid.NewV7()).String()
	parentSpan := os.Getenv(common.EnvParentSpan)
	stack := common.PushCallStack(common.CallStack(os.Getenv(common.EnvCallStack)), cmdName)
	clean := cleanPath()

	cwd, _ := os.Getwd()
	redacted := common.RedactArgv(args, common.RawLogging())

	recorder, recErr := openRecorder(cfg)
	if recErr != nil {
		fmt.Fprintf(os.Stderr, "substrate-shim: span recorder: %v\n", recErr)
	}
	if recorder != nil {
		defer recorder.Close()
	}

	// Step 4: real-binary resolution.
	realBin, err := common.ResolveCached(clean, cmdName)
	if err != nil {
		writeSpan(recorder, &common.Span{
			Timestamp: time.Now(), Event: common.EventComplete, SessionID: sessionID,
			SpanID: spanID, ParentSpan: parentSpan, Component: common.ComponentShim,
			Command: cmdName, Argv: redacted, Cwd: cwd, ExitCode: intPtr(127),
			PolicyDecision: &common.PolicyOutcome{Kind: common.DecisionDeny, Reason: "not_found"},
		})
		fmt.Fprintf(os.Stderr, "substrate-shim: %s: command not found\n", cmdName)
		return 127
	}

	// Step 5: fast policy check.
	broker := loadFastBroker(cfg)
	decision := broker.FastCheck(args)
	if decision.Kind == policy.Deny {
		writeSpan(recorder, &common.Span{
			Timestamp: time.Now(), Event: common.EventComplete, SessionID: sessionID,
			SpanID: spanID, ParentSpan: parentSpan, Component: common.ComponentShim,
			Command: cmdName, Argv: redacted, Cwd: cwd, ExitCode: intPtr(126),
			PolicyDecision: &common.PolicyOutcome{Kind: common.DecisionDeny, Reason: decision.Reason},
		})
		fmt.Fprintf(os.Stderr, "substrate-shim: denied by policy: %s\n", decision.Reason)
		return 126
	}

	// Step 6: start span.
	writeSpan(recorder, &common.Span{
		Timestamp: time.Now(), Event: common.EventStart, SessionID: sessionID,
		SpanID: spanID, ParentSpan: parentSpan, Component: common.ComponentShim,
		Command: cmdName, Argv: redacted, Cwd: cwd,
	})

	// Step 7-9: exec with child process group, signal forwarding,
	// completion span, exit code propagation.
	childEnv := buildChildEnv(sessionID, spanID, clean, stack)
	start := time.Now()
	exitCode := execAndForward(realBin, args, childEnv)
	duration := time.Since(start)

	writeSpan(recorder, &common.Span{
		Timestamp: time.Now(), Event: common.EventComplete, SessionID: sessionID,
		SpanID: spanID, ParentSpan: parentSpan, Component: common.ComponentShim,
		Command: cmdName, Argv: redacted, Cwd: cwd,
		ExitCode: intPtr(exitCode), Duration: &duration,
		ResolvedBinSum: maybeFingerprint(realBin),
	})

	return exitCode
}

// cleanPath returns the PATH carrier with the shim directory stripped, or
// falls back to the process's own PATH with duplicates removed the first
// time a shim runs in a fresh shell (no carrier yet set).
func cleanPath() string {
	if carrier := os.Getenv(common.EnvCleanPath); carrier != "" {
		return carrier
	}
	path := os.Getenv("PATH")
	if dir, err := config.ShimDir(); err == nil {
		path = common.StripDir(path, dir)
	}
	return common.DedupePath(path)
}

func openRecorder(cfg config.Config) (*span.Recorder, error) {
	path := cfg.TracePath
	if v := os.Getenv(common.EnvTracePath); v != "" {
		path = v
	}
	maxMB := cfg.TraceMaxMB
	keep := cfg.TraceKeep
	return span.Open(path, span.WithMaxBytes(int64(maxMB)*1024*1024), span.WithKeep(keep))
}

func writeSpan(r *span.Recorder, s *common.Span) {
	if r == nil {
		return
	}
	_ = r.Write(s)
}

// loadFastBroker builds a broker carrying only the global profile, per
// spec §4.3's "Fast check... profiles are pre-loaded and cached": the
// shim never walks the project-local profile chain, leaving that to the
// shell's full evaluation.
func loadFastBroker(cfg config.Config) *policy.Broker {
	mode := policy.Observe
	if cfg.DefaultMode == config.ModeEnforce {
		mode = policy.Enforce
	}
	path, err := config.GlobalProfilePath()
	if err != nil {
		return policy.New(nil, mode)
	}
	global, err := policy.LoadProfile(path)
	if err != nil {
		return policy.New(nil, mode)
	}
	return policy.New(global, mode)
}

func buildChildEnv(sessionID, spanID, cleanPath string, stack []string) []string {
	env := os.Environ()
	out := make([]string, 0, len(env)+4)
	skip := map[string]bool{
		common.EnvSessionID:  true,
		common.EnvParentSpan: true,
		common.EnvNesting:    true,
		common.EnvCleanPath:  true,
		common.EnvCallStack:  true,
		"PATH":               true,
	}
	for _, kv := range env {
		if k, _, ok := cutEnv(kv); ok && skip[k] {
			continue
		}
		out = append(out, kv)
	}
	out = append(out,
		common.EnvSessionID+"="+sessionID,
		common.EnvParentSpan+"="+spanID,
		common.EnvNesting+"=1",
		common.EnvCleanPath+"="+cleanPath,
		common.EnvCallStack+"="+common.FormatCallStack(stack),
		"PATH="+cleanPath,
	)
	return out
}

func cutEnv(kv string) (string, string, bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

// execReal execs directly without any span recording (bypass/nesting
// paths, spec §4.1 steps 1-2): it replaces this process image entirely so
// there is no parent left to forward signals through.
func execReal(name string, args []string, path string, env []string) int {
	real, err := common.ResolveOnPath(path, name)
	if err != nil {
		return 127
	}
	argv := append([]string{real}, args...)
	if err := syscall.Exec(real, argv, env); err != nil {
		fmt.Fprintf(os.Stderr, "substrate-shim: exec %s: %v\n", real, err)
		return 127
	}
	return 0 // unreachable on success
}

// execAndForward spawns real in its own process group, forwards
// SIGINT/SIGTERM/SIGHUP/SIGQUIT/SIGWINCH to the group, and returns the
// child's exit code using the 128+signal convention on signal termination
// (spec §4.1 steps 7-9).
func execAndForward(real string, args []string, env []string) int {
	cmd := exec.Command(real, args...)
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "substrate-shim: start %s: %v\n", real, err)
		return 127
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGWINCH)
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

// maybeFingerprint returns a stable hash of the shim binary's own contents
// when diagnostic mode is enabled (spec §4.1 step 8), otherwise empty.
func maybeFingerprint(realBin string) string {
	if !common.ResolveOutput() {
		return ""
	}
	self, err := os.Executable()
	if err != nil {
		return ""
	}
	return fingerprintFile(self)
}

func intPtr(n int) *int { return &n }
