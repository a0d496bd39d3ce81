// Package replay implements the replay engine (spec §4.8): it looks up a
// previously recorded span, reconstructs a minimal environment, and
// re-executes the command inside a fresh, always-isolated world, returning
// the resulting filesystem diff.
//
// Grounded in the teacher's internal/egg/server.go replay-buffer concepts
// (ordered cursor reads, a "safe cut" boundary) adapted from PTY byte-stream
// replay to span-record replay, and internal/timeline/dispatch.go's
// retry/re-run dispatch shape.
package replay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/substrate/internal/common"
	"github.com/ehrlich-b/substrate/internal/span"
	"github.com/ehrlich-b/substrate/internal/world"
)

// ErrCwdGone is returned when a replayed span's recorded working directory
// no longer exists. Spec §9 Open Questions resolves this as a hard failure
// rather than substituting the current directory.
var ErrCwdGone = fmt.Errorf("replay: recorded working directory no longer exists")

// preservedEnvNames are carried verbatim from the replaying process's own
// environment into the replayed command's environment (spec §4.8 step 2).
var preservedEnvNames = []string{"PATH", "HOME", "SHELL", "TERM", common.EnvDebug}

// preservedEnvPrefixes additionally preserves every language/locale
// variable (spec §4.8 step 2: "language/locale variables").
var preservedEnvPrefixes = []string{"LANG", "LC_", "LANGUAGE"}

const replayUmask = 0o022

// Result is the outcome of a replay run.
type Result struct {
	Span     *common.Span
	FsDiff   *common.FsDiff
	Strategy string // overlay | direct, see DESIGN.md's Open Question decision on the strategy chain
	Degraded []string
}

// Engine re-executes recorded spans (spec §4.8). Backend supplies the
// fresh, always-isolated world; Recorder supplies the trace path and keep
// count used to look up the original span, and is where the new replay span
// is appended (spec §4.8 step 6). Run requires a non-nil Recorder.
type Engine struct {
	Backend  *world.Backend
	Recorder *span.Recorder
}

// Run looks up spanID across the current trace file and its rotated
// predecessors (spec §4.8 step 1), reconstructs the execution environment,
// and replays it inside a fresh world with AlwaysIsolate=true (steps 2-5).
func (e *Engine) Run(ctx context.Context, spanID string) (*Result, error) {
	files := span.Files(e.Recorder.Path(), e.Recorder.Keep())
	original, err := span.Find(files, spanID)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	if _, statErr := os.Stat(original.Cwd); statErr != nil {
		return nil, ErrCwdGone
	}

	env := reconstructEnv()
	argv := executionArgv(original)

	sessionID := "replay-" + uuid.Must(uuid.NewV7()).String()
	spec := world.SessionSpec{
		SessionID:     sessionID,
		WorkspaceRoot: original.Cwd,
		FSMode:        world.FSWritable,
		FSIsolation:   world.IsolationWorkspace,
		AlwaysIsolate: true,
	}
	wld, err := e.Backend.EnsureSession(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("replay: ensure world: %w", err)
	}
	defer func() {
		if tErr := wld.Teardown(ctx); tErr != nil {
			return
		}
	}()

	restoreUmask := applyReplayUmask()
	start := time.Now()
	res, err := wld.Exec(ctx, world.ExecRequest{Cmd: argv, Cwd: original.Cwd, Env: env})
	restoreUmask()
	if err != nil {
		return nil, fmt.Errorf("replay: exec: %w", err)
	}
	duration := time.Since(start)

	// The world backend today implements exactly two outcomes for its
	// overlay strategy: native overlay, or a degrade-to-direct that reports
	// no diff (see world/overlay_linux.go). Replay's own fallback chain
	// (spec §4.8 step 7's "user-space overlay, then copy-diff") collapses
	// onto this same two-way signal rather than inventing strategies the
	// backend can't actually produce; see DESIGN.md.
	diff, diffErr := wld.FsDiff(ctx)
	strategy := "overlay"
	if diffErr != nil || diff == nil || slices.Contains(res.Degraded, "overlay") {
		strategy = "direct"
		diff = nil
	}

	newSpanID := "spn_" + uuid.Must(uuid.NewV7()).String()
	exitCode := res.Exit
	newSpan := &common.Span{
		Timestamp:      time.Now(),
		Event:          common.EventComplete,
		SessionID:      sessionID,
		SpanID:         newSpanID,
		Component:      common.ComponentShell,
		Command:        original.Command,
		Argv:           common.RedactArgv(argv, false),
		Cwd:            original.Cwd,
		ExitCode:       &exitCode,
		Duration:       &duration,
		FsDiff:         diff,
		FsDiffStrategy: strategy,
		ScopesUsed:     res.ScopesUsed,
		WorldID:        string(wld.ID()),
		Degraded:       res.Degraded,
		Replay:         &common.ReplayContext{OriginalSpanID: original.SpanID, Strategy: strategy},
	}
	if e.Recorder != nil {
		_ = e.Recorder.Write(newSpan)
	}

	return &Result{Span: newSpan, FsDiff: diff, Strategy: strategy, Degraded: res.Degraded}, nil
}

// executionArgv decides between exec'ing the recorded argv vector directly
// and wrapping it in a POSIX shell (spec §4.8 step 3). An argv that is
// already an explicit shell invocation (e.g. ["bash","-lc","..."], spec
// concrete scenario 5) is exec'd as-is — the shell inside it already owns
// any quoting. Otherwise, if the joined command line contains shell
// metacharacters, it is re-joined and handed to "sh -lc" so redirection and
// pipes are honored; a plain argv with no metacharacters is exec'd
// directly, matching "prefer shell invocation unless an explicit argv
// vector was preserved" — the vector is always preserved here.
func executionArgv(s *common.Span) []string {
	if isShellInvocation(s.Argv) {
		return s.Argv
	}
	cmdline := strings.Join(s.Argv, " ")
	if containsShellMeta(cmdline) {
		return []string{"sh", "-lc", cmdline}
	}
	return s.Argv
}

func isShellInvocation(argv []string) bool {
	if len(argv) < 2 {
		return false
	}
	switch filepath.Base(argv[0]) {
	case "sh", "bash", "zsh", "dash":
	default:
		return false
	}
	for _, a := range argv[1:] {
		switch a {
		case "-c", "-lc", "-cl":
			return true
		}
	}
	return false
}

// shellMetachars are the characters spec §4.8 step 3 names.
const shellMetachars = "|&;<>()$`\"'{}*?[]~"

func containsShellMeta(s string) bool {
	return strings.ContainsAny(s, shellMetachars)
}

// reconstructEnv builds the minimal environment spec §4.8 step 2 describes:
// PATH/HOME/SHELL/TERM, every language/locale variable, and the debug
// diagnostics flag, all pulled from the replaying process's own
// environment since spans do not themselves carry a captured env map.
// Everything else is dropped. The recorded umask is never present in the
// span schema (spec §3 lists no such field), so the documented default of
// 022 always applies; applyReplayUmask is what actually asserts it on the
// replayed child (a spawned child inherits the parent process's umask at
// fork time, so it must be set here, not merely documented).
func reconstructEnv() map[string]string {
	env := make(map[string]string)
	for _, name := range preservedEnvNames {
		if v, ok := os.LookupEnv(name); ok {
			env[name] = v
		}
	}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		for _, prefix := range preservedEnvPrefixes {
			if strings.HasPrefix(k, prefix) {
				env[k] = v
			}
		}
	}
	return env
}
