// Package common holds the correlation primitives shared by the shim, the
// shell orchestrator, and the world agent: the environment variable carriers
// that thread session/span identity across process boundaries without any
// IPC, and the argument redaction rules applied before a span is recorded.
package common

import "os"

// Environment variable carriers (spec §6 "Correlation environment
// variables"). These are read and written across process boundaries; the
// shim overwrites the parent-span carrier exactly once before exec (spec §9).
const (
	EnvSessionID   = "SUBSTRATE_SESSION_ID"
	EnvParentSpan  = "SUBSTRATE_PARENT_SPAN_ID"
	EnvNesting     = "SUBSTRATE_NESTING_ACTIVE"
	EnvCleanPath   = "SUBSTRATE_CLEAN_PATH"
	EnvCallStack   = "SUBSTRATE_CALL_STACK"
	EnvBypass      = "SUBSTRATE_BYPASS"
	EnvCacheBust   = "SUBSTRATE_RESOLVE_BUST"
	EnvLogOptions  = "SUBSTRATE_LOG_OPTIONS"
	EnvTracePath   = "SUBSTRATE_TRACE_PATH"
	EnvTraceMaxMB  = "SUBSTRATE_TRACE_MAX_MB"
	EnvTraceKeep   = "SUBSTRATE_TRACE_KEEP"
	EnvWorldEnable = "SUBSTRATE_WORLD" // "enabled" | "disabled"
	EnvForcePTY    = "SUBSTRATE_FORCE_PTY"
	EnvDisablePTY  = "SUBSTRATE_DISABLE_PTY"
	EnvDebug       = "SUBSTRATE_DEBUG"
)

// MaxCallStack is the bound on the call-stack env carrier (spec §3 CallStack).
const MaxCallStack = 8

// Bypassed reports whether the emergency bypass flag is set in the current
// process's environment. When true, the shim must skip all interception.
func Bypassed() bool {
	return os.Getenv(EnvBypass) == "1"
}

// Nesting reports whether a prior shim in this process tree has already
// marked the invocation chain as active, meaning this shim must pass
// through without recording a span pair (spec §4.1 step 2, Property 3).
func Nesting() bool {
	return os.Getenv(EnvNesting) == "1"
}

// RawLogging reports whether the log-options carrier requested
// unredacted argument recording for this process tree.
func RawLogging() bool {
	return hasLogOption("raw")
}

// ResolveOutput reports whether the log-options carrier requested the
// resolved binary path be included in diagnostic output.
func ResolveOutput() bool {
	return hasLogOption("resolve")
}

func hasLogOption(name string) bool {
	v := os.Getenv(EnvLogOptions)
	for _, opt := range splitComma(v) {
		if opt == name {
			return true
		}
	}
	return false
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
