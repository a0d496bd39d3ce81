package common

import "time"

// EventType is the span event type (spec §3 Span).
type EventType string

const (
	EventStart       EventType = "command_start"
	EventComplete    EventType = "command_complete"
	EventBuiltin     EventType = "builtin"
	EventPTYStart    EventType = "pty_start"
	EventPTYEnd      EventType = "pty_end"
	EventSyscall     EventType = "syscall"
	EventManagerHint EventType = "manager_hint"
)

// Component identifies which subsystem wrote a span.
type Component string

const (
	ComponentShim      Component = "shim"
	ComponentShell     Component = "shell"
	ComponentAgent     Component = "agent"
	ComponentTelemetry Component = "telemetry"
)

// FsDiffEntryKind is one of the three disjoint FsDiff buckets (spec §3/§4.5).
type FsDiffEntryKind string

const (
	FsDiffWrite  FsDiffEntryKind = "write"
	FsDiffMod    FsDiffEntryKind = "mod"
	FsDiffDelete FsDiffEntryKind = "delete"
)

// FsDiff is the three-bucket summary of filesystem changes produced by an
// overlay-backed execution (spec §3 FsDiff, §4.5).
type FsDiff struct {
	Writes       []string          `json:"writes"`
	Mods         []string          `json:"mods"`
	Deletes      []string          `json:"deletes"`
	DisplayPath  map[string]string `json:"display_path,omitempty"`
	Truncated    bool              `json:"truncated,omitempty"`
	TruncatedCap int               `json:"truncated_cap,omitempty"`
}

// PolicyDecisionKind mirrors policy.DecisionKind without importing the
// policy package, so spans stay a leaf dependency (spec §9 "Cycles and
// references": spans reference their parent by id, never by pointer, and
// the schema itself must not create an import cycle with the broker).
type PolicyDecisionKind string

const (
	DecisionAllow      PolicyDecisionKind = "allow"
	DecisionRestricted PolicyDecisionKind = "allow_with_restrictions"
	DecisionDeny       PolicyDecisionKind = "deny"
)

// PolicyOutcome is the redacted record of a broker decision, attached to a
// span (spec §3 Span "policy_decision").
type PolicyOutcome struct {
	Kind         PolicyDecisionKind `json:"kind"`
	Reason       string             `json:"reason,omitempty"`
	Restrictions []string           `json:"restrictions,omitempty"`
}

// ReplayContext marks a span as the product of a replay (spec §4.8 step 6).
type ReplayContext struct {
	OriginalSpanID string `json:"original_span_id"`
	Strategy       string `json:"strategy"` // overlay | direct
}

// Span is the append-only record written by the recorder (spec §3 Span).
type Span struct {
	Timestamp  time.Time `json:"ts"`
	Event      EventType `json:"event"`
	SessionID  string    `json:"session_id"`
	SpanID     string    `json:"span_id"`
	ParentSpan string    `json:"parent_span_id,omitempty"`
	Component  Component `json:"component"`
	Command    string    `json:"command"`
	Argv       []string  `json:"argv"`
	Cwd        string    `json:"cwd"`

	ExitCode *int           `json:"exit_code,omitempty"`
	Duration *time.Duration `json:"duration_ns,omitempty"`

	FsDiff         *FsDiff        `json:"fs_diff,omitempty"`
	FsDiffStrategy string         `json:"fs_diff_strategy,omitempty"`
	ScopesUsed     []string       `json:"scopes_used,omitempty"`
	PolicyDecision *PolicyOutcome `json:"policy_decision,omitempty"`
	Replay         *ReplayContext `json:"replay_context,omitempty"`
	WorldID        string         `json:"world_id,omitempty"`
	TransportMode  string         `json:"transport_mode,omitempty"`
	Degraded       []string       `json:"degraded,omitempty"`
	ResolvedBinSum string         `json:"resolved_binary_fingerprint,omitempty"`
}
