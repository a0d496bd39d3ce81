package transport

import "encoding/json"

// Message type discriminators for the bidirectional stream channel (spec
// §4.4 "Framing on the streaming channel"). Client -> server: Start,
// Stdin, Resize, Signal. Server -> client: Stdout, Exit, Error.
const (
	TypeStart  = "start"
	TypeStdin  = "stdin"
	TypeResize = "resize"
	TypeSignal = "signal"
	TypeStdout = "stdout"
	TypeExit   = "exit"
	TypeError  = "error"
)

// Envelope wraps every stream frame with a type discriminator, mirroring
// internal/ws/protocol.go's Envelope{Type} pattern. All binary payloads
// inside Data are base64-encoded by encoding/json's native []byte support
// (spec §4.4: "All binary payloads are base64-encoded inside the JSON
// text").
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an Envelope of the given type.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Data: data}, nil
}

// Decode unmarshals the envelope's Data into out.
func (e Envelope) Decode(out any) error {
	return json.Unmarshal(e.Data, out)
}

// StartFrame requests a new PTY session inside a world (client -> server).
// Reattach is set when the client already holds this SessionID's stream and
// wants the current screen replayed instead of spawning a new child (spec
// SPEC_FULL.md PTY session reattach).
type StartFrame struct {
	SessionID     string            `json:"session_id"`
	AgentID       string            `json:"agent_id,omitempty"`
	Cmd           []string          `json:"cmd"`
	Cwd           string            `json:"cwd"`
	Env           map[string]string `json:"env,omitempty"`
	Cols          int               `json:"cols"`
	Rows          int               `json:"rows"`
	SpanID        string            `json:"span_id"`
	Reattach      bool              `json:"reattach,omitempty"`
	WorkspaceRoot string            `json:"workspace_root,omitempty"`
	FSMode        string            `json:"fs_mode,omitempty"`
	FSIsolation   string            `json:"fs_isolation,omitempty"`
	NetworkAllow  []string          `json:"network_allow,omitempty"`
	AlwaysIsolate bool              `json:"always_isolate,omitempty"`
}

// StdinFrame carries raw keystrokes (client -> server).
type StdinFrame struct {
	Data []byte `json:"data"`
}

// ResizeFrame updates the PTY window size (client -> server).
type ResizeFrame struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// SignalFrame requests a signal be delivered to the child (client ->
// server). Delivery is at-least-once and idempotent under repetition
// (spec §5 Ordering guarantees).
type SignalFrame struct {
	Signal int `json:"signal"`
}

// StdoutFrame carries output bytes (server -> client).
type StdoutFrame struct {
	Data []byte `json:"data"`
}

// ExitFrame signals process completion (server -> client), followed by
// channel close (spec §4.6 "stream").
type ExitFrame struct {
	Exit       int      `json:"exit"`
	WorldID    string   `json:"world_id,omitempty"`
	ScopesUsed []string `json:"scopes_used,omitempty"`
	Degraded   []string `json:"degraded,omitempty"`
}

// ErrorFrame reports a protocol or execution error (server -> client),
// terminating the affected session without affecting others (spec §7
// "Protocol errors terminate the affected session... agent continues
// serving other sessions").
type ErrorFrame struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
