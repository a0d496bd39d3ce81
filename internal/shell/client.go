package shell

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ehrlich-b/substrate/internal/common"
	"github.com/ehrlich-b/substrate/internal/policy"
	"github.com/ehrlich-b/substrate/internal/transport"
)

// These DTOs mirror the wire shapes internal/worldagent/handlers.go decodes
// server-side (spec §6 "Agent endpoint layout"); the two packages agree on
// JSON field names rather than sharing a type, the same boundary any HTTP
// client/server pair has.

type sessionSpecDTO struct {
	SessionID     string   `json:"session_id"`
	WorkspaceRoot string   `json:"workspace_root"`
	FSMode        string   `json:"fs_mode"`
	FSIsolation   string   `json:"fs_isolation"`
	NetworkAllow  []string `json:"network_allow,omitempty"`
	AlwaysIsolate bool     `json:"always_isolate,omitempty"`
	ReuseSession  bool     `json:"reuse_session,omitempty"`
	MemMaxBytes   int64    `json:"mem_max_bytes,omitempty"`
}

type executeRequest struct {
	Cmd         []string          `json:"cmd"`
	Cwd         string            `json:"cwd"`
	Env         map[string]string `json:"env"`
	SpanID      string            `json:"span_id"`
	AgentID     string            `json:"agent_id,omitempty"`
	BudgetMS    int64             `json:"budget_ms,omitempty"`
	SessionSpec sessionSpecDTO    `json:"session_spec"`
}

type executeResponse struct {
	Exit       int             `json:"exit"`
	StdoutB64  string          `json:"stdout_b64"`
	StderrB64  string          `json:"stderr_b64"`
	ScopesUsed []string        `json:"scopes_used"`
	Degraded   []string        `json:"degraded,omitempty"`
	FsDiff     json.RawMessage `json:"fs_diff,omitempty"`
	WorldID    string          `json:"world_id"`
}

type capabilitiesResponse struct {
	Version  string          `json:"version"`
	Features map[string]bool `json:"features"`
}

// sessionSpecFor builds the session_spec DTO from a broker decision's
// restrictions (spec §4.3: AllowWithRestrictions carries IsolatedWorld,
// OverlayFS, NetworkFilter, ResourceLimit) plus the shell's own session
// identity. ReuseSession is always true: a shell session's world must
// outlive any single command (spec §3 "worlds may outlive a single span"),
// unlike the replay engine's one-shot AlwaysIsolate worlds.
func sessionSpecFor(sessionID, workspaceRoot string, restrictions []policy.Restriction) sessionSpecDTO {
	spec := sessionSpecDTO{
		SessionID:     sessionID,
		WorkspaceRoot: workspaceRoot,
		FSMode:        string(fsModeWritable),
		FSIsolation:   string(fsIsolationWorkspace),
		ReuseSession:  true,
	}
	for _, r := range restrictions {
		switch r.Kind {
		case "OverlayFS":
			mode, iso, ok := splitOverlayValue(r.Value)
			if ok {
				spec.FSMode = mode
				spec.FSIsolation = iso
			}
		case "NetworkFilter":
			spec.NetworkAllow = append(spec.NetworkAllow, r.Value)
		case "ResourceLimit":
			if mb, err := strconv.ParseInt(r.Value, 10, 64); err == nil && mb > 0 {
				spec.MemMaxBytes = mb * 1024 * 1024
			}
		}
	}
	return spec
}

const (
	fsModeWritable       = "writable"
	fsIsolationWorkspace = "workspace"
)

func splitOverlayValue(v string) (mode, isolation string, ok bool) {
	for i := 0; i < len(v); i++ {
		if v[i] == '/' {
			return v[:i], v[i+1:], true
		}
	}
	return "", "", false
}

// callExecute issues the unary `execute` request (spec §4.6/§6) and
// decodes the response.
func callExecute(ctx context.Context, conn transport.Connector, req executeRequest) (*executeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("shell: marshal execute request: %w", err)
	}
	data, err := conn.Post(ctx, "/execute", body)
	if err != nil {
		return nil, err
	}
	var resp executeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("shell: decode execute response: %w", err)
	}
	return &resp, nil
}

func decodeFsDiff(raw json.RawMessage) *common.FsDiff {
	if len(raw) == 0 {
		return nil
	}
	var diff common.FsDiff
	if err := json.Unmarshal(raw, &diff); err != nil {
		return nil
	}
	return &diff
}

func decodeB64(s string) []byte {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return data
}
