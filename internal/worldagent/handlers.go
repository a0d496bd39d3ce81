package worldagent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ehrlich-b/substrate/internal/logger"
	"github.com/ehrlich-b/substrate/internal/world"
)

// executeRequest mirrors spec §4.6: "{ cmd, cwd, env, span_id, agent_id,
// budget?, session_spec }".
type executeRequest struct {
	Cmd         []string          `json:"cmd"`
	Cwd         string            `json:"cwd"`
	Env         map[string]string `json:"env"`
	SpanID      string            `json:"span_id"`
	AgentID     string            `json:"agent_id,omitempty"`
	BudgetMS    int64             `json:"budget_ms,omitempty"`
	SessionSpec sessionSpecDTO    `json:"session_spec"`
}

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

func (d sessionSpecDTO) toSpec() world.SessionSpec {
	mode := world.FSWritable
	if d.FSMode == string(world.FSReadOnly) {
		mode = world.FSReadOnly
	}
	iso := world.IsolationWorkspace
	if d.FSIsolation == string(world.IsolationFull) {
		iso = world.IsolationFull
	}
	return world.SessionSpec{
		SessionID:     d.SessionID,
		WorkspaceRoot: d.WorkspaceRoot,
		FSMode:        mode,
		FSIsolation:   iso,
		NetworkAllow:  d.NetworkAllow,
		AlwaysIsolate: d.AlwaysIsolate,
		ReuseSession:  d.ReuseSession,
		MemMaxBytes:   d.MemMaxBytes,
	}
}

// executeResponse mirrors spec §4.6: "{ exit, stdout_b64, stderr_b64,
// scopes_used, fs_diff?, world_id }".
type executeResponse struct {
	Exit       int             `json:"exit"`
	StdoutB64  string          `json:"stdout_b64"`
	StderrB64  string          `json:"stderr_b64"`
	ScopesUsed []string        `json:"scopes_used"`
	Degraded   []string        `json:"degraded,omitempty"`
	FsDiff     json.RawMessage `json:"fs_diff,omitempty"`
	WorldID    string          `json:"world_id"`
}

func (a *Agent) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.capabilities())
}

func (a *Agent) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if req.BudgetMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.BudgetMS)*time.Millisecond)
		defer cancel()
	}

	spec := req.SessionSpec.toSpec()
	if _, live := a.backend.Lookup(spec.SessionID); !live && spec.SessionID != "" {
		if worldID, ok := a.registry.WorldFor(spec.SessionID); ok {
			spec.AdoptID = world.ID(worldID)
		}
	}
	wld, err := a.backend.EnsureSession(ctx, spec)
	if err != nil {
		if se, ok := err.(*world.SetupError); ok {
			writeJSON(w, http.StatusOK, executeResponse{Exit: -1, Degraded: se.Gaps})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if spec.SessionID != "" {
		a.registry.RecordSession(spec.SessionID, string(wld.ID()))
	}

	res, err := wld.Exec(ctx, world.ExecRequest{Cmd: req.Cmd, Cwd: req.Cwd, Env: req.Env})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := executeResponse{
		Exit:       res.Exit,
		StdoutB64:  base64.StdEncoding.EncodeToString(res.Stdout),
		StderrB64:  base64.StdEncoding.EncodeToString(res.Stderr),
		ScopesUsed: res.ScopesUsed,
		Degraded:   res.Degraded,
		WorldID:    string(wld.ID()),
	}
	if diff, err := wld.FsDiff(ctx); err == nil && diff != nil {
		if raw, err := json.Marshal(diff); err == nil {
			resp.FsDiff = raw
		}
	}
	if !spec.ReuseSession || spec.AlwaysIsolate {
		if err := wld.Teardown(ctx); err != nil {
			logger.Warn("worldagent: teardown after execute failed", "world", wld.ID(), "err", err)
		}
		if spec.SessionID != "" {
			a.registry.Forget(spec.SessionID)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// gcResponse mirrors spec §4.6: "{ removed, kept: [{name,reason}], errors }".
type gcResponse struct {
	Removed []string          `json:"removed"`
	Kept    []world.KeptWorld `json:"kept"`
	Errors  []world.GCError   `json:"errors"`
}

func (a *Agent) handleGC(w http.ResponseWriter, r *http.Request) {
	res := a.backend.GC(r.Context())
	writeJSON(w, http.StatusOK, gcResponse{Removed: res.Removed, Kept: res.Kept, Errors: res.Errors})
}

// statusResponse is the supplemental status endpoint (SPEC_FULL.md
// Supplemental Features): a lightweight liveness/diagnostics surface
// beyond the capabilities probe, reporting live world and PTY session
// counts for `substrate agent status`.
type statusResponse struct {
	Version      string `json:"version"`
	LiveWorlds   int    `json:"live_worlds"`
	LiveSessions int    `json:"live_sessions"`
}

func (a *Agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	n := len(a.sessions)
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, statusResponse{
		Version:      a.version,
		LiveWorlds:   a.backend.Count(),
		LiveSessions: n,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
