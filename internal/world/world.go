// Package world implements the per-session isolation unit described in
// spec §3 "World" and §4.5 "World Backend (Linux)": a network namespace, a
// cgroup v2 scope, an overlay filesystem, and an nft packet-filter table,
// created lazily per session and reused across commands in that session.
//
// Grounded in the teacher's internal/sandbox package (namespace clone
// flags and capability probing in linux.go, cgroup v2 controller wiring in
// cgroup_linux.go, the CONNECT-proxy domain allowlist in proxy.go), adapted
// from wingthing's own per-agent process jail into the spec's reusable
// per-session World with its own FsDiff and GC lifecycle.
package world

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/substrate/internal/common"
)

// ID identifies a world: "wld_" + a time-ordered uuid (spec §6 "World
// naming").
type ID string

// NewID mints a time-ordered world id.
func NewID() ID {
	return ID("wld_" + uuid.Must(uuid.NewV7()).String())
}

func (id ID) NetnsName() string   { return "substrate-" + string(id) }
func (id ID) FilterTable() string { return "substrate_" + string(id) }
func (id ID) DropPrefix() string  { return "substrate-dropped-" + string(id) + ":" }

// FSMode governs writability of the workspace inside a world (spec §3
// Policy "world_fs").
type FSMode string

const (
	FSWritable FSMode = "writable"
	FSReadOnly FSMode = "read_only"
)

// FSIsolation governs how much of the host filesystem namespace a world
// can see (spec §4.5 "Filesystem isolation modes").
type FSIsolation string

const (
	IsolationWorkspace FSIsolation = "workspace"
	IsolationFull      FSIsolation = "full"
)

// SessionSpec describes the isolation a session wants. EnsureSession is
// idempotent for a given SessionID: repeated calls with the same id return
// the same World (spec §3 Ownership: "Sessions are pinned to exactly one
// world").
type SessionSpec struct {
	SessionID     string
	WorkspaceRoot string
	FSMode        FSMode
	FSIsolation   FSIsolation
	NetworkAllow  []string // domain names, resolved at session start
	AlwaysIsolate bool     // replay engine forces a fresh world, never reused
	ReuseSession  bool     // spec §3: worlds never span a session boundary unless set
	// AdoptID, when set, names a world the caller believes already has live
	// OS-level resources for this session (sqlite crash-recovery registry
	// recall after an agent restart). EnsureSession tries to attach to it
	// before minting a fresh world.
	AdoptID ID
	// MemMaxBytes enforces a policy ResourceLimit restriction (spec §3
	// Decision) as a cgroup memory.max; zero means no limit.
	MemMaxBytes int64
}

// ExecRequest is one command executed inside an established World.
type ExecRequest struct {
	Cmd []string
	Cwd string
	Env map[string]string
	PTY bool
}

// ExecResult carries the outcome of ExecRequest, matching the agent
// `execute` response shape (spec §6).
type ExecResult struct {
	Exit       int
	Stdout     []byte
	Stderr     []byte
	ScopesUsed []string
	Degraded   []string
}

// World is one logical isolation unit (spec §3 World). Implementations are
// platform-specific (linux.go has the real thing; fallback.go degrades to
// host execution everywhere else).
type World interface {
	ID() ID
	Exec(ctx context.Context, req ExecRequest) (*ExecResult, error)
	// ExecPTY is the streaming counterpart to Exec (spec §4.6 "stream
	// (bidirectional, PTY)"): the child runs attached to a pseudo-terminal
	// instead of captured pipes, for the world agent's PTY multiplexer.
	ExecPTY(ctx context.Context, req ExecRequest, cols, rows int) (PTYHandle, error)
	FsDiff(ctx context.Context) (*common.FsDiff, error)
	Teardown(ctx context.Context) error
	// Live reports whether the world still has live processes or cgroup
	// tasks, used by GC (spec property 7).
	Live() bool
}

// PTYHandle is a running ExecPTY child: the agent copies bytes between this
// and the client's stream frames (spec §4.6), forwards resize frames via
// Resize, and maps signal frames onto Signal.
type PTYHandle interface {
	PTY() *os.File
	Resize(cols, rows int) error
	Signal(sig syscall.Signal) error
	// Wait blocks for child exit and returns the same shape as Exec.
	Wait() (*ExecResult, error)
}

// SetupError is the structured World-setup error kind (spec §7), generalizing
// the teacher's sandbox.EnforcementError into the closed degraded-components
// shape SPEC_FULL.md's ambient error-handling section specifies.
type SetupError struct {
	Kind     string // netns | cgroup | overlay | filter
	Platform string // platform-specific remediation text
	Gaps     []string
}

func (e *SetupError) Error() string {
	msg := fmt.Sprintf("world setup (%s): %s", e.Kind, strings.Join(e.Gaps, ", "))
	if e.Platform != "" {
		msg += ". " + e.Platform
	}
	return msg
}

// Backend owns the process-wide registry of live Worlds (spec §3
// Ownership: "The world backend exclusively owns its isolation
// primitives"). One Backend lives per agent process.
type Backend struct {
	mu      sync.Mutex
	worlds  map[string]*worldEntry // keyed by SessionID, unless AlwaysIsolate
	oneoffs map[ID]*worldEntry     // AlwaysIsolate worlds, keyed by their own id
	gcTTL   time.Duration
}

// worldEntry pairs a World with the last time a command was dispatched
// through it, so GC can honor the configured TTL (spec property 7c)
// instead of reaping the instant a session goes idle.
type worldEntry struct {
	world    World
	lastUsed time.Time
}

// NewBackend constructs an empty registry with the given GC TTL (spec §4.5
// "Cleanup and GC").
func NewBackend(gcTTL time.Duration) *Backend {
	return &Backend{
		worlds:  make(map[string]*worldEntry),
		oneoffs: make(map[ID]*worldEntry),
		gcTTL:   gcTTL,
	}
}

// EnsureSession creates or reuses the World for spec.SessionID (spec §3
// World lifecycle "ensure_session(spec)"). Safe under concurrent callers
// for the same session id (spec §4.6 Concurrency model). When spec.AdoptID
// is set and no in-memory world is already tracked for this session, it
// first tries to attach to that world's existing OS-level resources
// (sqlite crash-recovery registry recall across an agent restart) before
// falling back to minting a fresh world.
func (b *Backend) EnsureSession(ctx context.Context, spec SessionSpec) (World, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !spec.AlwaysIsolate {
		if e, ok := b.worlds[spec.SessionID]; ok {
			e.lastUsed = time.Now()
			return e.world, nil
		}
		if spec.AdoptID != "" {
			if w, err := attachWorld(ctx, spec.AdoptID, spec); err == nil {
				b.worlds[spec.SessionID] = &worldEntry{world: w, lastUsed: time.Now()}
				return w, nil
			}
			// Adoption failed (resources gone, torn down, or this platform
			// can't attach at all); fall through to minting a fresh world.
		}
	}

	w, err := newWorld(ctx, spec)
	if err != nil {
		return nil, err
	}
	entry := &worldEntry{world: w, lastUsed: time.Now()}
	if spec.AlwaysIsolate {
		b.oneoffs[w.ID()] = entry
	} else {
		b.worlds[spec.SessionID] = entry
	}
	return w, nil
}

// Lookup returns the currently-ensured world for a session, if any.
func (b *Backend) Lookup(sessionID string) (World, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.worlds[sessionID]
	if !ok {
		return nil, false
	}
	return e.world, true
}

// GCResult is the outcome of a reaper sweep (spec §6 "POST gc" response).
type GCResult struct {
	Removed []string
	Kept    []KeptWorld
	Errors  []GCError
}

type KeptWorld struct {
	Name   string
	Reason string
}

type GCError struct {
	Name    string
	Message string
}

// GC reaps worlds with no live processes and no active cgroup tasks once
// any configured TTL has elapsed (spec §4.5, property 7). It is invoked on
// agent startup, on a periodic timer, and on explicit `gc` calls.
func (b *Backend) GC(ctx context.Context) GCResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	var res GCResult
	reap := func(key string, e *worldEntry, delete func()) {
		if e.world.Live() {
			res.Kept = append(res.Kept, KeptWorld{Name: key, Reason: "live processes or cgroup tasks"})
			return
		}
		// Property 7c: even an idle world is kept until its configured TTL
		// has elapsed since the last command ran through it. gcTTL of zero
		// means no grace period.
		if b.gcTTL > 0 {
			if idle := time.Since(e.lastUsed); idle < b.gcTTL {
				res.Kept = append(res.Kept, KeptWorld{Name: key, Reason: fmt.Sprintf("ttl not elapsed (idle %s of %s)", idle.Round(time.Second), b.gcTTL)})
				return
			}
		}
		if err := e.world.Teardown(ctx); err != nil {
			res.Errors = append(res.Errors, GCError{Name: key, Message: err.Error()})
			return
		}
		delete()
		res.Removed = append(res.Removed, key)
	}

	for sid, e := range b.worlds {
		sid, e := sid, e
		reap(sid, e, func() { delete(b.worlds, sid) })
	}
	for id, e := range b.oneoffs {
		id, e := id, e
		reap(string(id), e, func() { delete(b.oneoffs, id) })
	}
	return res
}

// Count reports the number of worlds the backend currently tracks (session
// and one-off, idle or not), used by the agent's status RPC.
func (b *Backend) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.worlds) + len(b.oneoffs)
}
