package world

import (
	"context"
	"testing"
	"time"

	"github.com/ehrlich-b/substrate/internal/common"
)

// fakeWorld is a minimal World for exercising Backend's session/GC
// bookkeeping without touching real isolation primitives.
type fakeWorld struct {
	id          ID
	live        bool
	tornDown    bool
	teardownErr error
}

func (f *fakeWorld) ID() ID { return f.id }
func (f *fakeWorld) Exec(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	return &ExecResult{Exit: 0}, nil
}
func (f *fakeWorld) ExecPTY(ctx context.Context, req ExecRequest, cols, rows int) (PTYHandle, error) {
	return nil, nil
}
func (f *fakeWorld) FsDiff(ctx context.Context) (*common.FsDiff, error) { return &common.FsDiff{}, nil }
func (f *fakeWorld) Teardown(ctx context.Context) error {
	f.tornDown = true
	return f.teardownErr
}
func (f *fakeWorld) Live() bool { return f.live }

func TestBackendEnsureSessionReusesWorld(t *testing.T) {
	b := NewBackend(0)
	b.worlds["s1"] = &worldEntry{world: &fakeWorld{id: "wld_1"}}

	w, err := b.EnsureSession(context.Background(), SessionSpec{SessionID: "s1"})
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if w.ID() != "wld_1" {
		t.Fatalf("expected reused world wld_1, got %s", w.ID())
	}
}

func TestBackendGCReapsOnlyDeadWorlds(t *testing.T) {
	b := NewBackend(0)
	dead := &fakeWorld{id: "wld_dead"}
	alive := &fakeWorld{id: "wld_alive", live: true}
	b.worlds["dead-session"] = &worldEntry{world: dead}
	b.worlds["alive-session"] = &worldEntry{world: alive}

	res := b.GC(context.Background())

	if len(res.Removed) != 1 || res.Removed[0] != "dead-session" {
		t.Fatalf("expected dead-session removed, got %v", res.Removed)
	}
	if len(res.Kept) != 1 || res.Kept[0].Name != "alive-session" {
		t.Fatalf("expected alive-session kept, got %v", res.Kept)
	}
	if !dead.tornDown {
		t.Error("dead world was not torn down")
	}
	if alive.tornDown {
		t.Error("alive world should not have been torn down")
	}
	if _, ok := b.worlds["dead-session"]; ok {
		t.Error("dead-session should have been removed from the registry")
	}
	if _, ok := b.worlds["alive-session"]; !ok {
		t.Error("alive-session should remain in the registry")
	}
}

func TestBackendCount(t *testing.T) {
	b := NewBackend(0)
	b.worlds["s1"] = &worldEntry{world: &fakeWorld{id: "wld_1"}}
	b.oneoffs["wld_2"] = &worldEntry{world: &fakeWorld{id: "wld_2"}}
	if b.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", b.Count())
	}
}

// Property 7c: an idle world (no live processes) is still kept until its
// configured GC TTL has elapsed since the last command ran through it.
func TestBackendGCHonorsTTL(t *testing.T) {
	b := NewBackend(time.Hour)
	idle := &fakeWorld{id: "wld_idle"}
	b.worlds["idle-session"] = &worldEntry{world: idle, lastUsed: time.Now()}

	res := b.GC(context.Background())

	if len(res.Removed) != 0 {
		t.Fatalf("expected nothing removed before TTL elapses, got %v", res.Removed)
	}
	if len(res.Kept) != 1 || res.Kept[0].Name != "idle-session" {
		t.Fatalf("expected idle-session kept pending TTL, got %v", res.Kept)
	}
	if idle.tornDown {
		t.Error("idle world was torn down before its TTL elapsed")
	}

	b.worlds["idle-session"].lastUsed = time.Now().Add(-2 * time.Hour)
	res = b.GC(context.Background())
	if len(res.Removed) != 1 || res.Removed[0] != "idle-session" {
		t.Fatalf("expected idle-session removed once TTL elapses, got %v", res.Removed)
	}
}

func TestIDNaming(t *testing.T) {
	id := ID("wld_abc")
	if id.NetnsName() != "substrate-wld_abc" {
		t.Errorf("NetnsName() = %q", id.NetnsName())
	}
	if id.FilterTable() != "substrate_wld_abc" {
		t.Errorf("FilterTable() = %q", id.FilterTable())
	}
	if id.DropPrefix() != "substrate-dropped-wld_abc:" {
		t.Errorf("DropPrefix() = %q", id.DropPrefix())
	}
}
