package worldagent

import (
	"path/filepath"
	"testing"
)

func TestRegistryRecordAndLookup(t *testing.T) {
	reg, err := OpenRegistry(filepath.Join(t.TempDir(), "worlds.db"))
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	defer reg.Close()

	reg.RecordSession("sess-1", "wld_abc")

	worldID, ok := reg.WorldFor("sess-1")
	if !ok || worldID != "wld_abc" {
		t.Fatalf("WorldFor() = (%q, %v), want (wld_abc, true)", worldID, ok)
	}

	if _, ok := reg.WorldFor("missing"); ok {
		t.Fatal("expected unknown session to be absent")
	}
}

func TestRegistryForgetRemovesSession(t *testing.T) {
	reg, err := OpenRegistry(filepath.Join(t.TempDir(), "worlds.db"))
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	defer reg.Close()

	reg.RecordSession("sess-1", "wld_abc")
	reg.Forget("sess-1")

	if _, ok := reg.WorldFor("sess-1"); ok {
		t.Fatal("expected session to be forgotten")
	}
}

func TestRegistryRecordSessionUpserts(t *testing.T) {
	reg, err := OpenRegistry(filepath.Join(t.TempDir(), "worlds.db"))
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	defer reg.Close()

	reg.RecordSession("sess-1", "wld_abc")
	reg.RecordSession("sess-1", "wld_def")

	worldID, ok := reg.WorldFor("sess-1")
	if !ok || worldID != "wld_def" {
		t.Fatalf("WorldFor() = (%q, %v), want (wld_def, true)", worldID, ok)
	}
}
