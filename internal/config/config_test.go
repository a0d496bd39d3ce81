package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func withHome(t *testing.T, dir string) {
	t.Helper()
	old := os.Getenv("HOME")
	os.Setenv("HOME", dir)
	t.Cleanup(func() { os.Setenv("HOME", old) })
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	withHome(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg.TraceMaxMB != want.TraceMaxMB || cfg.DefaultMode != want.DefaultMode {
		t.Fatalf("Load() = %+v, want defaults %+v", cfg, want)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	withHome(t, t.TempDir())

	cfg := Default()
	cfg.TraceMaxMB = 99
	cfg.DefaultMode = ModeEnforce
	cfg.GCInterval = Duration(5 * time.Minute)

	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.TraceMaxMB != 99 || loaded.DefaultMode != ModeEnforce {
		t.Fatalf("Load() = %+v, want TraceMaxMB=99 DefaultMode=enforce", loaded)
	}
	if time.Duration(loaded.GCInterval) != 5*time.Minute {
		t.Fatalf("Load() GCInterval = %v, want 5m", time.Duration(loaded.GCInterval))
	}
}

func TestPartialFileFoldsOverDefaults(t *testing.T) {
	home := t.TempDir()
	withHome(t, home)

	if err := os.MkdirAll(filepath.Join(home, ".substrate"), 0750); err != nil {
		t.Fatal(err)
	}
	partial := "default_mode: enforce\n"
	if err := os.WriteFile(filepath.Join(home, ".substrate", "config.yaml"), []byte(partial), 0640); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultMode != ModeEnforce {
		t.Fatalf("DefaultMode = %q, want enforce", cfg.DefaultMode)
	}
	if cfg.TraceMaxMB != Default().TraceMaxMB {
		t.Fatalf("TraceMaxMB = %d, want default %d (folded)", cfg.TraceMaxMB, Default().TraceMaxMB)
	}
}

func TestEnvOverridesBeatFileAndDefault(t *testing.T) {
	home := t.TempDir()
	withHome(t, home)

	if err := os.MkdirAll(filepath.Join(home, ".substrate"), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, ".substrate", "config.yaml"), []byte("default_mode: observe\n"), 0640); err != nil {
		t.Fatal(err)
	}

	os.Setenv("SUBSTRATE_MODE", "enforce")
	t.Cleanup(func() { os.Unsetenv("SUBSTRATE_MODE") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultMode != ModeEnforce {
		t.Fatalf("DefaultMode = %q, want env override enforce", cfg.DefaultMode)
	}
}

func TestEnsureDirsCreatesShimDir(t *testing.T) {
	withHome(t, t.TempDir())

	if err := EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	shims, err := ShimDir()
	if err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(shims); err != nil || !info.IsDir() {
		t.Fatalf("shim dir not created at %s: %v", shims, err)
	}
}
