// Package config holds Substrate's ambient application configuration: the
// trace log path and rotation thresholds, the world agent's socket path,
// the overlay/cgroup root paths, default policy mode, and GC timing (spec
// §6, §9 "Global state with lifecycle"). Grounded in the teacher's
// internal/config/{wing.go,paths.go} not-exist-is-ok / legacy-folding load
// pattern and internal/orchestrator/config.go's explicit-flag > file >
// default precedence, generalized here to process configuration.
package config

import (
	"os"
	"path/filepath"
)

// HomeDir returns ~/.substrate, creating nothing.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".substrate"), nil
}

// TracePath is the default trace log location (spec §6 "Default path
// ~/.substrate/trace.jsonl").
func TracePath() (string, error) {
	dir, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "trace.jsonl"), nil
}

// SocketPath is the default world agent Unix socket location. Spec §6
// names the POSIX convention /run/substrate.sock for the system-wide
// agent; Substrate additionally supports a per-user socket under
// ~/.substrate for the unprivileged dev path the shim/shell prefer first.
func SocketPath() string {
	if p := os.Getenv("SUBSTRATE_AGENT_SOCKET"); p != "" {
		return p
	}
	if dir, err := HomeDir(); err == nil {
		return filepath.Join(dir, "agent.sock")
	}
	return "/run/substrate.sock"
}

// ShimDir is where per-command shim entries live (spec §6 "Persisted state
// layout"): <home>/.substrate/shims/.
func ShimDir() (string, error) {
	dir, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "shims"), nil
}

// OverlayRoot is the base directory for per-world overlay filesystems
// (spec §6 "Overlay roots").
const OverlayRoot = "/var/lib/substrate/overlay"

// CgroupRoot is the base cgroup v2 directory for worlds (spec §6 "World
// naming").
const CgroupRoot = "/sys/fs/cgroup/substrate"

// WorldRegistryPath is the sqlite registry the world agent uses to
// recognize a session's world across agent restarts (SPEC_FULL.md Domain
// Stack: additive to startup GC, never a substitute for it).
func WorldRegistryPath() (string, error) {
	dir, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "worlds.db"), nil
}

// ProfileFilename is the nearest-profile filename the policy broker walks
// upward from cwd to find (spec §3 Policy).
const ProfileFilename = ".substrate-profile"

// GlobalProfilePath is the process-wide user profile layered beneath any
// project-local .substrate-profile (spec §3 "Profiles stack").
func GlobalProfilePath() (string, error) {
	dir, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profile.yaml"), nil
}

// EnsureDirs creates ~/.substrate (0750, spec §6) and the shim directory.
func EnsureDirs() error {
	home, err := HomeDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(home, 0750); err != nil {
		return err
	}
	shims, err := ShimDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(shims, 0750)
}
