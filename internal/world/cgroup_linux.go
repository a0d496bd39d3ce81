//go:build linux

package world

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ehrlich-b/substrate/internal/logger"
)

const cgroupRoot = "/sys/fs/cgroup/substrate"

// cgroup wraps one world's cgroup v2 scope at /sys/fs/cgroup/substrate/<id>
// (spec §3 World, §4.5 "Cgroup v2"). Grounded in the teacher's
// cgroup_linux.go controller-enable/limit-write sequence, generalized from
// a per-agent memory/pid limit pair into the world's resource scope with
// controllers requested in the parent's subtree_control.
type cgroup struct {
	path           string
	degraded       bool
	degradedScopes []string
}

func createCgroup(id ID) (*cgroup, error) {
	if _, err := os.Stat(filepath.Join("/sys/fs/cgroup", "cgroup.controllers")); err != nil {
		logger.Warn("world: cgroups v2 not available, resource limits degrade to advisory")
		return &cgroup{degraded: true, degradedScopes: []string{"pids", "cpu", "memory"}}, nil
	}
	if err := os.MkdirAll(cgroupRoot, 0755); err != nil {
		return nil, fmt.Errorf("world: create cgroup parent %s: %w", cgroupRoot, err)
	}

	wanted := []string{"+pids", "+cpu", "+memory"}
	var degraded []string
	if err := enableControllers(cgroupRoot, wanted); err != nil {
		logger.Warn("world: controllers denied, resource limits degrade to advisory", "err", err)
		degraded = []string{"pids", "cpu", "memory"}
	}

	path := filepath.Join(cgroupRoot, string(id))
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("world: create cgroup %s: %w", path, err)
	}
	return &cgroup{path: path, degradedScopes: degraded}, nil
}

// attachCgroup recognizes an already-existing cgroup v2 scope left behind
// by a prior agent process at the deterministic path derived from id.
func attachCgroup(id ID) (*cgroup, error) {
	path := filepath.Join(cgroupRoot, string(id))
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cgroup %s not found: %w", path, err)
	}
	return &cgroup{path: path}, nil
}

// AddPID writes pid to cgroup.procs. Its callers in linux.go invoke it
// after the child process has started, so the child runs outside the
// cgroup until this write.
func (c *cgroup) AddPID(pid int) error {
	if c == nil || c.degraded {
		return nil
	}
	return os.WriteFile(filepath.Join(c.path, "cgroup.procs"), []byte(strconv.Itoa(pid)), 0644)
}

// SetMemMax applies a memory.max limit, best-effort (advisory if degraded).
func (c *cgroup) SetMemMax(bytes uint64) error {
	if c == nil || c.degraded || bytes == 0 {
		return nil
	}
	return os.WriteFile(filepath.Join(c.path, "memory.max"), []byte(strconv.FormatUint(bytes, 10)), 0644)
}

// Empty reports whether cgroup.procs is empty or the path no longer exists
// (spec property 7 "its cgroup.procs is empty or missing").
func (c *cgroup) Empty() bool {
	if c == nil || c.degraded {
		return true
	}
	data, err := os.ReadFile(filepath.Join(c.path, "cgroup.procs"))
	if err != nil {
		return true // ENOENT is success (spec §4.5 GC)
	}
	return len(strings.TrimSpace(string(data))) == 0
}

// Destroy removes the cgroup directory. All processes must have exited
// first; ENOENT is treated as success (spec §4.5 GC).
func (c *cgroup) Destroy() error {
	if c == nil || c.degraded {
		return nil
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("world: remove cgroup %s: %w", c.path, err)
	}
	return nil
}

// enableControllers writes controllers into parent's subtree_control,
// retrying through a leaf cgroup on EBUSY ("no internal processes" rule),
// exactly as the teacher's cgroup_linux.go does for its own daemon cgroup.
func enableControllers(parentPath string, controllers []string) error {
	payload := strings.Join(controllers, " ")
	controlPath := filepath.Join(parentPath, "cgroup.subtree_control")

	if err := os.WriteFile(controlPath, []byte(payload), 0644); err == nil {
		return nil
	} else if !strings.Contains(err.Error(), "device or resource busy") {
		return err
	}

	leaf := filepath.Join(parentPath, "substrate-daemon")
	if err := os.MkdirAll(leaf, 0755); err != nil {
		return fmt.Errorf("create leaf cgroup: %w", err)
	}
	if err := os.WriteFile(filepath.Join(leaf, "cgroup.procs"), []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("move self to leaf cgroup: %w", err)
	}
	return os.WriteFile(controlPath, []byte(payload), 0644)
}
