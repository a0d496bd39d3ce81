//go:build linux

package world

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ehrlich-b/substrate/internal/logger"
)

// netns wraps a named Linux network namespace (spec §4.5 "Network
// namespace"). Named namespaces are created with `ip netns add`, which
// bind-mounts /var/run/netns/<name> so the namespace outlives any single
// process — required because a World's namespace must survive across the
// many short-lived commands run inside one session.
type netns struct {
	name string
	// degraded is set when namespace creation failed and the backend fell
	// back to socket-cgroup matching for rule scoping (spec §4.5).
	degraded bool
}

func createNetns(name string) (*netns, error) {
	if _, err := exec.LookPath("ip"); err != nil {
		logger.Warn("world: 'ip' not found, network namespace degraded", "netns", name)
		return &netns{name: name, degraded: true}, nil
	}
	if out, err := exec.Command("ip", "netns", "add", name).CombinedOutput(); err != nil {
		logger.Warn("world: netns create failed, falling back to socket-cgroup matching",
			"netns", name, "err", err, "output", string(out))
		return &netns{name: name, degraded: true}, nil
	}
	// Bring loopback up inside the namespace (spec §4.5).
	if out, err := exec.Command("ip", "netns", "exec", name, "ip", "link", "set", "lo", "up").CombinedOutput(); err != nil {
		logger.Warn("world: loopback up failed inside netns", "netns", name, "err", err, "output", string(out))
	}
	return &netns{name: name}, nil
}

// attachNetns recognizes a named namespace an earlier agent process already
// created: `ip netns add` bind-mounts /var/run/netns/<name>, so its
// presence on disk is proof the namespace still exists across a restart.
func attachNetns(name string) (*netns, error) {
	if _, err := os.Stat(filepath.Join("/var/run/netns", name)); err != nil {
		return nil, fmt.Errorf("netns %s not found: %w", name, err)
	}
	return &netns{name: name}, nil
}

// execIn wraps argv so it runs inside the namespace via `ip netns exec`,
// a no-op prefix when the namespace is degraded.
func (n *netns) execIn(argv []string) []string {
	if n == nil || n.degraded {
		return argv
	}
	full := make([]string, 0, len(argv)+3)
	full = append(full, "ip", "netns", "exec", n.name)
	full = append(full, argv...)
	return full
}

func (n *netns) destroy() error {
	if n == nil || n.degraded {
		return nil
	}
	if out, err := exec.Command("ip", "netns", "del", n.name).CombinedOutput(); err != nil {
		return fmt.Errorf("world: netns delete %s: %w (%s)", n.name, err, string(out))
	}
	return nil
}

// pidsInNamespace reports whether any process still lists n as its network
// namespace, used by GC (spec property 7 "its namespace lists no PIDs").
// Best-effort: inability to enumerate /proc is treated as "no pids", since
// absence of the capability to check is not evidence of liveness.
func (n *netns) pidsInNamespace() bool {
	if n == nil || n.degraded {
		return false
	}
	out, err := exec.Command("ip", "netns", "pids", n.name).CombinedOutput()
	if err != nil {
		return false
	}
	return len(out) > 0
}
