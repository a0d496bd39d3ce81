//go:build linux

package world

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/substrate/internal/common"
	"github.com/ehrlich-b/substrate/internal/logger"
)

// linuxWorld is the real spec §4.5 World: a named netns, a cgroup v2 scope,
// an overlay filesystem, and an nft egress filter, all torn down together.
// Grounded in the teacher's internal/sandbox/linux.go capability-probe and
// clone-flag idiom, generalized from a per-agent process jail into a
// reusable per-session unit with its own FsDiff and GC status.
type linuxWorld struct {
	mu   sync.Mutex
	id   ID
	spec SessionSpec

	ns  *netns
	cg  *cgroup
	ov  *overlay
	flt *filter

	degraded []string
	livePIDs map[int]bool
}

func newWorld(ctx context.Context, spec SessionSpec) (World, error) {
	id := NewID()
	w := &linuxWorld{id: id, spec: spec, livePIDs: make(map[int]bool)}

	ns, err := createNetns(id.NetnsName())
	if err != nil {
		return nil, err
	}
	w.ns = ns
	if ns.degraded {
		w.degraded = append(w.degraded, "netns")
	}

	cg, err := createCgroup(id)
	if err != nil {
		return nil, err
	}
	w.cg = cg
	w.degraded = append(w.degraded, cg.degradedScopes...)
	if spec.MemMaxBytes > 0 {
		if err := cg.SetMemMax(uint64(spec.MemMaxBytes)); err != nil {
			logger.Warn("world: set memory.max failed", "world", id, "err", err)
		}
	}

	ov, err := createOverlay(id, spec.WorkspaceRoot, spec.FSMode)
	if err != nil {
		return nil, err
	}
	w.ov = ov
	if ov.degraded {
		w.degraded = append(w.degraded, "overlay")
	}

	flt, err := installFilter(id, ns.name, spec.NetworkAllow)
	if err != nil {
		return nil, err
	}
	w.flt = flt
	if flt.degraded {
		w.degraded = append(w.degraded, "filter")
	}

	logger.Info("world: session ensured", "session", spec.SessionID, "world", id, "degraded", w.degraded)
	return w, nil
}

// attachWorld reattaches to an already-existing world's OS-level resources
// (netns, cgroup, overlay, filter table), identified by a deterministic id
// recalled from the sqlite crash-recovery registry after an agent restart
// (spec §3 World lifecycle, "ensure_session recognizes a session that
// already has a world"). It returns an error if any resource is missing,
// signalling the caller to fall back to newWorld instead of half-adopting.
func attachWorld(ctx context.Context, id ID, spec SessionSpec) (World, error) {
	ns, err := attachNetns(id.NetnsName())
	if err != nil {
		return nil, fmt.Errorf("world: attach netns %s: %w", id, err)
	}
	cg, err := attachCgroup(id)
	if err != nil {
		return nil, fmt.Errorf("world: attach cgroup %s: %w", id, err)
	}
	ov, err := attachOverlay(id, spec.WorkspaceRoot, spec.FSMode)
	if err != nil {
		return nil, fmt.Errorf("world: attach overlay %s: %w", id, err)
	}
	flt, err := attachFilter(id, ns.name)
	if err != nil {
		return nil, fmt.Errorf("world: attach filter %s: %w", id, err)
	}

	w := &linuxWorld{id: id, spec: spec, livePIDs: make(map[int]bool), ns: ns, cg: cg, ov: ov, flt: flt}
	logger.Info("world: session adopted", "session", spec.SessionID, "world", id)
	return w, nil
}

func (w *linuxWorld) ID() ID { return w.id }

// Exec runs req.Cmd inside the world: cwd resolved onto the merged overlay
// root (see resolveDir; full isolation also runs there, and no pivot_root
// is performed), the netns via `ip netns exec`, and the child's PID written
// to cgroup.procs right after the child has started, so the child is not
// in the cgroup until that write.
func (w *linuxWorld) Exec(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	w.logDegradedEgress(req.Cmd)

	argv := append([]string{}, req.Cmd...)
	argv = w.ns.execIn(argv)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = w.resolveDir(req.Cwd)
	cmd.Env = envSlice(req.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("world: spawn %s: %w", argv[0], err)
	}

	w.mu.Lock()
	w.livePIDs[cmd.Process.Pid] = true
	w.mu.Unlock()
	if err := w.cg.AddPID(cmd.Process.Pid); err != nil {
		logger.Warn("world: add pid to cgroup failed", "pid", cmd.Process.Pid, "err", err)
	}

	err := cmd.Wait()
	w.mu.Lock()
	delete(w.livePIDs, cmd.Process.Pid)
	w.mu.Unlock()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				exitCode = 128 + int(ws.Signal())
			} else {
				exitCode = exitErr.ExitCode()
			}
		} else {
			return nil, fmt.Errorf("world: wait %s: %w", argv[0], err)
		}
	}

	return &ExecResult{
		Exit:       exitCode,
		Stdout:     stdout.Bytes(),
		Stderr:     stderr.Bytes(),
		ScopesUsed: w.scopesUsed(),
		Degraded:   w.degraded,
	}, nil
}

// linuxPTYHandle adapts a PTY-attached exec.Cmd to the PTYHandle interface,
// removing its pid from the owning world's livePIDs set once Wait returns.
type linuxPTYHandle struct {
	w    *linuxWorld
	cmd  *exec.Cmd
	ptmx *os.File
}

func (h *linuxPTYHandle) PTY() *os.File { return h.ptmx }

func (h *linuxPTYHandle) Resize(cols, rows int) error {
	return pty.Setsize(h.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (h *linuxPTYHandle) Signal(sig syscall.Signal) error {
	if h.cmd.Process == nil {
		return fmt.Errorf("world: no process to signal")
	}
	return syscall.Kill(-h.cmd.Process.Pid, sig)
}

func (h *linuxPTYHandle) Wait() (*ExecResult, error) {
	err := h.cmd.Wait()
	h.ptmx.Close()
	h.w.mu.Lock()
	delete(h.w.livePIDs, h.cmd.Process.Pid)
	h.w.mu.Unlock()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				exitCode = 128 + int(ws.Signal())
			} else {
				exitCode = exitErr.ExitCode()
			}
		} else {
			return nil, fmt.Errorf("world: pty wait: %w", err)
		}
	}
	return &ExecResult{Exit: exitCode, ScopesUsed: h.w.scopesUsed(), Degraded: h.w.degraded}, nil
}

// ExecPTY starts req.Cmd attached to a new pseudo-terminal inside the world,
// for the agent's streaming endpoint (spec §4.6).
func (w *linuxWorld) ExecPTY(ctx context.Context, req ExecRequest, cols, rows int) (PTYHandle, error) {
	argv := append([]string{}, req.Cmd...)
	argv = w.ns.execIn(argv)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = w.resolveDir(req.Cwd)
	cmd.Env = envSlice(req.Env)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, fmt.Errorf("world: pty start %s: %w", argv[0], err)
	}

	w.mu.Lock()
	w.livePIDs[cmd.Process.Pid] = true
	w.mu.Unlock()
	if err := w.cg.AddPID(cmd.Process.Pid); err != nil {
		logger.Warn("world: add pid to cgroup failed", "pid", cmd.Process.Pid, "err", err)
	}

	return &linuxPTYHandle{w: w, cmd: cmd, ptmx: ptmx}, nil
}

// resolveDir maps cwd onto the overlay's merged root. In workspace
// isolation mode a cwd inside the workspace root becomes the same relative
// path under the merged root, and any other cwd maps to the merged root
// itself; full isolation always runs at the merged root. With a degraded
// overlay, cwd is used unchanged.
func (w *linuxWorld) resolveDir(cwd string) string {
	merged := w.ov.MergedRoot()
	if merged == "" {
		return cwd
	}
	if w.spec.FSIsolation == IsolationFull {
		return merged
	}
	if rel, err := filepath.Rel(w.spec.WorkspaceRoot, cwd); err == nil && rel != ".." && !strings.HasPrefix(rel, "../") {
		return filepath.Join(merged, rel)
	}
	return merged
}

// logDegradedEgress gives the degraded-mode software drop logger (spec
// §4.5 "falling back to socket-cgroup matching") something to actually
// report: with no nft table enforcing the allowlist kernel-side, this is a
// best-effort advisory, not real interception — it only recognizes plain
// http(s) URL arguments, not every way a command can reach the network.
func (w *linuxWorld) logDegradedEgress(cmd []string) {
	if w.flt == nil || !w.flt.degraded || len(w.spec.NetworkAllow) == 0 {
		return
	}
	for _, arg := range cmd {
		host, ok := hostFromURLArg(arg)
		if !ok {
			continue
		}
		if !hostAllowed(host, w.spec.NetworkAllow) {
			w.flt.logDroppedIfRateAllows(host)
		}
	}
}

func hostFromURLArg(arg string) (string, bool) {
	for _, prefix := range []string{"http://", "https://"} {
		if !strings.HasPrefix(arg, prefix) {
			continue
		}
		rest := arg[len(prefix):]
		end := strings.IndexAny(rest, "/:?#")
		if end >= 0 {
			rest = rest[:end]
		}
		if rest == "" {
			return "", false
		}
		return rest, true
	}
	return "", false
}

func hostAllowed(host string, allow []string) bool {
	for _, a := range allow {
		if a == host || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

func (w *linuxWorld) scopesUsed() []string {
	scopes := []string{"overlay"}
	if !w.ns.degraded {
		scopes = append(scopes, "netns")
	}
	if !w.cg.degraded {
		scopes = append(scopes, "cgroup")
	}
	if !w.flt.degraded {
		scopes = append(scopes, "filter")
	}
	return scopes
}

func (w *linuxWorld) FsDiff(ctx context.Context) (*common.FsDiff, error) {
	return w.ov.FsDiff(w.spec.WorkspaceRoot)
}

// Live reports whether the world still has live processes or cgroup tasks
// (spec property 7).
func (w *linuxWorld) Live() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.livePIDs) > 0 {
		return true
	}
	if !w.cg.Empty() {
		return true
	}
	return w.ns.pidsInNamespace()
}

// Teardown tears down the filter, namespace, cgroup, and overlay in that
// order, attempting every step even if an earlier one fails (spec §4.5
// "GC is invoked... attempts best-effort teardown... ENOENT is success").
func (w *linuxWorld) Teardown(ctx context.Context) error {
	var errs []string
	if err := w.flt.teardown(w.ns.name); err != nil {
		errs = append(errs, err.Error())
	}
	if err := w.ns.destroy(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := w.cg.Destroy(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := w.ov.teardown(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("world: teardown %s: %s", w.id, strings.Join(errs, "; "))
	}
	return nil
}

func envSlice(env map[string]string) []string {
	if env == nil {
		return os.Environ()
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// hasNamespaceCapability probes whether this process can create network
// namespaces, grounded in the teacher's linux.go capability probe chain
// (root -> CAP_SYS_ADMIN via capget -> unprivileged_userns_clone sysctl ->
// live probe), used by capabilities reporting.
func hasNamespaceCapability() bool {
	if os.Geteuid() == 0 {
		return true
	}
	var hdr unix.CapUserHeader
	var data unix.CapUserData
	hdr.Version = unix.LINUX_CAPABILITY_VERSION_1
	hdr.Pid = 0
	if err := unix.Capget(&hdr, &data); err == nil {
		if data.Effective&(1<<unix.CAP_SYS_ADMIN) != 0 {
			return true
		}
	}
	if val, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone"); err == nil {
		return strings.TrimSpace(string(val)) == "1"
	}
	return false
}

// Capabilities reports which isolation primitives this host can actually
// provide, used by the agent's `capabilities` endpoint (spec §4.6).
func Capabilities() map[string]bool {
	_, overlayErr := exec.LookPath("mount")
	_, nftErr := exec.LookPath("nft")
	return map[string]bool{
		"namespaces": hasNamespaceCapability(),
		"overlay":    overlayErr == nil,
		"filter":     nftErr == nil,
		"cgroup":     statCgroupV2(),
	}
}

func statCgroupV2() bool {
	_, err := os.Stat("/sys/fs/cgroup/cgroup.controllers")
	return err == nil
}
