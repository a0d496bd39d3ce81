//go:build linux

package world

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/substrate/internal/common"
	"github.com/ehrlich-b/substrate/internal/logger"
)

const overlayRoot = "/var/lib/substrate/overlay"

const fsDiffCap = 10000

// overlay wraps one world's overlay filesystem (spec §3 World, §4.5
// "Overlay filesystem"): the workspace bound to lower, upper/work on the
// same filesystem as upper, and merged as the mount target.
type overlay struct {
	root     string // <overlay_root>/<world_id>
	lower    string
	upper    string
	work     string
	merged   string
	mounted  bool
	degraded bool
}

func createOverlay(id ID, workspaceRoot string, mode FSMode) (*overlay, error) {
	root := filepath.Join(overlayRoot, string(id))
	o := &overlay{
		root:   root,
		lower:  filepath.Join(root, "lower"),
		upper:  filepath.Join(root, "upper"),
		work:   filepath.Join(root, "work"),
		merged: filepath.Join(root, "merged"),
	}
	for _, dir := range []string{o.lower, o.upper, o.work, o.merged} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("world: create overlay dir %s: %w", dir, err)
		}
	}

	// Bind the workspace root to lower.
	if err := unix.Mount(workspaceRoot, o.lower, "", unix.MS_BIND, ""); err != nil {
		return nil, &SetupError{Kind: "overlay", Gaps: []string{"bind mount"}, Platform: err.Error()}
	}

	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", o.lower, o.upper, o.work)
	if err := unix.Mount("overlay", o.merged, "overlay", 0, opts); err != nil {
		unix.Unmount(o.lower, 0)
		logger.Warn("world: overlay mount failed, degrading to direct execution", "err", err)
		return &overlay{root: root, degraded: true}, nil
	}
	o.mounted = true

	if mode == FSReadOnly {
		if err := unix.Mount("", o.merged, "", unix.MS_REMOUNT|unix.MS_BIND|unix.MS_RDONLY, ""); err != nil {
			logger.Warn("world: read-only remount failed", "err", err)
		}
	}
	return o, nil
}

// attachOverlay recognizes an already-mounted overlay left behind by a
// prior agent process: the merged directory existing at the deterministic
// path is taken as proof the mount is still live, since teardown always
// removes the whole <overlay_root>/<id> tree together with the unmount.
func attachOverlay(id ID, workspaceRoot string, mode FSMode) (*overlay, error) {
	root := filepath.Join(overlayRoot, string(id))
	o := &overlay{
		root:    root,
		lower:   filepath.Join(root, "lower"),
		upper:   filepath.Join(root, "upper"),
		work:    filepath.Join(root, "work"),
		merged:  filepath.Join(root, "merged"),
		mounted: true,
	}
	if _, err := os.Stat(o.merged); err != nil {
		return nil, fmt.Errorf("overlay %s not found: %w", o.merged, err)
	}
	return o, nil
}

// MergedRoot is the directory a command should be chdir'd (or pivot_root'd)
// into. When degraded, it returns "" so the caller executes directly
// against the host filesystem.
func (o *overlay) MergedRoot() string {
	if o == nil || o.degraded {
		return ""
	}
	return o.merged
}

func (o *overlay) teardown() error {
	if o == nil {
		return nil
	}
	if o.mounted {
		if err := unix.Unmount(o.merged, 0); err != nil {
			return fmt.Errorf("world: unmount overlay %s: %w", o.merged, err)
		}
		unix.Unmount(o.lower, 0)
	}
	if o.root != "" {
		return os.RemoveAll(o.root)
	}
	return nil
}

// FsDiff walks the upper layer and computes the three-bucket change set
// (spec §3 FsDiff, §4.5 "Filesystem diff computation"). Regular entries
// absent from lower are writes, entries present in both with a different
// inode are mods, and char-device 0/0 whiteout entries are deletes.
// Results are truncated at fsDiffCap with Truncated set.
func (o *overlay) FsDiff(workspaceRoot string) (*common.FsDiff, error) {
	diff := &common.FsDiff{DisplayPath: map[string]string{}}
	if o == nil || o.degraded {
		return diff, nil
	}

	var entries []string
	err := filepath.Walk(o.upper, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best-effort walk; skip unreadable entries
		}
		if path == o.upper {
			return nil
		}
		rel, relErr := filepath.Rel(o.upper, path)
		if relErr != nil {
			return nil
		}
		entries = append(entries, rel)

		if len(entries) > fsDiffCap {
			return filepath.SkipAll
		}

		if isWhiteout(info) {
			diff.Deletes = append(diff.Deletes, rel)
			return nil
		}
		lowerPath := filepath.Join(o.lower, rel)
		if _, lowerErr := os.Lstat(lowerPath); lowerErr != nil {
			diff.Writes = append(diff.Writes, rel)
		} else {
			diff.Mods = append(diff.Mods, rel)
		}
		if abs := filepath.Join(workspaceRoot, rel); abs != rel {
			diff.DisplayPath[rel] = abs
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("world: walk overlay upper: %w", err)
	}

	if len(entries) > fsDiffCap {
		diff.Truncated = true
		diff.TruncatedCap = fsDiffCap
		diff.Writes = capSlice(diff.Writes, fsDiffCap)
		diff.Mods = capSlice(diff.Mods, fsDiffCap)
		diff.Deletes = capSlice(diff.Deletes, fsDiffCap)
	}

	sort.Strings(diff.Writes)
	sort.Strings(diff.Mods)
	sort.Strings(diff.Deletes)
	return diff, nil
}

// isWhiteout reports whether info describes an overlayfs whiteout marker: a
// character device with major/minor 0/0 (spec §4.5).
func isWhiteout(info os.FileInfo) bool {
	if info.Mode()&os.ModeCharDevice == 0 {
		return false
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return unix.Major(uint64(stat.Rdev)) == 0 && unix.Minor(uint64(stat.Rdev)) == 0
}

func capSlice(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
