//go:build !windows

package replay

import "syscall"

// applyReplayUmask sets the process umask to replayUmask for the duration
// of the replayed exec and returns a func that restores the previous
// value. syscall.Umask is process-wide, not per-goroutine, so callers must
// restore it immediately after the child is spawned.
func applyReplayUmask() func() {
	old := syscall.Umask(replayUmask)
	return func() { syscall.Umask(old) }
}
