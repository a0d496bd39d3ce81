// Package span implements the append-only JSONL trace log: the recorder
// (§4.2) and a reader used by the replay engine and property tests to
// stream spans back out of the current file and its rotated predecessors.
package span

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ehrlich-b/substrate/internal/common"
	"github.com/ehrlich-b/substrate/internal/logger"
)

const (
	defaultMaxBytes = 100 * 1024 * 1024 // ≈100 MiB, spec §4.2
	defaultKeep     = 3
)

// Recorder serializes spans as one JSON object per line into path, rotating
// by rename (never truncate-in-place) once the file exceeds maxBytes.
//
// The recorder owns its file descriptor exclusively (spec §3 Ownership);
// callers must not open the trace path themselves for writing.
type Recorder struct {
	mu       sync.Mutex
	path     string
	f        *os.File
	size     int64
	maxBytes int64
	keep     int
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithMaxBytes overrides the rotation threshold.
func WithMaxBytes(n int64) Option {
	return func(r *Recorder) { r.maxBytes = n }
}

// WithKeep overrides the number of rotated files retained.
func WithKeep(n int) Option {
	return func(r *Recorder) { r.keep = n }
}

// Open opens (creating if missing) the trace file at path with append-only,
// mode 0600 semantics (spec §4.2 Contract), and its parent directory with
// mode 0750 (spec §6 "Trace file format").
func Open(path string, opts ...Option) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("span: create trace dir: %w", err)
	}
	r := &Recorder{path: path, maxBytes: defaultMaxBytes, keep: defaultKeep}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.reopen(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recorder) reopen() error {
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("span: open trace file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("span: stat trace file: %w", err)
	}
	r.f = f
	r.size = info.Size()
	return nil
}

// Write appends span as a single newline-terminated JSON line (spec §4.2:
// "Writes are single write calls carrying a single newline-terminated JSON
// object"). Errors are returned but never fatal to the caller — recorder
// failures never propagate to a command's exit code (spec §4.2, §7).
func (r *Recorder) Write(s *common.Span) error {
	line, err := json.Marshal(s)
	if err != nil {
		logger.Warn("span: marshal failed", "err", err)
		return err
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.f.Write(line)
	if err != nil {
		logger.Warn("span: write failed", "err", err)
		return err
	}
	r.size += int64(n)

	if r.size > r.maxBytes {
		if err := r.rotateLocked(); err != nil {
			logger.Warn("span: rotation failed", "err", err)
			return err
		}
	}
	return nil
}

// rotateLocked renames the base file through .1..keep and reopens the base
// path. Crash-safety comes entirely from rename: a reader observing any
// instant during rotation sees either the pre-rotation file at its old name
// or the post-rotation (possibly not-yet-recreated) file at the base name —
// never a truncated-in-place file (spec §4.2 Invariants).
func (r *Recorder) rotateLocked() error {
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("span: close before rotate: %w", err)
	}

	for i := r.keep; i >= 1; i-- {
		src := r.rotatedPath(i)
		if i == r.keep {
			os.Remove(src) // best-effort: drop the oldest
			continue
		}
		dst := r.rotatedPath(i + 1)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, dst); err != nil {
				return fmt.Errorf("span: rotate %s -> %s: %w", src, dst, err)
			}
		}
	}
	if err := os.Rename(r.path, r.rotatedPath(1)); err != nil {
		return fmt.Errorf("span: rotate base -> .1: %w", err)
	}
	return r.reopen()
}

func (r *Recorder) rotatedPath(n int) string {
	return fmt.Sprintf("%s.%d", r.path, n)
}

// Close closes the underlying file descriptor.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}

// Path returns the base trace file path.
func (r *Recorder) Path() string { return r.path }

// Keep returns the configured retention count, used by readers that need to
// enumerate rotated predecessors.
func (r *Recorder) Keep() int { return r.keep }
