package span

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ehrlich-b/substrate/internal/common"
)

func newTestSpan(id string) *common.Span {
	return &common.Span{
		Event:     common.EventComplete,
		SessionID: "sess_1",
		SpanID:    id,
		Component: common.ComponentShim,
		Command:   "git",
		Argv:      []string{"git", "status"},
		Cwd:       "/tmp/repo",
	}
}

func TestRecorderWriteAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	for i := 0; i < 5; i++ {
		if err := r.Write(newTestSpan("span_1")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	var count int
	if err := Each(Files(path, r.Keep()), func(*common.Span) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("Each: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected 5 spans, got %d", count)
	}
}

func TestRecorderRotatesOnOverflow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	r, err := Open(path, WithMaxBytes(1), WithKeep(2))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	// Every write exceeds the 1-byte threshold, so each one rotates.
	for i := 0; i < 4; i++ {
		if err := r.Write(newTestSpan("span_1")); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	if _, err := statSize(path); err != nil {
		t.Fatalf("base trace file missing: %v", err)
	}
	if _, err := statSize(path + ".1"); err != nil {
		t.Fatalf("expected .1 rotated file: %v", err)
	}
	if _, err := statSize(path + ".3"); err == nil {
		t.Fatalf("expected no .3 file with keep=2")
	}
}

func TestFindLocatesSpanAcrossRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	r, err := Open(path, WithMaxBytes(1), WithKeep(4))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if err := r.Write(newTestSpan("span_first")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := r.Write(newTestSpan("span_later")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	found, err := Find(Files(path, r.Keep()), "span_first")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if found.SpanID != "span_first" {
		t.Fatalf("found wrong span: %+v", found)
	}
}

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
