package span

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ehrlich-b/substrate/internal/common"
)

// Files returns the rotated predecessors of the trace file from oldest
// (.keep) to newest (.1), followed by the base (current) file last, so
// callers scanning for a span by id see older history first. Predecessors
// that don't exist are skipped.
func Files(basePath string, keep int) []string {
	files := make([]string, 0, keep+1)
	for i := keep; i >= 1; i-- {
		p := fmt.Sprintf("%s.%d", basePath, i)
		if _, err := os.Stat(p); err == nil {
			files = append(files, p)
		}
	}
	files = append(files, basePath)
	return files
}

// ErrNotFound is returned by Find when no span with the given id exists in
// any scanned file.
var ErrNotFound = fmt.Errorf("span: not found")

// Each streams every well-formed span across files in order, invoking fn for
// each. A trailing truncated line (the crash-recovery tolerance the spec's
// §4.2 invariants require) is silently skipped rather than erroring.
func Each(files []string, fn func(*common.Span) error) error {
	for _, path := range files {
		if err := eachInFile(path, fn); err != nil {
			return err
		}
	}
	return nil
}

func eachInFile(path string, fn func(*common.Span) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("span: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var s common.Span
		if err := json.Unmarshal(line, &s); err != nil {
			// Tolerate a truncated trailing line from a crashed writer.
			continue
		}
		if err := fn(&s); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("span: scan %s: %w", path, err)
	}
	return nil
}

// Find seeks the span matching spanID across files (current trace file plus
// rotated predecessors), per spec §4.8 step 1. Returns ErrNotFound if no
// match is seen.
func Find(files []string, spanID string) (*common.Span, error) {
	var found *common.Span
	err := Each(files, func(s *common.Span) error {
		if s.SpanID == spanID {
			found = s
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}
