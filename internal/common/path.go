package common

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// CallStack parses the call-stack env carrier into its ordered command
// list. Entries are comma-separated; spec §3 bounds the list at
// MaxCallStack with adjacency-dedup and oldest-first overflow drop.
func CallStack(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PushCallStack appends name to stack, collapsing an immediate duplicate
// (adjacency-level dedup per spec §3) and dropping the oldest entry once
// the bound is exceeded.
func PushCallStack(stack []string, name string) []string {
	if len(stack) > 0 && stack[len(stack)-1] == name {
		return stack
	}
	stack = append(stack, name)
	if len(stack) > MaxCallStack {
		stack = stack[len(stack)-MaxCallStack:]
	}
	return stack
}

// FormatCallStack renders a call stack back into its env carrier form.
func FormatCallStack(stack []string) string {
	return strings.Join(stack, ",")
}

// DedupePath removes duplicate entries from a PATH-style string, preserving
// first-seen order. Used both to build the "clean" PATH a shim resolves
// against and to strip the shim directory back out of it.
func DedupePath(path string) string {
	seen := make(map[string]bool)
	var out []string
	for _, entry := range strings.Split(path, string(os.PathListSeparator)) {
		if entry == "" || seen[entry] {
			continue
		}
		seen[entry] = true
		out = append(out, entry)
	}
	return strings.Join(out, string(os.PathListSeparator))
}

// StripDir removes every occurrence of dir from a PATH-style string.
func StripDir(path, dir string) string {
	var out []string
	for _, entry := range strings.Split(path, string(os.PathListSeparator)) {
		if entry != "" && entry != dir {
			out = append(out, entry)
		}
	}
	return strings.Join(out, string(os.PathListSeparator))
}

// ResolveOnPath scans path (a PATH-style string, expected to already be the
// "clean" PATH with the shim directory stripped) for an executable with the
// given basename, spec §4.1 step 4. It does not consult the process's own
// PATH — callers pass the carrier explicitly so shim resolution is testable
// and so a cache-bust can force a fresh scan of a caller-supplied value.
func ResolveOnPath(path, name string) (string, error) {
	for _, dir := range strings.Split(path, string(os.PathListSeparator)) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
			return candidate, nil
		}
	}
	return "", exec.ErrNotFound
}

var resolveCache sync.Map // (path, name) -> resolved path

// ResolveCached wraps ResolveOnPath with a process-local cache (spec §4.1
// step 4: "cache the resolved path in-process"). Setting the cache-bust
// carrier (EnvCacheBust) forces a fresh scan and repopulates the cache
// rather than serving a stale hit — e.g. after a shimmed binary is
// installed mid-session.
func ResolveCached(path, name string) (string, error) {
	key := path + "\x00" + name
	if os.Getenv(EnvCacheBust) == "" {
		if v, ok := resolveCache.Load(key); ok {
			return v.(string), nil
		}
	}
	resolved, err := ResolveOnPath(path, name)
	if err != nil {
		return "", err
	}
	resolveCache.Store(key, resolved)
	return resolved, nil
}
