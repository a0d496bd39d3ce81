package shell

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ehrlich-b/substrate/internal/config"
	"github.com/ehrlich-b/substrate/internal/span"
)

func newTestShell(t *testing.T, cwd string) *Shell {
	t.Helper()
	rec, err := span.Open(filepath.Join(t.TempDir(), "trace.jsonl"))
	if err != nil {
		t.Fatalf("span.Open: %v", err)
	}
	t.Cleanup(func() { rec.Close() })
	return New(config.Default(), nil, rec, cwd)
}

func TestIsBuiltin(t *testing.T) {
	for _, name := range []string{"cd", "pwd", "export", "unset"} {
		if !IsBuiltin(name) {
			t.Errorf("expected %q to be a builtin", name)
		}
	}
	for _, name := range []string{"exit", "quit", "git", "npm"} {
		if IsBuiltin(name) {
			t.Errorf("expected %q not to be a builtin (intercepted elsewhere or a real command)", name)
		}
	}
}

func TestBuiltinCdUpdatesCwdAndOldpwd(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	s := newTestShell(t, root)
	if _, err := s.RunBuiltin([]string{"cd", "sub"}); err != nil {
		t.Fatalf("cd: %v", err)
	}
	if got := s.Cwd(); got != sub {
		t.Fatalf("expected cwd %q, got %q", sub, got)
	}

	if _, err := s.RunBuiltin([]string{"cd", "-"}); err != nil {
		t.Fatalf("cd -: %v", err)
	}
	if got := s.Cwd(); got != root {
		t.Fatalf("expected cd - to return to %q, got %q", root, got)
	}
}

func TestBuiltinCdRejectsNonDirectory(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0640); err != nil {
		t.Fatalf("write file: %v", err)
	}

	s := newTestShell(t, root)
	if _, err := s.RunBuiltin([]string{"cd", "f.txt"}); err == nil {
		t.Fatal("expected cd into a file to fail")
	}
}

func TestBuiltinExportAndUnset(t *testing.T) {
	s := newTestShell(t, t.TempDir())

	if _, err := s.RunBuiltin([]string{"export", "FOO=bar"}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if got := s.EnvSlice()["FOO"]; got != "bar" {
		t.Fatalf("expected FOO=bar, got %q", got)
	}

	if _, err := s.RunBuiltin([]string{"unset", "FOO"}); err != nil {
		t.Fatalf("unset: %v", err)
	}
	if _, ok := s.EnvSlice()["FOO"]; ok {
		t.Fatal("expected FOO to be unset")
	}
}

func TestBuiltinPwdReflectsCwd(t *testing.T) {
	root := t.TempDir()
	s := newTestShell(t, root)
	out, err := s.RunBuiltin([]string{"pwd"})
	if err != nil {
		t.Fatalf("pwd: %v", err)
	}
	if out != root+"\n" {
		t.Fatalf("expected %q, got %q", root+"\n", out)
	}
}
