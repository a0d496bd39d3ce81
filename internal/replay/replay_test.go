package replay

import (
	"os"
	"testing"

	"github.com/ehrlich-b/substrate/internal/common"
)

func TestIsShellInvocationDetectsExplicitShellArgv(t *testing.T) {
	cases := []struct {
		argv []string
		want bool
	}{
		{[]string{"bash", "-lc", "echo hi"}, true},
		{[]string{"sh", "-c", "echo hi"}, true},
		{[]string{"/bin/zsh", "-c", "echo hi"}, true},
		{[]string{"git", "status"}, false},
		{[]string{"bash"}, false},
		{[]string{"bash", "echo.sh"}, false},
	}
	for _, c := range cases {
		if got := isShellInvocation(c.argv); got != c.want {
			t.Errorf("isShellInvocation(%v) = %v, want %v", c.argv, got, c.want)
		}
	}
}

func TestExecutionArgvNeverDoubleWrapsAShellInvocation(t *testing.T) {
	s := &common.Span{Argv: []string{"bash", "-lc", "echo hi | grep hi"}}
	argv := executionArgv(s)
	if len(argv) != 3 || argv[0] != "bash" {
		t.Fatalf("expected original shell invocation preserved as-is, got %v", argv)
	}
}

func TestExecutionArgvWrapsMetacharacterCommandLines(t *testing.T) {
	s := &common.Span{Argv: []string{"echo", "hi", "|", "grep", "hi"}}
	argv := executionArgv(s)
	if len(argv) != 3 || argv[0] != "sh" || argv[1] != "-lc" {
		t.Fatalf("expected sh -lc wrap for metacharacter command line, got %v", argv)
	}
}

func TestExecutionArgvExecsPlainArgvDirectly(t *testing.T) {
	s := &common.Span{Argv: []string{"git", "status"}}
	argv := executionArgv(s)
	if len(argv) != 2 || argv[0] != "git" || argv[1] != "status" {
		t.Fatalf("expected plain argv preserved, got %v", argv)
	}
}

func TestReconstructEnvPreservesLocaleAndCoreVars(t *testing.T) {
	os.Setenv("LC_ALL", "en_US.UTF-8")
	defer os.Unsetenv("LC_ALL")
	os.Setenv("PATH", "/usr/bin")
	defer os.Unsetenv("PATH")

	env := reconstructEnv()
	if env["LC_ALL"] != "en_US.UTF-8" {
		t.Fatalf("expected LC_ALL preserved, got %q", env["LC_ALL"])
	}
	if env["PATH"] != "/usr/bin" {
		t.Fatalf("expected PATH preserved, got %q", env["PATH"])
	}
	if _, ok := env["SOME_RANDOM_VAR_NOT_PRESERVED"]; ok {
		t.Fatal("expected unrelated variables to be dropped")
	}
}
