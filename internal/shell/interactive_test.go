package shell

import "testing"

func TestWantsPTYRespectsExplicitFlags(t *testing.T) {
	if wantsPTY([]string{"vim"}, false, true) {
		t.Fatal("forceNoPTY must win over a recognized interactive command")
	}
	if !wantsPTY([]string{"echo"}, true, false) {
		t.Fatal("forcePTY must win over a non-interactive command")
	}
}

func TestWantsPTYRecognizesInteractiveCommands(t *testing.T) {
	for _, cmd := range []string{"vim", "less", "bash", "ssh", "tmux"} {
		if !wantsPTY([]string{cmd}, false, false) {
			t.Errorf("expected %q to want a PTY", cmd)
		}
	}
	if wantsPTY([]string{"git", "status"}, false, false) {
		t.Fatal("expected git status not to want a PTY")
	}
}

func TestWantsPTYRecognizesDockerRunInteractive(t *testing.T) {
	if !wantsPTY([]string{"docker", "run", "-it", "alpine"}, false, false) {
		t.Fatal("expected docker run -it to want a PTY")
	}
	if !wantsPTY([]string{"docker", "run", "-ti", "alpine"}, false, false) {
		t.Fatal("expected docker run -ti to want a PTY")
	}
	if wantsPTY([]string{"docker", "run", "alpine"}, false, false) {
		t.Fatal("expected plain docker run not to want a PTY")
	}
	if wantsPTY([]string{"docker", "ps"}, false, false) {
		t.Fatal("expected docker ps not to want a PTY")
	}
}

func TestWantsPTYEmptyArgv(t *testing.T) {
	if wantsPTY(nil, false, false) {
		t.Fatal("expected empty argv not to want a PTY")
	}
}
