package policy

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestFastCheckOnlyConsultsGlobalDenied(t *testing.T) {
	global := &Profile{CmdDenied: []string{"rm -rf /"}}
	b := New(global, Enforce)

	d := b.FastCheck([]string{"rm", "-rf", "/"})
	if d.Kind != Deny {
		t.Fatalf("expected deny, got %v", d)
	}

	d = b.FastCheck([]string{"git", "status"})
	if d.Kind != Allow {
		t.Fatalf("expected allow, got %v", d)
	}
}

// Spec §4.3: "In Observe mode... decisions are recorded but never block".
// Observe is also the default, so a fresh broker must run a cmd_denied
// match rather than block it.
func TestFastCheckObserveModeRecordsButNeverBlocks(t *testing.T) {
	global := &Profile{CmdDenied: []string{"rm -rf /"}}
	b := New(global, Observe)

	d := b.FastCheck([]string{"rm", "-rf", "/"})
	if d.Kind != Allow {
		t.Fatalf("expected observe mode to allow a would-be-denied command, got %v", d)
	}
}

func TestEvaluateObserveModeRecordsButNeverBlocks(t *testing.T) {
	global := &Profile{CmdDenied: []string{"curl"}}
	b := New(global, Observe)

	d := b.Evaluate([]string{"curl", "http://example.com"}, t.TempDir(), "")
	if d.Kind != Allow {
		t.Fatalf("expected observe mode to allow a would-be-denied command, got %v", d)
	}

	b.SetMode(Enforce)
	d = b.Evaluate([]string{"curl", "http://example.com"}, t.TempDir(), "")
	if d.Kind != Deny {
		t.Fatalf("expected enforce mode to block the same command, got %v", d)
	}
}

func TestFastCheckWithNilGlobalAllowsEverything(t *testing.T) {
	b := New(nil, Observe)
	if d := b.FastCheck([]string{"anything"}); d.Kind != Allow {
		t.Fatalf("expected allow with no global profile, got %v", d)
	}
}

func TestEvaluateDenyBeatsAllow(t *testing.T) {
	// Property 9: matching both cmd_denied and cmd_allowed is always Deny,
	// regardless of declaration order.
	global := &Profile{
		CmdDenied:  []string{"curl"},
		CmdAllowed: []string{"curl"},
	}
	b := New(global, Enforce)

	d := b.Evaluate([]string{"curl", "http://example.com"}, t.TempDir(), "")
	if d.Kind != Deny {
		t.Fatalf("expected deny to win over allow, got %v", d)
	}
}

func TestEvaluateAllowlistRejectsUnlisted(t *testing.T) {
	global := &Profile{CmdAllowed: []string{"git", "ls"}}
	b := New(global, Enforce)

	if d := b.Evaluate([]string{"git", "status"}, t.TempDir(), ""); d.Kind != Allow {
		t.Fatalf("expected git allowed, got %v", d)
	}
	if d := b.Evaluate([]string{"curl", "x"}, t.TempDir(), ""); d.Kind != Deny {
		t.Fatalf("expected curl denied by allowlist, got %v", d)
	}
}

func TestEvaluateIsolatedCarriesRestrictions(t *testing.T) {
	global := &Profile{
		CmdIsolated: []string{"npm"},
		WorldFS:     &WorldFS{Mode: "writable", Isolation: "workspace"},
	}
	b := New(global, Enforce)

	d := b.Evaluate([]string{"npm", "install"}, t.TempDir(), "")
	if d.Kind != AllowWithRestricted {
		t.Fatalf("expected allow_with_restrictions, got %v", d)
	}
	found := false
	for _, r := range d.Restrictions {
		if r.Kind == "IsolatedWorld" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected IsolatedWorld restriction, got %+v", d.Restrictions)
	}
}

func TestEvaluateDefaultsToAllow(t *testing.T) {
	b := New(&Profile{}, Observe)
	if d := b.Evaluate([]string{"echo", "hi"}, t.TempDir(), ""); d.Kind != Allow {
		t.Fatalf("expected default allow, got %v", d)
	}
}

func TestEvaluateWalksNearestProfileOverGlobal(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "project")
	if err := writeTestProfile(t, sub, &Profile{CmdDenied: []string{"make"}}); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	global := &Profile{CmdAllowed: []string{"make", "git"}}
	b := New(global, Enforce)

	d := b.Evaluate([]string{"make", "build"}, sub, "")
	if d.Kind != Deny {
		t.Fatalf("expected nearest-profile deny to win, got %v", d)
	}
}

func TestCacheInvalidation(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "project")
	if err := writeTestProfile(t, sub, &Profile{CmdDenied: []string{"make"}}); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	b := New(nil, Enforce)
	if d := b.Evaluate([]string{"make"}, sub, ""); d.Kind != Deny {
		t.Fatalf("expected deny before invalidation, got %v", d)
	}

	if err := writeTestProfile(t, sub, &Profile{}); err != nil {
		t.Fatalf("rewrite profile: %v", err)
	}
	b.Invalidate(sub)

	if d := b.Evaluate([]string{"make"}, sub, ""); d.Kind != Allow {
		t.Fatalf("expected allow after invalidation+reload, got %v", d)
	}
}

func writeTestProfile(t *testing.T, dir string, p *Profile) error {
	t.Helper()
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, profileFileName), data, 0640)
}
