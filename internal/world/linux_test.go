//go:build linux

package world

import "testing"

func TestHostFromURLArg(t *testing.T) {
	cases := []struct {
		arg      string
		wantHost string
		wantOK   bool
	}{
		{"https://example.com/path", "example.com", true},
		{"http://example.com:8080/x", "example.com", true},
		{"https://example.com?q=1", "example.com", true},
		{"https://example.com#frag", "example.com", true},
		{"git", "", false},
		{"https://", "", false},
	}
	for _, c := range cases {
		host, ok := hostFromURLArg(c.arg)
		if ok != c.wantOK || host != c.wantHost {
			t.Errorf("hostFromURLArg(%q) = (%q, %v), want (%q, %v)", c.arg, host, ok, c.wantHost, c.wantOK)
		}
	}
}

func TestHostAllowed(t *testing.T) {
	allow := []string{"example.com", "api.internal"}
	if !hostAllowed("example.com", allow) {
		t.Error("expected exact match allowed")
	}
	if !hostAllowed("sub.example.com", allow) {
		t.Error("expected subdomain allowed")
	}
	if hostAllowed("evil.com", allow) {
		t.Error("expected unlisted host denied")
	}
	if hostAllowed("notexample.com", allow) {
		t.Error("expected lookalike suffix without dot boundary denied")
	}
}

func TestLogDegradedEgressSkipsWhenNotDegradedOrNoAllowlist(t *testing.T) {
	w := &linuxWorld{spec: SessionSpec{NetworkAllow: nil}, flt: &filter{degraded: true}}
	w.logDegradedEgress([]string{"curl", "https://evil.com"}) // no allowlist: nothing to flag, must not panic

	w2 := &linuxWorld{spec: SessionSpec{NetworkAllow: []string{"example.com"}}, flt: &filter{degraded: false}}
	w2.logDegradedEgress([]string{"curl", "https://evil.com"}) // kernel-enforced: advisory logger stays quiet
}
