//go:build linux

package world

import (
	"strings"
	"testing"
)

func TestBuildNftScript(t *testing.T) {
	script := buildNftScript("substrate_wld_1", []string{"1.2.3.4"}, "substrate-dropped-wld_1:")
	for _, want := range []string{
		"table inet substrate_wld_1",
		"udp dport 53 accept",
		"ip daddr { 1.2.3.4 } accept",
		`limit rate 10/second log prefix "substrate-dropped-wld_1:" drop`,
	} {
		if !strings.Contains(script, want) {
			t.Errorf("buildNftScript output missing %q:\n%s", want, script)
		}
	}
}
