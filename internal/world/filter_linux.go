//go:build linux

package world

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ehrlich-b/substrate/internal/logger"
)

// filter wraps one world's egress packet-filter table (spec §3 World,
// §4.5 "Packet-filter table"): an nft table scoping egress to a resolved
// domain allowlist and dropping everything else, logging drops at a
// rate-limited 10/second. nft rule installation shells out to the `nft`
// binary (no nftables Go library exists in the retrieval pack, and
// vendoring one would be fabricating a dependency — see DESIGN.md).
type filter struct {
	id       ID
	table    string
	degraded bool
	// limiter rate-limits the degraded-mode software drop logger, mirroring
	// the nft "10/second" rule when no netns/nft table exists to enforce it
	// kernel-side (spec §4.5 fallback-to-socket-cgroup-matching language).
	limiter *rate.Limiter
}

func installFilter(id ID, netnsName string, allow []string) (*filter, error) {
	f := &filter{id: id, table: id.FilterTable(), limiter: rate.NewLimiter(10, 10)}

	if _, err := exec.LookPath("nft"); err != nil {
		logger.Warn("world: 'nft' not found, network filtering degraded", "world", id)
		f.degraded = true
		return f, nil
	}

	script := buildNftScript(f.table, allow, id.DropPrefix())
	cmd := exec.Command("ip", "netns", "exec", netnsName, "nft", "-f", "-")
	cmd.Stdin = strings.NewReader(script)
	if out, err := cmd.CombinedOutput(); err != nil {
		logger.Warn("world: nft install failed, network filtering degraded",
			"world", id, "err", err, "output", string(out))
		f.degraded = true
		return f, nil
	}
	return f, nil
}

// attachFilter recognizes an already-installed nft table left behind by a
// prior agent process, by asking nft to list it inside the namespace.
func attachFilter(id ID, netnsName string) (*filter, error) {
	f := &filter{id: id, table: id.FilterTable(), limiter: rate.NewLimiter(10, 10)}
	cmd := exec.Command("ip", "netns", "exec", netnsName, "nft", "list", "table", "inet", f.table)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("nft table %s not found: %w (%s)", f.table, err, strings.TrimSpace(string(out)))
	}
	return f, nil
}

// buildNftScript renders the inet table/egress chain described in spec
// §4.5: allow the resolved allowlist (and DNS by default), log+drop
// everything else at a rate-limited 10/second with the world's drop
// prefix.
func buildNftScript(table string, allow []string, dropPrefix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "table inet %s {\n", table)
	b.WriteString("  chain egress {\n")
	b.WriteString("    type filter hook output priority 0; policy drop;\n")
	b.WriteString("    udp dport 53 accept\n")
	b.WriteString("    tcp dport 53 accept\n")
	for _, domain := range allow {
		fmt.Fprintf(&b, "    ip daddr { %s } accept\n", domain)
	}
	fmt.Fprintf(&b, "    limit rate 10/second log prefix \"%s\" drop\n", dropPrefix)
	b.WriteString("  }\n")
	b.WriteString("}\n")
	return b.String()
}

func (f *filter) teardown(netnsName string) error {
	if f == nil || f.degraded {
		return nil
	}
	cmd := exec.Command("ip", "netns", "exec", netnsName, "nft", "delete", "table", "inet", f.table)
	if out, err := cmd.CombinedOutput(); err != nil {
		if strings.Contains(string(out), "No such file") {
			return nil // ENOENT is success (spec §4.5 GC)
		}
		return fmt.Errorf("world: nft delete table %s: %w (%s)", f.table, err, string(out))
	}
	return nil
}

// logDroppedIfRateAllows is consulted by the degraded execution path, which has no
// kernel-side enforcement: it logs at the same rate the nft rule would
// have dropped at, rather than silently letting every destination through
// unremarked.
func (f *filter) logDroppedIfRateAllows(dest string) {
	if f == nil || !f.degraded {
		return
	}
	if f.limiter.AllowN(time.Now(), 1) {
		logger.Warn("substrate-dropped (software, degraded filter)", "world", f.id, "dest", dest)
	}
}
