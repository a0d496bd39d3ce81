// Package policy implements the centralized allow/deny/restrict broker
// (spec §4.3). It is consulted synchronously by both the interception shim
// (fast check) and the shell orchestrator (full evaluation), backed by a
// cached, optionally hot-reloaded table of layered profiles.
//
// Grounded in internal/orchestrator/config.go's precedence-resolution
// pattern and internal/agent/permissions.go's RWMutex-guarded rule cache.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/ehrlich-b/substrate/internal/logger"
)

// Mode selects whether denials actually block (spec §4.3).
type Mode int

const (
	Observe Mode = iota
	Enforce
)

// DecisionKind is the outcome of an evaluation.
type DecisionKind string

const (
	Allow               DecisionKind = "allow"
	AllowWithRestricted DecisionKind = "allow_with_restrictions"
	Deny                DecisionKind = "deny"
)

// Restriction is a tagged value carried by an AllowWithRestrictions
// decision (spec §3 Decision).
type Restriction struct {
	Kind  string // IsolatedWorld | OverlayFS | NetworkFilter | ResourceLimit
	Value string
}

// Decision is the broker's output for one command evaluation.
type Decision struct {
	Kind         DecisionKind
	Reason       string
	Restrictions []Restriction
}

func (d Decision) String() string {
	if d.Reason == "" {
		return string(d.Kind)
	}
	return fmt.Sprintf("%s: %s", d.Kind, d.Reason)
}

const maxWalkDepth = 10
const profileFileName = ".substrate-profile"

// Broker is the process-wide singleton evaluator. The zero value is not
// usable; construct with New.
type Broker struct {
	mu      sync.RWMutex
	mode    Mode
	global  *Profile
	cache   map[string]*cachedChain // keyed by cwd
	watcher *profileWatcher
}

type cachedChain struct {
	profiles []*Profile // nearest-first
	files    []fileStamp
}

type fileStamp struct {
	path    string
	modTime int64
	size    int64
}

// New constructs a broker with the given global profile (may be nil) and
// mode. Default mode is Observe unless the embedder explicitly switches
// (spec §4.3).
func New(global *Profile, mode Mode) *Broker {
	return &Broker{
		mode:   mode,
		global: global,
		cache:  make(map[string]*cachedChain),
	}
}

// SetMode switches between Observe and Enforce.
func (b *Broker) SetMode(m Mode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = m
}

// Mode returns the broker's current mode.
func (b *Broker) Mode() Mode {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mode
}

// FastCheck is the shim's hot-path evaluation (spec §4.3): argv only,
// consults only cmd_denied from the already-loaded global profile, no file
// I/O. Sub-millisecond by construction — no locking beyond an RLock over an
// in-memory slice.
func (b *Broker) FastCheck(argv []string) Decision {
	b.mu.RLock()
	global := b.global
	mode := b.mode
	b.mu.RUnlock()
	if global == nil {
		return Decision{Kind: Allow}
	}
	if pattern, ok := matchAny(global.CmdDenied, argv); ok {
		return b.gate(Decision{Kind: Deny, Reason: "matched cmd_denied: " + pattern}, mode)
	}
	return Decision{Kind: Allow}
}

// Evaluate is the shell orchestrator's full evaluation (spec §4.3): argv,
// cwd, and an optional agent id. Walks upward from cwd for the nearest
// profile, layers it over the global profile, and evaluates in order:
// denied -> allowed -> isolated -> default.
func (b *Broker) Evaluate(argv []string, cwd, agentID string) Decision {
	chain := b.profileChainFor(cwd)
	b.mu.RLock()
	mode := b.mode
	b.mu.RUnlock()

	// Property 9: a command matching both cmd_denied and cmd_allowed is
	// Deny, regardless of declaration order, so check denial across the
	// whole stack first.
	for _, p := range chain {
		if pattern, ok := matchAny(p.CmdDenied, argv); ok {
			return b.gate(Decision{Kind: Deny, Reason: "matched cmd_denied: " + pattern}, mode)
		}
	}

	for _, p := range chain {
		if len(p.CmdAllowed) > 0 {
			if _, ok := matchAny(p.CmdAllowed, argv); !ok {
				return b.gate(Decision{Kind: Deny, Reason: "not present in cmd_allowed"}, mode)
			}
		}
	}

	for _, p := range chain {
		if pattern, ok := matchAny(p.CmdIsolated, argv); ok {
			restrictions := []Restriction{{Kind: "IsolatedWorld"}}
			restrictions = append(restrictions, p.worldRestrictions()...)
			return Decision{
				Kind:         AllowWithRestricted,
				Reason:       "matched cmd_isolated: " + pattern,
				Restrictions: restrictions,
			}
		}
	}

	return Decision{Kind: Allow}
}

// gate implements spec §4.3's Observe/Enforce split: "In Observe mode...
// decisions are recorded but never block; in Enforce mode, Deny decisions
// actually prevent execution." Every Deny decision is logged regardless of
// mode; in Observe it is then downgraded to Allow so the caller runs the
// command, carrying the original reason forward for visibility.
func (b *Broker) gate(d Decision, mode Mode) Decision {
	if d.Kind != Deny {
		return d
	}
	b.logDecision(d)
	if mode == Enforce {
		return d
	}
	return Decision{Kind: Allow, Reason: "observed (not enforced): " + d.Reason}
}

// profileChainFor returns nearest-first profiles: the result of walking up
// from cwd (bounded at maxWalkDepth or the home root) followed by the
// global profile, matching spec §3's "Profiles stack" description.
func (b *Broker) profileChainFor(cwd string) []*Profile {
	b.mu.RLock()
	if entry, ok := b.cache[cwd]; ok && !b.staleLocked(entry) {
		chain := entry.profiles
		b.mu.RUnlock()
		return chain
	}
	b.mu.RUnlock()

	chain, stamps := b.loadChain(cwd)

	b.mu.Lock()
	b.cache[cwd] = &cachedChain{profiles: chain, files: stamps}
	b.mu.Unlock()
	return chain
}

func (b *Broker) staleLocked(entry *cachedChain) bool {
	for _, fs := range entry.files {
		modTime, size, ok := statProfile(fs.path)
		if !ok || modTime != fs.modTime || size != fs.size {
			return true
		}
	}
	return false
}

func (b *Broker) loadChain(cwd string) ([]*Profile, []fileStamp) {
	var chain []*Profile
	var stamps []fileStamp

	home, _ := os.UserHomeDir()
	dir := cwd
	for depth := 0; depth < maxWalkDepth; depth++ {
		path := filepath.Join(dir, profileFileName)
		if p, modTime, size, ok := loadProfileFile(path); ok {
			chain = append(chain, p)
			stamps = append(stamps, fileStamp{path: path, modTime: modTime, size: size})
		}
		if home != "" && dir == home {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	b.mu.RLock()
	global := b.global
	watcher := b.watcher
	b.mu.RUnlock()
	if watcher != nil {
		for _, s := range stamps {
			watcher.watch(filepath.Dir(s.path))
		}
	}
	if global != nil {
		chain = append(chain, global)
	}
	return chain, stamps
}

// matchAny reports whether any pattern in patterns matches the command
// formed by argv (pattern compared against the space-joined argv, so a
// pattern like "rm -rf /" matches the literal invocation it names).
func matchAny(patterns []string, argv []string) (string, bool) {
	if len(patterns) == 0 {
		return "", false
	}
	cmdline := strings.Join(argv, " ")
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if matched, err := matchPattern(pattern, cmdline, argv); err == nil && matched {
			return pattern, true
		}
	}
	return "", false
}

func matchPattern(pattern, cmdline string, argv []string) (bool, error) {
	if len(argv) > 0 && pattern == argv[0] {
		return true, nil
	}
	if strings.Contains(pattern, "*") || strings.Contains(pattern, "?") {
		re, err := globToRegexp(pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(cmdline), nil
	}
	return cmdline == pattern || strings.HasPrefix(cmdline, pattern+" "), nil
}

func globToRegexp(glob string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// Invalidate drops any cached chain for cwd, forcing a reload on next
// evaluation. Called by the fsnotify watcher on a detected profile change.
func (b *Broker) Invalidate(cwd string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cache, cwd)
}

// InvalidateAll drops the entire cache, used when the global profile file
// itself changes.
func (b *Broker) InvalidateAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache = make(map[string]*cachedChain)
}

// SetGlobal replaces the global profile (e.g. after a hot reload).
func (b *Broker) SetGlobal(p *Profile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = p
	b.cache = make(map[string]*cachedChain)
}

func (b *Broker) logDecision(d Decision) {
	logger.Warn("policy: decision", "kind", d.Kind, "reason", d.Reason)
}
