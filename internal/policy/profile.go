package policy

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// WorldFS is the optional world_fs settings block (spec §3 Policy).
type WorldFS struct {
	Mode      string `yaml:"mode,omitempty"`      // writable | read_only
	Isolation string `yaml:"isolation,omitempty"` // workspace | full
}

// Profile is one layer of the policy document (spec §3 Policy). Profiles
// stack: process-wide default, global user file, nearest .substrate-profile
// found walking up from cwd.
type Profile struct {
	CmdDenied   []string `yaml:"cmd_denied,omitempty"`
	CmdAllowed  []string `yaml:"cmd_allowed,omitempty"`
	CmdIsolated []string `yaml:"cmd_isolated,omitempty"`

	ReadAllowlist  AllowEntries `yaml:"read_allowlist,omitempty"`
	WriteAllowlist AllowEntries `yaml:"write_allowlist,omitempty"`
	NetworkAllow   AllowEntries `yaml:"network_allow,omitempty"`

	WorldFS *WorldFS `yaml:"world_fs,omitempty"`

	// ResourceLimitMB caps a matched command's world at this much resident
	// memory via cgroup v2 memory.max (spec §3 Decision "ResourceLimit"
	// restriction). Zero means unlimited.
	ResourceLimitMB int `yaml:"resource_limit_mb,omitempty"`
}

func (p *Profile) worldRestrictions() []Restriction {
	var out []Restriction
	if p.WorldFS != nil {
		out = append(out, Restriction{Kind: "OverlayFS", Value: p.WorldFS.Mode + "/" + p.WorldFS.Isolation})
	}
	for _, n := range p.NetworkAllow {
		out = append(out, Restriction{Kind: "NetworkFilter", Value: n.Pattern})
	}
	if p.ResourceLimitMB > 0 {
		out = append(out, Restriction{Kind: "ResourceLimit", Value: strconv.Itoa(p.ResourceLimitMB)})
	}
	return out
}

// AllowEntry is one allowlist entry. It may appear in YAML as a bare
// string or as a {pattern, reason} mapping, mirroring the teacher's
// PathList custom (Un)MarshalYAML pattern in internal/config/wing.go.
type AllowEntry struct {
	Pattern string `yaml:"pattern"`
	Reason  string `yaml:"reason,omitempty"`
}

// AllowEntries is a sequence of AllowEntry supporting the mixed
// scalar/mapping form above.
type AllowEntries []AllowEntry

func (a *AllowEntries) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return nil
	}
	var out AllowEntries
	for _, item := range value.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, AllowEntry{Pattern: item.Value})
		case yaml.MappingNode:
			var e AllowEntry
			if err := item.Decode(&e); err != nil {
				return err
			}
			out = append(out, e)
		}
	}
	*a = out
	return nil
}

func (a AllowEntries) MarshalYAML() (interface{}, error) {
	out := make([]interface{}, len(a))
	for i, e := range a {
		if e.Reason == "" {
			out[i] = e.Pattern
		} else {
			out[i] = e
		}
	}
	return out, nil
}

// LoadProfile reads and parses a profile YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// loadProfileFile loads a profile and its mtime/size stamp, returning ok=false
// if the file does not exist or fails to parse.
func loadProfileFile(path string) (p *Profile, modTime int64, size int64, ok bool) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, 0, false
	}
	profile, err := LoadProfile(path)
	if err != nil {
		return nil, 0, 0, false
	}
	return profile, info.ModTime().UnixNano(), info.Size(), true
}

// statProfile reports the current mtime/size of a profile file, used by the
// cache-staleness check.
func statProfile(path string) (modTime int64, size int64, ok bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, false
	}
	return info.ModTime().UnixNano(), info.Size(), true
}
