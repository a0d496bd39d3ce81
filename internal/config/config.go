package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/substrate/internal/common"
	"github.com/ehrlich-b/substrate/internal/logger"
)

// PolicyMode is the default broker mode applied when a profile doesn't say
// otherwise (spec §3).
type PolicyMode string

const (
	ModeObserve PolicyMode = "observe"
	ModeEnforce PolicyMode = "enforce"
)

// Config is Substrate's process-wide configuration, loaded once at
// startup by the shell orchestrator and the world agent. Grounded in the
// teacher's internal/config.WingConfig: same not-exist-is-ok load, same
// YAML persistence shape, same pattern of filling a partial file over
// compiled defaults. Field set is generalized from relay/passkey settings
// to Substrate's trace/world/policy settings (SPEC_FULL.md Configuration).
type Config struct {
	TracePath   string     `yaml:"trace_path"`
	TraceMaxMB  int        `yaml:"trace_log_max_mb"`
	TraceKeep   int        `yaml:"trace_log_keep"`
	AgentSocket string     `yaml:"agent_socket"`
	OverlayRoot string     `yaml:"overlay_root"`
	CgroupRoot  string     `yaml:"cgroup_root"`
	DefaultMode PolicyMode `yaml:"default_mode"`
	GCInterval  Duration   `yaml:"gc_interval"`
	GCTTL       Duration   `yaml:"gc_ttl"`
	LogLevel    string     `yaml:"log_level"`
}

// Duration wraps time.Duration with YAML marshaling as a Go duration
// string ("10m"), matching the teacher's config fields that round-trip
// through plain strings rather than nanosecond integers.
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the compiled-in configuration (spec §6/§9 defaults).
func Default() Config {
	trace, _ := TracePath()
	return Config{
		TracePath:   trace,
		TraceMaxMB:  100,
		TraceKeep:   3,
		AgentSocket: SocketPath(),
		OverlayRoot: OverlayRoot,
		CgroupRoot:  CgroupRoot,
		DefaultMode: ModeObserve,
		GCInterval:  Duration(10 * time.Minute),
		GCTTL:       Duration(30 * time.Minute),
		LogLevel:    "info",
	}
}

// Load reads ~/.substrate/config.yaml over the compiled defaults,
// following the teacher's LoadWingConfig shape: a missing file is not an
// error, and any field absent from the file keeps its default. Every
// field is then subject to an environment variable override, so the
// effective precedence is env > file > default (SPEC_FULL.md
// Configuration).
func Load() (Config, error) {
	cfg := Default()

	home, err := HomeDir()
	if err != nil {
		return cfg, err
	}
	path := home + "/config.yaml"

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Save persists cfg to ~/.substrate/config.yaml, creating the parent
// directory if needed.
func Save(cfg Config) error {
	if err := EnsureDirs(); err != nil {
		return err
	}
	home, err := HomeDir()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(home+"/config.yaml", data, 0640)
}

// applyEnvOverrides layers SUBSTRATE_* environment variables over cfg,
// the top tier of the env > file > default precedence.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(common.EnvTracePath); v != "" {
		cfg.TracePath = v
	}
	if v := os.Getenv(common.EnvTraceMaxMB); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TraceMaxMB = n
		} else {
			logger.Warn("config: invalid "+common.EnvTraceMaxMB, "value", v)
		}
	}
	if v := os.Getenv(common.EnvTraceKeep); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TraceKeep = n
		} else {
			logger.Warn("config: invalid "+common.EnvTraceKeep, "value", v)
		}
	}
	if v := os.Getenv("SUBSTRATE_AGENT_SOCKET"); v != "" {
		cfg.AgentSocket = v
	}
	if v := os.Getenv("SUBSTRATE_OVERLAY_ROOT"); v != "" {
		cfg.OverlayRoot = v
	}
	if v := os.Getenv("SUBSTRATE_CGROUP_ROOT"); v != "" {
		cfg.CgroupRoot = v
	}
	if v := os.Getenv("SUBSTRATE_MODE"); v != "" {
		cfg.DefaultMode = PolicyMode(v)
	}
	if v := os.Getenv("SUBSTRATE_GC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.GCInterval = Duration(d)
		} else {
			logger.Warn("config: invalid SUBSTRATE_GC_INTERVAL", "value", v)
		}
	}
	if v := os.Getenv("SUBSTRATE_GC_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.GCTTL = Duration(d)
		} else {
			logger.Warn("config: invalid SUBSTRATE_GC_TTL", "value", v)
		}
	}
	if v := os.Getenv("SUBSTRATE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
