// Package config loads project configuration from .laneway/config.yaml.
// Every key has a sensible default; a repo with no config file gets a
// working setup with a single default lane.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/steveyegge/laneway/internal/lifecycle"
	"github.com/steveyegge/laneway/internal/types"
	"github.com/steveyegge/laneway/internal/wstate"
)

// DefaultWIPLimit applies to lanes declared without an explicit limit and
// to WUs referencing an undeclared lane.
const DefaultWIPLimit = 2

// Config is the resolved project configuration.
type Config struct {
	Remote string
	Trunk  string

	Lanes map[string]types.Lane

	Retry lifecycle.RetryPolicy

	// MetadataAllowlist extends the staged-file allowlist for completion
	// commits; DocsAllowlist is the docs-only variant.
	MetadataAllowlist []string
	DocsAllowlist     []string

	// StrictGateScripts promotes missing gate scripts to hard failures.
	StrictGateScripts bool

	// DefaultMode is the claimed mode used when a claim does not specify
	// one.
	DefaultMode types.ClaimedMode

	// RegistryEndpoint is the agent-pattern registry URL; empty disables
	// lookups. RegistryTimeout bounds each request.
	RegistryEndpoint string
	RegistryTimeout  time.Duration
}

// Path returns the config file location for a repo root.
func Path(repoRoot string) string {
	return filepath.Join(repoRoot, wstate.StateDirName, "config.yaml")
}

// Load reads the project config, applying defaults for anything unset.
// A missing file is not an error. Environment variables prefixed LW_
// override file values (LW_REMOTE, LW_TRUNK, ...).
func Load(repoRoot string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(Path(repoRoot))
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LW")
	v.AutomaticEnv()

	v.SetDefault("remote", "origin")
	v.SetDefault("trunk", "main")
	v.SetDefault("retry.enabled", true)
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.min_delay", "500ms")
	v.SetDefault("retry.max_delay", "8s")
	v.SetDefault("retry.jitter", true)
	v.SetDefault("gates.strict_scripts", false)
	v.SetDefault("default_mode", string(types.ModeDirect))
	v.SetDefault("registry.timeout", "3s")
	v.SetDefault("docs_allowlist", []string{"docs/", "doc/", "README.md", "CHANGELOG.md", ".md"})

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(Path(repoRoot)); statErr == nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file; defaults apply.
	}

	cfg := &Config{
		Remote: v.GetString("remote"),
		Trunk:  v.GetString("trunk"),
		Retry: lifecycle.RetryPolicy{
			Enabled:     v.GetBool("retry.enabled"),
			MaxAttempts: v.GetInt("retry.max_attempts"),
			MinDelay:    v.GetDuration("retry.min_delay"),
			MaxDelay:    v.GetDuration("retry.max_delay"),
			Jitter:      v.GetBool("retry.jitter"),
		},
		MetadataAllowlist: v.GetStringSlice("metadata_allowlist"),
		DocsAllowlist:     v.GetStringSlice("docs_allowlist"),
		StrictGateScripts: v.GetBool("gates.strict_scripts"),
		RegistryEndpoint:  v.GetString("registry.endpoint"),
		RegistryTimeout:   v.GetDuration("registry.timeout"),
		Lanes:             make(map[string]types.Lane),
	}

	mode, err := types.ParseClaimedMode(v.GetString("default_mode"))
	if err != nil {
		return nil, err
	}
	cfg.DefaultMode = mode

	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry.max_attempts must be at least 1, got %d", cfg.Retry.MaxAttempts)
	}

	if err := parseLanes(v, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseLanes(v *viper.Viper, cfg *Config) error {
	raw := v.Get("lanes")
	if raw == nil {
		return nil
	}
	lanes, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("lanes must be a map of lane name to settings, got %T", raw)
	}
	for name, settings := range lanes {
		lane := types.Lane{Name: name, WIPLimit: DefaultWIPLimit}
		if m, ok := settings.(map[string]any); ok {
			if limit, ok := toInt(m["wip_limit"]); ok {
				if limit < 1 {
					return fmt.Errorf("lanes.%s.wip_limit must be at least 1, got %d", name, limit)
				}
				lane.WIPLimit = limit
			}
			if locked, ok := m["locked"].(bool); ok {
				lane.Locked = locked
			}
		}
		cfg.Lanes[name] = lane
	}
	return nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// Lane resolves a lane's settings, falling back to defaults for lanes the
// config never declared.
func (c *Config) Lane(name string) types.Lane {
	if lane, ok := c.Lanes[name]; ok {
		return lane
	}
	return types.Lane{Name: name, WIPLimit: DefaultWIPLimit}
}
