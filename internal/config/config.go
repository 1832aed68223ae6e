// Package config loads the root Config for the dialog orchestration runtime
// from a YAML file plus environment overrides, following the viper+yaml
// pattern the rest of the ecosystem uses for Go services.
package config

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure, loaded by the CLI commands
// through Load.
type Config struct {
	Gateway   GatewayConfig          `mapstructure:"gateway" yaml:"gateway"`
	Log       LogConfig              `mapstructure:"log" yaml:"log"`
	Storage   StorageConfig          `mapstructure:"storage" yaml:"storage"`
	Diligence DiligenceConfig        `mapstructure:"diligence" yaml:"diligence"`
	Auth      AuthConfig             `mapstructure:"auth" yaml:"auth"`
	Agents    map[string]AgentConfig `mapstructure:"agents" yaml:"agents,omitempty"`
}

// GatewayConfig controls the control-protocol listener (§6).
type GatewayConfig struct {
	Port      int             `mapstructure:"port" yaml:"port"`
	Host      string          `mapstructure:"host" yaml:"host"`
	Mode      string          `mapstructure:"mode" yaml:"mode"` // "dev" or "prod"
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig bounds inbound connection/request rate on the gateway.
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// LogConfig configures the zerolog sink.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// StorageConfig points at the workspace root under which dialogs/ and
// artifacts/ live (§6 "On-disk layout").
type StorageConfig struct {
	WorkspaceRoot string `mapstructure:"workspace_root" yaml:"workspace_root"`
}

// DiligenceConfig configures the Diligence Push auto-continue budget (§4.10).
type DiligenceConfig struct {
	// MaxBudget is the configured maximum diligencePushRemainingBudget. When
	// <= 0, push is implicitly disabled for roots that don't override it.
	MaxBudget int `mapstructure:"max_budget" yaml:"max_budget"`
	// RefillInterval, when nonzero, schedules a periodic refill of every
	// enabled root's budget in addition to the event-triggered refill.
	RefillInterval time.Duration `mapstructure:"refill_interval" yaml:"refill_interval"`
}

// AuthConfig configures the bearer-token gate in front of the gateway.
type AuthConfig struct {
	Key string `mapstructure:"key" yaml:"key"`
}

// AgentConfig is the opaque per-agent entry point the core consults for a
// name, tool set, and fresh-boots-reasoning default effort. Its contents
// beyond what the core needs (prompt text, provider selection, …) are
// supplied and interpreted by the external collaborator that builds the
// agent's system prompt — the core only needs these fields.
type AgentConfig struct {
	Name             string   `mapstructure:"name" yaml:"name"`
	Model            string   `mapstructure:"model" yaml:"model,omitempty"`
	Tools            []string `mapstructure:"tools" yaml:"tools,omitempty"`
	DefaultFBREffort string   `mapstructure:"default_fbr_effort" yaml:"default_fbr_effort,omitempty"`
	DisableDiligence bool     `mapstructure:"disable_diligence" yaml:"disable_diligence,omitempty"`
	MaxDiligenceBudget int    `mapstructure:"max_diligence_budget" yaml:"max_diligence_budget,omitempty"`
}

var (
	mu           sync.RWMutex
	globalConfig *Config
	configPath   string
)

// SetDefaults installs viper defaults for every config key.
func SetDefaults() {
	viper.SetDefault("gateway.port", 18788)
	viper.SetDefault("gateway.host", "127.0.0.1")
	viper.SetDefault("gateway.mode", "dev")
	viper.SetDefault("gateway.rate_limit.enabled", true)
	viper.SetDefault("gateway.rate_limit.requests_per_minute", 120)
	viper.SetDefault("gateway.rate_limit.burst", 20)
	viper.SetDefault("gateway.rate_limit.cleanup_interval", 5*time.Minute)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")

	viper.SetDefault("storage.workspace_root", "")

	viper.SetDefault("diligence.max_budget", 0)
	viper.SetDefault("diligence.refill_interval", 0)

	viper.SetDefault("auth.key", "")
}

// Load reads config from path (if non-empty and present) with DOMINDS_*
// environment overrides layered on top, and returns the populated Config.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	viper.SetEnvPrefix("DOMINDS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expandedPath

		viper.SetConfigFile(expandedPath)
		if err := viper.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) && !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigParseError); ok {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the most recently Load-ed config, or nil if none has
// been loaded yet.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Reset clears the global config and underlying viper state. Used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	configPath = ""
	viper.Reset()
}

// SetTestConfig installs cfg as the global config directly, bypassing Load.
// Used by tests that want a known-good Config without touching disk.
func SetTestConfig(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = cfg
}
