// Package config provides configuration loading, validation, and management
// for the meta-workflow engine. It handles JSON config files, environment
// variable substitution, and the static model pricing registry.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"metaflow/pkg/tier"
)

// Config file constants.
const (
	ConfigFilename = "config.json"
	ConfigDir      = ".metaflow"
	SchemaVersion  = "1.0"
)

// TierModels maps each capability tier to a concrete model name.
type TierModels struct {
	Cheap   string `json:"cheap"`
	Capable string `json:"capable"`
	Premium string `json:"premium"`
}

// BudgetConfig holds run-level spending limits.
type BudgetConfig struct {
	DefaultCeilingUSD float64 `json:"default_ceiling_usd"` // 0 means no ceiling
}

// ExecutorConfig holds worker pool and attempt settings.
type ExecutorConfig struct {
	Workers           int `json:"workers"`             // Concurrent agent executions (default: 4)
	RequestTimeoutSec int `json:"request_timeout_sec"` // Per-attempt LLM timeout (default: 120)
}

// FormModeInteractive asks the user, FormModeDefaults fills silently,
// FormModeStrict fails on any unanswered required question.
const (
	FormModeInteractive = "interactive"
	FormModeDefaults    = "defaults"
	FormModeStrict      = "strict"
)

// FormsConfig controls socratic form collection behavior.
type FormsConfig struct {
	Mode string `json:"mode"` // interactive, defaults, or strict
}

// LearnerConfig controls the pattern learner and its query index.
type LearnerConfig struct {
	Enabled  bool   `json:"enabled"`
	IndexDir string `json:"index_dir,omitempty"` // Bleve index location (default: {data_dir}/insights.bleve)
}

// MetricsConfig controls Prometheus instrumentation.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"` // Metric name prefix (default: metaflow)
}

// Config represents the engine-wide configuration.
type Config struct {
	SchemaVersion string         `json:"schema_version"`
	DataDir       string         `json:"data_dir"`               // Run log, index DB, insights (default: .metaflow)
	TemplateDir   string         `json:"template_dir,omitempty"` // User template overlay directory
	Tiers         TierModels     `json:"tiers"`
	Budget        BudgetConfig   `json:"budget"`
	Executor      ExecutorConfig `json:"executor"`
	Forms         FormsConfig    `json:"forms"`
	Learner       LearnerConfig  `json:"learner"`
	Metrics       MetricsConfig  `json:"metrics"`
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{SchemaVersion: SchemaVersion}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig loads and validates configuration from a JSON file with
// environment variable substitution.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Replace environment variable placeholders.
	dataStr := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		envVar := match[2 : len(match)-1] // Remove ${ and }
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match // Return original if env var not found
	})

	var cfg Config
	if err := json.Unmarshal([]byte(dataStr), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SchemaVersion
	}
	if cfg.DataDir == "" {
		cfg.DataDir = ConfigDir
	}
	if cfg.Tiers.Cheap == "" {
		cfg.Tiers.Cheap = "claude-3-5-haiku-20241022"
	}
	if cfg.Tiers.Capable == "" {
		cfg.Tiers.Capable = "claude-sonnet-4-5"
	}
	if cfg.Tiers.Premium == "" {
		cfg.Tiers.Premium = "claude-opus-4-5"
	}
	if cfg.Executor.Workers == 0 {
		cfg.Executor.Workers = 4
	}
	if cfg.Executor.RequestTimeoutSec == 0 {
		cfg.Executor.RequestTimeoutSec = 120
	}
	if cfg.Forms.Mode == "" {
		cfg.Forms.Mode = FormModeDefaults
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "metaflow"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema version %q (want %q)", cfg.SchemaVersion, SchemaVersion)
	}

	for _, m := range []struct {
		tier  tier.Tier
		model string
	}{
		{tier.Cheap, cfg.Tiers.Cheap},
		{tier.Capable, cfg.Tiers.Capable},
		{tier.Premium, cfg.Tiers.Premium},
	} {
		if _, err := GetModelProvider(m.model); err != nil {
			return fmt.Errorf("tier %s: %w", m.tier, err)
		}
	}

	if cfg.Executor.Workers < 1 {
		return fmt.Errorf("executor workers must be >= 1, got %d", cfg.Executor.Workers)
	}
	if cfg.Budget.DefaultCeilingUSD < 0 {
		return fmt.Errorf("budget ceiling must be >= 0, got %f", cfg.Budget.DefaultCeilingUSD)
	}

	switch cfg.Forms.Mode {
	case FormModeInteractive, FormModeDefaults, FormModeStrict:
	default:
		return fmt.Errorf("unknown forms mode %q", cfg.Forms.Mode)
	}

	return nil
}

// ModelForTier resolves the configured model name for a tier.
func (c *Config) ModelForTier(t tier.Tier) (string, error) {
	switch t {
	case tier.Cheap:
		return c.Tiers.Cheap, nil
	case tier.Capable:
		return c.Tiers.Capable, nil
	case tier.Premium:
		return c.Tiers.Premium, nil
	default:
		return "", fmt.Errorf("unknown tier %q", t)
	}
}
