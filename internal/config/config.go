package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"scanforge/internal/logging"
	"scanforge/internal/types"

	"gopkg.in/yaml.v3"
)

// Config holds all scanforge configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Semantic extraction collaborator
	Extraction ExtractionConfig `yaml:"extraction"`

	// Self-correction loop
	Correction CorrectionConfig `yaml:"correction"`

	// Static checks on generated code
	Validation ValidationConfig `yaml:"validation"`

	// Generated artifact shape
	Render RenderConfig `yaml:"render"`

	// Extraction cache and transformation history
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// BackendConfig configures one extraction backend.
type BackendConfig struct {
	Provider string `yaml:"provider"` // gemini, anthropic, literal; empty disables
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// ExtractionConfig configures the primary and fallback extraction backends.
type ExtractionConfig struct {
	Primary  BackendConfig `yaml:"primary"`
	Fallback BackendConfig `yaml:"fallback"`

	// Policy maps a pattern type to fail_fast or fallback when extraction fails.
	Policy map[string]string `yaml:"policy"`

	// Cache extraction responses in the store, keyed by source hash.
	Cache bool `yaml:"cache"`
}

// CorrectionConfig configures the bounded retry loop.
type CorrectionConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// ValidationConfig configures the validator.
type ValidationConfig struct {
	MaxLineLength int `yaml:"max_line_length"`

	// Third-party modules installed in the runtime that executes generated scanners.
	AvailableModules []string `yaml:"available_modules"`

	// Recognized libraries that may be missing; importing them only warns.
	KnownExternal []string `yaml:"known_external"`
}

// RenderConfig configures the generated scanner skeleton.
type RenderConfig struct {
	MaxWorkers  int `yaml:"max_workers"`
	HistoryDays int `yaml:"history_days"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
}

// Extraction failure policies.
const (
	PolicyFailFast = "fail_fast"
	PolicyFallback = "fallback"
)

// ValidProviders lists all supported extraction providers.
var ValidProviders = []string{"gemini", "anthropic", "literal"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "scanforge",
		Version: "0.4.0",

		Extraction: ExtractionConfig{
			Primary: BackendConfig{
				Provider: "gemini",
				Model:    "gemini-2.5-flash",
				Timeout:  "60s",
			},
			Fallback: BackendConfig{
				Provider: "anthropic",
				Model:    "claude-sonnet-4-5-20250514",
				BaseURL:  "https://api.anthropic.com/v1",
				Timeout:  "90s",
			},
			Policy: map[string]string{
				string(types.PatternStandalone): PolicyFallback,
				string(types.PatternMulti):      PolicyFallback,
				string(types.PatternGeneric):    PolicyFailFast,
			},
			Cache: true,
		},

		Correction: CorrectionConfig{
			MaxAttempts: 3,
		},

		Validation: ValidationConfig{
			MaxLineLength:    120,
			AvailableModules: []string{"pandas", "numpy", "requests"},
			KnownExternal: []string{
				"yfinance", "talib", "scipy", "polygon", "alpaca_trade_api",
				"matplotlib", "pandas_market_calendars", "pytz", "dotenv", "tqdm", "aiohttp",
			},
		},

		Render: RenderConfig{
			MaxWorkers:  8,
			HistoryDays: 120,
		},

		Store: StoreConfig{
			Path: filepath.Join(".scanforge", "scanforge.db"),
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	for _, b := range []*BackendConfig{&c.Extraction.Primary, &c.Extraction.Fallback} {
		switch b.Provider {
		case "gemini":
			if key := os.Getenv("GEMINI_API_KEY"); key != "" {
				b.APIKey = key
			}
		case "anthropic":
			if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
				b.APIKey = key
			}
		}
	}

	if path := os.Getenv("SCANFORGE_DB"); path != "" {
		c.Store.Path = path
	}
}

// GetPrimaryTimeout returns the primary backend timeout as a duration.
func (c *Config) GetPrimaryTimeout() time.Duration {
	return parseDuration(c.Extraction.Primary.Timeout, 60*time.Second)
}

// GetFallbackTimeout returns the fallback backend timeout as a duration.
func (c *Config) GetFallbackTimeout() time.Duration {
	return parseDuration(c.Extraction.Fallback.Timeout, 90*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// FallbackPolicy returns the configured policy table keyed by pattern type.
// Pattern types missing from the config fail fast.
func (c *Config) FallbackPolicy() map[types.PatternType]bool {
	out := make(map[types.PatternType]bool)
	for _, pt := range []types.PatternType{types.PatternStandalone, types.PatternMulti, types.PatternGeneric} {
		out[pt] = c.Extraction.Policy[string(pt)] == PolicyFallback
	}
	return out
}

// LoggingOptions converts the logging section for the logging package.
func (c *Config) LoggingOptions() logging.Config {
	return logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		DebugMode:  c.Logging.DebugMode,
		Categories: c.Logging.Categories,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Correction.MaxAttempts < 1 {
		return fmt.Errorf("correction.max_attempts must be at least 1, got %d", c.Correction.MaxAttempts)
	}
	if c.Render.MaxWorkers < 1 {
		return fmt.Errorf("render.max_workers must be at least 1, got %d", c.Render.MaxWorkers)
	}
	if c.Validation.MaxLineLength < 40 {
		return fmt.Errorf("validation.max_line_length too small: %d", c.Validation.MaxLineLength)
	}
	if c.Extraction.Primary.Provider == "" {
		return fmt.Errorf("extraction.primary.provider is required (valid: %v)", ValidProviders)
	}
	for name, b := range map[string]BackendConfig{"primary": c.Extraction.Primary, "fallback": c.Extraction.Fallback} {
		if b.Provider == "" {
			continue
		}
		if !slices.Contains(ValidProviders, b.Provider) {
			return fmt.Errorf("invalid %s extraction provider: %s (valid: %v)", name, b.Provider, ValidProviders)
		}
	}
	for pattern, policy := range c.Extraction.Policy {
		if _, err := types.ParsePatternType(pattern); err != nil {
			return fmt.Errorf("invalid extraction policy key: %w", err)
		}
		if policy != PolicyFailFast && policy != PolicyFallback {
			return fmt.Errorf("invalid extraction policy for %s: %s (valid: %s, %s)", pattern, policy, PolicyFailFast, PolicyFallback)
		}
	}
	return nil
}

// DefaultConfigPath returns the workspace-relative config location.
func DefaultConfigPath() string {
	return filepath.Join(".scanforge", "config.yaml")
}
