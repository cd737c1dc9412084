package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"scanforge/internal/types"
)

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "scanforge" {
		t.Errorf("expected Name=scanforge, got %s", cfg.Name)
	}
	if cfg.Correction.MaxAttempts != 3 {
		t.Errorf("expected MaxAttempts=3, got %d", cfg.Correction.MaxAttempts)
	}
	if cfg.Extraction.Primary.Provider != "gemini" {
		t.Errorf("expected primary provider gemini, got %s", cfg.Extraction.Primary.Provider)
	}
	if cfg.Validation.MaxLineLength != 120 {
		t.Errorf("expected MaxLineLength=120, got %d", cfg.Validation.MaxLineLength)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("SCANFORGE_DB", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Correction.MaxAttempts = 5
	cfg.Extraction.Primary.APIKey = "g-test"
	cfg.Extraction.Policy["generic"] = PolicyFallback

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Correction.MaxAttempts != 5 {
		t.Errorf("expected MaxAttempts=5, got %d", loaded.Correction.MaxAttempts)
	}
	if loaded.Extraction.Primary.APIKey != "g-test" {
		t.Errorf("expected APIKey=g-test, got %s", loaded.Extraction.Primary.APIKey)
	}
	if !loaded.FallbackPolicy()[types.PatternGeneric] {
		t.Error("expected generic policy to fall back after reload")
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Render.MaxWorkers != 8 {
		t.Errorf("expected default MaxWorkers=8, got %d", cfg.Render.MaxWorkers)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("correction:\n  max_attempts: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Correction.MaxAttempts != 1 {
		t.Errorf("expected MaxAttempts=1, got %d", cfg.Correction.MaxAttempts)
	}
	if cfg.Validation.MaxLineLength != 120 {
		t.Errorf("expected default MaxLineLength to survive, got %d", cfg.Validation.MaxLineLength)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("correction: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestTimeouts(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.GetPrimaryTimeout(); got != 60*time.Second {
		t.Errorf("expected 60s, got %v", got)
	}
	cfg.Extraction.Primary.Timeout = "2s"
	if got := cfg.GetPrimaryTimeout(); got != 2*time.Second {
		t.Errorf("expected 2s, got %v", got)
	}
	cfg.Extraction.Fallback.Timeout = "soon"
	if got := cfg.GetFallbackTimeout(); got != 90*time.Second {
		t.Errorf("expected fallback default 90s, got %v", got)
	}
}

func TestFallbackPolicy_Defaults(t *testing.T) {
	p := DefaultConfig().FallbackPolicy()
	if !p[types.PatternStandalone] || !p[types.PatternMulti] {
		t.Error("standalone and multi should fall back by default")
	}
	if p[types.PatternGeneric] {
		t.Error("generic should fail fast by default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero attempts", func(c *Config) { c.Correction.MaxAttempts = 0 }},
		{"zero workers", func(c *Config) { c.Render.MaxWorkers = 0 }},
		{"tiny line length", func(c *Config) { c.Validation.MaxLineLength = 10 }},
		{"no primary", func(c *Config) { c.Extraction.Primary.Provider = "" }},
		{"unknown provider", func(c *Config) { c.Extraction.Fallback.Provider = "oracle" }},
		{"bad policy key", func(c *Config) { c.Extraction.Policy["hybrid"] = PolicyFallback }},
		{"bad policy value", func(c *Config) { c.Extraction.Policy["multi"] = "retry" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
