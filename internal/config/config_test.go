package config

import "testing"

func TestConfigSetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Pipeline.PolicyCacheTTLSeconds != 300 {
		t.Errorf("PolicyCacheTTLSeconds = %d, want 300", cfg.Pipeline.PolicyCacheTTLSeconds)
	}
	if cfg.Pipeline.AuditBufferSize != 1024 {
		t.Errorf("AuditBufferSize = %d, want 1024", cfg.Pipeline.AuditBufferSize)
	}
	if cfg.Pipeline.CounterBackend != "memory" {
		t.Errorf("CounterBackend = %q, want %q", cfg.Pipeline.CounterBackend, "memory")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestConfigSetDefaultsPreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Pipeline: PipelineConfig{
			PolicyCacheTTLSeconds: 60,
			CounterBackend:        "sqlite",
		},
	}
	cfg.SetDefaults()

	if cfg.Pipeline.PolicyCacheTTLSeconds != 60 {
		t.Errorf("PolicyCacheTTLSeconds = %d, want 60 (preserved)", cfg.Pipeline.PolicyCacheTTLSeconds)
	}
	if cfg.Pipeline.CounterBackend != "sqlite" {
		t.Errorf("CounterBackend = %q, want %q (preserved)", cfg.Pipeline.CounterBackend, "sqlite")
	}
	// Sub-defaults not explicitly set are still populated.
	if cfg.Pipeline.AuditBufferSize != 1024 {
		t.Errorf("AuditBufferSize = %d, want 1024 (default)", cfg.Pipeline.AuditBufferSize)
	}
}

func TestConfigSetDevDefaultsOnlyAppliesWhenDevMode(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDevDefaults()
	if len(cfg.Admin.Tokens) != 0 {
		t.Error("SetDevDefaults must not populate tokens outside dev mode")
	}

	cfg.DevMode = true
	cfg.SetDevDefaults()
	if len(cfg.Admin.Tokens) != 1 {
		t.Fatalf("expected one dev token, got %d", len(cfg.Admin.Tokens))
	}
}

func TestConfigPolicyCacheTTLDuration(t *testing.T) {
	t.Parallel()

	cfg := PipelineConfig{PolicyCacheTTLSeconds: 5}
	if got, want := cfg.PolicyCacheTTL().Seconds(), 5.0; got != want {
		t.Errorf("PolicyCacheTTL() = %v seconds, want %v", got, want)
	}
}
