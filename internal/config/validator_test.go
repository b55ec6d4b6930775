package config

import (
	"testing"

	"github.com/Tobbiloba/actiongate/internal/auth"
)

func minimalValidConfig() *Config {
	var cfg Config
	cfg.SetDefaults()
	cfg.Admin.Tokens = []AdminTokenConfig{
		{Name: "ci", Hash: "sha256:" + auth.HashToken("ci-token")},
	}
	return &cfg
}

func TestValidateValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidateRejectsUnrecognizedAdminTokenHash(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Admin.Tokens[0].Hash = "not-a-hash"
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate() to reject an unrecognized admin token hash")
	}
}

func TestValidateRejectsSQLiteBackendWithoutPath(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Pipeline.CounterBackend = "sqlite"
	cfg.Storage.SQLitePath = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate() to require storage.sqlite_path with a sqlite counter backend")
	}
}

func TestValidateAllowsSQLiteBackendWithPath(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Pipeline.CounterBackend = "sqlite"
	cfg.Storage.SQLitePath = "/var/lib/actiongate/counters.db"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}
