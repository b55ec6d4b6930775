// Package config provides the configuration schema for the action gateway.
//
// This schema intentionally excludes everything outside the engine's
// scope: no HTTP server settings (no HTTP server is implemented), no
// multi-tenant admin UI, no SIEM/webhook integrations. It configures
// exactly the process-wide pipeline tunables, the policy document search
// path, the audit/counter backend choice, and the admin token hashes that
// gate UpsertPolicy/ListAudit.
package config

import "time"

// Config is the top-level configuration for the action gateway.
type Config struct {
	// Pipeline configures the Decision Pipeline's process-wide tunables.
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`

	// Storage selects and configures the outbound adapters.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Admin configures the bearer tokens that gate administrative calls.
	Admin AdminConfig `yaml:"admin" mapstructure:"admin"`

	// LogLevel sets the minimum log level: "debug", "info", "warn", "error".
	// Defaults to "info" if empty.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// DevMode makes SetDevDefaults add the well-known development admin
	// token when no admin token is configured. Policy evaluation is not
	// affected: an unconfigured project is default-allow in either mode.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// PipelineConfig is the spec's process-wide option table (section 5).
type PipelineConfig struct {
	// PolicyCacheTTLSeconds bounds how long a cached policy is reused
	// before the pipeline re-fetches it from the PolicyStore. Defaults to
	// 300. SetDefaults also replaces an explicit zero with 300, so this
	// field cannot turn caching off.
	PolicyCacheTTLSeconds int `yaml:"policy_cache_ttl" mapstructure:"policy_cache_ttl" validate:"omitempty,min=0"`

	// ProjectCacheTTLSeconds bounds how long a project-identity lookup is
	// reused. This engine has no project-identity store distinct from
	// the PolicyStore's project-keyed lookup; the value is accepted,
	// defaulted and validated, but the decision pipeline does not read it.
	ProjectCacheTTLSeconds int `yaml:"project_cache_ttl" mapstructure:"project_cache_ttl" validate:"omitempty,min=0"`

	// FailClosed controls how an infrastructure fault on the Decide path
	// is handled: true turns it into a blocked Decision, false (default)
	// surfaces an error to the caller.
	FailClosed bool `yaml:"fail_closed" mapstructure:"fail_closed"`

	// FailClosedReason overrides the Decision's Reason when FailClosed
	// absorbs an infrastructure fault. Defaults to "service unavailable
	// (fail-closed)" when empty.
	FailClosedReason string `yaml:"fail_closed_reason" mapstructure:"fail_closed_reason"`

	// AuditBufferSize bounds the in-flight audit queue; beyond this,
	// the oldest queued entry is dropped and a counter is incremented.
	// Defaults to 1024.
	AuditBufferSize int `yaml:"audit_buffer_size" mapstructure:"audit_buffer_size" validate:"omitempty,min=1"`

	// CounterBackend selects the quota counter-store implementation:
	// "memory" (single-process, per-key striped locking) or "sqlite"
	// (durable, shared across restarts of a single instance). Defaults
	// to "memory".
	CounterBackend string `yaml:"counter_backend" mapstructure:"counter_backend" validate:"omitempty,oneof=memory sqlite"`
}

// PolicyCacheTTL returns the configured policy cache TTL as a Duration.
func (p PipelineConfig) PolicyCacheTTL() time.Duration {
	return time.Duration(p.PolicyCacheTTLSeconds) * time.Second
}

// StorageConfig selects and configures the durable adapters.
type StorageConfig struct {
	// SQLitePath is the database file path used when CounterBackend, or
	// any adapter explicitly configured for sqlite, is active. Required
	// when counter_backend is "sqlite".
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`

	// PolicyDir is a directory of <project_id>.yaml policy documents
	// loaded at startup into the active PolicyStore. Optional: policies
	// may instead be pushed entirely through UpsertPolicy.
	PolicyDir string `yaml:"policy_dir" mapstructure:"policy_dir"`
}

// AdminConfig configures the bearer tokens that gate UpsertPolicy,
// GetActivePolicy (write access), and ListAudit.
type AdminConfig struct {
	// Tokens is the set of admin token hashes. Validated in
	// Config.Validate() to ensure each is a recognized hash format.
	Tokens []AdminTokenConfig `yaml:"tokens" mapstructure:"tokens" validate:"omitempty,dive"`
}

// AdminTokenConfig names one admin token hash.
type AdminTokenConfig struct {
	// Name is a human-readable label for this token, for operator
	// bookkeeping only; never compared against at verify time.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Hash is the Argon2id (preferred) or legacy SHA-256 hash of the raw
	// token, generated with the hash-key CLI subcommand.
	Hash string `yaml:"hash" mapstructure:"hash" validate:"required"`
}

// SetDefaults applies sensible default values to zero-valued fields.
func (c *Config) SetDefaults() {
	if c.Pipeline.PolicyCacheTTLSeconds == 0 {
		c.Pipeline.PolicyCacheTTLSeconds = 300
	}
	if c.Pipeline.ProjectCacheTTLSeconds == 0 {
		c.Pipeline.ProjectCacheTTLSeconds = 300
	}
	if c.Pipeline.AuditBufferSize == 0 {
		c.Pipeline.AuditBufferSize = 1024
	}
	if c.Pipeline.CounterBackend == "" {
		c.Pipeline.CounterBackend = "memory"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// SetDevDefaults applies a permissive admin configuration for local
// development: a single well-known dev token, applied before validation
// so DevMode can run with no admin section configured at all.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if len(c.Admin.Tokens) == 0 {
		c.Admin.Tokens = []AdminTokenConfig{
			{
				Name: "dev-admin",
				// sha256 of "dev-admin-token"
				Hash: "sha256:1734d503f6aa6a047c36d113cbad769f719c93784b469b771c4c3e7c63adbefd",
			},
		}
	}
}
