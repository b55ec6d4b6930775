package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Tobbiloba/actiongate/internal/adapter/inbound/mcpgate"
	"github.com/Tobbiloba/actiongate/internal/adapter/outbound/celquery"
	"github.com/Tobbiloba/actiongate/internal/adapter/outbound/memory"
	"github.com/Tobbiloba/actiongate/internal/adapter/outbound/sqlite"
	"github.com/Tobbiloba/actiongate/internal/config"
	"github.com/Tobbiloba/actiongate/internal/domain/gateway"
	"github.com/Tobbiloba/actiongate/internal/domain/policy"
	"github.com/Tobbiloba/actiongate/internal/domain/quota"
	"github.com/Tobbiloba/actiongate/internal/service"
	"github.com/Tobbiloba/actiongate/internal/telemetry"
)

var serveDevMode bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the submit_action MCP tool over stdio",
	Long: `Start the action gateway's MCP front end, exposing a single
submit_action tool over stdio. An MCP-speaking agent calls submit_action
in place of performing an action directly and receives the Decision
Pipeline's verdict as the tool result.

Examples:
  actiongate serve
  actiongate --config /path/to/actiongate.yaml serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveDevMode, "dev", false, "enable development mode (dev admin token when none is configured, debug logging)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serveDevMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logLevel := parseLogLevel(cfg.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	store, quotaEngine, audit, cleanup, err := wireStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.Storage.PolicyDir != "" {
		n, err := seedPoliciesFromDir(ctx, store, cfg.Storage.PolicyDir)
		if err != nil {
			return fmt.Errorf("failed to seed policies: %w", err)
		}
		logger.Info("seeded policies", "dir", cfg.Storage.PolicyDir, "count", n)
	}

	evaluator, err := celquery.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to build query evaluator: %w", err)
	}

	svcCfg := service.Config{
		PolicyCacheTTL:   cfg.Pipeline.PolicyCacheTTL(),
		FailClosed:       cfg.Pipeline.FailClosed,
		FailClosedReason: cfg.Pipeline.FailClosedReason,
	}
	instr := telemetry.New()
	svc := service.NewDecisionService(store, quotaEngine, audit, gateway.SystemClock{}, svcCfg, logger,
		service.WithInstrumentation(instr),
		service.WithQueryEvaluator(evaluator),
	)

	go pollAuditDropped(ctx, audit, instr, auditDroppedPollInterval, logger)

	gate := mcpgate.NewGate(svc, nil)
	logger.Info("serving submit_action over stdio")
	if err := gate.Run(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("actiongate stopped")
	return nil
}

// wireStorage builds the PolicyStore/Quota Engine/AuditSink trio for the
// configured backend, returning a cleanup function that stops background
// goroutines and closes any open database handle.
func wireStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (policy.PolicyStore, *quota.Engine, gateway.AuditSink, func(), error) {
	switch cfg.Pipeline.CounterBackend {
	case "sqlite":
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		store := sqlite.NewPolicyStore(db)
		counters := sqlite.NewCounterStore(db)
		audit := sqlite.NewAuditSink(db, cfg.Pipeline.AuditBufferSize)
		cleanup := func() {
			audit.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing sqlite database", "error", err)
			}
		}
		return store, quota.NewEngine(counters), audit, cleanup, nil
	default:
		store := memory.NewPolicyStore()
		counters := memory.NewCounterStore()
		counters.StartCleanup(ctx)
		audit := memory.NewAuditSink(cfg.Pipeline.AuditBufferSize)
		cleanup := func() {
			audit.Stop()
			counters.Stop()
		}
		return store, quota.NewEngine(counters), audit, cleanup, nil
	}
}

// seedPoliciesFromDir loads every <project_id>.yaml/.yml document in dir
// into store, keyed by its filename stem.
func seedPoliciesFromDir(ctx context.Context, store policy.PolicyStore, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		projectID := strings.TrimSuffix(name, ext)

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return count, fmt.Errorf("reading %s: %w", name, err)
		}
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return count, fmt.Errorf("parsing %s: %w", name, err)
		}
		if err := store.Put(ctx, projectID, mustLoadPolicy(raw)); err != nil {
			return count, fmt.Errorf("storing policy for project %q: %w", projectID, err)
		}
		count++
	}
	return count, nil
}

// mustLoadPolicy parses raw into a *policy.Policy, panicking on a malformed
// document. Only called from seedPoliciesFromDir, where a bad document
// should abort startup rather than silently admit everything under it.
func mustLoadPolicy(raw map[string]any) *policy.Policy {
	p, err := policy.Load(raw)
	if err != nil {
		panic(fmt.Sprintf("actiongate: invalid policy document: %v", err))
	}
	return p
}

// auditDroppedPollInterval is how often pollAuditDropped reads the audit
// sink's backpressure-drop counter and forwards the delta to
// Instrumentation.RecordAuditDropped. A process killed between polls can
// undercount the metric by at most one interval's worth of drops.
const auditDroppedPollInterval = 10 * time.Second

// droppedCounter is implemented by the memory and sqlite AuditSink
// adapters. gateway.AuditSink stays Append-only, so pollAuditDropped
// discovers it with a type assertion, the same pattern DecisionService
// uses to discover AuditQuerier.
type droppedCounter interface {
	Dropped() int64
}

// pollAuditDropped periodically reads audit's backpressure-drop counter
// and reports the delta to instr, so actiongate_audit_dropped_total
// reflects real queue drops instead of staying at zero for the life of
// the process. Returns once ctx is done; a sink that doesn't implement
// droppedCounter makes this a no-op.
func pollAuditDropped(ctx context.Context, audit gateway.AuditSink, instr service.Instrumentation, interval time.Duration, logger *slog.Logger) {
	counter, ok := audit.(droppedCounter)
	if !ok {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := counter.Dropped()
			if delta := current - last; delta > 0 {
				instr.RecordAuditDropped(ctx, delta)
				logger.Warn("audit entries dropped for backpressure", "count", delta, "total", current)
			}
			last = current
		}
	}
}

// parseLogLevel converts a string log level to slog.Level, defaulting to
// slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
