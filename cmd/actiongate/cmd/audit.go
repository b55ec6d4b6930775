package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tobbiloba/actiongate/internal/adapter/outbound/celquery"
	"github.com/Tobbiloba/actiongate/internal/config"
	"github.com/Tobbiloba/actiongate/internal/domain/gateway"
	"github.com/Tobbiloba/actiongate/internal/service"
	"github.com/Tobbiloba/actiongate/internal/telemetry"
)

var (
	auditAdminToken  string
	auditProjectID   string
	auditAgentName   string
	auditActionType  string
	auditOnlyAllowed bool
	auditOnlyBlocked bool
	auditCELQuery    string
	auditLimit       int
	auditCursor      string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries, newest first",
	Long: `List audit entries, newest first, optionally filtered by project,
agent, action type, outcome, or a CEL query expression over AuditEntry
fields (project_id, agent_name, action_type, params, allowed, action_id,
reason, policy_version, execution_time_ms, simulated, decided_at).

Example:
  actiongate audit list --project acme --cel 'action_type == "transfer_funds"' --admin-token "$ADMIN_TOKEN"`,
	RunE: runAuditList,
}

func init() {
	auditCmd.PersistentFlags().StringVar(&auditAdminToken, "admin-token", "", "raw admin token, checked against admin.tokens[].hash")
	auditListCmd.Flags().StringVar(&auditProjectID, "project", "", "filter to one project ID")
	auditListCmd.Flags().StringVar(&auditAgentName, "agent", "", "filter to one agent name")
	auditListCmd.Flags().StringVar(&auditActionType, "action", "", "filter to one action type")
	auditListCmd.Flags().BoolVar(&auditOnlyAllowed, "allowed", false, "only show allowed decisions")
	auditListCmd.Flags().BoolVar(&auditOnlyBlocked, "blocked", false, "only show blocked decisions")
	auditListCmd.Flags().StringVar(&auditCELQuery, "cel", "", "CEL expression evaluated against each entry")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum entries to return")
	auditListCmd.Flags().StringVar(&auditCursor, "cursor", "", "pagination cursor from a prior page's output")

	auditCmd.AddCommand(auditListCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditList(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := requireAdminToken(cfg, auditAdminToken); err != nil {
		return err
	}
	if auditOnlyAllowed && auditOnlyBlocked {
		return fmt.Errorf("--allowed and --blocked are mutually exclusive")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))
	store, quotaEngine, audit, cleanup, err := wireStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	evaluator, err := celquery.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to build query evaluator: %w", err)
	}

	svc := service.NewDecisionService(store, quotaEngine, audit, gateway.SystemClock{}, service.Config{}, logger,
		service.WithInstrumentation(telemetry.New()),
		service.WithQueryEvaluator(evaluator),
	)

	filter := service.AuditFilter{
		ProjectID:  auditProjectID,
		AgentName:  auditAgentName,
		ActionType: auditActionType,
		CELQuery:   auditCELQuery,
		Cursor:     auditCursor,
		Limit:      auditLimit,
	}
	if auditOnlyAllowed {
		allowed := true
		filter.Allowed = &allowed
	}
	if auditOnlyBlocked {
		blocked := false
		filter.Allowed = &blocked
	}

	entries, next, err := svc.ListAudit(ctx, filter)
	if err != nil {
		return fmt.Errorf("audit list: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Entries    []gateway.AuditEntry `json:"entries"`
		NextCursor string               `json:"next_cursor,omitempty"`
	}{entries, next}); err != nil {
		return err
	}
	return nil
}
