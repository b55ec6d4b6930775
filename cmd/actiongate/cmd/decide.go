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
	decideProjectID  string
	decideAgentName  string
	decideActionType string
	decideParamsJSON string
	decideSimulate   bool
)

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Submit one action for evaluation and print the Decision",
	Long: `Evaluate a single action against the configured storage backend's
active policy for its project and print the resulting Decision as JSON.

Pass --simulate to check the verdict a real call would receive without
recording quota usage or an audit entry.

Example:
  actiongate decide --project acme --agent billing-bot --action transfer_funds \
    --params '{"amount": 500}'`,
	RunE: runDecide,
}

func init() {
	decideCmd.Flags().StringVar(&decideProjectID, "project", "", "project ID the action is evaluated against (required)")
	decideCmd.Flags().StringVar(&decideAgentName, "agent", "", "name of the agent requesting the action (required)")
	decideCmd.Flags().StringVar(&decideActionType, "action", "", "action type, matched against policy rules (required)")
	decideCmd.Flags().StringVar(&decideParamsJSON, "params", "", "action parameters as a JSON object")
	decideCmd.Flags().BoolVar(&decideSimulate, "simulate", false, "evaluate without recording quota usage or an audit entry")
	_ = decideCmd.MarkFlagRequired("project")
	_ = decideCmd.MarkFlagRequired("agent")
	_ = decideCmd.MarkFlagRequired("action")
	rootCmd.AddCommand(decideCmd)
}

func runDecide(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
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

	svcCfg := service.Config{
		PolicyCacheTTL:   cfg.Pipeline.PolicyCacheTTL(),
		FailClosed:       cfg.Pipeline.FailClosed,
		FailClosedReason: cfg.Pipeline.FailClosedReason,
	}
	svc := service.NewDecisionService(store, quotaEngine, audit, gateway.SystemClock{}, svcCfg, logger,
		service.WithInstrumentation(telemetry.New()),
		service.WithQueryEvaluator(evaluator),
	)

	var params map[string]any
	if decideParamsJSON != "" {
		if err := json.Unmarshal([]byte(decideParamsJSON), &params); err != nil {
			return fmt.Errorf("invalid --params JSON: %w", err)
		}
	}

	action := gateway.Action{
		ProjectID:  decideProjectID,
		AgentName:  decideAgentName,
		ActionType: decideActionType,
		Params:     params,
	}

	decision, err := svc.Decide(ctx, action, service.DecideOptions{Simulate: decideSimulate})
	if err != nil {
		return fmt.Errorf("decide: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(decision)
}
