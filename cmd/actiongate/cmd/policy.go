package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Tobbiloba/actiongate/internal/auth"
	"github.com/Tobbiloba/actiongate/internal/config"
	"github.com/Tobbiloba/actiongate/internal/domain/policy"
)

var (
	policyAdminToken string
	policyFile       string
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect or replace a project's active policy",
}

var policyGetCmd = &cobra.Command{
	Use:   "get [project-id]",
	Short: "Print a project's active policy as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyGet,
}

var policyUpsertCmd = &cobra.Command{
	Use:   "upsert [project-id]",
	Short: "Replace a project's active policy from a YAML/JSON document",
	Long: `Replace a project's active policy, archiving the prior version.

Example:
  actiongate policy upsert acme --file acme-policy.yaml --admin-token "$ADMIN_TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: runPolicyUpsert,
}

func init() {
	policyCmd.PersistentFlags().StringVar(&policyAdminToken, "admin-token", "", "raw admin token, checked against admin.tokens[].hash")
	policyUpsertCmd.Flags().StringVar(&policyFile, "file", "", "path to the policy document (YAML or JSON, required)")
	_ = policyUpsertCmd.MarkFlagRequired("file")

	policyCmd.AddCommand(policyGetCmd, policyUpsertCmd)
	rootCmd.AddCommand(policyCmd)
}

// requireAdminToken loads cfg's admin token hashes and verifies token
// against them, returning an error the caller should propagate as the
// command's failure.
func requireAdminToken(cfg *config.Config, token string) error {
	if len(cfg.Admin.Tokens) == 0 {
		return errors.New("no admin tokens are configured; this operation is unavailable")
	}
	if token == "" {
		return errors.New("--admin-token is required for this operation")
	}
	hashes := make([]string, len(cfg.Admin.Tokens))
	for i, t := range cfg.Admin.Tokens {
		hashes[i] = t.Hash
	}
	if !auth.NewVerifier(hashes).Verify(token) {
		return errors.New("admin token rejected")
	}
	return nil
}

func runPolicyGet(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := requireAdminToken(cfg, policyAdminToken); err != nil {
		return err
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))
	store, _, _, cleanup, err := wireStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	p, err := store.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("policy get: %w", err)
	}
	if p == nil {
		return fmt.Errorf("no policy configured for project %q", args[0])
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

func runPolicyUpsert(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := requireAdminToken(cfg, policyAdminToken); err != nil {
		return err
	}

	data, err := os.ReadFile(policyFile)
	if err != nil {
		return fmt.Errorf("reading %s: %w", policyFile, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing %s: %w", policyFile, err)
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))
	store, _, _, cleanup, err := wireStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	p, err := policy.Load(raw)
	if err != nil {
		return fmt.Errorf("invalid policy document: %w", err)
	}
	if err := store.Put(ctx, args[0], p); err != nil {
		return fmt.Errorf("policy upsert: %w", err)
	}

	fmt.Printf("stored policy %q (version %s) for project %q\n", p.Name, p.Version, args[0])
	return nil
}
