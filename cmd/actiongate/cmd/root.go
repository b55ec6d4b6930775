// Package cmd provides the CLI commands for actiongate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tobbiloba/actiongate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "actiongate",
	Short: "actiongate - action validation gateway for autonomous agents",
	Long: `actiongate sits between an autonomous agent and the actions it wants to
take, evaluating each one against a per-project policy (allow/deny rules,
constraints on action parameters, rate limits, and aggregate quotas) before
it executes.

Quick start:
  1. Create a config file: actiongate.yaml
  2. Run: actiongate serve

Configuration:
  Config is loaded from actiongate.yaml in the current directory,
  $HOME/.actiongate/, or /etc/actiongate/.

  Environment variables can override config values with the ACTIONGATE
  prefix. Example: ACTIONGATE_PIPELINE_FAIL_CLOSED=true

Commands:
  serve       Start the MCP gate over stdio
  decide      Submit one action for evaluation and print the verdict
  policy      Inspect or replace a project's active policy (admin-gated)
  audit       Query the audit trail (admin-gated)
  hash-key    Generate an Argon2id (or legacy SHA-256) hash of an admin token
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./actiongate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
