package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tobbiloba/actiongate/internal/auth"
)

var hashKeyLegacy bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [admin-token]",
	Short: "Generate a hash of an admin token for use in config",
	Long: `Generate a hash of an admin token for use in a config file's
admin.tokens[].hash field.

By default the output is an Argon2id hash in PHC format
($argon2id$v=19$...), which actiongate's own config loader expects for
newly minted tokens. Pass --legacy-sha256 to instead produce a
"sha256:<hex>" hash, accepted only so tokens provisioned before Argon2id
adoption keep validating.

Example:
  actiongate hash-key "my-admin-token"
  actiongate hash-key --legacy-sha256 "my-admin-token"

Security note: the token will appear in shell history. Consider clearing
history after use or passing it via an environment variable:
  actiongate hash-key "$ADMIN_TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]
		if hashKeyLegacy {
			fmt.Printf("sha256:%s\n", auth.HashToken(token))
			return nil
		}
		hash, err := auth.HashTokenArgon2id(token)
		if err != nil {
			return fmt.Errorf("hash-key: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeyLegacy, "legacy-sha256", false, "produce a legacy sha256:<hex> hash instead of Argon2id")
	rootCmd.AddCommand(hashKeyCmd)
}
