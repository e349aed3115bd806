package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/appinit/cmd/appinit/handlers"
)

// Secrets returns the secrets command.
func Secrets(opts *handlers.Options) *cobra.Command {
	var (
		specPath   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Show which secrets a deployment needs",
		Long: `Secrets lists the secrets the spec references and whether the app
already has them. A deployment waits until all of them are set.

Example:
  appinit secrets -f stargazers.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Secrets(cmd.Context(), opts, specPath, jsonOutput)
		},
	}

	cmd.PersistentFlags().StringVarP(&specPath, "file", "f", "", "Path to the deployment spec (required)")
	_ = cmd.MarkPersistentFlagRequired("file")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	cmd.AddCommand(&cobra.Command{
		Use:   "set NAME",
		Short: "Set a secret on a Hetzner app, reading the value from stdin",
		Long: `Set stores a secret for an app deployed with --provider hcloud. The value
is read from standard input.

Example:
  echo -n "$TURSO_TOKEN" | appinit secrets set TURSO_TOKEN -f stargazers.yaml -p hcloud`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.SetSecret(cmd.Context(), opts, specPath, args[0])
		},
	})

	return cmd
}
