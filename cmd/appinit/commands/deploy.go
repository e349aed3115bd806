package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/imamik/appinit/cmd/appinit/handlers"
)

const defaultHealthDeadline = 5 * time.Minute

// Deploy returns the deploy command.
func Deploy(opts *handlers.Options) *cobra.Command {
	var d handlers.DeployOptions

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy an app from a deployment spec",
		Long: `Deploy runs the full deployment of an app:

  1. Create the app
  2. Allocate an IP address
  3. Create the volume and write the rendered configuration with a
     bootstrap machine
  4. Wait until every secret the spec references is set
  5. Launch the final machine
  6. Wait for its health check

If a step fails after the app was created, the app and everything it owns
is deleted. Use --no-cleanup to keep it for inspection.

Example:
  appinit deploy -f stargazers.yaml
  appinit deploy -f stargazers.yaml --provider hcloud --health-deadline 10m`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Deploy(cmd.Context(), opts, d)
		},
	}

	addSpecFlags(cmd, &d)
	cmd.Flags().BoolVar(&d.NoCleanup, "no-cleanup", false, "Keep the app when a step fails")

	return cmd
}

func addSpecFlags(cmd *cobra.Command, d *handlers.DeployOptions) {
	cmd.Flags().StringVarP(&d.SpecPath, "file", "f", "", "Path to the deployment spec (required)")
	cmd.Flags().StringVar(&d.Org, "org", "", "Organization, overrides orgSlug from the spec")
	cmd.Flags().DurationVar(&d.HealthDeadline, "health-deadline", defaultHealthDeadline, "How long to wait for the health check")
	_ = cmd.MarkFlagRequired("file")
}
