package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/appinit/cmd/appinit/handlers"
	"github.com/imamik/appinit/internal/saga"
)

// Step returns the step command, which runs one part of a deployment as
// its own execution. Failures are reported but never cleaned up.
func Step(opts *handlers.Options) *cobra.Command {
	var d handlers.DeployOptions

	cmd := &cobra.Command{
		Use:   "step <prepare|wait-for-secrets|start-final-vm|wait-for-health-check>",
		Short: "Run a single deployment step",
		Long: `Step runs one part of a deployment on its own:

  prepare                 create the app, allocate an IP and write the volume
  wait-for-secrets        wait until the spec's secrets are set
  start-final-vm          launch the final machine
  wait-for-health-check   poll the app until it is healthy

Example:
  appinit step prepare -f stargazers.yaml`,
		ValidArgs: []string{
			saga.WorkflowPrepare,
			saga.WorkflowWaitForSecrets,
			saga.WorkflowStartFinalVM,
			saga.WorkflowWaitForHealth,
		},
		Args: cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Step(cmd.Context(), opts, args[0], d)
		},
	}

	addSpecFlags(cmd, &d)

	return cmd
}
