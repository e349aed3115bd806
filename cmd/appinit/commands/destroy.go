package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/appinit/cmd/appinit/handlers"
)

// Destroy returns the destroy command.
func Destroy(opts *handlers.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <app>",
		Short: "Delete an app and everything it owns",
		Long: `Destroy force-deletes an app with its IP addresses, volumes, machines
and secrets. Use it after a deployment ended with CleanupFailed.

Example:
  appinit destroy stargazers

WARNING: This operation is irreversible. All data on the app's volume
will be lost.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Destroy(cmd.Context(), opts, args[0])
		},
	}
}
