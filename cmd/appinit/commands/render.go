package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/appinit/cmd/appinit/handlers"
)

// Render returns the render command.
func Render(opts *handlers.Options) *cobra.Command {
	var specPath string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the runtime configuration for a deployment spec",
		RunE: func(_ *cobra.Command, _ []string) error {
			return handlers.Render(opts, specPath)
		},
	}

	cmd.Flags().StringVarP(&specPath, "file", "f", "", "Path to the deployment spec (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
