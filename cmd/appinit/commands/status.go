package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/appinit/cmd/appinit/handlers"
)

// Status returns the status command.
func Status(opts *handlers.Options) *cobra.Command {
	var s handlers.StatusOptions

	cmd := &cobra.Command{
		Use:   "status [execution-id]",
		Short: "Show recorded executions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				s.ID = args[0]
			}
			return handlers.Status(cmd.Context(), opts, s)
		},
	}

	cmd.Flags().StringVar(&s.App, "app", "", "Only show executions of this app")
	cmd.Flags().BoolVar(&s.OnlyOpen, "open", false, "Only show unfinished executions")
	cmd.Flags().BoolVar(&s.JSON, "json", false, "Output as JSON")

	return cmd
}
