package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/appinit/cmd/appinit/handlers"
)

// Resume returns the resume command.
func Resume(opts *handlers.Options) *cobra.Command {
	var r handlers.ResumeOptions

	cmd := &cobra.Command{
		Use:   "resume [execution-id]",
		Short: "Continue interrupted executions",
		Long: `Resume continues an execution that was interrupted, for example by a
crash or Ctrl-C. Steps that already completed are replayed from the
journal and are not repeated against the provider.

Example:
  appinit resume exe_0b6f0f0e-5c1a-4b55-a1f5-3f1d1b0f9a7e
  appinit resume --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				r.ID = args[0]
			}
			return handlers.Resume(cmd.Context(), opts, r)
		},
	}

	cmd.Flags().BoolVar(&r.All, "all", false, "Resume every unfinished execution")
	cmd.Flags().IntVar(&r.Parallel, "parallel", 4, "Maximum executions resumed at once with --all (0 for no limit)")

	return cmd
}
