// Package commands defines the CLI command structure and flag bindings.
//
// Command execution is delegated to handler functions in the handlers
// package. Flags shared by every command live on the root command and are
// bound to a single handlers.Options value.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/imamik/appinit/cmd/appinit/handlers"
)

const defaultJournal = "appinit.db"

// Root returns the root command for the appinit CLI.
func Root() *cobra.Command {
	opts := &handlers.Options{}

	cmd := &cobra.Command{
		Use:   "appinit",
		Short: "Deploy durable workflow apps to Fly.io or Hetzner Cloud",
		Long: `appinit deploys an app as a resumable saga.

Every step is recorded in a journal. An interrupted deployment continues
where it stopped with 'appinit resume'; a failed one deletes the app it
created. Provider credentials are read from the environment:

  fly:     FLY_API_TOKEN, FLY_API_HOSTNAME
  hcloud:  HCLOUD_TOKEN, HCLOUD_SSH_KEY, HCLOUD_SSH_PRIVATE_KEY_FILE,
           APPINIT_S3_ENDPOINT, APPINIT_S3_REGION, APPINIT_S3_ACCESS_KEY,
           APPINIT_S3_SECRET_KEY, APPINIT_S3_BUCKET`,
		SilenceUsage: true,
	}

	journal := defaultJournal
	if v := os.Getenv("APPINIT_JOURNAL"); v != "" {
		journal = v
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.Provider, "provider", "p", handlers.ProviderFly, "Infrastructure provider (fly or hcloud)")
	flags.StringVar(&opts.Journal, "journal", journal, "Journal database: SQLite path or postgres:// URL (env APPINIT_JOURNAL)")
	flags.StringVarP(&opts.SettingsPath, "settings", "s", "", "Path to a settings YAML file")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	flags.BoolVar(&opts.Debug, "debug", false, "Enable debug logging")

	// Deployment commands
	cmd.AddCommand(Deploy(opts))
	cmd.AddCommand(Resume(opts))
	cmd.AddCommand(Step(opts))
	cmd.AddCommand(Status(opts))

	// Utility commands
	cmd.AddCommand(Render(opts))
	cmd.AddCommand(Secrets(opts))
	cmd.AddCommand(Destroy(opts))
	cmd.AddCommand(Version())

	return cmd
}
