package handlers

import (
	"context"
	"fmt"

	"github.com/imamik/appinit/internal/provider"
)

// Destroy force-deletes an app and everything it owns. A missing app is
// not an error.
func Destroy(ctx context.Context, opts *Options, app string) error {
	e, p, err := providerEnv(ctx, opts)
	if err != nil {
		return err
	}
	defer e.close()

	existing, err := p.GetApp(ctx, app)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", app, err)
	}
	if existing == nil {
		fmt.Fprintf(stdout, "App %s does not exist.\n", app)
		return nil
	}

	e.log.Info("deleting app", "app", app, "provider", opts.Provider)
	if err := p.DeleteApp(ctx, app, true); err != nil && !provider.IsNotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", app, err)
	}
	fmt.Fprintf(stdout, "Deleted app %s.\n", app)
	return nil
}

// providerEnv loads configuration and connects to the provider without
// opening the journal.
func providerEnv(ctx context.Context, opts *Options) (*env, provider.Provider, error) {
	e, err := loadEnv(opts)
	if err != nil {
		return nil, nil, err
	}
	p, err := newProvider(ctx, opts.Provider, e)
	if err != nil {
		e.close()
		return nil, nil, err
	}
	return e, p, nil
}
