package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/imamik/appinit/internal/config"
	"github.com/imamik/appinit/internal/provider"
)

// secretWriter stores a secret value for an app.
type secretWriter interface {
	SetSecret(ctx context.Context, app, name, value string) error
}

var openSecretWriter = func(ctx context.Context, creds *config.Credentials) (secretWriter, error) {
	store, err := newSecretStore(ctx, creds)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("object storage is not configured: set APPINIT_S3_ENDPOINT and APPINIT_S3_BUCKET")
	}
	return store, nil
}

// SecretStatus is one required secret and whether the app has it.
type SecretStatus struct {
	Name    string `json:"name"`
	Present bool   `json:"present"`
}

// Secrets reports which secrets the spec requires and which of them the
// app already has.
func Secrets(ctx context.Context, opts *Options, specPath string, jsonOutput bool) error {
	spec, err := loadSpec(specPath)
	if err != nil {
		return fmt.Errorf("failed to load spec: %w", err)
	}
	required := config.RequiredSecrets(spec)

	e, p, err := providerEnv(ctx, opts)
	if err != nil {
		return err
	}
	defer e.close()

	var present []string
	app, err := p.GetApp(ctx, spec.AppName)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", spec.AppName, err)
	}
	if app != nil {
		secrets, err := p.ListSecrets(ctx, spec.AppName)
		if err != nil {
			return fmt.Errorf("failed to list secrets of %s: %w", spec.AppName, err)
		}
		present = provider.SecretNames(secrets)
	}

	missing := make(map[string]bool)
	for _, n := range required.Missing(present) {
		missing[n] = true
	}
	statuses := make([]SecretStatus, 0, len(required))
	for _, n := range required.Sorted() {
		statuses = append(statuses, SecretStatus{Name: n, Present: !missing[n]})
	}

	if jsonOutput {
		return writeJSON(statuses)
	}
	if app == nil {
		fmt.Fprintf(stdout, "App %s does not exist yet.\n", spec.AppName)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(stdout, "The spec requires no secrets.")
		return nil
	}
	styled := isInteractiveTTY()
	for _, s := range statuses {
		mark := paint(styled, okStyle, "✓")
		if !s.Present {
			mark = paint(styled, failStyle, "✗")
		}
		fmt.Fprintf(stdout, "  %s %s\n", mark, s.Name)
	}
	if len(missing) > 0 {
		fmt.Fprintf(stdout, "\n%d of %d secrets missing.\n", len(missing), len(statuses))
	}
	return nil
}

// SetSecret stores a secret for a Hetzner app, reading the value from
// standard input. Fly.io apps manage secrets with flyctl.
func SetSecret(ctx context.Context, opts *Options, specPath, name string) error {
	if opts.Provider != ProviderHCloud {
		return fmt.Errorf("secrets set is only supported for the %s provider; use 'fly secrets set' for Fly.io apps", ProviderHCloud)
	}
	spec, err := loadSpec(specPath)
	if err != nil {
		return fmt.Errorf("failed to load spec: %w", err)
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("failed to read secret value: %w", err)
	}
	value := strings.TrimRight(string(data), "\r\n")
	if value == "" {
		return errors.New("secret value is empty")
	}

	w, err := openSecretWriter(ctx, loadCredentials())
	if err != nil {
		return err
	}
	if err := w.SetSecret(ctx, spec.AppName, name, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", name, err)
	}
	fmt.Fprintf(stdout, "Set %s on %s.\n", name, spec.AppName)
	return nil
}
