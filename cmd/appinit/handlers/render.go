package handlers

import (
	"fmt"

	"github.com/imamik/appinit/internal/render"
)

// Render prints the runtime configuration the deployment writes to the
// volume, without touching a provider.
func Render(opts *Options, specPath string) error {
	spec, err := loadSpec(specPath)
	if err != nil {
		return fmt.Errorf("failed to load spec: %w", err)
	}
	settings, err := loadSettings(opts.SettingsPath)
	if err != nil {
		return err
	}
	text, err := render.Render(spec, settings)
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, text)
	return nil
}
