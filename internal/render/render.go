// Package render compiles a deployment spec into the runtime's TOML config
// file and parses such files back.
//
// The rendered document always carries the storage directories on the
// volume, the API and web UI listeners, a stdout log block, two HTTP servers
// (health check and webhooks) and the built-in health check webhook, followed
// by the spec's activities, workflows and webhooks.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"path"

	"github.com/BurntSushi/toml"

	"github.com/imamik/appinit/internal/config"
)

// Names of the HTTP servers declared in every rendered config.
const (
	HealthcheckServerName = "healthcheck_server"
	WebhookServerName     = "webhook_server"
)

// ValidationError is returned by Render when the spec cannot be compiled.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid deployment spec: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Render validates spec and compiles it into config text. It has no side
// effects and is safe to call before any resource exists.
func Render(spec *config.DeploymentSpec, settings *config.Settings) (string, error) {
	if spec == nil {
		return "", &ValidationError{Err: errors.New("spec is nil")}
	}
	if err := spec.Validate(); err != nil {
		return "", &ValidationError{Err: err}
	}

	doc := Build(spec, settings)

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.String(), nil
}

// Parse decodes config text produced by Render.
func Parse(text string) (*Document, error) {
	var doc Document
	if _, err := toml.Decode(text, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &doc, nil
}

// Build maps spec and settings to a Document without validating spec.
func Build(spec *config.DeploymentSpec, settings *config.Settings) *Document {
	mount := settings.VolumeMountPath
	doc := &Document{
		API:   Listener{ListeningAddr: settings.APIListenAddr},
		WebUI: Listener{ListeningAddr: settings.WebUIListenAddr},
		SQLite: SQLite{
			Directory: path.Join(mount, "obelisk-sqlite"),
			Pragma:    map[string]string{"cache_size": "3000"},
		},
		Wasm: Wasm{
			CacheDirectory:      path.Join(mount, "wasm"),
			ParallelCompilation: false,
			CodegenCache:        CodegenCache{Directory: path.Join(mount, "codegen")},
			Backtrace:           Backtrace{Persist: false},
		},
		Log: Log{Stdout: LogStdout{Enabled: true, Level: settings.LogLevel}},
		HTTPServers: []HTTPServer{
			{Name: HealthcheckServerName, ListeningAddr: fmt.Sprintf("0.0.0.0:%d", settings.HealthInternalPort)},
			{Name: WebhookServerName, ListeningAddr: fmt.Sprintf("0.0.0.0:%d", settings.WebhookInternalPort)},
		},
		Webhooks: []WebhookEndpoint{
			{
				Name:       config.ReservedComponentName,
				Location:   Location{OCI: settings.HealthcheckImage},
				HTTPServer: HealthcheckServerName,
				Routes:     []Route{{Path: ""}},
			},
		},
	}

	for _, a := range spec.Activities {
		act := Activity{
			Name:     a.Name,
			Location: Location{OCI: a.Location},
			EnvVars:  a.EnvVars,
		}
		if a.LockExpirySeconds != nil {
			act.Exec = &Exec{LockExpiry: LockExpiry{Seconds: *a.LockExpirySeconds}}
		}
		doc.Activities = append(doc.Activities, act)
	}

	for _, w := range spec.Workflows {
		doc.Workflows = append(doc.Workflows, Workflow{
			Name:     w.Name,
			Location: Location{OCI: w.Location},
		})
	}

	for _, w := range spec.Webhooks {
		routes := make([]Route, 0, len(w.Routes))
		for _, r := range w.Routes {
			routes = append(routes, Route{Methods: r.Methods, Path: r.Path})
		}
		doc.Webhooks = append(doc.Webhooks, WebhookEndpoint{
			Name:       w.Name,
			Location:   Location{OCI: w.Location},
			HTTPServer: WebhookServerName,
			Routes:     routes,
			EnvVars:    w.EnvVars,
		})
	}

	return doc
}
