package config

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"text/template"
)

// Default values for Settings. They match the Fly.io deployment of the
// runtime image.
const (
	DefaultImage                  = "getobelisk/obelisk:0.25.1-ubuntu"
	DefaultRegion                 = "ams"
	DefaultVolumeName             = "db"
	DefaultVolumeSizeGB           = 1
	DefaultVolumeMountPath        = "/volume"
	DefaultConfigFileName         = "obelisk.toml"
	DefaultTempMachineName        = "temp"
	DefaultFinalMachineName       = "obelisk"
	DefaultBinaryPath             = "/obelisk/obelisk"
	DefaultWebhookInternalPort    = 9090
	DefaultHealthInternalPort     = 9091
	DefaultHealthExternalPort     = 444
	DefaultHTTPSPort              = 443
	DefaultGuestCPUKind           = "shared"
	DefaultGuestCPUs              = 1
	DefaultGuestMemoryMB          = 256
	DefaultSwapSizeMB             = 256
	DefaultHealthCheckURLTemplate = "https://{{.App}}.fly.dev:{{.Port}}"
	DefaultHealthcheckImage       = "docker.io/getobelisk/components_flyio_webhook_healthcheck:2025-10-01@sha256:6fbc11b80b441ae6e642327b1ec0ceba85b2868d85dbce2d99d0d7b14a525c8c"
	DefaultAPIListenAddr          = "[::]:5005"
	DefaultWebUIListenAddr        = "[::]:8080"
	DefaultLogLevel               = "WARN,obelisk=info"
)

// Settings are the environment-specific constants of a deployment: which
// runtime image to launch, where, how the volume and machines are named and
// which ports the final machine exposes.
type Settings struct {
	// Image is the runtime image used by both the bootstrap and the final machine.
	Image string `yaml:"image"`

	// Region is the provider region (Fly region or Hetzner location).
	Region string `yaml:"region"`

	VolumeName      string `yaml:"volumeName"`
	VolumeSizeGB    int    `yaml:"volumeSizeGB"`
	VolumeMountPath string `yaml:"volumeMountPath"`

	// ConfigFileName is the name of the rendered config on the volume.
	ConfigFileName string `yaml:"configFileName"`

	TempMachineName  string `yaml:"tempMachineName"`
	FinalMachineName string `yaml:"finalMachineName"`

	// BinaryPath is the runtime binary inside the image.
	BinaryPath string `yaml:"binaryPath"`

	WebhookInternalPort int `yaml:"webhookInternalPort"`
	HealthInternalPort  int `yaml:"healthInternalPort"`
	HealthExternalPort  int `yaml:"healthExternalPort"`
	HTTPSPort           int `yaml:"httpsPort"`

	GuestCPUKind  string `yaml:"guestCPUKind"`
	GuestCPUs     int    `yaml:"guestCPUs"`
	GuestMemoryMB int    `yaml:"guestMemoryMB"`
	SwapSizeMB    int    `yaml:"swapSizeMB"`

	// HealthCheckURLTemplate is a text/template receiving .App and .Port.
	HealthCheckURLTemplate string `yaml:"healthCheckURLTemplate"`

	// HealthcheckImage is the always-200 webhook mounted on the health port.
	HealthcheckImage string `yaml:"healthcheckImage"`

	APIListenAddr   string `yaml:"apiListenAddr"`
	WebUIListenAddr string `yaml:"webUIListenAddr"`
	LogLevel        string `yaml:"logLevel"`
}

// DefaultSettings returns the settings used when no file or environment
// override is given.
func DefaultSettings() *Settings {
	return &Settings{
		Image:                  DefaultImage,
		Region:                 DefaultRegion,
		VolumeName:             DefaultVolumeName,
		VolumeSizeGB:           DefaultVolumeSizeGB,
		VolumeMountPath:        DefaultVolumeMountPath,
		ConfigFileName:         DefaultConfigFileName,
		TempMachineName:        DefaultTempMachineName,
		FinalMachineName:       DefaultFinalMachineName,
		BinaryPath:             DefaultBinaryPath,
		WebhookInternalPort:    DefaultWebhookInternalPort,
		HealthInternalPort:     DefaultHealthInternalPort,
		HealthExternalPort:     DefaultHealthExternalPort,
		HTTPSPort:              DefaultHTTPSPort,
		GuestCPUKind:           DefaultGuestCPUKind,
		GuestCPUs:              DefaultGuestCPUs,
		GuestMemoryMB:          DefaultGuestMemoryMB,
		SwapSizeMB:             DefaultSwapSizeMB,
		HealthCheckURLTemplate: DefaultHealthCheckURLTemplate,
		HealthcheckImage:       DefaultHealthcheckImage,
		APIListenAddr:          DefaultAPIListenAddr,
		WebUIListenAddr:        DefaultWebUIListenAddr,
		LogLevel:               DefaultLogLevel,
	}
}

// ConfigPath is the absolute path of the rendered config on the volume.
func (s *Settings) ConfigPath() string {
	return path.Join(s.VolumeMountPath, s.ConfigFileName)
}

// HealthCheckURL expands HealthCheckURLTemplate for the given app.
func (s *Settings) HealthCheckURL(app string) (string, error) {
	tmpl, err := template.New("healthcheck").Option("missingkey=error").Parse(s.HealthCheckURLTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse health check URL template: %w", err)
	}

	var b strings.Builder
	data := struct {
		App  string
		Port int
	}{App: app, Port: s.HealthExternalPort}
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render health check URL: %w", err)
	}
	return b.String(), nil
}

// Validate checks the settings for values no provider would accept.
func (s *Settings) Validate() error {
	var errs []error

	if s.Image == "" {
		errs = append(errs, errors.New("image is required"))
	}
	if s.Region == "" {
		errs = append(errs, errors.New("region is required"))
	}
	if s.VolumeName == "" {
		errs = append(errs, errors.New("volumeName is required"))
	}
	if s.VolumeSizeGB < 1 {
		errs = append(errs, errors.New("volumeSizeGB must be at least 1"))
	}
	if !path.IsAbs(s.VolumeMountPath) {
		errs = append(errs, fmt.Errorf("volumeMountPath must be absolute, got %q", s.VolumeMountPath))
	}
	if s.ConfigFileName == "" || strings.Contains(s.ConfigFileName, "/") {
		errs = append(errs, fmt.Errorf("configFileName must be a plain file name, got %q", s.ConfigFileName))
	}
	if s.TempMachineName == "" || s.FinalMachineName == "" {
		errs = append(errs, errors.New("tempMachineName and finalMachineName are required"))
	} else if s.TempMachineName == s.FinalMachineName {
		errs = append(errs, errors.New("tempMachineName and finalMachineName must differ"))
	}
	if s.BinaryPath == "" {
		errs = append(errs, errors.New("binaryPath is required"))
	}

	for name, port := range map[string]int{
		"webhookInternalPort": s.WebhookInternalPort,
		"healthInternalPort":  s.HealthInternalPort,
		"healthExternalPort":  s.HealthExternalPort,
		"httpsPort":           s.HTTPSPort,
	} {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s must be between 1 and 65535, got %d", name, port))
		}
	}
	if s.WebhookInternalPort == s.HealthInternalPort {
		errs = append(errs, errors.New("webhookInternalPort and healthInternalPort must differ"))
	}
	if s.HealthExternalPort == s.HTTPSPort {
		errs = append(errs, errors.New("healthExternalPort and httpsPort must differ"))
	}

	if s.GuestCPUs < 1 {
		errs = append(errs, errors.New("guestCPUs must be at least 1"))
	}
	if s.GuestMemoryMB < 1 {
		errs = append(errs, errors.New("guestMemoryMB must be at least 1"))
	}
	if s.SwapSizeMB < 0 {
		errs = append(errs, errors.New("swapSizeMB must not be negative"))
	}

	if _, err := s.HealthCheckURL("app"); err != nil {
		errs = append(errs, err)
	}
	if s.HealthcheckImage == "" {
		errs = append(errs, errors.New("healthcheckImage is required"))
	}

	return errors.Join(errs...)
}
