package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSettings builds Settings from defaults, then the YAML file at path (if
// path is non-empty), then environment overrides, and validates the result.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	if path != "" {
		// #nosec G304
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to parse settings YAML: %w", err)
		}
	}

	applySettingsEnv(s)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("settings validation failed: %w", err)
	}
	return s, nil
}

// applySettingsEnv overrides the most commonly varied settings from the environment.
//
// Environment Variables:
//   - APPINIT_IMAGE
//   - APPINIT_REGION
//   - APPINIT_HEALTHCHECK_URL_TEMPLATE
func applySettingsEnv(s *Settings) {
	if v := os.Getenv("APPINIT_IMAGE"); v != "" {
		s.Image = v
	}
	if v := os.Getenv("APPINIT_REGION"); v != "" {
		s.Region = v
	}
	if v := os.Getenv("APPINIT_HEALTHCHECK_URL_TEMPLATE"); v != "" {
		s.HealthCheckURLTemplate = v
	}
}

// Credentials are the provider secrets read from the environment. They are
// never written to a settings file.
type Credentials struct {
	FlyAPIToken    string
	FlyAPIHostname string

	HCloudToken             string
	HCloudSSHKey            string
	HCloudSSHPrivateKeyFile string

	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
}

// LoadCredentials reads provider credentials from the environment.
func LoadCredentials() *Credentials {
	return &Credentials{
		FlyAPIToken:             os.Getenv("FLY_API_TOKEN"),
		FlyAPIHostname:          envOr("FLY_API_HOSTNAME", "https://api.machines.dev"),
		HCloudToken:             os.Getenv("HCLOUD_TOKEN"),
		HCloudSSHKey:            os.Getenv("HCLOUD_SSH_KEY"),
		HCloudSSHPrivateKeyFile: os.Getenv("HCLOUD_SSH_PRIVATE_KEY_FILE"),
		S3Endpoint:              os.Getenv("APPINIT_S3_ENDPOINT"),
		S3Region:                envOr("APPINIT_S3_REGION", "us-east-1"),
		S3AccessKey:             os.Getenv("APPINIT_S3_ACCESS_KEY"),
		S3SecretKey:             os.Getenv("APPINIT_S3_SECRET_KEY"),
		S3Bucket:                os.Getenv("APPINIT_S3_BUCKET"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
