package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSpec loads and validates a deployment spec from a file.
func LoadSpec(path string) (*DeploymentSpec, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}
	return LoadSpecFromBytes(data)
}

// LoadSpecFromBytes loads and validates a deployment spec from bytes.
func LoadSpecFromBytes(data []byte) (*DeploymentSpec, error) {
	spec, err := parseSpec(data)
	if err != nil {
		return nil, err
	}

	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("spec validation failed: %w", err)
	}

	return spec, nil
}

// parseSpec parses YAML data into a DeploymentSpec.
func parseSpec(data []byte) (*DeploymentSpec, error) {
	var spec DeploymentSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &spec, nil
}
