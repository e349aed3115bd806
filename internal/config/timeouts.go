package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts holds the polling budgets and transport retry settings of a deployment.
// These values can be customized via environment variables.
type Timeouts struct {
	BootstrapPollAttempts int           // Readiness polls of the bootstrap machine before proceeding anyway
	BootstrapPollInterval time.Duration // Delay between bootstrap readiness polls
	BootstrapStopGrace    time.Duration // Wait between stopping and force-deleting the bootstrap machine
	SecretsPollInterval   time.Duration // Delay between secret listings
	SecretsDeadline       time.Duration // Upper bound for the secrets wait, zero means unbounded
	SecretsPollsPerRound  int           // Secret listings per journal checkpoint of the secrets wait
	HealthPollInterval    time.Duration // Delay between health checks
	HealthCheckTimeout    time.Duration // Timeout of a single health check request
	RetryMaxAttempts      int           // Maximum number of transport retry attempts
	RetryInitialDelay     time.Duration // Initial delay between transport retries
	Delete                time.Duration // Timeout for delete operations
}

// LoadTimeouts loads timeout configuration from environment variables.
// If an environment variable is not set or invalid, a default value is used.
//
// Environment Variables:
//   - APPINIT_BOOTSTRAP_POLL_ATTEMPTS (default: 10)
//   - APPINIT_BOOTSTRAP_POLL_INTERVAL (default: 1s)
//   - APPINIT_BOOTSTRAP_STOP_GRACE (default: 5s)
//   - APPINIT_SECRETS_POLL_INTERVAL (default: 10s)
//   - APPINIT_SECRETS_DEADLINE (default: 0, unbounded)
//   - APPINIT_SECRETS_POLLS_PER_ROUND (default: 60)
//   - APPINIT_HEALTH_POLL_INTERVAL (default: 1s)
//   - APPINIT_HEALTH_CHECK_TIMEOUT (default: 10s)
//   - APPINIT_RETRY_MAX_ATTEMPTS (default: 5)
//   - APPINIT_RETRY_INITIAL_DELAY (default: 1s)
//   - APPINIT_DELETE_TIMEOUT (default: 5m)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		BootstrapPollAttempts: parseInt("APPINIT_BOOTSTRAP_POLL_ATTEMPTS", 10),
		BootstrapPollInterval: parseDuration("APPINIT_BOOTSTRAP_POLL_INTERVAL", 1*time.Second),
		BootstrapStopGrace:    parseDuration("APPINIT_BOOTSTRAP_STOP_GRACE", 5*time.Second),
		SecretsPollInterval:   parseDuration("APPINIT_SECRETS_POLL_INTERVAL", 10*time.Second),
		SecretsDeadline:       parseDuration("APPINIT_SECRETS_DEADLINE", 0),
		SecretsPollsPerRound:  parseInt("APPINIT_SECRETS_POLLS_PER_ROUND", 60),
		HealthPollInterval:    parseDuration("APPINIT_HEALTH_POLL_INTERVAL", 1*time.Second),
		HealthCheckTimeout:    parseDuration("APPINIT_HEALTH_CHECK_TIMEOUT", 10*time.Second),
		RetryMaxAttempts:      parseInt("APPINIT_RETRY_MAX_ATTEMPTS", 5),
		RetryInitialDelay:     parseDuration("APPINIT_RETRY_INITIAL_DELAY", 1*time.Second),
		Delete:                parseDuration("APPINIT_DELETE_TIMEOUT", 5*time.Minute),
	}
}

// parseDuration parses a duration from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(val)
	if err != nil || d < 0 {
		return defaultVal
	}

	return d
}

// parseInt parses an integer from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return defaultVal
	}

	return i
}
