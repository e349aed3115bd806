package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ReservedComponentName is the built-in health check webhook. User components
// must not reuse it.
const ReservedComponentName = "webhook_healthcheck"

var (
	// appNameRegex is a DNS label that starts with a letter.
	appNameRegex = regexp.MustCompile(`^[a-z]([a-z0-9-]{0,61}[a-z0-9])?$`)

	envNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// validMethods are the HTTP methods a webhook route may declare.
var validMethods = map[string]bool{
	"GET":     true,
	"HEAD":    true,
	"POST":    true,
	"PUT":     true,
	"DELETE":  true,
	"CONNECT": true,
	"OPTIONS": true,
	"TRACE":   true,
	"PATCH":   true,
}

// Validate checks the spec and returns every problem found, joined.
func (s *DeploymentSpec) Validate() error {
	var errs []error

	if s.OrgSlug == "" {
		errs = append(errs, errors.New("orgSlug is required"))
	}
	if s.AppName == "" {
		errs = append(errs, errors.New("appName is required"))
	} else if !appNameRegex.MatchString(s.AppName) {
		errs = append(errs, fmt.Errorf("appName %q must be DNS-safe (lowercase alphanumeric and hyphens, must start with letter)", s.AppName))
	}

	seen := make(map[string]string)
	checkComponent := func(kind string, i int, name, location string) {
		field := fmt.Sprintf("%s[%d]", kind, i)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("%s.name is required", field))
		case name == ReservedComponentName:
			errs = append(errs, fmt.Errorf("%s.name %q is reserved", field, name))
		default:
			if prev, ok := seen[name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is already used by %s", field, name, prev))
			}
			seen[name] = field
		}
		if location == "" {
			errs = append(errs, fmt.Errorf("%s.location is required", field))
		} else if strings.ContainsAny(location, " \t\n\"") {
			errs = append(errs, fmt.Errorf("%s.location %q is not a valid image reference", field, location))
		}
	}

	for i, a := range s.Activities {
		checkComponent("activities", i, a.Name, a.Location)
		errs = append(errs, validateEnvVars(fmt.Sprintf("activities[%d]", i), a.EnvVars)...)
	}
	for i, w := range s.Workflows {
		checkComponent("workflows", i, w.Name, w.Location)
	}
	for i, w := range s.Webhooks {
		field := fmt.Sprintf("webhooks[%d]", i)
		checkComponent("webhooks", i, w.Name, w.Location)
		errs = append(errs, validateEnvVars(field, w.EnvVars)...)
		if len(w.Routes) == 0 {
			errs = append(errs, fmt.Errorf("%s.routes must not be empty", field))
		}
		for j, r := range w.Routes {
			errs = append(errs, validateRoute(fmt.Sprintf("%s.routes[%d]", field, j), r)...)
		}
	}

	return errors.Join(errs...)
}

func validateEnvVars(field string, envVars []string) []error {
	var errs []error
	for i, v := range envVars {
		name, _, _ := strings.Cut(v, "=")
		if !envNameRegex.MatchString(name) {
			errs = append(errs, fmt.Errorf("%s.envVars[%d] %q is not a valid environment variable", field, i, v))
		}
	}
	return errs
}

func validateRoute(field string, r Route) []error {
	var errs []error
	if strings.ContainsAny(r.Path, " \t\n") {
		errs = append(errs, fmt.Errorf("%s.path %q must not contain whitespace", field, r.Path))
	}
	if r.Path != "" && !strings.HasPrefix(r.Path, "/") {
		errs = append(errs, fmt.Errorf("%s.path %q must be empty or start with /", field, r.Path))
	}
	dup := make(map[string]bool)
	for _, m := range r.Methods {
		if !validMethods[m] {
			errs = append(errs, fmt.Errorf("%s.methods: %q is not a valid HTTP method", field, m))
		}
		if dup[m] {
			errs = append(errs, fmt.Errorf("%s.methods: %q listed twice", field, m))
		}
		dup[m] = true
	}
	return errs
}
