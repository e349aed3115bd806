package config

import (
	"sort"
	"strings"
)

// RequiredSecretSet holds the secret names a deployment waits for. Values are
// never stored.
type RequiredSecretSet map[string]struct{}

// RequiredSecrets derives the secret names referenced by activities and
// webhooks. Entries of the form KEY=value are literals and are not secrets.
// Workflows cannot reference environment variables.
func RequiredSecrets(spec *DeploymentSpec) RequiredSecretSet {
	set := make(RequiredSecretSet)
	if spec == nil {
		return set
	}
	add := func(envVars []string) {
		for _, v := range envVars {
			if strings.Contains(v, "=") {
				continue
			}
			set[v] = struct{}{}
		}
	}
	for _, a := range spec.Activities {
		add(a.EnvVars)
	}
	for _, w := range spec.Webhooks {
		add(w.EnvVars)
	}
	return set
}

// NewRequiredSecretSet builds a set from names, deduplicating them.
func NewRequiredSecretSet(names ...string) RequiredSecretSet {
	set := make(RequiredSecretSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Has reports whether name is required.
func (s RequiredSecretSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the names in lexical order.
func (s RequiredSecretSet) Sorted() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Missing returns the required names absent from reported, sorted.
// An empty result means the set is a subset of reported.
func (s RequiredSecretSet) Missing(reported []string) []string {
	present := make(map[string]bool, len(reported))
	for _, r := range reported {
		present[r] = true
	}
	var missing []string
	for _, n := range s.Sorted() {
		if !present[n] {
			missing = append(missing, n)
		}
	}
	return missing
}

// SatisfiedBy reports whether every required name appears in reported.
func (s RequiredSecretSet) SatisfiedBy(reported []string) bool {
	return len(s.Missing(reported)) == 0
}
