package config

// DeploymentSpec describes one application: its owner, its name and the
// components the runtime loads. It is read once and never mutated while a
// deployment runs.
type DeploymentSpec struct {
	// OrgSlug is the provider organization the app is created in.
	OrgSlug string `yaml:"orgSlug" json:"orgSlug"`

	// AppName is the provider-unique app name. It also keys the durable execution.
	AppName string `yaml:"appName" json:"appName"`

	Activities []ActivityWasm    `yaml:"activities,omitempty" json:"activities,omitempty"`
	Workflows  []Workflow        `yaml:"workflows,omitempty" json:"workflows,omitempty"`
	Webhooks   []WebhookEndpoint `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// ActivityWasm is an activity component pulled from an OCI registry.
type ActivityWasm struct {
	Name     string `yaml:"name" json:"name"`
	Location string `yaml:"location" json:"location"`

	// EnvVars lists either secret names (resolved at runtime) or literal
	// KEY=value assignments.
	EnvVars []string `yaml:"envVars,omitempty" json:"envVars,omitempty"`

	LockExpirySeconds *uint32 `yaml:"lockExpirySeconds,omitempty" json:"lockExpirySeconds,omitempty"`
}

// Workflow is a workflow component pulled from an OCI registry.
type Workflow struct {
	Name     string `yaml:"name" json:"name"`
	Location string `yaml:"location" json:"location"`
}

// WebhookEndpoint is a webhook component served by the webhook HTTP server.
type WebhookEndpoint struct {
	Name     string   `yaml:"name" json:"name"`
	Location string   `yaml:"location" json:"location"`
	Routes   []Route  `yaml:"routes" json:"routes"`
	EnvVars  []string `yaml:"envVars,omitempty" json:"envVars,omitempty"`
}

// Route binds a path to a set of HTTP methods. An empty method list accepts
// every method.
type Route struct {
	Methods []string `yaml:"methods,omitempty" json:"methods,omitempty"`
	Path    string   `yaml:"path" json:"path"`
}
