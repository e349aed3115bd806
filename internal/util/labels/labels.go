package labels

// Standard label keys for Hetzner Cloud resources.
const (
	// KeyApp identifies which app a resource belongs to
	KeyApp = "appinit.io/app"

	// KeyOrg records the organization the app was created for
	KeyOrg = "appinit.io/org"

	// KeyMachine names the machine a server runs
	KeyMachine = "appinit.io/machine"

	// KeyVolume names the volume as requested, without the app prefix
	KeyVolume = "appinit.io/volume"

	// KeyManagedBy identifies the management system
	KeyManagedBy = "appinit.io/managed-by"
)

// ManagedByAppinit is the KeyManagedBy value of resources created here.
const ManagedByAppinit = "appinit"

// LabelBuilder provides a fluent interface for building Hetzner Cloud resource labels.
type LabelBuilder struct {
	labels map[string]string
}

// NewLabelBuilder creates a new label builder with the app name pre-set.
func NewLabelBuilder(app string) *LabelBuilder {
	return &LabelBuilder{
		labels: map[string]string{
			KeyApp:       app,
			KeyManagedBy: ManagedByAppinit,
		},
	}
}

// WithOrg adds the organization label. Empty values are skipped.
func (lb *LabelBuilder) WithOrg(org string) *LabelBuilder {
	if org != "" {
		lb.labels[KeyOrg] = org
	}
	return lb
}

// WithMachine adds the machine name label.
func (lb *LabelBuilder) WithMachine(name string) *LabelBuilder {
	lb.labels[KeyMachine] = name
	return lb
}

// WithVolume adds the volume name label.
func (lb *LabelBuilder) WithVolume(name string) *LabelBuilder {
	lb.labels[KeyVolume] = name
	return lb
}

// Merge adds all labels from the provided map.
func (lb *LabelBuilder) Merge(extra map[string]string) *LabelBuilder {
	for k, v := range extra {
		lb.labels[k] = v
	}
	return lb
}

// Build returns a copy of the labels map.
func (lb *LabelBuilder) Build() map[string]string {
	result := make(map[string]string, len(lb.labels))
	for k, v := range lb.labels {
		result[k] = v
	}
	return result
}

// SelectorForApp returns a label selector string for all resources of an app.
func SelectorForApp(app string) string {
	return KeyApp + "=" + app
}

// IsManaged reports whether labels mark a resource created by appinit.
func IsManaged(labels map[string]string) bool {
	return labels[KeyManagedBy] == ManagedByAppinit
}
