package provider

import (
	"fmt"
	"time"
)

// App is a named application that owns every other resource.
type App struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Org    string `json:"org,omitempty"`
	Status string `json:"status,omitempty"`
}

// IPType is the address family of an allocated address.
type IPType string

const (
	IPv4 IPType = "v4"
	IPv6 IPType = "v6"
)

// IPRequest asks for one address.
type IPRequest struct {
	Type   IPType `json:"type"`
	Region string `json:"region,omitempty"`
}

// IPAddress is an address bound to an app. ListIPs returns them in creation order.
type IPAddress struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Type      IPType    `json:"type"`
	Region    string    `json:"region,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// VolumeRequest asks for a block volume.
type VolumeRequest struct {
	Name   string `json:"name"`
	SizeGB int    `json:"sizeGB"`
	Region string `json:"region"`
}

// Volume is a block volume owned by an app.
type Volume struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	SizeGB int    `json:"sizeGB"`
	Region string `json:"region"`
	State  string `json:"state,omitempty"`
}

// MachineState is the lifecycle state reported for a machine.
type MachineState string

const (
	MachineCreated   MachineState = "created"
	MachineStarting  MachineState = "starting"
	MachineStarted   MachineState = "started"
	MachineStopping  MachineState = "stopping"
	MachineStopped   MachineState = "stopped"
	MachineDestroyed MachineState = "destroyed"
)

// RestartPolicy tells the provider what to do when the machine's process exits.
type RestartPolicy string

const (
	RestartNo        RestartPolicy = "no"
	RestartAlways    RestartPolicy = "always"
	RestartOnFailure RestartPolicy = "on-failure"
)

// MachineRequest asks for a machine in a region.
type MachineRequest struct {
	Name   string        `json:"name"`
	Region string        `json:"region"`
	Config MachineConfig `json:"config"`
}

// MachineConfig is the desired shape of a machine.
type MachineConfig struct {
	Image    string        `json:"image"`
	Guest    Guest         `json:"guest"`
	Init     Init          `json:"init"`
	Restart  RestartPolicy `json:"restart"`
	Mounts   []Mount       `json:"mounts,omitempty"`
	Services []Service     `json:"services,omitempty"`
}

type Guest struct {
	CPUKind  string `json:"cpuKind"`
	CPUs     int    `json:"cpus"`
	MemoryMB int    `json:"memoryMB"`
}

// Init overrides the image's entrypoint and command. Empty slices keep the
// image defaults.
type Init struct {
	Entrypoint []string `json:"entrypoint,omitempty"`
	Cmd        []string `json:"cmd,omitempty"`
	SwapSizeMB int      `json:"swapSizeMB,omitempty"`
}

// Mount attaches a volume, by name, at Path.
type Mount struct {
	Volume string `json:"volume"`
	Path   string `json:"path"`
}

// Service exposes InternalPort on the public address.
type Service struct {
	InternalPort int    `json:"internalPort"`
	Protocol     string `json:"protocol"`
	Ports        []Port `json:"ports"`
}

// Port is an external port with its handlers (for example "tls").
type Port struct {
	Port     int      `json:"port"`
	Handlers []string `json:"handlers"`
}

// Machine is a compute instance owned by an app.
type Machine struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	State  MachineState `json:"state"`
	Region string       `json:"region,omitempty"`
}

// ExecResult is the outcome of a command run inside a machine. ExitCode is
// nil when the provider did not report one.
type ExecResult struct {
	ExitCode *int   `json:"exitCode,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// Succeeded reports whether the command exited with code 0.
func (r *ExecResult) Succeeded() bool {
	return r != nil && r.ExitCode != nil && *r.ExitCode == 0
}

func (r *ExecResult) String() string {
	if r == nil {
		return "<nil>"
	}
	code := "none"
	if r.ExitCode != nil {
		code = fmt.Sprintf("%d", *r.ExitCode)
	}
	return fmt.Sprintf("exit_code=%s stdout=%q stderr=%q", code, r.Stdout, r.Stderr)
}

// Secret is a named secret stored for an app. Values are never exposed.
type Secret struct {
	Name      string    `json:"name"`
	Digest    string    `json:"digest,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// SecretNames extracts the names of secrets.
func SecretNames(secrets []Secret) []string {
	names := make([]string, len(secrets))
	for i, s := range secrets {
		names[i] = s.Name
	}
	return names
}
