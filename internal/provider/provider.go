// Package provider defines the infrastructure control plane a deployment
// drives: apps, IP addresses, volumes, machines and secrets.
//
// Implementations live in internal/platform (Fly.io Machines, Hetzner Cloud)
// and internal/provider/fake (in-memory, for tests). Every method is a single
// synchronous call; retries and polling belong to the caller.
package provider

import "context"

// Provider is the infrastructure control plane.
//
// Lookups (GetApp, GetMachine) return (nil, nil) when the resource does not
// exist. DeleteApp treats a missing app as success. All other failures are
// returned as *Error.
type Provider interface {
	GetApp(ctx context.Context, name string) (*App, error)
	CreateApp(ctx context.Context, org, name string) (*App, error)
	DeleteApp(ctx context.Context, name string, force bool) error

	AllocateIP(ctx context.Context, app string, req IPRequest) (*IPAddress, error)
	ListIPs(ctx context.Context, app string) ([]IPAddress, error)
	ReleaseIP(ctx context.Context, app string, ip IPAddress) error

	CreateVolume(ctx context.Context, app string, req VolumeRequest) (*Volume, error)

	CreateMachine(ctx context.Context, app string, req MachineRequest) (*Machine, error)
	GetMachine(ctx context.Context, app, id string) (*Machine, error)
	Exec(ctx context.Context, app, id string, cmd []string) (*ExecResult, error)
	StopMachine(ctx context.Context, app, id string) error
	DeleteMachine(ctx context.Context, app, id string, force bool) error

	ListSecrets(ctx context.Context, app string) ([]Secret, error)
}

// Operation names, used in errors and metrics.
const (
	OpGetApp        = "apps.get"
	OpCreateApp     = "apps.put"
	OpDeleteApp     = "apps.delete"
	OpAllocateIP    = "ips.allocate"
	OpListIPs       = "ips.list"
	OpReleaseIP     = "ips.release"
	OpCreateVolume  = "volumes.create"
	OpCreateMachine = "machines.create"
	OpGetMachine    = "machines.get"
	OpExec          = "machines.exec"
	OpStopMachine   = "machines.stop"
	OpDeleteMachine = "machines.delete"
	OpListSecrets   = "secrets.list"
)
