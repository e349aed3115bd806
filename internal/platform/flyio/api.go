package flyio

import (
	"time"

	"github.com/imamik/appinit/internal/provider"
)

// Wire types of the Machines API.

type apiError struct {
	Error string `json:"error"`
}

type apiOrg struct {
	Slug string `json:"slug"`
}

type apiApp struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	Organization *apiOrg `json:"organization,omitempty"`
}

type createAppRequest struct {
	AppName string `json:"app_name"`
	OrgSlug string `json:"org_slug"`
}

type ipAssignmentRequest struct {
	Type   string `json:"type"`
	Region string `json:"region,omitempty"`
}

type apiIP struct {
	IP        string    `json:"ip"`
	Region    string    `json:"region"`
	CreatedAt time.Time `json:"created_at"`
	Shared    bool      `json:"shared"`
}

type listIPsResponse struct {
	IPs []apiIP `json:"ips"`
}

type createVolumeRequest struct {
	Name   string `json:"name"`
	SizeGB int    `json:"size_gb"`
	Region string `json:"region"`
}

type apiVolume struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	SizeGB int    `json:"size_gb"`
	Region string `json:"region"`
	State  string `json:"state"`
}

type createMachineRequest struct {
	Name   string           `json:"name"`
	Region string           `json:"region"`
	Config apiMachineConfig `json:"config"`
}

type apiMachineConfig struct {
	Image      string       `json:"image"`
	Guest      apiGuest     `json:"guest"`
	Init       apiInit      `json:"init"`
	Restart    apiRestart   `json:"restart"`
	Mounts     []apiMount   `json:"mounts,omitempty"`
	Services   []apiService `json:"services,omitempty"`
	SwapSizeMB int          `json:"swap_size_mb,omitempty"`
}

type apiGuest struct {
	CPUKind  string `json:"cpu_kind"`
	CPUs     int    `json:"cpus"`
	MemoryMB int    `json:"memory_mb"`
}

type apiInit struct {
	Entrypoint []string `json:"entrypoint,omitempty"`
	Cmd        []string `json:"cmd,omitempty"`
}

type apiRestart struct {
	Policy string `json:"policy"`
}

type apiMount struct {
	Volume string `json:"volume"`
	Path   string `json:"path"`
}

type apiService struct {
	Protocol     string    `json:"protocol"`
	InternalPort int       `json:"internal_port"`
	Ports        []apiPort `json:"ports"`
}

type apiPort struct {
	Port     int      `json:"port"`
	Handlers []string `json:"handlers,omitempty"`
}

type apiMachine struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	State  string `json:"state"`
	Region string `json:"region"`
}

type execRequest struct {
	Command []string `json:"command"`
	Timeout int      `json:"timeout,omitempty"`
}

type execResponse struct {
	ExitCode *int   `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

type apiSecret struct {
	Name      string    `json:"name"`
	Digest    string    `json:"digest"`
	CreatedAt time.Time `json:"created_at"`
}

type listSecretsResponse struct {
	Secrets []apiSecret `json:"secrets"`
}

func (a apiApp) toProvider() *provider.App {
	app := &provider.App{ID: a.ID, Name: a.Name, Status: a.Status}
	if a.Organization != nil {
		app.Org = a.Organization.Slug
	}
	return app
}

func (ip apiIP) toProvider() provider.IPAddress {
	t := provider.IPv4
	if isIPv6(ip.IP) {
		t = provider.IPv6
	}
	return provider.IPAddress{ID: ip.IP, Address: ip.IP, Type: t, Region: ip.Region, CreatedAt: ip.CreatedAt}
}

func (v apiVolume) toProvider() *provider.Volume {
	return &provider.Volume{ID: v.ID, Name: v.Name, SizeGB: v.SizeGB, Region: v.Region, State: v.State}
}

func (m apiMachine) toProvider() *provider.Machine {
	return &provider.Machine{ID: m.ID, Name: m.Name, State: provider.MachineState(m.State), Region: m.Region}
}

func machineConfig(cfg provider.MachineConfig, mounts []apiMount) apiMachineConfig {
	out := apiMachineConfig{
		Image: cfg.Image,
		Guest: apiGuest{CPUKind: cfg.Guest.CPUKind, CPUs: cfg.Guest.CPUs, MemoryMB: cfg.Guest.MemoryMB},
		Init: apiInit{
			Entrypoint: cfg.Init.Entrypoint,
			Cmd:        cfg.Init.Cmd,
		},
		Restart:    apiRestart{Policy: string(cfg.Restart)},
		Mounts:     mounts,
		SwapSizeMB: cfg.Init.SwapSizeMB,
	}
	for _, s := range cfg.Services {
		svc := apiService{Protocol: s.Protocol, InternalPort: s.InternalPort}
		for _, p := range s.Ports {
			svc.Ports = append(svc.Ports, apiPort{Port: p.Port, Handlers: p.Handlers})
		}
		out.Services = append(out.Services, svc)
	}
	return out
}
