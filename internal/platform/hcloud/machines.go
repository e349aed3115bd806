package hcloud

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/appinit/internal/platform/ssh"
	"github.com/imamik/appinit/internal/provider"
	"github.com/imamik/appinit/internal/util/labels"
	"github.com/imamik/appinit/internal/util/naming"
)

func machineState(status hcloud.ServerStatus) provider.MachineState {
	switch status {
	case hcloud.ServerStatusRunning:
		return provider.MachineStarted
	case hcloud.ServerStatusStopping:
		return provider.MachineStopping
	case hcloud.ServerStatusOff:
		return provider.MachineStopped
	case hcloud.ServerStatusDeleting:
		return provider.MachineDestroyed
	default:
		return provider.MachineStarting
	}
}

// containerState maps docker's container status.
func containerState(status string) provider.MachineState {
	switch strings.TrimSpace(status) {
	case "running":
		return provider.MachineStarted
	case "exited", "dead":
		return provider.MachineStopped
	case "removing":
		return provider.MachineDestroyed
	default:
		return provider.MachineStarting
	}
}

func machineFromServer(s *hcloud.Server, state provider.MachineState) *provider.Machine {
	m := &provider.Machine{
		ID:    strconv.FormatInt(s.ID, 10),
		Name:  s.Labels[labels.KeyMachine],
		State: state,
	}
	if s.Datacenter != nil && s.Datacenter.Location != nil {
		m.Region = s.Datacenter.Location.Name
	}
	return m
}

// server returns the app's server with the given machine ID, or nil.
func (p *Provider) server(ctx context.Context, app, id string) (*hcloud.Server, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, nil
	}
	s, _, err := p.client.Server.GetByID(ctx, n)
	if err != nil {
		return nil, err
	}
	if s == nil || s.Labels[labels.KeyApp] != app {
		return nil, nil
	}
	return s, nil
}

// freePrimaryIP returns the app's oldest unassigned primary IP, or nil.
func (p *Provider) freePrimaryIP(ctx context.Context, app string) (*hcloud.PrimaryIP, error) {
	ips, err := p.appPrimaryIPs(ctx, app)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if ip.AssigneeID == 0 {
			return ip, nil
		}
	}
	return nil, nil
}

func (p *Provider) sshKey(ctx context.Context, app string) (*hcloud.SSHKey, error) {
	name := p.sshKeyName
	if name == "" {
		name = naming.SSHKey(app)
	}
	key, _, err := p.client.SSHKey.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, provider.NotFoundError(provider.OpCreateMachine, "ssh key %q not found", name)
	}
	return key, nil
}

// CreateMachine creates a server whose cloud-init mounts the requested
// volumes and runs the machine's image as a container. Machines exposing
// services get the app's first free primary IP and open their ports on the
// app firewall.
func (p *Provider) CreateMachine(ctx context.Context, app string, req provider.MachineRequest) (*provider.Machine, error) {
	op := provider.OpCreateMachine
	cfg := req.Config

	spec := containerSpec{
		Name:       req.Name,
		Image:      cfg.Image,
		Entrypoint: cfg.Init.Entrypoint,
		Cmd:        cfg.Init.Cmd,
		Restart:    cfg.Restart,
		CPUs:       cfg.Guest.CPUs,
		MemoryMB:   cfg.Guest.MemoryMB,
		SwapSizeMB: cfg.Init.SwapSizeMB,
	}

	var volumes []*hcloud.Volume
	for _, m := range cfg.Mounts {
		v, _, err := p.client.Volume.Get(ctx, naming.Volume(app, m.Volume))
		if err != nil {
			return nil, apiError(op, err)
		}
		if v == nil {
			return nil, provider.NotFoundError(op, "volume %q not found", m.Volume)
		}
		volumes = append(volumes, v)
		spec.Mounts = append(spec.Mounts, containerMount{
			Device:        volumeDevice(v.ID),
			HostPath:      "/mnt/" + m.Volume,
			ContainerPath: m.Path,
		})
	}

	var ports []int
	for _, svc := range cfg.Services {
		for _, port := range svc.Ports {
			spec.Ports = append(spec.Ports, portMapping{External: port.Port, Internal: svc.InternalPort})
			ports = append(ports, port.Port)
		}
	}
	fw, err := p.openPorts(ctx, app, ports)
	if err != nil {
		return nil, apiError(op, err)
	}

	if p.store != nil {
		env, err := p.store.SecretValues(ctx, app)
		if err != nil {
			return nil, apiError(op, fmt.Errorf("load secrets: %w", err))
		}
		spec.Env = env
	}
	userData, err := renderUserData(spec)
	if err != nil {
		return nil, apiError(op, err)
	}

	key, err := p.sshKey(ctx, app)
	if err != nil {
		return nil, apiError(op, err)
	}

	opts := hcloud.ServerCreateOpts{
		Name:             naming.Server(app, req.Name),
		ServerType:       &hcloud.ServerType{Name: p.serverType},
		Image:            &hcloud.Image{Name: p.serverImage},
		SSHKeys:          []*hcloud.SSHKey{key},
		UserData:         userData,
		Labels:           labels.NewLabelBuilder(app).WithMachine(req.Name).Build(),
		Volumes:          volumes,
		Automount:        hcloud.Ptr(false),
		Firewalls:        []*hcloud.ServerCreateFirewall{{Firewall: *fw}},
		StartAfterCreate: hcloud.Ptr(true),
		PublicNet:        &hcloud.ServerCreatePublicNet{EnableIPv4: true, EnableIPv6: true},
	}

	location := req.Region
	if location == "" {
		location = p.location
	}
	opts.Location = &hcloud.Location{Name: location}

	if len(ports) > 0 {
		ip, err := p.freePrimaryIP(ctx, app)
		if err != nil {
			return nil, apiError(op, err)
		}
		if ip != nil {
			// A primary IP pins the server to its datacenter.
			opts.Location = nil
			opts.Datacenter = ip.Datacenter
			if ip.Type == hcloud.PrimaryIPTypeIPv6 {
				opts.PublicNet.IPv6 = ip
			} else {
				opts.PublicNet.IPv4 = ip
			}
		}
	}

	res, _, err := p.client.Server.Create(ctx, opts)
	if err != nil {
		return nil, apiError(op, err)
	}
	if err := waitForActions(ctx, p.client, append([]*hcloud.Action{res.Action}, res.NextActions...)...); err != nil {
		return nil, apiError(op, err)
	}

	p.log.V(1).Info("created server", "app", app, "machine", req.Name, "server", res.Server.ID)
	return machineFromServer(res.Server, provider.MachineCreated), nil
}

// GetMachine reports a running server as started only once its container
// runs; until then it is starting.
func (p *Provider) GetMachine(ctx context.Context, app, id string) (*provider.Machine, error) {
	s, err := p.server(ctx, app, id)
	if err != nil {
		return nil, apiError(provider.OpGetMachine, err)
	}
	if s == nil {
		return nil, nil
	}

	state := machineState(s.Status)
	if state == provider.MachineStarted {
		state = p.inspectContainer(ctx, app, s)
	}
	return machineFromServer(s, state), nil
}

func (p *Provider) inspectContainer(ctx context.Context, app string, s *hcloud.Server) provider.MachineState {
	runner, err := p.runner(ctx, app, s, 1)
	if err != nil {
		p.log.V(1).Info("container state unavailable", "server", s.ID, "error", err.Error())
		return provider.MachineStarting
	}
	name := s.Labels[labels.KeyMachine]
	res, err := runner.Run(ctx, ssh.Quote([]string{"docker", "inspect", "--format", "{{.State.Status}}", name}))
	if err != nil || res.ExitCode != 0 {
		return provider.MachineStarting
	}
	return containerState(res.Stdout)
}

// serverHost prefers the public IPv4 address.
func serverHost(s *hcloud.Server) (string, error) {
	if ip := s.PublicNet.IPv4.IP; ip != nil && !ip.IsUnspecified() {
		return ip.String(), nil
	}
	if ip := s.PublicNet.IPv6.IP; ip != nil && !ip.IsUnspecified() {
		return hostAddress(ip, s.PublicNet.IPv6.Network), nil
	}
	return "", fmt.Errorf("server %d has no public address", s.ID)
}

func (p *Provider) runner(ctx context.Context, app string, s *hcloud.Server, attempts int) (Runner, error) {
	host, err := serverHost(s)
	if err != nil {
		return nil, err
	}
	key := p.sshPrivateKey
	if len(key) == 0 {
		if p.store == nil {
			return nil, errors.New("no machine key: configure an SSH key or object storage")
		}
		if key, err = p.store.PrivateKey(ctx, app); err != nil {
			return nil, fmt.Errorf("load machine key: %w", err)
		}
		if len(key) == 0 {
			return nil, fmt.Errorf("no machine key stored for app %q", app)
		}
	}
	return p.dial(host, key, attempts)
}

// Exec runs cmd in the machine's container once cloud-init has finished
// starting it.
func (p *Provider) Exec(ctx context.Context, app, id string, cmd []string) (*provider.ExecResult, error) {
	s, err := p.server(ctx, app, id)
	if err != nil {
		return nil, apiError(provider.OpExec, err)
	}
	if s == nil {
		return nil, provider.NotFoundError(provider.OpExec, "machine %s not found", id)
	}
	runner, err := p.runner(ctx, app, s, 0)
	if err != nil {
		return nil, apiError(provider.OpExec, err)
	}

	docker := append([]string{"docker", "exec", s.Labels[labels.KeyMachine]}, cmd...)
	res, err := runner.Run(ctx, "cloud-init status --wait >/dev/null 2>&1; exec "+ssh.Quote(docker))
	if err != nil {
		return nil, apiError(provider.OpExec, err)
	}
	code := res.ExitCode
	return &provider.ExecResult{ExitCode: &code, Stdout: res.Stdout, Stderr: res.Stderr}, nil
}

func (p *Provider) StopMachine(ctx context.Context, app, id string) error {
	s, err := p.server(ctx, app, id)
	if err != nil {
		return apiError(provider.OpStopMachine, err)
	}
	if s == nil {
		return provider.NotFoundError(provider.OpStopMachine, "machine %s not found", id)
	}
	if _, _, err := p.client.Server.Shutdown(ctx, s); err != nil {
		return apiError(provider.OpStopMachine, err)
	}
	return nil
}

// DeleteMachine deletes the server. Hetzner deletes are always forced.
func (p *Provider) DeleteMachine(ctx context.Context, app, id string, _ bool) error {
	s, err := p.server(ctx, app, id)
	if err != nil {
		return apiError(provider.OpDeleteMachine, err)
	}
	if s == nil {
		return provider.NotFoundError(provider.OpDeleteMachine, "machine %s not found", id)
	}
	if _, err := p.deleteServer(ctx, s); err != nil {
		return apiError(provider.OpDeleteMachine, err)
	}
	return nil
}

func (p *Provider) deleteServer(ctx context.Context, s *hcloud.Server) (*hcloud.Response, error) {
	res, resp, err := p.client.Server.DeleteWithResult(ctx, s)
	if err != nil {
		return resp, err
	}
	return resp, waitForActions(ctx, p.client, res.Action)
}
