// Package fake provides an in-memory provider.Provider for tests.
//
// The fake keeps real state (apps own IPs, volumes, machines and secrets) so
// tests can assert what survives a deployment. Failures are injected per
// operation with SetError or FailNext.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/imamik/appinit/internal/provider"
)

// Call is one recorded provider invocation.
type Call struct {
	Op  string
	App string
}

// Provider is an in-memory provider.Provider. The zero value is not usable;
// call New.
type Provider struct {
	// ExtraIPsPerAllocate makes every AllocateIP call create this many
	// additional addresses, like a retried non-idempotent allocation.
	ExtraIPsPerAllocate int

	// StartAfterPolls is the number of GetMachine calls a machine answers with
	// MachineStarting before it reports MachineStarted.
	StartAfterPolls int

	// ExecFunc handles Exec. Nil means exit code 0 with no output.
	ExecFunc func(app, machineID string, cmd []string) (*provider.ExecResult, error)

	// OnCall runs before every operation, outside the lock, so it may call
	// back into the fake.
	OnCall func(op, app string)

	mu       sync.Mutex
	apps     map[string]*appState
	errs     map[string]error
	failNext map[string][]error
	calls    []Call
	seq      int
	epoch    time.Time
}

type appState struct {
	app      provider.App
	ips      []provider.IPAddress
	volumes  []provider.Volume
	machines map[string]*machineState
	secrets  map[string]provider.Secret
}

type machineState struct {
	machine provider.Machine
	request provider.MachineRequest
	polls   int
	execs   [][]string
}

var _ provider.Provider = (*Provider)(nil)

// New returns an empty fake provider.
func New() *Provider {
	return &Provider{
		apps:     make(map[string]*appState),
		errs:     make(map[string]error),
		failNext: make(map[string][]error),
		epoch:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// SetError makes every call of op fail with err until cleared with a nil err.
func (p *Provider) SetError(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, op)
		return
	}
	p.errs[op] = err
}

// FailNext queues err for the next call of op only.
func (p *Provider) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext[op] = append(p.failNext[op], err)
}

// AddApp registers an app directly, bypassing CreateApp.
func (p *Provider) AddApp(org, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addAppLocked(org, name)
}

// RemoveApp deletes an app and everything it owns, as if done out-of-band.
func (p *Provider) RemoveApp(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.apps, name)
}

// SetSecrets adds secrets with the given names to an app.
func (p *Provider) SetSecrets(app string, names ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.apps[app]
	if !ok {
		return
	}
	for _, n := range names {
		a.secrets[n] = provider.Secret{Name: n, Digest: fmt.Sprintf("digest-%s", n), CreatedAt: p.tickLocked()}
	}
}

// HasApp reports whether an app exists.
func (p *Provider) HasApp(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.apps[name]
	return ok
}

// AppCount returns the number of apps.
func (p *Provider) AppCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.apps)
}

// IPs returns the addresses of an app in creation order.
func (p *Provider) IPs(app string) []provider.IPAddress {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.apps[app]
	if !ok {
		return nil
	}
	return append([]provider.IPAddress(nil), a.ips...)
}

// Volumes returns the volumes of an app.
func (p *Provider) Volumes(app string) []provider.Volume {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.apps[app]
	if !ok {
		return nil
	}
	return append([]provider.Volume(nil), a.volumes...)
}

// Machines returns the machines of an app, sorted by ID.
func (p *Provider) Machines(app string) []provider.Machine {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.apps[app]
	if !ok {
		return nil
	}
	out := make([]provider.Machine, 0, len(a.machines))
	for _, m := range a.machines {
		out = append(out, m.machine)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MachineRequest returns the request a machine was created with.
func (p *Provider) MachineRequest(app, id string) (provider.MachineRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.apps[app]
	if !ok {
		return provider.MachineRequest{}, false
	}
	m, ok := a.machines[id]
	if !ok {
		return provider.MachineRequest{}, false
	}
	return m.request, true
}

// Calls returns every recorded call in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallCount returns how many times op was called.
func (p *Provider) CallCount(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Reset clears recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

// begin records the call, runs the hook and returns an injected error.
func (p *Provider) begin(ctx context.Context, op, app string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.OnCall != nil {
		p.OnCall(op, app)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Op: op, App: app})
	if queued := p.failNext[op]; len(queued) > 0 {
		p.failNext[op] = queued[1:]
		return provider.NewError(op, queued[0])
	}
	if err, ok := p.errs[op]; ok {
		return provider.NewError(op, err)
	}
	return nil
}

func (p *Provider) tickLocked() time.Time {
	p.seq++
	return p.epoch.Add(time.Duration(p.seq) * time.Second)
}

func (p *Provider) nextIDLocked(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s-%04d", prefix, p.seq)
}

func (p *Provider) addAppLocked(org, name string) *appState {
	a := &appState{
		app:      provider.App{ID: p.nextIDLocked("app"), Name: name, Org: org, Status: "pending"},
		machines: make(map[string]*machineState),
		secrets:  make(map[string]provider.Secret),
	}
	p.apps[name] = a
	return a
}

func (p *Provider) appLocked(op, name string) (*appState, error) {
	a, ok := p.apps[name]
	if !ok {
		return nil, provider.NotFoundError(op, "app %q not found", name)
	}
	return a, nil
}

func (p *Provider) GetApp(ctx context.Context, name string) (*provider.App, error) {
	if err := p.begin(ctx, provider.OpGetApp, name); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.apps[name]
	if !ok {
		return nil, nil
	}
	app := a.app
	return &app, nil
}

func (p *Provider) CreateApp(ctx context.Context, org, name string) (*provider.App, error) {
	if err := p.begin(ctx, provider.OpCreateApp, name); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.apps[name]; ok {
		return nil, &provider.Error{Op: provider.OpCreateApp, Message: fmt.Sprintf("app %q already exists", name), StatusCode: 422}
	}
	app := p.addAppLocked(org, name).app
	return &app, nil
}

func (p *Provider) DeleteApp(ctx context.Context, name string, _ bool) error {
	if err := p.begin(ctx, provider.OpDeleteApp, name); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.apps, name)
	return nil
}

func (p *Provider) AllocateIP(ctx context.Context, app string, req provider.IPRequest) (*provider.IPAddress, error) {
	if err := p.begin(ctx, provider.OpAllocateIP, app); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a, err := p.appLocked(provider.OpAllocateIP, app)
	if err != nil {
		return nil, err
	}
	var first provider.IPAddress
	for i := 0; i <= p.ExtraIPsPerAllocate; i++ {
		p.seq++
		ip := provider.IPAddress{
			ID:        fmt.Sprintf("ip-%04d", p.seq),
			Address:   fmt.Sprintf("2a09:8280:1::%x", p.seq),
			Type:      req.Type,
			Region:    req.Region,
			CreatedAt: p.epoch.Add(time.Duration(p.seq) * time.Second),
		}
		a.ips = append(a.ips, ip)
		if i == 0 {
			first = ip
		}
	}
	return &first, nil
}

func (p *Provider) ListIPs(ctx context.Context, app string) ([]provider.IPAddress, error) {
	if err := p.begin(ctx, provider.OpListIPs, app); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a, err := p.appLocked(provider.OpListIPs, app)
	if err != nil {
		return nil, err
	}
	return append([]provider.IPAddress(nil), a.ips...), nil
}

func (p *Provider) ReleaseIP(ctx context.Context, app string, ip provider.IPAddress) error {
	if err := p.begin(ctx, provider.OpReleaseIP, app); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a, err := p.appLocked(provider.OpReleaseIP, app)
	if err != nil {
		return err
	}
	for i, existing := range a.ips {
		if existing.Address == ip.Address {
			a.ips = append(a.ips[:i], a.ips[i+1:]...)
			return nil
		}
	}
	return provider.NotFoundError(provider.OpReleaseIP, "ip %s not found", ip.Address)
}

func (p *Provider) CreateVolume(ctx context.Context, app string, req provider.VolumeRequest) (*provider.Volume, error) {
	if err := p.begin(ctx, provider.OpCreateVolume, app); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a, err := p.appLocked(provider.OpCreateVolume, app)
	if err != nil {
		return nil, err
	}
	vol := provider.Volume{
		ID:     p.nextIDLocked("vol"),
		Name:   req.Name,
		SizeGB: req.SizeGB,
		Region: req.Region,
		State:  "created",
	}
	a.volumes = append(a.volumes, vol)
	return &vol, nil
}

func (p *Provider) CreateMachine(ctx context.Context, app string, req provider.MachineRequest) (*provider.Machine, error) {
	if err := p.begin(ctx, provider.OpCreateMachine, app); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a, err := p.appLocked(provider.OpCreateMachine, app)
	if err != nil {
		return nil, err
	}
	for _, mnt := range req.Config.Mounts {
		if !hasVolume(a.volumes, mnt.Volume) {
			return nil, &provider.Error{Op: provider.OpCreateMachine, Message: fmt.Sprintf("volume %q not found", mnt.Volume), StatusCode: 422}
		}
	}
	m := &machineState{
		machine: provider.Machine{ID: p.nextIDLocked("m"), Name: req.Name, State: provider.MachineCreated, Region: req.Region},
		request: req,
	}
	a.machines[m.machine.ID] = m
	machine := m.machine
	return &machine, nil
}

func hasVolume(volumes []provider.Volume, name string) bool {
	for _, v := range volumes {
		if v.Name == name || v.ID == name {
			return true
		}
	}
	return false
}

func (p *Provider) GetMachine(ctx context.Context, app, id string) (*provider.Machine, error) {
	if err := p.begin(ctx, provider.OpGetMachine, app); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a, err := p.appLocked(provider.OpGetMachine, app)
	if err != nil {
		return nil, err
	}
	m, ok := a.machines[id]
	if !ok {
		return nil, nil
	}
	if m.machine.State == provider.MachineCreated || m.machine.State == provider.MachineStarting {
		if m.polls >= p.StartAfterPolls {
			m.machine.State = provider.MachineStarted
		} else {
			m.machine.State = provider.MachineStarting
		}
		m.polls++
	}
	machine := m.machine
	return &machine, nil
}

func (p *Provider) Exec(ctx context.Context, app, id string, cmd []string) (*provider.ExecResult, error) {
	if err := p.begin(ctx, provider.OpExec, app); err != nil {
		return nil, err
	}
	p.mu.Lock()
	a, err := p.appLocked(provider.OpExec, app)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	m, ok := a.machines[id]
	if !ok {
		p.mu.Unlock()
		return nil, provider.NotFoundError(provider.OpExec, "machine %s not found", id)
	}
	m.execs = append(m.execs, append([]string(nil), cmd...))
	handler := p.ExecFunc
	p.mu.Unlock()

	if handler != nil {
		return handler(app, id, cmd)
	}
	code := 0
	return &provider.ExecResult{ExitCode: &code}, nil
}

// Execs returns the commands run on a machine.
func (p *Provider) Execs(app, id string) [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.apps[app]
	if !ok {
		return nil
	}
	m, ok := a.machines[id]
	if !ok {
		return nil
	}
	return append([][]string(nil), m.execs...)
}

func (p *Provider) StopMachine(ctx context.Context, app, id string) error {
	if err := p.begin(ctx, provider.OpStopMachine, app); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a, err := p.appLocked(provider.OpStopMachine, app)
	if err != nil {
		return err
	}
	m, ok := a.machines[id]
	if !ok {
		return provider.NotFoundError(provider.OpStopMachine, "machine %s not found", id)
	}
	m.machine.State = provider.MachineStopped
	return nil
}

// ErrMachineRunning is returned by DeleteMachine without force on a running machine.
var ErrMachineRunning = errors.New("machine is running, stop it or use force")

func (p *Provider) DeleteMachine(ctx context.Context, app, id string, force bool) error {
	if err := p.begin(ctx, provider.OpDeleteMachine, app); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a, err := p.appLocked(provider.OpDeleteMachine, app)
	if err != nil {
		return err
	}
	m, ok := a.machines[id]
	if !ok {
		return provider.NotFoundError(provider.OpDeleteMachine, "machine %s not found", id)
	}
	if !force && m.machine.State == provider.MachineStarted {
		return provider.NewError(provider.OpDeleteMachine, ErrMachineRunning)
	}
	delete(a.machines, id)
	return nil
}

func (p *Provider) ListSecrets(ctx context.Context, app string) ([]provider.Secret, error) {
	if err := p.begin(ctx, provider.OpListSecrets, app); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a, err := p.appLocked(provider.OpListSecrets, app)
	if err != nil {
		return nil, err
	}
	out := make([]provider.Secret, 0, len(a.secrets))
	for _, s := range a.secrets {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
