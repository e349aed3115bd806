package provider

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/imamik/appinit/internal/metrics"
)

// Instrument wraps p so every call is counted, timed and logged at V(1).
func Instrument(p Provider, log logr.Logger) Provider {
	return &instrumented{next: p, log: log.WithName("provider")}
}

type instrumented struct {
	next Provider
	log  logr.Logger
}

func (i *instrumented) observe(op string, start time.Time, err error, kv ...any) {
	d := time.Since(start)
	metrics.RecordProviderCall(op, err, d)
	kv = append(kv, "op", op, "duration", d.Round(time.Millisecond))
	if err != nil {
		i.log.V(1).Info("provider call failed", append(kv, "error", err.Error())...)
		return
	}
	i.log.V(1).Info("provider call", kv...)
}

func (i *instrumented) GetApp(ctx context.Context, name string) (*App, error) {
	start := time.Now()
	app, err := i.next.GetApp(ctx, name)
	i.observe(OpGetApp, start, err, "app", name)
	return app, err
}

func (i *instrumented) CreateApp(ctx context.Context, org, name string) (*App, error) {
	start := time.Now()
	app, err := i.next.CreateApp(ctx, org, name)
	i.observe(OpCreateApp, start, err, "app", name, "org", org)
	return app, err
}

func (i *instrumented) DeleteApp(ctx context.Context, name string, force bool) error {
	start := time.Now()
	err := i.next.DeleteApp(ctx, name, force)
	i.observe(OpDeleteApp, start, err, "app", name, "force", force)
	return err
}

func (i *instrumented) AllocateIP(ctx context.Context, app string, req IPRequest) (*IPAddress, error) {
	start := time.Now()
	ip, err := i.next.AllocateIP(ctx, app, req)
	i.observe(OpAllocateIP, start, err, "app", app, "type", req.Type)
	return ip, err
}

func (i *instrumented) ListIPs(ctx context.Context, app string) ([]IPAddress, error) {
	start := time.Now()
	ips, err := i.next.ListIPs(ctx, app)
	i.observe(OpListIPs, start, err, "app", app, "count", len(ips))
	return ips, err
}

func (i *instrumented) ReleaseIP(ctx context.Context, app string, ip IPAddress) error {
	start := time.Now()
	err := i.next.ReleaseIP(ctx, app, ip)
	i.observe(OpReleaseIP, start, err, "app", app, "ip", ip.Address)
	return err
}

func (i *instrumented) CreateVolume(ctx context.Context, app string, req VolumeRequest) (*Volume, error) {
	start := time.Now()
	vol, err := i.next.CreateVolume(ctx, app, req)
	i.observe(OpCreateVolume, start, err, "app", app, "volume", req.Name)
	return vol, err
}

func (i *instrumented) CreateMachine(ctx context.Context, app string, req MachineRequest) (*Machine, error) {
	start := time.Now()
	m, err := i.next.CreateMachine(ctx, app, req)
	i.observe(OpCreateMachine, start, err, "app", app, "machine", req.Name)
	return m, err
}

func (i *instrumented) GetMachine(ctx context.Context, app, id string) (*Machine, error) {
	start := time.Now()
	m, err := i.next.GetMachine(ctx, app, id)
	i.observe(OpGetMachine, start, err, "app", app, "machine", id)
	return m, err
}

func (i *instrumented) Exec(ctx context.Context, app, id string, cmd []string) (*ExecResult, error) {
	start := time.Now()
	res, err := i.next.Exec(ctx, app, id, cmd)
	i.observe(OpExec, start, err, "app", app, "machine", id)
	return res, err
}

func (i *instrumented) StopMachine(ctx context.Context, app, id string) error {
	start := time.Now()
	err := i.next.StopMachine(ctx, app, id)
	i.observe(OpStopMachine, start, err, "app", app, "machine", id)
	return err
}

func (i *instrumented) DeleteMachine(ctx context.Context, app, id string, force bool) error {
	start := time.Now()
	err := i.next.DeleteMachine(ctx, app, id, force)
	i.observe(OpDeleteMachine, start, err, "app", app, "machine", id, "force", force)
	return err
}

func (i *instrumented) ListSecrets(ctx context.Context, app string) ([]Secret, error) {
	start := time.Now()
	secrets, err := i.next.ListSecrets(ctx, app)
	i.observe(OpListSecrets, start, err, "app", app, "count", len(secrets))
	return secrets, err
}
