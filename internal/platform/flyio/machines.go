package flyio

import (
	"context"
	"net/http"
	"strings"

	"github.com/imamik/appinit/internal/provider"
)

func (c *Client) CreateVolume(ctx context.Context, app string, req provider.VolumeRequest) (*provider.Volume, error) {
	var vol apiVolume
	body := createVolumeRequest{Name: req.Name, SizeGB: req.SizeGB, Region: req.Region}
	if err := c.call(ctx, provider.OpCreateVolume, http.MethodPost, appPath(app, "volumes"), body, &vol); err != nil {
		return nil, err
	}
	return vol.toProvider(), nil
}

// resolveMounts maps volume names to IDs; the API only accepts IDs.
func (c *Client) resolveMounts(ctx context.Context, app string, mounts []provider.Mount) ([]apiMount, error) {
	if len(mounts) == 0 {
		return nil, nil
	}
	var volumes []apiVolume
	out := make([]apiMount, 0, len(mounts))
	for _, m := range mounts {
		if strings.HasPrefix(m.Volume, "vol_") {
			out = append(out, apiMount{Volume: m.Volume, Path: m.Path})
			continue
		}
		if volumes == nil {
			if err := c.call(ctx, provider.OpCreateMachine, http.MethodGet, appPath(app, "volumes"), nil, &volumes); err != nil {
				return nil, err
			}
		}
		id := ""
		for _, v := range volumes {
			if v.Name == m.Volume && v.State != "destroyed" && v.State != "pending_destroy" {
				id = v.ID
				break
			}
		}
		if id == "" {
			return nil, provider.NotFoundError(provider.OpCreateMachine, "volume %q not found", m.Volume)
		}
		out = append(out, apiMount{Volume: id, Path: m.Path})
	}
	return out, nil
}

func (c *Client) CreateMachine(ctx context.Context, app string, req provider.MachineRequest) (*provider.Machine, error) {
	mounts, err := c.resolveMounts(ctx, app, req.Config.Mounts)
	if err != nil {
		return nil, err
	}
	body := createMachineRequest{
		Name:   req.Name,
		Region: req.Region,
		Config: machineConfig(req.Config, mounts),
	}
	var m apiMachine
	if err := c.call(ctx, provider.OpCreateMachine, http.MethodPost, appPath(app, "machines"), body, &m); err != nil {
		return nil, err
	}
	return m.toProvider(), nil
}

func (c *Client) GetMachine(ctx context.Context, app, id string) (*provider.Machine, error) {
	var m apiMachine
	if err := c.call(ctx, provider.OpGetMachine, http.MethodGet, appPath(app, "machines", id), nil, &m); err != nil {
		if provider.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return m.toProvider(), nil
}

func (c *Client) Exec(ctx context.Context, app, id string, cmd []string) (*provider.ExecResult, error) {
	body := execRequest{Command: cmd, Timeout: int(c.execTimeout.Seconds())}
	var resp execResponse
	if err := c.call(ctx, provider.OpExec, http.MethodPost, appPath(app, "machines", id, "exec"), body, &resp); err != nil {
		return nil, err
	}
	return &provider.ExecResult{ExitCode: resp.ExitCode, Stdout: resp.Stdout, Stderr: resp.Stderr}, nil
}

func (c *Client) StopMachine(ctx context.Context, app, id string) error {
	return c.call(ctx, provider.OpStopMachine, http.MethodPost, appPath(app, "machines", id, "stop"), nil, nil)
}

func (c *Client) DeleteMachine(ctx context.Context, app, id string, force bool) error {
	path := appPath(app, "machines", id)
	if force {
		path += "?force=true"
	}
	return c.call(ctx, provider.OpDeleteMachine, http.MethodDelete, path, nil, nil)
}
