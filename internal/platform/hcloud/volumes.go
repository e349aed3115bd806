package hcloud

import (
	"context"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/appinit/internal/provider"
	"github.com/imamik/appinit/internal/util/labels"
	"github.com/imamik/appinit/internal/util/naming"
)

// CreateVolume creates an ext4 volume. Sizes below the Hetzner minimum are
// rounded up.
func (p *Provider) CreateVolume(ctx context.Context, app string, req provider.VolumeRequest) (*provider.Volume, error) {
	location := req.Region
	if location == "" {
		location = p.location
	}
	res, _, err := p.client.Volume.Create(ctx, hcloud.VolumeCreateOpts{
		Name:     naming.Volume(app, req.Name),
		Size:     max(req.SizeGB, minVolumeSizeGB),
		Location: &hcloud.Location{Name: location},
		Labels:   labels.NewLabelBuilder(app).WithVolume(req.Name).Build(),
		Format:   hcloud.Ptr("ext4"),
	})
	if err != nil {
		return nil, apiError(provider.OpCreateVolume, err)
	}
	if err := waitForActions(ctx, p.client, append([]*hcloud.Action{res.Action}, res.NextActions...)...); err != nil {
		return nil, apiError(provider.OpCreateVolume, err)
	}
	return &provider.Volume{
		ID:     strconv.FormatInt(res.Volume.ID, 10),
		Name:   req.Name,
		SizeGB: res.Volume.Size,
		Region: location,
		State:  string(res.Volume.Status),
	}, nil
}
