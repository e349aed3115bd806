package hcloud

import (
	"context"
	"net"
	"net/netip"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/appinit/internal/provider"
	"github.com/imamik/appinit/internal/util/labels"
	"github.com/imamik/appinit/internal/util/naming"
)

// datacenter returns the first datacenter in location. Primary IPs are
// created per datacenter, servers and volumes per location.
func (p *Provider) datacenter(ctx context.Context, location string) (*hcloud.Datacenter, error) {
	dcs, err := p.client.Datacenter.All(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(dcs, func(i, j int) bool { return dcs[i].Name < dcs[j].Name })
	for _, dc := range dcs {
		if dc.Location != nil && dc.Location.Name == location {
			return dc, nil
		}
	}
	return nil, provider.NotFoundError(provider.OpAllocateIP, "no datacenter in location %q", location)
}

// hostAddress is the address a client connects to. IPv6 primary IPs are
// whole /64 networks; servers answer on ::1 of theirs.
func hostAddress(ip net.IP, network *net.IPNet) string {
	if network != nil {
		ip = network.IP
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return ip.String()
	}
	addr = addr.Unmap()
	if addr.Is6() {
		b := addr.As16()
		if b[15] == 0 && b[14] == 0 {
			b[15] = 1
		}
		return netip.AddrFrom16(b).String()
	}
	return addr.String()
}

func ipFromPrimary(ip *hcloud.PrimaryIP) provider.IPAddress {
	t := provider.IPv4
	if ip.Type == hcloud.PrimaryIPTypeIPv6 {
		t = provider.IPv6
	}
	out := provider.IPAddress{
		ID:        strconv.FormatInt(ip.ID, 10),
		Address:   hostAddress(ip.IP, ip.Network),
		Type:      t,
		CreatedAt: ip.Created,
	}
	if ip.Datacenter != nil && ip.Datacenter.Location != nil {
		out.Region = ip.Datacenter.Location.Name
	}
	return out
}

func (p *Provider) AllocateIP(ctx context.Context, app string, req provider.IPRequest) (*provider.IPAddress, error) {
	location := req.Region
	if location == "" {
		location = p.location
	}
	dc, err := p.datacenter(ctx, location)
	if err != nil {
		return nil, apiError(provider.OpAllocateIP, err)
	}

	ipType := hcloud.PrimaryIPTypeIPv6
	if req.Type == provider.IPv4 {
		ipType = hcloud.PrimaryIPTypeIPv4
	}
	res, _, err := p.client.PrimaryIP.Create(ctx, hcloud.PrimaryIPCreateOpts{
		Name:         naming.PrimaryIP(app, uuid.NewString()[:8]),
		Type:         ipType,
		AssigneeType: "server",
		Datacenter:   dc.Name,
		AutoDelete:   hcloud.Ptr(false),
		Labels:       labels.NewLabelBuilder(app).Build(),
	})
	if err != nil {
		return nil, apiError(provider.OpAllocateIP, err)
	}
	if err := waitForActions(ctx, p.client, res.Action); err != nil {
		return nil, apiError(provider.OpAllocateIP, err)
	}
	out := ipFromPrimary(res.PrimaryIP)
	return &out, nil
}

func (p *Provider) appPrimaryIPs(ctx context.Context, app string) ([]*hcloud.PrimaryIP, error) {
	ips, err := p.client.PrimaryIP.AllWithOpts(ctx, hcloud.PrimaryIPListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: labels.SelectorForApp(app)},
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ips, func(i, j int) bool {
		if ips[i].Created.Equal(ips[j].Created) {
			return ips[i].ID < ips[j].ID
		}
		return ips[i].Created.Before(ips[j].Created)
	})
	return ips, nil
}

// ListIPs returns the app's primary IPs oldest first.
func (p *Provider) ListIPs(ctx context.Context, app string) ([]provider.IPAddress, error) {
	ips, err := p.appPrimaryIPs(ctx, app)
	if err != nil {
		return nil, apiError(provider.OpListIPs, err)
	}
	out := make([]provider.IPAddress, 0, len(ips))
	for _, ip := range ips {
		out = append(out, ipFromPrimary(ip))
	}
	return out, nil
}

func (p *Provider) ReleaseIP(ctx context.Context, app string, ip provider.IPAddress) error {
	id, err := strconv.ParseInt(ip.ID, 10, 64)
	if err != nil {
		return provider.NotFoundError(provider.OpReleaseIP, "invalid primary IP id %q", ip.ID)
	}
	primary, _, err := p.client.PrimaryIP.GetByID(ctx, id)
	if err != nil {
		return apiError(provider.OpReleaseIP, err)
	}
	if primary == nil || primary.Labels[labels.KeyApp] != app {
		return provider.NotFoundError(provider.OpReleaseIP, "primary IP %s not found in app %q", ip.ID, app)
	}
	if _, err := p.client.PrimaryIP.Delete(ctx, primary); err != nil {
		return apiError(provider.OpReleaseIP, err)
	}
	return nil
}
