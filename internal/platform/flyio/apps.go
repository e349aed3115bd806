package flyio

import (
	"context"
	"net/http"
	"net/netip"
	"net/url"
	"sort"

	"github.com/imamik/appinit/internal/provider"
)

func appPath(app string, parts ...string) string {
	p := "/v1/apps/" + url.PathEscape(app)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func (c *Client) GetApp(ctx context.Context, name string) (*provider.App, error) {
	var app apiApp
	if err := c.call(ctx, provider.OpGetApp, http.MethodGet, appPath(name), nil, &app); err != nil {
		if provider.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return app.toProvider(), nil
}

func (c *Client) CreateApp(ctx context.Context, org, name string) (*provider.App, error) {
	var app apiApp
	req := createAppRequest{AppName: name, OrgSlug: org}
	if err := c.call(ctx, provider.OpCreateApp, http.MethodPost, "/v1/apps", req, &app); err != nil {
		return nil, err
	}
	out := app.toProvider()
	if out.Name == "" {
		out.Name = name
	}
	if out.Org == "" {
		out.Org = org
	}
	return out, nil
}

func (c *Client) DeleteApp(ctx context.Context, name string, force bool) error {
	path := appPath(name)
	if force {
		path += "?force=true"
	}
	err := c.call(ctx, provider.OpDeleteApp, http.MethodDelete, path, nil, nil)
	if provider.IsNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) AllocateIP(ctx context.Context, app string, req provider.IPRequest) (*provider.IPAddress, error) {
	var ip apiIP
	body := ipAssignmentRequest{Type: string(req.Type), Region: req.Region}
	if err := c.call(ctx, provider.OpAllocateIP, http.MethodPost, appPath(app, "ip_assignments"), body, &ip); err != nil {
		return nil, err
	}
	out := ip.toProvider()
	return &out, nil
}

// ListIPs returns the app's addresses oldest first.
func (c *Client) ListIPs(ctx context.Context, app string) ([]provider.IPAddress, error) {
	var resp listIPsResponse
	if err := c.call(ctx, provider.OpListIPs, http.MethodGet, appPath(app, "ip_assignments"), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]provider.IPAddress, 0, len(resp.IPs))
	for _, ip := range resp.IPs {
		out = append(out, ip.toProvider())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (c *Client) ReleaseIP(ctx context.Context, app string, ip provider.IPAddress) error {
	return c.call(ctx, provider.OpReleaseIP, http.MethodDelete, appPath(app, "ip_assignments", ip.Address), nil, nil)
}

// ListSecrets returns secret names and digests, sorted by name. Values are
// never returned by the API.
func (c *Client) ListSecrets(ctx context.Context, app string) ([]provider.Secret, error) {
	var resp listSecretsResponse
	if err := c.call(ctx, provider.OpListSecrets, http.MethodGet, appPath(app, "secrets"), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]provider.Secret, 0, len(resp.Secrets))
	for _, s := range resp.Secrets {
		out = append(out, provider.Secret{Name: s.Name, Digest: s.Digest, CreatedAt: s.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func isIPv6(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is6() && !addr.Is4In6()
}
