package hcloud

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/appinit/internal/provider"
	"github.com/imamik/appinit/internal/util/keygen"
	"github.com/imamik/appinit/internal/util/labels"
	"github.com/imamik/appinit/internal/util/naming"
)

const appStatusDeployed = "deployed"

var anyIP = mustCIDRs("0.0.0.0/0", "::/0")

func mustCIDRs(cidrs ...string) []net.IPNet {
	out := make([]net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, *n)
	}
	return out
}

// inboundTCP allows TCP to port from anywhere.
func inboundTCP(port int, description string) hcloud.FirewallRule {
	return hcloud.FirewallRule{
		Direction:   hcloud.FirewallRuleDirectionIn,
		SourceIPs:   anyIP,
		Protocol:    hcloud.FirewallRuleProtocolTCP,
		Port:        hcloud.Ptr(strconv.Itoa(port)),
		Description: hcloud.Ptr(description),
	}
}

func appFromFirewall(fw *hcloud.Firewall) *provider.App {
	return &provider.App{
		ID:     strconv.FormatInt(fw.ID, 10),
		Name:   fw.Name,
		Org:    fw.Labels[labels.KeyOrg],
		Status: appStatusDeployed,
	}
}

// GetApp looks up the app's firewall. Any firewall with that name counts,
// managed or not, so foreign resources are reported as a taken name.
func (p *Provider) GetApp(ctx context.Context, name string) (*provider.App, error) {
	fw, _, err := p.client.Firewall.Get(ctx, naming.Firewall(name))
	if err != nil {
		return nil, apiError(provider.OpGetApp, err)
	}
	if fw == nil {
		return nil, nil
	}
	return appFromFirewall(fw), nil
}

// CreateApp creates the app's firewall and, unless an operator key is
// configured, a dedicated SSH key whose private half goes to the store.
func (p *Provider) CreateApp(ctx context.Context, org, name string) (*provider.App, error) {
	appLabels := labels.NewLabelBuilder(name).WithOrg(org).Build()

	res, _, err := p.client.Firewall.Create(ctx, hcloud.FirewallCreateOpts{
		Name:   naming.Firewall(name),
		Labels: appLabels,
		Rules:  []hcloud.FirewallRule{inboundTCP(22, "ssh")},
	})
	if err != nil {
		return nil, apiError(provider.OpCreateApp, err)
	}
	if err := waitForActions(ctx, p.client, res.Actions...); err != nil {
		return nil, apiError(provider.OpCreateApp, err)
	}

	if p.sshKeyName == "" {
		if err := p.createAppKey(ctx, name, appLabels); err != nil {
			return nil, apiError(provider.OpCreateApp, err)
		}
	}

	p.log.V(1).Info("created app firewall", "app", name, "firewall", res.Firewall.ID)
	return appFromFirewall(res.Firewall), nil
}

func (p *Provider) createAppKey(ctx context.Context, app string, appLabels map[string]string) error {
	if err := p.requireStore(provider.OpCreateApp); err != nil {
		return err
	}
	kp, err := keygen.GenerateEd25519KeyPair("appinit-" + app)
	if err != nil {
		return err
	}
	if err := p.store.PutPrivateKey(ctx, app, kp.PrivateKey); err != nil {
		return fmt.Errorf("store machine key: %w", err)
	}
	_, _, err = p.client.SSHKey.Create(ctx, hcloud.SSHKeyCreateOpts{
		Name:      naming.SSHKey(app),
		PublicKey: string(kp.PublicKey),
		Labels:    appLabels,
	})
	return err
}

// openPorts adds inbound rules for ports not yet open on the app firewall.
func (p *Provider) openPorts(ctx context.Context, app string, ports []int) (*hcloud.Firewall, error) {
	fw, _, err := p.client.Firewall.Get(ctx, naming.Firewall(app))
	if err != nil {
		return nil, err
	}
	if fw == nil {
		return nil, provider.NotFoundError(provider.OpCreateMachine, "app %q not found", app)
	}

	open := map[string]bool{}
	for _, r := range fw.Rules {
		if r.Direction == hcloud.FirewallRuleDirectionIn && r.Port != nil {
			open[*r.Port] = true
		}
	}
	rules := fw.Rules
	sort.Ints(ports)
	for _, port := range ports {
		if open[strconv.Itoa(port)] {
			continue
		}
		open[strconv.Itoa(port)] = true
		rules = append(rules, inboundTCP(port, fmt.Sprintf("service %d", port)))
	}
	if len(rules) == len(fw.Rules) {
		return fw, nil
	}

	actions, _, err := p.client.Firewall.SetRules(ctx, fw, hcloud.FirewallSetRulesOpts{Rules: rules})
	if err != nil {
		return nil, err
	}
	return fw, waitForActions(ctx, p.client, actions...)
}

// DeleteApp removes every resource labelled with the app, then the app's
// firewall, SSH key and stored objects. A missing app is not an error.
// Hetzner deletes are always forced.
func (p *Provider) DeleteApp(ctx context.Context, name string, _ bool) error {
	selector := hcloud.ListOpts{LabelSelector: labels.SelectorForApp(name)}

	servers, err := p.client.Server.AllWithOpts(ctx, hcloud.ServerListOpts{ListOpts: selector})
	if err != nil {
		return apiError(provider.OpDeleteApp, err)
	}
	if err := deleteAll(ctx, p, servers, p.deleteServer); err != nil {
		return apiError(provider.OpDeleteApp, fmt.Errorf("delete servers: %w", err))
	}

	volumes, err := p.client.Volume.AllWithOpts(ctx, hcloud.VolumeListOpts{ListOpts: selector})
	if err != nil {
		return apiError(provider.OpDeleteApp, err)
	}
	if err := deleteAll(ctx, p, volumes, p.client.Volume.Delete); err != nil {
		return apiError(provider.OpDeleteApp, fmt.Errorf("delete volumes: %w", err))
	}

	ips, err := p.client.PrimaryIP.AllWithOpts(ctx, hcloud.PrimaryIPListOpts{ListOpts: selector})
	if err != nil {
		return apiError(provider.OpDeleteApp, err)
	}
	if err := deleteAll(ctx, p, ips, p.client.PrimaryIP.Delete); err != nil {
		return apiError(provider.OpDeleteApp, fmt.Errorf("delete primary IPs: %w", err))
	}

	if p.sshKeyName == "" {
		err := (&DeleteOperation[*hcloud.SSHKey]{
			Name:         naming.SSHKey(name),
			ResourceType: "ssh key",
			Get:          p.client.SSHKey.Get,
			Delete:       p.client.SSHKey.Delete,
		}).Execute(ctx, p)
		if err != nil {
			return apiError(provider.OpDeleteApp, err)
		}
	}

	err = (&DeleteOperation[*hcloud.Firewall]{
		Name:         naming.Firewall(name),
		ResourceType: "firewall",
		Get:          p.client.Firewall.Get,
		Delete:       p.client.Firewall.Delete,
	}).Execute(ctx, p)
	if err != nil {
		return apiError(provider.OpDeleteApp, err)
	}

	if p.store != nil {
		if err := p.store.DeleteApp(ctx, name); err != nil {
			return apiError(provider.OpDeleteApp, fmt.Errorf("delete stored secrets: %w", err))
		}
	}
	p.log.V(1).Info("deleted app", "app", name, "servers", len(servers), "volumes", len(volumes), "ips", len(ips))
	return nil
}
