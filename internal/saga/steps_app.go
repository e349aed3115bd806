package saga

import (
	"context"
	"fmt"

	"github.com/imamik/appinit/internal/durable"
	"github.com/imamik/appinit/internal/observability"
	"github.com/imamik/appinit/internal/provider"
)

// createApp checks that the name is free, then creates the app. A taken name
// is a conflict, never a resume.
func (s *Saga) createApp(ctx context.Context, sub durable.Substrate, obs observability.Observer, org, app string) error {
	existing, err := durable.Call(ctx, sub, provider.OpGetApp, func(ctx context.Context) (*provider.App, error) {
		return s.provider.GetApp(ctx, app)
	})
	if err != nil {
		return fail(ctx, StepCreateApp, AppNameLookup, fmt.Sprintf("cannot look up app %q", app), err)
	}
	if existing != nil {
		return newStepError(StepCreateApp, AppNameConflict, fmt.Sprintf("app %q already exists", app), nil)
	}

	observability.LogResourceCreating(obs, StepCreateApp, "app", app)
	created, err := durable.Call(ctx, sub, provider.OpCreateApp, func(ctx context.Context) (*provider.App, error) {
		return s.provider.CreateApp(ctx, org, app)
	})
	if err != nil {
		return fail(ctx, StepCreateApp, AppCreate, fmt.Sprintf("cannot create app %q", app), err)
	}
	observability.LogResourceCreated(obs, StepCreateApp, "app", app, created.ID)
	return nil
}

// allocateIP requests one IPv6 address and releases every address after the
// first, so exactly one survives even if the allocation ran twice.
func (s *Saga) allocateIP(ctx context.Context, sub durable.Substrate, obs observability.Observer, app string) error {
	observability.LogResourceCreating(obs, StepAllocateIP, "ip", app)
	allocated, err := durable.Call(ctx, sub, provider.OpAllocateIP, func(ctx context.Context) (*provider.IPAddress, error) {
		return s.provider.AllocateIP(ctx, app, provider.IPRequest{Type: provider.IPv6})
	})
	if err != nil {
		return fail(ctx, StepAllocateIP, IPAllocate, "cannot allocate IPv6 address", err)
	}

	ips, err := durable.Call(ctx, sub, provider.OpListIPs, func(ctx context.Context) ([]provider.IPAddress, error) {
		return s.provider.ListIPs(ctx, app)
	})
	if err != nil {
		return fail(ctx, StepAllocateIP, IPAllocate, "cannot list addresses", err)
	}
	if len(ips) == 0 {
		return newStepError(StepAllocateIP, IPAllocate,
			fmt.Sprintf("allocated %s but the provider lists no addresses", allocated.Address), nil)
	}

	for _, extra := range ips[1:] {
		observability.LogResourceDeleting(obs, StepAllocateIP, "ip", extra.Address)
		if err := durable.Do(ctx, sub, provider.OpReleaseIP, func(ctx context.Context) error {
			return s.provider.ReleaseIP(ctx, app, extra)
		}); err != nil {
			return fail(ctx, StepAllocateIP, IPAllocate, fmt.Sprintf("cannot release duplicate address %s", extra.Address), err)
		}
		observability.LogResourceDeleted(obs, StepAllocateIP, "ip", extra.Address)
	}

	observability.LogResourceCreated(obs, StepAllocateIP, "ip", ips[0].Address, ips[0].ID)
	return nil
}
