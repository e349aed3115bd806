package hcloud

import (
	"context"
	"fmt"
	"reflect"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/appinit/internal/util/retry"
)

// DeleteOperation encapsulates deletion logic for any hcloud resource.
// It provides consistent retry, timeout, and error handling across all resource types.
//
// Usage example:
//
//	func (p *Provider) deleteFirewall(ctx context.Context, name string) error {
//	    return (&DeleteOperation[*hcloud.Firewall]{
//	        Name:         name,
//	        ResourceType: "firewall",
//	        Get:          p.client.Firewall.Get,
//	        Delete:       p.client.Firewall.Delete,
//	    }).Execute(ctx, p)
//	}
type DeleteOperation[T any] struct {
	Name         string
	ResourceType string

	// Get retrieves the resource by name
	Get func(ctx context.Context, name string) (T, *hcloud.Response, error)

	// Delete removes the resource
	Delete func(ctx context.Context, resource T) (*hcloud.Response, error)
}

// Execute performs the delete operation with retry logic and timeout handling.
// The operation is idempotent - it succeeds if the resource doesn't exist.
// Locked resources are retried with exponential backoff.
func (op *DeleteOperation[T]) Execute(ctx context.Context, p *Provider) error {
	ctx, cancel := context.WithTimeout(ctx, p.deleteTimeout)
	defer cancel()

	return retry.Do(ctx, func(ctx context.Context) error {
		resource, _, err := op.Get(ctx, op.Name)
		if err != nil {
			return retry.Fatal(fmt.Errorf("failed to get %s %s: %w", op.ResourceType, op.Name, err))
		}
		if reflect.ValueOf(resource).IsNil() {
			return nil
		}
		return deleteOne(ctx, resource, op.Delete)
	}, p.retry...)
}

// deleteAll deletes every resource in list, retrying each while it is locked.
// Resources that vanish in the meantime count as deleted.
func deleteAll[T any](ctx context.Context, p *Provider, list []T, del func(ctx context.Context, resource T) (*hcloud.Response, error)) error {
	ctx, cancel := context.WithTimeout(ctx, p.deleteTimeout)
	defer cancel()

	for _, resource := range list {
		err := retry.Do(ctx, func(ctx context.Context) error {
			return deleteOne(ctx, resource, del)
		}, p.retry...)
		if err != nil {
			return err
		}
	}
	return nil
}

func deleteOne[T any](ctx context.Context, resource T, del func(ctx context.Context, resource T) (*hcloud.Response, error)) error {
	_, err := del(ctx, resource)
	switch {
	case err == nil, IsNotFound(err):
		return nil
	case isResourceLocked(err):
		return err
	default:
		return retry.Fatal(err)
	}
}

// waitForActions waits for one or more actions to complete. Nil actions are
// skipped.
func waitForActions(ctx context.Context, client *hcloud.Client, actions ...*hcloud.Action) error {
	pending := make([]*hcloud.Action, 0, len(actions))
	for _, a := range actions {
		if a != nil {
			pending = append(pending, a)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	return client.Action.WaitFor(ctx, pending...)
}
