package saga

import (
	"context"
	"fmt"

	"github.com/imamik/appinit/internal/durable"
	"github.com/imamik/appinit/internal/observability"
	"github.com/imamik/appinit/internal/provider"
)

// cleanup force-deletes the app and with it every resource it owns. It is
// a single attempt; an app that is already gone counts as deleted.
func (s *Saga) cleanup(ctx context.Context, sub durable.Substrate, obs observability.Observer, app string) error {
	obs.Event(observability.Event{
		Type:     observability.EventCleanupStarted,
		Step:     StepCleanup,
		Resource: app,
		Message:  fmt.Sprintf("deleting app %s", app),
	})

	err := sub.Subprocedure(ctx, SubCleanup, func(ctx context.Context, sub durable.Substrate) error {
		return durable.Do(ctx, sub, provider.OpDeleteApp, func(ctx context.Context) error {
			err := s.provider.DeleteApp(ctx, app, true)
			if provider.IsNotFound(err) {
				return nil
			}
			return err
		})
	})
	if err != nil {
		if durable.Interrupted(ctx, err) {
			return err
		}
		obs.Event(observability.Event{
			Type:     observability.EventCleanupFailed,
			Step:     StepCleanup,
			Resource: app,
			Message:  fmt.Sprintf("cannot delete app %s, manual cleanup required: %v", app, err),
		})
		return fmt.Errorf("delete app %s: %w", app, err)
	}

	obs.Event(observability.Event{
		Type:     observability.EventCleanupCompleted,
		Step:     StepCleanup,
		Resource: app,
		Message:  fmt.Sprintf("deleted app %s", app),
	})
	return nil
}
