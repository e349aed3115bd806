package saga

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/imamik/appinit/internal/config"
	"github.com/imamik/appinit/internal/durable"
	"github.com/imamik/appinit/internal/observability"
	"github.com/imamik/appinit/internal/provider"
)

// defaultSecretsPollsPerRound bounds one checkpointed round of the secrets
// wait when Timeouts leaves it unset.
const defaultSecretsPollsPerRound = 60

// waitForSecrets polls the app's secrets until every required name is
// reported. A failed listing counts as an empty one unless the app is gone.
// Without a SecretsDeadline the wait is unbounded.
//
// Polls run in rounds. Each round is a durable checkpoint, so the journal of
// a wait that lasts days keeps two entries per round instead of every
// listing and sleep.
func (s *Saga) waitForSecrets(ctx context.Context, sub durable.Substrate, obs observability.Observer, app string, required config.RequiredSecretSet) error {
	if len(required) == 0 {
		return nil
	}

	start, err := sub.Now(ctx)
	if err != nil {
		return err
	}

	polls := s.timeouts.SecretsPollsPerRound
	if polls <= 0 {
		polls = defaultSecretsPollsPerRound
	}
	for {
		var satisfied bool
		if err := sub.Checkpoint(ctx, "secrets.round", func(ctx context.Context, sub durable.Substrate) error {
			var err error
			satisfied, err = s.pollSecrets(ctx, sub, obs, app, required, start, polls)
			return err
		}); err != nil {
			return err
		}
		// A replayed round does not run its body, so its verdict is journaled
		// separately. A crash between the two only costs an extra round.
		done, err := durable.Call(ctx, sub, "secrets.satisfied", func(context.Context) (bool, error) {
			return satisfied, nil
		})
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// pollSecrets lists the secrets up to polls times and reports whether all
// required names were seen.
func (s *Saga) pollSecrets(ctx context.Context, sub durable.Substrate, obs observability.Observer, app string, required config.RequiredSecretSet, start time.Time, polls int) (bool, error) {
	for i := 0; i < polls; i++ {
		secrets, err := durable.Call(ctx, sub, provider.OpListSecrets, func(ctx context.Context) ([]provider.Secret, error) {
			return s.provider.ListSecrets(ctx, app)
		})
		if err != nil {
			if durable.Interrupted(ctx, err) {
				return false, err
			}
			if err := s.checkAppExists(ctx, sub, StepWaitForSecrets, app); err != nil {
				return false, err
			}
			secrets = nil
		}

		missing := required.Missing(provider.SecretNames(secrets))
		if len(missing) == 0 {
			return true, nil
		}
		obs.Event(observability.Event{
			Type:    observability.EventWaiting,
			Step:    StepWaitForSecrets,
			Message: fmt.Sprintf("waiting for secrets: %s", strings.Join(missing, ", ")),
			Fields:  map[string]string{"missing": strings.Join(missing, ",")},
		})

		if deadline := s.timeouts.SecretsDeadline; deadline > 0 {
			now, err := sub.Now(ctx)
			if err != nil {
				return false, err
			}
			if now.Sub(start) >= deadline {
				return false, newStepError(StepWaitForSecrets, SecretsTimeout,
					fmt.Sprintf("secrets still missing after %s: %s", deadline, strings.Join(missing, ", ")), nil)
			}
		}

		if _, err := durable.Sleep(ctx, sub, s.timeouts.SecretsPollInterval); err != nil {
			return false, err
		}
	}
	return false, nil
}

// checkAppExists returns AppDeleted when the provider confirms the app is
// gone. A failed lookup is inconclusive and returns nil.
func (s *Saga) checkAppExists(ctx context.Context, sub durable.Substrate, step, app string) error {
	found, err := durable.Call(ctx, sub, provider.OpGetApp, func(ctx context.Context) (*provider.App, error) {
		return s.provider.GetApp(ctx, app)
	})
	if err != nil {
		if durable.Interrupted(ctx, err) {
			return err
		}
		s.log.V(1).Info("app lookup failed, assuming it still exists", "app", app, "step", step, "error", err.Error())
		return nil
	}
	if found == nil {
		return newStepError(step, AppDeleted, fmt.Sprintf("app %q was deleted", app), nil)
	}
	return nil
}
