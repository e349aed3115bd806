package saga

import (
	"context"

	"github.com/imamik/appinit/internal/durable"
	"github.com/imamik/appinit/internal/observability"
	"github.com/imamik/appinit/internal/provider"
)

// launchFinalVM creates the long-lived machine. Readiness is left to the
// health check.
func (s *Saga) launchFinalVM(ctx context.Context, sub durable.Substrate, obs observability.Observer, app string) error {
	observability.LogResourceCreating(obs, StepLaunchFinalVM, "machine", s.settings.FinalMachineName)
	machine, err := durable.Call(ctx, sub, provider.OpCreateMachine, func(ctx context.Context) (*provider.Machine, error) {
		return s.provider.CreateMachine(ctx, app, s.finalMachineRequest())
	})
	if err != nil {
		return fail(ctx, StepLaunchFinalVM, FinalVM, "cannot create final machine", err)
	}
	observability.LogResourceCreated(obs, StepLaunchFinalVM, "machine", machine.Name, machine.ID)
	return nil
}
