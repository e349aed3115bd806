package saga

import (
	"context"
	"fmt"

	"github.com/imamik/appinit/internal/durable"
	"github.com/imamik/appinit/internal/observability"
	"github.com/imamik/appinit/internal/provider"
)

// setupVolume creates the volume, writes and verifies the config from a
// bootstrap machine, then destroys the machine. Once the machine exists it is
// torn down on every path except an interruption.
func (s *Saga) setupVolume(ctx context.Context, sub durable.Substrate, obs observability.Observer, app, configText string) error {
	observability.LogResourceCreating(obs, StepProvisionVolume, "volume", s.settings.VolumeName)
	vol, err := durable.Call(ctx, sub, provider.OpCreateVolume, func(ctx context.Context) (*provider.Volume, error) {
		return s.provider.CreateVolume(ctx, app, provider.VolumeRequest{
			Name:   s.settings.VolumeName,
			SizeGB: s.settings.VolumeSizeGB,
			Region: s.settings.Region,
		})
	})
	if err != nil {
		return fail(ctx, StepProvisionVolume, VolumeCreate, fmt.Sprintf("cannot create volume %q", s.settings.VolumeName), err)
	}
	observability.LogResourceCreated(obs, StepProvisionVolume, "volume", vol.Name, vol.ID)

	observability.LogResourceCreating(obs, StepProvisionVolume, "machine", s.settings.TempMachineName)
	machine, err := durable.Call(ctx, sub, provider.OpCreateMachine, func(ctx context.Context) (*provider.Machine, error) {
		return s.provider.CreateMachine(ctx, app, s.bootstrapMachineRequest())
	})
	if err != nil {
		return fail(ctx, StepProvisionVolume, TempVM, "cannot create bootstrap machine", err)
	}
	observability.LogResourceCreated(obs, StepProvisionVolume, "machine", machine.Name, machine.ID)

	useErr := s.useBootstrapMachine(ctx, sub, obs, app, machine.ID, configText)
	if useErr != nil && durable.Interrupted(ctx, useErr) {
		return useErr
	}

	teardownErr := s.teardownBootstrapMachine(ctx, sub, obs, app, machine.ID)
	if teardownErr != nil && durable.Interrupted(ctx, teardownErr) {
		return teardownErr
	}
	if useErr != nil {
		if teardownErr != nil {
			obs.Event(observability.Event{
				Type:     observability.EventStepFailed,
				Step:     StepProvisionVolume,
				Resource: machine.ID,
				Message:  fmt.Sprintf("bootstrap machine not deleted: %v", teardownErr),
			})
		}
		return useErr
	}
	return teardownErr
}

func (s *Saga) useBootstrapMachine(ctx context.Context, sub durable.Substrate, obs observability.Observer, app, machineID, configText string) error {
	if err := s.waitForBootstrapMachine(ctx, sub, obs, app, machineID); err != nil {
		return err
	}

	written, err := durable.Call(ctx, sub, provider.OpExec, func(ctx context.Context) (*provider.ExecResult, error) {
		return s.provider.Exec(ctx, app, machineID, s.writeConfigCommand(configText))
	})
	if err != nil {
		return fail(ctx, StepProvisionVolume, VolumeWrite, fmt.Sprintf("cannot write %s", s.settings.ConfigPath()), err)
	}
	if !written.Succeeded() {
		se := newStepError(StepProvisionVolume, VolumeWrite, fmt.Sprintf("cannot write %s", s.settings.ConfigPath()), nil)
		se.Response = written.String()
		return se
	}

	verified, err := durable.Call(ctx, sub, provider.OpExec, func(ctx context.Context) (*provider.ExecResult, error) {
		return s.provider.Exec(ctx, app, machineID, s.verifyConfigCommand())
	})
	if err != nil {
		return fail(ctx, StepProvisionVolume, Verify, "cannot run config verification", err)
	}
	if !verified.Succeeded() {
		se := newStepError(StepProvisionVolume, Verify, "config verification failed", nil)
		se.Response = verified.String()
		return se
	}
	return nil
}

// waitForBootstrapMachine polls until the machine is started. Running out of
// attempts is not an error: a slow boot surfaces as an exec failure instead.
func (s *Saga) waitForBootstrapMachine(ctx context.Context, sub durable.Substrate, obs observability.Observer, app, machineID string) error {
	attempts := s.timeouts.BootstrapPollAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		m, err := durable.Call(ctx, sub, provider.OpGetMachine, func(ctx context.Context) (*provider.Machine, error) {
			return s.provider.GetMachine(ctx, app, machineID)
		})
		if err != nil {
			return fail(ctx, StepProvisionVolume, TempVM, "cannot get bootstrap machine", err)
		}
		if m == nil {
			return newStepError(StepProvisionVolume, TempVM, fmt.Sprintf("bootstrap machine %s disappeared after creation", machineID), nil)
		}
		if m.State == provider.MachineStarted {
			return nil
		}
		obs.Progress(StepProvisionVolume, attempt, attempts)
		if attempt == attempts {
			break
		}
		if _, err := durable.Sleep(ctx, sub, s.timeouts.BootstrapPollInterval); err != nil {
			return err
		}
	}
	obs.Event(observability.Event{
		Type:     observability.EventWaiting,
		Step:     StepProvisionVolume,
		Resource: machineID,
		Message:  fmt.Sprintf("bootstrap machine not started after %d polls, proceeding", attempts),
	})
	return nil
}

// teardownBootstrapMachine stops the machine (best-effort), waits the grace
// period and force-deletes it.
func (s *Saga) teardownBootstrapMachine(ctx context.Context, sub durable.Substrate, obs observability.Observer, app, machineID string) error {
	observability.LogResourceDeleting(obs, StepProvisionVolume, "machine", machineID)
	if err := durable.Do(ctx, sub, provider.OpStopMachine, func(ctx context.Context) error {
		return s.provider.StopMachine(ctx, app, machineID)
	}); err != nil {
		if durable.Interrupted(ctx, err) {
			return err
		}
		s.log.Info("cannot stop bootstrap machine, deleting with force", "app", app, "machine", machineID, "error", err.Error())
	}

	if _, err := durable.Sleep(ctx, sub, s.timeouts.BootstrapStopGrace); err != nil {
		return err
	}

	if err := durable.Do(ctx, sub, provider.OpDeleteMachine, func(ctx context.Context) error {
		return s.provider.DeleteMachine(ctx, app, machineID, true)
	}); err != nil {
		return fail(ctx, StepProvisionVolume, TempVM, fmt.Sprintf("cannot delete bootstrap machine %s", machineID), err)
	}
	observability.LogResourceDeleted(obs, StepProvisionVolume, "machine", machineID)
	return nil
}
