package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imamik/appinit/internal/config"
	"github.com/imamik/appinit/internal/durable"
	"github.com/imamik/appinit/internal/saga"
)

// DeployOptions are the inputs of Deploy.
type DeployOptions struct {
	SpecPath       string
	Org            string
	HealthDeadline time.Duration
	NoCleanup      bool
}

// Deploy starts a new app-init execution for the spec and runs it.
//
// With NoCleanup the execution stops at the first failure and leaves the
// app in place for inspection.
func Deploy(ctx context.Context, opts *Options, d DeployOptions) error {
	workflow := saga.WorkflowAppInit
	if d.NoCleanup {
		workflow = saga.WorkflowAppInitNoCleanup
	}
	return startWorkflow(ctx, opts, workflow, d)
}

// Step starts a single step of the deployment as its own execution.
func Step(ctx context.Context, opts *Options, workflow string, d DeployOptions) error {
	switch workflow {
	case saga.WorkflowPrepare, saga.WorkflowWaitForSecrets, saga.WorkflowStartFinalVM, saga.WorkflowWaitForHealth:
	default:
		return fmt.Errorf("unknown step %q (want %s, %s, %s or %s)", workflow,
			saga.WorkflowPrepare, saga.WorkflowWaitForSecrets, saga.WorkflowStartFinalVM, saga.WorkflowWaitForHealth)
	}
	return startWorkflow(ctx, opts, workflow, d)
}

func startWorkflow(ctx context.Context, opts *Options, workflow string, d DeployOptions) error {
	spec, err := loadSpec(d.SpecPath)
	if err != nil {
		return fmt.Errorf("failed to load spec: %w", err)
	}
	org := d.Org
	if org == "" {
		org = spec.OrgSlug
	}
	if org == "" {
		return errors.New("organization is required: set org in the spec or pass --org")
	}

	rt, err := newRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	req := saga.Request{
		OrgSlug:             org,
		AppName:             spec.AppName,
		Spec:                spec,
		HealthCheckDeadline: d.HealthDeadline,
	}
	run, err := saga.Start(ctx, rt.executor, workflow, req)
	if err != nil {
		if errors.Is(err, durable.ErrExecutionExists) {
			return fmt.Errorf("an unfinished %s execution for %s exists, resume it with 'appinit resume --all': %w",
				workflow, spec.AppName, err)
		}
		return fmt.Errorf("failed to start %s: %w", workflow, err)
	}

	if waitsForSecrets(workflow) {
		if required := config.RequiredSecrets(spec).Sorted(); len(required) > 0 {
			rt.log.Info("deployment waits for secrets, set them on the app", "app", spec.AppName, "secrets", required)
		}
	}
	return rt.execute(ctx, run)
}

func waitsForSecrets(workflow string) bool {
	switch workflow {
	case saga.WorkflowAppInit, saga.WorkflowAppInitNoCleanup, saga.WorkflowWaitForSecrets:
		return true
	}
	return false
}
