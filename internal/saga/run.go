package saga

import (
	"context"
	"fmt"

	"github.com/imamik/appinit/internal/config"
	"github.com/imamik/appinit/internal/durable"
)

// Workflow names as recorded in the journal.
const (
	WorkflowAppInit          = "app-init"
	WorkflowAppInitNoCleanup = "app-init-no-cleanup"
	WorkflowPrepare          = "prepare"
	WorkflowWaitForSecrets   = "wait-for-secrets"
	WorkflowStartFinalVM     = "start-final-vm"
	WorkflowWaitForHealth    = "wait-for-health-check"
)

// Workflows lists every workflow Execute can run.
var Workflows = []string{
	WorkflowAppInit,
	WorkflowAppInitNoCleanup,
	WorkflowPrepare,
	WorkflowWaitForSecrets,
	WorkflowStartFinalVM,
	WorkflowWaitForHealth,
}

// Start records a new execution of workflow for req, keyed by app name.
// A second open execution for the same app is rejected by the journal.
func Start(ctx context.Context, exec *durable.Executor, workflow string, req Request) (*durable.Run, error) {
	if !knownWorkflow(workflow) {
		return nil, fmt.Errorf("unknown workflow %q", workflow)
	}
	return exec.Start(ctx, workflow, req.AppName, req)
}

// Execute runs (or resumes) run to completion and finishes the execution.
// An error means the run was interrupted or its execution could not be
// closed; it stays open for durable.Executor.Resume.
func (s *Saga) Execute(ctx context.Context, run *durable.Run) (Result, error) {
	var req Request
	if err := run.Input(&req); err != nil {
		return Result{}, err
	}
	workflow := run.Execution().Workflow
	result := Result{Workflow: workflow}

	var err error
	switch workflow {
	case WorkflowAppInit:
		var o Outcome
		o, err = s.AppInit(ctx, run, req)
		if err == nil {
			result.Outcome = &o
			result.Err = o.Err
		}
	case WorkflowAppInitNoCleanup:
		err = s.AppInitNoCleanup(ctx, run, req)
	case WorkflowPrepare:
		err = s.Prepare(ctx, run, req)
	case WorkflowWaitForSecrets:
		err = s.WaitForSecrets(ctx, run, req.AppName, config.RequiredSecrets(req.Spec))
	case WorkflowStartFinalVM:
		err = s.StartFinalVM(ctx, run, req.AppName)
	case WorkflowWaitForHealth:
		err = s.WaitForHealthCheck(ctx, run, req.AppName, req.HealthCheckDeadline)
	default:
		return Result{}, fmt.Errorf("execution %s: unknown workflow %q", run.ExecutionID(), workflow)
	}
	if err != nil {
		if durable.Interrupted(ctx, err) {
			return Result{}, err
		}
		result.Err = classify(workflow, err)
	}

	if err := run.Finish(ctx, result); err != nil {
		return result, fmt.Errorf("finish execution %s: %w", run.ExecutionID(), err)
	}
	return result, nil
}

// classify turns a non-interrupting failure into a StepError. Anything that
// is not already one is reported as Internal against the workflow, since the
// app may exist by then.
func classify(workflow string, err error) *StepError {
	if se, ok := AsStepError(err); ok {
		return se
	}
	return newStepError(workflow, Internal, "internal failure", err)
}

func knownWorkflow(name string) bool {
	for _, w := range Workflows {
		if w == name {
			return true
		}
	}
	return false
}
