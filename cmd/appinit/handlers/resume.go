package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/imamik/appinit/internal/durable"
	"github.com/imamik/appinit/internal/util/async"
)

// ResumeOptions are the inputs of Resume.
type ResumeOptions struct {
	ID  string
	All bool
	// Parallel limits how many executions --all resumes at once.
	Parallel int
}

// Resume continues unfinished executions from their journal. Completed
// steps are replayed from the journal; the provider is only called for
// steps that had not finished.
func Resume(ctx context.Context, opts *Options, r ResumeOptions) error {
	if r.All == (r.ID != "") {
		return errors.New("pass either an execution ID or --all")
	}

	rt, err := newRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	if !r.All {
		return rt.resume(ctx, r.ID)
	}

	open, err := rt.journal.ListExecutions(ctx, durable.ListFilter{OnlyOpen: true})
	if err != nil {
		return fmt.Errorf("failed to list executions: %w", err)
	}
	if len(open) == 0 {
		fmt.Fprintln(rt.out, "No unfinished executions.")
		return nil
	}

	tasks := make([]async.Task, 0, len(open))
	for _, exec := range open {
		id := exec.ID
		tasks = append(tasks, async.Task{
			Name: exec.Key + " (" + id + ")",
			Func: func(ctx context.Context) error { return rt.resume(ctx, id) },
		})
	}
	rt.log.Info("resuming executions", "count", len(tasks), "parallel", r.Parallel)
	return async.RunParallel(ctx, tasks, r.Parallel)
}

func (rt *runtime) resume(ctx context.Context, id string) error {
	run, err := rt.executor.Resume(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, durable.ErrExecutionNotFound):
			return fmt.Errorf("execution %s not found", id)
		case errors.Is(err, durable.ErrExecutionFinished):
			return fmt.Errorf("execution %s already finished, see 'appinit status %s'", id, id)
		}
		return fmt.Errorf("failed to resume %s: %w", id, err)
	}
	return rt.execute(ctx, run)
}
