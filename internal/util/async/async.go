package async

import (
	"context"
	"errors"
	"fmt"
)

// Task represents an asynchronous operation with a name and function.
type Task struct {
	Name string
	Func func(context.Context) error
}

// RunParallel executes tasks concurrently, at most limit at a time (zero or
// negative means no limit), and waits for all of them. Every failure is
// returned, wrapped with its task name and joined with errors.Join.
//
// Example:
//
//	tasks := []Task{
//	    {Name: "exe_1", Func: resumeOne("exe_1")},
//	    {Name: "exe_2", Func: resumeOne("exe_2")},
//	}
//	if err := RunParallel(ctx, tasks, 4); err != nil {
//	    return err
//	}
func RunParallel(ctx context.Context, tasks []Task, limit int) error {
	if len(tasks) == 0 {
		return nil
	}
	if limit <= 0 || limit > len(tasks) {
		limit = len(tasks)
	}

	type result struct {
		name string
		err  error
	}

	results := make(chan result, len(tasks))
	slots := make(chan struct{}, limit)

	for _, task := range tasks {
		go func() {
			slots <- struct{}{}
			defer func() { <-slots }()
			results <- result{name: task.Name, err: task.Func(ctx)}
		}()
	}

	var errs []error
	for range len(tasks) {
		res := <-results
		if res.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.name, res.err))
		}
	}
	return errors.Join(errs...)
}
