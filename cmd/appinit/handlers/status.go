package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/imamik/appinit/internal/durable"
)

// StatusOptions are the inputs of Status.
type StatusOptions struct {
	ID       string
	App      string
	OnlyOpen bool
	JSON     bool
}

// Status prints one execution, or lists executions newest first.
func Status(ctx context.Context, opts *Options, s StatusOptions) error {
	journal, closeJournal, err := openJournal(ctx, opts.Journal)
	if err != nil {
		return err
	}
	defer closeJournal()

	styled := !s.JSON && isInteractiveTTY()

	if s.ID != "" {
		exec, err := journal.GetExecution(ctx, s.ID)
		if err != nil {
			if errors.Is(err, durable.ErrExecutionNotFound) {
				return fmt.Errorf("execution %s not found", s.ID)
			}
			return err
		}
		if s.JSON {
			return writeJSON(exec)
		}
		fmt.Fprint(stdout, renderExecution(exec, styled))
		return nil
	}

	execs, err := journal.ListExecutions(ctx, durable.ListFilter{Key: s.App, OnlyOpen: s.OnlyOpen})
	if err != nil {
		return fmt.Errorf("failed to list executions: %w", err)
	}
	sort.SliceStable(execs, func(i, j int) bool { return execs[i].CreatedAt.After(execs[j].CreatedAt) })

	if s.JSON {
		if execs == nil {
			execs = []durable.Execution{}
		}
		return writeJSON(execs)
	}
	if len(execs) == 0 {
		fmt.Fprintln(stdout, "No executions.")
		return nil
	}
	fmt.Fprint(stdout, renderExecutions(execs, styled))
	return nil
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
