// Package durable is a checkpoint journal for long-running procedures.
//
// A procedure receives a Substrate and routes every side effect through it.
// Each call is journaled at a deterministic position (namespace plus sequence
// number), so when an interrupted execution is resumed the recorded results
// are replayed in order and only the calls that never completed run again.
// Sleeps are journaled the same way: a resumed execution that had finished a
// sleep does not sleep again, and one that was interrupted mid-sleep waits
// only for the remainder.
//
// Context cancellation is never journaled. A call interrupted by cancellation
// runs again on resume.
package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Substrate is the capability object handed to a durable procedure.
type Substrate interface {
	// ExecutionID identifies the execution this substrate belongs to.
	ExecutionID() string

	// Now returns the journaled current time.
	Now(ctx context.Context) (time.Time, error)

	// SleepUntil suspends until wake and returns the time it resumed.
	SleepUntil(ctx context.Context, wake time.Time) (time.Time, error)

	// Call runs fn at most once per journal position and returns its
	// JSON-encoded result. Use the package-level Call for typed results.
	Call(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (json.RawMessage, error)

	// Subprocedure runs fn with a child substrate that has its own journal
	// namespace. A completed subprocedure is not run again on replay.
	Subprocedure(ctx context.Context, name string, fn func(ctx context.Context, sub Substrate) error) error

	// Checkpoint is Subprocedure for bodies whose inner entries are not
	// needed once they complete. After fn finishes, only the checkpoint's
	// own entry stays in the journal. Loops that run for a long time put
	// each batch of iterations in a checkpoint to keep the journal short.
	Checkpoint(ctx context.Context, name string, fn func(ctx context.Context, sub Substrate) error) error

	// SetState records a coarse progress marker on the execution.
	SetState(ctx context.Context, state string) error
}

// Call is the typed form of Substrate.Call.
func Call[T any](ctx context.Context, sub Substrate, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	raw, err := sub.Call(ctx, name, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode journaled result of %s: %w", name, err)
	}
	return out, nil
}

// Do is Call for side effects without a result.
func Do(ctx context.Context, sub Substrate, name string, fn func(ctx context.Context) error) error {
	_, err := sub.Call(ctx, name, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// Sleep suspends for d measured from the journaled current time.
func Sleep(ctx context.Context, sub Substrate, d time.Duration) (time.Time, error) {
	now, err := sub.Now(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return sub.SleepUntil(ctx, now.Add(d))
}
