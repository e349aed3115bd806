// Package journaltest provides contract tests for [durable.Journal]
// implementations.
package journaltest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/appinit/internal/durable"
)

// Factory creates a fresh [durable.Journal] for each test.
type Factory func(t *testing.T) durable.Journal

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleExecution(id, key string, offset time.Duration) durable.Execution {
	return durable.Execution{
		ID:        id,
		Workflow:  "app-init",
		Key:       key,
		Input:     json.RawMessage(`{"appName":"` + key + `"}`),
		Status:    durable.StatusRunning,
		CreatedAt: base.Add(offset),
		UpdatedAt: base.Add(offset),
	}
}

// Run exercises the [durable.Journal] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("CreateAndGet", func(t *testing.T) {
		j := factory(t)
		ctx := context.Background()

		require.NoError(t, j.CreateExecution(ctx, sampleExecution("e1", "demo", 0)))

		got, err := j.GetExecution(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, "app-init", got.Workflow)
		assert.Equal(t, "demo", got.Key)
		assert.Equal(t, durable.StatusRunning, got.Status)
		assert.JSONEq(t, `{"appName":"demo"}`, string(got.Input))
		assert.True(t, got.CreatedAt.Equal(base), "CreatedAt = %s", got.CreatedAt)
		assert.Nil(t, got.FinishedAt)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		j := factory(t)
		_, err := j.GetExecution(context.Background(), "missing")
		assert.ErrorIs(t, err, durable.ErrExecutionNotFound)
	})

	t.Run("CreateDuplicateID", func(t *testing.T) {
		j := factory(t)
		ctx := context.Background()
		require.NoError(t, j.CreateExecution(ctx, sampleExecution("e1", "demo", 0)))
		err := j.CreateExecution(ctx, sampleExecution("e1", "other", 0))
		assert.ErrorIs(t, err, durable.ErrExecutionExists)
	})

	t.Run("OneOpenExecutionPerKey", func(t *testing.T) {
		j := factory(t)
		ctx := context.Background()
		require.NoError(t, j.CreateExecution(ctx, sampleExecution("e1", "demo", 0)))

		err := j.CreateExecution(ctx, sampleExecution("e2", "demo", time.Second))
		require.ErrorIs(t, err, durable.ErrExecutionExists)

		require.NoError(t, j.FinishExecution(ctx, "e1", json.RawMessage(`{"kind":"Success"}`), base.Add(time.Minute)))
		require.NoError(t, j.CreateExecution(ctx, sampleExecution("e2", "demo", time.Second)))
	})

	t.Run("UpdateState", func(t *testing.T) {
		j := factory(t)
		ctx := context.Background()
		require.NoError(t, j.CreateExecution(ctx, sampleExecution("e1", "demo", 0)))

		require.NoError(t, j.UpdateState(ctx, "e1", "AppCreated", base.Add(time.Second)))
		got, err := j.GetExecution(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, "AppCreated", got.State)
		assert.True(t, got.UpdatedAt.Equal(base.Add(time.Second)))

		assert.ErrorIs(t, j.UpdateState(ctx, "missing", "x", base), durable.ErrExecutionNotFound)
	})

	t.Run("Finish", func(t *testing.T) {
		j := factory(t)
		ctx := context.Background()
		require.NoError(t, j.CreateExecution(ctx, sampleExecution("e1", "demo", 0)))

		finishedAt := base.Add(time.Hour)
		require.NoError(t, j.FinishExecution(ctx, "e1", json.RawMessage(`{"kind":"CleanupOk"}`), finishedAt))

		got, err := j.GetExecution(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, durable.StatusFinished, got.Status)
		assert.JSONEq(t, `{"kind":"CleanupOk"}`, string(got.Result))
		require.NotNil(t, got.FinishedAt)
		assert.True(t, got.FinishedAt.Equal(finishedAt))

		err = j.FinishExecution(ctx, "e1", nil, finishedAt)
		assert.ErrorIs(t, err, durable.ErrExecutionFinished)
		err = j.AppendEntry(ctx, "e1", durable.Entry{Position: "1.x", Name: "x", Kind: durable.EntryCall, RecordedAt: finishedAt})
		assert.ErrorIs(t, err, durable.ErrExecutionFinished)
	})

	t.Run("List", func(t *testing.T) {
		j := factory(t)
		ctx := context.Background()
		require.NoError(t, j.CreateExecution(ctx, sampleExecution("e2", "beta", 2*time.Second)))
		require.NoError(t, j.CreateExecution(ctx, sampleExecution("e1", "alpha", time.Second)))
		require.NoError(t, j.CreateExecution(ctx, sampleExecution("e3", "gamma", 3*time.Second)))
		require.NoError(t, j.FinishExecution(ctx, "e3", json.RawMessage(`{}`), base.Add(time.Hour)))

		all, err := j.ListExecutions(ctx, durable.ListFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"e1", "e2", "e3"}, ids(all))

		open, err := j.ListExecutions(ctx, durable.ListFilter{OnlyOpen: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"e1", "e2"}, ids(open))

		byKey, err := j.ListExecutions(ctx, durable.ListFilter{Key: "beta"})
		require.NoError(t, err)
		assert.Equal(t, []string{"e2"}, ids(byKey))

		none, err := j.ListExecutions(ctx, durable.ListFilter{Workflow: "other"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("EntriesKeepAppendOrder", func(t *testing.T) {
		j := factory(t)
		ctx := context.Background()
		require.NoError(t, j.CreateExecution(ctx, sampleExecution("e1", "demo", 0)))

		entries := []durable.Entry{
			{Position: "1.prepare/1.apps.get", Name: "apps.get", Kind: durable.EntryCall, Output: json.RawMessage(`null`), RecordedAt: base},
			{Position: "1.prepare/2.apps.put", Name: "apps.put", Kind: durable.EntryCall,
				Error: &durable.RecordedError{Code: "provider", Message: "boom", Detail: json.RawMessage(`{"op":"apps.put"}`)}, RecordedAt: base},
			{Position: "1.prepare", Name: "prepare", Kind: durable.EntrySubprocedure, RecordedAt: base.Add(time.Second)},
			{Position: "2.now", Name: "now", Kind: durable.EntryNow, Output: json.RawMessage(`"2025-03-01T12:00:01Z"`), RecordedAt: base.Add(time.Second)},
		}
		for _, en := range entries {
			require.NoError(t, j.AppendEntry(ctx, "e1", en))
		}

		got, err := j.Entries(ctx, "e1")
		require.NoError(t, err)
		require.Len(t, got, len(entries))
		for i := range entries {
			assert.Equal(t, entries[i].Position, got[i].Position)
			assert.Equal(t, entries[i].Name, got[i].Name)
			assert.Equal(t, entries[i].Kind, got[i].Kind)
			assert.True(t, entries[i].RecordedAt.Equal(got[i].RecordedAt))
		}
		assert.JSONEq(t, `null`, string(got[0].Output))
		require.NotNil(t, got[1].Error)
		assert.Equal(t, "provider", got[1].Error.Code)
		assert.Equal(t, "boom", got[1].Error.Message)
		assert.JSONEq(t, `{"op":"apps.put"}`, string(got[1].Error.Detail))
		assert.Nil(t, got[2].Error)
		assert.Empty(t, got[2].Output)

		err = j.AppendEntry(ctx, "e1", entries[0])
		assert.ErrorIs(t, err, durable.ErrEntryExists)
	})

	t.Run("DeleteEntriesUnderPrefix", func(t *testing.T) {
		j := factory(t)
		ctx := context.Background()
		require.NoError(t, j.CreateExecution(ctx, sampleExecution("e1", "demo", 0)))

		for _, pos := range []string{"1.wait", "1.wait_x/1.now", "2.round/1.secrets.list", "2.round/2.sleep", "2.round", "2.round_b/1.now", "3.result"} {
			require.NoError(t, j.AppendEntry(ctx, "e1", durable.Entry{Position: pos, Name: "x", Kind: durable.EntryCall, RecordedAt: base}))
		}
		require.NoError(t, j.DeleteEntries(ctx, "e1", "2.round"))

		got, err := j.Entries(ctx, "e1")
		require.NoError(t, err)
		positions := make([]string, len(got))
		for i, en := range got {
			positions[i] = en.Position
		}
		assert.Equal(t, []string{"1.wait", "1.wait_x/1.now", "2.round", "2.round_b/1.now", "3.result"}, positions)

		// Sequence numbers keep growing after a delete.
		require.NoError(t, j.AppendEntry(ctx, "e1", durable.Entry{Position: "4.next", Name: "x", Kind: durable.EntryCall, RecordedAt: base}))
		got, err = j.Entries(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, "4.next", got[len(got)-1].Position)

		assert.ErrorIs(t, j.DeleteEntries(ctx, "missing", "2.round"), durable.ErrExecutionNotFound)
		require.NoError(t, j.FinishExecution(ctx, "e1", nil, base.Add(time.Minute)))
		assert.ErrorIs(t, j.DeleteEntries(ctx, "e1", "2.round"), durable.ErrExecutionFinished)
	})

	t.Run("EntriesUnknownExecution", func(t *testing.T) {
		j := factory(t)
		ctx := context.Background()
		_, err := j.Entries(ctx, "missing")
		assert.ErrorIs(t, err, durable.ErrExecutionNotFound)
		err = j.AppendEntry(ctx, "missing", durable.Entry{Position: "1.x", Name: "x", Kind: durable.EntryCall, RecordedAt: base})
		assert.ErrorIs(t, err, durable.ErrExecutionNotFound)
	})
}

func ids(execs []durable.Execution) []string {
	out := make([]string, len(execs))
	for i, e := range execs {
		out[i] = e.ID
	}
	return out
}
