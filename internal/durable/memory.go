package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryJournal is an in-process Journal. It loses everything on exit and is
// meant for tests and one-shot runs.
type MemoryJournal struct {
	mu         sync.Mutex
	executions map[string]*Execution
	entries    map[string][]Entry
}

var _ Journal = (*MemoryJournal)(nil)

// NewMemoryJournal returns an empty MemoryJournal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		executions: make(map[string]*Execution),
		entries:    make(map[string][]Entry),
	}
}

func (m *MemoryJournal) CreateExecution(_ context.Context, exec Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[exec.ID]; ok {
		return fmt.Errorf("execution %q: %w", exec.ID, ErrExecutionExists)
	}
	for _, e := range m.executions {
		if e.Status == StatusRunning && e.Workflow == exec.Workflow && e.Key == exec.Key {
			return fmt.Errorf("%s %q held by %s: %w", exec.Workflow, exec.Key, e.ID, ErrExecutionExists)
		}
	}
	if exec.Status == "" {
		exec.Status = StatusRunning
	}
	m.executions[exec.ID] = &exec
	return nil
}

func (m *MemoryJournal) GetExecution(_ context.Context, id string) (Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return Execution{}, fmt.Errorf("execution %q: %w", id, ErrExecutionNotFound)
	}
	return *e, nil
}

func (m *MemoryJournal) ListExecutions(_ context.Context, filter ListFilter) ([]Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Execution
	for _, e := range m.executions {
		if filter.Workflow != "" && e.Workflow != filter.Workflow {
			continue
		}
		if filter.Key != "" && e.Key != filter.Key {
			continue
		}
		if filter.OnlyOpen && e.Status != StatusRunning {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryJournal) UpdateState(_ context.Context, id, state string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.openLocked(id)
	if err != nil {
		return err
	}
	e.State = state
	e.UpdatedAt = at
	return nil
}

func (m *MemoryJournal) FinishExecution(_ context.Context, id string, result json.RawMessage, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.openLocked(id)
	if err != nil {
		return err
	}
	e.Status = StatusFinished
	e.Result = append(json.RawMessage(nil), result...)
	e.UpdatedAt = at
	e.FinishedAt = &at
	return nil
}

func (m *MemoryJournal) AppendEntry(_ context.Context, id string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.openLocked(id)
	if err != nil {
		return err
	}
	for _, existing := range m.entries[id] {
		if existing.Position == entry.Position {
			return fmt.Errorf("position %s: %w", entry.Position, ErrEntryExists)
		}
	}
	m.entries[id] = append(m.entries[id], entry)
	e.UpdatedAt = entry.RecordedAt
	return nil
}

func (m *MemoryJournal) DeleteEntries(_ context.Context, id, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.openLocked(id); err != nil {
		return err
	}
	kept := m.entries[id][:0]
	for _, en := range m.entries[id] {
		if !strings.HasPrefix(en.Position, prefix+"/") {
			kept = append(kept, en)
		}
	}
	m.entries[id] = kept
	return nil
}

func (m *MemoryJournal) Entries(_ context.Context, id string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[id]; !ok {
		return nil, fmt.Errorf("execution %q: %w", id, ErrExecutionNotFound)
	}
	return append([]Entry(nil), m.entries[id]...), nil
}

func (m *MemoryJournal) openLocked(id string) (*Execution, error) {
	e, ok := m.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %q: %w", id, ErrExecutionNotFound)
	}
	if e.Status == StatusFinished {
		return nil, fmt.Errorf("execution %q: %w", id, ErrExecutionFinished)
	}
	return e, nil
}
