package durable

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrExecutionNotFound is returned for an unknown execution ID.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrExecutionExists is returned when an execution ID is reused or an
	// unfinished execution already holds the same workflow and key.
	ErrExecutionExists = errors.New("execution already exists")
	// ErrExecutionFinished is returned when resuming or writing to a
	// finished execution.
	ErrExecutionFinished = errors.New("execution already finished")
	// ErrEntryExists is returned when a journal position is written twice.
	ErrEntryExists = errors.New("journal entry already exists")
	// ErrNondeterministic is returned when a replayed procedure asks for a
	// different call than the one recorded at the same position.
	ErrNondeterministic = errors.New("procedure diverged from its journal")
	// ErrJournal wraps failures to read or write the journal itself.
	ErrJournal = errors.New("journal unavailable")
)

// Status is the lifecycle status of an execution.
type Status string

const (
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
)

// Execution is one run of a named procedure.
type Execution struct {
	ID         string          `json:"id"`
	Workflow   string          `json:"workflow"`
	Key        string          `json:"key"`
	Input      json.RawMessage `json:"input,omitempty"`
	State      string          `json:"state,omitempty"`
	Status     Status          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
}

// EntryKind tells what produced a journal entry.
type EntryKind string

const (
	EntryCall         EntryKind = "call"
	EntryNow          EntryKind = "now"
	EntrySleep        EntryKind = "sleep"
	EntrySubprocedure EntryKind = "subprocedure"
)

// Entry is one journaled result.
type Entry struct {
	Position   string          `json:"position"`
	Name       string          `json:"name"`
	Kind       EntryKind       `json:"kind"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      *RecordedError  `json:"error,omitempty"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// ListFilter narrows ListExecutions. Zero fields match everything.
type ListFilter struct {
	Workflow string
	Key      string
	OnlyOpen bool
}

// Journal persists executions and their entries.
//
// Implementations must reject a second unfinished execution with the same
// workflow and key, and must return entries in the order they were appended.
type Journal interface {
	CreateExecution(ctx context.Context, exec Execution) error
	GetExecution(ctx context.Context, id string) (Execution, error)
	ListExecutions(ctx context.Context, filter ListFilter) ([]Execution, error)
	UpdateState(ctx context.Context, id, state string, at time.Time) error
	FinishExecution(ctx context.Context, id string, result json.RawMessage, at time.Time) error
	AppendEntry(ctx context.Context, id string, entry Entry) error
	Entries(ctx context.Context, id string) ([]Entry, error)
	// DeleteEntries removes the entries of an open execution whose position
	// lies under prefix, that is starts with prefix + "/".
	DeleteEntries(ctx context.Context, id, prefix string) error
}
