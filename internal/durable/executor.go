package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// Executor starts and resumes executions over a Journal.
type Executor struct {
	journal Journal
	clock   clock.Clock
	codec   ErrorCodec
	log     logr.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock sets the clock used for Now and SleepUntil.
func WithClock(c clock.Clock) Option {
	return func(e *Executor) {
		e.clock = c
	}
}

// WithErrorCodec sets how call errors are journaled.
func WithErrorCodec(c ErrorCodec) Option {
	return func(e *Executor) {
		e.codec = c
	}
}

// WithLogger sets the executor logger.
func WithLogger(l logr.Logger) Option {
	return func(e *Executor) {
		e.log = l
	}
}

// NewExecutor creates an Executor backed by j.
func NewExecutor(j Journal, opts ...Option) *Executor {
	e := &Executor{
		journal: j,
		clock:   clock.RealClock{},
		codec:   MessageCodec{},
		log:     logr.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Journal returns the underlying journal.
func (e *Executor) Journal() Journal {
	return e.journal
}

// NewExecutionID returns a fresh execution ID.
func NewExecutionID() string {
	return "exe_" + uuid.NewString()
}

// Start records a new execution of workflow for key and returns its run.
func (e *Executor) Start(ctx context.Context, workflow, key string, input any) (*Run, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	now := e.clock.Now().UTC()
	exec := Execution{
		ID:        NewExecutionID(),
		Workflow:  workflow,
		Key:       key,
		Input:     raw,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.journal.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	e.log.V(1).Info("execution started", "execution", exec.ID, "workflow", workflow, "key", key)
	return e.newRun(exec, nil), nil
}

// Resume loads an unfinished execution and its journal for replay.
func (e *Executor) Resume(ctx context.Context, id string) (*Run, error) {
	exec, err := e.journal.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec.Status == StatusFinished {
		return nil, fmt.Errorf("execution %q: %w", id, ErrExecutionFinished)
	}
	entries, err := e.journal.Entries(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	e.log.V(1).Info("execution resumed", "execution", id, "workflow", exec.Workflow, "key", exec.Key, "entries", len(entries))
	return e.newRun(exec, entries), nil
}

func (e *Executor) newRun(exec Execution, entries []Entry) *Run {
	recorded := make(map[string]Entry, len(entries))
	for _, en := range entries {
		recorded[en.Position] = en
	}
	r := &Run{exec: exec}
	r.scope = &scope{executor: e, run: r, recorded: recorded}
	return r
}

// Run is one live execution. It is the root Substrate of the procedure.
type Run struct {
	*scope
	exec Execution
}

var _ Substrate = (*Run)(nil)

// Execution returns the execution record as loaded or created.
func (r *Run) Execution() Execution {
	return r.exec
}

// Input decodes the execution input into v.
func (r *Run) Input(v any) error {
	if err := json.Unmarshal(r.exec.Input, v); err != nil {
		return fmt.Errorf("decode input of %s: %w", r.exec.ID, err)
	}
	return nil
}

// Finish records the procedure result and closes the execution.
func (r *Run) Finish(ctx context.Context, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := r.executor.journal.FinishExecution(ctx, r.exec.ID, raw, r.executor.clock.Now().UTC()); err != nil {
		return err
	}
	r.executor.log.V(1).Info("execution finished", "execution", r.exec.ID)
	return nil
}

// scope is a journal namespace. The root scope has an empty namespace.
type scope struct {
	executor  *Executor
	run       *Run
	namespace string
	seq       int
	recorded  map[string]Entry
}

func (s *scope) ExecutionID() string {
	return s.run.exec.ID
}

func (s *scope) next(name string) string {
	s.seq++
	return path.Join(s.namespace, strconv.Itoa(s.seq)+"."+name)
}

// replay returns the entry at pos if one was recorded.
func (s *scope) replay(pos, name string, kind EntryKind) (Entry, bool, error) {
	en, ok := s.recorded[pos]
	if !ok {
		return Entry{}, false, nil
	}
	if en.Name != name || en.Kind != kind {
		return Entry{}, false, fmt.Errorf("position %s recorded %s %q, got %s %q: %w",
			pos, en.Kind, en.Name, kind, name, ErrNondeterministic)
	}
	return en, true, nil
}

func (s *scope) record(ctx context.Context, en Entry) error {
	en.RecordedAt = s.executor.clock.Now().UTC()
	if err := s.executor.journal.AppendEntry(ctx, s.run.exec.ID, en); err != nil {
		return fmt.Errorf("%w: record %s: %w", ErrJournal, en.Position, err)
	}
	return nil
}

func (s *scope) Now(ctx context.Context) (time.Time, error) {
	pos := s.next("now")
	en, ok, err := s.replay(pos, "now", EntryNow)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return decodeTime(en.Output)
	}
	now := s.executor.clock.Now().UTC()
	out, _ := json.Marshal(now)
	if err := s.record(ctx, Entry{Position: pos, Name: "now", Kind: EntryNow, Output: out}); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

func (s *scope) SleepUntil(ctx context.Context, wake time.Time) (time.Time, error) {
	pos := s.next("sleep")
	en, ok, err := s.replay(pos, "sleep", EntrySleep)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return decodeTime(en.Output)
	}
	if d := wake.Sub(s.executor.clock.Now()); d > 0 {
		timer := s.executor.clock.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Time{}, ctx.Err()
		case <-timer.C():
		}
	} else if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	resumed := s.executor.clock.Now().UTC()
	out, _ := json.Marshal(resumed)
	if err := s.record(ctx, Entry{Position: pos, Name: "sleep", Kind: EntrySleep, Output: out}); err != nil {
		return time.Time{}, err
	}
	return resumed, nil
}

func (s *scope) Call(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	pos := s.next(name)
	en, ok, err := s.replay(pos, name, EntryCall)
	if err != nil {
		return nil, err
	}
	if ok {
		if en.Error != nil {
			return nil, s.executor.codec.Decode(en.Error)
		}
		return en.Output, nil
	}

	result, callErr := fn(ctx)
	if callErr != nil {
		if Interrupted(ctx, callErr) {
			return nil, callErr
		}
		if err := s.record(ctx, Entry{Position: pos, Name: name, Kind: EntryCall, Error: s.executor.codec.Encode(callErr)}); err != nil {
			return nil, errors.Join(callErr, err)
		}
		return nil, callErr
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result of %s: %w", name, err)
	}
	if err := s.record(ctx, Entry{Position: pos, Name: name, Kind: EntryCall, Output: out}); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *scope) Subprocedure(ctx context.Context, name string, fn func(ctx context.Context, sub Substrate) error) error {
	_, err := s.subprocedure(ctx, name, fn)
	return err
}

func (s *scope) Checkpoint(ctx context.Context, name string, fn func(ctx context.Context, sub Substrate) error) error {
	pos, err := s.subprocedure(ctx, name, fn)
	if pos == "" {
		return err
	}
	// A recorded checkpoint is never entered on replay, so what it recorded
	// inside is dead weight. Failing to drop it only costs space.
	if dropErr := s.executor.journal.DeleteEntries(ctx, s.run.exec.ID, pos); dropErr != nil {
		s.executor.log.V(1).Info("cannot compact checkpoint", "execution", s.run.exec.ID, "position", pos, "error", dropErr.Error())
	}
	return err
}

// subprocedure runs fn in a child namespace and returns the position it
// recorded, or "" when nothing new was recorded.
func (s *scope) subprocedure(ctx context.Context, name string, fn func(ctx context.Context, sub Substrate) error) (string, error) {
	pos := s.next(name)
	en, ok, err := s.replay(pos, name, EntrySubprocedure)
	if err != nil {
		return "", err
	}
	if ok {
		if en.Error != nil {
			return "", s.executor.codec.Decode(en.Error)
		}
		return "", nil
	}

	child := &scope{executor: s.executor, run: s.run, namespace: pos, recorded: s.recorded}
	callErr := fn(ctx, child)
	if callErr != nil && Interrupted(ctx, callErr) {
		return "", callErr
	}
	rec := Entry{Position: pos, Name: name, Kind: EntrySubprocedure}
	if callErr != nil {
		rec.Error = s.executor.codec.Encode(callErr)
	}
	if err := s.record(ctx, rec); err != nil {
		return "", errors.Join(callErr, err)
	}
	return pos, callErr
}

func (s *scope) SetState(ctx context.Context, state string) error {
	if err := s.executor.journal.UpdateState(ctx, s.run.exec.ID, state, s.executor.clock.Now().UTC()); err != nil {
		return fmt.Errorf("%w: set state %s: %w", ErrJournal, state, err)
	}
	s.run.exec.State = state
	return nil
}

// Interrupted reports whether err stopped the procedure without being a
// result of the procedure itself: the caller's ctx is done, the journal
// failed, or replay diverged. Such errors leave the execution open for Resume.
//
// Only ctx decides cancellation. A call that fails with its own deadline
// (an HTTP client timeout, a bounded delete) while ctx is live is a result
// and is journaled like any other failure.
func Interrupted(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	return ctx.Err() != nil || errors.Is(err, ErrJournal) || errors.Is(err, ErrNondeterministic)
}

func decodeTime(raw json.RawMessage) (time.Time, error) {
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil {
		return time.Time{}, fmt.Errorf("decode journaled time: %w", err)
	}
	return t, nil
}
