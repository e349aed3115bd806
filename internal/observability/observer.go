// Package observability carries structured deployment events.
package observability

import (
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Observer receives structured events while a deployment runs.
type Observer interface {
	// Event emits a structured event
	Event(event Event)

	// Progress reports progress for a step
	Progress(step string, current, total int)

	// WithFields returns a new Observer with additional context fields
	WithFields(fields map[string]string) Observer
}

// Event represents a structured deployment event.
type Event struct {
	Type      EventType         // Type of event
	Step      string            // Step name (e.g., "allocate-ip")
	Message   string            // Human-readable message
	Resource  string            // Resource name/ID if applicable
	Timestamp time.Time         // When the event occurred
	Fields    map[string]string // Additional contextual fields
}

// EventType represents the type of deployment event.
type EventType string

const (
	EventStepStarted   EventType = "step.started"
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"

	EventResourceCreating EventType = "resource.creating"
	EventResourceCreated  EventType = "resource.created"
	EventResourceDeleting EventType = "resource.deleting"
	EventResourceDeleted  EventType = "resource.deleted"

	EventCleanupStarted   EventType = "cleanup.started"
	EventCleanupCompleted EventType = "cleanup.completed"
	EventCleanupFailed    EventType = "cleanup.failed"

	// EventStateChanged is emitted when the saga advances its state machine.
	EventStateChanged EventType = "state.changed"

	// EventWaiting is emitted by polling loops before they sleep.
	EventWaiting EventType = "waiting"

	EventProgress EventType = "progress"
)

// LogObserver writes events to a logr.Logger.
type LogObserver struct {
	log           logr.Logger
	contextFields map[string]string
}

// NewLogObserver creates an observer that logs through log.
func NewLogObserver(log logr.Logger) *LogObserver {
	return &LogObserver{
		log:           log,
		contextFields: make(map[string]string),
	}
}

// Event implements Observer.
func (o *LogObserver) Event(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	fields := mergeFields(o.contextFields, event.Fields)

	kv := []any{"event", string(event.Type)}
	if event.Step != "" {
		kv = append(kv, "step", event.Step)
	}
	if event.Resource != "" {
		kv = append(kv, "resource", event.Resource)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kv = append(kv, k, fields[k])
	}

	if event.Type == EventWaiting || event.Type == EventProgress {
		o.log.V(1).Info(event.Message, kv...)
		return
	}
	o.log.Info(event.Message, kv...)
}

// Progress implements Observer.
func (o *LogObserver) Progress(step string, current, total int) {
	o.Event(Event{
		Type:    EventProgress,
		Step:    step,
		Message: "progress",
		Fields: map[string]string{
			"current": fmt.Sprint(current),
			"total":   fmt.Sprint(total),
		},
	})
}

// WithFields implements Observer.
func (o *LogObserver) WithFields(fields map[string]string) Observer {
	return &LogObserver{
		log:           o.log,
		contextFields: mergeFields(o.contextFields, fields),
	}
}

func mergeFields(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}

// Recorder keeps events in memory. It is safe for concurrent use and is
// meant for tests.
type Recorder struct {
	mu     *sync.Mutex
	events *[]Event
	fields map[string]string
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		mu:     &sync.Mutex{},
		events: &[]Event{},
		fields: map[string]string{},
	}
}

// Event implements Observer.
func (r *Recorder) Event(event Event) {
	event.Fields = mergeFields(r.fields, event.Fields)
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.events = append(*r.events, event)
}

// Progress implements Observer.
func (r *Recorder) Progress(step string, current, total int) {
	r.Event(Event{
		Type: EventProgress,
		Step: step,
		Fields: map[string]string{
			"current": fmt.Sprint(current),
			"total":   fmt.Sprint(total),
		},
	})
}

// WithFields implements Observer. The returned Recorder shares the event log.
func (r *Recorder) WithFields(fields map[string]string) Observer {
	return &Recorder{mu: r.mu, events: r.events, fields: mergeFields(r.fields, fields)}
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), *r.events...)
}

// Types returns the recorded event types, optionally filtered.
func (r *Recorder) Types(only ...EventType) []EventType {
	var out []EventType
	for _, e := range r.Events() {
		if len(only) == 0 || containsType(only, e.Type) {
			out = append(out, e.Type)
		}
	}
	return out
}

func containsType(types []EventType, t EventType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// Helper functions for common events

// LogStepStart logs a step start event.
func LogStepStart(observer Observer, step string) {
	observer.Event(Event{
		Type:    EventStepStarted,
		Step:    step,
		Message: "starting",
	})
}

// LogStepComplete logs a step completion event.
func LogStepComplete(observer Observer, step string, duration time.Duration) {
	observer.Event(Event{
		Type:    EventStepCompleted,
		Step:    step,
		Message: fmt.Sprintf("completed in %v", duration.Round(time.Millisecond)),
	})
}

// LogStepFailed logs a step failure event.
func LogStepFailed(observer Observer, step string, err error) {
	observer.Event(Event{
		Type:    EventStepFailed,
		Step:    step,
		Message: fmt.Sprintf("failed: %v", err),
	})
}

// LogResourceCreating logs a resource creation start event.
func LogResourceCreating(observer Observer, step, resourceType, resourceName string) {
	observer.Event(Event{
		Type:     EventResourceCreating,
		Step:     step,
		Resource: resourceName,
		Message:  fmt.Sprintf("creating %s", resourceType),
		Fields:   map[string]string{"type": resourceType},
	})
}

// LogResourceCreated logs a successful resource creation event.
func LogResourceCreated(observer Observer, step, resourceType, resourceName, resourceID string) {
	observer.Event(Event{
		Type:     EventResourceCreated,
		Step:     step,
		Resource: resourceName,
		Message:  fmt.Sprintf("%s created", resourceType),
		Fields: map[string]string{
			"type": resourceType,
			"id":   resourceID,
		},
	})
}

// LogResourceDeleting logs a resource deletion start event.
func LogResourceDeleting(observer Observer, step, resourceType, resourceName string) {
	observer.Event(Event{
		Type:     EventResourceDeleting,
		Step:     step,
		Resource: resourceName,
		Message:  fmt.Sprintf("deleting %s", resourceType),
		Fields:   map[string]string{"type": resourceType},
	})
}

// LogResourceDeleted logs a successful resource deletion event.
func LogResourceDeleted(observer Observer, step, resourceType, resourceName string) {
	observer.Event(Event{
		Type:     EventResourceDeleted,
		Step:     step,
		Resource: resourceName,
		Message:  fmt.Sprintf("%s deleted", resourceType),
		Fields:   map[string]string{"type": resourceType},
	})
}

// LogStateChanged logs a state machine transition.
func LogStateChanged(observer Observer, from, to string) {
	observer.Event(Event{
		Type:    EventStateChanged,
		Message: fmt.Sprintf("%s -> %s", from, to),
		Fields: map[string]string{
			"from": from,
			"to":   to,
		},
	})
}
