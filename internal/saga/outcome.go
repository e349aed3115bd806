package saga

import (
	"encoding/json"
	"errors"
	"fmt"
)

// OutcomeKind is the terminal state of one deployment attempt.
type OutcomeKind string

const (
	Success           OutcomeKind = "Success"
	NoCleanupRequired OutcomeKind = "NoCleanupRequired"
	CleanupOk         OutcomeKind = "CleanupOk"
	// CleanupFailed is the only outcome that needs an operator.
	CleanupFailed OutcomeKind = "CleanupFailed"
)

// Outcome is what AppInit returns. Err is set for every kind but Success;
// CleanupErr only for CleanupFailed.
type Outcome struct {
	Kind       OutcomeKind
	Err        *StepError
	CleanupErr error
}

func (o Outcome) String() string {
	switch o.Kind {
	case Success:
		return string(Success)
	case CleanupFailed:
		return fmt.Sprintf("%s: %v; cleanup: %v", o.Kind, o.Err, o.CleanupErr)
	default:
		return fmt.Sprintf("%s: %v", o.Kind, o.Err)
	}
}

// Succeeded reports whether the deployment is up and healthy.
func (o Outcome) Succeeded() bool {
	return o.Kind == Success
}

type outcomeJSON struct {
	Kind         OutcomeKind `json:"kind"`
	Error        *StepError  `json:"error,omitempty"`
	CleanupError string      `json:"cleanupError,omitempty"`
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	out := outcomeJSON{Kind: o.Kind}
	if o.Err != nil {
		flat := *o.Err
		if o.Err.Err != nil {
			flat.Message = fmt.Sprintf("%s: %v", o.Err.Message, o.Err.Err)
			flat.Err = nil
		}
		out.Error = &flat
	}
	if o.CleanupErr != nil {
		out.CleanupError = o.CleanupErr.Error()
	}
	return json.Marshal(out)
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	var in outcomeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	o.Kind = in.Kind
	o.Err = in.Error
	o.CleanupErr = nil
	if in.CleanupError != "" {
		o.CleanupErr = errors.New(in.CleanupError)
	}
	return nil
}

// Result is what an execution finishes with. App-init executions carry an
// Outcome; single-step and no-cleanup executions carry only Err.
type Result struct {
	Workflow string     `json:"workflow"`
	Outcome  *Outcome   `json:"outcome,omitempty"`
	Err      *StepError `json:"error,omitempty"`
}

// Succeeded reports whether the execution reached its goal.
func (r Result) Succeeded() bool {
	if r.Outcome != nil {
		return r.Outcome.Succeeded()
	}
	return r.Err == nil
}
