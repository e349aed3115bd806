package saga

import (
	"errors"
	"fmt"
)

// Kind names why a step failed. The set is closed; RequiresCleanup maps every
// kind to its compensation decision.
type Kind string

const (
	// SpecInvalid: the spec did not render. Nothing was created.
	SpecInvalid Kind = "SpecInvalid"
	// AppNameLookup: the existence check failed, so ownership is unknown.
	AppNameLookup Kind = "AppNameLookup"
	// AppNameConflict: an app with that name already exists and is not ours.
	AppNameConflict Kind = "AppNameConflict"
	// AppCreate: the create call failed and may have left a partial app.
	AppCreate         Kind = "AppCreate"
	IPAllocate        Kind = "IPAllocate"
	VolumeCreate      Kind = "VolumeCreate"
	TempVM            Kind = "TempVM"
	VolumeWrite       Kind = "VolumeWrite"
	Verify            Kind = "Verify"
	AppDeleted        Kind = "AppDeleted"
	SecretsTimeout    Kind = "SecretsTimeout"
	FinalVM           Kind = "FinalVM"
	HealthCheckFailed Kind = "HealthCheckFailed"
	// Internal: the run failed outside any provider step, for example a
	// journaled result that no longer decodes. The app may exist.
	Internal Kind = "Internal"
)

// RequiresCleanup reports whether a failure of this kind leaves resources
// the saga owns.
func (k Kind) RequiresCleanup() bool {
	switch k {
	case SpecInvalid, AppNameLookup, AppNameConflict:
		return false
	case AppCreate, IPAllocate, VolumeCreate, TempVM, VolumeWrite, Verify,
		AppDeleted, SecretsTimeout, FinalVM, HealthCheckFailed, Internal:
		return true
	default:
		// Unknown kinds can only come from a newer journal; assume something
		// was created.
		return true
	}
}

// StepError is the failure of one saga step.
type StepError struct {
	Kind    Kind   `json:"kind"`
	Step    string `json:"step"`
	Message string `json:"message"`
	// Response is the raw provider response for exec failures.
	Response string `json:"response,omitempty"`
	Err      error  `json:"-"`
}

func (e *StepError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Response != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Response)
	}
	return fmt.Sprintf("%s failed [%s]: %s", e.Step, e.Kind, msg)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// AsStepError extracts the StepError from err.
func AsStepError(err error) (*StepError, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func newStepError(step string, kind Kind, message string, err error) *StepError {
	return &StepError{Kind: kind, Step: step, Message: message, Err: err}
}
