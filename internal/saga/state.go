package saga

// State is the saga's position in its state machine. Each transition is
// the postcondition of one step.
type State string

const (
	Uninitialized     State = "Uninitialized"
	AppCreated        State = "AppCreated"
	IPAllocated       State = "IPAllocated"
	VolumeProvisioned State = "VolumeProvisioned"
	SecretsSatisfied  State = "SecretsSatisfied"
	FinalVMLaunched   State = "FinalVMLaunched"
	HealthCheckPassed State = "HealthCheckPassed"
)

var stateOrder = []State{
	Uninitialized,
	AppCreated,
	IPAllocated,
	VolumeProvisioned,
	SecretsSatisfied,
	FinalVMLaunched,
	HealthCheckPassed,
}

// Previous returns the state before s, or Uninitialized.
func (s State) Previous() State {
	for i, st := range stateOrder {
		if st == s && i > 0 {
			return stateOrder[i-1]
		}
	}
	return Uninitialized
}

// Terminal reports whether s is the success state.
func (s State) Terminal() bool {
	return s == HealthCheckPassed
}
