package wizard

import "fmt"

// TransitionError reports a rejected transition. The controller state and the
// history are unchanged when it is returned.
type TransitionError struct {
	Op     string
	From   Step
	To     Step
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s from %s to %s rejected: %s", e.Op, e.From, e.To, e.Reason)
}

// InvalidStateError indicates a state that violates its step's invariants.
type InvalidStateError struct {
	Step   Step
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid %s state: %s", e.Step, e.Reason)
}

// DecodeError indicates a history entry that could not be turned into a valid state.
type DecodeError struct {
	Fragment string
	Message  string
	Cause    error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed history entry (fragment %q): %s: %v", e.Fragment, e.Message, e.Cause)
	}
	return fmt.Sprintf("malformed history entry (fragment %q): %s", e.Fragment, e.Message)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}
