package wizard

import (
	"encoding/json"
	"fmt"

	"github.com/jonathan/resume-tailor/internal/schemas"
)

// Entry is one host history entry: the fragment shown for it and the complete
// serialized State it restores. Entries are opaque to the host.
type Entry struct {
	Fragment string          `json:"fragment"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// NewEntry encodes a full snapshot of s.
func NewEntry(s State) (Entry, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to encode state: %w", err)
	}
	return Entry{Fragment: s.Step.Fragment(), Data: data}, nil
}

// DecodeEntry restores the state recorded in e. The data must match the
// wizard state schema, satisfy its step's invariants, and agree with the
// entry's fragment; anything else is a *DecodeError.
func DecodeEntry(e Entry) (State, error) {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return State{}, &DecodeError{Fragment: e.Fragment, Message: "entry has no state"}
	}

	if err := schemas.ValidateWizardState(e.Data); err != nil {
		return State{}, &DecodeError{Fragment: e.Fragment, Message: "schema check failed", Cause: err}
	}

	var s State
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return State{}, &DecodeError{Fragment: e.Fragment, Message: "invalid state JSON", Cause: err}
	}

	if err := s.Validate(); err != nil {
		return State{}, &DecodeError{Fragment: e.Fragment, Message: "state violates step invariants", Cause: err}
	}

	if step, ok := StepForFragment(e.Fragment); !ok || step != s.Step {
		return State{}, &DecodeError{
			Fragment: e.Fragment,
			Message:  fmt.Sprintf("fragment does not match recorded step %s", s.Step),
		}
	}

	return s, nil
}
