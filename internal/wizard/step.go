// Package wizard implements the navigation controller for the resume tailoring wizard.
// The controller owns the active step and the payload collected so far, and keeps
// both consistent with the host's navigation history (history entries plus URL fragment).
package wizard

import (
	"fmt"
	"strings"
)

// Step identifies one stage of the wizard.
type Step int

// Wizard steps in chain order.
const (
	StepStart Step = iota
	StepDisplay
	StepProcessing
	StepJobDescription
	StepATSReview
	StepEditor
)

var stepNames = [...]string{
	StepStart:          "start",
	StepDisplay:        "display",
	StepProcessing:     "processing",
	StepJobDescription: "job_description",
	StepATSReview:      "ats_review",
	StepEditor:         "editor",
}

// stepFragments is the fixed step -> URL fragment table. Start has no fragment.
var stepFragments = [...]string{
	StepStart:          "",
	StepDisplay:        "display",
	StepProcessing:     "processing",
	StepJobDescription: "job",
	StepATSReview:      "ats",
	StepEditor:         "main",
}

// forwardEdges is the forward adjacency, including the two skip-edges
// Display -> JobDescription and JobDescription -> Editor.
var forwardEdges = map[Step][]Step{
	StepStart:          {StepDisplay},
	StepDisplay:        {StepProcessing, StepJobDescription},
	StepProcessing:     {StepJobDescription},
	StepJobDescription: {StepATSReview, StepEditor},
	StepATSReview:      {StepEditor},
	StepEditor:         nil,
}

// Steps returns every step in chain order.
func Steps() []Step {
	return []Step{StepStart, StepDisplay, StepProcessing, StepJobDescription, StepATSReview, StepEditor}
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	return s >= StepStart && s <= StepEditor
}

func (s Step) String() string {
	if !s.Valid() {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

// ParseStep converts a wire name (e.g. "job_description") to a Step.
func ParseStep(name string) (Step, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range stepNames {
		if n == name {
			return Step(i), nil
		}
	}
	return StepStart, fmt.Errorf("unknown step: %q", name)
}

// MarshalText encodes the step by name.
func (s Step) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot encode unknown step %d", int(s))
	}
	return []byte(stepNames[s]), nil
}

// UnmarshalText decodes a step from its name.
func (s *Step) UnmarshalText(text []byte) error {
	step, err := ParseStep(string(text))
	if err != nil {
		return err
	}
	*s = step
	return nil
}

// Fragment returns the URL fragment (without '#') the host shows for the step.
func (s Step) Fragment() string {
	if !s.Valid() {
		return ""
	}
	return stepFragments[s]
}

// StepForFragment maps a URL fragment back to its step. A leading '#' is ignored,
// and an empty fragment maps to StepStart. ok is false for unknown fragments.
func StepForFragment(fragment string) (step Step, ok bool) {
	fragment = strings.TrimPrefix(strings.TrimSpace(fragment), "#")
	for i, f := range stepFragments {
		if f == fragment {
			return Step(i), true
		}
	}
	return StepStart, false
}

// Next returns the steps reachable from s by a single forward transition.
func (s Step) Next() []Step {
	edges := forwardEdges[s]
	out := make([]Step, len(edges))
	copy(out, edges)
	return out
}

// CanReach reports whether target is one forward transition away from s.
func (s Step) CanReach(target Step) bool {
	for _, next := range forwardEdges[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Previous returns the step immediately before s in the chain.
// ok is false for StepStart.
func (s Step) Previous() (prev Step, ok bool) {
	if s <= StepStart || !s.Valid() {
		return StepStart, false
	}
	return s - 1, true
}
