package wizard

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// StructuredResume holds the categorized sections produced by the section parser.
type StructuredResume struct {
	Profile        string `json:"profile"`
	Summary        string `json:"summary"`
	Education      string `json:"education"`
	Skills         string `json:"skills"`
	WorkExperience string `json:"work_experience"`
	Projects       string `json:"projects"`
}

// State is the complete wizard state. A string field is present when non-empty;
// ATSGaps is present when non-nil, and a present but empty slice means "no gaps".
type State struct {
	Step             Step
	ResumeText       string
	StructuredResume *StructuredResume
	JobDescription   string
	ATSGaps          []string
}

// stateJSON is the wire form of State. ATSGaps is a pointer so that an absent
// list (omitted) and an empty list ([]) survive encoding.
type stateJSON struct {
	Step             Step              `json:"step"`
	ResumeText       string            `json:"resume_text,omitempty"`
	StructuredResume *StructuredResume `json:"structured_resume,omitempty"`
	JobDescription   string            `json:"job_description,omitempty"`
	ATSGaps          *[]string         `json:"ats_gaps,omitempty"`
}

// MarshalJSON encodes the state in its wire form.
func (s State) MarshalJSON() ([]byte, error) {
	w := stateJSON{
		Step:             s.Step,
		ResumeText:       s.ResumeText,
		StructuredResume: s.StructuredResume,
		JobDescription:   s.JobDescription,
	}
	if s.ATSGaps != nil {
		gaps := s.ATSGaps
		w.ATSGaps = &gaps
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form.
func (s *State) UnmarshalJSON(data []byte) error {
	var w stateJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = State{
		Step:             w.Step,
		ResumeText:       w.ResumeText,
		StructuredResume: w.StructuredResume,
		JobDescription:   w.JobDescription,
	}
	if w.ATSGaps != nil {
		s.ATSGaps = *w.ATSGaps
		if s.ATSGaps == nil {
			s.ATSGaps = []string{}
		}
	}
	return nil
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := s
	if s.StructuredResume != nil {
		sr := *s.StructuredResume
		out.StructuredResume = &sr
	}
	if s.ATSGaps != nil {
		out.ATSGaps = append([]string{}, s.ATSGaps...)
	}
	return out
}

// Validate checks the state against the invariants of its step.
func (s State) Validate() error {
	if !s.Step.Valid() {
		return &InvalidStateError{Step: s.Step, Reason: "unknown step"}
	}
	present := s.fields()
	if missing := requiredFields[s.Step] &^ present; missing != 0 {
		return &InvalidStateError{Step: s.Step, Reason: "missing " + missing.String()}
	}
	if extra := present &^ permittedFields[s.Step]; extra != 0 {
		return &InvalidStateError{Step: s.Step, Reason: "forbidden " + extra.String()}
	}
	// Entries are JSON, which cannot carry invalid UTF-8 unchanged.
	if name := s.invalidText(); name != "" {
		return &InvalidStateError{Step: s.Step, Reason: "invalid UTF-8 in " + name}
	}
	return nil
}

// invalidText names the first text field that is not valid UTF-8.
func (s State) invalidText() string {
	if !utf8.ValidString(s.ResumeText) {
		return "resume_text"
	}
	if sr := s.StructuredResume; sr != nil {
		for _, text := range []string{sr.Profile, sr.Summary, sr.Education, sr.Skills, sr.WorkExperience, sr.Projects} {
			if !utf8.ValidString(text) {
				return "structured_resume"
			}
		}
	}
	if !utf8.ValidString(s.JobDescription) {
		return "job_description"
	}
	for _, gap := range s.ATSGaps {
		if !utf8.ValidString(gap) {
			return "ats_gaps"
		}
	}
	return ""
}

// Payload is the data a step hands to the controller. Nil fields are not
// supplied and carry over from the current state. ATSGaps set to an empty,
// non-nil slice supplies "no gaps".
type Payload struct {
	ResumeText       *string           `json:"resume_text,omitempty"`
	StructuredResume *StructuredResume `json:"structured_resume,omitempty"`
	JobDescription   *string           `json:"job_description,omitempty"`
	ATSGaps          []string          `json:"ats_gaps"`
}

// Text returns a pointer to s, for building a Payload.
func Text(s string) *string {
	return &s
}

// merge returns a copy of s with every supplied payload field applied.
func (s State) merge(p Payload) State {
	out := s.Clone()
	if p.ResumeText != nil {
		out.ResumeText = *p.ResumeText
	}
	if p.StructuredResume != nil {
		sr := *p.StructuredResume
		out.StructuredResume = &sr
	}
	if p.JobDescription != nil {
		out.JobDescription = *p.JobDescription
	}
	if p.ATSGaps != nil {
		out.ATSGaps = append([]string{}, p.ATSGaps...)
	}
	return out
}

// restrictTo returns a copy of s moved to step with every field that step
// forbids cleared.
func (s State) restrictTo(step Step) State {
	out := s.Clone()
	out.Step = step
	allowed := permittedFields[step]
	if allowed&fieldResumeText == 0 {
		out.ResumeText = ""
	}
	if allowed&fieldStructuredResume == 0 {
		out.StructuredResume = nil
	}
	if allowed&fieldJobDescription == 0 {
		out.JobDescription = ""
	}
	if allowed&fieldATSGaps == 0 {
		out.ATSGaps = nil
	}
	return out
}

// field is a bit set of State payload fields.
type field uint8

const (
	fieldResumeText field = 1 << iota
	fieldStructuredResume
	fieldJobDescription
	fieldATSGaps
)

const allFields = fieldResumeText | fieldStructuredResume | fieldJobDescription | fieldATSGaps

var fieldNames = []struct {
	bit  field
	name string
}{
	{fieldResumeText, "resume_text"},
	{fieldStructuredResume, "structured_resume"},
	{fieldJobDescription, "job_description"},
	{fieldATSGaps, "ats_gaps"},
}

func (f field) String() string {
	var names []string
	for _, fn := range fieldNames {
		if f&fn.bit != 0 {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, ", ")
}

// requiredFields lists the fields each step needs present.
var requiredFields = map[Step]field{
	StepStart:          0,
	StepDisplay:        fieldResumeText,
	StepProcessing:     fieldResumeText,
	StepJobDescription: fieldResumeText,
	StepATSReview:      fieldResumeText | fieldJobDescription | fieldATSGaps,
	StepEditor:         fieldResumeText | fieldJobDescription,
}

// permittedFields lists the fields each step may carry. The sets only grow
// along forward edges, so carried-over fields are never forbidden by advance.
var permittedFields = map[Step]field{
	StepStart:          0,
	StepDisplay:        fieldResumeText,
	StepProcessing:     fieldResumeText | fieldStructuredResume,
	StepJobDescription: fieldResumeText | fieldStructuredResume | fieldJobDescription,
	StepATSReview:      allFields,
	StepEditor:         allFields,
}

func (s State) fields() field {
	var f field
	if s.ResumeText != "" {
		f |= fieldResumeText
	}
	if s.StructuredResume != nil {
		f |= fieldStructuredResume
	}
	if s.JobDescription != "" {
		f |= fieldJobDescription
	}
	if s.ATSGaps != nil {
		f |= fieldATSGaps
	}
	return f
}
