package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingHistory struct {
	err      error
	pushes   int
	replaces int
}

func (f *failingHistory) Push(context.Context, Entry) error {
	f.pushes++
	return f.err
}

func (f *failingHistory) Replace(context.Context, Entry) error {
	f.replaces++
	return f.err
}

func newTestController(t *testing.T, opts ...Option) (*Controller, *MemoryHistory) {
	t.Helper()
	h := NewMemoryHistory()
	return NewController(h, opts...), h
}

func assertCurrentEntryMatches(t *testing.T, h *MemoryHistory, s State) {
	t.Helper()
	cur := h.Current()
	require.NotNil(t, cur)
	assert.Equal(t, s.Step.Fragment(), cur.Fragment)

	decoded, err := DecodeEntry(*cur)
	require.NoError(t, err)
	assert.Equal(t, s, decoded)
}

func TestController_InitialState(t *testing.T) {
	c, h := newTestController(t)
	assert.Equal(t, State{Step: StepStart}, c.State())
	assert.Equal(t, "", c.Fragment())
	assert.Equal(t, []Step{StepDisplay}, c.Available())
	assert.Equal(t, 0, h.Len())
}

func TestController_Scenario_HostBackClearsGaps(t *testing.T) {
	ctx := context.Background()
	c, h := newTestController(t)

	s, err := c.Advance(ctx, StepDisplay, Payload{ResumeText: Text("John Doe, Engineer")})
	require.NoError(t, err)
	assert.Equal(t, State{Step: StepDisplay, ResumeText: "John Doe, Engineer"}, s)
	assert.Equal(t, "display", c.Fragment())

	s, err = c.Advance(ctx, StepJobDescription, Payload{})
	require.NoError(t, err)
	assert.Equal(t, State{Step: StepJobDescription, ResumeText: "John Doe, Engineer"}, s)

	s, err = c.Advance(ctx, StepATSReview, Payload{
		JobDescription: Text("Needs Python"),
		ATSGaps:        []string{"Python experience"},
	})
	require.NoError(t, err)
	assert.Equal(t, State{
		Step:           StepATSReview,
		ResumeText:     "John Doe, Engineer",
		JobDescription: "Needs Python",
		ATSGaps:        []string{"Python experience"},
	}, s)
	assert.Equal(t, 3, h.Len())

	s = c.OnHistoryChange(ctx, h.Back())
	assert.Equal(t, State{Step: StepJobDescription, ResumeText: "John Doe, Engineer"}, s)
	assert.Nil(t, s.ATSGaps)
	assert.Equal(t, "job", c.Fragment())

	// replay never writes history
	assert.Equal(t, 3, h.Len())

	s = c.OnHistoryChange(ctx, h.Forward())
	assert.Equal(t, StepATSReview, s.Step)
	assert.Equal(t, []string{"Python experience"}, s.ATSGaps)
}

func TestController_FreshLoadWithEditorFragment(t *testing.T) {
	ctx := context.Background()
	c, h := newTestController(t)

	s := c.Load(ctx, "#main", nil)
	assert.Equal(t, State{Step: StepStart}, s)
	assert.Equal(t, "", c.Fragment())

	// the stale fragment is cleared by replacing the host entry
	require.Equal(t, 1, h.Len())
	assert.Equal(t, "", h.Current().Fragment)
}

func TestController_LoadWithoutFragmentWritesNothing(t *testing.T) {
	c, h := newTestController(t)

	s := c.Load(context.Background(), "", nil)
	assert.Equal(t, State{Step: StepStart}, s)
	assert.Equal(t, 0, h.Len())
}

func TestController_LoadReplaysEntry(t *testing.T) {
	ctx := context.Background()
	want := State{Step: StepEditor, ResumeText: "r", JobDescription: "jd"}
	entry, err := NewEntry(want)
	require.NoError(t, err)

	c, h := newTestController(t)
	s := c.Load(ctx, "#main", &entry)
	assert.Equal(t, want, s)
	assert.Equal(t, 0, h.Len())
}

func TestController_ResetThenDegradeIsIdempotent(t *testing.T) {
	ctx := context.Background()

	a, _ := newTestController(t)
	_, err := a.Advance(ctx, StepDisplay, Payload{ResumeText: Text("r")})
	require.NoError(t, err)
	_, err = a.Reset(ctx)
	require.NoError(t, err)
	afterReset := a.OnHistoryChange(ctx, nil)

	b, _ := newTestController(t)
	_, err = b.Advance(ctx, StepDisplay, Payload{ResumeText: Text("r")})
	require.NoError(t, err)
	degradedOnly := b.OnHistoryChange(ctx, nil)

	assert.Equal(t, degradedOnly, afterReset)
	assert.Equal(t, State{Step: StepStart}, afterReset)
}

func TestController_ResetRecordsStartEntry(t *testing.T) {
	ctx := context.Background()
	c, h := newTestController(t)

	_, err := c.Advance(ctx, StepDisplay, Payload{ResumeText: Text("r")})
	require.NoError(t, err)

	s, err := c.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, State{Step: StepStart}, s)
	assert.Equal(t, 2, h.Len())
	assert.JSONEq(t, `{"step":"start"}`, string(h.Current().Data))
	assert.Equal(t, "", h.Current().Fragment)
}

func TestController_AdvanceReplayRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, h := newTestController(t)

	_, err := c.Advance(ctx, StepDisplay, Payload{ResumeText: Text("Jane Roe\nPlatform engineer")})
	require.NoError(t, err)
	_, err = c.Advance(ctx, StepProcessing, Payload{StructuredResume: sampleSections()})
	require.NoError(t, err)
	advanced, err := c.Advance(ctx, StepJobDescription, Payload{JobDescription: Text("Senior Go developer, Kubernetes")})
	require.NoError(t, err)

	entry := h.Current()
	require.NotNil(t, entry)

	fresh, _ := newTestController(t)
	replayed := fresh.OnHistoryChange(ctx, entry)
	assert.Equal(t, advanced, replayed)

	want, err := json.Marshal(advanced)
	require.NoError(t, err)
	got, err := json.Marshal(replayed)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestController_AdvanceRejectsInvalidUTF8(t *testing.T) {
	ctx := context.Background()
	c, h := newTestController(t)

	_, err := c.Advance(ctx, StepDisplay, Payload{ResumeText: Text("John\xffDoe")})
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "invalid UTF-8 in resume_text", te.Reason)
	assert.Equal(t, State{Step: StepStart}, c.State())
	assert.Equal(t, 0, h.Len())

	// every accepted state replays to exactly what Advance returned
	advanced, err := c.Advance(ctx, StepDisplay, Payload{ResumeText: Text("John Doe \u00e9\u4e2d")})
	require.NoError(t, err)
	fresh, _ := newTestController(t)
	assert.Equal(t, advanced, fresh.OnHistoryChange(ctx, h.Current()))
}

func TestController_RetreatFromEditorPreservesJobDescription(t *testing.T) {
	tests := []struct {
		name        string
		path        func(t *testing.T, c *Controller)
		retreatedTo Step
	}{
		{
			name: "via gap check",
			path: func(t *testing.T, c *Controller) {
				ctx := context.Background()
				_, err := c.Advance(ctx, StepATSReview, Payload{JobDescription: Text("jd"), ATSGaps: []string{}})
				require.NoError(t, err)
				_, err = c.Advance(ctx, StepEditor, Payload{})
				require.NoError(t, err)
			},
			retreatedTo: StepATSReview,
		},
		{
			name: "via skip edge",
			path: func(t *testing.T, c *Controller) {
				_, err := c.Advance(context.Background(), StepEditor, Payload{JobDescription: Text("jd")})
				require.NoError(t, err)
			},
			retreatedTo: StepJobDescription,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			c, _ := newTestController(t)
			_, err := c.Advance(ctx, StepDisplay, Payload{ResumeText: Text("r")})
			require.NoError(t, err)
			_, err = c.Advance(ctx, StepJobDescription, Payload{})
			require.NoError(t, err)
			tt.path(t, c)

			before := c.State()
			require.Equal(t, StepEditor, before.Step)

			s, err := c.Retreat(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.retreatedTo, s.Step)
			assert.Equal(t, "jd", s.JobDescription)

			s, err = c.Advance(ctx, StepEditor, Payload{})
			require.NoError(t, err)
			assert.Equal(t, before.JobDescription, s.JobDescription)
			assert.Equal(t, StepEditor, s.Step)
		})
	}
}

func TestController_RetreatClearsForbiddenFields(t *testing.T) {
	ctx := context.Background()
	c, h := newTestController(t)

	_, err := c.Advance(ctx, StepDisplay, Payload{ResumeText: Text("r")})
	require.NoError(t, err)
	_, err = c.Advance(ctx, StepProcessing, Payload{StructuredResume: sampleSections()})
	require.NoError(t, err)
	_, err = c.Advance(ctx, StepJobDescription, Payload{JobDescription: Text("jd")})
	require.NoError(t, err)

	s, err := c.Retreat(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepProcessing, s.Step)
	assert.Empty(t, s.JobDescription)
	assert.NotNil(t, s.StructuredResume)
	assertCurrentEntryMatches(t, h, s)

	s, err = c.Retreat(ctx)
	require.NoError(t, err)
	assert.Equal(t, State{Step: StepDisplay, ResumeText: "r"}, s)

	s, err = c.Retreat(ctx)
	require.NoError(t, err)
	assert.Equal(t, State{Step: StepStart}, s)
	assert.Equal(t, 6, h.Len())
}

func TestController_RetreatFromStartRejected(t *testing.T) {
	c, h := newTestController(t)

	s, err := c.Retreat(context.Background())
	require.Error(t, err)

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, OpRetreat, te.Op)
	assert.Equal(t, State{Step: StepStart}, s)
	assert.Equal(t, 0, h.Len())
}

func TestController_AdvanceRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   []func(c *Controller) error
		target  Step
		payload Payload
		reason  string
	}{
		{
			name:    "unreachable from start",
			target:  StepEditor,
			payload: Payload{ResumeText: Text("r"), JobDescription: Text("jd")},
			reason:  "not reachable",
		},
		{
			name:   "missing resume",
			target: StepDisplay,
			reason: "missing resume_text",
		},
		{
			name:    "unknown target",
			target:  Step(17),
			payload: Payload{ResumeText: Text("r")},
			reason:  "unknown target step",
		},
		{
			name: "gap check without gaps",
			setup: []func(c *Controller) error{
				func(c *Controller) error {
					_, err := c.Advance(ctx, StepDisplay, Payload{ResumeText: Text("r")})
					return err
				},
				func(c *Controller) error {
					_, err := c.Advance(ctx, StepJobDescription, Payload{JobDescription: Text("jd")})
					return err
				},
			},
			target: StepATSReview,
			reason: "missing ats_gaps",
		},
		{
			name: "forbidden field in delta",
			setup: []func(c *Controller) error{
				func(c *Controller) error {
					_, err := c.Advance(ctx, StepDisplay, Payload{ResumeText: Text("r")})
					return err
				},
			},
			target:  StepJobDescription,
			payload: Payload{ATSGaps: []string{"x"}},
			reason:  "forbidden ats_gaps",
		},
		{
			name: "same step",
			setup: []func(c *Controller) error{
				func(c *Controller) error {
					_, err := c.Advance(ctx, StepDisplay, Payload{ResumeText: Text("r")})
					return err
				},
			},
			target:  StepDisplay,
			payload: Payload{ResumeText: Text("other")},
			reason:  "not reachable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, h := newTestController(t)
			for _, step := range tt.setup {
				require.NoError(t, step(c))
			}
			before := c.State()
			entries := h.Len()

			require.Error(t, c.CanAdvance(tt.target, tt.payload))

			s, err := c.Advance(ctx, tt.target, tt.payload)
			require.Error(t, err)

			var te *TransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, OpAdvance, te.Op)
			assert.Equal(t, before.Step, te.From)
			assert.Equal(t, tt.target, te.To)
			assert.Contains(t, te.Reason, tt.reason)

			assert.Equal(t, before, s)
			assert.Equal(t, before, c.State())
			assert.Equal(t, entries, h.Len())
		})
	}
}

func TestController_DeltaOverridesCarriedFields(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t)

	_, err := c.Advance(ctx, StepDisplay, Payload{ResumeText: Text("r")})
	require.NoError(t, err)
	_, err = c.Advance(ctx, StepJobDescription, Payload{JobDescription: Text("draft jd")})
	require.NoError(t, err)

	s, err := c.Advance(ctx, StepEditor, Payload{ResumeText: Text("tailored"), JobDescription: Text("final jd")})
	require.NoError(t, err)
	assert.Equal(t, "tailored", s.ResumeText)
	assert.Equal(t, "final jd", s.JobDescription)
}

func TestController_StateIsACopy(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t)
	_, err := c.Advance(ctx, StepDisplay, Payload{ResumeText: Text("r")})
	require.NoError(t, err)
	_, err = c.Advance(ctx, StepJobDescription, Payload{})
	require.NoError(t, err)
	s, err := c.Advance(ctx, StepATSReview, Payload{JobDescription: Text("jd"), ATSGaps: []string{"a"}})
	require.NoError(t, err)

	s.ATSGaps[0] = "mutated"
	assert.Equal(t, []string{"a"}, c.State().ATSGaps)
}

func TestController_MalformedEntryDegradesAndReplaces(t *testing.T) {
	ctx := context.Background()
	c, h := newTestController(t)
	_, err := c.Advance(ctx, StepDisplay, Payload{ResumeText: Text("r")})
	require.NoError(t, err)

	bad := []*Entry{
		{Fragment: "main", Data: []byte(`{"step":"editor","resume_text":"r"}`)},
		{Fragment: "main"},
		{Fragment: "display", Data: []byte(`not json`)},
		{Fragment: "ats", Data: []byte(`{"step":"ats_review","resume_text":"r","job_description":"jd","ats_gaps":null}`)},
	}

	for _, entry := range bad {
		s := c.OnHistoryChange(ctx, entry)
		assert.Equal(t, State{Step: StepStart}, s)
		assert.Equal(t, "", h.Current().Fragment)
		assert.Equal(t, 1, h.Len())
	}
}

func TestController_FragmentChange(t *testing.T) {
	ctx := context.Background()
	c, h := newTestController(t)

	// already at start
	assert.Equal(t, State{Step: StepStart}, c.OnFragmentChange(ctx, "#"))
	assert.Equal(t, 0, h.Len())

	_, err := c.Advance(ctx, StepDisplay, Payload{ResumeText: Text("r")})
	require.NoError(t, err)

	for _, fragment := range []string{"#main", "#checkout", "job", "#display"} {
		s := c.OnFragmentChange(ctx, fragment)
		assert.Equal(t, StepDisplay, s.Step, "fragment %q", fragment)
	}
	assert.Equal(t, 1, h.Len())

	s := c.OnFragmentChange(ctx, "")
	assert.Equal(t, State{Step: StepStart}, s)
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, "", h.Current().Fragment)
}

func TestController_HistoryFailureDoesNotCommit(t *testing.T) {
	ctx := context.Background()
	sink := &failingHistory{err: errors.New("quota exceeded")}
	c := NewController(sink)

	s, err := c.Advance(ctx, StepDisplay, Payload{ResumeText: Text("r")})
	require.Error(t, err)
	assert.ErrorIs(t, err, sink.err)
	assert.Equal(t, State{Step: StepStart}, s)
	assert.Equal(t, State{Step: StepStart}, c.State())
	assert.Equal(t, 1, sink.pushes)

	var te *TransitionError
	assert.False(t, errors.As(err, &te))
}

func TestController_FragmentChangeKeepsStateWhenHistoryFails(t *testing.T) {
	ctx := context.Background()
	sink := &failingHistory{}
	c := NewController(sink)

	_, err := c.Advance(ctx, StepDisplay, Payload{ResumeText: Text("r")})
	require.NoError(t, err)

	sink.err = errors.New("unavailable")
	var events []Event
	c.observers = append(c.observers, ObserverFunc(func(e Event) { events = append(events, e) }))

	s := c.OnFragmentChange(ctx, "")
	assert.Equal(t, State{Step: StepDisplay, ResumeText: "r"}, s)
	assert.Equal(t, 2, sink.pushes)
	require.Len(t, events, 1)
	assert.ErrorIs(t, events[0].Err, sink.err)
	assert.Equal(t, StepDisplay, events[0].To)
}

func TestController_DegradeSurvivesHistoryFailure(t *testing.T) {
	ctx := context.Background()
	sink := &failingHistory{err: errors.New("unavailable")}
	c := NewController(sink)

	s := c.Load(ctx, "#ats", nil)
	assert.Equal(t, State{Step: StepStart}, s)
	assert.Equal(t, 1, sink.replaces)

	s = c.OnHistoryChange(ctx, &Entry{Fragment: "main", Data: []byte(`{}`)})
	assert.Equal(t, State{Step: StepStart}, s)
	assert.Equal(t, 2, sink.replaces)
}

func TestController_Observers(t *testing.T) {
	ctx := context.Background()
	var events []Event
	c, h := newTestController(t, WithObserver(ObserverFunc(func(e Event) {
		events = append(events, e)
	})), WithObserver(nil))

	_, err := c.Advance(ctx, StepDisplay, Payload{ResumeText: Text("r")})
	require.NoError(t, err)
	_, err = c.Advance(ctx, StepEditor, Payload{})
	require.Error(t, err)
	_, err = c.Retreat(ctx)
	require.NoError(t, err)
	c.OnHistoryChange(ctx, h.Back())
	c.OnHistoryChange(ctx, nil)
	_, err = c.Reset(ctx)
	require.NoError(t, err)

	ops := make([]string, 0, len(events))
	for _, e := range events {
		ops = append(ops, e.Op)
	}
	assert.Equal(t, []string{OpAdvance, OpAdvance, OpRetreat, OpReplay, OpDegrade, OpReset}, ops)

	assert.NoError(t, events[0].Err)
	assert.Equal(t, StepDisplay, events[0].To)
	assert.Error(t, events[1].Err)
	assert.Equal(t, StepDisplay, events[1].State.Step)
	assert.Equal(t, StepDisplay, events[2].From)
	assert.Equal(t, StepStart, events[2].To)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	src, h := newTestController(t)
	_, err := src.Advance(ctx, StepDisplay, Payload{ResumeText: Text("r")})
	require.NoError(t, err)

	var events []Event
	record := WithObserver(ObserverFunc(func(e Event) { events = append(events, e) }))

	c := Restore(ctx, h, h.Current(), record)
	assert.Equal(t, src.State(), c.State())
	assert.Empty(t, events, "restoring is not a navigation")
	assert.Equal(t, 1, h.Len())

	_, err = c.Retreat(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, OpRetreat, events[0].Op)

	empty := Restore(ctx, NewMemoryHistory(), nil, record)
	assert.Equal(t, State{Step: StepStart}, empty.State())
	assert.Len(t, events, 1)
}

// Random walks over every operation, including ones the adjacency rejects,
// must never leave the controller in a state that violates its step, and the
// current host entry must always replay to the controller state after a
// committed transition.
func TestController_RandomWalkKeepsInvariants(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	payloads := []Payload{
		{},
		{ResumeText: Text("resume")},
		{StructuredResume: sampleSections()},
		{JobDescription: Text("jd")},
		{JobDescription: Text("jd"), ATSGaps: []string{"gap"}},
		{ATSGaps: []string{}},
		{ResumeText: Text("resume"), JobDescription: Text("jd")},
	}

	for walk := 0; walk < 300; walk++ {
		c, h := newTestController(t)
		for i := 0; i < 15; i++ {
			before := c.State()
			entries := h.Len()

			var (
				s   State
				err error
			)
			switch op := rng.Intn(10); {
			case op < 7:
				target := Steps()[rng.Intn(len(Steps()))]
				s, err = c.Advance(ctx, target, payloads[rng.Intn(len(payloads))])
			case op < 9:
				s, err = c.Retreat(ctx)
			default:
				s, err = c.Reset(ctx)
			}

			require.NoError(t, s.Validate(), "walk %d op %d", walk, i)
			assert.Equal(t, s, c.State())

			if err != nil {
				assert.Equal(t, before, s)
				assert.Equal(t, entries, h.Len())
				continue
			}
			assert.Equal(t, entries+1, h.Len())
			assertCurrentEntryMatches(t, h, s)
		}
	}
}
