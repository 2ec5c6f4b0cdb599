package wizard

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Operation names reported to observers.
const (
	OpAdvance       = "advance"
	OpRetreat       = "retreat"
	OpReset         = "reset"
	OpReplay        = "replay"
	OpDegrade       = "degrade"
	OpFragmentReset = "fragment_reset"
)

// Event describes one controller operation after it finished.
type Event struct {
	Op    string
	From  Step
	To    Step
	State State
	Err   error
}

// Observer is notified after every controller operation. Observers cannot
// influence the outcome.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f.
func (f ObserverFunc) Observe(e Event) { f(e) }

// Option configures a Controller.
type Option func(*Controller)

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// Controller is the single owner of the wizard State and the only writer of
// navigation history. It is not safe for concurrent use; callers deliver
// events one at a time, as a host event loop does.
type Controller struct {
	state     State
	history   History
	observers []Observer
}

// NewController returns a controller at StepStart writing to history.
func NewController(history History, opts ...Option) *Controller {
	c := &Controller{
		state:   State{Step: StepStart},
		history: history,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Restore rebuilds a controller at the state recorded in entry, as a host
// does when it reopens a page. A nil entry leaves it at StepStart. The
// replay happens before opts are applied, so observers see only what
// follows.
func Restore(ctx context.Context, history History, entry *Entry, opts ...Option) *Controller {
	c := NewController(history)
	if entry != nil {
		c.OnHistoryChange(ctx, entry)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	return c.state.Clone()
}

// Fragment returns the URL fragment for the current step.
func (c *Controller) Fragment() string {
	return c.state.Step.Fragment()
}

// Available returns the steps the current step can advance to.
func (c *Controller) Available() []Step {
	return c.state.Step.Next()
}

// CanAdvance reports whether Advance(target, delta) would be accepted,
// without changing anything. It returns the *TransitionError Advance would.
func (c *Controller) CanAdvance(target Step, delta Payload) error {
	_, err := c.planAdvance(target, delta)
	return err
}

// Advance moves forward to target, merging delta into the current payload,
// and records one history entry holding the complete resulting state.
// A rejected transition returns the unchanged state and a *TransitionError.
func (c *Controller) Advance(ctx context.Context, target Step, delta Payload) (State, error) {
	from := c.state.Step
	next, err := c.planAdvance(target, delta)
	if err == nil {
		err = c.commit(ctx, next)
	}
	c.notify(Event{Op: OpAdvance, From: from, To: target, State: c.State(), Err: err})
	return c.State(), err
}

func (c *Controller) planAdvance(target Step, delta Payload) (State, error) {
	from := c.state.Step
	reject := func(reason string) (State, error) {
		return State{}, &TransitionError{Op: OpAdvance, From: from, To: target, Reason: reason}
	}

	if !target.Valid() {
		return reject("unknown target step")
	}
	if !from.CanReach(target) {
		return reject(fmt.Sprintf("%s is not reachable from %s", target, from))
	}

	next := c.state.merge(delta)
	next.Step = target
	if err := next.Validate(); err != nil {
		var ise *InvalidStateError
		if errors.As(err, &ise) {
			return reject(ise.Reason)
		}
		return reject(err.Error())
	}
	return next, nil
}

// Retreat moves to the step before the current one, keeping the fields that
// step permits and clearing the rest, and records a history entry. When the
// carried fields cannot satisfy that step (AtsReview without gaps, after the
// JobDescription -> Editor skip) it continues back to the nearest step they can.
func (c *Controller) Retreat(ctx context.Context) (State, error) {
	from := c.state.Step
	prev, ok := from.Previous()
	if !ok {
		err := &TransitionError{Op: OpRetreat, From: from, To: from, Reason: "no preceding step"}
		c.notify(Event{Op: OpRetreat, From: from, To: from, State: c.State(), Err: err})
		return c.State(), err
	}

	next := c.state.restrictTo(prev)
	for next.Validate() != nil {
		// StepStart always validates once restricted, so this terminates.
		prev, _ = prev.Previous()
		next = c.state.restrictTo(prev)
	}

	err := c.commit(ctx, next)
	c.notify(Event{Op: OpRetreat, From: from, To: next.Step, State: c.State(), Err: err})
	return c.State(), err
}

// Reset clears every field, returns to StepStart and records a Start entry.
func (c *Controller) Reset(ctx context.Context) (State, error) {
	from := c.state.Step
	err := c.commit(ctx, State{Step: StepStart})
	c.notify(Event{Op: OpReset, From: from, To: StepStart, State: c.State(), Err: err})
	return c.State(), err
}

// OnHistoryChange applies a host back/forward navigation. A valid entry
// becomes the state verbatim. A nil entry, or one that does not decode to a
// valid state, degrades to StepStart; a malformed entry is also overwritten
// with a Start entry so it is not replayed again. Nothing is returned as an
// error.
func (c *Controller) OnHistoryChange(ctx context.Context, entry *Entry) State {
	from := c.state.Step
	if entry == nil {
		c.degrade(ctx, from, false)
		return c.State()
	}

	s, err := DecodeEntry(*entry)
	if err != nil {
		log.Printf("[wizard] discarding history entry: %v", err)
		c.degrade(ctx, from, true)
		return c.State()
	}

	c.state = s
	c.notify(Event{Op: OpReplay, From: from, To: s.Step, State: c.State()})
	return c.State()
}

// OnFragmentChange handles a fragment change that arrived without a history
// entry. Only a fragment naming StepStart, while elsewhere, has an effect: the
// state is cleared and a Start entry is recorded. If the entry cannot be
// recorded the state is kept. Every other fragment, including unknown ones,
// is ignored.
func (c *Controller) OnFragmentChange(ctx context.Context, fragment string) State {
	step, ok := StepForFragment(fragment)
	if !ok || step != StepStart || c.state.Step == StepStart {
		return c.State()
	}

	from := c.state.Step
	err := c.commit(ctx, State{Step: StepStart})
	if err != nil {
		log.Printf("[wizard] failed to record start entry after fragment change: %v", err)
	}
	c.notify(Event{Op: OpFragmentReset, From: from, To: c.state.Step, State: c.State(), Err: err})
	return c.State()
}

// Load initializes the controller on a fresh host load. With a recorded entry
// the entry is replayed. Without one the controller starts at StepStart no
// matter what the fragment says; a non-empty fragment is cleared by replacing
// the current host entry.
func (c *Controller) Load(ctx context.Context, fragment string, entry *Entry) State {
	if entry != nil {
		return c.OnHistoryChange(ctx, entry)
	}
	step, ok := StepForFragment(fragment)
	c.degrade(ctx, c.state.Step, !ok || step != StepStart)
	return c.State()
}

// degrade clears the state to StepStart. When replace is set the current host
// entry is overwritten with a Start entry; failures there are logged only.
func (c *Controller) degrade(ctx context.Context, from Step, replace bool) {
	c.state = State{Step: StepStart}
	if replace {
		if err := c.replaceCurrent(ctx); err != nil {
			log.Printf("[wizard] failed to replace history entry with start: %v", err)
		}
	}
	c.notify(Event{Op: OpDegrade, From: from, To: StepStart, State: c.State()})
}

// commit records next as a new history entry and then makes it current.
// If the entry cannot be recorded the state is left untouched.
func (c *Controller) commit(ctx context.Context, next State) error {
	entry, err := NewEntry(next)
	if err != nil {
		return err
	}
	if err := c.history.Push(ctx, entry); err != nil {
		return fmt.Errorf("failed to record history entry: %w", err)
	}
	c.state = next
	return nil
}

// replaceCurrent overwrites the current host entry with the current state.
func (c *Controller) replaceCurrent(ctx context.Context) error {
	entry, err := NewEntry(c.state)
	if err != nil {
		return err
	}
	return c.history.Replace(ctx, entry)
}

func (c *Controller) notify(e Event) {
	for _, o := range c.observers {
		o.Observe(e)
	}
}
