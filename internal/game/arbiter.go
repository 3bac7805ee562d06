package game

import "time"

// ArbiterState is the lock state of the buzz arbiter. The resolved state is
// transient: Resolve hands back the judged event and the arbiter is idle again.
type ArbiterState string

const (
	ArbiterIdle   ArbiterState = "idle"
	ArbiterLocked ArbiterState = "locked"
)

// Arbiter holds at most one unresolved buzz. Callers serialise access (the
// session mutex), which makes Lock a compare-and-swap on the pending slot.
type Arbiter struct {
	pending *BuzzEvent
}

// State returns idle or locked.
func (a *Arbiter) State() ArbiterState {
	if a.pending != nil {
		return ArbiterLocked
	}
	return ArbiterIdle
}

// Pending returns a copy of the pending event, or nil.
func (a *Arbiter) Pending() *BuzzEvent {
	if a.pending == nil {
		return nil
	}
	ev := *a.pending
	return &ev
}

// Lock takes the pending slot for ev. A second caller loses with ErrBuzzPending.
func (a *Arbiter) Lock(ev BuzzEvent) error {
	if a.pending != nil {
		return ErrBuzzPending
	}
	ev.Outcome = BuzzPending
	ev.Correct = nil
	a.pending = &ev
	return nil
}

// Resolve closes the pending event with outcome and points and returns it.
func (a *Arbiter) Resolve(outcome BuzzOutcome, points int) (BuzzEvent, error) {
	if a.pending == nil {
		return BuzzEvent{}, ErrNoPendingBuzz
	}
	ev := *a.pending
	a.pending = nil
	ev.Outcome = outcome
	ev.Points = points
	switch outcome {
	case BuzzCorrect:
		ok := true
		ev.Correct = &ok
	case BuzzWrong:
		ok := false
		ev.Correct = &ok
	}
	return ev, nil
}

// Stale reports whether the pending event has been locked for at least timeout.
// A zero timeout never expires.
func (a *Arbiter) Stale(now time.Time, timeout time.Duration) bool {
	return a.pending != nil && timeout > 0 && now.Sub(a.pending.At) >= timeout
}
