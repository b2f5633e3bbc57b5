// Package scheduler provides the single logical thread every discovery
// callback runs on. A Scheduler fires callbacks once after a delay; an Event
// returned by Schedule can be cancelled and a cancelled Event never fires.
package scheduler

import (
	"sync/atomic"
	"time"
)

type Scheduler interface {
	// Now reports the scheduler's notion of the current time.
	Now() time.Time
	// Schedule runs fn on the scheduler thread after d.
	Schedule(d time.Duration, fn func()) *Event
	// Post runs fn on the scheduler thread as soon as possible. It is safe to
	// call from any goroutine.
	Post(fn func())
}

const (
	eventPending int32 = iota
	eventFired
	eventCancelled
)

type Event struct {
	fn    func()
	state atomic.Int32
	stop  func() bool
	at    time.Time
	seq   uint64
	index int
}

func newEvent(fn func(), at time.Time) *Event {
	return &Event{fn: fn, at: at, index: -1}
}

// Cancel prevents the event from firing. It reports whether the event was
// still pending. Cancelling a nil event is a no-op.
func (e *Event) Cancel() bool {
	if e == nil {
		return false
	}
	if !e.state.CompareAndSwap(eventPending, eventCancelled) {
		return false
	}
	if e.stop != nil {
		e.stop()
	}
	return true
}

// Pending reports whether the event has neither fired nor been cancelled.
func (e *Event) Pending() bool {
	return e != nil && e.state.Load() == eventPending
}

// When is the time the event was scheduled for.
func (e *Event) When() time.Time {
	return e.at
}

func (e *Event) fire() {
	if !e.state.CompareAndSwap(eventPending, eventFired) {
		return
	}
	e.fn()
}

// Poster is the part of a Scheduler that other goroutines may use.
type Poster interface {
	Post(fn func())
}
