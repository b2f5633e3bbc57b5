package scheduler

import (
	"container/heap"
	"time"
)

// Sim is a discrete-event Scheduler running in virtual time. Events fire in
// (time, scheduling order) order when the caller advances the clock. Sim is
// not safe for concurrent use; Post must be called from the driving
// goroutine.
type Sim struct {
	now    time.Time
	seq    uint64
	events eventHeap
}

func NewSim(start time.Time) *Sim {
	return &Sim{now: start}
}

func (s *Sim) Now() time.Time {
	return s.now
}

func (s *Sim) Schedule(d time.Duration, fn func()) *Event {
	if d < 0 {
		d = 0
	}
	ev := newEvent(fn, s.now.Add(d))
	ev.seq = s.seq
	s.seq++
	ev.stop = func() bool {
		if ev.index >= 0 {
			heap.Remove(&s.events, ev.index)
		}
		return true
	}
	heap.Push(&s.events, ev)
	return ev
}

func (s *Sim) Post(fn func()) {
	s.Schedule(0, fn)
}

// Step fires the next pending event, advancing virtual time to it. It
// reports false when nothing is scheduled.
func (s *Sim) Step() bool {
	for s.events.Len() > 0 {
		ev := heap.Pop(&s.events).(*Event)
		if !ev.Pending() {
			continue
		}
		if ev.at.After(s.now) {
			s.now = ev.at
		}
		ev.fire()
		return true
	}
	return false
}

// RunFor fires every event due within d of the current time, including
// events scheduled by those callbacks, then sets the clock to now+d.
func (s *Sim) RunFor(d time.Duration) int {
	return s.RunUntil(s.now.Add(d))
}

func (s *Sim) RunUntil(t time.Time) int {
	fired := 0
	for s.events.Len() > 0 && !s.events[0].at.After(t) {
		if s.Step() {
			fired++
		}
	}
	if t.After(s.now) {
		s.now = t
	}
	return fired
}

// Drain fires only the events due now.
func (s *Sim) Drain() int {
	return s.RunUntil(s.now)
}

// Len reports the number of pending events.
func (s *Sim) Len() int {
	return s.events.Len()
}

type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	ev := x.(*Event)
	ev.index = len(*h)
	*h = append(*h, ev)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*h = old[:n-1]
	return ev
}
