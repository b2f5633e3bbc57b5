package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

var ErrLoopRunning = errors.New("scheduler: loop already running")

// Loop is a wall-clock Scheduler. Timers only enqueue; every callback runs
// on the goroutine calling Run, one at a time.
type Loop struct {
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	queue   []*Event
	running bool
	wake    chan struct{}
}

func NewLoop(c clock.Clock, logger *zap.Logger) *Loop {
	if c == nil {
		c = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		clock:  c,
		logger: logger.Named("scheduler"),
		wake:   make(chan struct{}, 1),
	}
}

func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

func (l *Loop) Schedule(d time.Duration, fn func()) *Event {
	if d < 0 {
		d = 0
	}
	ev := newEvent(fn, l.clock.Now().Add(d))
	timer := l.clock.AfterFunc(d, func() { l.enqueue(ev) })
	ev.stop = timer.Stop
	return ev
}

func (l *Loop) Post(fn func()) {
	l.enqueue(newEvent(fn, l.clock.Now()))
}

func (l *Loop) enqueue(ev *Event) {
	if !ev.Pending() {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, ev)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes queued callbacks until ctx is done. Only one Run may be
// active at a time.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrLoopRunning
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			batch := l.queue
			l.queue = nil
			l.mu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, ev := range batch {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				l.run(ev)
			}
		}
	}
}

func (l *Loop) run(ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("scheduled callback panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	ev.fire()
}
