package lifecycle

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

type TaskSpawner func(func(ctx context.Context) error)

// Lifecycle runs long-lived tasks under one context. The first task to
// fail cancels the rest.
type Lifecycle struct {
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

func NewLifecycle(parent context.Context) *Lifecycle {
	ctx, cancel := context.WithCancel(parent)
	group, ctx := errgroup.WithContext(ctx)
	return &Lifecycle{
		group:  group,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (l *Lifecycle) Spawner() TaskSpawner {
	return func(fn func(ctx context.Context) error) {
		l.Go(fn)
	}
}

func (l *Lifecycle) Go(fn func(ctx context.Context) error) {
	l.group.Go(func() error {
		return fn(l.ctx)
	})
}

// Cancel asks every task to stop.
func (l *Lifecycle) Cancel() {
	l.cancel()
}

// Wait blocks until every task returned. Cancellation is not an error.
func (l *Lifecycle) Wait() error {
	err := l.group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (l *Lifecycle) Shutdown() error {
	l.cancel()
	return l.Wait()
}

func (l *Lifecycle) Context() context.Context {
	return l.ctx
}
