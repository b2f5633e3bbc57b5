package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("tracker: dispatcher closed")

// Poster runs a callback on the caller's event thread.
type Poster interface {
	Post(fn func())
}

type call struct {
	id     string
	req    Request
	cancel context.CancelFunc
}

// Dispatcher runs blocking announces in the background and delivers their
// result through a Poster. At most one announce is in flight: an exclusive
// request cancels the current one, whose result is then discarded, and a
// non-exclusive request is refused with ErrBusy.
type Dispatcher struct {
	client  Client
	poster  Poster
	timeout time.Duration
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight *call
	closed   bool
}

func NewDispatcher(client Client, poster Poster, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		client:  client,
		poster:  poster,
		timeout: timeout,
		logger:  logger.Named("tracker"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (d *Dispatcher) Announce(req Request, done func(body []byte, err error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.client == nil {
		return ErrNoClient
	}

	if d.inflight != nil {
		if !req.Exclusive {
			return ErrBusy
		}
		d.logger.Debug("preempting in-flight announce",
			zap.String("call", d.inflight.id),
			zap.Stringer("event", d.inflight.req.Event),
			zap.Stringer("by", req.Event))
		d.inflight.cancel()
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	c := &call{
		id:     uuid.NewString(),
		req:    req,
		cancel: cancel,
	}
	d.inflight = c

	d.wg.Add(1)
	go d.run(ctx, c, done)

	return nil
}

func (d *Dispatcher) run(ctx context.Context, c *call, done func([]byte, error)) {
	defer d.wg.Done()
	defer c.cancel()

	started := time.Now()
	body, err := d.client.Announce(ctx, c.req)

	d.mu.Lock()
	current := d.inflight == c
	if current {
		d.inflight = nil
	}
	d.mu.Unlock()

	if !current {
		d.logger.Debug("discarding superseded announce", zap.String("call", c.id), zap.Error(err))
		return
	}

	d.logger.Debug("announce finished",
		zap.String("call", c.id),
		zap.Stringer("event", c.req.Event),
		zap.Duration("took", time.Since(started)),
		zap.Int("bytes", len(body)),
		zap.Error(err))

	if done != nil {
		d.poster.Post(func() { done(body, err) })
	}
}

// InFlight reports whether an announce is running.
func (d *Dispatcher) InFlight() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight != nil
}

// Close cancels the in-flight announce and waits for its goroutine.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.inflight = nil
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	return nil
}
