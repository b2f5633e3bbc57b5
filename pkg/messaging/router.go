package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxBuffered = 1024

var (
	ErrUnknownComponent = errors.New("messaging: unknown component")
	ErrDuplicate        = errors.New("messaging: component id already registered")
)

type buffered struct {
	destId string
	msg    Message
}

// Router delivers messages to registered component channels. Messages for
// a blocked channel are buffered and retried by FlushMessageBuffer.
type Router struct {
	registry      map[string]chan<- Message
	subscriptions map[string][]string
	messageBuffer []buffered
	clock         clock.Clock
	logger        *zap.Logger
	mu            sync.Mutex
}

func NewRouter(clk clock.Clock, logger *zap.Logger) *Router {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry:      make(map[string]chan<- Message),
		subscriptions: make(map[string][]string),
		clock:         clk,
		logger:        logger.Named("router"),
	}
}

func (r *Router) RegisterComponent(id string, ch chan<- Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.registry[id]; ok {
		return fmt.Errorf("component id %v: %w", id, ErrDuplicate)
	}
	r.registry[id] = ch
	return nil
}

// NewComponent registers a fresh component with a buffered channel of
// size n.
func (r *Router) NewComponent(n int) (string, <-chan Message) {
	id := uuid.NewString()
	ch := make(chan Message, n)
	r.mu.Lock()
	r.registry[id] = ch
	r.mu.Unlock()
	return id, ch
}

func (r *Router) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registry, id)
	delete(r.subscriptions, id)

	kept := r.messageBuffer[:0]
	for _, b := range r.messageBuffer {
		if b.destId != id {
			kept = append(kept, b)
		}
	}
	r.messageBuffer = kept
}

// Subscribe delivers every published message whose topic matches pattern
// to component id.
func (r *Router) Subscribe(id, pattern string) error {
	if err := validPattern(pattern); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.registry[id]; !ok {
		return fmt.Errorf("subscribe %v: %w", id, ErrUnknownComponent)
	}
	r.subscriptions[id] = append(r.subscriptions[id], pattern)
	return nil
}

func (r *Router) Send(destId string, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.registry[destId]
	if !ok {
		r.logger.Warn("invalid destination id, dropping message",
			zap.String("dest", destId),
			zap.Stringer("type", msg.PayloadType))
		return fmt.Errorf("send to %v: %w", destId, ErrUnknownComponent)
	}
	r.deliver(destId, ch, msg)
	return nil
}

// Publish hands msg to every component subscribed to its topic and
// returns how many matched.
func (r *Router) Publish(msg Message) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := 0
	for id, patterns := range r.subscriptions {
		for _, pattern := range patterns {
			if matchTopic(pattern, msg.Topic) {
				r.deliver(id, r.registry[id], msg)
				matched++
				break
			}
		}
	}
	return matched
}

func (r *Router) Broadcast(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, ch := range r.registry {
		r.deliver(id, ch, msg)
	}
}

// deliver must be called with mu held.
func (r *Router) deliver(destId string, ch chan<- Message, msg Message) {
	select {
	case ch <- msg:
	default:
		if len(r.messageBuffer) >= maxBuffered {
			r.logger.Warn("message buffer full, dropping message",
				zap.String("dest", destId),
				zap.String("id", msg.Id))
			return
		}
		r.messageBuffer = append(r.messageBuffer, buffered{destId: destId, msg: msg})
		r.logger.Debug("channel is blocked, buffering message for retries",
			zap.String("dest", destId),
			zap.String("id", msg.Id))
	}
}

// FlushMessageBuffer retries buffered messages in order and returns how
// many were delivered.
func (r *Router) FlushMessageBuffer() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	kept := r.messageBuffer[:0]
	for _, b := range r.messageBuffer {
		ch, ok := r.registry[b.destId]
		if !ok {
			continue
		}
		select {
		case ch <- b.msg:
			delivered++
		default:
			kept = append(kept, b)
		}
	}
	r.messageBuffer = kept
	return delivered
}

func (r *Router) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messageBuffer)
}

// Run flushes the buffer every interval until ctx is done.
func (r *Router) Run(ctx context.Context, interval time.Duration) error {
	ticker := r.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.FlushMessageBuffer(); n > 0 {
				r.logger.Debug("flushed buffered messages", zap.Int("delivered", n))
			}
		}
	}
}
