package discovery

import "go.uber.org/zap"

// Subscriptions holds per-peer SUBSCRIBE requests until the peer's
// connection is established.
type Subscriptions struct {
	queued     map[PeerAddress][]string
	subscribed map[PeerAddress]map[string]struct{}
	logger     *zap.Logger
	metrics    *Metrics
}

func NewSubscriptions(logger *zap.Logger, metrics *Metrics) *Subscriptions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriptions{
		queued:     make(map[PeerAddress][]string),
		subscribed: make(map[PeerAddress]map[string]struct{}),
		logger:     logger,
		metrics:    metrics,
	}
}

// Enqueue records stream for addr. It reports false when the stream is
// already queued or already subscribed on the current connection.
func (s *Subscriptions) Enqueue(addr PeerAddress, stream string) bool {
	if _, ok := s.subscribed[addr][stream]; ok {
		return false
	}
	for _, q := range s.queued[addr] {
		if q == stream {
			return false
		}
	}
	s.queued[addr] = append(s.queued[addr], stream)
	return true
}

// Flush sends every queued stream on c and erases the peer's entry. It
// returns the number of SUBSCRIBE requests sent.
func (s *Subscriptions) Flush(c Conn) int {
	addr := c.Addr()
	streams, ok := s.queued[addr]
	if !ok {
		return 0
	}
	delete(s.queued, addr)

	sent := 0
	for _, stream := range streams {
		if err := c.Subscribe(stream); err != nil {
			s.logger.Warn("subscribe failed",
				zap.Stringer("peer", addr),
				zap.String("stream", stream),
				zap.Error(err))
			continue
		}
		if s.subscribed[addr] == nil {
			s.subscribed[addr] = make(map[string]struct{})
		}
		s.subscribed[addr][stream] = struct{}{}
		sent++
	}
	if s.metrics != nil {
		s.metrics.Subscriptions.Add(float64(sent))
	}
	return sent
}

// Drop forgets everything about addr.
func (s *Subscriptions) Drop(addr PeerAddress) {
	delete(s.queued, addr)
	delete(s.subscribed, addr)
}

// Reset forgets every peer.
func (s *Subscriptions) Reset() {
	clear(s.queued)
	clear(s.subscribed)
}

func (s *Subscriptions) Queued(addr PeerAddress) []string {
	out := make([]string, len(s.queued[addr]))
	copy(out, s.queued[addr])
	return out
}

func (s *Subscriptions) Subscribed(addr PeerAddress, stream string) bool {
	_, ok := s.subscribed[addr][stream]
	return ok
}
