package discovery

import (
	"go.uber.org/zap"

	"github.com/agaabrieel/bittorrent-live/pkg/scheduler"
)

type ConnState uint8

const (
	StateAbsent ConnState = iota
	StatePending
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConnected:
		return "connected"
	default:
		return "absent"
	}
}

// Connector owns the candidate set and the pending and connected
// registries. An address is never pending and connected at once.
type Connector struct {
	cfg     Config
	host    Host
	sched   scheduler.Scheduler
	dialer  Dialer
	logger  *zap.Logger
	metrics *Metrics

	candidates *CandidateSet
	subs       *Subscriptions

	// checks holds the rejection check of every dialed address. It keeps
	// running after establishment.
	pending    map[PeerAddress]Conn
	connected  map[PeerAddress]Conn
	checks     map[PeerAddress]*scheduler.Event
	registered map[PeerAddress]bool
	// failed holds addresses whose dial failed since the last periodic
	// tick. They are not redialed until ClearFailed.
	failed map[PeerAddress]struct{}

	// retry runs after a failed attempt while consumption is incomplete.
	retry func()
}

func NewConnector(deps Deps) *Connector {
	deps.defaults()
	return &Connector{
		cfg:        deps.Config,
		host:       deps.Host,
		sched:      deps.Scheduler,
		dialer:     deps.Dialer,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		candidates: NewCandidateSet(),
		subs:       NewSubscriptions(deps.Logger, deps.Metrics),
		pending:    make(map[PeerAddress]Conn),
		connected:  make(map[PeerAddress]Conn),
		checks:     make(map[PeerAddress]*scheduler.Event),
		registered: make(map[PeerAddress]bool),
		failed:     make(map[PeerAddress]struct{}),
	}
}

// OnFailure sets the fast-retry hook.
func (c *Connector) OnFailure(fn func()) {
	c.retry = fn
}

func (c *Connector) Candidates() *CandidateSet {
	return c.candidates
}

func (c *Connector) Subscriptions() *Subscriptions {
	return c.subs
}

// OpenConnections dials up to min(desired, MaxPeers-connected) fresh
// candidates in insertion order and returns how many it dialed. A desired
// count of zero means the host's desired count. Candidates whose address
// is already pending or connected only get their stream queued, and the
// scan keeps queueing those after dialing stops.
func (c *Connector) OpenConnections(desired int) int {
	if c.host.Completed() || c.candidates.Len() == 0 {
		return 0
	}
	if desired == 0 {
		desired = c.host.DesiredPeers()
	}
	budget := min(desired, c.host.MaxPeers()-len(c.connected))
	if budget <= 0 {
		return 0
	}

	target := c.host.DesiredPeers()
	local := c.host.LocalAddr()
	dialed := 0

	for _, cand := range c.candidates.Entries() {
		addr := cand.Addr

		if conn, ok := c.connected[addr]; ok {
			if c.subs.Enqueue(addr, cand.StreamHash) {
				c.subs.Flush(conn)
			}
			continue
		}
		if _, ok := c.pending[addr]; ok {
			c.subs.Enqueue(addr, cand.StreamHash)
			continue
		}
		if addr == local || budget <= 0 || len(c.connected) >= target {
			continue
		}
		if _, ok := c.failed[addr]; ok {
			continue
		}

		c.dial(addr)
		c.subs.Enqueue(addr, cand.StreamHash)
		budget--
		dialed++
	}

	if dialed > 0 {
		c.logger.Debug("opened connections",
			zap.Int("dialed", dialed),
			zap.Int("pending", len(c.pending)),
			zap.Int("connected", len(c.connected)))
	}
	return dialed
}

func (c *Connector) dial(addr PeerAddress) {
	conn := c.dialer.NewConn(addr, c)
	c.pending[addr] = conn
	c.checks[addr] = c.sched.Schedule(c.cfg.AcceptanceDelay, func() { c.checkRejection(conn) })
	c.sched.Schedule(0, conn.Dial)

	c.metrics.Dials.Inc()
	c.updateGauges()
	c.logger.Debug("dialing peer", zap.Stringer("peer", addr))
}

// ConnectionEstablished moves the connection from pending to connected
// and sends its queued subscriptions.
func (c *Connector) ConnectionEstablished(conn Conn) {
	addr := conn.Addr()
	if cur, ok := c.pending[addr]; !ok || cur != conn {
		c.logger.Debug("ignoring establishment of untracked connection", zap.Stringer("peer", addr))
		return
	}
	delete(c.pending, addr)
	c.connected[addr] = conn
	c.updateGauges()

	c.subs.Flush(conn)
}

// ConnectionFailed forgets a pending connection and, unless consumption is
// complete, runs the retry hook to backfill.
func (c *Connector) ConnectionFailed(conn Conn) {
	addr := conn.Addr()
	if cur, ok := c.pending[addr]; !ok || cur != conn {
		return
	}
	delete(c.pending, addr)
	c.cancelCheck(addr)
	c.subs.Drop(addr)
	c.failed[addr] = struct{}{}
	c.metrics.Failures.Inc()
	c.updateGauges()

	c.logger.Debug("connection failed", zap.Stringer("peer", addr))

	if !c.host.Completed() && c.retry != nil {
		c.retry()
	}
}

func (c *Connector) ConnectionClosed(conn Conn) {
	addr := conn.Addr()
	tracked := false

	if cur, ok := c.pending[addr]; ok && cur == conn {
		delete(c.pending, addr)
		tracked = true
	}
	if cur, ok := c.connected[addr]; ok && cur == conn {
		delete(c.connected, addr)
		tracked = true
		if c.registered[addr] {
			delete(c.registered, addr)
			c.host.UnregisterPeer(conn)
		}
	}
	if !tracked {
		return
	}
	c.cancelCheck(addr)
	c.subs.Drop(addr)
	c.updateGauges()

	c.logger.Debug("connection closed", zap.Stringer("peer", addr))
}

// checkRejection runs AcceptanceDelay after the dial. A connection whose
// handshake is still incomplete is closed silently; otherwise it is
// handed to the host.
func (c *Connector) checkRejection(conn Conn) {
	addr := conn.Addr()
	delete(c.checks, addr)

	if !conn.HandshakeComplete() {
		if cur, ok := c.pending[addr]; ok && cur == conn {
			delete(c.pending, addr)
			c.subs.Drop(addr)
		}
		if cur, ok := c.connected[addr]; ok && cur == conn {
			delete(c.connected, addr)
			c.subs.Drop(addr)
		}
		_ = conn.Close()
		c.metrics.Rejections.Inc()
		c.updateGauges()
		c.logger.Debug("rejecting peer without handshake", zap.Stringer("peer", addr))
		return
	}

	if cur, ok := c.pending[addr]; ok && cur == conn {
		c.ConnectionEstablished(conn)
	}
	if c.connected[addr] != conn {
		return
	}

	c.registered[addr] = true
	c.metrics.Established.Inc()
	c.host.RegisterPeer(conn)
	c.host.PeerConnectionEstablished(conn)
}

// ClearFailed makes addresses that failed since the last call dialable
// again.
func (c *Connector) ClearFailed() {
	clear(c.failed)
}

// Failed reports whether addr failed since the last ClearFailed.
func (c *Connector) Failed(addr PeerAddress) bool {
	_, ok := c.failed[addr]
	return ok
}

func (c *Connector) cancelCheck(addr PeerAddress) {
	if ev, ok := c.checks[addr]; ok {
		ev.Cancel()
		delete(c.checks, addr)
	}
}

// PotentialClients returns a snapshot of the candidate set.
func (c *Connector) PotentialClients() []CandidateEntry {
	return c.candidates.Entries()
}

// Seed inserts previously discovered candidates, skipping the local
// address.
func (c *Connector) Seed(entries []CandidateEntry) int {
	local := c.host.LocalAddr()
	n := 0
	for _, e := range entries {
		if e.Addr == local {
			continue
		}
		if c.candidates.Add(e) {
			n++
		}
	}
	c.updateGauges()
	return n
}

func (c *Connector) State(addr PeerAddress) ConnState {
	if _, ok := c.connected[addr]; ok {
		return StateConnected
	}
	if _, ok := c.pending[addr]; ok {
		return StatePending
	}
	return StateAbsent
}

func (c *Connector) NumConnected() int {
	return len(c.connected)
}

func (c *Connector) NumPending() int {
	return len(c.pending)
}

// Close cancels every rejection check and closes all tracked connections.
// Registered peers are unregistered from the host.
func (c *Connector) Close() {
	for addr, ev := range c.checks {
		ev.Cancel()
		delete(c.checks, addr)
	}
	for addr, conn := range c.pending {
		delete(c.pending, addr)
		_ = conn.Close()
	}
	for addr, conn := range c.connected {
		delete(c.connected, addr)
		if c.registered[addr] {
			delete(c.registered, addr)
			c.host.UnregisterPeer(conn)
		}
		_ = conn.Close()
	}
	clear(c.failed)
	c.subs.Reset()
	c.updateGauges()
}

func (c *Connector) updateGauges() {
	c.metrics.Candidates.Set(float64(c.candidates.Len()))
	c.metrics.Pending.Set(float64(len(c.pending)))
	c.metrics.Connected.Set(float64(len(c.connected)))
}
