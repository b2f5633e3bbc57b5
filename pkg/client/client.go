package client

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/agaabrieel/bittorrent-live/pkg/apperrors"
	"github.com/agaabrieel/bittorrent-live/pkg/discovery"
	"github.com/agaabrieel/bittorrent-live/pkg/messaging"
	"github.com/agaabrieel/bittorrent-live/pkg/scheduler"
)

const componentId = "client"

// CandidateStore persists the candidate set across restarts.
type CandidateStore interface {
	Load() ([]discovery.CandidateEntry, error)
	Save(entries []discovery.CandidateEntry) error
}

type Deps struct {
	Config    Config
	Router    *messaging.Router
	Errors    chan<- apperrors.Error
	Scheduler scheduler.Scheduler
	Transport discovery.Transport
	Dialer    discovery.Dialer
	Store     CandidateStore
	Logger    *zap.Logger
	Metrics   *discovery.Metrics
}

// Client owns one discovery strategy and acts as its host. Every discovery
// callback runs on the scheduler; Start, Stop and the setters post onto it.
type Client struct {
	cfg    Config
	local  discovery.PeerAddress
	router *messaging.Router
	errCh  chan<- apperrors.Error
	sched  scheduler.Scheduler
	store  CandidateStore
	logger *zap.Logger

	strategy discovery.Strategy
	recvCh   <-chan messaging.Message

	completed     bool
	connectivity  bool
	seederHandler func(string)
	peers         map[discovery.PeerAddress]discovery.Conn

	mu      sync.Mutex
	started bool
}

func New(deps Deps) (*Client, error) {
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	if deps.Router == nil || deps.Scheduler == nil {
		return nil, fmt.Errorf("%w: router and scheduler are required", discovery.ErrMissingDependency)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	mode, err := discovery.ParseMode(deps.Config.Mode)
	if err != nil {
		return nil, err
	}

	ch := make(chan messaging.Message, 64)
	if err := deps.Router.RegisterComponent(componentId, ch); err != nil {
		return nil, err
	}
	requested := messaging.NewTopic(messaging.AnyActor, messaging.Stream, messaging.Requested)
	if err := deps.Router.Subscribe(componentId, requested); err != nil {
		deps.Router.Unregister(componentId)
		return nil, err
	}

	c := &Client{
		cfg:    deps.Config,
		local:  deps.Config.Local(),
		router: deps.Router,
		errCh:  deps.Errors,
		sched:  deps.Scheduler,
		store:  deps.Store,
		logger: deps.Logger.Named("client"),
		recvCh: ch,
		peers:  make(map[discovery.PeerAddress]discovery.Conn),
	}

	c.strategy, err = discovery.New(mode, discovery.Deps{
		Config:    deps.Config.Discovery,
		Host:      c,
		Transport: deps.Transport,
		Dialer:    deps.Dialer,
		Scheduler: deps.Scheduler,
		Logger:    deps.Logger.Named("discovery"),
		Metrics:   deps.Metrics,
	})
	if err != nil {
		deps.Router.Unregister(componentId)
		return nil, err
	}

	return c, nil
}

func (c *Client) Strategy() discovery.Strategy {
	return c.strategy
}

// Start seeds the strategy from the store and joins the swarm.
func (c *Client) Start() {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	c.sched.Post(func() {
		c.seed()
		c.logger.Info("joining swarm",
			zap.String("mode", c.cfg.Mode),
			zap.String("stream", c.cfg.StreamHash),
			zap.Stringer("local", c.local))
		c.strategy.Start()
	})
}

func (c *Client) seed() {
	if c.store == nil {
		return
	}
	entries, err := c.store.Load()
	if err != nil {
		c.logger.Warn("failed to load cached candidates", zap.Error(err))
		return
	}
	if n := c.strategy.Seed(entries); n > 0 {
		c.logger.Debug("seeded candidates from cache", zap.Int("count", n))
	}
}

// Stop leaves the swarm and saves the candidate set. It waits for the
// scheduler to run the shutdown or for ctx to end.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	started := c.started
	c.started = false
	c.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	done := make(chan error, 1)
	c.sched.Post(func() {
		c.strategy.Stop()
		if c.store == nil {
			done <- nil
			return
		}
		done <- c.store.Save(c.strategy.PotentialClients())
	})

	select {
	case err := <-done:
		c.router.Unregister(componentId)
		if err != nil {
			return fmt.Errorf("save candidates: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run serves router messages addressed to the client until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.recvCh:
			c.handleMessage(msg)
		}
	}
}

func (c *Client) handleMessage(msg messaging.Message) {
	switch p := msg.Payload.(type) {
	case messaging.SeederRequestPayload:
		c.RequestSeeder(p.StreamHash)
	default:
		c.logger.Debug("ignoring message", zap.String("topic", msg.Topic), zap.Stringer("type", msg.PayloadType))
	}
}

// RequestSeeder asks the strategy's registered handler to find a seeder
// for streamHash.
func (c *Client) RequestSeeder(streamHash string) {
	c.sched.Post(func() {
		if c.seederHandler == nil {
			c.logger.Warn("seeder request before strategy start", zap.String("stream", streamHash))
			return
		}
		c.seederHandler(streamHash)
	})
}

// SetCompleted marks the stream as fully received.
func (c *Client) SetCompleted(v bool) {
	c.sched.Post(func() { c.completed = v })
}

// Peers returns the registered peer addresses. It must run on the
// scheduler.
func (c *Client) Peers() []discovery.PeerAddress {
	out := make([]discovery.PeerAddress, 0, len(c.peers))
	for addr := range c.peers {
		out = append(out, addr)
	}
	return out
}

func (c *Client) DesiredPeers() int                { return c.cfg.DesiredPeers }
func (c *Client) MaxPeers() int                    { return c.cfg.MaxPeers }
func (c *Client) AutoConnect() bool                { return c.cfg.AutoConnect }
func (c *Client) LocalAddr() discovery.PeerAddress { return c.local }
func (c *Client) StreamHash() string               { return c.cfg.StreamHash }
func (c *Client) PeerType() string                 { return c.cfg.PeerType }
func (c *Client) Completed() bool                  { return c.completed }

func (c *Client) ConnectivityEstablished() {
	if !c.connectivity {
		c.logger.Info("swarm connectivity established", zap.String("tracker", c.cfg.TrackerURL))
	}
	c.connectivity = true
	c.publish(messaging.Swarm, messaging.Connected, messaging.ConnectivityEstablished,
		messaging.ConnectivityPayload{StreamHash: c.cfg.StreamHash, Tracker: c.cfg.TrackerURL})
}

func (c *Client) RegisterPeer(conn discovery.Conn) {
	c.peers[conn.Addr()] = conn
}

func (c *Client) UnregisterPeer(conn discovery.Conn) {
	if cur, ok := c.peers[conn.Addr()]; !ok || cur != conn {
		return
	}
	delete(c.peers, conn.Addr())
	c.publish(messaging.Peer, messaging.Disconnected, messaging.PeerDisconnected,
		messaging.PeerPayload{Addr: conn.Addr().String(), StreamHash: c.cfg.StreamHash})
}

func (c *Client) PeerConnectionEstablished(conn discovery.Conn) {
	c.logger.Debug("peer connected", zap.Stringer("addr", conn.Addr()), zap.Int("peers", len(c.peers)))
	c.publish(messaging.Peer, messaging.Connected, messaging.PeerConnected,
		messaging.PeerPayload{Addr: conn.Addr().String(), StreamHash: c.cfg.StreamHash})
}

func (c *Client) HandleSeederRequests(fn func(streamHash string)) {
	c.seederHandler = fn
}

// Fatal raises a critical error. The error handler cancels the process.
func (c *Client) Fatal(err error) {
	c.logger.Error("fatal discovery error", zap.Error(err))
	c.publish(messaging.Fault, messaging.Raised, messaging.Error,
		messaging.ErrorPayload{Message: err.Error(), Critical: true, ComponentId: componentId})

	if c.errCh == nil {
		return
	}
	if !apperrors.Report(c.errCh, apperrors.Error{
		Err:         err,
		Message:     "discovery cannot continue",
		Severity:    apperrors.Critical,
		Time:        c.sched.Now(),
		ComponentId: componentId,
	}) {
		c.logger.Error("error channel full, dropping fatal error", zap.Error(err))
	}
}

func (c *Client) publish(obj messaging.Object, action messaging.Action, typ messaging.MessageType, payload any) {
	c.router.Publish(messaging.NewMessage(componentId, messaging.NewTopic(messaging.ClientActor, obj, action), typ, payload))
}
