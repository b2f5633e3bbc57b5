package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/agaabrieel/bittorrent-live/pkg/discovery"
)

var (
	ErrNotConnected  = errors.New("peer: handshake not complete")
	ErrSendQueueFull = errors.New("peer: send queue full")
)

const sendQueueLen = 64

// Conn is an outbound connection to one peer. Dial, Subscribe and Close
// never block; the network work happens on the connection's own
// goroutines and outcomes are posted back to the scheduler.
type Conn struct {
	dialer *Dialer
	addr   discovery.PeerAddress
	events discovery.ConnEvents
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan []byte

	handshake atomic.Bool
	closed    atomic.Bool
	dialed    atomic.Bool

	mu         sync.Mutex
	conn       net.Conn
	peerID     [20]byte
	lastActive time.Time
}

var _ discovery.Conn = (*Conn)(nil)

func newConn(d *Dialer, addr discovery.PeerAddress, events discovery.ConnEvents) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		dialer: d,
		addr:   addr,
		events: events,
		logger: d.logger.With(zap.Stringer("peer", addr)),
		ctx:    ctx,
		cancel: cancel,
		sendCh: make(chan []byte, sendQueueLen),
	}
}

func (c *Conn) Addr() discovery.PeerAddress {
	return c.addr
}

func (c *Conn) HandshakeComplete() bool {
	return c.handshake.Load()
}

// PeerID is the remote id learned from the handshake.
func (c *Conn) PeerID() [20]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

func (c *Conn) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Dial starts the connection. Only the first call has an effect.
func (c *Conn) Dial() {
	if !c.dialed.CompareAndSwap(false, true) || c.closed.Load() {
		return
	}
	go c.run()
}

// Subscribe queues a SUBSCRIBE frame for streamHash.
func (c *Conn) Subscribe(streamHash string) error {
	if !c.handshake.Load() || c.closed.Load() {
		return ErrNotConnected
	}
	select {
	case c.sendCh <- generateSubscribeMsg(streamHash):
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close tears the connection down. No event is reported for a connection
// closed this way.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Conn) run() {
	conn, err := c.connect()
	if err != nil {
		c.logger.Debug("connection failed", zap.Error(err))
		c.report(c.events.ConnectionFailed)
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(conn)
	}()

	err = c.readLoop(conn)
	c.cancel()
	_ = conn.Close()
	wg.Wait()

	c.logger.Debug("connection ended", zap.Error(err))
	c.report(c.events.ConnectionClosed)
}

func (c *Conn) connect() (net.Conn, error) {
	cfg := c.dialer.cfg

	conn, err := c.dialer.net.DialContext(c.ctx, "tcp", c.addr.AddrPort().String())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to peer: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// Close may have run before conn was published.
	if c.closed.Load() {
		_ = conn.Close()
		return nil, context.Canceled
	}

	_ = conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	peerID, err := exchangeHandshake(conn, cfg.InfoHash, cfg.PeerID)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake with peer: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	c.mu.Lock()
	c.peerID = peerID
	c.lastActive = time.Now()
	c.mu.Unlock()

	c.handshake.Store(true)
	c.logger.Debug("handshake complete", zap.Binary("peer_id", peerID[:]))
	c.report(c.events.ConnectionEstablished)
	return conn, nil
}

func (c *Conn) readLoop(conn net.Conn) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * c.dialer.cfg.KeepAlive))
		msg, err := readMessage(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || c.ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fmt.Errorf("reading timed-out: %w", err)
			}
			return err
		}

		c.mu.Lock()
		c.lastActive = time.Now()
		c.mu.Unlock()

		if msg.Type != KeepAlive {
			c.logger.Debug("message from peer",
				zap.Stringer("type", msg.Type),
				zap.Int("bytes", len(msg.Payload)))
		}
	}
}

func (c *Conn) writeLoop(conn net.Conn) {
	timer := time.NewTimer(c.dialer.cfg.KeepAlive)
	defer timer.Stop()

	for {
		var msg []byte
		select {
		case <-c.ctx.Done():
			return
		case <-timer.C:
			msg = generateNoPayloadMsg(KeepAlive)
		case msg = <-c.sendCh:
		}
		timer.Reset(c.dialer.cfg.KeepAlive)

		_ = conn.SetWriteDeadline(time.Now().Add(15 * time.Second))
		if _, err := conn.Write(msg); err != nil {
			c.logger.Debug("write error", zap.Error(err))
			_ = conn.Close()
			return
		}
	}
}

// report posts fn onto the scheduler unless the connection was closed
// locally.
func (c *Conn) report(fn func(discovery.Conn)) {
	if c.closed.Load() {
		return
	}
	c.dialer.poster.Post(func() {
		if c.closed.Load() {
			return
		}
		fn(c)
	})
}
