package peer

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/agaabrieel/bittorrent-live/pkg/discovery"
	"github.com/agaabrieel/bittorrent-live/pkg/scheduler"
)

type Config struct {
	InfoHash         [20]byte
	PeerID           [20]byte
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	// KeepAlive is the idle time after which a keep-alive is sent.
	KeepAlive time.Duration
}

func DefaultConfig() Config {
	return Config{
		DialTimeout:      10 * time.Second,
		HandshakeTimeout: 30 * time.Second,
		KeepAlive:        2 * time.Minute,
	}
}

// Dialer creates TCP connections whose events are posted onto a
// scheduler.
type Dialer struct {
	cfg    Config
	poster scheduler.Poster
	net    *net.Dialer
	logger *zap.Logger
}

var _ discovery.Dialer = (*Dialer)(nil)

func NewDialer(cfg Config, poster scheduler.Poster, logger *zap.Logger) *Dialer {
	def := DefaultConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{
		cfg:    cfg,
		poster: poster,
		net:    &net.Dialer{Timeout: cfg.DialTimeout},
		logger: logger.Named("peer"),
	}
}

func (d *Dialer) NewConn(addr discovery.PeerAddress, events discovery.ConnEvents) discovery.Conn {
	return newConn(d, addr, events)
}
