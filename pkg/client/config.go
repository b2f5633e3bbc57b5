package client

import (
	"crypto/sha1"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agaabrieel/bittorrent-live/pkg/discovery"
	"github.com/agaabrieel/bittorrent-live/pkg/log"
	"github.com/agaabrieel/bittorrent-live/pkg/tracker"
)

type Config struct {
	Mode       string `yaml:"mode"`
	TrackerURL string `yaml:"tracker"`
	StreamHash string `yaml:"stream_hash"`
	PeerType   string `yaml:"peer_type"`
	// LocalAddr is the address the tracker lists this node under, as
	// "a.b.c.d:port". Tracker entries equal to it are never dialed.
	LocalAddr  string `yaml:"local_addr"`
	ListenPort uint16 `yaml:"listen_port"`
	PeerID     string `yaml:"peer_id"`

	DesiredPeers int  `yaml:"desired_peers"`
	MaxPeers     int  `yaml:"max_peers"`
	AutoConnect  bool `yaml:"auto_connect"`

	CachePath   string `yaml:"cache_path"`
	MetricsAddr string `yaml:"metrics_addr"`

	Log       log.Config       `yaml:"log"`
	Discovery discovery.Config `yaml:"discovery"`
}

func DefaultConfig() Config {
	return Config{
		Mode:         string(discovery.ModeLive),
		PeerType:     "UNKNOWN",
		ListenPort:   6881,
		DesiredPeers: 4,
		MaxPeers:     10,
		AutoConnect:  true,
		MetricsAddr:  ":9090",
		Log:          log.DefaultConfig(),
		Discovery:    discovery.DefaultConfig(),
	}
}

// LoadConfig reads a YAML file over DefaultConfig. An empty path yields the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := discovery.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.TrackerURL == "" {
		return fmt.Errorf("%w: tracker url is required", ErrInvalidConfig)
	}
	if c.StreamHash == "" {
		return fmt.Errorf("%w: stream hash is required", ErrInvalidConfig)
	}
	if c.DesiredPeers <= 0 {
		return fmt.Errorf("%w: desired_peers must be positive", ErrInvalidConfig)
	}
	if c.MaxPeers < c.DesiredPeers {
		return fmt.Errorf("%w: max_peers (%d) is below desired_peers (%d)", ErrInvalidConfig, c.MaxPeers, c.DesiredPeers)
	}
	if len(c.PeerID) > 20 {
		return fmt.Errorf("%w: peer_id longer than 20 bytes", ErrInvalidConfig)
	}
	if c.LocalAddr == "" {
		return fmt.Errorf("%w: local_addr is required", ErrInvalidConfig)
	}
	local, err := discovery.ParsePeerAddress(c.LocalAddr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if local.Addr().IsUnspecified() {
		return fmt.Errorf("%w: local_addr %s is unspecified", ErrInvalidConfig, c.LocalAddr)
	}
	return c.Discovery.Validate()
}

// Local is the node's own swarm address. It is the zero address until
// Validate accepts LocalAddr.
func (c Config) Local() discovery.PeerAddress {
	addr, err := discovery.ParsePeerAddress(c.LocalAddr)
	if err != nil {
		return discovery.PeerAddress{}
	}
	return addr
}

// InfoHash identifies the stream on the wire.
func (c Config) InfoHash() [20]byte {
	return sha1.Sum([]byte(c.StreamHash))
}

// ID returns the configured peer id, or a fresh random one.
func (c Config) ID() [20]byte {
	if c.PeerID == "" {
		return tracker.NewPeerID()
	}
	var id [20]byte
	copy(id[:], c.PeerID)
	return id
}

func (c Config) Identity(peerID [20]byte) tracker.Identity {
	return tracker.Identity{
		InfoHash: c.InfoHash(),
		PeerID:   peerID,
		Port:     c.ListenPort,
		Left:     1,
	}
}
