package discovery

import (
	"fmt"
	"time"
)

type Config struct {
	// RefreshCycles is K: the candidate set is cleared before the K-th
	// successful parse since the last clear.
	RefreshCycles int `yaml:"refresh_cycles"`

	// PeriodicInterval separates two connection maintenance ticks.
	PeriodicInterval time.Duration `yaml:"periodic_interval"`

	// AcceptanceDelay is the grace period after which a dialed connection
	// without a completed handshake is torn down.
	AcceptanceDelay time.Duration `yaml:"acceptance_delay"`

	// DefaultReannounceInterval is used until the tracker supplies one.
	DefaultReannounceInterval time.Duration `yaml:"reannounce_interval"`

	AnnounceTimeout time.Duration `yaml:"announce_timeout"`
}

func DefaultConfig() Config {
	return Config{
		RefreshCycles:             3,
		PeriodicInterval:          5 * time.Second,
		AcceptanceDelay:           10 * time.Second,
		DefaultReannounceInterval: 60 * time.Second,
		AnnounceTimeout:           30 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.RefreshCycles <= 0 {
		return fmt.Errorf("%w: refresh_cycles must be positive", ErrInvalidConfig)
	}
	if c.PeriodicInterval <= 0 {
		return fmt.Errorf("%w: periodic_interval must be positive", ErrInvalidConfig)
	}
	if c.AcceptanceDelay <= 0 {
		return fmt.Errorf("%w: acceptance_delay must be positive", ErrInvalidConfig)
	}
	if c.DefaultReannounceInterval <= 0 {
		return fmt.Errorf("%w: reannounce_interval must be positive", ErrInvalidConfig)
	}
	if c.AnnounceTimeout <= 0 {
		return fmt.Errorf("%w: announce_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}
