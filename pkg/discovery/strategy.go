package discovery

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/agaabrieel/bittorrent-live/pkg/scheduler"
)

type Mode string

const (
	ModeLive    Mode = "live"
	ModeClassic Mode = "classic"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeLive, ModeClassic:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Strategy is one way of finding and connecting to swarm members.
type Strategy interface {
	ConnEvents

	Mode() Mode
	// Start registers the seeder-request handler, joins the swarm and runs
	// the first maintenance tick.
	Start()
	// Stop cancels both periodic loops and closes every connection.
	Stop()

	ConnectToSwarm()
	Reannounce()
	RequestSeeder(streamHash string)
	ProcessSchedule()
	OpenConnections(desired int) int
	HandleResponse(body []byte) error
	PotentialClients() []CandidateEntry
	Seed(entries []CandidateEntry) int
}

type Deps struct {
	Config    Config
	Host      Host
	Transport Transport
	Dialer    Dialer
	Scheduler scheduler.Scheduler
	Logger    *zap.Logger
	Metrics   *Metrics
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
}

func (d *Deps) validate() error {
	switch {
	case d.Host == nil:
		return fmt.Errorf("%w: host", ErrMissingDependency)
	case d.Transport == nil:
		return fmt.Errorf("%w: transport", ErrMissingDependency)
	case d.Dialer == nil:
		return fmt.Errorf("%w: dialer", ErrMissingDependency)
	case d.Scheduler == nil:
		return fmt.Errorf("%w: scheduler", ErrMissingDependency)
	}
	return d.Config.Validate()
}

func New(mode Mode, deps Deps) (Strategy, error) {
	var (
		s   Strategy
		err error
	)
	switch mode {
	case ModeLive:
		s, err = NewLive(deps)
	case ModeClassic:
		s, err = NewClassic(deps)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
