package discovery

import (
	"go.uber.org/zap"

	"github.com/agaabrieel/bittorrent-live/pkg/scheduler"
)

// Classic discovers peers for a single finite stream. It accepts compact
// peer lists, filed under the host's stream, and simply stops dialing once
// consumption is complete.
type Classic struct {
	cfg    Config
	host   Host
	sched  scheduler.Scheduler
	logger *zap.Logger

	announcer *Announcer
	connector *Connector

	tick    *scheduler.Event
	stopped bool
}

var _ Strategy = (*Classic)(nil)

func NewClassic(deps Deps) (*Classic, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	deps.defaults()
	deps.Logger = deps.Logger.Named("classic")

	c := &Classic{
		cfg:    deps.Config,
		host:   deps.Host,
		sched:  deps.Scheduler,
		logger: deps.Logger,
	}
	c.connector = NewConnector(deps)
	c.connector.OnFailure(c.ProcessSchedule)
	c.announcer = NewAnnouncer(deps, c.connector.Candidates(), AnnouncerOptions{
		Parser: ClassicParserOptions(deps.Host.StreamHash()),
	})
	return c, nil
}

func (c *Classic) Mode() Mode { return ModeClassic }

func (c *Classic) Start() {
	c.host.HandleSeederRequests(c.RequestSeeder)
	c.ConnectToSwarm()
	c.ProcessSchedule()
}

func (c *Classic) Stop() {
	c.stopped = true
	c.tick.Cancel()
	c.announcer.Stop()
	c.connector.Close()
}

func (c *Classic) ConnectToSwarm()                 { c.announcer.ConnectToSwarm() }
func (c *Classic) Reannounce()                     { c.announcer.Reannounce() }
func (c *Classic) RequestSeeder(streamHash string) { c.announcer.RequestSeeder(streamHash) }
func (c *Classic) HandleResponse(body []byte) error {
	return c.announcer.HandleResponse(body)
}

func (c *Classic) ProcessSchedule() {
	if c.stopped {
		return
	}
	c.tick.Cancel()

	if !c.host.Completed() && c.host.AutoConnect() {
		if missing := c.host.DesiredPeers() - c.connector.NumConnected(); missing > 0 {
			c.connector.OpenConnections(missing)
		}
	}

	c.tick = c.sched.Schedule(c.cfg.PeriodicInterval, c.periodic)
}

// periodic is the timer-driven tick. Addresses that failed during the
// previous interval become dialable again.
func (c *Classic) periodic() {
	c.connector.ClearFailed()
	c.ProcessSchedule()
}

func (c *Classic) OpenConnections(desired int) int    { return c.connector.OpenConnections(desired) }
func (c *Classic) PotentialClients() []CandidateEntry { return c.connector.PotentialClients() }
func (c *Classic) Seed(entries []CandidateEntry) int  { return c.connector.Seed(entries) }

func (c *Classic) ConnectionEstablished(conn Conn) { c.connector.ConnectionEstablished(conn) }
func (c *Classic) ConnectionFailed(conn Conn)      { c.connector.ConnectionFailed(conn) }
func (c *Classic) ConnectionClosed(conn Conn)      { c.connector.ConnectionClosed(conn) }

func (c *Classic) Announcer() *Announcer { return c.announcer }
func (c *Classic) Connector() *Connector { return c.connector }
