package discovery

import (
	"go.uber.org/zap"

	"github.com/agaabrieel/bittorrent-live/pkg/scheduler"
)

// Live discovers peers for a live multi-stream swarm. Peer lists must be
// tagged with a stream, and completing consumption while running is fatal.
type Live struct {
	cfg    Config
	host   Host
	sched  scheduler.Scheduler
	logger *zap.Logger

	announcer *Announcer
	connector *Connector

	tick   *scheduler.Event
	halted bool
}

var _ Strategy = (*Live)(nil)

func NewLive(deps Deps) (*Live, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	deps.defaults()
	deps.Logger = deps.Logger.Named("live")

	l := &Live{
		cfg:    deps.Config,
		host:   deps.Host,
		sched:  deps.Scheduler,
		logger: deps.Logger,
	}
	l.connector = NewConnector(deps)
	l.connector.OnFailure(l.ProcessSchedule)
	l.announcer = NewAnnouncer(deps, l.connector.Candidates(), AnnouncerOptions{
		LiveStreaming: true,
		Parser:        LiveParserOptions(),
	})
	return l, nil
}

func (l *Live) Mode() Mode { return ModeLive }

func (l *Live) Start() {
	l.host.HandleSeederRequests(l.RequestSeeder)
	l.ConnectToSwarm()
	l.ProcessSchedule()
}

func (l *Live) Stop() {
	l.halted = true
	l.tick.Cancel()
	l.announcer.Stop()
	l.connector.Close()
}

func (l *Live) ConnectToSwarm()                 { l.announcer.ConnectToSwarm() }
func (l *Live) Reannounce()                     { l.announcer.Reannounce() }
func (l *Live) RequestSeeder(streamHash string) { l.announcer.RequestSeeder(streamHash) }
func (l *Live) HandleResponse(body []byte) error {
	return l.announcer.HandleResponse(body)
}

// ProcessSchedule is the connection maintenance tick. It tops the
// connected count up to the desired count and re-arms itself.
func (l *Live) ProcessSchedule() {
	if l.halted {
		return
	}
	l.tick.Cancel()

	if l.host.Completed() {
		l.halted = true
		l.logger.Error("stream consumption completed while live")
		l.host.Fatal(ErrCompletedWhileLive)
		return
	}

	if l.host.AutoConnect() {
		if missing := l.host.DesiredPeers() - l.connector.NumConnected(); missing > 0 {
			l.connector.OpenConnections(missing)
		}
	}

	l.tick = l.sched.Schedule(l.cfg.PeriodicInterval, l.periodic)
}

// periodic is the timer-driven tick. Addresses that failed during the
// previous interval become dialable again.
func (l *Live) periodic() {
	l.connector.ClearFailed()
	l.ProcessSchedule()
}

func (l *Live) OpenConnections(desired int) int    { return l.connector.OpenConnections(desired) }
func (l *Live) PotentialClients() []CandidateEntry { return l.connector.PotentialClients() }
func (l *Live) Seed(entries []CandidateEntry) int  { return l.connector.Seed(entries) }

func (l *Live) ConnectionEstablished(c Conn) { l.connector.ConnectionEstablished(c) }
func (l *Live) ConnectionFailed(c Conn)      { l.connector.ConnectionFailed(c) }
func (l *Live) ConnectionClosed(c Conn)      { l.connector.ConnectionClosed(c) }

func (l *Live) Announcer() *Announcer { return l.announcer }
func (l *Live) Connector() *Connector { return l.connector }
