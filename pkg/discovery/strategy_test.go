package discovery

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agaabrieel/bittorrent-live/internal/parser"
	"github.com/agaabrieel/bittorrent-live/pkg/tracker"
)

func newTestLive(t *testing.T) (*Live, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	l, err := NewLive(env.deps)
	require.NoError(t, err)
	return l, env
}

func countEvents(reqs []tracker.Request, ev tracker.Event) int {
	n := 0
	for _, r := range reqs {
		if r.Event == ev {
			n++
		}
	}
	return n
}

func TestLiveStartJoinsSwarm(t *testing.T) {
	l, env := newTestLive(t)
	l.Start()

	require.Len(t, env.transport.requests, 2)
	started := env.transport.requests[0]
	assert.Equal(t, tracker.Started, started.Event)
	assert.Equal(t, 1, started.NumWant)
	assert.True(t, started.Exclusive)
	assert.Equal(t, map[string]string{
		tracker.ParamPeerType:   "UNKNOWN",
		tracker.ParamStreamHash: "abc",
	}, started.Params)

	update := env.transport.requests[1]
	assert.Equal(t, tracker.RegularUpdate, update.Event)
	assert.Equal(t, 1, update.NumWant)
	assert.False(t, update.Exclusive)
	assert.Equal(t, "1", update.Params[tracker.ParamLiveStreaming])

	assert.Equal(t, 1, env.host.connectivity)
	assert.True(t, l.Announcer().Active())
	require.NotNil(t, env.host.seeder)
}

func TestConnectToSwarmSurvivesTransportFailure(t *testing.T) {
	l, env := newTestLive(t)
	env.transport.err = errors.New("no route")

	l.ConnectToSwarm()

	assert.Equal(t, 1, env.host.connectivity)
	assert.Equal(t, float64(2), testutil.ToFloat64(
		env.deps.Metrics.AnnounceFailures.WithLabelValues(tracker.Started.String()))+
		testutil.ToFloat64(env.deps.Metrics.AnnounceFailures.WithLabelValues(tracker.RegularUpdate.String())))
	assert.Equal(t, 1, env.sim.Len(), "only the reannounce loop is armed")

	env.transport.err = nil
	env.sim.RunFor(env.deps.Config.DefaultReannounceInterval)
	assert.Equal(t, 1, countEvents(env.transport.requests, tracker.RegularUpdate))
}

func TestReannounceUsesLatestInterval(t *testing.T) {
	l, env := newTestLive(t)
	l.ConnectToSwarm()
	env.transport.respond(0, encode(t, response(1800, verbosePeers())), nil)
	require.Equal(t, 1800*time.Second, l.Announcer().Params().Interval)

	// The pending reannounce still uses the default interval; the next
	// one picks up the tracker's.
	env.sim.RunFor(env.deps.Config.DefaultReannounceInterval)
	assert.Equal(t, 2, countEvents(env.transport.requests, tracker.RegularUpdate))

	env.sim.RunFor(1799 * time.Second)
	assert.Equal(t, 2, countEvents(env.transport.requests, tracker.RegularUpdate))
	env.sim.RunFor(time.Second)
	assert.Equal(t, 3, countEvents(env.transport.requests, tracker.RegularUpdate))
}

func TestReannounceCancelsPreviousEvent(t *testing.T) {
	l, env := newTestLive(t)
	l.ConnectToSwarm()
	l.Reannounce()
	l.Reannounce()

	assert.Equal(t, 1, env.sim.Len())
	before := len(env.transport.requests)
	env.sim.RunFor(env.deps.Config.DefaultReannounceInterval)
	assert.Equal(t, before+1, len(env.transport.requests))
}

func TestReannounceWhileInactiveOnlyReschedules(t *testing.T) {
	l, env := newTestLive(t)
	l.Reannounce()

	assert.Empty(t, env.transport.requests)
	assert.Equal(t, 1, env.sim.Len())
}

func TestTrackerIDIsSentBack(t *testing.T) {
	l, env := newTestLive(t)
	l.ConnectToSwarm()

	root := response(60, verbosePeers())
	root.DictValue = append(root.DictValue, parser.BencodeDictEntry{
		Key: parser.NewString("tracker id"), Value: parser.NewString("t-42"),
	})
	env.transport.respond(0, encode(t, root), nil)

	l.RequestSeeder("def")
	last := env.transport.last()
	assert.Equal(t, tracker.GetSeeder, last.Event)
	assert.Equal(t, "t-42", last.Params[tracker.ParamTrackerID])
}

func TestSeederRequestThroughHost(t *testing.T) {
	l, env := newTestLive(t)
	l.Start()

	env.host.seeder("def")

	last := env.transport.last()
	assert.Equal(t, tracker.GetSeeder, last.Event)
	assert.Equal(t, 1, last.NumWant)
	assert.True(t, last.Exclusive)
	assert.Equal(t, "def", last.Params[tracker.ParamStreamHash])
	_, live := last.Params[tracker.ParamLiveStreaming]
	assert.False(t, live)
}

func TestHandleResponseSelfFilteredFiresConnectivity(t *testing.T) {
	l, env := newTestLive(t)

	err := l.HandleResponse(encode(t, response(1800, verbosePeers(peer{"10.0.0.2", 6881, "abc"}))))
	require.NoError(t, err)

	assert.Empty(t, l.PotentialClients())
	assert.Equal(t, 1, env.host.connectivity)
	assert.True(t, l.Announcer().ConnectedToSwarm())

	require.NoError(t, l.HandleResponse(encode(t, response(1800, verbosePeers()))))
	assert.Equal(t, 1, env.host.connectivity, "fires once")
}

func TestHandleResponseErrors(t *testing.T) {
	l, env := newTestLive(t)

	err := l.HandleResponse([]byte("d8:intervali"))
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.ErrorIs(t, err, parser.ErrUnexpectedEOF)

	err = l.HandleResponse(encode(t, parser.NewDict("failure reason", parser.NewString("nope"))))
	assert.ErrorIs(t, err, ErrTrackerFailure)

	assert.Zero(t, env.host.connectivity)
	assert.False(t, l.Announcer().ConnectedToSwarm())
	assert.Empty(t, env.host.fatal)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.deps.Metrics.Responses.WithLabelValues(resultMalformed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.deps.Metrics.Responses.WithLabelValues(resultFailure)))
}

func TestLiveCompactPeerListIsFatal(t *testing.T) {
	l, env := newTestLive(t)

	err := l.HandleResponse(encode(t, response(60, compactPeers(MustParsePeerAddress("10.0.0.3:1")))))
	require.ErrorIs(t, err, ErrUnsupportedPeerList)
	require.Len(t, env.host.fatal, 1)
	assert.ErrorIs(t, env.host.fatal[0], ErrUnsupportedPeerList)
}

func TestStaleResponseAfterStopIsDropped(t *testing.T) {
	l, env := newTestLive(t)
	l.ConnectToSwarm()
	l.Stop()

	env.transport.respond(0, encode(t, response(60, verbosePeers(peer{"10.0.0.3", 1, "abc"}))), nil)
	assert.Empty(t, l.PotentialClients())
}

func TestProcessScheduleOpensMissingConnections(t *testing.T) {
	l, env := newTestLive(t)
	env.host.desired = 2
	require.NoError(t, l.HandleResponse(encode(t, response(60, verbosePeers(
		peer{"10.0.0.3", 1, "abc"},
		peer{"10.0.0.4", 1, "abc"},
		peer{"10.0.0.5", 1, "abc"},
	)))))

	l.ProcessSchedule()
	assert.Len(t, env.dialer.conns, 2)

	// Still two short while the attempts are pending, but those
	// addresses are skipped and the third candidate is dialed.
	env.sim.RunFor(env.deps.Config.PeriodicInterval)
	assert.Len(t, env.dialer.conns, 3)
}

func TestProcessScheduleWithoutAutoConnect(t *testing.T) {
	l, env := newTestLive(t)
	env.host.auto = false
	l.Seed([]CandidateEntry{entry("abc", "10.0.0.3:1")})

	l.ProcessSchedule()
	assert.Empty(t, env.dialer.conns)
	assert.Equal(t, 1, env.sim.Len())
}

func TestLiveCompletionIsFatal(t *testing.T) {
	l, env := newTestLive(t)
	l.Seed([]CandidateEntry{entry("abc", "10.0.0.3:1")})
	l.ProcessSchedule()
	require.Len(t, env.dialer.conns, 1)

	env.host.completed = true
	env.sim.RunFor(env.deps.Config.PeriodicInterval)

	require.Len(t, env.host.fatal, 1)
	assert.ErrorIs(t, env.host.fatal[0], ErrCompletedWhileLive)

	env.sim.RunFor(10 * env.deps.Config.PeriodicInterval)
	assert.Len(t, env.host.fatal, 1, "the loop halts")
}

func TestFailedConnectionTriggersImmediateTick(t *testing.T) {
	l, env := newTestLive(t)
	env.host.desired = 1
	l.Seed([]CandidateEntry{entry("abc", "10.0.0.3:1"), entry("abc", "10.0.0.4:1")})
	l.ProcessSchedule()
	require.Len(t, env.dialer.conns, 1)

	first := env.dialer.conns[0]
	first.events.ConnectionFailed(first)

	// The retry backfills from the other candidate without waiting for
	// the next tick.
	require.Len(t, env.dialer.conns, 2)
	assert.Equal(t, MustParsePeerAddress("10.0.0.4:1"), env.dialer.conns[1].addr)
	assert.Equal(t, StatePending, l.Connector().State(MustParsePeerAddress("10.0.0.4:1")))
	assert.Equal(t, StateAbsent, l.Connector().State(first.addr))
}

func TestRefusedPeerIsRetriedOnlyOnNextTick(t *testing.T) {
	l, env := newTestLive(t)
	dead := MustParsePeerAddress("10.0.0.9:6881")
	env.dialer.refuse[dead] = true
	l.Seed([]CandidateEntry{entry("abc", dead.String())})

	l.ProcessSchedule()
	fired := env.sim.Drain()
	assert.Less(t, fired, 10, "no immediate redial loop")
	require.Len(t, env.dialer.conns, 1)
	assert.True(t, l.Connector().Failed(dead))
	assert.Equal(t, epoch, env.sim.Now())

	env.sim.RunFor(env.deps.Config.PeriodicInterval)
	assert.Len(t, env.dialer.conns, 2, "one attempt per tick")
	for _, c := range env.dialer.conns {
		assert.Equal(t, 1, c.dials)
	}
}

func TestClassicFastRetrySkipsFailedAddress(t *testing.T) {
	env := newTestEnv(t)
	c, err := NewClassic(env.deps)
	require.NoError(t, err)
	env.host.desired = 1
	env.dialer.refuse[MustParsePeerAddress("10.0.0.3:1")] = true
	c.Seed([]CandidateEntry{entry("abc", "10.0.0.3:1"), entry("abc", "10.0.0.4:1")})

	c.ProcessSchedule()
	env.sim.Drain()

	require.Len(t, env.dialer.conns, 2)
	assert.Equal(t, MustParsePeerAddress("10.0.0.4:1"), env.dialer.conns[1].addr)
}

func TestLiveFullCycle(t *testing.T) {
	l, env := newTestLive(t)
	env.host.desired = 1
	l.Start()
	env.transport.respond(0, encode(t, response(60, verbosePeers(
		peer{"10.0.0.3", 6881, "abc"},
		peer{"10.0.0.3", 6881, "def"},
	))), nil)

	env.sim.RunFor(env.deps.Config.PeriodicInterval)
	require.Len(t, env.dialer.conns, 1)
	conn := env.dialer.conns[0]
	assert.Equal(t, 1, conn.dials)

	conn.establish()
	assert.Equal(t, []string{"abc", "def"}, conn.streams)

	env.sim.RunFor(env.deps.Config.AcceptanceDelay)
	assert.Equal(t, []Conn{conn}, env.host.registered)
	assert.Equal(t, []Conn{conn}, env.host.established)

	l.Stop()
	assert.True(t, conn.closed)
	assert.Equal(t, []Conn{conn}, env.host.unregistered)

	requests := len(env.transport.requests)
	env.sim.RunFor(time.Hour)
	assert.Equal(t, requests, len(env.transport.requests))
	assert.Zero(t, env.sim.Len())
}

func TestClassicAcceptsCompactPeers(t *testing.T) {
	env := newTestEnv(t)
	c, err := NewClassic(env.deps)
	require.NoError(t, err)

	c.Start()
	update := env.transport.requests[1]
	_, live := update.Params[tracker.ParamLiveStreaming]
	assert.False(t, live)

	env.transport.respond(0, encode(t, response(60, compactPeers(MustParsePeerAddress("10.0.0.3:6881")))), nil)
	assert.Equal(t, []CandidateEntry{entry("abc", "10.0.0.3:6881")}, c.PotentialClients())
	assert.Empty(t, env.host.fatal)
}

func TestClassicCompletionStopsDialing(t *testing.T) {
	env := newTestEnv(t)
	c, err := NewClassic(env.deps)
	require.NoError(t, err)
	env.host.completed = true
	c.Seed([]CandidateEntry{entry("abc", "10.0.0.3:1")})

	c.ProcessSchedule()
	env.sim.RunFor(3 * env.deps.Config.PeriodicInterval)

	assert.Empty(t, env.dialer.conns)
	assert.Empty(t, env.host.fatal)
	assert.Equal(t, 1, env.sim.Len(), "the tick keeps running")
}

func TestNewStrategy(t *testing.T) {
	env := newTestEnv(t)

	s, err := New(ModeLive, env.deps)
	require.NoError(t, err)
	assert.Equal(t, ModeLive, s.Mode())

	s, err = New(ModeClassic, env.deps)
	require.NoError(t, err)
	assert.Equal(t, ModeClassic, s.Mode())

	_, err = New("dht", env.deps)
	assert.ErrorIs(t, err, ErrUnknownMode)

	deps := env.deps
	deps.Dialer = nil
	s, err = New(ModeLive, deps)
	assert.ErrorIs(t, err, ErrMissingDependency)
	assert.Nil(t, s)

	deps = env.deps
	deps.Config.RefreshCycles = 0
	_, err = New(ModeClassic, deps)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("classic")
	require.NoError(t, err)
	assert.Equal(t, ModeClassic, m)

	_, err = ParseMode("LIVE")
	assert.ErrorIs(t, err, ErrUnknownMode)
}
