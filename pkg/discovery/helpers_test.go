package discovery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agaabrieel/bittorrent-live/internal/parser"
	"github.com/agaabrieel/bittorrent-live/pkg/scheduler"
	"github.com/agaabrieel/bittorrent-live/pkg/tracker"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeHost struct {
	desired   int
	max       int
	auto      bool
	local     PeerAddress
	stream    string
	peerType  string
	completed bool

	connectivity int
	registered   []Conn
	unregistered []Conn
	established  []Conn
	seeder       func(string)
	fatal        []error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		desired:  4,
		max:      10,
		auto:     true,
		local:    MustParsePeerAddress("10.0.0.2:6881"),
		stream:   "abc",
		peerType: "UNKNOWN",
	}
}

func (h *fakeHost) DesiredPeers() int      { return h.desired }
func (h *fakeHost) MaxPeers() int          { return h.max }
func (h *fakeHost) AutoConnect() bool      { return h.auto }
func (h *fakeHost) LocalAddr() PeerAddress { return h.local }
func (h *fakeHost) StreamHash() string     { return h.stream }
func (h *fakeHost) PeerType() string       { return h.peerType }
func (h *fakeHost) Completed() bool        { return h.completed }

func (h *fakeHost) ConnectivityEstablished()          { h.connectivity++ }
func (h *fakeHost) RegisterPeer(c Conn)              { h.registered = append(h.registered, c) }
func (h *fakeHost) UnregisterPeer(c Conn)            { h.unregistered = append(h.unregistered, c) }
func (h *fakeHost) PeerConnectionEstablished(c Conn) { h.established = append(h.established, c) }
func (h *fakeHost) HandleSeederRequests(fn func(string)) {
	h.seeder = fn
}
func (h *fakeHost) Fatal(err error) { h.fatal = append(h.fatal, err) }

type fakeConn struct {
	addr      PeerAddress
	events    ConnEvents
	dials     int
	handshake bool
	subErr    error
	refuse    bool
	streams   []string
	closed    bool
}

func (c *fakeConn) Addr() PeerAddress       { return c.addr }
func (c *fakeConn) Dial() {
	c.dials++
	if c.refuse {
		c.events.ConnectionFailed(c)
	}
}
func (c *fakeConn) HandshakeComplete() bool { return c.handshake }
func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func (c *fakeConn) Subscribe(stream string) error {
	if c.subErr != nil {
		return c.subErr
	}
	c.streams = append(c.streams, stream)
	return nil
}

// establish completes the handshake and reports it.
func (c *fakeConn) establish() {
	c.handshake = true
	c.events.ConnectionEstablished(c)
}

type fakeDialer struct {
	conns  []*fakeConn
	latest map[PeerAddress]*fakeConn
	// refuse lists addresses whose Dial reports failure at once.
	refuse map[PeerAddress]bool
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		latest: make(map[PeerAddress]*fakeConn),
		refuse: make(map[PeerAddress]bool),
	}
}

func (d *fakeDialer) NewConn(addr PeerAddress, events ConnEvents) Conn {
	c := &fakeConn{addr: addr, events: events, refuse: d.refuse[addr]}
	d.conns = append(d.conns, c)
	d.latest[addr] = c
	return c
}

type fakeTransport struct {
	err      error
	requests []tracker.Request
	pending  []func([]byte, error)
}

func (t *fakeTransport) Announce(req tracker.Request, done func([]byte, error)) error {
	if t.err != nil {
		return t.err
	}
	t.requests = append(t.requests, req)
	t.pending = append(t.pending, done)
	return nil
}

func (t *fakeTransport) last() tracker.Request {
	return t.requests[len(t.requests)-1]
}

// respond completes the i-th announce.
func (t *fakeTransport) respond(i int, body []byte, err error) {
	t.pending[i](body, err)
}

type testEnv struct {
	deps      Deps
	host      *fakeHost
	dialer    *fakeDialer
	transport *fakeTransport
	sim       *scheduler.Sim
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		host:      newFakeHost(),
		dialer:    newFakeDialer(),
		transport: &fakeTransport{},
		sim:       scheduler.NewSim(epoch),
	}
	env.deps = Deps{
		Config:    DefaultConfig(),
		Host:      env.host,
		Transport: env.transport,
		Dialer:    env.dialer,
		Scheduler: env.sim,
		Metrics:   NewMetrics(nil),
	}
	return env
}

type peer struct {
	ip     string
	port   int64
	stream string
}

func verbosePeers(peers ...peer) *parser.BencodeValue {
	items := make([]*parser.BencodeValue, 0, len(peers))
	for _, p := range peers {
		kv := []any{"ip", parser.NewString(p.ip), "port", parser.NewInteger(p.port)}
		if p.stream != "" {
			kv = append(kv, "streamHash", parser.NewString(p.stream))
		}
		items = append(items, parser.NewDict(kv...))
	}
	return parser.NewList(items...)
}

// response builds a complete tracker response around peers.
func response(interval int64, peers *parser.BencodeValue) *parser.BencodeValue {
	return parser.NewDict(
		"interval", parser.NewInteger(interval),
		"incomplete", parser.NewInteger(3),
		"complete", parser.NewInteger(5),
		"peers", peers,
	)
}

func encode(t *testing.T, v *parser.BencodeValue) []byte {
	t.Helper()
	b, err := v.Serialize()
	require.NoError(t, err)
	return b
}

func compactPeers(addrs ...PeerAddress) *parser.BencodeValue {
	b := make([]byte, 0, len(addrs)*6)
	for _, a := range addrs {
		ip := a.Addr().As4()
		b = append(b, ip[:]...)
		b = append(b, byte(a.Port>>8), byte(a.Port))
	}
	return parser.NewBytes(b)
}

func entry(stream, addr string) CandidateEntry {
	return CandidateEntry{StreamHash: stream, Addr: MustParsePeerAddress(addr)}
}

// requireExclusive checks that no address is both pending and connected.
func requireExclusive(t *testing.T, c *Connector) {
	t.Helper()
	for addr := range c.pending {
		_, both := c.connected[addr]
		require.False(t, both, "%s is pending and connected", addr)
	}
}

var errSubscribe = errors.New("subscribe refused")
