package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agaabrieel/bittorrent-live/internal/parser"
	"github.com/agaabrieel/bittorrent-live/pkg/discovery"
	"github.com/agaabrieel/bittorrent-live/pkg/tracker"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TrackerURL = "http://tracker.example/announce"
	cfg.StreamHash = "abc"
	cfg.LocalAddr = "10.0.0.2:6881"
	return cfg
}

type fakeConn struct {
	addr      discovery.PeerAddress
	events    discovery.ConnEvents
	handshake bool
	streams   []string
	closed    bool
}

func (c *fakeConn) Addr() discovery.PeerAddress { return c.addr }
func (c *fakeConn) Dial()                       {}
func (c *fakeConn) HandshakeComplete() bool     { return c.handshake }
func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}
func (c *fakeConn) Subscribe(stream string) error {
	c.streams = append(c.streams, stream)
	return nil
}

func (c *fakeConn) establish() {
	c.handshake = true
	c.events.ConnectionEstablished(c)
}

type fakeDialer struct {
	conns map[discovery.PeerAddress]*fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(map[discovery.PeerAddress]*fakeConn)}
}

func (d *fakeDialer) NewConn(addr discovery.PeerAddress, events discovery.ConnEvents) discovery.Conn {
	c := &fakeConn{addr: addr, events: events}
	d.conns[addr] = c
	return c
}

type fakeTransport struct {
	requests []tracker.Request
	pending  []func([]byte, error)
}

func (t *fakeTransport) Announce(req tracker.Request, done func([]byte, error)) error {
	t.requests = append(t.requests, req)
	t.pending = append(t.pending, done)
	return nil
}

type memStore struct {
	mu      sync.Mutex
	entries []discovery.CandidateEntry
	saves   int
}

func (s *memStore) Load() ([]discovery.CandidateEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]discovery.CandidateEntry(nil), s.entries...), nil
}

func (s *memStore) Save(entries []discovery.CandidateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append([]discovery.CandidateEntry(nil), entries...)
	s.saves++
	return nil
}

func entry(stream, addr string) discovery.CandidateEntry {
	return discovery.CandidateEntry{StreamHash: stream, Addr: discovery.MustParsePeerAddress(addr)}
}

func verboseResponse(t *testing.T, peers ...discovery.CandidateEntry) []byte {
	t.Helper()
	items := make([]*parser.BencodeValue, 0, len(peers))
	for _, p := range peers {
		ip := p.Addr.Addr().String()
		items = append(items, parser.NewDict(
			"ip", parser.NewString(ip),
			"port", parser.NewInteger(int64(p.Addr.Port)),
			"streamHash", parser.NewString(p.StreamHash),
		))
	}
	b, err := parser.NewDict(
		"interval", parser.NewInteger(60),
		"incomplete", parser.NewInteger(1),
		"complete", parser.NewInteger(1),
		"peers", parser.NewList(items...),
	).Serialize()
	require.NoError(t, err)
	return b
}

func compactResponse(t *testing.T) []byte {
	t.Helper()
	b, err := parser.NewDict(
		"interval", parser.NewInteger(60),
		"incomplete", parser.NewInteger(1),
		"complete", parser.NewInteger(1),
		"peers", parser.NewBytes([]byte{10, 0, 0, 3, 0x1a, 0xe1}),
	).Serialize()
	require.NoError(t, err)
	return b
}
