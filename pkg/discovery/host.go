package discovery

import "github.com/agaabrieel/bittorrent-live/pkg/tracker"

// Host is the owning client. It supplies configuration and receives
// notifications. Every method is called on the scheduler thread.
type Host interface {
	DesiredPeers() int
	MaxPeers() int
	AutoConnect() bool
	LocalAddr() PeerAddress
	StreamHash() string
	PeerType() string
	Completed() bool

	ConnectivityEstablished()
	// RegisterPeer adopts a connection that passed the rejection check.
	RegisterPeer(c Conn)
	// UnregisterPeer is called when a registered connection closes.
	UnregisterPeer(c Conn)
	PeerConnectionEstablished(c Conn)
	HandleSeederRequests(fn func(streamHash string))
	// Fatal reports a condition retrying cannot fix.
	Fatal(err error)
}

// Conn is a transport-level connection to one peer.
type Conn interface {
	Addr() PeerAddress
	// Dial starts connecting. Its outcome is reported through ConnEvents.
	Dial()
	HandshakeComplete() bool
	Subscribe(streamHash string) error
	Close() error
}

// ConnEvents receives connection outcomes. Implementations of Conn must
// deliver them on the scheduler thread.
type ConnEvents interface {
	ConnectionEstablished(c Conn)
	ConnectionFailed(c Conn)
	ConnectionClosed(c Conn)
}

type Dialer interface {
	NewConn(addr PeerAddress, events ConnEvents) Conn
}

// Transport issues announces. done runs on the scheduler thread; it is
// never called when Announce returns an error.
type Transport interface {
	Announce(req tracker.Request, done func(body []byte, err error)) error
}
