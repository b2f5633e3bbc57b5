package tracker

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Event is the announce kind reported to the tracker.
type Event uint8

const (
	RegularUpdate Event = iota
	Started
	GetSeeder
	Stopped
)

func (e Event) String() string {
	switch e {
	case RegularUpdate:
		return "regular"
	case Started:
		return "started"
	case GetSeeder:
		return "getseeder"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// queryValue is the value of the "event" query parameter; regular updates
// carry none.
func (e Event) queryValue() string {
	if e == RegularUpdate {
		return ""
	}
	return e.String()
}

// Recognized announce parameters.
const (
	ParamPeerType      = "PeerType"
	ParamStreamHash    = "StreamHash"
	ParamLiveStreaming = "LiveStreaming"
	ParamTrackerID     = "trackerid"
)

var (
	ErrBusy        = errors.New("tracker: announce already in flight")
	ErrNoClient    = errors.New("tracker: no client configured")
	ErrUnsupported = errors.New("tracker: unsupported tracker url scheme")
)

type Request struct {
	Event   Event
	NumWant int
	Params  map[string]string
	// Exclusive requests may preempt an in-flight announce; others are
	// refused while one is running.
	Exclusive bool
}

// Identity is what every announce reports about the local node.
type Identity struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       uint16
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
}

// Client performs one blocking announce and returns the bencoded response
// body.
type Client interface {
	Announce(ctx context.Context, req Request) ([]byte, error)
}

func NewClient(rawURL string, id Identity, timeout time.Duration) (Client, error) {
	trackerURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tracker url: %w", err)
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	switch trackerURL.Scheme {
	case "http", "https":
		return NewHTTPClient(trackerURL, id, timeout), nil
	case "udp":
		if _, err := strconv.Atoi(trackerURL.Port()); err != nil {
			return nil, fmt.Errorf("udp tracker url %q has no valid port: %w", rawURL, err)
		}
		return NewUDPClient(trackerURL, id, timeout), nil
	default:
		return nil, fmt.Errorf("%q: %w", trackerURL.Scheme, ErrUnsupported)
	}
}

// NewPeerID returns a random peer id with an Azureus-style client prefix.
func NewPeerID() [20]byte {
	var id [20]byte
	copy(id[:], "-BL0001-")
	_, _ = rand.Read(id[8:])
	return id
}
