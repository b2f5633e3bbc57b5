package tracker

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/agaabrieel/bittorrent-live/internal/parser"
)

const ProtocolID uint64 = 0x41727101980
const UDPPacketSize int = 98

type Action uint32

const (
	ConnectAction Action = iota
	AnnounceAction
	ScrapeAction
	ErrorAction
)

// UDPClient speaks the BEP 15 announce protocol. Its binary answer is
// re-encoded as the equivalent bencoded dictionary so callers decode every
// tracker response the same way.
type UDPClient struct {
	dialer  *net.Dialer
	url     *url.URL
	id      Identity
	timeout time.Duration
	connIds map[string]uint64
	mutex   sync.Mutex
}

func NewUDPClient(trackerURL *url.URL, id Identity, timeout time.Duration) *UDPClient {
	return &UDPClient{
		dialer: &net.Dialer{
			Timeout: timeout,
		},
		url:     trackerURL,
		id:      id,
		timeout: timeout,
		connIds: make(map[string]uint64),
	}
}

func (c *UDPClient) Announce(ctx context.Context, req Request) ([]byte, error) {

	if c.dialer == nil {
		return nil, fmt.Errorf("client has no valid dialer")
	}

	conn, err := c.dialer.DialContext(ctx, "udp", c.url.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to tracker: %w", err)
	}
	defer conn.Close()

	c.mutex.Lock()
	cachedConnId, found := c.connIds[c.url.Host]
	c.mutex.Unlock()

	if found {
		body, err := c.makeAnnounceRequest(ctx, cachedConnId, req, conn)
		if err == nil {
			return body, nil
		}

		// connection id may have expired, forget it and reconnect
		c.mutex.Lock()
		if currentId, stillExists := c.connIds[c.url.Host]; stillExists && currentId == cachedConnId {
			delete(c.connIds, c.url.Host)
		}
		c.mutex.Unlock()
	}

	connId, err := c.makeConnectionRequest(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to make connection request: %w", err)
	}

	c.mutex.Lock()
	c.connIds[c.url.Host] = connId
	c.mutex.Unlock()

	body, err := c.makeAnnounceRequest(ctx, connId, req, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to make announce request: %w", err)
	}

	return body, nil
}

func (c *UDPClient) deadline(ctx context.Context) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	return time.Now().Add(c.timeout)
}

func (c *UDPClient) makeAnnounceRequest(ctx context.Context, connId uint64, req Request, conn net.Conn) ([]byte, error) {

	transactionId, err := newTransactionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate announce transaction ID: %w", err)
	}

	announceMsg := c.generateAnnounceMsg(transactionId, req, connId)

	conn.SetDeadline(c.deadline(ctx))

	n, err := conn.Write(announceMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to write announce request: %w", err)
	}
	if n != UDPPacketSize {
		return nil, fmt.Errorf("wrote %d bytes, expected %d bytes", n, UDPPacketSize)
	}

	announceBuffer := make([]byte, 4096)
	n, err = conn.Read(announceBuffer)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("announce timed out waiting for response from %s: %w", conn.RemoteAddr().String(), err)
		}
		return nil, fmt.Errorf("failed to read announce response: %w", err)
	}
	resp := announceBuffer[:n]

	if len(resp) < 8 {
		return nil, fmt.Errorf("announce response too short: got %d bytes, expected at least 8", len(resp))
	}

	action := Action(binary.BigEndian.Uint32(resp[0:4]))
	responseTransactionID := binary.BigEndian.Uint32(resp[4:8])

	if responseTransactionID != transactionId {
		return nil, fmt.Errorf("transaction id from response differs from sent id: expected %d, got %d", transactionId, responseTransactionID)
	}

	if action == ErrorAction {
		return nil, fmt.Errorf("tracker returned error: %s", string(resp[8:]))
	} else if action != AnnounceAction {
		return nil, fmt.Errorf("expected action announce, got %d", action)
	}

	if len(resp) < 20 {
		return nil, fmt.Errorf("tracker responded with %d bytes, expected at least 20 bytes", len(resp))
	}

	peerData := resp[20:]
	if len(peerData)%6 != 0 {
		return nil, fmt.Errorf("incomplete peer data received (%d bytes)", len(peerData))
	}

	root := parser.NewDict(
		"interval", parser.NewInteger(int64(binary.BigEndian.Uint32(resp[8:12]))),
		"incomplete", parser.NewInteger(int64(binary.BigEndian.Uint32(resp[12:16]))),
		"complete", parser.NewInteger(int64(binary.BigEndian.Uint32(resp[16:20]))),
		"peers", parser.NewBytes(peerData),
	)

	return root.Serialize()
}

func (c *UDPClient) makeConnectionRequest(ctx context.Context, conn net.Conn) (uint64, error) {

	transactionId, err := newTransactionID()
	if err != nil {
		return 0, fmt.Errorf("failed to generate connect transaction ID: %w", err)
	}

	msg := make([]byte, 16)
	binary.BigEndian.PutUint64(msg[0:8], ProtocolID)
	binary.BigEndian.PutUint32(msg[8:12], uint32(ConnectAction))
	binary.BigEndian.PutUint32(msg[12:16], transactionId)

	conn.SetDeadline(c.deadline(ctx))

	n, err := conn.Write(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to udp tracker: %w", err)
	}
	if n != 16 {
		return 0, fmt.Errorf("udp tracker wrote %d bytes, expected 16", n)
	}

	connectBuffer := make([]byte, 512)
	n, err = conn.Read(connectBuffer)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, fmt.Errorf("UDP connect timed out waiting for response from %s: %w", conn.RemoteAddr().String(), err)
		}
		return 0, fmt.Errorf("failed to read UDP connect response: %w", err)
	}

	if n < 8 {
		return 0, fmt.Errorf("UDP connect response too short: received %d bytes", n)
	}

	responseAction := Action(binary.BigEndian.Uint32(connectBuffer[0:4]))
	responseTransactionID := binary.BigEndian.Uint32(connectBuffer[4:8])

	if responseTransactionID != transactionId {
		return 0, fmt.Errorf("transaction id from response differs from sent id: expected %d, got %d", transactionId, responseTransactionID)
	}

	if responseAction != ConnectAction {
		if responseAction == ErrorAction {
			return 0, fmt.Errorf("tracker returned err message: %s", string(connectBuffer[8:n]))
		}
		return 0, fmt.Errorf("tracker responded with action %d, expected %d", responseAction, ConnectAction)
	}

	if n < 16 {
		return 0, fmt.Errorf("UDP connect response too short: received %d bytes, expected at least 16", n)
	}

	return binary.BigEndian.Uint64(connectBuffer[8:16]), nil
}

func (c *UDPClient) generateAnnounceMsg(transactionId uint32, req Request, connId uint64) []byte {

	var eventCode uint32 // none
	switch req.Event {
	case Started:
		eventCode = 2
	case Stopped:
		eventCode = 3
	}

	numWant := uint32(0xFFFFFFFF) // -1, tracker default
	if req.NumWant > 0 {
		numWant = uint32(req.NumWant)
	}

	announceMsg := make([]byte, UDPPacketSize)

	binary.BigEndian.PutUint64(announceMsg[0:8], connId)
	binary.BigEndian.PutUint32(announceMsg[8:12], uint32(AnnounceAction))
	binary.BigEndian.PutUint32(announceMsg[12:16], transactionId)
	copy(announceMsg[16:36], c.id.InfoHash[:])
	copy(announceMsg[36:56], c.id.PeerID[:])
	binary.BigEndian.PutUint64(announceMsg[56:64], c.id.Downloaded)
	binary.BigEndian.PutUint64(announceMsg[64:72], c.id.Left)
	binary.BigEndian.PutUint64(announceMsg[72:80], c.id.Uploaded)
	binary.BigEndian.PutUint32(announceMsg[80:84], eventCode)
	binary.BigEndian.PutUint32(announceMsg[84:88], 0) // ip, default
	binary.BigEndian.PutUint32(announceMsg[88:92], 0) // key
	binary.BigEndian.PutUint32(announceMsg[92:96], numWant)
	binary.BigEndian.PutUint16(announceMsg[96:98], c.id.Port)

	return announceMsg
}

func newTransactionID() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
