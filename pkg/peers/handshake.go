package peer

import (
	"bytes"
	"errors"
	"io"
)

const (
	protocolName = "BitTorrent protocol"
	handshakeLen = 68
)

var (
	ErrBadHandshake     = errors.New("peer: peer sent incorrect handshake")
	ErrInfoHashMismatch = errors.New("peer: info hash sent by peer doesn't match ours")
)

func buildHandshake(infohash, clientID [20]byte) []byte {
	var handshake bytes.Buffer
	handshake.Grow(handshakeLen)
	handshake.WriteByte(byte(len(protocolName)))
	handshake.WriteString(protocolName)
	handshake.Write(make([]byte, 8))
	handshake.Write(infohash[:])
	handshake.Write(clientID[:])
	return handshake.Bytes()
}

// exchangeHandshake writes ours, reads the peer's and returns its peer id.
func exchangeHandshake(rw io.ReadWriter, infohash, clientID [20]byte) ([20]byte, error) {
	var peerID [20]byte

	ours := buildHandshake(infohash, clientID)
	if _, err := rw.Write(ours); err != nil {
		return peerID, err
	}

	theirs := make([]byte, handshakeLen)
	if _, err := io.ReadFull(rw, theirs); err != nil {
		return peerID, err
	}
	if !bytes.Equal(theirs[0:20], ours[0:20]) {
		return peerID, ErrBadHandshake
	}
	if !bytes.Equal(theirs[28:48], ours[28:48]) {
		return peerID, ErrInfoHashMismatch
	}

	copy(peerID[:], theirs[48:68])
	return peerID, nil
}
