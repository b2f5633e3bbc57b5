package peer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

type MessageType uint8

const (
	Choke         MessageType = 0x00
	Unchoke       MessageType = 0x01
	Interested    MessageType = 0x02
	NotInterested MessageType = 0x03
	Have          MessageType = 0x04
	Bitfield      MessageType = 0x05
	Request       MessageType = 0x06
	Piece         MessageType = 0x07
	Cancel        MessageType = 0x08
	Port          MessageType = 0x09 // DHT
	Subscribe     MessageType = 0x14 // live extension, payload is the stream hash
	KeepAlive     MessageType = 0xff // NOT PROTOCOL-COMPLIANT, FOR INTERNAL USE ONLY
)

func (t MessageType) String() string {
	switch t {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not-interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case Port:
		return "port"
	case Subscribe:
		return "subscribe"
	case KeepAlive:
		return "keep-alive"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

const maxMessageLen = 1 << 20

var ErrMessageTooLarge = errors.New("peer: message exceeds size limit")

type Message struct {
	Type    MessageType
	Payload []byte
}

func generateNoPayloadMsg(msgType MessageType) []byte {
	switch msgType {
	case KeepAlive:
		return make([]byte, 4)
	default:
		buf := make([]byte, 5) // 4 bytes for length prefix + 1 byte for message id
		binary.BigEndian.PutUint32(buf, 1)
		buf[4] = byte(msgType)
		return buf
	}
}

func generateSubscribeMsg(streamHash string) []byte {
	buf := make([]byte, 5+len(streamHash))
	binary.BigEndian.PutUint32(buf, uint32(1+len(streamHash)))
	buf[4] = byte(Subscribe)
	copy(buf[5:], streamHash)
	return buf
}

// readMessage reads one length-prefixed frame. A zero length is a
// keep-alive.
func readMessage(r io.Reader) (Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Message{}, err
	}
	msgLen := binary.BigEndian.Uint32(prefix[:])
	if msgLen == 0 {
		return Message{Type: KeepAlive}, nil
	}
	if msgLen > maxMessageLen {
		return Message{}, fmt.Errorf("%d bytes: %w", msgLen, ErrMessageTooLarge)
	}

	body := make([]byte, msgLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, err
	}
	return Message{Type: MessageType(body[0]), Payload: body[1:]}, nil
}
