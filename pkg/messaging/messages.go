package messaging

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type MessageType uint8

const (
	ConnectivityEstablished MessageType = iota
	PeerConnected
	PeerDisconnected
	SeederRequested
	Error
)

func (t MessageType) String() string {
	switch t {
	case ConnectivityEstablished:
		return "connectivity-established"
	case PeerConnected:
		return "peer-connected"
	case PeerDisconnected:
		return "peer-disconnected"
	case SeederRequested:
		return "seeder-requested"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

type Message struct {
	Id          string
	SourceId    string
	ReplyTo     string
	Topic       string
	PayloadType MessageType
	Payload     any
	CreatedAt   time.Time
}

func NewMessage(sourceId, topic string, payloadType MessageType, payload any) Message {
	return Message{
		Id:          uuid.NewString(),
		SourceId:    sourceId,
		Topic:       topic,
		PayloadType: payloadType,
		Payload:     payload,
		CreatedAt:   time.Now(),
	}
}

type ConnectivityPayload struct {
	StreamHash string
	Tracker    string
}

type PeerPayload struct {
	Addr       string
	StreamHash string
}

type SeederRequestPayload struct {
	StreamHash string
}

type ErrorPayload struct {
	Message     string
	Critical    bool
	ComponentId string
}
