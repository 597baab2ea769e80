package dispatch

import "github.com/dcrodman/realm/internal/core/packets"

// Connection is the transport endpoint a frame or command arrived on.
type Connection interface {
	// Endpoint identifies the connection for as long as it's open.
	Endpoint() string
	// Send writes data to the connection as one frame.
	Send(data []byte) error
	SendPacket(pkt packets.Packet) error
	Disconnect() error
}

// Reliability is the delivery guarantee the transport gave a frame.
type Reliability uint8

const (
	Unreliable Reliability = iota
	UnreliableSequenced
	Reliable
	ReliableOrdered
)

func (r Reliability) String() string {
	switch r {
	case Unreliable:
		return "Unreliable"
	case UnreliableSequenced:
		return "UnreliableSequenced"
	case Reliable:
		return "Reliable"
	case ReliableOrdered:
		return "ReliableOrdered"
	default:
		return "Unknown"
	}
}
