// Packets understood by every server type.

package packets

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dcrodman/realm/internal/core/bytes"
)

const (
	HandshakeType        uint32 = 0x00
	DisconnectNotifyType uint32 = 0x01
	ServerMessageType    uint32 = 0x02
)

// GameVersion is the client version expected in the handshake.
const GameVersion uint32 = 171022

// DisconnectReason is sent to a client in DisconnectNotify before closing the connection.
type DisconnectReason uint32

const (
	DisconnectUnknownError DisconnectReason = iota
	DisconnectDuplicateLogin
	_
	_
	DisconnectServerShutdown
	DisconnectServerMapLoadFailure
	DisconnectInvalidSessionKey
)

// Handshake is the first packet exchanged on every connection. The client sends
// its version and the server answers with its own.
type Handshake struct {
	GameVersion    uint32
	Unknown        uint32
	ConnectionType uint32
	ProcessID      uint32
	Port           uint16
}

func (*Handshake) RemoteConnectionType() RemoteConnectionType { return General }
func (*Handshake) PacketID() uint32                           { return HandshakeType }

type DisconnectNotify struct {
	Reason DisconnectReason
}

func (*DisconnectNotify) RemoteConnectionType() RemoteConnectionType { return General }
func (*DisconnectNotify) PacketID() uint32                           { return DisconnectNotifyType }

// ServerMessage is text shown to the client, such as the reason it's about to be
// disconnected. The body is a uint16 length followed by that many bytes of UTF-8.
type ServerMessage struct {
	Text string
}

func (*ServerMessage) RemoteConnectionType() RemoteConnectionType { return General }
func (*ServerMessage) PacketID() uint32                           { return ServerMessageType }

func (m *ServerMessage) Serialize() ([]byte, error) {
	if len(m.Text) > math.MaxUint16 {
		return nil, fmt.Errorf("message of %d bytes is too long", len(m.Text))
	}
	b := make([]byte, 2+len(m.Text))
	binary.LittleEndian.PutUint16(b, uint16(len(m.Text)))
	copy(b[2:], m.Text)
	return b, nil
}

func (m *ServerMessage) Deserialize(r *bytes.BitReader) error {
	n, err := r.ReadUint16()
	if err != nil {
		return err
	}
	text, err := r.ReadBytes(int(n))
	if err != nil {
		return err
	}
	m.Text = string(text)
	return nil
}
