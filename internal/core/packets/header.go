// Package packets contains the frame header shared by every packet along with
// the packet definitions understood by all server types.
package packets

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	// HeaderSize is the length of the header preceding every packet body.
	HeaderSize = 8

	// MessageClassUserPacket marks a frame as belonging to the application
	// protocol rather than the transport's own control messages.
	MessageClassUserPacket uint8 = 0x53

	// GameMessagePacketID is the reserved packet ID of game message frames.
	GameMessagePacketID uint32 = 0x05

	// GameMessageHeaderSize is the object ID + message ID prefix of a game message body.
	GameMessageHeaderSize = 10
)

// RemoteConnectionType identifies the class of connection a packet is meant for.
type RemoteConnectionType uint16

const (
	General RemoteConnectionType = 0x00
	Auth    RemoteConnectionType = 0x01
	Chat    RemoteConnectionType = 0x02
	Server  RemoteConnectionType = 0x04
	Client  RemoteConnectionType = 0x05
)

func (t RemoteConnectionType) String() string {
	switch t {
	case General:
		return "General"
	case Auth:
		return "Auth"
	case Chat:
		return "Chat"
	case Server:
		return "Server"
	case Client:
		return "Client"
	default:
		return fmt.Sprintf("RemoteConnectionType(%d)", uint16(t))
	}
}

// LayerTypeHeader lets gopacket decode captured frames with the packet header.
var LayerTypeHeader = gopacket.RegisterLayerType(1453, gopacket.LayerTypeMetadata{
	Name:    "RealmHeader",
	Decoder: gopacket.DecodeFunc(decodeHeader),
})

// Header is the fixed size header at the start of every frame. The layout is:
//
//	0      message class (uint8)
//	1..2   remote connection type (uint16)
//	3..6   packet ID (uint32)
//	7      padding
type Header struct {
	layers.BaseLayer

	MessageClass   uint8
	ConnectionType RemoteConnectionType
	PacketID       uint32
}

func (h *Header) LayerType() gopacket.LayerType { return LayerTypeHeader }

func (h *Header) CanDecode() gopacket.LayerClass { return LayerTypeHeader }

func (h *Header) NextLayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

// DecodeFromBytes populates the header from the first HeaderSize bytes of data. The
// message class is not validated here since that's a protocol decision.
func (h *Header) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < HeaderSize {
		df.SetTruncated()
		return fmt.Errorf("frame of %d bytes is shorter than the %d byte header", len(data), HeaderSize)
	}

	h.MessageClass = data[0]
	h.ConnectionType = RemoteConnectionType(binary.LittleEndian.Uint16(data[1:3]))
	h.PacketID = binary.LittleEndian.Uint32(data[3:7])
	h.Contents = data[:HeaderSize]
	h.Payload = data[HeaderSize:]
	return nil
}

// SerializeTo prepends the header to the buffer.
func (h *Header) SerializeTo(b gopacket.SerializeBuffer, _ gopacket.SerializeOptions) error {
	bytes, err := b.PrependBytes(HeaderSize)
	if err != nil {
		return err
	}
	bytes[0] = h.MessageClass
	binary.LittleEndian.PutUint16(bytes[1:3], uint16(h.ConnectionType))
	binary.LittleEndian.PutUint32(bytes[3:7], h.PacketID)
	bytes[7] = 0
	return nil
}

func decodeHeader(data []byte, p gopacket.PacketBuilder) error {
	h := &Header{}
	if err := h.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(h)
	return p.NextDecoder(h.NextLayerType())
}
