package packets

import (
	"fmt"

	"github.com/google/gopacket"

	"github.com/dcrodman/realm/internal/core/bytes"
)

// Packet is implemented by every packet body. The key it reports is the
// default used when the packet is registered with a handler.
type Packet interface {
	RemoteConnectionType() RemoteConnectionType
	PacketID() uint32
}

// Deserializer is implemented by packets whose layout can't be expressed as a
// struct of fixed-size fields. Other packets are decoded field-by-field.
type Deserializer interface {
	Deserialize(r *bytes.BitReader) error
}

// Serializer is the encoding counterpart to Deserializer.
type Serializer interface {
	Serialize() ([]byte, error)
}

// Unmarshal decodes a packet body (the bytes after the header) into pkt.
func Unmarshal(body []byte, pkt Packet) error {
	if d, ok := pkt.(Deserializer); ok {
		return d.Deserialize(bytes.NewBitReader(body))
	}
	return bytes.StructFromBytes(body, pkt)
}

// Marshal converts pkt to a complete frame, header included.
func Marshal(pkt Packet) ([]byte, error) {
	var body []byte
	var err error
	if s, ok := pkt.(Serializer); ok {
		body, err = s.Serialize()
	} else {
		body, err = bytes.BytesFromStruct(pkt)
	}
	if err != nil {
		return nil, fmt.Errorf("serializing %T: %w", pkt, err)
	}

	header := &Header{
		MessageClass:   MessageClassUserPacket,
		ConnectionType: pkt.RemoteConnectionType(),
		PacketID:       pkt.PacketID(),
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, header, gopacket.Payload(body)); err != nil {
		return nil, fmt.Errorf("serializing %T: %w", pkt, err)
	}
	return buf.Bytes(), nil
}
