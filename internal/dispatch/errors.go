package dispatch

import (
	"fmt"

	"github.com/dcrodman/realm/internal/core/packets"
)

// ProtocolError is returned for frames that don't carry a valid header. The
// frame is dropped but the connection is left alone.
type ProtocolError struct {
	MessageClass uint8
	Err          error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %v", e.Err)
	}
	return fmt.Sprintf("protocol error: message class 0x%02x is not a user packet", e.MessageClass)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// DecodeError describes a packet body that couldn't be decoded into the type
// registered for it.
type DecodeError struct {
	ConnectionType packets.RemoteConnectionType
	PacketID       uint32
	Err            error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("error decoding packet %v:0x%x: %v", e.ConnectionType, e.PacketID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// PermissionDenied is the reply to a command the caller's level doesn't allow.
const PermissionDenied = "You don't have permission to run this command"
