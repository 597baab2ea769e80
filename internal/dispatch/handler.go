package dispatch

import (
	"context"

	"github.com/dcrodman/realm/internal/core/packets"
)

// HandlerGroup declares the packet and command handlers provided by one part
// of a server. Groups are read once when the Registry is built.
type HandlerGroup interface {
	PacketHandlers() []PacketHandler
	CommandHandlers() []CommandHandler
}

// PacketHandler binds a callback to a packet type. The key is taken from the
// packet returned by New unless ConnectionType or PacketID override it.
type PacketHandler struct {
	ConnectionType *packets.RemoteConnectionType
	PacketID       *uint32

	// New returns an empty instance that a frame's body is decoded into.
	New    func() packets.Packet
	Handle func(ctx context.Context, pkt packets.Packet, conn Connection) error
}

// HandlePacket builds a PacketHandler for packets of type *T.
func HandlePacket[T any, PT interface {
	*T
	packets.Packet
}](fn func(ctx context.Context, pkt PT, conn Connection) error) PacketHandler {
	return PacketHandler{
		New: func() packets.Packet { return PT(new(T)) },
		Handle: func(ctx context.Context, pkt packets.Packet, conn Connection) error {
			return fn(ctx, pkt.(PT), conn)
		},
	}
}

// For returns a copy of h registered under the given key instead of the
// packet's own.
func (h PacketHandler) For(connType packets.RemoteConnectionType, packetID uint32) PacketHandler {
	h.ConnectionType = &connType
	h.PacketID = &packetID
	return h
}

func (h PacketHandler) key() packetKey {
	prototype := h.New()
	k := packetKey{connType: prototype.RemoteConnectionType(), packetID: prototype.PacketID()}
	if h.ConnectionType != nil {
		k.connType = *h.ConnectionType
	}
	if h.PacketID != nil {
		k.packetID = *h.PacketID
	}
	return k
}

// CommandHandler binds a text command to a callback. Exactly one of Console,
// Args or ArgsCaller should be set; which one decides what the callback receives.
type CommandHandler struct {
	Prefix    rune
	Signature string
	Level     GameMasterLevel
	Help      string

	Console    func(ctx context.Context) (Result, error)
	Args       func(ctx context.Context, args []string) (Result, error)
	ArgsCaller func(ctx context.Context, args []string, caller Connection) (Result, error)
}

// ConsoleEligible reports whether the command can run without a connected caller.
func (h CommandHandler) ConsoleEligible() bool {
	return h.ArgsCaller == nil
}

func (h CommandHandler) invoke(ctx context.Context, args []string, caller Connection) (Result, error) {
	switch {
	case h.Console != nil:
		return h.Console(ctx)
	case h.Args != nil:
		return h.Args(ctx, args)
	default:
		return h.ArgsCaller(ctx, args, caller)
	}
}

// Result is the value a command returns. Use Text, Await or Done.
type Result interface {
	resolve(ctx context.Context) (string, error)
}

// Text is a reply that is returned as is.
type Text string

func (t Text) resolve(context.Context) (string, error) { return string(t), nil }

type pending <-chan string

// Await returns a Result whose reply is the first value received from ch.
func Await(ch <-chan string) Result { return pending(ch) }

func (p pending) resolve(ctx context.Context) (string, error) {
	select {
	case s := <-p:
		return s, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type done struct{}

// Done is returned by commands that finish without a reply.
var Done Result = done{}

func (done) resolve(context.Context) (string, error) { return "", nil }
