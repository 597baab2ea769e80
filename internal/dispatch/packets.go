package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/google/gopacket"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/realm/internal/core/bytes"
	archdebug "github.com/dcrodman/realm/internal/core/debug"
	"github.com/dcrodman/realm/internal/core/metrics"
	"github.com/dcrodman/realm/internal/core/packets"
)

// PacketDispatcher routes frames to the handlers in a Registry. Game messages
// go to Messages instead.
type PacketDispatcher struct {
	Registry *Registry
	Messages *GameMessageStream
	Logger   logrus.FieldLogger
	Metrics  *metrics.Metrics
	// Dump every decoded packet at debug level.
	PacketLogging bool
}

// HandleFrame decodes one frame received from conn and invokes its handler.
//
// Only a frame without a valid header produces an error (*ProtocolError). Frames
// with no handler, bodies that fail to decode and failing handlers are logged and
// dropped so that one bad packet never costs the client its connection.
func (d *PacketDispatcher) HandleFrame(ctx context.Context, conn Connection, frame []byte, reliability Reliability) error {
	header := &packets.Header{}
	if err := header.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		d.Metrics.PacketDispatched(metrics.PacketRejected)
		return &ProtocolError{Err: err}
	}
	if header.MessageClass != packets.MessageClassUserPacket {
		d.Metrics.PacketDispatched(metrics.PacketRejected)
		return &ProtocolError{MessageClass: header.MessageClass}
	}

	logger := d.Logger.WithFields(logrus.Fields{
		"endpoint":    conn.Endpoint(),
		"packet_id":   fmt.Sprintf("0x%x", header.PacketID),
		"reliability": reliability,
	})

	if header.PacketID == packets.GameMessagePacketID {
		d.publishGameMessage(ctx, logger, conn, header.Payload)
		return nil
	}

	handler, ok := d.Registry.PacketHandler(header.ConnectionType, header.PacketID)
	if !ok {
		d.Metrics.PacketDispatched(metrics.PacketUnhandled)
		logger.Warnf("no handler registered for packet %v:0x%x", header.ConnectionType, header.PacketID)
		return nil
	}

	if err := d.handle(ctx, logger, handler, header, conn); err != nil {
		d.Metrics.PacketDispatched(metrics.PacketFailed)
		logger.Errorf("error handling packet: %v", err)
		return nil
	}
	d.Metrics.PacketDispatched(metrics.PacketHandled)
	return nil
}

func (d *PacketDispatcher) handle(
	ctx context.Context,
	logger logrus.FieldLogger,
	handler PacketHandler,
	header *packets.Header,
	conn Connection,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v, trace: %s", r, debug.Stack())
		}
	}()

	pkt := handler.New()
	if err := packets.Unmarshal(header.Payload, pkt); err != nil {
		return &DecodeError{ConnectionType: header.ConnectionType, PacketID: header.PacketID, Err: err}
	}

	logger.Debugf("received %T", pkt)
	if d.PacketLogging {
		logger.Debug(archdebug.DumpPacket(pkt))
	}

	return handler.Handle(ctx, pkt, conn)
}

func (d *PacketDispatcher) publishGameMessage(ctx context.Context, logger logrus.FieldLogger, conn Connection, body []byte) {
	r := bytes.NewBitReader(body)
	objectID, err := r.ReadInt64()
	if err != nil {
		d.Metrics.PacketDispatched(metrics.PacketFailed)
		logger.Errorf("truncated game message: %v", err)
		return
	}
	messageID, err := r.ReadUint16()
	if err != nil {
		d.Metrics.PacketDispatched(metrics.PacketFailed)
		logger.Errorf("truncated game message: %v", err)
		return
	}

	d.Metrics.PacketDispatched(metrics.PacketHandled)
	d.Metrics.GameMessagePublished()
	if d.Messages != nil {
		d.Messages.Publish(ctx, objectID, messageID, body[packets.GameMessageHeaderSize:], conn)
	}
}
