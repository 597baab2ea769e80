package server

import (
	"context"
	"fmt"
	"os"

	"github.com/dcrodman/realm/internal/core/data"
	"github.com/dcrodman/realm/internal/core/packets"
	"github.com/dcrodman/realm/internal/dispatch"
)

// coreHandlers are registered by every server ahead of the caller's groups.
type coreHandlers struct {
	server *Server
}

func (h *coreHandlers) PacketHandlers() []dispatch.PacketHandler {
	return []dispatch.PacketHandler{
		dispatch.HandlePacket(h.handleHandshake),
	}
}

func (h *coreHandlers) CommandHandlers() []dispatch.CommandHandler {
	return []dispatch.CommandHandler{
		{
			Prefix:    '/',
			Signature: "stop",
			Level:     dispatch.Operator,
			Help:      "Stop the server",
			Console:   h.stop,
		},
		{
			Prefix:    '/',
			Signature: "sessions",
			Level:     dispatch.Moderator,
			Help:      "Show the number of connected clients",
			Console:   h.sessions,
		},
		{
			Prefix:    '/',
			Signature: "version",
			Level:     dispatch.Player,
			Help:      "Show the server version",
			Console:   h.version,
		},
	}
}

// handleHandshake answers a client's handshake with the server's own. Clients
// running a different game version are disconnected.
func (h *coreHandlers) handleHandshake(ctx context.Context, pkt *packets.Handshake, conn dispatch.Connection) error {
	if pkt.GameVersion != packets.GameVersion {
		h.server.Logger.Warnf("client %s has game version %d, expected %d",
			conn.Endpoint(), pkt.GameVersion, packets.GameVersion)
		notice := &packets.ServerMessage{
			Text: fmt.Sprintf("Client version %d is not supported, please update to %d.", pkt.GameVersion, packets.GameVersion),
		}
		if err := conn.SendPacket(notice); err != nil {
			return err
		}
		if err := conn.SendPacket(&packets.DisconnectNotify{Reason: packets.DisconnectUnknownError}); err != nil {
			return err
		}
		return conn.Disconnect()
	}

	return conn.SendPacket(&packets.Handshake{
		GameVersion:    packets.GameVersion,
		ConnectionType: uint32(h.connectionType()),
		ProcessID:      uint32(os.Getpid()),
		Port:           uint16(h.server.Port()),
	})
}

func (h *coreHandlers) connectionType() packets.RemoteConnectionType {
	if h.server.Specification != nil && h.server.Specification.ServerType == data.ServerTypeAuthentication {
		return packets.Auth
	}
	return packets.Server
}

func (h *coreHandlers) stop(context.Context) (dispatch.Result, error) {
	h.server.Stop()
	return dispatch.Text("stopping server"), nil
}

func (h *coreHandlers) sessions(context.Context) (dispatch.Result, error) {
	return dispatch.Text(fmt.Sprintf("%d connected clients, %d with a session",
		h.server.connections.Load(), h.server.Sessions.Bindings())), nil
}

func (h *coreHandlers) version(context.Context) (dispatch.Result, error) {
	return dispatch.Text(fmt.Sprintf("realm %s", Version)), nil
}
