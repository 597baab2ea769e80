package dispatch

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/realm/internal/core/packets"
)

func TestNewRegistry_PacketOverwrite(t *testing.T) {
	logger, hook := newTestLogger()

	var invoked []string
	first := HandlePacket(func(ctx context.Context, pkt *packets.Handshake, conn Connection) error {
		invoked = append(invoked, "first")
		return nil
	})
	second := HandlePacket(func(ctx context.Context, pkt *packets.Handshake, conn Connection) error {
		invoked = append(invoked, "second")
		return nil
	})

	registry := NewRegistry(logger,
		&testGroup{packetHandlers: []PacketHandler{first}},
		&testGroup{packetHandlers: []PacketHandler{second}},
	)
	if got := countEntries(hook, logrus.WarnLevel); got != 1 {
		t.Errorf("expected one overwrite warning, got %d", got)
	}

	handler, ok := registry.PacketHandler(packets.General, packets.HandshakeType)
	if !ok {
		t.Fatal("expected a handler for the handshake")
	}
	if err := handler.Handle(context.Background(), handler.New(), newFakeConnection()); err != nil {
		t.Fatalf("Handle() returned an unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"second"}, invoked); diff != "" {
		t.Errorf("unexpected handlers invoked; diff:\n%s", diff)
	}
}

func TestPacketHandler_For(t *testing.T) {
	logger, _ := newTestLogger()
	handler := HandlePacket(func(ctx context.Context, pkt *packets.Handshake, conn Connection) error {
		return nil
	}).For(packets.Auth, 0x42)

	registry := NewRegistry(logger, &testGroup{packetHandlers: []PacketHandler{handler}})

	if _, ok := registry.PacketHandler(packets.General, packets.HandshakeType); ok {
		t.Error("expected the packet's default key to be unused")
	}
	if _, ok := registry.PacketHandler(packets.Auth, 0x42); !ok {
		t.Error("expected the handler under the overridden key")
	}
}

func TestNewRegistry_Commands(t *testing.T) {
	logger, hook := newTestLogger()
	noop := func(ctx context.Context, args []string) (Result, error) { return Done, nil }

	registry := NewRegistry(logger, &testGroup{commandHandlers: []CommandHandler{
		{Prefix: '!', Signature: "zone", Args: noop},
		{Prefix: '!', Signature: "Help", Args: noop},
		{Prefix: '/', Signature: "stop", Args: noop},
		{Prefix: '!', Signature: "ZONE", Args: noop, Help: "replacement"},
		{Prefix: '!', Signature: "broken"},
	}})

	// One for the overwritten zone command, one for the command without a callback.
	if got := countEntries(hook, logrus.WarnLevel); got != 2 {
		t.Errorf("expected two warnings, got %d", got)
	}

	h, ok := registry.Command('!', "Zone")
	if !ok || h.Help != "replacement" {
		t.Errorf("Command(!, Zone) = %+v, %v; want the replacement handler", h, ok)
	}
	if _, ok := registry.Command('/', "zone"); ok {
		t.Error("expected prefixes to be matched exactly")
	}
	if _, ok := registry.Command('!', "broken"); ok {
		t.Error("expected a command without a callback to be skipped")
	}

	var signatures []string
	for _, h := range registry.Commands('!') {
		signatures = append(signatures, h.Signature)
	}
	if diff := cmp.Diff([]string{"Help", "ZONE"}, signatures); diff != "" {
		t.Errorf("unexpected command listing; diff:\n%s", diff)
	}
}

func TestGameMasterLevel_Order(t *testing.T) {
	levels := []GameMasterLevel{Player, Mythran, Moderator, Admin, Operator, Console}
	for i := 1; i < len(levels); i++ {
		if levels[i-1] >= levels[i] {
			t.Errorf("expected %v < %v", levels[i-1], levels[i])
		}
	}
	if Operator.String() != "Operator" {
		t.Errorf("Operator.String() = %s", Operator.String())
	}
}
