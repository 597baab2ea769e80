package dispatch

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/dcrodman/realm/internal/core/packets"
)

type fakeConnection struct {
	endpoint string

	mu           sync.Mutex
	sent         []packets.Packet
	disconnected bool
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{endpoint: "127.0.0.1:50000"}
}

func (c *fakeConnection) Endpoint() string { return c.endpoint }

func (c *fakeConnection) Send([]byte) error { return nil }

func (c *fakeConnection) SendPacket(pkt packets.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, pkt)
	return nil
}

func (c *fakeConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

type testGroup struct {
	packetHandlers  []PacketHandler
	commandHandlers []CommandHandler
}

func (g *testGroup) PacketHandlers() []PacketHandler   { return g.packetHandlers }
func (g *testGroup) CommandHandlers() []CommandHandler { return g.commandHandlers }

func countEntries(hook *test.Hook, level logrus.Level) int {
	n := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == level {
			n++
		}
	}
	return n
}

func newTestLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

// frame builds a frame with a valid header around body.
func frame(connType packets.RemoteConnectionType, packetID uint32, body []byte) []byte {
	f := []byte{packets.MessageClassUserPacket, byte(connType), byte(connType >> 8),
		byte(packetID), byte(packetID >> 8), byte(packetID >> 16), byte(packetID >> 24), 0}
	return append(f, body...)
}

