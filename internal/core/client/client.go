package client

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dcrodman/realm/internal/core/packets"
)

// FramePrefixSize is the length of the little endian uint32 that precedes every
// frame on the wire.
const FramePrefixSize = 4

// Client represents a connected game client.
type Client struct {
	connection net.Conn
	endpoint   string

	// Writes from concurrent handlers must not interleave.
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewClient(connection net.Conn) *Client {
	return &Client{
		connection: connection,
		endpoint:   connection.RemoteAddr().String(),
	}
}

// Endpoint returns the remote address of the client in host:port form. It
// uniquely identifies the connection for as long as it is open.
func (c *Client) Endpoint() string { return c.endpoint }

// Read consumes the available bytes directly from the client's connection.
func (c *Client) Read(b []byte) (int, error) {
	return c.connection.Read(b)
}

// Write directly sends data to the client over its connection.
func (c *Client) Write(bytes []byte) (int, error) {
	return c.connection.Write(bytes)
}

// SetReadDeadline sets the deadline for pending and future Read calls.
func (c *Client) SetReadDeadline(t time.Time) error {
	return c.connection.SetReadDeadline(t)
}

// Send writes data to the client as a single frame.
func (c *Client) Send(data []byte) error {
	frame := make([]byte, FramePrefixSize+len(data))
	binary.LittleEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[FramePrefixSize:], data)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transmit(frame)
}

// SendPacket serializes packet (header included) and sends it as one frame.
func (c *Client) SendPacket(packet packets.Packet) error {
	data, err := packets.Marshal(packet)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// transmit writes the contents of data to the connection until every byte is sent.
func (c *Client) transmit(data []byte) error {
	bytesSent := 0

	for bytesSent < len(data) {
		b, err := c.Write(data[bytesSent:])
		if err != nil {
			return fmt.Errorf("failed to send to client %v: %w", c.Endpoint(), err)
		}
		bytesSent += b
	}

	return nil
}

// Disconnect closes the connection. Subsequent calls are no-ops.
func (c *Client) Disconnect() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.connection.Close()
	})
	return c.closeErr
}
