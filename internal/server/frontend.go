package server

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/realm/internal/core/client"
	"github.com/dcrodman/realm/internal/core/data"
	"github.com/dcrodman/realm/internal/dispatch"
	"github.com/dcrodman/realm/internal/session"
)

// Frames larger than this are treated as a broken connection.
const maxFrameSize = 1 << 20

// acceptConnections implements a connection handling loop that's purely responsible
// for accepting new connections and spinning off goroutines to handle them. It
// returns once ctx is cancelled and every connection has closed.
func (s *Server) acceptConnections(ctx context.Context, listener net.Listener) {
	s.Logger.Infof("[%s] waiting for connections on %v", s.Specification.ServerType, listener.Addr())

	connections := make(chan net.Conn)
	go func() {
		for {
			connection, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					close(connections)
					return
				}
				s.Logger.Warnf("failed to accept connection: %s", err.Error())
				continue
			}

			select {
			case connections <- connection:
			case <-ctx.Done():
				_ = connection.Close()
			}
		}
	}()

	clientWg := &sync.WaitGroup{}
handleLoop:
	for {
		select {
		case <-ctx.Done():
			break handleLoop
		case connection, ok := <-connections:
			if !ok {
				break handleLoop
			}
			if limit := s.Config.MaxConnections; limit > 0 && s.connections.Load() >= int64(limit) {
				s.Logger.Warnf("rejected connection from %s: server is full", connection.RemoteAddr())
				_ = connection.Close()
				continue
			}
			s.connections.Add(1)
			clientWg.Add(1)
			go s.acceptClient(ctx, connection, clientWg)
		}
	}

	_ = listener.Close()
	s.Logger.Infof("[%v] shutting down (waiting for connections to close)", s.Specification.ServerType)
	clientWg.Wait()
	s.Logger.Infof("[%v] exited", s.Specification.ServerType)
}

// acceptClient wraps the connection in a Client and reads its frames until the
// connection closes or the server stops.
func (s *Server) acceptClient(ctx context.Context, connection net.Conn, wg *sync.WaitGroup) {
	defer wg.Done()

	c := client.NewClient(connection)
	s.Metrics.ClientConnected()
	s.reportUserCount()
	s.Logger.Infof("accepted connection from %s", c.Endpoint())

	s.processFrames(ctx, c)
}

// processFrames starts a blocking loop dedicated to reading frames sent from a
// client and only returns once the connection has closed. Frames from one
// client are dispatched in the order they arrive.
func (s *Server) processFrames(ctx context.Context, c *client.Client) {
	defer s.closeConnectionAndRecover(c)

	// Unblock the pending read when the server stops. A frame that is already
	// being dispatched runs to completion.
	stopRead := context.AfterFunc(ctx, func() { _ = c.SetReadDeadline(time.Now()) })
	defer stopRead()
	dispatchCtx := context.WithoutCancel(ctx)

	logger := s.Logger.WithField("endpoint", c.Endpoint())
	for {
		frame, err := readFrame(c)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				logger.Warn(err.Error())
			}
			return
		}
		if !s.Running() {
			return
		}

		err = s.Packets.HandleFrame(dispatchCtx, c, frame, dispatch.ReliableOrdered)
		var protocolErr *dispatch.ProtocolError
		if errors.As(err, &protocolErr) {
			logger.Warnf("dropped frame: %v", err)
		} else if err != nil {
			logger.Errorf("error handling frame: %v", err)
		}
	}
}

// closeConnectionAndRecover is the failsafe that catches any panics, disconnects the
// client, and destroys its session regardless of the state of the connection.
func (s *Server) closeConnectionAndRecover(c *client.Client) {
	if err := recover(); err != nil {
		s.Logger.Errorf("error in client communication with %s: error=%s, trace: %s",
			c.Endpoint(), err, debug.Stack())
	}

	if err := c.Disconnect(); err != nil {
		s.Logger.Warnf("failed to close client connection: %s", err)
	}

	// The server's context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Sessions.DeleteSession(ctx, c.Endpoint()); err != nil && !errors.Is(err, session.ErrNotBound) {
		s.Logger.Warnf("failed to delete session for %s: %v", c.Endpoint(), err)
	}

	s.connections.Add(-1)
	s.Metrics.ClientDisconnected()
	s.reportUserCount()
	s.Logger.Infof("disconnected client %s", c.Endpoint())
}

// reportUserCount records the number of connected clients on the server's
// specification so that allocators can tell whether it has capacity.
func (s *Server) reportUserCount() {
	count := int(s.connections.Load())
	if err := data.UpdateActiveUserCount(s.DB, s.ID, count); err != nil {
		s.Logger.Warnf("failed to update active user count: %v", err)
	}
}

// readFrame is a blocking call that only returns once the client has sent a
// complete frame.
func readFrame(r io.Reader) ([]byte, error) {
	var prefix [client.FramePrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	size := binary.LittleEndian.Uint32(prefix[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds the %d byte limit", size, maxFrameSize)
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, fmt.Errorf("socket error: %w", err)
	}
	return frame, nil
}

// readConsole runs each line read from the console as a command with console
// permissions until ctx is cancelled or the console is closed.
func (s *Server) readConsole(ctx context.Context) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.Console)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			s.Logger.Warnf("error reading console: %v", err)
		}
	}()

	s.Logger.Info("ready to accept console commands...")
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			s.runConsoleCommand(ctx, line)
		}
	}
}

func (s *Server) runConsoleCommand(ctx context.Context, line string) {
	out, err := s.Commands.HandleCommand(ctx, line, nil, dispatch.Console)
	if err != nil {
		s.Logger.WithFields(logrus.Fields{"command": line}).Errorf("command failed: %v", err)
		out = fmt.Sprintf("error: %v\n", err)
	}
	if out == "" || s.ConsoleOutput == nil {
		return
	}
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	_, _ = io.WriteString(s.ConsoleOutput, out)
}
