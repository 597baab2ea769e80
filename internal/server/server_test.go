package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-test/deep"
	"github.com/google/gopacket"
	"github.com/sirupsen/logrus/hooks/test"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dcrodman/realm/internal/core"
	"github.com/dcrodman/realm/internal/core/certs"
	"github.com/dcrodman/realm/internal/core/client"
	"github.com/dcrodman/realm/internal/core/data"
	"github.com/dcrodman/realm/internal/core/packets"
	"github.com/dcrodman/realm/internal/dispatch"
)

func setUpDatabase(t *testing.T) *gorm.DB {
	testDBFile := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(testDBFile), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("error initializing test database: %s", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("error getting database handle: %s", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err = db.AutoMigrate(data.Models()...); err != nil {
		t.Fatalf("error auto migrating db: %s", err)
	}
	t.Cleanup(func() { _ = data.Close(db) })
	return db
}

// syncBuffer is a bytes.Buffer that the console goroutine can write to while
// the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testServer struct {
	*Server
	console io.WriteCloser
	output  *syncBuffer
	done    chan error
}

func newTestConfig() *core.Config {
	cfg := &core.Config{Hostname: "127.0.0.1", MaxConnections: 10}
	cfg.WorldAllocation.PollInterval = 5 * time.Millisecond
	cfg.WorldAllocation.Timeout = time.Second
	return cfg
}

// createSpecification stores a world server specification on an ephemeral port.
func createSpecification(t *testing.T, db *gorm.DB) *data.ServerSpecification {
	spec := &data.ServerSpecification{ServerType: data.ServerTypeWorld, ZoneID: 1000, MaxUserCount: 10}
	if err := data.CreateSpecification(db, spec); err != nil {
		t.Fatalf("error creating specification: %v", err)
	}
	return spec
}

func startTestServer(t *testing.T, db *gorm.DB, cfg *core.Config, id string, groups ...dispatch.HandlerGroup) *testServer {
	logger, _ := test.NewNullLogger()
	s := New(id, cfg, logger)
	s.DB = db

	consoleReader, consoleWriter := io.Pipe()
	s.Console = consoleReader
	output := &syncBuffer{}
	s.ConsoleOutput = output

	if err := s.Configure(context.Background()); err != nil {
		t.Fatalf("Configure() returned an unexpected error: %v", err)
	}

	ts := &testServer{Server: s, console: consoleWriter, output: output, done: make(chan error, 1)}
	go func() { ts.done <- s.Start(context.Background(), groups...) }()
	t.Cleanup(func() {
		s.Stop()
		_ = consoleWriter.Close()
		<-ts.done
	})

	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the server to start")
	}
	return ts
}

func (ts *testServer) dial(t *testing.T) net.Conn {
	conn, err := net.Dial("tcp", ts.Addr().String())
	if err != nil {
		t.Fatalf("error connecting to server: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (ts *testServer) command(t *testing.T, line string) {
	if _, err := io.WriteString(ts.console, line+"\n"); err != nil {
		t.Fatalf("error writing to console: %v", err)
	}
}

func writeFrame(t *testing.T, conn net.Conn, frame []byte) {
	prefix := make([]byte, client.FramePrefixSize)
	binary.LittleEndian.PutUint32(prefix, uint32(len(frame)))
	if _, err := conn.Write(append(prefix, frame...)); err != nil {
		t.Fatalf("error writing frame: %v", err)
	}
}

func sendPacket(t *testing.T, conn net.Conn, pkt packets.Packet) {
	frame, err := packets.Marshal(pkt)
	if err != nil {
		t.Fatalf("error marshaling packet: %v", err)
	}
	writeFrame(t, conn, frame)
}

func readPacket(t *testing.T, conn net.Conn, pkt packets.Packet) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	frame, err := readFrame(conn)
	if err != nil {
		t.Fatalf("error reading frame: %v", err)
	}
	header := &packets.Header{}
	if err := header.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		t.Fatalf("error decoding header: %v", err)
	}
	if header.PacketID != pkt.PacketID() {
		t.Fatalf("expected packet 0x%x, got 0x%x", pkt.PacketID(), header.PacketID)
	}
	if err := packets.Unmarshal(header.Payload, pkt); err != nil {
		t.Fatalf("error decoding packet: %v", err)
	}
}

func eventually(t *testing.T, condition func() bool, msg string) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestServer_Configure_MissingSpecification(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := New("missing", newTestConfig(), logger)
	s.DB = setUpDatabase(t)

	if err := s.Configure(context.Background()); !errors.Is(err, ErrSpecificationNotFound) {
		t.Errorf("expected ErrSpecificationNotFound, got %v", err)
	}
}

func TestServer_Handshake(t *testing.T) {
	db := setUpDatabase(t)
	spec := createSpecification(t, db)
	ts := startTestServer(t, db, newTestConfig(), spec.ID)

	if ts.Host() != "127.0.0.1" || ts.Port() != spec.Port {
		t.Errorf("Host(), Port() = %s, %d", ts.Host(), ts.Port())
	}

	conn := ts.dial(t)
	sendPacket(t, conn, &packets.Handshake{GameVersion: packets.GameVersion, ConnectionType: uint32(packets.Client)})

	reply := &packets.Handshake{}
	readPacket(t, conn, reply)
	if reply.GameVersion != packets.GameVersion || reply.ConnectionType != uint32(packets.Server) {
		t.Errorf("unexpected handshake reply: %+v", reply)
	}
}

func TestServer_TLS(t *testing.T) {
	dir := t.TempDir()
	cfg := newTestConfig()
	cfg.Networking.CertificateFile = filepath.Join(dir, certs.CertificateFilename)
	cfg.Networking.KeyFile = filepath.Join(dir, certs.PrivateKeyFilename)
	if err := certs.WriteFiles([]string{"127.0.0.1"}, cfg.Networking.CertificateFile, cfg.Networking.KeyFile); err != nil {
		t.Fatalf("error writing certificate: %v", err)
	}

	db := setUpDatabase(t)
	spec := createSpecification(t, db)
	ts := startTestServer(t, db, cfg, spec.ID)

	pool := x509.NewCertPool()
	certPEM, err := os.ReadFile(cfg.Networking.CertificateFile)
	if err != nil {
		t.Fatal(err)
	}
	pool.AppendCertsFromPEM(certPEM)

	conn, err := tls.Dial("tcp", ts.Addr().String(), &tls.Config{RootCAs: pool})
	if err != nil {
		t.Fatalf("error connecting to server over TLS: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	sendPacket(t, conn, &packets.Handshake{GameVersion: packets.GameVersion, ConnectionType: uint32(packets.Client)})
	reply := &packets.Handshake{}
	readPacket(t, conn, reply)
	if reply.GameVersion != packets.GameVersion {
		t.Errorf("unexpected handshake reply: %+v", reply)
	}
}

func TestServer_MissingCertificateDisablesTLS(t *testing.T) {
	cfg := newTestConfig()
	cfg.Networking.CertificateFile = filepath.Join(t.TempDir(), "missing.pem")
	cfg.Networking.KeyFile = filepath.Join(t.TempDir(), "missing.key")

	db := setUpDatabase(t)
	spec := createSpecification(t, db)
	ts := startTestServer(t, db, cfg, spec.ID)

	conn := ts.dial(t)
	sendPacket(t, conn, &packets.Handshake{GameVersion: packets.GameVersion, ConnectionType: uint32(packets.Client)})
	readPacket(t, conn, &packets.Handshake{})
}

func TestServer_StartTwice(t *testing.T) {
	db := setUpDatabase(t)
	spec := createSpecification(t, db)
	ts := startTestServer(t, db, newTestConfig(), spec.ID)

	if err := ts.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
	if !ts.Running() {
		t.Error("expected the first run to be unaffected")
	}

	conn := ts.dial(t)
	sendPacket(t, conn, &packets.Handshake{GameVersion: packets.GameVersion})
	readPacket(t, conn, &packets.Handshake{})
}

func TestServer_HandshakeVersionMismatch(t *testing.T) {
	db := setUpDatabase(t)
	spec := createSpecification(t, db)
	ts := startTestServer(t, db, newTestConfig(), spec.ID)

	conn := ts.dial(t)
	sendPacket(t, conn, &packets.Handshake{GameVersion: 1})

	notice := &packets.ServerMessage{}
	readPacket(t, conn, notice)
	if want := "Client version 1 is not supported, please update to 171022."; notice.Text != want {
		t.Errorf("ServerMessage.Text = %q, want %q", notice.Text, want)
	}

	notify := &packets.DisconnectNotify{}
	readPacket(t, conn, notify)
	if notify.Reason != packets.DisconnectUnknownError {
		t.Errorf("unexpected disconnect reason %v", notify.Reason)
	}
	if _, err := readFrame(conn); !errors.Is(err, io.EOF) {
		t.Errorf("expected the connection to be closed, got %v", err)
	}
}

func TestServer_BadFrameKeepsConnection(t *testing.T) {
	db := setUpDatabase(t)
	spec := createSpecification(t, db)
	ts := startTestServer(t, db, newTestConfig(), spec.ID)

	conn := ts.dial(t)
	writeFrame(t, conn, []byte{0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	writeFrame(t, conn, []byte{0x01})
	sendPacket(t, conn, &packets.Handshake{GameVersion: packets.GameVersion})

	readPacket(t, conn, &packets.Handshake{})
}

type echoGroup struct {
	mu       sync.Mutex
	received []*packets.DisconnectNotify
}

func (g *echoGroup) PacketHandlers() []dispatch.PacketHandler {
	return []dispatch.PacketHandler{
		dispatch.HandlePacket(func(ctx context.Context, pkt *packets.DisconnectNotify, conn dispatch.Connection) error {
			g.mu.Lock()
			defer g.mu.Unlock()
			g.received = append(g.received, pkt)
			return nil
		}),
	}
}

func (g *echoGroup) CommandHandlers() []dispatch.CommandHandler { return nil }

func TestServer_FramesDispatchedInOrder(t *testing.T) {
	db := setUpDatabase(t)
	spec := createSpecification(t, db)
	group := &echoGroup{}
	ts := startTestServer(t, db, newTestConfig(), spec.ID, group)

	conn := ts.dial(t)
	for i := 0; i < 5; i++ {
		sendPacket(t, conn, &packets.DisconnectNotify{Reason: packets.DisconnectReason(i)})
	}

	eventually(t, func() bool {
		group.mu.Lock()
		defer group.mu.Unlock()
		return len(group.received) == 5
	}, "expected every frame to be handled")

	want := make([]*packets.DisconnectNotify, 5)
	for i := range want {
		want[i] = &packets.DisconnectNotify{Reason: packets.DisconnectReason(i)}
	}
	group.mu.Lock()
	defer group.mu.Unlock()
	if diff := deep.Equal(group.received, want); diff != nil {
		t.Error(diff)
	}
}

func TestServer_DisconnectDeletesSession(t *testing.T) {
	db := setUpDatabase(t)
	spec := createSpecification(t, db)
	ts := startTestServer(t, db, newTestConfig(), spec.ID)
	ctx := context.Background()

	conn := ts.dial(t)
	// Make sure the server has accepted the connection before binding it.
	sendPacket(t, conn, &packets.Handshake{GameVersion: packets.GameVersion})
	readPacket(t, conn, &packets.Handshake{})

	key, err := ts.Sessions.CreateSession(ctx, 99)
	if err != nil {
		t.Fatalf("CreateSession() returned an unexpected error: %v", err)
	}
	if err := ts.Sessions.RegisterKey(conn.LocalAddr().String(), key); err != nil {
		t.Fatalf("RegisterKey() returned an unexpected error: %v", err)
	}

	conn.Close()
	eventually(t, func() bool {
		ok, err := ts.Sessions.IsKey(ctx, key)
		return err == nil && !ok
	}, "expected the session to be destroyed on disconnect")
}

func TestServer_ReportsActiveUsers(t *testing.T) {
	db := setUpDatabase(t)
	spec := createSpecification(t, db)
	ts := startTestServer(t, db, newTestConfig(), spec.ID)

	activeUsers := func() int {
		found, err := data.FindSpecification(db, spec.ID)
		if err != nil || found == nil {
			return -1
		}
		return found.ActiveUserCount
	}

	conn := ts.dial(t)
	sendPacket(t, conn, &packets.Handshake{GameVersion: packets.GameVersion})
	readPacket(t, conn, &packets.Handshake{})
	eventually(t, func() bool { return activeUsers() == 1 }, "expected one active user")

	conn.Close()
	eventually(t, func() bool { return activeUsers() == 0 }, "expected no active users after disconnect")
}

func TestServer_MaxConnections(t *testing.T) {
	db := setUpDatabase(t)
	spec := createSpecification(t, db)
	cfg := newTestConfig()
	cfg.MaxConnections = 1
	ts := startTestServer(t, db, cfg, spec.ID)

	first := ts.dial(t)
	sendPacket(t, first, &packets.Handshake{GameVersion: packets.GameVersion})
	readPacket(t, first, &packets.Handshake{})

	second := ts.dial(t)
	_ = second.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := readFrame(second); !errors.Is(err, io.EOF) {
		t.Errorf("expected the second connection to be closed, got %v", err)
	}
}

func TestServer_CompletesPendingRequest(t *testing.T) {
	db := setUpDatabase(t)
	spec := createSpecification(t, db)

	request := &data.WorldServerRequest{ZoneID: spec.ZoneID, State: data.RequestAnswered, SpecificationID: spec.ID}
	if err := data.CreateWorldServerRequest(db, request); err != nil {
		t.Fatalf("error creating request: %v", err)
	}
	other := &data.WorldServerRequest{ZoneID: 2000, State: data.RequestUnanswered}
	if err := data.CreateWorldServerRequest(db, other); err != nil {
		t.Fatalf("error creating request: %v", err)
	}

	startTestServer(t, db, newTestConfig(), spec.ID)

	stored, _ := data.FindWorldServerRequest(db, request.ID)
	if stored == nil || stored.State != data.RequestComplete {
		t.Errorf("expected the request for this server to be complete, got %+v", stored)
	}
	untouched, _ := data.FindWorldServerRequest(db, other.ID)
	if untouched == nil || untouched.State != data.RequestUnanswered {
		t.Errorf("expected other requests to be left alone, got %+v", untouched)
	}
}

func TestServer_ConsoleCommands(t *testing.T) {
	db := setUpDatabase(t)
	spec := createSpecification(t, db)
	ts := startTestServer(t, db, newTestConfig(), spec.ID)

	var stopped sync.WaitGroup
	stopped.Add(1)
	ts.OnStopped(stopped.Done)

	ts.command(t, "/version")
	eventually(t, func() bool {
		return strings.Contains(ts.output.String(), "realm "+Version+"\n")
	}, "expected /version to print the version")

	ts.command(t, "/nothing")
	eventually(t, func() bool {
		out := ts.output.String()
		return strings.Contains(out, "/sessions            Show the number of connected clients\n") &&
			strings.Contains(out, "/stop                Stop the server\n")
	}, "expected an unknown command to print the help listing")

	ts.command(t, "/sessions")
	eventually(t, func() bool {
		return strings.Contains(ts.output.String(), "0 connected clients, 0 with a session")
	}, "expected /sessions to print the connection count")

	ts.command(t, "/STOP")
	select {
	case err := <-ts.done:
		if err != nil {
			t.Errorf("Start() returned an unexpected error: %v", err)
		}
		ts.done <- nil
	case <-time.After(5 * time.Second):
		t.Fatal("expected /stop to stop the server")
	}
	stopped.Wait()
	if ts.Running() {
		t.Error("expected the server to report that it stopped")
	}
}
