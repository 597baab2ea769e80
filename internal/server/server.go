// Package server runs one member of the cluster. A Server loads its own
// specification from the database, accepts client connections, and routes
// their frames and console commands to the registered handler groups.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/realm/internal/core"
	"github.com/dcrodman/realm/internal/core/data"
	"github.com/dcrodman/realm/internal/core/metrics"
	"github.com/dcrodman/realm/internal/dispatch"
	"github.com/dcrodman/realm/internal/session"
	"github.com/dcrodman/realm/internal/worldserver"
)

// Version is reported by the /version command.
var Version = "dev"

// ErrSpecificationNotFound is returned by Configure when the database has no
// specification for the server's ID.
var ErrSpecificationNotFound = errors.New("no server specification found")

// ErrAlreadyStarted is returned by Start when the server has been started before.
// A Server runs once.
var ErrAlreadyStarted = errors.New("server already started")

// Server owns everything one cluster member needs: its configuration, database,
// session cache, listener and dispatchers.
type Server struct {
	ID     string
	Config *core.Config
	Logger *logrus.Logger

	// Opened by Configure unless set beforehand.
	DB         *gorm.DB
	Prometheus *prometheus.Registry

	// Console, if set, is read for commands once the server starts. Replies
	// are written to ConsoleOutput.
	Console       io.Reader
	ConsoleOutput io.Writer

	Specification *data.ServerSpecification
	Sessions      session.Cache
	Metrics       *metrics.Metrics
	Allocator     *worldserver.Allocator

	Registry *dispatch.Registry
	Packets  *dispatch.PacketDispatcher
	Commands *dispatch.CommandDispatcher
	Messages *dispatch.GameMessageStream

	tlsConfig *tls.Config
	ownsDB    bool

	started     atomic.Bool
	running     atomic.Bool
	cancel      context.CancelFunc
	ready       chan struct{}
	readyOnce   sync.Once
	listener    net.Listener
	connections atomic.Int64

	stoppedMu sync.Mutex
	onStopped []func()
}

// New returns a Server for the specification with id. Call Configure and then Start.
func New(id string, cfg *core.Config, logger *logrus.Logger) *Server {
	return &Server{
		ID:     id,
		Config: cfg,
		Logger: logger,
		ready:  make(chan struct{}),
	}
}

// Configure connects to the database, loads the server's specification, the TLS
// certificate (when one is configured) and the session cache. Any error is fatal.
func (s *Server) Configure(ctx context.Context) error {
	if s.ready == nil {
		s.ready = make(chan struct{})
	}

	if s.DB == nil {
		db, err := data.Open(s.Config)
		if err != nil {
			return err
		}
		s.DB = db
		s.ownsDB = true
	}

	spec, err := data.FindSpecification(s.DB.WithContext(ctx), s.ID)
	if err != nil {
		return fmt.Errorf("error loading specification %s: %w", s.ID, err)
	}
	if spec == nil {
		return fmt.Errorf("%w for ID %s", ErrSpecificationNotFound, s.ID)
	}
	s.Specification = spec

	if err := s.loadCertificate(); err != nil {
		return err
	}

	if s.Prometheus == nil {
		s.Prometheus = prometheus.NewRegistry()
	}
	s.Metrics = metrics.New(s.Prometheus)

	if s.Sessions, err = session.Open(ctx, s.Config, s.DB, s.Logger); err != nil {
		return fmt.Errorf("error opening session cache: %w", err)
	}

	s.Allocator = &worldserver.Allocator{
		DB:           s.DB,
		Logger:       s.Logger,
		Metrics:      s.Metrics,
		PollInterval: s.Config.WorldAllocation.PollInterval,
		Timeout:      s.Config.WorldAllocation.Timeout,
	}

	s.Logger.Infof("server %s (%v) configured on port %d", s.ID, spec.ServerType, spec.Port)
	return nil
}

// The listener only uses TLS when both files are configured and present.
func (s *Server) loadCertificate() error {
	certFile := s.Config.QualifiedPath(s.Config.Networking.CertificateFile)
	keyFile := s.Config.QualifiedPath(s.Config.Networking.KeyFile)
	if certFile == "" || keyFile == "" {
		return nil
	}
	for _, f := range []string{certFile, keyFile} {
		if _, err := os.Stat(f); err != nil {
			s.Logger.Warnf("not using TLS, unable to read %s: %v", f, err)
			return nil
		}
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("error loading certificate: %w", err)
	}
	s.tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	return nil
}

// Host returns the address the server listens on.
func (s *Server) Host() string {
	return s.Config.Hostname
}

// Port returns the port from the server's specification.
func (s *Server) Port() int {
	if s.Specification == nil {
		return 0
	}
	return s.Specification.Port
}

// Addr returns the listener's address once the server is ready.
func (s *Server) Addr() net.Addr {
	<-s.ready
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Ready is closed once the server is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Running reports whether the server has started and not been stopped.
func (s *Server) Running() bool {
	return s.running.Load()
}

// OnStopped registers fn to be called after the server has shut down.
func (s *Server) OnStopped(fn func()) {
	s.stoppedMu.Lock()
	defer s.stoppedMu.Unlock()
	s.onStopped = append(s.onStopped, fn)
}

// Start registers the handler groups (along with the handlers every server
// provides), completes any world server request waiting on this server, and
// accepts connections until ctx is cancelled or Stop is called. Start blocks
// until every connection has closed.
func (s *Server) Start(ctx context.Context, groups ...dispatch.HandlerGroup) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer s.markReady()

	ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()
	s.running.Store(true)

	s.Logger.Info("registering handlers...")
	s.Registry = dispatch.NewRegistry(s.Logger, append([]dispatch.HandlerGroup{&coreHandlers{server: s}}, groups...)...)
	s.Messages = dispatch.NewGameMessageStream(s.Logger)
	s.Packets = &dispatch.PacketDispatcher{
		Registry:      s.Registry,
		Messages:      s.Messages,
		Logger:        s.Logger,
		Metrics:       s.Metrics,
		PacketLogging: s.Config.Debugging.PacketLoggingEnabled,
	}
	s.Commands = &dispatch.CommandDispatcher{
		Registry: s.Registry,
		Logger:   s.Logger,
		Metrics:  s.Metrics,
	}

	if s.Console != nil {
		go s.readConsole(ctx)
	}

	s.Logger.Info("looking for requests...")
	request, err := worldserver.CompletePendingRequest(ctx, s.DB, s.ID)
	if err != nil {
		s.stop()
		return err
	}
	if request != nil {
		s.Logger.WithField("request_id", request.ID).Infof("request found for %s", s.ID)
	}

	listener, err := s.listen()
	if err != nil {
		s.stop()
		return err
	}
	s.listener = listener
	s.markReady()

	s.Logger.Info("starting server...")
	s.acceptConnections(ctx, listener)

	s.stop()
	return nil
}

// markReady unblocks Addr and Ready, whether or not the server managed to listen.
func (s *Server) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Stop shuts the server down. In-flight packets are allowed to finish but no
// more frames are read.
func (s *Server) Stop() {
	if s.running.CompareAndSwap(true, false) && s.cancel != nil {
		s.Logger.Info("shutting down...")
		s.cancel()
	}
}

// stop releases the server's resources after the accept loop has exited.
func (s *Server) stop() {
	s.running.Store(false)

	if s.Sessions != nil {
		if err := s.Sessions.Close(); err != nil {
			s.Logger.Warnf("error closing session cache: %v", err)
		}
	}
	if s.ownsDB {
		if err := data.Close(s.DB); err != nil {
			s.Logger.Warnf("error closing database: %v", err)
		}
	}

	s.stoppedMu.Lock()
	hooks := s.onStopped
	s.stoppedMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (s *Server) listen() (net.Listener, error) {
	address := s.Config.ListenAddress(s.Port())

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("error listening on %s: %w", address, err)
	}
	if s.tlsConfig != nil {
		listener = tls.NewListener(listener, s.tlsConfig)
	}
	return listener, nil
}
