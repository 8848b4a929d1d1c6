// Package server runs the listen/accept loop that produces inbound connections.
package server

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/btwiz/internal/device"
	"github.com/srg/btwiz/internal/groutine"
	"github.com/srg/btwiz/internal/registry"
	"github.com/srg/btwiz/pkg/conn"
)

// AcceptListener receives accepted connections and the error that ended the loop.
type AcceptListener interface {
	OnNewConnectionAccepted(c *conn.Conn)
	OnAcceptError(err error, stage string)
}

// AcceptFuncs adapts funcs to AcceptListener. Nil funcs are skipped.
type AcceptFuncs struct {
	Accepted func(c *conn.Conn)
	Error    func(err error, stage string)
}

func (f AcceptFuncs) OnNewConnectionAccepted(c *conn.Conn) {
	if f.Accepted != nil {
		f.Accepted(c)
	}
}

func (f AcceptFuncs) OnAcceptError(err error, stage string) {
	if f.Error != nil {
		f.Error(err, stage)
	}
}

// Wrapper turns an accepted socket into a handle.
type Wrapper interface {
	Wrap(sock device.Socket) *conn.Conn
}

// WrapFunc adapts a func to Wrapper.
type WrapFunc func(sock device.Socket) *conn.Conn

func (f WrapFunc) Wrap(sock device.Socket) *conn.Conn { return f(sock) }

// ListenOptions configures the listening endpoint.
type ListenOptions struct {
	Mode      device.SecureMode
	ServiceID device.ServiceID
}

// Server is the accept server. At most one accept loop runs at a time.
type Server struct {
	transport device.Transport
	wrapper   Wrapper
	registry  *registry.Registry
	logger    *logrus.Logger

	listening atomic.Bool

	mu   sync.Mutex
	sock device.ServerSocket
	gen  uint64 // bumped by every start and stop
}

func NewServer(transport device.Transport, wrapper Wrapper, reg *registry.Registry, logger *logrus.Logger) *Server {
	if transport == nil || wrapper == nil || reg == nil {
		panic("server: nil transport, wrapper or registry")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		transport: transport,
		wrapper:   wrapper,
		registry:  reg,
		logger:    logger,
	}
}

// ListenAsync runs Serve on a background goroutine.
func (s *Server) ListenAsync(name string, l AcceptListener, opts ListenOptions) {
	if l == nil {
		panic("server: nil accept listener")
	}
	// Armed before the goroutine starts so a StopListening racing the
	// socket creation is not lost
	gen := s.arm()
	groutine.Go(context.Background(), "accept-"+name, func(ctx context.Context) {
		_ = s.serve(ctx, gen, name, l, opts)
	})
}

// Serve creates the listening socket and runs the accept loop on the calling
// goroutine until an accept fails, StopListening is called or ctx ends.
//
// Every accepted socket is wrapped, registered and then handed to l. A nil
// accept result is retried. The listening socket is always closed on return.
// The returned error is the one also reported to l, or nil after a stop.
func (s *Server) Serve(ctx context.Context, name string, l AcceptListener, opts ListenOptions) error {
	if l == nil {
		panic("server: nil accept listener")
	}
	if err := groutine.CheckBlocking("Serve"); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.serve(ctx, s.arm(), name, l, opts)
}

func (s *Server) serve(ctx context.Context, gen uint64, name string, l AcceptListener, opts ListenOptions) error {
	fields := logrus.Fields{"name": name, "service": opts.ServiceID.String(), "mode": opts.Mode.String()}

	srv, err := s.transport.Listen(name, opts.ServiceID, opts.Mode)
	if err != nil || srv == nil {
		if !s.disarm(gen) {
			return nil
		}
		e := device.NewError(device.AcceptFailed, device.StageCreateServerSocket, err)
		s.logger.WithFields(fields).WithField("error", err).Error("Failed to create server socket")
		l.OnAcceptError(e, device.StageCreateServerSocket)
		return e
	}

	if !s.install(gen, srv) {
		s.logger.WithFields(fields).Info("Listening stopped before the accept loop started")
		s.closeSocket(srv)
		return nil
	}
	defer s.closeIfCurrent(srv)

	stop := context.AfterFunc(ctx, s.StopListening)
	defer stop()

	s.logger.WithFields(fields).Info("Listening for connections")
	for s.listening.Load() {
		sock, err := srv.Accept()
		if err != nil {
			if !s.isCurrent(srv) {
				s.logger.WithFields(fields).Info("Listening stopped")
				return nil
			}
			e := device.NewError(device.AcceptFailed, device.StageAccept, err)
			s.logger.WithFields(fields).WithField("error", err).Error("Accept failed")
			l.OnAcceptError(e, device.StageAccept)
			return e
		}
		if sock == nil {
			continue
		}

		h := s.wrapper.Wrap(sock)
		if !s.registry.Register(h) {
			continue
		}
		s.logger.WithFields(logrus.Fields{
			"address": h.RemoteDevice().Address,
			"name":    h.Name(),
		}).Info("Accepted connection")
		l.OnNewConnectionAccepted(h)
	}
	return nil
}

// arm starts a new listening generation and returns it.
func (s *Server) arm() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.listening.Store(true)
	return s.gen
}

// disarm clears the listening flag if gen is still current and reports
// whether it was.
func (s *Server) disarm(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.listening.Store(false)
	return true
}

// install makes srv the current listening socket, closing any previous one.
// It returns false, installing nothing, when a stop or a newer start
// happened after gen was armed.
func (s *Server) install(gen uint64, srv device.ServerSocket) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	prev := s.sock
	s.sock = srv
	s.mu.Unlock()

	if prev != nil {
		s.closeSocket(prev)
	}
	return true
}

func (s *Server) isCurrent(srv device.ServerSocket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sock == srv
}

func (s *Server) closeIfCurrent(srv device.ServerSocket) {
	s.mu.Lock()
	if s.sock != srv {
		s.mu.Unlock()
		return
	}
	s.sock = nil
	s.listening.Store(false)
	s.mu.Unlock()
	s.closeSocket(srv)
}

func (s *Server) closeSocket(srv device.ServerSocket) {
	if err := srv.Close(); err != nil {
		s.logger.WithField("error", err).Debug("Ignoring server socket close error")
	}
}

// StopListening ends the accept loop and closes the listening socket, which
// unblocks a pending accept. Idempotent.
func (s *Server) StopListening() {
	s.mu.Lock()
	srv := s.sock
	s.sock = nil
	s.gen++
	s.listening.Store(false)
	s.mu.Unlock()

	if srv != nil {
		s.closeSocket(srv)
	}
}

// IsListening reports whether an accept loop is running.
func (s *Server) IsListening() bool {
	return s.listening.Load()
}

// ServerSocket returns the current listening socket, or nil.
func (s *Server) ServerSocket() device.ServerSocket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sock
}
