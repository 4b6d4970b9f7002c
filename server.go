package socket

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrRejected is returned when a Handler returns no sink for a connection.
var ErrRejected = errors.New("connection rejected by handler")

// Handler is invoked for each accepted connection before it starts running.
// It returns the sink for the connection's events and may keep c for
// sending. Returning nil rejects the connection.
type Handler interface {
	Handle(c *Conn) EventSink
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(c *Conn) EventSink

// Handle calls f(c).
func (f HandlerFunc) Handle(c *Conn) EventSink {
	return f(c)
}

// Server accepts TCP connections and runs each one as a typed Conn.
type Server struct {
	listener        *net.TCPListener
	logger          Logger
	shutdownTimeout time.Duration
	connOpts        []Option

	mu          sync.Mutex
	shutdown    bool
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout
	conns       sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context is canceled, the server will wait up to this duration
// before closing the listener. This gives existing connections time to complete.
// Default is 0 (immediate shutdown).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// ServerConnOptions sets the options every accepted connection is created
// with. They are validated by New.
func ServerConnOptions(opts ...Option) ServerOption {
	return func(s *Server) {
		s.connOpts = append(s.connOpts, opts...)
	}
}

// New creates a new TCP server bound to the specified address.
// Returns an error if the address cannot be bound or the connection options
// are invalid.
func New(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	s := &Server{
		logger:      slog.Default(),
		shutdownNow: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if _, err := buildOptions(s.connOpts); err != nil {
		return nil, err
	}

	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, err
	}
	s.listener = listener

	return s, nil
}

// Serve accepts connections until ctx is canceled or Close is called. Every
// accepted connection is wrapped, handed to handler, and run with ctx. Serve
// returns after the listener stops; connections keep running until ctx ends
// or they close.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	go func() {
		<-ctx.Done()

		// Wait for shutdown timeout if configured, but allow early exit via Close()
		if s.shutdownTimeout > 0 {
			s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout)
			select {
			case <-time.After(s.shutdownTimeout):
			case <-s.shutdownNow:
				s.logger.Debug("shutdown timeout bypassed via Close()")
			}
		}

		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		// Set a deadline to unblock Accept
		_ = s.listener.SetDeadline(time.Now())
	}()

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			s.mu.Lock()
			isShutdown := s.shutdown
			s.mu.Unlock()

			if isShutdown {
				s.logger.Info("server stopped", "addr", s.listener.Addr())
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("accept error", "error", err.Error())
			return err
		}

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		_ = conn.SetNoDelay(true)

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.serveConn(ctx, conn, handler)
		}()
	}
}

// handlerSink lets a Conn exist before its handler supplies the real sink.
// Events raised while the handler runs are dropped.
type handlerSink struct {
	sink EventSink
}

func (h *handlerSink) OnData(value any) {
	if h.sink != nil {
		h.sink.OnData(value)
	}
}

func (h *handlerSink) OnClose() {
	if h.sink != nil {
		h.sink.OnClose()
	}
}

func (h *handlerSink) OnError(err error) {
	if h.sink != nil {
		h.sink.OnError(err)
	}
}

func (s *Server) serveConn(ctx context.Context, tcp *net.TCPConn, handler Handler) {
	err := runHandled(ctx, NewStreamTransport(tcp, s.connOpts...), handler, s.connOpts)
	if errors.Is(err, ErrRejected) {
		s.logger.Debug("connection rejected by handler", "remote_addr", tcp.RemoteAddr())
	}
}

// runHandled creates a connection over t, asks handler for its sink and runs
// it until ctx ends or the connection closes.
func runHandled(ctx context.Context, t Transport, handler Handler, opt []Option) error {
	sink := &handlerSink{}
	c, err := NewConn(t, sink, opt...)
	if err != nil {
		_ = t.Close()
		return err
	}

	sink.sink = handler.Handle(c)
	if sink.sink == nil {
		_ = c.Close()
		return ErrRejected
	}

	return c.Run(ctx)
}

// Wait blocks until every connection started by Serve has finished.
func (s *Server) Wait() {
	s.conns.Wait()
}

// Close stops the server by closing the underlying listener.
// If a shutdown timeout is configured, Close() bypasses the remaining timeout.
// Any blocked Accept calls will return with an error.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	select {
	case s.shutdownNow <- struct{}{}:
	default:
	}

	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
