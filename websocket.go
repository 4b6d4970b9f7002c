package socket

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// WebSocketTransport carries a Conn's bytes over a WebSocket. Each outbound
// buffer becomes one binary message and each inbound message one chunk, so
// framing still applies on top unless raw mode is enabled.
type WebSocketTransport struct {
	ws     *websocket.Conn
	out    *outbox
	logger Logger

	timeout time.Duration

	closed atomic.Bool
}

// NewWebSocketTransport wraps an established WebSocket connection.
// BufferSizeOption, HeartbeatOption and LoggerOption apply.
func NewWebSocketTransport(ws *websocket.Conn, opt ...Option) *WebSocketTransport {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return &WebSocketTransport{
		ws:      ws,
		out:     newOutbox(opts.bufferSize),
		logger:  opts.logger,
		timeout: opts.heartbeat * 2,
	}
}

// WrapWebSocket creates a connection over ws. The returned connection must
// be driven with Run.
func WrapWebSocket(ws *websocket.Conn, sink EventSink, opt ...Option) (*Conn, error) {
	if ws == nil {
		return nil, ErrInvalidTransport
	}
	return NewConn(NewWebSocketTransport(ws, opt...), sink, opt...)
}

// ServeWebSocket wraps an accepted WebSocket, hands the connection to
// handler and runs it until ctx ends or the connection closes. It returns
// ErrRejected if handler returns no sink.
func ServeWebSocket(ctx context.Context, ws *websocket.Conn, handler Handler, opt ...Option) error {
	if ws == nil {
		return ErrInvalidTransport
	}
	return runHandled(ctx, NewWebSocketTransport(ws, opt...), handler, opt)
}

// Write queues p as one binary message.
func (w *WebSocketTransport) Write(p []byte) error {
	if w.closed.Load() {
		return ErrSocketClosed
	}
	return w.out.push(p)
}

// Close sends a close frame when possible and closes the connection.
func (w *WebSocketTransport) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return w.ws.Close()
}

// RemoteAddr returns the peer address.
func (w *WebSocketTransport) RemoteAddr() net.Addr {
	return w.ws.RemoteAddr()
}

// Run starts the read and write loops and blocks until either stops or ctx
// is canceled.
func (w *WebSocketTransport) Run(ctx context.Context, in Inbound) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer cancel()
		return w.readLoop(child, in)
	})

	group.Go(func() error {
		defer cancel()
		return w.writeLoop(child, in)
	})

	go func() {
		<-child.Done()
		w.Close()
	}()

	return group.Wait()
}

func (w *WebSocketTransport) readLoop(ctx context.Context, in Inbound) error {
	for {
		if w.timeout > 0 {
			_ = w.ws.SetReadDeadline(time.Now().Add(w.timeout))
		}

		_, msg, err := w.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = io.EOF
			}
			return w.loopError(ctx, in, "read", err)
		}
		in.Receive(msg)
	}
}

func (w *WebSocketTransport) writeLoop(ctx context.Context, in Inbound) error {
	for {
		data, err := w.out.pop(ctx, in)
		if err != nil {
			// canceled; the read loop reports why
			return nil
		}

		if w.timeout > 0 {
			_ = w.ws.SetWriteDeadline(time.Now().Add(w.timeout))
		}

		if err := w.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return w.loopError(ctx, in, "write", err)
		}
	}
}

// loopError reports err unless it was caused by our own shutdown. Unlike a
// stream, a websocket.Conn fails every later read after a read error and
// every later write after a write error, so the loop always stops.
func (w *WebSocketTransport) loopError(ctx context.Context, in Inbound, op string, err error) error {
	if w.closed.Load() {
		return ctx.Err()
	}
	if errors.Is(err, io.EOF) {
		in.Fail(err)
		return nil
	}

	w.logger.Debug("websocket "+op+" error", "addr", w.RemoteAddr(), "error", err.Error())
	err = errors.Wrap(err, "websocket "+op)
	in.Fail(err)
	return err
}
