// Package socket carries typed values over a single connected byte stream.
// Outgoing values are encoded for a declared wire type and, unless raw mode
// is enabled, wrapped in a length-prefixed frame. Incoming chunks are
// reassembled into frames, decoded, and delivered to an EventSink in order.
package socket

import (
	"context"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/Zereker/typedsocket/frame"
	"github.com/Zereker/typedsocket/wiretype"
)

// Errors returned by connection operations.
var (
	// ErrInvalidSink is returned when no event sink is provided.
	ErrInvalidSink = errors.New("invalid event sink")
	// ErrInvalidTransport is returned when no transport is provided.
	ErrInvalidTransport = errors.New("invalid transport")
	// ErrNotRunnable is returned by Run when the transport has no I/O loops.
	ErrNotRunnable = errors.New("transport does not implement Runner")
	// ErrProtocol is reported when the peer violates the framing convention.
	ErrProtocol = errors.New("protocol violation")
)

// ErrSocketClosed is returned when operating on a closed connection.
var ErrSocketClosed = errors.New("socket closed")

// ErrQueueFull is returned by a Transport whose outbound queue cannot accept
// more data until it drains.
var ErrQueueFull = errors.New("write queue full")

type eventKind int

const (
	dataEvent eventKind = iota
	errorEvent
	closeEvent
)

type event struct {
	kind  eventKind
	value any
	err   error
}

// Conn wraps one connected byte stream. It frames and encodes values passed
// to Send, and decodes chunks passed to Receive into events for its sink.
//
// Receive, Drain and Fail are called from the transport's I/O context; Send
// and Close may be called from any goroutine.
type Conn struct {
	transport Transport
	sink      EventSink
	logger    Logger
	metrics   *Metrics

	opts options

	// serializes Send
	sendSem *semaphore.Weighted

	mu           sync.Mutex
	reassembler  *frame.Reassembler
	imageBuf     []byte
	rawRemainder []byte
	drained      chan struct{}
	done         chan struct{}
	closed       bool
	events       []event
	dispatching  bool
}

// NewConn creates a connection over t that reports to sink. Configuration
// errors are returned before any I/O happens.
func NewConn(t Transport, sink EventSink, opt ...Option) (*Conn, error) {
	if t == nil {
		return nil, ErrInvalidTransport
	}
	if sink == nil {
		return nil, ErrInvalidSink
	}

	opts, err := buildOptions(opt)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		transport:   t,
		sink:        sink,
		logger:      opts.logger,
		metrics:     opts.metrics,
		opts:        opts,
		sendSem:     semaphore.NewWeighted(1),
		reassembler: frame.NewReassembler(opts.maxReadLength),
		drained:     make(chan struct{}),
		done:        make(chan struct{}),
	}
	c.metrics.connOpened()

	return c, nil
}

// Wrap creates a connection over a stream such as a *net.TCPConn. The
// returned connection must be driven with Run.
func Wrap(rw io.ReadWriteCloser, sink EventSink, opt ...Option) (*Conn, error) {
	if rw == nil {
		return nil, ErrInvalidTransport
	}
	return NewConn(NewStreamTransport(rw, opt...), sink, opt...)
}

// Run drives the transport's I/O loops and blocks until they stop. The
// connection is closed when Run returns.
func (c *Conn) Run(ctx context.Context) error {
	r, ok := c.transport.(Runner)
	if !ok {
		return ErrNotRunnable
	}

	c.logger.Info("connection established", "addr", c.Addr())
	c.logger.Debug("connection options", "addr", c.Addr(),
		"send_type", c.opts.sendType,
		"receive_type", c.opts.receiveType,
		"raw_bytes", c.opts.rawBytes,
		"buffer_size", c.opts.bufferSize,
		"max_read_length", c.opts.maxReadLength)

	err := r.Run(ctx, c)
	c.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Info("connection closed with error", "addr", c.Addr(), "error", err.Error())
	} else {
		c.logger.Info("connection closed", "addr", c.Addr())
	}

	return err
}

// Addr returns the remote address if the transport knows it.
func (c *Conn) Addr() net.Addr {
	if a, ok := c.transport.(interface{ RemoteAddr() net.Addr }); ok {
		return a.RemoteAddr()
	}
	return nil
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Receive feeds a chunk read from the stream. Every message the chunk
// completes is delivered before any event queued after this call. Chunks
// arriving after close are dropped.
func (c *Conn) Receive(chunk []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.metrics.received(len(chunk))

	var err error
	if c.opts.rawBytes {
		c.receiveRawLocked(chunk)
	} else {
		err = c.receiveFramedLocked(chunk)
	}
	c.mu.Unlock()

	c.dispatch()
	if err != nil {
		c.Fail(err)
	}
}

func (c *Conn) receiveFramedLocked(chunk []byte) error {
	frames, err := c.reassembler.Feed(chunk)
	for _, payload := range frames {
		c.metrics.frameIn()
		c.decodeLocked(payload)
	}
	if err != nil {
		return errors.Wrap(ErrProtocol, err.Error())
	}
	return nil
}

func (c *Conn) decodeLocked(payload []byte) {
	t := c.opts.receiveType
	if n := wiretype.Trailing(len(payload), t); n > 0 {
		c.logger.Warn("dropping trailing partial element", "addr", c.Addr(),
			"type", t, "payload_len", len(payload), "dropped", n)
		c.metrics.truncated(n)
	}

	v, err := wiretype.Decode(payload, t)
	if err != nil {
		c.decodeErrorLocked(err)
		return
	}
	c.enqueueLocked(event{kind: dataEvent, value: v})
}

func (c *Conn) receiveRawLocked(chunk []byte) {
	t := c.opts.receiveType
	switch {
	case t == wiretype.Image:
		c.receiveImageLocked(chunk)
	case t.Numeric():
		buf := append(c.rawRemainder, chunk...)
		usable := len(buf) - wiretype.Trailing(len(buf), t)
		c.rawRemainder = append([]byte(nil), buf[usable:]...)
		if usable == 0 {
			return
		}
		v, err := wiretype.Decode(buf[:usable], t)
		if err != nil {
			c.decodeErrorLocked(err)
			return
		}
		if c.opts.emitBatch {
			c.enqueueLocked(event{kind: dataEvent, value: v})
			return
		}
		for _, el := range wiretype.Explode(v) {
			c.enqueueLocked(event{kind: dataEvent, value: el})
		}
	default:
		buf := append(c.rawRemainder, chunk...)
		usable := len(buf) - wiretype.PartialRune(buf)
		c.rawRemainder = append([]byte(nil), buf[usable:]...)
		if usable == 0 {
			return
		}
		c.decodeLocked(buf[:usable])
	}
}

// receiveImageLocked accumulates raw chunks until they decode as an image.
func (c *Conn) receiveImageLocked(chunk []byte) {
	c.imageBuf = append(c.imageBuf, chunk...)
	if len(c.imageBuf) == 0 {
		return
	}

	img, err := wiretype.DecodeImage(c.imageBuf)
	switch {
	case err == nil:
		c.imageBuf = nil
		c.enqueueLocked(event{kind: dataEvent, value: img})
	case wiretype.IsIncomplete(err) && len(c.imageBuf) <= c.opts.maxReadLength:
		c.logger.Debug("waiting for more image data", "addr", c.Addr(), "buffered", len(c.imageBuf))
	default:
		c.imageBuf = nil
		c.decodeErrorLocked(err)
	}
}

func (c *Conn) decodeErrorLocked(err error) {
	c.metrics.decodeError()
	c.logger.Debug("decode error", "addr", c.Addr(), "error", err.Error())
	c.enqueueLocked(event{kind: errorEvent, err: errors.Wrap(err, "decode")})
}

// Send encodes value with the connection's send type and writes it as one
// buffer. If the transport's queue is full, Send waits for it to drain and
// retries once. Sends on one connection are serialized. Send fails with
// ErrSocketClosed if the connection is or becomes closed.
//
// Send must not be waited on from the goroutine that delivers the transport's
// drain signal.
func (c *Conn) Send(ctx context.Context, value any) error {
	if err := c.sendSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sendSem.Release(1)

	if c.IsClosed() {
		return ErrSocketClosed
	}

	payload, err := wiretype.Encode(value, c.opts.sendType, c.opts.imageFormat)
	if err != nil {
		return errors.Wrap(err, "encode")
	}

	buf := payload
	if !c.opts.rawBytes {
		buf = frame.Encode(payload)
	}

	if err := c.write(ctx, buf); err != nil {
		return err
	}
	c.metrics.sent(len(buf))
	return nil
}

func (c *Conn) write(ctx context.Context, buf []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSocketClosed
	}
	drained := c.drained
	c.mu.Unlock()

	err := c.transport.Write(buf)
	if !errors.Is(err, ErrQueueFull) {
		return c.writeResult(err)
	}

	c.metrics.backpressure()
	c.logger.Debug("send waiting for drain", "addr", c.Addr(), "len", len(buf))

	select {
	case <-drained:
	case <-c.done:
		return ErrSocketClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	if c.IsClosed() {
		return ErrSocketClosed
	}
	return c.writeResult(c.transport.Write(buf))
}

func (c *Conn) writeResult(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrSocketClosed):
		return err
	default:
		c.Fail(err)
		return errors.Wrap(err, "write")
	}
}

// Drain wakes a Send waiting for the transport's queue to empty.
func (c *Conn) Drain() {
	c.mu.Lock()
	close(c.drained)
	c.drained = make(chan struct{})
	c.mu.Unlock()
}

// Fail reports an I/O error from the transport. A clean end of stream closes
// the connection quietly; any other error is delivered as one error event,
// and the OnErrorOption classifier decides whether the connection closes.
// Errors after close are ignored. The returned action tells the transport
// whether to keep using the stream.
func (c *Conn) Fail(err error) ErrorAction {
	if err == nil {
		return Continue
	}
	if errors.Is(err, io.EOF) {
		c.logger.Debug("remote closed stream", "addr", c.Addr())
		c.Close()
		return Disconnect
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("error after close", "addr", c.Addr(), "error", err.Error())
		return Disconnect
	}
	c.enqueueLocked(event{kind: errorEvent, err: err})
	c.mu.Unlock()

	c.metrics.transportError()
	c.logger.Debug("transport error", "addr", c.Addr(), "error", err.Error())

	if c.opts.onError(err) == Disconnect {
		c.Close()
		return Disconnect
	}
	c.dispatch()
	return Continue
}

// Close closes the connection and its transport. Only the first call has an
// effect; it delivers a close event after every event already queued and
// wakes any Send waiting for a drain.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.reassembler.Reset()
	c.imageBuf = nil
	c.rawRemainder = nil
	c.enqueueLocked(event{kind: closeEvent})
	c.mu.Unlock()

	err := c.transport.Close()
	c.metrics.connClosed()
	c.dispatch()
	return err
}

func (c *Conn) enqueueLocked(ev event) {
	c.events = append(c.events, ev)
}

// dispatch delivers queued events. Only one goroutine delivers at a time; a
// caller that finds delivery in progress leaves its events to that goroutine.
func (c *Conn) dispatch() {
	c.mu.Lock()
	if c.dispatching {
		c.mu.Unlock()
		return
	}
	c.dispatching = true

	for len(c.events) > 0 {
		batch := c.events
		c.events = nil
		c.mu.Unlock()

		for _, ev := range batch {
			c.deliver(ev)
		}

		c.mu.Lock()
	}

	c.dispatching = false
	c.mu.Unlock()
}

func (c *Conn) deliver(ev event) {
	switch ev.kind {
	case dataEvent:
		c.sink.OnData(ev.value)
	case errorEvent:
		c.sink.OnError(ev.err)
	case closeEvent:
		c.sink.OnClose()
	}
}

// IsTerminal reports whether err leaves the stream unusable.
func IsTerminal(err error) bool {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, ErrProtocol),
		errors.Is(err, ErrSocketClosed):
		return true
	}
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}
