package socket

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// outbox is a bounded queue of outbound buffers. push never blocks; when it
// reports ErrQueueFull, the next pop signals Drain.
type outbox struct {
	mu    sync.Mutex
	queue chan []byte
	full  bool
}

func newOutbox(size int) *outbox {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &outbox{queue: make(chan []byte, size)}
}

func (o *outbox) push(p []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	select {
	case o.queue <- p:
		return nil
	default:
		o.full = true
		return ErrQueueFull
	}
}

// pop waits for the next buffer. It calls in.Drain if a push was refused
// since the previous pop.
func (o *outbox) pop(ctx context.Context, in Inbound) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-o.queue:
		o.mu.Lock()
		wasFull := o.full
		o.full = false
		o.mu.Unlock()

		if wasFull {
			in.Drain()
		}
		return data, nil
	}
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// StreamTransport moves bytes between a Conn and an io.ReadWriteCloser such
// as a TCP connection. Writes are queued and performed by a dedicated writer
// goroutine, so a Send blocked on backpressure never waits on the goroutine
// that delivers received data.
type StreamTransport struct {
	rw     io.ReadWriteCloser
	out    *outbox
	logger Logger

	readBufferSize int
	timeout        time.Duration

	closed atomic.Bool
}

// NewStreamTransport wraps rw. BufferSizeOption, HeartbeatOption and
// LoggerOption apply; other options are ignored.
func NewStreamTransport(rw io.ReadWriteCloser, opt ...Option) *StreamTransport {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return &StreamTransport{
		rw:             rw,
		out:            newOutbox(opts.bufferSize),
		logger:         opts.logger,
		readBufferSize: defaultReadBufferSize,
		timeout:        opts.heartbeat * 2,
	}
}

// Write queues p for the writer goroutine.
func (s *StreamTransport) Write(p []byte) error {
	if s.closed.Load() {
		return ErrSocketClosed
	}
	return s.out.push(p)
}

// Close closes the stream. Queued buffers that were not yet written are
// dropped. Safe to call multiple times.
func (s *StreamTransport) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.rw.Close()
}

// RemoteAddr returns the peer address when the stream is a net.Conn.
func (s *StreamTransport) RemoteAddr() net.Addr {
	if nc, ok := s.rw.(net.Conn); ok {
		return nc.RemoteAddr()
	}
	return nil
}

// Run starts the read and write loops and blocks until either stops or ctx
// is canceled. I/O errors are reported to in before Run returns.
func (s *StreamTransport) Run(ctx context.Context, in Inbound) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer cancel()
		return s.readLoop(child, in)
	})

	group.Go(func() error {
		defer cancel()
		return s.writeLoop(child, in)
	})

	// A blocked Read only returns once the stream is closed.
	go func() {
		<-child.Done()
		s.Close()
	}()

	return group.Wait()
}

// readLoop hands every chunk read from the stream to in.Receive.
func (s *StreamTransport) readLoop(ctx context.Context, in Inbound) error {
	buf := make([]byte, s.readBufferSize)
	for {
		s.setDeadline(func(d deadliner, t time.Time) error { return d.SetReadDeadline(t) })

		n, err := s.rw.Read(buf)
		if n > 0 {
			in.Receive(buf[:n])
		}
		if err != nil {
			if stop, err := s.loopError(ctx, in, "read", err); stop {
				return err
			}
		}
	}
}

// writeLoop writes queued buffers in order. A buffer whose write fails with
// an error the connection continues past is dropped.
func (s *StreamTransport) writeLoop(ctx context.Context, in Inbound) error {
	for {
		data, err := s.out.pop(ctx, in)
		if err != nil {
			// canceled; the read loop reports why
			return nil
		}

		s.setDeadline(func(d deadliner, t time.Time) error { return d.SetWriteDeadline(t) })

		if _, err := s.rw.Write(data); err != nil {
			if stop, err := s.loopError(ctx, in, "write", err); stop {
				return err
			}
		}
	}
}

func (s *StreamTransport) setDeadline(set func(deadliner, time.Time) error) {
	if s.timeout <= 0 {
		return
	}
	if d, ok := s.rw.(deadliner); ok {
		_ = set(d, time.Now().Add(s.timeout))
	}
}

// loopError reports err unless it was caused by our own shutdown. stop is
// false when the connection keeps the stream open; a timed out deadline is
// renewed at the top of the next iteration.
func (s *StreamTransport) loopError(ctx context.Context, in Inbound, op string, err error) (stop bool, _ error) {
	if s.closed.Load() {
		return true, ctx.Err()
	}
	if errors.Is(err, io.EOF) {
		in.Fail(err)
		return true, nil
	}

	s.logger.Debug(op+" error", "addr", s.RemoteAddr(), "error", err.Error())
	err = errors.Wrap(err, op)
	if in.Fail(err) == Continue && !s.closed.Load() {
		return false, nil
	}
	return true, err
}
