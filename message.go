package socket

import "context"

// EventSink receives the events of one connection. Events arrive one at a
// time, in order: data events in the order their bytes were received, at
// most one close event, and no events after close.
//
// Callbacks may call Send and Close on the connection that produced the
// event; events caused by such calls are delivered after the current one.
type EventSink interface {
	// OnData is called with each decoded message.
	OnData(value any)
	// OnClose is called once, when the connection closes.
	OnClose()
	// OnError is called for decode and transport errors.
	OnError(err error)
}

// SinkFuncs adapts plain functions to an EventSink. Nil fields are skipped.
type SinkFuncs struct {
	Data  func(value any)
	Close func()
	Error func(err error)
}

// OnData calls s.Data.
func (s SinkFuncs) OnData(value any) {
	if s.Data != nil {
		s.Data(value)
	}
}

// OnClose calls s.Close.
func (s SinkFuncs) OnClose() {
	if s.Close != nil {
		s.Close()
	}
}

// OnError calls s.Error.
func (s SinkFuncs) OnError(err error) {
	if s.Error != nil {
		s.Error(err)
	}
}

// Transport is the write side of an underlying byte stream.
type Transport interface {
	// Write hands p to the outbound path as one unit. It returns ErrQueueFull,
	// without taking p, when the path cannot accept more data right now; the
	// transport must then call Inbound.Drain once room is available.
	Write(p []byte) error
	// Close releases the underlying stream.
	Close() error
}

// Inbound is what a transport's I/O context reports to. *Conn implements it.
type Inbound interface {
	// Receive delivers a chunk read from the stream. The chunk is not retained.
	Receive(chunk []byte)
	// Drain signals that a previously full outbound path has room again.
	Drain()
	// Fail reports an I/O error. Disconnect means the connection is closed
	// and the transport should stop; Continue means the stream stays in use.
	Fail(err error) ErrorAction
}

// Runner is implemented by transports that own their read and write loops.
// Run blocks until ctx is canceled or the stream fails.
type Runner interface {
	Run(ctx context.Context, in Inbound) error
}
