package socket

import (
	"time"

	"github.com/pkg/errors"

	"github.com/Zereker/typedsocket/wiretype"
)

// ErrorAction defines the action to take when a transport error occurs.
type ErrorAction int

const (
	// Disconnect closes the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue reports the error and keeps the connection open.
	Continue
)

// Default configuration values.
const (
	// defaultBufferSize is the default number of buffers the outbound queue holds.
	defaultBufferSize = 16
	// defaultMaxPackageLength is the default maximum size of a single message (1MB).
	defaultMaxPackageLength = 1024 * 1024
	// defaultReadBufferSize is the size of each read from a stream.
	defaultReadBufferSize = 32 * 1024
)

// options holds the configuration for a connection.
type options struct {
	logger  Logger
	metrics *Metrics

	// onError classifies transport errors.
	// Returns Disconnect to close the connection, Continue to keep it open.
	onError func(error) ErrorAction

	sendType    wiretype.Type
	receiveType wiretype.Type
	imageFormat string
	rawBytes    bool
	emitBatch   bool

	bufferSize    int           // size of the outbound queue
	maxReadLength int           // maximum size of a single message
	heartbeat     time.Duration // read/write deadline is heartbeat * 2; zero disables
}

// Option is a function that configures connection options.
type Option func(*options)

// buildOptions applies opt over the defaults and validates the result.
func buildOptions(opt []Option) (options, error) {
	opts := options{
		sendType:    wiretype.String,
		receiveType: wiretype.String,
	}
	for _, o := range opt {
		o(&opts)
	}
	return opts, checkOptions(&opts)
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if !opts.sendType.Valid() {
		return errors.Wrap(wiretype.ErrUnknownType, "send type")
	}
	if !opts.receiveType.Valid() {
		return errors.Wrap(wiretype.ErrUnknownType, "receive type")
	}

	format, err := wiretype.ImageFormat(opts.imageFormat)
	if err != nil {
		return err
	}
	opts.imageFormat = format

	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.maxReadLength <= 0 {
		opts.maxReadLength = defaultMaxPackageLength
	}

	if opts.heartbeat < 0 {
		opts.heartbeat = 0
	}

	if opts.onError == nil {
		opts.onError = defaultOnError
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

func defaultOnError(err error) ErrorAction {
	if IsTerminal(err) {
		return Disconnect
	}
	return Continue
}

// SendTypeOption sets the wire type used to encode outgoing values.
func SendTypeOption(t wiretype.Type) Option {
	return func(o *options) {
		o.sendType = t
	}
}

// ReceiveTypeOption sets the wire type used to decode incoming bytes.
func ReceiveTypeOption(t wiretype.Type) Option {
	return func(o *options) {
		o.receiveType = t
	}
}

// ImageFormatOption selects the image encoding used when the send type is
// wiretype.Image. Unknown formats are rejected when the connection is created.
func ImageFormatOption(format string) Option {
	return func(o *options) {
		o.imageFormat = format
	}
}

// RawBytesOption disables length-prefix framing. Each received chunk is
// decoded on its own and values are written without a prefix.
func RawBytesOption(raw bool) Option {
	return func(o *options) {
		o.rawBytes = raw
	}
}

// EmitBatchOption controls numeric delivery in raw mode: when true each chunk
// yields one event carrying all of its elements, when false one event per
// element. It has no effect with framing enabled.
func EmitBatchOption(batch bool) Option {
	return func(o *options) {
		o.emitBatch = batch
	}
}

// BufferSizeOption returns an Option that sets the size of the outbound queue.
// A larger queue allows more sends before backpressure applies.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// HeartbeatOption returns an Option that sets the heartbeat interval.
// This determines the read/write deadline timeout (heartbeat * 2). A missed
// deadline is reported as an error event; a stream keeps running unless the
// OnErrorOption classifier returns Disconnect for it. A WebSocket cannot be
// read or written after a missed deadline and always closes.
func HeartbeatOption(heartbeat time.Duration) Option {
	return func(o *options) {
		o.heartbeat = heartbeat
	}
}

// MessageMaxSize returns an Option that sets the maximum message size.
// A length prefix above it is a protocol violation and closes the connection.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxReadLength = size
	}
}

// OnErrorOption returns an Option that sets the error classifier.
// The callback is invoked for each transport error after it is reported.
// Return Disconnect to close the connection, or Continue to keep it open and
// keep reading and writing the stream. The default disconnects on errors
// IsTerminal reports.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MetricsOption returns an Option that records connection activity in m.
func MetricsOption(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
