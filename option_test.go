package socket

import (
	"errors"
	"testing"
	"time"

	"github.com/Zereker/typedsocket/wiretype"
)

func TestWireTypeOptions(t *testing.T) {
	var opts options
	SendTypeOption(wiretype.Float)(&opts)
	ReceiveTypeOption(wiretype.Long)(&opts)

	if opts.sendType != wiretype.Float {
		t.Errorf("sendType = %v, want FLOAT", opts.sendType)
	}
	if opts.receiveType != wiretype.Long {
		t.Errorf("receiveType = %v, want LONG", opts.receiveType)
	}
}

func TestRawBytesAndBatchOptions(t *testing.T) {
	var opts options
	RawBytesOption(true)(&opts)
	EmitBatchOption(true)(&opts)

	if !opts.rawBytes || !opts.emitBatch {
		t.Errorf("rawBytes = %v, emitBatch = %v, want true, true", opts.rawBytes, opts.emitBatch)
	}
}

func TestImageFormatOption(t *testing.T) {
	opts, err := buildOptions([]Option{ImageFormatOption("JPG")})
	if err != nil {
		t.Fatalf("buildOptions failed: %v", err)
	}
	if opts.imageFormat != "jpeg" {
		t.Errorf("imageFormat = %q, want jpeg", opts.imageFormat)
	}
}

func TestBufferSizeOption(t *testing.T) {
	opt := BufferSizeOption(100)

	var opts options
	opt(&opts)

	if opts.bufferSize != 100 {
		t.Errorf("bufferSize = %d, want 100", opts.bufferSize)
	}
}

func TestHeartbeatOption(t *testing.T) {
	heartbeat := time.Minute * 5
	opt := HeartbeatOption(heartbeat)

	var opts options
	opt(&opts)

	if opts.heartbeat != heartbeat {
		t.Errorf("heartbeat = %v, want %v", opts.heartbeat, heartbeat)
	}
}

func TestMessageMaxSize(t *testing.T) {
	opt := MessageMaxSize(4096)

	var opts options
	opt(&opts)

	if opts.maxReadLength != 4096 {
		t.Errorf("maxReadLength = %d, want 4096", opts.maxReadLength)
	}
}

func TestOnErrorOption(t *testing.T) {
	called := false
	onError := func(err error) ErrorAction {
		called = true
		return Continue
	}
	opt := OnErrorOption(onError)

	var opts options
	opt(&opts)

	if opts.onError == nil {
		t.Fatal("onError not set")
	}
	if opts.onError(errors.New("test")) != Continue {
		t.Error("onError returned wrong action")
	}
	if !called {
		t.Error("onError was not called")
	}
}

func TestLoggerOption(t *testing.T) {
	logger := &mockLogger{}

	var opts options
	LoggerOption(logger)(&opts)

	if opts.logger != logger {
		t.Error("logger not set correctly")
	}
}

func TestMetricsOption(t *testing.T) {
	m := &Metrics{}

	var opts options
	MetricsOption(m)(&opts)

	if opts.metrics != m {
		t.Error("metrics not set correctly")
	}
}

func TestCheckOptions_Defaults(t *testing.T) {
	opts, err := buildOptions(nil)
	if err != nil {
		t.Fatalf("buildOptions failed: %v", err)
	}

	if opts.bufferSize != defaultBufferSize {
		t.Errorf("bufferSize = %d, want %d", opts.bufferSize, defaultBufferSize)
	}
	if opts.maxReadLength != defaultMaxPackageLength {
		t.Errorf("maxReadLength = %d, want %d", opts.maxReadLength, defaultMaxPackageLength)
	}
	if opts.heartbeat != 0 {
		t.Errorf("heartbeat = %v, want 0", opts.heartbeat)
	}
	if opts.onError == nil || opts.logger == nil {
		t.Error("onError or logger not defaulted")
	}
	if opts.rawBytes || opts.emitBatch {
		t.Error("raw mode enabled by default")
	}
}

func TestCheckOptions_NegativeValues(t *testing.T) {
	opts, err := buildOptions([]Option{
		BufferSizeOption(-1),
		MessageMaxSize(-1),
		HeartbeatOption(-time.Second),
	})
	if err != nil {
		t.Fatalf("buildOptions failed: %v", err)
	}

	if opts.bufferSize != defaultBufferSize {
		t.Errorf("bufferSize = %d, want default", opts.bufferSize)
	}
	if opts.maxReadLength != defaultMaxPackageLength {
		t.Errorf("maxReadLength = %d, want default", opts.maxReadLength)
	}
	if opts.heartbeat != 0 {
		t.Errorf("heartbeat = %v, want 0", opts.heartbeat)
	}
}

func TestDefaultOnError(t *testing.T) {
	if defaultOnError(ErrProtocol) != Disconnect {
		t.Error("protocol violation should disconnect")
	}
	if defaultOnError(errors.New("transient")) != Continue {
		t.Error("transient error should continue")
	}
}
