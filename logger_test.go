package socket

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

func TestLogger_Interface(t *testing.T) {
	// Verify that *slog.Logger and hclog implement our Logger interface
	var _ Logger = slog.Default()
	var _ Logger = hclog.NewNullLogger()
}

func TestDefaultLogger(t *testing.T) {
	logger := defaultLogger()

	if logger == nil {
		t.Fatal("defaultLogger returned nil")
	}

	if logger != slog.Default() {
		t.Error("defaultLogger did not return slog.Default()")
	}
}

// mockLogger for testing Logger interface
type mockLogger struct {
	mu          sync.Mutex
	debugCalled bool
	infoCalled  bool
	warnCalled  bool
	errorCalled bool
	lastMsg     string
	lastArgs    []any
}

func (l *mockLogger) record(flag *bool, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*flag = true
	l.lastMsg = msg
	l.lastArgs = args
}

func (l *mockLogger) Debug(msg string, args ...any) { l.record(&l.debugCalled, msg, args) }
func (l *mockLogger) Info(msg string, args ...any)  { l.record(&l.infoCalled, msg, args) }
func (l *mockLogger) Warn(msg string, args ...any)  { l.record(&l.warnCalled, msg, args) }
func (l *mockLogger) Error(msg string, args ...any) { l.record(&l.errorCalled, msg, args) }

// lastValue returns the value logged for key by the most recent call.
func (l *mockLogger) lastValue(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i+1 < len(l.lastArgs); i += 2 {
		if l.lastArgs[i] == key {
			return l.lastArgs[i+1], true
		}
	}
	return nil, false
}

func (l *mockLogger) called() (debug, info, warn, err bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debugCalled, l.infoCalled, l.warnCalled, l.errorCalled
}

func TestConn_UsesCustomLogger(t *testing.T) {
	logger := &mockLogger{}
	c := newTestConn(t, &fakeTransport{}, newRecordingSink(),
		LoggerOption(logger), MessageMaxSize(4))

	c.Receive([]byte{200})

	debug, _, _, _ := logger.called()
	if !debug {
		t.Error("expected the protocol violation to be logged at debug level")
	}
}

func TestConn_HclogLogger(t *testing.T) {
	logger := hclog.New(&hclog.LoggerOptions{Name: "test", Level: hclog.Off})
	c, err := NewConn(&fakeTransport{}, newRecordingSink(), LoggerOption(logger))
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}
	if c.logger != Logger(logger) {
		t.Error("hclog logger not used")
	}
}

func TestConn_LogsErrorText(t *testing.T) {
	logger := &mockLogger{}
	c := newTestConn(t, &fakeTransport{}, newRecordingSink(),
		LoggerOption(logger),
		OnErrorOption(func(error) ErrorAction { return Continue }))

	c.Fail(errors.Wrap(errors.New("reset"), "read"))

	v, ok := logger.lastValue("error")
	if !ok {
		t.Fatal("error not logged")
	}
	if v != "read: reset" {
		t.Errorf("logged error = %#v, want the message text", v)
	}
}

func TestConn_RunLogsErrorWithoutStack(t *testing.T) {
	p1, p2 := net.Pipe()
	defer p2.Close()

	logger := &mockLogger{}
	c, err := Wrap(p1, newRecordingSink(),
		LoggerOption(logger),
		HeartbeatOption(5*time.Millisecond),
		OnErrorOption(func(error) ErrorAction { return Disconnect }))
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	if err := c.Run(context.Background()); err == nil {
		t.Fatal("Run returned nil after a timeout")
	}

	v, _ := logger.lastValue("error")
	text, ok := v.(string)
	if !ok {
		t.Fatalf("logged error = %#v, want a string", v)
	}
	if strings.Contains(text, "\n") {
		t.Errorf("logged error spans lines: %q", text)
	}
}
