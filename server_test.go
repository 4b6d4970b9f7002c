package socket

import (
	"context"
	"errors"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Zereker/typedsocket/wiretype"
)

// echoHandler implements Handler for testing
type echoHandler struct {
	mu    sync.Mutex
	conns []*Conn
	sinks []*recordingSink
}

func (h *echoHandler) Handle(c *Conn) EventSink {
	sink := newRecordingSink()
	sink.onData = func(v any) {
		_ = c.Send(context.Background(), v)
	}

	h.mu.Lock()
	h.conns = append(h.conns, c)
	h.sinks = append(h.sinks, sink)
	h.mu.Unlock()

	return sink
}

func (h *echoHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server, err := New(addr, append([]ServerOption{ServerLoggerOption(&mockLogger{})}, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return server
}

func dialTest(t *testing.T, server *Server, sink EventSink, opts ...Option) *Conn {
	t.Helper()
	nc, err := net.DialTCP("tcp", nil, server.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	c, err := Wrap(nc, sink, append([]Option{LoggerOption(&mockLogger{})}, opts...)...)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	return c
}

func TestNew(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	if server.listener == nil {
		t.Error("listener is nil")
	}
}

func TestNew_InvalidAddr(t *testing.T) {
	server1 := newTestServer(t)
	defer server1.Close()

	occupiedAddr := server1.listener.Addr().(*net.TCPAddr)
	_, err := New(occupiedAddr)
	if err == nil {
		t.Error("expected error for occupied port")
	}
}

func TestNew_InvalidConnOptions(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	_, err := New(addr, ServerConnOptions(ImageFormatOption("webp")))
	if !errors.Is(err, wiretype.ErrUnknownImageFormat) {
		t.Errorf("expected ErrUnknownImageFormat, got %v", err)
	}
}

func TestServer_Close(t *testing.T) {
	server := newTestServer(t)

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(context.Background(), &echoHandler{})
	}()

	time.Sleep(20 * time.Millisecond)
	if err := server.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestServer_ContextCancel(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, &echoHandler{})
	}()

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServer_ShutdownTimeoutBypass(t *testing.T) {
	server := newTestServer(t, ServerShutdownTimeoutOption(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, &echoHandler{})
	}()

	cancel()
	time.Sleep(20 * time.Millisecond)
	server.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not bypass the shutdown timeout")
	}
}

func TestServer_Echo(t *testing.T) {
	opts := []Option{SendTypeOption(wiretype.Double), ReceiveTypeOption(wiretype.Double)}
	server := newTestServer(t, ServerConnOptions(opts...))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := &echoHandler{}
	go server.Serve(ctx, handler)

	sink := newRecordingSink()
	client := dialTest(t, server, sink, opts...)
	go client.Run(ctx)

	if err := client.Send(ctx, []float64{1.5, -2}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := client.Send(ctx, 3); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	events := sink.waitFor(t, 2)
	if !reflect.DeepEqual(events[0].value, []float64{1.5, -2}) {
		t.Errorf("event 0 = %#v", events[0].value)
	}
	if events[1].value != float64(3) {
		t.Errorf("event 1 = %#v", events[1].value)
	}
	if handler.count() != 1 {
		t.Errorf("handler saw %d connections, want 1", handler.count())
	}

	client.Close()
	cancel()
	server.Close()
	server.Wait()
}

func TestServer_HandlerRejects(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Serve(ctx, HandlerFunc(func(*Conn) EventSink { return nil }))

	sink := newRecordingSink()
	client := dialTest(t, server, sink)
	go client.Run(ctx)

	events := sink.waitFor(t, 1)
	if events[len(events)-1].kind != "close" {
		t.Errorf("events = %v, want close", kinds(events))
	}
}
