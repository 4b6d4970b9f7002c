package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	socket "github.com/Zereker/typedsocket"
	"github.com/Zereker/typedsocket/wiretype"
)

type flags struct {
	addr        string
	config      string
	logLevel    string
	metricsAddr string
	websocket   bool
}

func main() {
	var f flags

	rootCmd := &cobra.Command{
		Use:           "echo",
		Short:         "Echo typed values over a framed socket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&f.addr, "addr", "127.0.0.1:12345", "address to listen on or dial")
	rootCmd.PersistentFlags().StringVar(&f.config, "config", "", "TOML file with socket options")
	rootCmd.PersistentFlags().StringVar(&f.logLevel, "log-level", "info", "log level")
	rootCmd.PersistentFlags().BoolVar(&f.websocket, "websocket", false, "carry frames over a WebSocket")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Echo every received value back to its sender",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), f)
		},
	}
	serveCmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	sendCmd := &cobra.Command{
		Use:   "send VALUE...",
		Short: "Send values and print what comes back",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd.Context(), f, args)
		},
	}

	rootCmd.AddCommand(serveCmd, sendCmd)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func newLogger(f flags) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  "echo",
		Level: hclog.LevelFromString(f.logLevel),
	})
}

func connOptions(f flags, logger hclog.Logger) ([]socket.Option, socket.Config, error) {
	cfg := socket.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = socket.LoadConfig(f.config); err != nil {
			return nil, cfg, err
		}
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, cfg, err
	}
	return append(opts, socket.LoggerOption(logger)), cfg, nil
}

func serve(ctx context.Context, f flags) error {
	logger := newLogger(f)
	opts, _, err := connOptions(f, logger)
	if err != nil {
		return err
	}

	if f.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, socket.MetricsOption(socket.NewMetrics(reg, "")))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(f.metricsAddr, mux); err != nil {
				logger.Error("metrics server", "error", err.Error())
			}
		}()
	}

	if f.websocket {
		return serveWebSocket(ctx, f, opts, logger)
	}

	addr, err := net.ResolveTCPAddr("tcp", f.addr)
	if err != nil {
		return err
	}

	server, err := socket.New(addr,
		socket.ServerLoggerOption(logger),
		socket.ServerConnOptions(opts...))
	if err != nil {
		return err
	}

	err = server.Serve(ctx, socket.HandlerFunc(echoSink(ctx, logger)))
	server.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func echoSink(ctx context.Context, logger hclog.Logger) func(c *socket.Conn) socket.EventSink {
	return func(c *socket.Conn) socket.EventSink {
		return socket.SinkFuncs{
			Data: func(v any) {
				if err := c.Send(ctx, v); err != nil {
					logger.Warn("echo failed", "addr", c.Addr(), "error", err.Error())
				}
			},
			Error: func(err error) {
				logger.Warn("connection error", "addr", c.Addr(), "error", err.Error())
			},
		}
	}
}

func serveWebSocket(ctx context.Context, f flags, opts []socket.Option, logger hclog.Logger) error {
	upgrader := websocket.Upgrader{}
	handler := socket.HandlerFunc(echoSink(ctx, logger))

	srv := &http.Server{
		Addr: f.addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ws, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				logger.Warn("upgrade failed", "error", err.Error())
				return
			}

			if err := socket.ServeWebSocket(ctx, ws, handler, opts...); err != nil && err != context.Canceled {
				logger.Debug("websocket connection ended", "error", err.Error())
			}
		}),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("websocket server started", "addr", f.addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func send(ctx context.Context, f flags, args []string) error {
	logger := newLogger(f)
	opts, cfg, err := connOptions(f, logger)
	if err != nil {
		return err
	}
	sendType, err := wiretype.Parse(cfg.SendType)
	if err != nil {
		return err
	}

	values := make([]any, 0, len(args))
	for _, arg := range args {
		v, err := parseValue(arg, sendType)
		if err != nil {
			return err
		}
		values = append(values, v)
	}

	got := make(chan any, len(values))
	closed := make(chan struct{})
	sink := socket.SinkFuncs{
		Data:  func(v any) { got <- v },
		Error: func(err error) { logger.Warn("connection error", "error", err.Error()) },
		Close: func() { close(closed) },
	}

	var c *socket.Conn
	if f.websocket {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+f.addr, nil)
		if err != nil {
			return err
		}
		c, err = socket.WrapWebSocket(ws, sink, opts...)
		if err != nil {
			return err
		}
	} else {
		var d net.Dialer
		nc, err := d.DialContext(ctx, "tcp", f.addr)
		if err != nil {
			return err
		}
		c, err = socket.Wrap(nc, sink, opts...)
		if err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = c.Run(runCtx) }()

	for _, v := range values {
		if err := c.Send(ctx, v); err != nil {
			return err
		}
	}

	for range values {
		select {
		case v := <-got:
			fmt.Println(v)
		case <-closed:
			return socket.ErrSocketClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.Close()
}

func parseValue(arg string, t wiretype.Type) (any, error) {
	switch {
	case t == wiretype.String:
		return arg, nil
	case t.Numeric():
		return strconv.ParseFloat(arg, 64)
	default:
		return nil, fmt.Errorf("cannot send %s from the command line", t)
	}
}
