// Command h3core runs a minimal HTTP/3 demonstration server: it accepts
// QUIC connections, drives each request stream through a RecvDriver/
// SendDriver pair, and either echoes the request body back as the
// response body or, for an extended CONNECT "websocket" request,
// bridges the stream into a WebSocket echo endpoint.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/sadewadee/h3core/internal/config"
	"github.com/sadewadee/h3core/internal/h3conn"
	"github.com/sadewadee/h3core/internal/h3diag"
	"github.com/sadewadee/h3core/internal/h3request"
	"github.com/sadewadee/h3core/internal/h3response"
	"github.com/sadewadee/h3core/internal/h3sched"
	"github.com/sadewadee/h3core/internal/h3stream"
	"github.com/sadewadee/h3core/internal/h3wire"
	"github.com/sadewadee/h3core/internal/tlsutil"
	"github.com/sadewadee/h3core/internal/wsbridge"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve", "start":
		serve()
	case "version":
		fmt.Printf("h3core v%s\n", version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func serve() {
	cfgPath := "h3core.yaml"
	if len(os.Args) > 2 {
		cfgPath = os.Args[2]
	}

	logger, startupCloser := setupLogger("info", "json", "stdout")
	if startupCloser != nil {
		defer startupCloser.Close()
	}
	logger.Info("h3core starting", "version", version)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if startupCloser != nil {
		_ = startupCloser.Close()
		startupCloser = nil
	}
	logger, logCloser := setupLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if logCloser != nil {
		defer logCloser.Close()
	}

	tlsConf, err := tlsutil.Config(cfg.Server.TLS.Cert, cfg.Server.TLS.Key)
	if err != nil {
		logger.Error("failed to build TLS config", "error", err)
		os.Exit(1)
	}

	var tracer *h3diag.Tracer
	if cfg.Diagnostics.TraceEnabled {
		f, err := os.OpenFile(cfg.Diagnostics.TracePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Error("failed to open trace sink", "path", cfg.Diagnostics.TracePath, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		tracer = h3diag.NewTracer(f)
	}

	sched := h3sched.New(h3sched.Config{
		MaxConcurrentDrivers: cfg.Scheduler.MaxConcurrentDrivers,
		SubmitTimeout:        cfg.Scheduler.SubmitTimeout.Duration(),
	}, logger)

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.Server.Address)
	if err != nil {
		logger.Error("invalid server.address", "address", cfg.Server.Address, "error", err)
		os.Exit(1)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		logger.Error("failed to bind UDP socket", "address", cfg.Server.Address, "error", err)
		os.Exit(1)
	}

	transport := &quic.Transport{Conn: udpConn}
	listener, err := transport.Listen(tlsConf, &quic.Config{MaxIdleTimeout: 60 * time.Second})
	if err != nil {
		logger.Error("failed to start QUIC listener", "error", err)
		os.Exit(1)
	}

	srv := &demoServer{
		cfg:    cfg,
		sched:  sched,
		tracer: tracer,
		logger: logger,
		bridge: wsbridge.NewBridge(logger),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.acceptLoop(ctx, listener)

	logger.Info("h3core ready", "address", cfg.Server.Address)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	cancel()
	sched.Stop()
	if err := listener.Close(); err != nil {
		logger.Error("listener close error", "error", err)
	}
	if err := transport.Close(); err != nil {
		logger.Error("transport close error", "error", err)
	}

	logger.Info("h3core stopped")
}

// demoServer drives the accept loop: one ConnectionRef per QUIC
// connection, one RecvDriver/SendDriver pair per request stream.
type demoServer struct {
	cfg    *config.Config
	sched  *h3sched.Scheduler
	tracer *h3diag.Tracer
	logger *slog.Logger
	bridge *wsbridge.Bridge
}

func (s *demoServer) acceptLoop(ctx context.Context, listener *quic.Listener) {
	for {
		qconn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("accept error", "error", err)
			continue
		}
		go s.handleConnection(ctx, qconn)
	}
}

func (s *demoServer) handleConnection(ctx context.Context, qconn *quic.Conn) {
	conn := h3conn.NewConnectionRef(nil)
	for {
		qs, err := qconn.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Debug("stream accept ended", "error", err)
			}
			return
		}
		stream := h3stream.NewQUICStream(qs)
		conn.RegisterInFlight(stream.StreamID())
		go func() {
			label := fmt.Sprintf("stream-%d", stream.StreamID())
			if err := s.sched.Run(ctx, label, func(ctx context.Context) error {
				return s.handleStream(ctx, conn, stream)
			}); err != nil {
				s.logger.Warn("request handling failed", "stream", stream.StreamID(), "error", err)
			}
		}()
	}
}

func (s *demoServer) handleStream(ctx context.Context, conn *h3conn.ConnectionRef, stream *h3stream.QUICStream) error {
	rd := h3response.NewRecvDriver(stream, stream.StreamID(), conn)
	header, body, err := rd.Run(ctx)
	if err != nil {
		return fmt.Errorf("receive request: %w", err)
	}
	if s.tracer != nil {
		s.tracer.Trace(stream.StreamID(), h3wire.FrameTypeHeaders, h3diag.DirectionRecv, 0)
	}

	if wsbridge.IsWebSocketUpgrade(header) {
		return s.handleWebSocket(ctx, conn, stream, body)
	}
	return s.handleEcho(ctx, conn, stream, body)
}

// handleEcho reads the whole request body, then sends a 200 response
// echoing it back, the simplest possible exercise of a full
// RecvDriver-then-SendDriver round trip.
func (s *demoServer) handleEcho(ctx context.Context, conn *h3conn.ConnectionRef, stream *h3stream.QUICStream, body *h3response.BodyReader) error {
	var buf []byte
	for {
		chunk, ok, err := body.NextChunk(ctx)
		if err != nil {
			return fmt.Errorf("read request body: %w", err)
		}
		if !ok {
			break
		}
		buf = append(buf, chunk...)
	}

	respHeader := h3conn.Header{Pseudo: h3conn.PseudoHeaders{Status: "200"}}
	producer := &bufferProducer{data: buf}
	sd := h3request.NewSendDriver(stream, stream.StreamID(), conn, respHeader, producer, true)
	if err := sd.Run(ctx); err != nil {
		return fmt.Errorf("send response: %w", err)
	}
	return nil
}

func (s *demoServer) handleWebSocket(ctx context.Context, conn *h3conn.ConnectionRef, stream *h3stream.QUICStream, body *h3response.BodyReader) error {
	ds, producer := wsbridge.NewDuplexStream(ctx, body)
	sd := h3request.NewSendDriver(stream, stream.StreamID(), conn, wsbridge.UpgradeResponse(), producer, true)

	sendErr := make(chan error, 1)
	go func() { sendErr <- sd.Run(ctx) }()

	if err := s.bridge.ServeEcho(ctx, ds); err != nil {
		return fmt.Errorf("websocket bridge: %w", err)
	}
	ds.Close()
	return <-sendErr
}

// bufferProducer is a BodyProducer over an already-fully-read byte slice,
// the demo server's simplest possible response body source.
type bufferProducer struct {
	data []byte
	sent bool
}

func (p *bufferProducer) NextChunk(ctx context.Context) ([]byte, bool, error) {
	if p.sent {
		return nil, false, nil
	}
	p.sent = true
	if len(p.data) == 0 {
		return nil, false, nil
	}
	return p.data, true, nil
}

func (p *bufferProducer) Trailers(ctx context.Context) (h3conn.Header, bool, error) {
	return h3request.NoTrailers(ctx)
}

func setupLogger(level, format, output string) (*slog.Logger, io.Closer) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	writer, closer := resolveLogOutput(output)
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}

	return slog.New(handler), closer
}

func resolveLogOutput(output string) (io.Writer, io.Closer) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return os.Stdout, nil
		}
		return f, f
	}
}

func printUsage() {
	fmt.Println(`h3core - HTTP/3 client/server runtime core

Usage:
  h3core <command> [options]

Commands:
  serve [config]   Start the demo server (default config: h3core.yaml)
  start [config]   Alias for serve
  version          Show version
  help             Show this help

Signals:
  SIGINT/SIGTERM   Graceful shutdown

Examples:
  h3core serve
  h3core serve /etc/h3core/h3core.yaml
  h3core version`)
}
