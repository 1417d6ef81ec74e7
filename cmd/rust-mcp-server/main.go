// Command rust-mcp-server serves Rust code analysis tools over stdio,
// WebSocket or SSE.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	rustmcp "github.com/MaxParisotto/rust-mcp-server"
	"github.com/MaxParisotto/rust-mcp-server/analyzer"
	"github.com/MaxParisotto/rust-mcp-server/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Logs go to stderr so the stdio transport owns stdout.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	bridge := analyzer.NewBridge(analyzer.BridgeConfig{
		BinaryPath: cfg.AnalyzerPath,
		Timeout:    cfg.AnalyzerTimeout.Std(),
	}, logger)
	if !bridge.Available() {
		logger.Warn("analyzer binary unavailable, analysis will be degraded",
			slog.String("path", cfg.AnalyzerPath))
	}

	service := analyzer.NewService(bridge, analyzer.NewHistory(cfg.HistorySize), logger)

	registry := rustmcp.NewRegistry()
	if err := service.Register(registry); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	info := rustmcp.Info{Name: "rust-mcp-server", Version: "1.0.0"}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Transport {
	case config.TransportStdIO:
		return serveStdIO(ctx, info, registry, logger)
	case config.TransportWS:
		return serveWS(ctx, cfg.Listen, info, registry, logger)
	case config.TransportSSE:
		return serveSSE(ctx, cfg.Listen, info, registry, logger)
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func serveStdIO(ctx context.Context, info rustmcp.Info, registry *rustmcp.Registry, logger *slog.Logger) error {
	transport := rustmcp.NewStdIO(os.Stdin, os.Stdout, rustmcp.WithStdIOLogger(logger))
	srv := rustmcp.NewServer(info, transport, registry, rustmcp.WithServerLogger(logger))

	go srv.Serve()
	logger.Info("serving on stdio")

	<-ctx.Done()
	return shutdown(srv, logger)
}

func serveWS(ctx context.Context, listen string, info rustmcp.Info, registry *rustmcp.Registry, logger *slog.Logger) error {
	transport := rustmcp.NewWSServer(rustmcp.WithWSLogger(logger))
	srv := rustmcp.NewServer(info, transport, registry, rustmcp.WithServerLogger(logger))

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           transport.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go srv.Serve()
	go func() {
		logger.Info("serving websocket", slog.String("addr", listen))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("err", err.Error()))
		}
	}()

	<-ctx.Done()
	return shutdownHTTP(srv, httpSrv, logger)
}

func serveSSE(ctx context.Context, listen string, info rustmcp.Info, registry *rustmcp.Registry, logger *slog.Logger) error {
	messageURL := fmt.Sprintf("http://%s/message", listen)
	transport := rustmcp.NewSSEServer(messageURL, rustmcp.WithSSELogger(logger))
	srv := rustmcp.NewServer(info, transport, registry, rustmcp.WithServerLogger(logger))

	mux := http.NewServeMux()
	mux.Handle("/events", transport.HandleSSE())
	mux.Handle("/message", transport.HandleMessage())

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go srv.Serve()
	go func() {
		logger.Info("serving sse", slog.String("addr", listen))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("err", err.Error()))
		}
	}()

	<-ctx.Done()
	return shutdownHTTP(srv, httpSrv, logger)
}

func shutdown(srv rustmcp.Server, logger *slog.Logger) error {
	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

func shutdownHTTP(srv rustmcp.Server, httpSrv *http.Server, logger *slog.Logger) error {
	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	return httpSrv.Shutdown(ctx)
}
