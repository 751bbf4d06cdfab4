// VAD stream server - accepts audio over WebSocket and streams speech events back
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/config"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/observe"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("VAD_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "vadstream"})
	if err != nil {
		slog.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}
	metrics := observe.DefaultMetrics()

	// Connect to the scorer backend
	backend, err := cfg.Backend(metrics)
	if err != nil {
		slog.Error("failed to open scorer backend", "scorer", cfg.Scorer, "addr", cfg.InferenceAddr, "error", err)
		os.Exit(1)
	}
	defer func() { _ = backend.Close() }()

	srv := server.New(cfg, backend.Scorer,
		server.WithMetrics(metrics),
		server.WithHealthCheck(backend.Health),
		server.WithScrapeHandler(observe.Handler()),
	)

	// Streams are long-lived, so no read or write timeout.
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("vad server starting",
			"http", cfg.HTTPAddr,
			"scorer", cfg.Scorer,
			"inference", cfg.InferenceAddr,
			"sample_rate", cfg.SampleRate,
			"block_size", cfg.BlockSize)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	if err := shutdownMetrics(shutdownCtx); err != nil {
		slog.Error("metrics shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
}
