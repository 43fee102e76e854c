// Capture daemon - owns display streams, region selection, and change
// detection for the whiteboard UI process.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/meshflow/capture/internal/bus"
	"github.com/meshflow/capture/internal/capture"
	"github.com/meshflow/capture/internal/config"
	"github.com/meshflow/capture/internal/overlay"
	"github.com/meshflow/capture/internal/persist"
	"github.com/meshflow/capture/internal/server"
	"github.com/meshflow/capture/internal/stream"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	_ = godotenv.Load()
	cfg := config.Load()

	b := bus.New()
	defer b.Close()

	records := persist.New(cfg.PersistAddr)
	helper := overlay.NewClient(cfg.OverlayBin, time.Duration(cfg.OverlayTimeout*float64(time.Second)))

	mgr := capture.NewManager(
		stream.NewDisplaySource(),
		capture.NewBusSink(b),
		records,
		capture.NewOverlayOpener(helper),
		b,
	)

	srv := server.New(mgr, b, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("capture daemon starting", "http", cfg.HTTPAddr, "persist", cfg.PersistAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	mgr.Stop()
	slog.Info("shutdown complete")
}
