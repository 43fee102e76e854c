// Overlay helper - privileged sibling process that runs the fullscreen
// region picker and reports the outcome to the capture daemon over stdio.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/meshflow/capture/internal/overlay"
	"github.com/meshflow/capture/internal/stream"
)

func main() {
	// The daemon reads protocol messages from stdout, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	input := overlay.NewHookSource()
	defer input.Close()

	runner := overlay.NewRunner(os.Stdin, os.Stdout, input, overlay.NewPlatformRenderer(), stream.VirtualBounds)
	if err := runner.Run(ctx); err != nil {
		slog.Error("overlay helper error", "error", err)
		os.Exit(1)
	}
}
