// ABOUTME: Minimal fake agent backend for local runs, streams echo replies with markdown and images.
// ABOUTME: Usage: fake-agent [-addr localhost:8090] [-secret S] [-image-every 3] [-chunk-delay 40ms]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-combat/internal/agentsim"
	"github.com/2389/coven-combat/internal/auth"
	"github.com/2389/coven-combat/internal/stream"
)

func main() {
	addr := flag.String("addr", "localhost:8090", "HTTP listen address")
	secret := flag.String("secret", os.Getenv("COVEN_JWT_SECRET"), "HS256 secret; when set, requests need a bearer token")
	path := flag.String("path", stream.DefaultStreamPath, "stream endpoint path")
	publicURL := flag.String("public-url", "", "base URL for image links (default http://<addr>)")
	imageEvery := flag.Int("image-every", 3, "attach an image every N turns of a conversation (0 disables)")
	chunkDelay := flag.Duration("chunk-delay", 40*time.Millisecond, "delay between streamed chunks")
	sse := flag.Bool("sse", false, "prefix frames with 'data: '")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger, *addr, *secret, *path, *publicURL, *imageEvery, *chunkDelay, *sse); err != nil {
		logger.Error("fake-agent failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, addr, secret, path, publicURL string, imageEvery int, chunkDelay time.Duration, sse bool) error {
	if publicURL == "" {
		publicURL = "http://" + addr
	}

	cfg := agentsim.Config{
		Script:     agentsim.EchoScript{ImageEvery: imageEvery, ImageBaseURL: publicURL},
		StreamPath: path,
		ChunkDelay: chunkDelay,
		SSE:        sse,
		Logger:     logger,
	}
	if secret != "" {
		cfg.Verifier = auth.NewSigner([]byte(secret))
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	srv := &http.Server{
		Handler:           agentsim.NewServer(cfg).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		logger.Info("fake agent listening",
			"addr", lis.Addr().String(),
			"path", path,
			"auth", secret != "",
			"image_every", imageEvery,
		)
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
