package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"duochat/internal/server"
	"duochat/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run initializes every component, manages the server lifecycle, and
// centralizes error reporting so deferred cleanup always executes.
func run() error {
	// Populate the environment from .env before anything reads it.
	_ = godotenv.Load()

	cfg, err := server.LoadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	st, err := store.Open(cfg.DataDir, log.With("component", "store"))
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer func() {
		log.Info("closing store")
		_ = st.Close()
	}()

	app := server.NewApp(cfg, st, log)
	app.Start()

	httpServer := server.CreateServer(cfg.Port, app.Routes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Port)
		errCh <- server.StartServer(httpServer)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		log.Warn("http shutdown error", "error", err)
	}
	return app.Shutdown(shutdownTimeout)
}
