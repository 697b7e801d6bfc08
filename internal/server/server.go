// Package server assembles the application and runs the HTTP service with
// production defaults.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"duochat/internal/store"
)

// App wires the hub, presence registry, router, chat service, and HTTP
// handlers over a shared store and logger.
type App struct {
	Config   *Config
	Hub      *Hub
	Registry *Registry
	Router   *Router
	Chat     *ChatService
	Handlers *Handlers
	log      *slog.Logger
}

// NewApp builds the full component graph. The store stays owned by the
// caller, which also closes it.
func NewApp(cfg *Config, st *store.Store, log *slog.Logger) *App {
	hub := NewHub(log)
	registry := NewRegistry(hub, cfg.Grace(), log)
	hub.AttachRegistry(registry)

	router := NewRouter(hub, registry, st, cfg.UserList(), log)
	hub.AttachRouter(router)

	userA, userB := cfg.UserPair()
	chat := NewChatService(st, hub, userA, userB, log)
	handlers := NewHandlers(cfg, hub, chat, log)

	return &App{
		Config:   cfg,
		Hub:      hub,
		Registry: registry,
		Router:   router,
		Chat:     chat,
		Handlers: handlers,
		log:      log,
	}
}

// Start launches the hub's run loop.
func (a *App) Start() {
	go a.Hub.Run()
	a.log.Info("hub started")
}

// Routes returns the application's HTTP mux.
func (a *App) Routes() *http.ServeMux {
	return a.Handlers.Routes()
}

// Shutdown stops the hub, closing every live connection.
func (a *App) Shutdown(timeout time.Duration) error {
	return a.Hub.Shutdown(timeout)
}

// CreateServer configures an HTTP server with timeouts suitable for
// production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartServer begins listening and blocks until the server exits.
func StartServer(server *http.Server) error {
	return server.ListenAndServe()
}

// ShutdownServer gracefully stops the HTTP server, waiting for in-flight
// requests up to the timeout.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(ctx)
}
