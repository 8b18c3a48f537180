// Package api serves the exchange over HTTP and WebSocket: order
// submission and cancellation, book snapshots, event lifecycle, and the
// live per-event book feed.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"predix/internal/config"
	"predix/internal/engine"
)

// Server runs the HTTP/WebSocket API.
type Server struct {
	cfg      config.ServerConfig
	engine   *engine.Engine
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the handlers, the hub, and the engine together. The hub is
// installed as the engine's notifier so every book change reaches
// subscribers.
func NewServer(cfg config.ServerConfig, eng *engine.Engine, logger *slog.Logger) *Server {
	hub := NewHub(eng.Snapshot, logger)
	eng.SetNotifier(hub)
	handlers := NewHandlers(eng, hub, cfg.AllowedOrigins, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/orders", handlers.HandleSubmitOrder)
	mux.HandleFunc("GET /api/orders/{id}", handlers.HandleGetOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", handlers.HandleCancelOrder)

	mux.HandleFunc("GET /api/orderbook/{event_id}", handlers.HandleSnapshot)
	mux.HandleFunc("GET /api/orderbook/{event_id}/depth", handlers.HandleDepth)
	mux.HandleFunc("GET /ws/orderbook/{event_id}", handlers.HandleStream)

	mux.HandleFunc("POST /api/events", handlers.HandleCreateEvent)
	mux.HandleFunc("GET /api/events", handlers.HandleListEvents)
	mux.HandleFunc("GET /api/events/{id}", handlers.HandleGetEvent)
	mux.HandleFunc("POST /api/events/{id}/resolve", handlers.HandleResolveEvent)
	mux.HandleFunc("POST /api/events/{id}/resume", handlers.HandleResumeEvent)
	mux.HandleFunc("GET /api/events/{id}/trades", handlers.HandleEventTrades)

	mux.HandleFunc("POST /api/users", handlers.HandleCreateUser)
	mux.HandleFunc("GET /api/users/{id}", handlers.HandleGetUser)
	mux.HandleFunc("GET /api/users/{id}/orders", handlers.HandleUserOrders)
	mux.HandleFunc("GET /api/users/{id}/portfolios", handlers.HandleUserPortfolios)

	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /metrics", handlers.HandleMetrics)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		engine:   eng,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start runs the hub and serves until Stop is called.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Hub exposes the hub for tests.
func (s *Server) HubRef() *Hub { return s.hub }
