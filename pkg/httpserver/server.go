// Package httpserver exposes the REST control surface, the dashboard
// websocket and the operational endpoints.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jdtrading/mt5-copier/internal/adapter"
	"github.com/jdtrading/mt5-copier/internal/broadcast"
	"github.com/jdtrading/mt5-copier/internal/engine"
	"github.com/jdtrading/mt5-copier/internal/storage"
	"github.com/jdtrading/mt5-copier/pkg/config"
	"github.com/jdtrading/mt5-copier/pkg/healthprobe"
)

// Server provides the REST API, websocket and health endpoints.
type Server struct {
	server        *http.Server
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
}

// Config holds server configuration.
type Config struct {
	Port          string
	Logger        *zap.Logger
	HealthChecker *healthprobe.HealthChecker
	Engine        *engine.Engine
	Master        adapter.Adapter
	Copiers       []adapter.Adapter
	Hub           *broadcast.Hub
	Settings      *config.SettingsStore
	Store         storage.Storage
}

// New creates a new HTTP server.
func New(cfg *Config) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", cfg.HealthChecker.Health())
	r.Get("/ready", cfg.HealthChecker.Ready())

	api := NewAPIHandler(cfg.Engine, cfg.Master, cfg.Copiers, cfg.Settings, cfg.Store, cfg.Logger)
	r.Route("/api", func(r chi.Router) {
		// Status polls and the websocket cannot afford a stuck writer;
		// everything else gets a request timeout.
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/status", api.HandleStatus)
		r.Get("/mt5/status", api.HandleTerminalStatus)
		r.Post("/start", api.HandleStart)
		r.Post("/stop", api.HandleStop)
		r.Get("/config", api.HandleGetConfig)
		r.Post("/config", api.HandleSetConfig)
		r.Get("/activity", api.HandleActivity)
	})

	if cfg.Hub != nil {
		r.Get("/ws", cfg.Hub.ServeWS)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		server:        server,
		logger:        cfg.Logger,
		healthChecker: cfg.HealthChecker,
	}
}

// Start starts the HTTP server.
// This is a blocking call that returns when the server stops or encounters an error.
func (s *Server) Start() error {
	s.logger.Info("http-server-starting", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http-server-shutting-down")

	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("http-server-shutdown-complete")
	return nil
}
