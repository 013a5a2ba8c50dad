// Package server assembles the HTTP API: gorilla/mux routing, the
// middleware chain and graceful shutdown. It binds to loopback by
// default; the monitor is a desktop companion, not a public service.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"meshmon/internal/config"
	"meshmon/internal/handler"
	"meshmon/internal/logger"
	"meshmon/internal/middleware"
	"meshmon/internal/websocket"
)

const (
	readTimeout    = 15 * time.Second
	writeTimeout   = 15 * time.Second
	maxHeaderBytes = 1 << 20
)

type Server struct {
	httpServer *http.Server
	router     *mux.Router
	cfg        *config.Manager
	log        *logger.Logger
}

func New(cfg *config.Manager, log *logger.Logger) *Server {
	router := mux.NewRouter()

	host := cfg.GetString("server.host", "127.0.0.1")
	port := cfg.GetInt("server.port", 8420)
	addr := fmt.Sprintf("%s:%d", host, port)
	if env := os.Getenv("MESHMON_ADDR"); env != "" {
		addr = env
	}

	return &Server{
		router: router,
		cfg:    cfg,
		log:    log.Component("server"),
		httpServer: &http.Server{
			Addr:           addr,
			Handler:        router,
			ReadTimeout:    readTimeout,
			WriteTimeout:   writeTimeout,
			MaxHeaderBytes: maxHeaderBytes,
		},
	}
}

// RegisterHandlers wires every endpoint. The API lives under /api/v1
// behind the middleware chain; health probes stay on the root router.
func (s *Server) RegisterHandlers(
	nodeHandler *handler.NodeHandler,
	messageHandler *handler.MessageHandler,
	statusHandler *handler.StatusHandler,
	alertHandler *handler.AlertHandler,
	reportHandler *handler.ReportHandler,
	healthHandler *handler.HealthHandler,
	hub *websocket.Hub,
) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.Use(middleware.RequestLogger(s.log))
	api.Use(middleware.CORS(s.cfg.GetStringSlice("server.cors_allowed_origins")))
	api.Use(middleware.Recovery(s.log))

	if s.cfg.GetBool("server.enable_rate_limit", false) {
		api.Use(middleware.RateLimit(s.cfg.GetInt("server.rate_limit_per_minute", 120)))
	}

	nodeHandler.RegisterRoutes(api)
	messageHandler.RegisterRoutes(api)
	statusHandler.RegisterRoutes(api)
	alertHandler.RegisterRoutes(api)
	reportHandler.RegisterRoutes(api)
	healthHandler.RegisterRoutes(s.router)

	api.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWs(hub, w, r, s.log)
	}).Methods("GET")

	s.log.Info("All handlers registered")
}

// Addr returns the listen address, mainly for startup logging.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func (s *Server) Start() error {
	s.log.Info("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}
