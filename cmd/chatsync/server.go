package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chatsync/internal/constants"
	"chatsync/internal/metrics"
	"chatsync/internal/middleware"
	"chatsync/internal/models"
	"chatsync/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server exposes local observability endpoints for the sync engine.
type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	cfg      *models.Config
	chat     *service.ChatService
	registry *metrics.Registry
	server   *http.Server
}

func NewServer(cfg *models.Config, chat *service.ChatService, registry *metrics.Registry, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		cfg:      cfg,
		chat:     chat,
		registry: registry,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.registry, s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.Infof("Starting status server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			s.logger.Warnf("Failed to write health response: %v", err)
		}
	}
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, s.chat.GetStatus())
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, s.registry.Snapshot())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warnf("Failed to encode response: %v", err)
	}
}
