// Package dashboard serves the monitoring and control web UI.
package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ashwinkp/condorbot/internal/models"
	"github.com/ashwinkp/condorbot/internal/storage"
)

//go:embed web/dashboard.html
var webFS embed.FS

// Controller is the surface the dashboard drives on the running bot.
type Controller interface {
	Start() error
	Stop(exitPositions bool) error
	UpdateSessionToken(token string)
	UpdateGlobalConfig(params map[string]any) error
	UpdateIndexConfig(index string, params map[string]any) error
	EmergencyExit(index string) error
	EmergencyExitAll() error
	Snapshot() models.Snapshot
	MarketOpen() bool
}

// Config holds dashboard server settings.
type Config struct {
	Port      int
	AuthToken string
}

// Server is the chi-based dashboard HTTP server.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	controller Controller
	storage    storage.Interface
	logger     *logrus.Logger
	port       int
	authToken  string
}

// StatusResponse is the /api/status payload.
type StatusResponse struct {
	models.Snapshot
	MarketOpen bool               `json:"market_open"`
	Statistics storage.Statistics `json:"statistics"`
}

// NewServer creates the dashboard server and wires its routes.
func NewServer(cfg Config, controller Controller, store storage.Interface, logger *logrus.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		controller: controller,
		storage:    store,
		logger:     logger,
		port:       cfg.Port,
		authToken:  cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/", s.handleIndex)
	s.router.Get("/health", s.handleHealth)

	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/trades", s.handleTrades)
	s.router.Post("/api/bot/start", s.handleStart)
	s.router.Post("/api/bot/stop", s.handleStop)
	s.router.Post("/api/token/update", s.handleTokenUpdate)
	s.router.Post("/api/config/global", s.handleGlobalConfig)
	s.router.Post("/api/config/{index}", s.handleIndexConfig)
	s.router.Post("/api/emergency-exit/{index}", s.handleEmergencyExit)
	s.router.Post("/api/emergency-exit-all", s.handleEmergencyExitAll)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	page, err := webFS.ReadFile("web/dashboard.html")
	if err != nil {
		s.logger.WithError(err).Error("Failed to read dashboard page")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, StatusResponse{
		Snapshot:   s.controller.Snapshot(),
		MarketOpen: s.controller.MarketOpen(),
		Statistics: s.storage.GetStatistics(),
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if date := r.URL.Query().Get("date"); date != "" {
		s.writeJSON(w, http.StatusOK, s.storage.GetTradesForDate(date))
		return
	}
	s.writeJSON(w, http.StatusOK, s.storage.GetTrades())
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.controller.Start(); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExitPositions bool `json:"exit_positions"`
	}
	// An empty body means stop without exiting positions
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := s.controller.Stop(req.ExitPositions); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "stopped",
		"exit_positions": req.ExitPositions,
	})
}

func (s *Server) handleTokenUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("token is required"))
		return
	}

	s.controller.UpdateSessionToken(req.Token)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "token updated"})
}

func (s *Server) handleGlobalConfig(w http.ResponseWriter, r *http.Request) {
	params, ok := s.decodeParams(w, r)
	if !ok {
		return
	}
	if err := s.controller.UpdateGlobalConfig(params); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleIndexConfig(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")
	params, ok := s.decodeParams(w, r)
	if !ok {
		return
	}
	if err := s.controller.UpdateIndexConfig(index, params); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "index": index})
}

func (s *Server) handleEmergencyExit(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")
	if err := s.controller.EmergencyExit(index); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "exited", "index": index})
}

func (s *Server) handleEmergencyExitAll(w http.ResponseWriter, _ *http.Request) {
	if err := s.controller.EmergencyExitAll(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "exited"})
}

func (s *Server) decodeParams(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return nil, false
	}
	return params, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
