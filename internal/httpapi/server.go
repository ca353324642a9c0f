// Package httpapi exposes the automation service over HTTP: task control,
// history, settings and rule-group management, plus SSE and WebSocket
// event streams.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/feedpilot/feedpilot/internal/engine"
	"github.com/feedpilot/feedpilot/internal/health"
	"github.com/feedpilot/feedpilot/internal/history"
	"github.com/feedpilot/feedpilot/internal/settings"
	"github.com/feedpilot/feedpilot/internal/streaming"
)

// SessionFactory builds a ready-to-run session for the named platform
// using that platform's stored settings.
type SessionFactory func(ctx context.Context, platform string, s settings.Settings) (*engine.Session, error)

// Server wires the HTTP surface to the engine and stores.
type Server struct {
	registry *engine.Registry
	factory  SessionFactory
	stores   map[string]*settings.Store
	history  *history.Store
	events   *streaming.Manager
	health   *health.Manager
	logger   *zap.Logger
}

// NewServer assembles the API server. stores maps platform names to their
// settings stores; unknown platforms are rejected at request time. checker
// may be nil, in which case the health endpoint only confirms liveness.
func NewServer(registry *engine.Registry, factory SessionFactory, stores map[string]*settings.Store, hist *history.Store, events *streaming.Manager, checker *health.Manager, logger *zap.Logger) *Server {
	return &Server{
		registry: registry,
		factory:  factory,
		stores:   stores,
		history:  hist,
		events:   events,
		health:   checker,
		logger:   logger,
	}
}

// Routes returns the full route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/v1/tasks", s.handleStartTask)
	mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/stop", s.handleStopTask)

	mux.HandleFunc("GET /api/v1/history", s.handleListHistory)
	mux.HandleFunc("GET /api/v1/history/{id}", s.handleGetHistory)
	mux.HandleFunc("DELETE /api/v1/history/{id}", s.handleDeleteHistory)

	mux.HandleFunc("GET /api/v1/settings/{platform}", s.handleGetSettings)
	mux.HandleFunc("PUT /api/v1/settings/{platform}", s.handlePutSettings)
	mux.HandleFunc("POST /api/v1/settings/{platform}/groups", s.handleCreateGroup)
	mux.HandleFunc("PUT /api/v1/settings/{platform}/groups/{id}", s.handleUpdateGroup)
	mux.HandleFunc("DELETE /api/v1/settings/{platform}/groups/{id}", s.handleDeleteGroup)
	mux.HandleFunc("POST /api/v1/settings/{platform}/groups/{id}/copy", s.handleCopyGroup)

	mux.HandleFunc("GET /stream/sse", s.handleSSE)
	mux.HandleFunc("GET /stream/ws", s.handleWS)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	report := s.health.Check(r.Context())
	code := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (s *Server) settingsStore(w http.ResponseWriter, r *http.Request) (*settings.Store, bool) {
	platform := r.PathValue("platform")
	store, ok := s.stores[platform]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown platform: "+platform)
		return nil, false
	}
	return store, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
