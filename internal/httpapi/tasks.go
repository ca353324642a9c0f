package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/feedpilot/feedpilot/internal/engine"
)

type startTaskRequest struct {
	Platform string `json:"platform"`
}

// handleStartTask creates a session from the platform's stored settings
// and runs it. One session at a time; a second start returns 409.
func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	var req startTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	store, ok := s.stores[req.Platform]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown platform: "+req.Platform)
		return
	}

	cfg, err := store.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load settings: "+err.Error())
		return
	}
	sess, err := s.factory(r.Context(), req.Platform, cfg)
	if err != nil {
		var cfgErr *engine.ConfigError
		if errors.As(err, &cfgErr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The session outlives the request.
	id, err := s.registry.Start(context.Background(), sess)
	if err != nil {
		if errors.Is(err, engine.ErrSessionActive) {
			writeError(w, http.StatusConflict, "a session is already running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("Task started via API",
		zap.String("task_id", id), zap.String("platform", req.Platform))
	writeJSON(w, http.StatusCreated, sess.Status())
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	st, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStopTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.Stop(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Info("Task stop requested via API", zap.String("task_id", id))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}
