package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/feedpilot/feedpilot/internal/rules"
	"github.com/feedpilot/feedpilot/internal/settings"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	store, ok := s.settingsStore(w, r)
	if !ok {
		return
	}
	cfg, err := store.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	store, ok := s.settingsStore(w, r)
	if !ok {
		return
	}
	var cfg settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings body")
		return
	}
	if err := store.Save(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type createGroupRequest struct {
	Group    rules.Group `json:"group"`
	ParentID string      `json:"parent_id,omitempty"`
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	store, ok := s.settingsStore(w, r)
	if !ok {
		return
	}
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid group body")
		return
	}
	cfg, err := store.CreateRuleGroup(r.Context(), req.Group, req.ParentID)
	if err != nil {
		writeGroupError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	store, ok := s.settingsStore(w, r)
	if !ok {
		return
	}
	var g rules.Group
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeError(w, http.StatusBadRequest, "invalid group body")
		return
	}
	cfg, err := store.UpdateRuleGroup(r.Context(), r.PathValue("id"), g)
	if err != nil {
		writeGroupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	store, ok := s.settingsStore(w, r)
	if !ok {
		return
	}
	cfg, err := store.DeleteRuleGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeGroupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type copyGroupRequest struct {
	ParentID string `json:"parent_id,omitempty"`
}

func (s *Server) handleCopyGroup(w http.ResponseWriter, r *http.Request) {
	store, ok := s.settingsStore(w, r)
	if !ok {
		return
	}
	var req copyGroupRequest
	if r.Body != nil {
		// An empty body copies to the root level.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	cfg, err := store.CopyRuleGroup(r.Context(), r.PathValue("id"), req.ParentID)
	if err != nil {
		writeGroupError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func writeGroupError(w http.ResponseWriter, err error) {
	if errors.Is(err, rules.ErrGroupNotFound) {
		writeError(w, http.StatusNotFound, "rule group not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
