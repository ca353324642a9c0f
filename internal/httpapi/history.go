package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/feedpilot/feedpilot/internal/history"
)

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	platform := r.URL.Query().Get("platform")
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := s.history.ListRecords(r.Context(), platform, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	rec, err := s.history.GetRecord(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, history.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.history.DeleteRecord(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, history.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
