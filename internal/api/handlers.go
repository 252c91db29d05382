package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/market-scanner/internal/types"
)

// handleGetSnapshot returns the current published snapshot for a kind
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	kind := types.CatalogKind(mux.Vars(r)["kind"])

	snapshot, err := s.catalog.Snapshot(kind)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, snapshot)
}

// handleGetStatus returns the persisted load status for a kind
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	kind := types.CatalogKind(mux.Vars(r)["kind"])

	status, err := s.catalog.Status(r.Context(), kind)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, status)
}

// handleTriggerLoad starts a background catalog load. Responds 202 when the
// load was accepted, 409 when another load already holds the slot.
func (s *Server) handleTriggerLoad(w http.ResponseWriter, r *http.Request) {
	kind := types.CatalogKind(mux.Vars(r)["kind"])
	force := r.URL.Query().Get("force") == "true"

	if err := s.catalog.TriggerLoad(kind, force); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"kind":    string(kind),
		"force":   force,
		"started": true,
	})
}

// handleGetProgress returns the progress of the in-flight load
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.catalog.Progress())
}

// handleGetLoadHistory returns archived load runs for a kind, newest first
func (s *Server) handleGetLoadHistory(w http.ResponseWriter, r *http.Request) {
	kind := types.CatalogKind(mux.Vars(r)["kind"])

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 100 {
			respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "limit must be an integer between 1 and 100", nil)
			return
		}
		limit = parsed
	}

	runs, err := s.catalog.RecentRuns(r.Context(), kind, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"kind": string(kind),
		"runs": runs,
	})
}

// handleGetRenewalStatus returns the renewal scheduler status
func (s *Server) handleGetRenewalStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}

	respondJSON(w, http.StatusOK, s.scheduler.GetStatus())
}

// handleClearCache drops persisted cache entries for a scope
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	scope := mux.Vars(r)["scope"]

	if err := s.catalog.ClearCache(r.Context(), scope); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"scope":  scope,
		"status": "cleared",
	})
}
