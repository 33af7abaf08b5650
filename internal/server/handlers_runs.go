package server

import (
	"net/http"
	"strconv"
	"strings"
)

// handleRunsGet handles GET /v1/runs/{runId}.
func (s *Server) handleRunsGet(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	runID := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	rec, err := s.app.RunSpecs.Get(r.Context(), runID)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// handleRunsList handles GET /v1/runs?sessionKey=&limit=.
func (s *Server) handleRunsList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	sessionKey := r.URL.Query().Get("sessionKey")
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := s.app.RunSpecs.List(r.Context(), sessionKey, limit)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, runs)
}
