package server

import (
	"net/http"

	"github.com/bobmcallan/gatewayd/internal/common"
)

type healthResponse struct {
	Service string         `json:"service"`
	Version string         `json:"version"`
	Status  string         `json:"status"`
	Queue   map[string]int `json:"queue"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	counts, err := s.app.Jobs.StatusCounts(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	queue := make(map[string]int, len(counts))
	for status, n := range counts {
		queue[string(status)] = n
	}

	WriteJSON(w, http.StatusOK, healthResponse{
		Service: "gatewayd",
		Version: common.GetVersion(),
		Status:  "ok",
		Queue:   queue,
	})
}

type adminJobsSnapshot struct {
	Queue map[string]int `json:"queue"`
	Jobs  []adminJobView `json:"jobs"`
}

type adminJobView struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	SessionID string `json:"sessionId,omitempty"`
	WorkerID  string `json:"workerId,omitempty"`
	RetryOf   string `json:"retryOf,omitempty"`
}

// handleAdminJobsSnapshot handles GET /v1/admin/jobs, a supplemented
// operator view over the whole job queue. An optional ?status= narrows the
// listed jobs to that status; the queue counts always cover every job.
func (s *Server) handleAdminJobsSnapshot(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	counts, err := s.app.Jobs.StatusCounts(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	queue := make(map[string]int, len(counts))
	for status, n := range counts {
		queue[string(status)] = n
	}

	jobs, err := s.app.Jobs.ListAll(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	statusFilter := r.URL.Query().Get("status")
	views := make([]adminJobView, 0, len(jobs))
	for _, j := range jobs {
		if statusFilter != "" && string(j.Status) != statusFilter {
			continue
		}
		views = append(views, adminJobView{
			ID:        j.ID,
			Type:      j.Type,
			Status:    string(j.Status),
			SessionID: j.SessionID(),
			WorkerID:  j.WorkerID,
			RetryOf:   j.RetryOf,
		})
	}

	WriteJSON(w, http.StatusOK, adminJobsSnapshot{Queue: queue, Jobs: views})
}
