package server

import (
	"net/http"
	"strings"

	"github.com/bobmcallan/gatewayd/internal/gatewayerr"
)

type createJobRequest struct {
	Type           string                 `json:"type"`
	Payload        map[string]interface{} `json:"payload"`
	Priority       int                    `json:"priority"`
	RequestedSkill string                 `json:"requestedSkill"`
}

type jobStatusResponse struct {
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	RetryOf string `json:"retryOf,omitempty"`
}

// handleJobsCreate handles POST /v1/jobs.
func (s *Server) handleJobsCreate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req createJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Type == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, "type is required", gatewayerr.KindInvalidJobRequest)
		return
	}

	priority := req.Priority
	if priority == 0 {
		priority = 5
	}

	job, err := s.app.Jobs.CreateJob(r.Context(), req.Type, req.Payload, priority, req.RequestedSkill)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, jobStatusResponse{JobID: job.ID, Status: string(job.Status)})
}

// jobIDFromPath extracts the {id} segment from /v1/jobs/{id}[/cancel|/retry].
func jobIDFromPath(path string) string {
	trimmed := strings.TrimPrefix(path, "/v1/jobs/")
	for _, suffix := range []string{"/cancel", "/retry"} {
		if strings.HasSuffix(trimmed, suffix) {
			return strings.TrimSuffix(trimmed, suffix)
		}
	}
	return trimmed
}

// handleJobGet handles GET /v1/jobs/{id}.
func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := jobIDFromPath(r.URL.Path)
	job, err := s.app.Jobs.Get(r.Context(), id)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// handleJobCancel handles POST /v1/jobs/{id}/cancel.
func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := jobIDFromPath(r.URL.Path)
	if id == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, "job id is required", gatewayerr.KindInvalidCancelRequest)
		return
	}

	job, err := s.app.Jobs.CancelJob(r.Context(), id)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, jobStatusResponse{JobID: job.ID, Status: string(job.Status)})
}

// handleJobRetry handles POST /v1/jobs/{id}/retry.
func (s *Server) handleJobRetry(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := jobIDFromPath(r.URL.Path)
	if id == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, "job id is required", gatewayerr.KindInvalidRetryRequest)
		return
	}

	job, err := s.app.Jobs.RetryJob(r.Context(), id)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, jobStatusResponse{JobID: job.ID, Status: string(job.Status), RetryOf: job.RetryOf})
}
