package server

import (
	"net/http"
	"strconv"

	"github.com/bobmcallan/gatewayd/internal/gatewayerr"
	"github.com/bobmcallan/gatewayd/internal/models"
	"github.com/bobmcallan/gatewayd/internal/services/gateway"
)

type pendingApprovalsResponse struct {
	SessionID string                  `json:"sessionId"`
	Count     int                     `json:"count"`
	Pending   []*models.ApprovalToken `json:"pending"`
}

// handleApprovalsPending handles GET /v1/approvals/pending?sessionId=&limit=.
func (s *Server) handleApprovalsPending(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, "sessionId is required", gatewayerr.KindInvalidApprovalResolve)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	pending, err := s.app.Approvals.ListBySession(r.Context(), sessionID, limit)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, pendingApprovalsResponse{SessionID: sessionID, Count: len(pending), Pending: pending})
}

type resolveApprovalRequest struct {
	SessionID      string `json:"sessionId"`
	Decision       string `json:"decision"`
	Token          string `json:"token"`
	AuthSessionID  string `json:"authSessionId"`
	AuthPreference string `json:"authPreference"`
}

// handleApprovalsResolve handles POST /v1/approvals/resolve.
func (s *Server) handleApprovalsResolve(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req resolveApprovalRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" || (req.Decision != "approve" && req.Decision != "reject") {
		WriteErrorWithCode(w, http.StatusBadRequest, "sessionId is required and decision must be approve or reject", gatewayerr.KindInvalidApprovalResolve)
		return
	}

	text := "approve"
	if req.Decision == "reject" {
		text = "no"
	}
	if req.Token != "" {
		text = req.Decision + " " + req.Token
	}

	result, err := s.app.Gateway.Handle(r.Context(), gateway.Inbound{SessionID: req.SessionID, Text: text})
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, inboundResponse{Mode: result.Mode, Response: result.Response})
}
