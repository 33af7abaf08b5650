package server

import (
	"net/http"

	"github.com/bobmcallan/gatewayd/internal/gatewayerr"
	"github.com/bobmcallan/gatewayd/internal/services/gateway"
)

type inboundRequest struct {
	SessionID  string                 `json:"sessionId"`
	Text       string                 `json:"text"`
	RequestJob bool                   `json:"requestJob"`
	Metadata   map[string]interface{} `json:"metadata"`
}

type inboundResponse struct {
	Mode      string `json:"mode"`
	Response  string `json:"response,omitempty"`
	JobID     string `json:"jobId,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// handleMessagesInbound handles POST /v1/messages/inbound.
func (s *Server) handleMessagesInbound(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req inboundRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.Text == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, "sessionId and text are required", gatewayerr.KindInvalidInboundMessage)
		return
	}

	result, err := s.app.Gateway.Handle(r.Context(), gateway.Inbound{
		SessionID:  req.SessionID,
		Text:       req.Text,
		RequestJob: req.RequestJob,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	resp := inboundResponse{Mode: result.Mode, Response: result.Response, JobID: result.JobID}
	status := http.StatusOK
	if result.Mode == "async-job" {
		status = http.StatusAccepted
	}
	WriteJSON(w, status, resp)
}

type baileysKey struct {
	ID        string `json:"id"`
	RemoteJID string `json:"remoteJid"`
}

type baileysMessage struct {
	Conversation string `json:"conversation"`
}

type baileysInboundRequest struct {
	Key     baileysKey     `json:"key"`
	Message baileysMessage `json:"message"`
}

// handleBaileysInbound handles POST /v1/whatsapp/baileys/inbound.
func (s *Server) handleBaileysInbound(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if token := s.app.Config.Baileys.InboundToken; token != "" {
		if r.Header.Get("x-baileys-inbound-token") != token {
			WriteErrorWithCode(w, http.StatusUnauthorized, "invalid inbound token", gatewayerr.KindUnauthorizedBaileysInbound)
			return
		}
	}

	var req baileysInboundRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Key.ID == "" || req.Key.RemoteJID == "" || req.Message.Conversation == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, "key.id, key.remoteJid and message.conversation are required", gatewayerr.KindInvalidBaileysInbound)
		return
	}

	result, err := s.app.Gateway.HandleBaileysInbound(r.Context(), "whatsapp", req.Key.RemoteJID, req.Key.ID, gateway.Inbound{
		SessionID:  req.Key.RemoteJID,
		Text:       req.Message.Conversation,
		RequestJob: true,
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	if result.Duplicate {
		WriteJSON(w, http.StatusOK, inboundResponse{Duplicate: true})
		return
	}

	resp := inboundResponse{Mode: result.Mode, Response: result.Response, JobID: result.JobID, Duplicate: false}
	status := http.StatusOK
	if result.Mode == "async-job" {
		status = http.StatusAccepted
	}
	WriteJSON(w, status, resp)
}

// writeGatewayError maps a gatewayerr.CodedError to its HTTP status, falling
// back to 500 for anything unstructured.
func writeGatewayError(w http.ResponseWriter, err error) {
	if ce, ok := asCodedError(err); ok {
		WriteErrorWithCode(w, statusForCode(ce.Code), ce.Message, ce.Code)
		return
	}
	WriteError(w, http.StatusInternalServerError, err.Error())
}

func asCodedError(err error) (*gatewayerr.CodedError, bool) {
	ce, ok := err.(*gatewayerr.CodedError)
	return ce, ok
}

func statusForCode(code string) int {
	switch code {
	case gatewayerr.KindJobNotFound, gatewayerr.KindRunNotFound:
		return http.StatusNotFound
	case gatewayerr.KindJobRetryUnavailable, gatewayerr.KindRunSpecApprovalMissing:
		return http.StatusConflict
	case gatewayerr.KindUnauthorizedBaileysInbound:
		return http.StatusUnauthorized
	case gatewayerr.KindInvalidInboundMessage, gatewayerr.KindInvalidJobRequest, gatewayerr.KindInvalidCancelRequest,
		gatewayerr.KindInvalidRetryRequest, gatewayerr.KindInvalidApprovalResolve, gatewayerr.KindInvalidBaileysInbound:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
