package server

import "net/http"

// registerRoutes wires the HTTP surface named in SPEC_FULL.md. Admin/run/stream
// endpoints carry bearer auth when the gateway is configured with a JWT secret.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return bearerAuthMiddleware(s.app.Config.Auth.JWTSecret)(h).ServeHTTP
	}
	inbound := func(h http.HandlerFunc) http.HandlerFunc {
		return rateLimitMiddleware(s.inboundLimiter)(h).ServeHTTP
	}

	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/v1/messages/inbound", inbound(s.handleMessagesInbound))
	mux.HandleFunc("/v1/whatsapp/baileys/inbound", inbound(s.handleBaileysInbound))

	mux.HandleFunc("/v1/jobs", s.handleJobsCreate)
	mux.HandleFunc("/v1/jobs/", s.routeJobs)

	mux.HandleFunc("/v1/approvals/pending", s.handleApprovalsPending)
	mux.HandleFunc("/v1/approvals/resolve", s.handleApprovalsResolve)

	mux.HandleFunc("/v1/runs", admin(s.handleRunsList))
	mux.HandleFunc("/v1/runs/", admin(s.handleRunsGet))

	mux.HandleFunc("/v1/stream/events", admin(s.handleStreamEventsQuery))
	mux.HandleFunc("/v1/stream/events/subscribe", admin(s.handleStreamEventsSubscribe))
	mux.HandleFunc("/v1/stream/jobs/ws", admin(s.handleJobStreamWS))

	mux.HandleFunc("/v1/admin/jobs", admin(s.handleAdminJobsSnapshot))
}

// routeJobs dispatches /v1/jobs/{id}, /v1/jobs/{id}/cancel, /v1/jobs/{id}/retry.
func (s *Server) routeJobs(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case hasSuffix(path, "/cancel"):
		s.handleJobCancel(w, r)
	case hasSuffix(path, "/retry"):
		s.handleJobRetry(w, r)
	default:
		s.handleJobGet(w, r)
	}
}

func hasSuffix(path, suffix string) bool {
	return len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix
}
