// Package server implements the HTTP surface (C11): a stdlib net/http mux,
// a middleware chain, REST handlers for jobs/approvals/runs/messages, and
// SSE + WebSocket streaming. Grounded on the teacher's internal/server
// package (server.go/routes.go/middleware.go/helpers.go).
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/gatewayd/internal/app"
)

const (
	DefaultInboundRateLimit = 20 // requests per second across the inbound surface
)

// Server wraps the HTTP server and a reference to the wired application.
type Server struct {
	app            *app.App
	server         *http.Server
	inboundLimiter *rate.Limiter
}

// NewServer builds the route table and middleware chain for a.
func NewServer(a *app.App) *Server {
	s := &Server{
		app:            a,
		inboundLimiter: rate.NewLimiter(rate.Limit(DefaultInboundRateLimit), DefaultInboundRateLimit),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := applyMiddleware(mux, a.Logger)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints (SSE/WS) must not be cut off
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server. Blocks until Shutdown is called.
func (s *Server) Start() error {
	s.app.Logger.Info().Str("addr", s.server.Addr).Msg("starting gateway HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
