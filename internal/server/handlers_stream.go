package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/gatewayd/internal/models"
)

func parseEventFilter(r *http.Request) models.EventFilter {
	q := r.URL.Query()
	filter := models.EventFilter{
		SessionID: q.Get("sessionId"),
		Text:      q.Get("text"),
		Limit:     200,
	}
	if v := q.Get("kinds"); v != "" {
		filter.Kinds = strings.Split(v, ",")
	}
	if v := q.Get("sources"); v != "" {
		filter.Sources = strings.Split(v, ",")
	}
	if v := q.Get("channels"); v != "" {
		filter.Channels = strings.Split(v, ",")
	}
	if v := q.Get("directions"); v != "" {
		filter.Directions = strings.Split(v, ",")
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Since = &t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Until = &t
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	return filter
}

// handleStreamEventsQuery handles GET /v1/stream/events.
func (s *Server) handleStreamEventsQuery(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	events, err := s.app.Events.Query(r.Context(), parseEventFilter(r))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, events)
}

// handleStreamEventsSubscribe handles GET /v1/stream/events/subscribe, an
// SSE feed of every conversation event added after the subscription opens.
func (s *Server) handleStreamEventsSubscribe(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan *models.ConversationEvent, 64)
	unsubscribe := s.app.Events.Subscribe(func(ev *models.ConversationEvent) {
		select {
		case events <- ev:
		default:
		}
	})
	defer unsubscribe()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleJobStreamWS handles GET /v1/stream/jobs/ws, upgrading to a WebSocket
// that pushes job StatusEvents as they occur.
func (s *Server) handleJobStreamWS(w http.ResponseWriter, r *http.Request) {
	s.app.JobHub.ServeWS(w, r)
}
