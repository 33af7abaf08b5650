package workerpool

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bobmcallan/gatewayd/internal/common"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	clientSendBuffer = 256
	broadcastBuffer  = 256
	pingInterval     = 30 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	maxReadBytes     = 512
)

// Hub fans StatusEvents out over the supplementary /v1/stream/jobs/ws push
// channel. Unlike a flat broadcast, each client only receives events for the
// job or session it asked to watch: a gateway operator tailing one
// WhatsApp session's job stream must not see another session's jobs cross
// the same socket. Grounded on the connection bookkeeping (register/
// unregister/ping-pong) of the teacher's JobWSHub in
// internal/services/jobmanager/websocket.go; the routing logic below is new.
type Hub struct {
	clients    map[*hubClient]bool
	broadcast  chan StatusEvent
	register   chan *hubClient
	unregister chan *hubClient
	done       chan struct{}
	mu         sync.RWMutex
	logger     *common.Logger
}

// hubClient is one subscriber. An empty jobID/sessionID means "watch
// everything".
type hubClient struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	jobID     string
	sessionID string
}

// wants reports whether e is in scope for this client's subscription.
func (c *hubClient) wants(e StatusEvent) bool {
	if c.jobID != "" {
		return e.Job != nil && e.Job.ID == c.jobID
	}
	if c.sessionID != "" {
		return e.Job != nil && eventSessionID(e) == c.sessionID
	}
	return true
}

// eventSessionID recovers the originating session from the job payload; jobs
// are created with a sessionId field per C3, but it is untyped JSON so this
// stays a best-effort lookup rather than a model field.
func eventSessionID(e StatusEvent) string {
	if e.Job == nil || e.Job.Payload == nil {
		return ""
	}
	sid, _ := e.Job.Payload["sessionId"].(string)
	return sid
}

// NewHub creates a job-event WebSocket hub. Call Run as a goroutine.
func NewHub(logger *common.Logger) *Hub {
	return &Hub{
		clients:    make(map[*hubClient]bool),
		broadcast:  make(chan StatusEvent, broadcastBuffer),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's event loop. Blocks until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn().Err(err).Msg("failed to marshal job stream event")
				continue
			}

			h.mu.RLock()
			var slow []*hubClient
			for client := range h.clients {
				if !client.wants(event) {
					continue
				}
				select {
				case client.send <- data:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()

			if len(slow) > 0 {
				h.mu.Lock()
				for _, c := range slow {
					if _, ok := h.clients[c]; ok {
						delete(h.clients, c)
						close(c.send)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// Stop signals the event loop to exit.
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Broadcast pushes an event to every subscribed client, dropping it if the
// internal queue is full rather than blocking the caller.
func (h *Hub) Broadcast(event StatusEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().Msg("job stream broadcast channel full, dropping event")
	}
}

// ServeWS upgrades the HTTP connection and registers the client. jobId and/or
// sessionId query params scope the subscription; neither present means
// "watch every job."
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("job stream websocket upgrade failed")
		return
	}

	client := &hubClient{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, clientSendBuffer),
		jobID:     r.URL.Query().Get("jobId"),
		sessionID: r.URL.Query().Get("sessionId"),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *hubClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxReadBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
