package workerpool

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/gatewayd/internal/common"
	"github.com/bobmcallan/gatewayd/internal/models"
)

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) StatusEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var e StatusEvent
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func expectNoEvent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected read timeout, got a message")
}

func TestHub_BroadcastScopesByJobID(t *testing.T) {
	hub := NewHub(common.NewSilentLogger())
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	watcherA := dialHub(t, srv, "?jobId=job-a")
	watcherAll := dialHub(t, srv, "")

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(StatusEvent{Job: &models.Job{ID: "job-b"}, Status: "running"})
	hub.Broadcast(StatusEvent{Job: &models.Job{ID: "job-a"}, Status: "succeeded"})

	evt := readEvent(t, watcherA)
	require.Equal(t, "job-a", evt.Job.ID)
	expectNoEvent(t, watcherA)

	first := readEvent(t, watcherAll)
	require.Equal(t, "job-b", first.Job.ID)
	second := readEvent(t, watcherAll)
	require.Equal(t, "job-a", second.Job.ID)
}

func TestHub_BroadcastScopesBySessionID(t *testing.T) {
	hub := NewHub(common.NewSilentLogger())
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	watcher := dialHub(t, srv, "?sessionId=sess-1")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	otherSession := StatusEvent{Job: &models.Job{ID: "job-x", Payload: map[string]interface{}{"sessionId": "sess-2"}}, Status: "running"}
	matching := StatusEvent{Job: &models.Job{ID: "job-y", Payload: map[string]interface{}{"sessionId": "sess-1"}}, Status: "running"}

	hub.Broadcast(otherSession)
	hub.Broadcast(matching)

	evt := readEvent(t, watcher)
	require.Equal(t, "job-y", evt.Job.ID)
	expectNoEvent(t, watcher)
}
