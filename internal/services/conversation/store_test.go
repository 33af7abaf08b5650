package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/gatewayd/internal/models"
	"github.com/bobmcallan/gatewayd/internal/statefs"
)

func newTestStore(t *testing.T, dedupeWindow time.Duration) *Store {
	t.Helper()
	root, err := statefs.NewRoot(t.TempDir())
	require.NoError(t, err)
	return New(root, 5000, 14, dedupeWindow)
}

func TestAddQuery_FiltersBySessionAndText(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	_, err := s.Add(ctx, "s1", models.DirectionInbound, "hello world", "webhook", "whatsapp", "text", nil)
	require.NoError(t, err)
	_, err = s.Add(ctx, "s2", models.DirectionInbound, "goodbye", "webhook", "whatsapp", "text", nil)
	require.NoError(t, err)

	results, err := s.Query(ctx, models.EventFilter{SessionID: "s1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "hello world", results[0].Text)

	results, err = s.Query(ctx, models.EventFilter{Text: "bye", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "goodbye", results[0].Text)
}

func TestQuery_NewestFirstAndBounded(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Add(ctx, "s1", models.DirectionOutbound, "msg", "gateway", "http", "text", nil)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	results, err := s.Query(ctx, models.EventFilter{SessionID: "s1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].CreatedAt.After(results[1].CreatedAt) || results[0].CreatedAt.Equal(results[1].CreatedAt))
}

func TestAdd_DedupesWithinWindow(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	first, err := s.Add(ctx, "s1", models.DirectionInbound, "hi", "webhook", "whatsapp", "text", nil)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := s.Add(ctx, "s1", models.DirectionInbound, "hi", "webhook", "whatsapp", "text", nil)
	require.NoError(t, err)
	require.Nil(t, second)

	results, err := s.Query(ctx, models.EventFilter{SessionID: "s1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSubscribe_ReceivesAddedEventAndUnsubscribeStopsDelivery(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	var mu sync.Mutex
	var received []*models.ConversationEvent
	unsubscribe := s.Subscribe(func(ev *models.ConversationEvent) {
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
	})

	_, err := s.Add(ctx, "s1", models.DirectionInbound, "one", "webhook", "whatsapp", "text", nil)
	require.NoError(t, err)

	unsubscribe()

	_, err = s.Add(ctx, "s1", models.DirectionInbound, "two", "webhook", "whatsapp", "text", nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	require.Equal(t, "one", received[0].Text)
}
