package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/gatewayd/internal/statefs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root, err := statefs.NewRoot(t.TempDir())
	require.NoError(t, err)
	return New(root)
}

func TestCreateConsume_OneShot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "s1", "file.write", map[string]interface{}{"path": "/tmp/x"}, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, created.Token)

	consumed, err := s.Consume(ctx, "s1", created.Token)
	require.NoError(t, err)
	require.NotNil(t, consumed)
	require.Equal(t, "file.write", consumed.Action)

	second, err := s.Consume(ctx, "s1", created.Token)
	require.NoError(t, err)
	require.Nil(t, second)
}

func TestConsume_ExpiredReturnsNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "s1", "a", nil, time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	consumed, err := s.Consume(ctx, "s1", created.Token)
	require.NoError(t, err)
	require.Nil(t, consumed)
}

func TestConsumeLatest_PicksMostRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "s1", "first", nil, time.Minute)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := s.Create(ctx, "s1", "second", nil, time.Minute)
	require.NoError(t, err)

	latest, err := s.ConsumeLatest(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, second.Action, latest.Action)

	remaining, err := s.ListBySession(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "first", remaining[0].Action)
}

func TestDiscardLatest_RemovesWithoutActing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "s1", "only", nil, time.Minute)
	require.NoError(t, err)

	discarded, err := s.DiscardLatest(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "only", discarded.Action)

	pending, err := s.ListBySession(ctx, "s1", 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestListPending_BoundedAndNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Create(ctx, "s1", "a", nil, time.Minute)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	pending, err := s.ListPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.True(t, pending[0].CreatedAt.After(pending[1].CreatedAt) || pending[0].CreatedAt.Equal(pending[1].CreatedAt))
}
