package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/gatewayd/internal/statefs"
)

func newTestStore(t *testing.T, window time.Duration) *Store {
	t.Helper()
	root, err := statefs.NewRoot(t.TempDir())
	require.NoError(t, err)
	return New(root, window)
}

func TestIsDuplicateAndMark_FalseThenTrue(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	dup, err := s.IsDuplicateAndMark(ctx, "baileys:u@x:m-1")
	require.NoError(t, err)
	require.False(t, dup)

	dup, err = s.IsDuplicateAndMark(ctx, "baileys:u@x:m-1")
	require.NoError(t, err)
	require.True(t, dup)
}

func TestIsDuplicateAndMark_ExpiredEntryTreatedAsFresh(t *testing.T) {
	s := newTestStore(t, time.Millisecond)
	ctx := context.Background()

	dup, err := s.IsDuplicateAndMark(ctx, "k1")
	require.NoError(t, err)
	require.False(t, dup)

	time.Sleep(5 * time.Millisecond)

	dup, err = s.IsDuplicateAndMark(ctx, "k1")
	require.NoError(t, err)
	require.False(t, dup)
}

func TestEvict_RemovesExpiredFingerprints(t *testing.T) {
	s := newTestStore(t, time.Millisecond)
	ctx := context.Background()

	_, err := s.IsDuplicateAndMark(ctx, "k1")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	evicted, err := s.Evict(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, evicted)
}
