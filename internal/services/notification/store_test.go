package notification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/gatewayd/internal/gatewayerr"
	"github.com/bobmcallan/gatewayd/internal/models"
	"github.com/bobmcallan/gatewayd/internal/statefs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root, err := statefs.NewRoot(t.TempDir())
	require.NoError(t, err)
	return New(root)
}

func TestEnqueue_RejectsEmptyText(t *testing.T) {
	s := newTestStore(t)
	err := s.Enqueue(context.Background(), &models.Notification{SessionID: "s1", Kind: models.NotificationText})
	require.Error(t, err)
	ce := err.(*gatewayerr.CodedError)
	require.Equal(t, gatewayerr.KindNotificationTextRequired, ce.Code)
}

func TestEnqueue_RejectsEmptyFilePath(t *testing.T) {
	s := newTestStore(t)
	err := s.Enqueue(context.Background(), &models.Notification{SessionID: "s1", Kind: models.NotificationFile})
	require.Error(t, err)
	ce := err.(*gatewayerr.CodedError)
	require.Equal(t, gatewayerr.KindNotificationFilePathRequired, ce.Code)
}

func TestEnqueueListPending_ContainsExactlyOnceUntilDelivered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := &models.Notification{SessionID: "s1", Kind: models.NotificationText, Text: "hello"}
	require.NoError(t, s.Enqueue(ctx, n))

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, n.ID, pending[0].ID)

	require.NoError(t, s.MarkDelivered(ctx, n.ID))
	pending, err = s.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestListPending_OrderedByCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &models.Notification{SessionID: "s1", Kind: models.NotificationText, Text: "a"}
	require.NoError(t, s.Enqueue(ctx, first))
	second := &models.Notification{SessionID: "s1", Kind: models.NotificationText, Text: "b", CreatedAt: first.CreatedAt.Add(time.Second)}
	require.NoError(t, s.Enqueue(ctx, second))

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, first.ID, pending[0].ID)
	require.Equal(t, second.ID, pending[1].ID)
}
