// Package notification implements the durable outbound notification queue
// and polling dispatcher (C4). Store layout grounded on statefs' per-record
// JSON convention; dispatcher loop grounded on the teacher's
// jobmanager.processLoop polling idiom.
package notification

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/gatewayd/internal/gatewayerr"
	"github.com/bobmcallan/gatewayd/internal/models"
	"github.com/bobmcallan/gatewayd/internal/statefs"
)

const notificationsSub = "notifications"

// Store is the file-backed notification queue described by C4.
type Store struct {
	root *statefs.Root
}

// New constructs a Store rooted at root.
func New(root *statefs.Root) *Store {
	return &Store{root: root}
}

func (s *Store) dir() (string, error) { return s.root.Dir(notificationsSub) }

// Enqueue validates the kind/field invariant and persists n.
func (s *Store) Enqueue(ctx context.Context, n *models.Notification) error {
	switch n.Kind {
	case models.NotificationText:
		if n.Text == "" {
			return gatewayerr.New(gatewayerr.KindNotificationTextRequired, "text is required for kind=text")
		}
	case models.NotificationFile:
		if n.FilePath == "" {
			return gatewayerr.New(gatewayerr.KindNotificationFilePathRequired, "filePath is required for kind=file")
		}
	default:
		return gatewayerr.New(gatewayerr.KindNotificationTextRequired, fmt.Sprintf("unknown notification kind %q", n.Kind))
	}

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	dir, err := s.dir()
	if err != nil {
		return err
	}
	return statefs.WriteJSON(dir, n.ID, n)
}

// ListPending returns undelivered notifications sorted by createdAt
// ascending, giving FIFO-per-session delivery when drained sequentially.
func (s *Store) ListPending(ctx context.Context) ([]*models.Notification, error) {
	dir, err := s.dir()
	if err != nil {
		return nil, err
	}
	keys, err := statefs.ListKeys(dir)
	if err != nil {
		return nil, err
	}
	var pending []*models.Notification
	for _, key := range keys {
		var n models.Notification
		if err := statefs.ReadJSON(dir, key, &n); err != nil {
			continue
		}
		if n.DeliveredAt == nil {
			pending = append(pending, &n)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// MarkDelivered sets deliveredAt once, monotonically.
func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	dir, err := s.dir()
	if err != nil {
		return err
	}
	var n models.Notification
	if err := statefs.ReadJSON(dir, id, &n); err != nil {
		return err
	}
	if n.DeliveredAt != nil {
		return nil
	}
	now := time.Now().UTC()
	n.DeliveredAt = &now
	return statefs.WriteJSON(dir, id, &n)
}
