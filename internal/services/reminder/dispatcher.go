package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/gatewayd/internal/common"
	"github.com/bobmcallan/gatewayd/internal/models"
)

// notificationEnqueuer is the slice of notification.Store this dispatcher
// depends on, kept narrow to avoid an import cycle with internal/services/notification.
type notificationEnqueuer interface {
	Enqueue(ctx context.Context, n *models.Notification) error
}

// Dispatcher polls for due reminders and turns each into a text
// notification exactly once: markTriggered only runs after the enqueue
// succeeds.
type Dispatcher struct {
	store        *Store
	notifier     notificationEnqueuer
	logger       *common.Logger
	pollInterval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store *Store, notifier notificationEnqueuer, logger *common.Logger, pollInterval time.Duration) *Dispatcher {
	return &Dispatcher{store: store, notifier: notifier, logger: logger, pollInterval: pollInterval}
}

// Start launches the dispatch loop.
func (d *Dispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.loop(ctx)
}

// Stop signals the loop to exit after its current tick and waits for it.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.done != nil {
		<-d.done
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		d.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	due, err := d.store.ListDue(ctx, time.Now().UTC())
	if err != nil {
		d.logger.Warn().Err(err).Msg("reminder dispatcher: list due failed")
		return
	}
	for _, r := range due {
		n := &models.Notification{
			SessionID: r.SessionID,
			Kind:      models.NotificationText,
			Text:      fmt.Sprintf("Reminder: %s", r.Text),
		}
		if err := d.notifier.Enqueue(ctx, n); err != nil {
			d.logger.Warn().Err(err).Str("reminderId", r.ID).Msg("failed to enqueue reminder notification")
			continue
		}
		if err := d.store.MarkTriggered(ctx, r.ID); err != nil {
			d.logger.Warn().Err(err).Str("reminderId", r.ID).Msg("failed to mark reminder triggered")
		}
	}
}
