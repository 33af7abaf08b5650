package notification

import (
	"context"
	"time"

	"github.com/bobmcallan/gatewayd/internal/common"
	"github.com/bobmcallan/gatewayd/internal/interfaces"
	"github.com/bobmcallan/gatewayd/internal/models"
)

// Dispatcher drains pending notifications to a ChannelAdapter on a single
// goroutine, preserving per-session FIFO because the sort key is createdAt
// and delivery is sequential within the loop.
type Dispatcher struct {
	store        *Store
	adapter      interfaces.ChannelAdapter
	logger       *common.Logger
	pollInterval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store *Store, adapter interfaces.ChannelAdapter, logger *common.Logger, pollInterval time.Duration) *Dispatcher {
	return &Dispatcher{store: store, adapter: adapter, logger: logger, pollInterval: pollInterval}
}

// Start launches the dispatch loop.
func (d *Dispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.loop(ctx)
}

// Stop signals the loop to exit after its current tick and waits for it to
// finish.
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
	if d.adapter == nil {
		return
	}
	pending, err := d.store.ListPending(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("notification dispatcher: list pending failed")
		return
	}
	for _, n := range pending {
		var err error
		switch n.Kind {
		case models.NotificationText:
			err = d.adapter.SendText(ctx, n.SessionID, n.Text)
		case models.NotificationFile:
			err = d.adapter.SendFile(ctx, n.SessionID, n.FilePath, n.FileName, n.MimeType, n.Caption)
		}
		if err != nil {
			// Left pending for retry on the next tick; delivery errors are
			// externalized to logs, no backoff counter in the core.
			d.logger.Warn().Err(err).Str("notificationId", n.ID).Str("sessionId", n.SessionID).Msg("notification delivery failed")
			continue
		}
		if err := d.store.MarkDelivered(ctx, n.ID); err != nil {
			d.logger.Warn().Err(err).Str("notificationId", n.ID).Msg("failed to mark notification delivered")
		}
	}
}
