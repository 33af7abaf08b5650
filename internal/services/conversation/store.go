// Package conversation implements the append-and-query conversation event
// log with subscriber fanout (C9). Subscriber fanout pattern (copy-on-write
// handler list, synchronous per-subscriber delivery with panic recovery) is
// grounded on the
// teacher's JobWSHub broadcast loop in internal/services/jobmanager/websocket.go.
package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/gatewayd/internal/models"
	"github.com/bobmcallan/gatewayd/internal/statefs"
)

const eventsSub = "conversation_events"

// Store is the file-backed, subscribable conversation event log described
// by C9.
type Store struct {
	root            *statefs.Root
	maxEvents       int
	retentionDays   int
	dedupeWindow    time.Duration
	mu              sync.Mutex
	subs            []*subscriber
	lastBySignature map[string]time.Time
}

type subscriber struct {
	id      string
	handler func(*models.ConversationEvent)
}

// New constructs a Store rooted at root, retaining at least maxEvents and
// up to retentionDays, deduping identical (sessionId, direction, kind, text)
// events within dedupeWindow.
func New(root *statefs.Root, maxEvents, retentionDays int, dedupeWindow time.Duration) *Store {
	if maxEvents <= 0 {
		maxEvents = 5000
	}
	if retentionDays <= 0 {
		retentionDays = 14
	}
	return &Store{
		root:            root,
		maxEvents:       maxEvents,
		retentionDays:   retentionDays,
		dedupeWindow:    dedupeWindow,
		lastBySignature: map[string]time.Time{},
	}
}

func (s *Store) dir() (string, error) { return s.root.Dir(eventsSub) }

func signature(sessionID string, direction models.EventDirection, kind, text string) string {
	return strings.Join([]string{sessionID, string(direction), kind, text}, "\x1f")
}

// Add appends a conversation event and pushes it to every active subscriber
// synchronously in registration order. Events with an identical
// (sessionId, direction, kind, text) signature within the dedupe window are
// dropped.
func (s *Store) Add(ctx context.Context, sessionID string, direction models.EventDirection, text string, source, channel, kind string, metadata map[string]interface{}) (*models.ConversationEvent, error) {
	sig := signature(sessionID, direction, kind, text)
	now := time.Now().UTC()

	s.mu.Lock()
	if last, ok := s.lastBySignature[sig]; ok && s.dedupeWindow > 0 && now.Sub(last) < s.dedupeWindow {
		s.mu.Unlock()
		return nil, nil
	}
	s.lastBySignature[sig] = now
	subsCopy := append([]*subscriber(nil), s.subs...)
	s.mu.Unlock()

	ev := &models.ConversationEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Source:    source,
		Channel:   channel,
		Direction: direction,
		Kind:      kind,
		Text:      text,
		CreatedAt: now,
		Metadata:  metadata,
	}

	dir, err := s.dir()
	if err != nil {
		return nil, err
	}
	if err := statefs.WriteJSON(dir, ev.ID, ev); err != nil {
		return nil, err
	}

	for _, sub := range subsCopy {
		deliver(sub, ev)
	}

	go s.prune()
	return ev, nil
}

// deliver invokes a subscriber handler, recovering a panic so one faulty
// handler cannot break Add. The call is synchronous: a handler that blocks
// holds up Add until it returns.
func deliver(sub *subscriber, ev *models.ConversationEvent) {
	defer func() { recover() }()
	sub.handler(ev)
}

// Query returns events matching filter, newest-first, bounded to
// filter.Limit ∈ [1, 500].
func (s *Store) Query(ctx context.Context, filter models.EventFilter) ([]*models.ConversationEvent, error) {
	dir, err := s.dir()
	if err != nil {
		return nil, err
	}
	keys, err := statefs.ListKeys(dir)
	if err != nil {
		return nil, err
	}

	var matched []*models.ConversationEvent
	for _, key := range keys {
		var ev models.ConversationEvent
		if err := statefs.ReadJSON(dir, key, &ev); err != nil {
			continue
		}
		if matches(&ev, filter) {
			matched = append(matched, &ev)
		}
	}

	sortNewestFirst(matched)

	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func matches(ev *models.ConversationEvent, f models.EventFilter) bool {
	if f.SessionID != "" && ev.SessionID != f.SessionID {
		return false
	}
	if len(f.Kinds) > 0 && !containsFold(f.Kinds, ev.Kind) {
		return false
	}
	if len(f.Sources) > 0 && !containsFold(f.Sources, ev.Source) {
		return false
	}
	if len(f.Channels) > 0 && !containsFold(f.Channels, ev.Channel) {
		return false
	}
	if len(f.Directions) > 0 && !containsFold(f.Directions, string(ev.Direction)) {
		return false
	}
	if f.Text != "" && !strings.Contains(strings.ToLower(ev.Text), strings.ToLower(f.Text)) {
		return false
	}
	if f.Since != nil && ev.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && ev.CreatedAt.After(*f.Until) {
		return false
	}
	return true
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func sortNewestFirst(events []*models.ConversationEvent) {
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].CreatedAt.After(events[j-1].CreatedAt); j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}

// Subscribe registers a live listener and returns an unsubscribe function.
func (s *Store) Subscribe(handler func(*models.ConversationEvent)) func() {
	sub := &subscriber{id: uuid.NewString(), handler: handler}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, existing := range s.subs {
			if existing.id == sub.id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// prune removes events beyond maxEvents or older than retentionDays,
// whichever keeps more. Run opportunistically after each Add.
func (s *Store) prune() {
	dir, err := s.dir()
	if err != nil {
		return
	}
	keys, err := statefs.ListKeys(dir)
	if err != nil || len(keys) <= s.maxEvents {
		return
	}

	type keyed struct {
		key string
		at  time.Time
	}
	all := make([]keyed, 0, len(keys))
	for _, key := range keys {
		var ev models.ConversationEvent
		if err := statefs.ReadJSON(dir, key, &ev); err != nil {
			continue
		}
		all = append(all, keyed{key: key, at: ev.CreatedAt})
	}
	if len(all) <= s.maxEvents {
		return
	}

	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].at.Before(all[j-1].at); j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	excess := len(all) - s.maxEvents
	for i := 0; i < excess; i++ {
		if all[i].at.After(cutoff) {
			break
		}
		statefs.DeleteJSON(dir, all[i].key)
	}
}
