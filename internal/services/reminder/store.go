// Package reminder implements the durable time-based reminder store and its
// dispatcher (C5).
package reminder

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/gatewayd/internal/models"
	"github.com/bobmcallan/gatewayd/internal/statefs"
)

const indexFile = "reminders"

// Store is the file-backed reminder store described by C5. All writes go
// through a single index file, mirroring the builtins/reminders.json layout
// named in §6 (the same small-collection bucket as approvals/notes/tasks/
// memory_checkpoints) rather than one file per reminder.
type Store struct {
	root *statefs.Root
	mu   sync.Mutex
}

// New constructs a Store rooted at root.
func New(root *statefs.Root) *Store {
	return &Store{root: root}
}

func (s *Store) builtinsDir() (string, error) { return s.root.Dir("builtins") }

func (s *Store) load() ([]*models.Reminder, error) {
	dir, err := s.builtinsDir()
	if err != nil {
		return nil, err
	}
	var reminders []*models.Reminder
	if err := statefs.ReadJSON(dir, indexFile, &reminders); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return reminders, nil
}

func (s *Store) save(reminders []*models.Reminder) error {
	dir, err := s.builtinsDir()
	if err != nil {
		return err
	}
	return statefs.WriteJSON(dir, indexFile, reminders)
}

// Add persists a new pending reminder.
func (s *Store) Add(ctx context.Context, sessionID, text string, remindAt time.Time) (*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminders, err := s.load()
	if err != nil {
		return nil, err
	}

	r := &models.Reminder{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Text:      text,
		RemindAt:  remindAt,
		Status:    models.ReminderPending,
		CreatedAt: time.Now().UTC(),
	}
	reminders = append(reminders, r)
	if err := s.save(reminders); err != nil {
		return nil, err
	}
	return r, nil
}

// ListBySession returns every reminder for sessionID, oldest first.
func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []*models.Reminder
	for _, r := range all {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListDue returns pending reminders whose remindAt has passed.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return nil, err
	}
	var due []*models.Reminder
	for _, r := range all {
		if r.Status == models.ReminderPending && !r.RemindAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RemindAt.Before(due[j].RemindAt) })
	return due, nil
}

// MarkTriggered sets status=triggered. Called only after the dispatcher has
// successfully enqueued the corresponding notification (§4.5): a crash
// between the two steps produces at most one duplicate reminder on next
// boot, which is accepted.
func (s *Store) MarkTriggered(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminders, err := s.load()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, r := range reminders {
		if r.ID == id {
			r.Status = models.ReminderTriggered
			r.TriggeredAt = &now
			break
		}
	}
	return s.save(reminders)
}
