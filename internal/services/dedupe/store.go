// Package dedupe implements the short-TTL inbound fingerprint store (C6).
package dedupe

import (
	"context"
	"time"

	"github.com/bobmcallan/gatewayd/internal/models"
	"github.com/bobmcallan/gatewayd/internal/statefs"
)

// DefaultWindow is the eviction window applied when none is configured.
const DefaultWindow = 24 * time.Hour

// Store is the file-backed dedupe fingerprint store described by C6.
type Store struct {
	root   *statefs.Root
	window time.Duration
}

// New constructs a Store rooted at root with the given eviction window.
// A non-positive window falls back to DefaultWindow.
func New(root *statefs.Root, window time.Duration) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{root: root, window: window}
}

func (s *Store) dir() (string, error) { return s.root.Dir("builtins", "dedupe") }

// IsDuplicateAndMark returns true if key was already seen within the
// eviction window; otherwise it records key and returns false. Fingerprints
// live on disk so they survive restarts.
func (s *Store) IsDuplicateAndMark(ctx context.Context, key string) (bool, error) {
	dir, err := s.dir()
	if err != nil {
		return false, err
	}

	var existing models.DedupeFingerprint
	err = statefs.ReadJSON(dir, key, &existing)
	now := time.Now().UTC()
	if err == nil {
		if now.Sub(existing.InsertedAt) < s.window {
			return true, nil
		}
		// Expired entry: fall through and re-mark.
	}

	fp := models.DedupeFingerprint{Key: key, InsertedAt: now}
	if err := statefs.WriteJSON(dir, key, &fp); err != nil {
		return false, err
	}
	return false, nil
}

// Evict removes fingerprints older than the store's window and returns how
// many it deleted. No background loop in the gateway calls it; it is not
// required for correctness since IsDuplicateAndMark already treats expired
// entries as fresh.
func (s *Store) Evict(ctx context.Context) (int, error) {
	dir, err := s.dir()
	if err != nil {
		return 0, err
	}
	keys, err := statefs.ListKeys(dir)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	evicted := 0
	for _, key := range keys {
		var fp models.DedupeFingerprint
		if err := statefs.ReadJSON(dir, key, &fp); err != nil {
			continue
		}
		if now.Sub(fp.InsertedAt) >= s.window {
			if err := statefs.DeleteJSON(dir, key); err == nil {
				evicted++
			}
		}
	}
	return evicted, nil
}
