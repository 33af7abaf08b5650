// Package approval implements the short-lived, single-use approval token
// store (C7). Tokens are hashed at rest with bcrypt (from golang.org/x/crypto,
// already pulled in by the teacher's stack) so a read of the index file alone
// does not leak a usable secret; the plaintext token only ever exists in the
// HTTP request/response and the generator's return value.
package approval

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bobmcallan/gatewayd/internal/models"
	"github.com/bobmcallan/gatewayd/internal/statefs"
)

const indexFile = "approvals"

// record is the at-rest shape: a bcrypt hash in place of the plaintext token.
type record struct {
	TokenHash string                 `json:"tokenHash"`
	SessionID string                 `json:"sessionId"`
	Action    string                 `json:"action"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"createdAt"`
	ExpiresAt time.Time              `json:"expiresAt"`
}

// Store is the file-backed approval token store described by C7. All writes
// go through a single index file, mirroring the builtins/approvals.json
// layout named in §6.
type Store struct {
	root *statefs.Root
	mu   sync.Mutex
}

// New constructs a Store rooted at root.
func New(root *statefs.Root) *Store {
	return &Store{root: root}
}

func (s *Store) builtinsDir() (string, error) { return s.root.Dir("builtins") }

func (s *Store) load() ([]record, error) {
	dir, err := s.builtinsDir()
	if err != nil {
		return nil, err
	}
	var recs []record
	if err := statefs.ReadJSON(dir, indexFile, &recs); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return recs, nil
}

func (s *Store) save(recs []record) error {
	dir, err := s.builtinsDir()
	if err != nil {
		return err
	}
	return statefs.WriteJSON(dir, indexFile, recs)
}

// pruneExpired drops expired entries; every read prunes per §4.7.
func pruneExpired(recs []record, now time.Time) []record {
	out := recs[:0]
	for _, r := range recs {
		if now.Before(r.ExpiresAt) {
			out = append(out, r)
		}
	}
	return out
}

func randomToken() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate approval token: %w", err)
	}
	return hex.EncodeToString(buf), nil // 8 hex chars, ≥ the 6-char minimum in §4.7
}

// Create issues a new short, single-use token for sessionID/action/payload.
func (s *Store) Create(ctx context.Context, sessionID, action string, payload map[string]interface{}, ttl time.Duration) (*models.ApprovalToken, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.load()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	recs = pruneExpired(recs, now)

	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash approval token: %w", err)
	}

	rec := record{
		TokenHash: string(hash),
		SessionID: sessionID,
		Action:    action,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	recs = append(recs, rec)
	if err := s.save(recs); err != nil {
		return nil, err
	}

	return &models.ApprovalToken{
		Token:     token,
		SessionID: sessionID,
		Action:    action,
		Payload:   payload,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// Consume removes the matching (sessionID, token) record and returns it if
// not expired; otherwise returns nil. A second consume of the same token
// always returns nil — single-use.
func (s *Store) Consume(ctx context.Context, sessionID, token string) (*models.ApprovalToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.load()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	recs = pruneExpired(recs, now)

	idx := -1
	for i, r := range recs {
		if r.SessionID != sessionID {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(r.TokenHash), []byte(token)) == nil {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.save(recs)
		return nil, nil
	}

	found := recs[idx]
	recs = append(recs[:idx], recs[idx+1:]...)
	if err := s.save(recs); err != nil {
		return nil, err
	}
	return toApprovalToken(found), nil
}

// PeekLatest returns the most recently created pending approval for
// sessionID without consuming it.
func (s *Store) PeekLatest(ctx context.Context, sessionID string) (*models.ApprovalToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.load()
	if err != nil {
		return nil, err
	}
	recs = pruneExpired(recs, time.Now().UTC())
	if err := s.save(recs); err != nil {
		return nil, err
	}
	latest := latestForSession(recs, sessionID)
	if latest == nil {
		return nil, nil
	}
	return toApprovalToken(*latest), nil
}

// ConsumeLatest removes and returns the most recent pending approval for
// sessionID, supporting bare "yes" UX.
func (s *Store) ConsumeLatest(ctx context.Context, sessionID string) (*models.ApprovalToken, error) {
	return s.consumeLatestMatching(sessionID)
}

// DiscardLatest removes (without acting on) the most recent pending approval
// for sessionID, supporting bare "no" UX.
func (s *Store) DiscardLatest(ctx context.Context, sessionID string) (*models.ApprovalToken, error) {
	return s.consumeLatestMatching(sessionID)
}

func (s *Store) consumeLatestMatching(sessionID string) (*models.ApprovalToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.load()
	if err != nil {
		return nil, err
	}
	recs = pruneExpired(recs, time.Now().UTC())

	idx := -1
	var latestAt time.Time
	for i, r := range recs {
		if r.SessionID != sessionID {
			continue
		}
		if idx == -1 || r.CreatedAt.After(latestAt) {
			idx = i
			latestAt = r.CreatedAt
		}
	}
	if idx == -1 {
		s.save(recs)
		return nil, nil
	}
	found := recs[idx]
	recs = append(recs[:idx], recs[idx+1:]...)
	if err := s.save(recs); err != nil {
		return nil, err
	}
	return toApprovalToken(found), nil
}

// ListBySession returns sessionID's pending approvals newest-first, bounded
// to [1, 500].
func (s *Store) ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.ApprovalToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.load()
	if err != nil {
		return nil, err
	}
	recs = pruneExpired(recs, time.Now().UTC())
	if err := s.save(recs); err != nil {
		return nil, err
	}

	var filtered []record
	for _, r := range recs {
		if r.SessionID == sessionID {
			filtered = append(filtered, r)
		}
	}
	return toSortedTokens(filtered, limit), nil
}

// ListPending returns every pending approval across sessions newest-first,
// bounded to [1, 500].
func (s *Store) ListPending(ctx context.Context, limit int) ([]*models.ApprovalToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.load()
	if err != nil {
		return nil, err
	}
	recs = pruneExpired(recs, time.Now().UTC())
	if err := s.save(recs); err != nil {
		return nil, err
	}
	return toSortedTokens(recs, limit), nil
}

func latestForSession(recs []record, sessionID string) *record {
	var latest *record
	for i := range recs {
		if recs[i].SessionID != sessionID {
			continue
		}
		if latest == nil || recs[i].CreatedAt.After(latest.CreatedAt) {
			latest = &recs[i]
		}
	}
	return latest
}

func toSortedTokens(recs []record, limit int) []*models.ApprovalToken {
	limit = clampLimit(limit)
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	if len(recs) > limit {
		recs = recs[:limit]
	}
	out := make([]*models.ApprovalToken, 0, len(recs))
	for _, r := range recs {
		out = append(out, toApprovalToken(r))
	}
	return out
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > 500 {
		return 500
	}
	return limit
}

// toApprovalToken never surfaces TokenHash — the plaintext token is not
// recoverable once consumed, matching the single-use guarantee.
func toApprovalToken(r record) *models.ApprovalToken {
	return &models.ApprovalToken{
		SessionID: r.SessionID,
		Action:    r.Action,
		Payload:   r.Payload,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
}
