package idempotency

import (
	"fmt"
	"time"

	"intentd/canonical"
	"intentd/filelock"
	"intentd/statefile"
)

// Status values a record may hold. A key with a pending or success record is
// rejected pre-dispatch; failure permits retry.
const (
	StatusPending              = "pending"
	StatusConfirmationRequired = "confirmation_required"
	StatusSuccess              = "success"
	StatusFailure              = "failure"
)

// Record is the persisted per-fingerprint state.
type Record struct {
	Status    string `json:"status"`
	RunID     string `json:"runId"`
	Result    any    `json:"result,omitempty"`
	Error     any    `json:"error,omitempty"`
	UpdatedAt string `json:"updatedAt"`
}

type fileShape struct {
	Keys map[string]Record `json:"keys"`
}

// Store is the file-backed idempotency map. Every mutation is a full
// read-modify-write of the state file under the store lock, so racing
// writers for different keys cannot drop each other's updates.
type Store struct {
	path  string
	lock  *filelock.Lock
	nowFn func() time.Time
}

func New(path string, lockTimeout, lockStale time.Duration) *Store {
	return &Store{
		path:  path,
		lock:  filelock.New(path+".lock", lockTimeout, lockStale),
		nowFn: time.Now,
	}
}

// Compute derives the fingerprint for an intent under a policy version. The
// digest is taken over the canonical rendering, so JSON key ordering of the
// source never shifts the key.
func Compute(intent any, policyVersion string) (string, error) {
	return canonical.Fingerprint(map[string]any{
		"policyVersion": policyVersion,
		"intent":        intent,
	})
}

// Get returns the record for key, if any.
func (s *Store) Get(key string) (*Record, error) {
	var state fileShape
	if _, err := statefile.ReadJSON(s.path, &state); err != nil {
		return nil, err
	}
	rec, ok := state.Keys[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// MarkPending records that a run is about to dispatch under key.
func (s *Store) MarkPending(key, runID string) error {
	return s.put(key, Record{Status: StatusPending, RunID: runID})
}

// MarkSuccess records a completed dispatch along with its result payload.
func (s *Store) MarkSuccess(key, runID string, result any) error {
	return s.put(key, Record{Status: StatusSuccess, RunID: runID, Result: result})
}

// MarkFailure records a failed dispatch; the key becomes retryable.
func (s *Store) MarkFailure(key, runID string, errPayload any) error {
	return s.put(key, Record{Status: StatusFailure, RunID: runID, Error: errPayload})
}

// MarkConfirmationRequired parks a run awaiting operator confirmation.
func (s *Store) MarkConfirmationRequired(key, runID string, payload any) error {
	return s.put(key, Record{Status: StatusConfirmationRequired, RunID: runID, Result: payload})
}

// CleanupExpired drops records older than ttlDays and reports how many were
// removed.
func (s *Store) CleanupExpired(ttlDays int) (int, error) {
	if ttlDays <= 0 {
		return 0, nil
	}
	ttl := time.Duration(ttlDays) * 24 * time.Hour
	removed := 0
	err := s.lock.WithLock(func() error {
		state := fileShape{Keys: map[string]Record{}}
		if _, err := statefile.ReadJSON(s.path, &state); err != nil {
			return err
		}
		if state.Keys == nil {
			return nil
		}
		now := s.nowFn().UTC()
		for key, rec := range state.Keys {
			updated, err := time.Parse(time.RFC3339Nano, rec.UpdatedAt)
			if err != nil || now.Sub(updated) > ttl {
				delete(state.Keys, key)
				removed++
			}
		}
		if removed == 0 {
			return nil
		}
		return statefile.WriteJSON(s.path, state)
	})
	if err != nil {
		return 0, fmt.Errorf("idempotency: cleanup: %w", err)
	}
	return removed, nil
}

func (s *Store) put(key string, rec Record) error {
	rec.UpdatedAt = s.nowFn().UTC().Format(time.RFC3339Nano)
	return s.lock.WithLock(func() error {
		state := fileShape{Keys: map[string]Record{}}
		if _, err := statefile.ReadJSON(s.path, &state); err != nil {
			return err
		}
		if state.Keys == nil {
			state.Keys = map[string]Record{}
		}
		state.Keys[key] = rec
		return statefile.WriteJSON(s.path, state)
	})
}
