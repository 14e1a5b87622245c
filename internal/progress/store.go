// Package progress provides a small process-wide keyed store for long-running
// operation state. Engines push snapshots into it after every batch; clients
// poll it instead of holding a connection open. It also carries the per-user
// cancellation flag the engine checks between batches.
package progress

import (
	"sync"
	"time"
)

// Payload is the snapshot written after each batch or iteration.
type Payload struct {
	Operation string    `json:"operation"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Message   string    `json:"message"`
	Done      bool      `json:"done"`
	Stopped   bool      `json:"stopped"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps the latest payload and cancellation flag per user.
// It is safe for concurrent use. Data is lost on restart, which is fine:
// an interrupted run's durable effects live in the database, not here.
type Store struct {
	mu        sync.RWMutex
	progress  map[string]Payload
	cancelled map[string]bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		progress:  make(map[string]Payload),
		cancelled: make(map[string]bool),
	}
}

// SetProgress stores the latest snapshot for a user.
func (s *Store) SetProgress(userID string, p Payload) {
	p.UpdatedAt = time.Now().UTC()
	s.mu.Lock()
	s.progress[userID] = p
	s.mu.Unlock()
}

// GetProgress returns the latest snapshot for a user, if any.
func (s *Store) GetProgress(userID string) (Payload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[userID]
	return p, ok
}

// SetCancellation sets or clears the cancellation flag for a user.
func (s *Store) SetCancellation(userID string, cancelled bool) {
	s.mu.Lock()
	if cancelled {
		s.cancelled[userID] = true
	} else {
		delete(s.cancelled, userID)
	}
	s.mu.Unlock()
}

// IsCancelled reports whether a cancellation was requested for a user.
func (s *Store) IsCancelled(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelled[userID]
}

// Clear removes a user's progress and cancellation state, typically at the
// start of a fresh run.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	delete(s.progress, userID)
	delete(s.cancelled, userID)
	s.mu.Unlock()
}
