package workflow

import (
	"sync"
	"time"
)

// DefaultTTL is how long an untouched session survives, measured from its
// last mutation.
const DefaultTTL = 30 * time.Minute

// Store is the keyed in-memory registry of sessions for one workflow kind.
// Expired entries are reaped opportunistically before workflow entry rather
// than on a timer; that is acceptable for a single-process deployment.
type Store struct {
	mu       sync.RWMutex
	catalog  *Catalog
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*Session
}

func NewStore(c *Catalog, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		catalog:  c,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

func (s *Store) Catalog() *Catalog {
	return s.catalog
}

// GetOrCreate returns the session for id, minting a fresh one when the id is
// absent, unknown, or expired. An expired or unknown id gets a new entity
// under the same id, so a stale caller restarts cleanly instead of failing.
// The second return reports whether a new entity was created. Lookups do not
// refresh the session's age; only mutations do.
func (s *Store) GetOrCreate(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if sess, ok := s.sessions[id]; ok {
			if s.now().Sub(sess.UpdatedAt()) <= s.ttl {
				return sess, false
			}
			delete(s.sessions, id)
		}
	}

	sess := newSessionAt(s.catalog, id, s.now)
	s.sessions[sess.ID()] = sess
	return sess, true
}

// Get returns a live, unexpired session without creating one.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok || s.now().Sub(sess.UpdatedAt()) > s.ttl {
		return nil, false
	}
	return sess, true
}

// Reset discards the session under id and mints a replacement with a fresh
// identity.
func (s *Store) Reset(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	sess := newSessionAt(s.catalog, "", s.now)
	s.sessions[sess.ID()] = sess
	return sess
}

// Reap removes every session past its deadline and reports how many were
// dropped. Safe to run concurrently with lookups: it only removes entries
// already expired.
func (s *Store) Reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	cutoff := s.now()
	for id, sess := range s.sessions {
		if cutoff.Sub(sess.UpdatedAt()) > s.ttl {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Len reports the live entry count, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
