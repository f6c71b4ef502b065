package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxIdle is how long a session may go untouched before it expires.
const DefaultMaxIdle = 2 * time.Hour

// Store is a thread-safe in-memory session store with idle expiry.
// Expired sessions are evicted lazily on Get and eagerly by SweepExpired.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	maxIdle  time.Duration
	now      func() time.Time
}

// NewStore creates a store. maxIdle <= 0 selects DefaultMaxIdle.
func NewStore(maxIdle time.Duration) *Store {
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	return &Store{
		sessions: make(map[string]*Session),
		maxIdle:  maxIdle,
		now:      time.Now,
	}
}

// Create registers a new idle session and returns it.
func (st *Store) Create() *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := st.now()
	s := &Session{
		ID:           uuid.New().String(),
		CreatedAt:    now,
		LastAccessed: now,
		State:        StateIdle,
	}
	st.sessions[s.ID] = s
	return s
}

// Get returns the session by ID and refreshes its last-accessed time.
// An expired session is evicted and reported as missing.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	now := st.now()
	if st.expired(s, now) {
		delete(st.sessions, id)
		return nil, false
	}
	s.LastAccessed = now
	return s, true
}

// Update applies fn to the session under the store lock and refreshes its
// last-accessed time. Returns false if the session is missing or expired.
func (st *Store) Update(id string, fn func(*Session)) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return false
	}
	now := st.now()
	if st.expired(s, now) {
		delete(st.sessions, id)
		return false
	}
	fn(s)
	s.LastAccessed = now
	return true
}

// Delete removes the session if present.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// SweepExpired removes all expired sessions and returns how many were removed.
func (st *Store) SweepExpired() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := st.now()
	n := 0
	for id, s := range st.sessions {
		if st.expired(s, now) {
			delete(st.sessions, id)
			n++
		}
	}
	return n
}

// Count returns the number of live (non-expired) sessions.
func (st *Store) Count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := st.now()
	n := 0
	for _, s := range st.sessions {
		if !st.expired(s, now) {
			n++
		}
	}
	return n
}

func (st *Store) expired(s *Session, now time.Time) bool {
	return now.Sub(s.LastAccessed) > st.maxIdle
}
