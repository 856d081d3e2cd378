package upload

import (
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// SessionStore is the in-memory registry of open upload sessions and their locks.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	locks    map[string]*semaphore.Weighted
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*semaphore.Weighted),
	}
}

// Add registers a session together with a fresh exclusive lock.
func (s *SessionStore) Add(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	s.locks[sess.ID] = semaphore.NewWeighted(1)
}

func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *SessionStore) Lock(id string) (*semaphore.Weighted, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lock, ok := s.locks[id]
	return lock, ok
}

// Claim removes the session and its lock in one step. Only one caller can
// claim a given session; later callers get ok == false.
func (s *SessionStore) Claim(id string) (*Session, *semaphore.Weighted, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil, false
	}
	lock := s.locks[id]
	delete(s.sessions, id)
	delete(s.locks, id)
	return sess, lock, true
}

// Stale returns the ids of sessions created before cutoff.
func (s *SessionStore) Stale(cutoff time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
