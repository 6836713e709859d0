package proctor

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks the live sessions in this process, keyed by attempt
// id. Handlers look sessions up here; the attempt service creates and
// removes them.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

// Get returns the live session for an attempt, if any.
func (r *Registry) Get(attemptID uuid.UUID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[attemptID]
	return s, ok
}

// Put registers a session. If another session is already registered
// for the attempt (a concurrent start), the existing one wins and is
// returned with false.
func (r *Registry) Put(s *Session) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[s.AttemptID()]; ok {
		return existing, false
	}
	r.sessions[s.AttemptID()] = s
	return s, true
}

// Remove tears down and forgets the session for an attempt.
func (r *Registry) Remove(attemptID uuid.UUID) {
	r.mu.Lock()
	s, ok := r.sessions[attemptID]
	delete(r.sessions, attemptID)
	r.mu.Unlock()

	if ok {
		s.Teardown()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown tears down every live session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[uuid.UUID]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Teardown()
	}
}
