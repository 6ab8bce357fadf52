package wizard

import (
	"sync"

	"github.com/google/uuid"
)

// Sessions is a concurrent registry of active wizard sessions, keyed by a
// generated session id. The web layer owns one.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Controller
	deps     Deps
}

// NewSessions creates an empty session registry; new controllers are built
// from deps.
func NewSessions(deps Deps) *Sessions {
	return &Sessions{
		sessions: make(map[string]*Controller),
		deps:     deps,
	}
}

// Open creates a new session and returns its id.
func (s *Sessions) Open() (string, *Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	c := New(s.deps)
	s.sessions[id] = c
	return id, c
}

// Get returns the session for id, or nil.
func (s *Sessions) Get(id string) *Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// Close closes and removes a session. The session's import job, if started,
// keeps running.
func (s *Sessions) Close(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.sessions[id]
	if !ok {
		return false
	}
	c.Close()
	delete(s.sessions, id)
	return true
}
