package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for an unknown or already-closed session id.
	ErrNotFound = errors.New("session: not found")
	// ErrEncounterInUse is returned when the encounter already has a live
	// session. One session per encounter keeps the autosave pipeline the
	// only writer of that encounter's note.
	ErrEncounterInUse = errors.New("session: encounter already has a live session")
)

// Registry tracks live sessions for the HTTP layer, indexed by session id
// and by encounter id.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[uuid.UUID]*Session
	encounters map[uuid.UUID]uuid.UUID // encounter id -> session id
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:   make(map[uuid.UUID]*Session),
		encounters: make(map[uuid.UUID]uuid.UUID),
	}
}

// Add registers a session, refusing a second one for the same encounter.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.encounters[s.EncounterID]; ok {
		return ErrEncounterInUse
	}
	r.sessions[s.ID] = s
	r.encounters[s.EncounterID] = s.ID
	return nil
}

func (r *Registry) Get(id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove detaches and closes a session. Closing twice is a no-op at the
// registry level.
func (r *Registry) Remove(id uuid.UUID) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	if ok {
		delete(r.encounters, s.EncounterID)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Close()
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll tears down every live session, used on server shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		s.Close()
		delete(r.sessions, id)
		delete(r.encounters, s.EncounterID)
	}
}
