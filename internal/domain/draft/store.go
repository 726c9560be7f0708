// Package draft holds the mutable in-memory projection of one encounter's
// clinical note during an editing session. The store owns the note fields
// and their save state; it never touches the network itself.
package draft

import (
	"errors"
	"sync"
	"time"

	"github.com/clinisys/consult/internal/platform/recordapi"
)

var (
	// ErrReadOnly is returned once the encounter has been completed.
	ErrReadOnly = errors.New("draft: encounter is read-only")
	// ErrSaveInFlight is returned when a second flush is started while one
	// is still pending.
	ErrSaveInFlight = errors.New("draft: save already in flight")
	// ErrClean is returned by BeginSave when there is nothing to flush.
	ErrClean = errors.New("draft: no unsaved changes")
)

// Update is a partial note edit; nil fields are left untouched.
type Update struct {
	Subjective *string `json:"subjective,omitempty"`
	Objective  *string `json:"objective,omitempty"`
	Assessment *string `json:"assessment,omitempty"`
	Plan       *string `json:"plan,omitempty"`
}

// Store tracks the note fields and save state for one encounter.
type Store struct {
	mu          sync.Mutex
	fields      recordapi.NoteFields
	state       State
	sent        recordapi.NoteFields // snapshot in flight, valid while state == StateSaving
	lastSavedAt *time.Time
	readOnly    bool
}

// NewStore initializes a store from the server snapshot. The initial state
// is clean: the snapshot is by definition what the server last saw.
func NewStore(initial recordapi.NoteFields) *Store {
	return &Store{fields: initial, state: StateClean}
}

// Apply merges a partial edit into the draft and marks it dirty. No I/O.
// Edits that arrive while a flush is in flight are recorded; FinishSave
// detects the divergence and keeps the draft dirty.
func (s *Store) Apply(u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly {
		return ErrReadOnly
	}
	if u.Subjective != nil {
		s.fields.Subjective = *u.Subjective
	}
	if u.Objective != nil {
		s.fields.Objective = *u.Objective
	}
	if u.Assessment != nil {
		s.fields.Assessment = *u.Assessment
	}
	if u.Plan != nil {
		s.fields.Plan = *u.Plan
	}
	if s.state == StateClean {
		s.state = StateDirty
	}
	return nil
}

// BeginSave transitions dirty → saving and returns the snapshot to flush.
// Only one save may be in flight at a time.
func (s *Store) BeginSave() (recordapi.NoteFields, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly {
		return recordapi.NoteFields{}, ErrReadOnly
	}
	switch s.state {
	case StateSaving:
		return recordapi.NoteFields{}, ErrSaveInFlight
	case StateClean:
		return recordapi.NoteFields{}, ErrClean
	}
	s.state = StateSaving
	s.sent = s.fields
	return s.sent, nil
}

// FinishSave records a successful flush. The draft becomes clean only when
// the current fields still match what was sent; edits that raced the flush
// leave it dirty for the next cycle. Partial clears do not exist.
func (s *Store) FinishSave(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateSaving {
		return
	}
	s.lastSavedAt = &at
	if s.fields == s.sent {
		s.state = StateClean
	} else {
		s.state = StateDirty
	}
}

// FailSave records a failed flush: the draft stays dirty, fields untouched.
func (s *Store) FailSave() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateSaving {
		s.state = StateDirty
	}
}

// Snapshot returns a copy of the current note fields.
func (s *Store) Snapshot() recordapi.NoteFields {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields
}

// State returns the current save state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dirty reports whether the draft differs from the last persisted snapshot,
// including edits that arrived while a flush was in flight.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSaving {
		return s.fields != s.sent
	}
	return s.state == StateDirty
}

// Saving reports whether a flush is in flight.
func (s *Store) Saving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateSaving
}

// LastSavedAt returns the time of the last successful flush, or nil.
func (s *Store) LastSavedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSavedAt == nil {
		return nil
	}
	t := *s.lastSavedAt
	return &t
}

// MarkReadOnly locks the draft after completion. Irreversible.
func (s *Store) MarkReadOnly() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readOnly = true
}

// ReadOnly reports whether the draft has been locked.
func (s *Store) ReadOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readOnly
}
