package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinisys/consult/internal/platform/recordapi"
)

// JournalEntry is one captured draft snapshot. The journal is a local
// safety net: the draft lives in memory and flushes to the record service,
// but if the process or network dies mid-session the latest unflushed entry
// lets the clinician resume with their text intact.
type JournalEntry struct {
	ID          uuid.UUID            `db:"id" json:"id"`
	EncounterID uuid.UUID            `db:"encounter_id" json:"encounter_id"`
	SessionID   uuid.UUID            `db:"session_id" json:"session_id"`
	Note        recordapi.NoteFields `db:"-" json:"note"`
	CapturedAt  time.Time            `db:"captured_at" json:"captured_at"`
	Flushed     bool                 `db:"flushed" json:"flushed"`
}

// JournalRepository persists draft snapshots. Journal writes are
// best-effort: a failure is logged and never blocks editing or saving.
type JournalRepository interface {
	Append(ctx context.Context, e *JournalEntry) error
	// MarkFlushed marks every entry captured at or before upTo as flushed.
	MarkFlushed(ctx context.Context, encounterID uuid.UUID, upTo time.Time) error
	// LatestUnflushed returns the newest unflushed entry for an encounter,
	// or nil when there is nothing to resume.
	LatestUnflushed(ctx context.Context, encounterID uuid.UUID) (*JournalEntry, error)
	ListByEncounter(ctx context.Context, encounterID uuid.UUID, limit, offset int) ([]*JournalEntry, int, error)
	// DeleteByEncounter clears the journal once the encounter is completed.
	DeleteByEncounter(ctx context.Context, encounterID uuid.UUID) error
}
