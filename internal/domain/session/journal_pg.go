package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinisys/consult/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type journalRepoPG struct{ pool *pgxpool.Pool }

func NewJournalRepoPG(pool *pgxpool.Pool) JournalRepository {
	return &journalRepoPG{pool: pool}
}

func (r *journalRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const journalCols = `id, encounter_id, session_id, subjective, objective,
	assessment, plan, captured_at, flushed`

func (r *journalRepoPG) scanEntry(row pgx.Row) (*JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.EncounterID, &e.SessionID,
		&e.Note.Subjective, &e.Note.Objective, &e.Note.Assessment, &e.Note.Plan,
		&e.CapturedAt, &e.Flushed)
	return &e, err
}

func (r *journalRepoPG) Append(ctx context.Context, e *JournalEntry) error {
	e.ID = uuid.New()
	if e.CapturedAt.IsZero() {
		e.CapturedAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO draft_journal (id, encounter_id, session_id, subjective, objective,
			assessment, plan, captured_at, flushed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.EncounterID, e.SessionID,
		e.Note.Subjective, e.Note.Objective, e.Note.Assessment, e.Note.Plan,
		e.CapturedAt, e.Flushed)
	return err
}

func (r *journalRepoPG) MarkFlushed(ctx context.Context, encounterID uuid.UUID, upTo time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE draft_journal SET flushed = TRUE
		WHERE encounter_id = $1 AND captured_at <= $2 AND flushed = FALSE`,
		encounterID, upTo)
	return err
}

func (r *journalRepoPG) LatestUnflushed(ctx context.Context, encounterID uuid.UUID) (*JournalEntry, error) {
	e, err := r.scanEntry(r.conn(ctx).QueryRow(ctx, `
		SELECT `+journalCols+` FROM draft_journal
		WHERE encounter_id = $1 AND flushed = FALSE
		ORDER BY captured_at DESC LIMIT 1`, encounterID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *journalRepoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID, limit, offset int) ([]*JournalEntry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM draft_journal WHERE encounter_id = $1`, encounterID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+journalCols+` FROM draft_journal
		WHERE encounter_id = $1 ORDER BY captured_at DESC LIMIT $2 OFFSET $3`,
		encounterID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*JournalEntry
	for rows.Next() {
		e, err := r.scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, nil
}

func (r *journalRepoPG) DeleteByEncounter(ctx context.Context, encounterID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM draft_journal WHERE encounter_id = $1`, encounterID)
	return err
}
