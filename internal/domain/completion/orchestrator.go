// Package completion drives the irreversible multi-step transaction that
// finalizes an encounter: drain the auto-save pipeline, persist the note as
// the final-of-record write, then invoke the single atomic server-side
// completion (stock confirmation, lab submission, billing). The client's
// obligation is ordering and never assuming partial success; atomicity
// lives server-side behind the complete-encounter call.
package completion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinisys/consult/internal/domain/draft"
	"github.com/clinisys/consult/internal/domain/orders"
	"github.com/clinisys/consult/internal/platform/recordapi"
)

// Phase is the orchestrator's state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseReviewing
	PhaseCommitting
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseReviewing:
		return "reviewing"
	case PhaseCommitting:
		return "committing"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

var (
	// ErrCommitInProgress is returned when a second commit attempt starts
	// while one is still committing.
	ErrCommitInProgress = errors.New("completion: commit already in progress")
	// ErrAlreadyCompleted is returned after a successful completion.
	ErrAlreadyCompleted = errors.New("completion: encounter already completed")
)

// Commit steps, in their load-bearing order.
const (
	StepForceSave = "force-save"
	StepNoteWrite = "note-write"
	StepComplete  = "complete-encounter"
)

// StepError reports which commit step failed. The encounter stays open and
// a full re-run from review is safe; the server is the idempotency
// boundary.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("completion step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Flusher is the slice of the auto-save pipeline the orchestrator needs.
type Flusher interface {
	ForceSave(ctx context.Context) error
}

// RecordAPI is the slice of the record API the orchestrator needs.
type RecordAPI interface {
	SaveNote(ctx context.Context, encounterID uuid.UUID, note recordapi.NoteFields) error
	CompleteEncounter(ctx context.Context, encounterID uuid.UUID) (*recordapi.CompletionResult, error)
}

// Orchestrator finalizes one encounter. Exclusive: one commit at a time.
type Orchestrator struct {
	encounterID uuid.UUID
	store       *draft.Store
	pipeline    Flusher
	api         RecordAPI
	rx          *orders.PrescriptionManager
	labs        *orders.LabOrderManager
	logger      zerolog.Logger
	onCompleted func()

	mu    sync.Mutex
	phase Phase
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithOnCompleted registers a hook invoked once after a successful commit.
func WithOnCompleted(fn func()) Option {
	return func(o *Orchestrator) { o.onCompleted = fn }
}

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func NewOrchestrator(encounterID uuid.UUID, store *draft.Store, pipeline Flusher, api RecordAPI, rx *orders.PrescriptionManager, labs *orders.LabOrderManager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		encounterID: encounterID,
		store:       store,
		pipeline:    pipeline,
		api:         api,
		rx:          rx,
		labs:        labs,
		logger:      zerolog.Nop(),
		phase:       PhaseIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Review builds the confirmation summary from the in-memory order lists.
// No network call; the summary is a confirmation artifact, never persisted.
func (o *Orchestrator) Review() (*Summary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.phase {
	case PhaseCommitting:
		return nil, ErrCommitInProgress
	case PhaseDone:
		return nil, ErrAlreadyCompleted
	}
	o.phase = PhaseReviewing
	return BuildSummary(o.rx.List(), o.labs.List()), nil
}

// Commit runs the completion sequence. On failure at any step the encounter
// remains open, the draft is left as-is, and the whole sequence re-runs
// from review on retry; no partial state is assumed reusable.
func (o *Orchestrator) Commit(ctx context.Context) (*recordapi.CompletionResult, error) {
	o.mu.Lock()
	switch o.phase {
	case PhaseCommitting:
		o.mu.Unlock()
		return nil, ErrCommitInProgress
	case PhaseDone:
		o.mu.Unlock()
		return nil, ErrAlreadyCompleted
	}
	o.phase = PhaseCommitting
	o.mu.Unlock()

	res, err := o.commit(ctx)

	o.mu.Lock()
	if err != nil {
		o.phase = PhaseReviewing
	} else {
		o.phase = PhaseDone
	}
	o.mu.Unlock()

	if err == nil && o.onCompleted != nil {
		o.onCompleted()
	}
	return res, err
}

func (o *Orchestrator) commit(ctx context.Context) (*recordapi.CompletionResult, error) {
	// Drain pending edits first. A failed force-save blocks the whole
	// sequence; the destructive server call must never run on top of an
	// unflushed note.
	if err := o.pipeline.ForceSave(ctx); err != nil {
		return nil, &StepError{Step: StepForceSave, Err: err}
	}

	// Final-of-record note write, separate from auto-save.
	if err := o.api.SaveNote(ctx, o.encounterID, o.store.Snapshot()); err != nil {
		return nil, &StepError{Step: StepNoteWrite, Err: err}
	}

	// The one atomic server-side transaction. No partial retry of
	// sub-steps on this side.
	res, err := o.api.CompleteEncounter(ctx, o.encounterID)
	if err != nil {
		return nil, &StepError{Step: StepComplete, Err: err}
	}

	o.store.MarkReadOnly()
	o.rx.SetReadOnly()
	o.labs.SetReadOnly()

	o.logger.Info().
		Str("encounter_id", o.encounterID.String()).
		Int("prescriptions_processed", res.PrescriptionsProcessed).
		Int("lab_orders_submitted", res.LabOrdersSubmitted).
		Msg("encounter completed")
	return res, nil
}

// Phase returns the orchestrator's current phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Completed reports whether the encounter has been finalized.
func (o *Orchestrator) Completed() bool {
	return o.Phase() == PhaseDone
}
