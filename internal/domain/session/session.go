package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinisys/consult/internal/domain/autosave"
	"github.com/clinisys/consult/internal/domain/command"
	"github.com/clinisys/consult/internal/domain/completion"
	"github.com/clinisys/consult/internal/domain/draft"
	"github.com/clinisys/consult/internal/domain/orders"
	"github.com/clinisys/consult/internal/platform/recordapi"
)

var (
	// ErrEncounterNotOpen is returned when opening a session against an
	// encounter that is already completed.
	ErrEncounterNotOpen = errors.New("session: encounter is not open")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session: closed")
)

// RecordAPI is the full remote surface a session needs. *recordapi.Client
// satisfies it.
type RecordAPI interface {
	FetchSnapshot(ctx context.Context, encounterID uuid.UUID) (*recordapi.EncounterSnapshot, error)
	SaveNote(ctx context.Context, encounterID uuid.UUID, note recordapi.NoteFields) error
	CreatePrescription(ctx context.Context, encounterID uuid.UUID, rx *recordapi.Prescription) (*recordapi.Prescription, error)
	UpdatePrescription(ctx context.Context, encounterID uuid.UUID, rx *recordapi.Prescription) (*recordapi.Prescription, error)
	DeletePrescription(ctx context.Context, encounterID, prescriptionID uuid.UUID) error
	ValidateStock(ctx context.Context, drugCode string, quantity int) (*recordapi.StockResult, error)
	CheckInteractions(ctx context.Context, drugCode string, patientID uuid.UUID) (*recordapi.InteractionReport, error)
	CreateLabOrder(ctx context.Context, encounterID uuid.UUID, o *recordapi.LabOrder) (*recordapi.LabOrder, error)
	UpdateLabOrder(ctx context.Context, encounterID uuid.UUID, o *recordapi.LabOrder) (*recordapi.LabOrder, error)
	DeleteLabOrder(ctx context.Context, encounterID, orderID uuid.UUID) error
	CompleteEncounter(ctx context.Context, encounterID uuid.UUID) (*recordapi.CompletionResult, error)
}

// Config carries the session package dependencies.
type Config struct {
	API      RecordAPI
	Journal  JournalRepository // optional
	Debounce time.Duration
	Logger   zerolog.Logger
}

// Session scopes one clinician's work on one open encounter. It owns the
// draft store, the auto-save pipeline, both order managers, the completion
// orchestrator and the keyboard dispatcher, and tears them all down on
// Close. Everything editable inside it dies with it.
type Session struct {
	ID          uuid.UUID
	EncounterID uuid.UUID
	PatientID   uuid.UUID
	CreatedAt   time.Time

	cfg        Config
	store      *draft.Store
	pipeline   *autosave.Pipeline
	rx         *orders.PrescriptionManager
	labs       *orders.LabOrderManager
	orch       *completion.Orchestrator
	dispatcher *command.Dispatcher
	logger     zerolog.Logger
	resumed    bool
}

// Open fetches the encounter snapshot, resumes any unflushed journal draft,
// and wires the whole workflow together.
func Open(ctx context.Context, cfg Config, encounterID uuid.UUID) (*Session, error) {
	snap, err := cfg.API.FetchSnapshot(ctx, encounterID)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	if snap.Status != recordapi.StatusOpen {
		return nil, ErrEncounterNotOpen
	}

	s := &Session{
		ID:          uuid.New(),
		EncounterID: encounterID,
		PatientID:   snap.PatientID,
		CreatedAt:   time.Now().UTC(),
		cfg:         cfg,
	}
	s.logger = cfg.Logger.With().
		Str("session_id", s.ID.String()).
		Str("encounter_id", encounterID.String()).
		Logger()

	s.store = draft.NewStore(snap.Note)
	if cfg.Journal != nil {
		if entry, err := cfg.Journal.LatestUnflushed(ctx, encounterID); err != nil {
			s.logger.Warn().Err(err).Msg("journal lookup failed, starting from server note")
		} else if entry != nil {
			note := entry.Note
			_ = s.store.Apply(draft.Update{
				Subjective: &note.Subjective,
				Objective:  &note.Objective,
				Assessment: &note.Assessment,
				Plan:       &note.Plan,
			})
			s.resumed = true
			s.logger.Info().Time("captured_at", entry.CapturedAt).Msg("resumed unflushed draft from journal")
		}
	}

	pipeOpts := []autosave.Option{autosave.WithLogger(s.logger)}
	if cfg.Journal != nil {
		pipeOpts = append(pipeOpts, autosave.WithOnSaved(func(at time.Time, _ recordapi.NoteFields) {
			jctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := cfg.Journal.MarkFlushed(jctx, encounterID, at); err != nil {
				s.logger.Warn().Err(err).Msg("journal mark-flushed failed")
			}
		}))
	}
	s.pipeline = autosave.NewPipeline(s.store, cfg.API, encounterID, cfg.Debounce, pipeOpts...)
	if s.resumed {
		// The restored text is dirty; flush it without waiting for an edit.
		s.pipeline.Notify()
	}

	s.rx = orders.NewPrescriptionManager(cfg.API, encounterID, snap.PatientID, snap.Prescriptions)
	s.labs = orders.NewLabOrderManager(cfg.API, encounterID, snap.LabOrders)

	orchOpts := []completion.Option{completion.WithLogger(s.logger)}
	if cfg.Journal != nil {
		orchOpts = append(orchOpts, completion.WithOnCompleted(func() {
			jctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := cfg.Journal.DeleteByEncounter(jctx, encounterID); err != nil {
				s.logger.Warn().Err(err).Msg("journal cleanup failed")
			}
		}))
	}
	s.orch = completion.NewOrchestrator(encounterID, s.store, s.pipeline, cfg.API, s.rx, s.labs, orchOpts...)

	s.dispatcher = command.NewDispatcher(s.ReadOnly)
	s.dispatcher.Bind(command.IntentSave, s.ForceSave)
	// The remaining intents resolve to navigation the caller performs; the
	// dispatcher's job here is chord resolution and gating.
	nop := func(context.Context) error { return nil }
	s.dispatcher.Bind(command.IntentAddPrescription, nop)
	s.dispatcher.Bind(command.IntentAddLabOrder, nop)
	s.dispatcher.Bind(command.IntentComplete, nop)
	s.dispatcher.Bind(command.IntentHelp, nop)

	s.logger.Info().Bool("resumed", s.resumed).Msg("session opened")
	return s, nil
}

// UpdateNote applies a partial edit, journals the result and schedules an
// auto-save.
func (s *Session) UpdateNote(ctx context.Context, u draft.Update) error {
	if err := s.store.Apply(u); err != nil {
		return err
	}
	if s.cfg.Journal != nil {
		entry := &JournalEntry{
			EncounterID: s.EncounterID,
			SessionID:   s.ID,
			Note:        s.store.Snapshot(),
		}
		if err := s.cfg.Journal.Append(ctx, entry); err != nil {
			s.logger.Warn().Err(err).Msg("journal append failed")
		}
	}
	s.pipeline.Notify()
	return nil
}

// ForceSave flushes the draft immediately, sequencing behind any in-flight
// auto-save.
func (s *Session) ForceSave(ctx context.Context) error {
	return s.pipeline.ForceSave(ctx)
}

func (s *Session) Prescriptions() *orders.PrescriptionManager { return s.rx }
func (s *Session) LabOrders() *orders.LabOrderManager         { return s.labs }

// Review snapshots the encounter for the confirmation step.
func (s *Session) Review() (*completion.Summary, error) {
	return s.orch.Review()
}

// Commit completes the encounter: final save, note write, then the atomic
// completion call.
func (s *Session) Commit(ctx context.Context) (*recordapi.CompletionResult, error) {
	return s.orch.Commit(ctx)
}

// Dispatch resolves a keystroke to an intent and runs its handler.
func (s *Session) Dispatch(ctx context.Context, ks command.Keystroke) (command.Intent, error) {
	return s.dispatcher.Dispatch(ctx, ks)
}

// ReadOnly reports whether editing is over for this encounter.
func (s *Session) ReadOnly() bool {
	return s.orch.Completed() || s.store.ReadOnly()
}

// Resumed reports whether the draft was restored from the journal on open.
func (s *Session) Resumed() bool { return s.resumed }

// View is the client-facing snapshot of a session.
type View struct {
	SessionID     uuid.UUID                `json:"session_id"`
	EncounterID   uuid.UUID                `json:"encounter_id"`
	PatientID     uuid.UUID                `json:"patient_id"`
	Status        string                   `json:"status"`
	Note          recordapi.NoteFields     `json:"note"`
	SaveState     string                   `json:"save_state"`
	Dirty         bool                     `json:"dirty"`
	LastSavedAt   *time.Time               `json:"last_saved_at,omitempty"`
	Resumed       bool                     `json:"resumed"`
	Prescriptions []recordapi.Prescription `json:"prescriptions"`
	LabOrders     []recordapi.LabOrder     `json:"lab_orders"`
	ReadOnly      bool                     `json:"read_only"`
}

// View assembles the current state for the HTTP layer.
func (s *Session) View() View {
	status := recordapi.StatusOpen
	if s.orch.Completed() {
		status = recordapi.StatusCompleted
	}
	return View{
		SessionID:     s.ID,
		EncounterID:   s.EncounterID,
		PatientID:     s.PatientID,
		Status:        status,
		Note:          s.store.Snapshot(),
		SaveState:     s.store.State().String(),
		Dirty:         s.store.Dirty(),
		LastSavedAt:   s.store.LastSavedAt(),
		Resumed:       s.resumed,
		Prescriptions: s.rx.List(),
		LabOrders:     s.labs.List(),
		ReadOnly:      s.ReadOnly(),
	}
}

// Close tears the pipeline and dispatcher down. Pending unsaved edits stay
// in the journal for the next session to resume.
func (s *Session) Close() {
	s.pipeline.Close()
	s.dispatcher.Close()
	s.logger.Info().Msg("session closed")
}
