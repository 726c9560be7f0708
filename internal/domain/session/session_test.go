package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinisys/consult/internal/domain/command"
	"github.com/clinisys/consult/internal/domain/draft"
	"github.com/clinisys/consult/internal/domain/orders"
	"github.com/clinisys/consult/internal/platform/recordapi"
)

type fakeAPI struct {
	mu       sync.Mutex
	snapshot *recordapi.EncounterSnapshot

	savedNotes []recordapi.NoteFields
	created    []recordapi.Prescription
	labs       []recordapi.LabOrder
	stock      map[string]*recordapi.StockResult
	reports    map[string]*recordapi.InteractionReport
	callOrder  []string

	completeErr error
	completed   bool

	// saveGate, when set, holds the next SaveNote open until closed;
	// saveStarted is closed once that save begins.
	saveGate    chan struct{}
	saveStarted chan struct{}
}

func newFakeAPI(encounterID, patientID uuid.UUID) *fakeAPI {
	return &fakeAPI{
		snapshot: &recordapi.EncounterSnapshot{
			EncounterID: encounterID,
			PatientID:   patientID,
			Status:      recordapi.StatusOpen,
		},
		stock:   make(map[string]*recordapi.StockResult),
		reports: make(map[string]*recordapi.InteractionReport),
	}
}

func (f *fakeAPI) record(op string) {
	f.callOrder = append(f.callOrder, op)
}

func (f *fakeAPI) FetchSnapshot(_ context.Context, _ uuid.UUID) (*recordapi.EncounterSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("fetch-snapshot")
	snap := *f.snapshot
	return &snap, nil
}

func (f *fakeAPI) SaveNote(_ context.Context, _ uuid.UUID, note recordapi.NoteFields) error {
	f.mu.Lock()
	gate, started := f.saveGate, f.saveStarted
	f.saveGate, f.saveStarted = nil, nil
	f.mu.Unlock()
	if started != nil {
		close(started)
	}
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("save-note")
	f.savedNotes = append(f.savedNotes, note)
	return nil
}

func (f *fakeAPI) CreatePrescription(_ context.Context, encounterID uuid.UUID, rx *recordapi.Prescription) (*recordapi.Prescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create-prescription")
	out := *rx
	out.ID = uuid.New()
	out.EncounterID = encounterID
	f.created = append(f.created, out)
	return &out, nil
}

func (f *fakeAPI) UpdatePrescription(_ context.Context, _ uuid.UUID, rx *recordapi.Prescription) (*recordapi.Prescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("update-prescription")
	out := *rx
	return &out, nil
}

func (f *fakeAPI) DeletePrescription(_ context.Context, _, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete-prescription")
	return nil
}

func (f *fakeAPI) ValidateStock(_ context.Context, drugCode string, _ int) (*recordapi.StockResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("validate-stock")
	if r, ok := f.stock[drugCode]; ok {
		return r, nil
	}
	return &recordapi.StockResult{IsValid: true}, nil
}

func (f *fakeAPI) CheckInteractions(_ context.Context, drugCode string, _ uuid.UUID) (*recordapi.InteractionReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("check-interactions")
	if r, ok := f.reports[drugCode]; ok {
		return r, nil
	}
	return &recordapi.InteractionReport{}, nil
}

func (f *fakeAPI) CreateLabOrder(_ context.Context, encounterID uuid.UUID, o *recordapi.LabOrder) (*recordapi.LabOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create-lab-order")
	out := *o
	out.ID = uuid.New()
	out.EncounterID = encounterID
	f.labs = append(f.labs, out)
	return &out, nil
}

func (f *fakeAPI) UpdateLabOrder(_ context.Context, _ uuid.UUID, o *recordapi.LabOrder) (*recordapi.LabOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("update-lab-order")
	out := *o
	return &out, nil
}

func (f *fakeAPI) DeleteLabOrder(_ context.Context, _, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete-lab-order")
	return nil
}

func (f *fakeAPI) CompleteEncounter(_ context.Context, _ uuid.UUID) (*recordapi.CompletionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("complete-encounter")
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	f.completed = true
	return &recordapi.CompletionResult{
		PrescriptionsProcessed: len(f.created),
		LabOrdersSubmitted:     len(f.labs),
		BillingLineItems:       len(f.created) + len(f.labs),
	}, nil
}

func (f *fakeAPI) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.callOrder))
	copy(out, f.callOrder)
	return out
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []*JournalEntry
	deleted bool
}

func (j *fakeJournal) Append(_ context.Context, e *JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *e
	cp.ID = uuid.New()
	if cp.CapturedAt.IsZero() {
		cp.CapturedAt = time.Now().UTC()
	}
	j.entries = append(j.entries, &cp)
	return nil
}

func (j *fakeJournal) MarkFlushed(_ context.Context, encounterID uuid.UUID, upTo time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range j.entries {
		if e.EncounterID == encounterID && !e.CapturedAt.After(upTo) {
			e.Flushed = true
		}
	}
	return nil
}

func (j *fakeJournal) LatestUnflushed(_ context.Context, encounterID uuid.UUID) (*JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var latest *JournalEntry
	for _, e := range j.entries {
		if e.EncounterID != encounterID || e.Flushed {
			continue
		}
		if latest == nil || e.CapturedAt.After(latest.CapturedAt) {
			latest = e
		}
	}
	return latest, nil
}

func (j *fakeJournal) ListByEncounter(_ context.Context, encounterID uuid.UUID, limit, offset int) ([]*JournalEntry, int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var all []*JournalEntry
	for _, e := range j.entries {
		if e.EncounterID == encounterID {
			all = append(all, e)
		}
	}
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (j *fakeJournal) DeleteByEncounter(_ context.Context, encounterID uuid.UUID) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var kept []*JournalEntry
	for _, e := range j.entries {
		if e.EncounterID != encounterID {
			kept = append(kept, e)
		}
	}
	j.entries = kept
	j.deleted = true
	return nil
}

const testDebounce = 30 * time.Millisecond

func str(s string) *string { return &s }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func openTestSession(t *testing.T, api *fakeAPI, journal JournalRepository) *Session {
	t.Helper()
	s, err := Open(context.Background(), Config{
		API:      api,
		Journal:  journal,
		Debounce: testDebounce,
		Logger:   zerolog.Nop(),
	}, api.snapshot.EncounterID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestOpenRejectsCompletedEncounter(t *testing.T) {
	api := newFakeAPI(uuid.New(), uuid.New())
	api.snapshot.Status = recordapi.StatusCompleted

	_, err := Open(context.Background(), Config{API: api, Debounce: testDebounce, Logger: zerolog.Nop()}, api.snapshot.EncounterID)
	if !errors.Is(err, ErrEncounterNotOpen) {
		t.Fatalf("err = %v, want ErrEncounterNotOpen", err)
	}
}

func TestOpenResumesUnflushedDraft(t *testing.T) {
	encID := uuid.New()
	api := newFakeAPI(encID, uuid.New())
	api.snapshot.Note = recordapi.NoteFields{Subjective: "server copy"}

	journal := &fakeJournal{}
	journal.Append(context.Background(), &JournalEntry{
		EncounterID: encID,
		SessionID:   uuid.New(),
		Note:        recordapi.NoteFields{Subjective: "local edit that never flushed", Plan: "rest"},
	})

	// Long debounce so the resume flush cannot race the assertions.
	s, err := Open(context.Background(), Config{
		API:      api,
		Journal:  journal,
		Debounce: time.Minute,
		Logger:   zerolog.Nop(),
	}, encID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)

	if !s.Resumed() {
		t.Fatal("session should report a resumed draft")
	}
	v := s.View()
	if v.Note.Subjective != "local edit that never flushed" || v.Note.Plan != "rest" {
		t.Fatalf("note = %+v, journal draft not restored", v.Note)
	}
	if !v.Dirty {
		t.Fatal("resumed draft should be dirty until flushed")
	}
}

func TestResumedDraftAutoSaves(t *testing.T) {
	encID := uuid.New()
	api := newFakeAPI(encID, uuid.New())

	journal := &fakeJournal{}
	journal.Append(context.Background(), &JournalEntry{
		EncounterID: encID,
		SessionID:   uuid.New(),
		Note:        recordapi.NoteFields{Subjective: "restored text"},
	})

	s := openTestSession(t, api, journal)

	// No edit arrives; the restored draft must still reach the server.
	waitFor(t, func() bool { return !s.View().Dirty })
	api.mu.Lock()
	saved := api.savedNotes
	api.mu.Unlock()
	if len(saved) != 1 || saved[0].Subjective != "restored text" {
		t.Fatalf("saved = %+v, want the resumed draft", saved)
	}
	waitFor(t, func() bool {
		e, _ := journal.LatestUnflushed(context.Background(), encID)
		return e == nil
	})
}

func TestUpdateNoteJournalsAndAutoSaves(t *testing.T) {
	api := newFakeAPI(uuid.New(), uuid.New())
	journal := &fakeJournal{}
	s := openTestSession(t, api, journal)

	if err := s.UpdateNote(context.Background(), draft.Update{Subjective: str("fever for two days")}); err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}

	journal.mu.Lock()
	n := len(journal.entries)
	journal.mu.Unlock()
	if n != 1 {
		t.Fatalf("journal entries = %d, want 1", n)
	}

	waitFor(t, func() bool { return !s.View().Dirty })

	api.mu.Lock()
	saved := len(api.savedNotes)
	api.mu.Unlock()
	if saved != 1 {
		t.Fatalf("saved notes = %d, want 1", saved)
	}

	// the flushed entry must no longer be resumable
	waitFor(t, func() bool {
		e, _ := journal.LatestUnflushed(context.Background(), s.EncounterID)
		return e == nil
	})
}

func TestEditDuringFlushRemainsResumable(t *testing.T) {
	api := newFakeAPI(uuid.New(), uuid.New())
	journal := &fakeJournal{}
	s := openTestSession(t, api, journal)
	ctx := context.Background()

	firstGate := make(chan struct{})
	firstStarted := make(chan struct{})
	api.mu.Lock()
	api.saveGate, api.saveStarted = firstGate, firstStarted
	api.mu.Unlock()

	if err := s.UpdateNote(ctx, draft.Update{Subjective: str("first")}); err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}
	<-firstStarted

	// This edit is journaled while the first flush is on the wire, so its
	// content is not in the snapshot being saved.
	if err := s.UpdateNote(ctx, draft.Update{Subjective: str("first, then more")}); err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}

	// Hold the follow-up flush so the window after the first one is stable.
	secondGate := make(chan struct{})
	api.mu.Lock()
	api.saveGate = secondGate
	api.mu.Unlock()
	close(firstGate)

	waitFor(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.savedNotes) == 1
	})

	// The raced edit must survive a crash here: still resumable.
	e, err := journal.LatestUnflushed(ctx, s.EncounterID)
	if err != nil {
		t.Fatalf("LatestUnflushed: %v", err)
	}
	if e == nil || e.Note.Subjective != "first, then more" {
		t.Fatalf("entry = %+v, the unsent edit must stay unflushed", e)
	}

	close(secondGate)
	waitFor(t, func() bool {
		e, _ := journal.LatestUnflushed(ctx, s.EncounterID)
		return e == nil
	})
}

func TestConsultationHappyPath(t *testing.T) {
	encID, patientID := uuid.New(), uuid.New()
	api := newFakeAPI(encID, patientID)
	journal := &fakeJournal{}
	s := openTestSession(t, api, journal)

	ctx := context.Background()
	if err := s.UpdateNote(ctx, draft.Update{
		Subjective: str("sore throat, fever"),
		Assessment: str("acute bacterial pharyngitis"),
		Plan:       str("antibiotics, CBC to rule out complications"),
	}); err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}

	rx, err := s.Prescriptions().Create(ctx, orders.PrescriptionInput{
		DrugCode:          "AMOX500",
		DrugName:          "Amoxicillin 500mg",
		Dosage:            "500mg",
		Frequency:         "TID",
		DurationDays:      7,
		Quantity:          21,
		InstantDispensing: true,
	})
	if err != nil {
		t.Fatalf("create prescription: %v", err)
	}
	if rx.ID == uuid.Nil {
		t.Fatal("prescription should carry the server-assigned id")
	}

	if _, err := s.LabOrders().Create(ctx, orders.LabOrderInput{
		TestCode: "CBC",
		TestName: "Complete Blood Count",
		Priority: recordapi.PriorityUrgent,
	}); err != nil {
		t.Fatalf("create lab order: %v", err)
	}

	summary, err := s.Review()
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if summary.PrescriptionCount != 1 || summary.LabOrderCount != 1 {
		t.Fatalf("summary counts = %d/%d, want 1/1", summary.PrescriptionCount, summary.LabOrderCount)
	}
	if len(summary.InstantDispensing) != 1 || len(summary.UrgentLabs) != 1 {
		t.Fatalf("summary subsets = %d/%d, want 1/1", len(summary.InstantDispensing), len(summary.UrgentLabs))
	}

	result, err := s.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if result.PrescriptionsProcessed != 1 || result.LabOrdersSubmitted != 1 {
		t.Fatalf("result = %+v, want 1 prescription and 1 lab order", result)
	}

	// the final note write must land before the completion call
	calls := api.calls()
	noteIdx, completeIdx := -1, -1
	for i, op := range calls {
		if op == "save-note" {
			noteIdx = i
		}
		if op == "complete-encounter" {
			completeIdx = i
		}
	}
	if noteIdx == -1 || completeIdx == -1 || noteIdx > completeIdx {
		t.Fatalf("call order %v: note write must precede completion", calls)
	}

	v := s.View()
	if v.Status != recordapi.StatusCompleted || !v.ReadOnly {
		t.Fatalf("view = {status %q readonly %v}, want completed and read-only", v.Status, v.ReadOnly)
	}
	if err := s.UpdateNote(ctx, draft.Update{Plan: str("late edit")}); !errors.Is(err, draft.ErrReadOnly) {
		t.Fatalf("err = %v, want ErrReadOnly after completion", err)
	}
	waitFor(t, func() bool {
		journal.mu.Lock()
		defer journal.mu.Unlock()
		return journal.deleted
	})
}

func TestInsufficientStockBlocksPrescription(t *testing.T) {
	api := newFakeAPI(uuid.New(), uuid.New())
	api.stock["AMOX500"] = &recordapi.StockResult{IsValid: false, Message: "Insufficient stock"}
	s := openTestSession(t, api, nil)

	_, err := s.Prescriptions().Create(context.Background(), orders.PrescriptionInput{
		DrugCode:          "AMOX500",
		DrugName:          "Amoxicillin 500mg",
		Dosage:            "500mg",
		Frequency:         "TID",
		DurationDays:      7,
		Quantity:          21,
		InstantDispensing: true,
	})
	var ve *recordapi.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if ve.Fields["stock"] != "Insufficient stock" {
		t.Fatalf("fields = %v, want stock message", ve.Fields)
	}
	if got := len(s.Prescriptions().List()); got != 0 {
		t.Fatalf("prescriptions = %d, want 0 after stock rejection", got)
	}
	for _, op := range api.calls() {
		if op == "create-prescription" {
			t.Fatal("prescription must not reach the server when stock is insufficient")
		}
	}
}

func TestDispatchSaveChord(t *testing.T) {
	api := newFakeAPI(uuid.New(), uuid.New())
	s := openTestSession(t, api, nil)

	if err := s.UpdateNote(context.Background(), draft.Update{Plan: str("follow up in a week")}); err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}
	intent, err := s.Dispatch(context.Background(), command.Keystroke{Key: "s", Ctrl: true})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if intent != command.IntentSave {
		t.Fatalf("intent = %q, want save", intent)
	}
	if s.View().Dirty {
		t.Fatal("ctrl+s must force an immediate flush")
	}
}

func TestDispatchBlockedAfterCompletion(t *testing.T) {
	api := newFakeAPI(uuid.New(), uuid.New())
	s := openTestSession(t, api, nil)

	if _, err := s.Review(); err != nil {
		t.Fatalf("Review: %v", err)
	}
	if _, err := s.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := s.Dispatch(context.Background(), command.Keystroke{Key: "p", Ctrl: true}); !errors.Is(err, command.ErrReadOnly) {
		t.Fatalf("err = %v, want ErrReadOnly", err)
	}
	if _, err := s.Dispatch(context.Background(), command.Keystroke{Key: "?"}); err != nil {
		t.Fatalf("help must stay available after completion: %v", err)
	}
}

func TestRegistryLifecycle(t *testing.T) {
	api := newFakeAPI(uuid.New(), uuid.New())
	s := openTestSession(t, api, nil)

	reg := NewRegistry()
	if err := reg.Add(s); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("len = %d, want 1", reg.Len())
	}
	got, err := reg.Get(s.ID)
	if err != nil || got != s {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if err := reg.Remove(s.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := reg.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := reg.Remove(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Remove err = %v, want ErrNotFound", err)
	}
}

func TestRegistryOneSessionPerEncounter(t *testing.T) {
	api := newFakeAPI(uuid.New(), uuid.New())
	first := openTestSession(t, api, nil)
	second := openTestSession(t, api, nil)

	reg := NewRegistry()
	if err := reg.Add(first); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := reg.Add(second); !errors.Is(err, ErrEncounterInUse) {
		t.Fatalf("err = %v, want ErrEncounterInUse for a second session on the encounter", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("len = %d, the rejected session must not be registered", reg.Len())
	}

	// Closing the first session frees the encounter for the next one.
	if err := reg.Remove(first.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := reg.Add(second); err != nil {
		t.Fatalf("Add after release: %v", err)
	}
}
