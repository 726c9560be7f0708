// Package orders manages the prescription and lab order sub-entities of an
// in-progress encounter. Every mutation goes straight to the record service
// (no optimistic local merge): these entities carry side effects — stock
// reservations, priority SLAs — that must not drift from the authoritative
// source. The managers keep an in-memory mirror of the server lists for
// summary building only.
package orders

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/clinisys/consult/internal/platform/recordapi"
)

// PrescriptionAPI is the slice of the record API the manager needs.
type PrescriptionAPI interface {
	CreatePrescription(ctx context.Context, encounterID uuid.UUID, rx *recordapi.Prescription) (*recordapi.Prescription, error)
	UpdatePrescription(ctx context.Context, encounterID uuid.UUID, rx *recordapi.Prescription) (*recordapi.Prescription, error)
	DeletePrescription(ctx context.Context, encounterID, prescriptionID uuid.UUID) error
	ValidateStock(ctx context.Context, drugCode string, quantity int) (*recordapi.StockResult, error)
	CheckInteractions(ctx context.Context, drugCode string, patientID uuid.UUID) (*recordapi.InteractionReport, error)
}

// PrescriptionManager owns prescription mutations for one encounter.
type PrescriptionManager struct {
	api         PrescriptionAPI
	encounterID uuid.UUID
	patientID   uuid.UUID

	mu       sync.Mutex
	list     []recordapi.Prescription
	reports  map[string]*recordapi.InteractionReport // keyed by drug code
	readOnly bool
}

func NewPrescriptionManager(api PrescriptionAPI, encounterID, patientID uuid.UUID, initial []recordapi.Prescription) *PrescriptionManager {
	return &PrescriptionManager{
		api:         api,
		encounterID: encounterID,
		patientID:   patientID,
		list:        append([]recordapi.Prescription(nil), initial...),
		reports:     make(map[string]*recordapi.InteractionReport),
	}
}

// SelectDrug runs the interaction-and-allergy check for a drug and caches
// the result. Called when the clinician picks a drug in the form; a cached
// conflict later blocks Create without another network call.
func (m *PrescriptionManager) SelectDrug(ctx context.Context, drugCode string) (*recordapi.InteractionReport, error) {
	rep, err := m.api.CheckInteractions(ctx, drugCode, m.patientID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.reports[drugCode] = rep
	m.mu.Unlock()
	return rep, nil
}

// allergyGate rejects a drug with a known conflict. A cached conflict is a
// client-side rejection with no network call; an unknown drug is checked
// now.
func (m *PrescriptionManager) allergyGate(ctx context.Context, drugCode string) error {
	m.mu.Lock()
	rep, known := m.reports[drugCode]
	m.mu.Unlock()

	if !known {
		var err error
		rep, err = m.SelectDrug(ctx, drugCode)
		if err != nil {
			return err
		}
	}
	if rep.AllergyConflict {
		return &AllergyError{DrugCode: drugCode, Message: rep.AllergyMessage}
	}
	return nil
}

// Create validates locally, enforces the allergy gate, checks stock for
// instant dispensing, then creates the prescription on the server. A
// negative stock result is a field-level error ("stock") the caller can
// recover from by adjusting quantity.
func (m *PrescriptionManager) Create(ctx context.Context, in PrescriptionInput) (*recordapi.Prescription, error) {
	if m.isReadOnly() {
		return nil, ErrEncounterCompleted
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := m.allergyGate(ctx, in.DrugCode); err != nil {
		return nil, err
	}
	if in.InstantDispensing {
		res, err := m.api.ValidateStock(ctx, in.DrugCode, in.Quantity)
		if err != nil {
			return nil, err
		}
		if !res.IsValid {
			return nil, &recordapi.ValidationError{
				Message: res.Message,
				Fields:  map[string]string{"stock": res.Message},
			}
		}
	}

	created, err := m.api.CreatePrescription(ctx, m.encounterID, &recordapi.Prescription{
		EncounterID:       m.encounterID,
		DrugCode:          in.DrugCode,
		DrugName:          in.DrugName,
		Dosage:            in.Dosage,
		Frequency:         in.Frequency,
		DurationDays:      in.DurationDays,
		Quantity:          in.Quantity,
		InstantDispensing: in.InstantDispensing,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.list = append(m.list, *created)
	m.mu.Unlock()
	return created, nil
}

// Update replaces the prescription wholesale and re-runs every gate Create
// applies.
func (m *PrescriptionManager) Update(ctx context.Context, id uuid.UUID, in PrescriptionInput) (*recordapi.Prescription, error) {
	if m.isReadOnly() {
		return nil, ErrEncounterCompleted
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := m.allergyGate(ctx, in.DrugCode); err != nil {
		return nil, err
	}
	if in.InstantDispensing {
		res, err := m.api.ValidateStock(ctx, in.DrugCode, in.Quantity)
		if err != nil {
			return nil, err
		}
		if !res.IsValid {
			return nil, &recordapi.ValidationError{
				Message: res.Message,
				Fields:  map[string]string{"stock": res.Message},
			}
		}
	}

	updated, err := m.api.UpdatePrescription(ctx, m.encounterID, &recordapi.Prescription{
		ID:                id,
		EncounterID:       m.encounterID,
		DrugCode:          in.DrugCode,
		DrugName:          in.DrugName,
		Dosage:            in.Dosage,
		Frequency:         in.Frequency,
		DurationDays:      in.DurationDays,
		Quantity:          in.Quantity,
		InstantDispensing: in.InstantDispensing,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	for i := range m.list {
		if m.list[i].ID == id {
			m.list[i] = *updated
			break
		}
	}
	m.mu.Unlock()
	return updated, nil
}

// Delete removes a prescription. For instant-dispensing prescriptions the
// server releases the stock reservation; a successful delete means the
// reservation is gone.
func (m *PrescriptionManager) Delete(ctx context.Context, id uuid.UUID) error {
	if m.isReadOnly() {
		return ErrEncounterCompleted
	}
	if err := m.api.DeletePrescription(ctx, m.encounterID, id); err != nil {
		return err
	}

	m.mu.Lock()
	for i := range m.list {
		if m.list[i].ID == id {
			m.list = append(m.list[:i], m.list[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	return nil
}

// RevalidateStock re-runs the stock check with the current quantity. The
// form calls this whenever instant dispensing is enabled or the quantity
// changes, so the stored result never reflects a stale quantity.
func (m *PrescriptionManager) RevalidateStock(ctx context.Context, drugCode string, quantity int) (*recordapi.StockResult, error) {
	if m.isReadOnly() {
		return nil, ErrEncounterCompleted
	}
	return m.api.ValidateStock(ctx, drugCode, quantity)
}

// List returns a copy of the current prescriptions.
func (m *PrescriptionManager) List() []recordapi.Prescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordapi.Prescription(nil), m.list...)
}

// SetReadOnly disables every mutation path. Called after completion.
func (m *PrescriptionManager) SetReadOnly() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readOnly = true
}

func (m *PrescriptionManager) isReadOnly() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readOnly
}
