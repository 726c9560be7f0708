package orders

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/clinisys/consult/internal/platform/recordapi"
)

// LabOrderAPI is the slice of the record API the manager needs.
type LabOrderAPI interface {
	CreateLabOrder(ctx context.Context, encounterID uuid.UUID, o *recordapi.LabOrder) (*recordapi.LabOrder, error)
	UpdateLabOrder(ctx context.Context, encounterID uuid.UUID, o *recordapi.LabOrder) (*recordapi.LabOrder, error)
	DeleteLabOrder(ctx context.Context, encounterID, orderID uuid.UUID) error
}

// LabOrderManager owns lab order mutations for one encounter.
type LabOrderManager struct {
	api         LabOrderAPI
	encounterID uuid.UUID

	mu       sync.Mutex
	list     []recordapi.LabOrder
	readOnly bool
}

func NewLabOrderManager(api LabOrderAPI, encounterID uuid.UUID, initial []recordapi.LabOrder) *LabOrderManager {
	return &LabOrderManager{
		api:         api,
		encounterID: encounterID,
		list:        append([]recordapi.LabOrder(nil), initial...),
	}
}

// Create validates locally then submits the lab order to the server.
func (m *LabOrderManager) Create(ctx context.Context, in LabOrderInput) (*recordapi.LabOrder, error) {
	if m.isReadOnly() {
		return nil, ErrEncounterCompleted
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	created, err := m.api.CreateLabOrder(ctx, m.encounterID, &recordapi.LabOrder{
		EncounterID:   m.encounterID,
		TestCode:      in.TestCode,
		TestName:      in.TestName,
		Priority:      in.Priority,
		ClinicalNotes: in.ClinicalNotes,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.list = append(m.list, *created)
	m.mu.Unlock()
	return created, nil
}

// Update replaces the lab order wholesale.
func (m *LabOrderManager) Update(ctx context.Context, id uuid.UUID, in LabOrderInput) (*recordapi.LabOrder, error) {
	if m.isReadOnly() {
		return nil, ErrEncounterCompleted
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	updated, err := m.api.UpdateLabOrder(ctx, m.encounterID, &recordapi.LabOrder{
		ID:            id,
		EncounterID:   m.encounterID,
		TestCode:      in.TestCode,
		TestName:      in.TestName,
		Priority:      in.Priority,
		ClinicalNotes: in.ClinicalNotes,
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

// Delete removes a lab order while the encounter is still open.
func (m *LabOrderManager) Delete(ctx context.Context, id uuid.UUID) error {
	if m.isReadOnly() {
		return ErrEncounterCompleted
	}
	if err := m.api.DeleteLabOrder(ctx, m.encounterID, id); err != nil {
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

// List returns a copy of the current lab orders.
func (m *LabOrderManager) List() []recordapi.LabOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordapi.LabOrder(nil), m.list...)
}

// SetReadOnly disables every mutation path. Called after completion.
func (m *LabOrderManager) SetReadOnly() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readOnly = true
}

func (m *LabOrderManager) isReadOnly() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readOnly
}
