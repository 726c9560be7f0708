package recordapi

import (
	"time"

	"github.com/google/uuid"
)

// Encounter statuses as reported by the record service.
const (
	StatusOpen      = "open"
	StatusCompleted = "completed"
)

// NoteFields holds the four clinical-note sections of an encounter.
type NoteFields struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// Prescription maps to the record service's prescription entity.
type Prescription struct {
	ID                uuid.UUID `json:"id"`
	EncounterID       uuid.UUID `json:"encounter_id"`
	DrugCode          string    `json:"drug_code"`
	DrugName          string    `json:"drug_name"`
	Dosage            string    `json:"dosage"`
	Frequency         string    `json:"frequency"`
	DurationDays      int       `json:"duration_days"`
	Quantity          int       `json:"quantity"`
	InstantDispensing bool      `json:"instant_dispensing"`
	CreatedAt         time.Time `json:"created_at"`
}

// Lab order priorities and their turnaround SLAs.
const (
	PriorityUrgent = "urgent"
	PriorityFast   = "fast"
	PriorityNormal = "normal"
)

// LabOrder maps to the record service's lab order entity.
type LabOrder struct {
	ID            uuid.UUID `json:"id"`
	EncounterID   uuid.UUID `json:"encounter_id"`
	TestCode      string    `json:"test_code"`
	TestName      string    `json:"test_name"`
	Priority      string    `json:"priority"`
	ClinicalNotes string    `json:"clinical_notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// EncounterSnapshot is the full editable state of one encounter, fetched
// once on workflow entry.
type EncounterSnapshot struct {
	EncounterID   uuid.UUID      `json:"encounter_id"`
	PatientID     uuid.UUID      `json:"patient_id"`
	Status        string         `json:"status"`
	Note          NoteFields     `json:"note"`
	Prescriptions []Prescription `json:"prescriptions"`
	LabOrders     []LabOrder     `json:"lab_orders"`
}

// StockResult is the pharmacy service's answer to a stock validation request.
type StockResult struct {
	IsValid bool   `json:"is_valid"`
	Message string `json:"message,omitempty"`
}

// Interaction describes one drug-drug interaction returned by the
// interaction-and-allergy check.
type Interaction struct {
	DrugCode    string `json:"drug_code"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// InteractionReport is the result of the interaction-and-allergy check for a
// drug/patient pair.
type InteractionReport struct {
	Interactions    []Interaction `json:"interactions"`
	AllergyConflict bool          `json:"allergy_conflict"`
	AllergyMessage  string        `json:"allergy_message,omitempty"`
}

// CompletionResult summarises the server-side completion transaction.
type CompletionResult struct {
	PrescriptionsProcessed int `json:"prescriptions_processed"`
	LabOrdersSubmitted     int `json:"lab_orders_submitted"`
	BillingLineItems       int `json:"billing_line_items"`
}
