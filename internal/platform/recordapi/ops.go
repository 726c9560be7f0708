package recordapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// FetchSnapshot loads the full editable state of an encounter. Called once
// on workflow entry.
func (c *Client) FetchSnapshot(ctx context.Context, encounterID uuid.UUID) (*EncounterSnapshot, error) {
	var snap EncounterSnapshot
	path := fmt.Sprintf("/encounters/%s/snapshot", encounterID)
	if err := c.do(ctx, http.MethodGet, path, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveNote upserts the four note fields. Idempotent; used by both the
// auto-save pipeline and the final pre-completion write.
func (c *Client) SaveNote(ctx context.Context, encounterID uuid.UUID, note NoteFields) error {
	path := fmt.Sprintf("/encounters/%s/note", encounterID)
	return c.do(ctx, http.MethodPut, path, note, nil)
}

func (c *Client) CreatePrescription(ctx context.Context, encounterID uuid.UUID, rx *Prescription) (*Prescription, error) {
	var created Prescription
	path := fmt.Sprintf("/encounters/%s/prescriptions", encounterID)
	if err := c.do(ctx, http.MethodPost, path, rx, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdatePrescription(ctx context.Context, encounterID uuid.UUID, rx *Prescription) (*Prescription, error) {
	var updated Prescription
	path := fmt.Sprintf("/encounters/%s/prescriptions/%s", encounterID, rx.ID)
	if err := c.do(ctx, http.MethodPut, path, rx, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeletePrescription removes a prescription. For instant-dispensing
// prescriptions the server releases any reserved stock as part of the
// delete; success means the reservation is gone.
func (c *Client) DeletePrescription(ctx context.Context, encounterID, prescriptionID uuid.UUID) error {
	path := fmt.Sprintf("/encounters/%s/prescriptions/%s", encounterID, prescriptionID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ValidateStock asks the pharmacy whether quantity units of a drug are
// available for instant dispensing.
func (c *Client) ValidateStock(ctx context.Context, drugCode string, quantity int) (*StockResult, error) {
	req := struct {
		DrugCode string `json:"drug_code"`
		Quantity int    `json:"quantity"`
	}{drugCode, quantity}
	var res StockResult
	if err := c.do(ctx, http.MethodPost, "/pharmacy/stock-validate", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CheckInteractions runs the drug-drug interaction and allergy check for a
// drug/patient pair.
func (c *Client) CheckInteractions(ctx context.Context, drugCode string, patientID uuid.UUID) (*InteractionReport, error) {
	req := struct {
		DrugCode  string    `json:"drug_code"`
		PatientID uuid.UUID `json:"patient_id"`
	}{drugCode, patientID}
	var rep InteractionReport
	if err := c.do(ctx, http.MethodPost, "/pharmacy/interaction-check", req, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func (c *Client) CreateLabOrder(ctx context.Context, encounterID uuid.UUID, o *LabOrder) (*LabOrder, error) {
	var created LabOrder
	path := fmt.Sprintf("/encounters/%s/lab-orders", encounterID)
	if err := c.do(ctx, http.MethodPost, path, o, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateLabOrder(ctx context.Context, encounterID uuid.UUID, o *LabOrder) (*LabOrder, error) {
	var updated LabOrder
	path := fmt.Sprintf("/encounters/%s/lab-orders/%s", encounterID, o.ID)
	if err := c.do(ctx, http.MethodPut, path, o, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) DeleteLabOrder(ctx context.Context, encounterID, orderID uuid.UUID) error {
	path := fmt.Sprintf("/encounters/%s/lab-orders/%s", encounterID, orderID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// CompleteEncounter runs the server-side completion transaction: stock
// confirmation and dispensation records, lab submission with recorded
// priorities, and billing line items. The server treats the whole call as
// atomic; the client never retries sub-steps individually.
func (c *Client) CompleteEncounter(ctx context.Context, encounterID uuid.UUID) (*CompletionResult, error) {
	var res CompletionResult
	path := fmt.Sprintf("/encounters/%s/complete", encounterID)
	if err := c.do(ctx, http.MethodPost, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
