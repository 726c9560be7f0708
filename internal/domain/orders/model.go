package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/clinisys/consult/internal/platform/recordapi"
)

// ErrEncounterCompleted is returned by every mutation path once the
// encounter has been completed.
var ErrEncounterCompleted = errors.New("orders: encounter is completed and read-only")

// AllergyError is a hard block: while a drug/patient allergy conflict is
// present the prescription cannot be submitted, regardless of other
// validity. There is no override path in this workflow.
type AllergyError struct {
	DrugCode string
	Message  string
}

func (e *AllergyError) Error() string {
	return fmt.Sprintf("allergy conflict for %s: %s", e.DrugCode, e.Message)
}

// PrescriptionInput is the full set of editable prescription fields.
// Updates replace the entity; there is no diff-patching.
type PrescriptionInput struct {
	DrugCode          string `json:"drug_code"`
	DrugName          string `json:"drug_name"`
	Dosage            string `json:"dosage"`
	Frequency         string `json:"frequency"`
	DurationDays      int    `json:"duration_days"`
	Quantity          int    `json:"quantity"`
	InstantDispensing bool   `json:"instant_dispensing"`
}

// Validate checks required fields locally, before any network call.
func (in *PrescriptionInput) Validate() error {
	fields := map[string]string{}
	if in.DrugCode == "" {
		fields["drug_code"] = "drug is required"
	}
	if in.Dosage == "" {
		fields["dosage"] = "dosage is required"
	}
	if in.Frequency == "" {
		fields["frequency"] = "frequency is required"
	}
	if in.DurationDays <= 0 {
		fields["duration_days"] = "duration must be greater than zero"
	}
	if in.Quantity <= 0 {
		fields["quantity"] = "quantity must be greater than zero"
	}
	if len(fields) > 0 {
		return &recordapi.ValidationError{Message: "prescription validation failed", Fields: fields}
	}
	return nil
}

// LabOrderInput is the full set of editable lab order fields.
type LabOrderInput struct {
	TestCode      string `json:"test_code"`
	TestName      string `json:"test_name"`
	Priority      string `json:"priority"`
	ClinicalNotes string `json:"clinical_notes,omitempty"`
}

var validPriorities = map[string]bool{
	recordapi.PriorityUrgent: true,
	recordapi.PriorityFast:   true,
	recordapi.PriorityNormal: true,
}

// Validate checks required fields locally, before any network call.
func (in *LabOrderInput) Validate() error {
	fields := map[string]string{}
	if in.TestCode == "" {
		fields["test_code"] = "test is required"
	}
	if in.Priority == "" {
		fields["priority"] = "priority is required"
	} else if !validPriorities[in.Priority] {
		fields["priority"] = fmt.Sprintf("invalid priority: %s", in.Priority)
	}
	if len(fields) > 0 {
		return &recordapi.ValidationError{Message: "lab order validation failed", Fields: fields}
	}
	return nil
}

// TurnaroundSLA returns the fixed turnaround for a lab priority.
func TurnaroundSLA(priority string) (time.Duration, error) {
	switch priority {
	case recordapi.PriorityUrgent:
		return 2 * time.Hour, nil
	case recordapi.PriorityFast:
		return 6 * time.Hour, nil
	case recordapi.PriorityNormal:
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid priority: %s", priority)
	}
}
