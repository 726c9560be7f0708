package completion

import (
	"github.com/clinisys/consult/internal/platform/recordapi"
)

// Summary is the read-only aggregate shown for confirmation before commit.
// Computed from the in-memory lists at the moment completion is requested.
type Summary struct {
	PrescriptionCount int                      `json:"prescription_count"`
	LabOrderCount     int                      `json:"lab_order_count"`
	InstantDispensing []recordapi.Prescription `json:"instant_dispensing"`
	UrgentLabs        []recordapi.LabOrder     `json:"urgent_labs"`
}

// BuildSummary aggregates the current prescriptions and lab orders.
func BuildSummary(prescriptions []recordapi.Prescription, labOrders []recordapi.LabOrder) *Summary {
	s := &Summary{
		PrescriptionCount: len(prescriptions),
		LabOrderCount:     len(labOrders),
		InstantDispensing: []recordapi.Prescription{},
		UrgentLabs:        []recordapi.LabOrder{},
	}
	for _, rx := range prescriptions {
		if rx.InstantDispensing {
			s.InstantDispensing = append(s.InstantDispensing, rx)
		}
	}
	for _, o := range labOrders {
		if o.Priority == recordapi.PriorityUrgent {
			s.UrgentLabs = append(s.UrgentLabs, o)
		}
	}
	return s
}
