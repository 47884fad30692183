package prospect

import (
	"github.com/dentledger/dentledger/internal/domain/patient"
)

// Lifecycle is the soft-delete state of a prospect record. Hidden records
// stay persisted for reporting but drop out of default listings.
type Lifecycle string

const (
	LifecycleActive Lifecycle = "active"
	LifecycleHidden Lifecycle = "hidden"
)

// Record tracks one first-visit prospect for a clinic-day: where the lead
// came from, whether they showed up, and whether the consult closed.
// IsClosed implies IsVisited; the service enforces it on every write.
type Record struct {
	ClinicID           string    `json:"clinicId"`
	Date               string    `json:"date"`
	PatientName        string    `json:"patientName"`
	MarketingTag       string    `json:"marketingTag,omitempty"`
	SourceChannel      string    `json:"sourceChannel,omitempty"`
	IsVisited          bool      `json:"isVisited"`
	IsClosed           bool      `json:"isClosed"`
	DealAmount         float64   `json:"dealAmount"`
	AssignedConsultant string    `json:"assignedConsultant,omitempty"`
	Lifecycle          Lifecycle `json:"lifecycle"`
}

// Key renders the persisted key {clinicId}_{date}_{sanitizedName}, sharing
// the patient name sanitizer so the same person keys identically in both
// collections.
func (r *Record) Key() string {
	return RecordKey(r.ClinicID, r.Date, r.PatientName)
}

// RecordKey builds the persisted key for a prospect sighting.
func RecordKey(clinicID, date, name string) string {
	return clinicID + "_" + date + "_" + patient.SanitizeName(name)
}
