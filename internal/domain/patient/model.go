package patient

import (
	"strings"
)

// ChartIDSentinel marks a profile without a confirmed chart identifier.
const ChartIDSentinel = "NP"

// SanitizeName produces the storage-safe token used inside document keys:
// slashes and whitespace become underscores. The format is persisted and must
// stay bit-exact across migrations.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/':
			b.WriteRune('_')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IdentityKey addresses exactly one profile within one clinic. ChartID is
// the sentinel when no chart identifier is known; Name is the sanitized
// patient name.
type IdentityKey struct {
	ClinicID string
	ChartID  string
	Name     string
}

// NewIdentityKey builds the canonical key for a clinic, raw name and
// optional chart id ("" means unknown).
func NewIdentityKey(clinicID, name, chartID string) IdentityKey {
	if chartID == "" {
		chartID = ChartIDSentinel
	}
	return IdentityKey{
		ClinicID: clinicID,
		ChartID:  chartID,
		Name:     SanitizeName(strings.TrimSpace(name)),
	}
}

// String renders the persisted key format {clinicId}_{chartId}_{name}.
func (k IdentityKey) String() string {
	return k.ClinicID + "_" + k.ChartID + "_" + k.Name
}

// VisitRecord is one finalized ledger row folded into a profile's history.
// RowID keeps records from distinct rows distinct under set-union appends.
type VisitRecord struct {
	RowID    string  `json:"rowId"`
	Date     string  `json:"date"`
	DoctorID string  `json:"doctorId"`
	Note     string  `json:"note"`
	Amount   float64 `json:"amount"`
}

// Profile is the canonical identity plus lifetime aggregate for one patient
// within one clinic. TotalSpending only ever grows, via the store's
// increment primitive; the set fields grow via union appends.
type Profile struct {
	ClinicID        string        `json:"clinicId"`
	ChartID         string        `json:"chartId"`
	Name            string        `json:"name"`
	LastVisitDate   string        `json:"lastVisitDate,omitempty"`
	TotalSpending   float64       `json:"totalSpending"`
	Categories      []string      `json:"purchasedItemCategories,omitempty"`
	VisitHistory    []VisitRecord `json:"visitHistory,omitempty"`
	LastConsultant  string        `json:"lastConsultant,omitempty"`
	PastConsultants []string      `json:"pastConsultants,omitempty"`
}

// Key returns the profile's identity key.
func (p *Profile) Key() IdentityKey {
	return NewIdentityKey(p.ClinicID, p.Name, p.ChartID)
}

// VisitGroup is the per-identity aggregation input produced when a day
// locks: all of one patient's rows for that day, pre-summed.
type VisitGroup struct {
	Name        string
	ChartID     string
	Date        string
	TotalAmount float64
	Visits      []VisitRecord
	Categories  []string
	Consultant  string
}
