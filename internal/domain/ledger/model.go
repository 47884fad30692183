package ledger

import (
	"time"
)

// PaymentMethod is how a visit's total was settled.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
)

// Audit actions recorded on a daily ledger.
const (
	ActionLock             = "LOCK"
	ActionUnlock           = "UNLOCK"
	ActionRowAdd           = "ROW_ADD"
	ActionRowEdit          = "ROW_EDIT"
	ActionRowDelete        = "ROW_DELETE"
	ActionExpenditureAdd   = "EXPENDITURE_ADD"
	ActionExpenditureDrop  = "EXPENDITURE_REMOVE"
	ActionCalendarSync     = "CALENDAR_SYNC"
)

// TreatmentAmounts are the named self-pay treatment fields of one visit.
// Registration and copay are fees; the rest are the clinics' historical
// treatment categories.
type TreatmentAmounts struct {
	Registration float64 `json:"registration"`
	Copay        float64 `json:"copay"`
	Whitening    float64 `json:"whitening"`
	Ortho        float64 `json:"ortho"`
	Implant      float64 `json:"implant"`
	Prostho      float64 `json:"prostho"`
	Perio        float64 `json:"perio"`
}

// Sum returns the total of all treatment fields.
func (t TreatmentAmounts) Sum() float64 {
	return t.Registration + t.Copay + t.Whitening + t.Ortho + t.Implant + t.Prostho + t.Perio
}

// RetailAmounts are incidental retail sales attached to a visit.
type RetailAmounts struct {
	CareProducts float64 `json:"careProducts"`
	Other        float64 `json:"other"`
}

// Sum returns the total of all retail fields.
func (r RetailAmounts) Sum() float64 {
	return r.CareProducts + r.Other
}

// PaymentBreakdown splits a row's total across settlement methods. The
// three buckets must sum to the row total.
type PaymentBreakdown struct {
	Cash     float64 `json:"cash"`
	Card     float64 `json:"card"`
	Transfer float64 `json:"transfer"`
}

// Sum returns cash + card + transfer.
func (b PaymentBreakdown) Sum() float64 {
	return b.Cash + b.Card + b.Transfer
}

// methods returns how many buckets carry a non-zero amount.
func (b PaymentBreakdown) methods() int {
	n := 0
	for _, v := range []float64{b.Cash, b.Card, b.Transfer} {
		if v > 0 {
			n++
		}
	}
	return n
}

// Row is one patient visit's financial line for one clinic-day. A row is
// either synthesized from a calendar event (ID is the external event id) or
// entered by an operator (IsManual, generated id).
type Row struct {
	ID            string           `json:"id"`
	PatientName   string           `json:"patientName"`
	ChartID       string           `json:"chartId,omitempty"`
	DoctorID      string           `json:"doctorId"`
	IsManual      bool             `json:"isManual"`
	Attendance    bool             `json:"attendance"`
	IsProspect    bool             `json:"isProspect"`
	Treatments    TreatmentAmounts `json:"treatmentAmounts"`
	Retail        RetailAmounts    `json:"retailAmounts"`
	PaymentMethod PaymentMethod    `json:"paymentMethod"`
	Breakdown     PaymentBreakdown `json:"paymentBreakdown"`
	ProspectNote  string           `json:"prospectNote,omitempty"`
	StartTime     time.Time        `json:"startTime"`
	Total         float64          `json:"total"`
}

// Categories lists the purchased-item category tags of the row: every named
// treatment category and retail field with a non-zero amount. Registration
// and copay are fees, not purchases.
func (r Row) Categories() []string {
	var out []string
	add := func(name string, v float64) {
		if v > 0 {
			out = append(out, name)
		}
	}
	add("whitening", r.Treatments.Whitening)
	add("ortho", r.Treatments.Ortho)
	add("implant", r.Treatments.Implant)
	add("prostho", r.Treatments.Prostho)
	add("perio", r.Treatments.Perio)
	add("careProducts", r.Retail.CareProducts)
	add("other", r.Retail.Other)
	return out
}

// Expenditure is one cash outlay recorded against the day.
type Expenditure struct {
	Item   string  `json:"item"`
	Amount float64 `json:"amount"`
}

// AuditEntry is one append-only audit record on a daily ledger.
type AuditEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
}

// DailyLedger is the (clinic, date) aggregate: the day's rows, expenditures,
// lock state and audit trail. Dates are YYYY-MM-DD.
type DailyLedger struct {
	ClinicID     string        `json:"clinicId"`
	Date         string        `json:"date"`
	Rows         []Row         `json:"rows"`
	Expenditures []Expenditure `json:"expenditures,omitempty"`
	IsLocked     bool          `json:"isLocked"`
	LockID       string        `json:"lockId,omitempty"`
	AuditLog     []AuditEntry  `json:"auditLog,omitempty"`
}

// Key renders the persisted ledger key {clinicId}_{YYYY-MM-DD}.
func (l *DailyLedger) Key() string {
	return LedgerKey(l.ClinicID, l.Date)
}

// LedgerKey builds the persisted key for a clinic-day.
func LedgerKey(clinicID, date string) string {
	return clinicID + "_" + date
}

// FindRow returns a pointer into Rows for the given id, or nil.
func (l *DailyLedger) FindRow(id string) *Row {
	for i := range l.Rows {
		if l.Rows[i].ID == id {
			return &l.Rows[i]
		}
	}
	return nil
}

// HasRow reports whether a row with the given id exists.
func (l *DailyLedger) HasRow(id string) bool {
	return l.FindRow(id) != nil
}

// Append adds an audit entry to the ledger's append-only log. All audit
// writes go through here so the invariant lives in one place.
func (l *DailyLedger) Append(e AuditEntry) {
	l.AuditLog = append(l.AuditLog, e)
}

// Totals summarizes a day for reporting.
type Totals struct {
	Treatment    float64 `json:"treatment"`
	Retail       float64 `json:"retail"`
	Grand        float64 `json:"grand"`
	Cash         float64 `json:"cash"`
	Card         float64 `json:"card"`
	Transfer     float64 `json:"transfer"`
	Expenditures float64 `json:"expenditures"`
}

// ComputeTotals sums the day's rows and expenditures.
func (l *DailyLedger) ComputeTotals() Totals {
	var t Totals
	for _, r := range l.Rows {
		t.Treatment += r.Treatments.Sum()
		t.Retail += r.Retail.Sum()
		t.Grand += r.Total
		t.Cash += r.Breakdown.Cash
		t.Card += r.Breakdown.Card
		t.Transfer += r.Breakdown.Transfer
	}
	for _, e := range l.Expenditures {
		t.Expenditures += e.Amount
	}
	return t
}
