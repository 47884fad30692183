package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dentledger/dentledger/internal/domain/patient"
	"github.com/dentledger/dentledger/internal/platform/docstore"
)

var (
	// ErrLocked is returned when a mutation would touch a restricted field
	// of a locked day. Non-retryable; the caller must reopen the day first.
	ErrLocked = errors.New("ledger: day is locked")
	// ErrNotLocked is returned when an operation requires a locked day.
	ErrNotLocked = errors.New("ledger: day is not locked")
	// ErrRowNotFound is returned for mutations addressing an unknown row.
	ErrRowNotFound = errors.New("ledger: row not found")
	// ErrNotManual is returned when deleting a calendar-derived row.
	ErrNotManual = errors.New("ledger: only manual rows can be deleted")
)

// prospectMarker flags a row as a prospect when present in its note,
// matched case-insensitively.
const prospectMarker = "np"

// IsProspectRow reports whether the row counts as a prospect: the parser's
// flag is set or the note carries the marker token.
func IsProspectRow(r Row) bool {
	return r.IsProspect || strings.Contains(strings.ToLower(r.ProspectNote), prospectMarker)
}

// ProfileAggregator folds one locked identity group into a patient profile.
// Implemented by the patient service.
type ProfileAggregator interface {
	ApplyVisitGroup(ctx context.Context, lockID, clinicID string, g patient.VisitGroup) error
}

// ProspectRecorder receives prospect visit outcomes on day close.
// Implemented by the prospect service.
type ProspectRecorder interface {
	RecordOutcome(ctx context.Context, clinicID, date, patientName string, visited bool, dealAmount float64, consultant string) error
}

// Service owns the daily ledger: row edits with diff auditing while the day
// is open, the open → locked → reopened lifecycle, and the one-time feed of
// locked rows into patient profiles and the prospect tracker.
type Service struct {
	repo      Repository
	profiles  ProfileAggregator
	prospects ProspectRecorder
	log       zerolog.Logger
}

func NewService(repo Repository, profiles ProfileAggregator, prospects ProspectRecorder, log zerolog.Logger) *Service {
	return &Service{repo: repo, profiles: profiles, prospects: prospects, log: log}
}

// GetDay returns the clinic-day ledger; a day with no document yet reads as
// an empty open ledger.
func (s *Service) GetDay(ctx context.Context, clinicID, date string) (*DailyLedger, error) {
	l, err := s.repo.Get(ctx, clinicID, date)
	if errors.Is(err, docstore.ErrNotFound) {
		return &DailyLedger{ClinicID: clinicID, Date: date}, nil
	}
	return l, err
}

// ListMonth returns the clinic's ledgers for a YYYY-MM month.
func (s *Service) ListMonth(ctx context.Context, clinicID, month string) ([]*DailyLedger, error) {
	return s.repo.ListMonth(ctx, clinicID, month)
}

// CreateManualRow appends an operator-entered row to an open day.
func (s *Service) CreateManualRow(ctx context.Context, clinicID, date string, row Row, actor string) (*DailyLedger, error) {
	return s.repo.Update(ctx, clinicID, date, func(l *DailyLedger) error {
		if l.IsLocked {
			return ErrLocked
		}
		row.IsManual = true
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		if l.HasRow(row.ID) {
			return fmt.Errorf("row %s: %w", row.ID, docstore.ErrExists)
		}
		row = Normalize(row)
		l.Rows = append(l.Rows, row)
		l.Append(AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Actor:     actor,
			Action:    ActionRowAdd,
			Detail:    row.PatientName,
		})
		return nil
	})
}

// UpdateRow edits an existing row. While the day is open every change to a
// restricted field is recorded as a human-readable diff in the audit log;
// once locked, any change to a restricted field is rejected without side
// effects. Attendance and the prospect note stay editable after lock.
func (s *Service) UpdateRow(ctx context.Context, clinicID, date, rowID string, updated Row, actor string) (*DailyLedger, error) {
	return s.repo.Update(ctx, clinicID, date, func(l *DailyLedger) error {
		existing := l.FindRow(rowID)
		if existing == nil {
			return fmt.Errorf("row %s: %w", rowID, ErrRowNotFound)
		}
		updated.ID = existing.ID
		updated.IsManual = existing.IsManual
		updated = Normalize(updated)

		if l.IsLocked && restrictedChanged(*existing, updated) {
			return ErrLocked
		}

		diff := diffRows(*existing, updated)
		*existing = updated
		if diff != "" && !l.IsLocked {
			l.Append(AuditEntry{
				ID:        uuid.NewString(),
				Timestamp: time.Now().UTC(),
				Actor:     actor,
				Action:    ActionRowEdit,
				Detail:    fmt.Sprintf("%s: %s", updated.PatientName, diff),
			})
		}
		return nil
	})
}

// DeleteRow removes a manual row from an open day. Calendar-derived rows
// are never deleted, and nothing is deleted after lock.
func (s *Service) DeleteRow(ctx context.Context, clinicID, date, rowID, actor string) (*DailyLedger, error) {
	return s.repo.Update(ctx, clinicID, date, func(l *DailyLedger) error {
		if l.IsLocked {
			return ErrLocked
		}
		row := l.FindRow(rowID)
		if row == nil {
			return fmt.Errorf("row %s: %w", rowID, ErrRowNotFound)
		}
		if !row.IsManual {
			return ErrNotManual
		}
		name := row.PatientName
		kept := l.Rows[:0]
		for _, r := range l.Rows {
			if r.ID != rowID {
				kept = append(kept, r)
			}
		}
		l.Rows = kept
		l.Append(AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Actor:     actor,
			Action:    ActionRowDelete,
			Detail:    name,
		})
		return nil
	})
}

// AddExpenditure records a cash outlay on an open day.
func (s *Service) AddExpenditure(ctx context.Context, clinicID, date string, e Expenditure, actor string) (*DailyLedger, error) {
	return s.repo.Update(ctx, clinicID, date, func(l *DailyLedger) error {
		if l.IsLocked {
			return ErrLocked
		}
		e.Amount = sanitizeAmount(e.Amount)
		l.Expenditures = append(l.Expenditures, e)
		l.Append(AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Actor:     actor,
			Action:    ActionExpenditureAdd,
			Detail:    fmt.Sprintf("%s: %s", e.Item, formatAmount(e.Amount)),
		})
		return nil
	})
}

// RemoveExpenditure drops the expenditure at the given index on an open day.
func (s *Service) RemoveExpenditure(ctx context.Context, clinicID, date string, index int, actor string) (*DailyLedger, error) {
	return s.repo.Update(ctx, clinicID, date, func(l *DailyLedger) error {
		if l.IsLocked {
			return ErrLocked
		}
		if index < 0 || index >= len(l.Expenditures) {
			return fmt.Errorf("expenditure %d: %w", index, docstore.ErrNotFound)
		}
		dropped := l.Expenditures[index]
		l.Expenditures = append(l.Expenditures[:index], l.Expenditures[index+1:]...)
		l.Append(AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Actor:     actor,
			Action:    ActionExpenditureDrop,
			Detail:    dropped.Item,
		})
		return nil
	})
}

// MergeRows merges calendar-derived rows into the day in one write. Rows
// whose id is already present are skipped — the check runs against the
// latest row set at write time, so a concurrent manual entry cannot be
// duplicated. The surviving additions are ordered by start time. Returns
// the number of rows added.
func (s *Service) MergeRows(ctx context.Context, clinicID, date string, rows []Row, actor string) (int, error) {
	added := 0
	_, err := s.repo.Update(ctx, clinicID, date, func(l *DailyLedger) error {
		if l.IsLocked {
			return ErrLocked
		}
		added = 0
		var fresh []Row
		for _, r := range rows {
			if l.HasRow(r.ID) {
				continue
			}
			fresh = append(fresh, Normalize(r))
		}
		if len(fresh) == 0 {
			return nil
		}
		sort.Slice(fresh, func(i, j int) bool { return fresh[i].StartTime.Before(fresh[j].StartTime) })
		l.Rows = append(l.Rows, fresh...)
		added = len(fresh)
		l.Append(AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Actor:     actor,
			Action:    ActionCalendarSync,
			Detail:    fmt.Sprintf("%d rows added", added),
		})
		return nil
	})
	return added, err
}

// Lock closes the day: the lock flag flips and the audit entry lands in one
// atomic write, then every row with a non-blank patient name is grouped by
// identity key and folded into patient profiles via marker-guarded
// increments, and prospect rows feed the prospect tracker. A crash between
// the flip and the aggregation is recovered by Reaggregate.
func (s *Service) Lock(ctx context.Context, clinicID, date, actor string) (*DailyLedger, error) {
	lockID := uuid.NewString()
	l, err := s.repo.Update(ctx, clinicID, date, func(l *DailyLedger) error {
		if l.IsLocked {
			return ErrLocked
		}
		l.IsLocked = true
		l.LockID = lockID
		l.Append(AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Actor:     actor,
			Action:    ActionLock,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("ledger", l.Key()).Str("lock_id", lockID).Msg("day locked")

	if err := s.aggregate(ctx, l); err != nil {
		// The lock itself is committed; aggregation is retryable.
		return l, fmt.Errorf("day locked, aggregation incomplete (run reaggregate): %w", err)
	}
	return l, nil
}

// Unlock reopens a locked day. Privilege is enforced at the route; the
// aggregation already applied is deliberately not retracted — profile
// totals may drift from a re-edited day until the next lock re-applies
// them under a fresh lock id.
func (s *Service) Unlock(ctx context.Context, clinicID, date, actor string) (*DailyLedger, error) {
	l, err := s.repo.Update(ctx, clinicID, date, func(l *DailyLedger) error {
		if !l.IsLocked {
			return ErrNotLocked
		}
		l.IsLocked = false
		l.Append(AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Actor:     actor,
			Action:    ActionUnlock,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Warn().Str("ledger", l.Key()).Str("actor", actor).Msg("day reopened")
	return l, nil
}

// Reaggregate re-runs profile aggregation for the day's current lock event.
// The per-(lock, profile) markers make it safe to run any number of times.
func (s *Service) Reaggregate(ctx context.Context, clinicID, date string) error {
	l, err := s.repo.Get(ctx, clinicID, date)
	if err != nil {
		return err
	}
	if !l.IsLocked {
		return ErrNotLocked
	}
	return s.aggregate(ctx, l)
}

func (s *Service) aggregate(ctx context.Context, l *DailyLedger) error {
	groups := make(map[string]*patient.VisitGroup)
	var order []string
	for _, r := range l.Rows {
		name := strings.TrimSpace(r.PatientName)
		if name == "" {
			continue
		}
		key := patient.NewIdentityKey(l.ClinicID, name, r.ChartID).String()
		g, ok := groups[key]
		if !ok {
			g = &patient.VisitGroup{Name: name, ChartID: r.ChartID, Date: l.Date}
			groups[key] = g
			order = append(order, key)
		}
		g.TotalAmount += r.Total
		g.Visits = append(g.Visits, patient.VisitRecord{
			RowID:    r.ID,
			Date:     l.Date,
			DoctorID: r.DoctorID,
			Note:     r.ProspectNote,
			Amount:   r.Total,
		})
		g.Categories = append(g.Categories, r.Categories()...)
		g.Consultant = r.DoctorID
	}

	var errs []error
	for _, key := range order {
		if err := s.profiles.ApplyVisitGroup(ctx, l.LockID, l.ClinicID, *groups[key]); err != nil {
			s.log.Error().Err(err).Str("identity", key).Msg("profile aggregation failed")
			errs = append(errs, fmt.Errorf("aggregate %s: %w", key, err))
		}
	}

	for _, r := range l.Rows {
		if !IsProspectRow(r) || strings.TrimSpace(r.PatientName) == "" {
			continue
		}
		if err := s.prospects.RecordOutcome(ctx, l.ClinicID, l.Date, r.PatientName, r.Attendance, r.Total, r.DoctorID); err != nil {
			s.log.Error().Err(err).Str("patient", r.PatientName).Msg("prospect outcome failed")
			errs = append(errs, fmt.Errorf("prospect %s: %w", r.PatientName, err))
		}
	}
	return errors.Join(errs...)
}

// Export returns the finalized rows and computed totals of a locked day for
// report formatting. Open days are not exportable.
type Export struct {
	ClinicID     string        `json:"clinicId"`
	Date         string        `json:"date"`
	LockedAt     time.Time     `json:"lockedAt"`
	Rows         []Row         `json:"rows"`
	Expenditures []Expenditure `json:"expenditures,omitempty"`
	Totals       Totals        `json:"totals"`
}

func (s *Service) ExportDay(ctx context.Context, clinicID, date string) (*Export, error) {
	l, err := s.repo.Get(ctx, clinicID, date)
	if err != nil {
		return nil, err
	}
	if !l.IsLocked {
		return nil, ErrNotLocked
	}
	out := &Export{
		ClinicID:     l.ClinicID,
		Date:         l.Date,
		Rows:         l.Rows,
		Expenditures: l.Expenditures,
		Totals:       l.ComputeTotals(),
	}
	for _, e := range l.AuditLog {
		if e.Action == ActionLock {
			out.LockedAt = e.Timestamp
		}
	}
	return out, nil
}

// restrictedChanged reports whether any field frozen by a lock differs
// between the two rows: monetary fields, patient name, payment method,
// doctor and chart id.
func restrictedChanged(old, new Row) bool {
	return old.PatientName != new.PatientName ||
		old.ChartID != new.ChartID ||
		old.DoctorID != new.DoctorID ||
		old.PaymentMethod != new.PaymentMethod ||
		old.Treatments != new.Treatments ||
		old.Retail != new.Retail ||
		old.Breakdown != new.Breakdown
}

// diffRows renders a human-readable "field: old → new" summary of every
// changed field, for the audit trail.
func diffRows(old, new Row) string {
	var parts []string
	str := func(field, o, n string) {
		if o != n {
			parts = append(parts, fmt.Sprintf("%s: %s → %s", field, o, n))
		}
	}
	num := func(field string, o, n float64) {
		if o != n {
			parts = append(parts, fmt.Sprintf("%s: %s → %s", field, formatAmount(o), formatAmount(n)))
		}
	}
	str("patientName", old.PatientName, new.PatientName)
	str("chartId", old.ChartID, new.ChartID)
	str("doctorId", old.DoctorID, new.DoctorID)
	str("paymentMethod", string(old.PaymentMethod), string(new.PaymentMethod))
	num("registration", old.Treatments.Registration, new.Treatments.Registration)
	num("copay", old.Treatments.Copay, new.Treatments.Copay)
	num("whitening", old.Treatments.Whitening, new.Treatments.Whitening)
	num("ortho", old.Treatments.Ortho, new.Treatments.Ortho)
	num("implant", old.Treatments.Implant, new.Treatments.Implant)
	num("prostho", old.Treatments.Prostho, new.Treatments.Prostho)
	num("perio", old.Treatments.Perio, new.Treatments.Perio)
	num("careProducts", old.Retail.CareProducts, new.Retail.CareProducts)
	num("retailOther", old.Retail.Other, new.Retail.Other)
	num("cash", old.Breakdown.Cash, new.Breakdown.Cash)
	num("card", old.Breakdown.Card, new.Breakdown.Card)
	num("transfer", old.Breakdown.Transfer, new.Breakdown.Transfer)
	if old.Attendance != new.Attendance {
		parts = append(parts, fmt.Sprintf("attendance: %t → %t", old.Attendance, new.Attendance))
	}
	str("prospectNote", old.ProspectNote, new.ProspectNote)
	return strings.Join(parts, "; ")
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
