package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dentledger/dentledger/internal/domain/ledger"
	"github.com/dentledger/dentledger/internal/domain/patient"
	"github.com/dentledger/dentledger/internal/platform/calendar"
	"github.com/dentledger/dentledger/internal/platform/docstore"
)

// ErrNoRoster is returned when the clinic has no doctor-calendar mapping.
var ErrNoRoster = errors.New("sync: clinic has no doctor roster")

// LedgerMerger is the ledger side of a sync: the current day for the
// pre-fetch dedupe snapshot and the single merge write.
type LedgerMerger interface {
	GetDay(ctx context.Context, clinicID, date string) (*ledger.DailyLedger, error)
	MergeRows(ctx context.Context, clinicID, date string, rows []ledger.Row, actor string) (int, error)
}

// IdentityResolver finds or creates the patient profile for a sighting.
type IdentityResolver interface {
	Resolve(ctx context.Context, clinicID, name, chartID string) (*patient.Profile, error)
}

// Result reports one sync run: rows added plus non-fatal warnings from
// doctors whose fetch or rows failed.
type Result struct {
	Added    int      `json:"added"`
	Warnings []string `json:"warnings,omitempty"`
}

// Service is the calendar merge engine: it fans out over the clinic's
// doctor roster, parses event titles into ledger rows, and merges them into
// the day's ledger exactly once per event id.
type Service struct {
	rosters  RosterRepository
	events   calendar.EventSource
	ledgers  LedgerMerger
	resolver IdentityResolver
	loc      *time.Location
	log      zerolog.Logger
}

func NewService(rosters RosterRepository, events calendar.EventSource, ledgers LedgerMerger, resolver IdentityResolver, loc *time.Location, log zerolog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{rosters: rosters, events: events, ledgers: ledgers, resolver: resolver, loc: loc, log: log}
}

// GetRoster returns the clinic's doctor-calendar mapping.
func (s *Service) GetRoster(ctx context.Context, clinicID string) (*Roster, error) {
	return s.rosters.Get(ctx, clinicID)
}

// SetRoster replaces the clinic's doctor-calendar mapping.
func (s *Service) SetRoster(ctx context.Context, r *Roster) error {
	if r.ClinicID == "" {
		return errors.New("sync: roster clinic id is required")
	}
	return s.rosters.Set(ctx, r)
}

type doctorRows struct {
	rows    []ledger.Row
	warning string
}

// Sync fetches every rostered doctor's events for the day and merges the
// parseable, not-yet-ingested ones into the day's ledger. One doctor's
// failure never aborts the others; their errors come back as warnings next
// to the added count.
func (s *Service) Sync(ctx context.Context, clinicID, date string) (*Result, error) {
	roster, err := s.rosters.Get(ctx, clinicID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNoRoster
	}
	if err != nil {
		return nil, err
	}
	if len(roster.Doctors) == 0 {
		return nil, ErrNoRoster
	}

	day, err := time.ParseInLocation("2006-01-02", date, s.loc)
	if err != nil {
		return nil, fmt.Errorf("sync: invalid date %q: %w", date, err)
	}

	// Snapshot of already-ingested event ids. The merge re-checks against
	// the latest row set at write time; this pass just avoids resolving
	// identities for rows that are almost certainly present.
	current, err := s.ledgers.GetDay(ctx, clinicID, date)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(current.Rows))
	for _, r := range current.Rows {
		seen[r.ID] = true
	}

	results := make([]doctorRows, len(roster.Doctors))
	var wg gosync.WaitGroup
	for i, doc := range roster.Doctors {
		wg.Add(1)
		go func(i int, doc DoctorCalendar) {
			defer wg.Done()
			results[i] = s.syncDoctor(ctx, clinicID, date, doc, day, seen)
		}(i, doc)
	}
	wg.Wait()

	out := &Result{}
	var rows []ledger.Row
	for _, r := range results {
		rows = append(rows, r.rows...)
		if r.warning != "" {
			out.Warnings = append(out.Warnings, r.warning)
		}
	}
	if len(rows) > 0 {
		added, err := s.ledgers.MergeRows(ctx, clinicID, date, rows, "calendar-sync")
		if err != nil {
			return nil, fmt.Errorf("sync %s/%s: merge rows: %w", clinicID, date, err)
		}
		out.Added = added
	}
	s.log.Info().
		Str("clinic", clinicID).
		Str("date", date).
		Int("added", out.Added).
		Int("warnings", len(out.Warnings)).
		Msg("calendar sync finished")
	return out, nil
}

func (s *Service) syncDoctor(ctx context.Context, clinicID, date string, doc DoctorCalendar, day time.Time, seen map[string]bool) doctorRows {
	events, err := s.events.ListEvents(ctx, doc.CalendarID, day, day.AddDate(0, 0, 1))
	if err != nil {
		s.log.Warn().Err(err).Str("doctor", doc.DoctorID).Msg("calendar fetch failed")
		return doctorRows{warning: fmt.Sprintf("doctor %s: %v", doc.DoctorID, err)}
	}

	var out doctorRows
	for _, ev := range events {
		if ev.AllDay || seen[ev.ID] {
			continue
		}
		parsed := ParseTitle(ev.Summary)
		if parsed == nil {
			// Excluded title; a filtering outcome, not an error.
			s.log.Debug().Str("summary", ev.Summary).Msg("event title excluded")
			continue
		}

		chartID := parsed.ChartID
		if chartID == patient.ChartIDSentinel {
			chartID = ""
		}
		if _, err := s.resolver.Resolve(ctx, clinicID, parsed.PatientName, chartID); err != nil {
			if errors.Is(err, patient.ErrInvalidIdentity) {
				continue
			}
			out.warning = fmt.Sprintf("doctor %s: resolve %q: %v", doc.DoctorID, parsed.PatientName, err)
			continue
		}

		out.rows = append(out.rows, ledger.Normalize(ledger.Row{
			ID:           ev.ID,
			PatientName:  parsed.PatientName,
			ChartID:      chartID,
			DoctorID:     doc.DoctorID,
			IsProspect:   parsed.IsProspect,
			ProspectNote: parsed.ProcedureNote,
			StartTime:    ev.Start,
		}))
	}
	return out
}
