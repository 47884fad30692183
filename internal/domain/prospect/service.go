package prospect

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dentledger/dentledger/internal/platform/docstore"
)

// ErrInvalidRecord is returned when a prospect write lacks the key fields.
var ErrInvalidRecord = errors.New("prospect: clinic, date and patient name are required")

// Service owns the prospect funnel: operator edits to marketing fields,
// visit outcomes fed from the ledger on day close, and soft deletion.
type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Upsert creates or overwrites the operator-editable fields of a record.
// A closed deal is always counted as visited, whatever the caller sent.
func (s *Service) Upsert(ctx context.Context, rec Record) (*Record, error) {
	rec.PatientName = strings.TrimSpace(rec.PatientName)
	if rec.ClinicID == "" || rec.Date == "" || rec.PatientName == "" {
		return nil, ErrInvalidRecord
	}
	if rec.IsClosed {
		rec.IsVisited = true
	}
	return s.repo.Update(ctx, rec.ClinicID, rec.Date, rec.PatientName, func(existing *Record) (*Record, error) {
		if existing == nil {
			if rec.Lifecycle == "" {
				rec.Lifecycle = LifecycleActive
			}
			return &rec, nil
		}
		out := *existing
		out.MarketingTag = rec.MarketingTag
		out.SourceChannel = rec.SourceChannel
		out.AssignedConsultant = rec.AssignedConsultant
		out.IsVisited = rec.IsVisited || rec.IsClosed
		out.IsClosed = rec.IsClosed
		out.DealAmount = rec.DealAmount
		return &out, nil
	})
}

// Hide soft-deletes a record: it drops out of default listings but stays
// persisted.
func (s *Service) Hide(ctx context.Context, clinicID, date, name string) (*Record, error) {
	rec, err := s.repo.Update(ctx, clinicID, date, name, func(existing *Record) (*Record, error) {
		if existing == nil {
			return nil, docstore.ErrNotFound
		}
		out := *existing
		out.Lifecycle = LifecycleHidden
		return &out, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("key", rec.Key()).Msg("prospect hidden")
	return rec, nil
}

// List returns the clinic's records with date in [from, to]. Hidden records
// are excluded unless includeHidden is set.
func (s *Service) List(ctx context.Context, clinicID, from, to string, includeHidden bool) ([]*Record, error) {
	records, err := s.repo.ListRange(ctx, clinicID, from, to)
	if err != nil {
		return nil, err
	}
	if includeHidden {
		return records, nil
	}
	out := make([]*Record, 0, len(records))
	for _, r := range records {
		if r.Lifecycle != LifecycleHidden {
			out = append(out, r)
		}
	}
	return out, nil
}

// RecordOutcome folds a locked ledger row's outcome into the day's record,
// creating one when the prospect was never pre-registered. Outcome facts
// only strengthen: a visit is never unrecorded and the deal amount is kept
// at its maximum, so re-running a day's aggregation cannot regress the
// funnel. Operator-entered marketing fields are left untouched.
func (s *Service) RecordOutcome(ctx context.Context, clinicID, date, patientName string, visited bool, dealAmount float64, consultant string) error {
	patientName = strings.TrimSpace(patientName)
	if patientName == "" {
		return ErrInvalidRecord
	}
	_, err := s.repo.Update(ctx, clinicID, date, patientName, func(existing *Record) (*Record, error) {
		rec := existing
		if rec == nil {
			rec = &Record{
				ClinicID:    clinicID,
				Date:        date,
				PatientName: patientName,
				Lifecycle:   LifecycleActive,
			}
		} else {
			copied := *rec
			rec = &copied
		}
		rec.IsVisited = rec.IsVisited || visited
		if dealAmount > rec.DealAmount {
			rec.DealAmount = dealAmount
		}
		if rec.IsClosed {
			rec.IsVisited = true
		}
		if rec.AssignedConsultant == "" {
			rec.AssignedConsultant = consultant
		}
		return rec, nil
	})
	return err
}
