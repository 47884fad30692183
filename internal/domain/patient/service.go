package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dentledger/dentledger/internal/platform/docstore"
)

// ErrInvalidIdentity is returned when identity resolution is attempted with
// a blank patient name. It is fatal to that single row, never to a batch.
var ErrInvalidIdentity = errors.New("patient: name must not be blank")

// Service is the identity resolver: it finds or creates the canonical
// profile for a (clinic, name, chart id) sighting, migrates provisional
// profiles once a chart id becomes known, and folds locked ledger rows into
// lifetime aggregates.
type Service struct {
	repo ProfileRepository
	log  zerolog.Logger
}

func NewService(repo ProfileRepository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Resolve returns the canonical profile for the sighting, creating one when
// none exists. Lookup order: exact identity key first; when a chart id is
// known, a provisional (sentinel-chart) profile with the same name within
// the clinic is preferred over creating a duplicate — that profile is
// migrated to the chart id on the spot. Profiles under a different confirmed
// chart id are never absorbed here; correcting a wrong chart id is an
// explicit operator merge.
func (s *Service) Resolve(ctx context.Context, clinicID, name, chartID string) (*Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidIdentity
	}

	key := NewIdentityKey(clinicID, name, chartID)
	p, err := s.repo.Get(ctx, key)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return nil, err
	}

	if key.ChartID != ChartIDSentinel {
		existing, err := s.repo.FindProvisionalByName(ctx, clinicID, name)
		if err == nil {
			return s.Merge(ctx, existing.Key(), key.ChartID)
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			return nil, err
		}
	}

	p = &Profile{ClinicID: clinicID, ChartID: key.ChartID, Name: name}
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, docstore.ErrExists) {
			// Lost a race to a concurrent resolver; theirs wins.
			return s.repo.Get(ctx, key)
		}
		return nil, err
	}
	s.log.Info().Str("key", key.String()).Msg("patient profile created")
	return p, nil
}

// Get returns the profile for an exact identity key.
func (s *Service) Get(ctx context.Context, key IdentityKey) (*Profile, error) {
	return s.repo.Get(ctx, key)
}

// ListByClinic returns every profile of the clinic, optionally filtered by a
// name substring.
func (s *Service) ListByClinic(ctx context.Context, clinicID, nameFilter string) ([]*Profile, error) {
	profiles, err := s.repo.ListByClinic(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	if nameFilter == "" {
		return profiles, nil
	}
	var out []*Profile
	for _, p := range profiles {
		if strings.Contains(p.Name, nameFilter) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Merge combines the profile at oldKey into the profile addressed by the
// same clinic and name under newChartID, and deletes the stale one. Sets are
// unioned, totals summed, dates maxed, so a conservative union wins over
// data loss when the two sides diverge. Merging a key into itself is a
// no-op. Re-merging an already-merged pair returns the surviving profile.
//
// The source-exists guard is a plain read: the store has no multi-document
// transaction, so two merges of the same pair racing between the Get and the
// Delete can both read the source and double-apply its totals. Merges are
// operator-initiated and per-patient, which keeps the window acceptable;
// sequential re-merges stay idempotent via the missing-source check.
func (s *Service) Merge(ctx context.Context, oldKey IdentityKey, newChartID string) (*Profile, error) {
	if newChartID == "" {
		newChartID = ChartIDSentinel
	}
	targetKey := IdentityKey{ClinicID: oldKey.ClinicID, ChartID: newChartID, Name: oldKey.Name}
	if targetKey == oldKey {
		return s.repo.Get(ctx, oldKey)
	}

	source, err := s.repo.Get(ctx, oldKey)
	if errors.Is(err, docstore.ErrNotFound) {
		// Source already consumed by an earlier merge.
		return s.repo.Get(ctx, targetKey)
	}
	if err != nil {
		return nil, err
	}

	target, err := s.repo.Get(ctx, targetKey)
	if errors.Is(err, docstore.ErrNotFound) {
		target = &Profile{ClinicID: targetKey.ClinicID, ChartID: targetKey.ChartID, Name: source.Name}
	} else if err != nil {
		return nil, err
	}

	merged := combine(target, source)
	if err := s.repo.Set(ctx, merged); err != nil {
		return nil, fmt.Errorf("merge %s into %s: %w", oldKey.String(), targetKey.String(), err)
	}
	if err := s.repo.Delete(ctx, oldKey); err != nil {
		return nil, fmt.Errorf("merge %s into %s: delete source: %w", oldKey.String(), targetKey.String(), err)
	}
	s.log.Info().
		Str("from", oldKey.String()).
		Str("to", targetKey.String()).
		Float64("total", merged.TotalSpending).
		Msg("patient profiles merged")
	return merged, nil
}

// combine folds source into target losslessly: summed totals, unioned sets,
// max of dates, concatenated visit history without duplicates.
func combine(target, source *Profile) *Profile {
	out := *target
	out.TotalSpending = target.TotalSpending + source.TotalSpending
	if source.LastVisitDate > out.LastVisitDate {
		out.LastVisitDate = source.LastVisitDate
		if source.LastConsultant != "" {
			out.LastConsultant = source.LastConsultant
		}
	}
	if out.LastConsultant == "" {
		out.LastConsultant = source.LastConsultant
	}
	out.Categories = unionStrings(target.Categories, source.Categories)
	out.PastConsultants = unionStrings(target.PastConsultants, source.PastConsultants)

	seen := make(map[string]bool, len(target.VisitHistory))
	out.VisitHistory = append([]VisitRecord(nil), target.VisitHistory...)
	for _, v := range target.VisitHistory {
		seen[visitFingerprint(v)] = true
	}
	for _, v := range source.VisitHistory {
		if !seen[visitFingerprint(v)] {
			out.VisitHistory = append(out.VisitHistory, v)
			seen[visitFingerprint(v)] = true
		}
	}
	return &out
}

func visitFingerprint(v VisitRecord) string {
	return fmt.Sprintf("%s|%s|%s|%s|%.2f", v.RowID, v.Date, v.DoctorID, v.Note, v.Amount)
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// ApplyVisitGroup folds one locked day's rows for a single identity into the
// profile's lifetime aggregates. The write is guarded by a per-(lock event,
// profile) marker so a retried lock applies each group at most once, and all
// accumulators go through increment/union primitives. When any write after
// the claim fails, the marker is released again so a retry can re-apply the
// group rather than losing it.
func (s *Service) ApplyVisitGroup(ctx context.Context, lockID, clinicID string, g VisitGroup) error {
	p, err := s.Resolve(ctx, clinicID, g.Name, g.ChartID)
	if err != nil {
		return err
	}
	key := p.Key()

	marker := lockID + "_" + key.String()
	claimed, err := s.repo.ClaimAggregation(ctx, marker)
	if err != nil {
		return fmt.Errorf("claim aggregation for %s: %w", key.String(), err)
	}
	if !claimed {
		s.log.Debug().Str("key", key.String()).Str("lock_id", lockID).Msg("aggregation already applied")
		return nil
	}

	if err := s.applyIncrements(ctx, key, g); err != nil {
		// Visit history and the set fields union-dedupe, so a partial
		// application re-runs safely; only the spending increment can
		// double under a failure in a later write of the same group.
		if relErr := s.repo.ReleaseAggregation(ctx, marker); relErr != nil {
			return errors.Join(err, fmt.Errorf("release aggregation marker %s: %w", marker, relErr))
		}
		return err
	}
	return nil
}

func (s *Service) applyIncrements(ctx context.Context, key IdentityKey, g VisitGroup) error {
	if err := s.repo.AddSpending(ctx, key, g.TotalAmount); err != nil {
		return err
	}
	if err := s.repo.AppendVisits(ctx, key, g.Visits); err != nil {
		return err
	}
	if len(g.Categories) > 0 {
		if err := s.repo.AddCategories(ctx, key, g.Categories); err != nil {
			return err
		}
	}
	if g.Consultant != "" {
		if err := s.repo.AddConsultants(ctx, key, []string{g.Consultant}); err != nil {
			return err
		}
	}
	return s.repo.AdvanceVisitSummary(ctx, key, g.Date, g.Consultant)
}
