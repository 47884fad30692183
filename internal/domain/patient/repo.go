package patient

import (
	"context"
)

// ProfileRepository persists patient profiles. Accumulator methods
// (AddSpending, AppendVisits, AddCategories, AddConsultants) must map to the
// store's atomic increment/union primitives, never to read-modify-write
// overwrites, because concurrent day-locks may touch the same profile.
type ProfileRepository interface {
	Get(ctx context.Context, key IdentityKey) (*Profile, error)
	// FindProvisionalByName returns the first sentinel-chart profile in the
	// clinic whose sanitized name matches, or docstore.ErrNotFound.
	// Profiles that already carry a confirmed chart id never match: two
	// patients may share a name, so only explicit operator merges cross
	// confirmed chart ids.
	FindProvisionalByName(ctx context.Context, clinicID, name string) (*Profile, error)
	Create(ctx context.Context, p *Profile) error
	Set(ctx context.Context, p *Profile) error
	Delete(ctx context.Context, key IdentityKey) error
	ListByClinic(ctx context.Context, clinicID string) ([]*Profile, error)

	AddSpending(ctx context.Context, key IdentityKey, amount float64) error
	AppendVisits(ctx context.Context, key IdentityKey, visits []VisitRecord) error
	AddCategories(ctx context.Context, key IdentityKey, categories []string) error
	AddConsultants(ctx context.Context, key IdentityKey, consultants []string) error
	// AdvanceVisitSummary moves lastVisitDate/lastConsultant forward to the
	// given visit if it is not older than the recorded one.
	AdvanceVisitSummary(ctx context.Context, key IdentityKey, date, consultant string) error

	// ClaimAggregation atomically records that aggregation for the marker
	// has been applied. It returns false when the marker already existed,
	// so a retried lock never double-counts.
	ClaimAggregation(ctx context.Context, marker string) (bool, error)
	// ReleaseAggregation removes a claimed marker so a later retry can
	// re-apply the group. Releasing an absent marker is not an error.
	ReleaseAggregation(ctx context.Context, marker string) error
}
