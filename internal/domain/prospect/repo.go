package prospect

import (
	"context"
)

// Repository persists prospect records. Update applies fn atomically against
// the latest state; fn receives nil when no record exists yet and returns
// the record to write.
type Repository interface {
	Get(ctx context.Context, clinicID, date, name string) (*Record, error)
	Update(ctx context.Context, clinicID, date, name string, fn func(*Record) (*Record, error)) (*Record, error)
	// ListRange returns the clinic's records with date in [from, to],
	// ordered by key.
	ListRange(ctx context.Context, clinicID, from, to string) ([]*Record, error)
}
