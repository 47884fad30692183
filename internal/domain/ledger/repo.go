package ledger

import (
	"context"
)

// Repository persists daily ledgers. Update must apply fn against the
// latest committed state of the clinic-day atomically; fn sees a fresh
// empty ledger when the day has no document yet (ledgers are created lazily
// on first write).
type Repository interface {
	Get(ctx context.Context, clinicID, date string) (*DailyLedger, error)
	Update(ctx context.Context, clinicID, date string, fn func(*DailyLedger) error) (*DailyLedger, error)
	// ListMonth returns the clinic's ledgers for a YYYY-MM month, ordered
	// by date.
	ListMonth(ctx context.Context, clinicID, month string) ([]*DailyLedger, error)
}
