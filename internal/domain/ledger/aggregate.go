package ledger

import (
	"math"
)

// sanitizeAmount coerces a monetary field to a usable non-negative number.
// NaN, infinities and negatives all become zero so downstream totals never
// observe a poisoned contribution.
func sanitizeAmount(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// Normalize sanitizes every monetary field of the row, computes its total,
// and derives the payment breakdown. When the operator supplied an explicit
// split across more than one method it is preserved as-is — it is the
// operator's authority, not recomputed; otherwise the full total lands in
// the bucket matching the row's payment method. Normalize has no side
// effects and must run before a row is persisted or summed into any total.
func Normalize(r Row) Row {
	r.Treatments.Registration = sanitizeAmount(r.Treatments.Registration)
	r.Treatments.Copay = sanitizeAmount(r.Treatments.Copay)
	r.Treatments.Whitening = sanitizeAmount(r.Treatments.Whitening)
	r.Treatments.Ortho = sanitizeAmount(r.Treatments.Ortho)
	r.Treatments.Implant = sanitizeAmount(r.Treatments.Implant)
	r.Treatments.Prostho = sanitizeAmount(r.Treatments.Prostho)
	r.Treatments.Perio = sanitizeAmount(r.Treatments.Perio)
	r.Retail.CareProducts = sanitizeAmount(r.Retail.CareProducts)
	r.Retail.Other = sanitizeAmount(r.Retail.Other)
	r.Breakdown.Cash = sanitizeAmount(r.Breakdown.Cash)
	r.Breakdown.Card = sanitizeAmount(r.Breakdown.Card)
	r.Breakdown.Transfer = sanitizeAmount(r.Breakdown.Transfer)

	r.Total = r.Treatments.Sum() + r.Retail.Sum()

	if r.Breakdown.methods() < 2 {
		r.Breakdown = PaymentBreakdown{}
		switch r.PaymentMethod {
		case PaymentCard:
			r.Breakdown.Card = r.Total
		case PaymentTransfer:
			r.Breakdown.Transfer = r.Total
		default:
			r.PaymentMethod = PaymentCash
			r.Breakdown.Cash = r.Total
		}
	}

	return r
}
