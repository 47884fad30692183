package ledger

import (
	"context"

	"github.com/dentledger/dentledger/internal/platform/docstore"
)

const ledgerCollection = "daily_ledgers"

// RepoDoc implements Repository on the document store, one document per
// clinic-day keyed {clinicId}_{YYYY-MM-DD}.
type RepoDoc struct {
	store docstore.Store
}

func NewRepoDoc(store docstore.Store) *RepoDoc {
	return &RepoDoc{store: store}
}

func (r *RepoDoc) Get(ctx context.Context, clinicID, date string) (*DailyLedger, error) {
	doc, err := r.store.Get(ctx, ledgerCollection, LedgerKey(clinicID, date))
	if err != nil {
		return nil, err
	}
	var l DailyLedger
	if err := docstore.Decode(doc, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *RepoDoc) Update(ctx context.Context, clinicID, date string, fn func(*DailyLedger) error) (*DailyLedger, error) {
	var result *DailyLedger
	err := r.store.Update(ctx, ledgerCollection, LedgerKey(clinicID, date), func(d docstore.Doc) (docstore.Doc, error) {
		l := &DailyLedger{ClinicID: clinicID, Date: date}
		if d != nil {
			if err := docstore.Decode(d, l); err != nil {
				return nil, err
			}
		}
		if err := fn(l); err != nil {
			return nil, err
		}
		result = l
		return docstore.Encode(l)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *RepoDoc) ListMonth(ctx context.Context, clinicID, month string) ([]*DailyLedger, error) {
	start, end := docstore.PrefixRange(clinicID + "_" + month)
	docs, err := r.store.RangeQuery(ctx, ledgerCollection, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]*DailyLedger, 0, len(docs))
	for _, kd := range docs {
		var l DailyLedger
		if err := docstore.Decode(kd.Doc, &l); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, nil
}
