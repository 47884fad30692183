package prospect

import (
	"context"

	"github.com/dentledger/dentledger/internal/platform/docstore"
)

const prospectCollection = "prospects"

// RepoDoc implements Repository on the document store, one document per
// clinic-day-name sighting.
type RepoDoc struct {
	store docstore.Store
}

func NewRepoDoc(store docstore.Store) *RepoDoc {
	return &RepoDoc{store: store}
}

func (r *RepoDoc) Get(ctx context.Context, clinicID, date, name string) (*Record, error) {
	doc, err := r.store.Get(ctx, prospectCollection, RecordKey(clinicID, date, name))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := docstore.Decode(doc, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RepoDoc) Update(ctx context.Context, clinicID, date, name string, fn func(*Record) (*Record, error)) (*Record, error) {
	var result *Record
	err := r.store.Update(ctx, prospectCollection, RecordKey(clinicID, date, name), func(d docstore.Doc) (docstore.Doc, error) {
		var rec *Record
		if d != nil {
			rec = &Record{}
			if err := docstore.Decode(d, rec); err != nil {
				return nil, err
			}
		}
		out, err := fn(rec)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}
		result = out
		return docstore.Encode(out)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *RepoDoc) ListRange(ctx context.Context, clinicID, from, to string) ([]*Record, error) {
	start := clinicID + "_" + from
	_, end := docstore.PrefixRange(clinicID + "_" + to)
	docs, err := r.store.RangeQuery(ctx, prospectCollection, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(docs))
	for _, kd := range docs {
		var rec Record
		if err := docstore.Decode(kd.Doc, &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, nil
}
