package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/dentledger/dentledger/internal/platform/docstore"
)

const (
	profileCollection = "patients"
	markerCollection  = "aggregation_markers"
)

// ProfileRepoDoc implements ProfileRepository on the document store, keyed
// {clinicId}_{chartId-or-NP}_{sanitizedName}.
type ProfileRepoDoc struct {
	store docstore.Store
}

func NewProfileRepoDoc(store docstore.Store) *ProfileRepoDoc {
	return &ProfileRepoDoc{store: store}
}

func (r *ProfileRepoDoc) Get(ctx context.Context, key IdentityKey) (*Profile, error) {
	doc, err := r.store.Get(ctx, profileCollection, key.String())
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := docstore.Decode(doc, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProfileRepoDoc) FindProvisionalByName(ctx context.Context, clinicID, name string) (*Profile, error) {
	want := SanitizeName(name)
	start, end := docstore.PrefixRange(clinicID + "_" + ChartIDSentinel + "_")
	docs, err := r.store.RangeQuery(ctx, profileCollection, start, end)
	if err != nil {
		return nil, err
	}
	for _, kd := range docs {
		var p Profile
		if err := docstore.Decode(kd.Doc, &p); err != nil {
			return nil, err
		}
		if SanitizeName(p.Name) == want {
			return &p, nil
		}
	}
	return nil, docstore.ErrNotFound
}

func (r *ProfileRepoDoc) Create(ctx context.Context, p *Profile) error {
	doc, err := docstore.Encode(p)
	if err != nil {
		return err
	}
	return r.store.Create(ctx, profileCollection, p.Key().String(), doc)
}

func (r *ProfileRepoDoc) Set(ctx context.Context, p *Profile) error {
	doc, err := docstore.Encode(p)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, profileCollection, p.Key().String(), doc)
}

func (r *ProfileRepoDoc) Delete(ctx context.Context, key IdentityKey) error {
	return r.store.Delete(ctx, profileCollection, key.String())
}

func (r *ProfileRepoDoc) ListByClinic(ctx context.Context, clinicID string) ([]*Profile, error) {
	start, end := docstore.PrefixRange(clinicID + "_")
	docs, err := r.store.RangeQuery(ctx, profileCollection, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]*Profile, 0, len(docs))
	for _, kd := range docs {
		var p Profile
		if err := docstore.Decode(kd.Doc, &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, nil
}

func (r *ProfileRepoDoc) AddSpending(ctx context.Context, key IdentityKey, amount float64) error {
	return r.store.Increment(ctx, profileCollection, key.String(), "totalSpending", amount)
}

func (r *ProfileRepoDoc) AppendVisits(ctx context.Context, key IdentityKey, visits []VisitRecord) error {
	values := make([]interface{}, len(visits))
	for i, v := range visits {
		values[i] = v
	}
	return r.store.UnionAppend(ctx, profileCollection, key.String(), "visitHistory", values...)
}

func (r *ProfileRepoDoc) AddCategories(ctx context.Context, key IdentityKey, categories []string) error {
	values := make([]interface{}, len(categories))
	for i, c := range categories {
		values[i] = c
	}
	return r.store.UnionAppend(ctx, profileCollection, key.String(), "purchasedItemCategories", values...)
}

func (r *ProfileRepoDoc) AddConsultants(ctx context.Context, key IdentityKey, consultants []string) error {
	values := make([]interface{}, len(consultants))
	for i, c := range consultants {
		values[i] = c
	}
	return r.store.UnionAppend(ctx, profileCollection, key.String(), "pastConsultants", values...)
}

func (r *ProfileRepoDoc) AdvanceVisitSummary(ctx context.Context, key IdentityKey, date, consultant string) error {
	return r.store.Update(ctx, profileCollection, key.String(), func(d docstore.Doc) (docstore.Doc, error) {
		if d == nil {
			return nil, fmt.Errorf("advance summary %s: %w", key.String(), docstore.ErrNotFound)
		}
		current, _ := d["lastVisitDate"].(string)
		// Dates are YYYY-MM-DD, so lexicographic order is date order.
		if date < current {
			return nil, nil
		}
		d["lastVisitDate"] = date
		if consultant != "" {
			d["lastConsultant"] = consultant
		}
		return d, nil
	})
}

func (r *ProfileRepoDoc) ClaimAggregation(ctx context.Context, marker string) (bool, error) {
	err := r.store.Create(ctx, markerCollection, marker, docstore.Doc{"applied": true})
	if errors.Is(err, docstore.ErrExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ProfileRepoDoc) ReleaseAggregation(ctx context.Context, marker string) error {
	err := r.store.Delete(ctx, markerCollection, marker)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	return err
}
