package patient

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dentledger/dentledger/internal/platform/docstore"
)

func newTestService() (*Service, *ProfileRepoDoc) {
	repo := NewProfileRepoDoc(docstore.NewMemoryStore())
	return NewService(repo, zerolog.Nop()), repo
}

func TestResolve_BlankNameIsInvalid(t *testing.T) {
	svc, _ := newTestService()
	for _, name := range []string{"", "   ", "\t"} {
		if _, err := svc.Resolve(context.Background(), "c1", name, "0912345"); !errors.Is(err, ErrInvalidIdentity) {
			t.Errorf("Resolve(%q): got %v, want ErrInvalidIdentity", name, err)
		}
	}
}

func TestResolve_CreatesAndReuses(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	p, err := svc.Resolve(ctx, "c1", "王小明", "0912345")
	if err != nil {
		t.Fatal(err)
	}
	if p.ChartID != "0912345" {
		t.Errorf("chart id = %q", p.ChartID)
	}

	again, err := svc.Resolve(ctx, "c1", "王小明", "0912345")
	if err != nil {
		t.Fatal(err)
	}
	if again.Key() != p.Key() {
		t.Errorf("second resolve produced a different key")
	}

	all, _ := repo.ListByClinic(ctx, "c1")
	if len(all) != 1 {
		t.Errorf("profiles = %d, want 1", len(all))
	}
}

func TestResolve_SentinelWhenChartUnknown(t *testing.T) {
	svc, _ := newTestService()
	p, err := svc.Resolve(context.Background(), "c1", "王小明", "")
	if err != nil {
		t.Fatal(err)
	}
	if p.ChartID != ChartIDSentinel {
		t.Errorf("chart id = %q, want %q", p.ChartID, ChartIDSentinel)
	}
}

func TestResolve_NameFallbackMigratesProvisionalProfile(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	// A prospect visit created a provisional profile with spending history.
	provisional, err := svc.Resolve(ctx, "c1", "王小明", "")
	if err != nil {
		t.Fatal(err)
	}
	provisional.TotalSpending = 800
	provisional.VisitHistory = []VisitRecord{{RowID: "r1", Date: "2024-01-03", Amount: 800}}
	if err := repo.Set(ctx, provisional); err != nil {
		t.Fatal(err)
	}

	// The chart id is learned at the next visit: the provisional profile
	// must be migrated rather than duplicated.
	p, err := svc.Resolve(ctx, "c1", "王小明", "0912345")
	if err != nil {
		t.Fatal(err)
	}
	if p.ChartID != "0912345" {
		t.Errorf("chart id = %q", p.ChartID)
	}
	if p.TotalSpending != 800 || len(p.VisitHistory) != 1 {
		t.Errorf("migration lost data: %+v", p)
	}

	all, _ := repo.ListByClinic(ctx, "c1")
	if len(all) != 1 {
		t.Fatalf("profiles = %d, want 1 after migration", len(all))
	}
	if _, err := repo.Get(ctx, NewIdentityKey("c1", "王小明", "")); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("provisional profile still exists")
	}
}

func TestResolve_DoesNotAbsorbConfirmedChartProfile(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	// Two distinct patients can share a name; the first already has a
	// confirmed chart id and years of history.
	first := &Profile{
		ClinicID: "c1", ChartID: "1234", Name: "王小明",
		TotalSpending: 9000,
		VisitHistory:  []VisitRecord{{RowID: "r1", Date: "2024-01-02", Amount: 9000}},
	}
	if err := repo.Set(ctx, first); err != nil {
		t.Fatal(err)
	}

	// Resolving the second patient's chart id must create a new profile,
	// never fold the first patient into it.
	p, err := svc.Resolve(ctx, "c1", "王小明", "0005678")
	if err != nil {
		t.Fatal(err)
	}
	if p.ChartID != "0005678" {
		t.Errorf("chart id = %q", p.ChartID)
	}
	if p.TotalSpending != 0 || len(p.VisitHistory) != 0 {
		t.Errorf("new profile absorbed the namesake's history: %+v", p)
	}

	got, err := repo.Get(ctx, NewIdentityKey("c1", "王小明", "1234"))
	if err != nil {
		t.Fatalf("namesake's confirmed profile gone: %v", err)
	}
	if got.TotalSpending != 9000 {
		t.Errorf("namesake's total = %v, want 9000", got.TotalSpending)
	}
	all, _ := repo.ListByClinic(ctx, "c1")
	if len(all) != 2 {
		t.Errorf("profiles = %d, want 2", len(all))
	}
}

func TestMerge_Lossless(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	source := &Profile{
		ClinicID: "c1", ChartID: ChartIDSentinel, Name: "王小明",
		TotalSpending: 1000,
		LastVisitDate: "2024-01-10",
		VisitHistory: []VisitRecord{
			{RowID: "a", Date: "2024-01-05", Amount: 400},
			{RowID: "b", Date: "2024-01-10", Amount: 600},
		},
		Categories:      []string{"whitening"},
		PastConsultants: []string{"dr-lee"},
	}
	target := &Profile{
		ClinicID: "c1", ChartID: "0912345", Name: "王小明",
		TotalSpending: 2000,
		LastVisitDate: "2024-02-01",
		VisitHistory: []VisitRecord{
			{RowID: "c", Date: "2024-01-20", Amount: 500},
			{RowID: "d", Date: "2024-01-25", Amount: 500},
			{RowID: "e", Date: "2024-02-01", Amount: 1000},
		},
		Categories:      []string{"ortho"},
		PastConsultants: []string{"dr-wu"},
	}
	if err := repo.Set(ctx, source); err != nil {
		t.Fatal(err)
	}
	if err := repo.Set(ctx, target); err != nil {
		t.Fatal(err)
	}

	merged, err := svc.Merge(ctx, source.Key(), "0912345")
	if err != nil {
		t.Fatal(err)
	}
	if merged.TotalSpending != 3000 {
		t.Errorf("total = %v, want 3000", merged.TotalSpending)
	}
	if len(merged.VisitHistory) != 5 {
		t.Errorf("visit history = %d entries, want 5", len(merged.VisitHistory))
	}
	if merged.LastVisitDate != "2024-02-01" {
		t.Errorf("last visit = %q, want max of the two", merged.LastVisitDate)
	}
	if len(merged.Categories) != 2 || len(merged.PastConsultants) != 2 {
		t.Errorf("sets not unioned: %+v", merged)
	}

	all, _ := repo.ListByClinic(ctx, "c1")
	if len(all) != 1 {
		t.Errorf("profiles = %d, want exactly 1 after merge", len(all))
	}
}

func TestMerge_TwiceIsIdempotent(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	source := &Profile{ClinicID: "c1", ChartID: ChartIDSentinel, Name: "王小明", TotalSpending: 1000}
	if err := repo.Set(ctx, source); err != nil {
		t.Fatal(err)
	}

	first, err := svc.Merge(ctx, source.Key(), "0912345")
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Merge(ctx, source.Key(), "0912345")
	if err != nil {
		t.Fatal(err)
	}
	if second.TotalSpending != first.TotalSpending {
		t.Errorf("second merge changed total: %v -> %v", first.TotalSpending, second.TotalSpending)
	}
}

func TestMerge_SelfIsNoOp(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	p := &Profile{ClinicID: "c1", ChartID: "0912345", Name: "王小明", TotalSpending: 700}
	if err := repo.Set(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, err := svc.Merge(ctx, p.Key(), "0912345")
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalSpending != 700 {
		t.Errorf("self-merge changed the profile: %+v", got)
	}
}

func TestApplyVisitGroup_AggregatesOnce(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	group := VisitGroup{
		Name:        "王小明",
		ChartID:     "0912345",
		Date:        "2024-01-05",
		TotalAmount: 1500,
		Visits: []VisitRecord{
			{RowID: "r1", Date: "2024-01-05", DoctorID: "dr-wu", Note: "矯正", Amount: 1000},
			{RowID: "r2", Date: "2024-01-05", DoctorID: "dr-wu", Note: "洗牙", Amount: 500},
		},
		Categories: []string{"ortho", "cleaning"},
		Consultant: "dr-wu",
	}

	if err := svc.ApplyVisitGroup(ctx, "lock-1", "c1", group); err != nil {
		t.Fatal(err)
	}
	p, err := repo.Get(ctx, NewIdentityKey("c1", "王小明", "0912345"))
	if err != nil {
		t.Fatal(err)
	}
	if p.TotalSpending != 1500 {
		t.Errorf("total = %v, want 1500", p.TotalSpending)
	}
	if len(p.VisitHistory) != 2 {
		t.Errorf("history = %d entries, want 2", len(p.VisitHistory))
	}
	if p.LastVisitDate != "2024-01-05" || p.LastConsultant != "dr-wu" {
		t.Errorf("summary not advanced: %+v", p)
	}

	// Re-running the same lock event must not double-count.
	if err := svc.ApplyVisitGroup(ctx, "lock-1", "c1", group); err != nil {
		t.Fatal(err)
	}
	p, _ = repo.Get(ctx, NewIdentityKey("c1", "王小明", "0912345"))
	if p.TotalSpending != 1500 {
		t.Errorf("retried lock double-counted: total = %v", p.TotalSpending)
	}
	if len(p.VisitHistory) != 2 {
		t.Errorf("retried lock duplicated visits: %d", len(p.VisitHistory))
	}
}

// flakyProfileRepo fails a configurable number of AddSpending calls to model
// a transient store outage mid-aggregation.
type flakyProfileRepo struct {
	*ProfileRepoDoc
	spendFailures int
}

func (r *flakyProfileRepo) AddSpending(ctx context.Context, key IdentityKey, amount float64) error {
	if r.spendFailures > 0 {
		r.spendFailures--
		return errors.New("store unavailable")
	}
	return r.ProfileRepoDoc.AddSpending(ctx, key, amount)
}

func TestApplyVisitGroup_RetryAfterFailureStillApplies(t *testing.T) {
	base := NewProfileRepoDoc(docstore.NewMemoryStore())
	repo := &flakyProfileRepo{ProfileRepoDoc: base, spendFailures: 1}
	svc := NewService(repo, zerolog.Nop())
	ctx := context.Background()

	group := VisitGroup{
		Name:        "王小明",
		ChartID:     "0912345",
		Date:        "2024-01-05",
		TotalAmount: 1500,
		Visits: []VisitRecord{
			{RowID: "r1", Date: "2024-01-05", DoctorID: "dr-wu", Amount: 1000},
			{RowID: "r2", Date: "2024-01-05", DoctorID: "dr-wu", Amount: 500},
		},
	}

	if err := svc.ApplyVisitGroup(ctx, "lock-1", "c1", group); err == nil {
		t.Fatal("apply succeeded despite the failing increment")
	}

	// The failure must release the marker so the same lock event can be
	// re-applied, not be skipped as already done.
	if err := svc.ApplyVisitGroup(ctx, "lock-1", "c1", group); err != nil {
		t.Fatalf("retry: %v", err)
	}
	key := NewIdentityKey("c1", "王小明", "0912345")
	p, err := base.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if p.TotalSpending != 1500 {
		t.Errorf("total = %v after retry, want 1500", p.TotalSpending)
	}
	if len(p.VisitHistory) != 2 {
		t.Errorf("history = %d entries after retry, want 2", len(p.VisitHistory))
	}

	// Once applied, the marker holds and further retries are no-ops.
	if err := svc.ApplyVisitGroup(ctx, "lock-1", "c1", group); err != nil {
		t.Fatal(err)
	}
	p, _ = base.Get(ctx, key)
	if p.TotalSpending != 1500 {
		t.Errorf("successful retry double-counted: total = %v", p.TotalSpending)
	}
}

func TestApplyVisitGroup_BlankNameRejected(t *testing.T) {
	svc, _ := newTestService()
	err := svc.ApplyVisitGroup(context.Background(), "lock-1", "c1", VisitGroup{Name: " "})
	if !errors.Is(err, ErrInvalidIdentity) {
		t.Errorf("got %v, want ErrInvalidIdentity", err)
	}
}
