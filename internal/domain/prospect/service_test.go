package prospect

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dentledger/dentledger/internal/platform/docstore"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewRepoDoc(docstore.NewMemoryStore()), zerolog.Nop())
}

func TestRecordKeySanitizesName(t *testing.T) {
	got := RecordKey("c1", "2026-03-10", "王 小/明")
	want := "c1_2026-03-10_王_小_明"
	if got != want {
		t.Errorf("key = %q, want %q", got, want)
	}
}

func TestUpsertEnforcesClosedImpliesVisited(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Upsert(ctx, Record{
		ClinicID:    "c1",
		Date:        "2026-03-10",
		PatientName: "新客",
		IsClosed:    true,
		IsVisited:   false,
		DealAmount:  50000,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !rec.IsVisited {
		t.Error("closed record not marked visited")
	}
	if rec.Lifecycle != LifecycleActive {
		t.Errorf("lifecycle = %q, want active", rec.Lifecycle)
	}

	// Same invariant on update of an existing record.
	rec, err = svc.Upsert(ctx, Record{
		ClinicID:    "c1",
		Date:        "2026-03-10",
		PatientName: "新客",
		IsClosed:    true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !rec.IsVisited {
		t.Error("closed update not marked visited")
	}
}

func TestUpsertRejectsBlankName(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Upsert(context.Background(), Record{ClinicID: "c1", Date: "2026-03-10", PatientName: "   "})
	if !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("err = %v, want ErrInvalidRecord", err)
	}
}

func TestHideExcludesFromListing(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	for _, name := range []string{"甲", "乙"} {
		if _, err := svc.Upsert(ctx, Record{ClinicID: "c1", Date: "2026-03-10", PatientName: name, MarketingTag: "ig"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.Hide(ctx, "c1", "2026-03-10", "甲"); err != nil {
		t.Fatalf("Hide: %v", err)
	}

	visible, err := svc.List(ctx, "c1", "2026-03-01", "2026-03-31", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 || visible[0].PatientName != "乙" {
		t.Errorf("visible = %+v", visible)
	}

	all, err := svc.List(ctx, "c1", "2026-03-01", "2026-03-31", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("includeHidden listing = %d records, want 2", len(all))
	}

	if _, err := svc.Hide(ctx, "c1", "2026-03-10", "丙"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("hiding unknown record: err = %v, want ErrNotFound", err)
	}
}

func TestListRangeBounds(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dates := []string{"2026-03-01", "2026-03-15", "2026-04-01"}
	for _, d := range dates {
		if _, err := svc.Upsert(ctx, Record{ClinicID: "c1", Date: d, PatientName: "客"}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := svc.List(ctx, "c1", "2026-03-01", "2026-03-31", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	if got[0].Date != "2026-03-01" || got[1].Date != "2026-03-15" {
		t.Errorf("dates = %s, %s", got[0].Date, got[1].Date)
	}
}

func TestRecordOutcomeStrengthensOnly(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Pre-registered by the operator with marketing fields.
	if _, err := svc.Upsert(ctx, Record{ClinicID: "c1", Date: "2026-03-10", PatientName: "新客", MarketingTag: "ig", SourceChannel: "referral"}); err != nil {
		t.Fatal(err)
	}

	if err := svc.RecordOutcome(ctx, "c1", "2026-03-10", "新客", true, 30000, "dr-chen"); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	rec, err := svc.repo.Get(ctx, "c1", "2026-03-10", "新客")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.IsVisited || rec.DealAmount != 30000 || rec.AssignedConsultant != "dr-chen" {
		t.Errorf("record = %+v", rec)
	}
	if rec.MarketingTag != "ig" || rec.SourceChannel != "referral" {
		t.Errorf("marketing fields clobbered: %+v", rec)
	}

	// A retried aggregation with a lower amount and visited=false cannot
	// regress the outcome.
	if err := svc.RecordOutcome(ctx, "c1", "2026-03-10", "新客", false, 10000, "dr-wu"); err != nil {
		t.Fatal(err)
	}
	rec, _ = svc.repo.Get(ctx, "c1", "2026-03-10", "新客")
	if !rec.IsVisited || rec.DealAmount != 30000 || rec.AssignedConsultant != "dr-chen" {
		t.Errorf("outcome regressed: %+v", rec)
	}
}

func TestRecordOutcomeCreatesUnregistered(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if err := svc.RecordOutcome(ctx, "c1", "2026-03-10", "路過客", true, 0, "dr-chen"); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	rec, err := svc.repo.Get(ctx, "c1", "2026-03-10", "路過客")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.IsVisited || rec.Lifecycle != LifecycleActive {
		t.Errorf("record = %+v", rec)
	}
}
