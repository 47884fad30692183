package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dentledger/dentledger/internal/domain/ledger"
	"github.com/dentledger/dentledger/internal/domain/patient"
	"github.com/dentledger/dentledger/internal/domain/prospect"
	"github.com/dentledger/dentledger/internal/platform/calendar"
	"github.com/dentledger/dentledger/internal/platform/docstore"
)

type fakeEventSource struct {
	events map[string][]calendar.Event
	errs   map[string]error
	calls  int
}

func (f *fakeEventSource) ListEvents(_ context.Context, calendarID string, _, _ time.Time) ([]calendar.Event, error) {
	f.calls++
	if err := f.errs[calendarID]; err != nil {
		return nil, err
	}
	return f.events[calendarID], nil
}

type fixture struct {
	svc      *Service
	ledgers  *ledger.Service
	profiles *patient.Service
	source   *fakeEventSource
}

func newFixture(t *testing.T, roster *Roster, source *fakeEventSource) *fixture {
	t.Helper()
	store := docstore.NewMemoryStore()
	profiles := patient.NewService(patient.NewProfileRepoDoc(store), zerolog.Nop())
	prospects := prospect.NewService(prospect.NewRepoDoc(store), zerolog.Nop())
	ledgers := ledger.NewService(ledger.NewRepoDoc(store), profiles, prospects, zerolog.Nop())
	svc := NewService(NewRosterRepoDoc(store), source, ledgers, profiles, time.UTC, zerolog.Nop())
	if roster != nil {
		if err := svc.SetRoster(context.Background(), roster); err != nil {
			t.Fatal(err)
		}
	}
	return &fixture{svc: svc, ledgers: ledgers, profiles: profiles, source: source}
}

func at(hour int) time.Time {
	return time.Date(2026, 3, 10, hour, 0, 0, 0, time.UTC)
}

func TestSyncBuildsRowsFromEvents(t *testing.T) {
	source := &fakeEventSource{events: map[string][]calendar.Event{
		"cal-chen": {
			{ID: "ev-2", Summary: "王小明-0912345-矯正", Start: at(14)},
			{ID: "ev-1", Summary: "0004321-李美-洗牙", Start: at(9)},
			{ID: "ev-3", Summary: "A+B-矯正", Start: at(10)},
			{ID: "ev-4", Summary: "休診", Start: at(0), AllDay: true},
		},
	}}
	f := newFixture(t, &Roster{ClinicID: "c1", Doctors: []DoctorCalendar{{DoctorID: "dr-chen", CalendarID: "cal-chen"}}}, source)

	res, err := f.svc.Sync(context.Background(), "c1", "2026-03-10")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Added != 2 || len(res.Warnings) != 0 {
		t.Fatalf("result = %+v, want 2 added", res)
	}

	l, _ := f.ledgers.GetDay(context.Background(), "c1", "2026-03-10")
	if len(l.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(l.Rows))
	}
	// Merged in start-time order.
	if l.Rows[0].ID != "ev-1" || l.Rows[1].ID != "ev-2" {
		t.Errorf("row order = %s, %s", l.Rows[0].ID, l.Rows[1].ID)
	}
	if l.Rows[0].PatientName != "李美" || l.Rows[0].ChartID != "0004321" || l.Rows[0].DoctorID != "dr-chen" {
		t.Errorf("row = %+v", l.Rows[0])
	}
	if l.Rows[1].ChartID != "0912345" || l.Rows[1].IsProspect {
		t.Errorf("parsed row = %+v", l.Rows[1])
	}

	// Identity resolution ran during ingestion.
	if _, err := f.profiles.Get(context.Background(), patient.NewIdentityKey("c1", "李美", "0004321")); err != nil {
		t.Errorf("profile not created: %v", err)
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	source := &fakeEventSource{events: map[string][]calendar.Event{
		"cal-chen": {
			{ID: "ev-1", Summary: "0004321-李美-洗牙", Start: at(9)},
			{ID: "ev-2", Summary: "王小明-洗牙", Start: at(10)},
		},
	}}
	f := newFixture(t, &Roster{ClinicID: "c1", Doctors: []DoctorCalendar{{DoctorID: "dr-chen", CalendarID: "cal-chen"}}}, source)
	ctx := context.Background()

	if _, err := f.svc.Sync(ctx, "c1", "2026-03-10"); err != nil {
		t.Fatal(err)
	}
	before, _ := f.ledgers.GetDay(ctx, "c1", "2026-03-10")

	res, err := f.svc.Sync(ctx, "c1", "2026-03-10")
	if err != nil {
		t.Fatal(err)
	}
	if res.Added != 0 {
		t.Errorf("second sync added %d rows, want 0", res.Added)
	}
	after, _ := f.ledgers.GetDay(ctx, "c1", "2026-03-10")
	if len(after.Rows) != len(before.Rows) {
		t.Fatalf("row count changed: %d -> %d", len(before.Rows), len(after.Rows))
	}
	for i := range before.Rows {
		if before.Rows[i] != after.Rows[i] {
			t.Errorf("row %d changed: %+v -> %+v", i, before.Rows[i], after.Rows[i])
		}
	}
}

func TestSyncIsolatesDoctorFailures(t *testing.T) {
	source := &fakeEventSource{
		events: map[string][]calendar.Event{
			"cal-chen": {{ID: "ev-1", Summary: "0004321-李美-洗牙", Start: at(9)}},
		},
		errs: map[string]error{"cal-wu": errors.New("gateway timeout")},
	}
	f := newFixture(t, &Roster{ClinicID: "c1", Doctors: []DoctorCalendar{
		{DoctorID: "dr-chen", CalendarID: "cal-chen"},
		{DoctorID: "dr-wu", CalendarID: "cal-wu"},
	}}, source)

	res, err := f.svc.Sync(context.Background(), "c1", "2026-03-10")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Added != 1 {
		t.Errorf("added = %d, want 1 despite the failed doctor", res.Added)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings = %v, want one for dr-wu", res.Warnings)
	}
}

func TestSyncWithoutRoster(t *testing.T) {
	f := newFixture(t, nil, &fakeEventSource{})
	if _, err := f.svc.Sync(context.Background(), "c1", "2026-03-10"); !errors.Is(err, ErrNoRoster) {
		t.Errorf("err = %v, want ErrNoRoster", err)
	}
}

func TestSyncRejectsBadDate(t *testing.T) {
	f := newFixture(t, &Roster{ClinicID: "c1", Doctors: []DoctorCalendar{{DoctorID: "d", CalendarID: "c"}}}, &fakeEventSource{})
	if _, err := f.svc.Sync(context.Background(), "c1", "10-03-2026"); err == nil {
		t.Error("invalid date accepted")
	}
}
