package sync

import (
	"context"

	"github.com/dentledger/dentledger/internal/platform/docstore"
)

const rosterCollection = "doctor_rosters"

// DoctorCalendar maps one doctor to the external calendar their bookings
// live on.
type DoctorCalendar struct {
	DoctorID   string `json:"doctorId"`
	Name       string `json:"name,omitempty"`
	CalendarID string `json:"calendarId"`
}

// Roster is a clinic's full doctor-to-calendar mapping, one document per
// clinic.
type Roster struct {
	ClinicID string           `json:"clinicId"`
	Doctors  []DoctorCalendar `json:"doctors"`
}

// RosterRepository persists clinic rosters.
type RosterRepository interface {
	Get(ctx context.Context, clinicID string) (*Roster, error)
	Set(ctx context.Context, r *Roster) error
}

type RosterRepoDoc struct {
	store docstore.Store
}

func NewRosterRepoDoc(store docstore.Store) *RosterRepoDoc {
	return &RosterRepoDoc{store: store}
}

func (r *RosterRepoDoc) Get(ctx context.Context, clinicID string) (*Roster, error) {
	doc, err := r.store.Get(ctx, rosterCollection, clinicID)
	if err != nil {
		return nil, err
	}
	var out Roster
	if err := docstore.Decode(doc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *RosterRepoDoc) Set(ctx context.Context, roster *Roster) error {
	doc, err := docstore.Encode(roster)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, rosterCollection, roster.ClinicID, doc)
}
