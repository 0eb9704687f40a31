package clinic

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newBookingFixture(t *testing.T) (*BookingService, *memRepo, SlotKey, uuid.UUID) {
	t.Helper()
	repo := newMemRepo()
	clinicID := uuid.New()
	doctorID := addDoctor(t, repo, clinicID, "Dr. Jones", "Cardiology")
	addSlot(repo, doctorID, clinicID, "2026-09-01", "09:00", "09:30")

	svc := NewBookingService(repo, repo, newTryLocker(), zerolog.Nop())
	key := SlotKey{DoctorID: doctorID, VisitDate: "2026-09-01", StartTime: "09:00"}
	return svc, repo, key, clinicID
}

func TestBookCreatesPlannedAppointment(t *testing.T) {
	svc, repo, key, clinicID := newBookingFixture(t)
	patient := uuid.New()

	appt, err := svc.Book(context.Background(), BookingRequest{
		PatientID: patient,
		DoctorID:  key.DoctorID,
		ClinicID:  clinicID,
		VisitDate: key.VisitDate,
		StartTime: key.StartTime,
		Complaint: "headache",
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if appt.Status != StatusPlanned {
		t.Errorf("status = %s, want PLANNED", appt.Status)
	}
	if appt.Complaint != "headache" {
		t.Errorf("complaint = %q", appt.Complaint)
	}

	stored, err := repo.ByKey(context.Background(), key)
	if err != nil {
		t.Fatalf("appointment not persisted: %v", err)
	}
	if stored.PatientID != patient {
		t.Errorf("patient = %s, want %s", stored.PatientID, patient)
	}
}

func TestBookRejectsIncompleteSelection(t *testing.T) {
	svc, _, key, clinicID := newBookingFixture(t)

	_, err := svc.Book(context.Background(), BookingRequest{
		PatientID: uuid.New(),
		DoctorID:  key.DoctorID,
		ClinicID:  clinicID,
		VisitDate: key.VisitDate,
		// StartTime missing
	})
	if !errors.Is(err, ErrIncompleteSelection) {
		t.Errorf("err = %v, want ErrIncompleteSelection", err)
	}
}

func TestBookRejectsUntemplatedSlot(t *testing.T) {
	svc, _, key, clinicID := newBookingFixture(t)

	_, err := svc.Book(context.Background(), BookingRequest{
		PatientID: uuid.New(),
		DoctorID:  key.DoctorID,
		ClinicID:  clinicID,
		VisitDate: key.VisitDate,
		StartTime: "23:00",
	})
	if !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("err = %v, want ErrSlotNotFound", err)
	}
}

func TestBookSameSlotTwice(t *testing.T) {
	svc, _, key, clinicID := newBookingFixture(t)

	req := BookingRequest{
		PatientID: uuid.New(),
		DoctorID:  key.DoctorID,
		ClinicID:  clinicID,
		VisitDate: key.VisitDate,
		StartTime: key.StartTime,
	}
	if _, err := svc.Book(context.Background(), req); err != nil {
		t.Fatalf("first Book: %v", err)
	}

	req.PatientID = uuid.New()
	_, err := svc.Book(context.Background(), req)
	if !errors.Is(err, ErrSlotTaken) {
		t.Errorf("second Book err = %v, want ErrSlotTaken", err)
	}
}

// Two patients race for the same slot: exactly one wins, the loser gets a
// typed conflict it can be redirected on.
func TestBookConcurrentSameSlot(t *testing.T) {
	svc, repo, key, clinicID := newBookingFixture(t)

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Book(context.Background(), BookingRequest{
				PatientID: uuid.New(),
				DoctorID:  key.DoctorID,
				ClinicID:  clinicID,
				VisitDate: key.VisitDate,
				StartTime: key.StartTime,
			})
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotTaken), errors.Is(err, ErrSlotBeingBooked):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}

	appts, _ := repo.ByDoctorsInRange(context.Background(), []uuid.UUID{key.DoctorID}, key.VisitDate, key.VisitDate)
	if len(appts) != 1 {
		t.Errorf("persisted appointments = %d, want 1", len(appts))
	}
}

func TestCancelOwnerOnly(t *testing.T) {
	svc, _, key, clinicID := newBookingFixture(t)
	owner := uuid.New()

	appt, err := svc.Book(context.Background(), BookingRequest{
		PatientID: owner,
		DoctorID:  key.DoctorID,
		ClinicID:  clinicID,
		VisitDate: key.VisitDate,
		StartTime: key.StartTime,
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	if _, err := svc.Cancel(context.Background(), appt.ID, uuid.New()); !errors.Is(err, ErrNotOwner) {
		t.Errorf("stranger cancel err = %v, want ErrNotOwner", err)
	}

	cancelled, err := svc.Cancel(context.Background(), appt.ID, owner)
	if err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	if cancelled.ID != appt.ID {
		t.Errorf("cancelled id = %s, want %s", cancelled.ID, appt.ID)
	}

	if _, err := svc.Cancel(context.Background(), appt.ID, owner); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("double cancel err = %v, want ErrAppointmentNotFound", err)
	}
}

func TestCancelThenRebook(t *testing.T) {
	svc, _, key, clinicID := newBookingFixture(t)
	first := uuid.New()

	appt, err := svc.Book(context.Background(), BookingRequest{
		PatientID: first,
		DoctorID:  key.DoctorID,
		ClinicID:  clinicID,
		VisitDate: key.VisitDate,
		StartTime: key.StartTime,
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), appt.ID, first); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	second := uuid.New()
	rebooked, err := svc.Book(context.Background(), BookingRequest{
		PatientID: second,
		DoctorID:  key.DoctorID,
		ClinicID:  clinicID,
		VisitDate: key.VisitDate,
		StartTime: key.StartTime,
	})
	if err != nil {
		t.Fatalf("rebook after cancel: %v", err)
	}
	if rebooked.PatientID != second {
		t.Errorf("rebooked patient = %s, want %s", rebooked.PatientID, second)
	}
}
