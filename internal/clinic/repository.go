package clinic

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrClinicNotFound      = errors.New("clinic not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrSlotNotFound        = errors.New("schedule slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotTaken           = errors.New("slot already booked")
	ErrClinicExists        = errors.New("clinic name already exists")
	ErrStateConflict       = errors.New("conversation state changed concurrently")
)

// UserRepository persists users and their conversation state. Conversation
// saves are versioned: a save with a stale expected version fails with
// ErrStateConflict so two interleaved events can never both apply.
type UserRepository interface {
	ByChatID(ctx context.Context, chatID int64) (*User, error)
	ByID(ctx context.Context, id uuid.UUID) (*User, error)
	ByPhone(ctx context.Context, phone string) (*User, error)
	Create(ctx context.Context, u *User) error
	SaveProfile(ctx context.Context, u *User) error
	SaveConversation(ctx context.Context, id uuid.UUID, conv json.RawMessage, expectedVersion int) (newVersion int, err error)

	DoctorsByClinic(ctx context.Context, clinicID uuid.UUID) ([]User, error)
	DoctorByID(ctx context.Context, id uuid.UUID) (*User, error)
	DoctorsAll(ctx context.Context) ([]User, error)
	DeleteDoctor(ctx context.Context, id uuid.UUID) error
	SetDoctorClinics(ctx context.Context, doctorID uuid.UUID, clinicIDs []uuid.UUID) error
}

type ClinicRepository interface {
	All(ctx context.Context) ([]Clinic, error)
	ByName(ctx context.Context, name string) (*Clinic, error)
	ClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
	CreateClinic(ctx context.Context, c *Clinic) error
}

// ScheduleRepository holds the slot template. ReplaceRange is the ingestion
// commit: within one transaction it deletes the previously templated slots for
// each (doctor, date range) and inserts the new batch, all or nothing.
type ScheduleRepository interface {
	SlotsForDay(ctx context.Context, doctorID uuid.UUID, date string) ([]ScheduleSlot, error)
	SlotsInRange(ctx context.Context, doctorID uuid.UUID, from, to string) ([]ScheduleSlot, error)
	SlotsForDoctors(ctx context.Context, doctorIDs []uuid.UUID, from, to string) ([]ScheduleSlot, error)
	SlotExists(ctx context.Context, key SlotKey) (bool, error)
	ReplaceRange(ctx context.Context, doctorIDs []uuid.UUID, from, to string, slots []ScheduleSlot) error
}

type AppointmentRepository interface {
	// CreateAppointment fails with ErrSlotTaken when another appointment
	// already holds the same (doctor, date, start time); the table's unique
	// constraint is the authority, not a prior read.
	CreateAppointment(ctx context.Context, a *Appointment) error
	AppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	ByPatient(ctx context.Context, patientID uuid.UUID, status AppointmentStatus) ([]Appointment, error)
	ByDoctorsInRange(ctx context.Context, doctorIDs []uuid.UUID, from, to string) ([]Appointment, error)
	ByKey(ctx context.Context, key SlotKey) (*Appointment, error)
	CompletePast(ctx context.Context, beforeDate, beforeTime string) (int64, error)
}
