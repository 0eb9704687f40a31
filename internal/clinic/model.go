package clinic

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Date and clock layouts used everywhere a slot time crosses a boundary:
// the database, the wizard menus, and user input all speak these exact forms.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type Role string

const (
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "DOCTOR"
	RoleAdmin   Role = "ADMIN"
	RoleRoot    Role = "ROOT"
)

type AppointmentStatus string

const (
	StatusPlanned   AppointmentStatus = "PLANNED"
	StatusCompleted AppointmentStatus = "COMPLETED"
)

// User covers every chat identity: patients self-register, doctors and admins
// are created or promoted through admin flows. A doctor added by an admin has
// no chat yet, so ChatID is nullable. Conversation holds the bot package's
// serialized per-user state; this package stores it opaquely and guards writes
// with ConversationVersion compare-and-swap.
type User struct {
	ID                  uuid.UUID
	ChatID              *int64
	Role                Role
	FullName            string
	Phone               string
	Specialization      string
	Conversation        json.RawMessage
	ConversationVersion int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin || u.Role == RoleRoot
}

type Clinic struct {
	ID        uuid.UUID
	Name      string
	Address   string
	CreatedAt time.Time
}

// ScheduleSlot is a potential opening generated from an admin schedule upload.
// Its existence does not imply availability; that is derived against the
// appointment ledger by (doctor, date, start time) value match.
type ScheduleSlot struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	ClinicID        uuid.UUID
	VisitDate       string // DateLayout
	StartTime       string // TimeLayout
	EndTime         string // TimeLayout
	DurationMinutes int
	CreatedAt       time.Time
}

// Appointment is a confirmed booking. It references its slot by value, not by
// id: a schedule re-upload does not touch existing appointments.
type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	ClinicID  uuid.UUID
	VisitDate string // DateLayout
	StartTime string // TimeLayout
	Complaint string
	Status    AppointmentStatus
	CreatedAt time.Time
}

// SlotKey is the composite identity availability is computed on.
type SlotKey struct {
	DoctorID  uuid.UUID
	VisitDate string
	StartTime string
}

func (s ScheduleSlot) Key() SlotKey {
	return SlotKey{DoctorID: s.DoctorID, VisitDate: s.VisitDate, StartTime: s.StartTime}
}

func (a Appointment) Key() SlotKey {
	return SlotKey{DoctorID: a.DoctorID, VisitDate: a.VisitDate, StartTime: a.StartTime}
}
