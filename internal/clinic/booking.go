package clinic

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicbot/internal/redisclient"
)

var (
	ErrIncompleteSelection = errors.New("booking selection is incomplete")
	ErrSlotBeingBooked     = errors.New("slot is currently being booked, please retry")
	ErrNotOwner            = errors.New("appointment belongs to another patient")
)

// BookingRequest is a fully selected wizard outcome. Every field except
// Complaint must be set.
type BookingRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	ClinicID  uuid.UUID
	VisitDate string
	StartTime string
	Complaint string
}

func (r BookingRequest) key() SlotKey {
	return SlotKey{DoctorID: r.DoctorID, VisitDate: r.VisitDate, StartTime: r.StartTime}
}

// BookingService turns a completed selection into a durable appointment, or
// refuses with a typed error. The slot lock sheds most races; the unique
// constraint on (doctor, visit_date, start_time) is the actual guarantee.
type BookingService struct {
	schedules    ScheduleRepository
	appointments AppointmentRepository
	locker       redisclient.Locker
	log          zerolog.Logger
}

func NewBookingService(schedules ScheduleRepository, appointments AppointmentRepository, locker redisclient.Locker, log zerolog.Logger) *BookingService {
	return &BookingService{
		schedules:    schedules,
		appointments: appointments,
		locker:       locker,
		log:          log.With().Str("component", "booking").Logger(),
	}
}

func (s *BookingService) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if req.PatientID == uuid.Nil || req.DoctorID == uuid.Nil || req.ClinicID == uuid.Nil ||
		req.VisitDate == "" || req.StartTime == "" {
		return nil, ErrIncompleteSelection
	}

	key := req.key()

	exists, err := s.schedules.SlotExists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("check slot template: %w", err)
	}
	if !exists {
		return nil, ErrSlotNotFound
	}

	var created *Appointment

	lockKey := fmt.Sprintf("slot:%s:%s:%s", key.DoctorID, key.VisitDate, key.StartTime)
	err = s.locker.WithLock(ctx, lockKey, func(lockCtx context.Context) error {
		// Re-check inside the critical section; the earlier availability
		// query the wizard showed the user is already stale.
		existing, err := s.appointments.ByKey(lockCtx, key)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check existing appointment: %w", err)
		}
		if existing != nil {
			return ErrSlotTaken
		}

		appt := &Appointment{
			PatientID: req.PatientID,
			DoctorID:  req.DoctorID,
			ClinicID:  req.ClinicID,
			VisitDate: req.VisitDate,
			StartTime: req.StartTime,
			Complaint: req.Complaint,
			Status:    StatusPlanned,
		}
		if err := s.appointments.CreateAppointment(lockCtx, appt); err != nil {
			return err
		}

		created = appt
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.log.Info().
		Stringer("appointment_id", created.ID).
		Stringer("doctor_id", req.DoctorID).
		Str("visit_date", req.VisitDate).
		Str("start_time", req.StartTime).
		Msg("appointment booked")

	return created, nil
}

// Cancel deletes the appointment if and only if it belongs to the requesting
// patient. A cross-user attempt is a permission failure, not a no-op.
func (s *BookingService) Cancel(ctx context.Context, appointmentID, patientID uuid.UUID) (*Appointment, error) {
	appt, err := s.appointments.AppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.PatientID != patientID {
		return nil, ErrNotOwner
	}

	if err := s.appointments.DeleteAppointment(ctx, appointmentID); err != nil {
		return nil, err
	}

	s.log.Info().
		Stringer("appointment_id", appointmentID).
		Stringer("patient_id", patientID).
		Msg("appointment cancelled")

	return appt, nil
}
