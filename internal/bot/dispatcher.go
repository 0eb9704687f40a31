package bot

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicbot/internal/clinic"
	"github.com/clinicdesk/clinicbot/internal/schedule"
)

// Command labels. The transport renders these as keyboard buttons, so the
// strings double as the wire protocol for menu selections.
const (
	cmdStart          = "/start"
	cmdMainMenu       = "Main menu"
	cmdBook           = "Book appointment"
	cmdMyAppointments = "My appointments"
	cmdMySchedule     = "My schedule"
	cmdManageDoctors  = "Manage doctors"
	cmdManageClinics  = "Manage clinics"
	cmdUploadSchedule = "Upload schedule"
	cmdPromoteAdmin   = "Promote admin"
	cmdBackToCalendar = "Back to calendar"
	cmdConfirm        = "Confirm"
	cmdSkip           = "Skip"

	optListDoctors  = "List doctors"
	optAddDoctor    = "Add doctor"
	optEditDoctor   = "Edit doctor"
	optDeleteDoctor = "Delete doctor"
	optListClinics  = "List clinics"
	optAddClinic    = "Add clinic"

	optFieldName           = "Name"
	optFieldPhone          = "Phone"
	optFieldSpecialization = "Specialization"

	optSharePhone = "Share phone number"

	fullyBookedMark = " (fully booked)"
)

// Ports the decision logic depends on. Everything side-effecting sits behind
// one of these, so the state machine tests run against in-memory fakes.

type Booker interface {
	Book(ctx context.Context, req clinic.BookingRequest) (*clinic.Appointment, error)
	Cancel(ctx context.Context, appointmentID, patientID uuid.UUID) (*clinic.Appointment, error)
}

type AvailabilityResolver interface {
	FreeSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]clinic.ScheduleSlot, error)
	FreeDays(ctx context.Context, doctorID uuid.UUID, from, to string) ([]string, error)
	DoctorsWithFreeSlots(ctx context.Context, clinicID uuid.UUID, specialization, from, to string) ([]clinic.User, error)
	Specializations(ctx context.Context, clinicID uuid.UUID, from, to string) ([]clinic.SpecializationAvailability, error)
}

type ScheduleIngestor interface {
	Ingest(ctx context.Context, month string, rows []schedule.Row) (int, error)
}

// FileFetcher resolves an attachment id to its bytes; the transport gateway
// owns the actual download.
type FileFetcher interface {
	Fetch(ctx context.Context, fileID string) ([]byte, error)
}

type commandHandler func(ctx context.Context, s *session, ev Event) ([]Reply, error)

// session is one event's working set: the user record and the decoded
// conversation state, mutated in place by handlers and persisted by the
// engine afterwards.
type session struct {
	user         *clinic.User
	state        ConversationState
	profileDirty bool
}

type Dispatcher struct {
	users        clinic.UserRepository
	clinics      clinic.ClinicRepository
	appointments clinic.AppointmentRepository
	avail        AvailabilityResolver
	booking      Booker
	ingest       ScheduleIngestor
	files        FileFetcher
	horizonDays  int
	now          func() time.Time
	log          zerolog.Logger

	caps map[clinic.Role]map[string]commandHandler
}

type DispatcherConfig struct {
	Users        clinic.UserRepository
	Clinics      clinic.ClinicRepository
	Appointments clinic.AppointmentRepository
	Availability AvailabilityResolver
	Booking      Booker
	Ingest       ScheduleIngestor
	Files        FileFetcher
	HorizonDays  int
	Now          func() time.Time
	Logger       zerolog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		users:        cfg.Users,
		clinics:      cfg.Clinics,
		appointments: cfg.Appointments,
		avail:        cfg.Availability,
		booking:      cfg.Booking,
		ingest:       cfg.Ingest,
		files:        cfg.Files,
		horizonDays:  cfg.HorizonDays,
		now:          cfg.Now,
		log:          cfg.Logger.With().Str("component", "dispatcher").Logger(),
	}
	if d.horizonDays <= 0 {
		d.horizonDays = 30
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.buildCapabilities()
	return d
}

// buildCapabilities assembles the role capability tables: each wider role
// merges the narrower role's commands instead of falling through to it at
// dispatch time.
func (d *Dispatcher) buildCapabilities() {
	patient := map[string]commandHandler{
		cmdBook:           d.startBooking,
		cmdMyAppointments: d.listMyAppointments,
	}

	doctor := merge(patient, map[string]commandHandler{
		cmdMySchedule: d.showMySchedule,
	})

	admin := merge(doctor, map[string]commandHandler{
		cmdManageDoctors:  d.startManagingDoctors,
		cmdManageClinics:  d.startManagingClinics,
		cmdUploadSchedule: d.startScheduleUpload,
	})

	root := merge(admin, map[string]commandHandler{
		cmdPromoteAdmin: d.startPromotingAdmin,
	})

	d.caps = map[clinic.Role]map[string]commandHandler{
		clinic.RolePatient: patient,
		clinic.RoleDoctor:  doctor,
		clinic.RoleAdmin:   admin,
		clinic.RoleRoot:    root,
	}
}

func merge(base, extra map[string]commandHandler) map[string]commandHandler {
	out := make(map[string]commandHandler, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Dispatch routes one event by the strict axis priority: registration, then
// the admin upload axis, then global interrupt, then callbacks, then the
// wizard axis, then the role's command table.
func (d *Dispatcher) Dispatch(ctx context.Context, s *session, ev Event) ([]Reply, error) {
	if s.state.Registration != StepCompleted {
		return d.handleRegistration(ctx, s, ev)
	}

	if ev.Text == cmdStart || ev.Text == cmdMainMenu {
		s.state.Reset()
		return []Reply{d.mainMenu(s.user)}, nil
	}

	if s.state.Upload != nil {
		if s.user.IsAdmin() {
			return d.handleUpload(ctx, s, ev)
		}
		// Role was demoted mid-upload; drop the stale axis.
		s.state.Upload = nil
	}

	if ev.Callback != "" {
		return d.handleCallback(ctx, s, ev)
	}

	if s.state.Wizard != nil {
		return d.handleWizard(ctx, s, ev)
	}

	caps, ok := d.caps[s.user.Role]
	if !ok {
		caps = d.caps[clinic.RolePatient]
	}
	if h, ok := caps[ev.Text]; ok {
		return h(ctx, s, ev)
	}

	return []Reply{d.mainMenu(s.user)}, nil
}

func (d *Dispatcher) mainMenu(u *clinic.User) Reply {
	options := []string{cmdBook, cmdMyAppointments}
	switch u.Role {
	case clinic.RoleDoctor:
		options = append(options, cmdMySchedule)
	case clinic.RoleAdmin:
		options = append(options, cmdMySchedule, cmdManageDoctors, cmdManageClinics, cmdUploadSchedule)
	case clinic.RoleRoot:
		options = append(options, cmdMySchedule, cmdManageDoctors, cmdManageClinics, cmdUploadSchedule, cmdPromoteAdmin)
	}
	return menuReply("Choose an action:", options...)
}

// horizon returns the availability window [today, today+horizonDays].
func (d *Dispatcher) horizon() (from, to string) {
	today := d.now()
	return today.Format(clinic.DateLayout), today.AddDate(0, 0, d.horizonDays).Format(clinic.DateLayout)
}
