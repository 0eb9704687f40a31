package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinicdesk/clinicbot/internal/clinic"
)

// handleWizard routes to the handler for the exact step the user is in. Any
// step reached with input it cannot interpret re-prompts with the state
// unchanged; only valid input advances.
func (d *Dispatcher) handleWizard(ctx context.Context, s *session, ev Event) ([]Reply, error) {
	switch w := s.state.Wizard.(type) {
	case *SelectingClinic:
		return d.stepSelectClinic(ctx, s, ev)
	case *SelectingSpecialization:
		return d.stepSelectSpecialization(ctx, s, ev, w)
	case *SelectingDoctor:
		return d.stepSelectDoctor(ctx, s, ev, w)
	case *SelectingDay:
		return d.stepSelectDay(ctx, s, ev, w)
	case *SelectingTime:
		return d.stepSelectTime(ctx, s, ev, w)
	case *EnteringComplaint:
		return d.stepEnterComplaint(ctx, s, ev, w)
	case *ConfirmingAppointment:
		return d.stepConfirmAppointment(ctx, s, ev, w)

	case *ManagingDoctors:
		return d.stepManagingDoctors(ctx, s, ev)
	case *AddingDoctorPhone:
		return d.stepAddDoctorPhone(ctx, s, ev)
	case *AddingDoctorName:
		return d.stepAddDoctorName(ctx, s, ev, w)
	case *AddingDoctorSpecialization:
		return d.stepAddDoctorSpecialization(ctx, s, ev, w)
	case *AddingDoctorClinics:
		return d.stepAddDoctorClinics(ctx, s, ev, w)
	case *ChoosingDoctorToEdit:
		return d.stepChooseDoctorToEdit(ctx, s, ev)
	case *EditingDoctor:
		return d.stepEditDoctor(ctx, s, ev, w)
	case *EditingDoctorName:
		return d.stepEditDoctorField(ctx, s, ev, w.DoctorID, optFieldName)
	case *EditingDoctorPhone:
		return d.stepEditDoctorField(ctx, s, ev, w.DoctorID, optFieldPhone)
	case *EditingDoctorSpecialization:
		return d.stepEditDoctorField(ctx, s, ev, w.DoctorID, optFieldSpecialization)
	case *ChoosingDoctorToDelete:
		return d.stepChooseDoctorToDelete(ctx, s, ev)
	case *ConfirmingDoctorDelete:
		return d.stepConfirmDoctorDelete(ctx, s, ev, w)
	case *ManagingClinics:
		return d.stepManagingClinics(ctx, s, ev)
	case *AddingClinicName:
		return d.stepAddClinicName(ctx, s, ev)
	case *AddingClinicAddress:
		return d.stepAddClinicAddress(ctx, s, ev, w)
	case *PromotingAdmin:
		return d.stepPromoteAdmin(ctx, s, ev)

	default:
		d.log.Warn().Int64("chat_id", ev.ChatID).Msg("unknown wizard state, resetting")
		s.state.Reset()
		return []Reply{d.mainMenu(s.user)}, nil
	}
}

// Booking wizard

func (d *Dispatcher) startBooking(ctx context.Context, s *session, _ Event) ([]Reply, error) {
	clinics, err := d.clinics.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clinics: %w", err)
	}
	if len(clinics) == 0 {
		return []Reply{
			textReply("There are no clinics to book with yet. Please check back later."),
			d.mainMenu(s.user),
		}, nil
	}

	s.state.Wizard = &SelectingClinic{}
	return []Reply{clinicMenu("Choose a clinic:", clinics)}, nil
}

func (d *Dispatcher) stepSelectClinic(ctx context.Context, s *session, ev Event) ([]Reply, error) {
	cl, err := d.clinics.ByName(ctx, strings.TrimSpace(ev.Text))
	if err != nil {
		if errors.Is(err, clinic.ErrClinicNotFound) {
			clinics, lerr := d.clinics.All(ctx)
			if lerr != nil {
				return nil, fmt.Errorf("list clinics: %w", lerr)
			}
			return []Reply{clinicMenu("Please pick a clinic from the list:", clinics)}, nil
		}
		return nil, fmt.Errorf("resolve clinic: %w", err)
	}

	from, to := d.horizon()
	specs, err := d.avail.Specializations(ctx, cl.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list specializations: %w", err)
	}
	if len(specs) == 0 {
		s.state.Reset()
		return []Reply{
			textReply("No schedules have been published for this clinic yet."),
			d.mainMenu(s.user),
		}, nil
	}

	s.state.Wizard = &SelectingSpecialization{ClinicID: cl.ID}
	return []Reply{specializationMenu(specs)}, nil
}

func (d *Dispatcher) stepSelectSpecialization(ctx context.Context, s *session, ev Event, w *SelectingSpecialization) ([]Reply, error) {
	from, to := d.horizon()
	specs, err := d.avail.Specializations(ctx, w.ClinicID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list specializations: %w", err)
	}
	if len(specs) == 0 {
		s.state.Reset()
		return []Reply{
			textReply("This clinic has no bookable schedules anymore."),
			d.mainMenu(s.user),
		}, nil
	}

	chosen := strings.TrimSuffix(strings.TrimSpace(ev.Text), fullyBookedMark)
	var found *clinic.SpecializationAvailability
	for i := range specs {
		if specs[i].Name == chosen {
			found = &specs[i]
			break
		}
	}
	if found == nil {
		return []Reply{specializationMenu(specs)}, nil
	}
	if !found.Free {
		r := specializationMenu(specs)
		r.Text = "No openings for " + found.Name + " right now. Choose another specialization:"
		return []Reply{r}, nil
	}

	doctors, err := d.avail.DoctorsWithFreeSlots(ctx, w.ClinicID, found.Name, from, to)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	if len(doctors) == 0 {
		r := specializationMenu(specs)
		r.Text = "That specialization just got fully booked. Choose another:"
		return []Reply{r}, nil
	}

	s.state.Wizard = &SelectingDoctor{ClinicID: w.ClinicID, Specialization: found.Name}
	return []Reply{doctorMenu(doctors)}, nil
}

func (d *Dispatcher) stepSelectDoctor(ctx context.Context, s *session, ev Event, w *SelectingDoctor) ([]Reply, error) {
	from, to := d.horizon()
	doctors, err := d.avail.DoctorsWithFreeSlots(ctx, w.ClinicID, w.Specialization, from, to)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	if len(doctors) == 0 {
		s.state.Reset()
		return []Reply{
			textReply("All " + w.Specialization + " doctors are booked out. Please try again later."),
			d.mainMenu(s.user),
		}, nil
	}

	var doctor *clinic.User
	for i := range doctors {
		if doctors[i].FullName == strings.TrimSpace(ev.Text) {
			doctor = &doctors[i]
			break
		}
	}
	if doctor == nil {
		return []Reply{doctorMenu(doctors)}, nil
	}

	days, err := d.avail.FreeDays(ctx, doctor.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list free days: %w", err)
	}
	if len(days) == 0 {
		r := doctorMenu(doctors)
		r.Text = doctor.FullName + " just got fully booked. Choose another doctor:"
		return []Reply{r}, nil
	}

	s.state.Wizard = &SelectingDay{ClinicID: w.ClinicID, DoctorID: doctor.ID}
	return []Reply{daysMenu(days)}, nil
}

func (d *Dispatcher) stepSelectDay(ctx context.Context, s *session, ev Event, w *SelectingDay) ([]Reply, error) {
	from, to := d.horizon()

	date := strings.TrimSpace(ev.Text)
	if _, err := time.Parse(clinic.DateLayout, date); err != nil {
		days, lerr := d.avail.FreeDays(ctx, w.DoctorID, from, to)
		if lerr != nil {
			return nil, fmt.Errorf("list free days: %w", lerr)
		}
		if len(days) == 0 {
			s.state.Reset()
			return []Reply{
				textReply("This doctor has no more openings. Please start over."),
				d.mainMenu(s.user),
			}, nil
		}
		return []Reply{daysMenu(days)}, nil
	}

	slots, err := d.avail.FreeSlots(ctx, w.DoctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list free slots: %w", err)
	}
	if len(slots) == 0 {
		days, lerr := d.avail.FreeDays(ctx, w.DoctorID, from, to)
		if lerr != nil {
			return nil, fmt.Errorf("list free days: %w", lerr)
		}
		if len(days) == 0 {
			s.state.Reset()
			return []Reply{
				textReply("This doctor has no more openings. Please start over."),
				d.mainMenu(s.user),
			}, nil
		}
		r := daysMenu(days)
		r.Text = "That day has no free times anymore. Pick another day:"
		return []Reply{r}, nil
	}

	s.state.Wizard = &SelectingTime{ClinicID: w.ClinicID, DoctorID: w.DoctorID, VisitDate: date}
	return []Reply{timesMenu(slots)}, nil
}

func (d *Dispatcher) stepSelectTime(ctx context.Context, s *session, ev Event, w *SelectingTime) ([]Reply, error) {
	// "Back to calendar" returns to day selection with the doctor kept.
	if strings.TrimSpace(ev.Text) == cmdBackToCalendar {
		from, to := d.horizon()
		days, err := d.avail.FreeDays(ctx, w.DoctorID, from, to)
		if err != nil {
			return nil, fmt.Errorf("list free days: %w", err)
		}
		s.state.Wizard = &SelectingDay{ClinicID: w.ClinicID, DoctorID: w.DoctorID}
		if len(days) == 0 {
			s.state.Reset()
			return []Reply{
				textReply("This doctor has no more openings."),
				d.mainMenu(s.user),
			}, nil
		}
		return []Reply{daysMenu(days)}, nil
	}

	slots, err := d.avail.FreeSlots(ctx, w.DoctorID, w.VisitDate)
	if err != nil {
		return nil, fmt.Errorf("list free slots: %w", err)
	}

	chosen := strings.TrimSpace(ev.Text)
	var match *clinic.ScheduleSlot
	for i := range slots {
		if slots[i].StartTime == chosen {
			match = &slots[i]
			break
		}
	}
	if match == nil {
		if len(slots) == 0 {
			s.state.Wizard = &SelectingDay{ClinicID: w.ClinicID, DoctorID: w.DoctorID}
			from, to := d.horizon()
			days, lerr := d.avail.FreeDays(ctx, w.DoctorID, from, to)
			if lerr != nil {
				return nil, fmt.Errorf("list free days: %w", lerr)
			}
			if len(days) == 0 {
				s.state.Reset()
				return []Reply{textReply("This doctor has no more openings."), d.mainMenu(s.user)}, nil
			}
			r := daysMenu(days)
			r.Text = "No free times left on that day. Pick another day:"
			return []Reply{r}, nil
		}
		r := timesMenu(slots)
		r.Text = "That time is not available. Pick one of these:"
		return []Reply{r}, nil
	}

	s.state.Wizard = &EnteringComplaint{
		ClinicID:  w.ClinicID,
		DoctorID:  w.DoctorID,
		VisitDate: w.VisitDate,
		StartTime: match.StartTime,
	}
	return []Reply{menuReply("Briefly describe your complaint, or skip:", cmdSkip, cmdMainMenu)}, nil
}

func (d *Dispatcher) stepEnterComplaint(ctx context.Context, s *session, ev Event, w *EnteringComplaint) ([]Reply, error) {
	complaint := strings.TrimSpace(ev.Text)
	if complaint == cmdSkip {
		complaint = ""
	} else if complaint == "" {
		return []Reply{menuReply("Briefly describe your complaint, or skip:", cmdSkip, cmdMainMenu)}, nil
	}

	next := &ConfirmingAppointment{
		ClinicID:  w.ClinicID,
		DoctorID:  w.DoctorID,
		VisitDate: w.VisitDate,
		StartTime: w.StartTime,
		Complaint: complaint,
	}

	summary, replies, err := d.confirmationSummary(ctx, s, next)
	if err != nil || replies != nil {
		return replies, err
	}

	s.state.Wizard = next
	return []Reply{summary}, nil
}

func (d *Dispatcher) stepConfirmAppointment(ctx context.Context, s *session, ev Event, w *ConfirmingAppointment) ([]Reply, error) {
	if strings.TrimSpace(ev.Text) != cmdConfirm {
		summary, replies, err := d.confirmationSummary(ctx, s, w)
		if err != nil || replies != nil {
			return replies, err
		}
		return []Reply{summary}, nil
	}

	appt, err := d.booking.Book(ctx, clinic.BookingRequest{
		PatientID: s.user.ID,
		DoctorID:  w.DoctorID,
		ClinicID:  w.ClinicID,
		VisitDate: w.VisitDate,
		StartTime: w.StartTime,
		Complaint: w.Complaint,
	})
	if err != nil {
		switch {
		case errors.Is(err, clinic.ErrSlotTaken), errors.Is(err, clinic.ErrSlotBeingBooked):
			// Lost the race; send the patient back to a refreshed time list.
			slots, lerr := d.avail.FreeSlots(ctx, w.DoctorID, w.VisitDate)
			if lerr != nil {
				return nil, fmt.Errorf("list free slots: %w", lerr)
			}
			s.state.Wizard = &SelectingTime{ClinicID: w.ClinicID, DoctorID: w.DoctorID, VisitDate: w.VisitDate}
			if len(slots) == 0 {
				s.state.Wizard = &SelectingDay{ClinicID: w.ClinicID, DoctorID: w.DoctorID}
				from, to := d.horizon()
				days, derr := d.avail.FreeDays(ctx, w.DoctorID, from, to)
				if derr != nil {
					return nil, fmt.Errorf("list free days: %w", derr)
				}
				if len(days) == 0 {
					s.state.Reset()
					return []Reply{textReply("Someone just took that time, and the doctor is now fully booked."), d.mainMenu(s.user)}, nil
				}
				r := daysMenu(days)
				r.Text = "Someone just took that time. Pick another day:"
				return []Reply{r}, nil
			}
			r := timesMenu(slots)
			r.Text = "Someone just took that time. Pick another:"
			return []Reply{r}, nil

		case errors.Is(err, clinic.ErrSlotNotFound):
			s.state.Reset()
			return []Reply{
				textReply("That time is no longer offered by the clinic. Please book again."),
				d.mainMenu(s.user),
			}, nil

		default:
			return nil, fmt.Errorf("book appointment: %w", err)
		}
	}

	s.state.Reset()
	return []Reply{
		textReply(fmt.Sprintf("Booked! Your appointment is on %s at %s. See you there.", appt.VisitDate, appt.StartTime)),
		d.mainMenu(s.user),
	}, nil
}

// confirmationSummary builds the confirm-step prompt. When a referenced
// clinic or doctor has vanished under stale scratch state it aborts the
// wizard and returns terminal replies instead.
func (d *Dispatcher) confirmationSummary(ctx context.Context, s *session, w *ConfirmingAppointment) (Reply, []Reply, error) {
	doctor, err := d.users.DoctorByID(ctx, w.DoctorID)
	if err != nil {
		if errors.Is(err, clinic.ErrDoctorNotFound) {
			s.state.Reset()
			return Reply{}, []Reply{
				textReply("That doctor is no longer available. Please book again."),
				d.mainMenu(s.user),
			}, nil
		}
		return Reply{}, nil, fmt.Errorf("load doctor: %w", err)
	}

	cl, err := d.clinics.ClinicByID(ctx, w.ClinicID)
	if err != nil {
		if errors.Is(err, clinic.ErrClinicNotFound) {
			s.state.Reset()
			return Reply{}, []Reply{
				textReply("That clinic is no longer available. Please book again."),
				d.mainMenu(s.user),
			}, nil
		}
		return Reply{}, nil, fmt.Errorf("load clinic: %w", err)
	}

	text := fmt.Sprintf("Please confirm your appointment:\n%s, %s\n%s at %s",
		doctor.FullName, cl.Name, w.VisitDate, w.StartTime)
	if w.Complaint != "" {
		text += "\nComplaint: " + w.Complaint
	}
	return menuReply(text, cmdConfirm, cmdMainMenu), nil, nil
}

// Menus

func clinicMenu(prompt string, clinics []clinic.Clinic) Reply {
	options := make([]string, 0, len(clinics)+1)
	for _, c := range clinics {
		options = append(options, c.Name)
	}
	options = append(options, cmdMainMenu)
	return menuReply(prompt, options...)
}

func specializationMenu(specs []clinic.SpecializationAvailability) Reply {
	options := make([]string, 0, len(specs)+1)
	for _, sp := range specs {
		label := sp.Name
		if !sp.Free {
			label += fullyBookedMark
		}
		options = append(options, label)
	}
	options = append(options, cmdMainMenu)
	return menuReply("Choose a specialization:", options...)
}

func doctorMenu(doctors []clinic.User) Reply {
	options := make([]string, 0, len(doctors)+1)
	for _, doc := range doctors {
		options = append(options, doc.FullName)
	}
	options = append(options, cmdMainMenu)
	return menuReply("Choose a doctor:", options...)
}

func daysMenu(days []string) Reply {
	options := make([]string, 0, len(days)+1)
	options = append(options, days...)
	options = append(options, cmdMainMenu)
	return menuReply("Choose a day:", options...)
}

func timesMenu(slots []clinic.ScheduleSlot) Reply {
	options := make([]string, 0, len(slots)+2)
	for _, s := range slots {
		options = append(options, s.StartTime)
	}
	options = append(options, cmdBackToCalendar, cmdMainMenu)
	return menuReply("Choose a time:", options...)
}
