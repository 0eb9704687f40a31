package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicbot/internal/clinic"
)

func (d *Dispatcher) listMyAppointments(ctx context.Context, s *session, _ Event) ([]Reply, error) {
	appts, err := d.appointments.ByPatient(ctx, s.user.ID, clinic.StatusPlanned)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	if len(appts) == 0 {
		return []Reply{
			textReply("You have no upcoming appointments."),
			d.mainMenu(s.user),
		}, nil
	}

	replies := make([]Reply, 0, len(appts))
	for _, a := range appts {
		doctorName := "(doctor unavailable)"
		if doc, derr := d.users.DoctorByID(ctx, a.DoctorID); derr == nil {
			doctorName = doc.FullName
		}
		replies = append(replies, Reply{
			Text: fmt.Sprintf("%s at %s — %s", a.VisitDate, a.StartTime, doctorName),
			Inline: []InlineButton{
				{Label: "Cancel", Callback: cancelCallback(a.ID)},
			},
		})
	}
	return replies, nil
}

func (d *Dispatcher) showMySchedule(ctx context.Context, s *session, _ Event) ([]Reply, error) {
	from, to := d.horizon()
	appts, err := d.appointments.ByDoctorsInRange(ctx, []uuid.UUID{s.user.ID}, from, to)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	if len(appts) == 0 {
		return []Reply{
			textReply("No booked appointments in the next " + fmt.Sprint(d.horizonDays) + " days."),
			d.mainMenu(s.user),
		}, nil
	}

	var b strings.Builder
	b.WriteString("Your booked appointments:\n")
	for _, a := range appts {
		patientName := "(patient unavailable)"
		if p, perr := d.users.ByID(ctx, a.PatientID); perr == nil && p.FullName != "" {
			patientName = p.FullName
		}
		fmt.Fprintf(&b, "%s %s — %s", a.VisitDate, a.StartTime, patientName)
		if a.Complaint != "" {
			fmt.Fprintf(&b, " (%s)", a.Complaint)
		}
		b.WriteString("\n")
	}
	return []Reply{textReply(strings.TrimRight(b.String(), "\n")), d.mainMenu(s.user)}, nil
}

// handleCallback serves the two-step cancellation flow. Callbacks never touch
// the wizard axis: a stale button press must not corrupt an in-progress
// wizard.
func (d *Dispatcher) handleCallback(ctx context.Context, s *session, ev Event) ([]Reply, error) {
	action, id, ok := parseCallback(ev.Callback)
	if !ok {
		d.log.Warn().Str("callback", ev.Callback).Msg("unparseable callback key")
		return []Reply{d.mainMenu(s.user)}, nil
	}

	switch action {
	case "cancel":
		appt, err := d.appointments.AppointmentByID(ctx, id)
		if err != nil {
			if errors.Is(err, clinic.ErrAppointmentNotFound) {
				return []Reply{textReply("That appointment is already gone.")}, nil
			}
			return nil, fmt.Errorf("load appointment: %w", err)
		}
		if appt.PatientID != s.user.ID {
			return []Reply{textReply("You can only cancel your own appointments.")}, nil
		}
		return []Reply{{
			Text: fmt.Sprintf("Cancel your appointment on %s at %s?", appt.VisitDate, appt.StartTime),
			Inline: []InlineButton{
				{Label: "Yes, cancel", Callback: confirmCancelCallback(id)},
				{Label: "No, keep it", Callback: keepCallback(id)},
			},
		}}, nil

	case "confirm_cancel":
		appt, err := d.booking.Cancel(ctx, id, s.user.ID)
		if err != nil {
			switch {
			case errors.Is(err, clinic.ErrNotOwner):
				return []Reply{textReply("You can only cancel your own appointments.")}, nil
			case errors.Is(err, clinic.ErrAppointmentNotFound):
				return []Reply{textReply("That appointment is already gone.")}, nil
			default:
				return nil, fmt.Errorf("cancel appointment: %w", err)
			}
		}
		return []Reply{textReply(fmt.Sprintf("Your appointment on %s at %s is cancelled.", appt.VisitDate, appt.StartTime))}, nil

	case "keep":
		return []Reply{textReply("Your appointment is kept.")}, nil

	default:
		return []Reply{d.mainMenu(s.user)}, nil
	}
}
