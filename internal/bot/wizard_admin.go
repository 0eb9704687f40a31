package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicbot/internal/clinic"
)

// Doctor management

func (d *Dispatcher) startManagingDoctors(_ context.Context, s *session, _ Event) ([]Reply, error) {
	s.state.Wizard = &ManagingDoctors{}
	return []Reply{doctorAdminMenu()}, nil
}

func (d *Dispatcher) stepManagingDoctors(ctx context.Context, s *session, ev Event) ([]Reply, error) {
	switch strings.TrimSpace(ev.Text) {
	case optListDoctors:
		doctors, err := d.users.DoctorsAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("list doctors: %w", err)
		}
		if len(doctors) == 0 {
			return []Reply{textReply("No doctors yet."), doctorAdminMenu()}, nil
		}
		var b strings.Builder
		for _, doc := range doctors {
			fmt.Fprintf(&b, "%s — %s", doc.FullName, doc.Specialization)
			if doc.Phone != "" {
				fmt.Fprintf(&b, " (%s)", doc.Phone)
			}
			b.WriteString("\n")
		}
		return []Reply{textReply(strings.TrimRight(b.String(), "\n")), doctorAdminMenu()}, nil

	case optAddDoctor:
		s.state.Wizard = &AddingDoctorPhone{}
		return []Reply{textReply("Enter the doctor's phone number:")}, nil

	case optEditDoctor:
		replies, doctors, err := d.requireDoctors(ctx)
		if err != nil || replies != nil {
			return replies, err
		}
		s.state.Wizard = &ChoosingDoctorToEdit{}
		return []Reply{doctorPickMenu("Which doctor do you want to edit?", doctors)}, nil

	case optDeleteDoctor:
		replies, doctors, err := d.requireDoctors(ctx)
		if err != nil || replies != nil {
			return replies, err
		}
		s.state.Wizard = &ChoosingDoctorToDelete{}
		return []Reply{doctorPickMenu("Which doctor do you want to remove?", doctors)}, nil

	default:
		return []Reply{doctorAdminMenu()}, nil
	}
}

func (d *Dispatcher) requireDoctors(ctx context.Context) ([]Reply, []clinic.User, error) {
	doctors, err := d.users.DoctorsAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list doctors: %w", err)
	}
	if len(doctors) == 0 {
		return []Reply{textReply("No doctors yet."), doctorAdminMenu()}, nil, nil
	}
	return nil, doctors, nil
}

func (d *Dispatcher) stepAddDoctorPhone(_ context.Context, s *session, ev Event) ([]Reply, error) {
	phone := strings.TrimSpace(ev.Text)
	if phone == "" {
		return []Reply{textReply("Enter the doctor's phone number:")}, nil
	}
	s.state.Wizard = &AddingDoctorName{Phone: phone}
	return []Reply{textReply("Enter the doctor's full name:")}, nil
}

func (d *Dispatcher) stepAddDoctorName(_ context.Context, s *session, ev Event, w *AddingDoctorName) ([]Reply, error) {
	name := strings.TrimSpace(ev.Text)
	if name == "" {
		return []Reply{textReply("Enter the doctor's full name:")}, nil
	}
	s.state.Wizard = &AddingDoctorSpecialization{Phone: w.Phone, FullName: name}
	return []Reply{textReply("Enter the doctor's specialization:")}, nil
}

func (d *Dispatcher) stepAddDoctorSpecialization(_ context.Context, s *session, ev Event, w *AddingDoctorSpecialization) ([]Reply, error) {
	spec := strings.TrimSpace(ev.Text)
	if spec == "" {
		return []Reply{textReply("Enter the doctor's specialization:")}, nil
	}
	s.state.Wizard = &AddingDoctorClinics{Phone: w.Phone, FullName: w.FullName, Specialization: spec}
	return []Reply{textReply("Which clinics does this doctor work at? Enter clinic names separated by commas:")}, nil
}

func (d *Dispatcher) stepAddDoctorClinics(ctx context.Context, s *session, ev Event, w *AddingDoctorClinics) ([]Reply, error) {
	names := splitCommaList(ev.Text)
	if len(names) == 0 {
		return []Reply{textReply("Enter clinic names separated by commas:")}, nil
	}

	ids, missing, err := d.resolveClinicNames(ctx, names)
	if err != nil {
		return nil, err
	}
	if missing != "" {
		return []Reply{textReply("Unknown clinic " + strconv.Quote(missing) + ". Enter clinic names separated by commas:")}, nil
	}

	doctor := &clinic.User{
		Role:           clinic.RoleDoctor,
		FullName:       w.FullName,
		Phone:          w.Phone,
		Specialization: w.Specialization,
	}
	if err := d.users.Create(ctx, doctor); err != nil {
		return nil, fmt.Errorf("create doctor: %w", err)
	}
	if err := d.users.SetDoctorClinics(ctx, doctor.ID, ids); err != nil {
		return nil, fmt.Errorf("link doctor clinics: %w", err)
	}

	s.state.Wizard = nil
	return []Reply{
		textReply("Doctor " + w.FullName + " added."),
		d.mainMenu(s.user),
	}, nil
}

func (d *Dispatcher) stepChooseDoctorToEdit(ctx context.Context, s *session, ev Event) ([]Reply, error) {
	replies, doctor, err := d.resolveDoctorByName(ctx, ev.Text, "Which doctor do you want to edit?")
	if err != nil || replies != nil {
		return replies, err
	}
	s.state.Wizard = &EditingDoctor{DoctorID: doctor.ID}
	return []Reply{editFieldMenu(doctor.FullName)}, nil
}

func (d *Dispatcher) stepEditDoctor(_ context.Context, s *session, ev Event, w *EditingDoctor) ([]Reply, error) {
	switch strings.TrimSpace(ev.Text) {
	case optFieldName:
		s.state.Wizard = &EditingDoctorName{DoctorID: w.DoctorID}
		return []Reply{textReply("Enter the new name:")}, nil
	case optFieldPhone:
		s.state.Wizard = &EditingDoctorPhone{DoctorID: w.DoctorID}
		return []Reply{textReply("Enter the new phone number:")}, nil
	case optFieldSpecialization:
		s.state.Wizard = &EditingDoctorSpecialization{DoctorID: w.DoctorID}
		return []Reply{textReply("Enter the new specialization:")}, nil
	default:
		return []Reply{menuReply("Pick a field to edit:", optFieldName, optFieldPhone, optFieldSpecialization, cmdMainMenu)}, nil
	}
}

func (d *Dispatcher) stepEditDoctorField(ctx context.Context, s *session, ev Event, doctorID uuid.UUID, field string) ([]Reply, error) {
	value := strings.TrimSpace(ev.Text)
	if value == "" {
		return []Reply{textReply("Enter the new " + strings.ToLower(field) + ":")}, nil
	}

	doctor, err := d.users.DoctorByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, clinic.ErrDoctorNotFound) {
			s.state.Wizard = &ManagingDoctors{}
			return []Reply{textReply("That doctor no longer exists."), doctorAdminMenu()}, nil
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	switch field {
	case optFieldName:
		doctor.FullName = value
	case optFieldPhone:
		doctor.Phone = value
	case optFieldSpecialization:
		doctor.Specialization = value
	}

	if err := d.users.SaveProfile(ctx, doctor); err != nil {
		if errors.Is(err, clinic.ErrUserNotFound) {
			s.state.Wizard = &ManagingDoctors{}
			return []Reply{textReply("That doctor no longer exists."), doctorAdminMenu()}, nil
		}
		return nil, fmt.Errorf("save doctor: %w", err)
	}

	s.state.Wizard = nil
	return []Reply{
		textReply("Updated " + strings.ToLower(field) + " for " + doctor.FullName + "."),
		d.mainMenu(s.user),
	}, nil
}

func (d *Dispatcher) stepChooseDoctorToDelete(ctx context.Context, s *session, ev Event) ([]Reply, error) {
	replies, doctor, err := d.resolveDoctorByName(ctx, ev.Text, "Which doctor do you want to remove?")
	if err != nil || replies != nil {
		return replies, err
	}
	s.state.Wizard = &ConfirmingDoctorDelete{DoctorID: doctor.ID}
	return []Reply{menuReply(
		"Remove "+doctor.FullName+"? Their published schedule will stop being offered.",
		cmdConfirm, cmdMainMenu,
	)}, nil
}

func (d *Dispatcher) stepConfirmDoctorDelete(ctx context.Context, s *session, ev Event, w *ConfirmingDoctorDelete) ([]Reply, error) {
	if strings.TrimSpace(ev.Text) != cmdConfirm {
		return []Reply{menuReply("Remove this doctor?", cmdConfirm, cmdMainMenu)}, nil
	}

	err := d.users.DeleteDoctor(ctx, w.DoctorID)
	if err != nil && !errors.Is(err, clinic.ErrDoctorNotFound) {
		return nil, fmt.Errorf("delete doctor: %w", err)
	}

	s.state.Wizard = nil
	msg := "Doctor removed."
	if errors.Is(err, clinic.ErrDoctorNotFound) {
		msg = "That doctor was already removed."
	}
	return []Reply{textReply(msg), d.mainMenu(s.user)}, nil
}

// Clinic management

func (d *Dispatcher) startManagingClinics(_ context.Context, s *session, _ Event) ([]Reply, error) {
	s.state.Wizard = &ManagingClinics{}
	return []Reply{clinicAdminMenu()}, nil
}

func (d *Dispatcher) stepManagingClinics(ctx context.Context, s *session, ev Event) ([]Reply, error) {
	switch strings.TrimSpace(ev.Text) {
	case optListClinics:
		clinics, err := d.clinics.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("list clinics: %w", err)
		}
		if len(clinics) == 0 {
			return []Reply{textReply("No clinics yet."), clinicAdminMenu()}, nil
		}
		var b strings.Builder
		for _, c := range clinics {
			b.WriteString(c.Name)
			if c.Address != "" {
				b.WriteString(" — " + c.Address)
			}
			b.WriteString("\n")
		}
		return []Reply{textReply(strings.TrimRight(b.String(), "\n")), clinicAdminMenu()}, nil

	case optAddClinic:
		s.state.Wizard = &AddingClinicName{}
		return []Reply{textReply("Enter the clinic name:")}, nil

	default:
		return []Reply{clinicAdminMenu()}, nil
	}
}

func (d *Dispatcher) stepAddClinicName(_ context.Context, s *session, ev Event) ([]Reply, error) {
	name := strings.TrimSpace(ev.Text)
	if name == "" {
		return []Reply{textReply("Enter the clinic name:")}, nil
	}
	s.state.Wizard = &AddingClinicAddress{Name: name}
	return []Reply{textReply("Enter the clinic address:")}, nil
}

func (d *Dispatcher) stepAddClinicAddress(ctx context.Context, s *session, ev Event, w *AddingClinicAddress) ([]Reply, error) {
	address := strings.TrimSpace(ev.Text)
	if address == "" {
		return []Reply{textReply("Enter the clinic address:")}, nil
	}

	err := d.clinics.CreateClinic(ctx, &clinic.Clinic{Name: w.Name, Address: address})
	if err != nil {
		if errors.Is(err, clinic.ErrClinicExists) {
			s.state.Wizard = &AddingClinicName{}
			return []Reply{textReply("A clinic named " + strconv.Quote(w.Name) + " already exists. Enter a different name:")}, nil
		}
		return nil, fmt.Errorf("create clinic: %w", err)
	}

	s.state.Wizard = nil
	return []Reply{textReply("Clinic " + w.Name + " added."), d.mainMenu(s.user)}, nil
}

// Admin promotion (root only)

func (d *Dispatcher) startPromotingAdmin(_ context.Context, s *session, _ Event) ([]Reply, error) {
	s.state.Wizard = &PromotingAdmin{}
	return []Reply{textReply("Enter the phone number of the registered user to promote:")}, nil
}

func (d *Dispatcher) stepPromoteAdmin(ctx context.Context, s *session, ev Event) ([]Reply, error) {
	phone := strings.TrimSpace(ev.Text)
	if phone == "" {
		return []Reply{textReply("Enter the phone number of the registered user to promote:")}, nil
	}

	target, err := d.users.ByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, clinic.ErrUserNotFound) {
			return []Reply{textReply("No registered user with that phone number. Try again:")}, nil
		}
		return nil, fmt.Errorf("find user by phone: %w", err)
	}

	target.Role = clinic.RoleAdmin
	if err := d.users.SaveProfile(ctx, target); err != nil {
		return nil, fmt.Errorf("promote user: %w", err)
	}

	s.state.Wizard = nil
	return []Reply{
		textReply(target.FullName + " is now an administrator."),
		d.mainMenu(s.user),
	}, nil
}

// Helpers

func (d *Dispatcher) resolveDoctorByName(ctx context.Context, text, reprompt string) ([]Reply, *clinic.User, error) {
	doctors, err := d.users.DoctorsAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list doctors: %w", err)
	}
	if len(doctors) == 0 {
		return []Reply{textReply("No doctors yet."), doctorAdminMenu()}, nil, nil
	}

	name := strings.TrimSpace(text)
	for i := range doctors {
		if doctors[i].FullName == name {
			return nil, &doctors[i], nil
		}
	}
	return []Reply{doctorPickMenu(reprompt, doctors)}, nil, nil
}

func (d *Dispatcher) resolveClinicNames(ctx context.Context, names []string) ([]uuid.UUID, string, error) {
	var ids []uuid.UUID
	for _, name := range names {
		cl, err := d.clinics.ByName(ctx, name)
		if err != nil {
			if errors.Is(err, clinic.ErrClinicNotFound) {
				return nil, name, nil
			}
			return nil, "", fmt.Errorf("resolve clinic %q: %w", name, err)
		}
		ids = append(ids, cl.ID)
	}
	return ids, "", nil
}

func splitCommaList(text string) []string {
	var out []string
	for _, part := range strings.Split(text, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func doctorAdminMenu() Reply {
	return menuReply("Doctor management:", optListDoctors, optAddDoctor, optEditDoctor, optDeleteDoctor, cmdMainMenu)
}

func clinicAdminMenu() Reply {
	return menuReply("Clinic management:", optListClinics, optAddClinic, cmdMainMenu)
}

func editFieldMenu(doctorName string) Reply {
	return menuReply("Editing "+doctorName+". Pick a field:", optFieldName, optFieldPhone, optFieldSpecialization, cmdMainMenu)
}

func doctorPickMenu(prompt string, doctors []clinic.User) Reply {
	options := make([]string, 0, len(doctors)+1)
	for _, doc := range doctors {
		options = append(options, doc.FullName)
	}
	options = append(options, cmdMainMenu)
	return menuReply(prompt, options...)
}
