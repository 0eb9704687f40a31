package bot

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type RegistrationStep string

const (
	StepEnterPhone    RegistrationStep = "ENTER_PHONE"
	StepEnterFullName RegistrationStep = "ENTER_FULL_NAME"
	StepCompleted     RegistrationStep = "COMPLETED"
)

// UploadState is the admin schedule-upload axis. nil means idle. Month is
// the declared target month ("2006-01"); it is only set once the admin has
// picked it, after which the next file attachment is consumed.
type UploadState struct {
	Month string `json:"month,omitempty"`
}

func (u *UploadState) awaitingFile() bool { return u != nil && u.Month != "" }

// Wizard is the appointment/admin wizard axis as a tagged variant: each step
// carries exactly the scratch fields that are valid at that step, so a field
// cannot outlive the state that gave it meaning. nil means no wizard is in
// progress.
type Wizard interface {
	kind() string
}

// Patient booking steps.

type SelectingClinic struct{}

type SelectingSpecialization struct {
	ClinicID uuid.UUID `json:"clinic_id"`
}

type SelectingDoctor struct {
	ClinicID       uuid.UUID `json:"clinic_id"`
	Specialization string    `json:"specialization"`
}

type SelectingDay struct {
	ClinicID uuid.UUID `json:"clinic_id"`
	DoctorID uuid.UUID `json:"doctor_id"`
}

type SelectingTime struct {
	ClinicID  uuid.UUID `json:"clinic_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	VisitDate string    `json:"visit_date"`
}

type EnteringComplaint struct {
	ClinicID  uuid.UUID `json:"clinic_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	VisitDate string    `json:"visit_date"`
	StartTime string    `json:"start_time"`
}

type ConfirmingAppointment struct {
	ClinicID  uuid.UUID `json:"clinic_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	VisitDate string    `json:"visit_date"`
	StartTime string    `json:"start_time"`
	Complaint string    `json:"complaint,omitempty"`
}

// Admin steps share the same axis and the same interrupt semantics.

type ManagingDoctors struct{}

type AddingDoctorPhone struct{}

type AddingDoctorName struct {
	Phone string `json:"phone"`
}

type AddingDoctorSpecialization struct {
	Phone    string `json:"phone"`
	FullName string `json:"full_name"`
}

type AddingDoctorClinics struct {
	Phone          string `json:"phone"`
	FullName       string `json:"full_name"`
	Specialization string `json:"specialization"`
}

type ChoosingDoctorToEdit struct{}

type EditingDoctor struct {
	DoctorID uuid.UUID `json:"doctor_id"`
}

type EditingDoctorName struct {
	DoctorID uuid.UUID `json:"doctor_id"`
}

type EditingDoctorPhone struct {
	DoctorID uuid.UUID `json:"doctor_id"`
}

type EditingDoctorSpecialization struct {
	DoctorID uuid.UUID `json:"doctor_id"`
}

type ChoosingDoctorToDelete struct{}

type ConfirmingDoctorDelete struct {
	DoctorID uuid.UUID `json:"doctor_id"`
}

type ManagingClinics struct{}

type AddingClinicName struct{}

type AddingClinicAddress struct {
	Name string `json:"name"`
}

type PromotingAdmin struct{}

func (SelectingClinic) kind() string             { return "select_clinic" }
func (SelectingSpecialization) kind() string     { return "select_specialization" }
func (SelectingDoctor) kind() string             { return "select_doctor" }
func (SelectingDay) kind() string                { return "select_day" }
func (SelectingTime) kind() string               { return "select_time" }
func (EnteringComplaint) kind() string           { return "enter_complaints" }
func (ConfirmingAppointment) kind() string       { return "confirm_appointment" }
func (ManagingDoctors) kind() string             { return "manage_doctors" }
func (AddingDoctorPhone) kind() string           { return "add_doctor_phone" }
func (AddingDoctorName) kind() string            { return "add_doctor_name" }
func (AddingDoctorSpecialization) kind() string  { return "add_doctor_specialization" }
func (AddingDoctorClinics) kind() string         { return "add_doctor_clinics" }
func (ChoosingDoctorToEdit) kind() string        { return "choose_doctor_to_edit" }
func (EditingDoctor) kind() string               { return "edit_doctor" }
func (EditingDoctorName) kind() string           { return "edit_doctor_name" }
func (EditingDoctorPhone) kind() string          { return "edit_doctor_phone" }
func (EditingDoctorSpecialization) kind() string { return "edit_doctor_specialization" }
func (ChoosingDoctorToDelete) kind() string      { return "choose_doctor_to_delete" }
func (ConfirmingDoctorDelete) kind() string      { return "confirm_doctor_delete" }
func (ManagingClinics) kind() string             { return "manage_clinics" }
func (AddingClinicName) kind() string            { return "add_clinic_name" }
func (AddingClinicAddress) kind() string         { return "add_clinic_address" }
func (PromotingAdmin) kind() string              { return "promote_admin" }

var wizardKinds = map[string]func() Wizard{
	"select_clinic":              func() Wizard { return &SelectingClinic{} },
	"select_specialization":      func() Wizard { return &SelectingSpecialization{} },
	"select_doctor":              func() Wizard { return &SelectingDoctor{} },
	"select_day":                 func() Wizard { return &SelectingDay{} },
	"select_time":                func() Wizard { return &SelectingTime{} },
	"enter_complaints":           func() Wizard { return &EnteringComplaint{} },
	"confirm_appointment":        func() Wizard { return &ConfirmingAppointment{} },
	"manage_doctors":             func() Wizard { return &ManagingDoctors{} },
	"add_doctor_phone":           func() Wizard { return &AddingDoctorPhone{} },
	"add_doctor_name":            func() Wizard { return &AddingDoctorName{} },
	"add_doctor_specialization":  func() Wizard { return &AddingDoctorSpecialization{} },
	"add_doctor_clinics":         func() Wizard { return &AddingDoctorClinics{} },
	"choose_doctor_to_edit":      func() Wizard { return &ChoosingDoctorToEdit{} },
	"edit_doctor":                func() Wizard { return &EditingDoctor{} },
	"edit_doctor_name":           func() Wizard { return &EditingDoctorName{} },
	"edit_doctor_phone":          func() Wizard { return &EditingDoctorPhone{} },
	"edit_doctor_specialization": func() Wizard { return &EditingDoctorSpecialization{} },
	"choose_doctor_to_delete":    func() Wizard { return &ChoosingDoctorToDelete{} },
	"confirm_doctor_delete":      func() Wizard { return &ConfirmingDoctorDelete{} },
	"manage_clinics":             func() Wizard { return &ManagingClinics{} },
	"add_clinic_name":            func() Wizard { return &AddingClinicName{} },
	"add_clinic_address":         func() Wizard { return &AddingClinicAddress{} },
	"promote_admin":              func() Wizard { return &PromotingAdmin{} },
}

// ConversationState is the full persisted per-user state: three independent
// axes consulted in strict priority order (registration, upload, wizard).
type ConversationState struct {
	Registration RegistrationStep
	Upload       *UploadState
	Wizard       Wizard
}

// Reset clears every in-progress axis and its scratch payload. Registration
// is the only axis that survives: an interrupt never un-registers a user.
func (s *ConversationState) Reset() {
	s.Upload = nil
	s.Wizard = nil
}

type wizardEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

type stateJSON struct {
	Registration RegistrationStep `json:"registration,omitempty"`
	Upload       *UploadState     `json:"upload,omitempty"`
	Wizard       *wizardEnvelope  `json:"wizard,omitempty"`
}

// EncodeState serializes the state for the users.conversation column.
func EncodeState(s ConversationState) (json.RawMessage, error) {
	out := stateJSON{
		Registration: s.Registration,
		Upload:       s.Upload,
	}
	if s.Wizard != nil {
		data, err := json.Marshal(s.Wizard)
		if err != nil {
			return nil, fmt.Errorf("encode wizard: %w", err)
		}
		out.Wizard = &wizardEnvelope{Kind: s.Wizard.kind(), Data: data}
	}
	return json.Marshal(out)
}

// DecodeState deserializes a conversation column value. An empty or legacy
// document decodes as a completed, idle conversation; an unknown wizard kind
// decodes as idle rather than failing, so a deploy that drops a step cannot
// strand users.
func DecodeState(raw json.RawMessage) (ConversationState, error) {
	s := ConversationState{Registration: StepCompleted}
	if len(raw) == 0 {
		return s, nil
	}

	var in stateJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return s, fmt.Errorf("decode conversation: %w", err)
	}

	if in.Registration != "" {
		s.Registration = in.Registration
	}
	s.Upload = in.Upload

	if in.Wizard != nil {
		factory, ok := wizardKinds[in.Wizard.Kind]
		if ok {
			w := factory()
			if len(in.Wizard.Data) > 0 {
				if err := json.Unmarshal(in.Wizard.Data, w); err != nil {
					return s, fmt.Errorf("decode wizard %q: %w", in.Wizard.Kind, err)
				}
			}
			s.Wizard = w
		}
	}

	return s, nil
}
