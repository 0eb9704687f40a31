package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicbot/internal/clinic"
	"github.com/clinicdesk/clinicbot/internal/schedule"
)

// env wires a full engine against in-memory stores; tests talk to it the way
// the webhook does, one event at a time.
type env struct {
	t      *testing.T
	store  *memStore
	files  *fakeFiles
	engine *Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := newMemStore()
	files := &fakeFiles{files: make(map[string][]byte)}

	disp := NewDispatcher(DispatcherConfig{
		Users:        store,
		Clinics:      store,
		Appointments: store,
		Availability: clinic.NewAvailability(store, store, store),
		Booking:      clinic.NewBookingService(store, store, passLocker{}, zerolog.Nop()),
		Ingest:       schedule.NewIngestor(store, store, store, 15, zerolog.Nop()),
		Files:        files,
		HorizonDays:  30,
		Now:          func() time.Time { return time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC) },
		Logger:       zerolog.Nop(),
	})

	return &env{
		t:      t,
		store:  store,
		files:  files,
		engine: NewEngine(store, passLocker{}, disp, zerolog.Nop()),
	}
}

func (e *env) send(chatID int64, ev Event) []Reply {
	ev.ChatID = chatID
	return e.engine.Handle(context.Background(), ev)
}

func (e *env) text(chatID int64, text string) []Reply {
	return e.send(chatID, Event{Text: text})
}

func (e *env) register(chatID int64, phone, name string) {
	e.t.Helper()
	e.text(chatID, "/start")
	e.send(chatID, Event{ContactPhone: phone})
	replies := e.text(chatID, name)
	if !repliesContain(replies, "Registration complete") {
		e.t.Fatalf("registration did not complete: %v", replies)
	}
}

func (e *env) setRole(chatID int64, role clinic.Role) {
	e.t.Helper()
	u, err := e.store.ByChatID(context.Background(), chatID)
	if err != nil {
		e.t.Fatalf("load user: %v", err)
	}
	u.Role = role
	if err := e.store.SaveProfile(context.Background(), u); err != nil {
		e.t.Fatalf("set role: %v", err)
	}
}

func (e *env) seedClinic(name string) uuid.UUID {
	e.t.Helper()
	cl := &clinic.Clinic{Name: name, Address: "1 Main St"}
	if err := e.store.CreateClinic(context.Background(), cl); err != nil {
		e.t.Fatalf("seed clinic: %v", err)
	}
	return cl.ID
}

func (e *env) seedDoctor(clinicID uuid.UUID, name, spec string) uuid.UUID {
	e.t.Helper()
	doc := &clinic.User{Role: clinic.RoleDoctor, FullName: name, Specialization: spec}
	if err := e.store.Create(context.Background(), doc); err != nil {
		e.t.Fatalf("seed doctor: %v", err)
	}
	if err := e.store.SetDoctorClinics(context.Background(), doc.ID, []uuid.UUID{clinicID}); err != nil {
		e.t.Fatalf("link doctor: %v", err)
	}
	return doc.ID
}

func (e *env) seedSlot(doctorID, clinicID uuid.UUID, date, start, end string) {
	e.store.slots = append(e.store.slots, clinic.ScheduleSlot{
		ID:              uuid.New(),
		DoctorID:        doctorID,
		ClinicID:        clinicID,
		VisitDate:       date,
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: 30,
	})
}

func (e *env) stateOf(chatID int64) ConversationState {
	e.t.Helper()
	u, err := e.store.ByChatID(context.Background(), chatID)
	if err != nil {
		e.t.Fatalf("load user: %v", err)
	}
	state, err := DecodeState(u.Conversation)
	if err != nil {
		e.t.Fatalf("decode state: %v", err)
	}
	return state
}

func repliesContain(replies []Reply, substr string) bool {
	for _, r := range replies {
		if strings.Contains(r.Text, substr) {
			return true
		}
	}
	return false
}

func menuOf(replies []Reply) []string {
	for _, r := range replies {
		if len(r.Menu) > 0 {
			return r.Menu
		}
	}
	return nil
}

func menuContains(replies []Reply, option string) bool {
	for _, opt := range menuOf(replies) {
		if opt == option {
			return true
		}
	}
	return false
}

// Registration

func TestRegistrationFlow(t *testing.T) {
	e := newEnv(t)

	replies := e.text(1, "/start")
	if !menuContains(replies, optSharePhone) {
		t.Fatalf("first contact should prompt for phone, got %v", replies)
	}

	// Plain text is not a phone share.
	replies = e.text(1, "my number is 555")
	if !menuContains(replies, optSharePhone) {
		t.Errorf("text instead of contact should re-prompt, got %v", replies)
	}

	replies = e.send(1, Event{ContactPhone: "+15550100"})
	if !repliesContain(replies, "full name") {
		t.Fatalf("sharing phone should ask for name, got %v", replies)
	}

	// A command is not a name.
	replies = e.text(1, "/start")
	if !repliesContain(replies, "full name") {
		t.Errorf("command as name should re-prompt, got %v", replies)
	}

	replies = e.text(1, "Pat Doe")
	if !repliesContain(replies, "Registration complete") {
		t.Fatalf("name should complete registration, got %v", replies)
	}
	if !menuContains(replies, cmdBook) {
		t.Error("completed registration should show the main menu")
	}

	u, err := e.store.ByChatID(context.Background(), 1)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	if u.Phone != "+15550100" || u.FullName != "Pat Doe" {
		t.Errorf("profile = %q / %q", u.FullName, u.Phone)
	}
	if u.Role != clinic.RolePatient {
		t.Errorf("role = %s, want PATIENT", u.Role)
	}
	if state := e.stateOf(1); state.Registration != StepCompleted {
		t.Errorf("registration step = %s, want COMPLETED", state.Registration)
	}
}

func TestRegistrationGatesEverything(t *testing.T) {
	e := newEnv(t)

	e.text(2, "/start")
	replies := e.text(2, cmdBook)
	if !menuContains(replies, optSharePhone) {
		t.Errorf("unregistered user must stay in registration, got %v", replies)
	}
}

// Capability routing

func TestRoleCapabilities(t *testing.T) {
	e := newEnv(t)
	e.register(1, "+1000", "Pat Patient")

	// Patient cannot reach doctor or admin commands.
	if replies := e.text(1, cmdMySchedule); !repliesContain(replies, "Choose an action") {
		t.Errorf("patient sending My schedule should fall back to main menu, got %v", replies)
	}
	if replies := e.text(1, cmdManageDoctors); !repliesContain(replies, "Choose an action") {
		t.Errorf("patient sending Manage doctors should fall back to main menu, got %v", replies)
	}

	e.setRole(1, clinic.RoleDoctor)
	if replies := e.text(1, cmdMySchedule); !repliesContain(replies, "No booked appointments") {
		t.Errorf("doctor should reach My schedule, got %v", replies)
	}
	if replies := e.text(1, cmdManageDoctors); !repliesContain(replies, "Choose an action") {
		t.Errorf("doctor must not reach Manage doctors, got %v", replies)
	}

	e.setRole(1, clinic.RoleAdmin)
	if replies := e.text(1, cmdManageDoctors); !repliesContain(replies, "Doctor management") {
		t.Errorf("admin should reach Manage doctors, got %v", replies)
	}
	e.text(1, cmdMainMenu)
	if replies := e.text(1, cmdPromoteAdmin); !repliesContain(replies, "Choose an action") {
		t.Errorf("admin must not reach Promote admin, got %v", replies)
	}

	e.setRole(1, clinic.RoleRoot)
	if replies := e.text(1, cmdPromoteAdmin); !repliesContain(replies, "phone number of the registered user") {
		t.Errorf("root should reach Promote admin, got %v", replies)
	}
}

func TestUnknownTextShowsMainMenu(t *testing.T) {
	e := newEnv(t)
	e.register(1, "+1000", "Pat Doe")

	replies := e.text(1, "what can you do?")
	if !repliesContain(replies, "Choose an action") {
		t.Errorf("unknown text should show main menu, got %v", replies)
	}
}

func TestMainMenuOptionsPerRole(t *testing.T) {
	e := newEnv(t)
	e.register(1, "+1000", "Pat Doe")

	replies := e.text(1, cmdMainMenu)
	if menuContains(replies, cmdUploadSchedule) || menuContains(replies, cmdMySchedule) {
		t.Errorf("patient menu leaked privileged options: %v", menuOf(replies))
	}

	e.setRole(1, clinic.RoleRoot)
	replies = e.text(1, cmdMainMenu)
	for _, want := range []string{cmdBook, cmdMyAppointments, cmdMySchedule, cmdManageDoctors, cmdManageClinics, cmdUploadSchedule, cmdPromoteAdmin} {
		if !menuContains(replies, want) {
			t.Errorf("root menu missing %q: %v", want, menuOf(replies))
		}
	}
}
