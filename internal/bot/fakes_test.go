package bot

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicbot/internal/clinic"
)

// memStore is an in-memory implementation of the clinic repositories with the
// same uniqueness and versioning rules as the Postgres one.
type memStore struct {
	mu           sync.Mutex
	users        map[uuid.UUID]*clinic.User
	clinics      map[uuid.UUID]*clinic.Clinic
	doctorLinks  map[uuid.UUID][]uuid.UUID
	slots        []clinic.ScheduleSlot
	appointments map[uuid.UUID]*clinic.Appointment
}

func newMemStore() *memStore {
	return &memStore{
		users:        make(map[uuid.UUID]*clinic.User),
		clinics:      make(map[uuid.UUID]*clinic.Clinic),
		doctorLinks:  make(map[uuid.UUID][]uuid.UUID),
		appointments: make(map[uuid.UUID]*clinic.Appointment),
	}
}

func (r *memStore) ByChatID(_ context.Context, chatID int64) (*clinic.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ChatID != nil && *u.ChatID == chatID {
			c := *u
			return &c, nil
		}
	}
	return nil, clinic.ErrUserNotFound
}

func (r *memStore) ByID(_ context.Context, id uuid.UUID) (*clinic.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, clinic.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (r *memStore) ByPhone(_ context.Context, phone string) (*clinic.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Phone == phone {
			c := *u
			return &c, nil
		}
	}
	return nil, clinic.ErrUserNotFound
}

func (r *memStore) Create(_ context.Context, u *clinic.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	c := *u
	r.users[u.ID] = &c
	return nil
}

func (r *memStore) SaveProfile(_ context.Context, u *clinic.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.users[u.ID]
	if !ok {
		return clinic.ErrUserNotFound
	}
	stored.Role = u.Role
	stored.FullName = u.FullName
	stored.Phone = u.Phone
	stored.Specialization = u.Specialization
	return nil
}

func (r *memStore) SaveConversation(_ context.Context, id uuid.UUID, conv json.RawMessage, expectedVersion int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.users[id]
	if !ok {
		return 0, clinic.ErrUserNotFound
	}
	if stored.ConversationVersion != expectedVersion {
		return 0, clinic.ErrStateConflict
	}
	stored.Conversation = conv
	stored.ConversationVersion++
	return stored.ConversationVersion, nil
}

func (r *memStore) DoctorsByClinic(_ context.Context, clinicID uuid.UUID) ([]clinic.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []clinic.User
	for doctorID, links := range r.doctorLinks {
		for _, cl := range links {
			if cl == clinicID {
				if u, ok := r.users[doctorID]; ok && u.Role == clinic.RoleDoctor {
					result = append(result, *u)
				}
			}
		}
	}
	return result, nil
}

func (r *memStore) DoctorByID(_ context.Context, id uuid.UUID) (*clinic.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.Role != clinic.RoleDoctor {
		return nil, clinic.ErrDoctorNotFound
	}
	c := *u
	return &c, nil
}

func (r *memStore) DoctorsAll(_ context.Context) ([]clinic.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []clinic.User
	for _, u := range r.users {
		if u.Role == clinic.RoleDoctor {
			result = append(result, *u)
		}
	}
	return result, nil
}

func (r *memStore) DeleteDoctor(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.Role != clinic.RoleDoctor {
		return clinic.ErrDoctorNotFound
	}
	delete(r.users, id)
	delete(r.doctorLinks, id)
	return nil
}

func (r *memStore) SetDoctorClinics(_ context.Context, doctorID uuid.UUID, clinicIDs []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctorLinks[doctorID] = append([]uuid.UUID(nil), clinicIDs...)
	return nil
}

func (r *memStore) All(_ context.Context) ([]clinic.Clinic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []clinic.Clinic
	for _, c := range r.clinics {
		result = append(result, *c)
	}
	return result, nil
}

func (r *memStore) ByName(_ context.Context, name string) (*clinic.Clinic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clinics {
		if c.Name == name {
			cc := *c
			return &cc, nil
		}
	}
	return nil, clinic.ErrClinicNotFound
}

func (r *memStore) ClinicByID(_ context.Context, id uuid.UUID) (*clinic.Clinic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clinics[id]
	if !ok {
		return nil, clinic.ErrClinicNotFound
	}
	cc := *c
	return &cc, nil
}

func (r *memStore) CreateClinic(_ context.Context, c *clinic.Clinic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	for _, existing := range r.clinics {
		if existing.Name == c.Name {
			return clinic.ErrClinicExists
		}
	}
	cc := *c
	r.clinics[c.ID] = &cc
	return nil
}

func (r *memStore) SlotsForDay(_ context.Context, doctorID uuid.UUID, date string) ([]clinic.ScheduleSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []clinic.ScheduleSlot
	for _, s := range r.slots {
		if s.DoctorID == doctorID && s.VisitDate == date {
			result = append(result, s)
		}
	}
	return result, nil
}

func (r *memStore) SlotsInRange(_ context.Context, doctorID uuid.UUID, from, to string) ([]clinic.ScheduleSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []clinic.ScheduleSlot
	for _, s := range r.slots {
		if s.DoctorID == doctorID && s.VisitDate >= from && s.VisitDate <= to {
			result = append(result, s)
		}
	}
	return result, nil
}

func (r *memStore) SlotsForDoctors(_ context.Context, doctorIDs []uuid.UUID, from, to string) ([]clinic.ScheduleSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make(map[uuid.UUID]bool, len(doctorIDs))
	for _, id := range doctorIDs {
		ids[id] = true
	}
	var result []clinic.ScheduleSlot
	for _, s := range r.slots {
		if ids[s.DoctorID] && s.VisitDate >= from && s.VisitDate <= to {
			result = append(result, s)
		}
	}
	return result, nil
}

func (r *memStore) SlotExists(_ context.Context, key clinic.SlotKey) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.Key() == key {
			return true, nil
		}
	}
	return false, nil
}

func (r *memStore) ReplaceRange(_ context.Context, doctorIDs []uuid.UUID, from, to string, slots []clinic.ScheduleSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make(map[uuid.UUID]bool, len(doctorIDs))
	for _, id := range doctorIDs {
		ids[id] = true
	}
	var kept []clinic.ScheduleSlot
	for _, s := range r.slots {
		if ids[s.DoctorID] && s.VisitDate >= from && s.VisitDate <= to {
			continue
		}
		kept = append(kept, s)
	}
	for i := range slots {
		if slots[i].ID == uuid.Nil {
			slots[i].ID = uuid.New()
		}
	}
	r.slots = append(kept, slots...)
	return nil
}

func (r *memStore) CreateAppointment(_ context.Context, a *clinic.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.appointments {
		if existing.Key() == a.Key() {
			return clinic.ErrSlotTaken
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = clinic.StatusPlanned
	}
	c := *a
	r.appointments[a.ID] = &c
	return nil
}

func (r *memStore) AppointmentByID(_ context.Context, id uuid.UUID) (*clinic.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, clinic.ErrAppointmentNotFound
	}
	c := *a
	return &c, nil
}

func (r *memStore) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appointments[id]; !ok {
		return clinic.ErrAppointmentNotFound
	}
	delete(r.appointments, id)
	return nil
}

func (r *memStore) ByPatient(_ context.Context, patientID uuid.UUID, status clinic.AppointmentStatus) ([]clinic.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []clinic.Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID && a.Status == status {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (r *memStore) ByDoctorsInRange(_ context.Context, doctorIDs []uuid.UUID, from, to string) ([]clinic.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make(map[uuid.UUID]bool, len(doctorIDs))
	for _, id := range doctorIDs {
		ids[id] = true
	}
	var result []clinic.Appointment
	for _, a := range r.appointments {
		if ids[a.DoctorID] && a.VisitDate >= from && a.VisitDate <= to {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (r *memStore) ByKey(_ context.Context, key clinic.SlotKey) (*clinic.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appointments {
		if a.Key() == key {
			c := *a
			return &c, nil
		}
	}
	return nil, clinic.ErrAppointmentNotFound
}

func (r *memStore) CompletePast(_ context.Context, beforeDate, beforeTime string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, a := range r.appointments {
		if a.Status != clinic.StatusPlanned {
			continue
		}
		if a.VisitDate < beforeDate || (a.VisitDate == beforeDate && a.StartTime < beforeTime) {
			a.Status = clinic.StatusCompleted
			count++
		}
	}
	return count, nil
}

// passLocker always grants the lock; lock contention is covered by the
// booking service tests.
type passLocker struct{}

func (passLocker) WithLock(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

type fakeFiles struct {
	files map[string][]byte
}

func (f *fakeFiles) Fetch(_ context.Context, fileID string) ([]byte, error) {
	data, ok := f.files[fileID]
	if !ok {
		return nil, errors.New("no such file")
	}
	return data, nil
}
