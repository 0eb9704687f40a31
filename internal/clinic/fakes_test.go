package clinic

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/clinicdesk/clinicbot/internal/redisclient"
	"github.com/google/uuid"
)

// memRepo is an in-memory stand-in for PgRepository enforcing the same
// uniqueness rules, safe for concurrent use.
type memRepo struct {
	mu           sync.Mutex
	users        map[uuid.UUID]*User
	clinics      map[uuid.UUID]*Clinic
	doctorLinks  map[uuid.UUID][]uuid.UUID
	slots        []ScheduleSlot
	appointments map[uuid.UUID]*Appointment
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:        make(map[uuid.UUID]*User),
		clinics:      make(map[uuid.UUID]*Clinic),
		doctorLinks:  make(map[uuid.UUID][]uuid.UUID),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

// Users

func (r *memRepo) ByChatID(_ context.Context, chatID int64) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ChatID != nil && *u.ChatID == chatID {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memRepo) ByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (r *memRepo) ByPhone(_ context.Context, phone string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Phone == phone {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memRepo) Create(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	c := *u
	r.users[u.ID] = &c
	return nil
}

func (r *memRepo) SaveProfile(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.users[u.ID]
	if !ok {
		return ErrUserNotFound
	}
	stored.Role = u.Role
	stored.FullName = u.FullName
	stored.Phone = u.Phone
	stored.Specialization = u.Specialization
	return nil
}

func (r *memRepo) SaveConversation(_ context.Context, id uuid.UUID, conv json.RawMessage, expectedVersion int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.users[id]
	if !ok {
		return 0, ErrUserNotFound
	}
	if stored.ConversationVersion != expectedVersion {
		return 0, ErrStateConflict
	}
	stored.Conversation = conv
	stored.ConversationVersion++
	return stored.ConversationVersion, nil
}

func (r *memRepo) DoctorsByClinic(_ context.Context, clinicID uuid.UUID) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []User
	for doctorID, links := range r.doctorLinks {
		for _, cl := range links {
			if cl == clinicID {
				if u, ok := r.users[doctorID]; ok && u.Role == RoleDoctor {
					result = append(result, *u)
				}
			}
		}
	}
	return result, nil
}

func (r *memRepo) DoctorByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.Role != RoleDoctor {
		return nil, ErrDoctorNotFound
	}
	c := *u
	return &c, nil
}

func (r *memRepo) DoctorsAll(_ context.Context) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []User
	for _, u := range r.users {
		if u.Role == RoleDoctor {
			result = append(result, *u)
		}
	}
	return result, nil
}

func (r *memRepo) DeleteDoctor(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.Role != RoleDoctor {
		return ErrDoctorNotFound
	}
	delete(r.users, id)
	delete(r.doctorLinks, id)
	return nil
}

func (r *memRepo) SetDoctorClinics(_ context.Context, doctorID uuid.UUID, clinicIDs []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctorLinks[doctorID] = append([]uuid.UUID(nil), clinicIDs...)
	return nil
}

// Clinics

func (r *memRepo) All(_ context.Context) ([]Clinic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Clinic
	for _, c := range r.clinics {
		result = append(result, *c)
	}
	return result, nil
}

func (r *memRepo) ByName(_ context.Context, name string) (*Clinic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clinics {
		if c.Name == name {
			cc := *c
			return &cc, nil
		}
	}
	return nil, ErrClinicNotFound
}

func (r *memRepo) ClinicByID(_ context.Context, id uuid.UUID) (*Clinic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clinics[id]
	if !ok {
		return nil, ErrClinicNotFound
	}
	cc := *c
	return &cc, nil
}

func (r *memRepo) CreateClinic(_ context.Context, c *Clinic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	for _, existing := range r.clinics {
		if existing.Name == c.Name {
			return ErrClinicExists
		}
	}
	cc := *c
	r.clinics[c.ID] = &cc
	return nil
}

// Schedule slots

func (r *memRepo) SlotsForDay(_ context.Context, doctorID uuid.UUID, date string) ([]ScheduleSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []ScheduleSlot
	for _, s := range r.slots {
		if s.DoctorID == doctorID && s.VisitDate == date {
			result = append(result, s)
		}
	}
	return result, nil
}

func (r *memRepo) SlotsInRange(_ context.Context, doctorID uuid.UUID, from, to string) ([]ScheduleSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []ScheduleSlot
	for _, s := range r.slots {
		if s.DoctorID == doctorID && s.VisitDate >= from && s.VisitDate <= to {
			result = append(result, s)
		}
	}
	return result, nil
}

func (r *memRepo) SlotsForDoctors(_ context.Context, doctorIDs []uuid.UUID, from, to string) ([]ScheduleSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make(map[uuid.UUID]bool, len(doctorIDs))
	for _, id := range doctorIDs {
		ids[id] = true
	}
	var result []ScheduleSlot
	for _, s := range r.slots {
		if ids[s.DoctorID] && s.VisitDate >= from && s.VisitDate <= to {
			result = append(result, s)
		}
	}
	return result, nil
}

func (r *memRepo) SlotExists(_ context.Context, key SlotKey) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if s.Key() == key {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) ReplaceRange(_ context.Context, doctorIDs []uuid.UUID, from, to string, slots []ScheduleSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make(map[uuid.UUID]bool, len(doctorIDs))
	for _, id := range doctorIDs {
		ids[id] = true
	}
	var kept []ScheduleSlot
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

// Appointments

func (r *memRepo) CreateAppointment(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.appointments {
		if existing.Key() == a.Key() {
			return ErrSlotTaken
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusPlanned
	}
	c := *a
	r.appointments[a.ID] = &c
	return nil
}

func (r *memRepo) AppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	c := *a
	return &c, nil
}

func (r *memRepo) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appointments[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(r.appointments, id)
	return nil
}

func (r *memRepo) ByPatient(_ context.Context, patientID uuid.UUID, status AppointmentStatus) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID && a.Status == status {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (r *memRepo) ByDoctorsInRange(_ context.Context, doctorIDs []uuid.UUID, from, to string) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make(map[uuid.UUID]bool, len(doctorIDs))
	for _, id := range doctorIDs {
		ids[id] = true
	}
	var result []Appointment
	for _, a := range r.appointments {
		if ids[a.DoctorID] && a.VisitDate >= from && a.VisitDate <= to {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (r *memRepo) ByKey(_ context.Context, key SlotKey) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appointments {
		if a.Key() == key {
			c := *a
			return &c, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *memRepo) CompletePast(_ context.Context, beforeDate, beforeTime string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, a := range r.appointments {
		if a.Status != StatusPlanned {
			continue
		}
		if a.VisitDate < beforeDate || (a.VisitDate == beforeDate && a.StartTime < beforeTime) {
			a.Status = StatusCompleted
			count++
		}
	}
	return count, nil
}

// tryLocker mimics the SETNX semantics of the redis locker: a contended key
// fails immediately instead of blocking.
type tryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newTryLocker() *tryLocker {
	return &tryLocker{held: make(map[string]bool)}
}

func (l *tryLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held[key] {
		l.mu.Unlock()
		return redisclient.ErrLockNotAcquired
	}
	l.held[key] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()

	return fn(ctx)
}
