package clinic

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Availability answers which (doctor, date, time) combinations are bookable.
// A slot is free iff no appointment shares its (doctor, date, start time)
// key; the match is by value, never by slot id.
type Availability struct {
	users        UserRepository
	schedules    ScheduleRepository
	appointments AppointmentRepository
}

func NewAvailability(users UserRepository, schedules ScheduleRepository, appointments AppointmentRepository) *Availability {
	return &Availability{
		users:        users,
		schedules:    schedules,
		appointments: appointments,
	}
}

// SpecializationAvailability is one row of the specialization menu. A fully
// booked specialization stays in the menu with Free=false; the handler marks
// the label instead of hiding the entry.
type SpecializationAvailability struct {
	Name string
	Free bool
}

// FreeSlots returns the doctor's unbooked template slots for one day, sorted
// ascending by start time.
func (av *Availability) FreeSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]ScheduleSlot, error) {
	slots, err := av.schedules.SlotsForDay(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	if len(slots) == 0 {
		return nil, nil
	}

	booked, err := av.appointments.ByDoctorsInRange(ctx, []uuid.UUID{doctorID}, date, date)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	free := subtract(slots, booked)
	sortSlots(free)
	return free, nil
}

// FreeDays returns the dates in [from, to] on which the doctor has at least
// one free slot, sorted ascending.
func (av *Availability) FreeDays(ctx context.Context, doctorID uuid.UUID, from, to string) ([]string, error) {
	slots, err := av.schedules.SlotsInRange(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	if len(slots) == 0 {
		return nil, nil
	}

	booked, err := av.appointments.ByDoctorsInRange(ctx, []uuid.UUID{doctorID}, from, to)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	seen := make(map[string]bool)
	var days []string
	for _, s := range subtract(slots, booked) {
		if !seen[s.VisitDate] {
			seen[s.VisitDate] = true
			days = append(days, s.VisitDate)
		}
	}
	sort.Strings(days)
	return days, nil
}

// DoctorsWithFreeSlots returns the clinic's doctors of the given
// specialization that have at least one opening in [from, to], de-duplicated
// by identity in first-seen order.
func (av *Availability) DoctorsWithFreeSlots(ctx context.Context, clinicID uuid.UUID, specialization, from, to string) ([]User, error) {
	doctors, err := av.users.DoctorsByClinic(ctx, clinicID)
	if err != nil {
		return nil, fmt.Errorf("load clinic doctors: %w", err)
	}

	var candidates []User
	for _, d := range doctors {
		if d.Specialization == specialization {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	freeByDoctor, err := av.freeCountByDoctor(ctx, candidates, from, to)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool)
	var result []User
	for _, d := range candidates {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		if freeByDoctor[d.ID] > 0 {
			result = append(result, d)
		}
	}
	return result, nil
}

// Specializations lists every specialization offered at the clinic together
// with whether it has any opening in [from, to].
func (av *Availability) Specializations(ctx context.Context, clinicID uuid.UUID, from, to string) ([]SpecializationAvailability, error) {
	doctors, err := av.users.DoctorsByClinic(ctx, clinicID)
	if err != nil {
		return nil, fmt.Errorf("load clinic doctors: %w", err)
	}
	if len(doctors) == 0 {
		return nil, nil
	}

	freeByDoctor, err := av.freeCountByDoctor(ctx, doctors, from, to)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]int) // specialization -> index in result
	var result []SpecializationAvailability
	for _, d := range doctors {
		if d.Specialization == "" {
			continue
		}
		idx, ok := seen[d.Specialization]
		if !ok {
			seen[d.Specialization] = len(result)
			result = append(result, SpecializationAvailability{Name: d.Specialization})
			idx = len(result) - 1
		}
		if freeByDoctor[d.ID] > 0 {
			result[idx].Free = true
		}
	}
	return result, nil
}

func (av *Availability) freeCountByDoctor(ctx context.Context, doctors []User, from, to string) (map[uuid.UUID]int, error) {
	ids := make([]uuid.UUID, 0, len(doctors))
	for _, d := range doctors {
		ids = append(ids, d.ID)
	}

	slots, err := av.schedules.SlotsForDoctors(ctx, ids, from, to)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	booked, err := av.appointments.ByDoctorsInRange(ctx, ids, from, to)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	counts := make(map[uuid.UUID]int)
	for _, s := range subtract(slots, booked) {
		counts[s.DoctorID]++
	}
	return counts, nil
}

func subtract(slots []ScheduleSlot, booked []Appointment) []ScheduleSlot {
	taken := make(map[SlotKey]bool, len(booked))
	for _, a := range booked {
		taken[a.Key()] = true
	}

	var free []ScheduleSlot
	for _, s := range slots {
		if !taken[s.Key()] {
			free = append(free, s)
		}
	}
	return free
}

func sortSlots(slots []ScheduleSlot) {
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].VisitDate != slots[j].VisitDate {
			return slots[i].VisitDate < slots[j].VisitDate
		}
		return slots[i].StartTime < slots[j].StartTime
	})
}
