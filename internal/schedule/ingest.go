// Package schedule converts admin-uploaded batch descriptions into schedule
// slot records. A batch is bound to a single declared month and applies all
// or nothing: one bad row rejects the whole upload.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicbot/internal/clinic"
)

const MonthLayout = "2006-01"

// ErrBadBatch wraps every row-level rejection so callers can treat all
// ingestion failures uniformly.
var ErrBadBatch = errors.New("schedule batch rejected")

// Row is one line of an uploaded schedule file. Doctor and clinic are
// referenced by name; both must resolve to existing records.
type Row struct {
	DoctorName      string `validate:"required"`
	ClinicName      string `validate:"required"`
	Date            string `validate:"required,datetime=2006-01-02"`
	Start           string `validate:"required,datetime=15:04"`
	End             string `validate:"required,datetime=15:04"`
	DurationMinutes int    `validate:"required,min=1"`
}

type Ingestor struct {
	users     clinic.UserRepository
	clinics   clinic.ClinicRepository
	schedules clinic.ScheduleRepository
	validate  *validator.Validate
	minSlot   int
	log       zerolog.Logger
}

func NewIngestor(users clinic.UserRepository, clinics clinic.ClinicRepository, schedules clinic.ScheduleRepository, minSlotMinutes int, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		users:     users,
		clinics:   clinics,
		schedules: schedules,
		validate:  validator.New(),
		minSlot:   minSlotMinutes,
		log:       log.With().Str("component", "ingest").Logger(),
	}
}

// Ingest validates and expands the batch, then replaces the templated slots
// for every doctor named in it over the declared month. Nothing is written
// unless every row passes.
func (ing *Ingestor) Ingest(ctx context.Context, month string, rows []Row) (int, error) {
	monthStart, err := time.Parse(MonthLayout, month)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid month %q", ErrBadBatch, month)
	}
	monthEnd := monthStart.AddDate(0, 1, -1)

	if len(rows) == 0 {
		return 0, fmt.Errorf("%w: empty batch", ErrBadBatch)
	}

	doctorsByName, err := ing.doctorIndex(ctx)
	if err != nil {
		return 0, err
	}

	var slots []clinic.ScheduleSlot
	doctorSet := make(map[uuid.UUID]bool)

	for i, row := range rows {
		if err := ing.validate.Struct(row); err != nil {
			return 0, fmt.Errorf("%w: row %d: %v", ErrBadBatch, i+1, err)
		}
		if row.DurationMinutes < ing.minSlot {
			return 0, fmt.Errorf("%w: row %d: duration %d below minimum %d minutes", ErrBadBatch, i+1, row.DurationMinutes, ing.minSlot)
		}

		date, _ := time.Parse(clinic.DateLayout, row.Date)
		if date.Year() != monthStart.Year() || date.Month() != monthStart.Month() {
			return 0, fmt.Errorf("%w: row %d: date %s outside declared month %s", ErrBadBatch, i+1, row.Date, month)
		}

		doctor, ok := doctorsByName[normalizeName(row.DoctorName)]
		if !ok {
			return 0, fmt.Errorf("%w: row %d: unknown doctor %q", ErrBadBatch, i+1, row.DoctorName)
		}

		cl, err := ing.clinics.ByName(ctx, strings.TrimSpace(row.ClinicName))
		if err != nil {
			if errors.Is(err, clinic.ErrClinicNotFound) {
				return 0, fmt.Errorf("%w: row %d: unknown clinic %q", ErrBadBatch, i+1, row.ClinicName)
			}
			return 0, fmt.Errorf("resolve clinic: %w", err)
		}

		expanded, err := expandRow(doctor.ID, cl.ID, row)
		if err != nil {
			return 0, fmt.Errorf("%w: row %d: %v", ErrBadBatch, i+1, err)
		}

		doctorSet[doctor.ID] = true
		slots = append(slots, expanded...)
	}

	doctorIDs := make([]uuid.UUID, 0, len(doctorSet))
	for id := range doctorSet {
		doctorIDs = append(doctorIDs, id)
	}

	from := monthStart.Format(clinic.DateLayout)
	to := monthEnd.Format(clinic.DateLayout)
	if err := ing.schedules.ReplaceRange(ctx, doctorIDs, from, to, slots); err != nil {
		return 0, fmt.Errorf("replace slots: %w", err)
	}

	ing.log.Info().
		Str("month", month).
		Int("rows", len(rows)).
		Int("slots", len(slots)).
		Int("doctors", len(doctorIDs)).
		Msg("schedule batch applied")

	return len(slots), nil
}

// expandRow subdivides [start, end) into fixed-duration slots. A slot is only
// emitted when its full duration fits before end.
func expandRow(doctorID, clinicID uuid.UUID, row Row) ([]clinic.ScheduleSlot, error) {
	start, _ := time.Parse(clinic.TimeLayout, row.Start)
	end, _ := time.Parse(clinic.TimeLayout, row.End)
	if !start.Before(end) {
		return nil, fmt.Errorf("start %s is not before end %s", row.Start, row.End)
	}

	step := time.Duration(row.DurationMinutes) * time.Minute

	var slots []clinic.ScheduleSlot
	for t := start; !t.Add(step).After(end); t = t.Add(step) {
		slots = append(slots, clinic.ScheduleSlot{
			DoctorID:        doctorID,
			ClinicID:        clinicID,
			VisitDate:       row.Date,
			StartTime:       t.Format(clinic.TimeLayout),
			EndTime:         t.Add(step).Format(clinic.TimeLayout),
			DurationMinutes: row.DurationMinutes,
		})
	}
	return slots, nil
}

func (ing *Ingestor) doctorIndex(ctx context.Context) (map[string]clinic.User, error) {
	doctors, err := ing.users.DoctorsAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}

	index := make(map[string]clinic.User, len(doctors))
	for _, d := range doctors {
		index[normalizeName(d.FullName)] = d
	}
	return index, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
