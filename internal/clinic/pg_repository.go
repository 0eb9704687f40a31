package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var chatID *int64
	var fullName, phone, specialization *string

	err := row.Scan(
		&u.ID,
		&chatID,
		&u.Role,
		&fullName,
		&phone,
		&specialization,
		&u.Conversation,
		&u.ConversationVersion,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	u.ChatID = chatID
	if fullName != nil {
		u.FullName = *fullName
	}
	if phone != nil {
		u.Phone = *phone
	}
	if specialization != nil {
		u.Specialization = *specialization
	}
	return &u, nil
}

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	var address *string

	err := row.Scan(&c.ID, &c.Name, &address, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}

	if address != nil {
		c.Address = *address
	}
	return &c, nil
}

func scanSlot(row pgx.Row) (*ScheduleSlot, error) {
	var s ScheduleSlot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.ClinicID,
		&s.VisitDate,
		&s.StartTime,
		&s.EndTime,
		&s.DurationMinutes,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var complaint *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.ClinicID,
		&a.VisitDate,
		&a.StartTime,
		&complaint,
		&a.Status,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if complaint != nil {
		a.Complaint = *complaint
	}
	return &a, nil
}

const userColumns = `
	id, chat_id, role, full_name, phone, specialization,
	conversation, conversation_version, created_at, updated_at`

const slotColumns = `
	id, doctor_id, clinic_id,
	to_char(visit_date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
	duration_minutes, created_at`

const appointmentColumns = `
	id, patient_id, doctor_id, clinic_id,
	to_char(visit_date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI'),
	complaint, status, created_at`

// Users

func (r *PgRepository) ByChatID(ctx context.Context, chatID int64) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE chat_id = $1
	`, chatID)
	return scanUser(row)
}

func (r *PgRepository) ByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *PgRepository) ByPhone(ctx context.Context, phone string) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE phone = $1
	`, phone)
	return scanUser(row)
}

func (r *PgRepository) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if len(u.Conversation) == 0 {
		u.Conversation = json.RawMessage(`{}`)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, chat_id, role, full_name, phone, specialization, conversation, conversation_version, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, 0, now(), now())
	`, u.ID, u.ChatID, u.Role, u.FullName, u.Phone, u.Specialization, u.Conversation)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *PgRepository) SaveProfile(ctx context.Context, u *User) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET role = $2,
		    full_name = NULLIF($3, ''),
		    phone = NULLIF($4, ''),
		    specialization = NULLIF($5, ''),
		    updated_at = now()
		WHERE id = $1
	`, u.ID, u.Role, u.FullName, u.Phone, u.Specialization)
	if err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PgRepository) SaveConversation(ctx context.Context, id uuid.UUID, conv json.RawMessage, expectedVersion int) (int, error) {
	var newVersion int
	err := r.pool.QueryRow(ctx, `
		UPDATE users
		SET conversation = $2,
		    conversation_version = conversation_version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND conversation_version = $3
		RETURNING conversation_version
	`, id, conv, expectedVersion).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrStateConflict
		}
		return 0, fmt.Errorf("save conversation: %w", err)
	}
	return newVersion, nil
}

func (r *PgRepository) DoctorsByClinic(ctx context.Context, clinicID uuid.UUID) ([]User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = 'DOCTOR'
		  AND id IN (SELECT doctor_id FROM doctor_clinics WHERE clinic_id = $1)
		ORDER BY created_at, id
	`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectUsers(rows)
}

func (r *PgRepository) DoctorByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1 AND role = 'DOCTOR'
	`, id)
	u, err := scanUser(row)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrDoctorNotFound
	}
	return u, err
}

func (r *PgRepository) DoctorsAll(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = 'DOCTOR'
		ORDER BY full_name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectUsers(rows)
}

func (r *PgRepository) DeleteDoctor(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM users WHERE id = $1 AND role = 'DOCTOR'
	`, id)
	if err != nil {
		return fmt.Errorf("delete doctor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (r *PgRepository) SetDoctorClinics(ctx context.Context, doctorID uuid.UUID, clinicIDs []uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM doctor_clinics WHERE doctor_id = $1`, doctorID); err != nil {
		return fmt.Errorf("clear doctor clinics: %w", err)
	}
	for _, clinicID := range clinicIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO doctor_clinics (doctor_id, clinic_id) VALUES ($1, $2)
		`, doctorID, clinicID); err != nil {
			return fmt.Errorf("link doctor to clinic: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func collectUsers(rows pgx.Rows) ([]User, error) {
	var result []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Clinics

func (r *PgRepository) All(ctx context.Context) ([]Clinic, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, address, created_at
		FROM clinics
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Clinic
	for rows.Next() {
		c, err := scanClinic(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) ByName(ctx context.Context, name string) (*Clinic, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, address, created_at
		FROM clinics
		WHERE name = $1
	`, name)
	return scanClinic(row)
}

func (r *PgRepository) ClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, address, created_at
		FROM clinics
		WHERE id = $1
	`, id)
	return scanClinic(row)
}

func (r *PgRepository) CreateClinic(ctx context.Context, c *Clinic) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO clinics (id, name, address, created_at)
		VALUES ($1, $2, NULLIF($3, ''), now())
	`, c.ID, c.Name, c.Address)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrClinicExists
		}
		return fmt.Errorf("insert clinic: %w", err)
	}
	return nil
}

// Schedule slots

func (r *PgRepository) SlotsForDay(ctx context.Context, doctorID uuid.UUID, date string) ([]ScheduleSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM schedule_slots
		WHERE doctor_id = $1 AND visit_date = $2::date
		ORDER BY start_time
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSlots(rows)
}

func (r *PgRepository) SlotsInRange(ctx context.Context, doctorID uuid.UUID, from, to string) ([]ScheduleSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM schedule_slots
		WHERE doctor_id = $1 AND visit_date >= $2::date AND visit_date <= $3::date
		ORDER BY visit_date, start_time
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSlots(rows)
}

func (r *PgRepository) SlotsForDoctors(ctx context.Context, doctorIDs []uuid.UUID, from, to string) ([]ScheduleSlot, error) {
	if len(doctorIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM schedule_slots
		WHERE doctor_id = ANY($1) AND visit_date >= $2::date AND visit_date <= $3::date
		ORDER BY visit_date, start_time
	`, doctorIDs, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSlots(rows)
}

func (r *PgRepository) SlotExists(ctx context.Context, key SlotKey) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM schedule_slots
			WHERE doctor_id = $1 AND visit_date = $2::date AND start_time = $3::time
		)
	`, key.DoctorID, key.VisitDate, key.StartTime).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PgRepository) ReplaceRange(ctx context.Context, doctorIDs []uuid.UUID, from, to string, slots []ScheduleSlot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM schedule_slots
		WHERE doctor_id = ANY($1) AND visit_date >= $2::date AND visit_date <= $3::date
	`, doctorIDs, from, to); err != nil {
		return fmt.Errorf("delete templated slots: %w", err)
	}

	for i := range slots {
		s := &slots[i]
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO schedule_slots (id, doctor_id, clinic_id, visit_date, start_time, end_time, duration_minutes, created_at)
			VALUES ($1, $2, $3, $4::date, $5::time, $6::time, $7, now())
		`, s.ID, s.DoctorID, s.ClinicID, s.VisitDate, s.StartTime, s.EndTime, s.DurationMinutes); err != nil {
			return fmt.Errorf("insert slot: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func collectSlots(rows pgx.Rows) ([]ScheduleSlot, error) {
	var result []ScheduleSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Appointments

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusPlanned
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, clinic_id, visit_date, start_time, complaint, status, created_at)
		VALUES ($1, $2, $3, $4, $5::date, $6::time, NULLIF($7, ''), $8, now())
	`, a.ID, a.PatientID, a.DoctorID, a.ClinicID, a.VisitDate, a.StartTime, a.Complaint, a.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) AppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) ByPatient(ctx context.Context, patientID uuid.UUID, status AppointmentStatus) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1 AND status = $2
		ORDER BY visit_date, start_time
	`, patientID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ByDoctorsInRange(ctx context.Context, doctorIDs []uuid.UUID, from, to string) ([]Appointment, error) {
	if len(doctorIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = ANY($1) AND visit_date >= $2::date AND visit_date <= $3::date
		ORDER BY visit_date, start_time
	`, doctorIDs, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ByKey(ctx context.Context, key SlotKey) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND visit_date = $2::date AND start_time = $3::time
	`, key.DoctorID, key.VisitDate, key.StartTime)
	return scanAppointment(row)
}

func (r *PgRepository) CompletePast(ctx context.Context, beforeDate, beforeTime string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = 'COMPLETED'
		WHERE status = 'PLANNED'
		  AND (visit_date < $1::date OR (visit_date = $1::date AND start_time < $2::time))
	`, beforeDate, beforeTime)
	if err != nil {
		return 0, fmt.Errorf("complete past appointments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
