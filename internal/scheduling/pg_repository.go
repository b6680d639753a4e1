package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// activeStatuses are the statuses that hold a slot. Cancelled and no-show
// rows free the time; the partial unique index in the schema uses the same
// predicate.
const activeStatusPredicate = `status NOT IN ('cancelled', 'no_show')`

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.ClinicID,
		&d.Name,
		&specialty,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	var weekdays []int32
	var start, end int
	var breakStart, breakEnd *int
	var durationMinutes, targetTokens, calculated *int

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.ClinicID,
		&s.Kind,
		&weekdays,
		&start,
		&end,
		&breakStart,
		&breakEnd,
		&s.EffectiveFrom,
		&s.EffectiveTo,
		&s.Policy,
		&durationMinutes,
		&targetTokens,
		&calculated,
		&s.Active,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	s.Weekdays = make([]time.Weekday, len(weekdays))
	for i, wd := range weekdays {
		s.Weekdays[i] = time.Weekday(wd)
	}
	s.StartTime = MinuteOfDay(start)
	s.EndTime = MinuteOfDay(end)
	s.BreakStart = minutePtr(breakStart)
	s.BreakEnd = minutePtr(breakEnd)
	s.DurationMinutes = durationMinutes
	s.TargetTokensPerDay = targetTokens
	s.CalculatedDurationMinutes = calculated
	return &s, nil
}

func scanUnavailability(row pgx.Row) (*Unavailability, error) {
	var u Unavailability
	var start, end *int

	err := row.Scan(
		&u.ID,
		&u.DoctorID,
		&u.Date,
		&start,
		&end,
		&u.Kind,
		&u.Reason,
		&u.Recurring,
		&u.RecurrenceEnd,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.StartTime = minutePtr(start)
	u.EndTime = minutePtr(end)
	return &u, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var startMinute int

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.ClinicID,
		&a.Date,
		&startMinute,
		&a.DurationMinutes,
		&a.TokenNumber,
		&a.Status,
		&a.DurationOverridden,
		&a.OriginalDurationMinutes,
		&a.OverrideReason,
		&a.ExpiresAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.StartMinute = MinuteOfDay(startMinute)
	return &a, nil
}

func minutePtr(v *int) *MinuteOfDay {
	if v == nil {
		return nil
	}
	m := MinuteOfDay(*v)
	return &m
}

const appointmentColumns = `
	id, doctor_id, patient_id, clinic_id, date, start_minute,
	duration_minutes, token_number, status,
	duration_overridden, original_duration_minutes, override_reason,
	expires_at, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, clinic_id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) ListSchedules(ctx context.Context, doctorID uuid.UUID) ([]*Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, clinic_id, kind, weekdays, start_minute, end_minute,
		       break_start_minute, break_end_minute, effective_from, effective_to,
		       duration_policy, duration_minutes, target_tokens_per_day,
		       calculated_duration_minutes, active, created_at, updated_at
		FROM schedules
		WHERE doctor_id = $1 AND active = true
		ORDER BY created_at DESC
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ListUnavailability(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*Unavailability, error) {
	// Weekday matching for recurring entries happens in Go; the query only
	// narrows to rows whose anchor date or recurrence range can cover the
	// requested date.
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, date, start_minute, end_minute, kind, reason,
		       recurring, recurrence_end, created_at
		FROM unavailability
		WHERE doctor_id = $1
		  AND (date = $2
		       OR (recurring = true AND date <= $2
		           AND (recurrence_end IS NULL OR recurrence_end >= $2)))
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Unavailability
	for rows.Next() {
		u, err := scanUnavailability(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CacheCalculatedDuration(ctx context.Context, scheduleID uuid.UUID, minutes int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE schedules
		SET calculated_duration_minutes = $2,
		    updated_at = now()
		WHERE id = $1
	`, scheduleID, minutes)
	if err != nil {
		return fmt.Errorf("cache calculated duration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (r *PgRepository) ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND date = $2 AND `+activeStatusPredicate+`
		ORDER BY start_minute
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetActiveAppointmentAt(ctx context.Context, doctorID uuid.UUID, date time.Time, start MinuteOfDay) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND date = $2 AND start_minute = $3 AND `+activeStatusPredicate+`
	`, doctorID, date, int(start))
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (
			id, doctor_id, patient_id, clinic_id, date, start_minute,
			duration_minutes, token_number, status, expires_at,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentColumns+`
	`, a.ID, a.DoctorID, a.PatientID, a.ClinicID, a.Date, int(a.StartMinute),
		a.DurationMinutes, a.TokenNumber, a.Status, a.ExpiresAt)

	created, err := scanAppointment(row)
	if err != nil {
		// The partial unique index on (doctor_id, date, start_minute) for
		// active rows fires when a concurrent booker won the slot first.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrSlotTaken
		}
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) OverrideAppointmentDuration(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET duration_minutes = $2,
		    duration_overridden = true,
		    original_duration_minutes = $3,
		    override_reason = $4,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, a.ID, a.DurationMinutes, a.OriginalDurationMinutes, a.OverrideReason)

	return scanAppointment(row)
}

func (r *PgRepository) FindExpiredHolds(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled'
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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
