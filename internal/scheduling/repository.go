package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrScheduleNotFound    = errors.New("schedule not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Availability inputs. ListSchedules returns every active schedule for
	// the doctor; ListUnavailability returns entries whose anchor date or
	// recurrence range can cover the given date.
	ListSchedules(ctx context.Context, doctorID uuid.UUID) ([]*Schedule, error)
	ListUnavailability(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*Unavailability, error)

	// CacheCalculatedDuration stores the derived token_based duration on the
	// schedule row for reuse until the schedule changes.
	CacheCalculatedDuration(ctx context.Context, scheduleID uuid.UUID, minutes int) error

	// Booking reads and writes.
	ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*Appointment, error)
	GetActiveAppointmentAt(ctx context.Context, doctorID uuid.UUID, date time.Time, start MinuteOfDay) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	OverrideAppointmentDuration(ctx context.Context, a *Appointment) (*Appointment, error)

	// Expiry worker.
	FindExpiredHolds(ctx context.Context, now time.Time) ([]Appointment, error)
}
