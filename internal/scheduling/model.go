package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ScheduleKind string

const (
	KindRegular         ScheduleKind = "regular"
	KindTemporary       ScheduleKind = "temporary"
	KindHolidayCoverage ScheduleKind = "holiday_coverage"
	KindEmergency       ScheduleKind = "emergency"
)

type DurationPolicy string

const (
	PolicyDirect     DurationPolicy = "direct"
	PolicyTokenBased DurationPolicy = "token_based"
)

type UnavailabilityKind string

const (
	UnavailVacation   UnavailabilityKind = "vacation"
	UnavailSickLeave  UnavailabilityKind = "sick_leave"
	UnavailConference UnavailabilityKind = "conference"
	UnavailPersonal   UnavailabilityKind = "personal"
)

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no_show"
)

// MinuteOfDay is a naive clinic-local time of day in minutes since midnight.
type MinuteOfDay int

func (m MinuteOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// ParseMinuteOfDay parses "HH:MM" (24h clock).
func ParseMinuteOfDay(s string) (MinuteOfDay, error) {
	var h, min int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &min); err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || min < 0 || min > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return MinuteOfDay(h*60 + min), nil
}

type Doctor struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Schedule is one availability rule for a doctor. Regular schedules recur on
// Weekdays between EffectiveFrom and EffectiveTo; other kinds are date-bounded
// and take precedence over regular ones on the dates they cover.
type Schedule struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
	ClinicID uuid.UUID
	Kind     ScheduleKind

	Weekdays   []time.Weekday
	StartTime  MinuteOfDay
	EndTime    MinuteOfDay
	BreakStart *MinuteOfDay
	BreakEnd   *MinuteOfDay

	EffectiveFrom time.Time
	EffectiveTo   *time.Time // nil = open-ended (regular) or single-day (other kinds)

	Policy             DurationPolicy
	DurationMinutes    *int // direct policy input
	TargetTokensPerDay *int // token_based policy input
	// CalculatedDurationMinutes caches the token_based derivation; cleared on
	// schedule edits, refreshed on the next resolution.
	CalculatedDurationMinutes *int

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the structural schedule invariants: ordered times, a break
// window inside the working window, an ordered effective range, and exactly
// one active duration-policy input.
func (s *Schedule) Validate() error {
	if s.StartTime >= s.EndTime {
		return validationf("schedule start %s must be before end %s", s.StartTime, s.EndTime)
	}
	if (s.BreakStart == nil) != (s.BreakEnd == nil) {
		return validationf("break start and end must be set together")
	}
	if s.BreakStart != nil {
		if *s.BreakStart >= *s.BreakEnd {
			return validationf("break start %s must be before break end %s", *s.BreakStart, *s.BreakEnd)
		}
		if *s.BreakStart < s.StartTime || *s.BreakEnd > s.EndTime {
			return validationf("break window must lie within working hours")
		}
	}
	if s.EffectiveTo != nil && s.EffectiveTo.Before(s.EffectiveFrom) {
		return validationf("effective end date must not precede effective start date")
	}

	switch s.Policy {
	case PolicyDirect:
		if s.DurationMinutes == nil {
			return validationf("direct duration policy requires duration_minutes")
		}
		if s.TargetTokensPerDay != nil {
			return validationf("direct duration policy must not set target_tokens_per_day")
		}
	case PolicyTokenBased:
		if s.TargetTokensPerDay == nil {
			return validationf("token_based duration policy requires target_tokens_per_day")
		}
		if s.DurationMinutes != nil {
			return validationf("token_based duration policy must not set duration_minutes")
		}
	default:
		return validationf("unknown duration policy %q", s.Policy)
	}

	return nil
}

// breakSpan returns the break length in minutes, zero when no break is set.
func (s *Schedule) breakSpan() int {
	if s.BreakStart == nil || s.BreakEnd == nil {
		return 0
	}
	return int(*s.BreakEnd - *s.BreakStart)
}

// AvailableMinutes is the bookable working span: end - start minus the break.
func (s *Schedule) AvailableMinutes() int {
	return int(s.EndTime-s.StartTime) - s.breakSpan()
}

// Unavailability blocks a doctor for a whole day (no times set) or a
// sub-window of one. Recurring entries repeat weekly on the anchor date's
// weekday through RecurrenceEnd.
type Unavailability struct {
	ID            uuid.UUID
	DoctorID      uuid.UUID
	Date          time.Time
	StartTime     *MinuteOfDay
	EndTime       *MinuteOfDay
	Kind          UnavailabilityKind
	Reason        string
	Recurring     bool
	RecurrenceEnd *time.Time
	CreatedAt     time.Time
}

// FullDay reports whether the entry blocks the entire day.
func (u *Unavailability) FullDay() bool {
	return u.StartTime == nil && u.EndTime == nil
}

// coversDate reports whether the entry applies to the given calendar date,
// accounting for weekly recurrence.
func (u *Unavailability) coversDate(date time.Time) bool {
	if sameDate(u.Date, date) {
		return true
	}
	if !u.Recurring || u.RecurrenceEnd == nil {
		return false
	}
	if date.Before(u.Date) || date.After(endOfDay(*u.RecurrenceEnd)) {
		return false
	}
	return u.Date.Weekday() == date.Weekday()
}

type Appointment struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	ClinicID  uuid.UUID

	Date        time.Time
	StartMinute MinuteOfDay
	// DurationMinutes is copied from the resolved slot at booking time so a
	// later schedule edit cannot retroactively change booked appointments.
	DurationMinutes int
	TokenNumber     int

	Status AppointmentStatus

	DurationOverridden      bool
	OriginalDurationMinutes *int
	OverrideReason          *string

	// ExpiresAt is set on unconfirmed guest holds; the expiry worker cancels
	// holds that pass this deadline without confirmation.
	ExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether no further status transitions are allowed.
func (a *Appointment) Terminal() bool {
	switch a.Status {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func endOfDay(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 23, 59, 59, 0, d.Location())
}
