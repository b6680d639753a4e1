package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/token-scheduling/internal/config"
	redisclient "github.com/clinicore/token-scheduling/internal/redis"
)

var (
	// ErrHoldExpired is returned when confirming a guest hold whose
	// confirmation deadline has passed.
	ErrHoldExpired = errors.New("booking hold has expired")
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
	log    zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    log,
	}
}

// availabilityFor builds the schedule-for-date view and refreshes the cached
// token_based duration when the derivation changed. The cache write is
// best-effort; a failure never fails the read path.
func (s *Service) availabilityFor(ctx context.Context, doctorID uuid.UUID, date time.Time) (*DayAvailability, error) {
	schedules, err := s.repo.ListSchedules(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}

	unavailability, err := s.repo.ListUnavailability(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list unavailability: %w", err)
	}

	avail, err := ResolveAvailability(schedules, unavailability, date)
	if err != nil {
		return nil, err
	}

	sched := avail.Schedule
	if sched.Policy == PolicyTokenBased &&
		(sched.CalculatedDurationMinutes == nil || *sched.CalculatedDurationMinutes != avail.Duration) {
		if err := s.repo.CacheCalculatedDuration(ctx, sched.ID, avail.Duration); err != nil {
			s.log.Warn().Err(err).
				Str("schedule_id", sched.ID.String()).
				Msg("failed to cache calculated duration")
		}
	}

	return avail, nil
}

// ListAllSlots returns the full generated slot sequence for a doctor and
// date, independent of bookings. A date with no schedule or a full-day block
// yields an empty sequence rather than an error.
func (s *Service) ListAllSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	avail, err := s.availabilityFor(ctx, doctorID, date)
	if err != nil {
		if errors.Is(err, ErrNoSchedule) || errors.Is(err, ErrDoctorUnavailable) {
			return []Slot{}, nil
		}
		return nil, err
	}

	return avail.Slots(), nil
}

// ListAvailableSlots returns the generated sequence minus every start time
// held by an active appointment. Availability is recomputed from current
// rows on each call, so cancelled slots reappear automatically.
func (s *Service) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	all, err := s.ListAllSlots(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return all, nil
	}

	active, err := s.repo.ListActiveAppointments(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list active appointments: %w", err)
	}

	taken := make(map[MinuteOfDay]struct{}, len(active))
	for _, a := range active {
		taken[a.StartMinute] = struct{}{}
	}

	available := make([]Slot, 0, len(all))
	for _, slot := range all {
		if _, ok := taken[slot.Start]; !ok {
			available = append(available, slot)
		}
	}

	return available, nil
}

// TokenFor resolves the token number of one start time within the generated
// sequence, regardless of whether the slot is currently booked.
func (s *Service) TokenFor(ctx context.Context, doctorID uuid.UUID, date time.Time, start MinuteOfDay) (int, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return 0, err
	}

	avail, err := s.availabilityFor(ctx, doctorID, date)
	if err != nil {
		return 0, err
	}

	for _, slot := range avail.Slots() {
		if slot.Start == start {
			return slot.Token, nil
		}
	}

	return 0, ErrSlotNotInSchedule
}

type BookingRequest struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	// ClinicID, when set, must match the doctor's clinic.
	ClinicID uuid.UUID
	Date     time.Time
	Start    MinuteOfDay
	// StaffBooked bookings are confirmed immediately; guest bookings are
	// created as a scheduled hold with a confirmation deadline.
	StaffBooked bool
}

// Book validates the requested slot against the generated sequence and
// atomically creates the appointment with its token. The per-slot lock plus
// the repository's active-appointment uniqueness guarantee that of two
// simultaneous callers exactly one succeeds; the loser gets ErrSlotTaken or
// ErrSlotBeingBooked and should re-fetch available slots.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	doctor, err := s.repo.GetDoctorByID(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	if req.ClinicID != uuid.Nil && doctor.ClinicID != req.ClinicID {
		return nil, ErrWrongClinic
	}

	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		return nil, err
	}

	avail, err := s.availabilityFor(ctx, req.DoctorID, req.Date)
	if err != nil {
		return nil, err
	}

	token := 0
	for _, slot := range avail.Slots() {
		if slot.Start == req.Start {
			token = slot.Token
			break
		}
	}
	if token == 0 {
		return nil, ErrSlotNotInSchedule
	}

	var created *Appointment

	err = s.locker.WithSlotLock(ctx, req.DoctorID, req.Date, int(req.Start), func(lockCtx context.Context) error {
		// Inside the critical section re-check for an active appointment on
		// this exact slot before inserting.
		existing, err := s.repo.GetActiveAppointmentAt(lockCtx, req.DoctorID, req.Date, req.Start)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check active appointment: %w", err)
		}
		if existing != nil {
			return ErrSlotTaken
		}

		appt := &Appointment{
			ID:              uuid.New(),
			DoctorID:        req.DoctorID,
			PatientID:       req.PatientID,
			ClinicID:        doctor.ClinicID,
			Date:            req.Date,
			StartMinute:     req.Start,
			DurationMinutes: avail.Duration,
			TokenNumber:     token,
			Status:          StatusScheduled,
		}
		if req.StaffBooked {
			appt.Status = StatusConfirmed
		} else {
			expiresAt := time.Now().Add(s.cfg.HoldTTL)
			appt.ExpiresAt = &expiresAt
		}

		created, err = s.repo.CreateAppointment(lockCtx, appt)
		if err != nil {
			return err
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", req.DoctorID.String()).
		Str("date", req.Date.Format("2006-01-02")).
		Str("time", created.StartMinute.String()).
		Int("token", created.TokenNumber).
		Msg("appointment booked")

	return created, nil
}

// Confirm moves a scheduled hold to confirmed. A hold past its deadline is
// cancelled instead and reported as expired.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if appt.Status != StatusScheduled {
		return nil, ErrInvalidTransition
	}

	if appt.ExpiresAt != nil && appt.ExpiresAt.Before(time.Now()) {
		_, updErr := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusScheduled, StatusCancelled)
		if updErr != nil && !errors.Is(updErr, ErrAppointmentNotFound) {
			s.log.Error().Err(updErr).
				Str("appointment_id", appt.ID.String()).
				Msg("failed to cancel expired hold during confirm")
		}
		return nil, ErrHoldExpired
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusScheduled, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race with a concurrent transition.
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	return updated, nil
}

// Cancel flips an appointment to cancelled. No token bookkeeping is needed:
// slot availability is recomputed from current rows, so the freed time is
// immediately bookable again under its original token.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCancelled, StatusScheduled, StatusConfirmed, StatusInProgress)
}

// Start marks a confirmed appointment as in progress.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusInProgress, StatusConfirmed)
}

// Complete marks an in-progress appointment as completed.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted, StatusInProgress)
}

// MarkNoShow records that the patient never arrived.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusNoShow, StatusScheduled, StatusConfirmed)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to AppointmentStatus, allowedFrom ...AppointmentStatus) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, from := range allowedFrom {
		if appt.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	return updated, nil
}

// OverrideDuration replaces one appointment's duration, keeping the original
// value and a mandatory justification. It deliberately does not regenerate
// slots or re-validate neighbouring appointments.
func (s *Service) OverrideDuration(ctx context.Context, id uuid.UUID, minutes int, reason string) (*Appointment, error) {
	if minutes < MinDurationMinutes || minutes > MaxDurationMinutes {
		return nil, validationf("override duration %d min is outside the allowed %d-%d min range", minutes, MinDurationMinutes, MaxDurationMinutes)
	}
	if reason == "" {
		return nil, validationf("override reason is required")
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Terminal() {
		return nil, ErrInvalidTransition
	}

	if !appt.DurationOverridden {
		original := appt.DurationMinutes
		appt.OriginalDurationMinutes = &original
	}
	appt.DurationOverridden = true
	appt.DurationMinutes = minutes
	appt.OverrideReason = &reason

	updated, err := s.repo.OverrideAppointmentDuration(ctx, appt)
	if err != nil {
		return nil, fmt.Errorf("override appointment duration: %w", err)
	}

	s.log.Info().
		Str("appointment_id", updated.ID.String()).
		Int("duration_minutes", minutes).
		Msg("appointment duration overridden")

	return updated, nil
}

// CancelExpiredHolds is called periodically by the expiry worker to release
// slots held by guest bookings that were never confirmed.
func (s *Service) CancelExpiredHolds(ctx context.Context) error {
	now := time.Now()
	expired, err := s.repo.FindExpiredHolds(ctx, now)
	if err != nil {
		return fmt.Errorf("find expired holds: %w", err)
	}

	for _, appt := range expired {
		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusScheduled, StatusCancelled)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			s.log.Error().Err(err).
				Str("appointment_id", appt.ID.String()).
				Msg("failed to cancel expired hold")
			continue
		}
		s.log.Info().
			Str("appointment_id", appt.ID.String()).
			Msg("expired hold cancelled")
	}

	return nil
}

// GetAppointment retrieves a single appointment by ID.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}
