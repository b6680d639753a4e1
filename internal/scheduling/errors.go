package scheduling

import (
	"errors"
	"fmt"
)

var (
	// Availability outcomes.
	ErrNoSchedule        = errors.New("doctor has no schedule for this date")
	ErrDoctorUnavailable = errors.New("doctor is unavailable on this date")
	ErrSlotNotInSchedule = errors.New("requested time is not a bookable slot")

	// Booking conflicts.
	ErrSlotTaken       = errors.New("slot already has an active appointment")
	ErrSlotBeingBooked = errors.New("slot is currently being booked, please retry")

	// State machine.
	ErrInvalidTransition = errors.New("operation not allowed in current appointment status")

	// Tenancy.
	ErrWrongClinic = errors.New("doctor does not belong to this clinic")
)

// ValidationError marks malformed or out-of-policy input. The caller can
// always recover by correcting the request; it is never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
