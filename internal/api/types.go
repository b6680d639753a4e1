package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/token-scheduling/internal/scheduling"
)

type SlotResponse struct {
	Time  string `json:"time"`
	Token int    `json:"token"`
}

func toSlotResponses(slots []scheduling.Slot) []SlotResponse {
	out := make([]SlotResponse, len(slots))
	for i, s := range slots {
		out[i] = SlotResponse{Time: s.Start.String(), Token: s.Token}
	}
	return out
}

type TokenResponse struct {
	Token int `json:"token"`
}

type BookAppointmentRequest struct {
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
	ClinicID  string `json:"clinic_id,omitempty"`
	Date      string `json:"date"` // YYYY-MM-DD
	Time      string `json:"time"` // HH:MM
	// Confirmed marks a staff-created booking; guest bookings start as a
	// hold that must be confirmed before it expires.
	Confirmed bool `json:"confirmed"`
}

type OverrideDurationRequest struct {
	DurationMinutes int    `json:"duration_minutes"`
	Reason          string `json:"reason"`
}

type AppointmentResponse struct {
	ID                      uuid.UUID  `json:"id"`
	DoctorID                uuid.UUID  `json:"doctor_id"`
	PatientID               uuid.UUID  `json:"patient_id"`
	ClinicID                uuid.UUID  `json:"clinic_id"`
	Date                    string     `json:"date"`
	Time                    string     `json:"time"`
	DurationMinutes         int        `json:"duration_minutes"`
	Token                   int        `json:"token"`
	Status                  string     `json:"status"`
	DurationOverridden      bool       `json:"duration_overridden,omitempty"`
	OriginalDurationMinutes *int       `json:"original_duration_minutes,omitempty"`
	OverrideReason          *string    `json:"override_reason,omitempty"`
	ExpiresAt               *time.Time `json:"expires_at,omitempty"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                      a.ID,
		DoctorID:                a.DoctorID,
		PatientID:               a.PatientID,
		ClinicID:                a.ClinicID,
		Date:                    a.Date.Format("2006-01-02"),
		Time:                    a.StartMinute.String(),
		DurationMinutes:         a.DurationMinutes,
		Token:                   a.TokenNumber,
		Status:                  string(a.Status),
		DurationOverridden:      a.DurationOverridden,
		OriginalDurationMinutes: a.OriginalDurationMinutes,
		OverrideReason:          a.OverrideReason,
		ExpiresAt:               a.ExpiresAt,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
