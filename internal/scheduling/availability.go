package scheduling

import (
	"sort"
	"time"
)

// DayAvailability is the read-only schedule-for-date view: the winning
// schedule, its resolved duration, and any partial unavailability windows to
// exclude on top of the break.
type DayAvailability struct {
	Schedule *Schedule
	Duration int
	Blocked  []Window
}

// Slots generates the full ordered slot sequence for the day.
func (d *DayAvailability) Slots() []Slot {
	return GenerateSlots(d.Schedule.StartTime, d.Schedule.EndTime, breakWindow(d.Schedule), d.Duration, d.Blocked)
}

// ResolveAvailability selects the applicable schedule for a date and
// subtracts unavailability. Returns ErrNoSchedule when no schedule covers the
// date and ErrDoctorUnavailable when a full-day block applies.
func ResolveAvailability(schedules []*Schedule, unavailability []*Unavailability, date time.Time) (*DayAvailability, error) {
	sched := pickSchedule(schedules, date)
	if sched == nil {
		return nil, ErrNoSchedule
	}

	var blocked []Window
	for _, u := range unavailability {
		if !u.coversDate(date) {
			continue
		}
		if u.FullDay() {
			return nil, ErrDoctorUnavailable
		}
		if u.StartTime == nil || u.EndTime == nil {
			// Half-specified windows are treated as full-day blocks rather
			// than silently ignored.
			return nil, ErrDoctorUnavailable
		}
		blocked = append(blocked, Window{Start: *u.StartTime, End: *u.EndTime})
	}

	duration, err := ResolveDuration(sched)
	if err != nil {
		return nil, err
	}

	return &DayAvailability{Schedule: sched, Duration: duration, Blocked: blocked}, nil
}

// pickSchedule applies the documented precedence: among schedules covering
// the date, non-regular kinds beat regular ones, then the most recently
// created wins, with ID ordering as a deterministic last resort.
func pickSchedule(schedules []*Schedule, date time.Time) *Schedule {
	var candidates []*Schedule
	for _, s := range schedules {
		if scheduleApplies(s, date) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		ar, br := a.Kind == KindRegular, b.Kind == KindRegular
		if ar != br {
			return !ar
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.String() > b.ID.String()
	})

	return candidates[0]
}

// scheduleApplies reports whether a schedule covers the given date. Regular
// schedules additionally require a weekday match; non-regular kinds apply to
// every date in their effective range, which collapses to the single
// effective-from date when no end is set.
func scheduleApplies(s *Schedule, date time.Time) bool {
	if !s.Active {
		return false
	}

	if s.Kind == KindRegular {
		if date.Before(startOfDay(s.EffectiveFrom)) {
			return false
		}
		if s.EffectiveTo != nil && date.After(endOfDay(*s.EffectiveTo)) {
			return false
		}
		for _, wd := range s.Weekdays {
			if wd == date.Weekday() {
				return true
			}
		}
		return false
	}

	if s.EffectiveTo == nil {
		return sameDate(s.EffectiveFrom, date)
	}
	return !date.Before(startOfDay(s.EffectiveFrom)) && !date.After(endOfDay(*s.EffectiveTo))
}

func startOfDay(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, d.Location())
}
