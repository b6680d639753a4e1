package scheduling

// Slot is one bookable start time and its token number. Tokens are the
// 1-based rank of the slot among all emitted slots for the day, so a break
// window leaves a gap in wall-clock time but never in token numbering.
type Slot struct {
	Start MinuteOfDay
	Token int
}

// Window is a half-open [Start, End) minute range within one day.
type Window struct {
	Start MinuteOfDay
	End   MinuteOfDay
}

func (w Window) contains(t MinuteOfDay) bool {
	return w.Start <= t && t < w.End
}

// GenerateSlots produces the ordered slot sequence for one resolved working
// window. Candidate starts advance from start in fixed strides of duration
// minutes; a candidate is emitted iff the full appointment fits before end
// and the start does not fall inside the break window or any blocked window.
//
// The function is pure: for fixed inputs it always reproduces the same
// slot-to-token mapping, which is what lets a cancelled slot be re-offered
// under its original token.
func GenerateSlots(start, end MinuteOfDay, brk *Window, duration int, blocked []Window) []Slot {
	if duration <= 0 || start >= end {
		return nil
	}

	slots := make([]Slot, 0, int(end-start)/duration)
	token := 1

	for t := start; t+MinuteOfDay(duration) <= end; t += MinuteOfDay(duration) {
		if brk != nil && brk.contains(t) {
			continue
		}
		if inAny(blocked, t) {
			continue
		}
		slots = append(slots, Slot{Start: t, Token: token})
		token++
	}

	return slots
}

func inAny(windows []Window, t MinuteOfDay) bool {
	for _, w := range windows {
		if w.contains(t) {
			return true
		}
	}
	return false
}

// breakWindow returns the schedule's break as a Window, nil when unset.
func breakWindow(s *Schedule) *Window {
	if s.BreakStart == nil || s.BreakEnd == nil {
		return nil
	}
	return &Window{Start: *s.BreakStart, End: *s.BreakEnd}
}
