package scheduling

import "math"

const (
	// MinDurationMinutes and MaxDurationMinutes bound every appointment
	// duration, whether configured directly or derived from a token target.
	MinDurationMinutes = 5
	MaxDurationMinutes = 240

	durationStep = 5 // derived durations snap to 5-minute multiples
)

// ResolveDuration returns the effective per-appointment duration for a
// schedule. For the direct policy it validates the configured value; for the
// token_based policy it derives the duration from the daily token target,
// rounded half-up to the nearest 5 minutes. A cached derivation is returned
// as-is when present (the cache is cleared on schedule edits, so non-nil
// means fresh); the result is not persisted here, callers write the cache
// via the repository when it is missing.
func ResolveDuration(s *Schedule) (int, error) {
	available := s.AvailableMinutes()
	if available <= 0 {
		return 0, validationf("schedule has no available working minutes")
	}

	switch s.Policy {
	case PolicyDirect:
		if s.DurationMinutes == nil || *s.DurationMinutes <= 0 {
			return 0, validationf("direct duration policy requires duration_minutes")
		}
		d := *s.DurationMinutes
		if d < MinDurationMinutes || d > MaxDurationMinutes {
			return 0, validationf("duration %d min is outside the allowed %d-%d min range", d, MinDurationMinutes, MaxDurationMinutes)
		}
		if d > available {
			return 0, validationf("duration %d min exceeds the %d available working minutes", d, available)
		}
		return d, nil

	case PolicyTokenBased:
		if c := s.CalculatedDurationMinutes; c != nil &&
			*c >= MinDurationMinutes && *c <= MaxDurationMinutes {
			return *c, nil
		}
		if s.TargetTokensPerDay == nil || *s.TargetTokensPerDay <= 0 {
			return 0, validationf("token_based duration policy requires a positive target_tokens_per_day")
		}
		target := *s.TargetTokensPerDay

		raw := float64(available) / float64(target)
		rounded := int(math.Round(raw/durationStep)) * durationStep

		if rounded < MinDurationMinutes {
			return 0, validationf("target of %d tokens per day yields %.1f min per appointment, below the %d min minimum; lower the target", target, raw, MinDurationMinutes)
		}
		if rounded > MaxDurationMinutes {
			return 0, validationf("target of %d tokens per day yields %.1f min per appointment, above the %d min maximum; raise the target", target, raw, MaxDurationMinutes)
		}
		return rounded, nil

	default:
		return 0, validationf("schedule has no duration policy")
	}
}
