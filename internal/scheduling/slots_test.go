package scheduling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slotTimes(slots []Slot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Start.String()
	}
	return out
}

func TestGenerateSlotsPlainDay(t *testing.T) {
	slots := GenerateSlots(md(8, 0), md(16, 0), nil, 30, nil)

	require.Len(t, slots, 16)
	assert.Equal(t, md(8, 0), slots[0].Start)
	assert.Equal(t, 1, slots[0].Token)
	assert.Equal(t, md(15, 30), slots[15].Start)
	assert.Equal(t, 16, slots[15].Token)
}

func TestGenerateSlotsBreakExclusion(t *testing.T) {
	brk := &Window{Start: md(12, 0), End: md(13, 0)}
	slots := GenerateSlots(md(8, 0), md(16, 0), brk, 30, nil)

	// 12:00 and 12:30 fall inside the break; 11:30 and 13:00 survive.
	times := slotTimes(slots)
	assert.Contains(t, times, "11:30")
	assert.Contains(t, times, "13:00")
	assert.NotContains(t, times, "12:00")
	assert.NotContains(t, times, "12:30")
	assert.Len(t, slots, 14)
}

func TestGenerateSlotsTokensContiguousAcrossBreak(t *testing.T) {
	brk := &Window{Start: md(12, 0), End: md(13, 0)}
	slots := GenerateSlots(md(8, 0), md(16, 0), brk, 30, nil)

	for i, s := range slots {
		assert.Equal(t, i+1, s.Token, "token at position %d", i)
	}
}

func TestGenerateSlotsDeterministic(t *testing.T) {
	brk := &Window{Start: md(12, 0), End: md(13, 0)}
	blocked := []Window{{Start: md(9, 0), End: md(10, 0)}}

	first := GenerateSlots(md(8, 0), md(16, 0), brk, 30, blocked)
	second := GenerateSlots(md(8, 0), md(16, 0), brk, 30, blocked)

	assert.Equal(t, first, second)
}

func TestGenerateSlotsPartialTailNotEmitted(t *testing.T) {
	// 08:00-09:50 with 30 min slots: 08:00, 08:30, 09:00; the 09:30 slot
	// would overrun 09:50 and is dropped rather than shortened.
	slots := GenerateSlots(md(8, 0), md(9, 50), nil, 30, nil)
	assert.Equal(t, []string{"08:00", "08:30", "09:00"}, slotTimes(slots))
}

func TestGenerateSlotsExactBoundaryFits(t *testing.T) {
	// A slot ending exactly at closing time is allowed.
	slots := GenerateSlots(md(8, 0), md(9, 0), nil, 30, nil)
	assert.Equal(t, []string{"08:00", "08:30"}, slotTimes(slots))
}

func TestGenerateSlotsBreakConsumesWindow(t *testing.T) {
	brk := &Window{Start: md(8, 0), End: md(16, 0)}
	slots := GenerateSlots(md(8, 0), md(16, 0), brk, 30, nil)
	assert.Empty(t, slots)
}

func TestGenerateSlotsBlockedWindows(t *testing.T) {
	blocked := []Window{{Start: md(10, 0), End: md(11, 0)}}
	slots := GenerateSlots(md(8, 0), md(12, 0), nil, 30, blocked)

	times := slotTimes(slots)
	assert.NotContains(t, times, "10:00")
	assert.NotContains(t, times, "10:30")
	assert.Contains(t, times, "11:00")
	// Tokens stay contiguous across the blocked gap.
	for i, s := range slots {
		assert.Equal(t, i+1, s.Token)
	}
}

func TestGenerateSlotsDegenerateInputs(t *testing.T) {
	assert.Empty(t, GenerateSlots(md(16, 0), md(8, 0), nil, 30, nil))
	assert.Empty(t, GenerateSlots(md(8, 0), md(16, 0), nil, 0, nil))
}
