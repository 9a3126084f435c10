package timeutils

import "time"

// SlotsPerDay is the number of 15-minute slots in a price/schedule day.
const SlotsPerDay = 96

// SlotDuration is the width of a single price/schedule slot.
const SlotDuration = 15 * time.Minute

// WindowAnchorHour is the wall-clock hour at which a price/schedule day begins and ends (22:00).
const WindowAnchorHour = 22

// WindowStart returns the start of the 22:00-anchored 96-slot window that `target` (a calendar date, time
// of day ignored) belongs to, i.e. 22:00 on the previous calendar day in loc.
func WindowStart(target time.Time, loc *time.Location) time.Time {
	target = target.In(loc)
	start := time.Date(target.Year(), target.Month(), target.Day(), WindowAnchorHour, 0, 0, 0, loc)
	return start.AddDate(0, 0, -1)
}

// SlotIndexAt returns the slot index (0..95) of t within the window WindowStart(t, loc) returns (22:00 on
// the previous day up to 22:00 on t's date), and whether t falls within it (i.e. 0 <= index < SlotsPerDay).
// Times from 22:00 onwards on t's date fall outside it and report false.
func SlotIndexAt(t time.Time, loc *time.Location) (int, bool) {
	windowStart := WindowStart(t, loc)
	idx := int(t.Sub(windowStart) / SlotDuration)
	if idx < 0 || idx >= SlotsPerDay {
		return 0, false
	}
	return idx, true
}

// HourOfSlot returns the hour-offset (0-23) used to index `always_on_hours`/`always_off_hours` sets for the
// slot at the given index within a 22:00-anchored day: slot offset of hour h is ((h-22) mod 24) * 4.
func HourOfSlot(slotIndex int) int {
	return (WindowAnchorHour + slotIndex/4) % 24
}

// SlotOffsetForHour returns the slot index of the first of the four 15-minute slots belonging to wall-clock
// hour h within a 22:00-anchored day.
func SlotOffsetForHour(h int) int {
	return ((h - WindowAnchorHour + 24) % 24) * 4
}
