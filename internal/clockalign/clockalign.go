// Package clockalign provides the clock-boundary wake and quiet-hours
// arithmetic shared by the scheduler and heartbeat loops: both wake on a
// clock boundary of their poll period and must tolerate a wall-clock
// jump from a system sleep. Plain functions, no hidden state.
package clockalign

import "time"

// NextBoundary returns the next minute-of-day, strictly greater than
// currentMinute, that is a multiple of interval, or 1440 if no smaller
// multiple remains before midnight (interval must divide evenly into a
// day in the common case, but this still terminates correctly when it
// doesn't).
func NextBoundary(currentMinute, interval int) int {
	if interval <= 0 {
		interval = 1
	}
	next := ((currentMinute / interval) + 1) * interval
	if next > 1440 {
		return 1440
	}
	return next
}

// WallClockTolerance is how far the observed clock may deviate from an
// intended wake boundary before the loop treats it as a system-sleep
// jump and recomputes instead of firing.
const WallClockTolerance = 2 * time.Minute

// DeviatesFromTarget reports whether now differs from target by more
// than WallClockTolerance in either direction.
func DeviatesFromTarget(now, target time.Time) bool {
	diff := now.Sub(target)
	if diff < 0 {
		diff = -diff
	}
	return diff > WallClockTolerance
}

// SleepDuration computes how long to sleep from now until the next
// boundary of interval minutes counted from local midnight, e.g. for a
// 30-minute interval this yields :00 or :30.
func SleepDuration(now time.Time, intervalMinutes int) time.Duration {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	currentMinute := int(now.Sub(midnight).Minutes())
	nextMinute := NextBoundary(currentMinute, intervalMinutes)
	target := midnight.Add(time.Duration(nextMinute) * time.Minute)
	if !target.After(now) {
		target = target.Add(24 * time.Hour)
	}
	return target.Sub(now)
}

// QuietHoursWindow parses "HH:MM" start/end strings into today's (or an
// appropriately shifted) time.Time pair relative to now, handling a
// window that crosses midnight (end <= start means the window wraps to
// the next day).
func QuietHoursWindow(now time.Time, start, end string) (activeStart, activeEnd time.Time, ok bool) {
	s, err1 := time.ParseInLocation("15:04", start, now.Location())
	e, err2 := time.ParseInLocation("15:04", end, now.Location())
	if err1 != nil || err2 != nil {
		return time.Time{}, time.Time{}, false
	}
	activeStart = time.Date(now.Year(), now.Month(), now.Day(), s.Hour(), s.Minute(), 0, 0, now.Location())
	activeEnd = time.Date(now.Year(), now.Month(), now.Day(), e.Hour(), e.Minute(), 0, 0, now.Location())
	if !activeEnd.After(activeStart) {
		activeEnd = activeEnd.Add(24 * time.Hour)
	}
	return activeStart, activeEnd, true
}

// InQuietHours reports whether now falls outside [activeStart, activeEnd),
// and if so, the moment the loop should jump ahead to (the next
// occurrence of activeStart).
func InQuietHours(now time.Time, start, end string) (quiet bool, jumpTo time.Time) {
	activeStart, activeEnd, ok := QuietHoursWindow(now, start, end)
	if !ok {
		return false, time.Time{}
	}
	// Also consider yesterday's window in case now is before today's
	// activeStart but after a window that began yesterday and crossed
	// midnight.
	prevStart := activeStart.Add(-24 * time.Hour)
	prevEnd := activeEnd.Add(-24 * time.Hour)
	if (now.Equal(activeStart) || now.After(activeStart)) && now.Before(activeEnd) {
		return false, time.Time{}
	}
	if (now.Equal(prevStart) || now.After(prevStart)) && now.Before(prevEnd) {
		return false, time.Time{}
	}
	if now.Before(activeStart) {
		return true, activeStart
	}
	return true, activeStart.Add(24 * time.Hour)
}
