package clockalign

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextBoundaryStrictlyGreaterAndAligned(t *testing.T) {
	for _, interval := range []int{1, 5, 15, 30, 60} {
		for minute := 0; minute < 1440; minute++ {
			next := NextBoundary(minute, interval)
			require.Greater(t, next, minute, "interval=%d minute=%d", interval, minute)
			if next != 1440 {
				require.Zero(t, next%interval, "interval=%d minute=%d", interval, minute)
			}
		}
	}
}

func TestNextBoundaryClampsAtMidnight(t *testing.T) {
	assert.Equal(t, 1440, NextBoundary(1439, 60))
	assert.Equal(t, 1440, NextBoundary(1435, 30))
}

func TestNextBoundaryNonPositiveIntervalTreatedAsOne(t *testing.T) {
	assert.Equal(t, 8, NextBoundary(7, 0))
	assert.Equal(t, 8, NextBoundary(7, -5))
}

func TestSleepDurationLandsOnBoundary(t *testing.T) {
	now := time.Date(2026, 2, 20, 9, 17, 30, 0, time.UTC)
	d := SleepDuration(now, 30)
	assert.Equal(t, time.Date(2026, 2, 20, 9, 30, 0, 0, time.UTC), now.Add(d))
}

func TestSleepDurationRollsOverMidnight(t *testing.T) {
	now := time.Date(2026, 2, 20, 23, 45, 0, 0, time.UTC)
	d := SleepDuration(now, 60)
	assert.Equal(t, time.Date(2026, 2, 21, 0, 0, 0, 0, time.UTC), now.Add(d))
}

func TestDeviatesFromTarget(t *testing.T) {
	target := time.Date(2026, 2, 20, 9, 30, 0, 0, time.UTC)
	assert.False(t, DeviatesFromTarget(target.Add(90*time.Second), target))
	assert.False(t, DeviatesFromTarget(target.Add(-90*time.Second), target))
	assert.True(t, DeviatesFromTarget(target.Add(3*time.Minute), target))
	assert.True(t, DeviatesFromTarget(target.Add(-3*time.Minute), target))
}

func TestInQuietHoursInsideWindow(t *testing.T) {
	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	quiet, _ := InQuietHours(now, "08:00", "22:00")
	assert.False(t, quiet)
}

func TestInQuietHoursBeforeWindowJumpsToTodayStart(t *testing.T) {
	now := time.Date(2026, 2, 20, 6, 0, 0, 0, time.UTC)
	quiet, jumpTo := InQuietHours(now, "08:00", "22:00")
	require.True(t, quiet)
	assert.Equal(t, time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC), jumpTo)
}

func TestInQuietHoursAfterWindowJumpsToTomorrowStart(t *testing.T) {
	now := time.Date(2026, 2, 20, 23, 0, 0, 0, time.UTC)
	quiet, jumpTo := InQuietHours(now, "08:00", "22:00")
	require.True(t, quiet)
	assert.Equal(t, time.Date(2026, 2, 21, 8, 0, 0, 0, time.UTC), jumpTo)
}

func TestInQuietHoursWindowCrossingMidnight(t *testing.T) {
	// Active 22:00 -> 06:00: 23:30 and 05:00 are active, 12:00 is quiet.
	quiet, _ := InQuietHours(time.Date(2026, 2, 20, 23, 30, 0, 0, time.UTC), "22:00", "06:00")
	assert.False(t, quiet)
	quiet, _ = InQuietHours(time.Date(2026, 2, 20, 5, 0, 0, 0, time.UTC), "22:00", "06:00")
	assert.False(t, quiet)
	quiet, jumpTo := InQuietHours(time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC), "22:00", "06:00")
	require.True(t, quiet)
	assert.Equal(t, time.Date(2026, 2, 20, 22, 0, 0, 0, time.UTC), jumpTo)
}

func TestInQuietHoursUnparseableWindowNeverQuiet(t *testing.T) {
	quiet, _ := InQuietHours(time.Now(), "8am", "10pm")
	assert.False(t, quiet)
}
