package marker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStripsRecognizedMarkersOnly(t *testing.T) {
	text := "Hello there.\nSCHEDULE: Call mom | 2026-02-21T17:00:00 | once\nNOT_A_MARKER: kept\nBye."
	p := Parse(text)

	assert.Equal(t, "Hello there.\nNOT_A_MARKER: kept\nBye.", p.CleanText)
	require.Len(t, p.Markers, 1)
	assert.Equal(t, KindSchedule, p.Markers[0].Kind)

	f, err := p.Markers[0].AsSchedule()
	require.NoError(t, err)
	assert.Equal(t, "Call mom", f.Description)
	assert.Equal(t, "2026-02-21T17:00:00", f.DueAt)
	assert.Equal(t, "once", f.Repeat)
}

func TestScheduleRoundTrip(t *testing.T) {
	f := ScheduleFields{Description: "Call mom", DueAt: "2026-02-21T17:00:00", Repeat: "weekly"}
	line := FormatScheduleLine(false, f)
	p := Parse(line)
	require.Len(t, p.Markers, 1)
	got, err := p.Markers[0].AsSchedule()
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestScheduleActionRoundTrip(t *testing.T) {
	f := ScheduleFields{Description: "Check the CI pipeline", DueAt: "2026-03-01 09:00:00", Repeat: "daily"}
	line := FormatScheduleLine(true, f)
	p := Parse(line)
	require.Len(t, p.Markers, 1)
	assert.Equal(t, KindScheduleAction, p.Markers[0].Kind)
}

func TestDefaultRepeatIsOnce(t *testing.T) {
	p := Parse("SCHEDULE: Water the plants | 2026-04-01T08:00:00 |")
	f, err := p.Markers[0].AsSchedule()
	require.NoError(t, err)
	assert.Equal(t, "once", f.Repeat)
}

func TestStripAllRemainingIsFixedPoint(t *testing.T) {
	text := "Some reply.\n  SCHEDULE:weird spacing | x | y\nmore text"
	once := StripAllRemaining(text)
	twice := StripAllRemaining(once)
	assert.Equal(t, once, twice)
	assert.NotContains(t, once, "SCHEDULE")
}

func TestHeartbeatIntervalRange(t *testing.T) {
	cases := []struct {
		payload string
		wantErr bool
	}{
		{"0", true},
		{"1", false},
		{"1440", false},
		{"1441", true},
		{"abc", true},
	}
	for _, c := range cases {
		m := Marker{Kind: KindHeartbeatInterval, Payload: c.payload}
		_, err := m.AsHeartbeatInterval()
		if c.wantErr {
			assert.Error(t, err, c.payload)
		} else {
			assert.NoError(t, err, c.payload)
		}
	}
}

func TestRewardValidScores(t *testing.T) {
	for _, s := range []string{"-1", "0", "1"} {
		m := Marker{Payload: s + " | scheduling | did well"}
		f, err := m.AsReward()
		require.NoError(t, err)
		assert.Equal(t, "scheduling", f.Domain)
		assert.Equal(t, "did well", f.Lesson)
	}
	m := Marker{Payload: "2 | scheduling | bad"}
	_, err := m.AsReward()
	assert.Error(t, err)
}

func TestActionOutcome(t *testing.T) {
	m := Marker{Payload: "success"}
	o, err := m.AsActionOutcome()
	require.NoError(t, err)
	assert.True(t, o.Success)

	m2 := Marker{Payload: "failed | network timeout"}
	o2, err := m2.AsActionOutcome()
	require.NoError(t, err)
	assert.False(t, o2.Success)
	assert.Equal(t, "network timeout", o2.Reason)

	m3 := Marker{Payload: "maybe"}
	_, err = m3.AsActionOutcome()
	assert.Error(t, err)
}

func TestPersonalityReset(t *testing.T) {
	m := Marker{Payload: "reset"}
	v, reset, err := m.AsPersonality()
	require.NoError(t, err)
	assert.True(t, reset)
	assert.Empty(t, v)

	m2 := Marker{Payload: "sarcastic"}
	v2, reset2, err := m2.AsPersonality()
	require.NoError(t, err)
	assert.False(t, reset2)
	assert.Equal(t, "sarcastic", v2)
}

func TestMultipleMarkersPreserveOrder(t *testing.T) {
	text := "PROJECT_ACTIVATE: alpha\nPROJECT_DEACTIVATE:\nLANG_SWITCH: es"
	p := Parse(text)
	require.Len(t, p.Markers, 3)
	assert.Equal(t, KindProjectActivate, p.Markers[0].Kind)
	assert.Equal(t, KindProjectDeactivate, p.Markers[1].Kind)
	assert.Equal(t, KindLangSwitch, p.Markers[2].Kind)
}
