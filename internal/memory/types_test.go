package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDueAt(t *testing.T) {
	assert.Equal(t, "2026-02-21 17:00:00", NormalizeDueAt("2026-02-21T17:00:00Z"))
	assert.Equal(t, "2026-02-21 17:00:00", NormalizeDueAt("2026-02-21T17:00:00"))
	assert.Equal(t, "2026-02-21 17:00:00", NormalizeDueAt("2026-02-21 17:00:00"))
	assert.Equal(t, "", NormalizeDueAt(""))
}

func TestNormalizeDueAtIdempotent(t *testing.T) {
	inputs := []string{
		"2026-02-21T17:00:00Z",
		"2026-02-21 17:00:00",
		"2026-12-31T23:59:59",
		"",
	}
	for _, in := range inputs {
		once := NormalizeDueAt(in)
		assert.Equal(t, once, NormalizeDueAt(once), "input %q", in)
	}
}

func TestSystemFactKeysMatchConstants(t *testing.T) {
	for _, key := range []string{
		FactWelcomed, FactPreferredLanguage, FactActiveProject,
		FactPersonality, FactOnboardingStage, FactPendingBuildReq,
		FactPendingDiscovery,
	} {
		assert.True(t, SystemFactKeys[key], "missing %s", key)
	}
	assert.Len(t, SystemFactKeys, 7)
}
