package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveGatesGreeting(t *testing.T) {
	g := DeriveGates("hello")
	assert.False(t, g.Scheduling)
	assert.False(t, g.Recall)
	assert.False(t, g.Tasks)
	assert.False(t, g.Projects)
	assert.False(t, g.Builds)
	assert.False(t, g.Meta)
}

func TestDeriveGatesScheduling(t *testing.T) {
	g := DeriveGates("remind me to call mom tomorrow at 5pm")
	assert.True(t, g.Scheduling)
	assert.True(t, g.Needs().PendingTasks)
	assert.True(t, g.NeedsProfile())
}

func TestDeriveGatesBuild(t *testing.T) {
	g := DeriveGates("build me a URL shortener")
	assert.True(t, g.Builds)
}

func TestNeedsProfileForcedByScheduling(t *testing.T) {
	g := Gates{Scheduling: true}
	assert.True(t, g.NeedsProfile())

	g2 := Gates{}
	assert.False(t, g2.NeedsProfile())
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 10, EstimateTokens(string(make([]byte, 40))))
}
