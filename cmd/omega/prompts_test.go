package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omega/internal/classify"
	"omega/internal/config"
	"omega/internal/heartbeat"
	"omega/internal/memory"
	"omega/internal/prompt"
)

func TestSchedulerPromptBuilderIncludesTaskAndInstructions(t *testing.T) {
	cfg := &config.Config{}
	identity := prompt.Identity{Name: "omega", Soul: "helpful", System: "be terse"}
	build := schedulerPromptBuilder(cfg, identity)

	task := &memory.ScheduledTask{Description: "water the plants", Project: "home"}
	out, err := build(context.Background(), task)
	require.NoError(t, err)

	assert.Contains(t, out, "omega")
	assert.Contains(t, out, "water the plants")
	assert.Contains(t, out, "home")
	assert.Contains(t, out, "ACTION_OUTCOME")
}

func TestHeartbeatPromptBuilderIncludesGroupAndEnrichment(t *testing.T) {
	cfg := &config.Config{}
	identity := prompt.Identity{Name: "omega"}
	build := heartbeatPromptBuilder(cfg, identity)

	group := classify.Group{Name: "garden", Items: []string{"water tomatoes", "check soil"}}
	enrichment := heartbeat.Enrichment{
		Facts:     map[string]string{"zone": "9b"},
		Summaries: []string{"planted basil last week"},
		Lessons:   []string{"water in the morning"},
		Outcomes:  []string{"tomatoes thrived"},
	}

	out := build(group, enrichment)
	assert.Contains(t, out, "garden")
	assert.Contains(t, out, "water tomatoes")
	assert.Contains(t, out, "zone: 9b")
	assert.Contains(t, out, "planted basil last week")
	assert.Contains(t, out, "water in the morning")
	assert.Contains(t, out, "tomatoes thrived")
}

func TestHeartbeatPromptBuilderOmitsEmptySections(t *testing.T) {
	cfg := &config.Config{}
	build := heartbeatPromptBuilder(cfg, prompt.Identity{Name: "omega"})

	group := classify.Group{Name: "misc", Items: []string{"check mail"}}
	out := build(group, heartbeat.Enrichment{})

	assert.NotContains(t, out, "Owner facts")
	assert.NotContains(t, out, "Recent summaries")
	assert.NotContains(t, out, "Lessons learned")
	assert.NotContains(t, out, "Past outcomes")
}
