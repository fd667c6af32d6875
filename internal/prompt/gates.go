// Package prompt assembles the system prompt and memory-context requests
// for a turn. Section injection is driven by keyword gates: fixed
// vocabularies held in package-level variables, so retuning them means
// editing this file and rebuilding.
package prompt

import "strings"

// Gates is the set of keyword-derived booleans that decide which optional
// prompt sections and memory-context lookups a turn needs.
type Gates struct {
	Scheduling bool
	Recall     bool
	Tasks      bool
	Projects   bool
	Builds     bool
	Meta       bool
	Profile    bool
	Outcomes   bool
}

// NeedsProfile reports whether owner-identity context must be fetched,
// forced true whenever scheduling/recall/tasks is on since all three
// require knowing who the owner is.
func (g Gates) NeedsProfile() bool {
	return g.Profile || g.Scheduling || g.Recall || g.Tasks
}

// vocab is a fixed set of lowercase substrings; DeriveGates matches the
// lowercased user text against each gate's vocabulary.
type vocab []string

func (v vocab) matchesAny(lower string) bool {
	for _, kw := range v {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

var (
	schedulingVocab = vocab{
		"remind", "reminder", "schedule", "every day", "every week",
		"every month", "daily", "weekly", "monthly", "tomorrow", "at ",
		"in an hour", "in 5 minutes", "next monday", "next tuesday",
		"next wednesday", "next thursday", "next friday", "next saturday",
		"next sunday",
	}
	recallVocab = vocab{
		"remember when", "recall", "you said", "we talked about",
		"earlier you", "last time", "previously",
	}
	tasksVocab = vocab{
		"my tasks", "my reminders", "what's scheduled", "pending task",
		"cancel the", "cancel my", "update the reminder", "update my task",
	}
	projectsVocab = vocab{
		"project", "switch to", "working on", "active project",
		"deactivate",
	}
	buildsVocab = vocab{
		"build me", "build a", "create an app", "create a project",
		"new project for", "i want to build", "can you build",
		"implement a", "develop an app",
	}
	metaVocab = vocab{
		"bug", "doesn't work", "broken", "improve the skill",
		"you made a mistake", "that's wrong", "fix yourself",
	}
	profileVocab = vocab{
		"who am i", "my name", "about me", "my preferences",
	}
	outcomesVocab = vocab{
		"how did that go", "did it work", "outcome", "result of",
	}
)

// DeriveGates computes the gate set for text. Matching is substring-based
// against the lowercased text; Builds is detected here so the caller can
// short-circuit to discovery before any prompt is built.
func DeriveGates(text string) Gates {
	lower := strings.ToLower(text)
	return Gates{
		Scheduling: schedulingVocab.matchesAny(lower),
		Recall:     recallVocab.matchesAny(lower),
		Tasks:      tasksVocab.matchesAny(lower),
		Projects:   projectsVocab.matchesAny(lower),
		Builds:     buildsVocab.matchesAny(lower),
		Meta:       metaVocab.matchesAny(lower),
		Profile:    profileVocab.matchesAny(lower),
		Outcomes:   outcomesVocab.matchesAny(lower),
	}
}

// MemoryNeeds is derived from Gates and tells the caller which memory
// context sections to fetch before assembling the prompt.
type MemoryNeeds struct {
	PendingTasks bool
	RecallTurns  bool
	Summaries    bool
	Profile      bool
	Outcomes     bool
}

// Needs maps each gate to the memory context it also enables.
func (g Gates) Needs() MemoryNeeds {
	return MemoryNeeds{
		PendingTasks: g.Scheduling || g.Tasks,
		RecallTurns:  g.Recall,
		Summaries:    g.Recall,
		Profile:      g.NeedsProfile(),
		Outcomes:     g.Outcomes,
	}
}
