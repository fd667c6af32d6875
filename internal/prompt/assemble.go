package prompt

import (
	"fmt"
	"strings"
	"time"
)

// Identity is the fixed, per-owner mandatory content every prompt carries:
// identity, soul, system rules. These come from config/on-disk prompt
// files and never change per-turn.
type Identity struct {
	Name   string
	Soul   string
	System string
}

// MemoryContext is the gated memory content pulled in to supplement the
// system prompt. RecentTurns and Lessons are included whenever non-empty;
// each other field is included only when the corresponding Gates.Needs()
// flag is set, and callers leave the rest zero-valued.
type MemoryContext struct {
	RecentTurns   []string
	Summaries     []string
	RecallTurns   []string
	PendingTasks  []string
	Lessons       []string
	Outcomes      []string
	OwnerProfile  string
}

// Input bundles everything Assemble needs for one turn.
type Input struct {
	Identity      Identity
	Provider      string
	Platform      string
	Now           time.Time
	ActiveProject string
	Gates         Gates
	Memory        MemoryContext
}

// Result is the assembled prompt plus bookkeeping for logging/telemetry.
type Result struct {
	SystemPrompt    string
	EstimatedTokens int
}

// EstimateTokens is the characters/4 heuristic used for token budget
// logging.
func EstimateTokens(s string) int {
	return len(s) / 4
}

// Assemble builds the full system prompt: mandatory sections first, then
// conditional sections per the gate table, then the gated memory
// context sections appended at the end so the provider sees instructions
// before data.
func Assemble(in Input) Result {
	var b strings.Builder

	b.WriteString(in.Identity.Name)
	b.WriteString("\n\n")
	b.WriteString(in.Identity.Soul)
	b.WriteString("\n\n")
	b.WriteString(in.Identity.System)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Provider: %s | Platform: %s | Time: %s\n",
		in.Provider, in.Platform, in.Now.Format(time.RFC3339))

	if in.ActiveProject != "" {
		fmt.Fprintf(&b, "Active project: %s. Keep responses scoped to this project unless told otherwise.\n", in.ActiveProject)
	} else {
		b.WriteString("No active project is set. Offer to activate one when relevant.\n")
	}

	g := in.Gates
	if g.Scheduling {
		b.WriteString("\n## Scheduling rules\n")
		b.WriteString(schedulingRules)
	}
	if g.Projects {
		b.WriteString("\n## Project management rules\n")
		b.WriteString(projectRules)
	}
	if g.Meta {
		b.WriteString("\n## Meta (skill/bug reports)\n")
		b.WriteString(metaRules)
	}

	appendMemorySection(&b, "Recent conversation", in.Memory.RecentTurns)
	if g.Needs().Summaries {
		appendMemorySection(&b, "Prior conversation summaries", in.Memory.Summaries)
	}
	if g.Needs().RecallTurns {
		appendMemorySection(&b, "Recalled past turns", in.Memory.RecallTurns)
	}
	if g.Needs().PendingTasks {
		appendMemorySection(&b, "Pending tasks", in.Memory.PendingTasks)
	}
	if len(in.Memory.Lessons) > 0 {
		appendMemorySection(&b, "Learned lessons", in.Memory.Lessons)
	}
	if g.Needs().Outcomes {
		appendMemorySection(&b, "Recent outcomes", in.Memory.Outcomes)
	}
	if g.Needs().Profile && in.Memory.OwnerProfile != "" {
		b.WriteString("\n## Owner profile\n")
		b.WriteString(in.Memory.OwnerProfile)
		b.WriteString("\n")
	}

	text := b.String()
	return Result{SystemPrompt: text, EstimatedTokens: EstimateTokens(text)}
}

// Minimal builds the session-continuation variant: current time plus
// still-relevant conditional sections plus the active project block,
// with no history and no memory-context sections — the provider is
// expected to reuse its own server-side state.
func Minimal(in Input) Result {
	var b strings.Builder

	fmt.Fprintf(&b, "Time: %s\n", in.Now.Format(time.RFC3339))
	if in.ActiveProject != "" {
		fmt.Fprintf(&b, "Active project: %s.\n", in.ActiveProject)
	}

	g := in.Gates
	if g.Scheduling {
		b.WriteString("\n## Scheduling rules\n")
		b.WriteString(schedulingRules)
	}
	if g.Projects {
		b.WriteString("\n## Project management rules\n")
		b.WriteString(projectRules)
	}
	if g.Meta {
		b.WriteString("\n## Meta (skill/bug reports)\n")
		b.WriteString(metaRules)
	}

	text := b.String()
	return Result{SystemPrompt: text, EstimatedTokens: EstimateTokens(text)}
}

func appendMemorySection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n", title)
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
}

const schedulingRules = `Use SCHEDULE:/SCHEDULE_ACTION: markers to create reminders or
autonomous actions. Always confirm the resolved due_at in your reply text;
the confirmation the user actually sees is generated from what was stored,
not from this sentence.`

const projectRules = `Use PROJECT_ACTIVATE: <name> / PROJECT_DEACTIVATE markers to
switch the active project. Deactivating then activating in the same reply
is safe and processes in that order.`

const metaRules = `Use BUG_REPORT: <description> for defects in your own behavior and
SKILL_IMPROVE: <name> | <lesson> to refine a bundled skill.`
