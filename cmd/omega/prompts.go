// prompts.go renders the tailored prompts the scheduler and heartbeat
// loops need for action-tasks and group replies; full template content
// is config/prompt-file territory maintained outside this tree, so these
// build a minimal but complete instruction around the injected identity
// and enrichment data, the same "assemble the fixed sections, then the
// gated memory context" shape internal/prompt.Assemble uses for the
// direct pipeline.
package main

import (
	"context"
	"fmt"
	"strings"

	"omega/internal/classify"
	"omega/internal/config"
	"omega/internal/heartbeat"
	"omega/internal/memory"
	"omega/internal/prompt"
)

// schedulerPromptBuilder renders the prompt for one due ScheduledTask of
// TaskType action: identity, the task description and project, the
// explicit "your response IS the delivery channel" instruction, and an
// ACTION_OUTCOME reminder. It does not add owner facts, lessons,
// outcomes, or the preferred language to the prompt.
func schedulerPromptBuilder(cfg *config.Config, identity prompt.Identity) func(ctx context.Context, t *memory.ScheduledTask) (string, error) {
	return func(ctx context.Context, t *memory.ScheduledTask) (string, error) {
		var b strings.Builder
		b.WriteString(identity.Name)
		b.WriteString("\n\n")
		b.WriteString(identity.Soul)
		b.WriteString("\n\n")
		b.WriteString(identity.System)
		b.WriteString("\n\n")

		fmt.Fprintf(&b, "A scheduled action is due: %q (project: %s).\n", t.Description, t.Project)
		b.WriteString("Your response text IS the message the owner will receive through " +
			"the delivery channel — there is no further formatting step. Carry out " +
			"the action and reply with exactly what should be sent.\n")
		b.WriteString("When you finish, emit an ACTION_OUTCOME marker recording whether " +
			"this action succeeded, for the outcomes lessons feed.\n")
		return b.String(), nil
	}
}

// heartbeatPromptBuilder renders the prompt for one grouped set of
// checklist items: identity, the group's items, and enrichment context
// (facts/summaries/lessons/outcomes) prepended ahead of the instruction
// in an enrichment-then-template shape.
func heartbeatPromptBuilder(cfg *config.Config, identity prompt.Identity) func(group classify.Group, enrichment heartbeat.Enrichment) string {
	return func(group classify.Group, enrichment heartbeat.Enrichment) string {
		var b strings.Builder
		b.WriteString(identity.Name)
		b.WriteString("\n\n")
		b.WriteString(identity.Soul)
		b.WriteString("\n\n")
		b.WriteString(identity.System)
		b.WriteString("\n\n")

		fmt.Fprintf(&b, "Heartbeat check on group %q:\n", group.Name)
		for _, item := range group.Items {
			b.WriteString("- ")
			b.WriteString(item)
			b.WriteString("\n")
		}

		if len(enrichment.Facts) > 0 {
			b.WriteString("\nOwner facts:\n")
			for k, v := range enrichment.Facts {
				fmt.Fprintf(&b, "%s: %s\n", k, v)
			}
		}
		appendList(&b, "Recent summaries", enrichment.Summaries)
		appendList(&b, "Lessons learned", enrichment.Lessons)
		appendList(&b, "Past outcomes", enrichment.Outcomes)

		b.WriteString("\nDecide whether any of these items need action now; reply only " +
			"if something is due or worth surfacing, using any markers needed to " +
			"schedule, update, or suppress checklist items.\n")
		return b.String()
	}
}

func appendList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n")
	b.WriteString(title)
	b.WriteString(":\n")
	for _, i := range items {
		b.WriteString("- ")
		b.WriteString(i)
		b.WriteString("\n")
	}
}
