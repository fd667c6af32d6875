// commands.go wires internal/command's closed set to concrete handlers
// over the memory store and heartbeat checklist: plain string-building
// functions reading through to a store, no separate command framework.
package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"omega/internal/command"
	"omega/internal/heartbeat"
	"omega/internal/markerapply"
	"omega/internal/memory"
)

type commandDeps struct {
	store      memory.Store
	interval   *heartbeat.IntervalSignal
	checklist  heartbeat.Checklist
	markerDeps markerapply.Deps
}

func buildCommandRegistry(deps commandDeps) *command.Registry {
	reg := command.NewRegistry()
	registerCommands(reg, deps)
	return reg
}

func registerCommands(reg *command.Registry, deps commandDeps) {
	reg.Register(command.Status, statusHandler(deps))
	reg.Register(command.Memory, memoryHandler(deps))
	reg.Register(command.History, historyHandler(deps))
	reg.Register(command.Facts, factsHandler(deps))
	reg.Register(command.Forget, forgetHandler(deps))
	reg.Register(command.Tasks, tasksHandler(deps))
	reg.Register(command.Cancel, cancelHandler(deps))
	reg.Register(command.Language, languageHandler(deps))
	reg.Register(command.Personality, personalityHandler(deps))
	reg.Register(command.Skills, skillsHandler(deps))
	reg.Register(command.Projects, projectsHandler(deps))
	reg.Register(command.Project, projectHandler(deps))
	reg.Register(command.Purge, purgeHandler(deps))
	reg.Register(command.WhatsApp, whatsappHandler(deps))
	reg.Register(command.Heartbeat, heartbeatHandler(deps))
	reg.Register(command.Learning, learningHandler(deps))
	reg.Register(command.Setup, setupHandler(deps))
	reg.Register(command.Help, helpHandler(deps))
}

func statusHandler(deps commandDeps) command.Handler {
	return func(ctx context.Context, senderID, arg string) (string, error) {
		project, _, err := deps.store.GetFact(ctx, senderID, memory.FactActiveProject)
		if err != nil {
			return "", err
		}
		if project == "" {
			project = "none"
		}
		tasks, err := deps.store.PendingTasksForSender(ctx, senderID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Active project: %s\nPending tasks: %d\nHeartbeat interval: %d min",
			project, len(tasks), deps.interval.Minutes()), nil
	}
}

func memoryHandler(deps commandDeps) command.Handler {
	return func(ctx context.Context, senderID, arg string) (string, error) {
		hits, err := deps.store.RecallTurns(ctx, senderID, arg, 10)
		if err != nil {
			return "", err
		}
		if len(hits) == 0 {
			return "Nothing found for that.", nil
		}
		var b strings.Builder
		for _, t := range hits {
			b.WriteString(string(t.Role))
			b.WriteString(": ")
			b.WriteString(t.Content)
			b.WriteString("\n")
		}
		return strings.TrimSpace(b.String()), nil
	}
}

func historyHandler(deps commandDeps) command.Handler {
	return func(ctx context.Context, senderID, arg string) (string, error) {
		project, _, err := deps.store.GetFact(ctx, senderID, memory.FactActiveProject)
		if err != nil {
			return "", err
		}
		summaries, err := deps.store.ClosedSummaries(ctx, "", senderID, project, 5)
		if err != nil {
			return "", err
		}
		if len(summaries) == 0 {
			return "No closed conversations yet.", nil
		}
		return strings.Join(summaries, "\n---\n"), nil
	}
}

func factsHandler(deps commandDeps) command.Handler {
	return func(ctx context.Context, senderID, arg string) (string, error) {
		facts, err := deps.store.AllFacts(ctx, senderID)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for k, v := range facts {
			if memory.SystemFactKeys[k] {
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
		if b.Len() == 0 {
			return "No facts stored yet.", nil
		}
		return strings.TrimSpace(b.String()), nil
	}
}

func forgetHandler(deps commandDeps) command.Handler {
	return func(ctx context.Context, senderID, arg string) (string, error) {
		if arg == "" {
			return "Usage: /forget <fact key>", nil
		}
		if err := deps.store.SetFact(ctx, senderID, arg, ""); err != nil {
			return "", err
		}
		return "Forgotten: " + arg, nil
	}
}

func tasksHandler(deps commandDeps) command.Handler {
	return func(ctx context.Context, senderID, arg string) (string, error) {
		tasks, err := deps.store.PendingTasksForSender(ctx, senderID)
		if err != nil {
			return "", err
		}
		if len(tasks) == 0 {
			return "No pending tasks.", nil
		}
		var b strings.Builder
		for _, t := range tasks {
			fmt.Fprintf(&b, "%s — %s @ %s (%s)\n", t.ID[:8], t.Description, t.DueAt, t.Repeat)
		}
		return strings.TrimSpace(b.String()), nil
	}
}

func cancelHandler(deps commandDeps) command.Handler {
	return func(ctx context.Context, senderID, arg string) (string, error) {
		if arg == "" {
			return "Usage: /cancel <task id prefix>", nil
		}
		task, err := deps.store.GetTaskByIDPrefix(ctx, senderID, arg)
		if err != nil {
			if err == memory.ErrNotFound {
				return "No task matching that id.", nil
			}
			return "", err
		}
		if err := deps.store.CancelTask(ctx, task.ID); err != nil {
			return "", err
		}
		return "Cancelled: " + task.Description, nil
	}
}

func languageHandler(deps commandDeps) command.Handler {
	return func(ctx context.Context, senderID, arg string) (string, error) {
		if arg == "" {
			lang, ok, err := deps.store.GetFact(ctx, senderID, memory.FactPreferredLanguage)
			if err != nil {
				return "", err
			}
			if !ok || lang == "" {
				return "No preferred language set.", nil
			}
			return "Preferred language: " + lang, nil
		}
		if err := deps.store.SetFact(ctx, senderID, memory.FactPreferredLanguage, arg); err != nil {
			return "", err
		}
		return "Preferred language set to " + arg, nil
	}
}

func personalityHandler(deps commandDeps) command.Handler {
	return func(ctx context.Context, senderID, arg string) (string, error) {
		if arg == "" {
			p, ok, err := deps.store.GetFact(ctx, senderID, memory.FactPersonality)
			if err != nil {
				return "", err
			}
			if !ok || p == "" {
				return "No personality override set.", nil
			}
			return "Personality: " + p, nil
		}
		if err := deps.store.SetFact(ctx, senderID, memory.FactPersonality, arg); err != nil {
			return "", err
		}
		return "Personality set.", nil
	}
}

func skillsHandler(deps commandDeps) command.Handler {
	return func(ctx context.Context, senderID, arg string) (string, error) {
		if deps.markerDeps.Skills == nil {
			return "No skills configured.", nil
		}
		servers := deps.markerDeps.Skills.Match(arg)
		if len(servers) == 0 {
			return "No skill matches that.", nil
		}
		var names []string
		for _, s := range servers {
			names = append(names, s.Name)
		}
		return "Matched skills: " + strings.Join(names, ", "), nil
	}
}

func projectsHandler(deps commandDeps) command.Handler {
	return func(ctx context.Context, senderID, arg string) (string, error) {
		active, _, err := deps.store.GetFact(ctx, senderID, memory.FactActiveProject)
		if err != nil {
			return "", err
		}
		if active == "" {
			return "No active project. Use /project <name> to switch.", nil
		}
		return "Active project: " + active, nil
	}
}

func projectHandler(deps commandDeps) command.Handler {
	return func(ctx context.Context, senderID, arg string) (string, error) {
		if arg == "" {
			return "Usage: /project <name>", nil
		}
		if err := deps.store.SetFact(ctx, senderID, memory.FactActiveProject, arg); err != nil {
			return "", err
		}
		return "Switched to project: " + arg, nil
	}
}

func purgeHandler(deps commandDeps) command.Handler {
	return func(ctx context.Context, senderID, arg string) (string, error) {
		n, err := deps.store.PurgeFacts(ctx, senderID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Purged %d facts.", n), nil
	}
}

func whatsappHandler(deps commandDeps) command.Handler {
	return func(ctx context.Context, senderID, arg string) (string, error) {
		return command.WhatsAppQRSentinel, nil
	}
}

func heartbeatHandler(deps commandDeps) command.Handler {
	return func(ctx context.Context, senderID, arg string) (string, error) {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			return fmt.Sprintf("Heartbeat interval: %d minutes.", deps.interval.Minutes()), nil
		}
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > 1440 {
			return "Usage: /heartbeat <minutes 1-1440>", nil
		}
		deps.interval.SetMinutes(ctx, n)
		return fmt.Sprintf("Heartbeat interval set to %d minutes.", n), nil
	}
}

func learningHandler(deps commandDeps) command.Handler {
	return func(ctx context.Context, senderID, arg string) (string, error) {
		project, _, err := deps.store.GetFact(ctx, senderID, memory.FactActiveProject)
		if err != nil {
			return "", err
		}
		lessons, err := deps.store.LessonsFor(ctx, senderID, project)
		if err != nil {
			return "", err
		}
		if len(lessons) == 0 {
			return "No lessons learned yet.", nil
		}
		var b strings.Builder
		for _, l := range lessons {
			fmt.Fprintf(&b, "%s: %s\n", l.Domain, l.Rule)
		}
		return strings.TrimSpace(b.String()), nil
	}
}

func setupHandler(deps commandDeps) command.Handler {
	return func(ctx context.Context, senderID, arg string) (string, error) {
		return "Setup is driven by config.toml; edit it and restart, or run `omega init` for a starter file.", nil
	}
}

func helpHandler(deps commandDeps) command.Handler {
	return func(ctx context.Context, senderID, arg string) (string, error) {
		return "Commands: /status /memory /history /facts /forget /tasks /cancel " +
			"/language /personality /skills /projects /project /purge /whatsapp " +
			"/heartbeat /learning /setup /help", nil
	}
}
