// Package scheduler implements a single clock-aligned polling loop that
// delivers reminder tasks, executes action tasks through the provider,
// and advances or retires recurring/failed tasks. It shares
// internal/clockalign's wake math with internal/heartbeat and shares
// internal/markerapply's side-effect application for action-task replies
// (an action task's reply may itself emit REWARD/LESSON/etc markers
// alongside the ACTION_OUTCOME that drives this package's own retry
// logic), so a marker means the same thing whichever loop it came from.
package scheduler

import (
	"context"
	"time"

	"omega/internal/audit"
	"omega/internal/channel"
	"omega/internal/clockalign"
	"omega/internal/markerapply"
	"omega/internal/memory"
	"omega/internal/provider"
)

// MaxActionRetries bounds retry_count before an action task is marked
// failed.
const MaxActionRetries = 3

// RetryBackoff is how far due_at is pushed forward on a failed attempt
// that still has retries remaining.
const RetryBackoff = 2 * time.Minute

// PromptBuilder renders the tailored system prompt for action tasks. Kept
// injected since prompt-file content is maintained outside this tree.
// cmd/omega's builder writes identity, the task and its project, the "your
// response IS the delivery channel" note and the ACTION_OUTCOME
// instruction; it does not add owner facts, lessons, outcomes or language.
type PromptBuilder func(ctx context.Context, t *memory.ScheduledTask) (string, error)

// Deps bundles every collaborator the scheduler loop needs.
type Deps struct {
	Store         memory.Store
	Client        provider.Client
	Model         string
	PromptBuilder PromptBuilder
	MarkerDeps    markerapply.Deps
	Channels      *channel.Registry
	Audit         audit.Sink

	PollInterval time.Duration
	QuietStart   string
	QuietEnd     string

	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Run polls on the configured poll interval (default 60s), honoring quiet
// hours. It returns ctx.Err() once ctx is cancelled, or the first error
// Tick returns.
func Run(ctx context.Context, deps Deps) error {
	interval := deps.PollInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}

	for {
		now := deps.now()

		if deps.QuietStart != "" && deps.QuietEnd != "" {
			quiet, jumpTo := clockalign.InQuietHours(now, deps.QuietStart, deps.QuietEnd)
			if quiet {
				if !sleepOrDone(ctx, jumpTo.Sub(now)) {
					return ctx.Err()
				}
				continue
			}
		}

		intervalMinutes := int(interval / time.Minute)
		if intervalMinutes < 1 {
			intervalMinutes = 1
		}
		sleep := clockalign.SleepDuration(now, intervalMinutes)
		target := now.Add(sleep)
		if !sleepOrDone(ctx, sleep) {
			return ctx.Err()
		}
		if clockalign.DeviatesFromTarget(deps.now(), target) {
			continue
		}

		if err := Tick(ctx, deps); err != nil {
			return err
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Tick scans for due tasks and processes each to completion.
func Tick(ctx context.Context, deps Deps) error {
	now := deps.now().UTC()
	nowStr := memory.NormalizeDueAt(now.Format("2006-01-02T15:04:05Z"))

	due, err := deps.Store.DueTasks(ctx, nowStr)
	if err != nil {
		return err
	}

	for _, t := range due {
		var procErr error
		if t.TaskType == memory.TaskAction {
			procErr = runActionTask(ctx, deps, t)
		} else {
			procErr = runReminderTask(ctx, deps, t)
		}
		if procErr != nil {
			if failErr := failTask(ctx, deps, t, procErr.Error()); failErr != nil {
				return failErr
			}
		}
		audit.RecordOrLog(ctx, deps.Audit, audit.Event{
			Kind:      "scheduled_task",
			Channel:   t.Channel,
			SenderID:  t.SenderID,
			Timestamp: deps.now(),
			Detail: map[string]string{
				"task_id": t.ID,
				"type":    string(t.TaskType),
				"status":  string(t.Status),
			},
		})
	}
	return nil
}

func runReminderTask(ctx context.Context, deps Deps, t *memory.ScheduledTask) error {
	ch, ok := deps.Channels.Get(t.Channel)
	if !ok {
		return errNoChannel(t.Channel)
	}
	target := t.ReplyTarget
	if target == "" {
		target = t.SenderID
	}
	if err := ch.Send(target, channel.Outgoing{Text: t.Description}); err != nil {
		return err
	}
	return completeTask(ctx, deps, t)
}

func runActionTask(ctx context.Context, deps Deps, t *memory.ScheduledTask) error {
	var promptText string
	var err error
	if deps.PromptBuilder != nil {
		promptText, err = deps.PromptBuilder(ctx, t)
		if err != nil {
			return err
		}
	} else {
		promptText = t.Description
	}

	result, err := deps.Client.Call(ctx, provider.Context{
		UserMessage:  t.Description,
		SystemPrompt: promptText,
		Model:        deps.Model,
	})
	if err != nil {
		return err
	}

	applied, err := markerapply.Apply(ctx, deps.MarkerDeps, t.SenderID, t.Channel, t.Project, result.Text)
	if err != nil {
		return err
	}

	if applied.ActionOutcome == nil || !applied.ActionOutcome.Success {
		reason := "action task did not report success"
		if applied.ActionOutcome != nil {
			reason = applied.ActionOutcome.Reason
		}
		return errActionFailed(reason)
	}
	return completeTask(ctx, deps, t)
}

// completeTask marks a one-shot task delivered, or advances a recurring
// one's due_at and leaves it pending.
func completeTask(ctx context.Context, deps Deps, t *memory.ScheduledTask) error {
	if t.Repeat == "" || t.Repeat == memory.RepeatNone {
		return deps.Store.MarkDelivered(ctx, t.ID)
	}
	next, err := AdvanceDueAt(t.DueAt, t.Repeat)
	if err != nil {
		return err
	}
	t.DueAt = next
	return deps.Store.UpdateTask(ctx, t)
}

// failTask increments retry_count; below MaxActionRetries it pushes
// due_at forward by RetryBackoff and leaves the task pending, otherwise
// marks it failed.
func failTask(ctx context.Context, deps Deps, t *memory.ScheduledTask, reason string) error {
	t.RetryCount++
	t.LastError = reason
	if t.RetryCount >= MaxActionRetries {
		return deps.Store.MarkFailed(ctx, t.ID)
	}
	retryAt := deps.now().UTC().Add(RetryBackoff)
	t.DueAt = memory.NormalizeDueAt(retryAt.Format("2006-01-02T15:04:05Z"))
	return deps.Store.UpdateTask(ctx, t)
}

// AdvanceDueAt computes a recurring task's next due_at given its current
// one, applying the weekday-skip rule for "weekdays" repeat: a landing
// on Saturday jumps +2 days, Sunday jumps +1 day.
func AdvanceDueAt(dueAt string, repeat memory.RepeatKind) (string, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", dueAt, time.UTC)
	if err != nil {
		return "", err
	}

	switch repeat {
	case memory.RepeatDaily:
		t = t.AddDate(0, 0, 1)
	case memory.RepeatWeekly:
		t = t.AddDate(0, 0, 7)
	case memory.RepeatMonthly:
		t = t.AddDate(0, 1, 0)
	case memory.RepeatWeekdays:
		t = t.AddDate(0, 0, 1)
		switch t.Weekday() {
		case time.Saturday:
			t = t.AddDate(0, 0, 2)
		case time.Sunday:
			t = t.AddDate(0, 0, 1)
		}
	default:
		t = t.AddDate(0, 0, 1)
	}

	return memory.NormalizeDueAt(t.Format("2006-01-02T15:04:05Z")), nil
}

type errNoChannel string

func (e errNoChannel) Error() string { return "scheduler: no channel registered for " + string(e) }

type errActionFailed string

func (e errActionFailed) Error() string {
	if e == "" {
		return "scheduler: action task failed"
	}
	return "scheduler: action task failed: " + string(e)
}
