// Package markerapply applies the side effects a parsed marker.Parsed
// value describes against the memory store, shared by the direct
// pipeline, the scheduler's action-task replies, and the heartbeat
// loop's group replies — all three call the same Apply so a marker means
// the same thing no matter which loop produced it. It depends only on
// memory.Store plus two small structural interfaces (ChecklistOps,
// IntervalSetter) rather than importing internal/heartbeat directly, so
// internal/heartbeat's own loop can in turn depend on this package
// without an import cycle.
//
// The per-kind dispatch mirrors marker.Marker's own per-kind accessor
// style, and dedup reuses internal/classify's OverlapRatio policy
// constant, exposed as a tunable rather than hard-coded.
package markerapply

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"omega/internal/classify"
	"omega/internal/marker"
	"omega/internal/memory"
	"omega/internal/skills"
)

// ChecklistOps abstracts the heartbeat checklist mutations HEARTBEAT_ADD/
// REMOVE/SUPPRESS_SECTION/UNSUPPRESS_SECTION need; internal/heartbeat's
// Checklist type satisfies this structurally. Add/Remove take the
// sender's active project (empty targets the global checklist) — the
// marker itself carries only the free-text item.
type ChecklistOps interface {
	AddItem(project, item string) error
	RemoveItem(project, item string) error
	Suppress(section string) error
	Unsuppress(section string) error
}

// IntervalSetter abstracts HEARTBEAT_INTERVAL's target; internal/heartbeat's
// IntervalSignal satisfies this structurally.
type IntervalSetter interface {
	SetMinutes(ctx context.Context, n int)
}

// Deps bundles everything Apply needs beyond the store, all optional
// except Store: callers that never expect a given marker kind (e.g. the
// scheduler, which never sees HEARTBEAT_* markers in practice) may pass
// nil and Apply will record a ParseError instead of panicking.
type Deps struct {
	Store          memory.Store
	Checklist      ChecklistOps
	Interval       IntervalSetter
	Skills         *skills.Catalog
	ProjectDir     func(project string) string // root dir for a project, for .disabled marker files
	SkillsDir      func() string                // root dir holding per-skill markdown files
	BugReportPath  func(project string) string
	Now            func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// TaskConfirmation is one created or cancelled task, with a "similar
// existing task" warning computed from actual DB state — never from
// what the model claimed.
type TaskConfirmation struct {
	Task       *memory.ScheduledTask
	Cancelled  bool
	SimilarWarning string
}

// Result is everything Apply produced, for the caller to turn into
// follow-up messages or to ignore.
type Result struct {
	CleanText          string
	TaskConfirmations  []TaskConfirmation
	ProjectActivated    string
	ProjectDeactivated  bool
	BuildProposalStored bool
	WhatsAppQR          bool
	LangSwitched        string
	PersonalityChanged  bool
	PersonalityReset    bool
	ForgetConversation  bool
	FactsPurgedCount    int
	SkillImproved       []string
	BugReported         bool
	ActionOutcome       *marker.ActionOutcome
	ParseErrors         []marker.ParseError
}

// Apply parses text for markers, strips them, applies every recognized
// marker's side effect against deps.Store (and the other Deps), and
// returns the visible clean text plus a structured Result. senderID,
// channelName, and project scope every side effect that needs scoping
// (facts, tasks, lessons, outcomes, conversations, sessions).
func Apply(ctx context.Context, deps Deps, senderID, channelName, project, text string) (Result, error) {
	parsed := marker.Parse(text)
	res := Result{ParseErrors: parsed.Errors}

	// Two-pass: every PROJECT_DEACTIVATE processes before any
	// PROJECT_ACTIVATE regardless of source order, so a single reply that
	// both deactivates and activates reads the old project name first.
	for _, m := range parsed.Markers {
		if m.Kind == marker.KindProjectDeactivate {
			if err := applyProjectDeactivate(ctx, deps, senderID, project, &res); err != nil {
				return Result{}, err
			}
		}
	}

	for _, m := range parsed.Markers {
		var err error
		switch m.Kind {
		case marker.KindProjectDeactivate:
			// already handled above
		case marker.KindSchedule:
			err = applySchedule(ctx, deps, senderID, channelName, project, m, false, &res)
		case marker.KindScheduleAction:
			err = applySchedule(ctx, deps, senderID, channelName, project, m, true, &res)
		case marker.KindCancelTask:
			err = applyCancel(ctx, deps, senderID, m, &res)
		case marker.KindUpdateTask:
			err = applyUpdate(ctx, deps, senderID, m, &res)
		case marker.KindProjectActivate:
			err = applyProjectActivate(ctx, deps, senderID, m, &res)
		case marker.KindBuildProposal:
			err = applyBuildProposal(ctx, deps, senderID, m, &res)
		case marker.KindWhatsAppQR:
			res.WhatsAppQR = true
		case marker.KindLangSwitch:
			err = applyLangSwitch(ctx, deps, senderID, m, &res)
		case marker.KindPersonality:
			err = applyPersonality(ctx, deps, senderID, m, &res)
		case marker.KindForgetConversation:
			err = applyForgetConversation(ctx, deps, senderID, channelName, project, &res)
		case marker.KindPurgeFacts:
			err = applyPurge(ctx, deps, senderID, &res)
		case marker.KindHeartbeatAdd:
			err = applyHeartbeatMutate(deps, m, project, true)
		case marker.KindHeartbeatRemove:
			err = applyHeartbeatMutate(deps, m, project, false)
		case marker.KindHeartbeatInterval:
			err = applyHeartbeatInterval(ctx, deps, m)
		case marker.KindHeartbeatSuppressSection:
			err = applyHeartbeatSuppress(deps, m, true)
		case marker.KindHeartbeatUnsuppressSection:
			err = applyHeartbeatSuppress(deps, m, false)
		case marker.KindReward:
			err = applyReward(ctx, deps, senderID, project, m)
		case marker.KindLesson:
			err = applyLesson(ctx, deps, senderID, project, m)
		case marker.KindSkillImprove:
			err = applySkillImprove(deps, m, &res)
		case marker.KindBugReport:
			err = applyBugReport(deps, project, m, &res)
		case marker.KindActionOutcome:
			err = applyActionOutcome(m, &res)
		}
		if err != nil {
			if pe, ok := err.(marker.ParseError); ok {
				res.ParseErrors = append(res.ParseErrors, pe)
				continue
			}
			return Result{}, err
		}
	}

	res.CleanText = marker.StripAllRemaining(parsed.CleanText)
	return res, nil
}

func applySchedule(ctx context.Context, deps Deps, senderID, channelName, project string, m marker.Marker, action bool, res *Result) error {
	f, err := m.AsSchedule()
	if err != nil {
		return err
	}
	dueAt := memory.NormalizeDueAt(f.DueAt)

	if existing, err := deps.Store.FindExactTask(ctx, senderID, f.Description, dueAt); err != nil {
		return err
	} else if existing != nil {
		res.TaskConfirmations = append(res.TaskConfirmations, TaskConfirmation{Task: existing})
		return nil
	}

	similar := ""
	if pending, err := deps.Store.PendingTasksForSender(ctx, senderID); err == nil {
		for _, p := range pending {
			if fuzzyDueMatch(p.DueAt, dueAt) && classify.SimilarDescriptions(p.Description, f.Description) {
				similar = p.ID
				break
			}
		}
	}

	taskType := memory.TaskReminder
	if action {
		taskType = memory.TaskAction
	}
	created, err := deps.Store.CreateTask(ctx, memory.ScheduledTask{
		ID:          uuid.NewString(),
		Channel:     channelName,
		SenderID:    senderID,
		Description: f.Description,
		DueAt:       dueAt,
		Repeat:      memory.RepeatKind(f.Repeat),
		TaskType:    taskType,
		Project:     project,
		Status:      memory.StatusPending,
	})
	if err != nil {
		return err
	}

	warning := ""
	if similar != "" {
		warning = "similar existing task " + similar[:8]
	}
	res.TaskConfirmations = append(res.TaskConfirmations, TaskConfirmation{Task: created, SimilarWarning: warning})
	return nil
}

// fuzzyDueMatch reports whether two normalized due_at strings are within
// 30 minutes of each other.
func fuzzyDueMatch(a, b string) bool {
	ta, err1 := time.Parse("2006-01-02 15:04:05", a)
	tb, err2 := time.Parse("2006-01-02 15:04:05", b)
	if err1 != nil || err2 != nil {
		return false
	}
	diff := ta.Sub(tb)
	if diff < 0 {
		diff = -diff
	}
	return diff <= 30*time.Minute
}

func applyCancel(ctx context.Context, deps Deps, senderID string, m marker.Marker, res *Result) error {
	idPrefix, err := m.AsCancelTask()
	if err != nil {
		return err
	}
	t, err := deps.Store.GetTaskByIDPrefix(ctx, senderID, idPrefix)
	if err != nil {
		if err == memory.ErrNotFound {
			return nil // cancelling a nonexistent/already-gone task is a no-op
		}
		return err
	}
	if err := deps.Store.CancelTask(ctx, t.ID); err != nil {
		return err
	}
	t.Status = memory.StatusCancelled
	res.TaskConfirmations = append(res.TaskConfirmations, TaskConfirmation{Task: t, Cancelled: true})
	return nil
}

func applyUpdate(ctx context.Context, deps Deps, senderID string, m marker.Marker, res *Result) error {
	f, err := m.AsUpdateTask()
	if err != nil {
		return err
	}
	t, err := deps.Store.GetTaskByIDPrefix(ctx, senderID, f.IDPrefix)
	if err != nil {
		return err
	}
	if f.Description != "" {
		t.Description = f.Description
	}
	if f.DueAt != "" {
		t.DueAt = memory.NormalizeDueAt(f.DueAt)
	}
	if f.Repeat != "" {
		t.Repeat = memory.RepeatKind(f.Repeat)
	}
	if err := deps.Store.UpdateTask(ctx, t); err != nil {
		return err
	}
	res.TaskConfirmations = append(res.TaskConfirmations, TaskConfirmation{Task: t})
	return nil
}

func applyProjectActivate(ctx context.Context, deps Deps, senderID string, m marker.Marker, res *Result) error {
	name, err := m.AsProjectActivate()
	if err != nil {
		return err
	}
	if err := deps.Store.SetFact(ctx, senderID, memory.FactActiveProject, name); err != nil {
		return err
	}
	if deps.ProjectDir != nil {
		os.Remove(filepath.Join(deps.ProjectDir(name), ".disabled"))
	}
	res.ProjectActivated = name
	return nil
}

func applyProjectDeactivate(ctx context.Context, deps Deps, senderID, project string, res *Result) error {
	if project == "" {
		if v, ok, err := deps.Store.GetFact(ctx, senderID, memory.FactActiveProject); err == nil && ok {
			project = v
		}
	}
	if err := deps.Store.SetFact(ctx, senderID, memory.FactActiveProject, ""); err != nil {
		return err
	}
	if project != "" && deps.ProjectDir != nil {
		dir := deps.ProjectDir(project)
		os.MkdirAll(dir, 0o755)
		os.WriteFile(filepath.Join(dir, ".disabled"), []byte(deps.now().Format(time.RFC3339)), 0o644)
	}
	res.ProjectDeactivated = true
	return nil
}

func applyBuildProposal(ctx context.Context, deps Deps, senderID string, m marker.Marker, res *Result) error {
	desc, err := m.AsBuildProposal()
	if err != nil {
		return err
	}
	if err := deps.Store.SetFact(ctx, senderID, memory.FactPendingBuildReq, desc); err != nil {
		return err
	}
	res.BuildProposalStored = true
	return nil
}

func applyLangSwitch(ctx context.Context, deps Deps, senderID string, m marker.Marker, res *Result) error {
	lang, err := m.AsLangSwitch()
	if err != nil {
		return err
	}
	if err := deps.Store.SetFact(ctx, senderID, memory.FactPreferredLanguage, lang); err != nil {
		return err
	}
	res.LangSwitched = lang
	return nil
}

func applyPersonality(ctx context.Context, deps Deps, senderID string, m marker.Marker, res *Result) error {
	value, reset, err := m.AsPersonality()
	if err != nil {
		return err
	}
	if reset {
		if err := deps.Store.SetFact(ctx, senderID, memory.FactPersonality, ""); err != nil {
			return err
		}
		res.PersonalityReset = true
		return nil
	}
	if err := deps.Store.SetFact(ctx, senderID, memory.FactPersonality, value); err != nil {
		return err
	}
	res.PersonalityChanged = true
	return nil
}

func applyForgetConversation(ctx context.Context, deps Deps, senderID, channelName, project string, res *Result) error {
	conv, err := deps.Store.ActiveConversation(ctx, channelName, senderID, project)
	if err != nil {
		return err
	}
	if err := deps.Store.CloseConversation(ctx, conv.ID, ""); err != nil {
		return err
	}
	if err := deps.Store.ClearSession(ctx, memory.SessionKey{Channel: channelName, SenderID: senderID, Project: project}); err != nil {
		return err
	}
	res.ForgetConversation = true
	return nil
}

func applyPurge(ctx context.Context, deps Deps, senderID string, res *Result) error {
	n, err := deps.Store.PurgeFacts(ctx, senderID)
	if err != nil {
		return err
	}
	res.FactsPurgedCount = n
	return nil
}

func applyHeartbeatMutate(deps Deps, m marker.Marker, project string, add bool) error {
	item, err := m.HeartbeatItem()
	if err != nil {
		return err
	}
	if deps.Checklist == nil {
		return marker.ParseError{Raw: m.Raw, Reason: "no checklist configured"}
	}
	if add {
		return deps.Checklist.AddItem(project, item)
	}
	return deps.Checklist.RemoveItem(project, item)
}

func applyHeartbeatInterval(ctx context.Context, deps Deps, m marker.Marker) error {
	n, err := m.AsHeartbeatInterval()
	if err != nil {
		return err
	}
	if deps.Interval == nil {
		return marker.ParseError{Raw: m.Raw, Reason: "no interval signal configured"}
	}
	deps.Interval.SetMinutes(ctx, n)
	return nil
}

func applyHeartbeatSuppress(deps Deps, m marker.Marker, suppress bool) error {
	section, err := m.HeartbeatSectionName()
	if err != nil {
		return err
	}
	if deps.Checklist == nil {
		return marker.ParseError{Raw: m.Raw, Reason: "no checklist configured"}
	}
	if suppress {
		return deps.Checklist.Suppress(section)
	}
	return deps.Checklist.Unsuppress(section)
}

func applyReward(ctx context.Context, deps Deps, senderID, project string, m marker.Marker) error {
	f, err := m.AsReward()
	if err != nil {
		return err
	}
	return deps.Store.AddOutcome(ctx, memory.Outcome{
		SenderID:  senderID,
		Domain:    f.Domain,
		Score:     f.Score,
		Lesson:    f.Lesson,
		Source:    "marker",
		Project:   project,
		Timestamp: deps.now(),
	})
}

func applyLesson(ctx context.Context, deps Deps, senderID, project string, m marker.Marker) error {
	f, err := m.AsLesson()
	if err != nil {
		return err
	}
	return deps.Store.AddLesson(ctx, memory.Lesson{SenderID: senderID, Domain: f.Domain, Rule: f.Rule, Project: project})
}

func applySkillImprove(deps Deps, m marker.Marker, res *Result) error {
	f, err := m.AsSkillImprove()
	if err != nil {
		return err
	}
	if deps.SkillsDir == nil {
		return marker.ParseError{Raw: m.Raw, Reason: "no skills dir configured"}
	}
	if deps.Skills != nil {
		if _, ok := deps.Skills.Find(f.Name); !ok {
			return marker.ParseError{Raw: m.Raw, Reason: "unknown skill: " + f.Name}
		}
	}
	path := filepath.Join(deps.SkillsDir(), f.Name+".md")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteString("\n- " + f.Lesson); err != nil {
		return err
	}
	res.SkillImproved = append(res.SkillImproved, f.Name)
	return nil
}

func applyBugReport(deps Deps, project string, m marker.Marker, res *Result) error {
	desc, err := m.AsBugReport()
	if err != nil {
		return err
	}
	path := "BUG.md"
	if deps.BugReportPath != nil {
		path = deps.BugReportPath(project)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteString("\n- " + desc); err != nil {
		return err
	}
	res.BugReported = true
	return nil
}

func applyActionOutcome(m marker.Marker, res *Result) error {
	outcome, err := m.AsActionOutcome()
	if err != nil {
		return err
	}
	res.ActionOutcome = &outcome
	return nil
}
