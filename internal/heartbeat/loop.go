// loop.go implements the clock-aligned periodic checklist run. It
// imports internal/markerapply (one-directional — markerapply never
// imports this package) to apply each group's reply, and internal/
// clockalign for the same wake/quiet-hours math the scheduler uses.
// Parallel group execution uses golang.org/x/sync/errgroup.
package heartbeat

import (
	"context"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"omega/internal/audit"
	"omega/internal/channel"
	"omega/internal/classify"
	"omega/internal/clockalign"
	"omega/internal/markerapply"
	"omega/internal/memory"
	"omega/internal/provider"
)

// Enrichment is the per-group prompt context: facts, conversation
// summaries, project-scoped lessons, and outcomes.
type Enrichment struct {
	Facts     map[string]string
	Summaries []string
	Lessons   []string
	Outcomes  []string
}

// PromptBuilder renders one group's full provider prompt from its items
// and enrichment context; kept as an injected function since the exact
// template is prompt-file content maintained outside this tree.
type PromptBuilder func(group classify.Group, enrichment Enrichment) string

// Deps bundles every collaborator the heartbeat loop needs.
type Deps struct {
	ChecklistPath        string
	ProjectChecklistPath func(project string) string // nil disables per-project checklists
	ActiveProjects       func(ctx context.Context) ([]string, error)

	Store         memory.Store
	OwnerSenderID string

	GroupingClient provider.Client
	GroupingModel  string
	ExecClient     provider.Client
	ExecModel      string
	PromptBuilder  PromptBuilder

	MarkerDeps markerapply.Deps

	Channels    *channel.Registry
	ChannelName string
	ReplyTarget string
	Audit       audit.Sink

	Interval   *IntervalSignal
	QuietStart string // "HH:MM", empty disables quiet hours
	QuietEnd   string

	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// taggedSection is a checklist section plus the project it came from
// ("" for the global checklist), so items can be traced back to the
// right enrichment scope.
type taggedSection struct {
	Section
	project string
}

// Run executes Tick on every clock-aligned boundary, honoring quiet hours
// and HEARTBEAT_INTERVAL changes delivered through deps.Interval. It
// returns ctx.Err() once ctx is cancelled, or the first error Tick returns.
func Run(ctx context.Context, deps Deps) error {
	for {
		now := deps.now()
		interval := 60
		if deps.Interval != nil {
			interval = deps.Interval.Minutes()
		}

		if deps.QuietStart != "" && deps.QuietEnd != "" {
			quiet, jumpTo := clockalign.InQuietHours(now, deps.QuietStart, deps.QuietEnd)
			if quiet {
				if !waitUntil(ctx, deps, jumpTo.Sub(now)) {
					return ctx.Err()
				}
				continue
			}
		}

		sleep := clockalign.SleepDuration(now, interval)
		target := now.Add(sleep)
		if !waitUntil(ctx, deps, sleep) {
			return ctx.Err()
		}
		if clockalign.DeviatesFromTarget(deps.now(), target) {
			continue // system slept through the boundary; recompute
		}

		if err := Tick(ctx, deps); err != nil {
			return err
		}
	}
}

// waitUntil blocks for d or until ctx is cancelled or deps.Interval wakes
// it early (a HEARTBEAT_INTERVAL change mid-sleep), returning false only
// when ctx was cancelled.
func waitUntil(ctx context.Context, deps Deps, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	var wake <-chan struct{}
	if deps.Interval != nil {
		wake = deps.Interval.Wake()
	}
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-wake:
		return true
	}
}

// Tick runs exactly one heartbeat cycle: gather checklist sections, group
// their items, run each group through the provider, apply markers, and
// send the combined non-empty replies.
func Tick(ctx context.Context, deps Deps) error {
	sections, err := gatherSections(ctx, deps)
	if err != nil {
		return err
	}
	if len(sections) == 0 {
		return nil
	}

	var items []string
	owners := make([]string, 0, len(sections)) // project scope per item, same index as items
	for _, s := range sections {
		for _, item := range s.Items {
			items = append(items, s.Name+": "+item)
			owners = append(owners, s.project)
		}
	}
	if len(items) == 0 {
		return nil
	}

	groups, err := groupItems(ctx, deps, items)
	if err != nil {
		return err
	}

	replies, err := runGroups(ctx, deps, groups, items, owners)
	if err != nil {
		return err
	}

	nonEmpty := replies[:0]
	for _, r := range replies {
		if strings.TrimSpace(r) != "" {
			nonEmpty = append(nonEmpty, r)
		}
	}
	if len(nonEmpty) == 0 {
		return nil
	}

	combined := strings.Join(nonEmpty, "\n---\n")
	if deps.Channels != nil {
		if ch, ok := deps.Channels.Get(deps.ChannelName); ok {
			if err := ch.Send(deps.ReplyTarget, channel.Outgoing{Text: combined}); err != nil {
				return err
			}
		}
	}

	audit.RecordOrLog(ctx, deps.Audit, audit.Event{
		Kind:      "heartbeat_cycle",
		Channel:   deps.ChannelName,
		SenderID:  deps.OwnerSenderID,
		Timestamp: deps.now(),
		Detail:    map[string]string{"groups": strconv.Itoa(len(groups)), "replies": strconv.Itoa(len(nonEmpty))},
	})
	return nil
}

func gatherSections(ctx context.Context, deps Deps) ([]taggedSection, error) {
	global, err := LoadChecklist(deps.ChecklistPath)
	if err != nil {
		return nil, err
	}

	var activeProjects []string
	if deps.ActiveProjects != nil {
		activeProjects, err = deps.ActiveProjects(ctx)
		if err != nil {
			return nil, err
		}
	}

	global = FilterActiveProjects(global, activeProjects)

	suppressed, err := LoadSuppressed(deps.ChecklistPath)
	if err != nil {
		return nil, err
	}
	global = ApplySuppression(global, suppressed)

	var out []taggedSection
	for _, s := range global {
		out = append(out, taggedSection{Section: s, project: ""})
	}

	if deps.ProjectChecklistPath != nil {
		for _, project := range activeProjects {
			path := deps.ProjectChecklistPath(project)
			projSections, err := LoadChecklist(path)
			if err != nil {
				return nil, err
			}
			projSuppressed, err := LoadSuppressed(path)
			if err != nil {
				return nil, err
			}
			projSections = ApplySuppression(projSections, projSuppressed)
			for _, s := range projSections {
				out = append(out, taggedSection{Section: s, project: project})
			}
		}
	}

	return out, nil
}

func groupItems(ctx context.Context, deps Deps, items []string) ([]classify.Group, error) {
	if len(items) <= 3 {
		return []classify.Group{{Name: "direct", Items: items}}, nil
	}
	if deps.GroupingClient == nil {
		return []classify.Group{{Name: "direct", Items: items}}, nil
	}
	result, err := deps.GroupingClient.Call(ctx, provider.Context{
		UserMessage: classify.GroupingPrompt(items),
		Model:       deps.GroupingModel,
	})
	if err != nil {
		return nil, err
	}
	return classify.ParseGrouping(result.Text, items), nil
}

func runGroups(ctx context.Context, deps Deps, groups []classify.Group, items, owners []string) ([]string, error) {
	replies := make([]string, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	for i, group := range groups {
		i, group := i, group
		g.Go(func() error {
			reply, err := runGroup(gctx, deps, group, items, owners)
			if err != nil {
				return err
			}
			replies[i] = reply
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return replies, nil
}

func runGroup(ctx context.Context, deps Deps, group classify.Group, items, owners []string) (string, error) {
	enrichment, err := buildEnrichment(ctx, deps, group, items, owners)
	if err != nil {
		return "", err
	}

	promptText := group.Name + "\n" + strings.Join(group.Items, "\n")
	if deps.PromptBuilder != nil {
		promptText = deps.PromptBuilder(group, enrichment)
	}

	result, err := deps.ExecClient.Call(ctx, provider.Context{
		UserMessage: promptText,
		Model:       deps.ExecModel,
	})
	if err != nil {
		return "", err
	}

	project := groupProject(group, items, owners)
	applied, err := markerapply.Apply(ctx, deps.MarkerDeps, deps.OwnerSenderID, deps.ChannelName, project, result.Text)
	if err != nil {
		return "", err
	}

	if stripMarkdownEmphasis(applied.CleanText) == "HEARTBEAT_OK" {
		return "", nil
	}
	return applied.CleanText, nil
}

// stripMarkdownEmphasis removes '*' and '`' emphasis characters before
// trimming, so a reply like "**HEARTBEAT_OK**" is recognized the same as
// the bare sentinel.
func stripMarkdownEmphasis(s string) string {
	s = strings.NewReplacer("*", "", "`", "").Replace(s)
	return strings.TrimSpace(s)
}

// groupProject picks the project scope for a group's enrichment and
// marker application: the project tag of its first item, or "" if that
// item came from the global checklist.
func groupProject(group classify.Group, items, owners []string) string {
	if len(group.Items) == 0 {
		return ""
	}
	for i, it := range items {
		if it == group.Items[0] {
			return owners[i]
		}
	}
	return ""
}

func buildEnrichment(ctx context.Context, deps Deps, group classify.Group, items, owners []string) (Enrichment, error) {
	var e Enrichment
	if deps.Store == nil {
		return e, nil
	}
	facts, err := deps.Store.AllFacts(ctx, deps.OwnerSenderID)
	if err != nil {
		return e, err
	}
	e.Facts = facts

	project := groupProject(group, items, owners)
	lessons, err := deps.Store.LessonsFor(ctx, deps.OwnerSenderID, project)
	if err != nil {
		return e, err
	}
	for _, l := range lessons {
		e.Lessons = append(e.Lessons, l.Domain+": "+l.Rule)
	}

	outcomes, err := deps.Store.OutcomesFor(ctx, deps.OwnerSenderID, project, 10)
	if err != nil {
		return e, err
	}
	for _, o := range outcomes {
		e.Outcomes = append(e.Outcomes, o.Domain+": "+o.Lesson)
	}

	summaries, err := deps.Store.ClosedSummaries(ctx, deps.ChannelName, deps.OwnerSenderID, project, 5)
	if err != nil {
		return e, err
	}
	e.Summaries = summaries

	return e, nil
}
