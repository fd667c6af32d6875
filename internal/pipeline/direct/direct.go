// Package direct implements the normal-path pipeline: sanitize →
// identity → prompt assembly → provider call (with session continuation
// and a single retry) → marker processing → persistence → delivery. It
// is the heaviest consumer of nearly every other package in this
// module — the place where everything else gets wired together for one
// inbound turn.
package direct

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"omega/internal/audit"
	"omega/internal/channel"
	"omega/internal/markerapply"
	"omega/internal/memory"
	"omega/internal/memory/recall"
	"omega/internal/prompt"
	"omega/internal/provider"
	"omega/internal/skills"
)

// Localizer produces the localized post-PROJECT_ACTIVATE persona
// greeting; task confirmations are formatted by
// markerapply.FormatConfirmations instead. Kept as an injected interface, not a fixed vocabulary table,
// since these strings are config/prompt-file content maintained outside
// this tree.
type Localizer interface {
	Greeting(project, lang string) string
}

// Deps bundles every collaborator one direct-pipeline turn needs.
type Deps struct {
	Store        memory.Store
	Client       provider.Client
	ProviderName string
	Model        string
	Skills       *skills.Catalog
	// SkillSessions connects to each matched skill's MCP server to
	// resolve its advertised tool names into provider.Context.AllowedTools;
	// nil disables the lookup (MCPServers are still passed either way).
	SkillSessions *skills.SessionManager
	Channels      *channel.Registry
	Audit         audit.Sink
	// Recall supplements needs.RecallTurns with semantically related
	// history beyond the fixed recent-turns window, and is fed every
	// persisted turn so future lookups can find this one; nil disables
	// both ([memory.recall] not enabled, or no embedder available for the
	// configured provider).
	Recall        *recall.Index
	Identity      prompt.Identity
	Platform      string
	MarkerDeps    markerapply.Deps
	Localizer     Localizer
	// WorkspaceImageDir resolves a project's image output directory for
	// the before/after PNG diff; nil disables the feature.
	WorkspaceImageDir func(project string) string
	Now               func() time.Time
	// TypingEvery is how often SendTyping is re-sent while a call is in
	// flight; zero disables the typing heartbeat.
	TypingEvery time.Duration
	// StatusFirstDelay and StatusRepeat time the "still working" status
	// message: sent StatusFirstDelay after call start, then every
	// StatusRepeat (cmd/omega uses 15s and 120s, i.e. {15s, 135s, 255s,
	// ...}); a zero StatusFirstDelay disables it, a zero StatusRepeat
	// sends it once.
	StatusFirstDelay time.Duration
	StatusRepeat     time.Duration
	StatusMessage    string
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// Turn is one inbound message already past sanitization, identity
// resolution, and command/pending-gate checks — the direct pipeline's
// actual entry point once normal processing is confirmed to continue.
type Turn struct {
	Channel     string
	SenderID    string
	SenderName  string
	Text        string
	ReplyTarget string
	IsGroup     bool
}

// Outcome is everything the caller (the gateway) needs to know happened,
// so it can decide whether to log anything beyond what Run already did.
type Outcome struct {
	Delivered         bool
	ConfirmationsSent bool
	GreetingSent      bool
	PhotosSent        int
	MarkerResult      markerapply.Result
}

// Run executes the full direct-turn sequence for one turn.
func Run(ctx context.Context, deps Deps, turn Turn) (Outcome, error) {
	var out Outcome

	project, _, err := deps.Store.GetFact(ctx, turn.SenderID, memory.FactActiveProject)
	if err != nil {
		return out, err
	}

	gates := prompt.DeriveGates(turn.Text)
	needs := gates.Needs()

	mem, err := buildMemoryContext(ctx, deps, turn, project, needs)
	if err != nil {
		return out, err
	}

	mcpServers := []provider.MCPServer{}
	var allowedTools []string
	if deps.Skills != nil {
		mcpServers = deps.Skills.Match(turn.Text)
		if deps.SkillSessions != nil {
			allowedTools = deps.SkillSessions.ToolNames(ctx, deps.Skills.MatchCommands(turn.Text))
		}
	}

	sessionKey := memory.SessionKey{Channel: turn.Channel, SenderID: turn.SenderID, Project: project}
	storedSession, hasSession, err := deps.Store.GetSession(ctx, sessionKey)
	if err != nil {
		return out, err
	}

	fullPrompt := prompt.Assemble(prompt.Input{
		Identity:      deps.Identity,
		Provider:      deps.ProviderName,
		Platform:      deps.Platform,
		Now:           deps.now(),
		ActiveProject: project,
		Gates:         gates,
		Memory:        mem,
	})

	reqCtx := provider.Context{
		UserMessage:  turn.Text,
		SystemPrompt: fullPrompt.SystemPrompt,
		History:      historyFromTurns(mem.RecentTurns),
		Model:        deps.Model,
		MCPServers:   mcpServers,
		AllowedTools: allowedTools,
	}

	usedSession := false
	if hasSession && storedSession != "" {
		minimalPrompt := prompt.Minimal(prompt.Input{
			Now:           deps.now(),
			ActiveProject: project,
			Gates:         gates,
		})
		reqCtx.SystemPrompt = minimalPrompt.SystemPrompt
		reqCtx.History = nil
		reqCtx.SessionID = storedSession
		usedSession = true
	}

	result, err := callWithStatusHeartbeat(ctx, deps, turn, reqCtx)
	if err != nil && usedSession {
		// Session may have gone stale provider-side; fall back once with
		// the full prompt/history restored and no session_id.
		if clearErr := deps.Store.ClearSession(ctx, sessionKey); clearErr != nil {
			return out, clearErr
		}
		reqCtx.SystemPrompt = fullPrompt.SystemPrompt
		reqCtx.History = historyFromTurns(mem.RecentTurns)
		reqCtx.SessionID = ""
		result, err = callWithStatusHeartbeat(ctx, deps, turn, reqCtx)
	}
	if err != nil {
		return out, err
	}

	if result.Metadata.SessionID != "" {
		if err := deps.Store.SetSession(ctx, sessionKey, result.Metadata.SessionID); err != nil {
			return out, err
		}
	}

	var before map[string]bool
	if deps.WorkspaceImageDir != nil {
		before = listPNGs(deps.WorkspaceImageDir(project))
	}

	markerResult, err := markerapply.Apply(ctx, deps.MarkerDeps, turn.SenderID, turn.Channel, project, result.Text)
	if err != nil {
		return out, err
	}
	out.MarkerResult = markerResult

	if err := persist(ctx, deps, turn, project, result); err != nil {
		return out, err
	}
	audit.RecordOrLog(ctx, deps.Audit, audit.Event{
		Kind:      "direct_reply",
		Channel:   turn.Channel,
		SenderID:  turn.SenderID,
		Timestamp: deps.now(),
		Detail: map[string]string{
			"project":    project,
			"provider":   deps.ProviderName,
			"session":    result.Metadata.SessionID,
			"used_sess":  boolStr(usedSession),
		},
	})

	ch, ok := deps.Channels.Get(turn.Channel)
	if !ok {
		return out, errors.New("direct: no channel registered for " + turn.Channel)
	}
	target := turn.ReplyTarget

	if err := ch.Send(target, channel.Outgoing{Text: markerResult.CleanText}); err != nil {
		return out, err
	}
	out.Delivered = true

	if len(markerResult.TaskConfirmations) > 0 || markerResult.BugReported || len(markerResult.SkillImproved) > 0 {
		if msg := markerapply.FormatConfirmations(markerResult.TaskConfirmations); msg != "" {
			if err := ch.Send(target, channel.Outgoing{Text: msg}); err == nil {
				out.ConfirmationsSent = true
			}
		}
	}

	if markerResult.ProjectActivated != "" && deps.Localizer != nil {
		lang, _, _ := deps.Store.GetFact(ctx, turn.SenderID, memory.FactPreferredLanguage)
		greeting := deps.Localizer.Greeting(markerResult.ProjectActivated, lang)
		if greeting != "" {
			if err := ch.Send(target, channel.Outgoing{Text: greeting}); err == nil {
				out.GreetingSent = true
			}
		}
	}

	if deps.WorkspaceImageDir != nil {
		dir := deps.WorkspaceImageDir(project)
		after := listPNGs(dir)
		for name := range after {
			if before[name] {
				continue
			}
			path := filepath.Join(dir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			if err := ch.SendPhoto(target, data, name); err == nil {
				out.PhotosSent++
			}
			os.Remove(path)
		}
	}

	return out, nil
}

func callWithStatusHeartbeat(ctx context.Context, deps Deps, turn Turn, req provider.Context) (provider.Result, error) {
	stop := startStatusHeartbeat(deps, turn)
	defer stop()
	return deps.Client.Call(ctx, req)
}

// startStatusHeartbeat sends SendTyping on a fixed interval and a "still
// working" status message at 15s then every 120s thereafter, both
// stopping the instant the returned func is called (i.e. the instant the
// provider call returns).
func startStatusHeartbeat(deps Deps, turn Turn) func() {
	ch, ok := deps.Channels.Get(turn.Channel)
	if !ok {
		return func() {}
	}
	done := make(chan struct{})

	if deps.TypingEvery > 0 {
		go func() {
			ticker := time.NewTicker(deps.TypingEvery)
			defer ticker.Stop()
			ch.SendTyping(turn.ReplyTarget)
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					ch.SendTyping(turn.ReplyTarget)
				}
			}
		}()
	}

	firstDelay := deps.StatusFirstDelay
	repeat := deps.StatusRepeat
	if firstDelay > 0 {
		go func() {
			timer := time.NewTimer(firstDelay)
			defer timer.Stop()
			select {
			case <-done:
				return
			case <-timer.C:
			}
			msg := deps.StatusMessage
			if msg == "" {
				msg = "Still working on it…"
			}
			ch.Send(turn.ReplyTarget, channel.Outgoing{Text: msg})
			if repeat <= 0 {
				return
			}
			ticker := time.NewTicker(repeat)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					ch.Send(turn.ReplyTarget, channel.Outgoing{Text: msg})
				}
			}
		}()
	}

	var once bool
	return func() {
		if once {
			return
		}
		once = true
		close(done)
	}
}

func buildMemoryContext(ctx context.Context, deps Deps, turn Turn, project string, needs prompt.MemoryNeeds) (prompt.MemoryContext, error) {
	var mem prompt.MemoryContext

	conv, err := deps.Store.ActiveConversation(ctx, turn.Channel, turn.SenderID, project)
	if err != nil {
		return mem, err
	}
	recent, err := deps.Store.RecentTurns(ctx, turn.Channel, turn.SenderID, project, 20)
	if err != nil {
		return mem, err
	}
	mem.RecentTurns = formatTurns(recent)
	_ = conv

	if needs.Summaries {
		summaries, err := deps.Store.ClosedSummaries(ctx, turn.Channel, turn.SenderID, project, 5)
		if err != nil {
			return mem, err
		}
		mem.Summaries = summaries
	}
	if needs.RecallTurns {
		recalled, err := deps.Store.RecallTurns(ctx, turn.SenderID, turn.Text, 10)
		if err != nil {
			return mem, err
		}
		mem.RecallTurns = formatTurns(recalled)

		if deps.Recall != nil {
			hits, err := deps.Recall.Search(ctx, turn.SenderID, turn.Text, 5)
			if err != nil {
				return mem, err
			}
			for _, h := range hits {
				mem.RecallTurns = append(mem.RecallTurns, h.Text)
			}
		}
	}
	if needs.PendingTasks {
		tasks, err := deps.Store.PendingTasksForSender(ctx, turn.SenderID)
		if err != nil {
			return mem, err
		}
		for _, t := range tasks {
			mem.PendingTasks = append(mem.PendingTasks, t.Description+" @ "+t.DueAt+" ("+string(t.Repeat)+")")
		}
	}

	lessons, err := deps.Store.LessonsFor(ctx, turn.SenderID, project)
	if err != nil {
		return mem, err
	}
	for _, l := range lessons {
		mem.Lessons = append(mem.Lessons, l.Domain+": "+l.Rule)
	}

	if needs.Outcomes {
		outcomes, err := deps.Store.OutcomesFor(ctx, turn.SenderID, project, 10)
		if err != nil {
			return mem, err
		}
		for _, o := range outcomes {
			mem.Outcomes = append(mem.Outcomes, o.Domain+": "+o.Lesson)
		}
	}
	if needs.Profile {
		facts, err := deps.Store.AllFacts(ctx, turn.SenderID)
		if err != nil {
			return mem, err
		}
		mem.OwnerProfile = formatProfile(facts)
	}

	return mem, nil
}

func persist(ctx context.Context, deps Deps, turn Turn, project string, result provider.Result) error {
	conv, err := deps.Store.ActiveConversation(ctx, turn.Channel, turn.SenderID, project)
	if err != nil {
		return err
	}
	now := deps.now()
	if err := deps.Store.AppendTurn(ctx, conv.ID, memory.Turn{Role: memory.RoleUser, Content: turn.Text, Timestamp: now}); err != nil {
		return err
	}
	if err := deps.Store.AppendTurn(ctx, conv.ID, memory.Turn{Role: memory.RoleAssistant, Content: result.Text, Timestamp: now}); err != nil {
		return err
	}

	if deps.Recall != nil {
		turnID := fmt.Sprintf("%d:%d", conv.ID, now.UnixNano())
		if err := deps.Recall.IndexTurn(ctx, turnID, turn.SenderID, turn.Text+"\n"+result.Text); err != nil {
			return err
		}
	}
	return nil
}

func historyFromTurns(turns []string) []provider.Message {
	// formatTurns already rendered "role: content" strings for prompt
	// injection; the provider history instead needs role-tagged
	// messages, so this reconstructs them from the same source data the
	// caller already fetched rather than refetching.
	var out []provider.Message
	for _, t := range turns {
		role, content, ok := strings.Cut(t, ": ")
		if !ok {
			continue
		}
		out = append(out, provider.Message{Role: role, Content: content})
	}
	return out
}

func formatTurns(turns []memory.Turn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, string(t.Role)+": "+t.Content)
	}
	return out
}

func formatProfile(facts map[string]string) string {
	var b strings.Builder
	for k, v := range facts {
		if memory.SystemFactKeys[k] {
			continue
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func listPNGs(dir string) map[string]bool {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	out := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".png") {
			out[e.Name()] = true
		}
	}
	return out
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
