// Package summarizer implements a background loop that scans for active
// conversations with more than N turns, asks the provider for a
// one-to-two-sentence summary, closes the conversation with that summary
// attached, and extracts personal facts under a guided schema. It also
// runs once, synchronously, over every active conversation on graceful
// shutdown.
//
// The provider-call-then-parse-response shape follows internal/
// heartbeat's per-group call; the line-oriented response grammar
// (SUMMARY:/FACT:) echoes internal/marker's own WORD: payload convention
// without importing that package, since this is a separate, closed
// vocabulary from the control-plane markers.
package summarizer

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"omega/internal/memory"
	"omega/internal/obslog"
	"omega/internal/provider"
)

// Deps bundles every collaborator the summarizer needs.
type Deps struct {
	Store  memory.Store
	Client provider.Client
	Model  string

	// MinTurns is the turn-count threshold past which an active
	// conversation becomes eligible for periodic summarization.
	MinTurns int
	// Interval is how often Run scans for eligible conversations.
	Interval time.Duration

	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func (d Deps) interval() time.Duration {
	if d.Interval > 0 {
		return d.Interval
	}
	return 15 * time.Minute
}

func (d Deps) minTurns() int {
	if d.MinTurns > 0 {
		return d.MinTurns
	}
	return 20
}

// Run loops until ctx is cancelled, calling Tick on a fixed interval.
// Unlike the scheduler/heartbeat loops, summarization has no clock-
// alignment requirement — it is a plain periodic background scan, not a
// user-visible cadence.
func Run(ctx context.Context, deps Deps) error {
	log := obslog.Component("summarizer")
	ticker := time.NewTicker(deps.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := Tick(ctx, deps); err != nil {
				log.Warn().Err(err).Msg("summarizer tick failed")
			}
		}
	}
}

// Tick summarizes and closes every active conversation whose turn count
// exceeds deps.minTurns().
func Tick(ctx context.Context, deps Deps) error {
	convs, err := deps.Store.ConversationsNeedingSummary(ctx, deps.minTurns())
	if err != nil {
		return err
	}
	log := obslog.Component("summarizer")
	for _, c := range convs {
		if err := summarizeAndClose(ctx, deps, c); err != nil {
			log.Warn().Err(err).
				Str("sender_id", c.SenderID).Msg("summarize conversation failed")
		}
	}
	return nil
}

// Shutdown runs once, synchronously, over every active conversation
// regardless of turn count. Conversations with no turns are skipped —
// there is nothing to summarize or extract facts from.
func Shutdown(ctx context.Context, deps Deps) error {
	convs, err := deps.Store.AllActiveConversations(ctx)
	if err != nil {
		return err
	}
	log := obslog.Component("summarizer")
	for _, c := range convs {
		if len(c.Turns) == 0 {
			continue
		}
		if err := summarizeAndClose(ctx, deps, c); err != nil {
			log.Warn().Err(err).
				Str("sender_id", c.SenderID).Msg("shutdown summarize conversation failed")
		}
	}
	return nil
}

func summarizeAndClose(ctx context.Context, deps Deps, c *memory.Conversation) error {
	turns := c.Turns
	if len(turns) == 0 {
		turns, _ = deps.Store.RecentTurns(ctx, c.Channel, c.SenderID, c.Project, 200)
	}

	reply, err := deps.Client.Call(ctx, provider.Context{
		SystemPrompt: summaryPrompt(),
		UserMessage:  renderTranscript(turns),
		Model:        deps.Model,
	})
	if err != nil {
		return err
	}

	summary, facts := parseSummaryReply(reply.Text)
	if summary == "" {
		summary = fallbackSummary(turns)
	}

	for key, value := range facts {
		if memory.SystemFactKeys[key] {
			continue // system fact keys are never written by fact extraction
		}
		if err := deps.Store.SetFact(ctx, c.SenderID, key, value); err != nil {
			return err
		}
	}

	return deps.Store.CloseConversation(ctx, c.ID, summary)
}

func summaryPrompt() string {
	return "Summarize the conversation below in one to two sentences, then list any " +
		"durable personal facts about the owner worth remembering (preferences, " +
		"relationships, recurring context) as lowercase key/value pairs.\n\n" +
		"Respond in exactly this form:\n" +
		"SUMMARY: <one to two sentence summary>\n" +
		"FACT: <lowercase_key> = <value>\n" +
		"(one FACT line per fact; omit FACT lines entirely if none apply)"
}

func renderTranscript(turns []memory.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return b.String()
}

var (
	summaryLineRe = regexp.MustCompile(`(?i)^\s*SUMMARY\s*:\s?(.*)$`)
	factLineRe    = regexp.MustCompile(`(?i)^\s*FACT\s*:\s?([a-zA-Z0-9_]+)\s*=\s*(.*)$`)
)

// parseSummaryReply extracts the SUMMARY: line and every FACT: key = value
// line from a provider reply, tolerating extra prose around them.
func parseSummaryReply(text string) (summary string, facts map[string]string) {
	facts = map[string]string{}
	for _, line := range strings.Split(text, "\n") {
		if m := summaryLineRe.FindStringSubmatch(line); m != nil {
			summary = strings.TrimSpace(m[1])
			continue
		}
		if m := factLineRe.FindStringSubmatch(line); m != nil {
			key := strings.ToLower(strings.TrimSpace(m[1]))
			facts[key] = strings.TrimSpace(m[2])
		}
	}
	return summary, facts
}

// fallbackSummary produces a minimal summary when the provider reply
// carried no parseable SUMMARY: line, so CloseConversation never attaches
// an empty string silently discarding the conversation's content.
func fallbackSummary(turns []memory.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	last := turns[len(turns)-1]
	content := last.Content
	if len(content) > 200 {
		content = content[:200] + "…"
	}
	return "Conversation closed (" + strconv.Itoa(len(turns)) + " turns); last message: " + content
}
