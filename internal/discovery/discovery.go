// Package discovery implements the multi-round clarification engine that
// turns a vague "build me X" request into either an immediate Idea Brief
// or up to three rounds of agent-authored clarifying questions before
// handing off to the build-confirmation step. State lives in a
// single-writer markdown file per sender (discovery/<sender_id>.md)
// rather than a DB row, since the agent itself edits it round by round.
package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"omega/internal/channel"
	"omega/internal/memory"
	"omega/internal/provider"
)

// MaxRounds caps the multi-round clarification phase; round 3 is forced
// to complete regardless of what marker the agent emits.
const MaxRounds = 3

// DefaultTTL is how long a pending_discovery (or pending_build_request)
// fact lives before it is silently cleared by the pending-state gate.
const DefaultTTL = 30 * time.Minute

// Entry records one round's agent-authored questions and the user's
// answer (empty until supplied).
type Entry struct {
	Round     int
	Questions string
	Answer    string
}

// State is the full discovery/<sender_id>.md document.
type State struct {
	SenderID        string
	Created         time.Time
	Round           int
	OriginalRequest string
	Entries         []Entry
}

// Render formats State as the markdown document persisted to disk. Each
// round is rendered as a "## Round N" header followed by an
// "### Agent Questions" subsection and, once answered, a
// "### User Response" subsection.
func (s State) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Discovery Session\n\n")
	fmt.Fprintf(&b, "CREATED: %d\n", s.Created.UTC().Unix())
	fmt.Fprintf(&b, "ROUND: %d\n", s.Round)
	fmt.Fprintf(&b, "ORIGINAL_REQUEST: %s\n\n", s.OriginalRequest)
	for _, e := range s.Entries {
		fmt.Fprintf(&b, "## Round %d\n\n", e.Round)
		fmt.Fprintf(&b, "### Agent Questions\n%s\n\n", e.Questions)
		if e.Answer != "" {
			fmt.Fprintf(&b, "### User Response\n%s\n\n", e.Answer)
		}
	}
	return b.String()
}

// Parse reads a State back from its rendered markdown form.
func Parse(senderID, text string) (State, error) {
	s := State{SenderID: senderID}
	lines := strings.Split(text, "\n")
	var section string
	var buf strings.Builder
	var currentRound int
	flush := func() {
		content := strings.TrimRight(buf.String(), "\n")
		switch section {
		case "questions":
			s.Entries = append(s.Entries, Entry{Round: currentRound, Questions: content})
		case "answer":
			if n := len(s.Entries); n > 0 && s.Entries[n-1].Round == currentRound {
				s.Entries[n-1].Answer = content
			}
		}
		buf.Reset()
	}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "CREATED:"):
			ts := strings.TrimSpace(strings.TrimPrefix(line, "CREATED:"))
			if sec, err := strconv.ParseInt(ts, 10, 64); err == nil {
				s.Created = time.Unix(sec, 0).UTC()
			}
		case strings.HasPrefix(line, "ROUND:"):
			n, _ := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "ROUND:")))
			s.Round = n
		case strings.HasPrefix(line, "ORIGINAL_REQUEST:"):
			s.OriginalRequest = strings.TrimSpace(strings.TrimPrefix(line, "ORIGINAL_REQUEST:"))
		case strings.HasPrefix(line, "## Round "):
			flush()
			rest := strings.TrimPrefix(line, "## Round ")
			fields := strings.SplitN(rest, " ", 2)
			currentRound, _ = strconv.Atoi(strings.TrimSpace(fields[0]))
			section = ""
		case strings.HasPrefix(strings.TrimSpace(line), "### Agent Questions"):
			flush()
			section = "questions"
		case strings.HasPrefix(strings.TrimSpace(line), "### User Response"):
			flush()
			section = "answer"
		default:
			if section != "" {
				buf.WriteString(line)
				buf.WriteString("\n")
			}
		}
	}
	flush()
	return s, nil
}

// Localizer renders the user-facing strings discovery sends.
type Localizer interface {
	ConfirmBuild(brief string) string
	DiscoveryCancelled() string
}

// Deps bundles every collaborator the discovery engine needs.
type Deps struct {
	Client    provider.Client
	Model     string
	AgentName string
	MaxTurns  int

	DataDir         string              // state files live under DataDir/discovery/
	WorkspaceDir    func(senderID string) string
	WriteAgentFiles func(workspaceDir string) error

	Store       memory.Store
	Channels    *channel.Registry
	ChannelName string
	Localizer   Localizer

	TTL time.Duration

	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) ttl() time.Duration {
	if d.TTL > 0 {
		return d.TTL
	}
	return DefaultTTL
}

func (d Deps) statePath(senderID string) string {
	return filepath.Join(d.DataDir, "discovery", senderID+".md")
}

// Result reports the outcome of one discovery step.
type Result struct {
	Completed    bool   // a brief was produced and stored as pending_build_request
	Brief        string // set when Completed
	Questions    string // set when not Completed (round in progress)
	Delivered    bool
}

// FormatPending renders the pending_discovery/pending_build_request fact
// value: "<unix_ts>|<sender_id>".
func FormatPending(ts time.Time, senderID string) string {
	return strconv.FormatInt(ts.UTC().Unix(), 10) + "|" + senderID
}

// ParsePending splits a pending fact value back into its timestamp and
// sender id.
func ParsePending(value string) (time.Time, string, error) {
	parts := strings.SplitN(value, "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("discovery: malformed pending value %q", value)
	}
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(sec, 0).UTC(), parts[1], nil
}

// Expired reports whether a pending fact value has outlived ttl as of now.
func Expired(value string, now time.Time, ttl time.Duration) bool {
	ts, _, err := ParsePending(value)
	if err != nil {
		return true
	}
	return now.Sub(ts) > ttl
}

// Begin runs round 1 for a fresh build request: stage the agent
// topology, ask the discovery agent, and either store a pending build
// request (DISCOVERY_COMPLETE) or start the multi-round file
// (DISCOVERY_QUESTIONS).
func Begin(ctx context.Context, deps Deps, senderID, replyTarget, request string) (Result, error) {
	if deps.WriteAgentFiles != nil {
		workspace := ""
		if deps.WorkspaceDir != nil {
			workspace = deps.WorkspaceDir(senderID)
		}
		if err := deps.WriteAgentFiles(workspace); err != nil {
			return Result{}, err
		}
	}

	reply, err := callAgent(ctx, deps, request)
	if err != nil {
		return Result{}, err
	}

	kind, content := parseReply(reply)
	switch kind {
	case replyComplete:
		return finish(ctx, deps, senderID, replyTarget, content)
	default: // questions, or an unrecognized reply defaults to another round
		state := State{
			SenderID:        senderID,
			Created:         deps.now(),
			Round:           1,
			OriginalRequest: request,
			Entries:         []Entry{{Round: 1, Questions: content}},
		}
		return askQuestions(ctx, deps, senderID, replyTarget, state)
	}
}

// Continue runs rounds 2-3: append the user's answer, bump the round,
// and re-invoke the discovery agent. Round 3 is forced to complete
// regardless of what the agent's reply says.
func Continue(ctx context.Context, deps Deps, senderID, replyTarget, answer string) (Result, error) {
	raw, err := os.ReadFile(deps.statePath(senderID))
	if err != nil {
		return Result{}, err
	}
	state, err := Parse(senderID, string(raw))
	if err != nil {
		return Result{}, err
	}
	if n := len(state.Entries); n > 0 {
		state.Entries[n-1].Answer = answer
	}

	nextRound := state.Round + 1
	forceComplete := nextRound >= MaxRounds

	prompt := renderContinuePrompt(state, answer, forceComplete)
	reply, err := callAgent(ctx, deps, prompt)
	if err != nil {
		return Result{}, err
	}

	kind, content := parseReply(reply)
	if forceComplete || kind == replyComplete {
		if kind != replyComplete {
			// Forced completion on an agent that still asked questions:
			// treat its latest text as the brief rather than discard it.
			content = reply
		}
		return finish(ctx, deps, senderID, replyTarget, content)
	}

	state.Round = nextRound
	state.Entries = append(state.Entries, Entry{Round: nextRound, Questions: content})
	return askQuestions(ctx, deps, senderID, replyTarget, state)
}

// Cancel removes both the pending_discovery fact and the state file, for
// the explicit-cancellation / expiry path.
func Cancel(ctx context.Context, deps Deps, senderID string) error {
	if deps.Store != nil {
		if err := deps.Store.SetFact(ctx, senderID, memory.FactPendingDiscovery, ""); err != nil {
			return err
		}
	}
	err := os.Remove(deps.statePath(senderID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if deps.Channels != nil && deps.Localizer != nil {
		if ch, ok := deps.Channels.Get(deps.ChannelName); ok {
			_ = ch.Send(senderID, channel.Outgoing{Text: deps.Localizer.DiscoveryCancelled()})
		}
	}
	return nil
}

func finish(ctx context.Context, deps Deps, senderID, replyTarget, brief string) (Result, error) {
	brief = strings.TrimSpace(brief)
	if deps.Store != nil {
		if err := deps.Store.SetFact(ctx, senderID, memory.FactPendingBuildReq, brief); err != nil {
			return Result{}, err
		}
		_ = deps.Store.SetFact(ctx, senderID, memory.FactPendingDiscovery, "")
	}
	_ = os.Remove(deps.statePath(senderID))

	res := Result{Completed: true, Brief: brief}
	if deps.Channels != nil && deps.Localizer != nil {
		if ch, ok := deps.Channels.Get(deps.ChannelName); ok {
			text := deps.Localizer.ConfirmBuild(brief)
			if err := ch.Send(replyTarget, channel.Outgoing{Text: text}); err == nil {
				res.Delivered = true
			}
		}
	}
	return res, nil
}

func askQuestions(ctx context.Context, deps Deps, senderID, replyTarget string, state State) (Result, error) {
	if err := os.MkdirAll(filepath.Dir(deps.statePath(senderID)), 0o755); err != nil {
		return Result{}, err
	}
	if err := os.WriteFile(deps.statePath(senderID), []byte(state.Render()), 0o644); err != nil {
		return Result{}, err
	}
	if deps.Store != nil {
		pending := FormatPending(deps.now(), senderID)
		if err := deps.Store.SetFact(ctx, senderID, memory.FactPendingDiscovery, pending); err != nil {
			return Result{}, err
		}
	}

	questions := state.Entries[len(state.Entries)-1].Questions
	res := Result{Completed: false, Questions: questions}
	if deps.Channels != nil {
		if ch, ok := deps.Channels.Get(deps.ChannelName); ok {
			if err := ch.Send(replyTarget, channel.Outgoing{Text: questions}); err == nil {
				res.Delivered = true
			}
		}
	}
	return res, nil
}

func callAgent(ctx context.Context, deps Deps, userMessage string) (string, error) {
	result, err := deps.Client.Call(ctx, provider.Context{
		UserMessage: userMessage,
		AgentName:   deps.AgentName,
		MaxTurns:    deps.MaxTurns,
		Model:       deps.Model,
		SessionID:   "",
	})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func renderContinuePrompt(state State, answer string, forceComplete bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ORIGINAL_REQUEST: %s\n\n", state.OriginalRequest)
	for _, e := range state.Entries {
		fmt.Fprintf(&b, "Round %d questions:\n%s\n", e.Round, e.Questions)
		if e.Answer != "" {
			fmt.Fprintf(&b, "Round %d answer:\n%s\n", e.Round, e.Answer)
		}
	}
	if forceComplete {
		b.WriteString("\nThis is the final round. Respond with DISCOVERY_COMPLETE and a full Idea Brief regardless of remaining ambiguity.\n")
	}
	return b.String()
}

type replyKind int

const (
	replyUnknown replyKind = iota
	replyComplete
	replyQuestions
)

// parseReply scans the discovery agent's reply for a DISCOVERY_COMPLETE
// or DISCOVERY_QUESTIONS sentinel line and returns the remaining text
// (the Idea Brief or the clarifying questions) with that line removed.
func parseReply(text string) (replyKind, string) {
	kind := replyUnknown
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch trimmed {
		case "DISCOVERY_COMPLETE":
			kind = replyComplete
			continue
		case "DISCOVERY_QUESTIONS":
			kind = replyQuestions
			continue
		}
		kept = append(kept, line)
	}
	return kind, strings.TrimSpace(strings.Join(kept, "\n"))
}
