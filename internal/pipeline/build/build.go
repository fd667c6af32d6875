// Package build implements the seven-phase build pipeline as an explicit
// phase-state machine (named transitions, not straight-line code), each
// phase invoking a purpose-built agent through the provider with a fresh
// context — agent_name set, session_id cleared, max_turns bounded — and
// a bounded retry-with-cap applied per phase.
package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"omega/internal/channel"
	"omega/internal/provider"
)

// Phase names each of the seven pipeline stages.
type Phase string

const (
	PhaseAnalyst    Phase = "analyst"
	PhaseArchitect  Phase = "architect"
	PhaseTestWriter Phase = "test_writer"
	PhaseDeveloper  Phase = "developer"
	PhaseQA         Phase = "qa"
	PhaseReview     Phase = "review"
	PhaseDelivery   Phase = "delivery"
)

const (
	maxQAIterations     = 3
	maxReviewIterations = 2
	maxTreeDepth         = 10
)

// ChainState is the on-failure artifact persisted to
// docs/.workflow/chain-state.md under the project: a single-writer,
// human-readable file, not a database row.
type ChainState struct {
	ProjectName     string
	ProjectDir      string
	CompletedPhases []string
	FailedPhase     string
	FailureReason   string
}

// Render formats the chain state as the markdown document the build
// machinery (and the agent itself, on a later attempt) reads back.
func (c ChainState) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Chain State\n\n")
	fmt.Fprintf(&b, "project_name: %s\n", c.ProjectName)
	fmt.Fprintf(&b, "project_dir: %s\n", c.ProjectDir)
	fmt.Fprintf(&b, "failed_phase: %s\n", c.FailedPhase)
	fmt.Fprintf(&b, "failure_reason: %s\n\n", c.FailureReason)
	b.WriteString("## Completed phases\n")
	for _, p := range c.CompletedPhases {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	return b.String()
}

// Request describes one build run, as produced by a BUILD_PROPOSAL
// marker confirmed by the user.
type Request struct {
	Project     string
	ProjectDir  string
	Description string
	Channel     string
	SenderID    string
	ReplyTarget string
}

// Outcome reports how far the pipeline got.
type Outcome struct {
	CompletedPhases []Phase
	Aborted         bool
	AbortedAt       Phase
	AbortReason     string
	PartialDelivery bool
}

// Localizer renders the per-phase progress message shown to the user.
type Localizer interface {
	BuildProgress(phase string, project string) string
}

// Deps bundles every collaborator the build pipeline needs.
type Deps struct {
	Client provider.Client
	Model  string

	// WriteAgentFiles stages the bundled agent topology under
	// workspace/.claude/agents/ before phase 1; RemoveAgentFiles tears it
	// down on every exit path (success, abort, or panic-recovery).
	WriteAgentFiles  func(workspaceDir string) error
	RemoveAgentFiles func(workspaceDir string) error
	WorkspaceDir     func(project string) string

	Channels    *channel.Registry
	ChannelName string
	Localizer   Localizer

	MaxTurns int // bounds each phase's agentic turn budget; 0 means provider default

	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) report(req Request, phase Phase) {
	if d.Channels == nil || d.Localizer == nil {
		return
	}
	channelName := req.Channel
	if channelName == "" {
		channelName = d.ChannelName
	}
	ch, ok := d.Channels.Get(channelName)
	if !ok {
		return
	}
	text := d.Localizer.BuildProgress(string(phase), req.Project)
	if text == "" {
		return
	}
	_ = ch.Send(req.ReplyTarget, channel.Outgoing{Text: text})
}

// Run executes the full seven-phase pipeline for req, returning as soon
// as an unrecoverable phase failure or the full delivery phase
// completes (even partially).
func Run(ctx context.Context, deps Deps, req Request) (Outcome, error) {
	workspace := ""
	if deps.WorkspaceDir != nil {
		workspace = deps.WorkspaceDir(req.Project)
	}

	if deps.WriteAgentFiles != nil {
		if err := deps.WriteAgentFiles(workspace); err != nil {
			return Outcome{}, err
		}
	}
	defer func() {
		if deps.RemoveAgentFiles != nil {
			_ = deps.RemoveAgentFiles(workspace)
		}
	}()

	out := Outcome{}
	fail := func(phase Phase, reason string) (Outcome, error) {
		out.Aborted = true
		out.AbortedAt = phase
		out.AbortReason = reason
		writeChainState(req.ProjectDir, ChainState{
			ProjectName:     req.Project,
			ProjectDir:      req.ProjectDir,
			CompletedPhases: phaseNames(out.CompletedPhases),
			FailedPhase:     string(phase),
			FailureReason:   reason,
		})
		deps.report(req, phase)
		return out, nil
	}

	// Phase 1: Analyst.
	deps.report(req, PhaseAnalyst)
	brief, err := runWithRetries(ctx, deps, req, PhaseAnalyst, 3, req.Description)
	if err != nil {
		return fail(PhaseAnalyst, err.Error())
	}
	out.CompletedPhases = append(out.CompletedPhases, PhaseAnalyst)

	// Phase 2: Architect.
	deps.report(req, PhaseArchitect)
	_, err = runWithRetries(ctx, deps, req, PhaseArchitect, 3, brief)
	if err != nil {
		return fail(PhaseArchitect, err.Error())
	}
	out.CompletedPhases = append(out.CompletedPhases, PhaseArchitect)

	// Phase 3: Test writer (TDD red). Pre-validate architecture.md exists.
	if ok, reason := validateArchitectureExists(req.ProjectDir); !ok {
		return fail(PhaseTestWriter, reason)
	}
	deps.report(req, PhaseTestWriter)
	_, err = runWithRetries(ctx, deps, req, PhaseTestWriter, 3, brief)
	if err != nil {
		return fail(PhaseTestWriter, err.Error())
	}
	out.CompletedPhases = append(out.CompletedPhases, PhaseTestWriter)

	// Phase 4: Developer (TDD green). Pre-validate test files exist.
	if ok, reason := validateTestFilesExist(req.ProjectDir); !ok {
		return fail(PhaseDeveloper, reason)
	}
	deps.report(req, PhaseDeveloper)
	_, err = runWithRetries(ctx, deps, req, PhaseDeveloper, 3, brief)
	if err != nil {
		return fail(PhaseDeveloper, err.Error())
	}
	out.CompletedPhases = append(out.CompletedPhases, PhaseDeveloper)

	// Phase 5: QA loop. Pre-validate source files exist.
	if ok, reason := validateSourceFilesExist(req.ProjectDir); !ok {
		return fail(PhaseQA, reason)
	}
	deps.report(req, PhaseQA)
	if err := runQALoop(ctx, deps, req); err != nil {
		return fail(PhaseQA, err.Error())
	}
	out.CompletedPhases = append(out.CompletedPhases, PhaseQA)

	// Phase 6: Review loop.
	deps.report(req, PhaseReview)
	if err := runReviewLoop(ctx, deps, req); err != nil {
		return fail(PhaseReview, err.Error())
	}
	out.CompletedPhases = append(out.CompletedPhases, PhaseReview)

	// Phase 7: Delivery.
	deps.report(req, PhaseDelivery)
	_, err = runWithRetries(ctx, deps, req, PhaseDelivery, 3, brief)
	if err != nil {
		out.PartialDelivery = true
		deps.report(req, PhaseDelivery)
		return out, nil
	}
	out.CompletedPhases = append(out.CompletedPhases, PhaseDelivery)

	return out, nil
}

// runWithRetries calls the provider for one phase up to attempts times
// (provider-level retries), returning the first successful reply text.
func runWithRetries(ctx context.Context, deps Deps, req Request, phase Phase, attempts int, input string) (string, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		result, err := deps.Client.Call(ctx, provider.Context{
			UserMessage: input,
			AgentName:   string(phase),
			SessionID:   "", // every phase runs in a fresh context, never resumed
			MaxTurns:    deps.MaxTurns,
			Model:       deps.Model,
		})
		if err == nil {
			return result.Text, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("%s: %w", phase, lastErr)
}

// runQALoop runs up to maxQAIterations rounds of QA -> developer fix ->
// QA, parsing a VERIFICATION: PASS|FAIL marker each round.
func runQALoop(ctx context.Context, deps Deps, req Request) error {
	feedback := ""
	for i := 0; i < maxQAIterations; i++ {
		result, err := deps.Client.Call(ctx, provider.Context{
			UserMessage: req.Description + feedback,
			AgentName:   string(PhaseQA),
			MaxTurns:    deps.MaxTurns,
			Model:       deps.Model,
		})
		if err != nil {
			return err
		}
		verdict, reason := parseVerdict(result.Text, "VERIFICATION")
		if verdict == verdictPass {
			return nil
		}
		if i == maxQAIterations-1 {
			return errors.New("qa failed after " + fmt.Sprint(maxQAIterations) + " iterations: " + reason)
		}
		fixResult, err := deps.Client.Call(ctx, provider.Context{
			UserMessage: "QA failure: " + reason,
			AgentName:   string(PhaseDeveloper),
			MaxTurns:    deps.MaxTurns,
			Model:       deps.Model,
		})
		if err != nil {
			return err
		}
		feedback = "\n\nprior QA feedback: " + reason + "\ndeveloper fix applied: " + fixResult.Text
	}
	return nil
}

// runReviewLoop mirrors runQALoop around a REVIEW: PASS|FAIL marker,
// capped at maxReviewIterations.
func runReviewLoop(ctx context.Context, deps Deps, req Request) error {
	feedback := ""
	for i := 0; i < maxReviewIterations; i++ {
		result, err := deps.Client.Call(ctx, provider.Context{
			UserMessage: req.Description + feedback,
			AgentName:   string(PhaseReview),
			MaxTurns:    deps.MaxTurns,
			Model:       deps.Model,
		})
		if err != nil {
			return err
		}
		verdict, reason := parseVerdict(result.Text, "REVIEW")
		if verdict == verdictPass {
			return nil
		}
		if i == maxReviewIterations-1 {
			return errors.New("review failed after " + fmt.Sprint(maxReviewIterations) + " iterations: " + reason)
		}
		fixResult, err := deps.Client.Call(ctx, provider.Context{
			UserMessage: "Review feedback: " + reason,
			AgentName:   string(PhaseDeveloper),
			MaxTurns:    deps.MaxTurns,
			Model:       deps.Model,
		})
		if err != nil {
			return err
		}
		feedback = "\n\nprior review feedback: " + reason + "\ndeveloper fix applied: " + fixResult.Text
	}
	return nil
}

type verdict int

const (
	verdictUnknown verdict = iota
	verdictPass
	verdictFail
)

// parseVerdict scans reply text for a "<label>: PASS" or
// "<label>: FAIL | <reason>" line and returns the verdict plus the
// failure reason (empty on PASS), following the same "|"-delimited
// grammar the rest of the marker set uses.
func parseVerdict(text, label string) (verdict, string) {
	prefix := label + ":"
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, prefix) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
		fields := strings.SplitN(rest, "|", 2)
		verb := strings.ToUpper(strings.TrimSpace(fields[0]))
		switch {
		case strings.HasPrefix(verb, "PASS"):
			return verdictPass, ""
		case strings.HasPrefix(verb, "FAIL"):
			reason := "no reason given"
			if len(fields) > 1 {
				reason = strings.TrimSpace(fields[1])
			}
			return verdictFail, reason
		}
	}
	return verdictUnknown, "no " + label + " marker found in reply"
}

func phaseNames(phases []Phase) []string {
	out := make([]string, len(phases))
	for i, p := range phases {
		out[i] = string(p)
	}
	return out
}

func writeChainState(projectDir string, state ChainState) {
	if projectDir == "" {
		return
	}
	dir := filepath.Join(projectDir, "docs", ".workflow")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(dir, "chain-state.md"), []byte(state.Render()), 0o644)
}

func validateArchitectureExists(projectDir string) (bool, string) {
	if projectDir == "" {
		return true, ""
	}
	_, err := os.Stat(filepath.Join(projectDir, "specs", "architecture.md"))
	if err != nil {
		return false, "specs/architecture.md is missing; architect phase did not persist its output"
	}
	return true, ""
}

func validateTestFilesExist(projectDir string) (bool, string) {
	if projectDir == "" {
		return true, ""
	}
	found, err := scanTree(projectDir, maxTreeDepth, func(name string) bool {
		lower := strings.ToLower(name)
		return strings.Contains(lower, "test") || strings.Contains(lower, "spec") || strings.Contains(lower, "_test.")
	})
	if err != nil || !found {
		return false, "no test/spec file found under the project tree; test writer phase produced no tests"
	}
	return true, ""
}

var sourceExtensions = map[string]bool{
	".rs": true, ".py": true, ".js": true, ".ts": true, ".go": true,
	".java": true, ".rb": true, ".c": true, ".cpp": true,
}

func validateSourceFilesExist(projectDir string) (bool, string) {
	if projectDir == "" {
		return true, ""
	}
	found, err := scanTree(projectDir, maxTreeDepth, func(name string) bool {
		return sourceExtensions[strings.ToLower(filepath.Ext(name))]
	})
	if err != nil || !found {
		return false, "no source file found under the project tree; developer phase produced no implementation"
	}
	return true, ""
}

// scanTree walks root up to maxDepth directories deep, skipping hidden
// directories, node_modules, target, and symlinks (to prevent cycles),
// and reports whether any file name satisfies match.
func scanTree(root string, maxDepth int, match func(name string) bool) (bool, error) {
	found := false
	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		if found || depth > maxDepth {
			return nil
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, e := range entries {
			if found {
				return nil
			}
			name := e.Name()
			if e.Type()&fs.ModeSymlink != 0 {
				continue
			}
			if e.IsDir() {
				if strings.HasPrefix(name, ".") || name == "node_modules" || name == "target" {
					continue
				}
				if err := walk(filepath.Join(dir, name), depth+1); err != nil {
					return err
				}
				continue
			}
			if match(name) {
				found = true
				return nil
			}
		}
		return nil
	}
	if err := walk(root, 0); err != nil {
		return false, err
	}
	return found, nil
}
