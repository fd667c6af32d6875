package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omega/internal/channel"
	"omega/internal/provider"
)

// scriptedClient returns queued replies keyed by agent name, falling back
// to a default reply for any agent name not explicitly scripted.
type scriptedClient struct {
	byAgent map[string][]string
	calls   []provider.Context
	failAgents map[string]int // agent name -> number of leading calls that fail
}

func (c *scriptedClient) Call(ctx context.Context, req provider.Context) (provider.Result, error) {
	c.calls = append(c.calls, req)
	if n := c.failAgents[req.AgentName]; n > 0 {
		c.failAgents[req.AgentName] = n - 1
		return provider.Result{}, assertAnError{}
	}
	queue := c.byAgent[req.AgentName]
	if len(queue) == 0 {
		return provider.Result{Text: req.AgentName + " ok"}, nil
	}
	text := queue[0]
	c.byAgent[req.AgentName] = queue[1:]
	return provider.Result{Text: text}, nil
}
func (c *scriptedClient) IsTransientError(err error) bool { return err != nil }

type assertAnError struct{}

func (assertAnError) Error() string { return "provider unavailable" }

type fakeLocalizer struct{}

func (fakeLocalizer) BuildProgress(phase, project string) string {
	return phase + " for " + project
}

type fakeChannel struct{ sent []channel.Outgoing }

func (f *fakeChannel) Start(ctx context.Context, handler func(channel.Incoming)) error { return nil }
func (f *fakeChannel) Send(target string, msg channel.Outgoing) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeChannel) SendTyping(target string) error                             { return nil }
func (f *fakeChannel) SendPhoto(target string, data []byte, filename string) error { return nil }
func (f *fakeChannel) Stop() error                                                 { return nil }

func baseDeps(client *scriptedClient, ch *fakeChannel) Deps {
	reg := channel.NewRegistry()
	reg.Register("telegram", ch)
	return Deps{
		Client:      client,
		Model:       "big-model",
		Channels:    reg,
		ChannelName: "telegram",
		Localizer:   fakeLocalizer{},
	}
}

func seedProjectTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "specs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "specs", "architecture.md"), []byte("# arch"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main_test.go"), []byte("package main"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.go"), []byte("package main"), 0o644))
	return dir
}

func TestRunCompletesAllPhasesOnCleanRuns(t *testing.T) {
	projectDir := seedProjectTree(t)
	client := &scriptedClient{
		byAgent: map[string][]string{
			"qa":     {"VERIFICATION: PASS"},
			"review": {"REVIEW: PASS"},
		},
	}
	ch := &fakeChannel{}
	deps := baseDeps(client, ch)

	out, err := Run(context.Background(), deps, Request{
		Project: "widget", ProjectDir: projectDir, Description: "build a widget",
		Channel: "telegram", ReplyTarget: "owner",
	})
	require.NoError(t, err)
	assert.False(t, out.Aborted)
	assert.Equal(t, []Phase{PhaseAnalyst, PhaseArchitect, PhaseTestWriter, PhaseDeveloper, PhaseQA, PhaseReview, PhaseDelivery}, out.CompletedPhases)
	assert.Len(t, ch.sent, 7) // one progress message per phase
}

func TestRunAbortsWhenArchitectureMissingBeforeTestWriter(t *testing.T) {
	dir := t.TempDir() // no specs/architecture.md
	client := &scriptedClient{byAgent: map[string][]string{}}
	ch := &fakeChannel{}
	deps := baseDeps(client, ch)

	out, err := Run(context.Background(), deps, Request{
		Project: "widget", ProjectDir: dir, Description: "build a widget",
		Channel: "telegram", ReplyTarget: "owner",
	})
	require.NoError(t, err)
	assert.True(t, out.Aborted)
	assert.Equal(t, PhaseTestWriter, out.AbortedAt)

	state, err := os.ReadFile(filepath.Join(dir, "docs", ".workflow", "chain-state.md"))
	require.NoError(t, err)
	assert.Contains(t, string(state), "test_writer")
}

func TestRunQALoopRetriesThenPassesAfterDeveloperFix(t *testing.T) {
	projectDir := seedProjectTree(t)
	client := &scriptedClient{
		byAgent: map[string][]string{
			"qa":     {"VERIFICATION: FAIL | missing edge case", "VERIFICATION: PASS"},
			"review": {"REVIEW: PASS"},
		},
	}
	ch := &fakeChannel{}
	deps := baseDeps(client, ch)

	out, err := Run(context.Background(), deps, Request{
		Project: "widget", ProjectDir: projectDir, Description: "build a widget",
		Channel: "telegram", ReplyTarget: "owner",
	})
	require.NoError(t, err)
	assert.False(t, out.Aborted)
	assert.Contains(t, out.CompletedPhases, PhaseQA)
}

func TestRunQALoopAbortsAfterMaxIterations(t *testing.T) {
	projectDir := seedProjectTree(t)
	client := &scriptedClient{
		byAgent: map[string][]string{
			"qa": {
				"VERIFICATION: FAIL | a",
				"VERIFICATION: FAIL | b",
				"VERIFICATION: FAIL | c",
			},
		},
	}
	ch := &fakeChannel{}
	deps := baseDeps(client, ch)

	out, err := Run(context.Background(), deps, Request{
		Project: "widget", ProjectDir: projectDir, Description: "build a widget",
		Channel: "telegram", ReplyTarget: "owner",
	})
	require.NoError(t, err)
	assert.True(t, out.Aborted)
	assert.Equal(t, PhaseQA, out.AbortedAt)
}

func TestRunAnalystAbortsAfterThreeFailedAttempts(t *testing.T) {
	client := &scriptedClient{
		byAgent:    map[string][]string{},
		failAgents: map[string]int{"analyst": 3},
	}
	ch := &fakeChannel{}
	deps := baseDeps(client, ch)

	out, err := Run(context.Background(), deps, Request{
		Project: "widget", Description: "build a widget",
		Channel: "telegram", ReplyTarget: "owner",
	})
	require.NoError(t, err)
	assert.True(t, out.Aborted)
	assert.Equal(t, PhaseAnalyst, out.AbortedAt)
	assert.Empty(t, out.CompletedPhases)
}

func TestWriteAgentFilesCleanedUpOnAbort(t *testing.T) {
	var wrote, removed bool
	client := &scriptedClient{failAgents: map[string]int{"analyst": 3}}
	ch := &fakeChannel{}
	deps := baseDeps(client, ch)
	deps.WriteAgentFiles = func(dir string) error { wrote = true; return nil }
	deps.RemoveAgentFiles = func(dir string) error { removed = true; return nil }
	deps.WorkspaceDir = func(project string) string { return "/tmp/" + project }

	_, err := Run(context.Background(), deps, Request{Project: "widget", Description: "x"})
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.True(t, removed)
}
