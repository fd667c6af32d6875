package claudemd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSkipsWhenFileExists(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "CLAUDE.md"), []byte("# Mine"), 0o644))

	calls := 0
	deps := Deps{Workspace: ws, DataDir: ws, Exec: func(ctx context.Context, workspace, prompt string) error {
		calls++
		return nil
	}}
	Ensure(context.Background(), deps)

	assert.Zero(t, calls)
	raw, err := os.ReadFile(filepath.Join(ws, "CLAUDE.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Mine", string(raw))
}

func TestEnsureDeploysTemplateThenEnriches(t *testing.T) {
	ws := filepath.Join(t.TempDir(), "workspace")

	var prompts []string
	deps := Deps{Workspace: ws, DataDir: "/data", Exec: func(ctx context.Context, workspace, prompt string) error {
		prompts = append(prompts, prompt)
		assert.Equal(t, ws, workspace)
		return nil
	}}
	Ensure(context.Background(), deps)

	raw, err := os.ReadFile(filepath.Join(ws, "CLAUDE.md"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# OMEGA Workspace")
	assert.Contains(t, string(raw), DynamicMarker)
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "/data/skills/")
}

func TestEnsureTemplateSurvivesExecFailure(t *testing.T) {
	ws := filepath.Join(t.TempDir(), "workspace")
	deps := Deps{Workspace: ws, DataDir: "/data", Exec: func(ctx context.Context, workspace, prompt string) error {
		return assert.AnError
	}}
	Ensure(context.Background(), deps)

	raw, err := os.ReadFile(filepath.Join(ws, "CLAUDE.md"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# OMEGA Workspace")
}

func TestRefreshPreservesDynamicContent(t *testing.T) {
	ws := t.TempDir()
	full := workspaceTemplate + "\n## Available Skills\n\n| Skill | Purpose |\n|-------|---------|\n"
	require.NoError(t, os.WriteFile(filepath.Join(ws, "CLAUDE.md"), []byte(full), 0o644))

	deps := Deps{Workspace: ws, DataDir: "/data", Exec: func(ctx context.Context, workspace, prompt string) error {
		return nil
	}}
	Refresh(context.Background(), deps)

	raw, err := os.ReadFile(filepath.Join(ws, "CLAUDE.md"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "## Key Conventions")
	assert.Contains(t, string(raw), "## Available Skills")
}

func TestRefreshRecreatesDeletedFile(t *testing.T) {
	ws := t.TempDir()
	deps := Deps{Workspace: ws, DataDir: "/data", Exec: func(ctx context.Context, workspace, prompt string) error {
		return nil
	}}
	Refresh(context.Background(), deps)

	raw, err := os.ReadFile(filepath.Join(ws, "CLAUDE.md"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# OMEGA Workspace")
}

func TestExtractDynamic(t *testing.T) {
	withContent := "# Rules\n\n" + DynamicMarker + " — do not edit above -->\n\n## Available Skills\n"
	dynamic, ok := ExtractDynamic(withContent)
	require.True(t, ok)
	assert.Contains(t, dynamic, "## Available Skills")

	_, ok = ExtractDynamic("# Rules\n\n" + DynamicMarker + " — do not edit above -->\n")
	assert.False(t, ok, "empty dynamic section")

	_, ok = ExtractDynamic("# Rules, no marker at all")
	assert.False(t, ok)
}
