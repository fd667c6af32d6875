package localize

import (
	"os"
	"path/filepath"
)

// agentTopology is the bundled set of build/discovery phase agents, one
// small markdown contract per agent name identifying that build-phase
// agent's role. Full agent content is maintained outside this tree —
// each file here just names the phase's role and is what
// build.Deps.WriteAgentFiles and discovery.Deps.WriteAgentFiles stage
// before phase 1 / round 1. Only the build pipeline removes them again (on
// every exit path); discovery leaves them in place.
var agentTopology = map[string]string{
	"discovery":   "# Discovery Agent\n\nAsk up to 5 clarifying questions, or emit DISCOVERY_COMPLETE with a full Idea Brief.\n",
	"analyst":     "# Analyst Agent\n\nTurn the confirmed Idea Brief into a project brief.\n",
	"architect":   "# Architect Agent\n\nWrite specs/architecture.md from the project brief.\n",
	"test_writer": "# Test Writer Agent\n\nWrite failing tests for the architecture (TDD red).\n",
	"developer":   "# Developer Agent\n\nMake the failing tests pass (TDD green).\n",
	"qa":          "# QA Agent\n\nValidate the implementation; emit VERIFICATION: PASS or FAIL.\n",
	"review":      "# Reviewer Agent\n\nReview the implementation; emit REVIEW: PASS or FAIL.\n",
	"delivery":    "# Delivery Agent\n\nWrite docs, SKILL.md, and a summary of what was built.\n",
}

// WriteAgentFiles stages agentTopology under workspaceDir/.claude/agents/,
// satisfying both build.Deps.WriteAgentFiles and discovery.Deps.
// WriteAgentFiles (same signature, same topology — discovery only needs
// the "discovery" entry but writing the full set is harmless and lets a
// discovery session seamlessly hand off into a build in the same
// workspace).
func WriteAgentFiles(workspaceDir string) error {
	dir := filepath.Join(workspaceDir, ".claude", "agents")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for name, content := range agentTopology {
		if err := os.WriteFile(filepath.Join(dir, name+".md"), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAgentFiles tears down the staged topology on every build-pipeline
// exit path (success, abort, or panic-recovery via defer).
func RemoveAgentFiles(workspaceDir string) error {
	dir := filepath.Join(workspaceDir, ".claude", "agents")
	err := os.RemoveAll(dir)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
