// Package skills matches bundled skill triggers against a turn's text
// and produces the MCP server set a provider call should be configured
// with. Skill content itself is maintained outside this tree — this
// package owns trigger matching, the resulting provider.MCPServer
// descriptors (server-name-keyed, one per configured server), and the
// session lifecycle for connecting to them (see session.go).
package skills

import (
	"strings"

	"omega/internal/provider"
)

// Skill is one bundled skill's trigger vocabulary plus the MCP server it
// activates when triggered.
type Skill struct {
	Name     string
	Triggers []string
	Server   provider.MCPServer
}

// Catalog is the set of configured skills, searched by name for
// SKILL_IMPROVE lookups.
type Catalog struct {
	skills []Skill
}

func NewCatalog(skills []Skill) *Catalog {
	return &Catalog{skills: skills}
}

// Match returns the MCP server set for every skill whose trigger
// vocabulary matches text (lowercased substring match, same style as
// internal/prompt's gate vocabularies).
func (c *Catalog) Match(text string) []provider.MCPServer {
	lower := strings.ToLower(text)
	var servers []provider.MCPServer
	for _, s := range c.skills {
		for _, trig := range s.Triggers {
			if strings.Contains(lower, trig) {
				servers = append(servers, s.Server)
				break
			}
		}
	}
	return servers
}

// MatchCommands is Match narrowed to the command/args pair SessionManager
// needs, skipping any matched skill whose MCP server has no Command (a
// purely prompt-driven skill with nothing to connect to).
func (c *Catalog) MatchCommands(text string) []CommandServer {
	var out []CommandServer
	for _, srv := range c.Match(text) {
		if srv.Command == "" {
			continue
		}
		out = append(out, CommandServer{Name: srv.Name, Command: srv.Command, Args: srv.Args})
	}
	return out
}

// Find looks up a skill by name for the SKILL_IMPROVE marker handler.
func (c *Catalog) Find(name string) (Skill, bool) {
	for _, s := range c.skills {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Skill{}, false
}

// Names lists every configured skill name, for the /skills command.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.skills))
	for i, s := range c.skills {
		out[i] = s.Name
	}
	return out
}
