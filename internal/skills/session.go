package skills

import (
	"context"
	"os/exec"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"omega/internal/obslog"
)

// SessionManager connects to the stdio-transport MCP servers named by a
// matched skill set and caches the resulting sessions for reuse across
// turns. It only speaks the one transport OMEGA's bundled skills
// actually need: a local subprocess over stdio. HTTP/SSE-transport
// skills aren't configured by anything in this tree.
type SessionManager struct {
	impl *mcpsdk.Implementation

	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession // server name -> session
	failed   map[string]error
}

// NewSessionManager builds a manager identifying itself to every MCP
// server it connects to as name/version via mcpsdk.NewClient(&mcpsdk.
// Implementation{...}, nil).
func NewSessionManager(name, version string) *SessionManager {
	return &SessionManager{
		impl:     &mcpsdk.Implementation{Name: name, Version: version},
		sessions: make(map[string]*mcpsdk.ClientSession),
		failed:   make(map[string]error),
	}
}

// Connect lazily connects to server (a stdio-transport MCP server
// launched as server.Command with server.Args) and caches the session.
// A server with no Command is a no-op (OMEGA skills without a matching
// subprocess behind them, e.g. purely prompt-driven skills).
func (m *SessionManager) Connect(ctx context.Context, server string, command string, args []string) (*mcpsdk.ClientSession, error) {
	if command == "" {
		return nil, nil
	}

	m.mu.Lock()
	if s, ok := m.sessions[server]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	client := mcpsdk.NewClient(m.impl, nil)
	transport := &mcpsdk.CommandTransport{Command: exec.CommandContext(ctx, command, args...)}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		m.mu.Lock()
		m.failed[server] = err
		m.mu.Unlock()
		log := obslog.Component("skills")
		log.Warn().Err(err).Str("server", server).Msg("mcp server connect failed")
		return nil, err
	}

	m.mu.Lock()
	m.sessions[server] = session
	delete(m.failed, server)
	m.mu.Unlock()
	return session, nil
}

// ToolNames connects to every server in servers (best-effort — a failed
// connection is logged and skipped, never fatal to the calling turn) and
// returns the flattened, deduplicated set of tool names each session
// advertises, for provider.Context.AllowedTools.
func (m *SessionManager) ToolNames(ctx context.Context, servers []CommandServer) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range servers {
		session, err := m.Connect(ctx, s.Name, s.Command, s.Args)
		if err != nil || session == nil {
			continue
		}
		res, err := session.ListTools(ctx, nil)
		if err != nil {
			log := obslog.Component("skills")
			log.Warn().Err(err).Str("server", s.Name).Msg("mcp list tools failed")
			continue
		}
		for _, t := range res.Tools {
			if !seen[t.Name] {
				seen[t.Name] = true
				out = append(out, t.Name)
			}
		}
	}
	return out
}

// Close tears down every open session, for graceful shutdown.
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, s := range m.sessions {
		if err := s.Close(); err != nil {
			log := obslog.Component("skills")
			log.Warn().Err(err).Str("server", name).Msg("mcp session close failed")
		}
	}
	m.sessions = make(map[string]*mcpsdk.ClientSession)
}

// CommandServer is the subset of a matched provider.MCPServer needed to
// launch its stdio subprocess.
type CommandServer struct {
	Name    string
	Command string
	Args    []string
}
