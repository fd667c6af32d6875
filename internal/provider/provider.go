// Package provider defines the boundary to the external LLM provider: a
// single Client interface plus a name-keyed Registry. The sub-packages
// (ollama, openai, gemini, anthropic) are thin, config-gated wrappers
// that build requests and normalize responses/errors; retry and backoff
// policy lives in the gateway/pipeline layer, not here.
package provider

import (
	"context"
	"errors"
)

// ErrTransient marks a provider error the caller may retry.
var ErrTransient = errors.New("provider: transient error")

// Context bundles everything a single provider call needs.
type Context struct {
	UserMessage  string
	SystemPrompt string
	History      []Message
	Model        string
	MaxTurns     int
	SessionID    string
	AgentName    string
	MCPServers   []MCPServer
	AllowedTools []string
}

// Message is one role-tagged turn of conversation history handed to the
// provider, independent of memory.Turn so this package has no dependency
// on the memory store.
type Message struct {
	Role    string
	Content string
}

// MCPServer describes one Model Context Protocol server the provider call
// should have available, produced by internal/skills from matched skill
// triggers.
type MCPServer struct {
	Name    string
	Command string
	Args    []string
}

// Metadata is returned alongside the reply text.
type Metadata struct {
	Model             string
	ProcessingTimeMs  int64
	SessionID         string
	ProviderUsed      string
}

// Result is the full provider response.
type Result struct {
	Text        string
	Metadata    Metadata
	ReplyTarget string
}

// Client is one blocking call per turn, suspending for the duration of
// the provider round trip.
type Client interface {
	Call(ctx context.Context, req Context) (Result, error)
	// IsTransientError reports whether err (as returned by Call) should
	// be retried by the caller.
	IsTransientError(err error) bool
}

// Factory instantiates a Client from a provider's config table.
type Factory func(table map[string]any) (Client, error)

// Registry is a name-keyed Factory map.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds factory under name; called from each adapter
// sub-package's init().
func (r *Registry) Register(name string, factory Factory) {
	r.factories[name] = factory
}

// Build instantiates the named provider's Client from its config table.
func (r *Registry) Build(name string, table map[string]any) (Client, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, errors.New("provider: no factory registered for " + name)
	}
	return f(table)
}

// Default is the process-wide registry every adapter package registers
// itself into via init().
var Default = NewRegistry()
