// Package command implements the closed command set: leading "/word"
// (optionally "@botname"-suffixed) dispatch, falling through to normal
// processing on anything not recognized.
package command

import (
	"context"
	"strings"
)

// Name enumerates the closed command set. Anything else parsed from a
// leading slash is "unknown" and falls through to normal processing.
type Name string

const (
	Status      Name = "status"
	Memory      Name = "memory"
	History     Name = "history"
	Facts       Name = "facts"
	Forget      Name = "forget"
	Tasks       Name = "tasks"
	Cancel      Name = "cancel"
	Language    Name = "language"
	Personality Name = "personality"
	Skills      Name = "skills"
	Projects    Name = "projects"
	Project     Name = "project"
	Purge       Name = "purge"
	WhatsApp    Name = "whatsapp"
	Heartbeat   Name = "heartbeat"
	Learning    Name = "learning"
	Setup       Name = "setup"
	Help        Name = "help"
)

var known = map[Name]bool{
	Status: true, Memory: true, History: true, Facts: true, Forget: true,
	Tasks: true, Cancel: true, Language: true, Personality: true,
	Skills: true, Projects: true, Project: true, Purge: true,
	WhatsApp: true, Heartbeat: true, Learning: true, Setup: true, Help: true,
}

// WhatsAppQRSentinel is the string /whatsapp's handler returns, which the
// gateway intercepts to trigger QR generation instead of delivering it as
// a normal reply.
const WhatsAppQRSentinel = "WHATSAPP_QR"

// Parsed is the result of parsing a leading-slash command line.
type Parsed struct {
	Name Name
	Arg  string // remaining text after the command word, trimmed
	Ok   bool   // false when the leading word isn't in the closed set
}

// Parse extracts a command from text: a leading "/word", with an
// optional "@botname" suffix on the word itself stripped before matching.
func Parse(text string) Parsed {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return Parsed{Ok: false}
	}

	fields := strings.SplitN(trimmed, " ", 2)
	word := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(word, '@'); at >= 0 {
		word = word[:at]
	}
	word = strings.ToLower(word)

	name := Name(word)
	if !known[name] {
		return Parsed{Ok: false}
	}

	arg := ""
	if len(fields) == 2 {
		arg = strings.TrimSpace(fields[1])
	}
	return Parsed{Name: name, Arg: arg, Ok: true}
}

// Handler produces the localized reply text for one command invocation.
// Implementations live alongside whatever they need (memory.Store,
// scheduler, heartbeat checklist, etc.); this package only owns parsing
// and the registry of handlers.
type Handler func(ctx context.Context, senderID, arg string) (string, error)

// Registry maps command names to their handlers. Dispatch falls through
// (returns ok=false) for anything not registered — an unknown /word
// returns None — even for commands that are in the closed set
// syntactically but have no handler wired yet.
type Registry struct {
	handlers map[Name]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Name]Handler)}
}

func (r *Registry) Register(name Name, h Handler) {
	r.handlers[name] = h
}

// Dispatch parses text and, if it names a registered command, runs its
// handler. ok is false both for non-commands and for commands without a
// wired handler, so both cases fall through to normal processing.
func (r *Registry) Dispatch(ctx context.Context, text, senderID string) (reply string, ok bool, err error) {
	p := Parse(text)
	if !p.Ok {
		return "", false, nil
	}
	h, has := r.handlers[p.Name]
	if !has {
		return "", false, nil
	}
	reply, err = h(ctx, senderID, p.Arg)
	if err != nil {
		return "", true, err
	}
	return reply, true, nil
}
