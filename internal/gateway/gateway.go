// Package gateway is the per-sender event loop: it wires
// internal/dispatch, internal/identity, internal/command, the
// pending-state gates, internal/discovery, internal/pipeline/build, and
// internal/pipeline/direct into the single ingest→classify→dispatch
// sequence every inbound message goes through — the seam where every
// other package gets composed for one inbound turn.
package gateway

import (
	"context"
	"time"

	"omega/internal/audit"
	"omega/internal/channel"
	"omega/internal/classify"
	"omega/internal/command"
	"omega/internal/dispatch"
	"omega/internal/discovery"
	"omega/internal/identity"
	"omega/internal/memory"
	"omega/internal/obslog"
	"omega/internal/pipeline/build"
	"omega/internal/pipeline/direct"
	"omega/internal/prompt"
)

// AuthConfig gates every turn on a single allowed sender: a denied turn
// is audit-logged and answered with a configured deny message. OMEGA is
// single-tenant, so there is exactly one identity to allow.
type AuthConfig struct {
	Enabled       bool
	OwnerSenderID string
	DenyMessage   string
}

// Localizer aggregates every user-facing string the gateway itself (as
// opposed to a specific sub-pipeline) needs to produce, plus the
// sub-pipelines' own Localizer requirements so one implementation can
// satisfy all of them.
type Localizer interface {
	direct.Localizer
	discovery.Localizer
	build.Localizer

	// Acknowledgement is sent immediately when a message is buffered
	// behind an in-flight call for the same sender.
	Acknowledgement(lang string) string
}

// Deps bundles every collaborator the gateway composes. Each sub-pipeline
// still owns its own internal Deps struct (direct.Deps, discovery.Deps,
// build.Deps); Gateway only needs enough of them to route a turn to the
// right one and to run the steps that happen before any of them.
type Deps struct {
	Store     memory.Store
	Resolver  *identity.Resolver
	Commands  *command.Registry
	Channels  *channel.Registry
	Localizer Localizer

	Auth  AuthConfig
	Audit audit.Sink

	Direct    direct.Deps
	Discovery discovery.Deps
	Build     build.Deps

	// BuildRequestDir resolves the project directory for a freshly
	// confirmed build request, keyed by project name.
	BuildRequestDir func(project string) string

	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// Gateway owns the dispatcher and wraps it with the full turn sequence.
type Gateway struct {
	deps       Deps
	dispatcher *dispatch.Dispatcher
}

// inboundMessage adapts channel.Incoming to dispatch.Message, keyed on
// the sender id as received — before any alias resolution — with the
// dispatch key computed as "channel + ':' + sender_id" on receipt.
type inboundMessage struct {
	channel.Incoming
}

func (m inboundMessage) DispatchKey() string {
	return m.Channel + ":" + m.SenderID
}

// New builds a Gateway whose dispatcher calls g.handle for the first
// message of each burst and sends deps.Localizer.Acknowledgement for
// every message buffered behind it.
func New(deps Deps) *Gateway {
	g := &Gateway{deps: deps}
	g.dispatcher = dispatch.New(
		func(ctx context.Context, msg dispatch.Message) { g.handle(ctx, msg.(inboundMessage).Incoming) },
		func(msg dispatch.Message) { g.acknowledge(msg.(inboundMessage).Incoming) },
	)
	return g
}

// Submit enqueues or immediately begins processing in, returning
// without blocking on completion.
func (g *Gateway) Submit(ctx context.Context, msg channel.Incoming) {
	g.dispatcher.Submit(ctx, inboundMessage{msg})
}

// ActiveSenders and QueueDepth expose dispatcher status for the optional
// HTTP API's /status endpoint.
func (g *Gateway) ActiveSenders() int        { return g.dispatcher.ActiveSenders() }
func (g *Gateway) QueueDepth(key string) int { return g.dispatcher.QueueDepth(key) }

func (g *Gateway) acknowledge(msg channel.Incoming) {
	ch, ok := g.deps.Channels.Get(msg.Channel)
	if !ok {
		return
	}
	lang := ""
	if g.deps.Store != nil {
		lang, _, _ = g.deps.Store.GetFact(context.Background(), msg.SenderID, memory.FactPreferredLanguage)
	}
	text := g.deps.Localizer.Acknowledgement(lang)
	if text == "" {
		return
	}
	_ = ch.Send(msg.ReplyTarget, channel.Outgoing{Text: text})
}

func (g *Gateway) handle(ctx context.Context, msg channel.Incoming) {
	if err := g.handleErr(ctx, msg); err != nil {
		log := obslog.Component("gateway")
		log.Warn().Err(err).
			Str("channel", msg.Channel).Str("sender_id", msg.SenderID).Msg("turn failed")
		g.reply(msg.Channel, msg.ReplyTarget, "Memory error: "+err.Error())
	}
}

func (g *Gateway) reply(channelName, target, text string) {
	ch, ok := g.deps.Channels.Get(channelName)
	if !ok {
		return
	}
	_ = ch.Send(target, channel.Outgoing{Text: text})
}

// handleErr runs sanitize/identity through the branch-to-build decision
// for one message, already past the dispatcher's per-sender
// serialization.
func (g *Gateway) handleErr(ctx context.Context, msg channel.Incoming) error {
	sanitized := identity.Sanitize(msg.Text)

	text := sanitized.Clean
	for _, att := range msg.Attachments {
		text = identity.FormatAttachmentLine(att.Path) + "\n" + text
	}

	senderID := msg.SenderID
	if g.deps.Resolver != nil {
		resolved, err := g.deps.Resolver.Resolve(ctx, msg.Channel, msg.SenderID, msg.SenderName, text)
		if err != nil {
			return err
		}
		senderID = resolved
	}

	// Auth denial is audit-logged and a configured deny message is
	// returned, short-circuiting before command dispatch or any
	// sub-pipeline runs.
	if g.deps.Auth.Enabled && senderID != g.deps.Auth.OwnerSenderID {
		audit.RecordOrLog(ctx, g.deps.Audit, audit.Event{
			Kind:      "auth_denied",
			Channel:   msg.Channel,
			SenderID:  senderID,
			Timestamp: g.deps.now(),
			Detail:    map[string]string{"reason": "sender is not the configured owner"},
		})
		deny := g.deps.Auth.DenyMessage
		if deny == "" {
			deny = "Sorry, I can't talk to you."
		}
		g.reply(msg.Channel, msg.ReplyTarget, deny)
		return nil
	}

	// Command dispatch takes priority over everything else.
	if g.deps.Commands != nil {
		if reply, ok, err := g.deps.Commands.Dispatch(ctx, text, senderID); ok {
			if err != nil {
				return err
			}
			if reply == command.WhatsAppQRSentinel {
				g.reply(msg.Channel, msg.ReplyTarget, "Generating WhatsApp pairing QR…")
				return nil
			}
			if reply != "" {
				g.reply(msg.Channel, msg.ReplyTarget, reply)
			}
			return nil
		}
	}

	// Pending-state gates, checked in order, before classification.
	if handled, err := g.handlePendingDiscovery(ctx, msg, senderID, text); handled || err != nil {
		return err
	}
	if handled, err := g.handlePendingBuildRequest(ctx, msg, senderID, text); handled || err != nil {
		return err
	}

	return g.handleNormal(ctx, msg, senderID, text)
}

func (g *Gateway) handlePendingDiscovery(ctx context.Context, msg channel.Incoming, senderID, text string) (bool, error) {
	value, ok, err := g.deps.Store.GetFact(ctx, senderID, memory.FactPendingDiscovery)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	ttl := g.deps.Discovery.TTL
	if ttl <= 0 {
		ttl = discovery.DefaultTTL
	}
	if discovery.Expired(value, g.deps.now(), ttl) {
		return false, g.deps.Store.SetFact(ctx, senderID, memory.FactPendingDiscovery, "")
	}

	// discovery.Continue delivers its own follow-up questions or build
	// confirmation (via g.deps.Discovery.Localizer) when it finishes a
	// round, so the gateway has nothing left to send here either way.
	_, err = discovery.Continue(ctx, g.deps.Discovery, senderID, msg.ReplyTarget, text)
	return true, err
}

func (g *Gateway) handlePendingBuildRequest(ctx context.Context, msg channel.Incoming, senderID, text string) (bool, error) {
	value, ok, err := g.deps.Store.GetFact(ctx, senderID, memory.FactPendingBuildReq)
	if err != nil {
		return false, err
	}
	if !ok || value == "" {
		return false, nil
	}

	switch classify.ClassifyConfirmation(text) {
	case classify.ConfirmationYes:
		if err := g.deps.Store.SetFact(ctx, senderID, memory.FactPendingBuildReq, ""); err != nil {
			return true, err
		}
		return true, g.runBuild(ctx, msg, senderID, value)
	case classify.ConfirmationNo:
		if err := g.deps.Store.SetFact(ctx, senderID, memory.FactPendingBuildReq, ""); err != nil {
			return true, err
		}
		g.reply(msg.Channel, msg.ReplyTarget, g.deps.Localizer.DiscoveryCancelled())
		return true, nil
	default:
		// Neither a confirm nor a cancel word: clear the pending state
		// and fall through to normal processing.
		return false, g.deps.Store.SetFact(ctx, senderID, memory.FactPendingBuildReq, "")
	}
}

func (g *Gateway) runBuild(ctx context.Context, msg channel.Incoming, senderID, brief string) error {
	project := projectNameFromBrief(brief)
	projectDir := ""
	if g.deps.BuildRequestDir != nil {
		projectDir = g.deps.BuildRequestDir(project)
	}
	req := build.Request{
		Project:     project,
		ProjectDir:  projectDir,
		Description: brief,
		Channel:     msg.Channel,
		SenderID:    senderID,
		ReplyTarget: msg.ReplyTarget,
	}
	outcome, err := build.Run(ctx, g.deps.Build, req)
	if err != nil {
		return err
	}
	if outcome.Aborted {
		g.reply(msg.Channel, msg.ReplyTarget,
			"Build stopped during "+string(outcome.AbortedAt)+": "+outcome.AbortReason)
	}
	return nil
}

// projectNameFromBrief derives a filesystem-safe project name from a
// build brief's first line, since BUILD_PROPOSAL/discovery briefs carry
// free text rather than a structured project name.
func projectNameFromBrief(brief string) string {
	line := brief
	for i, r := range brief {
		if r == '\n' {
			line = brief[:i]
			break
		}
	}
	if len(line) > 60 {
		line = line[:60]
	}
	return line
}

func (g *Gateway) handleNormal(ctx context.Context, msg channel.Incoming, senderID, text string) error {
	turn := direct.Turn{
		Channel:     msg.Channel,
		SenderID:    senderID,
		SenderName:  msg.SenderName,
		Text:        text,
		ReplyTarget: msg.ReplyTarget,
		IsGroup:     msg.IsGroup,
	}

	if prompt.DeriveGates(text).Builds {
		// discovery.Begin delivers its own question/confirmation message
		// (via g.deps.Discovery.Localizer) whether this round finishes in
		// one turn or needs follow-up questions first.
		_, err := discovery.Begin(ctx, g.deps.Discovery, senderID, msg.ReplyTarget, text)
		return err
	}

	_, err := direct.Run(ctx, g.deps.Direct, turn)
	if err != nil {
		g.reply(msg.Channel, msg.ReplyTarget, direct.FriendlyProviderError(err))
		return nil
	}
	return nil
}

