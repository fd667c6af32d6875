package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"omega/internal/api"
	"omega/internal/audit"
	"omega/internal/channel"
	"omega/internal/channel/loopback"
	"omega/internal/channel/telegram"
	"omega/internal/claudemd"
	"omega/internal/config"
	"omega/internal/discovery"
	"omega/internal/gateway"
	"omega/internal/heartbeat"
	"omega/internal/identity"
	"omega/internal/localize"
	"omega/internal/markerapply"
	"omega/internal/memory"
	"omega/internal/memory/pgstore"
	"omega/internal/memory/recall"
	"omega/internal/memory/rediscache"
	"omega/internal/memory/sqlitestore"
	"omega/internal/obslog"
	"omega/internal/pipeline/build"
	"omega/internal/pipeline/direct"
	"omega/internal/prompt"
	"omega/internal/provider"
	"omega/internal/scheduler"
	"omega/internal/skills"
	"omega/internal/summarizer"
)

// app bundles every long-lived resource runApp constructs, so shutdown can
// release them in the right order regardless of which path exits the
// lifecycle (signal, config reload, or fatal construction error).
type app struct {
	store    memory.Store
	audit    audit.Sink
	skillMgr *skills.SessionManager
	gw       *gateway.Gateway
	channels *channel.Registry
	apiSrv   *api.Server
	cfg      *config.Config

	schedulerDeps scheduler.Deps
	heartbeatDeps heartbeat.Deps
	claudemdDeps  claudemd.Deps
}

// runApp loads cfg, wires every collaborator, and blocks until ctx is
// cancelled or reloadCh fires: one full construct-run-teardown cycle per
// config generation.
func runApp(ctx context.Context, configPath string, reloadCh <-chan struct{}) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	obslog.Init(cfg.Omega.LogLevel, nil)

	a, err := buildApp(cfg)
	if err != nil {
		return fmt.Errorf("wire app: %w", err)
	}
	defer a.shutdown()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- a.run(runCtx) }()

	select {
	case <-ctx.Done():
		return nil
	case <-reloadCh:
		cancel()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// buildApp wires every Deps struct from cfg in construction order: store,
// then provider, then channels, then the gateway, then the background
// loops, against OMEGA's config-selected backend, multi-channel
// registry, and background loops.
func buildApp(cfg *config.Config) (*app, error) {
	store, err := openStore(cfg.Memory)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	cache, err := rediscache.New(rediscache.Config(cfg.Memory.Redis), store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open redis cache: %w", err)
	}
	if cache != nil {
		store = cache
	}

	recallIdx, err := openRecall(cfg.Memory.Recall)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open recall index: %w", err)
	}

	auditSink, err := audit.NewSink(audit.KafkaConfig(cfg.Audit.Kafka), cfg.Audit.FallbackPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open audit sink: %w", err)
	}

	providerName := cfg.Provider.Default
	providerClient, err := provider.Default.Build(providerName, cfg.Provider.Tables[providerName])
	if err != nil {
		auditSink.Close()
		store.Close()
		return nil, fmt.Errorf("build provider %q: %w", providerName, err)
	}
	model, _ := cfg.Provider.Tables[providerName]["model"].(string)

	skillCatalog := skills.NewCatalog(nil)
	skillMgr := skills.NewSessionManager(cfg.Omega.Name, "1.0")

	inbox, err := identity.NewInbox(filepath.Join(cfg.Omega.DataDir, "inbox"))
	if err != nil {
		auditSink.Close()
		store.Close()
		return nil, fmt.Errorf("open identity inbox: %w", err)
	}

	channels, err := buildChannels(cfg.Channel, inbox)
	if err != nil {
		auditSink.Close()
		store.Close()
		return nil, fmt.Errorf("build channels: %w", err)
	}

	resolver := identity.NewResolver(store, nil, defaultLanguageDetector)
	localizer := localize.Default{}

	workspaceDirByProject := func(project string) string {
		return filepath.Join(cfg.Omega.DataDir, "workspaces", project)
	}
	workspaceDirBySender := func(senderID string) string {
		return filepath.Join(cfg.Omega.DataDir, "discovery-workspaces", senderID)
	}
	skillsDir := func() string { return filepath.Join(cfg.Omega.DataDir, "skills") }

	intervalSignal := heartbeat.NewIntervalSignal(cfg.Heartbeat.IntervalMinutes, nil)
	projectChecklistPath := func(project string) string {
		return filepath.Join(workspaceDirByProject(project), "HEARTBEAT.md")
	}
	checklist := heartbeat.Checklist{
		Path:        filepath.Join(cfg.Omega.DataDir, "HEARTBEAT.md"),
		ProjectPath: projectChecklistPath,
	}

	markerDeps := markerapply.Deps{
		Store:      store,
		Checklist:  checklist,
		Interval:   intervalSignal,
		Skills:     skillCatalog,
		ProjectDir: workspaceDirByProject,
		SkillsDir:  skillsDir,
		BugReportPath: func(project string) string {
			return filepath.Join(workspaceDirByProject(project), "BUG.md")
		},
	}

	directDeps := direct.Deps{
		Store:            store,
		Client:           providerClient,
		ProviderName:     providerName,
		Model:            model,
		Skills:           skillCatalog,
		SkillSessions:    skillMgr,
		Channels:         channels,
		Audit:            auditSink,
		Recall:           recallIdx,
		Identity:         prompt.Identity{Name: cfg.Omega.Name},
		Platform:         "omega",
		MarkerDeps:       markerDeps,
		Localizer:        localizer,
		StatusFirstDelay: 15 * time.Second,
		StatusRepeat:     120 * time.Second,
		TypingEvery:      5 * time.Second,
	}

	discoveryDeps := discovery.Deps{
		Client:          providerClient,
		Model:           model,
		AgentName:       "discovery",
		DataDir:         cfg.Omega.DataDir,
		WorkspaceDir:    workspaceDirBySender,
		WriteAgentFiles: localize.WriteAgentFiles,
		Store:           store,
		Channels:        channels,
		ChannelName:     cfg.Heartbeat.Channel,
		Localizer:       localizer,
	}

	buildPipelineDeps := build.Deps{
		Client:           providerClient,
		Model:            model,
		WriteAgentFiles:  localize.WriteAgentFiles,
		RemoveAgentFiles: localize.RemoveAgentFiles,
		WorkspaceDir:     workspaceDirByProject,
		Channels:         channels,
		ChannelName:      cfg.Heartbeat.Channel,
		Localizer:        localizer,
	}

	commands := buildCommandRegistry(commandDeps{
		store:      store,
		interval:   intervalSignal,
		checklist:  checklist,
		markerDeps: markerDeps,
	})

	gw := gateway.New(gateway.Deps{
		Store:     store,
		Resolver:  resolver,
		Commands:  commands,
		Channels:  channels,
		Localizer: localizer,
		Auth: gateway.AuthConfig{
			Enabled:       cfg.Auth.Enabled,
			OwnerSenderID: cfg.Omega.OwnerSenderID,
			DenyMessage:   cfg.Auth.DenyMessage,
		},
		Audit:           auditSink,
		Direct:          directDeps,
		Discovery:       discoveryDeps,
		Build:           buildPipelineDeps,
		BuildRequestDir: workspaceDirByProject,
	})

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiSrv = api.NewServer(gw, channels, cfg.API.APIKey)
	}

	// QuietStart/QuietEnd are left unset here: [scheduler] has no
	// active-window config (unlike [heartbeat]), since a scheduled task is
	// something the owner asked for at a specific time rather than an
	// autonomous check that should stay quiet overnight. Empty strings
	// disable the quiet-hours gate in scheduler.Run.
	schedDeps := scheduler.Deps{
		Store:         store,
		Client:        providerClient,
		Model:         model,
		PromptBuilder: schedulerPromptBuilder(cfg, prompt.Identity{Name: cfg.Omega.Name}),
		MarkerDeps:    markerDeps,
		Channels:      channels,
		Audit:         auditSink,
		PollInterval:  time.Duration(cfg.Scheduler.PollIntervalSecs) * time.Second,
	}

	hbDeps := heartbeat.Deps{
		ChecklistPath:        checklist.Path,
		ProjectChecklistPath: projectChecklistPath,
		ActiveProjects: func(ctx context.Context) ([]string, error) {
			if cfg.Omega.OwnerSenderID == "" {
				return nil, nil
			}
			v, ok, err := store.GetFact(ctx, cfg.Omega.OwnerSenderID, memory.FactActiveProject)
			if err != nil || !ok || v == "" {
				return nil, err
			}
			return []string{v}, nil
		},
		Store:          store,
		OwnerSenderID:  cfg.Omega.OwnerSenderID,
		GroupingClient: providerClient,
		GroupingModel:  model,
		ExecClient:     providerClient,
		ExecModel:      model,
		PromptBuilder:  heartbeatPromptBuilder(cfg, prompt.Identity{Name: cfg.Omega.Name}),
		MarkerDeps:     markerDeps,
		Channels:       channels,
		ChannelName:    cfg.Heartbeat.Channel,
		ReplyTarget:    cfg.Heartbeat.ReplyTarget,
		Audit:          auditSink,
		Interval:       intervalSignal,
		QuietStart:     cfg.Heartbeat.ActiveStart,
		QuietEnd:       cfg.Heartbeat.ActiveEnd,
	}

	return &app{
		store:         store,
		audit:         auditSink,
		skillMgr:      skillMgr,
		gw:            gw,
		channels:      channels,
		apiSrv:        apiSrv,
		cfg:           cfg,
		schedulerDeps: schedDeps,
		heartbeatDeps: hbDeps,
		claudemdDeps: claudemd.Deps{
			Workspace: filepath.Join(cfg.Omega.DataDir, "workspace"),
			DataDir:   cfg.Omega.DataDir,
		},
	}, nil
}

// run starts every channel, the background loops (scheduler, heartbeat,
// summarizer, workspace CLAUDE.md maintenance), and the optional HTTP
// API, blocking until ctx is cancelled.
func (a *app) run(ctx context.Context) error {
	log := obslog.Component("cmd")
	for name, ch := range a.channels.All() {
		name, ch := name, ch
		go func() {
			if err := ch.Start(ctx, func(msg channel.Incoming) { a.gw.Submit(ctx, msg) }); err != nil {
				log.Error().Err(err).Str("channel", name).Msg("channel stopped")
			}
		}()
	}

	if a.cfg.Scheduler.Enabled {
		go func() {
			if err := scheduler.Run(ctx, a.schedulerDeps); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("scheduler loop stopped")
			}
		}()
	}
	if a.cfg.Heartbeat.Enabled {
		go func() {
			if err := heartbeat.Run(ctx, a.heartbeatDeps); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("heartbeat loop stopped")
			}
		}()
	}
	go func() {
		if err := summarizer.Run(ctx, summarizer.Deps{Store: a.store}); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("summarizer loop stopped")
		}
	}()
	go func() {
		if err := claudemd.Run(ctx, a.claudemdDeps); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("claudemd loop stopped")
		}
	}()

	if a.apiSrv != nil {
		addr := fmt.Sprintf("%s:%d", a.cfg.API.Host, a.cfg.API.Port)
		srv := a.apiSrv.Router()
		go func() {
			if err := srv.Run(addr); err != nil {
				log.Error().Err(err).Msg("api server stopped")
			}
		}()
	}

	<-ctx.Done()
	return nil
}

func (a *app) shutdown() {
	a.skillMgr.Close()
	for _, ch := range a.channels.All() {
		ch.Stop()
	}
	a.audit.Close()
	a.store.Close()
}

func openStore(cfg config.MemoryConfig) (memory.Store, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return sqlitestore.Open(cfg.DBPath)
	case "postgres":
		return pgstore.Open(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}

// openRecall wires internal/memory/recall behind [memory.recall], but
// only when an embedding-capable collaborator exists. None of the four
// bundled provider adapters implement an embeddings call — provider.Client
// is a chat-completion boundary, not an embedding API — so until one
// does, recall.Open is never reached and RecallTurns falls back to the
// substring search every memory.Store already provides. That fallback is
// a recorded decision, not a silent gap (see DESIGN.md).
func openRecall(cfg config.RecallConfig) (*recall.Index, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	obslog.Logger.Warn().Msg("[memory.recall] enabled but no embedder is wired; recall falls back to substring search")
	return nil, nil
}

func buildChannels(tables map[string]map[string]any, inbox *identity.Inbox) (*channel.Registry, error) {
	reg := channel.NewRegistry()
	for name, table := range tables {
		enabled, _ := table["enabled"].(bool)
		if !enabled {
			continue
		}
		switch name {
		case "telegram":
			token, _ := table["token"].(string)
			ch, err := telegram.New(token, inbox)
			if err != nil {
				return nil, fmt.Errorf("telegram: %w", err)
			}
			reg.Register(name, ch)
		case "loopback":
			addr, _ := table["addr"].(string)
			if addr == "" {
				addr = "127.0.0.1:8766"
			}
			reg.Register(name, loopback.New(addr))
		default:
			obslog.Logger.Warn().Str("channel", name).Msg("unknown channel configured; skipping")
		}
	}
	return reg, nil
}

// defaultLanguageDetector is a minimal heuristic: any non-ASCII rune
// assumes an unspecified non-English language and leaves
// preferred_language unset rather than guessing wrong; pure-ASCII text
// defaults to English.
func defaultLanguageDetector(text string) string {
	for _, r := range text {
		if r > 127 {
			return ""
		}
	}
	return "en"
}

func writeStarterConfig(path string) error {
	return writeFileIfAbsent(path, starterConfigTOML)
}

const starterConfigTOML = `[omega]
name = "omega"
data_dir = "~/.omega/data"
log_level = "info"
owner_sender_id = ""

[auth]
enabled = false
deny_message = "Sorry, I can't talk to you."

[provider]
default = "ollama"

[provider.ollama]
base_url = ""
model = "llama3"

[channel.telegram]
enabled = false
token = ""

[channel.loopback]
enabled = true
addr = "127.0.0.1:8766"

[memory]
backend = "sqlite"
db_path = "~/.omega/data/omega.db"
max_context_messages = 20

[memory.redis]
enabled = false

[memory.recall]
enabled = false

[audit]
fallback_path = "~/.omega/data/audit.log"

[audit.kafka]
enabled = false

[heartbeat]
enabled = true
interval_minutes = 30
active_start = "08:00"
active_end = "22:00"
channel = "telegram"

[scheduler]
enabled = true
poll_interval_secs = 60

[api]
enabled = false
host = "127.0.0.1"
port = 8765
api_key = ""
`
