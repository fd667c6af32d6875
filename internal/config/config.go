// Package config loads OMEGA's top-level TOML configuration,
// tilde-expanding paths, filling in defaults for every missing table, and
// migrating a legacy flat ~/.omega/ layout into the configured data
// directory on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full [omega]/[auth]/[provider]/[channel.<name>]/[memory]/
// [heartbeat]/[scheduler]/[api] document. Provider and Channel are
// free-form per-entry tables (provider adapters and channel adapters
// each interpret their own) since only the outer shape is fixed.
type Config struct {
	Omega     OmegaConfig    `toml:"omega"`
	Auth      AuthConfig     `toml:"auth"`
	Provider  ProviderConfig `toml:"provider"`
	Channel   map[string]map[string]any `toml:"channel"`
	Memory    MemoryConfig    `toml:"memory"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	API       APIConfig       `toml:"api"`
	Audit     AuditConfig     `toml:"audit"`
}

type OmegaConfig struct {
	Name     string `toml:"name"`
	DataDir  string `toml:"data_dir"`
	LogLevel string `toml:"log_level"`
	// OwnerSenderID is the one sender identity this single-tenant agent
	// serves; when [auth] is enabled, every other sender is denied and
	// the denial is audit-logged.
	OwnerSenderID string `toml:"owner_sender_id"`
}

type AuthConfig struct {
	Enabled     bool   `toml:"enabled"`
	DenyMessage string `toml:"deny_message"`
}

// ProviderConfig carries the default provider name alongside one
// free-form table per concrete provider. Because go-toml decodes
// `[provider.ollama]`-style sub-tables most naturally into a
// map-of-maps, Default is the one fixed field and Tables absorbs every
// other `[provider.<name>]` table via UnmarshalTOML below.
type ProviderConfig struct {
	Default string
	Tables  map[string]map[string]any
}

func (p *ProviderConfig) UnmarshalTOML(data any) error {
	m, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("config: [provider] must be a table")
	}
	p.Tables = make(map[string]map[string]any)
	for k, v := range m {
		if k == "default" {
			if s, ok := v.(string); ok {
				p.Default = s
			}
			continue
		}
		if sub, ok := v.(map[string]any); ok {
			p.Tables[k] = sub
		}
	}
	return nil
}

// MemoryConfig's Backend selects between the sqlite and postgres stores;
// Redis and Recall are independent optional layers on top of whichever
// backend is selected (read-through session cache, vector recall index).
type MemoryConfig struct {
	Backend            string `toml:"backend"`
	DBPath              string `toml:"db_path"`
	PostgresDSN         string `toml:"postgres_dsn"`
	MaxContextMessages int    `toml:"max_context_messages"`

	Redis  RedisConfig  `toml:"redis"`
	Recall RecallConfig `toml:"recall"`
}

// RedisConfig mirrors internal/memory/rediscache.Config's TOML shape.
type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	TLS      bool   `toml:"tls"`
}

// RecallConfig mirrors internal/memory/recall.Config's TOML shape.
type RecallConfig struct {
	Enabled    bool   `toml:"enabled"`
	DSN        string `toml:"dsn"`
	Collection string `toml:"collection"`
	Dimension  int    `toml:"dimension"`
}

// AuditConfig gates the Kafka-backed audit sink; Kafka.Enabled false
// falls back to an append-only file at FallbackPath.
type AuditConfig struct {
	Kafka        KafkaConfig `toml:"kafka"`
	FallbackPath string      `toml:"fallback_path"`
}

// KafkaConfig mirrors internal/audit.KafkaConfig's TOML shape.
type KafkaConfig struct {
	Enabled bool   `toml:"enabled"`
	Brokers string `toml:"brokers"`
	Topic   string `toml:"topic"`
}

type HeartbeatConfig struct {
	Enabled         bool   `toml:"enabled"`
	IntervalMinutes int    `toml:"interval_minutes"`
	ActiveStart     string `toml:"active_start"`
	ActiveEnd       string `toml:"active_end"`
	Channel         string `toml:"channel"`
	ReplyTarget     string `toml:"reply_target"`
}

type SchedulerConfig struct {
	Enabled          bool `toml:"enabled"`
	PollIntervalSecs int  `toml:"poll_interval_secs"`
}

type APIConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// Defaults holds hardcoded safe values used whenever the config file or
// a specific table is absent.
func Defaults() *Config {
	return &Config{
		Omega: OmegaConfig{
			Name:     "omega",
			DataDir:  "~/.omega/data",
			LogLevel: "info",
		},
		Auth: AuthConfig{
			Enabled:     false,
			DenyMessage: "Sorry, I can't talk to you.",
		},
		Provider: ProviderConfig{Default: "ollama", Tables: map[string]map[string]any{}},
		Channel:  map[string]map[string]any{},
		Memory: MemoryConfig{
			Backend:            "sqlite",
			DBPath:             "~/.omega/data/omega.db",
			MaxContextMessages: 20,
		},
		Audit: AuditConfig{
			FallbackPath: "~/.omega/data/audit.log",
		},
		Heartbeat: HeartbeatConfig{
			Enabled:         true,
			IntervalMinutes: 30,
			ActiveStart:     "08:00",
			ActiveEnd:       "22:00",
			Channel:         "telegram",
		},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			PollIntervalSecs: 60,
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8765,
		},
	}
}

// Load reads path (TOML), merging it over Defaults(); a missing file is
// not an error — it simply returns the defaults. Every *_dir/*_path field
// is tilde-expanded after merge. Load also performs the legacy-layout
// migration and config-file db_path patch before returning.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			expandPaths(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	expandPaths(cfg)

	if err := migrateLegacyLayout(cfg); err != nil {
		return nil, fmt.Errorf("config: migrate legacy layout: %w", err)
	}
	if err := patchLegacyDBPath(path, cfg); err != nil {
		return nil, fmt.Errorf("config: patch db_path: %w", err)
	}

	return cfg, nil
}

func expandPaths(cfg *Config) {
	cfg.Omega.DataDir = expandTilde(cfg.Omega.DataDir)
	cfg.Memory.DBPath = expandTilde(cfg.Memory.DBPath)
	cfg.Audit.FallbackPath = expandTilde(cfg.Audit.FallbackPath)
}

// expandTilde expands a leading "~" to $HOME; HOME must be set in the
// environment.
func expandTilde(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}

// legacyDefaultDBPath is the old flat layout's hardcoded db_path string
// that patchLegacyDBPath replaces by textual substitution rather than
// rewriting the whole TOML document, which would reformat the user's
// file and lose comments.
const legacyDefaultDBPath = "~/.omega/omega.db"

// migrateLegacyLayout moves the data/, logs/ and prompts/ directories of a
// pre-existing flat ~/.omega/ layout into the parent directory of the
// configured data dir, move-if-absent and never overwriting existing files.
func migrateLegacyLayout(cfg *Config) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil // nothing to migrate without a resolvable HOME
	}
	legacyRoot := filepath.Join(home, ".omega")
	info, err := os.Stat(legacyRoot)
	if err != nil || !info.IsDir() {
		return nil
	}

	for _, sub := range []string{"data", "logs", "prompts"} {
		src := filepath.Join(legacyRoot, sub)
		if _, err := os.Stat(src); err != nil {
			continue // nothing of this kind in the legacy layout
		}
		dst := filepath.Join(filepath.Dir(cfg.Omega.DataDir), sub)
		if _, err := os.Stat(dst); err == nil {
			continue // never overwrite
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.Rename(src, dst); err != nil {
			return err
		}
	}
	return nil
}

// patchLegacyDBPath textually replaces a stale legacyDefaultDBPath
// occurrence inside the raw config file with the resolved Memory.DBPath,
// so future loads pick up the migrated location without a user edit.
func patchLegacyDBPath(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !strings.Contains(string(raw), legacyDefaultDBPath) {
		return nil
	}
	patched := strings.ReplaceAll(string(raw), legacyDefaultDBPath, cfg.Memory.DBPath)
	return os.WriteFile(path, []byte(patched), 0o644)
}
