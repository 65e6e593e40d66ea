// Package config loads shiftlog's TOML configuration file and applies the
// env > file > schema-defaults precedence described in spec §6.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config mirrors spec §6's TOML sections exactly.
type Config struct {
	Slack       SlackConfig       `toml:"slack"`
	Anthropic   AnthropicConfig   `toml:"anthropic"`
	Database    DatabaseConfig    `toml:"database"`
	Logging     LoggingConfig     `toml:"logging"`
	Performance PerformanceConfig `toml:"performance"`
	Settings    SettingsConfig    `toml:"settings"`
	Embeddings  EmbeddingsConfig  `toml:"embeddings"`
}

type SlackConfig struct {
	UserToken        string `toml:"user_token"`
	RateLimit        int    `toml:"rate_limit"`
	Concurrency      int    `toml:"concurrency"`
	MaxRetries       int    `toml:"max_retries"`
	InitialBackoffMs int    `toml:"initial_backoff_ms"`
}

type AnthropicConfig struct {
	APIKey      string `toml:"api_key"`
	OAuthToken  string `toml:"oauth_token"`
	Model       string `toml:"model"`
	Concurrency int    `toml:"concurrency"`
	// Backend forces "sdk" or "cli"; empty means auto-select (§4.I).
	Backend string `toml:"backend"`
	CLIPath string `toml:"cli_path"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

type PerformanceConfig struct {
	ChannelConcurrency int `toml:"channel_concurrency"`
}

type SettingsConfig struct {
	Timezone string `toml:"timezone"`
}

type EmbeddingsConfig struct {
	Enabled          bool    `toml:"enabled"`
	APIKey           string  `toml:"api_key"`
	ReferenceWeight  float64 `toml:"reference_weight"`
	EmbeddingWeight  float64 `toml:"embedding_weight"`
}

// Default returns a Config with every schema default applied (spec §6).
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		Slack: SlackConfig{
			RateLimit:        10,
			Concurrency:      10,
			MaxRetries:       5,
			InitialBackoffMs: 500,
		},
		Anthropic: AnthropicConfig{
			Model:       "claude-haiku-4-5-20251001",
			Concurrency: 20,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(home, ".config", "shiftlog", "cache.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Performance: PerformanceConfig{
			ChannelConcurrency: 10,
		},
		Settings: SettingsConfig{
			Timezone: "UTC",
		},
		Embeddings: EmbeddingsConfig{
			Enabled:         false,
			ReferenceWeight: 0.6,
			EmbeddingWeight: 0.4,
		},
	}
}

// Load reads config: defaults -> TOML file -> environment (env wins),
// exactly the teacher's three-layer precedence (internal/config.Load).
// path == "" uses DefaultPath(). A missing file is not an error; a
// malformed one is returned as *ErrMalformed.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	if data, err := os.ReadFile(path); err == nil {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, &ErrMalformed{Path: path, Err: err}
		}
	} else if !os.IsNotExist(err) {
		return cfg, &ErrMalformed{Path: path, Err: err}
	}

	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SLACK_USER_TOKEN"); v != "" {
		cfg.Slack.UserToken = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Anthropic.APIKey = v
	}
	if v := os.Getenv("CLAUDE_CODE_OAUTH_TOKEN"); v != "" {
		cfg.Anthropic.OAuthToken = v
	}
	if v := os.Getenv("SHIFTLOG_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SHIFTLOG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SHIFTLOG_TIMEZONE"); v != "" {
		cfg.Settings.Timezone = v
	}
	if v := os.Getenv("SHIFTLOG_EMBEDDINGS_API_KEY"); v != "" {
		cfg.Embeddings.APIKey = v
	}
}

// ErrMalformed signals a config file that exists but failed to parse, or
// could not be read for a reason other than "does not exist".
type ErrMalformed struct {
	Path string
	Err  error
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Path, e.Err)
}

func (e *ErrMalformed) Unwrap() error { return e.Err }

// ErrInvalid signals a config value that parsed but violates a contract
// from spec §6 (missing required token, wrong prefix, bad weight range).
type ErrInvalid struct {
	Field   string
	Reason  string
	Command string
}

func (e *ErrInvalid) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("config: %s: %s (run %q)", e.Field, e.Reason, e.Command)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Validate enforces spec §6's required-field and prefix contracts. Missing
// SLACK_USER_TOKEN is fatal and names the setup command, per spec §6/§7.
func Validate(cfg Config) error {
	if cfg.Slack.UserToken == "" {
		return &ErrInvalid{Field: "slack.user_token", Reason: "required", Command: "shiftlog configure"}
	}
	if !strings.HasPrefix(cfg.Slack.UserToken, "xoxp-") {
		return &ErrInvalid{Field: "slack.user_token", Reason: `must begin with "xoxp-"`}
	}
	if cfg.Anthropic.APIKey == "" && cfg.Anthropic.OAuthToken == "" {
		return &ErrInvalid{Field: "anthropic.api_key", Reason: "one of api_key or oauth_token is required", Command: "shiftlog configure"}
	}
	if cfg.Anthropic.APIKey != "" && !strings.HasPrefix(cfg.Anthropic.APIKey, "sk-ant-") {
		return &ErrInvalid{Field: "anthropic.api_key", Reason: `must begin with "sk-ant-"`}
	}
	if cfg.Anthropic.OAuthToken != "" && !strings.HasPrefix(cfg.Anthropic.OAuthToken, "sk-ant-oat") {
		return &ErrInvalid{Field: "anthropic.oauth_token", Reason: `must begin with "sk-ant-oat"`}
	}
	if cfg.Embeddings.Enabled && cfg.Embeddings.APIKey == "" {
		return &ErrInvalid{Field: "embeddings.api_key", Reason: "required when embeddings.enabled is true"}
	}
	if cfg.Embeddings.ReferenceWeight < 0 || cfg.Embeddings.ReferenceWeight > 1 {
		return &ErrInvalid{Field: "embeddings.reference_weight", Reason: "must be in [0,1]"}
	}
	if cfg.Embeddings.EmbeddingWeight < 0 || cfg.Embeddings.EmbeddingWeight > 1 {
		return &ErrInvalid{Field: "embeddings.embedding_weight", Reason: "must be in [0,1]"}
	}
	return nil
}

// DefaultPath returns the user-config-directory location of shiftlog.toml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "shiftlog", "shiftlog.toml")
}

// Write serializes cfg as TOML to path with 0600 permissions (spec §6).
func Write(path string, cfg Config) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
