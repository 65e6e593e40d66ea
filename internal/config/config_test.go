package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Slack.RateLimit != 10 {
		t.Errorf("rate_limit = %d, want 10", cfg.Slack.RateLimit)
	}
	if cfg.Anthropic.Model != "claude-haiku-4-5-20251001" {
		t.Errorf("model = %q", cfg.Anthropic.Model)
	}
	if cfg.Embeddings.Enabled {
		t.Error("embeddings should default to disabled")
	}
	if cfg.Settings.Timezone != "UTC" {
		t.Errorf("timezone = %q, want UTC", cfg.Settings.Timezone)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[slack]
user_token = "xoxp-abc"

[anthropic]
api_key = "sk-ant-xyz"

[settings]
timezone = "America/Los_Angeles"
`), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Slack.UserToken != "xoxp-abc" {
		t.Errorf("user_token = %q", cfg.Slack.UserToken)
	}
	if cfg.Settings.Timezone != "America/Los_Angeles" {
		t.Errorf("timezone = %q", cfg.Settings.Timezone)
	}
	// Defaults preserved for untouched fields.
	if cfg.Slack.RateLimit != 10 {
		t.Errorf("rate_limit default not preserved: %d", cfg.Slack.RateLimit)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[slack]
user_token = "xoxp-file"

[anthropic]
api_key = "sk-ant-file"
`), 0644)

	t.Setenv("SLACK_USER_TOKEN", "xoxp-env")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Slack.UserToken != "xoxp-env" {
		t.Errorf("env override failed: got %q", cfg.Slack.UserToken)
	}
}

func TestValidateMissingSlackToken(t *testing.T) {
	cfg := Default()
	cfg.Anthropic.APIKey = "sk-ant-x"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing slack token")
	}
	var invalid *ErrInvalid
	if !asErrInvalid(err, &invalid) {
		t.Fatalf("expected *ErrInvalid, got %T", err)
	}
	if invalid.Command != "shiftlog configure" {
		t.Errorf("expected corrective command in error, got %q", invalid.Command)
	}
}

func TestValidateBadTokenPrefix(t *testing.T) {
	cfg := Default()
	cfg.Slack.UserToken = "bad-token"
	cfg.Anthropic.APIKey = "sk-ant-x"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for bad slack token prefix")
	}
}

func TestValidateEmbeddingsRequiresKey(t *testing.T) {
	cfg := Default()
	cfg.Slack.UserToken = "xoxp-ok"
	cfg.Anthropic.APIKey = "sk-ant-ok"
	cfg.Embeddings.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when embeddings enabled without api_key")
	}
}

func TestWritePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shiftlog.toml")
	cfg := Default()
	cfg.Slack.UserToken = "xoxp-ok"
	if err := Write(path, cfg); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("perm = %o, want 0600", perm)
	}
}

func asErrInvalid(err error, target **ErrInvalid) bool {
	if e, ok := err.(*ErrInvalid); ok {
		*target = e
		return true
	}
	return false
}
