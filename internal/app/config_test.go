package app

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := &Config{
		Store:   StoreConfig{Path: "/tmp/accounts.json"},
		Session: SessionConfig{File: "/tmp/session"},
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults: %v", err)
	}

	if cfg.LogFormat != LogFormatText || cfg.LogExporter != LogExporterStdout {
		t.Errorf("log = %q/%q", cfg.LogFormat, cfg.LogExporter)
	}
	if cfg.API.LoginURL != "https://login.verdent.ai/passport/login" {
		t.Errorf("login url = %q", cfg.API.LoginURL)
	}
	if cfg.API.UserInfoURL != "https://agent.verdent.ai/user/center/info" {
		t.Errorf("user info url = %q", cfg.API.UserInfoURL)
	}
	if cfg.API.ConnectTimeout != 10*time.Second || cfg.API.RequestTimeout != 30*time.Second {
		t.Errorf("timeouts = %v/%v", cfg.API.ConnectTimeout, cfg.API.RequestTimeout)
	}
	if cfg.API.MaxAttempts != DefaultConfigMaxAttempts || cfg.API.RetryStep != time.Second {
		t.Errorf("retry = %d/%v", cfg.API.MaxAttempts, cfg.API.RetryStep)
	}
	if cfg.Session.Storage != SessionStorageTypeFile {
		t.Errorf("session storage = %q", cfg.Session.Storage)
	}
	if cfg.Server.Host != DefaultConfigServerHost || cfg.Server.Port != DefaultConfigServerPort {
		t.Errorf("server = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Refresh.Concurrency != DefaultConfigRefreshConcurrency {
		t.Errorf("concurrency = %d", cfg.Refresh.Concurrency)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestConfig_DefaultStorePath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := &Config{Session: SessionConfig{File: "/tmp/session"}}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults: %v", err)
	}
	want := filepath.Join(".verdent_accounts", "accounts.json")
	if !strings.HasSuffix(cfg.Store.Path, want) {
		t.Errorf("store path = %q, want suffix %q", cfg.Store.Path, want)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
		{"bad exporter", func(c *Config) { c.LogExporter = "kafka" }},
		{"bad storage", func(c *Config) { c.Session.Storage = "s3" }},
		{"env without key", func(c *Config) { c.Session.Storage = SessionStorageTypeEnv; c.Session.EnvKey = "" }},
		{"keyring without user", func(c *Config) { c.Session.Storage = SessionStorageTypeKeyring; c.Session.KeyringUser = "" }},
		{"bad url", func(c *Config) { c.API.UserInfoURL = "not a url" }},
		{"zero attempts", func(c *Config) { c.API.MaxAttempts = 0 }},
		{"too many attempts", func(c *Config) { c.API.MaxAttempts = 11 }},
		{"zero concurrency", func(c *Config) { c.Refresh.Concurrency = 0 }},
		{"bad host", func(c *Config) { c.Server.Host = "not a host!" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Store:   StoreConfig{Path: "/tmp/accounts.json"},
				Session: SessionConfig{File: "/tmp/session"},
			}
			if err := cfg.ApplyDefaults(); err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
