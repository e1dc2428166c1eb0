package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Defaults()
	cfg.General.MaxIterations = 33
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = "tg-secret-token-1234"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.General.MaxIterations != 33 || loaded.Channels.Telegram.Token != "tg-secret-token-1234" {
		t.Fatalf("round trip lost data: %+v", loaded.General)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Defaults()
	cfg.General.MaxIterations = 0
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("ATTOBOT_TEST_TOKEN", "abc123")
	defer os.Unsetenv("ATTOBOT_TEST_TOKEN")

	cases := map[string]string{
		"${ATTOBOT_TEST_TOKEN}":              "abc123",
		"${ATTOBOT_TEST_MISSING:-fallback}":  "fallback",
		"${ATTOBOT_TEST_MISSING}":            "${ATTOBOT_TEST_MISSING}",
		"prefix-${ATTOBOT_TEST_TOKEN}-sufix": "prefix-abc123-sufix",
		"no vars here":                       "no vars here",
	}
	for in, want := range cases {
		if got := ExpandEnvVars(in); got != want {
			t.Errorf("ExpandEnvVars(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetSetByPath(t *testing.T) {
	cfg := Defaults()

	got, err := GetByPath(cfg, "general.logLevel")
	if err != nil || got != "info" {
		t.Fatalf("get: %v %v", got, err)
	}

	if err := SetByPath(cfg, "general.maxIterations", "50"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.General.MaxIterations != 50 {
		t.Fatalf("set did not apply: %d", cfg.General.MaxIterations)
	}

	if err := SetByPath(cfg, "heartbeat.enabled", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if !cfg.Heartbeat.Enabled {
		t.Fatal("bool set did not apply")
	}

	if _, err := GetByPath(cfg, "general.noSuchKey"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestSanitizeMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Providers["openai"] = ProviderConfig{Enabled: true, APIBase: "https://api.openai.com/v1", APIKey: "sk-verysecretvalue99"}
	cfg.Channels.Telegram.Token = "telegram-bot-token-value"

	clean := Sanitize(cfg)
	if clean.Providers["openai"].APIKey == cfg.Providers["openai"].APIKey {
		t.Fatal("api key not masked")
	}
	if !strings.Contains(clean.Providers["openai"].APIKey, "****") {
		t.Fatalf("unexpected mask format %q", clean.Providers["openai"].APIKey)
	}
	if clean.Channels.Telegram.Token == cfg.Channels.Telegram.Token {
		t.Fatal("telegram token not masked")
	}
	// Original untouched
	if cfg.Providers["openai"].APIKey != "sk-verysecretvalue99" {
		t.Fatal("sanitize mutated original")
	}
}
