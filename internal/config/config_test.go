package config

import (
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_RateLimit(t *testing.T) {
	cfg := Defaults()
	cfg.RateLimit.MaxMessages = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxMessages=0")
	}

	cfg = Defaults()
	cfg.RateLimit.WindowSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for windowSeconds=0")
	}
}

func TestValidate_Conversation(t *testing.T) {
	cfg := Defaults()
	cfg.Conversation.MaxHistory = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxHistory=0")
	}
}

func TestValidate_FailoverChainUnknownProvider(t *testing.T) {
	cfg := Defaults()
	cfg.General.FailoverChain = []string{"no-such-provider"}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown failover provider")
	}
}

func TestValidate_WhatsAppRequiresTokens(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.WhatsApp.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for whatsapp enabled without tokens")
	}

	cfg.Channels.WhatsApp.AccessToken = "token"
	cfg.Channels.WhatsApp.VerifyToken = "verify"
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_TelegramRequiresToken(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for telegram enabled without token")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.General.Country = "New Zealand"
	original.RateLimit.MaxMessages = 10

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.General.Country != "New Zealand" {
		t.Fatalf("expected country round-trip, got %q", loaded.General.Country)
	}
	if loaded.RateLimit.MaxMessages != 10 {
		t.Fatalf("expected rate limit round-trip, got %d", loaded.RateLimit.MaxMessages)
	}
}

func TestLoad_MergesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"general": {"logLevel": "debug"}}`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.General.LogLevel != "debug" {
		t.Fatalf("expected override, got %q", cfg.General.LogLevel)
	}
	// Unspecified sections keep their defaults.
	if cfg.RateLimit.MaxMessages != 30 {
		t.Fatalf("expected default rate limit, got %d", cfg.RateLimit.MaxMessages)
	}
	if cfg.General.Country != "Australia" {
		t.Fatalf("expected default country, got %q", cfg.General.Country)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// --- Env expansion ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("SHOPBOT_TEST_TOKEN", "secret123")

	cases := []struct {
		in   string
		want string
	}{
		{"${SHOPBOT_TEST_TOKEN}", "secret123"},
		{"${SHOPBOT_TEST_UNSET:-fallback}", "fallback"},
		{"${SHOPBOT_TEST_UNSET}", "${SHOPBOT_TEST_UNSET}"},
		{"prefix-${SHOPBOT_TEST_TOKEN}-suffix", "prefix-secret123-suffix"},
		{"no vars here", "no vars here"},
	}
	for _, c := range cases {
		if got := ExpandEnvVars(c.in); got != c.want {
			t.Errorf("ExpandEnvVars(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestLoad_ExpandsEnvInFile(t *testing.T) {
	t.Setenv("SHOPBOT_TEST_WA_TOKEN", "wa-token-xyz")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{
		"channels": {
			"whatsapp": {
				"enabled": true,
				"accessToken": "${SHOPBOT_TEST_WA_TOKEN}",
				"verifyToken": "${SHOPBOT_TEST_UNSET:-verify-default}"
			}
		}
	}`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Channels.WhatsApp.AccessToken != "wa-token-xyz" {
		t.Fatalf("expected env expansion, got %q", cfg.Channels.WhatsApp.AccessToken)
	}
	if cfg.Channels.WhatsApp.VerifyToken != "verify-default" {
		t.Fatalf("expected default expansion, got %q", cfg.Channels.WhatsApp.VerifyToken)
	}
}

// --- Accessors ---

func TestGetSetByPath(t *testing.T) {
	cfg := Defaults()

	if err := SetByPath(cfg, "rateLimit.maxMessages", "15"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.RateLimit.MaxMessages != 15 {
		t.Fatalf("expected 15, got %d", cfg.RateLimit.MaxMessages)
	}

	v, err := GetByPath(cfg, "rateLimit.maxMessages")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if n, ok := v.(float64); !ok || n != 15 {
		t.Fatalf("expected 15, got %v", v)
	}

	if _, err := GetByPath(cfg, "no.such.key"); err == nil {
		t.Fatal("expected error for unknown path")
	}
}

func TestSanitize(t *testing.T) {
	cfg := Defaults()
	p := cfg.Providers["openai"]
	p.APIKey = "sk-verysecretapikey1234"
	cfg.Providers["openai"] = p
	cfg.Channels.Telegram.Token = "123456:telegram-bot-token"

	masked := Sanitize(cfg)
	if masked.Providers["openai"].APIKey == p.APIKey {
		t.Fatal("API key must be masked")
	}
	if masked.Channels.Telegram.Token == cfg.Channels.Telegram.Token {
		t.Fatal("telegram token must be masked")
	}
	// Original untouched.
	if cfg.Providers["openai"].APIKey != p.APIKey {
		t.Fatal("sanitize must not mutate the original")
	}
}
