package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for shopbot.
type Config struct {
	General      GeneralConfig             `json:"general"`
	Providers    map[string]ProviderConfig `json:"providers"`
	Channels     ChannelsConfig            `json:"channels"`
	Store        StoreConfig               `json:"store"`
	Catalog      CatalogConfig             `json:"catalog"`
	RateLimit    RateLimitConfig           `json:"rateLimit"`
	Queue        QueueConfig               `json:"queue"`
	Conversation ConversationConfig        `json:"conversation"`
	Metrics      MetricsConfig             `json:"metrics"`
	MCP          MCPConfig                 `json:"mcp,omitempty"`
}

type GeneralConfig struct {
	LogLevel        string   `json:"logLevel"`
	LogFile         string   `json:"logFile,omitempty"`
	DefaultProvider string   `json:"defaultProvider"`
	FailoverChain   []string `json:"failoverChain,omitempty"` // provider failover order
	SystemPrompt    string   `json:"systemPrompt,omitempty"`  // appended shop persona for the LLM path
	Country         string   `json:"country"`                 // default address country
}

type ProviderConfig struct {
	Enabled       bool   `json:"enabled"`
	APIBase       string `json:"apiBase,omitempty"`
	APIKey        string `json:"apiKey,omitempty"`
	Model         string `json:"model,omitempty"`
	AdvancedModel string `json:"advancedModel,omitempty"`
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
	CLI      CLIConfig      `json:"cli"`
}

type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled"`
	AppSecret     string `json:"appSecret,omitempty"`
	AccessToken   string `json:"accessToken,omitempty"`
	VerifyToken   string `json:"verifyToken,omitempty"`
	PhoneNumberID string `json:"phoneNumberId,omitempty"`
	WebhookPath   string `json:"webhookPath,omitempty"`
	ListenAddr    string `json:"listenAddr,omitempty"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type CatalogConfig struct {
	Path string `json:"path,omitempty"` // YAML seed file, loaded on startup
}

type RateLimitConfig struct {
	MaxMessages   int `json:"maxMessages"`
	WindowSeconds int `json:"windowSeconds"`
}

type QueueConfig struct {
	MaxRetries    int `json:"maxRetries"`
	BaseDelayMs   int `json:"baseDelayMs"`
	BusBufferSize int `json:"busBufferSize"`
}

type ConversationConfig struct {
	MaxHistory   int `json:"maxHistory"`
	MaxSenders   int `json:"maxSenders"`
	TTLHours     int `json:"ttlHours"`
	SweepMinutes int `json:"sweepMinutes"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled    bool   `json:"enabled"`
	ListenAddr string `json:"listenAddr"`
	Endpoint   string `json:"endpoint"`
}

// MCPConfig configures Model Context Protocol server connections. Tools from
// connected servers are registered alongside the builtin commerce tools
// under mcp_<server>_<tool>.
type MCPConfig struct {
	Enabled bool             `json:"enabled"`
	Servers []MCPServerEntry `json:"servers,omitempty"`
}

// MCPServerEntry configures a single MCP server.
type MCPServerEntry struct {
	Name      string            `json:"name"`
	Transport string            `json:"transport"` // "stdio" | "http"
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	URL       string            `json:"url,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.shopbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shopbot"
	}
	return filepath.Join(home, ".shopbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Catalog.Path = ExpandPath(cfg.Catalog.Path)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.RateLimit.MaxMessages < 1 {
		errs = append(errs, "rateLimit.maxMessages must be >= 1")
	}
	if cfg.RateLimit.WindowSeconds < 1 {
		errs = append(errs, "rateLimit.windowSeconds must be >= 1")
	}
	if cfg.Queue.MaxRetries < 0 {
		errs = append(errs, "queue.maxRetries must be >= 0")
	}
	if cfg.Conversation.MaxHistory < 1 {
		errs = append(errs, "conversation.maxHistory must be >= 1")
	}
	if cfg.Conversation.MaxSenders < 1 {
		errs = append(errs, "conversation.maxSenders must be >= 1")
	}

	// Failover chain references must exist in providers.
	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}

	for name, pc := range cfg.Providers {
		if pc.Enabled && pc.APIBase == "" && name != "openai" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required", name))
		}
	}

	if cfg.Channels.WhatsApp.Enabled {
		if cfg.Channels.WhatsApp.AccessToken == "" {
			errs = append(errs, "channels.whatsapp.accessToken is required when whatsapp is enabled")
		}
		if cfg.Channels.WhatsApp.VerifyToken == "" {
			errs = append(errs, "channels.whatsapp.verifyToken is required when whatsapp is enabled")
		}
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
