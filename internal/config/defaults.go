package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:        "info",
			DefaultProvider: "openai",
			Country:         "Australia",
			SystemPrompt: "You are a friendly assistant for a wholesale food distributor. " +
				"Answer customer questions about products, orders, and delivery. " +
				"Keep replies short and suitable for a chat message.",
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:       false,
				Model:         "gpt-4o-mini",
				AdvancedModel: "gpt-4o",
			},
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				Enabled:     false,
				WebhookPath: "/webhook/whatsapp",
				ListenAddr:  ":8443",
			},
			Telegram: TelegramConfig{
				Enabled: false,
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
		Store: StoreConfig{
			DBPath: "~/.shopbot/shopbot.db",
		},
		Catalog: CatalogConfig{
			Path: "",
		},
		RateLimit: RateLimitConfig{
			MaxMessages:   30,
			WindowSeconds: 60,
		},
		Queue: QueueConfig{
			MaxRetries:    3,
			BaseDelayMs:   1000,
			BusBufferSize: 100,
		},
		Conversation: ConversationConfig{
			MaxHistory:   20,
			MaxSenders:   1000,
			TTLHours:     24,
			SweepMinutes: 10,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9090",
			Endpoint:   "/metrics",
		},
		MCP: MCPConfig{
			Enabled: false,
			Servers: nil,
		},
	}
}
