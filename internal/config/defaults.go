package config

// Defaults returns a config populated with sensible defaults. Load starts
// from this and lets the file override fields.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:  "~/.aide",
			LogLevel: "info",
			Timezone: "Local",
		},
		Model: ModelConfig{
			Providers: map[string]ProviderConfig{
				"openai": {
					Enabled:    true,
					APIBase:    "https://api.openai.com/v1",
					APIKey:     "${OPENAI_API_KEY}",
					ChatModel:  "gpt-4o-mini",
					EmbedModel: "text-embedding-3-small",
				},
			},
			FailoverChain: []string{"openai"},
			RatePerMinute: 30,
			RateBurst:     5,
		},
		Pipeline: PipelineConfig{
			MaxToolRounds:     5,
			RecentTurns:       10,
			RelevantTurns:     5,
			ContextCharBudget: 24000,
			MaxMessageLength:  4000,
			TimeoutSeconds:    120,
		},
		Channels: ChannelsConfig{
			Preferred:     "telegram",
			FallbackOrder: []string{"telegram", "discord", "slack"},
			Telegram: TelegramConfig{
				Enabled: false,
				Token:   "${TELEGRAM_BOT_TOKEN:-}",
			},
			Discord: DiscordConfig{
				Enabled: false,
				Token:   "${DISCORD_BOT_TOKEN:-}",
			},
			Slack: SlackConfig{
				Enabled:  false,
				BotToken: "${SLACK_BOT_TOKEN:-}",
				AppToken: "${SLACK_APP_TOKEN:-}",
			},
		},
		Memory: MemoryConfig{
			DBPath:          "~/.aide/memory.db",
			SemanticWeight:  0.7,
			LexicalWeight:   0.3,
			SimilarityFloor: 0.35,
			SearchWindow:    500,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:              false,
			IntervalMinutes:      30,
			MisfireGraceMinutes:  5,
			QuietHoursStart:      "22:00",
			QuietHoursEnd:        "07:00",
			DedupWindowHours:     24,
			MaxNotificationChars: 1200,
		},
		Capabilities: CapabilitiesConfig{
			GroupsPath: "~/.aide/capabilities.yaml",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9190",
		},
	}
}
