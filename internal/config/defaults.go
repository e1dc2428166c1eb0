package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace:             "~/.attobot/workspace",
			LogLevel:              "info",
			MaxIterations:         20,
			SubagentMaxIterations: 15,
			DefaultProvider:       "ollama",
		},
		Providers: map[string]ProviderConfig{
			"ollama": {
				Enabled:      true,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{
				Enabled: true,
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
		},
		Memory: MemoryConfig{
			Enabled:                   true,
			DBPath:                    "~/.attobot/memory.db",
			MaxHistoryPerConversation: 100,
		},
		Tools: ToolsConfig{
			Shell: ShellToolConfig{
				Timeout:        30,
				MaxOutputBytes: 65536,
			},
			Web: WebToolConfig{
				SearchProvider: "duckduckgo",
			},
			Browser: BrowserToolConfig{
				Enabled:        false,
				TimeoutSeconds: 30,
			},
		},
		Cron: CronConfig{
			Enabled:   true,
			StorePath: "~/.attobot/cron.json",
		},
		Heartbeat: HeartbeatConfig{
			Enabled:         false,
			IntervalSeconds: 1800,
		},
		Skills: SkillsConfig{
			Enabled: true,
			Dir:     "~/.attobot/skills",
		},
	}
}
