package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for aide. It is loaded once at startup
// and handed to components as a structured object; nothing reads it as
// global state afterwards.
type Config struct {
	General      GeneralConfig      `json:"general"`
	Model        ModelConfig        `json:"model"`
	Pipeline     PipelineConfig     `json:"pipeline"`
	Channels     ChannelsConfig     `json:"channels"`
	Memory       MemoryConfig       `json:"memory"`
	Heartbeat    HeartbeatConfig    `json:"heartbeat"`
	Capabilities CapabilitiesConfig `json:"capabilities"`
	Metrics      MetricsConfig      `json:"metrics"`
}

type GeneralConfig struct {
	DataDir          string `json:"dataDir"`
	LogLevel         string `json:"logLevel"`
	LogFile          string `json:"logFile,omitempty"`
	SystemPromptPath string `json:"systemPromptPath,omitempty"` // markdown instructions, loaded once
	Timezone         string `json:"timezone"`
}

// ModelConfig describes the model capability. Providers are tried in
// FailoverChain order; each must speak an OpenAI-compatible API.
type ModelConfig struct {
	Providers     map[string]ProviderConfig `json:"providers"`
	FailoverChain []string                  `json:"failoverChain"`
	RatePerMinute float64                   `json:"ratePerMinute,omitempty"`
	RateBurst     int                       `json:"rateBurst,omitempty"`
}

type ProviderConfig struct {
	Enabled    bool   `json:"enabled"`
	APIBase    string `json:"apiBase"`
	APIKey     string `json:"apiKey,omitempty"`
	ChatModel  string `json:"chatModel"`
	EmbedModel string `json:"embedModel,omitempty"`
}

type PipelineConfig struct {
	MaxToolRounds     int `json:"maxToolRounds"`
	RecentTurns       int `json:"recentTurns"`
	RelevantTurns     int `json:"relevantTurns"`
	ContextCharBudget int `json:"contextCharBudget"`
	MaxMessageLength  int `json:"maxMessageLength"`
	TimeoutSeconds    int `json:"timeoutSeconds"`
}

type ChannelsConfig struct {
	Preferred     string         `json:"preferred"`
	FallbackOrder []string       `json:"fallbackOrder"`
	Telegram      TelegramConfig `json:"telegram"`
	Discord       DiscordConfig  `json:"discord,omitempty"`
	Slack         SlackConfig    `json:"slack,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom,omitempty"`
	ParseMode string   `json:"parseMode,omitempty"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
}

type MemoryConfig struct {
	DBPath          string  `json:"dbPath"`
	SemanticWeight  float64 `json:"semanticWeight"`
	LexicalWeight   float64 `json:"lexicalWeight"`
	SimilarityFloor float64 `json:"similarityFloor"`
	SearchWindow    int     `json:"searchWindow"` // candidate rows scanned per search
}

type HeartbeatConfig struct {
	Enabled              bool        `json:"enabled"`
	IntervalMinutes      int         `json:"intervalMinutes"`
	MisfireGraceMinutes  int         `json:"misfireGraceMinutes"`
	QuietHoursStart      string      `json:"quietHoursStart"` // "22:00"
	QuietHoursEnd        string      `json:"quietHoursEnd"`   // "07:00"
	DedupWindowHours     int         `json:"dedupWindowHours"`
	MaxNotificationChars int         `json:"maxNotificationChars"`
	Checklist            []string    `json:"checklist,omitempty"`
	WatchPages           []WatchPage `json:"watchPages,omitempty"`
}

// WatchPage is a URL rendered headlessly and offered to the heartbeat as a
// read-only context source.
type WatchPage struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type CapabilitiesConfig struct {
	GroupsPath string `json:"groupsPath"` // YAML capability-group declarations
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.aide).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aide"
	}
	return filepath.Join(home, ".aide")
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

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.General.SystemPromptPath = ExpandPath(cfg.General.SystemPromptPath)
	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)
	cfg.Capabilities.GroupsPath = ExpandPath(cfg.Capabilities.GroupsPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		// ${VAR:-} carries an empty default, which is still a default.
		hasDefault := strings.Contains(match, ":-")
		defaultVal := ""
		if hasDefault && len(groups) >= 3 {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
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

// Validate checks that the config has valid values. Malformed configuration
// is a structural failure: it is never retried.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Pipeline.MaxToolRounds < 1 || cfg.Pipeline.MaxToolRounds > 50 {
		errs = append(errs, "pipeline.maxToolRounds must be between 1 and 50")
	}
	if cfg.Pipeline.RecentTurns < 1 {
		errs = append(errs, "pipeline.recentTurns must be >= 1")
	}
	if cfg.Pipeline.RelevantTurns < 0 {
		errs = append(errs, "pipeline.relevantTurns must be >= 0")
	}
	if cfg.Pipeline.MaxMessageLength < 1 {
		errs = append(errs, "pipeline.maxMessageLength must be >= 1")
	}
	if cfg.Pipeline.ContextCharBudget < 256 {
		errs = append(errs, "pipeline.contextCharBudget must be >= 256")
	}

	if w := cfg.Memory.SemanticWeight + cfg.Memory.LexicalWeight; w <= 0 {
		errs = append(errs, "memory.semanticWeight + memory.lexicalWeight must be positive")
	}
	if cfg.Memory.SimilarityFloor < 0 || cfg.Memory.SimilarityFloor > 1 {
		errs = append(errs, "memory.similarityFloor must be between 0 and 1")
	}

	if cfg.Heartbeat.IntervalMinutes < 1 {
		errs = append(errs, "heartbeat.intervalMinutes must be >= 1")
	}
	if cfg.Heartbeat.DedupWindowHours < 1 {
		errs = append(errs, "heartbeat.dedupWindowHours must be >= 1")
	}
	for _, field := range []string{cfg.Heartbeat.QuietHoursStart, cfg.Heartbeat.QuietHoursEnd} {
		if field != "" && !timeOfDayPattern.MatchString(field) {
			errs = append(errs, fmt.Sprintf("heartbeat quiet hours value %q must be HH:MM", field))
		}
	}

	// Validate failover chain references exist in providers.
	for _, provName := range cfg.Model.FailoverChain {
		if _, ok := cfg.Model.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("model.failoverChain references unknown provider: %s", provName))
		}
	}
	for name, pc := range cfg.Model.Providers {
		if pc.Enabled && pc.APIBase == "" {
			errs = append(errs, fmt.Sprintf("model.providers.%s: apiBase is required", name))
		}
	}

	// Fallback order must reference known channel names.
	for _, ch := range cfg.Channels.FallbackOrder {
		switch ch {
		case "telegram", "discord", "slack":
		default:
			errs = append(errs, fmt.Sprintf("channels.fallbackOrder references unknown channel: %s", ch))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

var timeOfDayPattern = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

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
