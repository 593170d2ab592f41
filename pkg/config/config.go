package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from and admin ids can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Bot       BotConfig       `json:"bot"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Models    []ModelConfig   `json:"models"`
	Karma     KarmaConfig     `json:"karma"`
	Gate      GateConfig      `json:"gate"`
	Storage   StorageConfig   `json:"storage"`
	Summary   SummaryConfig   `json:"summary"`
	Gateway   GatewayConfig   `json:"gateway"`
	mu        sync.RWMutex
}

type BotConfig struct {
	Name          string              `json:"name" env:"HUSK_BOT_NAME"`
	AdminID       string              `json:"admin_id" env:"HUSK_BOT_ADMIN_ID"`
	TriggerWords  FlexibleStringSlice `json:"trigger_words" env:"HUSK_BOT_TRIGGER_WORDS" envSeparator:","`
	CommandPrefix string              `json:"command_prefix" env:"HUSK_BOT_COMMAND_PREFIX"`
	// Number of history messages included in each prompt.
	PromptHistory int `json:"prompt_history" env:"HUSK_BOT_PROMPT_HISTORY"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Token     string              `json:"token" env:"HUSK_CHANNELS_TELEGRAM_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"HUSK_CHANNELS_TELEGRAM_ALLOW_FROM" envSeparator:","`
	Proxy     string              `json:"proxy,omitempty" env:"HUSK_CHANNELS_TELEGRAM_PROXY"`
}

type DiscordConfig struct {
	Token     string              `json:"token" env:"HUSK_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"HUSK_CHANNELS_DISCORD_ALLOW_FROM" envSeparator:","`
}

type ProvidersConfig struct {
	DeepSeek   KeyedProviderConfig  `json:"deepseek"`
	Gemini     GeminiProviderConfig `json:"gemini"`
	OpenRouter EscapeProviderConfig `json:"openrouter"`
}

// KeyedProviderConfig carries the ordered credential set for one provider.
// The pool rotates through api_keys when one is exhausted.
type KeyedProviderConfig struct {
	APIKeys FlexibleStringSlice `json:"api_keys" env:"HUSK_PROVIDERS_DEEPSEEK_API_KEYS" envSeparator:","`
	APIBase string              `json:"api_base" env:"HUSK_PROVIDERS_DEEPSEEK_API_BASE"`
	Proxy   string              `json:"proxy,omitempty" env:"HUSK_PROVIDERS_DEEPSEEK_PROXY"`
}

type GeminiProviderConfig struct {
	APIKeys FlexibleStringSlice `json:"api_keys" env:"HUSK_PROVIDERS_GEMINI_API_KEYS" envSeparator:","`
}

// EscapeProviderConfig configures the escape-hatch backend used only after
// the primary fallback space is exhausted.
type EscapeProviderConfig struct {
	APIKey    string `json:"api_key" env:"HUSK_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase   string `json:"api_base" env:"HUSK_PROVIDERS_OPENROUTER_API_BASE"`
	Model     string `json:"model" env:"HUSK_PROVIDERS_OPENROUTER_MODEL"`
	MaxTokens int    `json:"max_tokens" env:"HUSK_PROVIDERS_OPENROUTER_MAX_TOKENS"`
}

type ModelConfig struct {
	Name        string  `json:"name"`
	Provider    string  `json:"provider"`
	Tier        string  `json:"tier"` // high | default | low
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
}

type KarmaConfig struct {
	Default               int     `json:"default" env:"HUSK_KARMA_DEFAULT"`
	Min                   int     `json:"min"`
	Max                   int     `json:"max"`
	FirstInteractionBonus int     `json:"first_interaction_bonus"`
	DailyMessageLimit     int     `json:"daily_message_limit" env:"HUSK_KARMA_DAILY_MESSAGE_LIMIT"`
	ProtectionThreshold   int     `json:"protection_threshold"`
	HighThreshold         int     `json:"high_threshold"`
	LowThreshold          int     `json:"low_threshold"`
	HighModifier          float64 `json:"high_modifier"`
	LowModifier           float64 `json:"low_modifier"`
	GratitudeDelta        int     `json:"gratitude_delta"`
	PraiseDelta           int     `json:"praise_delta"`
	InsultDelta           int     `json:"insult_delta"`
}

type GateConfig struct {
	FloodIntervalMS int `json:"flood_interval_ms" env:"HUSK_GATE_FLOOD_INTERVAL_MS"`
	// Spontaneous-response probability is drawn uniformly from this range
	// for every eligible message.
	SpontaneousMin float64 `json:"spontaneous_min" env:"HUSK_GATE_SPONTANEOUS_MIN"`
	SpontaneousMax float64 `json:"spontaneous_max" env:"HUSK_GATE_SPONTANEOUS_MAX"`
	// Spontaneous thoughts fire once every ThoughtEvery..ThoughtEvery+ThoughtJitter messages.
	ThoughtEvery           int     `json:"thought_every"`
	ThoughtJitter          int     `json:"thought_jitter"`
	ReactionChance         float64 `json:"reaction_chance"`
	ReactionChanceExisting float64 `json:"reaction_chance_existing"`
	AnalysisBufferSize     int     `json:"analysis_buffer_size"`
}

type StorageConfig struct {
	DataDir         string `json:"data_dir" env:"HUSK_STORAGE_DATA_DIR"`
	WindowSize      int    `json:"window_size"`
	FlushIntervalMS int    `json:"flush_interval_ms" env:"HUSK_STORAGE_FLUSH_INTERVAL_MS"`
}

type SummaryConfig struct {
	Enabled bool   `json:"enabled" env:"HUSK_SUMMARY_ENABLED"`
	Cron    string `json:"cron" env:"HUSK_SUMMARY_CRON"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"HUSK_GATEWAY_HOST"`
	Port int    `json:"port" env:"HUSK_GATEWAY_PORT"`
}

func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			Name:          "husk",
			TriggerWords:  FlexibleStringSlice{"husk", "хаск"},
			CommandPrefix: "/",
			PromptHistory: 10,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{AllowFrom: FlexibleStringSlice{}},
			Discord:  DiscordConfig{AllowFrom: FlexibleStringSlice{}},
		},
		Providers: ProvidersConfig{
			DeepSeek: KeyedProviderConfig{
				APIKeys: FlexibleStringSlice{},
				APIBase: "https://api.deepseek.com/v1",
			},
			Gemini: GeminiProviderConfig{APIKeys: FlexibleStringSlice{}},
			OpenRouter: EscapeProviderConfig{
				APIBase:   "https://openrouter.ai/api/v1",
				Model:     "deepseek/deepseek-chat",
				MaxTokens: 500,
			},
		},
		Models: []ModelConfig{
			{Name: "deepseek-chat", Provider: "deepseek", Tier: "default", MaxTokens: 2000, Temperature: 0.8, TopP: 0.9},
			{Name: "deepseek-reasoner", Provider: "deepseek", Tier: "high", MaxTokens: 2000, Temperature: 0.7},
			{Name: "gemini-2.0-flash", Provider: "gemini", Tier: "low", MaxTokens: 1000, Temperature: 0.8},
		},
		Karma: KarmaConfig{
			Default:               80,
			Min:                   0,
			Max:                   100,
			FirstInteractionBonus: 10,
			DailyMessageLimit:     50,
			ProtectionThreshold:   50,
			HighThreshold:         80,
			LowThreshold:          20,
			HighModifier:          0.5,
			LowModifier:           1.5,
			GratitudeDelta:        3,
			PraiseDelta:           5,
			InsultDelta:           -15,
		},
		Gate: GateConfig{
			FloodIntervalMS:        1000,
			SpontaneousMin:         0.02,
			SpontaneousMax:         0.04,
			ThoughtEvery:           30,
			ThoughtJitter:          20,
			ReactionChance:         0.2,
			ReactionChanceExisting: 0.7,
			AnalysisBufferSize:     20,
		},
		Storage: StorageConfig{
			DataDir:         "~/.husk/data",
			WindowSize:      200,
			FlushIntervalMS: 5000,
		},
		Summary: SummaryConfig{
			Enabled: false,
			Cron:    "0 22 * * *",
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18850,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) DataDirPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Storage.DataDir)
}

func ExpandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
