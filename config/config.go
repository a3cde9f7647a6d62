package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Limits     LimitsConfig     `yaml:"limits"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
	Chat       ChatConfig       `yaml:"chat"`
	Credential CredentialConfig `yaml:"credential"`
	Admin      AdminConfig      `yaml:"admin"`
	Rates      RatesConfig      `yaml:"rates"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	Host      string `yaml:"host"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogPath   string `yaml:"log_path"`
}

type StorageConfig struct {
	DBPath           string `yaml:"db_path"`
	CredentialPath   string `yaml:"credential_path"`
	TokenCounterPath string `yaml:"token_counter_path"`
	VoicesPath       string `yaml:"voices_path"`
}

// LimitsConfig holds the per-user ceilings and input bounds.
type LimitsConfig struct {
	TTS             int64   `yaml:"tts"`
	STT             int64   `yaml:"stt"`
	GPT             int64   `yaml:"gpt"`
	MaxUsers        int     `yaml:"max_users"`
	MaxTextLength   int     `yaml:"max_text_length"`
	MinSpeed        float64 `yaml:"min_speed"`
	MaxSpeed        float64 `yaml:"max_speed"`
	MaxAudioSeconds int     `yaml:"max_audio_seconds"`
	STTBlockSeconds int     `yaml:"stt_block_seconds"`
}

type UpstreamConfig struct {
	FolderID              string `yaml:"folder_id"`
	IAMEndpoint           string `yaml:"iam_endpoint"`
	TTSURL                string `yaml:"tts_url"`
	STTURL                string `yaml:"stt_url"`
	CompletionURL         string `yaml:"completion_url"`
	TokenizeURL           string `yaml:"tokenize_url"`
	TokenizeCompletionURL string `yaml:"tokenize_completion_url"`
	Timeout               int    `yaml:"timeout"`
	Language              string `yaml:"language"`
	STTTopic              string `yaml:"stt_topic"`
}

type DefaultsConfig struct {
	Voice   string  `yaml:"voice"`
	Emotion string  `yaml:"emotion"`
	Speed   float64 `yaml:"speed"`
}

type ChatConfig struct {
	Model           string        `yaml:"model"`
	Temperature     float64       `yaml:"temperature"`
	MaxTokens       int           `yaml:"max_tokens"`
	MaxHistoryTurns int           `yaml:"max_history_turns"`
	SystemPrompt    string        `yaml:"system_prompt"`
	Routes          []RouteConfig `yaml:"routes"`
}

type RouteConfig struct {
	Pattern string `yaml:"pattern"`
	Target  string `yaml:"target"`
}

type CredentialConfig struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	RedisKey  string `yaml:"redis_key"`
}

type AdminConfig struct {
	JWTSecret string  `yaml:"jwt_secret"`
	UserIDs   []int64 `yaml:"user_ids"`
	TokenTTL  int     `yaml:"token_ttl"`
}

// RatesConfig holds the per-unit prices used by the cost calculator.
type RatesConfig struct {
	GPTPer1KTokens float64 `yaml:"gpt_per_1k_tokens"`
	STTPerBlock    float64 `yaml:"stt_per_block"`
	TTSPer1MChars  float64 `yaml:"tts_per_1m_chars"`
}

const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      8080,
			Host:      "0.0.0.0",
			LogLevel:  "info",
			LogFormat: "text",
			LogPath:   "./data/logs.log",
		},
		Storage: StorageConfig{
			DBPath:           "./data/users.db",
			CredentialPath:   "./data/token_data.json",
			TokenCounterPath: "./data/DONT_DELETE_ME.json",
			VoicesPath:       "./data/voices.json",
		},
		Limits: LimitsConfig{
			TTS:             500,
			STT:             12,
			GPT:             500,
			MaxUsers:        2,
			MaxTextLength:   250,
			MinSpeed:        0.1,
			MaxSpeed:        3.0,
			MaxAudioSeconds: 30,
			STTBlockSeconds: 15,
		},
		Upstream: UpstreamConfig{
			IAMEndpoint:           "http://169.254.169.254/computeMetadata/v1/instance/service-accounts/default/token",
			TTSURL:                "https://tts.api.cloud.yandex.net/speech/v1/tts:synthesize",
			STTURL:                "https://stt.api.cloud.yandex.net/speech/v1/stt:recognize",
			CompletionURL:         "https://llm.api.cloud.yandex.net/foundationModels/v1/completion",
			TokenizeURL:           "https://llm.api.cloud.yandex.net/foundationModels/v1/tokenize",
			TokenizeCompletionURL: "https://llm.api.cloud.yandex.net/foundationModels/v1/tokenizeCompletion",
			Timeout:               30,
			Language:              "ru-RU",
			STTTopic:              "general",
		},
		Defaults: DefaultsConfig{
			Voice:   "zahar",
			Emotion: "neutral",
			Speed:   1,
		},
		Chat: ChatConfig{
			Model:           "yandexgpt-lite",
			Temperature:     0.6,
			MaxTokens:       100,
			MaxHistoryTurns: 10,
			SystemPrompt:    "Ты дружелюбный помощник. Отвечай кратко.",
			Routes: []RouteConfig{
				{Pattern: "lite*", Target: "yandexgpt-lite"},
				{Pattern: "pro*", Target: "yandexgpt"},
			},
		},
		Credential: CredentialConfig{
			Backend:  BackendFile,
			RedisKey: "speechkit:iam_token",
		},
		Admin: AdminConfig{
			TokenTTL: 24 * 60,
		},
		Rates: RatesConfig{
			GPTPer1KTokens: 0.20,
			STTPerBlock:    0.16,
			TTSPer1MChars:  1320,
		},
	}
}

// Load loads configuration from file. Environment variables in the
// format ${VAR} are expanded before parsing.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Create default config file
			if err := Save(path, cfg); err != nil {
				return nil, fmt.Errorf("config: write default: %w", err)
			}
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("config: read: %w", err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to file
func Save(path string, c *Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the config for values the components cannot work with.
func (c *Config) Validate() error {
	if c.Limits.TTS <= 0 || c.Limits.STT <= 0 || c.Limits.GPT <= 0 {
		return fmt.Errorf("config: limits: ceilings must be positive")
	}
	if c.Limits.MaxUsers < 0 {
		return fmt.Errorf("config: limits: max_users must not be negative")
	}
	if c.Limits.MaxTextLength <= 0 {
		return fmt.Errorf("config: limits: max_text_length must be positive")
	}
	if c.Limits.STTBlockSeconds <= 0 || c.Limits.MaxAudioSeconds <= 0 {
		return fmt.Errorf("config: limits: audio bounds must be positive")
	}
	if c.Limits.MinSpeed <= 0 || c.Limits.MinSpeed > c.Limits.MaxSpeed {
		return fmt.Errorf("config: limits: invalid speed range %.2f..%.2f", c.Limits.MinSpeed, c.Limits.MaxSpeed)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("config: upstream: timeout must be positive")
	}
	if c.Upstream.FolderID == "" {
		return fmt.Errorf("config: upstream: folder_id is required")
	}
	switch c.Credential.Backend {
	case BackendFile:
	case BackendRedis:
		if c.Credential.RedisAddr == "" {
			return fmt.Errorf("config: credential: redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: credential: unknown backend %q", c.Credential.Backend)
	}
	if c.Chat.MaxTokens <= 0 {
		return fmt.Errorf("config: chat: max_tokens must be positive")
	}
	return nil
}

// UpstreamTimeout returns the timeout applied to every outbound call.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.Timeout) * time.Second
}

// IsAdmin reports whether the chat user id is listed as an administrator.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
