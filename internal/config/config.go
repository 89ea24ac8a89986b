package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	Providers ProvidersConfig `yaml:"providers"`
	Council   CouncilConfig   `yaml:"council"`
	Judge     JudgeConfig     `yaml:"judge"`
	Reply     ReplyConfig     `yaml:"reply"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Callback  CallbackConfig  `yaml:"callback"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Redis     RedisConfig     `yaml:"redis"`
}

type ServerConfig struct {
	Port               string `yaml:"port"`
	Env                string `yaml:"env"`
	MaxMessageChars    int    `yaml:"max_message_chars"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type SecurityConfig struct {
	APISecretKey string `yaml:"api_secret_key"`
}

type ProvidersConfig struct {
	Groq   ProviderConfig `yaml:"groq"`
	Nvidia ProviderConfig `yaml:"nvidia"`
}

// ProviderConfig describes one OpenAI-compatible endpoint. Keys is a
// comma-separated pool feeding the round-robin rotator; FallbackKey is
// the single-key escape hatch when no pool is configured.
type ProviderConfig struct {
	BaseURL     string `yaml:"base_url"`
	Keys        string `yaml:"keys"`
	FallbackKey string `yaml:"fallback_key"`
}

type CouncilConfig struct {
	DelaySeconds        float64       `yaml:"delay_seconds"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	WorkerPoolSize      int           `yaml:"worker_pool_size"`
	Voters              []VoterConfig `yaml:"voters"`
}

// VoterConfig instantiates Count replicas of one council voter.
type VoterConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Prompt   string `yaml:"prompt"`
	Count    int    `yaml:"count"`
	JSONMode bool   `yaml:"json_mode"`
	APIKey   string `yaml:"api_key"`
}

type JudgeConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	LLMEnabled bool   `yaml:"llm_enabled"`
	APIKey     string `yaml:"api_key"`
}

type ReplyConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Prompt   string `yaml:"prompt"`
	APIKey   string `yaml:"api_key"`
}

type ExtractorConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	LLMEnabled bool   `yaml:"llm_enabled"`
}

type CallbackConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type SessionsConfig struct {
	// InactivityTimeoutSeconds drives the optional idle sweep. Zero
	// disables eviction and sessions live for the process lifetime.
	InactivityTimeoutSeconds int `yaml:"inactivity_timeout_seconds"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// Default returns the built-in configuration used when no config file
// is present. The voter roster mirrors the production council.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               "8080",
			Env:                "dev",
			MaxMessageChars:    8000,
			RateLimitPerMinute: 120,
		},
		Providers: ProvidersConfig{
			Groq:   ProviderConfig{BaseURL: "https://api.groq.com/openai/v1"},
			Nvidia: ProviderConfig{BaseURL: "https://integrate.api.nvidia.com/v1"},
		},
		Council: CouncilConfig{
			DelaySeconds:        3.0,
			ConfidenceThreshold: 0.6,
			WorkerPoolSize:      4,
			Voters: []VoterConfig{
				{Name: "scout", Provider: "groq", Model: "meta-llama/llama-4-scout-17b-16e-instruct", Prompt: "prompts/scout.txt", Count: 1, JSONMode: true},
				{Name: "gpt-oss", Provider: "groq", Model: "openai/gpt-oss-120b", Prompt: "prompts/gpt_oss.txt", Count: 1},
				{Name: "guard", Provider: "groq", Model: "llama-guard-3-8b", Prompt: "prompts/guard.txt", Count: 1},
				{Name: "contextual", Provider: "groq", Model: "llama-3.3-70b-versatile", Prompt: "prompts/contextual.txt", Count: 1, JSONMode: true},
				{Name: "nemotron", Provider: "nvidia", Model: "nvidia/llama-3.3-nemotron-super-49b-v1.5", Prompt: "prompts/nemotron.txt", Count: 1},
			},
		},
		Judge: JudgeConfig{
			Provider:   "groq",
			Model:      "meta-llama/llama-4-scout-17b-16e-instruct",
			LLMEnabled: true,
		},
		Reply: ReplyConfig{
			Provider: "groq",
			Model:    "llama-3.3-70b-versatile",
			Prompt:   "prompts/persona.txt",
		},
		Extractor: ExtractorConfig{
			Provider:   "groq",
			Model:      "meta-llama/llama-4-scout-17b-16e-instruct",
			LLMEnabled: true,
		},
		Callback: CallbackConfig{
			URL:            "https://hackathon.guvi.in/api/updateHoneyPotFinalResult",
			TimeoutSeconds: 30,
		},
		Redis: RedisConfig{Channel: "honeypot.events"},
	}
}

// Load reads the yaml config file at path, layers it over Default,
// and applies environment overrides last. A missing file is not an
// error; env-only deployments are common.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("open config %s: %w", path, err)
			}
		} else {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv resolves the documented environment variables on top of the
// file-based configuration.
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("API_SECRET_KEY"); v != "" {
		c.Security.APISecretKey = v
	}
	if v := os.Getenv("GROQ_API_KEYS"); v != "" {
		c.Providers.Groq.Keys = v
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		c.Providers.Groq.FallbackKey = v
	}
	if v := os.Getenv("NVIDIA_API_KEYS"); v != "" {
		c.Providers.Nvidia.Keys = v
	}
	if v := os.Getenv("NVIDIA_API_KEY"); v != "" {
		c.Providers.Nvidia.FallbackKey = v
	}
	if v := os.Getenv("CALLBACK_URL"); v != "" {
		c.Callback.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v, ok := lookupInt("WORKER_POOL_SIZE"); ok {
		c.Council.WorkerPoolSize = v
	}
	if v, ok := lookupFloat("COUNCIL_DELAY_SECONDS"); ok {
		c.Council.DelaySeconds = v
	}
	if v, ok := lookupFloat("SCAM_CONFIDENCE_THRESHOLD"); ok {
		c.Council.ConfidenceThreshold = v
	}
	if v, ok := lookupInt("INACTIVITY_TIMEOUT_SECONDS"); ok {
		c.Sessions.InactivityTimeoutSeconds = v
	}
}

func lookupInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return v, true
}

func lookupFloat(name string) (float64, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// BaseURL returns the configured endpoint for a named provider.
func (c *Config) BaseURL(provider string) string {
	switch provider {
	case "nvidia":
		return c.Providers.Nvidia.BaseURL
	default:
		return c.Providers.Groq.BaseURL
	}
}

// FallbackKey returns the single-key fallback for a named provider.
func (c *Config) FallbackKey(provider string) string {
	switch provider {
	case "nvidia":
		return c.Providers.Nvidia.FallbackKey
	default:
		return c.Providers.Groq.FallbackKey
	}
}
