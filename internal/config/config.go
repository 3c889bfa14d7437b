package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the assistant gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Gemini language-model API configuration.
	// At least one key is required; secondary keys are optional fallbacks.
	GeminiAPIKeyPrimary    string `envconfig:"GEMINI_API_KEY_PRIMARY"`
	GeminiAPIKeySecondary1 string `envconfig:"GEMINI_API_KEY_SECONDARY_1"`
	GeminiAPIKeySecondary2 string `envconfig:"GEMINI_API_KEY_SECONDARY_2"`
	LLMEndpoint            string `envconfig:"LLM_ENDPOINT" default:"https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash-latest:generateContent"`
	LLMProbeEndpoint       string `envconfig:"LLM_PROBE_ENDPOINT" default:"https://generativelanguage.googleapis.com/v1beta/models"`

	// Groq speech-synthesis API configuration.
	// At least one key is required; the fallback key is optional.
	GroqAPIKeyPrimary  string `envconfig:"GROQ_API_KEY_PRIMARY"`
	GroqAPIKeyFallback string `envconfig:"GROQ_API_KEY_FALLBACK"`
	TTSEndpoint        string `envconfig:"TTS_ENDPOINT" default:"https://api.groq.com/openai/v1/audio/speech"`
	TTSProbeEndpoint   string `envconfig:"TTS_PROBE_ENDPOINT" default:"https://api.groq.com/openai/v1/models"`
	TTSModel           string `envconfig:"TTS_MODEL" default:"playai-tts"`
	DefaultVoice       string `envconfig:"DEFAULT_VOICE" default:"Basil-PlayAI"`

	// Fallback synthesizer: an OpenAI-compatible speech endpoint (typically
	// self-hosted) used only when the whole TTS credential pool is exhausted.
	// Optional; leaving the base URL empty disables the fallback path.
	FallbackTTSBaseURL string `envconfig:"FALLBACK_TTS_BASE_URL" default:""`
	FallbackTTSAPIKey  string `envconfig:"FALLBACK_TTS_API_KEY" default:""`
	FallbackTTSModel   string `envconfig:"FALLBACK_TTS_MODEL" default:"tts-1"`
	FallbackTTSVoice   string `envconfig:"FALLBACK_TTS_VOICE" default:"alloy"`

	// Credential pool policy
	CooldownBaseSeconds  int `envconfig:"COOLDOWN_BASE_SECONDS" default:"60"`   // Base cooldown after first failure
	CooldownMaxSeconds   int `envconfig:"COOLDOWN_MAX_SECONDS" default:"1800"`  // Cooldown cap (30 minutes)
	ProbeIntervalSeconds int `envconfig:"PROBE_INTERVAL_SECONDS" default:"300"` // Background health probe interval
	RequestTimeout       int `envconfig:"REQUEST_TIMEOUT_SECONDS" default:"30"` // Per-attempt upstream timeout

	// Assistant persona
	AssistantName string `envconfig:"ASSISTANT_NAME" default:"Danny"`

	// Durable local state (SQLite)
	DBPath string `envconfig:"DB_PATH" default:"assistant.db"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables.
// It first attempts to load from a .env file if one exists, then from the environment.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load a .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the fatal startup conditions: each upstream service must
// have at least one credential configured.
func (c *Config) Validate() error {
	if len(c.LLMKeys()) == 0 {
		return fmt.Errorf("no Gemini API keys configured: set GEMINI_API_KEY_PRIMARY")
	}
	if len(c.TTSKeys()) == 0 {
		return fmt.Errorf("no Groq API keys configured: set GROQ_API_KEY_PRIMARY")
	}
	return nil
}

// LLMKeys returns the configured language-model credentials in priority order,
// skipping empty slots.
func (c *Config) LLMKeys() []string {
	return nonEmpty(c.GeminiAPIKeyPrimary, c.GeminiAPIKeySecondary1, c.GeminiAPIKeySecondary2)
}

// TTSKeys returns the configured speech-synthesis credentials in priority
// order, skipping empty slots.
func (c *Config) TTSKeys() []string {
	return nonEmpty(c.GroqAPIKeyPrimary, c.GroqAPIKeyFallback)
}

// FallbackEnabled reports whether a fallback synthesizer endpoint is configured.
func (c *Config) FallbackEnabled() bool {
	return c.FallbackTTSBaseURL != ""
}

// CooldownBase returns the base cooldown as a duration.
func (c *Config) CooldownBase() time.Duration {
	return time.Duration(c.CooldownBaseSeconds) * time.Second
}

// CooldownMax returns the cooldown cap as a duration.
func (c *Config) CooldownMax() time.Duration {
	return time.Duration(c.CooldownMaxSeconds) * time.Second
}

// ProbeInterval returns the background probe interval as a duration.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
