package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice translator service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Deepgram STT API configuration
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base

	// Cartesia TTS API configuration
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" required:"true"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic-multilingual"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:""` // Optional; overrides per-language presets

	// Google Gemini configuration (translation requests + live pipeline)
	GoogleAPIKey   string `envconfig:"GOOGLE_API_KEY" required:"true"`
	TranslateModel string `envconfig:"TRANSLATE_MODEL" default:"gemini-2.5-flash"`
	LiveModel      string `envconfig:"LIVE_MODEL" default:"models/gemini-2.0-flash-exp"`
	LiveVoiceName  string `envconfig:"LIVE_VOICE_NAME" default:"Aoede"`

	// Language pair defaults (overridable per session)
	FromLanguage string `envconfig:"FROM_LANGUAGE" default:"en"`
	ToLanguage   string `envconfig:"TO_LANGUAGE" default:"ja"`

	// Pipeline selection: "split" (STT + translate + TTS) or "native" (Gemini Live)
	PipelineMode string `envconfig:"PIPELINE_MODE" default:"split"`

	// Audio configuration
	CaptureSampleRate  int `envconfig:"CAPTURE_SAMPLE_RATE" default:"16000"`  // Mic PCM rate in Hz
	PlaybackSampleRate int `envconfig:"PLAYBACK_SAMPLE_RATE" default:"24000"` // TTS PCM rate in Hz
	FrameSamples       int `envconfig:"FRAME_SAMPLES" default:"4096"`         // Samples per capture frame
	VolumeIntervalMs   int `envconfig:"VOLUME_INTERVAL_MS" default:"50"`      // Volume meter cadence

	// Turn sequencing
	SilenceTimeoutMs    int `envconfig:"SILENCE_TIMEOUT_MS" default:"1200"`     // Endpointing debounce (800-1500)
	ReconnectCooldownMs int `envconfig:"RECONNECT_COOLDOWN_MS" default:"500"`   // Wait before reconnect on language change
	KeepAliveIntervalMs int `envconfig:"KEEPALIVE_INTERVAL_MS" default:"10000"` // Provider socket ping cadence

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum attempts when resubmitting text requests
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Session is the immutable per-connection configuration handed to the
// orchestrator at connect time. A language-pair change requires a full
// disconnect/reconnect cycle with a fresh Session value; the value itself
// is never mutated while a connection is live.
type Session struct {
	FromLanguage string
	ToLanguage   string
	VoiceID      string

	DeepgramAPIKey string
	DeepgramModel  string

	CartesiaAPIKey  string
	CartesiaModelID string

	GoogleAPIKey   string
	TranslateModel string
	LiveModel      string
	LiveVoiceName  string

	CaptureSampleRate  int
	PlaybackSampleRate int
	FrameSamples       int
	VolumeInterval     time.Duration

	SilenceTimeout    time.Duration
	ReconnectCooldown time.Duration
	KeepAliveInterval time.Duration
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
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

// Validate checks credentials and tunables before any network attempt.
// Placeholder values left over from setup templates count as missing.
func (c *Config) Validate() error {
	if err := checkCredential("DEEPGRAM_API_KEY", c.DeepgramAPIKey); err != nil {
		return err
	}
	if err := checkCredential("CARTESIA_API_KEY", c.CartesiaAPIKey); err != nil {
		return err
	}
	if err := checkCredential("GOOGLE_API_KEY", c.GoogleAPIKey); err != nil {
		return err
	}

	if c.PipelineMode != "split" && c.PipelineMode != "native" {
		return fmt.Errorf("PIPELINE_MODE must be \"split\" or \"native\", got %q", c.PipelineMode)
	}

	if c.SilenceTimeoutMs < 100 {
		return fmt.Errorf("SILENCE_TIMEOUT_MS too small: %d", c.SilenceTimeoutMs)
	}
	if c.FrameSamples <= 0 {
		return fmt.Errorf("FRAME_SAMPLES must be positive, got %d", c.FrameSamples)
	}

	return nil
}

// Session assembles the immutable per-connection configuration, applying the
// given language pair on top of the service defaults. Empty arguments fall
// back to the configured defaults.
func (c *Config) Session(fromLang, toLang string) Session {
	if fromLang == "" {
		fromLang = c.FromLanguage
	}
	if toLang == "" {
		toLang = c.ToLanguage
	}

	return Session{
		FromLanguage: fromLang,
		ToLanguage:   toLang,
		VoiceID:      c.CartesiaVoiceID,

		DeepgramAPIKey: c.DeepgramAPIKey,
		DeepgramModel:  c.DeepgramModel,

		CartesiaAPIKey:  c.CartesiaAPIKey,
		CartesiaModelID: c.CartesiaModelID,

		GoogleAPIKey:   c.GoogleAPIKey,
		TranslateModel: c.TranslateModel,
		LiveModel:      c.LiveModel,
		LiveVoiceName:  c.LiveVoiceName,

		CaptureSampleRate:  c.CaptureSampleRate,
		PlaybackSampleRate: c.PlaybackSampleRate,
		FrameSamples:       c.FrameSamples,
		VolumeInterval:     time.Duration(c.VolumeIntervalMs) * time.Millisecond,

		SilenceTimeout:    time.Duration(c.SilenceTimeoutMs) * time.Millisecond,
		ReconnectCooldown: time.Duration(c.ReconnectCooldownMs) * time.Millisecond,
		KeepAliveInterval: time.Duration(c.KeepAliveIntervalMs) * time.Millisecond,
	}
}

// checkCredential rejects empty keys and setup-template placeholders like
// "YOUR_API_KEY" so misconfiguration is caught before a connection attempt.
func checkCredential(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	if strings.Contains(value, "YOUR_") || strings.Contains(value, "REPLACE") {
		return fmt.Errorf("%s is not configured (still using placeholder)", name)
	}
	return nil
}
