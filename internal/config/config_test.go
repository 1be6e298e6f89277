package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DEEPGRAM_API_KEY", "dg-test-key")
	t.Setenv("CARTESIA_API_KEY", "cart-test-key")
	t.Setenv("GOOGLE_API_KEY", "goog-test-key")
}

func TestLoadFromEnvDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("DeepgramModel = %q, want nova-2", cfg.DeepgramModel)
	}
	if cfg.CartesiaModelID != "sonic-multilingual" {
		t.Errorf("CartesiaModelID = %q, want sonic-multilingual", cfg.CartesiaModelID)
	}
	if cfg.PipelineMode != "split" {
		t.Errorf("PipelineMode = %q, want split", cfg.PipelineMode)
	}
	if cfg.CaptureSampleRate != 16000 {
		t.Errorf("CaptureSampleRate = %d, want 16000", cfg.CaptureSampleRate)
	}
	if cfg.PlaybackSampleRate != 24000 {
		t.Errorf("PlaybackSampleRate = %d, want 24000", cfg.PlaybackSampleRate)
	}
	if cfg.SilenceTimeoutMs != 1200 {
		t.Errorf("SilenceTimeoutMs = %d, want 1200", cfg.SilenceTimeoutMs)
	}
	if cfg.FromLanguage != "en" || cfg.ToLanguage != "ja" {
		t.Errorf("language defaults = %q->%q, want en->ja", cfg.FromLanguage, cfg.ToLanguage)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("PIPELINE_MODE", "native")
	t.Setenv("SILENCE_TIMEOUT_MS", "900")
	t.Setenv("FROM_LANGUAGE", "es")
	t.Setenv("TO_LANGUAGE", "fr")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.PipelineMode != "native" {
		t.Errorf("PipelineMode = %q, want native", cfg.PipelineMode)
	}
	if cfg.SilenceTimeoutMs != 900 {
		t.Errorf("SilenceTimeoutMs = %d, want 900", cfg.SilenceTimeoutMs)
	}
	if cfg.FromLanguage != "es" || cfg.ToLanguage != "fr" {
		t.Errorf("languages = %q->%q, want es->fr", cfg.FromLanguage, cfg.ToLanguage)
	}
}

func TestLoadFromEnvMissingRequired(t *testing.T) {
	os.Unsetenv("DEEPGRAM_API_KEY")
	t.Setenv("CARTESIA_API_KEY", "cart-test-key")
	t.Setenv("GOOGLE_API_KEY", "goog-test-key")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("expected error for missing DEEPGRAM_API_KEY, got nil")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			DeepgramAPIKey:   "dg",
			CartesiaAPIKey:   "cart",
			GoogleAPIKey:     "goog",
			PipelineMode:     "split",
			SilenceTimeoutMs: 1200,
			FrameSamples:     4096,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "placeholder deepgram key",
			mutate:  func(c *Config) { c.DeepgramAPIKey = "YOUR_DEEPGRAM_API_KEY" },
			wantErr: "DEEPGRAM_API_KEY",
		},
		{
			name:    "placeholder google key",
			mutate:  func(c *Config) { c.GoogleAPIKey = "REPLACE_ME" },
			wantErr: "GOOGLE_API_KEY",
		},
		{
			name:    "empty cartesia key",
			mutate:  func(c *Config) { c.CartesiaAPIKey = "" },
			wantErr: "CARTESIA_API_KEY",
		},
		{
			name:    "bad pipeline mode",
			mutate:  func(c *Config) { c.PipelineMode = "hybrid" },
			wantErr: "PIPELINE_MODE",
		},
		{
			name:    "silence timeout too small",
			mutate:  func(c *Config) { c.SilenceTimeoutMs = 10 },
			wantErr: "SILENCE_TIMEOUT_MS",
		},
		{
			name:    "zero frame samples",
			mutate:  func(c *Config) { c.FrameSamples = 0 },
			wantErr: "FRAME_SAMPLES",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSessionAssembly(t *testing.T) {
	cfg := &Config{
		DeepgramAPIKey:      "dg",
		CartesiaAPIKey:      "cart",
		GoogleAPIKey:        "goog",
		FromLanguage:        "en",
		ToLanguage:          "ja",
		CartesiaVoiceID:     "voice-1",
		SilenceTimeoutMs:    1200,
		ReconnectCooldownMs: 500,
		VolumeIntervalMs:    50,
	}

	s := cfg.Session("", "")
	if s.FromLanguage != "en" || s.ToLanguage != "ja" {
		t.Errorf("default pair = %q->%q, want en->ja", s.FromLanguage, s.ToLanguage)
	}
	if s.SilenceTimeout != 1200*time.Millisecond {
		t.Errorf("SilenceTimeout = %v, want 1.2s", s.SilenceTimeout)
	}
	if s.ReconnectCooldown != 500*time.Millisecond {
		t.Errorf("ReconnectCooldown = %v, want 500ms", s.ReconnectCooldown)
	}

	s = cfg.Session("ja", "es")
	if s.FromLanguage != "ja" || s.ToLanguage != "es" {
		t.Errorf("override pair = %q->%q, want ja->es", s.FromLanguage, s.ToLanguage)
	}
	if s.VoiceID != "voice-1" {
		t.Errorf("VoiceID = %q, want voice-1", s.VoiceID)
	}
}
