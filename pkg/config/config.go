// Package config loads the daemon configuration from YAML, with
// environment overrides for secrets so credentials can stay out of the
// config file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/parlancehq/parlance/pkg/turns"
)

// Config is the root daemon configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Carrier  CarrierConfig  `yaml:"carrier"`
	Realtime RealtimeConfig `yaml:"realtime"`
	TTS      TTSConfig      `yaml:"tts"`
	Turns    TurnsConfig    `yaml:"turns"`
	Finalize FinalizeConfig `yaml:"finalize"`
	Store    StoreConfig    `yaml:"store"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Listen is the address the websocket endpoint binds to.
	Listen string `yaml:"listen"`
}

// CarrierConfig holds what we consume from the telephony provider. The
// webhook that accepts calls verifies signatures with this token; the
// bridge only carries it.
type CarrierConfig struct {
	AuthToken string `yaml:"auth_token,omitempty"`
}

// RealtimeConfig configures the model duplex connection.
type RealtimeConfig struct {
	APIKey string `yaml:"api_key,omitempty"`
	Model  string `yaml:"model,omitempty"`
	URL    string `yaml:"url,omitempty"`

	// InstructionsFile points to the system prompt for the call agent.
	// Empty means the built-in default.
	InstructionsFile string `yaml:"instructions_file,omitempty"`

	// Greeting is the line spoken when a call connects.
	Greeting string `yaml:"greeting,omitempty"`

	// ReconnectAttempts bounds model-socket reconnection before the
	// call is hung up.
	ReconnectAttempts int `yaml:"reconnect_attempts,omitempty"`
}

// TTSConfig configures synthesis voices.
type TTSConfig struct {
	APIKey string `yaml:"api_key,omitempty"`
	Model  string `yaml:"model,omitempty"`

	// VoiceID is the primary streaming voice.
	VoiceID string `yaml:"voice_id,omitempty"`

	// FallbackVoiceID is used by the one-shot fallback path when the
	// streaming voice misses its deadline.
	FallbackVoiceID string `yaml:"fallback_voice_id,omitempty"`

	// FallbackAfterMs is how long to wait for the first streaming
	// chunk before switching to the fallback voice.
	FallbackAfterMs int `yaml:"fallback_after_ms,omitempty"`
}

// TurnsConfig exposes the turn-taking thresholds as milliseconds so
// they can be tuned per deployment without a rebuild.
type TurnsConfig struct {
	EchoGuardMs          int `yaml:"echo_guard_ms,omitempty"`
	BargeInCooldownMs    int `yaml:"barge_in_cooldown_ms,omitempty"`
	BargeInSustainMs     int `yaml:"barge_in_sustain_ms,omitempty"`
	PostSpeechDeadzoneMs int `yaml:"post_speech_deadzone_ms,omitempty"`
	NoInputIdleMs        int `yaml:"no_input_idle_ms,omitempty"`
	NoInputQuestionMs    int `yaml:"no_input_question_ms,omitempty"`
	EndDebounceMs        int `yaml:"end_debounce_ms,omitempty"`
	FinalizeWaitMs       int `yaml:"finalize_wait_ms,omitempty"`
	TranscriptWaitMs     int `yaml:"transcript_wait_ms,omitempty"`
	NoiseMaxMs           int `yaml:"noise_max_ms,omitempty"`
	SubstantialMs        int `yaml:"substantial_ms,omitempty"`
	MinSpeechAcceptMs    int `yaml:"min_speech_accept_ms,omitempty"`
	MinTranscriptChars   int `yaml:"min_transcript_chars,omitempty"`
	MinTranscriptWords   int `yaml:"min_transcript_words,omitempty"`
	TrivialMaxChars      int `yaml:"trivial_max_chars,omitempty"`
	InterimMinChars      int `yaml:"interim_min_chars,omitempty"`
	RescueMinWords       int `yaml:"rescue_min_words,omitempty"`
}

// FinalizeConfig configures the end-of-call pipeline.
type FinalizeConfig struct {
	OpenAIAPIKey       string `yaml:"openai_api_key,omitempty"`
	Model              string `yaml:"model,omitempty"`
	MinTranscriptChars int    `yaml:"min_transcript_chars,omitempty"`
	RetryAttempts      int    `yaml:"retry_attempts,omitempty"`
	RetryDelayMs       int    `yaml:"retry_delay_ms,omitempty"`
}

// StoreConfig configures the call-record store.
type StoreConfig struct {
	// Dir is the badger data directory. Empty selects an in-memory
	// store, which is only sensible for development.
	Dir string `yaml:"dir,omitempty"`
}

// ArchiveConfig configures the transcript archive.
type ArchiveConfig struct {
	// Backend is "local" or "s3".
	Backend string `yaml:"backend,omitempty"`

	// Dir is the local archive root (backend "local").
	Dir string `yaml:"dir,omitempty"`

	// Bucket and Prefix select the S3 location (backend "s3").
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
	Region string `yaml:"region,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Listen: ":8080"},
		Realtime: RealtimeConfig{
			Greeting:          "Thanks for calling. How can I help you today?",
			ReconnectAttempts: 3,
		},
		TTS: TTSConfig{
			FallbackAfterMs: 4000,
		},
		Finalize: FinalizeConfig{
			RetryAttempts: 3,
			RetryDelayMs:  2000,
		},
		Archive: ArchiveConfig{
			Backend: "local",
			Dir:     "data/archive",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides for secrets.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides secrets from the environment so they never need to
// be written to disk.
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if c.Realtime.APIKey == "" {
			c.Realtime.APIKey = v
		}
		if c.Finalize.OpenAIAPIKey == "" {
			c.Finalize.OpenAIAPIKey = v
		}
	}
	if v := os.Getenv("ELEVENLABS_API_KEY"); v != "" && c.TTS.APIKey == "" {
		c.TTS.APIKey = v
	}
	if v := os.Getenv("CARRIER_AUTH_TOKEN"); v != "" && c.Carrier.AuthToken == "" {
		c.Carrier.AuthToken = v
	}
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Thresholds converts the millisecond tunables into controller
// thresholds, falling back to the defaults for unset fields.
func (c *Config) Thresholds() turns.Thresholds {
	th := turns.DefaultThresholds()
	ms := func(dst *time.Duration, v int) {
		if v > 0 {
			*dst = time.Duration(v) * time.Millisecond
		}
	}
	ms(&th.EchoGuard, c.Turns.EchoGuardMs)
	ms(&th.BargeInCooldown, c.Turns.BargeInCooldownMs)
	ms(&th.BargeInSustain, c.Turns.BargeInSustainMs)
	ms(&th.PostSpeechDeadzone, c.Turns.PostSpeechDeadzoneMs)
	ms(&th.NoInputIdle, c.Turns.NoInputIdleMs)
	ms(&th.NoInputAfterQuestion, c.Turns.NoInputQuestionMs)
	ms(&th.EndDebounce, c.Turns.EndDebounceMs)
	ms(&th.FinalizeWait, c.Turns.FinalizeWaitMs)
	ms(&th.TranscriptWait, c.Turns.TranscriptWaitMs)
	ms(&th.NoiseMaxDuration, c.Turns.NoiseMaxMs)
	ms(&th.SubstantialDuration, c.Turns.SubstantialMs)
	ms(&th.MinSpeechForAccept, c.Turns.MinSpeechAcceptMs)
	if c.Turns.MinTranscriptChars > 0 {
		th.MinTranscriptChars = c.Turns.MinTranscriptChars
	}
	if c.Turns.MinTranscriptWords > 0 {
		th.MinTranscriptWords = c.Turns.MinTranscriptWords
	}
	if c.Turns.TrivialMaxChars > 0 {
		th.TrivialMaxChars = c.Turns.TrivialMaxChars
	}
	if c.Turns.InterimMinChars > 0 {
		th.InterimMinChars = c.Turns.InterimMinChars
	}
	if c.Turns.RescueMinWords > 0 {
		th.RescueMinWords = c.Turns.RescueMinWords
	}
	return th
}
