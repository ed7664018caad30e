package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-yaml"
)

func TestDefaultRoundTrip(t *testing.T) {
	def := Default()
	data, err := def.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	var back Config
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Server.Listen != def.Server.Listen {
		t.Errorf("listen = %q, want %q", back.Server.Listen, def.Server.Listen)
	}
	if back.Realtime.ReconnectAttempts != def.Realtime.ReconnectAttempts {
		t.Errorf("reconnect_attempts = %d", back.Realtime.ReconnectAttempts)
	}
	if back.Archive.Backend != "local" {
		t.Errorf("archive backend = %q", back.Archive.Backend)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  listen: ":9000"
turns:
  echo_guard_ms: 500
  min_transcript_chars: 10
  trivial_max_chars: 5
  interim_min_chars: 8
  rescue_min_words: 6
tts:
  voice_id: voice-main
  fallback_voice_id: voice-backup
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Listen != ":9000" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	// Unset sections keep their defaults.
	if cfg.Realtime.ReconnectAttempts != 3 {
		t.Errorf("reconnect_attempts = %d", cfg.Realtime.ReconnectAttempts)
	}
	if cfg.TTS.FallbackVoiceID != "voice-backup" {
		t.Errorf("fallback voice = %q", cfg.TTS.FallbackVoiceID)
	}

	th := cfg.Thresholds()
	if th.EchoGuard != 500*time.Millisecond {
		t.Errorf("echo guard = %v", th.EchoGuard)
	}
	if th.MinTranscriptChars != 10 {
		t.Errorf("min chars = %d", th.MinTranscriptChars)
	}
	if th.TrivialMaxChars != 5 || th.InterimMinChars != 8 || th.RescueMinWords != 6 {
		t.Errorf("count thresholds = %d/%d/%d", th.TrivialMaxChars, th.InterimMinChars, th.RescueMinWords)
	}
	// Untouched thresholds stay at their defaults.
	if th.EndDebounce != 250*time.Millisecond {
		t.Errorf("end debounce = %v", th.EndDebounce)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("ELEVENLABS_API_KEY", "el-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Realtime.APIKey != "sk-env" {
		t.Errorf("realtime key = %q", cfg.Realtime.APIKey)
	}
	if cfg.Finalize.OpenAIAPIKey != "sk-env" {
		t.Errorf("finalize key = %q", cfg.Finalize.OpenAIAPIKey)
	}
	if cfg.TTS.APIKey != "el-env" {
		t.Errorf("tts key = %q", cfg.TTS.APIKey)
	}
}
