package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points HOME at a temp dir and clears every variable Load reads.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"PATHVOICE_CONFIG", "PATHVOICE_LOCALE", "PATHVOICE_NOTICE_DURATION", "PATHVOICE_NOTICE_POSITION",
		"PATHVOICE_SUBSTITUTIONS_FILE", "PATHVOICE_SUBSTITUTION_LIMIT", "PATHVOICE_RECOGNITION_ENGINE",
		"PATHVOICE_AUDIO_CHUNK_SIZE", "DEEPGRAM_API_KEY", "DEEPGRAM_API_BASE", "DEEPGRAM_MODEL",
		"DEEPGRAM_LANGUAGE", "DEEPGRAM_SMART_FORMAT", "PATHVOICE_FFMPEG_COMMAND", "PATHVOICE_AUDIO_INPUT_FORMAT",
		"PATHVOICE_AUDIO_INPUT_DEVICE", "DEEPGRAM_PULSE_SOURCE", "PATHVOICE_SAMPLE_RATE", "PATHVOICE_CHANNELS",
		"PATHVOICE_BRIDGE_ADDR", "PATHVOICE_BRIDGE_ORIGINS", "PATHVOICE_BRIDGE_METRICS",
		"PATHVOICE_LOG_LEVEL", "PATHVOICE_LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
	return home
}

func writeFile(t *testing.T, path string, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Session.Locale != "de-DE" {
		t.Fatalf("unexpected locale: %q", cfg.Session.Locale)
	}
	if cfg.Session.NoticeDuration != 8*time.Second || cfg.Session.NoticePosition != "top-center" {
		t.Fatalf("unexpected notice defaults: %+v", cfg.Session)
	}
	if cfg.Recognition.Engine != EngineBrowser {
		t.Fatalf("unexpected engine: %q", cfg.Recognition.Engine)
	}
	if cfg.File != "" {
		t.Fatalf("no config file should be read, got %q", cfg.File)
	}
	wantRules := filepath.Join(home, ".config", "pathvoice", "substitutions.rules")
	if cfg.Grammar.SubstitutionsPath != wantRules {
		t.Fatalf("unexpected substitutions path: %q", cfg.Grammar.SubstitutionsPath)
	}
	if !cfg.Deepgram.SmartFormat || cfg.Deepgram.Language != "de" {
		t.Fatalf("unexpected deepgram defaults: %+v", cfg.Deepgram)
	}
}

func TestLoadReadsDefaultFile(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, ".config", "pathvoice", "config.yaml"), `
session:
  locale: de-AT
  notice_duration: 5s
  messages:
    farewell: "Servus!"
recognition:
  engine: deepgram
deepgram:
  smart_format: false
  keywords: [befund]
bridge:
  allowed_origins: ["https://pathway.example"]
log:
  level: debug
  format: json
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Session.Locale != "de-AT" || cfg.Session.NoticeDuration != 5*time.Second {
		t.Fatalf("unexpected session: %+v", cfg.Session)
	}
	if cfg.Session.Messages.Farewell != "Servus!" || cfg.Session.Messages.Unsupported != "" {
		t.Fatalf("unexpected messages: %+v", cfg.Session.Messages)
	}
	if cfg.Recognition.Engine != EngineDeepgram {
		t.Fatalf("unexpected engine: %q", cfg.Recognition.Engine)
	}
	if cfg.Deepgram.SmartFormat {
		t.Fatalf("expected smart_format false from file")
	}
	if len(cfg.Deepgram.Keywords) != 1 || cfg.Deepgram.Keywords[0] != "befund" {
		t.Fatalf("unexpected keywords: %v", cfg.Deepgram.Keywords)
	}
	if cfg.Deepgram.Model != "nova-2" {
		t.Fatalf("unset keys should keep defaults, got model %q", cfg.Deepgram.Model)
	}
	if len(cfg.Bridge.AllowedOrigins) != 1 || cfg.Log.Format != "json" || cfg.Log.Level != "debug" {
		t.Fatalf("unexpected bridge/log: %+v %+v", cfg.Bridge, cfg.Log)
	}
	if !strings.HasSuffix(cfg.File, "config.yaml") {
		t.Fatalf("expected file to be recorded, got %q", cfg.File)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "custom.yaml")
	writeFile(t, path, "deepgram:\n  model: nova-3\n  api_key: from-file\naudio:\n  input_device: file-mic\n")

	t.Setenv("PATHVOICE_CONFIG", path)
	t.Setenv("DEEPGRAM_API_KEY", "from-env")
	t.Setenv("DEEPGRAM_PULSE_SOURCE", "pulse-source")
	t.Setenv("PATHVOICE_NOTICE_DURATION", "2500")
	t.Setenv("PATHVOICE_BRIDGE_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("PATHVOICE_BRIDGE_METRICS", "off")
	t.Setenv("PATHVOICE_RECOGNITION_ENGINE", "Deepgram")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Deepgram.APIKey != "from-env" || cfg.Deepgram.Model != "nova-3" {
		t.Fatalf("unexpected deepgram: %+v", cfg.Deepgram)
	}
	if cfg.Audio.InputDevice != "pulse-source" {
		t.Fatalf("unexpected input device: %q", cfg.Audio.InputDevice)
	}
	if cfg.Session.NoticeDuration != 2500*time.Millisecond {
		t.Fatalf("unexpected notice duration: %v", cfg.Session.NoticeDuration)
	}
	if len(cfg.Bridge.AllowedOrigins) != 2 || cfg.Bridge.Metrics {
		t.Fatalf("unexpected bridge: %+v", cfg.Bridge)
	}
	if cfg.Recognition.Engine != EngineDeepgram {
		t.Fatalf("engine should be case-insensitive, got %q", cfg.Recognition.Engine)
	}
}

func TestLoadExplicitFileMustExist(t *testing.T) {
	home := isolate(t)
	t.Setenv("PATHVOICE_CONFIG", filepath.Join(home, "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing explicit config to fail")
	}
}

func TestLoadRejectsBadFileAndEngine(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "bad.yaml")
	writeFile(t, path, "session: [\n")
	t.Setenv("PATHVOICE_CONFIG", path)
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}

	t.Setenv("PATHVOICE_CONFIG", "")
	t.Setenv("PATHVOICE_RECOGNITION_ENGINE", "vosk")
	if _, err := Load(); !errors.Is(err, ErrUnsupportedEngine) {
		t.Fatalf("expected unsupported engine, got %v", err)
	}
}

func TestLoadInvalidNumericValuesFallback(t *testing.T) {
	isolate(t)
	t.Setenv("PATHVOICE_SAMPLE_RATE", "abc")
	t.Setenv("PATHVOICE_CHANNELS", "-1")
	t.Setenv("PATHVOICE_AUDIO_CHUNK_SIZE", "12")
	t.Setenv("PATHVOICE_SUBSTITUTION_LIMIT", "0")
	t.Setenv("PATHVOICE_NOTICE_DURATION", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Fatalf("unexpected audio fallback: %+v", cfg.Audio)
	}
	if cfg.Recognition.ChunkSize != 4096 {
		t.Fatalf("unexpected chunk fallback: %d", cfg.Recognition.ChunkSize)
	}
	if cfg.Grammar.IterationLimit != 30 {
		t.Fatalf("unexpected iteration fallback: %d", cfg.Grammar.IterationLimit)
	}
	if cfg.Session.NoticeDuration != 8*time.Second {
		t.Fatalf("unexpected notice fallback: %v", cfg.Session.NoticeDuration)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	t.Setenv("PATHVOICE_TEST_BOOL", "yes")
	if !envOrDefaultBool("PATHVOICE_TEST_BOOL", false) {
		t.Fatalf("expected yes to parse true")
	}
	t.Setenv("PATHVOICE_TEST_BOOL", "maybe")
	if envOrDefaultBool("PATHVOICE_TEST_BOOL", false) {
		t.Fatalf("expected fallback for unknown value")
	}
}
