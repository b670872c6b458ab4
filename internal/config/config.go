package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EngineBrowser  = "browser"
	EngineDeepgram = "deepgram"
)

var ErrUnsupportedEngine = errors.New("unsupported recognition engine")

// Config stores runtime configuration. Values resolve as defaults, then
// the YAML file, then environment variables.
type Config struct {
	Session     SessionConfig     `yaml:"session"`
	Grammar     GrammarConfig     `yaml:"grammar"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Deepgram    DeepgramConfig    `yaml:"deepgram"`
	Audio       AudioConfig       `yaml:"audio"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Log         LogConfig         `yaml:"log"`

	// File is the configuration file that was read, if any.
	File string `yaml:"-"`
}

type SessionConfig struct {
	Locale         string         `yaml:"locale"`
	NoticeDuration time.Duration  `yaml:"notice_duration"`
	NoticePosition string         `yaml:"notice_position"`
	Messages       MessagesConfig `yaml:"messages"`
}

// MessagesConfig overrides user-facing texts. Empty entries keep the
// built-in German defaults.
type MessagesConfig struct {
	AppointmentCreated string `yaml:"appointment_created"`
	Farewell           string `yaml:"farewell"`
	Unsupported        string `yaml:"unsupported"`
	Unavailable        string `yaml:"unavailable"`
	EventDeleted       string `yaml:"event_deleted"`
	EventNotFound      string `yaml:"event_not_found"`
	NoticeAction       string `yaml:"notice_action"`
}

type GrammarConfig struct {
	SubstitutionsPath string `yaml:"substitutions_path"`
	IterationLimit    int    `yaml:"iteration_limit"`
}

type RecognitionConfig struct {
	Engine       string        `yaml:"engine"`
	ChunkSize    int           `yaml:"chunk_size"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

type DeepgramConfig struct {
	APIKey         string   `yaml:"api_key"`
	APIBaseURL     string   `yaml:"api_base_url"`
	Model          string   `yaml:"model"`
	Language       string   `yaml:"language"`
	SmartFormat    bool     `yaml:"smart_format"`
	EndpointingMs  int      `yaml:"endpointing_ms"`
	UtteranceEndMs int      `yaml:"utterance_end_ms"`
	Keywords       []string `yaml:"keywords"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"recorder_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
}

type BridgeConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Metrics        bool     `yaml:"metrics"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Session: SessionConfig{
			Locale:         "de-DE",
			NoticeDuration: 8 * time.Second,
			NoticePosition: "top-center",
		},
		Grammar: GrammarConfig{IterationLimit: 30},
		Recognition: RecognitionConfig{
			Engine:       EngineBrowser,
			ChunkSize:    4096,
			DrainTimeout: 4 * time.Second,
		},
		Deepgram: DeepgramConfig{
			APIBaseURL:     "https://api.deepgram.com/v1",
			Model:          "nova-2",
			Language:       "de",
			SmartFormat:    true,
			EndpointingMs:  300,
			UtteranceEndMs: 1000,
			Keywords:       []string{"termin:2", "lösche", "zeige", "hilfe"},
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
		},
		Bridge: BridgeConfig{
			ListenAddr: "127.0.0.1:8765",
			Metrics:    true,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load resolves configuration from defaults, the optional YAML file and
// environment variables.
func Load() (Config, error) {
	cfg := Default()

	home, _ := os.UserHomeDir()
	path, explicit := configFile(home)
	if path != "" {
		if err := readFile(path, explicit, &cfg); err != nil {
			return Config{}, err
		}
	}
	if cfg.Grammar.SubstitutionsPath == "" && home != "" {
		cfg.Grammar.SubstitutionsPath = firstExisting(
			filepath.Join(home, ".config", "pathvoice", "substitutions.rules"),
		)
	}

	applyEnv(&cfg)
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings no component can run with.
func (c Config) Validate() error {
	switch c.Recognition.Engine {
	case EngineBrowser, EngineDeepgram:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedEngine, c.Recognition.Engine)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unsupported log format %q", c.Log.Format)
	}
	return nil
}

func configFile(home string) (string, bool) {
	if path := strings.TrimSpace(os.Getenv("PATHVOICE_CONFIG")); path != "" {
		return path, true
	}
	if home == "" {
		return "", false
	}
	return filepath.Join(home, ".config", "pathvoice", "config.yaml"), false
}

func readFile(path string, required bool, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.File = path
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Session.Locale = envOrDefault("PATHVOICE_LOCALE", cfg.Session.Locale)
	cfg.Session.NoticeDuration = envOrDefaultDuration("PATHVOICE_NOTICE_DURATION", cfg.Session.NoticeDuration)
	cfg.Session.NoticePosition = envOrDefault("PATHVOICE_NOTICE_POSITION", cfg.Session.NoticePosition)

	cfg.Grammar.SubstitutionsPath = envOrDefault("PATHVOICE_SUBSTITUTIONS_FILE", cfg.Grammar.SubstitutionsPath)
	cfg.Grammar.IterationLimit = envOrDefaultInt("PATHVOICE_SUBSTITUTION_LIMIT", cfg.Grammar.IterationLimit)

	cfg.Recognition.Engine = strings.ToLower(envOrDefault("PATHVOICE_RECOGNITION_ENGINE", cfg.Recognition.Engine))
	cfg.Recognition.ChunkSize = envOrDefaultInt("PATHVOICE_AUDIO_CHUNK_SIZE", cfg.Recognition.ChunkSize)

	cfg.Deepgram.APIKey = envOrDefault("DEEPGRAM_API_KEY", cfg.Deepgram.APIKey)
	cfg.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", cfg.Deepgram.APIBaseURL)
	cfg.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", cfg.Deepgram.Model)
	cfg.Deepgram.Language = envOrDefault("DEEPGRAM_LANGUAGE", cfg.Deepgram.Language)
	cfg.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", cfg.Deepgram.SmartFormat)

	cfg.Audio.RecorderCommand = envOrDefault("PATHVOICE_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("PATHVOICE_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(os.Getenv("PATHVOICE_AUDIO_INPUT_DEVICE"), os.Getenv("DEEPGRAM_PULSE_SOURCE"), cfg.Audio.InputDevice)
	cfg.Audio.SampleRate = envOrDefaultInt("PATHVOICE_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("PATHVOICE_CHANNELS", cfg.Audio.Channels)

	cfg.Bridge.ListenAddr = envOrDefault("PATHVOICE_BRIDGE_ADDR", cfg.Bridge.ListenAddr)
	if origins := envList("PATHVOICE_BRIDGE_ORIGINS"); len(origins) > 0 {
		cfg.Bridge.AllowedOrigins = origins
	}
	cfg.Bridge.Metrics = envOrDefaultBool("PATHVOICE_BRIDGE_METRICS", cfg.Bridge.Metrics)

	cfg.Log.Level = strings.ToLower(envOrDefault("PATHVOICE_LOG_LEVEL", cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(envOrDefault("PATHVOICE_LOG_FORMAT", cfg.Log.Format))
}

func normalize(cfg *Config) {
	d := Default()
	if cfg.Session.Locale == "" {
		cfg.Session.Locale = d.Session.Locale
	}
	if cfg.Session.NoticeDuration <= 0 {
		cfg.Session.NoticeDuration = d.Session.NoticeDuration
	}
	if cfg.Grammar.IterationLimit <= 0 {
		cfg.Grammar.IterationLimit = d.Grammar.IterationLimit
	}
	if cfg.Recognition.ChunkSize < 256 {
		cfg.Recognition.ChunkSize = d.Recognition.ChunkSize
	}
	if cfg.Recognition.DrainTimeout <= 0 {
		cfg.Recognition.DrainTimeout = d.Recognition.DrainTimeout
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = d.Audio.SampleRate
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = d.Audio.Channels
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
}

// firstExisting returns the first path that exists, or the first path.
func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultDuration accepts Go durations ("8s") or plain milliseconds.
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed >= 0 {
		return parsed
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
