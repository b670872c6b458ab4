package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"pathvoice/internal/audio"
	"pathvoice/internal/config"
	"pathvoice/internal/grammar"
	"pathvoice/internal/logging"
	"pathvoice/internal/metrics"
	"pathvoice/internal/ports"
	"pathvoice/internal/providers/deepgram"
	"pathvoice/internal/usecase"
	"pathvoice/internal/webspeech"
)

// Runtime holds the process-wide services shared by every voice session.
type Runtime struct {
	Config   config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Collector
	Registry *prometheus.Registry

	classifier *grammar.Classifier
}

// Session is one voice session bound to a frontend bus. Activate shadows
// the orchestrator's to feed browser availability first.
type Session struct {
	*usecase.Orchestrator

	// browser is nil when recognition runs server-side.
	browser *webspeech.Recognizer
}

// Services is the assembled runtime graph for a single frontend.
type Services struct {
	Runtime *Runtime
	Session Session
}

// Build loads configuration and wires one session onto bus.
func Build(bus webspeech.Bus) (Services, error) {
	rt, err := Load()
	if err != nil {
		return Services{}, err
	}
	return Services{Runtime: rt, Session: rt.NewSession(bus)}, nil
}

// Load resolves configuration and builds the shared runtime.
func Load() (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	return NewRuntime(cfg, logger)
}

func NewRuntime(cfg config.Config, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	subs, err := grammar.LoadSubstitutions(cfg.Grammar.SubstitutionsPath, cfg.Grammar.IterationLimit)
	if err != nil {
		return nil, fmt.Errorf("load grammar substitutions: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	logger.Info("runtime configured",
		zap.String("engine", cfg.Recognition.Engine),
		zap.String("locale", cfg.Session.Locale),
		zap.Int("substitutions", subs.Len()),
		zap.String("config_file", cfg.File),
	)
	return &Runtime{
		Config:     cfg,
		Logger:     logger,
		Metrics:    metrics.NewCollector(registry, "pathvoice", logger),
		Registry:   registry,
		classifier: grammar.NewClassifier(nil, subs),
	}, nil
}

// NewSession builds an orchestrator whose collaborators talk over bus.
// The caller runs it with Orchestrator.Run.
func (r *Runtime) NewSession(bus webspeech.Bus) Session {
	recognition, browser := r.recognition(bus)
	pathway := webspeech.NewPathway(bus, r.Logger)

	orchestrator := usecase.NewOrchestrator(
		usecase.Collaborators{
			Recognition: recognition,
			Synthesis:   webspeech.NewSynthesizer(bus, r.Config.Session.Locale, r.Logger),
			Dialogs:     webspeech.NewDialogs(bus, r.Logger),
			Notifier:    webspeech.NewNotifier(bus),
			Pathway:     pathway,
			Deletions:   pathway,
			Events:      webspeech.NewSink(bus),
			Classifier:  r.classifier,
		},
		usecase.Config{
			Locale:         r.Config.Session.Locale,
			NoticeDuration: r.Config.Session.NoticeDuration,
			NoticePosition: r.Config.Session.NoticePosition,
			Messages:       usecase.Messages(r.Config.Session.Messages),
		},
		usecase.WithLogger(r.Logger),
		usecase.WithRecorder(r.Metrics),
	)
	return Session{Orchestrator: orchestrator, browser: browser}
}

func (r *Runtime) recognition(bus webspeech.Bus) (ports.RecognitionChannel, *webspeech.Recognizer) {
	if r.Config.Recognition.Engine != config.EngineDeepgram {
		browser := webspeech.NewRecognizer(bus, r.Logger)
		return browser, browser
	}

	cfg := r.Config
	capture := audio.NewMicrophone(cfg.Audio.RecorderCommand, audio.WithLogger(r.Logger))
	provider := deepgram.NewProvider(deepgram.Config{
		APIKey:         cfg.Deepgram.APIKey,
		APIBaseURL:     cfg.Deepgram.APIBaseURL,
		Model:          cfg.Deepgram.Model,
		Language:       cfg.Deepgram.Language,
		SmartFormat:    cfg.Deepgram.SmartFormat,
		EndpointingMs:  cfg.Deepgram.EndpointingMs,
		UtteranceEndMs: cfg.Deepgram.UtteranceEndMs,
		Keywords:       cfg.Deepgram.Keywords,
	})
	return deepgram.NewRecognizer(capture, provider, deepgram.RecognizerConfig{
		Audio: ports.AudioConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
		Stream: ports.StreamingConfig{
			SampleRate:     cfg.Audio.SampleRate,
			Channels:       cfg.Audio.Channels,
			Encoding:       "linear16",
			InterimResults: true,
		},
		ChunkSize:    cfg.Recognition.ChunkSize,
		DrainTimeout: cfg.Recognition.DrainTimeout,
	}, r.Logger), nil
}

// Activate starts the session. browserRecognition is what the frontend
// reported about SpeechRecognition; it is ignored for server-side engines.
func (s Session) Activate(ctx context.Context, browserRecognition bool) {
	if s.browser != nil {
		s.browser.SetAvailable(browserRecognition)
	}
	s.Orchestrator.Activate(ctx)
}

// ServerSide reports whether recognition runs in this process.
func (s Session) ServerSide() bool {
	return s.browser == nil
}
