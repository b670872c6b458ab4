package webspeech

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"pathvoice/internal/domain"
	"pathvoice/internal/ports"
)

var errEmptyUtterance = errors.New("nothing to speak")

type speakRequest struct {
	Text     string `json:"text"`
	VoiceURI string `json:"voiceURI,omitempty"`
	Lang     string `json:"lang"`
}

type voiceRequest struct {
	VoiceURI string `json:"voiceURI"`
}

type synthesisMessage struct {
	Type   string                   `json:"type"`
	Voices []domain.VoiceDescriptor `json:"voices"`
}

// Synthesizer speaks through speechSynthesis in the frontend.
type Synthesizer struct {
	bus    Bus
	locale string
	logger *zap.Logger

	mu       sync.Mutex
	voiceURI string
}

func NewSynthesizer(bus Bus, locale string, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		bus:    bus,
		locale: locale,
		logger: logger.With(zap.String("component", "webspeech_synthesis")),
	}
}

func (s *Synthesizer) Speak(_ context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errEmptyUtterance
	}
	s.mu.Lock()
	voice := s.voiceURI
	s.mu.Unlock()

	s.bus.Emit(EventSpeak, speakRequest{Text: text, VoiceURI: voice, Lang: s.locale})
	return nil
}

func (s *Synthesizer) SetVoice(voice domain.VoiceDescriptor) error {
	if voice.URI == "" {
		return errors.New("voice has no URI")
	}
	s.mu.Lock()
	s.voiceURI = voice.URI
	s.mu.Unlock()

	s.bus.Emit(EventVoice, voiceRequest{VoiceURI: voice.URI})
	return nil
}

func (s *Synthesizer) Subscribe(fn func(domain.SynthesisEvent)) ports.Subscription {
	cancel := s.bus.On(EventSynthesis, func(payload any) {
		var msg synthesisMessage
		if err := Decode(payload, &msg); err != nil {
			s.logger.Warn("dropping malformed synthesis event", zap.Error(err))
			return
		}
		switch kind := domain.SynthesisEventKind(msg.Type); kind {
		case domain.SynthesisStart, domain.SynthesisEnd:
			fn(domain.SynthesisEvent{Kind: kind})
		case domain.SynthesisVoices:
			fn(domain.SynthesisEvent{Kind: kind, Voices: msg.Voices})
		default:
			s.logger.Debug("ignoring synthesis event", zap.String("type", msg.Type))
		}
	})
	return ports.NewSubscription(cancel)
}
