package ports

import (
	"context"
	"io"
	"sync"

	"pathvoice/internal/domain"
)

// Subscription is a handle to an event registration.
type Subscription interface {
	Cancel()
}

type onceSubscription struct {
	once   sync.Once
	cancel func()
}

// NewSubscription wraps cancel so that it runs at most once.
func NewSubscription(cancel func()) Subscription {
	return &onceSubscription{cancel: cancel}
}

func (s *onceSubscription) Cancel() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// RecognitionChannel wraps a continuous speech recognition engine.
type RecognitionChannel interface {
	// Init reports whether recognition is available in this runtime.
	Init(ctx context.Context) bool
	Start(ctx context.Context) error
	// Stop must be safe to call when recognition is not running.
	Stop(ctx context.Context) error
	Subscribe(fn func(domain.RecognitionEvent)) Subscription
}

// SynthesisChannel wraps an utterance-speaking engine.
type SynthesisChannel interface {
	Speak(ctx context.Context, text string) error
	SetVoice(voice domain.VoiceDescriptor) error
	Subscribe(fn func(domain.SynthesisEvent)) Subscription
}

// DeletionResults reports the outcome of deletion requests from the pathway data service.
type DeletionResults interface {
	SubscribeDeletions(fn func(success bool)) Subscription
}

// PathwayEvents receives the notifications this layer emits upward.
type PathwayEvents interface {
	PathwayEventCreated(event domain.PathwayEvent)
	OpenEventRequested(name string)
	DeleteEventRequested(name string)
}

// DialogPresenter opens modal dialogs. onClose fires at most once; the
// returned subscription drops it.
type DialogPresenter interface {
	OpenAppointmentCreator(ctx context.Context, onClose func(domain.AppointmentResult)) (Subscription, error)
	OpenHelp(ctx context.Context, onClose func()) (Subscription, error)
}

// Notifier shows transient notices.
type Notifier interface {
	Notify(notice domain.Notice)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	SessionError(code domain.ErrorCode, detail string)
}

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Available() bool
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	Configured() bool
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}
