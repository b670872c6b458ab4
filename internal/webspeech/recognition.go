package webspeech

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"pathvoice/internal/domain"
	"pathvoice/internal/ports"
)

type recognitionControl struct {
	Action string `json:"action"`
}

// recognitionMessage mirrors SpeechRecognition callbacks: onstart, onend,
// onerror (error code plus message) and onresult (best transcript).
type recognitionMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// Recognizer drives the browser SpeechRecognition object. Availability is
// reported by the frontend when the session is activated.
//
// A browser object that is still shutting down rejects start, so a start
// requested after stop is held back until the browser reports end.
type Recognizer struct {
	bus       Bus
	logger    *zap.Logger
	available atomic.Bool

	mu           sync.Mutex
	running      bool
	stopping     bool
	pendingStart bool
}

func NewRecognizer(bus Bus, logger *zap.Logger) *Recognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recognizer{bus: bus, logger: logger.With(zap.String("component", "webspeech_recognition"))}
	bus.On(EventRecognition, r.track)
	return r
}

// SetAvailable records what the frontend reported on activation. It also
// forgets lifecycle state left over from a page that has since reloaded.
func (r *Recognizer) SetAvailable(available bool) {
	r.available.Store(available)

	r.mu.Lock()
	r.running, r.stopping, r.pendingStart = false, false, false
	r.mu.Unlock()
}

func (r *Recognizer) Init(context.Context) bool {
	return r.available.Load()
}

func (r *Recognizer) Start(context.Context) error {
	r.mu.Lock()
	held := r.stopping
	r.pendingStart = held
	r.mu.Unlock()

	if held {
		r.logger.Debug("holding start until recognition ends")
		return nil
	}
	r.bus.Emit(EventRecognitionControl, recognitionControl{Action: "start"})
	return nil
}

func (r *Recognizer) Stop(context.Context) error {
	r.mu.Lock()
	r.pendingStart = false
	if r.running {
		r.stopping = true
	}
	r.mu.Unlock()

	r.bus.Emit(EventRecognitionControl, recognitionControl{Action: "stop"})
	return nil
}

// track follows the browser lifecycle for every event, subscribed or not.
func (r *Recognizer) track(payload any) {
	var msg recognitionMessage
	if err := Decode(payload, &msg); err != nil {
		return
	}

	r.mu.Lock()
	release := false
	switch msg.Type {
	case "start":
		r.running = true
	case "end":
		release = r.pendingStart
		r.running = false
		r.stopping = false
		r.pendingStart = false
	}
	r.mu.Unlock()

	if release {
		r.bus.Emit(EventRecognitionControl, recognitionControl{Action: "start"})
	}
}

func (r *Recognizer) Subscribe(fn func(domain.RecognitionEvent)) ports.Subscription {
	cancel := r.bus.On(EventRecognition, func(payload any) {
		var msg recognitionMessage
		if err := Decode(payload, &msg); err != nil {
			r.logger.Warn("dropping malformed recognition event", zap.Error(err))
			return
		}
		event, ok := msg.event()
		if !ok {
			r.logger.Debug("ignoring recognition event", zap.String("type", msg.Type))
			return
		}
		fn(event)
	})
	return ports.NewSubscription(cancel)
}

func (m recognitionMessage) event() (domain.RecognitionEvent, bool) {
	switch m.Type {
	case "start":
		return domain.RecognitionEvent{Kind: domain.RecognitionStarted}, true
	case "end":
		return domain.RecognitionEvent{Kind: domain.RecognitionEnded}, true
	case "error":
		return domain.RecognitionEvent{
			Kind:  domain.RecognitionError,
			Fault: domain.RecognitionFault{Code: m.Error, Message: m.Message},
		}, true
	case "result":
		return domain.RecognitionEvent{Kind: domain.RecognitionResult, Transcript: m.Transcript}, true
	default:
		return domain.RecognitionEvent{}, false
	}
}
