package webspeech

import (
	"go.uber.org/zap"

	"pathvoice/internal/domain"
	"pathvoice/internal/ports"
)

type noticeMessage struct {
	Text       string `json:"text"`
	Action     string `json:"action"`
	DurationMs int64  `json:"durationMs"`
	Position   string `json:"position"`
}

type pathwayTarget struct {
	Name string `json:"name"`
}

type deletionMessage struct {
	Success bool `json:"success"`
}

// Notifier shows snackbar notices.
type Notifier struct {
	bus Bus
}

func NewNotifier(bus Bus) *Notifier {
	return &Notifier{bus: bus}
}

func (n *Notifier) Notify(notice domain.Notice) {
	n.bus.Emit(EventNotice, noticeMessage{
		Text:       notice.Text,
		Action:     notice.Action,
		DurationMs: notice.Duration.Milliseconds(),
		Position:   notice.Position,
	})
}

// Pathway forwards pathway intents to the host page and relays deletion
// outcomes back.
type Pathway struct {
	bus    Bus
	logger *zap.Logger
}

func NewPathway(bus Bus, logger *zap.Logger) *Pathway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pathway{bus: bus, logger: logger.With(zap.String("component", "webspeech_pathway"))}
}

func (p *Pathway) PathwayEventCreated(event domain.PathwayEvent) {
	p.bus.Emit(EventPathwayCreated, event)
}

func (p *Pathway) OpenEventRequested(name string) {
	p.bus.Emit(EventPathwayOpen, pathwayTarget{Name: name})
}

func (p *Pathway) DeleteEventRequested(name string) {
	p.bus.Emit(EventPathwayDelete, pathwayTarget{Name: name})
}

func (p *Pathway) SubscribeDeletions(fn func(success bool)) ports.Subscription {
	cancel := p.bus.On(EventPathwayDeleted, func(payload any) {
		var msg deletionMessage
		if err := Decode(payload, &msg); err != nil {
			p.logger.Warn("dropping malformed deletion result", zap.Error(err))
			return
		}
		fn(msg.Success)
	})
	return ports.NewSubscription(cancel)
}

type sessionMessage struct {
	State   string `json:"state"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type errorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// Sink publishes session lifecycle and errors for status displays.
type Sink struct {
	bus Bus
}

func NewSink(bus Bus) *Sink {
	return &Sink{bus: bus}
}

func (s *Sink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	s.bus.Emit(EventSession, sessionMessage{
		State:   string(state),
		Reason:  string(reason),
		Message: ReasonMessage(reason),
	})
}

func (s *Sink) SessionError(code domain.ErrorCode, detail string) {
	s.bus.Emit(EventError, errorMessage{
		Code:    string(code),
		Message: ErrorMessage(code, detail),
		Detail:  detail,
	})
}

// ReasonMessage returns a short status line for reason.
func ReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonActivated:
		return "Voice commands activated"
	case domain.SessionReasonDeactivated:
		return "Voice commands deactivated"
	case domain.SessionReasonRecognitionStarted:
		return "Listening"
	case domain.SessionReasonRecognitionEnded:
		return "Recognition ended; restarting"
	case domain.SessionReasonRecognitionFault:
		return "Recognition error; restarting"
	case domain.SessionReasonRecognitionUnavailable:
		return "Speech recognition unavailable"
	case domain.SessionReasonRecognitionStartFailed:
		return "Speech recognition failed to start"
	case domain.SessionReasonResultReceived:
		return "Processing command"
	case domain.SessionReasonDialogOpened:
		return "Dialog open"
	case domain.SessionReasonDialogClosed:
		return "Dialog closed"
	case domain.SessionReasonSpeakingFeedback:
		return "Speaking"
	case domain.SessionReasonSessionEnded:
		return "Session ended"
	default:
		return ""
	}
}

// ErrorMessage returns a short title for code, falling back to detail.
func ErrorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeRecognitionUnavailable:
		return "Speech recognition unavailable"
	case domain.ErrorCodeRecognitionFault:
		return "Speech recognition error"
	case domain.ErrorCodeRecognitionStart:
		return "Speech recognition failed to start"
	case domain.ErrorCodeSynthesis:
		return "Speech output failed"
	case domain.ErrorCodeDialog:
		return "Dialog failed"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
