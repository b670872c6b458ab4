package domain

// CommandKind enumerates the spoken commands the grammar understands.
type CommandKind string

const (
	CommandCreateAppointment CommandKind = "create_appointment"
	CommandEndSession        CommandKind = "end_session"
	CommandHelp              CommandKind = "help"
	CommandDelete            CommandKind = "delete"
	CommandShow              CommandKind = "show"
	CommandUnrecognized      CommandKind = "unrecognized"
)

// Command is the classified intent of one transcript. Target is only set
// for CommandDelete and CommandShow.
type Command struct {
	Kind   CommandKind `json:"kind"`
	Target string      `json:"target,omitempty"`
}

func Unrecognized() Command {
	return Command{Kind: CommandUnrecognized}
}

// AppointmentOutcome tags the result of the appointment creation dialog.
type AppointmentOutcome string

const (
	AppointmentCreated   AppointmentOutcome = "created"
	AppointmentFailed    AppointmentOutcome = "failed"
	AppointmentCancelled AppointmentOutcome = "cancelled"
)

// AppointmentResult is returned when the appointment creation dialog closes.
// Event is set for AppointmentCreated, Message for AppointmentFailed.
type AppointmentResult struct {
	Outcome AppointmentOutcome `json:"outcome"`
	Event   *PathwayEvent      `json:"event,omitempty"`
	Message string             `json:"message,omitempty"`
}

// RecognitionEventKind enumerates recognition channel lifecycle events.
type RecognitionEventKind string

const (
	RecognitionStarted RecognitionEventKind = "started"
	RecognitionEnded   RecognitionEventKind = "ended"
	RecognitionError   RecognitionEventKind = "error"
	RecognitionResult  RecognitionEventKind = "result"
)

// RecognitionFault describes a runtime recognition error, e.g. "no-speech"
// or "audio-capture" from a browser engine.
type RecognitionFault struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// RecognitionEvent is emitted by a recognition channel.
type RecognitionEvent struct {
	Kind       RecognitionEventKind `json:"type"`
	Transcript string               `json:"transcript,omitempty"`
	Fault      RecognitionFault     `json:"fault,omitempty"`
}

// SynthesisEventKind enumerates synthesis channel events.
type SynthesisEventKind string

const (
	SynthesisStart  SynthesisEventKind = "start"
	SynthesisEnd    SynthesisEventKind = "end"
	SynthesisVoices SynthesisEventKind = "voices"
)

// SynthesisEvent is emitted by a synthesis channel. Voices is only set for
// SynthesisVoices and carries the full, unfiltered platform list.
type SynthesisEvent struct {
	Kind   SynthesisEventKind `json:"type"`
	Voices []VoiceDescriptor  `json:"voices,omitempty"`
}
