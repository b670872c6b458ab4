package domain

import "time"

// SessionState models the voice command session lifecycle.
type SessionState string

const (
	SessionStateIdle         SessionState = "idle"
	SessionStateInitializing SessionState = "initializing"
	SessionStateListening    SessionState = "listening"
	SessionStateProcessing   SessionState = "processing"
	SessionStateSpeaking     SessionState = "speaking"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonActivated              SessionStateReason = "activated"
	SessionReasonDeactivated            SessionStateReason = "deactivated"
	SessionReasonRecognitionStarted     SessionStateReason = "recognition_started"
	SessionReasonRecognitionEnded       SessionStateReason = "recognition_ended"
	SessionReasonRecognitionFault       SessionStateReason = "recognition_fault"
	SessionReasonRecognitionUnavailable SessionStateReason = "recognition_unavailable"
	SessionReasonRecognitionStartFailed SessionStateReason = "recognition_start_failed"
	SessionReasonResultReceived         SessionStateReason = "result_received"
	SessionReasonCommandDispatched      SessionStateReason = "command_dispatched"
	SessionReasonDialogOpened           SessionStateReason = "dialog_opened"
	SessionReasonDialogClosed           SessionStateReason = "dialog_closed"
	SessionReasonSpeakingFeedback       SessionStateReason = "speaking_feedback"
	SessionReasonFeedbackSpoken         SessionStateReason = "feedback_spoken"
	SessionReasonRestartRequested       SessionStateReason = "restart_requested"
	SessionReasonSessionEnded           SessionStateReason = "session_ended"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup                ErrorCode = "startup"
	ErrorCodeRecognitionUnavailable ErrorCode = "recognition_unavailable"
	ErrorCodeRecognitionFault       ErrorCode = "recognition_fault"
	ErrorCodeRecognitionStart       ErrorCode = "recognition_start"
	ErrorCodeSynthesis              ErrorCode = "synthesis"
	ErrorCodeDialog                 ErrorCode = "dialog"
	ErrorCodeAudioStop              ErrorCode = "audio_stop"
	ErrorCodeAudioStream            ErrorCode = "audio_stream"
	ErrorCodeTranscription          ErrorCode = "transcription"
)

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental transcription output from a streaming provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}

// VoiceDescriptor identifies a synthesis voice as reported by the platform.
type VoiceDescriptor struct {
	URI     string `json:"voiceURI" yaml:"uri"`
	Name    string `json:"name" yaml:"name"`
	Locale  string `json:"lang" yaml:"locale"`
	Default bool   `json:"default,omitempty" yaml:"default"`
}

// PathwayEvent is an appointment on the patient's pathway timeline.
type PathwayEvent struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Kind  string    `json:"kind,omitempty"`
	Start time.Time `json:"start"`
	Notes string    `json:"notes,omitempty"`
}

// Notice is a short transient message shown to the user.
type Notice struct {
	Text     string        `json:"text"`
	Action   string        `json:"action"`
	Duration time.Duration `json:"-"`
	Position string        `json:"position"`
}

// Status summarizes the current runtime status.
type Status struct {
	State         SessionState      `json:"state"`
	Active        bool              `json:"active"`
	Listening     bool              `json:"listening"`
	Speaking      bool              `json:"speaking"`
	Generation    uint64            `json:"generation"`
	Voices        []VoiceDescriptor `json:"voices"`
	SelectedVoice *VoiceDescriptor  `json:"selectedVoice,omitempty"`
	Message       string            `json:"message,omitempty"`
}
