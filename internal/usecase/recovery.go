package usecase

import "pathvoice/internal/domain"

// RecoveryAction is what the orchestrator does after a recognition fault.
type RecoveryAction int

const (
	RecoveryRestart RecoveryAction = iota
	RecoveryStop
)

// RecoveryPolicy decides how to react to a recognition fault. It is the
// only place fault codes are interpreted.
type RecoveryPolicy func(fault domain.RecognitionFault) RecoveryAction

// AlwaysRestart restarts the session regardless of the fault.
// TODO: stop instead of looping on "not-allowed" and "audio-capture" once
// the UI can surface a permanent microphone problem.
func AlwaysRestart(domain.RecognitionFault) RecoveryAction {
	return RecoveryRestart
}
