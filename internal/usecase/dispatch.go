package usecase

import (
	"go.uber.org/zap"

	"pathvoice/internal/domain"
)

func (o *Orchestrator) dispatch(command domain.Command) {
	switch command.Kind {
	case domain.CommandCreateAppointment:
		o.openAppointmentCreator()
	case domain.CommandEndSession:
		o.notify(o.cfg.Messages.Farewell)
		o.stop(domain.SessionReasonSessionEnded)
	case domain.CommandHelp:
		o.openHelp()
	case domain.CommandDelete:
		o.pathway.DeleteEventRequested(command.Target)
		o.restart(domain.SessionReasonCommandDispatched)
	case domain.CommandShow:
		o.pathway.OpenEventRequested(command.Target)
		o.restart(domain.SessionReasonCommandDispatched)
	default:
		o.notify(o.cfg.Messages.Unsupported)
		o.restart(domain.SessionReasonCommandDispatched)
	}
}

func (o *Orchestrator) openAppointmentCreator() {
	o.suspend()
	o.setState(domain.SessionStateProcessing, domain.SessionReasonDialogOpened)

	sub, err := o.dialogs.OpenAppointmentCreator(o.ctx, tagged(o, o.appointmentClosed))
	if err != nil {
		o.dialogFailed(err)
		return
	}
	o.subs.add(sub)
	o.dialogOpen = true
}

func (o *Orchestrator) appointmentClosed(result domain.AppointmentResult) {
	o.dialogOpen = false

	switch {
	case result.Outcome == domain.AppointmentCreated && result.Event != nil:
		o.pathway.PathwayEventCreated(*result.Event)
		o.speakThenRestart(o.cfg.Messages.AppointmentCreated)
	case result.Outcome == domain.AppointmentFailed && result.Message != "":
		o.notify(result.Message)
		o.speakThenRestart(result.Message)
	default:
		if result.Outcome != domain.AppointmentCancelled {
			o.logger.Warn("appointment dialog closed with incomplete result", zap.String("outcome", string(result.Outcome)))
		}
		o.restart(domain.SessionReasonDialogClosed)
	}
}

func (o *Orchestrator) openHelp() {
	o.suspend()
	o.setState(domain.SessionStateProcessing, domain.SessionReasonDialogOpened)

	sub, err := o.dialogs.OpenHelp(o.ctx, taggedFunc(o, func() {
		o.dialogOpen = false
		o.restart(domain.SessionReasonDialogClosed)
	}))
	if err != nil {
		o.dialogFailed(err)
		return
	}
	o.subs.add(sub)
	o.dialogOpen = true
}

func (o *Orchestrator) dialogFailed(err error) {
	o.logger.Error("failed to open dialog", zap.Error(err))
	o.events.SessionError(domain.ErrorCodeDialog, err.Error())
	o.restart(domain.SessionReasonDialogClosed)
}

// handleDeletion speaks the outcome of a deletion request. Listening
// resumes after the utterance unless the session is idle or a dialog owns
// the screen.
func (o *Orchestrator) handleDeletion(success bool) {
	text := o.cfg.Messages.EventNotFound
	if success {
		text = o.cfg.Messages.EventDeleted
	}
	o.notify(text)

	switch {
	case o.dialogOpen:
		o.speak(text, func() {
			if o.dialogOpen {
				o.setState(domain.SessionStateProcessing, domain.SessionReasonFeedbackSpoken)
			}
		})
	case o.state == domain.SessionStateIdle:
		o.speak(text, func() {
			o.setState(domain.SessionStateIdle, domain.SessionReasonFeedbackSpoken)
		})
	default:
		o.speakThenRestart(text)
	}
}
