package usecase

import (
	"go.uber.org/zap"

	"pathvoice/internal/domain"
)

// updateVoices replaces the available voices with the entries of the
// configured locale. The selected voice is sticky.
func (o *Orchestrator) updateVoices(all []domain.VoiceDescriptor) {
	filtered := make([]domain.VoiceDescriptor, 0, len(all))
	for _, voice := range all {
		if voice.Locale == o.cfg.Locale {
			filtered = append(filtered, voice)
		}
	}
	o.voices = filtered
	o.logger.Debug("voice list updated", zap.Int("total", len(all)), zap.Int("available", len(filtered)))
	o.publish()
}

func (o *Orchestrator) selectVoice(uri string) {
	for _, voice := range o.voices {
		if voice.URI != uri {
			continue
		}
		if err := o.synthesis.SetVoice(voice); err != nil {
			o.logger.Warn("failed to set voice", zap.String("uri", uri), zap.Error(err))
			o.events.SessionError(domain.ErrorCodeSynthesis, err.Error())
			return
		}
		selected := voice
		o.selected = &selected
		o.publish()
		return
	}
	o.logger.Debug("ignoring unknown voice", zap.String("uri", uri))
}
