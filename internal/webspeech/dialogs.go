package webspeech

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pathvoice/internal/domain"
	"pathvoice/internal/ports"
)

const (
	dialogAppointment = "appointment"
	dialogHelp        = "help"
)

type dialogOpen struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

type dialogClosed struct {
	ID     string                    `json:"id"`
	Kind   string                    `json:"kind"`
	Result *domain.AppointmentResult `json:"result"`
}

// Dialogs opens modal dialogs in the frontend. Each request carries a
// fresh ID so a late close of an earlier dialog is never mistaken for the
// current one.
type Dialogs struct {
	bus    Bus
	logger *zap.Logger
}

func NewDialogs(bus Bus, logger *zap.Logger) *Dialogs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialogs{bus: bus, logger: logger.With(zap.String("component", "webspeech_dialogs"))}
}

func (d *Dialogs) OpenAppointmentCreator(_ context.Context, onClose func(domain.AppointmentResult)) (ports.Subscription, error) {
	return d.open(dialogAppointment, func(msg dialogClosed) {
		result := domain.AppointmentResult{Outcome: domain.AppointmentCancelled}
		if msg.Result != nil {
			result = *msg.Result
		}
		onClose(result)
	}), nil
}

func (d *Dialogs) OpenHelp(_ context.Context, onClose func()) (ports.Subscription, error) {
	return d.open(dialogHelp, func(dialogClosed) { onClose() }), nil
}

func (d *Dialogs) open(kind string, onClose func(dialogClosed)) ports.Subscription {
	id := uuid.NewString()
	var once sync.Once
	cancel := d.bus.On(EventDialogClosed, func(payload any) {
		var msg dialogClosed
		if err := Decode(payload, &msg); err != nil {
			d.logger.Warn("dropping malformed dialog event", zap.Error(err))
			return
		}
		if msg.ID != id {
			return
		}
		once.Do(func() { onClose(msg) })
	})

	d.logger.Debug("opening dialog", zap.String("kind", kind), zap.String("id", id))
	d.bus.Emit(EventDialogOpen, dialogOpen{ID: id, Kind: kind})
	return ports.NewSubscription(cancel)
}
