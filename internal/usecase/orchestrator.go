package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"pathvoice/internal/domain"
	"pathvoice/internal/ports"
)

var ErrNotActivated = errors.New("voice session is not activated")

// Classifier maps a transcript onto a command.
type Classifier interface {
	Classify(transcript string) domain.Command
}

// Recorder receives orchestration metrics.
type Recorder interface {
	StateChanged(state domain.SessionState)
	CommandClassified(kind domain.CommandKind)
	SessionRestarted(reason domain.SessionStateReason)
	RecognitionFault(code string)
	UtteranceSpoken()
}

type nopRecorder struct{}

func (nopRecorder) StateChanged(domain.SessionState)           {}
func (nopRecorder) CommandClassified(domain.CommandKind)       {}
func (nopRecorder) SessionRestarted(domain.SessionStateReason) {}
func (nopRecorder) RecognitionFault(string)                    {}
func (nopRecorder) UtteranceSpoken()                           {}

// Messages are the user-facing texts shown and spoken by the orchestrator.
type Messages struct {
	AppointmentCreated string `yaml:"appointment_created"`
	Farewell           string `yaml:"farewell"`
	Unsupported        string `yaml:"unsupported"`
	Unavailable        string `yaml:"unavailable"`
	EventDeleted       string `yaml:"event_deleted"`
	EventNotFound      string `yaml:"event_not_found"`
	NoticeAction       string `yaml:"notice_action"`
}

func DefaultMessages() Messages {
	return Messages{
		AppointmentCreated: "Der Termin wurde erfolgreich erstellt.",
		Farewell:           "Auf Wiedersehen!",
		Unsupported:        "Dieser Befehl wird nicht unterstützt.",
		Unavailable:        "Die Spracherkennung wird in dieser Umgebung nicht unterstützt.",
		EventDeleted:       "Der Termin wurde gelöscht.",
		EventNotFound:      "Der Termin wurde nicht gefunden.",
		NoticeAction:       "OK",
	}
}

func (m Messages) withDefaults() Messages {
	d := DefaultMessages()
	fill := func(value *string, fallback string) {
		if *value == "" {
			*value = fallback
		}
	}
	fill(&m.AppointmentCreated, d.AppointmentCreated)
	fill(&m.Farewell, d.Farewell)
	fill(&m.Unsupported, d.Unsupported)
	fill(&m.Unavailable, d.Unavailable)
	fill(&m.EventDeleted, d.EventDeleted)
	fill(&m.EventNotFound, d.EventNotFound)
	fill(&m.NoticeAction, d.NoticeAction)
	return m
}

// Config controls voice session behavior.
type Config struct {
	Locale         string
	NoticeDuration time.Duration
	NoticePosition string
	Messages       Messages
}

// Collaborators are the external systems the orchestrator drives.
type Collaborators struct {
	Recognition ports.RecognitionChannel
	Synthesis   ports.SynthesisChannel
	Dialogs     ports.DialogPresenter
	Notifier    ports.Notifier
	Pathway     ports.PathwayEvents
	Deletions   ports.DeletionResults
	Events      ports.EventSink
	Classifier  Classifier
}

type Option func(*Orchestrator)

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger.With(zap.String("component", "orchestrator"))
		}
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(o *Orchestrator) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

func WithRecoveryPolicy(policy RecoveryPolicy) Option {
	return func(o *Orchestrator) {
		if policy != nil {
			o.recover = policy
		}
	}
}

type speechWaiter struct {
	generation uint64
	fn         func()
}

// Orchestrator owns the voice command session. All state below box is
// confined to the goroutine draining the mailbox.
type Orchestrator struct {
	recognition ports.RecognitionChannel
	synthesis   ports.SynthesisChannel
	dialogs     ports.DialogPresenter
	notifier    ports.Notifier
	pathway     ports.PathwayEvents
	deletions   ports.DeletionResults
	events      ports.EventSink
	classifier  Classifier
	metrics     Recorder
	recover     RecoveryPolicy
	logger      *zap.Logger
	cfg         Config

	box *mailbox

	ctx                 context.Context
	active              bool
	epoch               uint64
	state               domain.SessionState
	listening           bool
	utterances          int
	dialogOpen          bool
	unavailableReported bool
	subs                registry
	lifetime            []ports.Subscription
	speechWaiters       []speechWaiter
	voices              []domain.VoiceDescriptor
	selected            *domain.VoiceDescriptor

	statusMu sync.RWMutex
	status   domain.Status
}

func NewOrchestrator(c Collaborators, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Locale == "" {
		cfg.Locale = "de-DE"
	}
	if cfg.NoticeDuration <= 0 {
		cfg.NoticeDuration = 8 * time.Second
	}
	if cfg.NoticePosition == "" {
		cfg.NoticePosition = "top-center"
	}
	cfg.Messages = cfg.Messages.withDefaults()

	o := &Orchestrator{
		recognition: c.Recognition,
		synthesis:   c.Synthesis,
		dialogs:     c.Dialogs,
		notifier:    c.Notifier,
		pathway:     c.Pathway,
		deletions:   c.Deletions,
		events:      c.Events,
		classifier:  c.Classifier,
		metrics:     nopRecorder{},
		recover:     AlwaysRestart,
		logger:      zap.NewNop(),
		cfg:         cfg,
		box:         newMailbox(),
		ctx:         context.Background(),
		state:       domain.SessionStateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.publish()
	return o
}

// Run drains the event loop until ctx is done. Work posted before that,
// such as a final Deactivate, still runs.
func (o *Orchestrator) Run(ctx context.Context) {
	o.box.run(ctx)
}

// Activate creates the session state and starts listening. ctx scopes all
// calls into the channels until Deactivate.
func (o *Orchestrator) Activate(ctx context.Context) {
	o.box.post(func() { o.activate(ctx) })
}

// Deactivate stops listening and discards the session state.
func (o *Orchestrator) Deactivate() {
	o.box.post(o.deactivate)
}

// Restart cancels all subscriptions, stops recognition and initializes a
// fresh listening generation.
func (o *Orchestrator) Restart() error {
	if !o.Status().Active {
		return ErrNotActivated
	}
	o.box.post(func() { o.restart(domain.SessionReasonRestartRequested) })
	return nil
}

// Stop ends listening without restarting.
func (o *Orchestrator) Stop() error {
	if !o.Status().Active {
		return ErrNotActivated
	}
	o.box.post(func() { o.stop(domain.SessionReasonSessionEnded) })
	return nil
}

// SelectVoice picks a voice from the available voices by exact URI.
// Unknown URIs are ignored.
func (o *Orchestrator) SelectVoice(uri string) error {
	if !o.Status().Active {
		return ErrNotActivated
	}
	o.box.post(func() { o.selectVoice(uri) })
	return nil
}

// Status returns the last published session snapshot.
func (o *Orchestrator) Status() domain.Status {
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()
	status := o.status
	status.Voices = append([]domain.VoiceDescriptor(nil), o.status.Voices...)
	if o.status.SelectedVoice != nil {
		selected := *o.status.SelectedVoice
		status.SelectedVoice = &selected
	}
	return status
}

// Voices returns the voices matching the session locale.
func (o *Orchestrator) Voices() []domain.VoiceDescriptor {
	return o.Status().Voices
}

func (o *Orchestrator) activate(ctx context.Context) {
	if o.active {
		o.logger.Debug("session already active")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	o.ctx = ctx
	o.active = true
	o.epoch++
	o.unavailableReported = false

	o.lifetime = append(o.lifetime, o.synthesis.Subscribe(scoped(o, o.handleSynthesis)))
	if o.deletions != nil {
		o.lifetime = append(o.lifetime, o.deletions.SubscribeDeletions(scoped(o, o.handleDeletion)))
	}
	o.logger.Info("voice session activated")
	o.initialize(domain.SessionReasonActivated)
}

func (o *Orchestrator) deactivate() {
	if !o.active {
		return
	}
	o.suspend()
	for _, sub := range o.lifetime {
		if sub != nil {
			sub.Cancel()
		}
	}
	o.lifetime = nil
	o.active = false
	o.epoch++
	o.utterances = 0
	o.voices = nil
	o.selected = nil
	o.logger.Info("voice session deactivated")
	o.setState(domain.SessionStateIdle, domain.SessionReasonDeactivated)
}

// initialize installs the recognition handler set for the current
// generation and starts the channel.
func (o *Orchestrator) initialize(reason domain.SessionStateReason) {
	if !o.active {
		return
	}
	if o.speaking() {
		o.logger.Debug("deferring recognition start until speech ends")
		o.afterSpeech(func() { o.initialize(reason) })
		return
	}
	if o.subs.len() > 0 {
		o.logger.Warn("cancelling leftover subscriptions before setup", zap.Int("count", o.subs.len()))
		o.cancelSubscriptions()
	}

	o.setState(domain.SessionStateInitializing, reason)
	if !o.recognition.Init(o.ctx) {
		o.reportUnavailable()
		o.setState(domain.SessionStateIdle, domain.SessionReasonRecognitionUnavailable)
		return
	}

	o.listening = false
	o.subs.add(o.recognition.Subscribe(tagged(o, o.handleRecognition)))
	if err := o.recognition.Start(o.ctx); err != nil {
		o.logger.Error("failed to start recognition", zap.Error(err))
		o.cancelSubscriptions()
		o.events.SessionError(domain.ErrorCodeRecognitionStart, err.Error())
		o.setState(domain.SessionStateIdle, domain.SessionReasonRecognitionStartFailed)
		return
	}
	o.setState(domain.SessionStateListening, reason)
}

func (o *Orchestrator) restart(reason domain.SessionStateReason) {
	if !o.active {
		return
	}
	o.logger.Debug("restarting speech recognition", zap.String("reason", string(reason)))
	o.metrics.SessionRestarted(reason)
	o.suspend()
	o.initialize(reason)
}

func (o *Orchestrator) stop(reason domain.SessionStateReason) {
	o.suspend()
	o.setState(domain.SessionStateIdle, reason)
}

// suspend tears down the current listening context.
func (o *Orchestrator) suspend() {
	o.cancelSubscriptions()
	o.stopRecognition()
}

func (o *Orchestrator) cancelSubscriptions() {
	o.subs.cancelAll()
	o.speechWaiters = nil
	o.dialogOpen = false
}

func (o *Orchestrator) stopRecognition() {
	o.listening = false
	if err := o.recognition.Stop(o.ctx); err != nil {
		o.logger.Debug("recognition stop reported an error", zap.Error(err))
	}
}

func (o *Orchestrator) handleRecognition(event domain.RecognitionEvent) {
	switch event.Kind {
	case domain.RecognitionStarted:
		o.listening = true
		o.setState(domain.SessionStateListening, domain.SessionReasonRecognitionStarted)
	case domain.RecognitionEnded:
		wasListening := o.listening
		o.listening = false
		if wasListening && o.state == domain.SessionStateListening {
			o.logger.Info("recognition ended unexpectedly")
			o.restart(domain.SessionReasonRecognitionEnded)
		}
	case domain.RecognitionError:
		o.handleFault(event.Fault)
	case domain.RecognitionResult:
		o.handleResult(event.Transcript)
	default:
		o.logger.Warn("unknown recognition event", zap.String("kind", string(event.Kind)))
	}
}

func (o *Orchestrator) handleFault(fault domain.RecognitionFault) {
	o.metrics.RecognitionFault(fault.Code)
	o.logger.Warn("recognition fault", zap.String("code", fault.Code), zap.String("message", fault.Message))

	detail := fault.Code
	if fault.Message != "" {
		detail += ": " + fault.Message
	}
	o.events.SessionError(domain.ErrorCodeRecognitionFault, detail)

	switch o.recover(fault) {
	case RecoveryStop:
		o.stop(domain.SessionReasonRecognitionFault)
	default:
		o.restart(domain.SessionReasonRecognitionFault)
	}
}

func (o *Orchestrator) handleResult(transcript string) {
	if o.state != domain.SessionStateListening {
		o.logger.Debug("ignoring result outside listening state", zap.String("state", string(o.state)))
		return
	}
	o.stopRecognition()
	o.setState(domain.SessionStateProcessing, domain.SessionReasonResultReceived)

	command := o.classifier.Classify(transcript)
	o.metrics.CommandClassified(command.Kind)
	o.logger.Info("command classified",
		zap.String("transcript", transcript),
		zap.String("kind", string(command.Kind)),
		zap.String("target", command.Target),
	)
	o.dispatch(command)
}

func (o *Orchestrator) handleSynthesis(event domain.SynthesisEvent) {
	switch event.Kind {
	case domain.SynthesisStart:
		o.publish()
	case domain.SynthesisEnd:
		if o.utterances > 0 {
			o.utterances--
		}
		if o.utterances > 0 {
			return
		}
		waiters := o.speechWaiters
		o.speechWaiters = nil
		o.publish()
		for _, waiter := range waiters {
			if o.subs.current(waiter.generation) {
				waiter.fn()
			}
		}
	case domain.SynthesisVoices:
		o.updateVoices(event.Voices)
	}
}

// speak stops recognition before the utterance and runs then once every
// outstanding utterance has ended.
func (o *Orchestrator) speak(text string, then func()) {
	o.stopRecognition()
	o.setState(domain.SessionStateSpeaking, domain.SessionReasonSpeakingFeedback)
	if then != nil {
		o.afterSpeech(then)
	}

	o.utterances++
	if err := o.synthesis.Speak(o.ctx, text); err != nil {
		o.utterances--
		o.logger.Error("failed to speak feedback", zap.Error(err))
		o.events.SessionError(domain.ErrorCodeSynthesis, err.Error())
		if !o.speaking() {
			waiters := o.speechWaiters
			o.speechWaiters = nil
			for _, waiter := range waiters {
				if o.subs.current(waiter.generation) {
					waiter.fn()
				}
			}
		}
		return
	}
	o.metrics.UtteranceSpoken()
	o.publish()
}

func (o *Orchestrator) speakThenRestart(text string) {
	o.cancelSubscriptions()
	o.speak(text, func() { o.restart(domain.SessionReasonFeedbackSpoken) })
}

func (o *Orchestrator) afterSpeech(fn func()) {
	o.speechWaiters = append(o.speechWaiters, speechWaiter{generation: o.subs.generation, fn: fn})
}

func (o *Orchestrator) speaking() bool {
	return o.utterances > 0
}

func (o *Orchestrator) notify(text string) {
	if text == "" {
		return
	}
	o.notifier.Notify(domain.Notice{
		Text:     text,
		Action:   o.cfg.Messages.NoticeAction,
		Duration: o.cfg.NoticeDuration,
		Position: o.cfg.NoticePosition,
	})
}

func (o *Orchestrator) reportUnavailable() {
	if o.unavailableReported {
		return
	}
	o.unavailableReported = true
	o.logger.Warn("speech recognition is unavailable")
	o.notify(o.cfg.Messages.Unavailable)
	o.events.SessionError(domain.ErrorCodeRecognitionUnavailable, "speech recognition is not supported")
}

func (o *Orchestrator) setState(state domain.SessionState, reason domain.SessionStateReason) {
	o.state = state
	o.metrics.StateChanged(state)
	o.events.SessionStateChanged(state, reason)
	o.publish()
}

func (o *Orchestrator) publish() {
	status := domain.Status{
		State:      o.state,
		Active:     o.active,
		Listening:  o.listening,
		Speaking:   o.speaking(),
		Generation: o.subs.generation,
		Voices:     append([]domain.VoiceDescriptor(nil), o.voices...),
	}
	if o.selected != nil {
		selected := *o.selected
		status.SelectedVoice = &selected
	}

	o.statusMu.Lock()
	o.status = status
	o.statusMu.Unlock()
}

// tagged binds fn to the current generation. The returned callback may be
// invoked from any goroutine; it is a no-op once the generation advances.
func tagged[T any](o *Orchestrator, fn func(T)) func(T) {
	generation := o.subs.generation
	epoch := o.epoch
	return func(value T) {
		o.box.post(func() {
			if !o.active || o.epoch != epoch || !o.subs.current(generation) {
				o.logger.Debug("dropping stale callback", zap.Uint64("generation", generation))
				return
			}
			fn(value)
		})
	}
}

func taggedFunc(o *Orchestrator, fn func()) func() {
	call := tagged(o, func(struct{}) { fn() })
	return func() { call(struct{}{}) }
}

// scoped binds fn to the current activation rather than a generation.
func scoped[T any](o *Orchestrator, fn func(T)) func(T) {
	epoch := o.epoch
	return func(value T) {
		o.box.post(func() {
			if !o.active || o.epoch != epoch {
				return
			}
			fn(value)
		})
	}
}
