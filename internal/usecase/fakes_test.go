package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"pathvoice/internal/domain"
	"pathvoice/internal/grammar"
	"pathvoice/internal/ports"
)

// trace records channel calls and flags overlaps between listening and
// speaking.
type trace struct {
	mu         sync.Mutex
	calls      []string
	violations []string
}

func (t *trace) record(call string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, call)
}

func (t *trace) violate(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.violations = append(t.violations, msg)
}

func (t *trace) snapshotViolations() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.violations...)
}

type handlerSet[T any] struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]func(T)
}

func (h *handlerSet[T]) add(fn func(T)) ports.Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handlers == nil {
		h.handlers = make(map[int]func(T))
	}
	id := h.nextID
	h.nextID++
	h.handlers[id] = fn
	return ports.NewSubscription(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.handlers, id)
	})
}

func (h *handlerSet[T]) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handlers)
}

func (h *handlerSet[T]) emit(value T) {
	h.mu.Lock()
	fns := make([]func(T), 0, len(h.handlers))
	for _, fn := range h.handlers {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(value)
	}
}

type fakeRecognition struct {
	mu         sync.Mutex
	available  bool
	startErr   error
	running    bool
	startCalls int
	stopCalls  int
	trace      *trace
	synth      *fakeSynthesis
	handlers   handlerSet[domain.RecognitionEvent]
}

func (f *fakeRecognition) Init(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeRecognition) Start(context.Context) error {
	f.mu.Lock()
	f.startCalls++
	if f.startErr != nil {
		f.mu.Unlock()
		return f.startErr
	}
	f.running = true
	f.mu.Unlock()

	f.trace.record("start")
	if f.synth != nil && f.synth.isSpeaking() {
		f.trace.violate("recognition started while speaking")
	}
	f.handlers.emit(domain.RecognitionEvent{Kind: domain.RecognitionStarted})
	return nil
}

func (f *fakeRecognition) Stop(context.Context) error {
	f.mu.Lock()
	f.stopCalls++
	wasRunning := f.running
	f.running = false
	f.mu.Unlock()

	f.trace.record("stop")
	if wasRunning {
		f.handlers.emit(domain.RecognitionEvent{Kind: domain.RecognitionEnded})
	}
	return nil
}

func (f *fakeRecognition) Subscribe(fn func(domain.RecognitionEvent)) ports.Subscription {
	return f.handlers.add(fn)
}

func (f *fakeRecognition) isRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeRecognition) starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls
}

func (f *fakeRecognition) result(transcript string) {
	f.handlers.emit(domain.RecognitionEvent{Kind: domain.RecognitionResult, Transcript: transcript})
}

type fakeSynthesis struct {
	mu       sync.Mutex
	speaking int
	spoken   []string
	voice    *domain.VoiceDescriptor
	speakErr error
	trace    *trace
	rec      *fakeRecognition
	handlers handlerSet[domain.SynthesisEvent]
}

func (f *fakeSynthesis) Speak(_ context.Context, text string) error {
	if f.speakErr != nil {
		return f.speakErr
	}
	f.trace.record("speak:" + text)
	if f.rec != nil && f.rec.isRunning() {
		f.trace.violate("spoke while listening: " + text)
	}

	f.mu.Lock()
	f.speaking++
	f.spoken = append(f.spoken, text)
	f.mu.Unlock()

	f.handlers.emit(domain.SynthesisEvent{Kind: domain.SynthesisStart})
	return nil
}

func (f *fakeSynthesis) SetVoice(voice domain.VoiceDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voice = &voice
	return nil
}

func (f *fakeSynthesis) Subscribe(fn func(domain.SynthesisEvent)) ports.Subscription {
	return f.handlers.add(fn)
}

// finish ends the oldest outstanding utterance.
func (f *fakeSynthesis) finish() {
	f.mu.Lock()
	if f.speaking > 0 {
		f.speaking--
	}
	f.mu.Unlock()
	f.trace.record("speech-end")
	f.handlers.emit(domain.SynthesisEvent{Kind: domain.SynthesisEnd})
}

func (f *fakeSynthesis) isSpeaking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speaking > 0
}

func (f *fakeSynthesis) snapshotSpoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

func (f *fakeSynthesis) publishVoices(voices ...domain.VoiceDescriptor) {
	f.handlers.emit(domain.SynthesisEvent{Kind: domain.SynthesisVoices, Voices: voices})
}

type fakeDialogs struct {
	mu              sync.Mutex
	openErr         error
	appointmentOpen int
	helpOpen        int
	onAppointment   func(domain.AppointmentResult)
	onHelp          func()
	cancelled       int
}

func (f *fakeDialogs) OpenAppointmentCreator(_ context.Context, onClose func(domain.AppointmentResult)) (ports.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.appointmentOpen++
	f.onAppointment = onClose
	return ports.NewSubscription(f.countCancel), nil
}

func (f *fakeDialogs) OpenHelp(_ context.Context, onClose func()) (ports.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.helpOpen++
	f.onHelp = onClose
	return ports.NewSubscription(f.countCancel), nil
}

func (f *fakeDialogs) countCancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}

// closeAppointment invokes the last close callback even if its
// subscription was cancelled, like a late UI event would.
func (f *fakeDialogs) closeAppointment(result domain.AppointmentResult) {
	f.mu.Lock()
	fn := f.onAppointment
	f.mu.Unlock()
	if fn != nil {
		fn(result)
	}
}

func (f *fakeDialogs) closeHelp() {
	f.mu.Lock()
	fn := f.onHelp
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (f *fakeNotifier) Notify(notice domain.Notice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, notice)
}

func (f *fakeNotifier) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.notices))
	for _, notice := range f.notices {
		out = append(out, notice.Text)
	}
	return out
}

type fakePathway struct {
	mu      sync.Mutex
	created []domain.PathwayEvent
	opened  []string
	deleted []string
}

func (f *fakePathway) PathwayEventCreated(event domain.PathwayEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, event)
}

func (f *fakePathway) OpenEventRequested(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, name)
}

func (f *fakePathway) DeleteEventRequested(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
}

type fakeDeletions struct {
	handlers handlerSet[bool]
}

func (f *fakeDeletions) SubscribeDeletions(fn func(bool)) ports.Subscription {
	return f.handlers.add(fn)
}

type fakeEventSink struct {
	mu     sync.Mutex
	states []stateEvent
	errors []errEvent
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

type fakeRecorder struct {
	mu       sync.Mutex
	restarts map[domain.SessionStateReason]int
	commands map[domain.CommandKind]int
	faults   []string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		restarts: make(map[domain.SessionStateReason]int),
		commands: make(map[domain.CommandKind]int),
	}
}

func (f *fakeRecorder) StateChanged(domain.SessionState) {}
func (f *fakeRecorder) UtteranceSpoken()                 {}

func (f *fakeRecorder) CommandClassified(kind domain.CommandKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands[kind]++
}

func (f *fakeRecorder) SessionRestarted(reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts[reason]++
}

func (f *fakeRecorder) RecognitionFault(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, code)
}

type harness struct {
	orch      *Orchestrator
	trace     *trace
	rec       *fakeRecognition
	synth     *fakeSynthesis
	dialogs   *fakeDialogs
	notifier  *fakeNotifier
	pathway   *fakePathway
	deletions *fakeDeletions
	events    *fakeEventSink
	recorder  *fakeRecorder
}

type harnessOption func(*harness, *[]Option)

func withUnavailableRecognition() harnessOption {
	return func(h *harness, _ *[]Option) { h.rec.available = false }
}

func withPolicy(policy RecoveryPolicy) harnessOption {
	return func(_ *harness, opts *[]Option) { *opts = append(*opts, WithRecoveryPolicy(policy)) }
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()

	tr := &trace{}
	h := &harness{
		trace:     tr,
		rec:       &fakeRecognition{available: true, trace: tr},
		synth:     &fakeSynthesis{trace: tr},
		dialogs:   &fakeDialogs{},
		notifier:  &fakeNotifier{},
		pathway:   &fakePathway{},
		deletions: &fakeDeletions{},
		events:    &fakeEventSink{},
		recorder:  newFakeRecorder(),
	}
	h.rec.synth = h.synth
	h.synth.rec = h.rec

	opts := []Option{WithRecorder(h.recorder)}
	for _, option := range options {
		option(h, &opts)
	}

	h.orch = NewOrchestrator(Collaborators{
		Recognition: h.rec,
		Synthesis:   h.synth,
		Dialogs:     h.dialogs,
		Notifier:    h.notifier,
		Pathway:     h.pathway,
		Deletions:   h.deletions,
		Events:      h.events,
		Classifier:  grammar.NewClassifier(nil, nil),
	}, Config{}, opts...)
	return h
}

// settle drains the mailbox on the test goroutine.
func (h *harness) settle() {
	h.orch.box.drain()
}

func (h *harness) activate() {
	h.orch.Activate(context.Background())
	h.settle()
}

var errBoom = errors.New("boom")
