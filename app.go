package main

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"pathvoice/internal/bootstrap"
	"pathvoice/internal/domain"
	"pathvoice/internal/webspeech"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	bus     *wailsBus
	session bootstrap.Session
	rt      *bootstrap.Runtime
	bootErr error

	stopRun context.CancelFunc
	runDone chan struct{}
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	a.bus = newWailsBus(ctx, runtime.EventsOn, runtime.EventsEmit)

	services, err := bootstrap.Build(a.bus)
	if err != nil {
		a.bootErr = err
		webspeech.NewSink(a.bus).SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.rt = services.Runtime
	a.session = services.Session

	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	a.stopRun = stop
	a.runDone = make(chan struct{})
	go func() {
		defer close(a.runDone)
		a.session.Run(runCtx)
	}()
}

func (a *App) shutdown(context.Context) {
	if a.session.Orchestrator == nil {
		return
	}
	a.session.Deactivate()
	a.stopRun()
	<-a.runDone
	a.bus.close()
	_ = a.rt.Logger.Sync()
}

// Activate starts the voice session. recognitionAvailable reports whether
// the webview exposes SpeechRecognition.
func (a *App) Activate(recognitionAvailable bool) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.session.Activate(a.ctx, recognitionAvailable)
	return nil
}

// Deactivate stops listening and discards session state.
func (a *App) Deactivate() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.session.Deactivate()
	return nil
}

// Restart begins a fresh listening generation.
func (a *App) Restart() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.session.Restart()
}

// Stop ends listening without restarting.
func (a *App) Stop() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.session.Stop()
}

// SelectVoice chooses the synthesis voice by URI.
func (a *App) SelectVoice(uri string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.session.SelectVoice(uri)
}

// GetVoices returns the voices available for the session locale.
func (a *App) GetVoices() []domain.VoiceDescriptor {
	if a.session.Orchestrator == nil {
		return nil
	}
	return a.session.Voices()
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.session.Orchestrator == nil {
		status := domain.Status{State: domain.SessionStateIdle}
		if a.bootErr != nil {
			status.Message = a.bootErr.Error()
		}
		return status
	}
	return a.session.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.rt == nil {
		return map[string]string{}
	}

	cfg := a.rt.Config
	info := map[string]string{
		"engine":         cfg.Recognition.Engine,
		"locale":         cfg.Session.Locale,
		"substitutions":  cfg.Grammar.SubstitutionsPath,
		"noticePosition": cfg.Session.NoticePosition,
		"serverSide":     strconv.FormatBool(a.session.ServerSide()),
		"configFile":     cfg.File,
	}
	if a.session.ServerSide() {
		info["model"] = cfg.Deepgram.Model
		info["language"] = cfg.Deepgram.Language
		info["audioInput"] = cfg.Audio.InputDevice
	}
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.session.Orchestrator == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

type (
	eventsOnFunc   func(ctx context.Context, event string, callback func(optionalData ...interface{})) func()
	eventsEmitFunc func(ctx context.Context, event string, optionalData ...interface{})
)

// wailsBus implements webspeech.Bus on Wails runtime events. It registers
// one runtime listener per event name and fans out to its own listeners,
// so cancelling one subscription never touches another.
type wailsBus struct {
	webspeech.Listeners

	ctx  context.Context
	on   eventsOnFunc
	emit eventsEmitFunc

	mu     sync.Mutex
	hooked map[string]func()
}

func newWailsBus(ctx context.Context, on eventsOnFunc, emit eventsEmitFunc) *wailsBus {
	return &wailsBus{ctx: ctx, on: on, emit: emit, hooked: make(map[string]func())}
}

func (b *wailsBus) On(event string, fn func(payload any)) func() {
	b.hook(event)
	return b.Listeners.On(event, fn)
}

func (b *wailsBus) Emit(event string, payload any) {
	b.emit(b.ctx, event, payload)
}

func (b *wailsBus) hook(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.hooked[event]; ok {
		return
	}
	b.hooked[event] = b.on(b.ctx, event, func(data ...interface{}) {
		var payload any
		if len(data) > 0 {
			payload = data[0]
		}
		b.Dispatch(event, payload)
	})
}

func (b *wailsBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for event, off := range b.hooked {
		if off != nil {
			off()
		}
		delete(b.hooked, event)
	}
}
