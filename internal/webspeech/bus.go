// Package webspeech adapts the orchestrator ports onto an event bus whose
// other end is the Web Speech API running in a webview or browser tab.
package webspeech

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Event names exchanged with the frontend.
const (
	EventRecognitionControl = "pathvoice:recognition:control"
	EventRecognition        = "pathvoice:recognition:event"
	EventSpeak              = "pathvoice:synthesis:speak"
	EventVoice              = "pathvoice:synthesis:voice"
	EventSynthesis          = "pathvoice:synthesis:event"
	EventDialogOpen         = "pathvoice:dialog:open"
	EventDialogClosed       = "pathvoice:dialog:closed"
	EventNotice             = "pathvoice:notice"
	EventPathwayCreated     = "pathvoice:pathway:created"
	EventPathwayOpen        = "pathvoice:pathway:open"
	EventPathwayDelete      = "pathvoice:pathway:delete"
	EventPathwayDeleted     = "pathvoice:pathway:deleted"
	EventSession            = "pathvoice:session"
	EventError              = "pathvoice:error"
)

// ErrEmptyPayload is returned by Decode for events sent without data.
var ErrEmptyPayload = errors.New("empty payload")

// Bus carries JSON-shaped payloads between Go and the frontend. On returns
// a function that removes the listener.
type Bus interface {
	On(event string, fn func(payload any)) (cancel func())
	Emit(event string, payload any)
}

// Decode converts an inbound payload into out. Payloads arrive as decoded
// JSON values from the Wails runtime or as raw frames from the bridge.
func Decode(payload any, out any) error {
	var raw []byte
	switch value := payload.(type) {
	case nil:
		return ErrEmptyPayload
	case json.RawMessage:
		raw = value
	case []byte:
		raw = value
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("re-encode payload: %w", err)
		}
		raw = encoded
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// Listeners is a goroutine-safe registry of event handlers. Bus
// implementations use it for the inbound direction.
type Listeners struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[string]map[uint64]func(any)
}

func (l *Listeners) On(event string, fn func(payload any)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handlers == nil {
		l.handlers = make(map[string]map[uint64]func(any))
	}
	if l.handlers[event] == nil {
		l.handlers[event] = make(map[uint64]func(any))
	}
	id := l.nextID
	l.nextID++
	l.handlers[event][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.handlers[event], id)
		})
	}
}

// Dispatch calls every handler registered for event and reports how many
// there were. Handlers run outside the lock and may cancel themselves.
func (l *Listeners) Dispatch(event string, payload any) int {
	l.mu.Lock()
	fns := make([]func(any), 0, len(l.handlers[event]))
	for _, fn := range l.handlers[event] {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
	return len(fns)
}

func (l *Listeners) Count(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handlers[event])
}
