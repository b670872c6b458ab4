package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"pathvoice/internal/domain"
	"pathvoice/internal/ports"
)

var ErrAlreadyListening = errors.New("recognition is already running")

// Fault codes follow the browser recognizer so recovery policies need not
// care which engine produced them.
const (
	FaultNetwork      = "network"
	FaultAudioCapture = "audio-capture"
)

type RecognizerConfig struct {
	Audio        ports.AudioConfig
	Stream       ports.StreamingConfig
	ChunkSize    int
	DrainTimeout time.Duration
}

// Recognizer implements ports.RecognitionChannel with server-side
// microphone capture and Deepgram live transcription. Each Start yields at
// most one result per pause in speech until Stop or the stream ends.
// Start and Stop are expected to be called from a single goroutine.
type Recognizer struct {
	capture  ports.AudioCapture
	provider ports.TranscriptionProvider
	cfg      RecognizerConfig
	logger   *zap.Logger

	mu       sync.Mutex
	handlers map[uint64]func(domain.RecognitionEvent)
	nextID   uint64
	current  *listenSession
}

type listenSession struct {
	cancel   context.CancelFunc
	audio    ports.AudioSession
	stream   ports.StreamingSession
	pumpDone chan struct{}

	errMu   sync.Mutex
	pumpErr error

	teardownOnce sync.Once
}

func NewRecognizer(capture ports.AudioCapture, provider ports.TranscriptionProvider, cfg RecognizerConfig, logger *zap.Logger) *Recognizer {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 4 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recognizer{
		capture:  capture,
		provider: provider,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "deepgram_recognizer")),
		handlers: make(map[uint64]func(domain.RecognitionEvent)),
	}
}

func (r *Recognizer) Init(context.Context) bool {
	if r.capture == nil || !r.capture.Available() {
		r.logger.Warn("microphone capture is not available")
		return false
	}
	if r.provider == nil || !r.provider.Configured() {
		r.logger.Warn("transcription provider is not configured")
		return false
	}
	return true
}

func (r *Recognizer) Subscribe(fn func(domain.RecognitionEvent)) ports.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.handlers[id] = fn
	return ports.NewSubscription(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers, id)
	})
}

func (r *Recognizer) Start(ctx context.Context) error {
	r.mu.Lock()
	busy := r.current != nil
	r.mu.Unlock()
	if busy {
		return ErrAlreadyListening
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	stream, err := r.provider.StartStreaming(sessionCtx, r.cfg.Stream)
	if err != nil {
		cancel()
		return fmt.Errorf("start transcription: %w", err)
	}
	audio, err := r.capture.Start(sessionCtx, r.cfg.Audio)
	if err != nil {
		cancel()
		_ = stream.Close()
		return fmt.Errorf("start microphone: %w", err)
	}

	session := &listenSession{
		cancel:   cancel,
		audio:    audio,
		stream:   stream,
		pumpDone: make(chan struct{}),
	}
	r.mu.Lock()
	r.current = session
	r.mu.Unlock()

	r.logger.Debug("recognition started")
	r.emit(domain.RecognitionEvent{Kind: domain.RecognitionStarted})
	go r.pump(session)
	go r.listen(session)
	return nil
}

// Stop ends the current session. The ended event is delivered before Stop
// returns; the stream drains in the background.
func (r *Recognizer) Stop(context.Context) error {
	r.mu.Lock()
	session := r.current
	r.current = nil
	r.mu.Unlock()
	if session == nil {
		return nil
	}

	r.logger.Debug("recognition stopped")
	r.emit(domain.RecognitionEvent{Kind: domain.RecognitionEnded})
	go r.teardown(session)
	return nil
}

func (r *Recognizer) pump(session *listenSession) {
	defer close(session.pumpDone)
	defer func() { _ = session.stream.CloseSend() }()

	buf := make([]byte, r.cfg.ChunkSize)
	for {
		n, err := session.audio.Read(buf)
		if n > 0 {
			if sendErr := session.stream.SendAudio(buf[:n]); sendErr != nil {
				session.setPumpErr(fmt.Errorf("failed to stream audio: %w", sendErr))
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				session.setPumpErr(fmt.Errorf("audio capture error: %w", err))
			}
			return
		}
	}
}

func (r *Recognizer) listen(session *listenSession) {
	var pending utterance
	for event := range session.stream.Events() {
		pending.add(event)
		if !event.IsSpeechFinal {
			continue
		}
		if text := pending.text(); text != "" {
			r.emitFor(session, domain.RecognitionEvent{Kind: domain.RecognitionResult, Transcript: text})
		}
		pending.reset()
	}

	streamErr := session.stream.Wait()
	if text := pending.text(); text != "" {
		r.emitFor(session, domain.RecognitionEvent{Kind: domain.RecognitionResult, Transcript: text})
	}

	if !r.release(session) {
		return
	}
	r.teardown(session)

	switch pumpErr := session.pumpFailure(); {
	case pumpErr != nil:
		r.logger.Warn("audio pump failed", zap.Error(pumpErr))
		r.emit(domain.RecognitionEvent{Kind: domain.RecognitionError, Fault: domain.RecognitionFault{Code: FaultAudioCapture, Message: pumpErr.Error()}})
	case streamErr != nil:
		r.logger.Warn("transcription stream failed", zap.Error(streamErr))
		r.emit(domain.RecognitionEvent{Kind: domain.RecognitionError, Fault: domain.RecognitionFault{Code: FaultNetwork, Message: streamErr.Error()}})
	}
	r.emit(domain.RecognitionEvent{Kind: domain.RecognitionEnded})
}

// release clears session if it is still current.
func (r *Recognizer) release(session *listenSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != session {
		return false
	}
	r.current = nil
	return true
}

func (r *Recognizer) teardown(session *listenSession) {
	session.teardownOnce.Do(func() {
		if err := session.audio.Stop(); err != nil {
			r.logger.Debug("microphone stop reported an error", zap.Error(err))
		}
		<-session.pumpDone
		if err := waitForStream(session.stream, r.cfg.DrainTimeout); err != nil {
			r.logger.Debug("transcription stream closed with error", zap.Error(err))
		}
		session.cancel()
	})
}

func (r *Recognizer) emitFor(session *listenSession, event domain.RecognitionEvent) {
	r.mu.Lock()
	current := r.current == session
	r.mu.Unlock()
	if current {
		r.emit(event)
	}
}

func (r *Recognizer) emit(event domain.RecognitionEvent) {
	r.mu.Lock()
	handlers := make([]func(domain.RecognitionEvent), 0, len(r.handlers))
	for _, fn := range r.handlers {
		handlers = append(handlers, fn)
	}
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(event)
	}
}

func (s *listenSession) setPumpErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.pumpErr == nil {
		s.pumpErr = err
	}
}

func (s *listenSession) pumpFailure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.pumpErr
}

// waitForStream waits for the provider to flush, closing the stream once
// timeout passes.
func waitForStream(stream ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- stream.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = stream.Close()
		return <-done
	}
}

var _ ports.RecognitionChannel = (*Recognizer)(nil)
