package deepgram

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"pathvoice/internal/domain"
)

var errStreamClosed = errors.New("audio stream is already closed")

const (
	closeStreamMessage = `{"type":"CloseStream"}`
	eventBuffer        = 64
	audioBuffer        = 32
)

// stream is one live transcription websocket. Audio goes out through a
// single writer goroutine; provider messages come back through events.
type stream struct {
	conn *websocket.Conn

	events chan domain.TranscriptEvent
	audio  chan []byte
	done   chan struct{}
	wg     sync.WaitGroup

	errMu sync.Mutex
	err   error

	sendMu     sync.RWMutex
	sendClosed bool
	closeSend  sync.Once
	closeConn  sync.Once
}

func newStream(conn *websocket.Conn) *stream {
	s := &stream{
		conn:   conn,
		events: make(chan domain.TranscriptEvent, eventBuffer),
		audio:  make(chan []byte, audioBuffer),
		done:   make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.events)
		close(s.done)
		_ = conn.Close()
	}()
	return s
}

func (s *stream) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errStreamClosed
	}

	select {
	case s.audio <- append([]byte(nil), chunk...):
		return nil
	case <-s.done:
		if err := s.failure(); err != nil {
			return err
		}
		return errors.New("transcription stream closed")
	}
}

// CloseSend stops accepting audio and asks the provider to flush.
func (s *stream) CloseSend() error {
	s.closeSend.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *stream) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *stream) Wait() error {
	<-s.done
	return s.failure()
}

func (s *stream) Close() error {
	s.closeConn.Do(func() {
		// Closing the socket first unblocks a SendAudio stuck on a dead writer.
		_ = s.conn.Close()
		_ = s.CloseSend()
	})
	<-s.done
	return s.failure()
}

func (s *stream) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// fail records the first non-close error.
func (s *stream) fail(err error) {
	if err == nil || websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *stream) writeLoop() {
	defer s.wg.Done()

	for chunk := range s.audio {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			s.fail(fmt.Errorf("failed to send audio: %w", err))
			return
		}
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(closeStreamMessage)); err != nil {
		s.fail(fmt.Errorf("failed to close stream: %w", err))
	}
}

func (s *stream) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(fmt.Errorf("failed to read provider event: %w", err))
			return
		}

		var response listenResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}
		if strings.EqualFold(response.Type, "Error") {
			s.fail(errors.New(response.errorMessage()))
			return
		}
		if event, ok := response.event(); ok {
			s.emit(event)
		}
	}
}

// emit drops events when the consumer is not keeping up.
func (s *stream) emit(event domain.TranscriptEvent) {
	select {
	case s.events <- event:
	default:
	}
}
