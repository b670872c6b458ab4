package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pathvoice/internal/config"
	"pathvoice/internal/domain"
	"pathvoice/internal/webspeech"
)

type fakeSession struct {
	bus webspeech.Bus

	mu          sync.Mutex
	activations []bool
	voices      []string
	restartErr  error

	inbound     chan any
	deactivated chan struct{}
	runExited   chan struct{}
	deactOnce   sync.Once
}

func newFakeSession(bus webspeech.Bus) *fakeSession {
	f := &fakeSession{
		bus:         bus,
		restartErr:  errors.New("voice session is not activated"),
		inbound:     make(chan any, 8),
		deactivated: make(chan struct{}),
		runExited:   make(chan struct{}),
	}
	bus.On(webspeech.EventRecognition, func(payload any) { f.inbound <- payload })
	return f
}

func (f *fakeSession) Run(ctx context.Context) {
	<-ctx.Done()
	close(f.runExited)
}

func (f *fakeSession) Activate(_ context.Context, browserRecognition bool) {
	f.mu.Lock()
	f.activations = append(f.activations, browserRecognition)
	f.mu.Unlock()
	f.bus.Emit(webspeech.EventRecognitionControl, map[string]string{"action": "start"})
}

func (f *fakeSession) Deactivate() {
	f.deactOnce.Do(func() { close(f.deactivated) })
}

func (f *fakeSession) Restart() error { return f.restartErr }
func (f *fakeSession) Stop() error    { return nil }

func (f *fakeSession) SelectVoice(uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voices = append(f.voices, uri)
	return nil
}

func (f *fakeSession) Status() domain.Status {
	return domain.Status{State: domain.SessionStateListening, Active: true}
}

type countingRecorder struct {
	connected    atomic.Int64
	disconnected atomic.Int64
	in           atomic.Int64
	out          atomic.Int64
}

func (r *countingRecorder) ClientConnected()    { r.connected.Add(1) }
func (r *countingRecorder) ClientDisconnected() { r.disconnected.Add(1) }
func (r *countingRecorder) FrameSeen(direction string) {
	if direction == "in" {
		r.in.Add(1)
		return
	}
	r.out.Add(1)
}

type testBridge struct {
	server   *httptest.Server
	recorder *countingRecorder

	mu       sync.Mutex
	sessions []*fakeSession
}

func newTestBridge(t *testing.T, cfg config.BridgeConfig, opts ...Option) *testBridge {
	t.Helper()
	tb := &testBridge{recorder: &countingRecorder{}}
	factory := func(bus webspeech.Bus) Session {
		session := newFakeSession(bus)
		tb.mu.Lock()
		tb.sessions = append(tb.sessions, session)
		tb.mu.Unlock()
		return session
	}
	opts = append([]Option{WithRecorder(tb.recorder)}, opts...)
	tb.server = httptest.NewServer(NewServer(cfg, factory, opts...).Handler())
	t.Cleanup(tb.server.Close)
	return tb
}

func (tb *testBridge) session(t *testing.T) *fakeSession {
	t.Helper()
	require.Eventually(t, func() bool {
		tb.mu.Lock()
		defer tb.mu.Unlock()
		return len(tb.sessions) == 1
	}, 2*time.Second, 5*time.Millisecond)
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.sessions[0]
}

func (tb *testBridge) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(tb.server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame := map[string]any{"event": event}
	if data != nil {
		frame["data"] = data
	}
	require.NoError(t, conn.WriteJSON(frame))
}

func readEvent(t *testing.T, conn *websocket.Conn, event string) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var frame Frame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Event == event {
			return frame
		}
	}
}

func TestActivateFrameStartsSessionAndRelaysEmits(t *testing.T) {
	t.Parallel()

	tb := newTestBridge(t, config.BridgeConfig{})
	conn := tb.dial(t, nil)

	send(t, conn, EventActivate, map[string]bool{"recognition": true})
	frame := readEvent(t, conn, webspeech.EventRecognitionControl)
	assert.JSONEq(t, `{"action":"start"}`, string(frame.Data))

	session := tb.session(t)
	session.mu.Lock()
	assert.Equal(t, []bool{true}, session.activations)
	session.mu.Unlock()
	assert.Equal(t, int64(1), tb.recorder.connected.Load())
}

func TestInboundEventsReachBusListeners(t *testing.T) {
	t.Parallel()

	tb := newTestBridge(t, config.BridgeConfig{})
	conn := tb.dial(t, nil)
	session := tb.session(t)

	send(t, conn, webspeech.EventRecognition, map[string]string{"type": "result", "transcript": "hilfe"})

	select {
	case payload := <-session.inbound:
		var msg struct {
			Type       string `json:"type"`
			Transcript string `json:"transcript"`
		}
		require.NoError(t, webspeech.Decode(payload, &msg))
		assert.Equal(t, "result", msg.Type)
		assert.Equal(t, "hilfe", msg.Transcript)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound event was not dispatched")
	}
}

func TestControlFailureIsReportedAsError(t *testing.T) {
	t.Parallel()

	tb := newTestBridge(t, config.BridgeConfig{})
	conn := tb.dial(t, nil)

	send(t, conn, EventRestart, nil)
	frame := readEvent(t, conn, webspeech.EventError)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, "bridge", payload["code"])
	assert.Equal(t, "voice session is not activated", payload["detail"])
}

func TestVoiceSelectAndStatus(t *testing.T) {
	t.Parallel()

	tb := newTestBridge(t, config.BridgeConfig{})
	conn := tb.dial(t, nil)

	send(t, conn, EventVoiceSelect, map[string]string{"voiceURI": "voice:anna"})
	send(t, conn, EventStatus, nil)

	frame := readEvent(t, conn, EventStatus)
	var status domain.Status
	require.NoError(t, json.Unmarshal(frame.Data, &status))
	assert.Equal(t, domain.SessionStateListening, status.State)

	session := tb.session(t)
	session.mu.Lock()
	assert.Equal(t, []string{"voice:anna"}, session.voices)
	session.mu.Unlock()
}

func TestDisconnectDeactivatesSession(t *testing.T) {
	t.Parallel()

	tb := newTestBridge(t, config.BridgeConfig{})
	conn := tb.dial(t, nil)
	session := tb.session(t)

	require.NoError(t, conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
	))
	conn.Close()

	for name, ch := range map[string]chan struct{}{"deactivate": session.deactivated, "run": session.runExited} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s did not happen after disconnect", name)
		}
	}
	require.Eventually(t, func() bool { return tb.recorder.disconnected.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestOriginCheck(t *testing.T) {
	t.Parallel()

	tb := newTestBridge(t, config.BridgeConfig{AllowedOrigins: []string{"https://pathway.example"}})
	url := "ws" + strings.TrimPrefix(tb.server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	tb.dial(t, http.Header{"Origin": {"https://pathway.example"}})
}

func TestOriginAllowedDefaultsToSameHost(t *testing.T) {
	t.Parallel()

	s := NewServer(config.BridgeConfig{}, nil)
	req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8765/ws", nil)

	assert.True(t, s.originAllowed(req))
	req.Header.Set("Origin", "http://127.0.0.1:8765")
	assert.True(t, s.originAllowed(req))
	req.Header.Set("Origin", "http://localhost:3000")
	assert.False(t, s.originAllowed(req))

	wildcard := NewServer(config.BridgeConfig{AllowedOrigins: []string{"*"}}, nil)
	assert.True(t, wildcard.originAllowed(req))
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "pathvoice_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	tb := newTestBridge(t, config.BridgeConfig{Metrics: true}, WithGatherer(reg))

	resp, err := http.Get(tb.server.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))

	resp, err = http.Get(tb.server.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "pathvoice_test_total 1")

	disabled := newTestBridge(t, config.BridgeConfig{Metrics: false}, WithGatherer(reg))
	resp, err = http.Get(disabled.server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	s := NewServer(config.BridgeConfig{ListenAddr: "127.0.0.1:0"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestConnFullBufferDropsOnlyStatusFrames(t *testing.T) {
	t.Parallel()

	c := newConn("full", nil, &countingRecorder{}, zap.NewNop())
	for i := 0; i < sendBuffer; i++ {
		c.Emit(webspeech.EventSession, map[string]string{"state": "listening"})
	}

	c.Emit(webspeech.EventNotice, map[string]string{"text": "x"})
	select {
	case <-c.done:
		t.Fatalf("dropping a notice must keep the connection open")
	default:
	}

	c.Emit(webspeech.EventSpeak, map[string]string{"text": "Hallo"})
	select {
	case <-c.done:
	default:
		t.Fatalf("expected connection to close instead of dropping a speak frame")
	}
	assert.Len(t, c.send, sendBuffer)
}
