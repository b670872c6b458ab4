// Package bridge serves the voice session over a websocket so a plain
// browser tab can host the speech engines without the desktop shell.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pathvoice/internal/config"
	"pathvoice/internal/domain"
	"pathvoice/internal/webspeech"
)

// Control events only the bridge understands. The desktop shell exposes
// the same operations as bound methods instead.
const (
	EventActivate    = "pathvoice:activate"
	EventVoiceSelect = "pathvoice:voice:select"
	EventRestart     = "pathvoice:restart"
	EventStop        = "pathvoice:stop"
	EventStatus      = "pathvoice:status"
)

// Session is the voice session driven by one connection.
type Session interface {
	Run(ctx context.Context)
	Activate(ctx context.Context, browserRecognition bool)
	Deactivate()
	Restart() error
	Stop() error
	SelectVoice(uri string) error
	Status() domain.Status
}

// SessionFactory builds a session whose collaborators talk over bus.
type SessionFactory func(bus webspeech.Bus) Session

// Recorder counts bridge traffic.
type Recorder interface {
	ClientConnected()
	ClientDisconnected()
	FrameSeen(direction string)
}

type nopRecorder struct{}

func (nopRecorder) ClientConnected()    {}
func (nopRecorder) ClientDisconnected() {}
func (nopRecorder) FrameSeen(string)    {}

type activateRequest struct {
	Recognition bool `json:"recognition"`
}

type voiceSelectRequest struct {
	VoiceURI string `json:"voiceURI"`
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger.With(zap.String("component", "bridge"))
		}
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(s *Server) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithGatherer serves gatherer on /metrics.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

// Server accepts websocket clients and gives each one its own session.
type Server struct {
	cfg        config.BridgeConfig
	newSession SessionFactory
	metrics    Recorder
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	allowed    map[string]struct{}
	upgrader   websocket.Upgrader
}

func NewServer(cfg config.BridgeConfig, newSession SessionFactory, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg,
		newSession: newSession,
		metrics:    nopRecorder{},
		logger:     zap.NewNop(),
		allowed:    make(map[string]struct{}, len(cfg.AllowedOrigins)),
	}
	for _, origin := range cfg.AllowedOrigins {
		s.allowed[strings.TrimSpace(origin)] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	// Origins are checked before upgrading so rejections get a plain 403.
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return s
}

// Handler routes /ws, /healthz and, when enabled, /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.cfg.Metrics && s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("bridge listening", zap.String("addr", listener.Addr().String()))
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown bridge: %w", err)
	}
	return nil
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.originAllowed(r) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := newConn(uuid.NewString(), ws, s.metrics, s.logger)
	session := s.newSession(c)

	// The loop outlives server shutdown until the final Deactivate ran.
	ctx := r.Context()
	runCtx, stopRun := context.WithCancel(context.WithoutCancel(ctx))
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		session.Run(runCtx)
	}()
	go c.writeLoop()
	go func() {
		select {
		case <-ctx.Done():
			c.close()
		case <-c.done:
		}
	}()

	s.metrics.ClientConnected()
	c.logger.Info("bridge client connected", zap.String("remote", r.RemoteAddr))

	c.readLoop(func(frame Frame) { s.handle(ctx, c, session, frame) })

	session.Deactivate()
	stopRun()
	<-runDone
	s.metrics.ClientDisconnected()
	c.logger.Info("bridge client disconnected")
}

func (s *Server) handle(ctx context.Context, c *conn, session Session, frame Frame) {
	var err error
	switch frame.Event {
	case EventActivate:
		var req activateRequest
		if len(frame.Data) > 0 {
			err = json.Unmarshal(frame.Data, &req)
		}
		if err == nil {
			session.Activate(ctx, req.Recognition)
		}
	case EventVoiceSelect:
		var req voiceSelectRequest
		if err = json.Unmarshal(frame.Data, &req); err == nil {
			err = session.SelectVoice(req.VoiceURI)
		}
	case EventRestart:
		err = session.Restart()
	case EventStop:
		err = session.Stop()
	case EventStatus:
		c.Emit(EventStatus, session.Status())
	default:
		var payload any
		if len(frame.Data) > 0 {
			payload = frame.Data
		}
		if c.Dispatch(frame.Event, payload) == 0 {
			c.logger.Debug("no listener for event", zap.String("event", frame.Event))
		}
		return
	}
	if err != nil {
		c.logger.Warn("control event failed", zap.String("event", frame.Event), zap.Error(err))
		c.Emit(webspeech.EventError, map[string]string{
			"code":    "bridge",
			"message": "Control request failed",
			"detail":  err.Error(),
		})
	}
}

// originAllowed accepts requests without an Origin header, origins listed
// in the config, any origin when "*" is listed, and otherwise only the
// bridge's own host.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if _, ok := s.allowed["*"]; ok {
		return true
	}
	if len(s.allowed) > 0 {
		_, ok := s.allowed[origin]
		return ok
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}
