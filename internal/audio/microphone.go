package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"pathvoice/internal/ports"
)

const (
	defaultStartupGrace = 250 * time.Millisecond
	defaultStopTimeout  = 1200 * time.Millisecond
)

// Microphone captures raw s16le PCM through an ffmpeg child process.
type Microphone struct {
	command      string
	startupGrace time.Duration
	stopTimeout  time.Duration
	logger       *zap.Logger
}

type MicrophoneOption func(*Microphone)

func WithLogger(logger *zap.Logger) MicrophoneOption {
	return func(m *Microphone) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithStartupGrace sets how long the process must survive before capture
// counts as started.
func WithStartupGrace(grace time.Duration) MicrophoneOption {
	return func(m *Microphone) {
		if grace > 0 {
			m.startupGrace = grace
		}
	}
}

func NewMicrophone(command string, opts ...MicrophoneOption) *Microphone {
	if strings.TrimSpace(command) == "" {
		command = "ffmpeg"
	}
	m := &Microphone{
		command:      command,
		startupGrace: defaultStartupGrace,
		stopTimeout:  defaultStopTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Available reports whether the capture binary can be resolved.
func (m *Microphone) Available() bool {
	_, err := exec.LookPath(m.command)
	return err == nil
}

func (m *Microphone) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	args := captureArgs(cfg)
	cmd := exec.CommandContext(ctx, m.command, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open capture pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", m.command, err)
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(exited)
	}()

	select {
	case err := <-exited:
		if err != nil {
			return nil, fmt.Errorf("capture exited before audio started: %w: %s", err, trimOutput(stderr.String()))
		}
		return nil, errors.New("capture exited before audio started")
	case <-time.After(m.startupGrace):
	}

	m.logger.Debug("microphone capture started",
		zap.String("command", m.command),
		zap.Int("sample_rate", sampleRate(cfg)),
		zap.String("input", cfg.InputFormat+":"+cfg.InputDevice),
	)
	return &captureSession{
		stdout:      stdout,
		stderr:      stderr,
		process:     cmd.Process,
		exited:      exited,
		stopTimeout: m.stopTimeout,
	}, nil
}

func captureArgs(cfg ports.AudioConfig) []string {
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	format := cfg.InputFormat
	if format == "" {
		format = "pulse"
	}
	device := cfg.InputDevice
	if device == "" {
		device = "default"
	}
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", format,
		"-i", device,
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate(cfg)),
		"-f", "s16le",
		"-",
	}
}

func sampleRate(cfg ports.AudioConfig) int {
	if cfg.SampleRate <= 0 {
		return 16000
	}
	return cfg.SampleRate
}

type captureSession struct {
	stdout      io.ReadCloser
	stderr      *bytes.Buffer
	process     *os.Process
	exited      <-chan error
	stopTimeout time.Duration

	once sync.Once
	err  error
}

func (s *captureSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *captureSession) Close() error {
	return s.Stop()
}

// Stop interrupts the process, escalating to kill after the stop timeout.
func (s *captureSession) Stop() error {
	s.once.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		var waitErr error
		select {
		case waitErr = <-s.exited:
		case <-time.After(s.stopTimeout):
			if s.process != nil {
				_ = s.process.Kill()
			}
			waitErr = <-s.exited
		}
		s.err = ignoreExitStatus(waitErr)

		if err := s.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && s.err == nil {
			s.err = err
		}
		if s.err != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.err = fmt.Errorf("%w: %s", s.err, trimOutput(s.stderr.String()))
		}
	})
	return s.err
}

// ignoreExitStatus treats a non-zero exit after an interrupt as a clean stop.
func ignoreExitStatus(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimOutput(output string) string {
	return strings.TrimSpace(output)
}
