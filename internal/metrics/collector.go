// Package metrics exposes voice session counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"pathvoice/internal/domain"
)

var sessionStates = []domain.SessionState{
	domain.SessionStateIdle,
	domain.SessionStateInitializing,
	domain.SessionStateListening,
	domain.SessionStateProcessing,
	domain.SessionStateSpeaking,
}

// Collector implements usecase.Recorder and tracks bridge clients.
type Collector struct {
	commandsTotal     *prometheus.CounterVec
	restartsTotal     *prometheus.CounterVec
	faultsTotal       *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	sessionState      *prometheus.GaugeVec
	utterancesTotal   prometheus.Counter
	bridgeClients     prometheus.Gauge
	bridgeFramesTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the pathvoice metrics on reg.
func NewCollector(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.commandsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Classified voice commands by kind",
		},
		[]string{"kind"},
	)

	c.restartsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_restarts_total",
			Help:      "Speech recognition restarts by reason",
		},
		[]string{"reason"},
	)

	c.faultsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_faults_total",
			Help:      "Speech recognition errors by code",
		},
		[]string{"code"},
	)

	c.transitionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state transitions by target state",
		},
		[]string{"state"},
	)

	c.sessionState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise",
		},
		[]string{"state"},
	)

	c.utterancesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_spoken_total",
			Help:      "Feedback utterances handed to speech synthesis",
		},
	)

	c.bridgeClients = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_clients",
			Help:      "Connected websocket bridge clients",
		},
	)

	c.bridgeFramesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_frames_total",
			Help:      "Websocket bridge frames by direction",
		},
		[]string{"direction"},
	)

	for _, state := range sessionStates {
		c.sessionState.WithLabelValues(string(state)).Set(0)
	}
	c.sessionState.WithLabelValues(string(domain.SessionStateIdle)).Set(1)
	return c
}

func (c *Collector) StateChanged(state domain.SessionState) {
	c.transitionsTotal.WithLabelValues(string(state)).Inc()
	for _, known := range sessionStates {
		value := 0.0
		if known == state {
			value = 1
		}
		c.sessionState.WithLabelValues(string(known)).Set(value)
	}
}

func (c *Collector) CommandClassified(kind domain.CommandKind) {
	c.commandsTotal.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) SessionRestarted(reason domain.SessionStateReason) {
	c.restartsTotal.WithLabelValues(string(reason)).Inc()
}

func (c *Collector) RecognitionFault(code string) {
	if code == "" {
		code = "unknown"
	}
	c.faultsTotal.WithLabelValues(code).Inc()
}

func (c *Collector) UtteranceSpoken() {
	c.utterancesTotal.Inc()
}

func (c *Collector) ClientConnected() {
	c.bridgeClients.Inc()
}

func (c *Collector) ClientDisconnected() {
	c.bridgeClients.Dec()
}

// FrameSeen counts a bridge frame; direction is "in" or "out".
func (c *Collector) FrameSeen(direction string) {
	c.bridgeFramesTotal.WithLabelValues(direction).Inc()
}
