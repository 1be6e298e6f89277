package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_translator_active_sessions",
		Help: "Number of active translation sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_translator_sessions_total",
		Help: "Total number of sessions served",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_translator_session_duration_seconds",
		Help:    "Duration of translation sessions in seconds",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	})

	// Turn metrics: one turn = utterance captured, translated, spoken back
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_translator_turns_total",
		Help: "Total number of conversation turns by pipeline and outcome",
	}, []string{"pipeline", "status"})

	turnLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_translator_turn_latency_seconds",
		Help:    "End-of-utterance to first playback byte, in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 3.0, 5.0, 10.0},
	}, []string{"pipeline"})

	// Per-stage metrics
	stageRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_translator_stage_requests_total",
		Help: "Total requests per pipeline stage",
	}, []string{"stage", "status"}) // stage: stt, translate, tts, live

	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_translator_stage_latency_seconds",
		Help:    "Pipeline stage latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_translator_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_translator_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_translator_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_translator_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "capture" or "playback"
)

// SessionMetrics tracks metrics for a single session
type SessionMetrics struct {
	sessionID string
	pipeline  string
	startTime time.Time

	mu         sync.Mutex
	turnStart  time.Time
	stageStart map[string]time.Time
}

// NewSessionMetrics creates a metrics tracker for one session
func NewSessionMetrics(sessionID, pipeline string) *SessionMetrics {
	return &SessionMetrics{
		sessionID:  sessionID,
		pipeline:   pipeline,
		startTime:  time.Now(),
		stageStart: make(map[string]time.Time),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTurnStart marks the end of the user's utterance, which starts the
// latency clock for the turn.
func (m *SessionMetrics) RecordTurnStart() {
	m.mu.Lock()
	m.turnStart = time.Now()
	m.mu.Unlock()
}

// RecordTurnEnd records completion of a turn. Call with success=false when
// the turn ended in an error or substituted apology.
func (m *SessionMetrics) RecordTurnEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.turnStart.IsZero() {
		turnLatency.WithLabelValues(m.pipeline).Observe(time.Since(m.turnStart).Seconds())
		m.turnStart = time.Time{}
	}

	status := "success"
	if !success {
		status = "error"
	}
	turnsTotal.WithLabelValues(m.pipeline, status).Inc()
}

// RecordStageStart records the start of a pipeline stage (stt, translate, tts, live)
func (m *SessionMetrics) RecordStageStart(stage string) {
	m.mu.Lock()
	m.stageStart[stage] = time.Now()
	m.mu.Unlock()
}

// RecordStageEnd records the end of a pipeline stage
func (m *SessionMetrics) RecordStageEnd(stage string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if start, ok := m.stageStart[stage]; ok {
		stageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
		delete(m.stageStart, stage)
	}

	status := "success"
	if !success {
		status = "error"
	}
	stageRequests.WithLabelValues(stage, status).Inc()
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *SessionMetrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
