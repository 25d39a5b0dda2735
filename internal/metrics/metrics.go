// Package metrics exposes pipeline counters and latencies to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// States reported by the pipeline state gauge, in gauge-value order.
var States = []string{"idle", "detecting", "processing", "success", "error"}

// Metrics holds the cardscan collectors. A nil *Metrics is a no-op.
type Metrics struct {
	// Attempt outcomes by outcome and trigger
	Attempts *prometheus.CounterVec

	// Whole-attempt latency by outcome
	AttemptLatency *prometheus.HistogramVec

	// Per-stage latency: ocr, extract, validate, persist
	StageLatency *prometheus.HistogramVec

	PrefilterScore prometheus.Histogram

	// Extraction source: ai, rules; fallbacks by reason
	ExtractorSource *prometheus.CounterVec
	Fallbacks       *prometheus.CounterVec

	// Camera loop
	FramesSampled prometheus.Counter
	Settles       prometheus.Counter

	// One-hot pipeline state
	State *prometheus.GaugeVec

	// Breaker state by name: 0 closed, 1 open, 2 half-open
	BreakerState *prometheus.GaugeVec

	// Persistence queue task results
	QueueTasks *prometheus.CounterVec
}

// New registers the collectors with reg, or the default registry when nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cardscan_attempts_total",
			Help: "Scan attempts by outcome and trigger",
		}, []string{"outcome", "trigger"}),

		AttemptLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cardscan_attempt_duration_seconds",
			Help:    "Duration of a scan attempt from settle to verdict",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),

		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cardscan_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 10},
		}, []string{"stage"}),

		PrefilterScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cardscan_prefilter_score",
			Help:    "Pre-filter scores of recognised text",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),

		ExtractorSource: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cardscan_extractions_total",
			Help: "Extractions by the extractor that produced them",
		}, []string{"source"}),

		Fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cardscan_extractor_fallbacks_total",
			Help: "AI extraction fallbacks to rules by reason",
		}, []string{"reason"}),

		FramesSampled: f.NewCounter(prometheus.CounterOpts{
			Name: "cardscan_frames_sampled_total",
			Help: "Camera frames captured by the sampling loop",
		}),

		Settles: f.NewCounter(prometheus.CounterOpts{
			Name: "cardscan_settles_total",
			Help: "Times the camera image settled and a scan was triggered",
		}),

		State: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cardscan_pipeline_state",
			Help: "1 for the current pipeline state, 0 otherwise",
		}, []string{"state"}),

		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cardscan_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		}, []string{"name"}),

		QueueTasks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cardscan_queue_tasks_total",
			Help: "Persistence tasks handled by the worker by result",
		}, []string{"result"}),
	}
}

// ObserveAttempt records an attempt's outcome, trigger and duration.
func (m *Metrics) ObserveAttempt(outcome, trigger string, d time.Duration) {
	if m == nil {
		return
	}
	if trigger == "" {
		trigger = "unknown"
	}
	m.Attempts.WithLabelValues(outcome, trigger).Inc()
	m.AttemptLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveStage records one stage's latency.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// ObserveScore records a pre-filter score.
func (m *Metrics) ObserveScore(score int) {
	if m != nil {
		m.PrefilterScore.Observe(float64(score))
	}
}

// IncExtraction counts an extraction by source.
func (m *Metrics) IncExtraction(source string) {
	if m != nil && source != "" {
		m.ExtractorSource.WithLabelValues(source).Inc()
	}
}

// IncFallback counts a fallback to rules.
func (m *Metrics) IncFallback(reason string) {
	if m != nil {
		m.Fallbacks.WithLabelValues(reason).Inc()
	}
}

// IncFrame counts a sampled camera frame.
func (m *Metrics) IncFrame() {
	if m != nil {
		m.FramesSampled.Inc()
	}
}

// IncSettle counts a settle event.
func (m *Metrics) IncSettle() {
	if m != nil {
		m.Settles.Inc()
	}
}

// SetState marks state as current.
func (m *Metrics) SetState(state string) {
	if m == nil {
		return
	}
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		m.State.WithLabelValues(s).Set(v)
	}
}

// SetBreakerState records a breaker transition.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m != nil {
		m.BreakerState.WithLabelValues(name).Set(float64(state))
	}
}

// IncQueueTask counts a worker task result: ok, retry or failed.
func (m *Metrics) IncQueueTask(result string) {
	if m != nil {
		m.QueueTasks.WithLabelValues(result).Inc()
	}
}
