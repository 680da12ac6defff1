// Package metrics instruments the scan pipeline with Prometheus collectors.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "scan_pipeline"

// Metrics holds the pipeline collectors
type Metrics struct {
	framesDelivered prometheus.Counter
	framesDropped   *prometheus.CounterVec
	decodes         *prometheus.CounterVec
	decodeDuration  prometheus.Histogram
	transitions     *prometheus.CounterVec
	bindings        prometheus.Gauge
}

// Drop reasons
const (
	DropReplaced    = "replaced"
	DropRateLimited = "rate_limited"
	DropUnbound     = "unbound"
)

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_delivered_total",
			Help:      "Frames handed to the analysis sink.",
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames released without analysis, by reason.",
		}, []string{"reason"}),
		decodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decodes_total",
			Help:      "Completed decode calls, by outcome.",
		}, []string{"outcome"}),
		decodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_duration_seconds",
			Help:      "Time from submission to recognizer callback.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Scan state transitions, by target state.",
		}, []string{"to"}),
		bindings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "camera_bindings_active",
			Help:      "Live camera bindings.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.framesDelivered,
			m.framesDropped,
			m.decodes,
			m.decodeDuration,
			m.transitions,
			m.bindings,
		)
	}
	return m
}

// FrameDelivered counts a frame handed to the sink
func (m *Metrics) FrameDelivered() {
	if m == nil {
		return
	}
	m.framesDelivered.Inc()
}

// FrameDropped counts a frame released without analysis
func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

// DecodeCompleted records a decode outcome and its latency
func (m *Metrics) DecodeCompleted(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.decodes.WithLabelValues(outcome).Inc()
	m.decodeDuration.Observe(elapsed.Seconds())
}

// Transition counts a state change
func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

// BindingOpened increments the live binding gauge
func (m *Metrics) BindingOpened() {
	if m == nil {
		return
	}
	m.bindings.Inc()
}

// BindingClosed decrements the live binding gauge
func (m *Metrics) BindingClosed() {
	if m == nil {
		return
	}
	m.bindings.Dec()
}
