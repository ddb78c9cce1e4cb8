// Package metrics exposes Prometheus instrumentation for the gateway.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every metric the gateway records.
type Collector struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	sessionsActive    prometheus.Gauge
	sessionsExpired   prometheus.Counter

	audioBytes    *prometheus.CounterVec
	queueDropped  prometheus.Counter
	recognitions  *prometheus.CounterVec
	recognizeTime prometheus.Histogram
	translations  *prometheus.CounterVec
	framesOut     *prometheus.CounterVec
}

// NewCollector creates a collector backed by its own registry so tests and
// multiple servers in one process do not collide.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		connectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open call connections",
		}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live sessions",
		}),
		sessionsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions removed by the inactivity sweep",
		}),
		audioBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Inbound audio bytes by client role",
		}, []string{"role"}),
		queueDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Messages evicted from full client queues",
		}),
		recognitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognitions_total",
			Help:      "Recognizer calls by outcome",
		}, []string{"status"}),
		recognizeTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognition_duration_seconds",
			Help:      "Recognizer call latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		translations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translations_total",
			Help:      "Translator calls by outcome",
		}, []string{"status"}),
		framesOut: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Outbound frames by type",
		}, []string{"type"}),
	}
}

// Registry returns the registry to expose over HTTP.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Inc()
}

func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Dec()
}

// SetSessions records the current number of live sessions.
func (c *Collector) SetSessions(n int) {
	if c == nil {
		return
	}
	c.sessionsActive.Set(float64(n))
}

func (c *Collector) SessionsExpired(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.sessionsExpired.Add(float64(n))
}

func (c *Collector) AudioReceived(role string, n int) {
	if c == nil {
		return
	}
	c.audioBytes.WithLabelValues(role).Add(float64(n))
}

func (c *Collector) QueueDropped() {
	if c == nil {
		return
	}
	c.queueDropped.Inc()
}

// RecognitionDone records one recognizer call.
func (c *Collector) RecognitionDone(d time.Duration, err error) {
	if c == nil {
		return
	}
	c.recognizeTime.Observe(d.Seconds())
	c.recognitions.WithLabelValues(status(err)).Inc()
}

func (c *Collector) TranslationDone(err error) {
	if c == nil {
		return
	}
	c.translations.WithLabelValues(status(err)).Inc()
}

func (c *Collector) FrameSent(frameType string) {
	if c == nil {
		return
	}
	c.framesOut.WithLabelValues(frameType).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
