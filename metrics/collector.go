// Package metrics records per-session counters for the voice worker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "voiceagent"

// Collector holds the session metrics. All methods are safe on a nil
// receiver so callers can run without metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	sessionsStarted   prometheus.Counter
	sessionsEnded     *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
	sessionDuration   prometheus.Histogram
	greetingFailures  prometheus.Counter
	metadataFallbacks prometheus.Counter
	llmFirstToken     prometheus.Histogram
	interruptions     prometheus.Counter
}

// NewCollector registers the session metrics on reg. A nil reg uses a fresh
// registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Collector{
		gatherer: reg,
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_started_total",
			Help:      "Voice sessions started.",
		}),
		sessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_ended_total",
			Help:      "Voice sessions ended, by reason.",
		}, []string{"reason"}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "sessions_active",
			Help:      "Voice sessions currently running.",
		}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "session_duration_seconds",
			Help:      "Voice session wall time.",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		}),
		greetingFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "greeting_failures_total",
			Help:      "Opening greetings that failed or timed out.",
		}),
		metadataFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "metadata_fallbacks_total",
			Help:      "Sessions that fell back to the default persona after malformed room metadata.",
		}),
		llmFirstToken: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "llm_time_to_first_token_seconds",
			Help:      "Delay between an LLM request and its first streamed token.",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.35, 0.5, 0.75, 1, 2, 5},
		}),
		interruptions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "interruptions_total",
			Help:      "Confirmed user barge-ins on agent speech.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.sessionsStarted.Inc()
	c.sessionsActive.Inc()
}

func (c *Collector) SessionEnded(reason string, elapsed time.Duration) {
	if c == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	c.sessionsEnded.WithLabelValues(reason).Inc()
	c.sessionsActive.Dec()
	c.sessionDuration.Observe(elapsed.Seconds())
}

func (c *Collector) GreetingFailed() {
	if c == nil {
		return
	}
	c.greetingFailures.Inc()
}

func (c *Collector) MetadataFallback() {
	if c == nil {
		return
	}
	c.metadataFallbacks.Inc()
}

func (c *Collector) FirstToken(d time.Duration) {
	if c == nil {
		return
	}
	c.llmFirstToken.Observe(d.Seconds())
}

func (c *Collector) Interruption() {
	if c == nil {
		return
	}
	c.interruptions.Inc()
}
