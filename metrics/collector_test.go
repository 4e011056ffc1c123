package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorSessionLifecycle(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.SessionStarted()
	c.SessionStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(c.sessionsStarted))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.sessionsActive))

	c.SessionEnded("participant_left", 90*time.Second)
	c.SessionEnded("", time.Second)
	assert.Equal(t, float64(0), testutil.ToFloat64(c.sessionsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.sessionsEnded.WithLabelValues("participant_left")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.sessionsEnded.WithLabelValues("unknown")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.sessionDuration))
}

func TestCollectorCounters(t *testing.T) {
	c := NewCollector(nil)

	c.GreetingFailed()
	c.MetadataFallback()
	c.MetadataFallback()
	c.Interruption()
	c.FirstToken(300 * time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.greetingFailures))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.metadataFallbacks))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.interruptions))
	assert.Equal(t, 1, testutil.CollectAndCount(c.llmFirstToken))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SessionStarted()
		c.SessionEnded("timeout", time.Second)
		c.GreetingFailed()
		c.MetadataFallback()
		c.FirstToken(time.Millisecond)
		c.Interruption()
	})
}

func TestHandlerExposesNamespace(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.SessionStarted()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "voiceagent_sessions_started_total 1")
	assert.Contains(t, rec.Body.String(), "voiceagent_sessions_active 1")
}
