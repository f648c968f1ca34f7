package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RecordsCounters(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCacheSet()
	m.RecordCacheEvictions(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheMisses))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheSets))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.CacheEvictions))
}

func TestNewMetrics_InvocationAndBreaker(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordInvocation("fetch", "success", 120*time.Millisecond)
	m.RecordInvocation("fetch", "timeout", 5*time.Second)
	m.RecordRetry("fetch")
	m.UpdateBreakerState("fetch", 1)
	m.RecordBreakerTransition("fetch", "OPEN")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.InvocationsTotal.WithLabelValues("fetch", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InvocationsTotal.WithLabelValues("fetch", "timeout")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RetriesTotal.WithLabelValues("fetch")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BreakerState.WithLabelValues("fetch")))
}

func TestNewMetrics_Disabled(t *testing.T) {
	m := NewMetrics(&Config{Enabled: false})

	// Recording against disabled metrics must be a no-op, not a panic
	m.RecordCacheHit()
	m.RecordInvocation("fetch", "success", time.Second)
	m.RecordRetry("fetch")
	m.UpdateBreakerState("fetch", 0)
	m.RecordHTTPRequest(http.MethodGet, "/v1/health", 200, time.Millisecond)
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics(nil)
	b := NewMetrics(nil)

	a.RecordCacheHit()

	assert.Equal(t, float64(1), testutil.ToFloat64(a.CacheHits))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.CacheHits))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordCacheHit()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bulwark_cache_hits_total 1")
}
