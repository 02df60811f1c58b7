package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestMustNewMetricsReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)
	first.ObserveHTTP("/v1/tasks", "GET", 200, time.Millisecond)
	second.ObserveHTTP("/v1/tasks", "GET", 200, time.Millisecond)
	rec := httptest.NewRecorder()
	first.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Contains(t, rec.Body.String(), `constellation_http_requests_total{method="GET",route="/v1/tasks",status="200"} 2`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveHTTP("/", "GET", 200, time.Second)
	m.SetActivePresence(3)
	m.ObserveGeneration(time.Second, "timeout")
}

func TestHandlerExposesGenerationFailures(t *testing.T) {
	m := MustNewMetrics(nil)
	m.ObserveGeneration(time.Second, "model_unavailable")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.True(t, strings.Contains(rec.Body.String(), `constellation_agent_generation_failures_total{reason="model_unavailable"} 1`))
}
