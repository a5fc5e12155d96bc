package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordProvisioning("completed")
	c.RecordProvisioning("completed")
	c.RecordProvisioning("compensated")
	c.RecordWebhook("payments", "ok")
	c.RecordGateCheck(false)

	assert.Equal(t, 2.0, counterValue(t, reg, "fanclub_provisioning_runs_total", map[string]string{"outcome": "completed"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "fanclub_provisioning_runs_total", map[string]string{"outcome": "compensated"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "fanclub_webhooks_total", map[string]string{"type": "payments", "result": "ok"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "fanclub_gate_checks_total", map[string]string{"owns_token": "false"}))
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordHTTPRequest("GET", "/healthz", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `fanclub_http_request_duration_seconds_count{method="GET",route="/healthz",status="200"} 1`)
}
