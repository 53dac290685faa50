package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthFollowsChecks(t *testing.T) {
	hm := NewHealthMonitor()
	h := hm.Handler()

	rec := get(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	hm.RecordCheck("bifpn_variable_names", true, 10*time.Millisecond)
	hm.RecordCheck("resample_outputs_grid", false, 30*time.Millisecond)

	rec = get(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])

	assert.True(t, hm.ResolveAlert(0))
	assert.False(t, hm.ResolveAlert(5))
	assert.Equal(t, "healthy", hm.Status().Status)
}

func TestStatusSummarizesChecks(t *testing.T) {
	hm := NewHealthMonitor()
	hm.RecordCheck("a", true, 10*time.Millisecond)
	hm.RecordCheck("b", false, 30*time.Millisecond)

	rec := get(t, hm.Handler(), http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))

	assert.Equal(t, 2, status.Checks.Total)
	assert.Equal(t, 1, status.Checks.Failed)
	assert.InDelta(t, 0.5, status.Checks.FailureRate, 1e-9)
	assert.InDelta(t, 20.0, status.Checks.AvgLatencyMs, 1e-6)
	assert.Equal(t, "b", status.Checks.LastFailure)
	require.Len(t, status.Alerts, 1)
	assert.Equal(t, "parity", status.Alerts[0].Component)
}

func TestSlowCheckWarns(t *testing.T) {
	hm := NewHealthMonitor()
	hm.SlowCheck = time.Millisecond
	hm.RecordCheck("slow", true, time.Second)

	status := hm.Status()
	require.Len(t, status.Alerts, 1)
	assert.Equal(t, "warning", status.Alerts[0].Level)
	assert.Equal(t, "healthy", status.Status)
}

func TestClearAlerts(t *testing.T) {
	hm := NewHealthMonitor()
	hm.AddAlert("critical", "system", "out of memory")
	assert.Equal(t, "critical", hm.Status().Status)

	h := hm.Handler()
	assert.Equal(t, http.StatusMethodNotAllowed, get(t, h, http.MethodGet, "/admin/clear-alerts").Code)
	assert.Equal(t, http.StatusOK, get(t, h, http.MethodPost, "/admin/clear-alerts").Code)

	rec := get(t, h, http.MethodGet, "/admin/alerts")
	var alerts []Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	assert.Empty(t, alerts)
}

func TestResolveAlertRoute(t *testing.T) {
	hm := NewHealthMonitor()
	hm.RecordCheck("bifpn_variable_names", false, time.Millisecond)
	h := hm.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		code   int
	}{
		{"wrong method", http.MethodGet, "/admin/resolve-alert?index=0", http.StatusMethodNotAllowed},
		{"missing index", http.MethodPost, "/admin/resolve-alert", http.StatusBadRequest},
		{"unknown index", http.MethodPost, "/admin/resolve-alert?index=3", http.StatusNotFound},
		{"resolve", http.MethodPost, "/admin/resolve-alert?index=0", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, get(t, h, tt.method, tt.path).Code)
		})
	}

	rec := get(t, h, http.MethodGet, "/admin/alerts")
	var alerts []Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Resolved)
	assert.NotNil(t, alerts[0].ResolvedAt)
	assert.Equal(t, http.StatusOK, get(t, h, http.MethodGet, "/healthz").Code)
}

func TestMetricsRoute(t *testing.T) {
	rec := get(t, NewHealthMonitor().Handler(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
