// Package monitoring serves the health of a long-running parity process next
// to its Prometheus metrics.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Suraj520/automl/internal/logger"
)

const (
	maxHistory = 1000
	maxAlerts  = 100
)

// HealthStatus represents the health status of the process.
type HealthStatus struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`
	System    SystemInfo    `json:"system"`
	Checks    CheckInfo     `json:"checks"`
	Alerts    []Alert       `json:"alerts"`
}

// SystemInfo contains system-level information
type SystemInfo struct {
	GoVersion      string  `json:"go_version"`
	OS             string  `json:"os"`
	Arch           string  `json:"arch"`
	NumCPU         int     `json:"num_cpu"`
	MemoryMB       int     `json:"memory_mb"`
	MemoryUsedMB   int     `json:"memory_used_mb"`
	MemoryUsagePct float64 `json:"memory_usage_pct"`
}

// CheckInfo summarizes the comparisons run so far.
type CheckInfo struct {
	Total        int       `json:"total"`
	Failed       int       `json:"failed"`
	FailureRate  float64   `json:"failure_rate"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	P95LatencyMs float64   `json:"p95_latency_ms"`
	LastCheck    time.Time `json:"last_check"`
	LastFailure  string    `json:"last_failure,omitempty"`
}

// Alert represents a monitor alert
type Alert struct {
	Level      string     `json:"level"`     // info, warning, error, critical
	Component  string     `json:"component"` // parity, system
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

type checkPoint struct {
	Timestamp time.Time
	Name      string
	Pass      bool
	Duration  time.Duration
}

// HealthMonitor tracks check results and alerts and serves them over HTTP.
type HealthMonitor struct {
	startTime time.Time
	server    *http.Server
	// SlowCheck raises a warning for checks that take longer.
	SlowCheck time.Duration

	mu      sync.RWMutex
	alerts  []Alert
	history []checkPoint
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		startTime: time.Now(),
		SlowCheck: time.Minute,
	}
}

// Handler returns the monitor's routes: /health, /healthz, /status,
// /metrics and the alert admin endpoints.
func (hm *HealthMonitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hm.handleHealth)
	mux.HandleFunc("/healthz", hm.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", hm.handleDetailedStatus)
	mux.HandleFunc("/admin/alerts", hm.handleAlerts)
	mux.HandleFunc("/admin/clear-alerts", hm.handleClearAlerts)
	mux.HandleFunc("/admin/resolve-alert", hm.handleResolveAlert)
	return mux
}

// Start serves Handler on addr until Stop is called.
func (hm *HealthMonitor) Start(addr string) error {
	hm.server = &http.Server{
		Addr:         addr,
		Handler:      hm.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Log.Info("Health monitor starting", "addr", addr)
	err := hm.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (hm *HealthMonitor) Stop(ctx context.Context) error {
	if hm.server != nil {
		return hm.server.Shutdown(ctx)
	}
	return nil
}

// RecordCheck records the outcome of one comparison.
func (hm *HealthMonitor) RecordCheck(name string, pass bool, duration time.Duration) {
	point := checkPoint{Timestamp: time.Now(), Name: name, Pass: pass, Duration: duration}
	hm.mu.Lock()
	hm.history = append(hm.history, point)
	if len(hm.history) > maxHistory {
		hm.history = hm.history[1:]
	}
	hm.mu.Unlock()

	if !pass {
		hm.AddAlert("error", "parity", fmt.Sprintf("Check %s found a mismatch", name))
	}
	if hm.SlowCheck > 0 && duration > hm.SlowCheck {
		hm.AddAlert("warning", "parity", fmt.Sprintf("Slow check %s: %s", name, duration))
	}
}

func (hm *HealthMonitor) AddAlert(level, component, message string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.alerts = append(hm.alerts, Alert{
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	})
	if len(hm.alerts) > maxAlerts {
		hm.alerts = hm.alerts[1:]
	}
	logger.Log.Warn("Alert raised", "level", level, "component", component, "message", message)
}

// ResolveAlert marks the alert at index resolved. It reports false when
// there is no such alert.
func (hm *HealthMonitor) ResolveAlert(index int) bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if index < 0 || index >= len(hm.alerts) {
		return false
	}
	now := time.Now()
	hm.alerts[index].Resolved = true
	hm.alerts[index].ResolvedAt = &now
	return true
}

// Status computes the current health. Unresolved error alerts degrade it,
// unresolved critical alerts make it critical.
func (hm *HealthMonitor) Status() HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := "healthy"
	for _, alert := range hm.alerts {
		if alert.Resolved {
			continue
		}
		if alert.Level == "critical" {
			status = "critical"
			break
		}
		if alert.Level == "error" {
			status = "degraded"
		}
	}
	alerts := make([]Alert, len(hm.alerts))
	copy(alerts, hm.alerts)

	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime),
		System:    systemInfo(),
		Checks:    hm.checkInfo(),
		Alerts:    alerts,
	}
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:      runtime.Version(),
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
		NumCPU:         runtime.NumCPU(),
		MemoryMB:       int(m.Sys / 1024 / 1024),
		MemoryUsedMB:   int(m.Alloc / 1024 / 1024),
		MemoryUsagePct: float64(m.Alloc) / float64(m.Sys) * 100,
	}
}

// checkInfo must be called with mu held.
func (hm *HealthMonitor) checkInfo() CheckInfo {
	info := CheckInfo{Total: len(hm.history)}
	if info.Total == 0 {
		return info
	}
	var total time.Duration
	latencies := make([]float64, 0, len(hm.history))
	for _, p := range hm.history {
		total += p.Duration
		latencies = append(latencies, float64(p.Duration.Nanoseconds())/1e6)
		if !p.Pass {
			info.Failed++
			info.LastFailure = p.Name
		}
	}
	sort.Float64s(latencies)
	p95 := int(float64(len(latencies)) * 0.95)
	if p95 >= len(latencies) {
		p95 = len(latencies) - 1
	}
	info.FailureRate = float64(info.Failed) / float64(info.Total)
	info.AvgLatencyMs = float64(total.Nanoseconds()) / float64(info.Total) / 1e6
	info.P95LatencyMs = latencies[p95]
	info.LastCheck = hm.history[len(hm.history)-1].Timestamp
	return info
}

func (hm *HealthMonitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := hm.Status()
	w.Header().Set("Content-Type", "application/json")
	if status.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]string{
		"status":    status.Status,
		"timestamp": status.Timestamp.Format(time.RFC3339),
	})
}

func (hm *HealthMonitor) handleDetailedStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(hm.Status())
}

func (hm *HealthMonitor) handleAlerts(w http.ResponseWriter, r *http.Request) {
	hm.mu.RLock()
	alerts := make([]Alert, len(hm.alerts))
	copy(alerts, hm.alerts)
	hm.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(alerts)
}

func (hm *HealthMonitor) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	hm.mu.Lock()
	hm.alerts = hm.alerts[:0]
	hm.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "alerts cleared"})
}

// handleResolveAlert resolves the alert given by ?index=N, as listed by
// /admin/alerts.
func (hm *HealthMonitor) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil {
		http.Error(w, "index must be an integer", http.StatusBadRequest)
		return
	}
	if !hm.ResolveAlert(index) {
		http.Error(w, fmt.Sprintf("no alert at index %d", index), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "alert resolved"})
}
