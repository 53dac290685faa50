package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ComparisonsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_comparisons_total",
		Help: "Total number of variant comparisons by kind and result",
	}, []string{"kind", "result"})

	MismatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_mismatches_total",
		Help: "Total number of detected mismatches by error class",
	}, []string{"class"})

	BuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parity_build_duration_seconds",
		Help:    "Duration of one variant graph construction",
		Buckets: prometheus.DefBuckets,
	}, []string{"variant"})

	VariablesBuilt = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parity_variables_built",
		Help:    "Number of variables created by one variant build",
		Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2000},
	}, []string{"variant"})

	GridCombinations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parity_grid_combinations_total",
		Help: "Total number of parameter grid combinations evaluated",
	})

	MaxAbsError = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parity_output_max_abs_error",
		Help:    "Maximum absolute error between variant outputs",
		Buckets: []float64{0, 1e-9, 1e-7, 1e-6, 1e-5, 1e-4, 1e-3, 1e-2, 1e-1, 1},
	})

	KernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "graph_kernel_duration_seconds",
		Help:    "Histogram of session kernel execution times",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	GraphsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graph_contexts_created_total",
		Help: "Total number of isolated build contexts created",
	})

	TensorBytesAllocated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tensor_bytes_allocated",
		Help: "Current bytes held by materialized tensors",
	})

	NumericalInstability = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "numerical_instability_total",
		Help: "Total number of NaN/Inf values detected in compared outputs",
	}, []string{"tensor", "type"})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_errors_total",
		Help: "Total number of construction/validation errors",
	}, []string{"operation", "error_type"})
)

func RecordComparison(kind string, passed bool) {
	result := "pass"
	if !passed {
		result = "fail"
	}
	ComparisonsTotal.WithLabelValues(kind, result).Inc()
}

func RecordMismatch(class string) {
	MismatchesTotal.WithLabelValues(class).Inc()
}

func RecordBuild(variant string, variables int, duration time.Duration) {
	BuildDuration.WithLabelValues(variant).Observe(duration.Seconds())
	VariablesBuilt.WithLabelValues(variant).Observe(float64(variables))
}

func RecordGridCombination() {
	GridCombinations.Inc()
}

func RecordMaxAbsError(v float64) {
	MaxAbsError.Observe(v)
}

func RecordKernelDuration(op string, duration time.Duration) {
	KernelDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordGraphCreated() {
	GraphsCreated.Inc()
}

func RecordTensorMemory(bytes int64) {
	TensorBytesAllocated.Set(float64(bytes))
}

func RecordNumericalInstability(name string, nanCount, infCount int) {
	if nanCount > 0 {
		NumericalInstability.WithLabelValues(name, "nan").Add(float64(nanCount))
	}
	if infCount > 0 {
		NumericalInstability.WithLabelValues(name, "inf").Add(float64(infCount))
	}
}

func RecordValidationError(operation, errorType string) {
	ValidationErrors.WithLabelValues(operation, errorType).Inc()
}
