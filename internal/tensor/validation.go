package tensor

import (
	"fmt"
	"math"
)

type ValidationError struct {
	Op   string
	Msg  string
	Path string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Msg, e.Path)
}

func NewValidationError(op, msg, path string) *ValidationError {
	return &ValidationError{Op: op, Msg: msg, Path: path}
}

type NaNInfo struct {
	Count     int
	Positions []int
	HasInf    bool
	InfCount  int
}

func (n *NaNInfo) IsValid() bool {
	return n.Count == 0 && !n.HasInf
}

// DetectNaN scans data and keeps up to maxPositions NaN indices.
func DetectNaN(data []float32, maxPositions int) *NaNInfo {
	info := &NaNInfo{}
	for i, v := range data {
		if math.IsNaN(float64(v)) {
			info.Count++
			if len(info.Positions) < maxPositions {
				info.Positions = append(info.Positions, i)
			}
		}
		if math.IsInf(float64(v), 0) {
			info.HasInf = true
			info.InfCount++
		}
	}
	return info
}

// Stats summarizes a tensor for mismatch diagnostics.
type Stats struct {
	Max    float32
	Min    float32
	Mean   float32
	RMS    float32
	Zeros  int
	NaNs   int
	Infs   int
	Sample []float32
}

// ComputeStats ignores NaN/Inf values for the moments and counts them instead.
func ComputeStats(data []float32, sampleSize int) Stats {
	var st Stats
	var sum, sumSq float64
	first := true
	for _, v := range data {
		if math.IsNaN(float64(v)) {
			st.NaNs++
			continue
		}
		if math.IsInf(float64(v), 0) {
			st.Infs++
			continue
		}
		if v == 0 {
			st.Zeros++
		}
		if first || v > st.Max {
			st.Max = v
		}
		if first || v < st.Min {
			st.Min = v
		}
		first = false
		sum += float64(v)
		sumSq += float64(v) * float64(v)
	}

	if n := len(data) - st.NaNs - st.Infs; n > 0 {
		st.Mean = float32(sum / float64(n))
		st.RMS = float32(math.Sqrt(sumSq / float64(n)))
	}

	limit := sampleSize
	if limit > 32 {
		limit = 32
	}
	if len(data) < limit {
		limit = len(data)
	}
	if limit > 0 {
		st.Sample = make([]float32, limit)
		copy(st.Sample, data[:limit])
	}
	return st
}
