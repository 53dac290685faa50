package tensor

import (
	"fmt"
	"math"

	"github.com/x448/float16"
)

// DType is the precision a comparison is carried out in. Kernels always
// compute in float32; reduced precisions round both sides before comparing.
type DType int

const (
	Float32 DType = iota
	Float16
	BFloat16
	Float64
)

func (d DType) String() string {
	switch d {
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	case Float64:
		return "float64"
	default:
		return "float32"
	}
}

func ParseDType(s string) (DType, error) {
	switch s {
	case "", "float32":
		return Float32, nil
	case "float16", "half":
		return Float16, nil
	case "bfloat16":
		return BFloat16, nil
	case "float64", "double":
		return Float64, nil
	}
	return Float32, fmt.Errorf("unknown dtype %q", s)
}

// Tolerance is an absolute/relative closeness bound: |a-b| <= Abs + Rel*|b|.
type Tolerance struct {
	Abs float64
	Rel float64
}

// ToleranceFor returns the default tolerance for a precision; reduced
// precisions are looser.
func ToleranceFor(d DType) Tolerance {
	switch d {
	case Float16:
		return Tolerance{Abs: 1e-3, Rel: 1e-3}
	case BFloat16:
		return Tolerance{Abs: 1e-2, Rel: 1e-2}
	default:
		return Tolerance{Abs: 1e-6, Rel: 1e-6}
	}
}

// Round quantizes v to the given precision and widens it back to float32.
func Round(v float32, d DType) float32 {
	switch d {
	case Float16:
		return float16.Fromfloat32(v).Float32()
	case BFloat16:
		return roundBFloat16(v)
	default:
		return v
	}
}

// roundBFloat16 keeps the top 16 bits of the float32 encoding with
// round-to-nearest-even. No library in use provides bfloat16.
func roundBFloat16(v float32) float32 {
	if math.IsNaN(float64(v)) {
		return v
	}
	bits := math.Float32bits(v)
	bits += 0x7fff + ((bits >> 16) & 1)
	return math.Float32frombits(bits & 0xffff0000)
}

// CloseResult describes the worst deviation between two tensors.
type CloseResult struct {
	MaxAbsErr  float64
	MaxRelErr  float64
	FirstIndex int
	Got        float32
	Want       float32
	Mismatches int
	Pass       bool
}

// AllClose compares got against want element-wise. NaNs in the same
// position compare equal; a NaN on one side only is a mismatch.
func AllClose(got, want []float32, tol Tolerance) (CloseResult, error) {
	res := CloseResult{FirstIndex: -1}
	if len(got) != len(want) {
		return res, fmt.Errorf("length mismatch: %d vs %d", len(got), len(want))
	}
	for i := range got {
		a, b := float64(got[i]), float64(want[i])
		aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
		if aNaN && bNaN {
			continue
		}
		ok := false
		var absErr float64
		if aNaN || bNaN {
			absErr = math.Inf(1)
		} else if a == b {
			ok = true
		} else {
			absErr = math.Abs(a - b)
			ok = absErr <= tol.Abs+tol.Rel*math.Abs(b)
		}
		if absErr > res.MaxAbsErr {
			res.MaxAbsErr = absErr
		}
		if b != 0 && !math.IsInf(absErr, 0) {
			if rel := absErr / math.Abs(b); rel > res.MaxRelErr {
				res.MaxRelErr = rel
			}
		}
		if !ok {
			if res.FirstIndex < 0 {
				res.FirstIndex = i
				res.Got = got[i]
				res.Want = want[i]
			}
			res.Mismatches++
		}
	}
	res.Pass = res.Mismatches == 0
	return res, nil
}

// AllCloseAccordingToType rounds both sides to d and applies its default tolerance.
func AllCloseAccordingToType(got, want *Tensor, d DType) (CloseResult, error) {
	return AllCloseWithin(got, want, d, ToleranceFor(d))
}

// AllCloseWithin rounds both sides to d and compares them under tol.
func AllCloseWithin(got, want *Tensor, d DType, tol Tolerance) (CloseResult, error) {
	if !SameShape(got.shape, want.shape) {
		return CloseResult{FirstIndex: -1}, fmt.Errorf("shape mismatch: %s vs %s", ShapeString(got.shape), ShapeString(want.shape))
	}
	g, w := got.data, want.data
	if d == Float16 || d == BFloat16 {
		g = make([]float32, len(got.data))
		w = make([]float32, len(want.data))
		for i := range g {
			g[i] = Round(got.data[i], d)
			w[i] = Round(want.data[i], d)
		}
	}
	return AllClose(g, w, tol)
}
