package tensor

import (
	"math"
	"testing"
)

func TestParseDType(t *testing.T) {
	tests := []struct {
		in   string
		want DType
		err  bool
	}{
		{"", Float32, false},
		{"float16", Float16, false},
		{"bfloat16", BFloat16, false},
		{"double", Float64, false},
		{"int8", Float32, true},
	}
	for _, tt := range tests {
		got, err := ParseDType(tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ParseDType(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestRound(t *testing.T) {
	if got := Round(1+1.0/512, BFloat16); got != 1 {
		t.Errorf("bfloat16 round = %v, want 1", got)
	}
	if got := Round(1.0/3, Float16); got != 0.33325195 {
		t.Errorf("float16 round = %v", got)
	}
	if got := Round(1.0/3, Float32); got != float32(1.0/3) {
		t.Errorf("float32 round = %v", got)
	}
	if !math.IsNaN(float64(Round(float32(math.NaN()), BFloat16))) {
		t.Error("NaN should survive rounding")
	}
}

func TestAllClose(t *testing.T) {
	nan := float32(math.NaN())
	tol := ToleranceFor(Float32)
	tests := []struct {
		name       string
		got, want  []float32
		pass       bool
		firstIndex int
	}{
		{"equal", []float32{1, 2, 3}, []float32{1, 2, 3}, true, -1},
		{"within", []float32{1, 2 + 1e-6}, []float32{1, 2}, true, -1},
		{"outside", []float32{1, 2.01}, []float32{1, 2}, false, 1},
		{"nan both", []float32{nan, 1}, []float32{nan, 1}, true, -1},
		{"nan one side", []float32{1, nan}, []float32{1, 1}, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := AllClose(tt.got, tt.want, tol)
			if err != nil {
				t.Fatal(err)
			}
			if res.Pass != tt.pass || res.FirstIndex != tt.firstIndex {
				t.Errorf("pass=%v first=%d, want pass=%v first=%d", res.Pass, res.FirstIndex, tt.pass, tt.firstIndex)
			}
		})
	}
	if _, err := AllClose([]float32{1}, []float32{1, 2}, tol); err == nil {
		t.Error("expected length mismatch")
	}
}

func TestAllCloseAccordingToType(t *testing.T) {
	a, _ := FromSlice([]float32{1, 2.0005}, 2)
	b, _ := FromSlice([]float32{1, 2}, 2)
	if res, _ := AllCloseAccordingToType(a, b, Float32); res.Pass {
		t.Error("float32 should reject 5e-4 difference")
	}
	if res, _ := AllCloseAccordingToType(a, b, Float16); !res.Pass {
		t.Error("float16 should accept 5e-4 difference")
	}
	if _, err := AllCloseAccordingToType(a, New(3), Float32); err == nil {
		t.Error("expected shape mismatch")
	}
}

func TestDetectNaNAndStats(t *testing.T) {
	data := []float32{1, float32(math.NaN()), 0, float32(math.Inf(1)), 3}
	info := DetectNaN(data, 4)
	if info.Count != 1 || !info.HasInf || info.IsValid() {
		t.Errorf("nan info = %+v", info)
	}
	st := ComputeStats(data, 100)
	if st.NaNs != 1 || st.Infs != 1 || st.Zeros != 1 || st.Max != 3 || st.Min != 0 {
		t.Errorf("stats = %+v", st)
	}
	if len(st.Sample) != len(data) {
		t.Errorf("sample length = %d", len(st.Sample))
	}
}
