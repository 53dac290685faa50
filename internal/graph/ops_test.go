package graph

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Suraj520/automl/internal/metrics"
	"github.com/Suraj520/automl/internal/tensor"
)

func seq(shape ...int) *tensor.Tensor {
	t := tensor.New(shape...)
	for i := range t.Data() {
		t.Data()[i] = float32(i)
	}
	return t
}

func mustNode(t *testing.T) func(*Node, error) *Node {
	return func(n *Node, err error) *Node {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		return n
	}
}

func eval(t *testing.T, g *Graph, fetch *Node) []float32 {
	t.Helper()
	s := NewSession(g)
	defer s.Close()
	out, err := s.Run(context.Background(), fetch)
	if err != nil {
		t.Fatal(err)
	}
	if !tensor.SameShape(out[0].Shape(), fetch.Shape()) {
		t.Fatalf("shape %s, want %s", tensor.ShapeString(out[0].Shape()), tensor.ShapeString(fetch.Shape()))
	}
	return out[0].Data()
}

func assertValues(t *testing.T, got, want []float32) {
	t.Helper()
	if len(got) < len(want) {
		t.Fatalf("got %d values, want at least %d", len(got), len(want))
	}
	for i, v := range want {
		if math.Abs(float64(got[i]-v)) > 1e-5 {
			t.Errorf("out[%d] = %v, want %v", i, got[i], v)
		}
	}
}

func TestConv2DSamePadding(t *testing.T) {
	must := mustNode(t)
	g := New()
	x := g.Const(tensor.Full(1, 1, 3, 3, 1))
	k := g.Const(tensor.Full(1, 3, 3, 1, 1))
	y := must(g.Conv2D(x, k, [2]int{1, 1}, tensor.Same))
	assertValues(t, eval(t, g, y), []float32{4, 6, 4, 6, 9, 6, 4, 6, 4})
}

func TestConv2DStridedSameOffsets(t *testing.T) {
	must := mustNode(t)
	g := New()
	// 4x4 input, 3x3 kernel, stride 2: the padding row and column go after the input.
	x := g.Const(seq(1, 4, 4, 1))
	k := g.Const(tensor.Full(1, 3, 3, 1, 1))
	y := must(g.Conv2D(x, k, [2]int{2, 2}, tensor.Same))
	assertValues(t, eval(t, g, y), []float32{45, 39, 66, 50})
}

func TestConv2DPointwise(t *testing.T) {
	must := mustNode(t)
	g := New()
	x := g.Const(seq(1, 2, 2, 2))
	k, _ := tensor.FromSlice([]float32{1, 0, 1, 0, 1, 1}, 1, 1, 2, 3)
	y := must(g.Conv2D(x, g.Const(k), [2]int{1, 1}, tensor.Same))
	if got := tensor.ShapeString(y.Shape()); got != "[1,2,2,3]" {
		t.Fatalf("shape = %s", got)
	}
	// pixel 1 has channels (2, 3).
	assertValues(t, eval(t, g, y)[3:], []float32{2, 3, 5})
}

func TestDepthwiseConv2D(t *testing.T) {
	must := mustNode(t)
	g := New()
	x := g.Const(tensor.Full(1, 1, 1, 1, 2))
	k, _ := tensor.FromSlice([]float32{2, 3, 5, 7}, 1, 1, 2, 2)
	y := must(g.DepthwiseConv2D(x, g.Const(k), [2]int{1, 1}, tensor.Same))
	if got := tensor.ShapeString(y.Shape()); got != "[1,1,1,4]" {
		t.Fatalf("shape = %s", got)
	}
	assertValues(t, eval(t, g, y), []float32{2, 3, 5, 7})
}

func TestPool2D(t *testing.T) {
	tests := []struct {
		name string
		kind tensor.PoolKind
		want []float32
	}{
		{"max", tensor.MaxPool, []float32{10, 11, 14, 15}},
		{"avg", tensor.AvgPool, []float32{5, 6.5, 11, 12.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			must := mustNode(t)
			g := New()
			y := must(g.Pool2D(g.Const(seq(1, 4, 4, 1)), tt.kind, [2]int{3, 3}, [2]int{2, 2}, tensor.Same))
			assertValues(t, eval(t, g, y), tt.want)
		})
	}
}

func TestPool2DNonSquareStrides(t *testing.T) {
	must := mustNode(t)
	g := New()
	y := must(g.Pool2D(g.Const(seq(1, 2, 4, 1)), tensor.MaxPool, [2]int{2, 3}, [2]int{1, 2}, tensor.Same))
	if got := tensor.ShapeString(y.Shape()); got != "[1,2,2,1]" {
		t.Fatalf("shape = %s", got)
	}
	assertValues(t, eval(t, g, y), []float32{6, 7, 6, 7})
}

func TestUpsampling(t *testing.T) {
	must := mustNode(t)
	g := New()
	x := g.Const(seq(1, 2, 2, 1))
	up := must(g.NearestUpsample(x, 2, 2))
	assertValues(t, eval(t, g, up), []float32{0, 0, 1, 1, 0, 0, 1, 1, 2, 2, 3, 3, 2, 2, 3, 3})

	rs := must(g.ResizeNearest(x, 3, 3))
	assertValues(t, eval(t, g, rs), []float32{0, 0, 1, 0, 0, 1, 2, 2, 3})

	if _, err := g.NearestUpsample(x, 0, 2); err == nil {
		t.Error("expected invalid scale error")
	}
}

func TestBinaryBroadcastValues(t *testing.T) {
	must := mustNode(t)
	g := New()
	a, _ := tensor.FromSlice([]float32{1, 2}, 2, 1)
	b, _ := tensor.FromSlice([]float32{10, 20, 30}, 1, 3)
	y := must(g.Mul(g.Const(a), g.Const(b)))
	assertValues(t, eval(t, g, y), []float32{10, 20, 30, 20, 40, 60})

	z := must(g.AddScalar(g.Const(a), 0.5))
	assertValues(t, eval(t, g, z), []float32{1.5, 2.5})

	_, err := g.Add(g.Const(tensor.New(2, 3)), g.Const(tensor.New(2)))
	var se *ShapeError
	if !errors.As(err, &se) || se.Op != "add" {
		t.Errorf("expected add shape error, got %v", err)
	}
}

func TestActivations(t *testing.T) {
	in, _ := tensor.FromSlice([]float32{-1, 0, 2, 9, 20}, 5)
	tests := []struct {
		name string
		op   func(g *Graph, x *Node) (*Node, error)
		want []float32
	}{
		{"relu", (*Graph).Relu, []float32{0, 0, 2, 9, 20}},
		{"relu6", (*Graph).Relu6, []float32{0, 0, 2, 6, 6}},
		{"sigmoid", (*Graph).Sigmoid, []float32{0.26894142, 0.5, 0.8807971, 0.9998766, 1}},
		{"swish", (*Graph).Swish, []float32{-0.26894142, 0, 1.7615942, 8.998889, 20}},
		{"floor", (*Graph).Floor, []float32{-1, 0, 2, 9, 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			must := mustNode(t)
			g := New()
			y := must(tt.op(g, g.Const(in)))
			assertValues(t, eval(t, g, y), tt.want)
		})
	}
}

func TestSoftmaxStability(t *testing.T) {
	must := mustNode(t)
	g := New()
	x := tensor.New(1, 10)
	for i := range x.Data() {
		x.Data()[i] = float32(1000 + i)
	}
	out := eval(t, g, must(g.Softmax(g.Const(x))))
	var sum float32
	for i, v := range out {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("out[%d] = %v", i, v)
		}
		sum += v
	}
	if math.Abs(float64(sum-1)) > 1e-5 {
		t.Errorf("softmax sum = %v", sum)
	}
	if out[9] <= out[8] {
		t.Error("softmax should preserve ordering")
	}
}

func TestStackTakeLastReduceSum(t *testing.T) {
	must := mustNode(t)
	g := New()
	a := g.Const(seq(2, 2))
	b := g.Const(tensor.Full(7, 2, 2))
	s := must(g.Stack(a, b))
	if got := tensor.ShapeString(s.Shape()); got != "[2,2,2]" {
		t.Fatalf("stack shape = %s", got)
	}
	assertValues(t, eval(t, g, must(g.TakeLast(s, 0))), []float32{0, 1, 2, 3})
	assertValues(t, eval(t, g, must(g.ReduceSumLast(s))), []float32{7, 8, 9, 10})
	if _, err := g.TakeLast(s, 2); err == nil {
		t.Error("expected out of range error")
	}
	if _, err := g.Stack(a, g.Const(tensor.New(3))); err == nil {
		t.Error("expected shape mismatch error")
	}
}

func TestBatchNormNormalizes(t *testing.T) {
	for _, crossReplica := range []bool{false, true} {
		must := mustNode(t)
		g := New()
		x := g.Const(seq(2, 2, 2, 3))
		mean, variance, err := g.Moments(x, crossReplica)
		if err != nil {
			t.Fatal(err)
		}
		assertValues(t, eval(t, g, mean), []float32{10.5, 11.5, 12.5})
		y := must(g.BatchNorm(x, g.Const(tensor.Full(1, 3)), g.Const(tensor.New(3)), mean, variance, 1e-3))
		m, v, err := g.Moments(y, false)
		if err != nil {
			t.Fatal(err)
		}
		for c, got := range eval(t, g, m) {
			if math.Abs(float64(got)) > 1e-4 {
				t.Errorf("cross=%v channel %d mean = %v", crossReplica, c, got)
			}
		}
		for c, got := range eval(t, g, v) {
			if math.Abs(float64(got)-1) > 1e-2 {
				t.Errorf("cross=%v channel %d variance = %v", crossReplica, c, got)
			}
		}
		if _, err := g.BatchNorm(x, g.Const(tensor.New(2)), g.Const(tensor.New(3)), mean, variance, 1e-3); err == nil {
			t.Error("expected channel mismatch error")
		}
	}
}

func TestSpatialMeanAndBiasAdd(t *testing.T) {
	must := mustNode(t)
	g := New()
	m := must(g.SpatialMean(g.Const(seq(1, 2, 2, 2))))
	if got := tensor.ShapeString(m.Shape()); got != "[1,1,1,2]" {
		t.Fatalf("shape = %s", got)
	}
	assertValues(t, eval(t, g, m), []float32{3, 4})
	b, _ := tensor.FromSlice([]float32{1, -1}, 2)
	assertValues(t, eval(t, g, must(g.BiasAdd(m, g.Const(b)))), []float32{4, 3})
}

func TestAddNAndReshape(t *testing.T) {
	must := mustNode(t)
	g := New()
	a := g.Const(seq(2, 3))
	sum := must(g.AddN(a, a, a))
	r := must(g.Reshape(sum, 3, 2))
	assertValues(t, eval(t, g, r), []float32{0, 3, 6, 9, 12, 15})
	if _, err := g.Reshape(sum, 4); err == nil {
		t.Error("expected reshape size error")
	}
}

func TestUnfedPlaceholderIsCounted(t *testing.T) {
	g := New()
	x := g.Placeholder("x", 1, 2)
	y := mustNode(t)(g.Relu(x))
	counter := metrics.ValidationErrors.WithLabelValues("placeholder", "not fed")
	before := testutil.ToFloat64(counter)
	s := NewSession(g)
	defer s.Close()
	_, err := s.Run(context.Background(), y)
	var ve *tensor.ValidationError
	if !errors.As(err, &ve) || ve.Op != "placeholder" || ve.Path != "x" {
		t.Fatalf("expected placeholder validation error, got %v", err)
	}
	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Errorf("validation errors = %v, want %v", got, before+1)
	}
}
