package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/Suraj520/automl/internal/tensor"
)

func TestScopesAndVariableNames(t *testing.T) {
	g := New(WithSeed(1))
	err := g.WithScope("outer", func() error {
		if got := g.Scope(); got != "outer" {
			t.Errorf("scope = %q", got)
		}
		return g.WithScope("inner", func() error {
			_, err := g.GetVariable("kernel", []int{3, 3}, tensor.GlorotUniform)
			return err
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if g.Scope() != "" {
		t.Errorf("scope not restored: %q", g.Scope())
	}
	names := Names(g.GlobalVariables())
	if len(names) != 1 || names[0] != "outer/inner/kernel:0" {
		t.Errorf("names = %v", names)
	}
	if _, ok := g.Lookup("outer/inner/kernel"); !ok {
		t.Error("lookup by op name failed")
	}
}

func TestGetVariableReuse(t *testing.T) {
	tests := []struct {
		name    string
		reuse   Reuse
		create  bool
		wantErr bool
	}{
		{"no reuse duplicate", NoReuse, true, true},
		{"auto reuse duplicate", AutoReuse, true, false},
		{"reuse existing", ReuseExisting, true, false},
		{"reuse missing", ReuseExisting, false, true},
		{"auto reuse missing", AutoReuse, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			var first *Variable
			if tt.create {
				err := g.WithScope("s", func() error {
					var err error
					first, err = g.GetVariable("w", []int{2}, tensor.Zeros)
					return err
				})
				if err != nil {
					t.Fatal(err)
				}
			}
			var second *Variable
			err := g.WithScope("s", func() error {
				var err error
				second, err = g.GetVariable("w", []int{2}, tensor.Zeros)
				return err
			}, WithReuse(tt.reuse))
			if tt.wantErr {
				var ve *VariableError
				if !errors.As(err, &ve) {
					t.Fatalf("expected VariableError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if tt.create && first != second {
				t.Error("expected the existing variable to be returned")
			}
			if n := len(g.GlobalVariables()); n != 1 {
				t.Errorf("variables = %d, want 1", n)
			}
		})
	}
}

func TestReuseInheritedAndShapeChecked(t *testing.T) {
	g := New()
	_ = g.WithScope("a", func() error {
		_, err := g.GetVariable("w", []int{2}, tensor.Zeros)
		return err
	})
	err := g.WithScope("a", func() error {
		if g.CurrentReuse() != AutoReuse {
			t.Errorf("reuse = %v", g.CurrentReuse())
		}
		_, err := g.GetVariable("w", []int{3}, tensor.Zeros)
		return err
	}, WithReuse(AutoReuse))
	var ve *VariableError
	if !errors.As(err, &ve) {
		t.Fatalf("expected shape VariableError, got %v", err)
	}
}

func TestNewVariableUniquifies(t *testing.T) {
	g := New()
	_ = g.WithScope("fnode0", func() error {
		for i := 0; i < 3; i++ {
			g.NewVariable("WSM", nil, tensor.Ones)
		}
		return nil
	})
	want := []string{"fnode0/WSM:0", "fnode0/WSM_1:0", "fnode0/WSM_2:0"}
	got := Names(g.GlobalVariables())
	if len(got) != len(want) {
		t.Fatalf("names = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("name %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestUniqueLayerName(t *testing.T) {
	g := New()
	var got []string
	_ = g.WithScope("blocks_0", func() error {
		got = append(got, g.UniqueLayerName("conv2d"))
		got = append(got, g.UniqueLayerName("tpu_batch_normalization"))
		_ = g.WithScope("se", func() error {
			got = append(got, g.UniqueLayerName("conv2d"))
			got = append(got, g.UniqueLayerName("conv2d"))
			return nil
		})
		got = append(got, g.UniqueLayerName("conv2d"))
		return nil
	})
	want := []string{"conv2d", "tpu_batch_normalization", "conv2d", "conv2d_1", "conv2d_1"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("name %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestTrainableVariables(t *testing.T) {
	g := New()
	_, _ = g.GetVariable("gamma", []int{2}, tensor.Ones)
	_, _ = g.GetVariable("moving_mean", []int{2}, tensor.Zeros, NonTrainable())
	_, _ = g.GetVariable("beta", []int{2}, tensor.Zeros)
	got := Names(g.TrainableVariables())
	if len(got) != 2 || got[0] != "gamma:0" || got[1] != "beta:0" {
		t.Errorf("trainable = %v", got)
	}
	if n := len(g.GlobalVariables()); n != 3 {
		t.Errorf("global = %d", n)
	}
}

func TestGraphsAreIsolated(t *testing.T) {
	a, b := New(), New()
	if a.ID() == b.ID() {
		t.Error("graphs should have distinct IDs")
	}
	_, _ = a.GetVariable("w", []int{1}, tensor.Zeros)
	if len(b.GlobalVariables()) != 0 {
		t.Error("variables leaked across graphs")
	}
	x := a.Placeholder("x", 1, 2, 2, 1)
	if _, err := b.Add(x, x); err == nil {
		t.Error("expected cross-graph error")
	}
}

func TestShapeInference(t *testing.T) {
	g := New()
	x := g.Placeholder("x", 1, 16, 16, 320)
	k := g.Const(tensor.New(1, 1, 320, 64))
	y, err := g.Conv2D(x, k, [2]int{1, 1}, tensor.Same)
	if err != nil {
		t.Fatal(err)
	}
	p, err := g.Pool2D(y, tensor.MaxPool, [2]int{3, 3}, [2]int{2, 2}, tensor.Same)
	if err != nil {
		t.Fatal(err)
	}
	if got := tensor.ShapeString(p.Shape()); got != "[1,8,8,64]" {
		t.Errorf("pool shape = %s", got)
	}
	if _, err := g.Conv2D(x, g.Const(tensor.New(1, 1, 3, 8)), [2]int{1, 1}, tensor.Same); err == nil {
		t.Error("expected channel mismatch")
	} else {
		var se *ShapeError
		if !errors.As(err, &se) || se.Op != "conv2d" {
			t.Errorf("unexpected error %v", err)
		}
	}
	if _, err := g.Add(p, g.Placeholder("z", 1, 4, 4, 64)); err == nil {
		t.Error("expected broadcast error")
	}
}

func TestSessionRunDeterministic(t *testing.T) {
	build := func(scope string) (*Graph, *Node, *Node) {
		g := New(WithSeed(111111))
		x := g.Placeholder("x", 1, 4, 4, 2)
		var out *Node
		_ = g.WithScope(scope, func() error {
			k, err := g.GetVariable("kernel", []int{1, 1, 2, 3}, tensor.GlorotUniform)
			if err != nil {
				return err
			}
			out, err = g.Conv2D(x, k.Value(), [2]int{1, 1}, tensor.Same)
			return err
		})
		return g, x, out
	}
	input := tensor.RandomUniform(tensor.NewRNG(7, 0), 0, 1, 1, 4, 4, 2)

	run := func(scope string) *tensor.Tensor {
		g, x, out := build(scope)
		s := NewSession(g)
		defer s.Close()
		if err := s.Feed(x, input); err != nil {
			t.Fatal(err)
		}
		res, err := s.Run(context.Background(), out)
		if err != nil {
			t.Fatal(err)
		}
		return res[0]
	}
	a := run("resample_resample_p0")
	b := run("resample_p0")
	res, err := tensor.AllClose(a.Data(), b.Data(), tensor.ToleranceFor(tensor.Float32))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Pass || res.MaxAbsErr != 0 {
		t.Errorf("outputs differ: %+v", res)
	}
}

func TestSessionErrors(t *testing.T) {
	g := New()
	x := g.Placeholder("x", 1, 2, 2, 1)
	y, _ := g.Relu(x)
	s := NewSession(g)
	defer s.Close()
	if _, err := s.Run(context.Background(), y); err == nil {
		t.Error("expected unfed placeholder error")
	}
	if err := s.Feed(x, tensor.New(1, 3, 3, 1)); err == nil {
		t.Error("expected feed shape error")
	}
	if err := s.Feed(y, tensor.New(1, 2, 2, 1)); err == nil {
		t.Error("expected non-placeholder feed error")
	}
	if err := s.Feed(x, tensor.Full(-1, 1, 2, 2, 1)); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Run(ctx, y); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	out, err := s.Run(context.Background(), y)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range out[0].Data() {
		if v != 0 {
			t.Fatalf("relu(-1) = %v", v)
		}
	}
}

func TestRandomUniformSeeded(t *testing.T) {
	draw := func(seed int64) []float32 {
		g := New(WithSeed(seed))
		r := g.RandomUniform(0, 1, 2, 1, 1, 1)
		s := NewSession(g)
		defer s.Close()
		out, err := s.Run(context.Background(), r)
		if err != nil {
			t.Fatal(err)
		}
		return out[0].Data()
	}
	a, b, c := draw(5), draw(5), draw(6)
	if a[0] != b[0] || a[1] != b[1] {
		t.Error("same seed should reproduce draws")
	}
	if a[0] == c[0] && a[1] == c[1] {
		t.Error("different seeds should differ")
	}
}
