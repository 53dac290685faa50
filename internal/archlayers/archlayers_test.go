package archlayers

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/Suraj520/automl/internal/arch"
	"github.com/Suraj520/automl/internal/config"
	"github.com/Suraj520/automl/internal/graph"
	"github.com/Suraj520/automl/internal/tensor"
)

func TestResampleReusesVariables(t *testing.T) {
	g := graph.New()
	x := g.Placeholder("x", 1, 16, 16, 32)
	r := NewResampleFeatureMap("resample_p0", ResampleOptions{TargetHeight: 8, TargetWidth: 8, TargetChannels: 16, ApplyBN: true})
	first, err := r.Call(g, x)
	if err != nil {
		t.Fatal(err)
	}
	n := len(g.GlobalVariables())
	if _, err := r.Call(g, x); err != nil {
		t.Fatal(err)
	}
	if got := len(g.GlobalVariables()); got != n {
		t.Errorf("second call created variables: %d -> %d", n, got)
	}
	if got := tensor.ShapeString(first.Shape()); got != "[1,8,8,16]" {
		t.Errorf("shape = %s", got)
	}
	want := []string{
		"resample_p0/conv2d/kernel:0",
		"resample_p0/conv2d/bias:0",
	}
	if got := graph.Names(g.TrainableVariables())[:2]; !reflect.DeepEqual(got, want) {
		t.Errorf("trainable = %v", got)
	}
}

func TestResampleRejectsNonPositiveTarget(t *testing.T) {
	for _, opts := range []ResampleOptions{
		{TargetHeight: -20, TargetWidth: 8, TargetChannels: 8},
		{TargetHeight: 8, TargetWidth: 0, TargetChannels: 8},
		{TargetHeight: 8, TargetWidth: 8, TargetChannels: 0},
	} {
		g := graph.New()
		x := g.Placeholder("x", 1, 16, 16, 32)
		_, err := NewResampleFeatureMap("resample_p0", opts).Call(g, x)
		if !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("%+v: expected ErrInvalidTarget, got %v", opts, err)
		}
	}
}

func TestResampleErrors(t *testing.T) {
	g := graph.New()
	x := g.Placeholder("x", 1, 4, 16, 8)
	r := NewResampleFeatureMap("r", ResampleOptions{TargetHeight: 8, TargetWidth: 8, TargetChannels: 8})
	if _, err := r.Call(g, x); !errors.Is(err, ErrIncompatibleSize) {
		t.Errorf("expected ErrIncompatibleSize, got %v", err)
	}
	y := g.Placeholder("y", 1, 16, 16, 8)
	r = NewResampleFeatureMap("p", ResampleOptions{TargetHeight: 8, TargetWidth: 8, TargetChannels: 8, PoolingType: "median"})
	if _, err := r.Call(g, y); err == nil {
		t.Error("expected unknown pooling type error")
	}
}

// The two variants must agree on resample names and values even though one
// scopes under "resample_<name>" and the other under its own name.
func TestResampleMatchesFunctional(t *testing.T) {
	for _, training := range []bool{false, true} {
		for _, strategy := range []string{"", "tpu"} {
			opts := ResampleOptions{TargetHeight: 4, TargetWidth: 4, TargetChannels: 3, ApplyBN: true, IsTraining: training, Strategy: strategy}
			input := tensor.RandomUniform(tensor.NewRNG(7, 0), 0, 1, 1, 8, 8, 5)

			g1 := graph.New(graph.WithSeed(111111))
			x1 := g1.Const(input)
			a, err := NewResampleFeatureMap("resample_p0", opts).Call(g1, x1)
			if err != nil {
				t.Fatal(err)
			}
			g2 := graph.New(graph.WithSeed(111111))
			x2 := g2.Const(input)
			b, err := arch.ResampleFeatureMap(g2, x2, "p0", arch.ResampleParams(opts))
			if err != nil {
				t.Fatal(err)
			}
			if n1, n2 := graph.Names(g1.GlobalVariables()), graph.Names(g2.GlobalVariables()); !reflect.DeepEqual(n1, n2) {
				t.Errorf("names differ: %v vs %v", n1, n2)
			}
			out1, err := graph.NewSession(g1).Run(context.Background(), a)
			if err != nil {
				t.Fatal(err)
			}
			out2, err := graph.NewSession(g2).Run(context.Background(), b)
			if err != nil {
				t.Fatal(err)
			}
			r, err := tensor.AllClose(out1[0].Data(), out2[0].Data(), tensor.ToleranceFor(tensor.Float32))
			if err != nil {
				t.Fatal(err)
			}
			if !r.Pass {
				t.Errorf("training=%v strategy=%q: outputs differ, max abs err %g", training, strategy, r.MaxAbsErr)
			}
		}
	}
}

func d1Feats(g *graph.Graph) []*graph.Node {
	return []*graph.Node{
		g.Placeholder("f3", 1, 80, 80, 40),
		g.Placeholder("f4", 1, 40, 40, 112),
		g.Placeholder("f5", 1, 20, 20, 320),
		g.Placeholder("f6", 1, 10, 10, 64),
		g.Placeholder("f7", 1, 5, 5, 64),
	}
}

func TestBiFPNLayerMatchesFunctional(t *testing.T) {
	cfg, err := config.Get("")
	if err != nil {
		t.Fatal(err)
	}
	g1 := graph.New()
	if _, err := BuildBiFPNLayer(g1, d1Feats(g1), cfg); err != nil {
		t.Fatal(err)
	}
	g2 := graph.New()
	if _, err := arch.BuildBiFPNLayer(g2, d1Feats(g2), config.FeatSizes(cfg.ImageSize, cfg.MaxLevel), cfg); err != nil {
		t.Fatal(err)
	}
	n1, n2 := graph.Names(g1.GlobalVariables()), graph.Names(g2.GlobalVariables())
	if !reflect.DeepEqual(n1, n2) {
		for i := 0; i < len(n1) && i < len(n2); i++ {
			if n1[i] != n2[i] {
				t.Fatalf("first difference at %d: %s vs %s", i, n1[i], n2[i])
			}
		}
		t.Fatalf("lengths differ: %d vs %d", len(n1), len(n2))
	}
}

func TestFNodeWeightMethods(t *testing.T) {
	def := config.Default()
	cfg := &def
	node := arch.FNode{FeatLevel: 3, InputsOffsets: []int{0, 1}}
	size := config.Size{Height: 4, Width: 4}
	tests := []struct {
		method  string
		wantWSM []string
		wantErr bool
	}{
		{"fastattn", []string{"fnode0/WSM:0", "fnode0/WSM_1:0"}, false},
		{"channel_attn", []string{"fnode0/WSM:0", "fnode0/WSM_1:0"}, false},
		{"sum", nil, false},
		{"max", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			g := graph.New()
			feats := []*graph.Node{
				g.Placeholder("a", 1, 4, 4, cfg.FPNNumFilters),
				g.Placeholder("b", 1, 2, 2, cfg.FPNNumFilters),
			}
			out, err := NewFNode(0, node, 2, size, tt.method, cfg).Call(g, feats)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(out) != 3 || out[2].Dim(1) != 4 {
				t.Fatalf("outputs = %v", out)
			}
			var wsm []string
			for _, n := range graph.Names(g.GlobalVariables()) {
				if len(n) > 10 && n[:10] == "fnode0/WSM" {
					wsm = append(wsm, n)
				}
			}
			if !reflect.DeepEqual(wsm, tt.wantWSM) {
				t.Errorf("weights = %v, want %v", wsm, tt.wantWSM)
			}
		})
	}
}

func TestHeadsShareConvsAcrossLevels(t *testing.T) {
	cfg, err := config.Get("efficientdet-d0")
	if err != nil {
		t.Fatal(err)
	}
	g := graph.New()
	feats := make([]*graph.Node, 5)
	for i := range feats {
		feats[i] = g.Placeholder("", 1, 8>>uint(i%3), 8>>uint(i%3), 64)
	}
	outs, err := NewClassNet(cfg).Call(g, feats)
	if err != nil {
		t.Fatal(err)
	}
	if outs[0].Dim(3) != 810 || outs[1].Dim(1) != 4 {
		t.Errorf("outputs %s %s", outs[0], outs[1])
	}
	if got, want := len(g.GlobalVariables()), 4*3+3*5*4; got != want {
		t.Errorf("variables = %d, want %d", got, want)
	}
	if _, err := NewBoxNet(cfg).Call(g, feats[:2]); err == nil {
		t.Error("expected feature count error")
	}
}

func TestEfficientDetNetMatchesFunctional(t *testing.T) {
	if testing.Short() {
		t.Skip("builds two full d0 graphs")
	}
	cfg, err := config.Get("efficientdet-d0")
	if err != nil {
		t.Fatal(err)
	}
	net, err := NewEfficientDetNet("", cfg)
	if err != nil {
		t.Fatal(err)
	}
	g1 := graph.New()
	classes, boxes, err := net.Call(g1, g1.Placeholder("images", 1, 512, 512, 3))
	if err != nil {
		t.Fatal(err)
	}
	if classes[3].Dim(1) != 64 || boxes[7].Dim(1) != 4 {
		t.Errorf("class p3 %s, box p7 %s", classes[3], boxes[7])
	}
	g2 := graph.New()
	if _, _, err := arch.EfficientDet(g2, g2.Placeholder("images", 1, 512, 512, 3), "efficientdet-d0", nil, nil); err != nil {
		t.Fatal(err)
	}
	n1, n2 := graph.Names(g1.GlobalVariables()), graph.Names(g2.GlobalVariables())
	if !reflect.DeepEqual(n1, n2) {
		t.Errorf("global names differ: %d vs %d variables", len(n1), len(n2))
	}
	if _, err := NewEfficientDetNet("", nil); err == nil {
		t.Error("expected missing config error")
	}
}
