// Package parity builds two implementations of the same model in isolated
// graphs and checks that they agree on parameter names and outputs.
package parity

import (
	"fmt"
	"time"

	"github.com/Suraj520/automl/internal/config"
	"github.com/Suraj520/automl/internal/graph"
	"github.com/Suraj520/automl/internal/logger"
	"github.com/Suraj520/automl/internal/metrics"
	"github.com/Suraj520/automl/internal/tensor"
)

// Variant is one implementation of a model-construction capability.
type Variant interface {
	Name() string
	Build(g *graph.Graph, inputs []*graph.Node, cfg *config.Config) ([]*graph.Node, error)
}

// BuildFunc builds outputs from inputs inside g.
type BuildFunc func(g *graph.Graph, inputs []*graph.Node, cfg *config.Config) ([]*graph.Node, error)

type namedVariant struct {
	name string
	fn   BuildFunc
}

func (v namedVariant) Name() string { return v.name }

func (v namedVariant) Build(g *graph.Graph, inputs []*graph.Node, cfg *config.Config) ([]*graph.Node, error) {
	return v.fn(g, inputs, cfg)
}

// Named adapts fn into a Variant.
func Named(name string, fn BuildFunc) Variant {
	return namedVariant{name: name, fn: fn}
}

// Fill selects how an input is materialized when outputs are evaluated.
type Fill string

const (
	FillUniform Fill = "uniform"
	FillOnes    Fill = "ones"
	FillZeros   Fill = "zeros"
	FillValue   Fill = "value"
)

func ParseFill(s string) (Fill, error) {
	switch Fill(s) {
	case "", FillUniform:
		return FillUniform, nil
	case FillOnes, FillZeros, FillValue:
		return Fill(s), nil
	}
	return "", fmt.Errorf("unknown input fill %q", s)
}

// InputSpec describes one model input. Uniform inputs are drawn in [0, 1)
// from the comparison seed, so both variants see the same values.
type InputSpec struct {
	Shape []int
	Fill  Fill
	Value *tensor.Tensor
}

// Shapes returns uniform inputs of the given shapes.
func Shapes(shapes ...[]int) []InputSpec {
	specs := make([]InputSpec, len(shapes))
	for i, s := range shapes {
		specs[i] = InputSpec{Shape: s, Fill: FillUniform}
	}
	return specs
}

// inputStream keeps input draws apart from variable and random-op streams.
const inputStream = uint64(2) << 32

func (s InputSpec) shape() []int {
	if len(s.Shape) == 0 && s.Value != nil {
		return s.Value.Shape()
	}
	return s.Shape
}

func (s InputSpec) materialize(seed int64, index int) (*tensor.Tensor, error) {
	shape := s.shape()
	switch s.Fill {
	case "", FillUniform:
		return tensor.RandomUniform(tensor.NewRNG(uint64(seed), inputStream+uint64(index)), 0, 1, shape...), nil
	case FillOnes:
		return tensor.Full(1, shape...), nil
	case FillZeros:
		return tensor.New(shape...), nil
	case FillValue:
		if s.Value == nil {
			return nil, fmt.Errorf("input %d: fill %q without a value", index, s.Fill)
		}
		if !tensor.SameShape(s.Value.Shape(), shape) {
			return nil, fmt.Errorf("input %d: value shape %s does not match %s", index,
				tensor.ShapeString(s.Value.Shape()), tensor.ShapeString(shape))
		}
		return s.Value, nil
	}
	return nil, fmt.Errorf("input %d: unknown fill %q", index, s.Fill)
}

// build is one variant constructed in its own graph.
type build struct {
	g       *graph.Graph
	inputs  []*graph.Node
	outputs []*graph.Node
}

// construct builds v in a fresh graph seeded with seed. The config is cloned
// so a variant cannot leak changes into the other build.
func construct(v Variant, specs []InputSpec, cfg *config.Config, seed int64) (*build, error) {
	g := graph.New(graph.WithSeed(seed), graph.WithName(v.Name()))
	b := &build{g: g}
	for i, s := range specs {
		if len(s.shape()) == 0 {
			return nil, fmt.Errorf("build %s: input %d has no shape", v.Name(), i)
		}
		b.inputs = append(b.inputs, g.Placeholder(fmt.Sprintf("input_%d", i), s.shape()...))
	}
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}
	start := time.Now()
	outputs, err := v.Build(g, b.inputs, cfg.Clone())
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", v.Name(), err)
	}
	b.outputs = outputs
	elapsed := time.Since(start)
	metrics.RecordBuild(v.Name(), len(g.GlobalVariables()), elapsed)
	logger.Log.Debug("Variant built", "variant", v.Name(), "graph", g.ID().String(),
		"variables", len(g.GlobalVariables()), "nodes", g.NumNodes(), "elapsed", elapsed.String())
	return b, nil
}
