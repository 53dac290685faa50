package nn

import (
	"fmt"

	"github.com/Suraj520/automl/internal/graph"
	"github.com/Suraj520/automl/internal/tensor"
)

// Activation applies the named activation function.
func Activation(g *graph.Graph, x *graph.Node, actType string) (*graph.Node, error) {
	switch actType {
	case "swish", "swish_native":
		return g.Swish(x)
	case "relu":
		return g.Relu(x)
	case "relu6":
		return g.Relu6(x)
	}
	return nil, fmt.Errorf("unsupported act_type %q", actType)
}

// ActivationLayer wraps Activation as a Layer.
type ActivationLayer string

func (a ActivationLayer) Call(g *graph.Graph, x *graph.Node) (*graph.Node, error) {
	return Activation(g, x, string(a))
}

// BatchNormAct is batch norm followed by an optional activation.
type BatchNormAct struct {
	*BatchNorm
	ActType string
}

func (b BatchNormAct) Call(g *graph.Graph, x *graph.Node) (*graph.Node, error) {
	y, err := b.BatchNorm.Call(g, x)
	if err != nil || b.ActType == "" {
		return y, err
	}
	return Activation(g, y, b.ActType)
}

// DropConnect drops whole examples with probability 1-survivalProb and
// rescales the survivors. It is the identity outside training.
func DropConnect(g *graph.Graph, x *graph.Node, training bool, survivalProb float64) (*graph.Node, error) {
	if !training {
		return x, nil
	}
	if survivalProb <= 0 || survivalProb > 1 {
		return nil, fmt.Errorf("drop connect: survival probability %v out of (0, 1]", survivalProb)
	}
	random := g.RandomUniform(0, 1, x.Dim(0), 1, 1, 1)
	random, err := g.AddScalar(random, float32(survivalProb))
	if err != nil {
		return nil, err
	}
	binary, err := g.Floor(random)
	if err != nil {
		return nil, err
	}
	scaled, err := g.Div(x, g.Const(tensor.Scalar(float32(survivalProb))))
	if err != nil {
		return nil, err
	}
	return g.Mul(scaled, binary)
}

// PoolKind parses a pooling type; "" defaults to max pooling.
func PoolKind(poolingType string) (tensor.PoolKind, error) {
	switch poolingType {
	case "", "max":
		return tensor.MaxPool, nil
	case "avg":
		return tensor.AvgPool, nil
	}
	return tensor.MaxPool, fmt.Errorf("unknown pooling type: %s", poolingType)
}
