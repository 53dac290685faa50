package nn

import (
	"fmt"

	"github.com/Suraj520/automl/internal/graph"
	"github.com/Suraj520/automl/internal/tensor"
)

// DefaultBatchNormName is the name given to unnamed batch norm layers. The
// checkpoint layout uses it whatever the distribution strategy.
const DefaultBatchNormName = "tpu_batch_normalization"

const (
	DefaultMomentum = 0.99
	DefaultEpsilon  = 1e-3
)

// BatchNorm normalizes the channel axis. In training mode it uses batch
// statistics; otherwise it uses the moving statistics. Strategies "tpu" and
// "gpus" aggregate moments the cross-replica way; with a single replica the
// result equals the local computation up to rounding.
type BatchNorm struct {
	Name     string
	Training bool
	Momentum float32
	Epsilon  float32
	Strategy string
	InitZero bool

	gamma, beta, movingMean, movingVariance *graph.Variable
}

func NewBatchNorm(name string, training bool, strategy string) *BatchNorm {
	return &BatchNorm{
		Name:     name,
		Training: training,
		Momentum: DefaultMomentum,
		Epsilon:  DefaultEpsilon,
		Strategy: strategy,
	}
}

func (b *BatchNorm) crossReplica() bool {
	return b.Strategy == "tpu" || b.Strategy == "gpus"
}

func (b *BatchNorm) Call(g *graph.Graph, x *graph.Node) (*graph.Node, error) {
	if x.Rank() != 4 {
		return nil, fmt.Errorf("batch norm %s: expected NHWC input, got %s", b.Name, x)
	}
	b.Name = layerName(g, b.Name, DefaultBatchNormName)
	eps := b.Epsilon
	if eps == 0 {
		eps = DefaultEpsilon
	}
	var out *graph.Node
	err := g.WithScope(b.Name, func() error {
		if b.gamma == nil {
			c := []int{x.Dim(3)}
			gammaInit := tensor.Ones
			if b.InitZero {
				gammaInit = tensor.Zeros
			}
			var err error
			if b.gamma, err = g.GetVariable("gamma", c, gammaInit); err != nil {
				return err
			}
			if b.beta, err = g.GetVariable("beta", c, tensor.Zeros); err != nil {
				return err
			}
			if b.movingMean, err = g.GetVariable("moving_mean", c, tensor.Zeros, graph.NonTrainable()); err != nil {
				return err
			}
			if b.movingVariance, err = g.GetVariable("moving_variance", c, tensor.Ones, graph.NonTrainable()); err != nil {
				return err
			}
		}
		mean, variance := b.movingMean.Value(), b.movingVariance.Value()
		if b.Training {
			var err error
			if mean, variance, err = g.Moments(x, b.crossReplica()); err != nil {
				return err
			}
		}
		var err error
		out, err = g.BatchNorm(x, b.gamma.Value(), b.beta.Value(), mean, variance, eps)
		return err
	})
	return out, err
}
