package arch

import (
	"fmt"

	"github.com/Suraj520/automl/internal/config"
	"github.com/Suraj520/automl/internal/graph"
	"github.com/Suraj520/automl/internal/logger"
	"github.com/Suraj520/automl/internal/nn"
	"github.com/Suraj520/automl/internal/tensor"
)

const fuseEpsilon = 0.0001

// FuseFeatures combines same-shaped nodes with learned weights. Scalar
// methods create one "WSM" variable per input; channel methods create one
// per input and channel.
func FuseFeatures(g *graph.Graph, nodes []*graph.Node, weightMethod string) (*graph.Node, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("fuse features: no inputs")
	}
	switch weightMethod {
	case "attn", "channel_attn":
		var shape []int
		if weightMethod == "channel_attn" {
			shape = []int{nodes[0].Dim(-1)}
		}
		weights := make([]*graph.Node, len(nodes))
		for i := range nodes {
			weights[i] = g.NewVariable("WSM", shape, tensor.Ones).Value()
		}
		stacked, err := g.Stack(weights...)
		if err != nil {
			return nil, err
		}
		normalized, err := g.Softmax(stacked)
		if err != nil {
			return nil, err
		}
		all, err := g.Stack(nodes...)
		if err != nil {
			return nil, err
		}
		weighted, err := g.Mul(all, normalized)
		if err != nil {
			return nil, err
		}
		return g.ReduceSumLast(weighted)
	case "fastattn", "channel_fastattn":
		var shape []int
		if weightMethod == "channel_fastattn" {
			shape = []int{nodes[0].Dim(-1)}
		}
		weights := make([]*graph.Node, len(nodes))
		for i := range nodes {
			w, err := g.Relu(g.NewVariable("WSM", shape, tensor.Ones).Value())
			if err != nil {
				return nil, err
			}
			weights[i] = w
		}
		sum, err := g.AddN(weights...)
		if err != nil {
			return nil, err
		}
		denom, err := g.AddScalar(sum, fuseEpsilon)
		if err != nil {
			return nil, err
		}
		terms := make([]*graph.Node, len(nodes))
		for i, n := range nodes {
			t, err := g.Mul(n, weights[i])
			if err != nil {
				return nil, err
			}
			if terms[i], err = g.Div(t, denom); err != nil {
				return nil, err
			}
		}
		return g.AddN(terms...)
	case "sum":
		return g.AddN(nodes...)
	}
	return nil, fmt.Errorf("unknown weight_method %s", weightMethod)
}

// BuildBiFPNLayer builds one fusion cell over feats, which hold levels
// min_level..max_level in order, and returns the new feature of every level.
func BuildBiFPNLayer(g *graph.Graph, feats []*graph.Node, featSizes []config.Size, cfg *config.Config) (map[int]*graph.Node, error) {
	fpn, err := GetFPNConfig(cfg.FPNName, cfg.MinLevel, cfg.MaxLevel, cfg.FPNWeightMethod)
	if err != nil {
		return nil, err
	}
	if len(featSizes) <= cfg.MaxLevel {
		return nil, fmt.Errorf("bifpn: feature sizes cover levels 0..%d, need %d", len(featSizes)-1, cfg.MaxLevel)
	}
	if want := cfg.MaxLevel - cfg.MinLevel + 1; len(feats) != want {
		return nil, fmt.Errorf("bifpn: got %d input features, want %d for levels %d..%d", len(feats), want, cfg.MinLevel, cfg.MaxLevel)
	}
	feats = append([]*graph.Node(nil), feats...)

	for i, fnode := range fpn.Nodes {
		err := g.WithScope(fmt.Sprintf("fnode%d", i), func() error {
			logger.Log.Debug("fnode", "index", i, "node", fnode.String())
			size := featSizes[fnode.FeatLevel]
			nodes := make([]*graph.Node, 0, len(fnode.InputsOffsets))
			for idx, offset := range fnode.InputsOffsets {
				if offset >= len(feats) {
					return fmt.Errorf("fnode%d: input offset %d but only %d features", i, offset, len(feats))
				}
				in, err := ResampleFeatureMap(g, feats[offset], fmt.Sprintf("%d_%d_%d", idx, offset, len(feats)), ResampleParams{
					TargetHeight:        size.Height,
					TargetWidth:         size.Width,
					TargetChannels:      cfg.FPNNumFilters,
					ApplyBN:             cfg.ApplyBNForResampling,
					IsTraining:          cfg.IsTrainingBN,
					ConvAfterDownsample: cfg.ConvAfterDownsample,
					Strategy:            cfg.Strategy,
					PoolingType:         cfg.PoolingType,
					UseNativeResizeOp:   cfg.UseNativeResizeOp,
				})
				if err != nil {
					return err
				}
				nodes = append(nodes, in)
			}
			node, err := FuseFeatures(g, nodes, fpn.WeightMethod)
			if err != nil {
				return fmt.Errorf("fnode%d: %w", i, err)
			}
			err = g.WithScope(fmt.Sprintf("op_after_combine%d", len(feats)), func() error {
				if !cfg.ConvBNActPattern {
					if node, err = nn.Activation(g, node, cfg.ActType); err != nil {
						return err
					}
				}
				if node, err = convOp(cfg.SeparableConv, "conv", cfg.FPNNumFilters, !cfg.ConvBNActPattern).Call(g, node); err != nil {
					return err
				}
				act := ""
				if cfg.ConvBNActPattern {
					act = cfg.ActType
				}
				node, err = batchNormAct(g, node, cfg.IsTrainingBN, act, false, cfg.Strategy, "bn")
				return err
			})
			if err != nil {
				return err
			}
			feats = append(feats, node)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	out := make(map[int]*graph.Node)
	for level, idx := range fpn.OutputNodes(cfg.MinLevel, cfg.MaxLevel) {
		if idx >= len(feats) {
			return nil, fmt.Errorf("bifpn: no feature for level %d", level)
		}
		out[level] = feats[idx]
	}
	return out, nil
}

// convOp returns the 3x3 fusion conv: separable or regular.
func convOp(separable bool, name string, filters int, useBias bool) nn.Layer {
	if separable {
		c := nn.NewSeparableConv2D(name, filters, 3)
		c.UseBias = useBias
		return c
	}
	c := nn.NewConv2D(name, filters, 3)
	c.UseBias = useBias
	return c
}
