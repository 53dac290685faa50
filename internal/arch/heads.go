package arch

import (
	"fmt"
	"math"

	"github.com/Suraj520/automl/internal/config"
	"github.com/Suraj520/automl/internal/graph"
	"github.com/Suraj520/automl/internal/nn"
	"github.com/Suraj520/automl/internal/tensor"
)

// ClassPriorBias initializes the class predictor so every anchor starts with
// a foreground probability of 0.01.
var ClassPriorBias = -math.Log((1 - 0.01) / 0.01)

// HeadParams configures ClassNet and BoxNet.
type HeadParams struct {
	NumClasses    int
	NumAnchors    int
	NumFilters    int
	IsTraining    bool
	ActType       string
	Repeats       int
	SeparableConv bool
	SurvivalProb  float64
	Strategy      string
}

// HeadParamsFromConfig derives head settings from a detector config.
func HeadParamsFromConfig(cfg *config.Config) HeadParams {
	return HeadParams{
		NumClasses:    cfg.NumClasses,
		NumAnchors:    cfg.NumAnchors(),
		NumFilters:    cfg.FPNNumFilters,
		IsTraining:    cfg.IsTrainingBN,
		ActType:       cfg.ActType,
		Repeats:       cfg.BoxClassRepeats,
		SeparableConv: cfg.SeparableConv,
		SurvivalProb:  cfg.SurvivalProb,
		Strategy:      cfg.Strategy,
	}
}

// headConv is the 3x3 head conv: separable convs use variance scaling,
// regular convs a narrow normal.
func headConv(separable bool, name string, filters int, biasInit tensor.Initializer) nn.Layer {
	if separable {
		c := nn.NewSeparableConv2D(name, filters, 3)
		c.DepthwiseInit = tensor.VarianceScaling{Scale: 1}
		c.PointwiseInit = tensor.VarianceScaling{Scale: 1}
		c.BiasInit = biasInit
		return c
	}
	c := nn.NewConv2D(name, filters, 3)
	c.KernelInit = tensor.RandomNormal{Stddev: 0.01}
	c.BiasInit = biasInit
	return c
}

func headTower(g *graph.Graph, images *graph.Node, level int, prefix string, p HeadParams) (*graph.Node, error) {
	var err error
	for i := 0; i < p.Repeats; i++ {
		orig := images
		if images, err = headConv(p.SeparableConv, fmt.Sprintf("%s-%d", prefix, i), p.NumFilters, tensor.Zeros).Call(g, images); err != nil {
			return nil, err
		}
		if images, err = batchNormAct(g, images, p.IsTraining, p.ActType, false, p.Strategy, fmt.Sprintf("%s-%d-bn-%d", prefix, i, level)); err != nil {
			return nil, err
		}
		if i > 0 && p.SurvivalProb > 0 {
			if images, err = nn.DropConnect(g, images, p.IsTraining, p.SurvivalProb); err != nil {
				return nil, err
			}
			if images, err = g.Add(images, orig); err != nil {
				return nil, err
			}
		}
	}
	return images, nil
}

// ClassNet predicts per-anchor class logits for one level. Call it inside a
// reusing scope so the convs are shared across levels while each level keeps
// its own batch norms.
func ClassNet(g *graph.Graph, images *graph.Node, level int, p HeadParams) (*graph.Node, error) {
	x, err := headTower(g, images, level, "class", p)
	if err != nil {
		return nil, err
	}
	return headConv(p.SeparableConv, "class-predict", p.NumClasses*p.NumAnchors, tensor.Constant(ClassPriorBias)).Call(g, x)
}

// BoxNet predicts per-anchor box regressions for one level.
func BoxNet(g *graph.Graph, images *graph.Node, level int, p HeadParams) (*graph.Node, error) {
	x, err := headTower(g, images, level, "box", p)
	if err != nil {
		return nil, err
	}
	return headConv(p.SeparableConv, "box-predict", 4*p.NumAnchors, tensor.Zeros).Call(g, x)
}

// BuildClassAndBoxOutputs runs both heads on every level of feats.
func BuildClassAndBoxOutputs(g *graph.Graph, feats map[int]*graph.Node, cfg *config.Config) (classOut, boxOut map[int]*graph.Node, err error) {
	p := HeadParamsFromConfig(cfg)
	classOut = make(map[int]*graph.Node)
	boxOut = make(map[int]*graph.Node)
	for level := cfg.MinLevel; level <= cfg.MaxLevel; level++ {
		if feats[level] == nil {
			return nil, nil, fmt.Errorf("heads: missing feature for level %d", level)
		}
	}
	err = g.WithScope("class_net", func() error {
		for level := cfg.MinLevel; level <= cfg.MaxLevel; level++ {
			out, err := ClassNet(g, feats[level], level, p)
			if err != nil {
				return err
			}
			classOut[level] = out
		}
		return nil
	}, graph.WithReuse(graph.AutoReuse))
	if err != nil {
		return nil, nil, err
	}
	err = g.WithScope("box_net", func() error {
		for level := cfg.MinLevel; level <= cfg.MaxLevel; level++ {
			out, err := BoxNet(g, feats[level], level, p)
			if err != nil {
				return err
			}
			boxOut[level] = out
		}
		return nil
	}, graph.WithReuse(graph.AutoReuse))
	if err != nil {
		return nil, nil, err
	}
	return classOut, boxOut, nil
}
