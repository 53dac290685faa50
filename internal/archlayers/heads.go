package archlayers

import (
	"fmt"

	"github.com/Suraj520/automl/internal/arch"
	"github.com/Suraj520/automl/internal/config"
	"github.com/Suraj520/automl/internal/graph"
	"github.com/Suraj520/automl/internal/nn"
	"github.com/Suraj520/automl/internal/tensor"
)

// head is the tower shared by ClassNet and BoxNet: convs shared across
// levels, batch norms per level.
type head struct {
	name         string
	minLevel     int
	maxLevel     int
	training     bool
	actType      string
	survivalProb float64

	convs   []nn.Layer
	bns     [][]*nn.BatchNorm
	predict nn.Layer
}

func newHead(name, prefix string, outputs int, predictBias tensor.Initializer, cfg *config.Config) *head {
	h := &head{
		name:         name,
		minLevel:     cfg.MinLevel,
		maxLevel:     cfg.MaxLevel,
		training:     cfg.IsTrainingBN,
		actType:      cfg.ActType,
		survivalProb: cfg.SurvivalProb,
	}
	for i := 0; i < cfg.BoxClassRepeats; i++ {
		h.convs = append(h.convs, newHeadConv(cfg.SeparableConv, fmt.Sprintf("%s-%d", prefix, i), cfg.FPNNumFilters, tensor.Zeros))
		var perLevel []*nn.BatchNorm
		for level := cfg.MinLevel; level <= cfg.MaxLevel; level++ {
			perLevel = append(perLevel, nn.NewBatchNorm(fmt.Sprintf("%s-%d-bn-%d", prefix, i, level), cfg.IsTrainingBN, cfg.Strategy))
		}
		h.bns = append(h.bns, perLevel)
	}
	h.predict = newHeadConv(cfg.SeparableConv, prefix+"-predict", outputs, predictBias)
	return h
}

func newHeadConv(separable bool, name string, filters int, biasInit tensor.Initializer) nn.Layer {
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

// Call runs the head on feats, which hold levels min..max in order.
func (h *head) Call(g *graph.Graph, feats []*graph.Node) ([]*graph.Node, error) {
	if want := h.maxLevel - h.minLevel + 1; len(feats) != want {
		return nil, fmt.Errorf("%s: got %d features, want %d", h.name, len(feats), want)
	}
	outputs := make([]*graph.Node, len(feats))
	err := g.WithScope(h.name, func() error {
		for li, image := range feats {
			var err error
			for i, conv := range h.convs {
				orig := image
				if image, err = conv.Call(g, image); err != nil {
					return err
				}
				if image, err = h.bns[i][li].Call(g, image); err != nil {
					return err
				}
				if image, err = nn.Activation(g, image, h.actType); err != nil {
					return err
				}
				if i > 0 && h.survivalProb > 0 {
					if image, err = nn.DropConnect(g, image, h.training, h.survivalProb); err != nil {
						return err
					}
					if image, err = g.Add(image, orig); err != nil {
						return err
					}
				}
			}
			if outputs[li], err = h.predict.Call(g, image); err != nil {
				return err
			}
		}
		return nil
	})
	return outputs, err
}

// ClassNet predicts class logits on every level.
type ClassNet struct{ *head }

func NewClassNet(cfg *config.Config) *ClassNet {
	return &ClassNet{newHead("class_net", "class", cfg.NumClasses*cfg.NumAnchors(), tensor.Constant(arch.ClassPriorBias), cfg)}
}

// BoxNet predicts box regressions on every level.
type BoxNet struct{ *head }

func NewBoxNet(cfg *config.Config) *BoxNet {
	return &BoxNet{newHead("box_net", "box", 4*cfg.NumAnchors(), tensor.Zeros, cfg)}
}

// BuildClassAndBoxOutputs runs fresh heads on feats keyed by level.
func BuildClassAndBoxOutputs(g *graph.Graph, feats map[int]*graph.Node, cfg *config.Config) (classOut, boxOut map[int]*graph.Node, err error) {
	var ordered []*graph.Node
	for level := cfg.MinLevel; level <= cfg.MaxLevel; level++ {
		f, ok := feats[level]
		if !ok {
			return nil, nil, fmt.Errorf("heads: missing feature for level %d", level)
		}
		ordered = append(ordered, f)
	}
	classes, err := NewClassNet(cfg).Call(g, ordered)
	if err != nil {
		return nil, nil, err
	}
	boxes, err := NewBoxNet(cfg).Call(g, ordered)
	if err != nil {
		return nil, nil, err
	}
	classOut = make(map[int]*graph.Node)
	boxOut = make(map[int]*graph.Node)
	for i := range ordered {
		classOut[cfg.MinLevel+i] = classes[i]
		boxOut[cfg.MinLevel+i] = boxes[i]
	}
	return classOut, boxOut, nil
}
