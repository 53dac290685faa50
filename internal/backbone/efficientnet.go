// Package backbone builds the EfficientNet feature extractor shared by both
// detector variants.
package backbone

import (
	"fmt"

	"github.com/Suraj520/automl/internal/config"
	"github.com/Suraj520/automl/internal/graph"
	"github.com/Suraj520/automl/internal/logger"
	"github.com/Suraj520/automl/internal/nn"
	"github.com/Suraj520/automl/internal/tensor"
)

// Options are the detector-level settings the backbone inherits.
type Options struct {
	Training     bool
	Strategy     string
	ActType      string
	Momentum     float64
	Epsilon      float64
	SurvivalProb float64
	Blocks       []string
}

// OptionsFromConfig derives backbone options from a detector config. The
// b0 backbone runs without drop connect.
func OptionsFromConfig(cfg *config.Config, p Params) Options {
	opts := Options{
		Training:     cfg.IsTrainingBN,
		Strategy:     cfg.Strategy,
		ActType:      cfg.ActType,
		Momentum:     cfg.BatchNormMomentum,
		Epsilon:      cfg.BatchNormEpsilon,
		SurvivalProb: p.SurvivalProb,
	}
	if cfg.BackboneName == "efficientnet-b0" {
		opts.SurvivalProb = 0
	}
	return opts
}

// Model is an EfficientNet without its classification head.
type Model struct {
	name   string
	params Params
	opts   Options
	blocks []BlockArgs
}

// NewModel expands the stage layout into per-block arguments, scaling filters
// and repeats by the variant's coefficients.
func NewModel(name string, opts Options) (*Model, error) {
	p, err := ParamsFor(name)
	if err != nil {
		return nil, err
	}
	if opts.ActType == "" {
		opts.ActType = "swish"
	}
	layout := opts.Blocks
	if len(layout) == 0 {
		layout = DefaultBlocks
	}
	m := &Model{name: name, params: p, opts: opts}
	for _, s := range layout {
		args, err := DecodeBlockArgs(s)
		if err != nil {
			return nil, err
		}
		args.InputFilters = RoundFilters(args.InputFilters, p)
		args.OutputFilters = RoundFilters(args.OutputFilters, p)
		args.NumRepeat = RoundRepeats(args.NumRepeat, p)
		m.blocks = append(m.blocks, args)
		if args.NumRepeat > 1 {
			args.InputFilters = args.OutputFilters
			args.Strides = [2]int{1, 1}
		}
		for i := 1; i < args.NumRepeat; i++ {
			m.blocks = append(m.blocks, args)
		}
	}
	return m, nil
}

func (m *Model) Name() string { return m.name }

// Blocks returns the expanded per-block arguments.
func (m *Model) Blocks() []BlockArgs { return append([]BlockArgs(nil), m.blocks...) }

func (m *Model) batchNorm() *nn.BatchNorm {
	bn := nn.NewBatchNorm("", m.opts.Training, m.opts.Strategy)
	if m.opts.Momentum > 0 {
		bn.Momentum = float32(m.opts.Momentum)
	}
	if m.opts.Epsilon > 0 {
		bn.Epsilon = float32(m.opts.Epsilon)
	}
	return bn
}

// Call builds the network on images and returns the feature pyramid keyed by
// level: 0 is the input and level i is the last block output at stride 2^i.
func (m *Model) Call(g *graph.Graph, images *graph.Node) (map[int]*graph.Node, error) {
	feats := map[int]*graph.Node{0: images}
	err := g.WithScope(m.name, func() error {
		var x *graph.Node
		err := g.WithScope("stem", func() error {
			conv := &nn.Conv2D{
				Filters:    RoundFilters(32, m.params),
				KernelSize: 3,
				Strides:    2,
				Padding:    tensor.Same,
				KernelInit: tensor.ConvKernelNormal{},
			}
			y, err := conv.Call(g, images)
			if err != nil {
				return err
			}
			if y, err = m.batchNorm().Call(g, y); err != nil {
				return err
			}
			x, err = nn.Activation(g, y, m.opts.ActType)
			return err
		})
		if err != nil {
			return err
		}

		reduction := 0
		for idx, args := range m.blocks {
			last := idx == len(m.blocks)-1
			isReduction := last || m.blocks[idx+1].Strides[0] > 1
			survival := m.opts.SurvivalProb
			if survival > 0 {
				drop := 1 - survival
				survival = 1 - drop*float64(idx)/float64(len(m.blocks))
			}
			err := g.WithScope(fmt.Sprintf("blocks_%d", idx), func() error {
				var err error
				x, err = m.mbConv(g, x, args, survival)
				return err
			})
			if err != nil {
				return fmt.Errorf("%s blocks_%d: %w", m.name, idx, err)
			}
			if isReduction {
				reduction++
				feats[reduction] = x
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Log.Debug("Backbone built", "backbone", m.name, "blocks", len(m.blocks), "levels", len(feats)-1)
	return feats, nil
}

func (m *Model) mbConv(g *graph.Graph, inputs *graph.Node, args BlockArgs, survival float64) (*graph.Node, error) {
	x := inputs
	var err error
	filters := args.InputFilters * args.ExpandRatio
	if args.ExpandRatio != 1 {
		expand := &nn.Conv2D{Filters: filters, KernelSize: 1, Strides: 1, Padding: tensor.Same, KernelInit: tensor.ConvKernelNormal{}}
		if x, err = expand.Call(g, x); err != nil {
			return nil, err
		}
		if x, err = (nn.BatchNormAct{BatchNorm: m.batchNorm(), ActType: m.opts.ActType}).Call(g, x); err != nil {
			return nil, err
		}
	}

	depthwise := &nn.DepthwiseConv2D{KernelSize: args.KernelSize, Strides: args.Strides[0], Padding: tensor.Same, KernelInit: tensor.ConvKernelNormal{}}
	if x, err = depthwise.Call(g, x); err != nil {
		return nil, err
	}
	if x, err = (nn.BatchNormAct{BatchNorm: m.batchNorm(), ActType: m.opts.ActType}).Call(g, x); err != nil {
		return nil, err
	}

	if args.hasSE() {
		reduced := int(float64(args.InputFilters) * args.SERatio)
		if reduced < 1 {
			reduced = 1
		}
		err = g.WithScope("se", func() error {
			s, err := g.SpatialMean(x)
			if err != nil {
				return err
			}
			reduce := &nn.Conv2D{Filters: reduced, KernelSize: 1, Strides: 1, Padding: tensor.Same, UseBias: true, KernelInit: tensor.ConvKernelNormal{}, BiasInit: tensor.Zeros}
			if s, err = reduce.Call(g, s); err != nil {
				return err
			}
			if s, err = nn.Activation(g, s, m.opts.ActType); err != nil {
				return err
			}
			expand := &nn.Conv2D{Filters: filters, KernelSize: 1, Strides: 1, Padding: tensor.Same, UseBias: true, KernelInit: tensor.ConvKernelNormal{}, BiasInit: tensor.Zeros}
			if s, err = expand.Call(g, s); err != nil {
				return err
			}
			if s, err = g.Sigmoid(s); err != nil {
				return err
			}
			x, err = g.Mul(s, x)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	project := &nn.Conv2D{Filters: args.OutputFilters, KernelSize: 1, Strides: 1, Padding: tensor.Same, KernelInit: tensor.ConvKernelNormal{}}
	if x, err = project.Call(g, x); err != nil {
		return nil, err
	}
	if x, err = m.batchNorm().Call(g, x); err != nil {
		return nil, err
	}

	if args.IDSkip && args.Strides == [2]int{1, 1} && args.InputFilters == args.OutputFilters {
		if survival > 0 {
			if x, err = nn.DropConnect(g, x, m.opts.Training, survival); err != nil {
				return nil, err
			}
		}
		return g.Add(x, inputs)
	}
	return x, nil
}

// Build runs the configured backbone on images and returns levels 0..5.
func Build(g *graph.Graph, images *graph.Node, cfg *config.Config) (map[int]*graph.Node, error) {
	p, err := ParamsFor(cfg.BackboneName)
	if err != nil {
		return nil, err
	}
	m, err := NewModel(cfg.BackboneName, OptionsFromConfig(cfg, p))
	if err != nil {
		return nil, err
	}
	return m.Call(g, images)
}
