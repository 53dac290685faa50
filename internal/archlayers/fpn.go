package archlayers

import (
	"fmt"

	"github.com/Suraj520/automl/internal/arch"
	"github.com/Suraj520/automl/internal/config"
	"github.com/Suraj520/automl/internal/graph"
	"github.com/Suraj520/automl/internal/logger"
	"github.com/Suraj520/automl/internal/nn"
	"github.com/Suraj520/automl/internal/tensor"
)

// OpAfterCombine is the activation, 3x3 conv and batch norm applied to a
// fused node.
type OpAfterCombine struct {
	name    string
	pattern bool
	actType string
	conv    nn.Layer
	bn      nn.BatchNormAct
}

func NewOpAfterCombine(name string, cfg *config.Config) *OpAfterCombine {
	op := &OpAfterCombine{name: name, pattern: cfg.ConvBNActPattern, actType: cfg.ActType}
	if cfg.SeparableConv {
		c := nn.NewSeparableConv2D("conv", cfg.FPNNumFilters, 3)
		c.UseBias = !cfg.ConvBNActPattern
		op.conv = c
	} else {
		c := nn.NewConv2D("conv", cfg.FPNNumFilters, 3)
		c.UseBias = !cfg.ConvBNActPattern
		op.conv = c
	}
	op.bn = nn.BatchNormAct{BatchNorm: nn.NewBatchNorm("bn", cfg.IsTrainingBN, cfg.Strategy)}
	if cfg.ConvBNActPattern {
		op.bn.ActType = cfg.ActType
	}
	return op
}

func (o *OpAfterCombine) Call(g *graph.Graph, x *graph.Node) (*graph.Node, error) {
	var out *graph.Node
	err := g.WithScope(o.name, func() error {
		var err error
		if !o.pattern {
			if x, err = nn.Activation(g, x, o.actType); err != nil {
				return err
			}
		}
		out, err = nn.Sequential{o.conv, o.bn}.Call(g, x)
		return err
	})
	return out, err
}

// FNode resamples its inputs to one level, fuses them and post-processes
// the result.
type FNode struct {
	name         string
	level        int
	offsets      []int
	weightMethod string

	resamples []*ResampleFeatureMap
	combine   *OpAfterCombine
	weights   []*graph.Variable
}

// NewFNode creates the node numbered index; numFeats is the length of the
// feature list when the node runs.
func NewFNode(index int, def arch.FNode, numFeats int, size config.Size, weightMethod string, cfg *config.Config) *FNode {
	f := &FNode{
		name:         fmt.Sprintf("fnode%d", index),
		level:        def.FeatLevel,
		offsets:      append([]int(nil), def.InputsOffsets...),
		weightMethod: weightMethod,
		combine:      NewOpAfterCombine(fmt.Sprintf("op_after_combine%d", numFeats), cfg),
	}
	for idx, offset := range def.InputsOffsets {
		f.resamples = append(f.resamples, NewResampleFeatureMap(fmt.Sprintf("resample_%d_%d_%d", idx, offset, numFeats), ResampleOptions{
			TargetHeight:        size.Height,
			TargetWidth:         size.Width,
			TargetChannels:      cfg.FPNNumFilters,
			ApplyBN:             cfg.ApplyBNForResampling,
			IsTraining:          cfg.IsTrainingBN,
			ConvAfterDownsample: cfg.ConvAfterDownsample,
			Strategy:            cfg.Strategy,
			PoolingType:         cfg.PoolingType,
			UseNativeResizeOp:   cfg.UseNativeResizeOp,
		}))
	}
	return f
}

// buildWeights adds one WSM weight per input, scalar or per channel.
func (f *FNode) buildWeights(g *graph.Graph, channels int) error {
	var shape []int
	switch f.weightMethod {
	case "attn", "fastattn":
	case "channel_attn", "channel_fastattn":
		shape = []int{channels}
	case "sum":
		return nil
	default:
		return fmt.Errorf("unknown weight_method %s", f.weightMethod)
	}
	for i := range f.offsets {
		name := "WSM"
		if i > 0 {
			name = fmt.Sprintf("WSM_%d", i)
		}
		w, err := g.GetVariable(name, shape, tensor.Ones)
		if err != nil {
			return err
		}
		f.weights = append(f.weights, w)
	}
	return nil
}

func (f *FNode) fuse(g *graph.Graph, nodes []*graph.Node) (*graph.Node, error) {
	switch f.weightMethod {
	case "sum":
		return g.AddN(nodes...)
	case "attn", "channel_attn":
		reads := make([]*graph.Node, len(f.weights))
		for i, w := range f.weights {
			reads[i] = w.Value()
		}
		stacked, err := g.Stack(reads...)
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
		if all, err = g.Mul(all, normalized); err != nil {
			return nil, err
		}
		return g.ReduceSumLast(all)
	}
	edges := make([]*graph.Node, len(f.weights))
	for i, w := range f.weights {
		e, err := g.Relu(w.Value())
		if err != nil {
			return nil, err
		}
		edges[i] = e
	}
	total, err := g.AddN(edges...)
	if err != nil {
		return nil, err
	}
	if total, err = g.AddScalar(total, 0.0001); err != nil {
		return nil, err
	}
	terms := make([]*graph.Node, len(nodes))
	for i, n := range nodes {
		weighted, err := g.Mul(n, edges[i])
		if err != nil {
			return nil, err
		}
		if terms[i], err = g.Div(weighted, total); err != nil {
			return nil, err
		}
	}
	return g.AddN(terms...)
}

// Call appends the fused node to feats.
func (f *FNode) Call(g *graph.Graph, feats []*graph.Node) ([]*graph.Node, error) {
	var out []*graph.Node
	err := g.WithScope(f.name, func() error {
		nodes := make([]*graph.Node, len(f.offsets))
		for i, offset := range f.offsets {
			if offset >= len(feats) {
				return fmt.Errorf("%s: input offset %d but only %d features", f.name, offset, len(feats))
			}
			n, err := f.resamples[i].Call(g, feats[offset])
			if err != nil {
				return err
			}
			nodes[i] = n
		}
		if f.weights == nil {
			if err := f.buildWeights(g, nodes[0].Dim(-1)); err != nil {
				return err
			}
		}
		fused, err := f.fuse(g, nodes)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		node, err := f.combine.Call(g, fused)
		if err != nil {
			return err
		}
		out = append(append([]*graph.Node(nil), feats...), node)
		return nil
	})
	return out, err
}

// FPNCell is one fusion cell.
type FPNCell struct {
	name     string
	cfg      *config.Config
	topology *arch.FPNConfig
	fnodes   []*FNode
}

func NewFPNCell(name string, cfg *config.Config) (*FPNCell, error) {
	topology, err := arch.GetFPNConfig(cfg.FPNName, cfg.MinLevel, cfg.MaxLevel, cfg.FPNWeightMethod)
	if err != nil {
		return nil, err
	}
	sizes := config.FeatSizes(cfg.ImageSize, cfg.MaxLevel)
	c := &FPNCell{name: name, cfg: cfg, topology: topology}
	numFeats := cfg.MaxLevel - cfg.MinLevel + 1
	for i, def := range topology.Nodes {
		c.fnodes = append(c.fnodes, NewFNode(i, def, numFeats+i, sizes[def.FeatLevel], topology.WeightMethod, cfg))
	}
	return c, nil
}

// Call maps the features of levels min..max to the cell outputs of the
// same levels.
func (c *FPNCell) Call(g *graph.Graph, feats []*graph.Node) ([]*graph.Node, error) {
	if want := c.cfg.MaxLevel - c.cfg.MinLevel + 1; len(feats) != want {
		return nil, fmt.Errorf("%s: got %d input features, want %d", c.name, len(feats), want)
	}
	var out []*graph.Node
	call := func() error {
		all := feats
		for _, f := range c.fnodes {
			logger.Log.Debug("fnode", "cell", c.name, "node", f.name, "level", f.level, "inputs", f.offsets)
			var err error
			if all, err = f.Call(g, all); err != nil {
				return err
			}
		}
		outputs := c.topology.OutputNodes(c.cfg.MinLevel, c.cfg.MaxLevel)
		for level := c.cfg.MinLevel; level <= c.cfg.MaxLevel; level++ {
			out = append(out, all[outputs[level]])
		}
		return nil
	}
	if c.name == "" {
		return out, call()
	}
	return out, g.WithScope(c.name, call)
}

// FPNCells stacks fpn_cell_repeats cells under "fpn_cells".
type FPNCells struct {
	cfg   *config.Config
	cells []*FPNCell
}

func NewFPNCells(cfg *config.Config) (*FPNCells, error) {
	fc := &FPNCells{cfg: cfg}
	for rep := 0; rep < cfg.FPNCellRepeats; rep++ {
		cell, err := NewFPNCell(fmt.Sprintf("cell_%d", rep), cfg)
		if err != nil {
			return nil, err
		}
		fc.cells = append(fc.cells, cell)
	}
	return fc, nil
}

func (fc *FPNCells) Call(g *graph.Graph, feats []*graph.Node) ([]*graph.Node, error) {
	sizes := config.FeatSizes(fc.cfg.ImageSize, fc.cfg.MaxLevel)
	err := g.WithScope("fpn_cells", func() error {
		for _, cell := range fc.cells {
			var err error
			if feats, err = cell.Call(g, feats); err != nil {
				return err
			}
			if err := checkSizes(feats, sizes, fc.cfg.MinLevel); err != nil {
				return fmt.Errorf("%s: %w", cell.name, err)
			}
		}
		return nil
	})
	return feats, err
}

func checkSizes(feats []*graph.Node, sizes []config.Size, minLevel int) error {
	for i, f := range feats {
		level := minLevel + i
		if level >= len(sizes) {
			return fmt.Errorf("no expected size for level %d", level)
		}
		if f.Dim(1) != sizes[level].Height || f.Dim(2) != sizes[level].Width {
			return fmt.Errorf("feature level %d has size %dx%d, expected %s", level, f.Dim(1), f.Dim(2), sizes[level])
		}
	}
	return nil
}
