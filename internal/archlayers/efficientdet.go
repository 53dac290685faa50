package archlayers

import (
	"fmt"

	"github.com/Suraj520/automl/internal/backbone"
	"github.com/Suraj520/automl/internal/config"
	"github.com/Suraj520/automl/internal/graph"
	"github.com/Suraj520/automl/internal/logger"
)

// FeatureNetwork completes the pyramid up to max_level and runs the fusion
// cells on it.
type FeatureNetwork struct {
	cfg      *config.Config
	resample map[int]*ResampleFeatureMap
	cells    *FPNCells
}

func NewFeatureNetwork(cfg *config.Config) (*FeatureNetwork, error) {
	cells, err := NewFPNCells(cfg)
	if err != nil {
		return nil, err
	}
	fn := &FeatureNetwork{cfg: cfg, resample: make(map[int]*ResampleFeatureMap), cells: cells}
	sizes := config.FeatSizes(cfg.ImageSize, cfg.MaxLevel)
	for level := cfg.MinLevel + 1; level <= cfg.MaxLevel; level++ {
		fn.resample[level] = NewResampleFeatureMap(fmt.Sprintf("resample_p%d", level), ResampleOptions{
			TargetHeight:        sizes[level].Height,
			TargetWidth:         sizes[level].Width,
			TargetChannels:      cfg.FPNNumFilters,
			ApplyBN:             cfg.ApplyBNForResampling,
			IsTraining:          cfg.IsTrainingBN,
			ConvAfterDownsample: cfg.ConvAfterDownsample,
			Strategy:            cfg.Strategy,
			PoolingType:         cfg.PoolingType,
			UseNativeResizeOp:   cfg.UseNativeResizeOp,
		})
	}
	return fn, nil
}

// Call takes the features of levels min_level upwards, as many as the
// backbone provides, and returns the fused features of min..max.
func (fn *FeatureNetwork) Call(g *graph.Graph, feats []*graph.Node) ([]*graph.Node, error) {
	if len(feats) == 0 {
		return nil, fmt.Errorf("feature network: features must include min_level %d", fn.cfg.MinLevel)
	}
	feats, err := fn.extend(g, feats)
	if err != nil {
		return nil, err
	}
	return fn.cells.Call(g, feats)
}

// extend appends the resampled levels the input lacks and checks every size.
func (fn *FeatureNetwork) extend(g *graph.Graph, feats []*graph.Node) ([]*graph.Node, error) {
	feats = append([]*graph.Node(nil), feats...)
	for level := fn.cfg.MinLevel + len(feats); level <= fn.cfg.MaxLevel; level++ {
		r, ok := fn.resample[level]
		if !ok {
			return nil, fmt.Errorf("no resample layer for level %d", level)
		}
		f, err := r.Call(g, feats[len(feats)-1])
		if err != nil {
			return nil, err
		}
		feats = append(feats, f)
	}
	sizes := config.FeatSizes(fn.cfg.ImageSize, fn.cfg.MaxLevel)
	if err := checkSizes(feats, sizes, fn.cfg.MinLevel); err != nil {
		return nil, err
	}
	return feats, nil
}

// EfficientDetNet is the full detector: backbone, feature network and heads.
type EfficientDetNet struct {
	cfg      *config.Config
	backbone *backbone.Model
	features *FeatureNetwork
	classNet *ClassNet
	boxNet   *BoxNet
}

// NewEfficientDetNet constructs the detector for a preset name or, when cfg
// is non-nil, for that config.
func NewEfficientDetNet(modelName string, cfg *config.Config) (*EfficientDetNet, error) {
	if cfg == nil {
		if modelName == "" {
			return nil, fmt.Errorf("please specify either model name or config")
		}
		var err error
		if cfg, err = config.Get(modelName); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p, err := backbone.ParamsFor(cfg.BackboneName)
	if err != nil {
		return nil, err
	}
	bb, err := backbone.NewModel(cfg.BackboneName, backbone.OptionsFromConfig(cfg, p))
	if err != nil {
		return nil, err
	}
	features, err := NewFeatureNetwork(cfg)
	if err != nil {
		return nil, err
	}
	return &EfficientDetNet{
		cfg:      cfg,
		backbone: bb,
		features: features,
		classNet: NewClassNet(cfg),
		boxNet:   NewBoxNet(cfg),
	}, nil
}

func (n *EfficientDetNet) Config() *config.Config { return n.cfg }

// Call builds the detector on images and returns class and box outputs
// keyed by level.
func (n *EfficientDetNet) Call(g *graph.Graph, images *graph.Node) (classOut, boxOut map[int]*graph.Node, err error) {
	if images.Rank() != 4 || images.Dim(1) != n.cfg.ImageSize.Height || images.Dim(2) != n.cfg.ImageSize.Width {
		return nil, nil, fmt.Errorf("images %s do not match image_size %s", images, n.cfg.ImageSize)
	}
	features, err := n.backbone.Call(g, images)
	if err != nil {
		return nil, nil, err
	}
	feats, err := n.pyramid(features)
	if err != nil {
		return nil, nil, err
	}
	if feats, err = n.features.Call(g, feats); err != nil {
		return nil, nil, err
	}
	logger.Log.Debug("Feature network built", "variables", len(g.GlobalVariables()), "nodes", g.NumNodes())

	classes, err := n.classNet.Call(g, feats)
	if err != nil {
		return nil, nil, err
	}
	boxes, err := n.boxNet.Call(g, feats)
	if err != nil {
		return nil, nil, err
	}
	classOut = make(map[int]*graph.Node)
	boxOut = make(map[int]*graph.Node)
	for i := range feats {
		classOut[n.cfg.MinLevel+i] = classes[i]
		boxOut[n.cfg.MinLevel+i] = boxes[i]
	}
	return classOut, boxOut, nil
}

// pyramid collects the backbone levels from min_level up to level 5.
func (n *EfficientDetNet) pyramid(features map[int]*graph.Node) ([]*graph.Node, error) {
	var feats []*graph.Node
	for level := n.cfg.MinLevel; level <= n.cfg.MaxLevel && level <= 5; level++ {
		f, ok := features[level]
		if !ok {
			return nil, fmt.Errorf("backbone did not produce level %d", level)
		}
		feats = append(feats, f)
	}
	return feats, nil
}

// BuildBiFPNLayer builds one unscoped fusion cell over feats and returns the
// outputs keyed by level.
func BuildBiFPNLayer(g *graph.Graph, feats []*graph.Node, cfg *config.Config) (map[int]*graph.Node, error) {
	cell, err := NewFPNCell("", cfg)
	if err != nil {
		return nil, err
	}
	out, err := cell.Call(g, feats)
	if err != nil {
		return nil, err
	}
	m := make(map[int]*graph.Node, len(out))
	for i, f := range out {
		m[cfg.MinLevel+i] = f
	}
	return m, nil
}
