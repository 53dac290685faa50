package harness

import (
	"fmt"
	"sort"

	"github.com/Suraj520/automl/internal/arch"
	"github.com/Suraj520/automl/internal/archlayers"
	"github.com/Suraj520/automl/internal/config"
	"github.com/Suraj520/automl/internal/graph"
	"github.com/Suraj520/automl/internal/parity"
)

// Variant names reported by every builder pair.
const (
	LegacyVariant = "legacy"
	LayersVariant = "layers"
)

// Params holds builder specific settings. Only the resample builder reads
// them; zero values fall back to defaults derived from the input and config.
type Params struct {
	LegacyName     string `yaml:"legacy_name,omitempty"`
	LayersName     string `yaml:"layers_name,omitempty"`
	TargetHeight   int    `yaml:"target_height,omitempty"`
	TargetWidth    int    `yaml:"target_width,omitempty"`
	TargetChannels int    `yaml:"target_channels,omitempty"`
}

// Builder returns the legacy and layer-object variants of one entry point.
type Builder func(p Params) (legacy, layers parity.Variant)

var registry = map[string]Builder{
	"resample":        resamplePair,
	"bifpn":           bifpnPair,
	"class_box":       classBoxPair,
	"feature_network": featureNetworkPair,
	"efficientdet":    efficientDetPair,
}

// Pair looks up a builder by name.
func Pair(builder string, p Params) (legacy, layers parity.Variant, err error) {
	b, ok := registry[builder]
	if !ok {
		return nil, nil, fmt.Errorf("unknown builder %q (known: %v)", builder, Builders())
	}
	legacy, layers = b(p)
	return legacy, layers, nil
}

// Builders lists the registered builder names in sorted order.
func Builders() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func requireInputs(inputs []*graph.Node, n int) error {
	if len(inputs) != n {
		return fmt.Errorf("expected %d inputs, got %d", n, len(inputs))
	}
	return nil
}

// byLevel keys inputs by level starting at min_level.
func byLevel(inputs []*graph.Node, cfg *config.Config) map[int]*graph.Node {
	m := make(map[int]*graph.Node, len(inputs))
	for i, in := range inputs {
		m[cfg.MinLevel+i] = in
	}
	return m
}

// ordered flattens per-level maps into one list, map by map.
func ordered(cfg *config.Config, maps ...map[int]*graph.Node) ([]*graph.Node, error) {
	var out []*graph.Node
	for _, m := range maps {
		for level := cfg.MinLevel; level <= cfg.MaxLevel; level++ {
			n, ok := m[level]
			if !ok {
				return nil, fmt.Errorf("no output for level %d", level)
			}
			out = append(out, n)
		}
	}
	return out, nil
}

func resampleOptions(p Params, in *graph.Node, cfg *config.Config) archlayers.ResampleOptions {
	opts := archlayers.ResampleOptions{
		TargetHeight:        p.TargetHeight,
		TargetWidth:         p.TargetWidth,
		TargetChannels:      p.TargetChannels,
		ApplyBN:             cfg.ApplyBNForResampling,
		IsTraining:          cfg.IsTrainingBN,
		ConvAfterDownsample: cfg.ConvAfterDownsample,
		Strategy:            cfg.Strategy,
		PoolingType:         cfg.PoolingType,
		UseNativeResizeOp:   cfg.UseNativeResizeOp,
	}
	if opts.TargetHeight == 0 {
		opts.TargetHeight = (in.Dim(1)-1)/2 + 1
	}
	if opts.TargetWidth == 0 {
		opts.TargetWidth = (in.Dim(2)-1)/2 + 1
	}
	if opts.TargetChannels == 0 {
		opts.TargetChannels = cfg.FPNNumFilters
	}
	return opts
}

func resamplePair(p Params) (parity.Variant, parity.Variant) {
	if p.LegacyName == "" {
		p.LegacyName = "p0"
	}
	if p.LayersName == "" {
		p.LayersName = "resample_p0"
	}
	legacy := parity.Named(LegacyVariant, func(g *graph.Graph, inputs []*graph.Node, cfg *config.Config) ([]*graph.Node, error) {
		if err := requireInputs(inputs, 1); err != nil {
			return nil, err
		}
		out, err := arch.ResampleFeatureMap(g, inputs[0], p.LegacyName, arch.ResampleParams(resampleOptions(p, inputs[0], cfg)))
		if err != nil {
			return nil, err
		}
		return []*graph.Node{out}, nil
	})
	layers := parity.Named(LayersVariant, func(g *graph.Graph, inputs []*graph.Node, cfg *config.Config) ([]*graph.Node, error) {
		if err := requireInputs(inputs, 1); err != nil {
			return nil, err
		}
		out, err := archlayers.NewResampleFeatureMap(p.LayersName, resampleOptions(p, inputs[0], cfg)).Call(g, inputs[0])
		if err != nil {
			return nil, err
		}
		return []*graph.Node{out}, nil
	})
	return legacy, layers
}

func bifpnPair(Params) (parity.Variant, parity.Variant) {
	legacy := parity.Named(LegacyVariant, func(g *graph.Graph, inputs []*graph.Node, cfg *config.Config) ([]*graph.Node, error) {
		out, err := arch.BuildBiFPNLayer(g, inputs, config.FeatSizes(cfg.ImageSize, cfg.MaxLevel), cfg)
		if err != nil {
			return nil, err
		}
		return ordered(cfg, out)
	})
	layers := parity.Named(LayersVariant, func(g *graph.Graph, inputs []*graph.Node, cfg *config.Config) ([]*graph.Node, error) {
		out, err := archlayers.BuildBiFPNLayer(g, inputs, cfg)
		if err != nil {
			return nil, err
		}
		return ordered(cfg, out)
	})
	return legacy, layers
}

// classBoxPair takes one input per level and returns the class outputs of
// every level followed by the box outputs.
func classBoxPair(Params) (parity.Variant, parity.Variant) {
	legacy := parity.Named(LegacyVariant, func(g *graph.Graph, inputs []*graph.Node, cfg *config.Config) ([]*graph.Node, error) {
		classes, boxes, err := arch.BuildClassAndBoxOutputs(g, byLevel(inputs, cfg), cfg)
		if err != nil {
			return nil, err
		}
		return ordered(cfg, classes, boxes)
	})
	layers := parity.Named(LayersVariant, func(g *graph.Graph, inputs []*graph.Node, cfg *config.Config) ([]*graph.Node, error) {
		classes, boxes, err := archlayers.BuildClassAndBoxOutputs(g, byLevel(inputs, cfg), cfg)
		if err != nil {
			return nil, err
		}
		return ordered(cfg, classes, boxes)
	})
	return legacy, layers
}

// featureNetworkPair takes the backbone features from min_level upwards.
func featureNetworkPair(Params) (parity.Variant, parity.Variant) {
	legacy := parity.Named(LegacyVariant, func(g *graph.Graph, inputs []*graph.Node, cfg *config.Config) ([]*graph.Node, error) {
		out, err := arch.BuildFeatureNetwork(g, byLevel(inputs, cfg), cfg)
		if err != nil {
			return nil, err
		}
		return ordered(cfg, out)
	})
	layers := parity.Named(LayersVariant, func(g *graph.Graph, inputs []*graph.Node, cfg *config.Config) ([]*graph.Node, error) {
		fn, err := archlayers.NewFeatureNetwork(cfg)
		if err != nil {
			return nil, err
		}
		return fn.Call(g, inputs)
	})
	return legacy, layers
}

func efficientDetPair(Params) (parity.Variant, parity.Variant) {
	legacy := parity.Named(LegacyVariant, func(g *graph.Graph, inputs []*graph.Node, cfg *config.Config) ([]*graph.Node, error) {
		if err := requireInputs(inputs, 1); err != nil {
			return nil, err
		}
		classes, boxes, err := arch.EfficientDet(g, inputs[0], "", cfg, nil)
		if err != nil {
			return nil, err
		}
		return ordered(cfg, classes, boxes)
	})
	layers := parity.Named(LayersVariant, func(g *graph.Graph, inputs []*graph.Node, cfg *config.Config) ([]*graph.Node, error) {
		if err := requireInputs(inputs, 1); err != nil {
			return nil, err
		}
		net, err := archlayers.NewEfficientDetNet("", cfg)
		if err != nil {
			return nil, err
		}
		classes, boxes, err := net.Call(g, inputs[0])
		if err != nil {
			return nil, err
		}
		return ordered(cfg, classes, boxes)
	})
	return legacy, layers
}

// backboneChannels are the channels of the three deepest efficientnet-b0
// endpoints, used when the feature network gets synthetic backbone features.
var backboneChannels = []int{40, 112, 320}

// DefaultInputs derives input shapes for a builder from the config, for
// callers that have no scenario file.
func DefaultInputs(builder string, cfg *config.Config) ([]InputDef, error) {
	sizes := config.FeatSizes(cfg.ImageSize, cfg.MaxLevel)
	level := func(l, channels int) InputDef {
		return InputDef{Shape: []int{1, sizes[l].Height, sizes[l].Width, channels}}
	}
	var out []InputDef
	switch builder {
	case "resample":
		out = append(out, level(cfg.MinLevel, backboneChannels[len(backboneChannels)-1]))
	case "bifpn", "class_box":
		for l := cfg.MinLevel; l <= cfg.MaxLevel; l++ {
			out = append(out, level(l, cfg.FPNNumFilters))
		}
	case "feature_network":
		for i, c := range backboneChannels {
			if cfg.MinLevel+i > cfg.MaxLevel {
				break
			}
			out = append(out, level(cfg.MinLevel+i, c))
		}
	case "efficientdet":
		out = append(out, level(0, 3))
	default:
		return nil, fmt.Errorf("unknown builder %q (known: %v)", builder, Builders())
	}
	return out, nil
}
