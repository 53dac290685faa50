package config

import (
	"fmt"
	"sort"
)

type preset struct {
	backbone        string
	imageSize       int
	fpnNumFilters   int
	fpnCellRepeats  int
	boxClassRepeats int
	anchorScale     float64
	weightMethod    string
}

var presets = map[string]preset{
	"efficientdet-d0": {"efficientnet-b0", 512, 64, 3, 3, 4.0, ""},
	"efficientdet-d1": {"efficientnet-b1", 640, 88, 4, 3, 4.0, ""},
	"efficientdet-d2": {"efficientnet-b2", 768, 112, 5, 3, 4.0, ""},
	"efficientdet-d3": {"efficientnet-b3", 896, 160, 6, 4, 4.0, ""},
	"efficientdet-d4": {"efficientnet-b4", 1024, 224, 7, 4, 4.0, ""},
	"efficientdet-d5": {"efficientnet-b5", 1280, 288, 7, 4, 4.0, ""},
	"efficientdet-d6": {"efficientnet-b6", 1280, 384, 8, 5, 4.0, "sum"},
	"efficientdet-d7": {"efficientnet-b6", 1536, 384, 8, 5, 5.0, "sum"},
}

// Get returns the configuration of a named model preset. An empty name
// selects DefaultModelName.
func Get(name string) (*Config, error) {
	if name == "" {
		name = DefaultModelName
	}
	p, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown model preset %q (known: %v)", name, Names())
	}

	cfg := Default()
	cfg.Name = name
	cfg.BackboneName = p.backbone
	cfg.ImageSize = Size{Height: p.imageSize, Width: p.imageSize}
	cfg.FPNNumFilters = p.fpnNumFilters
	cfg.FPNCellRepeats = p.fpnCellRepeats
	cfg.BoxClassRepeats = p.boxClassRepeats
	cfg.AnchorScale = p.anchorScale
	cfg.FPNWeightMethod = p.weightMethod

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("preset %s: %w", name, err)
	}
	return &cfg, nil
}

// Names lists the known presets in sorted order.
func Names() []string {
	out := make([]string, 0, len(presets))
	for name := range presets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
