// Package arch builds the EfficientDet detector with free functions that
// create variables through scoped GetVariable calls.
package arch

import (
	"fmt"

	"github.com/Suraj520/automl/internal/backbone"
	"github.com/Suraj520/automl/internal/config"
	"github.com/Suraj520/automl/internal/graph"
	"github.com/Suraj520/automl/internal/logger"
	"github.com/Suraj520/automl/internal/tensor"
)

// BuildBackbone returns the backbone feature pyramid, levels 0..5.
func BuildBackbone(g *graph.Graph, images *graph.Node, cfg *config.Config) (map[int]*graph.Node, error) {
	return backbone.Build(g, images, cfg)
}

// VerifyFeatsSize checks feats (levels min..max in order) against the
// expected feature sizes.
func VerifyFeatsSize(feats []*graph.Node, featSizes []config.Size, minLevel, maxLevel int) error {
	for level := minLevel; level <= maxLevel; level++ {
		i := level - minLevel
		if i >= len(feats) || level >= len(featSizes) {
			return fmt.Errorf("feature level %d missing", level)
		}
		want := featSizes[level]
		if feats[i].Dim(1) != want.Height || feats[i].Dim(2) != want.Width {
			return fmt.Errorf("feature level %d has size %dx%d, expected %s",
				level, feats[i].Dim(1), feats[i].Dim(2), want)
		}
	}
	return nil
}

// BuildFeatureNetwork completes the pyramid up to max_level by resampling and
// stacks fpn_cell_repeats fusion cells on it.
func BuildFeatureNetwork(g *graph.Graph, features map[int]*graph.Node, cfg *config.Config) (map[int]*graph.Node, error) {
	if features[cfg.MinLevel] == nil {
		return nil, fmt.Errorf("features.keys must include min_level %d", cfg.MinLevel)
	}
	featSizes := config.FeatSizes(cfg.ImageSize, cfg.MaxLevel)

	var feats []*graph.Node
	for level := cfg.MinLevel; level <= cfg.MaxLevel; level++ {
		if f, ok := features[level]; ok {
			feats = append(feats, f)
			continue
		}
		prev := feats[len(feats)-1]
		f, err := ResampleFeatureMap(g, prev, fmt.Sprintf("p%d", level), ResampleParams{
			TargetHeight:        (prev.Dim(1)-1)/2 + 1,
			TargetWidth:         (prev.Dim(2)-1)/2 + 1,
			TargetChannels:      cfg.FPNNumFilters,
			ApplyBN:             cfg.ApplyBNForResampling,
			IsTraining:          cfg.IsTrainingBN,
			ConvAfterDownsample: cfg.ConvAfterDownsample,
			Strategy:            cfg.Strategy,
			PoolingType:         cfg.PoolingType,
			UseNativeResizeOp:   cfg.UseNativeResizeOp,
		})
		if err != nil {
			return nil, err
		}
		feats = append(feats, f)
	}
	if err := VerifyFeatsSize(feats, featSizes, cfg.MinLevel, cfg.MaxLevel); err != nil {
		return nil, err
	}

	out := make(map[int]*graph.Node)
	for level := cfg.MinLevel; level <= cfg.MaxLevel; level++ {
		out[level] = feats[level-cfg.MinLevel]
	}
	err := g.WithScope("fpn_cells", func() error {
		for rep := 0; rep < cfg.FPNCellRepeats; rep++ {
			err := g.WithScope(fmt.Sprintf("cell_%d", rep), func() error {
				logger.Log.Debug("building cell", "cell", rep)
				cell, err := BuildBiFPNLayer(g, feats, featSizes, cfg)
				if err != nil {
					return err
				}
				out = cell
				feats = feats[:0:0]
				for level := cfg.MinLevel; level <= cfg.MaxLevel; level++ {
					feats = append(feats, cell[level])
				}
				return VerifyFeatsSize(feats, featSizes, cfg.MinLevel, cfg.MaxLevel)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EfficientDet builds the full detector on images. When cfg is nil the named
// preset is used; overrides are applied to a copy.
func EfficientDet(g *graph.Graph, images *graph.Node, modelName string, cfg *config.Config, overrides map[string]interface{}) (classOut, boxOut map[int]*graph.Node, err error) {
	if cfg == nil && modelName == "" {
		return nil, nil, fmt.Errorf("please specify either model name or config")
	}
	if cfg == nil {
		if cfg, err = config.Get(modelName); err != nil {
			return nil, nil, err
		}
	}
	if len(overrides) > 0 {
		cfg = cfg.Clone()
		if err := cfg.Override(overrides); err != nil {
			return nil, nil, err
		}
	}
	logger.Log.Debug("EfficientDet config", "name", cfg.Name, "backbone", cfg.BackboneName, "image_size", cfg.ImageSize.String())
	if images.Dim(1) != cfg.ImageSize.Height || images.Dim(2) != cfg.ImageSize.Width {
		return nil, nil, fmt.Errorf("images %s do not match image_size %s", tensor.ShapeString(images.Shape()), cfg.ImageSize)
	}

	features, err := BuildBackbone(g, images, cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Log.Debug("Backbone built", "variables", len(g.GlobalVariables()), "nodes", g.NumNodes())
	fpnFeats, err := BuildFeatureNetwork(g, features, cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Log.Debug("Feature network built", "variables", len(g.GlobalVariables()), "nodes", g.NumNodes())
	return BuildClassAndBoxOutputs(g, fpnFeats, cfg)
}
