// Package archlayers builds the EfficientDet detector from layer objects.
// Each layer owns its sublayers and creates its variables lazily on the
// first call; later calls reuse them by reference rather than by name.
package archlayers

import (
	"errors"
	"fmt"

	"github.com/Suraj520/automl/internal/graph"
	"github.com/Suraj520/automl/internal/nn"
	"github.com/Suraj520/automl/internal/tensor"
)

// ErrIncompatibleSize is returned when a feature map cannot be resampled to
// the requested size.
var ErrIncompatibleSize = errors.New("incompatible target feature map size")

// ErrInvalidTarget is returned for a non-positive target height, width or
// channel count.
var ErrInvalidTarget = errors.New("target feature map size must be positive")

// ResampleOptions configures a ResampleFeatureMap layer.
type ResampleOptions struct {
	TargetHeight        int
	TargetWidth         int
	TargetChannels      int
	ApplyBN             bool
	IsTraining          bool
	ConvAfterDownsample bool
	Strategy            string
	PoolingType         string
	UseNativeResizeOp   bool
}

// ResampleFeatureMap resizes a feature map to a fixed target. Its variables
// live under the layer's own name.
type ResampleFeatureMap struct {
	name string
	opts ResampleOptions

	conv2d *nn.Conv2D
	bn     *nn.BatchNorm
}

func NewResampleFeatureMap(name string, opts ResampleOptions) *ResampleFeatureMap {
	return &ResampleFeatureMap{
		name:   name,
		opts:   opts,
		conv2d: nn.NewConv2D("conv2d", opts.TargetChannels, 1),
		bn:     nn.NewBatchNorm("bn", opts.IsTraining, opts.Strategy),
	}
}

func (r *ResampleFeatureMap) Name() string { return r.name }

func (r *ResampleFeatureMap) project(g *graph.Graph, x *graph.Node, channels int) (*graph.Node, error) {
	if channels == r.opts.TargetChannels {
		return x, nil
	}
	x, err := r.conv2d.Call(g, x)
	if err != nil || !r.opts.ApplyBN {
		return x, err
	}
	return r.bn.Call(g, x)
}

func (r *ResampleFeatureMap) pool(g *graph.Graph, x *graph.Node) (*graph.Node, error) {
	kind, err := nn.PoolKind(r.opts.PoolingType)
	if err != nil {
		return nil, err
	}
	hStride := (x.Dim(1)-1)/r.opts.TargetHeight + 1
	wStride := (x.Dim(2)-1)/r.opts.TargetWidth + 1
	return g.Pool2D(x, kind, [2]int{hStride + 1, wStride + 1}, [2]int{hStride, wStride}, tensor.Same)
}

func (r *ResampleFeatureMap) upsample(g *graph.Graph, x *graph.Node) (*graph.Node, error) {
	h, w := x.Dim(1), x.Dim(2)
	th, tw := r.opts.TargetHeight, r.opts.TargetWidth
	if h == th && w == tw {
		return x, nil
	}
	if r.opts.UseNativeResizeOp || th%h != 0 || tw%w != 0 {
		return g.ResizeNearest(x, th, tw)
	}
	return g.NearestUpsample(x, th/h, tw/w)
}

func (r *ResampleFeatureMap) Call(g *graph.Graph, feat *graph.Node) (*graph.Node, error) {
	if feat.Rank() != 4 {
		return nil, fmt.Errorf("%s: expected NHWC input, got %s", r.name, feat)
	}
	h, w, c := feat.Dim(1), feat.Dim(2), feat.Dim(3)
	th, tw := r.opts.TargetHeight, r.opts.TargetWidth
	if th <= 0 || tw <= 0 || r.opts.TargetChannels <= 0 {
		return nil, fmt.Errorf("%s: %w: target %dx%dx%d", r.name, ErrInvalidTarget, th, tw, r.opts.TargetChannels)
	}
	var out *graph.Node
	err := g.WithScope(r.name, func() error {
		var err error
		switch {
		case h > th && w > tw:
			x := feat
			if !r.opts.ConvAfterDownsample {
				if x, err = r.project(g, x, c); err != nil {
					return err
				}
			}
			if x, err = r.pool(g, x); err != nil {
				return err
			}
			if r.opts.ConvAfterDownsample {
				if x, err = r.project(g, x, c); err != nil {
					return err
				}
			}
			out = x
		case h <= th && w <= tw:
			x, err := r.project(g, feat, c)
			if err != nil {
				return err
			}
			out, err = r.upsample(g, x)
			return err
		default:
			return fmt.Errorf("%s: %w: target_height: %d, target_width: %d, input %dx%d",
				r.name, ErrIncompatibleSize, th, tw, h, w)
		}
		return nil
	})
	return out, err
}
