package arch

import (
	"errors"
	"fmt"

	"github.com/Suraj520/automl/internal/graph"
	"github.com/Suraj520/automl/internal/logger"
	"github.com/Suraj520/automl/internal/nn"
	"github.com/Suraj520/automl/internal/tensor"
)

// ErrIncompatibleSize is returned when a target size is larger than the
// input along one axis and smaller along the other.
var ErrIncompatibleSize = errors.New("incompatible target feature map size")

// ErrInvalidTarget is returned for a non-positive target height, width or
// channel count.
var ErrInvalidTarget = errors.New("target feature map size must be positive")

// ResampleParams controls ResampleFeatureMap.
type ResampleParams struct {
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

// ResampleFeatureMap resizes feat to the target height, width and channel
// count under the scope "resample_<name>". Downsampling pools with a stride
// of (h-1)//target+1; upsampling repeats pixels when the scale is integral.
// A 1x1 conv, optionally followed by batch norm, fixes the channel count.
func ResampleFeatureMap(g *graph.Graph, feat *graph.Node, name string, p ResampleParams) (*graph.Node, error) {
	if feat.Rank() != 4 {
		return nil, fmt.Errorf("resample %s: expected NHWC input, got %s", name, feat)
	}
	if p.TargetHeight <= 0 || p.TargetWidth <= 0 || p.TargetChannels <= 0 {
		return nil, fmt.Errorf("resample %s: %w: target %dx%dx%d", name, ErrInvalidTarget,
			p.TargetHeight, p.TargetWidth, p.TargetChannels)
	}
	height, width, channels := feat.Dim(1), feat.Dim(2), feat.Dim(3)

	maybeApply1x1 := func(x *graph.Node) (*graph.Node, error) {
		if channels == p.TargetChannels {
			return x, nil
		}
		x, err := nn.NewConv2D("", p.TargetChannels, 1).Call(g, x)
		if err != nil {
			return nil, err
		}
		if p.ApplyBN {
			x, err = batchNormAct(g, x, p.IsTraining, "", false, p.Strategy, "bn")
		}
		return x, err
	}

	var out *graph.Node
	err := g.WithScope("resample_"+name, func() error {
		x := feat
		var err error
		switch {
		case height > p.TargetHeight && width > p.TargetWidth:
			if !p.ConvAfterDownsample {
				if x, err = maybeApply1x1(x); err != nil {
					return err
				}
			}
			kind, err := nn.PoolKind(p.PoolingType)
			if err != nil {
				return err
			}
			hStride := (height-1)/p.TargetHeight + 1
			wStride := (width-1)/p.TargetWidth + 1
			x, err = g.Pool2D(x, kind, [2]int{hStride + 1, wStride + 1}, [2]int{hStride, wStride}, tensor.Same)
			if err != nil {
				return err
			}
			if p.ConvAfterDownsample {
				if x, err = maybeApply1x1(x); err != nil {
					return err
				}
			}
			logger.Log.Debug("Resample downsample", "scope", g.Scope(), "stride", hStride, "from", height, "to", p.TargetHeight)
		case height <= p.TargetHeight && width <= p.TargetWidth:
			if x, err = maybeApply1x1(x); err != nil {
				return err
			}
			if height < p.TargetHeight || width < p.TargetWidth {
				if p.UseNativeResizeOp || p.TargetHeight%height != 0 || p.TargetWidth%width != 0 {
					x, err = g.ResizeNearest(x, p.TargetHeight, p.TargetWidth)
				} else {
					x, err = g.NearestUpsample(x, p.TargetHeight/height, p.TargetWidth/width)
				}
				if err != nil {
					return err
				}
				logger.Log.Debug("Resample upsample", "scope", g.Scope(), "from", height, "to", p.TargetHeight)
			}
		default:
			return fmt.Errorf("%w: target_height: %d, target_width: %d, input %dx%d",
				ErrIncompatibleSize, p.TargetHeight, p.TargetWidth, height, width)
		}
		out = x
		return nil
	})
	return out, err
}

// batchNormAct is batch norm followed by an optional activation.
func batchNormAct(g *graph.Graph, x *graph.Node, training bool, actType string, initZero bool, strategy, name string) (*graph.Node, error) {
	bn := nn.NewBatchNorm(name, training, strategy)
	bn.InitZero = initZero
	return nn.BatchNormAct{BatchNorm: bn, ActType: actType}.Call(g, x)
}
