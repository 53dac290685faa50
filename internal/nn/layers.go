// Package nn holds the layer objects both architecture variants are built
// from. A layer creates its variables under its own scope the first time it
// is called and reuses them on later calls.
package nn

import (
	"fmt"

	"github.com/Suraj520/automl/internal/graph"
	"github.com/Suraj520/automl/internal/tensor"
)

// Layer maps one feature map to another.
type Layer interface {
	Call(g *graph.Graph, x *graph.Node) (*graph.Node, error)
}

// layerName resolves an empty name to the next default name in the current scope.
func layerName(g *graph.Graph, name, base string) string {
	if name != "" {
		return name
	}
	return g.UniqueLayerName(base)
}

// Conv2D is a regular convolution with an optional bias.
type Conv2D struct {
	Name       string
	Filters    int
	KernelSize int
	Strides    int
	Padding    tensor.Padding
	UseBias    bool
	KernelInit tensor.Initializer
	BiasInit   tensor.Initializer

	kernel, bias *graph.Variable
}

// NewConv2D returns a same-padded, unit-stride conv with a zero-initialized
// bias and glorot-uniform kernel.
func NewConv2D(name string, filters, kernelSize int) *Conv2D {
	return &Conv2D{
		Name:       name,
		Filters:    filters,
		KernelSize: kernelSize,
		Strides:    1,
		Padding:    tensor.Same,
		UseBias:    true,
		KernelInit: tensor.GlorotUniform,
		BiasInit:   tensor.Zeros,
	}
}

func (c *Conv2D) Call(g *graph.Graph, x *graph.Node) (*graph.Node, error) {
	if x.Rank() != 4 {
		return nil, fmt.Errorf("conv2d %s: expected NHWC input, got %s", c.Name, x)
	}
	c.Name = layerName(g, c.Name, "conv2d")
	var out *graph.Node
	err := g.WithScope(c.Name, func() error {
		if c.kernel == nil {
			var err error
			c.kernel, err = g.GetVariable("kernel", []int{c.KernelSize, c.KernelSize, x.Dim(3), c.Filters}, c.KernelInit)
			if err != nil {
				return err
			}
			if c.UseBias {
				if c.bias, err = g.GetVariable("bias", []int{c.Filters}, c.BiasInit); err != nil {
					return err
				}
			}
		}
		y, err := g.Conv2D(x, c.kernel.Value(), [2]int{c.Strides, c.Strides}, c.Padding)
		if err != nil {
			return err
		}
		if c.bias != nil {
			y, err = g.BiasAdd(y, c.bias.Value())
		}
		out = y
		return err
	})
	return out, err
}

// DepthwiseConv2D convolves each channel separately. It has no bias.
type DepthwiseConv2D struct {
	Name            string
	KernelSize      int
	Strides         int
	DepthMultiplier int
	Padding         tensor.Padding
	KernelInit      tensor.Initializer

	kernel *graph.Variable
}

func (d *DepthwiseConv2D) Call(g *graph.Graph, x *graph.Node) (*graph.Node, error) {
	if x.Rank() != 4 {
		return nil, fmt.Errorf("depthwise_conv2d %s: expected NHWC input, got %s", d.Name, x)
	}
	d.Name = layerName(g, d.Name, "depthwise_conv2d")
	mult := d.DepthMultiplier
	if mult == 0 {
		mult = 1
	}
	var out *graph.Node
	err := g.WithScope(d.Name, func() error {
		if d.kernel == nil {
			var err error
			d.kernel, err = g.GetVariable("depthwise_kernel", []int{d.KernelSize, d.KernelSize, x.Dim(3), mult}, d.KernelInit)
			if err != nil {
				return err
			}
		}
		var err error
		out, err = g.DepthwiseConv2D(x, d.kernel.Value(), [2]int{d.Strides, d.Strides}, d.Padding)
		return err
	})
	return out, err
}

// SeparableConv2D is a depthwise conv followed by a 1x1 pointwise conv.
type SeparableConv2D struct {
	Name            string
	Filters         int
	KernelSize      int
	DepthMultiplier int
	Padding         tensor.Padding
	UseBias         bool
	DepthwiseInit   tensor.Initializer
	PointwiseInit   tensor.Initializer
	BiasInit        tensor.Initializer

	depthwise, pointwise, bias *graph.Variable
}

func NewSeparableConv2D(name string, filters, kernelSize int) *SeparableConv2D {
	return &SeparableConv2D{
		Name:            name,
		Filters:         filters,
		KernelSize:      kernelSize,
		DepthMultiplier: 1,
		Padding:         tensor.Same,
		UseBias:         true,
		DepthwiseInit:   tensor.GlorotUniform,
		PointwiseInit:   tensor.GlorotUniform,
		BiasInit:        tensor.Zeros,
	}
}

func (s *SeparableConv2D) Call(g *graph.Graph, x *graph.Node) (*graph.Node, error) {
	if x.Rank() != 4 {
		return nil, fmt.Errorf("separable_conv2d %s: expected NHWC input, got %s", s.Name, x)
	}
	s.Name = layerName(g, s.Name, "separable_conv2d")
	mult := s.DepthMultiplier
	if mult == 0 {
		mult = 1
	}
	var out *graph.Node
	err := g.WithScope(s.Name, func() error {
		if s.depthwise == nil {
			var err error
			c := x.Dim(3)
			if s.depthwise, err = g.GetVariable("depthwise_kernel", []int{s.KernelSize, s.KernelSize, c, mult}, s.DepthwiseInit); err != nil {
				return err
			}
			if s.pointwise, err = g.GetVariable("pointwise_kernel", []int{1, 1, c * mult, s.Filters}, s.PointwiseInit); err != nil {
				return err
			}
			if s.UseBias {
				if s.bias, err = g.GetVariable("bias", []int{s.Filters}, s.BiasInit); err != nil {
					return err
				}
			}
		}
		y, err := g.DepthwiseConv2D(x, s.depthwise.Value(), [2]int{1, 1}, s.Padding)
		if err != nil {
			return err
		}
		if y, err = g.Conv2D(y, s.pointwise.Value(), [2]int{1, 1}, tensor.Valid); err != nil {
			return err
		}
		if s.bias != nil {
			y, err = g.BiasAdd(y, s.bias.Value())
		}
		out = y
		return err
	})
	return out, err
}

// Sequential calls layers in order.
type Sequential []Layer

func (s Sequential) Call(g *graph.Graph, x *graph.Node) (*graph.Node, error) {
	var err error
	for _, l := range s {
		if x, err = l.Call(g, x); err != nil {
			return nil, err
		}
	}
	return x, nil
}
