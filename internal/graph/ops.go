package graph

import (
	"fmt"

	mlx "github.com/gomlx/gomlx/pkg/core/graph"

	"github.com/Suraj520/automl/internal/tensor"
)

// Placeholder declares an input that must be fed to every Session run.
func (g *Graph) Placeholder(name string, shape ...int) *Node {
	var n *Node
	n = g.addLeaf("placeholder", shape, func(s *Session) (*tensor.Tensor, error) {
		t, ok := s.feeds[n]
		if !ok {
			return nil, tensor.NewValidationError("placeholder", "not fed", n.name)
		}
		return t, nil
	})
	if name != "" {
		n.name = g.qualify(name)
	}
	return n
}

// Const embeds a materialized tensor.
func (g *Graph) Const(t *tensor.Tensor) *Node {
	return g.addLeaf("const", t.Shape(), func(*Session) (*tensor.Tensor, error) {
		return t, nil
	})
}

// RandomUniform draws from [lo, hi) once per Session. Random ops are seeded
// by the graph seed and their creation order.
func (g *Graph) RandomUniform(lo, hi float32, shape ...int) *Node {
	stream := uint64(1)<<32 + uint64(g.randomOps)
	g.randomOps++
	seed := uint64(g.seed)
	return g.addLeaf("random_uniform", shape, func(*Session) (*tensor.Tensor, error) {
		return tensor.RandomUniform(tensor.NewRNG(seed, stream), lo, hi, shape...), nil
	})
}

func requireRank(op string, rank int, nodes ...*Node) error {
	for _, n := range nodes {
		if n.Rank() != rank {
			return shapeErr(op, fmt.Sprintf("expected rank %d", rank), n)
		}
	}
	return nil
}

func requirePositive(op, what string, v [2]int, nodes ...*Node) error {
	if v[0] < 1 || v[1] < 1 {
		return shapeErr(op, fmt.Sprintf("invalid %s %dx%d", what, v[0], v[1]), nodes...)
	}
	return nil
}

// Conv2D convolves x[N,H,W,C] with k[KH,KW,C,O].
func (g *Graph) Conv2D(x, k *Node, strides [2]int, pad tensor.Padding) (*Node, error) {
	if err := g.checkOwned("conv2d", x, k); err != nil {
		return nil, err
	}
	if err := requireRank("conv2d", 4, x, k); err != nil {
		return nil, err
	}
	if err := requirePositive("conv2d", "strides", strides, x); err != nil {
		return nil, err
	}
	if x.Dim(3) != k.Dim(2) {
		return nil, shapeErr("conv2d", "input channels do not match kernel", x, k)
	}
	oh, _ := tensor.ConvOutput(x.Dim(1), k.Dim(0), strides[0], pad)
	ow, _ := tensor.ConvOutput(x.Dim(2), k.Dim(1), strides[1], pad)
	if oh == 0 || ow == 0 {
		return nil, shapeErr("conv2d", "kernel larger than input", x, k)
	}
	shape := []int{x.Dim(0), oh, ow, k.Dim(3)}
	return g.addNode("conv2d", shape, func(in []*mlx.Node) *mlx.Node {
		return padded(mlx.Convolve(in[0], in[1]).StridePerAxis(strides[0], strides[1]), pad).Done()
	}, x, k), nil
}

// DepthwiseConv2D convolves every channel of x with its own k[KH,KW,C,M]
// slice; output channel c*M+m reads input channel c.
func (g *Graph) DepthwiseConv2D(x, k *Node, strides [2]int, pad tensor.Padding) (*Node, error) {
	if err := g.checkOwned("depthwise_conv2d", x, k); err != nil {
		return nil, err
	}
	if err := requireRank("depthwise_conv2d", 4, x, k); err != nil {
		return nil, err
	}
	if err := requirePositive("depthwise_conv2d", "strides", strides, x); err != nil {
		return nil, err
	}
	if x.Dim(3) != k.Dim(2) {
		return nil, shapeErr("depthwise_conv2d", "input channels do not match kernel", x, k)
	}
	oh, _ := tensor.ConvOutput(x.Dim(1), k.Dim(0), strides[0], pad)
	ow, _ := tensor.ConvOutput(x.Dim(2), k.Dim(1), strides[1], pad)
	if oh == 0 || ow == 0 {
		return nil, shapeErr("depthwise_conv2d", "kernel larger than input", x, k)
	}
	c, m := k.Dim(2), k.Dim(3)
	shape := []int{x.Dim(0), oh, ow, c * m}
	kh, kw := k.Dim(0), k.Dim(1)
	return g.addNode("depthwise_conv2d", shape, func(in []*mlx.Node) *mlx.Node {
		// Grouped convolution with one group per input channel.
		kernel := mlx.Reshape(in[1], kh, kw, 1, c*m)
		b := mlx.Convolve(in[0], kernel).StridePerAxis(strides[0], strides[1]).FeatureGroupCount(c)
		return padded(b, pad).Done()
	}, x, k), nil
}

func padded(b *mlx.ConvolutionBuilder, pad tensor.Padding) *mlx.ConvolutionBuilder {
	if pad == tensor.Valid {
		return b.NoPadding()
	}
	return b.PadSame()
}

// Pool2D applies max or average pooling. Average pooling divides by the
// number of unpadded elements in each window.
func (g *Graph) Pool2D(x *Node, kind tensor.PoolKind, window, strides [2]int, pad tensor.Padding) (*Node, error) {
	op := "max_pool"
	if kind == tensor.AvgPool {
		op = "avg_pool"
	}
	if err := g.checkOwned(op, x); err != nil {
		return nil, err
	}
	if err := requireRank(op, 4, x); err != nil {
		return nil, err
	}
	if err := requirePositive(op, "window", window, x); err != nil {
		return nil, err
	}
	if err := requirePositive(op, "strides", strides, x); err != nil {
		return nil, err
	}
	oh, top := tensor.ConvOutput(x.Dim(1), window[0], strides[0], pad)
	ow, left := tensor.ConvOutput(x.Dim(2), window[1], strides[1], pad)
	if oh == 0 || ow == 0 {
		return nil, shapeErr(op, fmt.Sprintf("window %dx%d larger than input", window[0], window[1]), x)
	}
	shape := []int{x.Dim(0), oh, ow, x.Dim(3)}
	if kind == tensor.MaxPool {
		return g.addNode(op, shape, func(in []*mlx.Node) *mlx.Node {
			b := mlx.MaxPool(in[0]).WindowPerAxis(window[0], window[1]).StridePerAxis(strides[0], strides[1])
			if pad == tensor.Valid {
				return b.NoPadding().Done()
			}
			return b.PadSame().Done()
		}, x), nil
	}
	counts := windowCounts(x.Dim(1), x.Dim(2), oh, ow, top, left, window, strides)
	return g.addNode(op, shape, func(in []*mlx.Node) *mlx.Node {
		b := mlx.SumPool(in[0]).WindowPerAxis(window[0], window[1]).StridePerAxis(strides[0], strides[1])
		var sum *mlx.Node
		if pad == tensor.Valid {
			sum = b.NoPadding().Done()
		} else {
			sum = b.PadSame().Done()
		}
		n := mlx.Reshape(mlx.Const(in[0].Graph(), counts), 1, oh, ow, 1)
		return mlx.Div(sum, mlx.BroadcastToDims(n, shape...))
	}, x), nil
}

// windowCounts returns, per output position, how many input pixels the
// pooling window covers.
func windowCounts(h, w, oh, ow, top, left int, window, strides [2]int) []float32 {
	span := func(o, before, in, k, s int) int {
		lo := o*s - before
		hi := lo + k
		if lo < 0 {
			lo = 0
		}
		if hi > in {
			hi = in
		}
		return hi - lo
	}
	out := make([]float32, oh*ow)
	for y := 0; y < oh; y++ {
		rows := span(y, top, h, window[0], strides[0])
		for x := 0; x < ow; x++ {
			out[y*ow+x] = float32(rows * span(x, left, w, window[1], strides[1]))
		}
	}
	return out
}

// NearestUpsample repeats pixels by integer factors.
func (g *Graph) NearestUpsample(x *Node, hs, ws int) (*Node, error) {
	if err := g.checkOwned("nearest_upsample", x); err != nil {
		return nil, err
	}
	if err := requireRank("nearest_upsample", 4, x); err != nil {
		return nil, err
	}
	if hs < 1 || ws < 1 {
		return nil, shapeErr("nearest_upsample", fmt.Sprintf("invalid scale %dx%d", hs, ws), x)
	}
	h, w := x.Dim(1), x.Dim(2)
	shape := []int{x.Dim(0), h * hs, w * ws, x.Dim(3)}
	rows := selection(h*hs, h, func(i int) int { return i / hs })
	cols := selection(w*ws, w, func(i int) int { return i / ws })
	return g.addNode("nearest_upsample", shape, func(in []*mlx.Node) *mlx.Node {
		return gatherSpatial(in[0], rows, cols)
	}, x), nil
}

// ResizeNearest resizes x to h x w without corner alignment: the source
// index is floor(dst * in/out), clamped to the input.
func (g *Graph) ResizeNearest(x *Node, h, w int) (*Node, error) {
	if err := g.checkOwned("resize_nearest", x); err != nil {
		return nil, err
	}
	if err := requireRank("resize_nearest", 4, x); err != nil {
		return nil, err
	}
	if h < 1 || w < 1 {
		return nil, shapeErr("resize_nearest", fmt.Sprintf("invalid size %dx%d", h, w), x)
	}
	ih, iw := x.Dim(1), x.Dim(2)
	hScale := float32(ih) / float32(h)
	wScale := float32(iw) / float32(w)
	rows := selection(h, ih, func(i int) int { return min(int(float32(i)*hScale), ih-1) })
	cols := selection(w, iw, func(i int) int { return min(int(float32(i)*wScale), iw-1) })
	shape := []int{x.Dim(0), h, w, x.Dim(3)}
	return g.addNode("resize_nearest", shape, func(in []*mlx.Node) *mlx.Node {
		return gatherSpatial(in[0], rows, cols)
	}, x), nil
}

// selectionMatrix is a flattened [out, in] one-hot matrix; row i picks the
// source index of output i.
type selectionMatrix struct {
	out, in int
	data    []float32
}

func selection(out, in int, src func(int) int) selectionMatrix {
	m := selectionMatrix{out: out, in: in, data: make([]float32, out*in)}
	for i := 0; i < out; i++ {
		m.data[i*in+src(i)] = 1
	}
	return m
}

func (m selectionMatrix) node(g *mlx.Graph) *mlx.Node {
	return mlx.Reshape(mlx.Const(g, m.data), m.out, m.in)
}

func gatherSpatial(x *mlx.Node, rows, cols selectionMatrix) *mlx.Node {
	g := x.Graph()
	y := mlx.Einsum("oh,nhwc->nowc", rows.node(g), x)
	return mlx.Einsum("pw,nowc->nopc", cols.node(g), y)
}

// broadcastTo lifts x to shape following numpy rules: missing leading axes
// are added, then size-1 axes are repeated.
func broadcastTo(x *mlx.Node, from, shape []int) *mlx.Node {
	if tensor.SameShape(from, shape) {
		return x
	}
	lifted := make([]int, len(shape))
	for i := range lifted {
		lifted[i] = 1
	}
	copy(lifted[len(shape)-len(from):], from)
	return mlx.BroadcastToDims(mlx.Reshape(x, lifted...), shape...)
}

func (g *Graph) binary(op string, a, b *Node, f func(x, y *mlx.Node) *mlx.Node) (*Node, error) {
	if err := g.checkOwned(op, a, b); err != nil {
		return nil, err
	}
	shape, err := tensor.BroadcastShapes(a.shape, b.shape)
	if err != nil {
		return nil, shapeErr(op, "operands are not broadcastable", a, b)
	}
	as, bs := a.Shape(), b.Shape()
	return g.addNode(op, shape, func(in []*mlx.Node) *mlx.Node {
		return f(broadcastTo(in[0], as, shape), broadcastTo(in[1], bs, shape))
	}, a, b), nil
}

func (g *Graph) Add(a, b *Node) (*Node, error) { return g.binary("add", a, b, mlx.Add) }

func (g *Graph) Mul(a, b *Node) (*Node, error) { return g.binary("mul", a, b, mlx.Mul) }

func (g *Graph) Div(a, b *Node) (*Node, error) { return g.binary("div", a, b, mlx.Div) }

// AddScalar adds a constant to every element.
func (g *Graph) AddScalar(x *Node, c float32) (*Node, error) {
	return g.Add(x, g.Const(tensor.Scalar(c)))
}

// MulScalar scales every element by a constant.
func (g *Graph) MulScalar(x *Node, c float32) (*Node, error) {
	return g.Mul(x, g.Const(tensor.Scalar(c)))
}

// AddN sums same-shaped nodes left to right.
func (g *Graph) AddN(xs ...*Node) (*Node, error) {
	if len(xs) == 0 {
		return nil, &ShapeError{Op: "add_n", Msg: "no inputs"}
	}
	if err := g.checkOwned("add_n", xs...); err != nil {
		return nil, err
	}
	for _, x := range xs[1:] {
		if !tensor.SameShape(x.shape, xs[0].shape) {
			return nil, shapeErr("add_n", "inputs must share a shape", xs...)
		}
	}
	return g.addNode("add_n", xs[0].shape, func(in []*mlx.Node) *mlx.Node {
		sum := in[0]
		for _, x := range in[1:] {
			sum = mlx.Add(sum, x)
		}
		return sum
	}, xs...), nil
}

func (g *Graph) unary(x *Node, op string, f func(*mlx.Node) *mlx.Node) (*Node, error) {
	if err := g.checkOwned(op, x); err != nil {
		return nil, err
	}
	return g.addNode(op, x.shape, func(in []*mlx.Node) *mlx.Node {
		return f(in[0])
	}, x), nil
}

func relu(x *mlx.Node) *mlx.Node { return mlx.Max(x, mlx.ConstAs(x, 0.0)) }

func (g *Graph) Relu(x *Node) (*Node, error) { return g.unary(x, "relu", relu) }

// Relu6 clamps to [0, 6].
func (g *Graph) Relu6(x *Node) (*Node, error) {
	return g.unary(x, "relu6", func(x *mlx.Node) *mlx.Node {
		return mlx.Min(relu(x), mlx.ConstAs(x, 6.0))
	})
}

func (g *Graph) Sigmoid(x *Node) (*Node, error) { return g.unary(x, "sigmoid", mlx.Sigmoid) }

// Swish is x * sigmoid(x).
func (g *Graph) Swish(x *Node) (*Node, error) {
	return g.unary(x, "swish", func(x *mlx.Node) *mlx.Node {
		return mlx.Mul(x, mlx.Sigmoid(x))
	})
}

// Floor is used by drop-connect to binarize its random mask.
func (g *Graph) Floor(x *Node) (*Node, error) { return g.unary(x, "floor", mlx.Floor) }

// BiasAdd adds b[C] along the channel axis.
func (g *Graph) BiasAdd(x, b *Node) (*Node, error) {
	if err := g.checkOwned("bias_add", x, b); err != nil {
		return nil, err
	}
	if b.Rank() != 1 || x.Rank() == 0 || x.Dim(-1) != b.Dim(0) {
		return nil, shapeErr("bias_add", "bias must match the channel axis", x, b)
	}
	shape, bs := x.Shape(), b.Shape()
	return g.addNode("bias_add", shape, func(in []*mlx.Node) *mlx.Node {
		return mlx.Add(in[0], broadcastTo(in[1], bs, shape))
	}, x, b), nil
}

// Moments returns per-channel mean and variance of x over N, H and W. With
// crossReplica set the variance is computed as E[x^2] - E[x]^2, the way
// cross-replica batch norms aggregate shard sums.
func (g *Graph) Moments(x *Node, crossReplica bool) (mean, variance *Node, err error) {
	if err := g.checkOwned("moments", x); err != nil {
		return nil, nil, err
	}
	if err := requireRank("moments", 4, x); err != nil {
		return nil, nil, err
	}
	shape := []int{x.Dim(3)}
	xs := x.Shape()
	mean = g.addNode("moments_mean", shape, func(in []*mlx.Node) *mlx.Node {
		return mlx.ReduceMean(in[0], 0, 1, 2)
	}, x)
	variance = g.addNode("moments_variance", shape, func(in []*mlx.Node) *mlx.Node {
		m := mlx.ReduceMean(in[0], 0, 1, 2)
		if crossReplica {
			return mlx.Sub(mlx.ReduceMean(mlx.Square(in[0]), 0, 1, 2), mlx.Square(m))
		}
		centered := mlx.Sub(in[0], broadcastTo(m, shape, xs))
		return mlx.ReduceMean(mlx.Square(centered), 0, 1, 2)
	}, x)
	return mean, variance, nil
}

// BatchNorm normalizes the channel axis of x as x*scale + shift with
// scale = gamma/sqrt(variance+eps) and shift = beta - mean*scale.
func (g *Graph) BatchNorm(x, gamma, beta, mean, variance *Node, eps float32) (*Node, error) {
	if err := g.checkOwned("batch_norm", x, gamma, beta, mean, variance); err != nil {
		return nil, err
	}
	for _, p := range []*Node{gamma, beta, mean, variance} {
		if p.Rank() != 1 || x.Rank() == 0 || p.Dim(0) != x.Dim(-1) {
			return nil, shapeErr("batch_norm", "parameters must match the channel axis", x, p)
		}
	}
	shape, ps := x.Shape(), gamma.Shape()
	return g.addNode("batch_norm", shape, func(in []*mlx.Node) *mlx.Node {
		scale := mlx.Mul(in[1], mlx.Rsqrt(mlx.Add(in[4], mlx.ConstAs(in[4], float64(eps)))))
		shift := mlx.Sub(in[2], mlx.Mul(in[3], scale))
		return mlx.Add(mlx.Mul(in[0], broadcastTo(scale, ps, shape)), broadcastTo(shift, ps, shape))
	}, x, gamma, beta, mean, variance), nil
}

// SpatialMean averages over H and W, keeping them as size-1 axes.
func (g *Graph) SpatialMean(x *Node) (*Node, error) {
	if err := g.checkOwned("spatial_mean", x); err != nil {
		return nil, err
	}
	if err := requireRank("spatial_mean", 4, x); err != nil {
		return nil, err
	}
	shape := []int{x.Dim(0), 1, 1, x.Dim(3)}
	return g.addNode("spatial_mean", shape, func(in []*mlx.Node) *mlx.Node {
		return mlx.Reshape(mlx.ReduceMean(in[0], 1, 2), shape...)
	}, x), nil
}

// Softmax normalizes along the last axis.
func (g *Graph) Softmax(x *Node) (*Node, error) {
	if err := g.checkOwned("softmax", x); err != nil {
		return nil, err
	}
	if x.Rank() == 0 {
		return nil, shapeErr("softmax", "scalar input", x)
	}
	return g.addNode("softmax", x.shape, func(in []*mlx.Node) *mlx.Node {
		return mlx.Softmax(in[0], -1)
	}, x), nil
}

// Stack joins same-shaped nodes along a new trailing axis.
func (g *Graph) Stack(xs ...*Node) (*Node, error) {
	if len(xs) == 0 {
		return nil, &ShapeError{Op: "stack", Msg: "no inputs"}
	}
	if err := g.checkOwned("stack", xs...); err != nil {
		return nil, err
	}
	for _, x := range xs[1:] {
		if !tensor.SameShape(x.shape, xs[0].shape) {
			return nil, shapeErr("stack", "inputs must share a shape", xs...)
		}
	}
	shape := append(xs[0].Shape(), len(xs))
	return g.addNode("stack", shape, func(in []*mlx.Node) *mlx.Node {
		parts := make([]*mlx.Node, len(in))
		for i, x := range in {
			parts[i] = mlx.InsertAxes(x, -1)
		}
		return mlx.Concatenate(parts, -1)
	}, xs...), nil
}

// ReduceSumLast sums out the trailing axis.
func (g *Graph) ReduceSumLast(x *Node) (*Node, error) {
	if err := g.checkOwned("reduce_sum", x); err != nil {
		return nil, err
	}
	if x.Rank() == 0 {
		return nil, shapeErr("reduce_sum", "scalar input", x)
	}
	shape := x.shape[:x.Rank()-1]
	return g.addNode("reduce_sum", shape, func(in []*mlx.Node) *mlx.Node {
		return mlx.ReduceSum(in[0], -1)
	}, x), nil
}

// TakeLast selects index i of the trailing axis.
func (g *Graph) TakeLast(x *Node, i int) (*Node, error) {
	if err := g.checkOwned("take_last", x); err != nil {
		return nil, err
	}
	if x.Rank() == 0 || i < 0 || i >= x.Dim(-1) {
		return nil, shapeErr("take_last", fmt.Sprintf("index %d out of range", i), x)
	}
	shape := x.Shape()[:x.Rank()-1]
	rank := x.Rank()
	return g.addNode("take_last", shape, func(in []*mlx.Node) *mlx.Node {
		specs := make([]mlx.SliceAxisSpec, rank)
		for d := range specs {
			specs[d] = mlx.AxisRange()
		}
		specs[rank-1] = mlx.AxisElem(i)
		return mlx.Reshape(mlx.Slice(in[0], specs...), shape...)
	}, x), nil
}

// Reshape changes the static shape without moving data.
func (g *Graph) Reshape(x *Node, shape ...int) (*Node, error) {
	if err := g.checkOwned("reshape", x); err != nil {
		return nil, err
	}
	if tensor.NumElements(shape) != tensor.NumElements(x.shape) {
		return nil, shapeErr("reshape", fmt.Sprintf("cannot reshape into %s", tensor.ShapeString(shape)), x)
	}
	return g.addNode("reshape", shape, func(in []*mlx.Node) *mlx.Node {
		return mlx.Reshape(in[0], shape...)
	}, x), nil
}
