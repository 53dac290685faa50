package tensor

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// RNG is a deterministic generator derived from a graph seed and a stream
// number. Equal (seed, stream) pairs always produce the same sequence.
type RNG struct {
	r *rand.Rand
}

func NewRNG(seed, stream uint64) *RNG {
	return &RNG{r: rand.New(rand.NewPCG(seed, stream))}
}

// Uniform returns a value in [lo, hi).
func (g *RNG) Uniform(lo, hi float32) float32 {
	return lo + (hi-lo)*float32(g.r.Float64())
}

func (g *RNG) Normal(mean, std float64) float32 {
	return float32(mean + std*g.r.NormFloat64())
}

// TruncatedNormal resamples draws further than two standard deviations away.
func (g *RNG) TruncatedNormal(mean, std float64) float32 {
	for {
		v := g.r.NormFloat64()
		if v >= -2 && v <= 2 {
			return float32(mean + std*v)
		}
	}
}

func RandomUniform(g *RNG, lo, hi float32, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = g.Uniform(lo, hi)
	}
	return t
}

// Initializer produces the initial value of a variable.
type Initializer interface {
	Init(g *RNG, shape []int) *Tensor
	String() string
}

type Constant float32

func (c Constant) Init(_ *RNG, shape []int) *Tensor { return Full(float32(c), shape...) }
func (c Constant) String() string                    { return fmt.Sprintf("constant(%g)", float32(c)) }

// Zeros and Ones are the usual constant initializers.
var (
	Zeros = Constant(0)
	Ones  = Constant(1)
)

type RandomNormal struct {
	Mean   float64
	Stddev float64
}

func (r RandomNormal) Init(g *RNG, shape []int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = g.Normal(r.Mean, r.Stddev)
	}
	return t
}

func (r RandomNormal) String() string {
	return fmt.Sprintf("random_normal(%g,%g)", r.Mean, r.Stddev)
}

// FanMode selects the fan used by VarianceScaling.
type FanMode int

const (
	FanIn FanMode = iota
	FanOut
	FanAvg
)

// VarianceScaling draws from a truncated normal, or a uniform when Uniform is
// set, with variance Scale/fan.
type VarianceScaling struct {
	Scale   float64
	Mode    FanMode
	Uniform bool
}

// GlorotUniform is the default kernel initializer of conv layers.
var GlorotUniform = VarianceScaling{Scale: 1, Mode: FanAvg, Uniform: true}

// ConvKernelNormal is the EfficientNet conv initializer: normal with stddev sqrt(2/fan_out).
type ConvKernelNormal struct{}

func (ConvKernelNormal) Init(g *RNG, shape []int) *Tensor {
	_, fanOut := Fans(shape)
	std := math.Sqrt(2.0 / float64(fanOut))
	return RandomNormal{Stddev: std}.Init(g, shape)
}

func (ConvKernelNormal) String() string { return "conv_kernel_normal" }

func (v VarianceScaling) Init(g *RNG, shape []int) *Tensor {
	fanIn, fanOut := Fans(shape)
	n := float64(fanIn)
	switch v.Mode {
	case FanOut:
		n = float64(fanOut)
	case FanAvg:
		n = float64(fanIn+fanOut) / 2
	}
	if n < 1 {
		n = 1
	}
	scale := v.Scale / n
	t := New(shape...)
	if v.Uniform {
		limit := float32(math.Sqrt(3 * scale))
		for i := range t.data {
			t.data[i] = g.Uniform(-limit, limit)
		}
		return t
	}
	// 0.879... is the stddev of a unit normal truncated to [-2, 2].
	std := math.Sqrt(scale) / 0.87962566103423978
	for i := range t.data {
		t.data[i] = g.TruncatedNormal(0, std)
	}
	return t
}

func (v VarianceScaling) String() string {
	return fmt.Sprintf("variance_scaling(scale=%g,mode=%d,uniform=%v)", v.Scale, v.Mode, v.Uniform)
}

// Fans computes fan-in/fan-out the way conv and dense kernels define them:
// the last two dims are (in, out) and leading dims form the receptive field.
func Fans(shape []int) (fanIn, fanOut int) {
	switch len(shape) {
	case 0:
		return 1, 1
	case 1:
		return shape[0], shape[0]
	case 2:
		return shape[0], shape[1]
	}
	rf := 1
	for _, d := range shape[:len(shape)-2] {
		rf *= d
	}
	return shape[len(shape)-2] * rf, shape[len(shape)-1] * rf
}
