// Package tensor holds dense float32 host tensors, their shape rules,
// variable initializers and the tolerance helpers used to compare them.
package tensor

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/Suraj520/automl/internal/metrics"
)

var allocatedBytes int64

func traceAlloc(delta int64) {
	metrics.RecordTensorMemory(atomic.AddInt64(&allocatedBytes, delta))
}

// AllocatedBytes reports bytes currently held by arenas.
func AllocatedBytes() int64 {
	return atomic.LoadInt64(&allocatedBytes)
}

type Tensor struct {
	shape []int
	data  []float32
}

// New allocates a zero tensor.
func New(shape ...int) *Tensor {
	s := append([]int(nil), shape...)
	return &Tensor{shape: s, data: make([]float32, NumElements(s))}
}

// FromSlice wraps data without copying.
func FromSlice(data []float32, shape ...int) (*Tensor, error) {
	if n := NumElements(shape); n != len(data) {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}
	return &Tensor{shape: append([]int(nil), shape...), data: data}, nil
}

func Scalar(v float32) *Tensor {
	return &Tensor{shape: []int{}, data: []float32{v}}
}

// Full returns a tensor with every element set to v.
func Full(v float32, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

func (t *Tensor) Rank() int { return len(t.shape) }

func (t *Tensor) Len() int { return len(t.data) }

// Data exposes the backing slice in row-major order.
func (t *Tensor) Data() []float32 { return t.data }

func (t *Tensor) Clone() *Tensor {
	out := &Tensor{shape: t.Shape(), data: make([]float32, len(t.data))}
	copy(out.data, t.data)
	return out
}

// Reshape returns a view sharing the backing data.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if NumElements(shape) != len(t.data) {
		return nil, fmt.Errorf("cannot reshape %v into %v", t.shape, shape)
	}
	return &Tensor{shape: append([]int(nil), shape...), data: t.data}, nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%s", ShapeString(t.shape))
}

func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func ShapeString(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Arena tracks the memory of tensors materialized during one session run.
type Arena struct {
	bytes int64
}

func NewArena() *Arena {
	return &Arena{}
}

// Track accounts for a tensor materialized by a session and returns it.
func (a *Arena) Track(t *Tensor) *Tensor {
	if t == nil {
		return nil
	}
	n := int64(cap(t.data) * 4)
	a.bytes += n
	traceAlloc(n)
	return t
}

func (a *Arena) Bytes() int64 { return a.bytes }

// Free releases the accounting of every tracked tensor.
func (a *Arena) Free() {
	if a.bytes != 0 {
		traceAlloc(-a.bytes)
		a.bytes = 0
	}
}
