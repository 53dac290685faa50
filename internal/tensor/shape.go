package tensor

import "fmt"

// Padding follows the SAME/VALID conventions of NHWC convolution kernels.
type Padding int

const (
	Same Padding = iota
	Valid
)

func (p Padding) String() string {
	if p == Valid {
		return "VALID"
	}
	return "SAME"
}

// ConvOutput returns the output extent and leading pad for one spatial dim.
// SAME puts the odd padding element after the input.
func ConvOutput(in, k, stride int, pad Padding) (out, before int) {
	if pad == Valid {
		if in < k {
			return 0, 0
		}
		return (in-k)/stride + 1, 0
	}
	out = (in + stride - 1) / stride
	total := (out-1)*stride + k - in
	if total < 0 {
		total = 0
	}
	return out, total / 2
}

// PoolKind selects the reduction of a pooling op.
type PoolKind int

const (
	MaxPool PoolKind = iota
	AvgPool
)

// BroadcastShapes applies numpy broadcasting rules.
func BroadcastShapes(a, b []int) ([]int, error) {
	rank := len(a)
	if len(b) > rank {
		rank = len(b)
	}
	out := make([]int, rank)
	for i := 0; i < rank; i++ {
		da, db := 1, 1
		if j := len(a) - rank + i; j >= 0 {
			da = a[j]
		}
		if j := len(b) - rank + i; j >= 0 {
			db = b[j]
		}
		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			return nil, fmt.Errorf("shapes %s and %s are not broadcastable", ShapeString(a), ShapeString(b))
		}
	}
	return out, nil
}
