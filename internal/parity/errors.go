package parity

import (
	"fmt"
	"strings"

	"github.com/Suraj520/automl/internal/tensor"
)

// maxListed bounds how many differing names an error message spells out.
const maxListed = 5

// StructuralMismatch reports name lists or output structures that differ in
// length, content or order.
type StructuralMismatch struct {
	VariantA string
	VariantB string
	What     string
	LenA     int
	LenB     int
	// Index is the first differing position, or -1 when only the sets differ.
	Index int
	A     string
	B     string
	OnlyA []string
	OnlyB []string
}

func (e *StructuralMismatch) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "structural mismatch in %s between %s and %s", e.What, e.VariantA, e.VariantB)
	if e.LenA != e.LenB {
		fmt.Fprintf(&sb, ": length %d vs %d", e.LenA, e.LenB)
	}
	if e.Index >= 0 {
		fmt.Fprintf(&sb, "; first difference at %d: %q vs %q", e.Index, e.A, e.B)
	}
	if len(e.OnlyA) > 0 {
		fmt.Fprintf(&sb, "; only in %s: %s", e.VariantA, listed(e.OnlyA))
	}
	if len(e.OnlyB) > 0 {
		fmt.Fprintf(&sb, "; only in %s: %s", e.VariantB, listed(e.OnlyB))
	}
	return sb.String()
}

func listed(names []string) string {
	if len(names) <= maxListed {
		return strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(names[:maxListed], ", "), len(names)-maxListed)
}

// NumericMismatch reports an output that differs beyond tolerance.
type NumericMismatch struct {
	VariantA   string
	VariantB   string
	Output     int
	Shape      []int
	DType      tensor.DType
	Tolerance  tensor.Tolerance
	MaxAbsErr  float64
	MaxRelErr  float64
	Mismatches int
	FirstIndex int
	A          float32
	B          float32
}

func (e *NumericMismatch) Error() string {
	return fmt.Sprintf("numeric mismatch in output %d %s between %s and %s: %d elements beyond atol=%g rtol=%g (%s); max abs err %g, max rel err %g; first at %d: %g vs %g",
		e.Output, tensor.ShapeString(e.Shape), e.VariantA, e.VariantB, e.Mismatches, e.Tolerance.Abs, e.Tolerance.Rel, e.DType,
		e.MaxAbsErr, e.MaxRelErr, e.FirstIndex, e.A, e.B)
}

// CombinationError names the grid combination a comparison failed under.
type CombinationError struct {
	Combination Combination
	Err         error
}

func (e *CombinationError) Error() string {
	return fmt.Sprintf("combination %s: %v", e.Combination, e.Err)
}

func (e *CombinationError) Unwrap() error { return e.Err }
