package parity

import (
	"fmt"

	"github.com/Suraj520/automl/internal/config"
	"github.com/Suraj520/automl/internal/graph"
	"github.com/Suraj520/automl/internal/logger"
	"github.com/Suraj520/automl/internal/metrics"
	"github.com/Suraj520/automl/internal/tensor"
)

// NamesReport holds the normalized name lists of both variants.
type NamesReport struct {
	VariantA   string
	VariantB   string
	Collection Collection
	NamesA     []string
	NamesB     []string
}

// OutputDiff summarizes the comparison of one output.
type OutputDiff struct {
	Index      int
	Shape      []int
	MaxAbsErr  float64
	MaxRelErr  float64
	Mismatches int
	Tolerance  tensor.Tolerance
	Pass       bool
	StatsA     tensor.Stats
	StatsB     tensor.Stats
}

// OutputsReport holds one OutputDiff per output.
type OutputsReport struct {
	VariantA string
	VariantB string
	Seed     int64
	DType    tensor.DType
	Outputs  []OutputDiff
	// ValuesA and ValuesB are the evaluated outputs, for dumping.
	ValuesA []*tensor.Tensor
	ValuesB []*tensor.Tensor
}

// Pass reports whether every output is within tolerance.
func (r *OutputsReport) Pass() bool {
	for _, o := range r.Outputs {
		if !o.Pass {
			return false
		}
	}
	return true
}

// CompareVariableNames builds a and b in isolated graphs and requires their
// variable names to be equal in content and order. Construction errors are
// returned as is; differences are a *StructuralMismatch.
func CompareVariableNames(a, b Variant, inputs []InputSpec, cfg *config.Config, opts ...Option) (*NamesReport, error) {
	o := newOptions(opts)
	ba, err := construct(a, inputs, cfg, 0)
	if err != nil {
		return nil, err
	}
	bb, err := construct(b, inputs, cfg, 0)
	if err != nil {
		return nil, err
	}
	report := &NamesReport{
		VariantA:   a.Name(),
		VariantB:   b.Name(),
		Collection: o.collection,
		NamesA:     normalize(collect(ba.g, o.collection), o.normalizeA),
		NamesB:     normalize(collect(bb.g, o.collection), o.normalizeB),
	}
	logger.Log.Info("Comparing variable names", "a", a.Name(), "b", b.Name(), "collection", o.collection.String(),
		"count_a", len(report.NamesA), "count_b", len(report.NamesB))

	mismatch := diffNames(report.NamesA, report.NamesB, o.setSemantics)
	metrics.RecordComparison("variable_names", mismatch == nil)
	if mismatch != nil {
		mismatch.VariantA, mismatch.VariantB = a.Name(), b.Name()
		mismatch.What = o.collection.String() + " variable names"
		metrics.RecordMismatch("structural")
		logger.Log.Warn("Variable names differ", "error", mismatch.Error())
		return report, mismatch
	}
	return report, nil
}

func collect(g *graph.Graph, c Collection) []string {
	if c == Trainable {
		return graph.Names(g.TrainableVariables())
	}
	return graph.Names(g.GlobalVariables())
}

// diffNames returns nil when the lists match.
func diffNames(a, b []string, asSet bool) *StructuralMismatch {
	m := &StructuralMismatch{LenA: len(a), LenB: len(b), Index: -1}
	if !asSet {
		for i := 0; i < len(a) && i < len(b); i++ {
			if a[i] != b[i] {
				m.Index, m.A, m.B = i, a[i], b[i]
				break
			}
		}
	}
	m.OnlyA, m.OnlyB = setDiff(a, b), setDiff(b, a)
	if asSet {
		// Duplicates count: {x, x} is not {x}.
		if len(a) == len(b) && len(m.OnlyA) == 0 && len(m.OnlyB) == 0 {
			return nil
		}
		return m
	}
	if m.Index < 0 && len(a) == len(b) {
		return nil
	}
	return m
}

// setDiff lists the entries of a, with multiplicity, that b lacks.
func setDiff(a, b []string) []string {
	count := make(map[string]int, len(b))
	for _, s := range b {
		count[s]++
	}
	var out []string
	for _, s := range a {
		if count[s] > 0 {
			count[s]--
			continue
		}
		out = append(out, s)
	}
	return out
}

// CompareOutputs builds a and b in graphs seeded with seed, evaluates both on
// the same input values and requires every output to match within the
// tolerance of the comparison dtype.
func CompareOutputs(a, b Variant, inputs []InputSpec, cfg *config.Config, seed int64, opts ...Option) (*OutputsReport, error) {
	o := newOptions(opts)
	values := make([]*tensor.Tensor, len(inputs))
	for i, s := range inputs {
		v, err := s.materialize(seed, i)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	outA, err := evaluate(o, a, inputs, values, cfg, seed)
	if err != nil {
		return nil, err
	}
	outB, err := evaluate(o, b, inputs, values, cfg, seed)
	if err != nil {
		return nil, err
	}

	logger.Log.Info("Comparing outputs", "a", a.Name(), "b", b.Name(), "seed", seed, "dtype", o.dtype.String(), "outputs", len(outA))
	report, err := CompareTensors(a.Name(), b.Name(), outA, outB, o.dtype, o.tol())
	if report != nil {
		report.Seed = seed
	}
	return report, err
}

// CompareTensors compares two lists of materialized outputs position by
// position. It backs CompareOutputs and baseline comparisons.
func CompareTensors(nameA, nameB string, outA, outB []*tensor.Tensor, d tensor.DType, tol tensor.Tolerance) (*OutputsReport, error) {
	report := &OutputsReport{VariantA: nameA, VariantB: nameB, DType: d, ValuesA: outA, ValuesB: outB}
	if len(outA) != len(outB) {
		m := &StructuralMismatch{VariantA: nameA, VariantB: nameB, What: "output count", LenA: len(outA), LenB: len(outB), Index: -1}
		return report, fail(m, "structural")
	}
	var first error
	for i := range outA {
		if !tensor.SameShape(outA[i].Shape(), outB[i].Shape()) {
			m := &StructuralMismatch{
				VariantA: nameA, VariantB: nameB, What: fmt.Sprintf("output %d shape", i),
				LenA: outA[i].Rank(), LenB: outB[i].Rank(),
				A: tensor.ShapeString(outA[i].Shape()), B: tensor.ShapeString(outB[i].Shape()),
			}
			return report, fail(m, "structural")
		}
		res, err := tensor.AllCloseWithin(outA[i], outB[i], d, tol)
		if err != nil {
			return report, err
		}
		report.Outputs = append(report.Outputs, OutputDiff{
			Index:      i,
			Shape:      outA[i].Shape(),
			MaxAbsErr:  res.MaxAbsErr,
			MaxRelErr:  res.MaxRelErr,
			Mismatches: res.Mismatches,
			Tolerance:  tol,
			Pass:       res.Pass,
			StatsA:     tensor.ComputeStats(outA[i].Data(), 8),
			StatsB:     tensor.ComputeStats(outB[i].Data(), 8),
		})
		metrics.RecordMaxAbsError(res.MaxAbsErr)
		if !res.Pass && first == nil {
			first = &NumericMismatch{
				VariantA: nameA, VariantB: nameB, Output: i, Shape: outA[i].Shape(),
				DType: d, Tolerance: tol, MaxAbsErr: res.MaxAbsErr, MaxRelErr: res.MaxRelErr,
				Mismatches: res.Mismatches, FirstIndex: res.FirstIndex, A: res.Got, B: res.Want,
			}
		}
	}
	if first != nil {
		return report, fail(first, "numeric")
	}
	metrics.RecordComparison("outputs", true)
	return report, nil
}

func fail(err error, class string) error {
	metrics.RecordComparison("outputs", false)
	metrics.RecordMismatch(class)
	logger.Log.Warn("Outputs differ", "error", err.Error())
	return err
}

// evaluate builds v and runs its outputs on values.
func evaluate(o *options, v Variant, specs []InputSpec, values []*tensor.Tensor, cfg *config.Config, seed int64) ([]*tensor.Tensor, error) {
	b, err := construct(v, specs, cfg, seed)
	if err != nil {
		return nil, err
	}
	sess := graph.NewSession(b.g)
	defer sess.Close()
	for i, in := range b.inputs {
		if err := sess.Feed(in, values[i]); err != nil {
			return nil, fmt.Errorf("run %s: %w", v.Name(), err)
		}
	}
	out, err := sess.Run(o.ctx, b.outputs...)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", v.Name(), err)
	}
	metrics.RecordTensorMemory(sess.Bytes())
	for i, t := range out {
		if info := tensor.DetectNaN(t.Data(), 4); !info.IsValid() {
			metrics.RecordNumericalInstability(v.Name(), info.Count, info.InfCount)
			logger.Log.Warn("Non-finite output", "variant", v.Name(), "output", i, "nans", info.Count, "infs", info.InfCount)
		}
	}
	return out, nil
}
