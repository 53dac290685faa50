// Package snapshot stores comparison artifacts as Arrow IPC files so a run
// can be inspected later or used as a regression baseline.
package snapshot

import (
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/Suraj520/automl/internal/logger"
	"github.com/Suraj520/automl/internal/parity"
	"github.com/Suraj520/automl/internal/tensor"
)

const (
	kindKey     = "kind"
	kindNames   = "names"
	kindTensors = "tensors"
)

// Entry is one named tensor. Name-only entries have a nil Tensor.
type Entry struct {
	Name   string
	Tensor *tensor.Tensor
}

func schema(kind string) *arrow.Schema {
	md := arrow.NewMetadata([]string{kindKey}, []string{kind})
	return arrow.NewSchema([]arrow.Field{
		{Name: "name", Type: arrow.BinaryTypes.String},
		{Name: "shape", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
		{Name: "values", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
	}, &md)
}

// WriteNames writes an ordered name list.
func WriteNames(w io.Writer, names []string) error {
	entries := make([]Entry, len(names))
	for i, n := range names {
		entries[i] = Entry{Name: n}
	}
	return write(w, kindNames, entries)
}

// WriteTensors writes named tensors in order.
func WriteTensors(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		if e.Tensor == nil {
			return fmt.Errorf("snapshot: tensor %q is nil", e.Name)
		}
	}
	return write(w, kindTensors, entries)
}

func write(w io.Writer, kind string, entries []Entry) error {
	mem := memory.NewGoAllocator()
	sc := schema(kind)
	b := array.NewRecordBuilder(mem, sc)
	defer b.Release()

	names := b.Field(0).(*array.StringBuilder)
	shapes := b.Field(1).(*array.ListBuilder)
	dims := shapes.ValueBuilder().(*array.Int64Builder)
	values := b.Field(2).(*array.ListBuilder)
	floats := values.ValueBuilder().(*array.Float32Builder)
	for _, e := range entries {
		names.Append(e.Name)
		shapes.Append(true)
		values.Append(true)
		if e.Tensor == nil {
			continue
		}
		for _, d := range e.Tensor.Shape() {
			dims.Append(int64(d))
		}
		floats.AppendValues(e.Tensor.Data(), nil)
	}
	rec := b.NewRecord()
	defer rec.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(sc), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("snapshot: failed to create writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("snapshot: failed to write record: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("snapshot: failed to close writer: %w", err)
	}
	logger.Log.Debug("Snapshot written", "kind", kind, "entries", len(entries))
	return nil
}

// Read loads every entry of a snapshot along with its kind.
func Read(r ipc.ReadAtSeeker) (kind string, entries []Entry, err error) {
	mem := memory.NewGoAllocator()
	fr, err := ipc.NewFileReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return "", nil, fmt.Errorf("snapshot: failed to open: %w", err)
	}
	defer fr.Close()

	md := fr.Schema().Metadata()
	if i := md.FindKey(kindKey); i >= 0 {
		kind = md.Values()[i]
	}
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return "", nil, fmt.Errorf("snapshot: failed to read record %d: %w", i, err)
		}
		batch, err := decode(rec, kind == kindTensors)
		if err != nil {
			return "", nil, err
		}
		entries = append(entries, batch...)
	}
	return kind, entries, nil
}

func decode(rec arrow.Record, withValues bool) ([]Entry, error) {
	if rec.NumCols() != 3 {
		return nil, fmt.Errorf("snapshot: expected 3 columns, got %d", rec.NumCols())
	}
	names, ok := rec.Column(0).(*array.String)
	if !ok {
		return nil, fmt.Errorf("snapshot: name column has type %s", rec.Column(0).DataType())
	}
	shapes, ok := rec.Column(1).(*array.List)
	if !ok {
		return nil, fmt.Errorf("snapshot: shape column has type %s", rec.Column(1).DataType())
	}
	values, ok := rec.Column(2).(*array.List)
	if !ok {
		return nil, fmt.Errorf("snapshot: values column has type %s", rec.Column(2).DataType())
	}
	dims := shapes.ListValues().(*array.Int64)
	floats := values.ListValues().(*array.Float32)

	out := make([]Entry, 0, rec.NumRows())
	for i := 0; i < int(rec.NumRows()); i++ {
		e := Entry{Name: names.Value(i)}
		if withValues {
			start, end := shapes.ValueOffsets(i)
			shape := make([]int, 0, end-start)
			for j := start; j < end; j++ {
				shape = append(shape, int(dims.Value(int(j))))
			}
			vs, ve := values.ValueOffsets(i)
			data := make([]float32, ve-vs)
			copy(data, floats.Float32Values()[vs:ve])
			t, err := tensor.FromSlice(data, shape...)
			if err != nil {
				return nil, fmt.Errorf("snapshot: entry %q: %w", e.Name, err)
			}
			e.Tensor = t
		}
		out = append(out, e)
	}
	return out, nil
}

// ReadNames loads a name list written by WriteNames.
func ReadNames(r ipc.ReadAtSeeker) ([]string, error) {
	kind, entries, err := Read(r)
	if err != nil {
		return nil, err
	}
	if kind != kindNames {
		return nil, fmt.Errorf("snapshot: expected %s, found %q", kindNames, kind)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// ReadTensors loads tensors written by WriteTensors.
func ReadTensors(r ipc.ReadAtSeeker) ([]Entry, error) {
	kind, entries, err := Read(r)
	if err != nil {
		return nil, err
	}
	if kind != kindTensors {
		return nil, fmt.Errorf("snapshot: expected %s, found %q", kindTensors, kind)
	}
	return entries, nil
}

// SaveTensors writes entries to path.
func SaveTensors(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := WriteTensors(f, entries); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// SaveNames writes names to path.
func SaveNames(path string, names []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := WriteNames(f, names); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadTensors reads the tensors stored at path.
func LoadTensors(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer f.Close()
	return ReadTensors(f)
}

// Outputs names materialized outputs output_0, output_1, ...
func Outputs(values []*tensor.Tensor) []Entry {
	entries := make([]Entry, len(values))
	for i, v := range values {
		entries[i] = Entry{Name: fmt.Sprintf("output_%d", i), Tensor: v}
	}
	return entries
}

// CompareBaseline checks current against a stored baseline. Entries must
// carry the same names in the same order; values are compared like
// variant outputs.
func CompareBaseline(baseline, current []Entry, d tensor.DType, tol tensor.Tolerance) (*parity.OutputsReport, error) {
	if len(baseline) != len(current) {
		return nil, &parity.StructuralMismatch{VariantA: "baseline", VariantB: "current", What: "snapshot entries",
			LenA: len(baseline), LenB: len(current), Index: -1}
	}
	a := make([]*tensor.Tensor, len(baseline))
	b := make([]*tensor.Tensor, len(current))
	for i := range baseline {
		if baseline[i].Name != current[i].Name {
			return nil, &parity.StructuralMismatch{VariantA: "baseline", VariantB: "current", What: "snapshot entries",
				LenA: len(baseline), LenB: len(current), Index: i, A: baseline[i].Name, B: current[i].Name}
		}
		if baseline[i].Tensor == nil || current[i].Tensor == nil {
			return nil, fmt.Errorf("snapshot: entry %q has no values", baseline[i].Name)
		}
		a[i], b[i] = baseline[i].Tensor, current[i].Tensor
	}
	return parity.CompareTensors("baseline", "current", a, b, d, tol)
}

// LoadNames reads the name list stored at path.
func LoadNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer f.Close()
	return ReadNames(f)
}
