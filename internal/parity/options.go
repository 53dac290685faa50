package parity

import (
	"context"
	"strings"

	"github.com/Suraj520/automl/internal/tensor"
)

// Collection selects which variables are compared.
type Collection int

const (
	Global Collection = iota
	Trainable
)

func (c Collection) String() string {
	if c == Trainable {
		return "trainable"
	}
	return "global"
}

func ParseCollection(s string) (Collection, bool) {
	switch s {
	case "", "global":
		return Global, true
	case "trainable":
		return Trainable, true
	}
	return Global, false
}

// Normalizer rewrites a parameter name before comparison.
type Normalizer func(string) string

func StripSuffix(suffix string) Normalizer {
	return func(s string) string { return strings.TrimSuffix(s, suffix) }
}

func StripPrefix(prefix string) Normalizer {
	return func(s string) string { return strings.TrimPrefix(s, prefix) }
}

func ReplacePrefix(old, replacement string) Normalizer {
	return func(s string) string {
		if strings.HasPrefix(s, old) {
			return replacement + s[len(old):]
		}
		return s
	}
}

// Chain applies normalizers left to right.
func Chain(ns ...Normalizer) Normalizer {
	return func(s string) string {
		for _, n := range ns {
			if n != nil {
				s = n(s)
			}
		}
		return s
	}
}

type options struct {
	ctx          context.Context
	normalizeA   Normalizer
	normalizeB   Normalizer
	collection   Collection
	setSemantics bool
	dtype        tensor.DType
	tolerance    *tensor.Tolerance
}

// Option configures a comparison.
type Option func(*options)

// WithNormalizer rewrites the names of both variants.
func WithNormalizer(n Normalizer) Option {
	return func(o *options) {
		o.normalizeA = n
		o.normalizeB = n
	}
}

// WithVariantNormalizers rewrites each variant's names with its own rule.
func WithVariantNormalizers(a, b Normalizer) Option {
	return func(o *options) {
		o.normalizeA = a
		o.normalizeB = b
	}
}

func WithCollection(c Collection) Option {
	return func(o *options) { o.collection = c }
}

// WithSetSemantics compares names as sets, ignoring order.
func WithSetSemantics() Option {
	return func(o *options) { o.setSemantics = true }
}

// WithDType rounds outputs to d before comparing and loosens the default
// tolerance to match.
func WithDType(d tensor.DType) Option {
	return func(o *options) { o.dtype = d }
}

// WithTolerance overrides the tolerance derived from the dtype.
func WithTolerance(tol tensor.Tolerance) Option {
	return func(o *options) { o.tolerance = &tol }
}

// WithContext bounds output evaluation.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

func newOptions(opts []Option) *options {
	o := &options{ctx: context.Background(), dtype: tensor.Float32}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) tol() tensor.Tolerance {
	if o.tolerance != nil {
		return *o.tolerance
	}
	return tensor.ToleranceFor(o.dtype)
}

func normalize(names []string, n Normalizer) []string {
	if n == nil {
		return names
	}
	out := make([]string, len(names))
	for i, s := range names {
		out[i] = n(s)
	}
	return out
}
