package graph

import (
	"fmt"

	"github.com/Suraj520/automl/internal/logger"
	"github.com/Suraj520/automl/internal/tensor"
)

// Variable is a named parameter. Its value is materialized per Session from
// its initializer with a generator seeded by (graph seed, ordinal).
type Variable struct {
	name      string
	shape     []int
	init      tensor.Initializer
	trainable bool
	ordinal   int
	read      *Node
}

// Name returns the full name with the ":0" output suffix.
func (v *Variable) Name() string { return v.name + ":0" }

// OpName returns the full name without the output suffix.
func (v *Variable) OpName() string { return v.name }

func (v *Variable) Shape() []int { return append([]int(nil), v.shape...) }

func (v *Variable) Trainable() bool { return v.trainable }

// Ordinal is the creation index of the variable within its graph.
func (v *Variable) Ordinal() int { return v.ordinal }

func (v *Variable) Initializer() tensor.Initializer { return v.init }

// Value returns the node reading the variable.
func (v *Variable) Value() *Node { return v.read }

// VariableOption configures variable creation.
type VariableOption func(*Variable)

// NonTrainable excludes the variable from TrainableVariables.
func NonTrainable() VariableOption {
	return func(v *Variable) { v.trainable = false }
}

// GetVariable creates scope/name or, depending on the reuse mode of the
// current scope, returns the existing variable of that name.
func (g *Graph) GetVariable(name string, shape []int, init tensor.Initializer, opts ...VariableOption) (*Variable, error) {
	full := g.qualify(name)
	s := g.scope()
	if v, ok := g.byName[full]; ok {
		if s.reuse == NoReuse {
			return nil, &VariableError{Name: full, Msg: "already exists, disallowed; did you mean to set reuse in the scope?"}
		}
		if !tensor.SameShape(v.shape, shape) {
			return nil, &VariableError{Name: full, Msg: fmt.Sprintf("trying to share variable with shape %s, existing shape is %s",
				tensor.ShapeString(shape), tensor.ShapeString(v.shape))}
		}
		return v, nil
	}
	if s.reuse == ReuseExisting {
		return nil, &VariableError{Name: full, Msg: "does not exist, or was not created with GetVariable"}
	}
	return g.createVariable(full, shape, init, opts), nil
}

// NewVariable always creates a variable; a taken name is made unique by
// appending _1, _2 and so on.
func (g *Graph) NewVariable(name string, shape []int, init tensor.Initializer, opts ...VariableOption) *Variable {
	base := g.qualify(name)
	full := base
	for {
		if _, taken := g.byName[full]; !taken {
			break
		}
		g.varNames[base]++
		full = fmt.Sprintf("%s_%d", base, g.varNames[base])
	}
	return g.createVariable(full, shape, init, opts)
}

func (g *Graph) qualify(name string) string {
	if p := g.Scope(); p != "" {
		return p + "/" + name
	}
	return name
}

func (g *Graph) createVariable(full string, shape []int, init tensor.Initializer, opts []VariableOption) *Variable {
	v := &Variable{
		name:      full,
		shape:     append([]int(nil), shape...),
		init:      init,
		trainable: true,
		ordinal:   len(g.vars),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.read = g.addLeaf("read_variable", v.shape, func(s *Session) (*tensor.Tensor, error) {
		return s.VariableValue(v), nil
	})
	v.read.name = full
	g.vars = append(g.vars, v)
	g.byName[full] = v
	logger.Log.Debug("Variable created", "graph", g.id.String(), "name", v.Name(), "shape", tensor.ShapeString(shape), "init", init.String())
	return v
}
