package graph

import (
	"fmt"
	"strings"

	"github.com/Suraj520/automl/internal/tensor"
)

// ShapeError reports an op whose inputs have incompatible static shapes.
type ShapeError struct {
	Op     string
	Shapes [][]int
	Msg    string
}

func (e *ShapeError) Error() string {
	if len(e.Shapes) == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	parts := make([]string, len(e.Shapes))
	for i, s := range e.Shapes {
		parts[i] = tensor.ShapeString(s)
	}
	return fmt.Sprintf("%s: %s (shapes %s)", e.Op, e.Msg, strings.Join(parts, ", "))
}

func shapeErr(op, msg string, nodes ...*Node) *ShapeError {
	e := &ShapeError{Op: op, Msg: msg}
	for _, n := range nodes {
		e.Shapes = append(e.Shapes, n.Shape())
	}
	return e
}

// VariableError reports an invalid variable creation or lookup.
type VariableError struct {
	Name string
	Msg  string
}

func (e *VariableError) Error() string {
	return fmt.Sprintf("variable %s: %s", e.Name, e.Msg)
}
