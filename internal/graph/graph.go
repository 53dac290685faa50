// Package graph records define-then-run graphs with TF naming rules:
// builders add nodes with static shapes and create named variables under
// variable scopes. A Session lowers the nodes it is asked for onto a gomlx
// graph and executes them on the simplego backend.
package graph

import (
	"fmt"

	mlx "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/google/uuid"

	"github.com/Suraj520/automl/internal/logger"
	"github.com/Suraj520/automl/internal/metrics"
	"github.com/Suraj520/automl/internal/tensor"
)

// Option configures a Graph.
type Option func(*Graph)

// WithSeed sets the graph-level seed used by variable initializers and
// random ops.
func WithSeed(seed int64) Option {
	return func(g *Graph) { g.seed = seed }
}

// WithName labels the graph in logs.
func WithName(name string) Option {
	return func(g *Graph) { g.name = name }
}

// Graph is an isolated build context. Graphs share no state with each other.
type Graph struct {
	id   uuid.UUID
	name string
	seed int64

	nodes  []*Node
	vars   []*Variable
	byName map[string]*Variable

	scopes     []*scope
	layerNames map[string]map[string]int
	varNames   map[string]int
	opNames    map[string]int
	randomOps  int
}

func New(opts ...Option) *Graph {
	g := &Graph{
		id:         uuid.New(),
		byName:     make(map[string]*Variable),
		layerNames: make(map[string]map[string]int),
		varNames:   make(map[string]int),
		opNames:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.scopes = []*scope{{}}
	metrics.RecordGraphCreated()
	logger.Log.Debug("Graph created", "graph", g.id.String(), "name", g.name, "seed", g.seed)
	return g
}

func (g *Graph) ID() uuid.UUID { return g.id }

func (g *Graph) Name() string { return g.name }

func (g *Graph) Seed() int64 { return g.seed }

// NumNodes reports how many ops have been added.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// GlobalVariables returns every variable in creation order.
func (g *Graph) GlobalVariables() []*Variable {
	return append([]*Variable(nil), g.vars...)
}

// TrainableVariables returns the trainable subset in creation order.
func (g *Graph) TrainableVariables() []*Variable {
	var out []*Variable
	for _, v := range g.vars {
		if v.trainable {
			out = append(out, v)
		}
	}
	return out
}

// Lookup finds a variable by its name without the ":0" suffix.
func (g *Graph) Lookup(name string) (*Variable, bool) {
	v, ok := g.byName[name]
	return v, ok
}

// Names returns the ":0" suffixed names of vars.
func Names(vars []*Variable) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Name()
	}
	return out
}

// Node is one op in the graph. Its shape is fixed at construction time.
// Leaf nodes are materialized on the host by a Session; every other node
// carries a lowering onto gomlx.
type Node struct {
	g      *Graph
	id     int
	op     string
	name   string
	inputs []*Node
	shape  []int
	leaf   leafFn
	lower  lowerFn
}

// leafFn produces the host value of a placeholder, constant, variable read
// or random draw.
type leafFn func(s *Session) (*tensor.Tensor, error)

// lowerFn emits the gomlx op of a node given its lowered inputs.
type lowerFn func(in []*mlx.Node) *mlx.Node

func (n *Node) Graph() *Graph { return n.g }

func (n *Node) Op() string { return n.op }

func (n *Node) Name() string { return n.name }

// Shape returns a copy of the static shape.
func (n *Node) Shape() []int { return append([]int(nil), n.shape...) }

func (n *Node) Rank() int { return len(n.shape) }

// Dim returns the size of axis i; negative i counts from the end.
func (n *Node) Dim(i int) int {
	if i < 0 {
		i += len(n.shape)
	}
	return n.shape[i]
}

func (n *Node) String() string {
	return fmt.Sprintf("%s%s", n.name, tensor.ShapeString(n.shape))
}

func (g *Graph) addLeaf(op string, shape []int, f leafFn) *Node {
	n := g.addNode(op, shape, nil)
	n.leaf = f
	return n
}

func (g *Graph) addNode(op string, shape []int, f lowerFn, inputs ...*Node) *Node {
	base := op
	if p := g.scope().path; p != "" {
		base = p + "/" + op
	}
	name := base
	if c := g.opNames[base]; c > 0 {
		name = fmt.Sprintf("%s_%d", base, c)
	}
	g.opNames[base]++
	n := &Node{
		g:      g,
		id:     len(g.nodes),
		op:     op,
		name:   name,
		inputs: inputs,
		shape:  append([]int(nil), shape...),
		lower:  f,
	}
	g.nodes = append(g.nodes, n)
	return n
}

func (g *Graph) checkOwned(op string, nodes ...*Node) error {
	for _, n := range nodes {
		if n == nil {
			return &ShapeError{Op: op, Msg: "nil input"}
		}
		if n.g != g {
			return &ShapeError{Op: op, Msg: fmt.Sprintf("input %s belongs to another graph", n.name)}
		}
	}
	return nil
}
