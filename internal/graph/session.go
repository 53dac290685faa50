package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/backends/simplego"
	mlx "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/Suraj520/automl/internal/logger"
	"github.com/Suraj520/automl/internal/metrics"
	"github.com/Suraj520/automl/internal/tensor"
)

var (
	backendOnce sync.Once
	backend     backends.Backend
	backendErr  error
)

// cpuBackend returns the process-wide simplego backend.
func cpuBackend() (backends.Backend, error) {
	backendOnce.Do(func() {
		backend, backendErr = simplego.New("")
		if backendErr == nil {
			logger.Log.Debug("Backend ready", "backend", backend.Name())
		}
	})
	return backend, backendErr
}

// Session evaluates nodes of one graph. Variable values are materialized
// once per Session; node results are memoized across Run calls.
type Session struct {
	g      *Graph
	feeds  map[*Node]*tensor.Tensor
	cache  map[*Node]*tensor.Tensor
	values map[*Variable]*tensor.Tensor
	arena  *tensor.Arena
}

func NewSession(g *Graph) *Session {
	return &Session{
		g:      g,
		feeds:  make(map[*Node]*tensor.Tensor),
		cache:  make(map[*Node]*tensor.Tensor),
		values: make(map[*Variable]*tensor.Tensor),
		arena:  tensor.NewArena(),
	}
}

// Feed binds a value to a placeholder. Feeding invalidates memoized results.
func (s *Session) Feed(n *Node, t *tensor.Tensor) error {
	if n.g != s.g {
		return fmt.Errorf("feed %s: node belongs to another graph", n.name)
	}
	if n.op != "placeholder" {
		return fmt.Errorf("feed %s: not a placeholder", n.name)
	}
	if !tensor.SameShape(n.shape, t.Shape()) {
		return fmt.Errorf("feed %s: shape %s does not match %s", n.name, tensor.ShapeString(t.Shape()), tensor.ShapeString(n.shape))
	}
	s.feeds[n] = t
	s.cache = make(map[*Node]*tensor.Tensor)
	return nil
}

// VariableValue returns the initial value of v in this Session.
func (s *Session) VariableValue(v *Variable) *tensor.Tensor {
	if t, ok := s.values[v]; ok {
		return t
	}
	g := tensor.NewRNG(uint64(s.g.seed), uint64(v.ordinal))
	t := s.arena.Track(v.init.Init(g, v.shape))
	s.values[v] = t
	return t
}

// Run evaluates fetches, computing only the nodes they depend on. Leaves
// are materialized on the host; the rest is compiled into one gomlx
// executable per call.
func (s *Session) Run(ctx context.Context, fetches ...*Node) ([]*tensor.Tensor, error) {
	start := time.Now()
	for _, n := range fetches {
		if n.g != s.g {
			return nil, fmt.Errorf("fetch %s: node belongs to another graph", n.name)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.eval(ctx, fetches); err != nil {
		var ve *tensor.ValidationError
		if errors.As(err, &ve) {
			metrics.RecordValidationError(ve.Op, ve.Msg)
		}
		return nil, err
	}
	out := make([]*tensor.Tensor, len(fetches))
	for i, n := range fetches {
		out[i] = s.cache[n]
	}
	logger.Log.Debug("Session run", "graph", s.g.id.String(), "fetches", len(fetches), "evaluated", len(s.cache),
		"bytes", s.arena.Bytes(), "elapsed", time.Since(start))
	return out, nil
}

func (s *Session) eval(ctx context.Context, fetches []*Node) error {
	var pending []*Node
	seen := make(map[*Node]bool)
	for _, n := range fetches {
		if _, ok := s.cache[n]; ok || seen[n] {
			continue
		}
		seen[n] = true
		if n.leaf != nil {
			t, err := n.leaf(s)
			if err != nil {
				return err
			}
			s.cache[n] = t
			continue
		}
		pending = append(pending, n)
	}
	if len(pending) == 0 {
		return nil
	}

	leaves := s.leaves(pending)
	args := make([]any, len(leaves))
	for i, n := range leaves {
		t, ok := s.cache[n]
		if !ok {
			var err error
			if t, err = n.leaf(s); err != nil {
				return err
			}
		}
		args[i] = tensors.FromFlatDataAndDimensions(t.Data(), t.Shape()...)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	results, err := s.execute(leaves, pending, args)
	if err != nil {
		return err
	}
	metrics.RecordKernelDuration("exec", time.Since(start))
	for i, n := range pending {
		if !tensor.SameShape(results[i].Shape(), n.shape) {
			return tensor.NewValidationError(n.op, fmt.Sprintf("produced %s, expected %s",
				tensor.ShapeString(results[i].Shape()), tensor.ShapeString(n.shape)), n.name)
		}
		s.cache[n] = s.arena.Track(results[i])
	}
	return nil
}

// leaves returns the leaf nodes pending depends on, in creation order.
func (s *Session) leaves(pending []*Node) []*Node {
	visited := make(map[*Node]bool)
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		if visited[n] {
			return
		}
		visited[n] = true
		if n.leaf != nil {
			out = append(out, n)
			return
		}
		for _, dep := range n.inputs {
			walk(dep)
		}
	}
	for _, n := range pending {
		walk(n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// execute lowers pending onto a gomlx graph whose parameters are leaves
// and runs it. Panics raised while building or running the executable are
// returned as validation errors.
func (s *Session) execute(leaves, pending []*Node, args []any) (out []*tensor.Tensor, err error) {
	be, err := cpuBackend()
	if err != nil {
		return nil, fmt.Errorf("gomlx backend: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, tensor.NewValidationError("exec", fmt.Sprint(r), s.g.name)
		}
	}()

	exec, err := mlx.NewExec(be, func(params []*mlx.Node) []*mlx.Node {
		lowered := make(map[*Node]*mlx.Node, len(leaves))
		for i, n := range leaves {
			lowered[n] = params[i]
		}
		var lower func(n *Node) *mlx.Node
		lower = func(n *Node) *mlx.Node {
			if x, ok := lowered[n]; ok {
				return x
			}
			in := make([]*mlx.Node, len(n.inputs))
			for i, dep := range n.inputs {
				in[i] = lower(dep)
			}
			x := n.lower(in)
			lowered[n] = x
			return x
		}
		outputs := make([]*mlx.Node, len(pending))
		for i, n := range pending {
			outputs[i] = lower(n)
		}
		return outputs
	})
	if err != nil {
		return nil, err
	}
	defer exec.Finalize()

	results, err := exec.Exec(args...)
	if err != nil {
		return nil, tensor.NewValidationError("exec", err.Error(), s.g.name)
	}
	out = make([]*tensor.Tensor, len(results))
	for i, r := range results {
		t, err := tensor.FromSlice(tensors.MustCopyFlatData[float32](r), r.Shape().Dimensions...)
		r.FinalizeAll()
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// Bytes reports the memory held by tensors the Session materialized.
func (s *Session) Bytes() int64 { return s.arena.Bytes() }

// Close releases the memory accounting of every tensor the Session produced.
func (s *Session) Close() {
	s.arena.Free()
	s.cache = make(map[*Node]*tensor.Tensor)
	s.values = make(map[*Variable]*tensor.Tensor)
}
