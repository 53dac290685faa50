package graph

import "fmt"

// Reuse controls what GetVariable does when a name already exists.
type Reuse int

const (
	// NoReuse fails on an existing name.
	NoReuse Reuse = iota
	// ReuseExisting requires the variable to exist already.
	ReuseExisting
	// AutoReuse returns existing variables and creates missing ones.
	AutoReuse
)

func (r Reuse) String() string {
	switch r {
	case ReuseExisting:
		return "reuse"
	case AutoReuse:
		return "auto_reuse"
	default:
		return "no_reuse"
	}
}

type scope struct {
	path  string
	reuse Reuse
}

// ScopeOption configures a variable scope.
type ScopeOption func(*scope)

// WithReuse sets the reuse mode of a scope. Nested scopes inherit it.
func WithReuse(r Reuse) ScopeOption {
	return func(s *scope) { s.reuse = r }
}

func (g *Graph) scope() *scope { return g.scopes[len(g.scopes)-1] }

// Scope returns the current scope path, "" at the root.
func (g *Graph) Scope() string { return g.scope().path }

// CurrentReuse returns the reuse mode in effect.
func (g *Graph) CurrentReuse() Reuse { return g.scope().reuse }

// WithScope runs fn inside the variable scope name, nested under the current
// scope. Entering the same name twice lands in the same scope.
func (g *Graph) WithScope(name string, fn func() error, opts ...ScopeOption) error {
	if name == "" {
		return fmt.Errorf("empty scope name under %q", g.Scope())
	}
	parent := g.scope()
	s := &scope{path: name, reuse: parent.reuse}
	if parent.path != "" {
		s.path = parent.path + "/" + name
	}
	for _, opt := range opts {
		opt(s)
	}
	g.scopes = append(g.scopes, s)
	defer func() { g.scopes = g.scopes[:len(g.scopes)-1] }()
	return fn()
}

// UniqueLayerName returns base the first time it is requested in the current
// scope, then base_1, base_2 and so on.
func (g *Graph) UniqueLayerName(base string) string {
	path := g.Scope()
	counts := g.layerNames[path]
	if counts == nil {
		counts = make(map[string]int)
		g.layerNames[path] = counts
	}
	n := counts[base]
	counts[base]++
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, n)
}
