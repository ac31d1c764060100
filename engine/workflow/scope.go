package workflow

import (
	"sync"

	"github.com/wovenflow/engine/engine/expr"
)

// VariableScope is the flat name→value mapping spec §3 describes, with
// shadowing only inside loop/transform iteration frames: a child scope
// inherits its parent's bindings for reads, but writes never propagate
// back up, making iterations observationally independent except
// through their declared step output (spec §3 "VariableScope
// semantics", §5 "the variable scope is owned by exactly one task at a
// time").
type VariableScope struct {
	mu     sync.RWMutex
	parent *VariableScope
	vars   map[string]expr.Value
}

// NewRootScope builds the scope a workflow run starts with, seeded
// with `inputs` bound to the run's initial inputs (spec §3: "inputs.*
// resolves against initial inputs" is satisfied because "inputs" is
// just a regular entry here).
func NewRootScope(inputs map[string]any) *VariableScope {
	s := &VariableScope{vars: map[string]expr.Value{}}
	s.Set("inputs", expr.FromAny(inputs))
	return s
}

// Child creates an iteration/branch frame: reads fall through to the
// parent, but Set only ever touches the child's own map, so mutations
// inside the child never escape to the parent (copy-on-read isolation).
func (s *VariableScope) Child() *VariableScope {
	return &VariableScope{parent: s, vars: map[string]expr.Value{}}
}

// Get implements expr.Scope.
func (s *VariableScope) Get(name string) (expr.Value, bool) {
	s.mu.RLock()
	v, ok := s.vars[name]
	s.mu.RUnlock()
	if ok {
		return v, true
	}
	if s.parent != nil {
		return s.parent.Get(name)
	}
	return expr.Value{}, false
}

// Set writes name into this scope only.
func (s *VariableScope) Set(name string, v expr.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = v
}

// SetAny is a convenience wrapper for Set(name, expr.FromAny(v)).
func (s *VariableScope) SetAny(name string, v any) {
	s.Set(name, expr.FromAny(v))
}

// Snapshot copies every binding visible from this scope (own plus
// inherited) into a flat map, used when a Parallel branch launches: the
// branch observes the parent as a snapshot taken at launch, and later
// sibling writes are not visible to it (spec §5 "Ordering guarantees").
func (s *VariableScope) Snapshot() *VariableScope {
	flat := map[string]expr.Value{}
	chain := []*VariableScope{}
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		cur := chain[i]
		cur.mu.RLock()
		for k, v := range cur.vars {
			flat[k] = v
		}
		cur.mu.RUnlock()
	}
	return &VariableScope{vars: flat}
}
