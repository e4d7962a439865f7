// Package graph models declared dependencies between artifacts and derives
// trust along them. Nodes live in an explicit arena indexed by artifact
// path with edges as index pairs; confidence is monotonic non-increasing
// along dependency chains, so trust never improves by chaining through
// other artifacts.
package graph

import (
	"sort"

	"github.com/fablab-systems/hdrctl/internal/model"
)

// Policy tunes confidence propagation. UnresolvedPenaltyTiers is how many
// tiers each missing dependency costs; one is the default, but it is
// policy, not fact.
type Policy struct {
	UnresolvedPenaltyTiers int
}

// DefaultPolicy drops one tier per unresolved dependency.
func DefaultPolicy() Policy {
	return Policy{UnresolvedPenaltyTiers: 1}
}

// Node is the per-artifact result of propagation.
type Node struct {
	Path     string           `json:"path" yaml:"path"`
	Declared model.Confidence `json:"declared" yaml:"declared"`
	// Derived is the trust level after propagation; unset for nodes whose
	// trust is undefined because a cycle is involved.
	Derived model.Confidence `json:"derived" yaml:"derived"`
	// Unresolved lists declared inputs/dependencies with no producer in
	// scope. They degrade confidence but never fail the build.
	Unresolved []string `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	// InCycle marks membership in, or dependence on, a cyclic component.
	// Trust for such nodes is undefined and not partially resolved.
	InCycle bool `json:"in_cycle,omitempty" yaml:"in_cycle,omitempty"`
}

// Report is the whole-scope propagation result. Cycles are structural
// errors for their component only; the rest of the graph still resolves.
type Report struct {
	Nodes  []Node     `json:"nodes" yaml:"nodes"`
	Cycles [][]string `json:"cycles,omitempty" yaml:"cycles,omitempty"`
}

// Unresolved counts unresolved dependencies across all nodes.
func (r *Report) Unresolved() int {
	n := 0
	for _, node := range r.Nodes {
		n += len(node.Unresolved)
	}
	return n
}

type arenaNode struct {
	rec        *model.HeaderRecord
	deps       []int
	unresolved []string
	inCycle    bool

	derived model.Confidence
	done    bool
}

// Build constructs the graph from all records visible in the working
// scope and propagates derived confidence. It must only be handed
// finalized records: feeding it in-flight results would make derived
// confidence order-dependent.
func Build(records []*model.HeaderRecord, pol Policy) *Report {
	// Deterministic arena order regardless of caller ordering.
	sorted := make([]*model.HeaderRecord, 0, len(records))
	for _, rec := range records {
		if rec != nil {
			sorted = append(sorted, rec)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	arena := make([]*arenaNode, len(sorted))
	index := make(map[string]int, len(sorted))
	producers := make(map[string]int)
	for i, rec := range sorted {
		arena[i] = &arenaNode{rec: rec}
		index[rec.Path] = i
	}
	// An artifact produces its own identity plus every declared output.
	// First declaration wins on output-name collisions; arena order makes
	// that deterministic.
	for i, rec := range sorted {
		producers[rec.Path] = i
		for _, out := range rec.Outputs {
			if _, taken := producers[out.Name]; !taken {
				producers[out.Name] = i
			}
		}
	}

	for i, rec := range sorted {
		node := arena[i]
		seen := map[int]bool{}
		for _, want := range consumedNames(rec) {
			producer, ok := producers[want]
			if !ok {
				node.unresolved = append(node.unresolved, want)
				continue
			}
			if producer == i {
				if want == rec.Path {
					// An explicit dependency on your own path is a
					// self-cycle. Consuming your own declared output name
					// is not an edge at all.
					seen[i] = true
					node.deps = append(node.deps, i)
				}
				continue
			}
			if !seen[producer] {
				seen[producer] = true
				node.deps = append(node.deps, producer)
			}
		}
		sort.Ints(node.deps)
	}

	cycles := markCycles(arena)
	propagate(arena, pol)

	rep := &Report{Cycles: cycles}
	for _, node := range arena {
		out := Node{
			Path:       node.rec.Path,
			Declared:   node.rec.Confidence,
			Unresolved: node.unresolved,
			InCycle:    node.inCycle,
		}
		if !node.inCycle {
			out.Derived = node.derived
		}
		rep.Nodes = append(rep.Nodes, out)
	}
	return rep
}

// consumedNames is the set of names a record depends on: its declared
// dependencies plus its named inputs, correlated against other artifacts'
// declared outputs. The existence check is the only verification
// performed; an input with no producer in scope is reported as
// unresolved, not an error.
func consumedNames(rec *model.HeaderRecord) []string {
	seen := map[string]bool{}
	var out []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, d := range rec.Dependencies {
		add(d)
	}
	for _, in := range rec.Inputs {
		add(in.Name)
	}
	sort.Strings(out)
	return out
}

// markCycles finds strongly connected components (Tarjan) and taints every
// node inside a cyclic component plus every node that can reach one.
// Cyclic trust is undefined; no partial resolution is attempted.
func markCycles(arena []*arenaNode) [][]string {
	n := len(arena)
	indexOf := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range indexOf {
		indexOf[i] = -1
	}
	var stack []int
	next := 0
	var cycles [][]string

	var strongconnect func(v int)
	strongconnect = func(v int) {
		indexOf[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range arena[v].deps {
			if indexOf[w] < 0 {
				strongconnect(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] && indexOf[w] < low[v] {
				low[v] = indexOf[w]
			}
		}

		if low[v] == indexOf[v] {
			var comp []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			if cyclic(arena, comp) {
				var paths []string
				for _, w := range comp {
					arena[w].inCycle = true
					paths = append(paths, arena[w].rec.Path)
				}
				sort.Strings(paths)
				cycles = append(cycles, paths)
			}
		}
	}
	for v := 0; v < n; v++ {
		if indexOf[v] < 0 {
			strongconnect(v)
		}
	}

	// Taint upstream: a consumer whose chain passes through a cycle has
	// no defined trust either.
	changed := true
	for changed {
		changed = false
		for _, node := range arena {
			if node.inCycle {
				continue
			}
			for _, d := range node.deps {
				if arena[d].inCycle {
					node.inCycle = true
					changed = true
					break
				}
			}
		}
	}

	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

func cyclic(arena []*arenaNode, comp []int) bool {
	if len(comp) > 1 {
		return true
	}
	v := comp[0]
	for _, d := range arena[v].deps {
		if d == v {
			return true
		}
	}
	return false
}

// propagate computes derived confidence for every untainted node:
// the minimum of its own declared confidence and the derived confidence
// of everything it depends on, then the unresolved-dependency penalty.
func propagate(arena []*arenaNode, pol Policy) {
	var visit func(i int) model.Confidence
	visit = func(i int) model.Confidence {
		node := arena[i]
		if node.done {
			return node.derived
		}
		node.done = true // deps are acyclic here, safe to mark first

		derived := node.rec.Confidence
		if !derived.Set {
			derived = model.ConfidenceFromTier(model.TierLow)
		}
		for _, d := range node.deps {
			if arena[d].inCycle {
				continue
			}
			derived = derived.Min(visit(d))
		}
		if penalty := pol.UnresolvedPenaltyTiers * len(node.unresolved); penalty > 0 {
			derived = derived.Lower(penalty)
		}
		node.derived = derived
		return derived
	}
	for i, node := range arena {
		if !node.inCycle {
			visit(i)
		}
	}
}
