package scope

import (
	"rscope/internal/graph"
	"rscope/internal/textpos"
)

// Resolver runs scope queries over artifacts supplied by its callbacks.
// It holds no state between queries.
type Resolver struct {
	// Artifacts returns the artifacts of a file, false when unavailable.
	Artifacts func(uri string) (*Artifacts, bool)
	// Parents returns the edges including uri, best candidate first.
	Parents func(uri string) []graph.Edge
	// MaxChainDepth bounds how many files a single query may chain through.
	MaxChainDepth int
	// AssumeCallSite stands in for parent edges without a call site.
	AssumeCallSite graph.CallSitePolicy
}

// DepthExceeded records a branch that was cut by the chain depth bound.
type DepthExceeded struct {
	URI    string
	Pos    textpos.Position
	Target string
}

// Result is the answer to one query.
type Result struct {
	Symbols       map[string]Symbol
	Chain         []string
	DepthExceeded []DepthExceeded
	Cycles        []string
}

// ScopeAt returns the symbols visible at pos in uri. Events at exactly
// pos are not yet in effect.
func (r *Resolver) ScopeAt(uri string, pos textpos.Position) Result {
	q := &query{
		r:        r,
		onPath:   map[string]bool{},
		inChain:  map[string]bool{},
		exported: map[string]map[string]Symbol{},
	}
	symbols := q.resolve(uri, pos, 0, true)
	if symbols == nil {
		symbols = map[string]Symbol{}
	}
	q.result.Symbols = symbols
	return q.result
}

type query struct {
	r        *Resolver
	result   Result
	onPath   map[string]bool
	inChain  map[string]bool
	exported map[string]map[string]Symbol
}

func (q *query) maxDepth() int {
	if q.r.MaxChainDepth <= 0 {
		return 20
	}
	return q.r.MaxChainDepth
}

// resolve replays uri up to pos. withParents adds what the file's parents
// defined before including it; inclusions are resolved without parents.
func (q *query) resolve(uri string, pos textpos.Position, depth int, withParents bool) map[string]Symbol {
	if q.onPath[uri] {
		q.result.Cycles = append(q.result.Cycles, uri)
		return nil
	}
	if !withParents {
		if cached, ok := q.exported[uri]; ok {
			return cached
		}
	}
	art, ok := q.r.Artifacts(uri)
	if !ok || art == nil {
		return nil
	}
	q.onPath[uri] = true
	defer delete(q.onPath, uri)
	truncated := len(q.result.DepthExceeded) + len(q.result.Cycles)
	if !q.inChain[uri] {
		q.inChain[uri] = true
		q.result.Chain = append(q.result.Chain, uri)
	}

	inherited := map[string]Symbol{}
	if withParents && q.r.Parents != nil {
		for _, e := range q.r.Parents(uri) {
			if !e.InheritsSymbols() || e.Parent == uri {
				continue
			}
			site := e.Position(q.r.AssumeCallSite.Fallback())
			if depth+1 >= q.maxDepth() {
				q.result.DepthExceeded = append(q.result.DepthExceeded, DepthExceeded{URI: uri, Pos: textpos.Start, Target: e.Parent})
				continue
			}
			for name, s := range q.resolve(e.Parent, site, depth+1, true) {
				if _, seen := inherited[name]; !seen {
					inherited[name] = s
				}
			}
		}
	}

	queryScope := innermost(art.FunctionScopes, pos)
	active := func(at textpos.Position) bool {
		i := innermost(art.FunctionScopes, at)
		return i < 0 || art.FunctionScopes[i].Contains(pos)
	}

	local := map[string]Symbol{}
	included := map[string]Symbol{}
	for _, ev := range art.Timeline {
		if !ev.Pos.Less(pos) {
			break
		}
		switch ev.Kind {
		case EventDefinition, EventDeclaration:
			if ev.Global || active(ev.Pos) {
				local[ev.Symbol.Name] = ev.Symbol
			}
		case EventRemoval:
			if innermost(art.FunctionScopes, ev.Pos) != queryScope {
				continue
			}
			for _, n := range ev.Names {
				delete(local, n)
				delete(included, n)
				delete(inherited, n)
			}
		case EventInclusion:
			if !ev.Inherits || !active(ev.Pos) {
				continue
			}
			if depth+1 >= q.maxDepth() {
				q.result.DepthExceeded = append(q.result.DepthExceeded, DepthExceeded{URI: uri, Pos: ev.Pos, Target: ev.Target})
				continue
			}
			for name, s := range q.resolve(ev.Target, textpos.EOF, depth+1, false) {
				included[name] = s
			}
		}
	}

	merged := make(map[string]Symbol, len(inherited)+len(included)+len(local))
	for name, s := range inherited {
		merged[name] = s
	}
	for name, s := range included {
		merged[name] = s
	}
	for name, s := range local {
		merged[name] = s
	}
	// a result cut short by the depth bound or a cycle depends on the path
	// that reached it and is not reused
	if !withParents && truncated == len(q.result.DepthExceeded)+len(q.result.Cycles) {
		q.exported[uri] = merged
	}
	return merged
}
