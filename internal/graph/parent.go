package graph

import "sort"

// ParentKind classifies the outcome of parent selection.
type ParentKind int

const (
	ParentNone ParentKind = iota
	ParentSingle
	ParentAmbiguous
)

func (k ParentKind) String() string {
	return [...]string{"none", "single", "ambiguous"}[k]
}

// ParentResolution is the selected parent of a file plus the other
// distinct parents that could have been chosen.
type ParentResolution struct {
	Kind         ParentKind
	Selected     Edge
	Alternatives []Edge
}

// ResolveParent picks one parent for child. Candidates are the incoming
// edges, one per parent (the one with the best call-site precedence),
// ordered by precedence and then parent uri.
func (g *Graph) ResolveParent(child string) ParentResolution {
	best := map[string]Edge{}
	for _, e := range g.Parents(child) {
		cur, ok := best[e.Parent]
		if !ok || e.Site.precedence() < cur.Site.precedence() {
			best[e.Parent] = e
		}
	}
	if len(best) == 0 {
		return ParentResolution{Kind: ParentNone}
	}

	candidates := make([]Edge, 0, len(best))
	for _, e := range best {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		pi, pj := candidates[i].Site.precedence(), candidates[j].Site.precedence()
		if pi != pj {
			return pi < pj
		}
		return candidates[i].Parent < candidates[j].Parent
	})

	res := ParentResolution{Kind: ParentSingle, Selected: candidates[0]}
	if len(candidates) > 1 {
		res.Kind = ParentAmbiguous
		res.Alternatives = candidates[1:]
	}
	return res
}
