// Package graph stores the "includes" relation between workspace files.
//
// Edges always point from the including file (parent) to the included file
// (child). Each edge is contributed by an owner: the parent for detected
// source() calls and forward directives, the child for backward
// directives. UpdateFile replaces everything a file owns, so an edge
// declared by a child survives updates of its parent and vice versa.
package graph

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zeebo/xxh3"

	"rscope/internal/slogutil"
	"rscope/internal/textpos"
)

// Origin says whether an edge was found in code or declared by directive.
type Origin int

const (
	Detected Origin = iota
	Declared
)

func (o Origin) String() string {
	if o == Declared {
		return "declared"
	}
	return "detected"
}

// SiteSource records how an edge's call site was determined.
type SiteSource int

const (
	SiteDetected SiteSource = iota
	SiteDirective
	SiteExplicitLine
	SiteMatched
	SiteInferred
	SiteAssumed
	SiteUnknown
)

func (s SiteSource) String() string {
	return [...]string{"detected", "directive", "line", "match", "inferred", "assumed", "unknown"}[s]
}

// precedence orders candidate parents; lower wins.
func (s SiteSource) precedence() int {
	switch s {
	case SiteExplicitLine:
		return 0
	case SiteMatched:
		return 1
	case SiteAssumed, SiteUnknown:
		return 3
	}
	return 2
}

// Edge is one inclusion of Child by Parent. A nil CallSite means the
// position in the parent is unknown.
type Edge struct {
	Parent             string
	Child              string
	CallSite           *textpos.Position
	Local              bool
	Chdir              bool
	SysSource          bool
	SysSourceGlobalEnv bool
	Origin             Origin
	Site               SiteSource
	Backward           bool
	// FromParent is set when the parent itself contributes the edge, via
	// a source() call or a forward directive.
	FromParent bool
}

// InheritsSymbols reports whether the child's definitions land in the
// parent's environment.
func (e Edge) InheritsSymbols() bool {
	if e.SysSource {
		return e.SysSourceGlobalEnv
	}
	return !e.Local
}

// Position returns the call site, or fallback when it is unknown.
func (e Edge) Position(fallback textpos.Position) textpos.Position {
	if e.CallSite == nil {
		return fallback
	}
	return *e.CallSite
}

func (e Edge) String() string {
	site := "?"
	if e.CallSite != nil {
		site = e.CallSite.String()
	}
	var flags []string
	if e.Local {
		flags = append(flags, "local")
	}
	if e.Chdir {
		flags = append(flags, "chdir")
	}
	if e.SysSource {
		flags = append(flags, "sys")
	}
	if e.Backward {
		flags = append(flags, "backward")
	}
	s := fmt.Sprintf("%s -> %s @%s [%s/%s]", e.Parent, e.Child, site, e.Origin, e.Site)
	if len(flags) > 0 {
		s += " " + strings.Join(flags, ",")
	}
	return s
}

type edgeKey struct {
	parent  string
	child   string
	hasSite bool
	site    textpos.Position
}

func keyOf(e Edge) edgeKey {
	k := edgeKey{parent: e.Parent, child: e.Child}
	if e.CallSite != nil {
		k.hasSite = true
		k.site = *e.CallSite
	}
	return k
}

func (k edgeKey) less(o edgeKey) bool {
	if k.parent != o.parent {
		return k.parent < o.parent
	}
	if k.hasSite != o.hasSite {
		return k.hasSite
	}
	if k.site != o.site {
		return k.site.Less(o.site)
	}
	return k.child < o.child
}

// entry holds the contributions of each owner to one edge key.
type entry struct {
	contrib map[string]Edge
}

// effective merges contributions: flags come from a detected contribution
// when there is one, and the edge is Declared if anyone declared it.
func (en *entry) effective() Edge {
	owners := make([]string, 0, len(en.contrib))
	for o := range en.contrib {
		owners = append(owners, o)
	}
	sort.Strings(owners)

	var base Edge
	found := false
	for _, o := range owners {
		if c := en.contrib[o]; c.Origin == Detected {
			base, found = c, true
			break
		}
	}
	if !found {
		base = en.contrib[owners[0]]
	}
	for _, o := range owners {
		c := en.contrib[o]
		if c.Origin == Declared {
			base.Origin = Declared
		}
		if c.Backward {
			base.Backward = true
		}
		if c.Site.precedence() < base.Site.precedence() {
			base.Site = c.Site
		}
	}
	_, base.FromParent = en.contrib[base.Parent]
	return base
}

// Graph is the workspace dependency graph. All methods are safe for
// concurrent use; readers never block each other.
type Graph struct {
	mu       sync.RWMutex
	entries  map[edgeKey]*entry
	forward  map[string]map[edgeKey]struct{}
	backward map[string]map[edgeKey]struct{}
	owned    map[string][]edgeKey
	logger   *slog.Logger

	cycles atomic.Int64
}

// New creates an empty graph.
func New(logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	return &Graph{
		entries:  make(map[edgeKey]*entry),
		forward:  make(map[string]map[edgeKey]struct{}),
		backward: make(map[string]map[edgeKey]struct{}),
		owned:    make(map[string][]edgeKey),
		logger:   logger,
	}
}

func (g *Graph) addLocked(owner string, e Edge) {
	k := keyOf(e)
	en, ok := g.entries[k]
	if !ok {
		en = &entry{contrib: make(map[string]Edge, 1)}
		g.entries[k] = en
		index(g.forward, e.Parent, k)
		index(g.backward, e.Child, k)
	}
	en.contrib[owner] = e
	g.owned[owner] = append(g.owned[owner], k)
}

func (g *Graph) removeOwnedLocked(owner string) int {
	removed := 0
	for _, k := range g.owned[owner] {
		en, ok := g.entries[k]
		if !ok {
			continue
		}
		delete(en.contrib, owner)
		if len(en.contrib) == 0 {
			delete(g.entries, k)
			unindex(g.forward, k.parent, k)
			unindex(g.backward, k.child, k)
			removed++
		}
	}
	delete(g.owned, owner)
	return removed
}

func index(idx map[string]map[edgeKey]struct{}, uri string, k edgeKey) {
	set, ok := idx[uri]
	if !ok {
		set = make(map[edgeKey]struct{})
		idx[uri] = set
	}
	set[k] = struct{}{}
}

func unindex(idx map[string]map[edgeKey]struct{}, uri string, k edgeKey) {
	if set, ok := idx[uri]; ok {
		delete(set, k)
		if len(set) == 0 {
			delete(idx, uri)
		}
	}
}

func (g *Graph) collectLocked(set map[edgeKey]struct{}) []Edge {
	keys := make([]edgeKey, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	edges := make([]Edge, 0, len(keys))
	for _, k := range keys {
		edges = append(edges, g.entries[k].effective())
	}
	return edges
}

// Children returns the edges where uri is the parent, ordered by call site.
func (g *Graph) Children(uri string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edges := g.collectLocked(g.forward[uri])
	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].Position(textpos.EOF).Less(edges[j].Position(textpos.EOF))
	})
	return edges
}

// Parents returns the edges where uri is the child, best candidate first
// (see ResolveParent for the ordering).
func (g *Graph) Parents(uri string) []Edge {
	g.mu.RLock()
	edges := g.collectLocked(g.backward[uri])
	g.mu.RUnlock()
	sort.SliceStable(edges, func(i, j int) bool {
		pi, pj := edges[i].Site.precedence(), edges[j].Site.precedence()
		if pi != pj {
			return pi < pj
		}
		return edges[i].Parent < edges[j].Parent
	})
	return edges
}

// BackwardChildren returns the files holding backward declarations that
// name parent.
func (g *Graph) BackwardChildren(parent string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	seen := map[string]bool{}
	for k := range g.forward[parent] {
		if _, ok := g.entries[k].contrib[k.child]; ok {
			seen[k.child] = true
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Files returns every file that appears in an edge.
func (g *Graph) Files() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	seen := make(map[string]bool, len(g.forward)+len(g.backward))
	for u := range g.forward {
		seen[u] = true
	}
	for u := range g.backward {
		seen[u] = true
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// RemoveFile drops every edge the file owns and every edge touching it.
func (g *Graph) RemoveFile(uri string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeOwnedLocked(uri)
	var touching []edgeKey
	for k := range g.forward[uri] {
		touching = append(touching, k)
	}
	for k := range g.backward[uri] {
		touching = append(touching, k)
	}
	for _, k := range touching {
		if _, ok := g.entries[k]; !ok {
			continue
		}
		delete(g.entries, k)
		unindex(g.forward, k.parent, k)
		unindex(g.backward, k.child, k)
	}
	g.logger.Debug("Removed file from dependency graph", "uri", uri, "edges", len(touching))
}

// EdgesHash fingerprints the outgoing edges of uri.
func (g *Graph) EdgesHash(uri string) uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return hashEdges(g.collectLocked(g.forward[uri]))
}

// ReverseEdgesHash fingerprints the incoming edges of uri.
func (g *Graph) ReverseEdgesHash(uri string) uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return hashEdges(g.collectLocked(g.backward[uri]))
}

// OwnedEdgesHash fingerprints the contributions owner made in its last
// update, in both directions.
func (g *Graph) OwnedEdgesHash(owner string) uint64 {
	g.mu.RLock()
	keys := g.owned[owner]
	edges := make([]Edge, 0, len(keys))
	for _, k := range keys {
		if en, ok := g.entries[k]; ok {
			if c, ok := en.contrib[owner]; ok {
				edges = append(edges, c)
			}
		}
	}
	g.mu.RUnlock()
	sort.Slice(edges, func(i, j int) bool { return edges[i].String() < edges[j].String() })
	return hashEdges(edges)
}

func hashEdges(edges []Edge) uint64 {
	h := xxh3.New()
	for _, e := range edges {
		_, _ = h.WriteString(e.String())
		_, _ = h.Write([]byte{'\n'})
	}
	return h.Sum64()
}

// Stats returns edge counts.
func (g *Graph) Stats() map[string]interface{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	declared := 0
	for _, en := range g.entries {
		if en.effective().Origin == Declared {
			declared++
		}
	}
	return map[string]interface{}{
		"edges":    len(g.entries),
		"declared": declared,
		"detected": len(g.entries) - declared,
		"parents":  len(g.forward),
		"children": len(g.backward),
		"cycles":   g.cycles.Load(),
	}
}

// Dump renders every edge, one per line, sorted.
func (g *Graph) Dump() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	keys := make([]edgeKey, 0, len(g.entries))
	for k := range g.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(g.entries[k].effective().String())
		b.WriteByte('\n')
	}
	return b.String()
}
