package graph

import (
	"path/filepath"
	"sort"
	"strings"

	"rscope/internal/diagnostics"
	"rscope/internal/metadata"
	"rscope/internal/paths"
	"rscope/internal/rsyntax"
	"rscope/internal/textpos"
)

// CallSitePolicy is the call site assumed for a backward declaration whose
// position in the parent cannot be determined.
type CallSitePolicy string

const (
	AssumeEnd   CallSitePolicy = "end"
	AssumeStart CallSitePolicy = "start"
)

// Fallback returns the position an unknown call site stands for.
func (p CallSitePolicy) Fallback() textpos.Position {
	if p == AssumeStart {
		return textpos.Start
	}
	return textpos.EOF
}

// Lookup answers questions about other files while an update is resolved.
type Lookup interface {
	Exists(uri string) bool
	Read(uri string) (string, bool)
}

// UpdateOptions carries the context of one UpdateFile call.
type UpdateOptions struct {
	Context        paths.Context
	Lookup         Lookup
	AssumeCallSite CallSitePolicy
}

// UpdateResult reports what an update changed.
type UpdateResult struct {
	Diagnostics []diagnostics.Diagnostic
	Edges       []Edge
	Removed     int
}

// UpdateFile replaces every edge uri owns with the edges derived from meta.
// Paths and call sites are resolved before the write lock is taken.
func (g *Graph) UpdateFile(uri string, meta *metadata.FileMetadata, opts UpdateOptions) UpdateResult {
	return g.Apply(uri, g.Plan(uri, meta, opts))
}

// Plan resolves the edges uri would own after an update without touching
// the graph. Apply installs the result.
func (g *Graph) Plan(uri string, meta *metadata.FileMetadata, opts UpdateOptions) UpdateResult {
	if meta == nil {
		meta = &metadata.FileMetadata{}
	}
	var result UpdateResult

	batch := newBatch()
	forward, diags := g.forwardEdges(uri, meta, opts)
	result.Diagnostics = append(result.Diagnostics, diags...)
	for _, e := range forward {
		batch.add(e)
	}
	backward, diags := g.backwardEdges(uri, meta, opts)
	result.Diagnostics = append(result.Diagnostics, diags...)
	for _, e := range backward {
		batch.add(e)
	}
	result.Edges = batch.edges
	return result
}

// Apply replaces every edge uri owns with plan.Edges.
func (g *Graph) Apply(uri string, plan UpdateResult) UpdateResult {
	g.mu.Lock()
	plan.Removed = g.removeOwnedLocked(uri)
	for _, e := range plan.Edges {
		g.addLocked(uri, e)
	}
	total := len(g.entries)
	g.mu.Unlock()

	g.logger.Debug("Updated dependency graph",
		"uri", uri,
		"owned", len(plan.Edges),
		"diagnostics", len(plan.Diagnostics),
		"totalEdges", total,
	)
	return plan
}

// batch deduplicates one owner's contributions by edge key.
type batch struct {
	edges []Edge
	byKey map[edgeKey]int
}

func newBatch() *batch {
	return &batch{byKey: make(map[edgeKey]int)}
}

func (b *batch) add(e Edge) {
	k := keyOf(e)
	i, ok := b.byKey[k]
	if !ok {
		b.byKey[k] = len(b.edges)
		b.edges = append(b.edges, e)
		return
	}
	cur := &b.edges[i]
	if cur.Origin == Declared && e.Origin == Detected {
		e.Origin = Declared
		e.Backward = e.Backward || cur.Backward
		*cur = e
		return
	}
	if e.Origin == Declared {
		cur.Origin = Declared
	}
}

func (g *Graph) forwardEdges(uri string, meta *metadata.FileMetadata, opts UpdateOptions) ([]Edge, []diagnostics.Diagnostic) {
	var edges []Edge
	var diags []diagnostics.Diagnostic

	for _, src := range meta.Sources {
		target := paths.URIFromPath(opts.Context.Resolve(src.Path))
		if opts.Lookup == nil || !opts.Lookup.Exists(target) {
			diags = append(diags, diagnostics.OnLine(diagnostics.KindMissingFile, src.Line, src.Column,
				"inclusion target not found: %s", src.Path))
			continue
		}
		pos := src.Pos()
		e := Edge{
			Parent:             uri,
			Child:              target,
			CallSite:           &pos,
			Local:              src.Local,
			Chdir:              src.Chdir,
			SysSource:          src.IsSysSource,
			SysSourceGlobalEnv: src.SysSourceGlobalEnv,
			Origin:             Detected,
			Site:               SiteDetected,
		}
		if src.IsDirective {
			e.Origin = Declared
			e.Site = SiteDirective
		}
		edges = append(edges, e)
	}

	// a forward directive on the same line as a detected call to the same
	// target declares that call rather than a second inclusion
	for i := range edges {
		d := &edges[i]
		if d.Site != SiteDirective {
			continue
		}
		var other *textpos.Position
		matched := false
		for _, e := range edges {
			if e.Site != SiteDetected || e.Child != d.Child {
				continue
			}
			if sameSite(*d.CallSite, *e.CallSite) {
				site := *e.CallSite
				d.CallSite = &site
				matched = true
				break
			}
			if other == nil {
				other = e.CallSite
			}
		}
		if !matched && other != nil {
			diags = append(diags, diagnostics.OnLine(diagnostics.KindRedundantDirective, d.CallSite.Line, 0,
				"directive duplicates the source() call at line %d", other.Line+1))
		}
	}
	return edges, diags
}

// sameSite reports whether a declared site names the detected one. A
// declared site with an end-of-line column matches any call on its line.
func sameSite(declared, detected textpos.Position) bool {
	if declared.Line != detected.Line {
		return false
	}
	return declared.Column == detected.Column || declared.Column == textpos.EndOfLine
}

func (g *Graph) backwardEdges(uri string, meta *metadata.FileMetadata, opts UpdateOptions) ([]Edge, []diagnostics.Diagnostic) {
	var edges []Edge
	var diags []diagnostics.Diagnostic

	for _, d := range meta.SourcedBy {
		parent := paths.URIFromPath(opts.Context.ResolveFromFile(d.Path))
		if opts.Lookup == nil || !opts.Lookup.Exists(parent) {
			diags = append(diags, diagnostics.OnLine(diagnostics.KindMissingFile, d.DirectiveLine, 0,
				"parent file not found: %s", d.Path))
			continue
		}
		if parent == uri {
			diags = append(diags, diagnostics.OnLine(diagnostics.KindCircularDependency, d.DirectiveLine, 0,
				"file declares itself as its parent"))
			continue
		}

		site, how := g.locateCallSite(parent, uri, d.CallSite, opts)
		if how == SiteAssumed || how == SiteUnknown {
			assumed := "unknown"
			if site != nil {
				assumed = string(opts.AssumeCallSite)
			}
			diags = append(diags, diagnostics.OnLine(diagnostics.KindUnresolvedCallSite, d.DirectiveLine, 0,
				"no source() call to this file found in %s; call site assumed at %s (add line= or match=)",
				d.Path, assumed))
		}
		edges = append(edges, Edge{
			Parent:   parent,
			Child:    uri,
			CallSite: site,
			Origin:   Declared,
			Site:     how,
			Backward: true,
		})
	}
	return edges, diags
}

// locateCallSite resolves where parent includes child: explicit line,
// then match pattern, then inference from the parent's own calls, then the
// configured default. A nil position means the parent could not be read.
func (g *Graph) locateCallSite(parent, child string, spec metadata.CallSiteSpec, opts UpdateOptions) (*textpos.Position, SiteSource) {
	detected := g.ownSites(parent, child)

	switch spec.Kind {
	case metadata.CallSiteLine:
		for _, p := range detected {
			if p.Line == spec.Line {
				return &p, SiteExplicitLine
			}
		}
		p := textpos.New(spec.Line, textpos.EndOfLine)
		return &p, SiteExplicitLine
	case metadata.CallSiteMatch:
		if content, ok := read(opts.Lookup, parent); ok {
			if p, found := matchPattern(content, spec.Pattern, baseName(child), detected); found {
				return &p, SiteMatched
			}
		}
	}

	if len(detected) > 0 {
		p := detected[0]
		return &p, SiteInferred
	}
	content, ok := read(opts.Lookup, parent)
	if !ok {
		return nil, SiteUnknown
	}
	if p, found := inferFromText(content, baseName(child)); found {
		return &p, SiteInferred
	}
	var p textpos.Position
	if opts.AssumeCallSite == AssumeStart {
		p = textpos.Start
	} else {
		p = textpos.New(textpos.NewLineIndex(content).LastPosition().Line, textpos.EndOfLine)
	}
	return &p, SiteAssumed
}

func read(l Lookup, uri string) (string, bool) {
	if l == nil {
		return "", false
	}
	return l.Read(uri)
}

// ownSites returns the call sites of edges the parent itself contributes
// to child, in position order.
func (g *Graph) ownSites(parent, child string) []textpos.Position {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var sites []textpos.Position
	for k := range g.forward[parent] {
		if k.child != child || !k.hasSite {
			continue
		}
		if _, ok := g.entries[k].contrib[parent]; ok {
			sites = append(sites, k.site)
		}
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].Less(sites[j]) })
	return sites
}

func baseName(uri string) string {
	p, err := paths.PathFromURI(uri)
	if err != nil {
		return ""
	}
	return filepath.Base(p)
}

// matchPattern finds the first line of content containing pattern,
// preferring lines with a known call site and then lines naming the child.
func matchPattern(content, pattern, childBase string, detected []textpos.Position) (textpos.Position, bool) {
	li := textpos.NewLineIndex(content)
	var first, naming *textpos.Position
	for n := 0; n < li.LineCount(); n++ {
		line := li.Line(n)
		idx := strings.Index(line, pattern)
		if idx < 0 {
			continue
		}
		for _, d := range detected {
			if d.Line == uint32(n) {
				return d, true
			}
		}
		p := textpos.New(uint32(n), textpos.ByteToUTF16(line, idx))
		if first == nil {
			first = &p
		}
		if naming == nil && childBase != "" && strings.Contains(line, childBase) {
			naming = &p
		}
	}
	switch {
	case naming != nil:
		return *naming, true
	case first != nil:
		return *first, true
	}
	return textpos.Position{}, false
}

// inferFromText scans the parent for a source() call whose path ends in
// the child's file name.
func inferFromText(content, childBase string) (textpos.Position, bool) {
	if childBase == "" {
		return textpos.Position{}, false
	}
	for _, call := range rsyntax.Parse(content).Sources {
		if filepath.Base(filepath.FromSlash(call.Path)) == childBase {
			return call.Pos, true
		}
	}
	return textpos.Position{}, false
}
