package engine

import (
	"context"
	"fmt"
	"strings"

	"rscope/internal/cache"
	"rscope/internal/diagnostics"
	"rscope/internal/graph"
	"rscope/internal/indexer"
	"rscope/internal/metadata"
	"rscope/internal/paths"
	"rscope/internal/scope"
	"rscope/internal/textpos"
)

// facts returns the extracted facts of uri's current content.
func (e *Engine) facts(uri string) (*metadata.Facts, bool) {
	text, ok := e.content.Read(uri)
	if !ok {
		return nil, false
	}
	hash := metadata.ContentHash(text)
	f, err := e.metadata.GetOrCompute(uri, cache.Fingerprint{SelfContentHash: hash}, func() (*metadata.Facts, error) {
		if indexed, ok := e.index.Facts(uri); ok && indexed.ContentHash == hash {
			return indexed, nil
		}
		return metadata.Extract(text), nil
	})
	if err != nil {
		return nil, false
	}
	return f, true
}

// syncGraph brings uri's owned edges up to date with its content, the
// workspace index version and its inherited working directory. It reports
// whether the edges uri owns changed.
func (e *Engine) syncGraph(uri string, force bool) bool {
	seq := e.syncSeq.Add(1)
	f, ok := e.facts(uri)
	if !ok {
		return false
	}
	version := e.index.Version()

	if !force {
		e.writeMu.RLock()
		prev, seen := e.synced[uri]
		e.writeMu.RUnlock()
		if seen && prev.contentHash == f.ContentHash && prev.version == version {
			return false
		}
	}
	_, changed := e.updateGraph(uri, f.Meta, syncState{contentHash: f.ContentHash, version: version, seq: seq}, force)
	return changed
}

// updateGraph plans uri's edges without holding writeMu and applies the
// plan under it. Parent selection may change once the file's own backward
// edges are in, so the working directory is checked again and the update
// repeated when it moved.
func (e *Engine) updateGraph(uri string, meta *metadata.FileMetadata, st syncState, force bool) (graph.UpdateResult, bool) {
	var res graph.UpdateResult
	changed := false
	wd := e.inheritedWorkingDir(uri, 0, map[string]bool{})
	for pass := 0; pass < 2; pass++ {
		var planned bool
		res, planned = e.planGraph(uri, meta, wd)
		st.workingDir = wd
		applied, moved := e.applyGraph(uri, st, res, planned, force)
		changed = changed || moved
		if !applied || !planned {
			break
		}
		next := e.inheritedWorkingDir(uri, 0, map[string]bool{})
		if next == wd {
			break
		}
		e.logger.Debug("Inherited working directory changed", "uri", uri, "from", wd, "to", next)
		wd = next
		force = true
	}
	return res, changed
}

// planGraph resolves the edges uri owns when it runs in wd.
func (e *Engine) planGraph(uri string, meta *metadata.FileMetadata, wd string) (graph.UpdateResult, bool) {
	path, err := paths.PathFromURI(uri)
	if err != nil {
		e.logger.Debug("Skipping graph update", "uri", uri, "error", err.Error())
		return graph.UpdateResult{}, false
	}
	opts := graph.UpdateOptions{
		Context:        paths.NewContext(path, e.root, meta.WorkingDirectory),
		Lookup:         e.content,
		AssumeCallSite: e.assume,
	}
	opts.Context.InheritedWorkingDir = wd
	return e.graph.Plan(uri, meta, opts), true
}

// applyGraph installs a plan unless a later one already landed or, when
// not forced, the stored state already matches st.
func (e *Engine) applyGraph(uri string, st syncState, res graph.UpdateResult, planned, force bool) (applied, changed bool) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	prev, seen := e.synced[uri]
	if seen && prev.seq > st.seq {
		return false, false
	}
	if !force && seen && prev.contentHash == st.contentHash && prev.version == st.version {
		return false, false
	}
	before := e.graph.OwnedEdgesHash(uri)
	if planned {
		e.graph.Apply(uri, res)
	}
	e.synced[uri] = st
	e.graphDiags[uri] = res.Diagnostics
	return true, e.graph.OwnedEdgesHash(uri) != before
}

// syncedWorkingDir is the working directory uri was last updated with.
func (e *Engine) syncedWorkingDir(uri string) string {
	e.writeMu.RLock()
	defer e.writeMu.RUnlock()
	return e.synced[uri].workingDir
}

// inheritedWorkingDir is the working directory uri runs in when its
// selected parent includes it, or "" without a parent.
func (e *Engine) inheritedWorkingDir(uri string, depth int, seen map[string]bool) string {
	if depth >= e.cfg.CrossFile.MaxBackwardDepth || seen[uri] {
		return ""
	}
	seen[uri] = true

	sel := e.resolveParent(uri)
	if sel.Kind == graph.ParentNone {
		return ""
	}
	childPath, err := paths.PathFromURI(uri)
	if err != nil {
		return ""
	}
	parentPath, err := paths.PathFromURI(sel.Selected.Parent)
	if err != nil {
		return ""
	}
	var parentWD string
	if pf, ok := e.facts(sel.Selected.Parent); ok {
		parentWD = pf.Meta.WorkingDirectory
	}
	parent := paths.NewContext(parentPath, e.root, parentWD)
	parent.InheritedWorkingDir = e.inheritedWorkingDir(sel.Selected.Parent, depth+1, seen)
	return parent.ChildContext(childPath, sel.Selected.Chdir, "").InheritedWorkingDir
}

// resolveParent selects uri's parent through the parent-selection cache.
func (e *Engine) resolveParent(uri string) graph.ParentResolution {
	var directives uint64
	if f, ok := e.facts(uri); ok {
		directives = f.Meta.DirectivesHash()
	}
	fp := cache.Fingerprint{
		SelfContentHash:       directives,
		EdgesHash:             e.graph.ReverseEdgesHash(uri),
		WorkspaceIndexVersion: e.index.Version(),
	}
	res, err := e.parents.GetOrCompute(uri, fp, func() (graph.ParentResolution, error) {
		return e.graph.ResolveParent(uri), nil
	})
	if err != nil {
		return graph.ParentResolution{Kind: graph.ParentNone}
	}
	return res
}

// ResolveParent returns the parent selection for uri.
func (e *Engine) ResolveParent(uri string) graph.ParentResolution {
	return e.resolveParent(uri)
}

// parentEdges feeds the resolver: the selected parent only.
func (e *Engine) parentEdges(uri string) []graph.Edge {
	sel := e.resolveParent(uri)
	if sel.Kind == graph.ParentNone {
		return nil
	}
	return []graph.Edge{sel.Selected}
}

// artifactsFor returns uri's artifacts through the artifacts cache.
func (e *Engine) artifactsFor(uri string) (*scope.Artifacts, bool) {
	e.syncGraph(uri, false)
	f, ok := e.facts(uri)
	if !ok {
		return nil, false
	}
	fp := cache.Fingerprint{
		SelfContentHash: f.ContentHash,
		EdgesHash:       e.graph.EdgesHash(uri),
	}
	art, err := e.artifacts.GetOrCompute(uri, fp, func() (*scope.Artifacts, error) {
		return scope.ComputeArtifacts(uri, f.Syntax, f.Meta, e.graph.Children(uri)), nil
	})
	if err != nil {
		return nil, false
	}
	return art, true
}

// Artifacts returns the scope artifacts of uri.
func (e *Engine) Artifacts(uri string) (art *scope.Artifacts, ok bool) {
	defer e.recoverPanic("artifacts", uri)
	return e.artifactsFor(uri)
}

func (e *Engine) resolver() *scope.Resolver {
	return &scope.Resolver{
		Artifacts:      e.artifactsFor,
		Parents:        e.parentEdges,
		MaxChainDepth:  e.cfg.CrossFile.MaxChainDepth,
		AssumeCallSite: e.assume,
	}
}

// ResolveScope returns the symbols visible at (line, col) in uri. Lines
// and columns are 0-based, columns in UTF-16 code units.
func (e *Engine) ResolveScope(uri string, line, col uint32) map[string]scope.Symbol {
	return e.Scope(uri, line, col).Symbols
}

// Scope is ResolveScope with the resolution chain, depth cut-offs and
// cycles encountered.
func (e *Engine) Scope(uri string, line, col uint32) (res scope.Result) {
	defer func() {
		if res.Symbols == nil {
			res.Symbols = map[string]scope.Symbol{}
		}
	}()
	defer e.recoverPanic("scope", uri)

	e.syncGraph(uri, false)
	e.indexNeighbours(uri)
	return e.resolver().ScopeAt(uri, textpos.New(line, col))
}

// neighbours returns the files uri includes and the files including it.
func (e *Engine) neighbours(uri string) []string {
	seen := map[string]bool{uri: true}
	var out []string
	for _, edge := range e.graph.Children(uri) {
		if !seen[edge.Child] {
			seen[edge.Child] = true
			out = append(out, edge.Child)
		}
	}
	for _, edge := range e.graph.Parents(uri) {
		if !seen[edge.Parent] {
			seen[edge.Parent] = true
			out = append(out, edge.Parent)
		}
	}
	return out
}

// indexNeighbours indexes uri's direct neighbours synchronously and hands
// their own neighbours to the background indexer.
func (e *Engine) indexNeighbours(uri string) {
	if !e.cfg.CrossFile.OnDemand.Enabled {
		return
	}
	indexed := 0
	for _, n := range e.neighbours(uri) {
		if e.content.IsOpen(n) || e.index.Contains(n) {
			continue
		}
		if _, err := e.index.IndexFile(n); err != nil {
			e.logger.Debug("On-demand indexing failed", "uri", n, "error", err.Error())
			continue
		}
		indexed++
		e.syncGraph(n, true)
		for _, next := range e.neighbours(n) {
			if next == uri || e.content.IsOpen(next) || e.index.Contains(next) {
				continue
			}
			if _, err := e.indexer.Submit(next, 1, indexer.ReasonTransitive); err != nil {
				e.logger.Debug("Deferred indexing not queued", "uri", next, "error", err.Error())
			}
		}
	}
	if indexed > 0 {
		v := e.index.BumpVersion()
		e.logger.Debug("Indexed neighbours on demand", "uri", uri, "files", indexed, "version", v)
	}
}

// Diagnostics computes the cross-file diagnostics of uri with the
// configured severities applied.
func (e *Engine) Diagnostics(uri string) (diags []diagnostics.Diagnostic) {
	defer e.recoverPanic("diagnostics", uri)

	f, ok := e.facts(uri)
	if !ok {
		return nil
	}
	e.syncGraph(uri, false)

	e.writeMu.RLock()
	raw := append([]diagnostics.Diagnostic(nil), e.graphDiags[uri]...)
	e.writeMu.RUnlock()

	raw = append(raw, e.structuralDiagnostics(uri, f.Meta)...)
	return e.policy.Apply(raw, f.Meta.IsIgnored)
}

// DiagnosticsForGraphUpdate updates the graph from externally supplied
// metadata for uri and returns the resulting diagnostics.
func (e *Engine) DiagnosticsForGraphUpdate(uri string, meta *metadata.FileMetadata) (diags []diagnostics.Diagnostic) {
	defer e.recoverPanic("graph-update", uri)
	if meta == nil {
		meta = &metadata.FileMetadata{}
	}

	seq := e.syncSeq.Add(1)
	var hash uint64
	if text, ok := e.content.Read(uri); ok {
		hash = metadata.ContentHash(text)
	}
	res, _ := e.updateGraph(uri, meta, syncState{contentHash: hash, version: e.index.Version(), seq: seq}, true)

	raw := append([]diagnostics.Diagnostic(nil), res.Diagnostics...)
	raw = append(raw, e.structuralDiagnostics(uri, meta)...)
	return e.policy.Apply(raw, meta.IsIgnored)
}

// structuralDiagnostics reports cycles, ambiguous parents and chain-depth
// cut-offs, which depend on the graph rather than on a single update.
func (e *Engine) structuralDiagnostics(uri string, meta *metadata.FileMetadata) []diagnostics.Diagnostic {
	var out []diagnostics.Diagnostic

	if cycle := e.graph.DetectCycle(uri); len(cycle) > 1 {
		site := textpos.Start
		for _, edge := range e.graph.Children(uri) {
			if edge.Child == cycle[1] {
				site = edge.Position(textpos.Start)
				break
			}
		}
		names := make([]string, len(cycle))
		for i, u := range cycle {
			names[i] = paths.RelativeURI(u, e.root)
		}
		out = append(out, diagnostics.OnLine(diagnostics.KindCircularDependency, site.Line, site.Column,
			"circular dependency: %s", strings.Join(names, " -> ")))
	}

	if len(meta.SourcedBy) > 0 {
		if sel := e.resolveParent(uri); sel.Kind == graph.ParentAmbiguous {
			others := make([]string, len(sel.Alternatives))
			for i, alt := range sel.Alternatives {
				others[i] = paths.RelativeURI(alt.Parent, e.root)
			}
			out = append(out, diagnostics.OnLine(diagnostics.KindAmbiguousParent, meta.SourcedBy[0].DirectiveLine, 0,
				"multiple parents include this file; using %s (also: %s)",
				paths.RelativeURI(sel.Selected.Parent, e.root), strings.Join(others, ", ")))
		}
	}

	res := e.resolver().ScopeAt(uri, textpos.EOF)
	reported := false
	for _, d := range res.DepthExceeded {
		if d.URI != uri {
			continue
		}
		reported = true
		out = append(out, diagnostics.OnLine(diagnostics.KindMaxChainDepth, d.Pos.Line, d.Pos.Column,
			"maximum chain depth %d exceeded at %s", e.cfg.CrossFile.MaxChainDepth, paths.RelativeURI(d.Target, e.root)))
	}
	if !reported && len(res.DepthExceeded) > 0 {
		d := res.DepthExceeded[0]
		out = append(out, diagnostics.OnLine(diagnostics.KindMaxChainDepth, 0, 0,
			"maximum chain depth %d exceeded in %s", e.cfg.CrossFile.MaxChainDepth, paths.RelativeURI(d.URI, e.root)))
	}
	return out
}

// computeDiagnostics is the revalidation compute hook.
func (e *Engine) computeDiagnostics(ctx context.Context, uri string) []diagnostics.Diagnostic {
	if ctx.Err() != nil {
		return nil
	}
	return e.Diagnostics(uri)
}

// publishDiagnostics is the revalidation publish hook.
func (e *Engine) publishDiagnostics(uri string, version int32, diags []diagnostics.Diagnostic) {
	if e.publish == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Publish callback failed", "uri", uri, "panic", fmt.Sprint(r))
		}
	}()
	e.publish(uri, version, diags)
}
