package graph

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"rscope/internal/diagnostics"
	"rscope/internal/metadata"
	"rscope/internal/paths"
	"rscope/internal/textpos"
)

const root = "/ws"

type fakeLookup struct {
	files      map[string]string
	unreadable map[string]bool
}

func newLookup(files map[string]string) *fakeLookup {
	l := &fakeLookup{files: map[string]string{}, unreadable: map[string]bool{}}
	for p, content := range files {
		l.files[uri(p)] = content
	}
	return l
}

func (l *fakeLookup) Exists(u string) bool {
	_, ok := l.files[u]
	return ok
}

func (l *fakeLookup) Read(u string) (string, bool) {
	if l.unreadable[u] {
		return "", false
	}
	c, ok := l.files[u]
	return c, ok
}

func uri(p string) string {
	return paths.URIFromPath(filepath.Join(root, p))
}

// update extracts metadata from the file's content and updates the graph.
func update(g *Graph, l *fakeLookup, p string) UpdateResult {
	facts := metadata.Extract(l.files[uri(p)])
	return g.UpdateFile(uri(p), facts.Meta, UpdateOptions{
		Context:        paths.NewContext(filepath.Join(root, p), root, facts.Meta.WorkingDirectory),
		Lookup:         l,
		AssumeCallSite: AssumeEnd,
	})
}

func TestUpdateFile_BackwardDirectiveInfersCallSite(t *testing.T) {
	l := newLookup(map[string]string{
		"parent.R":      "a <- 1\nb <- 2\n\nc <- 3\nd <- 4\nsource(\"sub/child.R\")\ne <- 5\n",
		"sub/child.R":   "# @lsp-run-by ../parent.R\nx <- a\n",
	})

	t.Run("parent not yet indexed", func(t *testing.T) {
		g := New(nil)
		res := update(g, l, "sub/child.R")
		if len(res.Diagnostics) != 0 {
			t.Errorf("diagnostics = %+v, want none", res.Diagnostics)
		}
		parents := g.Parents(uri("sub/child.R"))
		if len(parents) != 1 {
			t.Fatalf("parents = %v, want 1", parents)
		}
		e := parents[0]
		if e.Parent != uri("parent.R") || e.CallSite == nil || *e.CallSite != textpos.New(5, 0) {
			t.Errorf("edge = %v, want parent.R @5:0", e)
		}
		if e.Origin != Declared || e.Site != SiteInferred {
			t.Errorf("origin/site = %v/%v, want declared/inferred", e.Origin, e.Site)
		}
	})

	t.Run("parent indexed first merges into one edge", func(t *testing.T) {
		g := New(nil)
		update(g, l, "parent.R")
		update(g, l, "sub/child.R")
		children := g.Children(uri("parent.R"))
		if len(children) != 1 {
			t.Fatalf("children = %v, want 1 merged edge", children)
		}
		if children[0].Origin != Declared || !children[0].Backward {
			t.Errorf("edge = %v, want declared backward", children[0])
		}
	})
}

func TestUpdateFile_DeclaredOverridesOnlyExactSite(t *testing.T) {
	l := newLookup(map[string]string{
		"main.R":  "source(\"c.R\")\nx <- 1\nsource(\"c.R\")\n",
		"c.R":     "# @lsp-sourced-by main.R line=3\n",
	})
	g := New(nil)
	update(g, l, "main.R")
	update(g, l, "c.R")

	edges := g.Children(uri("main.R"))
	if len(edges) != 2 {
		t.Fatalf("edges = %v, want 2", edges)
	}
	if edges[0].Origin != Detected || *edges[0].CallSite != textpos.New(0, 0) {
		t.Errorf("first edge = %v, want detected @0:0", edges[0])
	}
	if edges[1].Origin != Declared || *edges[1].CallSite != textpos.New(2, 0) {
		t.Errorf("second edge = %v, want declared @2:0", edges[1])
	}
}

func TestUpdateFile_MissingTarget(t *testing.T) {
	l := newLookup(map[string]string{
		"a.R": "x <- 1\nsource(\"nope.R\")\n",
	})
	g := New(nil)
	res := update(g, l, "a.R")

	if len(g.Children(uri("a.R"))) != 0 {
		t.Errorf("edge created for missing target")
	}
	if len(res.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %+v, want 1", res.Diagnostics)
	}
	d := res.Diagnostics[0]
	if d.Kind != diagnostics.KindMissingFile || d.Range.Start.Line != 1 {
		t.Errorf("diagnostic = %+v, want missing-file on line 1", d)
	}
	if !strings.Contains(d.Message, "inclusion target not found: nope.R") {
		t.Errorf("message = %q", d.Message)
	}
}

func TestUpdateFile_Idempotent(t *testing.T) {
	l := newLookup(map[string]string{
		"a.R": "source(\"b.R\")\nsource(\"c.R\", local = TRUE)\n",
		"b.R": "# @lsp-sourced-by a.R\n",
		"c.R": "",
	})
	g := New(nil)
	update(g, l, "a.R")
	update(g, l, "b.R")
	first := g.Dump()
	hash := g.EdgesHash(uri("a.R"))

	update(g, l, "a.R")
	update(g, l, "b.R")
	if got := g.Dump(); got != first {
		t.Errorf("edge set changed:\n%s\nwant\n%s", got, first)
	}
	if g.EdgesHash(uri("a.R")) != hash {
		t.Errorf("EdgesHash changed on identical update")
	}
}

func TestUpdateFile_ChildEdgeSurvivesParentUpdate(t *testing.T) {
	l := newLookup(map[string]string{
		"main.R":  "x <- 1\n",
		"child.R": "# @lsp-sourced-by main.R line=1\n",
	})
	g := New(nil)
	update(g, l, "child.R")
	update(g, l, "main.R")

	if got := g.Children(uri("main.R")); len(got) != 1 {
		t.Errorf("children after parent update = %v, want backward edge kept", got)
	}
	if got := g.BackwardChildren(uri("main.R")); !reflect.DeepEqual(got, []string{uri("child.R")}) {
		t.Errorf("BackwardChildren = %v", got)
	}
}

func TestUpdateFile_UnresolvedCallSite(t *testing.T) {
	l := newLookup(map[string]string{
		"main.R":  "x <- 1\ny <- 2\n",
		"child.R": "# @lsp-sourced-by main.R\n",
		"other.R": "",
		"orphan.R": "# @lsp-sourced-by other.R\n",
	})
	l.unreadable[uri("other.R")] = true
	g := New(nil)

	res := update(g, l, "child.R")
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Kind != diagnostics.KindUnresolvedCallSite {
		t.Fatalf("diagnostics = %+v, want one unresolved-call-site", res.Diagnostics)
	}
	e := g.Parents(uri("child.R"))[0]
	if e.Site != SiteAssumed || *e.CallSite != textpos.New(2, textpos.EndOfLine) {
		t.Errorf("edge = %v, want assumed at last line", e)
	}

	update(g, l, "orphan.R")
	e = g.Parents(uri("orphan.R"))[0]
	if e.CallSite != nil || e.Site != SiteUnknown {
		t.Errorf("edge = %v, want unknown call site", e)
	}
	if got := e.Position(AssumeEnd.Fallback()); got != textpos.EOF {
		t.Errorf("fallback = %v, want EOF", got)
	}
}

func TestUpdateFile_MatchPattern(t *testing.T) {
	l := newLookup(map[string]string{
		"main.R":  "files <- list.files()\nfor (f in files) source(f)\nrun_all()\n",
		"child.R": "# @lsp-sourced-by main.R match=\"source(f)\"\n",
	})
	g := New(nil)
	update(g, l, "child.R")
	e := g.Parents(uri("child.R"))[0]
	if e.Site != SiteMatched || *e.CallSite != textpos.New(1, 17) {
		t.Errorf("edge = %v, want matched @1:17", e)
	}
}

func TestUpdateFile_ForwardDirective(t *testing.T) {
	l := newLookup(map[string]string{
		"main.R":    "source(\"util.R\") # @lsp-source util.R\n# @lsp-source util.R\n# @lsp-source gen.R\n",
		"util.R":    "",
		"gen.R":     "",
	})
	g := New(nil)
	res := update(g, l, "main.R")

	edges := g.Children(uri("main.R"))
	if len(edges) != 3 {
		t.Fatalf("edges = %v, want 3", edges)
	}
	if edges[0].Origin != Declared || *edges[0].CallSite != textpos.New(0, 0) {
		t.Errorf("same-line directive should declare the detected call: %v", edges[0])
	}
	var redundant int
	for _, d := range res.Diagnostics {
		if d.Kind == diagnostics.KindRedundantDirective {
			redundant++
			if d.Range.Start.Line != 1 {
				t.Errorf("redundant diagnostic on line %d, want 1", d.Range.Start.Line)
			}
		}
	}
	if redundant != 1 {
		t.Errorf("redundant diagnostics = %d, want 1", redundant)
	}
}

func TestTransitiveDependents_Cycle(t *testing.T) {
	l := newLookup(map[string]string{
		"a.R": "source(\"b.R\")\n",
		"b.R": "source(\"a.R\")\n",
		"c.R": "source(\"a.R\")\n",
	})
	g := New(nil)
	for _, p := range []string{"a.R", "b.R", "c.R"} {
		update(g, l, p)
	}

	got := g.TransitiveDependents(uri("a.R"), 10)
	want := []string{uri("b.R"), uri("c.R")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TransitiveDependents(a) = %v, want %v", got, want)
	}
	if got := g.TransitiveDependencies(uri("c.R"), 1); !reflect.DeepEqual(got, []string{uri("a.R")}) {
		t.Errorf("TransitiveDependencies(c, 1) = %v", got)
	}
	if got := g.TransitiveDependencies(uri("c.R"), 10); len(got) != 2 {
		t.Errorf("TransitiveDependencies(c, 10) = %v, want a and b", got)
	}

	cycle := g.DetectCycle(uri("a.R"))
	if !reflect.DeepEqual(cycle, []string{uri("a.R"), uri("b.R"), uri("a.R")}) {
		t.Errorf("DetectCycle(a) = %v", cycle)
	}
	if g.DetectCycle(uri("c.R")) != nil {
		t.Errorf("DetectCycle(c) found a cycle")
	}
}

func TestResolveParent(t *testing.T) {
	l := newLookup(map[string]string{
		"main.R":  "source(\"lib.R\")\n",
		"test.R":  "x <- 1\n",
		"lib.R":   "# @lsp-sourced-by test.R line=1\n",
		"solo.R":  "",
	})
	g := New(nil)
	update(g, l, "main.R")
	update(g, l, "lib.R")

	res := g.ResolveParent(uri("lib.R"))
	if res.Kind != ParentAmbiguous {
		t.Fatalf("Kind = %v, want ambiguous", res.Kind)
	}
	if res.Selected.Parent != uri("test.R") {
		t.Errorf("Selected = %v, want explicit line= parent test.R", res.Selected.Parent)
	}
	if len(res.Alternatives) != 1 || res.Alternatives[0].Parent != uri("main.R") {
		t.Errorf("Alternatives = %v", res.Alternatives)
	}
	if got := g.ResolveParent(uri("solo.R")).Kind; got != ParentNone {
		t.Errorf("Kind(solo) = %v, want none", got)
	}
}

func TestRemoveFile(t *testing.T) {
	l := newLookup(map[string]string{
		"a.R": "source(\"b.R\")\n",
		"b.R": "",
	})
	g := New(nil)
	update(g, l, "a.R")
	g.RemoveFile(uri("b.R"))
	if got := g.Children(uri("a.R")); len(got) != 0 {
		t.Errorf("children after removal = %v", got)
	}
	if got := g.Stats()["edges"]; got != 0 {
		t.Errorf("edges = %v, want 0", got)
	}
}

func TestWalkDependents_ReportsCycle(t *testing.T) {
	l := newLookup(map[string]string{
		"a.R": "source(\"b.R\")\n",
		"b.R": "source(\"a.R\")\n",
		"c.R": "source(\"a.R\")\n",
	})
	g := New(nil)
	for _, p := range []string{"a.R", "b.R", "c.R"} {
		update(g, l, p)
	}

	tr := g.WalkDependents(uri("a.R"), 10)
	if want := []string{uri("b.R"), uri("c.R")}; !reflect.DeepEqual(tr.Files, want) {
		t.Errorf("Files = %v, want %v", tr.Files, want)
	}
	if want := []string{uri("b.R")}; !reflect.DeepEqual(tr.Cycle, want) {
		t.Errorf("Cycle = %v, want %v", tr.Cycle, want)
	}
	if got := g.Stats()["cycles"]; got != int64(1) {
		t.Errorf("cycles = %v, want 1", got)
	}

	if tr := g.WalkDependents(uri("c.R"), 10); len(tr.Cycle) != 0 {
		t.Errorf("Cycle(c) = %v, want none", tr.Cycle)
	}
	if got := g.Stats()["cycles"]; got != int64(1) {
		t.Errorf("cycles after acyclic walk = %v, want 1", got)
	}
}

func TestPlan_DoesNotTouchGraph(t *testing.T) {
	l := newLookup(map[string]string{
		"a.R": "source(\"b.R\")\n",
		"b.R": "",
	})
	g := New(nil)
	facts := metadata.Extract(l.files[uri("a.R")])
	plan := g.Plan(uri("a.R"), facts.Meta, UpdateOptions{
		Context: paths.NewContext(filepath.Join(root, "a.R"), root, ""),
		Lookup:  l,
	})
	if len(plan.Edges) != 1 {
		t.Fatalf("planned edges = %v, want 1", plan.Edges)
	}
	if got := g.Stats()["edges"]; got != 0 {
		t.Errorf("edges after Plan = %v, want 0", got)
	}

	g.Apply(uri("a.R"), plan)
	if got := g.Children(uri("a.R")); len(got) != 1 || got[0].Child != uri("b.R") {
		t.Errorf("children after Apply = %v", got)
	}
}

func TestOwnedEdgesHash(t *testing.T) {
	l := newLookup(map[string]string{
		"main.R":  "x <- 1\nsource(\"child.R\")\n",
		"child.R": "# @lsp-run-by main.R\n",
	})
	g := New(nil)
	update(g, l, "main.R")
	update(g, l, "child.R")
	before := g.OwnedEdgesHash(uri("child.R"))

	l.files[uri("main.R")] += "# trailing comment\n"
	update(g, l, "main.R")
	update(g, l, "child.R")
	if g.OwnedEdgesHash(uri("child.R")) != before {
		t.Error("a comment after the call site should not change the child's edges")
	}

	l.files[uri("main.R")] = "x <- 1\ny <- 2\nsource(\"child.R\")\n"
	update(g, l, "main.R")
	update(g, l, "child.R")
	if g.OwnedEdgesHash(uri("child.R")) == before {
		t.Error("moving the call site should change the child's edges")
	}
}
