// Package scope answers "which symbols are visible at this position".
//
// Each file is reduced once to Artifacts: a timeline of scope-affecting
// events sorted by position. A query replays the timeline up to the
// position, pulling in the exported symbols of included files and the
// symbols a parent had defined before including this file.
package scope

import (
	"sort"
	"strconv"

	"github.com/zeebo/xxh3"

	"rscope/internal/graph"
	"rscope/internal/metadata"
	"rscope/internal/rsyntax"
	"rscope/internal/textpos"
)

// SymbolKind is the kind of a resolved symbol.
type SymbolKind int

const (
	Variable SymbolKind = iota
	Function
	Parameter
)

func (k SymbolKind) String() string {
	switch k {
	case Function:
		return "function"
	case Parameter:
		return "parameter"
	}
	return "variable"
}

// MarshalText renders the kind by name.
func (k SymbolKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Symbol is a name resolved to its defining file and position.
type Symbol struct {
	Name          string     `json:"name"`
	Kind          SymbolKind `json:"kind"`
	SourceURI     string     `json:"sourceUri"`
	DefinedLine   uint32     `json:"definedLine"`
	DefinedColumn uint32     `json:"definedColumn"`
	Declared      bool       `json:"declared,omitempty"`
}

// EventKind tags a timeline event.
type EventKind int

const (
	EventDefinition EventKind = iota
	EventDeclaration
	EventFunctionScope
	EventRemoval
	EventInclusion
)

func (k EventKind) String() string {
	return [...]string{"definition", "declaration", "function-scope", "removal", "inclusion"}[k]
}

// Event is one entry of a file timeline. Which fields are set depends on
// Kind.
type Event struct {
	Kind EventKind
	Pos  textpos.Position

	// definition and declaration
	Symbol Symbol
	Global bool

	// function scope
	Span textpos.Span

	// removal
	Names []string

	// inclusion
	Target   string
	Inherits bool
}

// Artifacts is the single-file summary used by scope queries.
type Artifacts struct {
	URI            string
	Exported       []Symbol
	Timeline       []Event
	FunctionScopes []textpos.Span
	Libraries      []string
	InterfaceHash  uint64
}

func symbolKind(k rsyntax.DefKind) SymbolKind {
	switch k {
	case rsyntax.DefFunction:
		return Function
	case rsyntax.DefParameter:
		return Parameter
	}
	return Variable
}

// ComputeArtifacts builds the timeline of uri from its scanned syntax,
// its metadata and the inclusions it makes (edges the file contributes as
// parent). It never looks at other files.
func ComputeArtifacts(uri string, syntax *rsyntax.File, meta *metadata.FileMetadata, children []graph.Edge) *Artifacts {
	if syntax == nil {
		syntax = &rsyntax.File{}
	}
	if meta == nil {
		meta = &metadata.FileMetadata{}
	}
	art := &Artifacts{URI: uri, FunctionScopes: syntax.Functions, Libraries: meta.Libraries}

	for _, d := range syntax.Definitions {
		if d.Name == "" {
			continue
		}
		art.Timeline = append(art.Timeline, Event{
			Kind: EventDefinition,
			Pos:  d.Pos,
			Symbol: Symbol{
				Name:          d.Name,
				Kind:          symbolKind(d.Kind),
				SourceURI:     uri,
				DefinedLine:   d.Pos.Line,
				DefinedColumn: d.Pos.Column,
			},
			Global: d.Global,
		})
	}
	for _, d := range meta.Declarations {
		if d.Name == "" {
			continue
		}
		kind := Variable
		if d.IsFunction {
			kind = Function
		}
		art.Timeline = append(art.Timeline, Event{
			Kind: EventDeclaration,
			Pos:  textpos.New(d.Line, 0),
			Symbol: Symbol{
				Name:        d.Name,
				Kind:        kind,
				SourceURI:   uri,
				DefinedLine: d.Line,
				Declared:    true,
			},
			Global: true,
		})
	}
	for _, span := range syntax.Functions {
		art.Timeline = append(art.Timeline, Event{Kind: EventFunctionScope, Pos: span.Start, Span: span})
	}
	for _, r := range syntax.Removals {
		art.Timeline = append(art.Timeline, Event{Kind: EventRemoval, Pos: r.Pos, Names: r.Names})
	}
	for _, e := range children {
		if !e.FromParent || e.CallSite == nil || e.Parent != uri {
			continue
		}
		art.Timeline = append(art.Timeline, Event{
			Kind:     EventInclusion,
			Pos:      *e.CallSite,
			Target:   e.Child,
			Inherits: e.InheritsSymbols(),
		})
	}

	// own definitions precede inherited events at equal positions
	sort.SliceStable(art.Timeline, func(i, j int) bool {
		a, b := art.Timeline[i], art.Timeline[j]
		if c := a.Pos.Compare(b.Pos); c != 0 {
			return c < 0
		}
		return a.Kind < b.Kind
	})

	art.Exported = exportedSymbols(art)
	art.InterfaceHash = interfaceHash(art, meta)
	return art
}

// exportedSymbols replays the file alone to its end: top-level and global
// definitions that survive top-level removals.
func exportedSymbols(art *Artifacts) []Symbol {
	visible := map[string]Symbol{}
	for _, ev := range art.Timeline {
		switch ev.Kind {
		case EventDefinition, EventDeclaration:
			if ev.Global || innermost(art.FunctionScopes, ev.Pos) < 0 {
				visible[ev.Symbol.Name] = ev.Symbol
			}
		case EventRemoval:
			if innermost(art.FunctionScopes, ev.Pos) < 0 {
				for _, n := range ev.Names {
					delete(visible, n)
				}
			}
		}
	}
	out := make([]Symbol, 0, len(visible))
	for _, s := range visible {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// interfaceHash digests what importers can observe: exported names and
// kinds, declared symbols, loaded libraries and the files re-exported
// through top-level inclusions. Positions are left out so that edits which
// only move code do not change it.
func interfaceHash(art *Artifacts, meta *metadata.FileMetadata) uint64 {
	h := xxh3.New()
	write := func(parts ...string) {
		for _, p := range parts {
			_, _ = h.WriteString(p)
			_, _ = h.Write([]byte{0})
		}
		_, _ = h.Write([]byte{'\n'})
	}

	for _, s := range art.Exported {
		write("sym", s.Name, s.Kind.String(), strconv.FormatBool(s.Declared))
	}

	libs := append([]string(nil), meta.Libraries...)
	sort.Strings(libs)
	for _, l := range libs {
		write("lib", l)
	}

	var includes []string
	for _, ev := range art.Timeline {
		if ev.Kind == EventInclusion && ev.Inherits && innermost(art.FunctionScopes, ev.Pos) < 0 {
			includes = append(includes, ev.Target)
		}
	}
	sort.Strings(includes)
	for i, t := range includes {
		if i > 0 && includes[i-1] == t {
			continue
		}
		write("inc", t)
	}
	return h.Sum64()
}

// innermost returns the index of the innermost function scope containing
// pos, or -1 at top level.
func innermost(scopes []textpos.Span, pos textpos.Position) int {
	best := -1
	for i, s := range scopes {
		if !s.Contains(pos) {
			continue
		}
		if best < 0 || scopes[best].Start.Less(s.Start) {
			best = i
		}
	}
	return best
}
