// Package export writes resolved definitions and inclusions as a SCIP index.
package export

import (
	"fmt"
	"io"
	"sort"
	"strings"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"
	"google.golang.org/protobuf/proto"

	rerrors "rscope/internal/errors"
	"rscope/internal/paths"
	"rscope/internal/scope"
	"rscope/internal/textpos"
	"rscope/internal/version"
)

const scheme = "rscope"

// Source supplies per-file artifacts. *engine.Engine satisfies it.
type Source interface {
	Root() string
	Artifacts(uri string) (*scope.Artifacts, bool)
}

// Build assembles a SCIP index with one document per file. Files without
// artifacts are skipped.
func Build(src Source, files []string) *scippb.Index {
	root := src.Root()
	index := &scippb.Index{
		Metadata: &scippb.Metadata{
			Version:              scippb.ProtocolVersion_UnspecifiedProtocolVersion,
			ToolInfo:             &scippb.ToolInfo{Name: "rscope", Version: version.Version},
			ProjectRoot:          paths.URIFromPath(root),
			TextDocumentEncoding: scippb.TextEncoding_UTF8,
		},
	}

	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	for _, uri := range sorted {
		art, ok := src.Artifacts(uri)
		if !ok || art == nil {
			continue
		}
		index.Documents = append(index.Documents, document(root, art))
	}
	return index
}

// WriteSCIP marshals the index for files to w.
func WriteSCIP(w io.Writer, src Source, files []string) error {
	data, err := proto.Marshal(Build(src, files))
	if err != nil {
		return rerrors.NewRscopeError(rerrors.InternalError, "failed to encode SCIP index", err)
	}
	if _, err := w.Write(data); err != nil {
		return rerrors.NewRscopeError(rerrors.InternalError, "failed to write SCIP index", err)
	}
	return nil
}

func document(root string, art *scope.Artifacts) *scippb.Document {
	rel := paths.RelativeURI(art.URI, root)
	doc := &scippb.Document{
		RelativePath:     rel,
		Language:         "R",
		PositionEncoding: scippb.PositionEncoding_UTF16CodeUnitOffsetFromLineStart,
	}

	for _, sym := range art.Exported {
		if sym.SourceURI != art.URI {
			continue
		}
		id := symbolID(rel, sym)
		end := sym.DefinedColumn + textpos.UTF16Len(sym.Name)
		if sym.Declared {
			end = sym.DefinedColumn
		}
		doc.Occurrences = append(doc.Occurrences, &scippb.Occurrence{
			Range:       []int32{int32(sym.DefinedLine), int32(sym.DefinedColumn), int32(end)},
			Symbol:      id,
			SymbolRoles: int32(scippb.SymbolRole_Definition),
		})
		doc.Symbols = append(doc.Symbols, &scippb.SymbolInformation{
			Symbol:      id,
			Kind:        symbolKind(sym.Kind),
			DisplayName: sym.Name,
		})
	}

	for _, ev := range art.Timeline {
		if ev.Kind != scope.EventInclusion || ev.Pos.IsEOF() {
			continue
		}
		target := paths.RelativeURI(ev.Target, root)
		doc.Occurrences = append(doc.Occurrences, &scippb.Occurrence{
			Range:       []int32{int32(ev.Pos.Line), int32(ev.Pos.Column), int32(ev.Pos.Column)},
			Symbol:      fileSymbol(target),
			SymbolRoles: int32(scippb.SymbolRole_Import),
		})
	}

	sort.SliceStable(doc.Occurrences, func(i, j int) bool {
		a, b := doc.Occurrences[i].Range, doc.Occurrences[j].Range
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		return a[1] < b[1]
	})
	return doc
}

func symbolKind(k scope.SymbolKind) scippb.SymbolInformation_Kind {
	if k == scope.Function {
		return scippb.SymbolInformation_Function
	}
	return scippb.SymbolInformation_Variable
}

// fileSymbol names a workspace file as a namespace descriptor.
func fileSymbol(rel string) string {
	return fmt.Sprintf("%s . . . %s/", scheme, escape(rel))
}

func symbolID(rel string, sym scope.Symbol) string {
	suffix := "."
	if sym.Kind == scope.Function {
		suffix = "()."
	}
	return fileSymbol(rel) + escape(sym.Name) + suffix
}

// escape backtick-quotes names that are not plain SCIP identifiers.
func escape(name string) string {
	plain := name != ""
	for _, r := range name {
		if !(r == '_' || r == '+' || r == '-' || r == '$' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			plain = false
			break
		}
	}
	if plain {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
