package metadata

import (
	"sort"

	"rscope/internal/rsyntax"
)

// Extract scans content and merges detected source() calls with the
// directive metadata, ordered by call site.
func Extract(content string) *Facts {
	syntax := rsyntax.Parse(content)
	meta := ParseDirectives(content)

	sources := meta.Sources
	for _, call := range syntax.Sources {
		sources = append(sources, ForwardSource{
			Path:               call.Path,
			Line:               call.Pos.Line,
			Column:             call.Pos.Column,
			Local:              call.Local,
			Chdir:              call.Chdir,
			IsSysSource:        call.SysSource,
			SysSourceGlobalEnv: call.SysSourceGlobalEnv,
		})
	}
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Pos().Less(sources[j].Pos())
	})
	meta.Sources = sources

	seen := map[string]bool{}
	for _, lib := range syntax.Libraries {
		if !seen[lib.Package] {
			seen[lib.Package] = true
			meta.Libraries = append(meta.Libraries, lib.Package)
		}
	}

	return &Facts{Meta: meta, Syntax: syntax, ContentHash: ContentHash(content)}
}
