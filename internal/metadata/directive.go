package metadata

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"rscope/internal/textpos"
)

// pathArg matches a double-quoted, single-quoted, backticked or bare value.
const pathArg = `(?:"([^"]+)"|'([^']+)'|` + "`([^`]+)`" + `|(\S+))`

var (
	backwardRe = regexp.MustCompile(`#\s*@lsp-(?:sourced-by|run-by|included-by)\s*:?\s*` + pathArg +
		`(?:\s+line\s*=\s*(\d+))?(?:\s+match\s*=\s*["']([^"']+)["'])?`)
	// the separator keeps "@lsp-source" from matching "@lsp-sourced-by"
	forwardRe    = regexp.MustCompile(`#\s*@lsp-(?:source|run|include)(?:\s*:\s*|\s+)` + pathArg + `(?:\s+line\s*=\s*(\d+))?`)
	workingDirRe = regexp.MustCompile(`#\s*@lsp-(?:working-directory|working-dir|current-directory|current-dir|cd|wd)(?:\s*:\s*|\s+)` + pathArg)
	ignoreRe     = regexp.MustCompile(`#\s*@lsp-ignore(?:\s|$)`)
	ignoreNextRe = regexp.MustCompile(`#\s*@lsp-ignore-next(?:\s|$)`)
	declareVarRe = regexp.MustCompile(`#\s*@lsp-(?:declare-variable|declare-var|variable|var)(?:\s*:\s*|\s+)` + pathArg)
	declareFnRe  = regexp.MustCompile(`#\s*@lsp-(?:declare-function|declare-func|function|func)(?:\s*:\s*|\s+)` + pathArg)
)

func firstGroup(m []string, groups ...int) string {
	for _, g := range groups {
		if g < len(m) && m[g] != "" {
			return m[g]
		}
	}
	return ""
}

// ParseDirectives reads @lsp-* comment directives from content. Forward
// directives are returned as sources with IsDirective set.
func ParseDirectives(content string) *FileMetadata {
	meta := &FileMetadata{}
	ignored := map[uint32]bool{}

	lines := strings.Split(content, "\n")
	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		if !strings.Contains(line, "@lsp-") {
			continue
		}
		n := uint32(i)

		switch {
		case backwardRe.MatchString(line):
			m := backwardRe.FindStringSubmatch(line)
			d := BackwardDirective{Path: firstGroup(m, 1, 2, 3, 4), DirectiveLine: n}
			if m[5] != "" {
				if v, err := strconv.ParseUint(m[5], 10, 32); err == nil && v > 0 {
					d.CallSite = CallSiteSpec{Kind: CallSiteLine, Line: uint32(v) - 1}
				}
			} else if m[6] != "" {
				d.CallSite = CallSiteSpec{Kind: CallSiteMatch, Pattern: m[6]}
			}
			meta.SourcedBy = append(meta.SourcedBy, d)

		case forwardRe.MatchString(line):
			m := forwardRe.FindStringSubmatch(line)
			src := ForwardSource{Path: firstGroup(m, 1, 2, 3, 4), Line: n, Column: textpos.EndOfLine, IsDirective: true}
			if m[5] != "" {
				if v, err := strconv.ParseUint(m[5], 10, 32); err == nil && v > 0 {
					src.Line = uint32(v) - 1
				}
			}
			meta.Sources = append(meta.Sources, src)

		case workingDirRe.MatchString(line):
			m := workingDirRe.FindStringSubmatch(line)
			meta.WorkingDirectory = firstGroup(m, 1, 2, 3, 4)

		case ignoreNextRe.MatchString(line):
			ignored[n+1] = true

		case ignoreRe.MatchString(line):
			ignored[n] = true

		case declareVarRe.MatchString(line):
			m := declareVarRe.FindStringSubmatch(line)
			if name := strings.TrimSpace(firstGroup(m, 1, 2, 3, 4)); name != "" {
				meta.Declarations = append(meta.Declarations, Declaration{Name: name, Line: n})
			}

		case declareFnRe.MatchString(line):
			m := declareFnRe.FindStringSubmatch(line)
			if name := strings.TrimSpace(firstGroup(m, 1, 2, 3, 4)); name != "" {
				meta.Declarations = append(meta.Declarations, Declaration{Name: name, IsFunction: true, Line: n})
			}
		}
	}

	for line := range ignored {
		meta.IgnoredLines = append(meta.IgnoredLines, line)
	}
	sort.Slice(meta.IgnoredLines, func(i, j int) bool { return meta.IgnoredLines[i] < meta.IgnoredLines[j] })
	return meta
}
