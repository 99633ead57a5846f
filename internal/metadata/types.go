// Package metadata describes the per-file facts the dependency graph and
// scope resolver consume: forward inclusions, backward declarations,
// working-directory overrides and declared symbols.
package metadata

import (
	"sort"
	"strconv"

	"github.com/zeebo/xxh3"

	"rscope/internal/rsyntax"
	"rscope/internal/textpos"
)

// ForwardSource is an inclusion of another file, detected from a source()
// call or declared with an @lsp-source directive.
type ForwardSource struct {
	Path               string `json:"path"`
	Line               uint32 `json:"line"`
	Column             uint32 `json:"column"`
	IsDirective        bool   `json:"isDirective,omitempty"`
	Local              bool   `json:"local,omitempty"`
	Chdir              bool   `json:"chdir,omitempty"`
	IsSysSource        bool   `json:"isSysSource,omitempty"`
	SysSourceGlobalEnv bool   `json:"sysSourceGlobalEnv,omitempty"`
}

// Pos returns the call site.
func (s ForwardSource) Pos() textpos.Position {
	return textpos.New(s.Line, s.Column)
}

// InheritsSymbols reports whether the included file's definitions land in
// the including file's environment.
func (s ForwardSource) InheritsSymbols() bool {
	if s.IsSysSource {
		return s.SysSourceGlobalEnv
	}
	return !s.Local
}

// CallSiteKind says how a backward declaration locates its call site.
type CallSiteKind int

const (
	CallSiteDefault CallSiteKind = iota
	CallSiteLine
	CallSiteMatch
)

// CallSiteSpec is the optional call-site hint of a backward declaration.
// Line is 0-based.
type CallSiteSpec struct {
	Kind    CallSiteKind `json:"kind"`
	Line    uint32       `json:"line,omitempty"`
	Pattern string       `json:"pattern,omitempty"`
}

// BackwardDirective is an "@lsp-sourced-by" declaration.
type BackwardDirective struct {
	Path          string       `json:"path"`
	CallSite      CallSiteSpec `json:"callSite"`
	DirectiveLine uint32       `json:"directiveLine"`
}

// Declaration is a symbol declared by directive because static analysis
// cannot see it.
type Declaration struct {
	Name       string `json:"name"`
	IsFunction bool   `json:"isFunction,omitempty"`
	Line       uint32 `json:"line"`
}

// FileMetadata holds every cross-file fact for one document.
type FileMetadata struct {
	Sources          []ForwardSource     `json:"sources,omitempty"`
	SourcedBy        []BackwardDirective `json:"sourcedBy,omitempty"`
	WorkingDirectory string              `json:"workingDirectory,omitempty"`
	IgnoredLines     []uint32            `json:"ignoredLines,omitempty"`
	Declarations     []Declaration       `json:"declarations,omitempty"`
	Libraries        []string            `json:"libraries,omitempty"`
}

// IsIgnored reports whether diagnostics on line are suppressed.
func (m *FileMetadata) IsIgnored(line uint32) bool {
	i := sort.Search(len(m.IgnoredLines), func(i int) bool { return m.IgnoredLines[i] >= line })
	return i < len(m.IgnoredLines) && m.IgnoredLines[i] == line
}

// DirectivesHash fingerprints the backward declarations and the working
// directory override, the inputs of parent selection.
func (m *FileMetadata) DirectivesHash() uint64 {
	h := xxh3.New()
	for _, d := range m.SourcedBy {
		writeField(h, d.Path)
		writeField(h, strconv.Itoa(int(d.CallSite.Kind)))
		writeField(h, strconv.FormatUint(uint64(d.CallSite.Line), 10))
		writeField(h, d.CallSite.Pattern)
	}
	writeField(h, "wd")
	writeField(h, m.WorkingDirectory)
	return h.Sum64()
}

// Facts bundles extracted metadata with the scanned syntax of a document.
type Facts struct {
	Meta        *FileMetadata `json:"meta"`
	Syntax      *rsyntax.File `json:"syntax"`
	ContentHash uint64        `json:"contentHash"`
}

// ContentHash fingerprints document text.
func ContentHash(content string) uint64 {
	return xxh3.HashString(content)
}

func writeField(h *xxh3.Hasher, s string) {
	_, _ = h.WriteString(s)
	_, _ = h.Write([]byte{0})
}
