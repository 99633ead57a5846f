// Package diagnostics defines the cross-file diagnostic model and the
// severity policy applied before diagnostics are published.
package diagnostics

import (
	"fmt"
	"sort"
	"strings"

	"rscope/internal/textpos"
)

// Source tags every diagnostic produced by this module.
const Source = "rscope"

// Severity follows the editor-protocol numbering. SeverityOff suppresses
// the diagnostic entirely.
type Severity int

const (
	SeverityOff         Severity = 0
	SeverityError       Severity = 1
	SeverityWarning     Severity = 2
	SeverityInformation Severity = 3
	SeverityHint        Severity = 4
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "information"
	case SeverityHint:
		return "hint"
	default:
		return "off"
	}
}

// ParseSeverity accepts error, warning, information (or info), hint and off.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return SeverityError, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "information", "info":
		return SeverityInformation, nil
	case "hint":
		return SeverityHint, nil
	case "off", "none":
		return SeverityOff, nil
	}
	return SeverityOff, fmt.Errorf("unknown severity %q", s)
}

// Kind identifies what a diagnostic reports.
type Kind string

const (
	KindMissingFile        Kind = "missing-file"
	KindCircularDependency Kind = "circular-dependency"
	KindMaxChainDepth      Kind = "max-chain-depth"
	KindAmbiguousParent    Kind = "ambiguous-parent"
	KindRedundantDirective Kind = "redundant-directive"
	KindUnresolvedCallSite Kind = "unresolved-call-site"
)

// Diagnostic is attached to a range of one document.
type Diagnostic struct {
	Range    textpos.Span `json:"range"`
	Severity Severity     `json:"severity"`
	Kind     Kind         `json:"code"`
	Message  string       `json:"message"`
	Source   string       `json:"source"`
}

// OnLine builds a diagnostic covering line from col to the end of the line.
func OnLine(kind Kind, line, col uint32, format string, args ...interface{}) Diagnostic {
	if col == textpos.EndOfLine {
		col = 0
	}
	return Diagnostic{
		Range: textpos.Span{
			Start: textpos.New(line, col),
			End:   textpos.New(line, textpos.EndOfLine),
		},
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Source:  Source,
	}
}

// Policy maps kinds to configured severities.
type Policy map[Kind]Severity

// DefaultPolicy returns the default severity of each kind.
func DefaultPolicy() Policy {
	return Policy{
		KindMissingFile:        SeverityWarning,
		KindCircularDependency: SeverityError,
		KindMaxChainDepth:      SeverityWarning,
		KindAmbiguousParent:    SeverityWarning,
		KindRedundantDirective: SeverityHint,
		KindUnresolvedCallSite: SeverityWarning,
	}
}

// Apply sets severities, drops kinds that are off and diagnostics on
// ignored lines, removes duplicates and sorts by position.
func (p Policy) Apply(diags []Diagnostic, ignored func(line uint32) bool) []Diagnostic {
	out := make([]Diagnostic, 0, len(diags))
	seen := make(map[string]bool, len(diags))
	for _, d := range diags {
		sev, ok := p[d.Kind]
		if !ok {
			sev = SeverityWarning
		}
		if sev == SeverityOff {
			continue
		}
		if ignored != nil && ignored(d.Range.Start.Line) {
			continue
		}
		d.Severity = sev
		if d.Source == "" {
			d.Source = Source
		}
		key := fmt.Sprintf("%s|%v|%s", d.Kind, d.Range.Start, d.Message)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Range.Start.Less(out[j].Range.Start)
	})
	return out
}
