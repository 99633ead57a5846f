// Package textpos holds editor-protocol positions: 0-based lines and
// 0-based columns counted in UTF-16 code units.
package textpos

import (
	"fmt"
	"math"
	"unicode/utf16"
	"unicode/utf8"
)

// EndOfLine is a column sentinel meaning "after the last character".
const EndOfLine = math.MaxUint32

// Position is a (line, column) pair compared lexicographically.
type Position struct {
	Line   uint32 `json:"line"`
	Column uint32 `json:"column"`
}

// EOF sorts after every real position in a file.
var EOF = Position{Line: math.MaxUint32, Column: math.MaxUint32}

// Start is the first position of a file.
var Start = Position{}

func New(line, column uint32) Position {
	return Position{Line: line, Column: column}
}

// Compare returns -1, 0 or 1.
func (p Position) Compare(o Position) int {
	switch {
	case p.Line < o.Line:
		return -1
	case p.Line > o.Line:
		return 1
	case p.Column < o.Column:
		return -1
	case p.Column > o.Column:
		return 1
	}
	return 0
}

// Less reports p < o.
func (p Position) Less(o Position) bool {
	return p.Compare(o) < 0
}

func (p Position) IsEOF() bool {
	return p == EOF
}

func (p Position) String() string {
	if p.IsEOF() {
		return "EOF"
	}
	if p.Column == EndOfLine {
		return fmt.Sprintf("%d:$", p.Line)
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Span is a half-open [Start, End) range.
type Span struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Contains reports whether pos lies in [Start, End).
func (s Span) Contains(pos Position) bool {
	return !pos.Less(s.Start) && pos.Less(s.End)
}

// Encloses reports whether o lies entirely within s.
func (s Span) Encloses(o Span) bool {
	return !o.Start.Less(s.Start) && !s.End.Less(o.End)
}

// UTF16Len returns the length of s in UTF-16 code units.
func UTF16Len(s string) uint32 {
	var n uint32
	for _, r := range s {
		n += uint32(utf16.RuneLen(r))
	}
	return n
}

// ByteToUTF16 converts a byte offset within line to a UTF-16 column.
func ByteToUTF16(line string, byteOff int) uint32 {
	if byteOff > len(line) {
		byteOff = len(line)
	}
	return UTF16Len(line[:byteOff])
}

// UTF16ToByte converts a UTF-16 column within line to a byte offset.
// Columns past the end clamp to len(line).
func UTF16ToByte(line string, col uint32) int {
	var units uint32
	for i, r := range line {
		if units >= col {
			return i
		}
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		units += uint32(n)
	}
	return len(line)
}

// LineIndex maps byte offsets of a document to positions.
type LineIndex struct {
	text   string
	starts []int
}

func NewLineIndex(text string) *LineIndex {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{text: text, starts: starts}
}

// LineCount returns the number of lines (a trailing newline opens an empty line).
func (li *LineIndex) LineCount() int {
	return len(li.starts)
}

// Line returns line n without its terminator.
func (li *LineIndex) Line(n int) string {
	if n < 0 || n >= len(li.starts) {
		return ""
	}
	end := len(li.text)
	if n+1 < len(li.starts) {
		end = li.starts[n+1] - 1
	}
	line := li.text[li.starts[n]:end]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return line
}

// Position converts a byte offset into a Position.
func (li *LineIndex) Position(off int) Position {
	lo, hi := 0, len(li.starts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if li.starts[mid] <= off {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	start := li.starts[lo]
	end := off
	if end > len(li.text) {
		end = len(li.text)
	}
	seg := li.text[start:end]
	if !utf8.ValidString(seg) {
		return Position{Line: uint32(lo), Column: uint32(len(seg))}
	}
	return Position{Line: uint32(lo), Column: UTF16Len(seg)}
}

// LastPosition returns the end position of the last line.
func (li *LineIndex) LastPosition() Position {
	n := len(li.starts) - 1
	return Position{Line: uint32(n), Column: UTF16Len(li.Line(n))}
}
