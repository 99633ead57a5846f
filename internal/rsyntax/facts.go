package rsyntax

import (
	"strings"

	"rscope/internal/textpos"
)

// DefKind is the kind of symbol a definition introduces.
type DefKind int

const (
	DefVariable DefKind = iota
	DefFunction
	DefParameter
)

func (k DefKind) String() string {
	switch k {
	case DefFunction:
		return "function"
	case DefParameter:
		return "parameter"
	default:
		return "variable"
	}
}

// Definition is an assignment that binds Name at Pos.
// Global is set for super-assignment (<<- and ->>).
type Definition struct {
	Name   string
	Kind   DefKind
	Pos    textpos.Position
	Global bool
}

// SourceCall is a source() or sys.source() call with a literal path.
type SourceCall struct {
	Path               string
	Pos                textpos.Position
	Local              bool
	Chdir              bool
	SysSource          bool
	SysSourceGlobalEnv bool
}

// Removal is an rm()/remove() call.
type Removal struct {
	Names []string
	Pos   textpos.Position
}

// Library is a library()/require() call with a literal package name.
type Library struct {
	Package string
	Pos     textpos.Position
}

// File holds every fact found in one document.
type File struct {
	Definitions []Definition
	Sources     []SourceCall
	Functions   []textpos.Span
	Removals    []Removal
	Libraries   []Library
	End         textpos.Position
}

// Parse scans content and returns its facts in source order.
func Parse(content string) *File {
	s := &scanner{toks: Tokenize(content), file: &File{}}
	s.scan()
	s.file.End = textpos.NewLineIndex(content).LastPosition()
	return s.file
}

type scanner struct {
	toks  []Token
	file  *File
	stack []TokenKind
}

func (s *scanner) tok(i int) Token {
	if i < 0 || i >= len(s.toks) {
		return Token{Kind: TokEOF}
	}
	return s.toks[i]
}

// nextSignificant skips newlines starting at i.
func (s *scanner) nextSignificant(i int) int {
	for i < len(s.toks) && s.toks[i].Kind == TokNewline {
		i++
	}
	return i
}

func (s *scanner) scan() {
	for i := 0; i < len(s.toks); i++ {
		t := s.toks[i]
		switch t.Kind {
		case TokLParen, TokLBracket, TokLBrace:
			s.stack = append(s.stack, t.Kind)
		case TokRParen, TokRBracket, TokRBrace:
			if len(s.stack) > 0 {
				s.stack = s.stack[:len(s.stack)-1]
			}
		case TokOp:
			switch {
			case t.Text == "\\" && s.tok(i+1).Kind == TokLParen:
				s.function(i)
			case t.isOp("->", "->>"):
				s.rightAssign(i)
			}
		case TokIdent:
			s.identifier(i)
		}
	}
}

func (s *scanner) identifier(i int) {
	t := s.toks[i]
	next := s.tok(i + 1)

	if next.Kind == TokLParen && !s.qualifiedMember(i) {
		switch t.Text {
		case "function":
			s.function(i)
			return
		case "source", "sys.source":
			s.sourceCall(i)
			return
		case "rm", "remove":
			s.removal(i)
			return
		case "library", "require", "requireNamespace":
			s.library(i)
			return
		case "assign":
			s.assign(i)
			return
		case "for":
			if v := s.tok(i + 2); v.Kind == TokIdent && s.tok(i+3).isIdent("in") {
				s.define(v.Text, DefVariable, v.Start, false)
			}
			return
		}
	}
	if !next.isOp("<-", "<<-", "=") {
		return
	}
	if prev := s.tok(i - 1); prev.isOp("$", "@", "::", ":::") {
		return
	}
	if next.Text == "=" && len(s.stack) > 0 && s.stack[len(s.stack)-1] != TokLBrace {
		// named argument, not an assignment
		return
	}
	s.define(t.Text, s.valueKind(i+2), t.Start, next.Text == "<<-")
}

// qualifiedMember reports whether the identifier at i is pkg::name for a
// package other than base.
func (s *scanner) qualifiedMember(i int) bool {
	if !s.tok(i - 1).isOp("::", ":::") {
		return false
	}
	return !s.tok(i - 2).isIdent("base")
}

func (s *scanner) callStart(i int) textpos.Position {
	if s.tok(i-1).isOp("::", ":::") && s.tok(i-2).Kind == TokIdent {
		return s.toks[i-2].Start
	}
	return s.toks[i].Start
}

func (s *scanner) valueKind(i int) DefKind {
	v := s.tok(s.nextSignificant(i))
	if v.isIdent("function") || v.isOp("\\") {
		return DefFunction
	}
	return DefVariable
}

func (s *scanner) define(name string, kind DefKind, pos textpos.Position, global bool) {
	if name == "" {
		return
	}
	s.file.Definitions = append(s.file.Definitions, Definition{Name: name, Kind: kind, Pos: pos, Global: global})
}

func (s *scanner) rightAssign(i int) {
	target := s.tok(s.nextSignificant(i + 1))
	if target.Kind != TokIdent {
		return
	}
	j := s.nextSignificant(i+1) + 1
	if after := s.tok(j); after.Kind == TokLParen || after.Kind == TokLBracket || after.isOp("$", "@", "::", ":::") {
		return
	}
	s.define(target.Text, DefVariable, target.Start, s.toks[i].Text == "->>")
}

// matching returns the index of the bracket closing the one at open.
func (s *scanner) matching(open int) int {
	depth := 0
	for j := open; j < len(s.toks); j++ {
		switch s.toks[j].Kind {
		case TokLParen, TokLBracket, TokLBrace:
			depth++
		case TokRParen, TokRBracket, TokRBrace:
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return len(s.toks) - 1
}

func (s *scanner) function(k int) {
	open := k + 1
	closeParen := s.matching(open)

	expectParam := true
	depth := 0
	for j := open + 1; j < closeParen; j++ {
		t := s.toks[j]
		switch t.Kind {
		case TokLParen, TokLBracket, TokLBrace:
			depth++
		case TokRParen, TokRBracket, TokRBrace:
			depth--
		case TokComma:
			if depth == 0 {
				expectParam = true
				continue
			}
		case TokIdent:
			if depth == 0 && expectParam {
				s.define(t.Text, DefParameter, t.Start, false)
			}
		}
		if t.Kind != TokNewline {
			expectParam = false
		}
	}

	end := s.bodyEnd(s.nextSignificant(closeParen + 1))
	s.file.Functions = append(s.file.Functions, textpos.Span{Start: s.toks[k].Start, End: end})
}

// bodyEnd returns the end position of the function body starting at b.
func (s *scanner) bodyEnd(b int) textpos.Position {
	if b >= len(s.toks) || s.toks[b].Kind == TokEOF {
		return s.tok(b - 1).End
	}
	if s.toks[b].Kind == TokLBrace {
		return s.toks[s.matching(b)].End
	}
	depth := 0
	last := b
	for j := b; j < len(s.toks); j++ {
		t := s.toks[j]
		switch t.Kind {
		case TokEOF:
			return s.toks[last].End
		case TokLParen, TokLBracket, TokLBrace:
			depth++
		case TokRParen, TokRBracket, TokRBrace:
			if depth == 0 {
				return s.toks[last].End
			}
			depth--
		case TokComma, TokSemicolon:
			if depth == 0 {
				return s.toks[last].End
			}
		case TokNewline:
			if depth == 0 && s.toks[last].Kind != TokOp {
				return s.toks[last].End
			}
			continue
		}
		last = j
	}
	return s.toks[last].End
}

type argument struct {
	name  string
	value []Token
}

func (a argument) literal() (string, bool) {
	if len(a.value) == 1 && a.value[0].Kind == TokString {
		return a.value[0].Text, true
	}
	return "", false
}

func (a argument) text() string {
	var b strings.Builder
	for _, t := range a.value {
		b.WriteString(t.Text)
	}
	return b.String()
}

func (a argument) truthy() bool {
	switch a.text() {
	case "", "FALSE", "F":
		return false
	}
	return true
}

func (a argument) globalEnv() bool {
	switch a.text() {
	case "globalenv()", ".GlobalEnv", "environment()":
		return true
	}
	return false
}

// arguments splits the call arguments of the parenthesis at open.
func (s *scanner) arguments(open int) []argument {
	closeParen := s.matching(open)
	var args []argument
	var cur []Token
	depth := 0
	flush := func() {
		a := argument{value: cur}
		if len(cur) >= 2 && (cur[0].Kind == TokIdent || cur[0].Kind == TokString) && cur[1].isOp("=") {
			a.name = cur[0].Text
			a.value = cur[2:]
		}
		if len(cur) > 0 {
			args = append(args, a)
		}
		cur = nil
	}
	for j := open + 1; j < closeParen; j++ {
		t := s.toks[j]
		switch t.Kind {
		case TokNewline:
			continue
		case TokLParen, TokLBracket, TokLBrace:
			depth++
		case TokRParen, TokRBracket, TokRBrace:
			depth--
		case TokComma:
			if depth == 0 {
				flush()
				continue
			}
		}
		cur = append(cur, t)
	}
	flush()
	return args
}

// pick returns the argument with the given name, or else the positional
// argument at index pos (counting unnamed arguments only).
func pick(args []argument, name string, pos int) (argument, bool) {
	for _, a := range args {
		if a.name == name {
			return a, true
		}
	}
	n := 0
	for _, a := range args {
		if a.name != "" {
			continue
		}
		if n == pos {
			return a, true
		}
		n++
	}
	return argument{}, false
}

func named(args []argument, name string) (argument, bool) {
	return pick(args, name, -1)
}

func (s *scanner) sourceCall(i int) {
	args := s.arguments(i + 1)
	fileArg, ok := pick(args, "file", 0)
	if !ok {
		return
	}
	path, ok := fileArg.literal()
	if !ok || path == "" {
		return
	}
	call := SourceCall{Path: path, Pos: s.callStart(i), SysSource: s.toks[i].Text == "sys.source"}
	if call.SysSource {
		if envir, ok := pick(args, "envir", 1); ok {
			call.SysSourceGlobalEnv = envir.globalEnv()
		}
	} else if local, ok := pick(args, "local", 1); ok {
		call.Local = local.truthy()
	}
	if chdir, ok := named(args, "chdir"); ok {
		call.Chdir = chdir.truthy()
	}
	s.file.Sources = append(s.file.Sources, call)
}

func (s *scanner) removal(i int) {
	args := s.arguments(i + 1)
	if envir, ok := named(args, "envir"); ok && !envir.globalEnv() {
		return
	}
	var names []string
	for _, a := range args {
		switch a.name {
		case "":
			if len(a.value) == 1 && (a.value[0].Kind == TokIdent || a.value[0].Kind == TokString) {
				names = append(names, a.value[0].Text)
			}
		case "list":
			for _, t := range a.value {
				if t.Kind == TokString {
					names = append(names, t.Text)
				}
			}
		}
	}
	if len(names) == 0 {
		return
	}
	s.file.Removals = append(s.file.Removals, Removal{Names: names, Pos: s.callStart(i)})
}

func (s *scanner) library(i int) {
	args := s.arguments(i + 1)
	pkg, ok := pick(args, "package", 0)
	if !ok || len(pkg.value) != 1 {
		return
	}
	v := pkg.value[0]
	if v.Kind != TokIdent && v.Kind != TokString {
		return
	}
	if co, ok := named(args, "character.only"); ok && co.truthy() && v.Kind == TokIdent {
		return
	}
	s.file.Libraries = append(s.file.Libraries, Library{Package: v.Text, Pos: s.callStart(i)})
}

func (s *scanner) assign(i int) {
	args := s.arguments(i + 1)
	if envir, ok := pick(args, "envir", 3); ok && !envir.globalEnv() {
		return
	}
	nameArg, ok := pick(args, "x", 0)
	if !ok {
		return
	}
	name, ok := nameArg.literal()
	if !ok {
		return
	}
	kind := DefVariable
	if value, ok := pick(args, "value", 1); ok && len(value.value) > 0 {
		if v := value.value[0]; v.isIdent("function") || v.isOp("\\") {
			kind = DefFunction
		}
	}
	s.define(name, kind, s.callStart(i), false)
}
