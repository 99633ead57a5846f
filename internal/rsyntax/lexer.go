// Package rsyntax extracts scope-relevant facts from R source text.
//
// It is a lexical scanner, not a parser: it tokenizes the text and
// recognizes the handful of statement shapes that introduce, remove or
// import symbols. Anything it does not recognize is skipped.
package rsyntax

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"rscope/internal/textpos"
)

// TokenKind classifies a token.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokIdent
	TokString
	TokNumber
	TokOp
	TokLParen
	TokRParen
	TokLBrace
	TokRBrace
	TokLBracket
	TokRBracket
	TokComma
	TokSemicolon
	TokNewline
)

// Token is one lexical unit. For strings and backtick names Text holds
// the unquoted value.
type Token struct {
	Kind  TokenKind
	Text  string
	Start textpos.Position
	End   textpos.Position
}

func (t Token) isOp(ops ...string) bool {
	if t.Kind != TokOp {
		return false
	}
	for _, op := range ops {
		if t.Text == op {
			return true
		}
	}
	return false
}

func (t Token) isIdent(names ...string) bool {
	if t.Kind != TokIdent {
		return false
	}
	for _, n := range names {
		if t.Text == n {
			return true
		}
	}
	return false
}

// operators ordered longest first
var operators = []string{
	"<<-", "->>", ":::",
	"<-", "->", "<=", ">=", "==", "!=", "::", "|>", "||", "&&",
	"<", ">", "=", "!", "-", "+", "*", "/", "^", "~", "?", "$", "@", ":", "|", "&", "\\",
}

// Tokenize splits content into tokens. Comments are dropped; newlines are kept
// because they terminate statements.
func Tokenize(content string) []Token {
	lx := &lexer{src: content, lines: textpos.NewLineIndex(content)}
	lx.run()
	return lx.toks
}

type lexer struct {
	src   string
	pos   int
	lines *textpos.LineIndex
	toks  []Token
}

func (lx *lexer) emit(kind TokenKind, text string, start, end int) {
	lx.toks = append(lx.toks, Token{
		Kind:  kind,
		Text:  text,
		Start: lx.lines.Position(start),
		End:   lx.lines.Position(end),
	})
}

func (lx *lexer) run() {
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		start := lx.pos
		switch {
		case c == '\n':
			lx.pos++
			lx.emit(TokNewline, "\n", start, lx.pos)
		case c == ' ' || c == '\t' || c == '\r' || c == '\f':
			lx.pos++
		case c == '#':
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.pos++
			}
		case (c == 'r' || c == 'R') && lx.rawStringAhead():
			lx.rawString()
		case c == '"' || c == '\'':
			lx.quoted(c, TokString)
		case c == '`':
			lx.quoted(c, TokIdent)
		case c >= '0' && c <= '9', c == '.' && lx.digitAt(lx.pos+1):
			lx.number()
		case isIdentStart(lx.src, lx.pos):
			lx.ident()
		case c == '(':
			lx.pos++
			lx.emit(TokLParen, "(", start, lx.pos)
		case c == ')':
			lx.pos++
			lx.emit(TokRParen, ")", start, lx.pos)
		case c == '{':
			lx.pos++
			lx.emit(TokLBrace, "{", start, lx.pos)
		case c == '}':
			lx.pos++
			lx.emit(TokRBrace, "}", start, lx.pos)
		case c == '[':
			lx.pos++
			lx.emit(TokLBracket, "[", start, lx.pos)
		case c == ']':
			lx.pos++
			lx.emit(TokRBracket, "]", start, lx.pos)
		case c == ',':
			lx.pos++
			lx.emit(TokComma, ",", start, lx.pos)
		case c == ';':
			lx.pos++
			lx.emit(TokSemicolon, ";", start, lx.pos)
		case c == '%':
			lx.special()
		default:
			lx.operator()
		}
	}
	lx.emit(TokEOF, "", len(lx.src), len(lx.src))
}

func (lx *lexer) digitAt(i int) bool {
	return i < len(lx.src) && lx.src[i] >= '0' && lx.src[i] <= '9'
}

func isIdentStart(s string, i int) bool {
	switch c := s[i]; {
	case c == '.', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= utf8.RuneSelf:
		r, _ := utf8.DecodeRuneInString(s[i:])
		return unicode.IsLetter(r)
	}
	return false
}

func isIdentPart(r rune) bool {
	return r == '.' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (lx *lexer) ident() {
	start := lx.pos
	for lx.pos < len(lx.src) {
		r, size := utf8.DecodeRuneInString(lx.src[lx.pos:])
		if !isIdentPart(r) {
			break
		}
		lx.pos += size
	}
	lx.emit(TokIdent, lx.src[start:lx.pos], start, lx.pos)
}

func (lx *lexer) number() {
	start := lx.pos
	if strings.HasPrefix(lx.src[lx.pos:], "0x") || strings.HasPrefix(lx.src[lx.pos:], "0X") {
		lx.pos += 2
	}
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c >= '0' && c <= '9', c == '.', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F', c == 'L', c == 'i':
			lx.pos++
		case (c == '+' || c == '-') && (lx.src[lx.pos-1] == 'e' || lx.src[lx.pos-1] == 'E'):
			lx.pos++
		default:
			lx.emit(TokNumber, lx.src[start:lx.pos], start, lx.pos)
			return
		}
	}
	lx.emit(TokNumber, lx.src[start:lx.pos], start, lx.pos)
}

func (lx *lexer) quoted(q byte, kind TokenKind) {
	start := lx.pos
	lx.pos++
	var b strings.Builder
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		if c == '\\' && lx.pos+1 < len(lx.src) {
			next := lx.src[lx.pos+1]
			switch next {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(next)
			}
			lx.pos += 2
			continue
		}
		lx.pos++
		if c == q {
			lx.emit(kind, b.String(), start, lx.pos)
			return
		}
		b.WriteByte(c)
	}
	// unterminated: take the rest of the file
	lx.emit(kind, b.String(), start, lx.pos)
}

// rawStringAhead reports whether r"(...)" style syntax starts at pos.
func (lx *lexer) rawStringAhead() bool {
	i := lx.pos + 1
	if i >= len(lx.src) || (lx.src[i] != '"' && lx.src[i] != '\'') {
		return false
	}
	i++
	for i < len(lx.src) && lx.src[i] == '-' {
		i++
	}
	return i < len(lx.src) && strings.IndexByte("([{", lx.src[i]) >= 0
}

func (lx *lexer) rawString() {
	start := lx.pos
	quote := lx.src[lx.pos+1]
	i := lx.pos + 2
	dashes := 0
	for lx.src[i] == '-' {
		dashes++
		i++
	}
	closer := map[byte]byte{'(': ')', '[': ']', '{': '}'}[lx.src[i]]
	term := string(closer) + strings.Repeat("-", dashes) + string(quote)
	bodyStart := i + 1
	end := strings.Index(lx.src[bodyStart:], term)
	if end < 0 {
		lx.pos = len(lx.src)
		lx.emit(TokString, lx.src[bodyStart:], start, lx.pos)
		return
	}
	lx.pos = bodyStart + end + len(term)
	lx.emit(TokString, lx.src[bodyStart:bodyStart+end], start, lx.pos)
}

// special lexes %op% infix operators.
func (lx *lexer) special() {
	start := lx.pos
	end := strings.IndexAny(lx.src[start+1:], "%\n")
	if end < 0 || lx.src[start+1+end] != '%' {
		lx.pos++
		lx.emit(TokOp, "%", start, lx.pos)
		return
	}
	lx.pos = start + end + 2
	lx.emit(TokOp, lx.src[start:lx.pos], start, lx.pos)
}

func (lx *lexer) operator() {
	start := lx.pos
	rest := lx.src[start:]
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			lx.pos += len(op)
			lx.emit(TokOp, op, start, lx.pos)
			return
		}
	}
	// unknown byte or rune: skip it
	_, size := utf8.DecodeRuneInString(rest)
	lx.pos += size
}
