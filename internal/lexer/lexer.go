// Package lexer splits rendered function bodies into tokens for fuzzy
// comparison.
package lexer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// punct lists the operators, longest first within a shared prefix.
var punct = map[string]TokenType{
	"(": LPAREN, ")": RPAREN, "{": LBRACE, "}": RBRACE, "[": LBRACK, "]": RBRACK,
	";": SEMI, ",": COMMA, ":": COLON, "::": COLONCOLON, ".": DOT,
	"=": ASSIGN, "->": ARROW, "=>": FATARROW,
	"+": PLUS, "-": MINUS, "*": STAR, "/": SLASH, "%": PERCENT,
	"<<": SHL, ">>": SHR,
	"&": AMP, "&&": ANDAND, "||": OROR, "|": PIPE, "^": CARET, "!": BANG,
	"==": EQEQ, "!=": NEQ, "<": LT, "<=": LE, ">": GT, ">=": GE,
}

type Lexer struct {
	src  string
	pos  int // offset of ch
	next int // offset after ch
	ch   rune
	line int
	col  int
}

func New(src string) *Lexer {
	l := &Lexer{src: src, line: 1}
	l.read()
	return l
}

func (l *Lexer) read() {
	if l.next >= len(l.src) {
		l.pos = len(l.src)
		l.ch = 0
		return
	}
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	r, w := utf8.DecodeRuneInString(l.src[l.next:])
	l.pos, l.ch = l.next, r
	l.next += w
	l.col++
}

func (l *Lexer) peek() rune {
	if l.next >= len(l.src) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.next:])
	return r
}

func (l *Lexer) skip() {
	for {
		for unicode.IsSpace(l.ch) {
			l.read()
		}
		if l.ch == '/' && l.peek() == '/' {
			for l.ch != 0 && l.ch != '\n' {
				l.read()
			}
			continue
		}
		if l.ch == '/' && l.peek() == '*' {
			l.read()
			l.read()
			for l.ch != 0 {
				if l.ch == '*' && l.peek() == '/' {
					l.read()
					l.read()
					break
				}
				l.read()
			}
			continue
		}
		return
	}
}

func isIdent(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' }

func (l *Lexer) Next() Token {
	l.skip()
	tok := Token{Line: l.line, Col: l.col, Pos: l.pos}
	switch ch := l.ch; {
	case ch == 0:
		tok.Type = EOF
	case unicode.IsLetter(ch) || ch == '_':
		for isIdent(l.ch) {
			l.read()
		}
		tok.Lex = l.src[tok.Pos:l.pos]
		tok.Type = IDENT
		if kw, ok := keywords[tok.Lex]; ok {
			tok.Type = kw
		}
	case unicode.IsDigit(ch):
		tok.Type = INT
		for isIdent(l.ch) || (l.ch == '.' && tok.Type == INT && unicode.IsDigit(l.peek())) {
			if l.ch == '.' {
				tok.Type = FLOAT
			}
			l.read()
		}
		tok.Lex = l.src[tok.Pos:l.pos]
	case ch == '\'' && (unicode.IsLetter(l.peek()) || l.peek() == '_'):
		l.read()
		for isIdent(l.ch) {
			l.read()
		}
		tok.Type, tok.Lex = LIFETIME, l.src[tok.Pos:l.pos]
	default:
		l.read()
		op := string(ch)
		if two := op + string(l.ch); l.ch != 0 {
			if _, ok := punct[two]; ok {
				op = two
				l.read()
			}
		}
		if t, ok := punct[op]; ok {
			tok.Type = t
		} else {
			tok.Type = ILLEGAL
		}
		tok.Lex = op
	}
	tok.End = l.pos
	return tok
}

// Tokenize returns every token of src, without the trailing EOF.
func Tokenize(src string) []Token {
	l := New(src)
	var out []Token
	for {
		t := l.Next()
		if t.Type == EOF {
			return out
		}
		out = append(out, t)
	}
}

var generated = []string{"var_", "arg_", "global_", "func_", "label_"}

// Norm is the spelling used for comparison. Names the renderer numbers are
// reduced to their prefix, so one body matches another up to renaming.
func (t Token) Norm() string {
	switch t.Type {
	case IDENT:
		for _, p := range generated {
			if strings.HasPrefix(t.Lex, p) && len(t.Lex) > len(p) {
				return p
			}
		}
	case LIFETIME:
		return t.Lex[:2]
	}
	return t.Lex
}
