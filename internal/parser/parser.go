// Package parser reads rendered functions back into an outline: the
// function headers and the nesting of statements and blocks. Expressions
// are kept as token ranges.
package parser

import (
	"strings"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"

	"github.com/monolab825/soroban-auditor/internal/lexer"
)

type StmtKind int

const (
	ExprStmt StmtKind = iota
	AssignStmt
	LetStmt
	ReturnStmt
	IfStmt
	WhileStmt
	LoopStmt
	MatchStmt
	BreakStmt
	ContinueStmt
	GotoStmt
	LabelStmt
	BlockStmt
)

type File struct {
	Toks  []lexer.Token
	Funcs []*Func
}

type Func struct {
	Name   string
	Params []Param
	Result string // empty for no results
	Body   *Block
}

type Param struct {
	Name, Type string
}

// Block is a braced statement list. Open and Close index the braces in
// File.Toks.
type Block struct {
	Open, Close int
	Stmts       []*Stmt
}

// Stmt covers the tokens [Start, End) and owns the blocks nested in it,
// such as the arms of an if or the body of a loop.
type Stmt struct {
	Kind       StmtKind
	Start, End int
	Blocks     []*Block
}

type Parser struct {
	toks []lexer.Token
	pos  int
	tok  lexer.Token
}

// ParseFile parses a sequence of rendered functions.
func ParseFile(src string) (*File, error) {
	p := &Parser{toks: lexer.Tokenize(src), pos: -1}
	p.next()
	f := &File{Toks: p.toks}
	for p.tok.Type != lexer.EOF {
		fn, err := p.parseFunc()
		if err != nil {
			return nil, err
		}
		f.Funcs = append(f.Funcs, fn)
	}
	return f, nil
}

func (p *Parser) next() {
	p.pos++
	if p.pos < len(p.toks) {
		p.tok = p.toks[p.pos]
		return
	}
	p.pos = len(p.toks)
	p.tok = lexer.Token{Type: lexer.EOF}
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return errors.Wrapf(errdefs.ErrInvalidArgument, "%d:%d: %s", p.tok.Line, p.tok.Col, errors.Errorf(format, args...))
}

func (p *Parser) expect(tt lexer.TokenType) (lexer.Token, error) {
	if p.tok.Type != tt {
		return lexer.Token{}, p.errorf("expected %v, got %v", tt, p.tok.Type)
	}
	t := p.tok
	p.next()
	return t, nil
}

// parseFunc reads `pub fn name(params) [-> result] { ... }`.
func (p *Parser) parseFunc() (*Func, error) {
	if p.tok.Type == lexer.KW_PUB {
		p.next()
	}
	if _, err := p.expect(lexer.KW_FN); err != nil {
		return nil, err
	}
	name, err := p.expect(lexer.IDENT)
	if err != nil {
		return nil, err
	}
	if _, err = p.expect(lexer.LPAREN); err != nil {
		return nil, err
	}
	params, err := p.parseParams()
	if err != nil {
		return nil, err
	}
	if _, err = p.expect(lexer.RPAREN); err != nil {
		return nil, err
	}
	fn := &Func{Name: name.Lex, Params: params}
	if p.tok.Type == lexer.ARROW {
		p.next()
		fn.Result = p.typeUntil(lexer.LBRACE)
		if fn.Result == "" {
			return nil, p.errorf("missing result type")
		}
	}
	if fn.Body, err = p.parseBlock(); err != nil {
		return nil, err
	}
	return fn, nil
}

func (p *Parser) parseParams() ([]Param, error) {
	var params []Param
	for p.tok.Type != lexer.RPAREN {
		name, err := p.expect(lexer.IDENT)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.COLON); err != nil {
			return nil, err
		}
		typ := p.typeUntil(lexer.COMMA, lexer.RPAREN)
		if typ == "" {
			return nil, p.errorf("parameter %s has no type", name.Lex)
		}
		params = append(params, Param{Name: name.Lex, Type: typ})
		if p.tok.Type != lexer.COMMA {
			break
		}
		p.next()
	}
	return params, nil
}

// typeUntil collects a type up to one of stop at parenthesis depth zero.
func (p *Parser) typeUntil(stop ...lexer.TokenType) string {
	var b strings.Builder
	depth := 0
	for p.tok.Type != lexer.EOF {
		if depth == 0 && oneOf(p.tok.Type, stop) {
			break
		}
		switch p.tok.Type {
		case lexer.LPAREN:
			depth++
		case lexer.RPAREN:
			depth--
		}
		b.WriteString(p.tok.Lex)
		if p.tok.Type == lexer.COMMA {
			b.WriteByte(' ')
		}
		p.next()
	}
	return b.String()
}

func oneOf(t lexer.TokenType, set []lexer.TokenType) bool {
	for _, s := range set {
		if t == s {
			return true
		}
	}
	return false
}

func (p *Parser) parseBlock() (*Block, error) {
	open := p.pos
	if _, err := p.expect(lexer.LBRACE); err != nil {
		return nil, err
	}
	b := &Block{Open: open}
	for p.tok.Type != lexer.RBRACE && p.tok.Type != lexer.EOF {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		b.Stmts = append(b.Stmts, s)
	}
	b.Close = p.pos
	if _, err := p.expect(lexer.RBRACE); err != nil {
		return nil, err
	}
	return b, nil
}

var leading = map[lexer.TokenType]StmtKind{
	lexer.KW_LET:      LetStmt,
	lexer.KW_RETURN:   ReturnStmt,
	lexer.KW_IF:       IfStmt,
	lexer.KW_WHILE:    WhileStmt,
	lexer.KW_LOOP:     LoopStmt,
	lexer.KW_MATCH:    MatchStmt,
	lexer.KW_BREAK:    BreakStmt,
	lexer.KW_CONTINUE: ContinueStmt,
	lexer.KW_GOTO:     GotoStmt,
}

// parseStmt reads up to a top-level semicolon, or up to a block that is
// not followed by `else` or another block. A statement running into the
// closing brace of its block is a tail expression.
func (p *Parser) parseStmt() (*Stmt, error) {
	s := &Stmt{Start: p.pos}
	if p.tok.Type == lexer.IDENT && p.peek().Type == lexer.COLON {
		p.next()
		p.next()
		s.Kind, s.End = LabelStmt, p.pos
		return s, nil
	}
	first := p.tok.Type
	if first == lexer.LIFETIME && p.peek().Type == lexer.COLON {
		p.next()
		p.next()
		first = p.tok.Type
	}
	if k, ok := leading[first]; ok {
		s.Kind = k
	} else if first == lexer.LBRACE {
		s.Kind = BlockStmt
	}
	depth := 0
	for {
		switch p.tok.Type {
		case lexer.EOF:
			return nil, p.errorf("unterminated statement")
		case lexer.RBRACE:
			if depth != 0 {
				return nil, p.errorf("unbalanced parentheses")
			}
			// tail expression of the enclosing block
			s.End = p.pos
			return s, nil
		case lexer.LPAREN, lexer.LBRACK:
			depth++
		case lexer.RPAREN, lexer.RBRACK:
			depth--
		case lexer.ASSIGN:
			if depth == 0 && s.Kind == ExprStmt {
				s.Kind = AssignStmt
			}
		case lexer.SEMI:
			if depth == 0 {
				p.next()
				s.End = p.pos
				return s, nil
			}
		case lexer.LBRACE:
			b, err := p.parseBlock()
			if err != nil {
				return nil, err
			}
			s.Blocks = append(s.Blocks, b)
			if p.tok.Type != lexer.KW_ELSE && p.tok.Type != lexer.LBRACE {
				s.End = p.pos
				return s, nil
			}
			continue
		}
		p.next()
	}
}

func (p *Parser) peek() lexer.Token {
	if p.pos+1 < len(p.toks) {
		return p.toks[p.pos+1]
	}
	return lexer.Token{Type: lexer.EOF}
}

// Enclosing returns the innermost block whose braces strictly surround the
// token at index tok, or nil.
func (f *File) Enclosing(tok int) *Block {
	for _, fn := range f.Funcs {
		if b := fn.Body.enclosing(tok); b != nil {
			return b
		}
	}
	return nil
}

func (b *Block) enclosing(tok int) *Block {
	if tok <= b.Open || tok >= b.Close {
		return nil
	}
	for _, s := range b.Stmts {
		if tok < s.Start || tok >= s.End {
			continue
		}
		for _, nb := range s.Blocks {
			if in := nb.enclosing(tok); in != nil {
				return in
			}
		}
	}
	return b
}

// SameBlock reports whether the tokens first and last sit directly in the
// same block, so replacing the text between them keeps braces balanced.
func (f *File) SameBlock(first, last int) bool {
	b := f.Enclosing(first)
	return b != nil && b == f.Enclosing(last)
}

// Text is the source covered by tokens [start, end).
func (f *File) Text(src string, start, end int) string {
	if start >= end {
		return ""
	}
	return src[f.Toks[start].Pos:f.Toks[end-1].End]
}
