package lexer

import (
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestTokenize(t *testing.T) {
	src := "'l2: loop {\n    var_a = (var_a as u32) >> 1; // shift\n    if x != 0.5 { break 'l2; }\n}"
	var got []string
	for _, tok := range Tokenize(src) {
		got = append(got, tok.Lex)
		assert.Check(t, is.Equal(src[tok.Pos:tok.End], tok.Lex), "offsets of %q", tok.Lex)
	}
	want := []string{
		"'l2", ":", "loop", "{",
		"var_a", "=", "(", "var_a", "as", "u32", ")", ">>", "1", ";",
		"if", "x", "!=", "0.5", "{", "break", "'l2", ";", "}",
		"}",
	}
	assert.Check(t, is.DeepEqual(got, want))
}

func TestTokenTypes(t *testing.T) {
	toks := Tokenize("match x { 0 | 2 => {} } a::b -> c && d || !e <= 1.0 /* c */ %")
	var types []TokenType
	for _, tok := range toks {
		types = append(types, tok.Type)
	}
	assert.Check(t, is.DeepEqual(types, []TokenType{
		KW_MATCH, IDENT, LBRACE, INT, PIPE, INT, FATARROW, LBRACE, RBRACE, RBRACE,
		IDENT, COLONCOLON, IDENT, ARROW, IDENT, ANDAND, IDENT, OROR, BANG, IDENT, LE, FLOAT, PERCENT,
	}))
}

func TestPositions(t *testing.T) {
	toks := Tokenize("a\n  bb\n\tc")
	assert.Assert(t, is.Len(toks, 3))
	assert.Check(t, is.Equal(toks[0].Line, 1))
	assert.Check(t, is.Equal(toks[0].Col, 1))
	assert.Check(t, is.Equal(toks[1].Line, 2))
	assert.Check(t, is.Equal(toks[1].Col, 3))
	assert.Check(t, is.Equal(toks[2].Line, 3))
	assert.Check(t, is.Equal(toks[2].Col, 2))
}

func TestNorm(t *testing.T) {
	for lex, want := range map[string]string{
		"var_ab":     "var_",
		"arg_c":      "arg_",
		"global_a":   "global_",
		"func_12":    "func_",
		"label_3":    "label_",
		"'l7":        "'l",
		"'b12":       "'b",
		"var_":       "var_",
		"load_i32":   "load_i32",
		"obj_to_u64": "obj_to_u64",
	} {
		toks := Tokenize(lex)
		assert.Assert(t, is.Len(toks, 1))
		assert.Check(t, is.Equal(toks[0].Norm(), want), lex)
	}
}

func TestIllegal(t *testing.T) {
	toks := Tokenize("a @ b")
	assert.Assert(t, is.Len(toks, 3))
	assert.Check(t, toks[1].Is(ILLEGAL))
	assert.Check(t, is.Equal(toks[1].Type.String(), "ILLEGAL"))
	assert.Check(t, is.Equal(KW_WHILE.String(), "while"))
	assert.Check(t, is.Equal(SHR.String(), ">>"))
}
