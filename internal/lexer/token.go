package lexer

import "fmt"

type TokenType int

const (
	// Special
	EOF TokenType = iota
	ILLEGAL

	// Identifiers + literals
	IDENT
	INT
	FLOAT
	LIFETIME // 'l3

	// Keywords
	KW_PUB
	KW_FN
	KW_LET
	KW_MUT
	KW_AS
	KW_IF
	KW_ELSE
	KW_WHILE
	KW_LOOP
	KW_MATCH
	KW_BREAK
	KW_CONTINUE
	KW_RETURN
	KW_GOTO

	// Symbols
	LPAREN     // (
	RPAREN     // )
	LBRACE     // {
	RBRACE     // }
	LBRACK     // [
	RBRACK     // ]
	SEMI       // ;
	COMMA      // ,
	COLON      // :
	COLONCOLON // ::
	DOT        // .
	ASSIGN     // =
	ARROW      // ->
	FATARROW   // =>

	// Arithmetic
	PLUS    // +
	MINUS   // -
	STAR    // *
	SLASH   // /
	PERCENT // %

	// Shifts
	SHL // <<
	SHR // >>

	// Bitwise/logical
	AMP    // &
	ANDAND // &&
	OROR   // ||
	PIPE   // |
	CARET  // ^
	BANG   // !

	// Comparison
	EQEQ // ==
	NEQ  // !=
	LT   // <
	LE   // <=
	GT   // >
	GE   // >=
)

var keywords = map[string]TokenType{
	"pub": KW_PUB, "fn": KW_FN, "let": KW_LET, "mut": KW_MUT, "as": KW_AS,
	"if": KW_IF, "else": KW_ELSE, "while": KW_WHILE, "loop": KW_LOOP, "match": KW_MATCH,
	"break": KW_BREAK, "continue": KW_CONTINUE, "return": KW_RETURN, "goto": KW_GOTO,
}

var names = map[TokenType]string{
	EOF: "EOF", ILLEGAL: "ILLEGAL", IDENT: "IDENT", INT: "INT", FLOAT: "FLOAT", LIFETIME: "LIFETIME",
}

func (t TokenType) String() string {
	if n, ok := names[t]; ok {
		return n
	}
	for k, v := range keywords {
		if v == t {
			return k
		}
	}
	for k, v := range punct {
		if v == t {
			return k
		}
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is one lexeme. Pos and End are byte offsets into the source.
type Token struct {
	Type TokenType
	Lex  string
	Line int
	Col  int
	Pos  int
	End  int
}

func (t Token) Is(op TokenType) bool { return t.Type == op }
