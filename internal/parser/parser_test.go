package parser

import (
	"testing"

	"github.com/containerd/errdefs"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

const src = `pub fn transfer(env: Env, from: Address, amount: i128) -> (i32, i64) {
    let mut var_a: i32;
    var_a = obj_cmp(from);
    'l1: loop {
        if var_a == 0 {
            break;
        } else if var_a == 1 {
            continue 'l1;
        } else {
            goto label_2;
        }
    }
label_2:
    while {
        var_a = var_a + 1;
        var_a < 10
    } {}
    match var_a {
        0 | 2 => {
            unreachable!();
        }
        _ => {}
    }
    return (var_a, 0);
}

pub fn f() {
}
`

func kinds(stmts []*Stmt) []StmtKind {
	out := make([]StmtKind, len(stmts))
	for i, s := range stmts {
		out[i] = s.Kind
	}
	return out
}

func TestParseFile(t *testing.T) {
	f, err := ParseFile(src)
	assert.NilError(t, err)
	assert.Assert(t, is.Len(f.Funcs, 2))

	fn := f.Funcs[0]
	assert.Check(t, is.Equal(fn.Name, "transfer"))
	assert.Check(t, is.DeepEqual(fn.Params, []Param{{"env", "Env"}, {"from", "Address"}, {"amount", "i128"}}))
	assert.Check(t, is.Equal(fn.Result, "(i32, i64)"))
	assert.Check(t, is.DeepEqual(kinds(fn.Body.Stmts), []StmtKind{
		LetStmt, AssignStmt, LoopStmt, LabelStmt, WhileStmt, MatchStmt, ReturnStmt,
	}))

	loop := fn.Body.Stmts[2]
	assert.Assert(t, is.Len(loop.Blocks, 1))
	chain := loop.Blocks[0].Stmts
	assert.Assert(t, is.Len(chain, 1))
	assert.Check(t, is.Equal(chain[0].Kind, IfStmt))
	assert.Check(t, is.Len(chain[0].Blocks, 3))

	while := fn.Body.Stmts[4]
	assert.Assert(t, is.Len(while.Blocks, 2))
	assert.Check(t, is.DeepEqual(kinds(while.Blocks[0].Stmts), []StmtKind{AssignStmt, ExprStmt}))
	assert.Check(t, is.Equal(f.Text(src, while.Blocks[0].Stmts[1].Start, while.Blocks[0].Stmts[1].End), "var_a < 10"))

	arms := fn.Body.Stmts[5].Blocks[0].Stmts
	assert.Check(t, is.Len(arms, 2))

	assert.Check(t, is.Equal(f.Funcs[1].Name, "f"))
	assert.Check(t, is.Equal(f.Funcs[1].Result, ""))
	assert.Check(t, is.Len(f.Funcs[1].Body.Stmts, 0))
}

func TestEnclosing(t *testing.T) {
	f, err := ParseFile(src)
	assert.NilError(t, err)
	body := f.Funcs[0].Body
	let := body.Stmts[0]
	ret := body.Stmts[6]
	assert.Check(t, f.Enclosing(let.Start) == body)
	assert.Check(t, f.SameBlock(let.Start, ret.End-1))

	inner := body.Stmts[2].Blocks[0]
	brk := inner.Stmts[0].Blocks[0].Stmts[0]
	assert.Check(t, f.Enclosing(brk.Start) == inner.Stmts[0].Blocks[0])
	assert.Check(t, !f.SameBlock(let.Start, brk.Start))
	// The closing brace of a nested block belongs to the outer one.
	assert.Check(t, f.Enclosing(inner.Close) == body)

	assert.Check(t, f.Enclosing(0) == nil, "pub is outside every block")
}

func TestParseErrors(t *testing.T) {
	for name, src := range map[string]string{
		"no fn":        "var_a = 1;",
		"unclosed":     "pub fn f() {\n    var_a = 1;\n",
		"param type":   "pub fn f(a: ) {}",
		"no result":    "pub fn f() -> {}",
		"parentheses":  "pub fn f() {\n    g(1;\n}",
		"unterminated": "pub fn f() { loop { var_a = 1",
	} {
		_, err := ParseFile(src)
		assert.Check(t, errdefs.IsInvalidArgument(err), "%s: %v", name, err)
	}
}
