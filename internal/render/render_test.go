package render

import (
	"math"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/golden"
	"pgregory.net/rapid"

	"github.com/monolab825/soroban-auditor/internal/ast"
	"github.com/monolab825/soroban-auditor/internal/ir"
	"github.com/monolab825/soroban-auditor/internal/ir/irtest"
	"github.com/monolab825/soroban-auditor/internal/parser"
	"github.com/monolab825/soroban-auditor/internal/sigs"
	"github.com/monolab825/soroban-auditor/internal/structure"
	"github.com/monolab825/soroban-auditor/internal/types"
	"github.com/monolab825/soroban-auditor/internal/wasm"
)

type names map[uint32]string

func (n names) FuncName(i uint32) string { return n[i] }

var (
	v0   = ir.NoSub(0)
	a    = ir.Param{Index: 0, Type: types.I32}
	b    = ir.Param{Index: 1, Type: types.I32}
	c    = ir.Param{Index: 2, Type: types.I32}
	i32s = []types.ValType{types.I32}
)

func block(ss ...ast.Stmt) *ast.BlockStmt { return &ast.BlockStmt{Stmts: ss} }

func bin(op wasm.Opcode, x, y ir.Expr) ir.Binary { return ir.Binary{Op: op, X: x, Y: y} }

func TestPlainHeader(t *testing.T) {
	v2 := ir.NoSub(2)
	fn := &ast.Func{
		Name:    "add",
		Params:  []types.ValType{types.I32, types.I32},
		Results: i32s,
		Decls:   []ast.Decl{{Var: v2, Type: types.I32}},
		Body: block(
			&ast.AssignStmt{Dst: v2, Value: bin(wasm.OpI32Add, a, b)},
			&ast.ReturnStmt{Values: []ir.Expr{v2}},
		),
	}
	want := `pub fn add(arg_a: i32, arg_b: i32) -> i32 {
    let mut var_a: i32;
    var_a = arg_a + arg_b;
    return var_a;
}
`
	assert.Equal(t, Func(fn, Options{}), want)
}

func TestSignatureHeader(t *testing.T) {
	i64s := []types.ValType{types.I64, types.I64}
	from := ir.Param{Index: 0, Type: types.I64}
	fn := &ast.Func{
		Name:   "func_4",
		Params: i64s,
		Body: block(
			&ast.ExprStmt{X: ir.Call{Func: 3, Args: []ir.Expr{from}, Result: types.I64}},
			&ast.ReturnStmt{},
		),
	}
	sig := &sigs.FunctionInfo{
		Name:   "transfer",
		Params: []sigs.Param{{Name: "from", Type: "Address"}, {Name: "amount", Type: "i128"}},
	}
	got := Func(fn, Options{Sig: sig, Names: names{3: "require_auth"}})
	want := `pub fn transfer(env: Env, from: Address, amount: i128) {
    require_auth(from);
}
`
	assert.Equal(t, got, want)

	sig.Return = "Result<(), Error>"
	assert.Check(t, is.Contains(Func(fn, Options{Sig: sig}), "amount: i128) -> Result<(), Error> {"))

	sig.Params = sig.Params[:1]
	got = Func(fn, Options{Sig: sig})
	assert.Check(t, is.Contains(got, "pub fn func_4(arg_a: i64, arg_b: i64) {"), "a signature of the wrong arity is ignored")
	assert.Check(t, is.Contains(got, "func_3(arg_a);"))
}

func TestLoops(t *testing.T) {
	fn := &ast.Func{
		Name:    "f",
		Results: i32s,
		Decls:   []ast.Decl{{Var: v0, Type: types.I32}},
		Body: block(
			&ast.LoopStmt{Label: 1, Kind: ast.PreTest, Cond: bin(wasm.OpI32LtS, v0, ir.I32(10)), Body: block(
				&ast.AssignStmt{Dst: v0, Value: bin(wasm.OpI32Add, v0, ir.I32(1))},
				&ast.IfStmt{Cond: bin(wasm.OpI32Eq, v0, ir.I32(5)), Then: block(&ast.BreakStmt{Label: 1})},
			)},
			&ast.LoopStmt{Label: 2, Kind: ast.Infinite, Body: block(
				&ast.LoopStmt{Label: 3, Kind: ast.PostTest, Cond: bin(wasm.OpI32GtU, v0, ir.I32(3)), Body: block(
					&ast.IfStmt{Cond: ir.Unary{Op: wasm.OpI32Eqz, X: v0}, Then: block(&ast.ContinueStmt{Label: 2})},
					&ast.AssignStmt{Dst: v0, Value: bin(wasm.OpI32ShrU, v0, ir.I32(1))},
				)},
				&ast.BreakStmt{Label: 2},
			)},
			&ast.LabeledBlock{Label: 4, Body: block(
				&ast.IfStmt{Cond: v0, Then: block(&ast.BreakStmt{Label: 4})},
				&ast.TrapStmt{},
			)},
			&ast.ReturnStmt{Values: []ir.Expr{v0}},
		),
	}
	golden.Assert(t, Func(fn, Options{}), "loops.golden")

	f, err := parser.ParseFile(string(golden.Get(t, "loops.golden")))
	assert.NilError(t, err)
	assert.Assert(t, is.Len(f.Funcs, 1))
	assert.Check(t, is.Equal(f.Funcs[0].Result, "i32"))
	assert.Check(t, is.Len(f.Funcs[0].Body.Stmts, 5))
}

func TestRandomFunctionsParse(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := irtest.RandomCfg(t, 10)
		fn, _, err := structure.Structure(c, structure.DefaultPolicy())
		assert.NilError(t, err)
		code := Func(fn, Options{Names: names{3: "host"}})
		f, err := parser.ParseFile(code)
		assert.NilError(t, err, code)
		assert.Check(t, is.Len(f.Funcs, 1))
		assert.Check(t, is.Equal(f.Funcs[0].Name, "gen"))
	})
}

func TestSwitchAndGoto(t *testing.T) {
	fn := &ast.Func{
		Name:  "g",
		Decls: []ast.Decl{{Var: v0, Type: types.I32}},
		Body: block(
			&ast.SwitchStmt{
				Tag: v0,
				Cases: []ast.CaseClause{
					{Values: []int64{0, 2}, Body: block(&ast.AssignStmt{Dst: v0, Value: ir.I32(1)})},
					{Values: []int64{1}, Body: block(&ast.GotoStmt{Label: 7})},
				},
				Default: block(),
			},
			&ast.LabelStmt{Label: 7},
			&ast.ReturnStmt{},
		),
	}
	want := `pub fn g() {
    let mut var_a: i32;
    match var_a {
        0 | 2 => {
            var_a = 1;
        }
        1 => {
            goto label_7;
        }
        _ => {}
    }
label_7:
}
`
	assert.Equal(t, Func(fn, Options{}), want)
}

func TestElseIfChain(t *testing.T) {
	fn := &ast.Func{
		Name:   "h",
		Params: i32s,
		Body: block(
			&ast.IfStmt{
				Cond: bin(wasm.OpI32Eq, a, ir.I32(1)),
				Then: block(&ast.GlobalSetStmt{Index: 0, Value: ir.I32(1)}),
				Else: block(&ast.IfStmt{
					Cond: bin(wasm.OpI32Eq, a, ir.I32(2)),
					Then: block(&ast.GlobalSetStmt{Index: 0, Value: ir.I32(2)}),
					Else: block(&ast.StoreStmt{Op: wasm.OpI32Store, Addr: a, Offset: 4, Value: ir.I32(3)}),
				}),
			},
			&ast.MemoryOpStmt{Op: wasm.OpMemoryFill, Args: [3]ir.Expr{a, ir.I32(0), ir.I32(8)}},
			&ast.StoreStmt{Op: wasm.OpI64Store8, Addr: a, Value: ir.I64(-1)},
		),
	}
	want := `pub fn h(arg_a: i32) {
    if arg_a == 1 {
        global_a = 1;
    } else if arg_a == 2 {
        global_a = 2;
    } else {
        store_i32(arg_a + 4, 3);
    }
    memory_fill(arg_a, 0, 8);
    store_i64_8(arg_a, -1);
}
`
	assert.Equal(t, Func(fn, Options{}), want)
}

func TestExpressions(t *testing.T) {
	sel := ir.Select{Cond: a, X: b, Y: c}
	for _, tc := range []struct {
		e    ir.Expr
		want string
	}{
		{bin(wasm.OpI32Mul, bin(wasm.OpI32Add, a, b), c), "(arg_a + arg_b) * arg_c"},
		{bin(wasm.OpI32Sub, a, bin(wasm.OpI32Sub, b, c)), "arg_a - (arg_b - arg_c)"},
		{bin(wasm.OpI32Sub, bin(wasm.OpI32Sub, a, b), c), "arg_a - arg_b - arg_c"},
		{bin(wasm.OpI32LtS, bin(wasm.OpI32LtS, a, b), c), "(arg_a < arg_b) < arg_c"},
		{bin(wasm.OpI32DivU, a, b), "(arg_a as u32) / (arg_b as u32)"},
		{ir.Unary{Op: wasm.OpI32Eqz, X: bin(wasm.OpI32Add, a, b)}, "arg_a + arg_b == 0"},
		{ir.Unary{Op: wasm.OpI64ExtendI32U, X: a}, "arg_a as u32 as i64"},
		{ir.Unary{Op: wasm.OpI32WrapI64, X: bin(wasm.OpI64Add, a, b)}, "(arg_a + arg_b) as i32"},
		{ir.Unary{Op: wasm.OpI32Clz, X: bin(wasm.OpI32Add, a, b)}, "(arg_a + arg_b).leading_zeros()"},
		{ir.Unary{Op: wasm.OpI32Clz, X: ir.I32(-5)}, "(-5).leading_zeros()"},
		{ir.Unary{Op: wasm.OpF64Neg, X: a}, "-arg_a"},
		{ir.Unary{Op: wasm.OpF32ReinterpretI32, X: a}, "f32::from_bits(arg_a as u32)"},
		{bin(wasm.OpI32Rotl, a, ir.I32(3)), "arg_a.rotate_left(3 as u32)"},
		{ir.Load{Op: wasm.OpI32Load8U, Addr: a, Offset: 16}, "load_i32_8u(arg_a + 16)"},
		{ir.Load{Op: wasm.OpI64Load, Addr: bin(wasm.OpI32Add, a, b)}, "load_i64(arg_a + arg_b)"},
		{ir.F64(1), "1.0"},
		{ir.F64(0.5), "0.5"},
		{ir.F32(float32(math.NaN())), "f32::NAN"},
		{ir.I32(-5), "-5"},
		{sel, "if arg_a { arg_b } else { arg_c }"},
		{bin(wasm.OpI32Add, sel, a), "(if arg_a { arg_b } else { arg_c }) + arg_a"},
		{ir.Call{Func: 7, Args: []ir.Expr{a, ir.I32(1)}}, "func_7(arg_a, 1)"},
		{ir.GlobalGet{Index: 27, Type: types.I32}, "global_ab"},
		{ir.MemoryGrow{Delta: ir.I32(1)}, "memory_grow(1)"},
	} {
		p := &printer{vars: map[ir.VarKey]string{}, named: map[int]bool{}}
		assert.Check(t, is.Equal(p.expr(tc.e, precLowest), tc.want), "%s", ir.FormatExpr(tc.e))
	}
}

func TestLetters(t *testing.T) {
	for i, want := range map[int]string{0: "a", 25: "z", 26: "aa", 27: "ab", 51: "az", 52: "ba", 701: "zz", 702: "aaa"} {
		assert.Check(t, is.Equal(letters(i), want))
	}
}
