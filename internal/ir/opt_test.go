package ir

import (
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"pgregory.net/rapid"

	"github.com/monolab825/soroban-auditor/internal/types"
	"github.com/monolab825/soroban-auditor/internal/wasm"
	wt "github.com/monolab825/soroban-auditor/internal/wasm/wasmtest"
)

func optimized(t *testing.T, c *Cfg) *Cfg {
	t.Helper()
	du, err := TransformToSSA(c)
	assert.NilError(t, err)
	Optimize(c, du, DefaultOptimizeOptions())
	checkSSA(t, c, du)
	return c
}

func TestOptimizeIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := genCfg(t)
		du, err := TransformToSSA(c)
		assert.NilError(t, err)
		Optimize(c, du, DefaultOptimizeOptions())
		before := c.String()
		st := Optimize(c, du, DefaultOptimizeOptions())
		assert.Check(t, !st.Changed(), "second pass changed:\n%s\n%s", before, c)
		assert.Equal(t, c.String(), before)
	})
}

func TestPropagateIntoReturn(t *testing.T) {
	c := optimized(t, buildFunc(t, i32, i32, nil,
		wt.LocalGet(0), wt.I32Const(1), wt.Op(wasm.OpI32Add),
	))
	assert.Assert(t, is.Len(c.Blocks, 1))
	assert.Check(t, is.DeepEqual(formatBlock(c.Blocks[0]), []string{
		"return i32.add(param0, 1)",
	}))
}

func TestFoldConstants(t *testing.T) {
	c := optimized(t, buildFunc(t, none, i32, nil,
		wt.I32Const(6), wt.I32Const(7), wt.Op(wasm.OpI32Mul), wt.I32Const(2), wt.Op(wasm.OpI32Sub),
	))
	assert.Check(t, is.DeepEqual(formatBlock(c.Blocks[0]), []string{"return 40"}))
}

func TestFoldKeepsTrap(t *testing.T) {
	c := optimized(t, buildFunc(t, none, none, nil,
		wt.I32Const(1), wt.I32Const(0), wt.Op(wasm.OpI32DivU), wt.Op(wasm.OpDrop),
	))
	assert.Check(t, is.DeepEqual(formatBlock(c.Blocks[0]), []string{
		"i32.div_u(1, 0)",
		"return ",
	}))
}

func TestDeadCodeKeepsCalls(t *testing.T) {
	b := wt.New()
	imp := b.Import("env", "tick", nil, i32)
	idx := b.Func("f", none, none, nil, wt.Call(imp), wt.Op(wasm.OpDrop), wt.GlobalGet(0), wt.Op(wasm.OpDrop))
	b.Global(types.I32)
	m, err := wasm.Decode(b.Bytes())
	assert.NilError(t, err)
	c, err := Build(m, idx, BuildOptions{})
	assert.NilError(t, err)
	c = optimized(t, c)
	assert.Check(t, is.DeepEqual(formatBlock(c.Blocks[0]), []string{
		"call0()",
		"return ",
	}))
}

func TestNoSinkPastStore(t *testing.T) {
	// x = load(0); store(0, 5); return x
	c := optimized(t, buildFunc(t, none, i32, nil,
		wt.I32Const(0), wt.Mem(wasm.OpI32Load, 0),
		wt.I32Const(0), wt.I32Const(5), wt.Mem(wasm.OpI32Store, 0),
	))
	lines := formatBlock(c.Blocks[0])
	assert.Assert(t, is.Len(lines, 3))
	assert.Check(t, is.Contains(lines[0], "= i32.load(0+0)"))
	assert.Check(t, is.Equal(lines[1], "i32.store(0+0, 5)"))
}

func TestSinkLoadIntoAdjacentUse(t *testing.T) {
	c := optimized(t, buildFunc(t, i32, none, nil,
		wt.I32Const(0), wt.LocalGet(0), wt.Mem(wasm.OpI32Load, 4), wt.Mem(wasm.OpI32Store, 8),
	))
	assert.Check(t, is.DeepEqual(formatBlock(c.Blocks[0]), []string{
		"i32.store(0+8, i32.load(param0+4))",
		"return ",
	}))
}

func TestTrivialPhiCollapses(t *testing.T) {
	// The loop stores the local back into itself, so its phi only ever
	// sees the initial value.
	c := optimized(t, buildFunc(t, i32, i32, nil,
		wt.Loop(types.Void),
		wt.LocalGet(0), wt.LocalSet(0),
		wt.GlobalGet(0), wt.BrIf(0),
		wt.End(),
		wt.LocalGet(0),
	))
	for _, b := range c.Blocks {
		assert.Check(t, is.Len(b.Phis(), 0), "b%d", b.ID)
	}
}

func TestStmtEffectBefore(t *testing.T) {
	v := NoSub(1).WithSub(1)
	s := &Store{
		Op:    wasm.OpI32Store,
		Addr:  Load{Op: wasm.OpI32Load, Addr: I32(0)},
		Value: v,
	}
	assert.Check(t, is.Equal(stmtEffectBefore(s, v), EffectTrap))
	s.Addr = GlobalGet{Index: 0, Type: types.I32}
	assert.Check(t, is.Equal(stmtEffectBefore(s, v), EffectRead))
	call := &ExprStmt{X: Call{Func: 1, Args: []Expr{v, Call{Func: 2}}}}
	assert.Check(t, is.Equal(stmtEffectBefore(call, v), EffectNone))
	nested := &Store{
		Op:    wasm.OpI32Store,
		Addr:  I32(0),
		Value: Binary{Op: wasm.OpI32Add, X: GlobalGet{Index: 0, Type: types.I32}, Y: Binary{Op: wasm.OpI32Sub, X: v, Y: Load{Op: wasm.OpI32Load, Addr: I32(4)}}},
	}
	assert.Check(t, is.Equal(stmtEffectBefore(nested, v), EffectRead))
}

func TestNoSinkPastTrappingOperand(t *testing.T) {
	// x = a / b; store(load(0), x): sinking x would run the load first.
	x := NoSub(1).WithSub(1)
	c := &Cfg{NumVars: 2}
	b := c.newBlock()
	def := &Assign{Dst: x, Src: Binary{Op: wasm.OpI32DivU, X: I32(1), Y: NoSub(0).WithSub(1)}}
	use := &Store{Op: wasm.OpI32Store, Addr: Load{Op: wasm.OpI32Load, Addr: I32(0)}, Value: x}
	b.Stmts = []Stmt{def, use}
	eff := EffectOf(def.Src)
	assert.Check(t, is.Equal(eff, EffectTrap))
	assert.Check(t, !canSink(c, Site{b.ID, def}, Site{b.ID, use}, x, eff))

	use.Addr = I32(0)
	assert.Check(t, canSink(c, Site{b.ID, def}, Site{b.ID, use}, x, eff))

	read := &Assign{Dst: x, Src: GlobalGet{Index: 0, Type: types.I32}}
	use.Addr = Call{Func: 2, Result: types.I32}
	b.Stmts = []Stmt{read, use}
	assert.Check(t, !canSink(c, Site{b.ID, read}, Site{b.ID, use}, x, EffectRead))
}

func formatBlock(b *BasicBlock) []string {
	out := make([]string, len(b.Stmts))
	for i, s := range b.Stmts {
		out[i] = FormatStmt(s)
	}
	return out
}
