package structure

import (
	"fmt"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"pgregory.net/rapid"

	"github.com/monolab825/soroban-auditor/internal/ast"
	"github.com/monolab825/soroban-auditor/internal/ir"
	"github.com/monolab825/soroban-auditor/internal/ir/irtest"
	"github.com/monolab825/soroban-auditor/internal/types"
	"github.com/monolab825/soroban-auditor/internal/wasm"
	wt "github.com/monolab825/soroban-auditor/internal/wasm/wasmtest"
)

var (
	i32  = []types.ValType{types.I32}
	none []types.ValType
)

// lower runs a one-function module through every stage up to structuring.
func lower(t *testing.T, params, results []types.ValType, body ...[]byte) (*ir.Cfg, *ast.Func, Stats) {
	t.Helper()
	b := wt.New()
	b.Global(types.I32)
	b.Memory()
	idx := b.Func("f", params, results, nil, body...)
	m, err := wasm.Decode(b.Bytes())
	assert.NilError(t, err)
	c, err := ir.Build(m, idx, ir.BuildOptions{})
	assert.NilError(t, err)
	du, err := ir.TransformToSSA(c)
	assert.NilError(t, err)
	ir.Optimize(c, du, ir.DefaultOptimizeOptions())
	assert.NilError(t, ir.TransformOutOfSSA(c))
	ref := c.Clone()
	fn, st, err := Structure(c, DefaultPolicy())
	assert.NilError(t, err)
	return ref, fn, st
}

func kinds(stmts []ast.Stmt) []string {
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = fmt.Sprintf("%T", s)
	}
	return out
}

// jumps counts the raw control transfers left in the tree.
func jumps(fn *ast.Func) map[string]int {
	n := map[string]int{}
	ast.Inspect(fn.Body, func(s ast.Stmt) bool {
		switch s.(type) {
		case *ast.BreakStmt, *ast.ContinueStmt, *ast.GotoStmt, *ast.LabelStmt, *ast.LabeledBlock:
			n[fmt.Sprintf("%T", s)]++
		}
		return true
	})
	return n
}

func TestStructureDiamond(t *testing.T) {
	ref, fn, st := lower(t, i32, none,
		wt.LocalGet(0), wt.If(types.Void),
		wt.I32Const(1), wt.GlobalSet(0),
		wt.Else(),
		wt.I32Const(2), wt.GlobalSet(0),
		wt.End(),
		wt.I32Const(3), wt.GlobalSet(0),
	)
	assert.Check(t, is.Equal(st.Gotos, 0))
	assert.Check(t, is.DeepEqual(kinds(fn.Body.Stmts), []string{
		"*ast.IfStmt", "*ast.GlobalSetStmt", "*ast.ReturnStmt",
	}))
	cond := fn.Body.Stmts[0].(*ast.IfStmt)
	assert.Assert(t, cond.Else != nil)
	assert.Check(t, is.DeepEqual(kinds(cond.Then.Stmts), []string{"*ast.GlobalSetStmt"}))
	assert.Check(t, is.DeepEqual(kinds(cond.Else.Stmts), []string{"*ast.GlobalSetStmt"}))
	assert.Check(t, is.Equal(cond.Then.Stmts[0].(*ast.GlobalSetStmt).Value, ir.Expr(ir.I32(1))))
	assert.Check(t, is.Len(jumps(fn), 0))

	for _, arg := range []uint64{0, 1} {
		irtest.AssertEquivalent(t, irtest.Run(ref.Clone(), arg), runTree(fn, arg))
	}
}

func TestStructureWhileLoop(t *testing.T) {
	// while (n != 0) { n--; g = 5 } return n
	ref, fn, st := lower(t, i32, i32,
		wt.Block(types.Void), wt.Loop(types.Void),
		wt.LocalGet(0), wt.Op(wasm.OpI32Eqz), wt.BrIf(1),
		wt.LocalGet(0), wt.I32Const(1), wt.Op(wasm.OpI32Sub), wt.LocalSet(0),
		wt.I32Const(5), wt.GlobalSet(0),
		wt.Br(0),
		wt.End(), wt.End(),
		wt.LocalGet(0),
	)
	assert.Check(t, is.Equal(st.Loops, 1))
	assert.Check(t, is.Equal(st.PreTest, 1))
	assert.Check(t, is.Len(jumps(fn), 0))

	var loop *ast.LoopStmt
	ast.Inspect(fn.Body, func(s ast.Stmt) bool {
		if l, ok := s.(*ast.LoopStmt); ok {
			loop = l
		}
		return true
	})
	assert.Assert(t, loop != nil)
	assert.Check(t, is.Equal(loop.Kind, ast.PreTest))
	assert.Check(t, loop.Cond != nil)

	for _, arg := range []uint64{0, 3} {
		got := runTree(fn, arg)
		irtest.AssertEquivalent(t, irtest.Run(ref.Clone(), arg), got)
		assert.Check(t, is.DeepEqual(got.Results, []uint64{0}))
		assert.Check(t, is.Len(got.Trace, int(arg)))
	}
}

func TestStructureDoWhile(t *testing.T) {
	// do { g-- } while (g != 0)
	ref, fn, st := lower(t, none, none,
		wt.Loop(types.Void),
		wt.GlobalGet(0), wt.I32Const(1), wt.Op(wasm.OpI32Sub), wt.GlobalSet(0),
		wt.GlobalGet(0), wt.BrIf(0),
		wt.End(),
	)
	assert.Check(t, is.Equal(st.PostTest, 1))
	assert.Check(t, is.Len(jumps(fn), 0))
	irtest.AssertEquivalent(t, irtest.Run(ref.Clone(), 0), runTree(fn, 0))
}

func TestStructureSwitch(t *testing.T) {
	ref, fn, st := lower(t, i32, i32,
		wt.Block(types.Void), wt.Block(types.Void), wt.Block(types.Void),
		wt.LocalGet(0), wt.BrTable(2, 0, 1, 0),
		wt.End(),
		wt.I32Const(100), wt.Op(wasm.OpReturn),
		wt.End(),
		wt.I32Const(200), wt.Op(wasm.OpReturn),
		wt.End(),
		wt.I32Const(300),
	)
	assert.Check(t, is.Equal(st.Gotos, 0))
	var sw *ast.SwitchStmt
	ast.Inspect(fn.Body, func(s ast.Stmt) bool {
		if x, ok := s.(*ast.SwitchStmt); ok {
			sw = x
		}
		return true
	})
	assert.Assert(t, sw != nil)
	assert.Assert(t, is.Len(sw.Cases, 2))
	assert.Check(t, is.DeepEqual(sw.Cases[0].Values, []int64{0, 2}))
	assert.Check(t, is.DeepEqual(sw.Cases[1].Values, []int64{1}))
	for _, arg := range []uint64{0, 1, 2, 3, 7} {
		irtest.AssertEquivalent(t, irtest.Run(ref.Clone(), arg), runTree(fn, arg))
	}
}

// twoEntryCycle returns a graph whose cycle b1 <-> b2 is entered from the
// entry through both blocks.
func twoEntryCycle() *ir.Cfg {
	c := &ir.Cfg{
		Name:    "irreducible",
		Params:  []types.ValType{types.I32},
		Results: []types.ValType{types.I32},
		NumVars: 1,
	}
	v := ir.NoSub(0)
	lt := func(k int32) ir.Expr { return ir.Binary{Op: wasm.OpI32LtS, X: v, Y: ir.I32(k)} }
	inc := &ir.Assign{Dst: v, Src: ir.Binary{Op: wasm.OpI32Add, X: v, Y: ir.I32(1)}}
	for i := 0; i < 4; i++ {
		c.NewBlock()
	}
	c.Blocks[0].Stmts = []ir.Stmt{
		&ir.Assign{Dst: v, Src: ir.Param{Index: 0, Type: types.I32}},
		&ir.CondBranch{Cond: lt(2), Then: 1, Else: 2},
	}
	c.Blocks[1].Stmts = []ir.Stmt{
		&ir.GlobalSet{Index: 0, Value: v},
		inc,
		&ir.CondBranch{Cond: lt(5), Then: 2, Else: 3},
	}
	c.Blocks[2].Stmts = []ir.Stmt{
		&ir.GlobalSet{Index: 1, Value: v},
		ir.CloneStmt(inc),
		&ir.CondBranch{Cond: lt(5), Then: 1, Else: 3},
	}
	c.Blocks[3].Stmts = []ir.Stmt{&ir.Return{Values: []ir.Expr{v}}}
	c.RecomputeEdges()
	return c
}

func TestStructureIrreducible(t *testing.T) {
	for _, split := range []bool{false, true} {
		t.Run(fmt.Sprintf("split=%v", split), func(t *testing.T) {
			c := twoEntryCycle()
			ref := c.Clone()
			fn, st, err := Structure(c, Policy{SplitIrreducible: split, MaxSplitBlocks: 4})
			assert.NilError(t, err)
			if split {
				assert.Check(t, is.Equal(st.Splits, 1))
				assert.Check(t, is.Equal(st.Gotos, 0))
			} else {
				assert.Check(t, st.Gotos > 0)
			}
			for _, arg := range []uint64{0, 1, 3, 4, 9} {
				irtest.AssertEquivalent(t, irtest.Run(ref.Clone(), arg), runTree(fn, arg))
			}
		})
	}
}

func TestStructureRejectsSSA(t *testing.T) {
	c := twoEntryCycle()
	_, err := ir.TransformToSSA(c)
	assert.NilError(t, err)
	_, _, err = Structure(c, DefaultPolicy())
	assert.Check(t, is.ErrorIs(err, ir.ErrInvariant))
}

func TestStructureRejectsUntypedVariable(t *testing.T) {
	// v0 is neither a parameter nor a local and is never assigned.
	c := &ir.Cfg{Name: "untyped", Results: []types.ValType{types.I32}, NumVars: 1}
	c.NewBlock()
	c.Blocks[0].Stmts = []ir.Stmt{&ir.Return{Values: []ir.Expr{ir.NoSub(0)}}}
	c.RecomputeEdges()
	_, _, err := Structure(c, DefaultPolicy())
	assert.Check(t, is.ErrorIs(err, ir.ErrInvariant))
	assert.Check(t, is.ErrorContains(err, "has no type"))
}

// checkLabels asserts that gotos and labels pair up and that every break
// and continue names an enclosing construct.
func checkLabels(t assert.TestingT, fn *ast.Func) {
	labels := map[int]bool{}
	ast.Inspect(fn.Body, func(s ast.Stmt) bool {
		if l, ok := s.(*ast.LabelStmt); ok {
			labels[l.Label] = true
		}
		return true
	})
	var walk func(s ast.Stmt, blocks, loops map[int]bool)
	walk = func(s ast.Stmt, blocks, loops map[int]bool) {
		switch s := s.(type) {
		case *ast.GotoStmt:
			assert.Check(t, labels[s.Label], "goto L%d has no label", s.Label)
		case *ast.BreakStmt:
			assert.Check(t, blocks[s.Label] || loops[s.Label], "break L%d outside its construct", s.Label)
		case *ast.ContinueStmt:
			assert.Check(t, loops[s.Label], "continue L%d outside its loop", s.Label)
		case *ast.LabeledBlock:
			blocks = with(blocks, s.Label)
		case *ast.LoopStmt:
			loops = with(loops, s.Label)
		}
		for _, c := range ast.Children(s) {
			walk(c, blocks, loops)
		}
	}
	walk(fn.Body, map[int]bool{}, map[int]bool{})
}

func with(m map[int]bool, k int) map[int]bool {
	out := map[int]bool{k: true}
	for x := range m {
		out[x] = true
	}
	return out
}

func TestStructureRandomGraphs(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := irtest.RandomCfg(t, 10)
		ref := c.Clone()
		p := Policy{
			SplitIrreducible: rapid.Bool().Draw(t, "split"),
			MaxSplitBlocks:   rapid.IntRange(0, 8).Draw(t, "budget"),
		}
		fn, _, err := Structure(c, p)
		assert.NilError(t, err)
		checkLabels(t, fn)
		arg := uint64(rapid.Uint32Range(0, 8).Draw(t, "arg"))
		irtest.AssertEquivalent(t, irtest.Run(ref, arg), runTree(fn, arg))
	})
}

func TestStructureRandomPipeline(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := irtest.RandomCfg(t, 8)
		arg := uint64(rapid.Uint32Range(0, 8).Draw(t, "arg"))
		want := irtest.Run(c.Clone(), arg)

		du, err := ir.TransformToSSA(c)
		assert.NilError(t, err)
		ir.Optimize(c, du, ir.DefaultOptimizeOptions())
		assert.NilError(t, ir.TransformOutOfSSA(c))
		fn, _, err := Structure(c, DefaultPolicy())
		assert.NilError(t, err)
		checkLabels(t, fn)
		irtest.AssertEquivalent(t, want, runTree(fn, arg))
	})
}

func TestCleanupIsStable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := irtest.RandomCfg(t, 8)
		fn, _, err := Structure(c, DefaultPolicy())
		assert.NilError(t, err)
		before := fmt.Sprint(kindsDeep(fn.Body))
		cleanup(fn.Body)
		assert.Equal(t, fmt.Sprint(kindsDeep(fn.Body)), before)
	})
}

func kindsDeep(s ast.Stmt) []string {
	var out []string
	ast.Inspect(s, func(x ast.Stmt) bool {
		out = append(out, fmt.Sprintf("%T", x))
		return true
	})
	return out
}
