package ir

import (
	"testing"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"pgregory.net/rapid"

	"github.com/monolab825/soroban-auditor/internal/types"
	"github.com/monolab825/soroban-auditor/internal/wasm"
	wt "github.com/monolab825/soroban-auditor/internal/wasm/wasmtest"
)

// checkSSA asserts that every version is assigned once and that each read
// is dominated by its definition.
func checkSSA(t assert.TestingT, c *Cfg, du *DefUseMap) {
	assert.NilError(t, c.Validate())
	dom := Dominators(c)
	for _, b := range c.Blocks {
		for i, s := range b.Stmts {
			if a, ok := s.(*Assign); ok {
				if phi, ok := a.Src.(Phi); ok {
					for k, arg := range phi.Args {
						def, ok := du.Def(arg)
						assert.Assert(t, ok, "%s undefined", arg)
						assert.Assert(t, dom.Dominates(def.Block, b.Preds[k]), "%s in b%d", arg, b.ID)
					}
					continue
				}
			}
			for _, u := range Uses(s) {
				assert.Assert(t, u.Subscript != 0, "%s not renamed in b%d", u, b.ID)
				def, ok := du.Def(u)
				assert.Assert(t, ok, "%s undefined", u)
				if def.Block != b.ID {
					assert.Assert(t, dom.StrictlyDominates(def.Block, b.ID), "%s in b%d", u, b.ID)
					continue
				}
				before := false
				for _, x := range b.Stmts[:i] {
					if x == def.Stmt {
						before = true
					}
				}
				assert.Assert(t, before, "%s read before its definition in b%d", u, b.ID)
			}
		}
	}
}

func TestSSAProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := genCfg(t)
		du, err := TransformToSSA(c)
		assert.NilError(t, err)
		assert.Assert(t, c.SSA)
		checkSSA(t, c, du)
	})
}

func TestSSARoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := genCfg(t)
		arg := uint64(rapid.Uint32().Draw(t, "arg"))
		want := execute(c.Clone(), arg)

		du, err := TransformToSSA(c)
		assert.NilError(t, err)
		assertEquivalent(t, want, execute(c.Clone(), arg))

		Optimize(c, du, DefaultOptimizeOptions())
		checkSSA(t, c, du)
		assertEquivalent(t, want, execute(c.Clone(), arg))

		assert.NilError(t, TransformOutOfSSA(c))
		assert.NilError(t, c.Validate())
		for _, b := range c.Blocks {
			assert.Check(t, is.Len(b.Phis(), 0))
		}
		assertEquivalent(t, want, execute(c, arg))
	})
}

func TestSSAAlreadyConverted(t *testing.T) {
	c := twoEntryCycle()
	_, err := TransformToSSA(c)
	assert.NilError(t, err)
	_, err = TransformToSSA(c)
	assert.Check(t, errors.Is(err, ErrInvariant))
}

func TestPrunedPhiPlacement(t *testing.T) {
	// The local is reassigned in both arms but never read afterwards, so
	// the join needs no phi.
	c := buildFunc(t, i32, i32, []types.ValType{types.I32},
		wt.LocalGet(0), wt.If(types.Void),
		wt.I32Const(1), wt.LocalSet(1),
		wt.Else(),
		wt.I32Const(2), wt.LocalSet(1),
		wt.End(),
		wt.LocalGet(0),
	)
	_, err := TransformToSSA(c)
	assert.NilError(t, err)
	for _, b := range c.Blocks {
		assert.Check(t, is.Len(b.Phis(), 0), "b%d", b.ID)
	}
}

func TestLoopPhi(t *testing.T) {
	// sum = 0; do { sum += n; n-- } while (n); return sum
	c := buildFunc(t, i32, i32, []types.ValType{types.I32},
		wt.Loop(types.Void),
		wt.LocalGet(1), wt.LocalGet(0), wt.Op(wasm.OpI32Add), wt.LocalSet(1),
		wt.LocalGet(0), wt.I32Const(1), wt.Op(wasm.OpI32Sub), wt.LocalTee(0),
		wt.BrIf(0),
		wt.End(),
		wt.LocalGet(1),
	)
	du, err := TransformToSSA(c)
	assert.NilError(t, err)
	checkSSA(t, c, du)
	li := FindLoops(c, Dominators(c))
	assert.Assert(t, is.Len(li.Loops, 1))
	header := c.Blocks[li.Loops[0].Header]
	assert.Check(t, is.Len(header.Phis(), 2))

	Optimize(c, du, DefaultOptimizeOptions())
	assert.NilError(t, TransformOutOfSSA(c))
	res, err := NewMachine().Run(c, []uint64{4})
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(res, []uint64{10}))
}

func TestSequentializeSwap(t *testing.T) {
	c := &Cfg{NumVars: 2}
	a, b := NoSub(0).WithSub(1), NoSub(1).WithSub(1)
	seq := sequentialize(c, []parallelCopy{{dst: a, src: b}, {dst: b, src: a}})
	assert.Assert(t, is.Len(seq, 3))
	assert.Check(t, is.Equal(c.NumVars, uint32(3)))

	m := NewMachine()
	m.Start(nil)
	m.SetVar(a, 1)
	m.SetVar(b, 2)
	for _, s := range seq {
		assert.NilError(t, m.Exec(s))
	}
	x, _ := m.GetVar(a)
	y, _ := m.GetVar(b)
	assert.Check(t, is.Equal(x, uint64(2)))
	assert.Check(t, is.Equal(y, uint64(1)))
}

func TestSequentializeChain(t *testing.T) {
	c := &Cfg{NumVars: 3}
	x, y, z := NoSub(0), NoSub(1), NoSub(2)
	// y := x and z := y at once: z must read y first.
	seq := sequentialize(c, []parallelCopy{{dst: y, src: x}, {dst: z, src: y}, {dst: x, src: x}})
	assert.Assert(t, is.Len(seq, 2))
	assert.Check(t, is.Equal(seq[0].(*Assign).Dst, z))
	assert.Check(t, is.Equal(c.NumVars, uint32(3)))
}
