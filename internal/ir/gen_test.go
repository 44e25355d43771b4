package ir

import (
	"testing"

	"gotest.tools/v3/assert"
	"pgregory.net/rapid"

	"github.com/monolab825/soroban-auditor/internal/types"
	"github.com/monolab825/soroban-auditor/internal/wasm"
	"github.com/monolab825/soroban-auditor/internal/wasm/wasmtest"
)

const genVars = 4

// buildFunc assembles a one-function module and builds its graph.
func buildFunc(t *testing.T, params, results, locals []types.ValType, body ...[]byte) *Cfg {
	t.Helper()
	b := wasmtest.New()
	b.Global(types.I32)
	b.Memory()
	idx := b.Func("f", params, results, locals, body...)
	m, err := wasm.Decode(b.Bytes())
	assert.NilError(t, err)
	c, err := Build(m, idx, BuildOptions{})
	assert.NilError(t, err)
	assert.NilError(t, c.Validate())
	return c
}

// genCfg draws a small function over genVars i32 variables. Block 0 only
// initializes them, so the entry never has predecessors and every read has
// a reaching definition.
func genCfg(t *rapid.T) *Cfg {
	n := rapid.IntRange(1, 8).Draw(t, "blocks")
	c := &Cfg{
		Name:    "gen",
		Params:  []types.ValType{types.I32},
		Locals:  []types.ValType{types.I32, types.I32, types.I32},
		Results: []types.ValType{types.I32},
		NumVars: genVars,
	}
	entry := c.newBlock()
	entry.Stmts = append(entry.Stmts, &Assign{Dst: NoSub(0), Src: Param{Index: 0, Type: types.I32}})
	for i := 1; i < genVars; i++ {
		entry.Stmts = append(entry.Stmts, &Assign{Dst: NoSub(uint32(i)), Src: I32(int32(i))})
	}
	entry.Stmts = append(entry.Stmts, &Branch{Target: 1})
	for i := 1; i <= n; i++ {
		b := c.newBlock()
		k := rapid.IntRange(0, 4).Draw(t, "stmts")
		for j := 0; j < k; j++ {
			b.Stmts = append(b.Stmts, genStmt(t))
		}
		b.Stmts = append(b.Stmts, genTerm(t, n))
	}
	c.Prune()
	return c
}

func genVar(t *rapid.T) Var {
	return NoSub(uint32(rapid.IntRange(0, genVars-1).Draw(t, "var")))
}

func genOperand(t *rapid.T) Expr {
	if rapid.IntRange(0, 3).Draw(t, "const") == 0 {
		return I32(rapid.Int32Range(-2, 5).Draw(t, "k"))
	}
	return genVar(t)
}

func genAddr(t *rapid.T) Expr {
	return Binary{Op: wasm.OpI32And, X: genOperand(t), Y: I32(0xfc)}
}

var genBinops = []wasm.Opcode{
	wasm.OpI32Add, wasm.OpI32Sub, wasm.OpI32Mul, wasm.OpI32Xor,
	wasm.OpI32And, wasm.OpI32Shl, wasm.OpI32LtS, wasm.OpI32Eq,
}

func genStmt(t *rapid.T) Stmt {
	dst := genVar(t)
	switch rapid.IntRange(0, 9).Draw(t, "stmt") {
	case 0:
		op := rapid.SampledFrom(genBinops).Draw(t, "op")
		return &Assign{Dst: dst, Src: Binary{Op: op, X: genOperand(t), Y: genOperand(t)}}
	case 1:
		return &Assign{Dst: dst, Src: Binary{Op: wasm.OpI32DivU, X: genOperand(t), Y: genOperand(t)}}
	case 2:
		return &Assign{Dst: dst, Src: Load{Op: wasm.OpI32Load, Addr: genAddr(t)}}
	case 3:
		return &Store{Op: wasm.OpI32Store, Addr: genAddr(t), Value: genOperand(t)}
	case 4:
		return &GlobalSet{Index: 0, Value: genOperand(t)}
	case 5:
		return &Assign{Dst: dst, Src: GlobalGet{Index: 0, Type: types.I32}}
	case 6:
		return &Assign{Dst: dst, Src: Call{Func: 7, Args: []Expr{genOperand(t)}, Result: types.I32}}
	case 7:
		// store(load(a) + v, ...) reads memory before v.
		v := Binary{Op: wasm.OpI32Add, X: Load{Op: wasm.OpI32Load, Addr: genAddr(t)}, Y: genVar(t)}
		return &Store{Op: wasm.OpI32Store, Addr: genAddr(t), Value: v}
	case 8:
		addr := Binary{Op: wasm.OpI32And, X: GlobalGet{Index: 0, Type: types.I32}, Y: I32(0xfc)}
		return &Store{Op: wasm.OpI32Store, Addr: addr, Value: Binary{Op: wasm.OpI32DivU, X: genVar(t), Y: genOperand(t)}}
	default:
		return &Assign{Dst: dst, Src: genVar(t)}
	}
}

func genTerm(t *rapid.T, n int) Stmt {
	target := func() int { return rapid.IntRange(1, n).Draw(t, "target") }
	switch rapid.IntRange(0, 3).Draw(t, "term") {
	case 0:
		return &Branch{Target: target()}
	case 1:
		return &CondBranch{Cond: genVar(t), Then: target(), Else: target()}
	case 2:
		return &Switch{Index: genVar(t), Targets: []int{target(), target()}, Default: target()}
	default:
		return &Return{Values: []Expr{genOperand(t)}}
	}
}

type outcome struct {
	results []uint64
	trace   []string
	err     error
}

func execute(c *Cfg, arg uint64) outcome {
	m := NewMachine()
	m.Fuel = 200
	res, err := m.Run(c, []uint64{arg})
	return outcome{results: res, trace: m.Trace, err: err}
}

// assertEquivalent compares two runs. A run that ran out of fuel only has
// to agree with the other on the effects it got to observe.
func assertEquivalent(t assert.TestingT, want, got outcome) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	if want.err == ErrOutOfFuel || got.err == ErrOutOfFuel {
		n := min(len(want.trace), len(got.trace))
		assert.DeepEqual(t, want.trace[:n], got.trace[:n])
		return
	}
	assert.DeepEqual(t, want.trace, got.trace)
	assert.Equal(t, want.err == nil, got.err == nil, "want err %v, got %v", want.err, got.err)
	assert.DeepEqual(t, want.results, got.results)
}
