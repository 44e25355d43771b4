// Package irtest draws random control-flow graphs and compares runs of the
// reference interpreter, for property tests outside the ir package.
package irtest

import (
	"gotest.tools/v3/assert"
	"pgregory.net/rapid"

	"github.com/monolab825/soroban-auditor/internal/ir"
	"github.com/monolab825/soroban-auditor/internal/types"
	"github.com/monolab825/soroban-auditor/internal/wasm"
)

// NumVars is the number of i32 variables a random graph works on.
const NumVars = 4

// Fuel bounds every run so random loops terminate.
const Fuel = 300

// RandomCfg draws a function of up to maxBlocks blocks besides the entry.
// The entry only initializes the variables and never has predecessors.
func RandomCfg(t *rapid.T, maxBlocks int) *ir.Cfg {
	n := rapid.IntRange(1, maxBlocks).Draw(t, "blocks")
	c := &ir.Cfg{
		Name:    "gen",
		Params:  []types.ValType{types.I32},
		Locals:  []types.ValType{types.I32, types.I32, types.I32},
		Results: []types.ValType{types.I32},
		NumVars: NumVars,
	}
	entry := c.Blocks[c.NewBlock()]
	entry.Stmts = append(entry.Stmts, &ir.Assign{Dst: ir.NoSub(0), Src: ir.Param{Index: 0, Type: types.I32}})
	for i := 1; i < NumVars; i++ {
		entry.Stmts = append(entry.Stmts, &ir.Assign{Dst: ir.NoSub(uint32(i)), Src: ir.I32(int32(i))})
	}
	entry.Stmts = append(entry.Stmts, &ir.Branch{Target: 1})
	for i := 1; i <= n; i++ {
		b := c.Blocks[c.NewBlock()]
		k := rapid.IntRange(0, 3).Draw(t, "stmts")
		for j := 0; j < k; j++ {
			b.Stmts = append(b.Stmts, stmt(t))
		}
		b.Stmts = append(b.Stmts, terminator(t, n))
	}
	c.Prune()
	return c
}

func variable(t *rapid.T) ir.Var {
	return ir.NoSub(uint32(rapid.IntRange(0, NumVars-1).Draw(t, "var")))
}

func operand(t *rapid.T) ir.Expr {
	if rapid.IntRange(0, 3).Draw(t, "const") == 0 {
		return ir.I32(rapid.Int32Range(-2, 5).Draw(t, "k"))
	}
	return variable(t)
}

var binops = []wasm.Opcode{
	wasm.OpI32Add, wasm.OpI32Sub, wasm.OpI32Mul, wasm.OpI32Xor,
	wasm.OpI32And, wasm.OpI32LtS, wasm.OpI32Eq, wasm.OpI32RemU,
}

func address(t *rapid.T) ir.Expr {
	return ir.Binary{Op: wasm.OpI32And, X: operand(t), Y: ir.I32(0xfc)}
}

// effectful draws an operand that reads state or may trap.
func effectful(t *rapid.T) ir.Expr {
	switch rapid.IntRange(0, 2).Draw(t, "effect") {
	case 0:
		return ir.Load{Op: wasm.OpI32Load, Addr: address(t)}
	case 1:
		return ir.GlobalGet{Index: 0, Type: types.I32}
	default:
		return ir.Binary{Op: wasm.OpI32DivU, X: operand(t), Y: operand(t)}
	}
}

func stmt(t *rapid.T) ir.Stmt {
	dst := variable(t)
	switch rapid.IntRange(0, 8).Draw(t, "stmt") {
	case 0, 1:
		op := rapid.SampledFrom(binops).Draw(t, "op")
		return &ir.Assign{Dst: dst, Src: ir.Binary{Op: op, X: operand(t), Y: operand(t)}}
	case 2:
		return &ir.Store{Op: wasm.OpI32Store, Addr: address(t), Value: operand(t)}
	case 3:
		return &ir.GlobalSet{Index: 0, Value: operand(t)}
	case 4:
		return &ir.Assign{Dst: dst, Src: ir.Call{Func: 3, Args: []ir.Expr{operand(t)}, Result: types.I32}}
	case 5:
		return &ir.Assign{Dst: dst, Src: effectful(t)}
	case 6:
		// The effect sits in an operand evaluated before the variable.
		v := ir.Binary{Op: wasm.OpI32Add, X: effectful(t), Y: variable(t)}
		return &ir.Store{Op: wasm.OpI32Store, Addr: address(t), Value: v}
	case 7:
		return &ir.Store{Op: wasm.OpI32Store, Addr: ir.Binary{Op: wasm.OpI32And, X: effectful(t), Y: ir.I32(0xfc)}, Value: variable(t)}
	default:
		return &ir.Assign{Dst: dst, Src: variable(t)}
	}
}

func terminator(t *rapid.T, n int) ir.Stmt {
	target := func() int { return rapid.IntRange(1, n).Draw(t, "target") }
	switch rapid.IntRange(0, 4).Draw(t, "term") {
	case 0:
		return &ir.Branch{Target: target()}
	case 1, 2:
		cond := ir.Binary{Op: wasm.OpI32LtS, X: variable(t), Y: operand(t)}
		return &ir.CondBranch{Cond: cond, Then: target(), Else: target()}
	case 3:
		return &ir.Switch{Index: variable(t), Targets: []int{target(), target()}, Default: target()}
	default:
		return &ir.Return{Values: []ir.Expr{operand(t)}}
	}
}

// Outcome is what one run observed.
type Outcome struct {
	Results []uint64
	Trace   []string
	Err     error
}

// Run interprets c with a bounded amount of fuel.
func Run(c *ir.Cfg, arg uint64) Outcome {
	m := ir.NewMachine()
	m.Fuel = Fuel
	res, err := m.Run(c, []uint64{arg})
	return Outcome{Results: res, Trace: m.Trace, Err: err}
}

// AssertEquivalent compares two runs. When either ran out of fuel they
// only have to agree on the effects both observed.
func AssertEquivalent(t assert.TestingT, want, got Outcome) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	if want.Err == ir.ErrOutOfFuel || got.Err == ir.ErrOutOfFuel {
		n := min(len(want.Trace), len(got.Trace))
		assert.DeepEqual(t, want.Trace[:n], got.Trace[:n])
		return
	}
	assert.DeepEqual(t, want.Trace, got.Trace)
	assert.Equal(t, want.Err == nil, got.Err == nil, "want err %v, got %v", want.Err, got.Err)
	assert.DeepEqual(t, want.Results, got.Results)
}
