package ir

import (
	"fmt"
	"math"
	"strings"

	"github.com/monolab825/soroban-auditor/internal/types"
	"github.com/monolab825/soroban-auditor/internal/wasm"
)

// Expr is an immutable expression tree. Rewrites build new trees.
type Expr interface{ isExpr() }

type Const struct {
	Type types.ValType
	Bits uint64
}

// Param reads the i-th incoming argument. It only appears as the source of the
// parameter definitions at function entry (and wherever propagation moves it).
type Param struct {
	Index uint32
	Type  types.ValType
}

type Unary struct {
	Op wasm.Opcode
	X  Expr
}

type Binary struct {
	Op   wasm.Opcode
	X, Y Expr
}

// Select yields X when Cond is non-zero, Y otherwise. Both operands are
// evaluated.
type Select struct {
	Cond, X, Y Expr
}

type Load struct {
	Op     wasm.Opcode
	Addr   Expr
	Offset uint32
}

type GlobalGet struct {
	Index uint32
	Type  types.ValType
}

type MemorySize struct{}

type MemoryGrow struct{ Delta Expr }

type Call struct {
	Func   uint32
	Args   []Expr
	Result types.ValType // types.Void for calls without a result
}

type CallIndirect struct {
	TypeIdx uint32
	Callee  Expr
	Args    []Expr
	Result  types.ValType
}

// Phi selects Args[i] when control arrives from the i-th predecessor.
type Phi struct{ Args []Var }

func (Const) isExpr()        {}
func (Var) isExpr()          {}
func (Param) isExpr()        {}
func (Unary) isExpr()        {}
func (Binary) isExpr()       {}
func (Select) isExpr()       {}
func (Load) isExpr()         {}
func (GlobalGet) isExpr()    {}
func (MemorySize) isExpr()   {}
func (MemoryGrow) isExpr()   {}
func (Call) isExpr()         {}
func (CallIndirect) isExpr() {}
func (Phi) isExpr()          {}

func I32(v int32) Const   { return Const{Type: types.I32, Bits: uint64(uint32(v))} }
func I64(v int64) Const   { return Const{Type: types.I64, Bits: uint64(v)} }
func F32(v float32) Const { return Const{Type: types.F32, Bits: uint64(math.Float32bits(v))} }
func F64(v float64) Const { return Const{Type: types.F64, Bits: math.Float64bits(v)} }

// Zero returns the zero constant of t.
func Zero(t types.ValType) Const { return Const{Type: t} }

// Effect orders what evaluating an expression may do.
type Effect uint8

const (
	EffectNone  Effect = iota // pure
	EffectRead                // reads mutable state
	EffectTrap                // may trap
	EffectWrite               // changes state
)

// EffectOf returns the strongest effect of any node in e.
func EffectOf(e Expr) Effect {
	var eff Effect
	walk(e, func(x Expr) {
		var k Effect
		switch x := x.(type) {
		case GlobalGet, MemorySize:
			k = EffectRead
		case Load:
			k = EffectTrap
		case Unary:
			if info, ok := x.Op.Info(); ok && info.Traps {
				k = EffectTrap
			}
		case Binary:
			if info, ok := x.Op.Info(); ok && info.Traps {
				k = EffectTrap
			}
		case Call, CallIndirect, MemoryGrow:
			k = EffectWrite
		}
		if k > eff {
			eff = k
		}
	})
	return eff
}

// children returns the direct operands of e in evaluation order.
func children(e Expr) []Expr {
	switch e := e.(type) {
	case Unary:
		return []Expr{e.X}
	case Binary:
		return []Expr{e.X, e.Y}
	case Select:
		return []Expr{e.X, e.Y, e.Cond}
	case Load:
		return []Expr{e.Addr}
	case MemoryGrow:
		return []Expr{e.Delta}
	case Call:
		return e.Args
	case CallIndirect:
		return append(append([]Expr(nil), e.Args...), e.Callee)
	case Phi:
		out := make([]Expr, len(e.Args))
		for i, a := range e.Args {
			out[i] = a
		}
		return out
	}
	return nil
}

func walk(e Expr, f func(Expr)) {
	if e == nil {
		return
	}
	f(e)
	for _, c := range children(e) {
		walk(c, f)
	}
}

// VarsOf returns every variable read by e, in evaluation order, with
// repetitions.
func VarsOf(e Expr) []Var {
	var out []Var
	walk(e, func(x Expr) {
		if v, ok := x.(Var); ok {
			out = append(out, v)
		}
	})
	return out
}

// MapVars rebuilds e with every variable read replaced by f(v).
func MapVars(e Expr, f func(Var) Expr) Expr {
	switch x := e.(type) {
	case Var:
		return f(x)
	case Unary:
		return Unary{Op: x.Op, X: MapVars(x.X, f)}
	case Binary:
		return Binary{Op: x.Op, X: MapVars(x.X, f), Y: MapVars(x.Y, f)}
	case Select:
		return Select{Cond: MapVars(x.Cond, f), X: MapVars(x.X, f), Y: MapVars(x.Y, f)}
	case Load:
		return Load{Op: x.Op, Addr: MapVars(x.Addr, f), Offset: x.Offset}
	case MemoryGrow:
		return MemoryGrow{Delta: MapVars(x.Delta, f)}
	case Call:
		return Call{Func: x.Func, Args: mapList(x.Args, f), Result: x.Result}
	case CallIndirect:
		return CallIndirect{TypeIdx: x.TypeIdx, Callee: MapVars(x.Callee, f), Args: mapList(x.Args, f), Result: x.Result}
	case Phi:
		args := make([]Var, len(x.Args))
		for i, a := range x.Args {
			r, ok := f(a).(Var)
			if !ok {
				panic("phi operand replaced by a non-variable")
			}
			args[i] = r
		}
		return Phi{Args: args}
	}
	return e
}

func mapList(es []Expr, f func(Var) Expr) []Expr {
	out := make([]Expr, len(es))
	for i, e := range es {
		out[i] = MapVars(e, f)
	}
	return out
}

// Substitute replaces reads of v in e with with.
func Substitute(e Expr, v Var, with Expr) Expr {
	return MapVars(e, func(u Var) Expr {
		if sameVar(u, v) {
			return with
		}
		return u
	})
}

func sameVar(a, b Var) bool { return a.Index == b.Index && a.Subscript == b.Subscript }

// TypeOf computes the value type of e. varType resolves variables.
func TypeOf(e Expr, varType func(Var) types.ValType) types.ValType {
	switch x := e.(type) {
	case Const:
		return x.Type
	case Var:
		return varType(x)
	case Param:
		return x.Type
	case Unary:
		if info, ok := x.Op.Info(); ok {
			return info.Out
		}
	case Binary:
		if info, ok := x.Op.Info(); ok {
			return info.Out
		}
	case Select:
		if t := TypeOf(x.X, varType); t.Valid() {
			return t
		}
		return TypeOf(x.Y, varType)
	case Load:
		if m, ok := x.Op.Mem(); ok {
			return m.Type
		}
	case GlobalGet:
		return x.Type
	case MemorySize, MemoryGrow:
		return types.I32
	case Call:
		return x.Result
	case CallIndirect:
		return x.Result
	case Phi:
		for _, a := range x.Args {
			if t := varType(a); t.Valid() {
				return t
			}
		}
	}
	return types.Void
}

var negated = map[wasm.Opcode]wasm.Opcode{
	wasm.OpI32Eq: wasm.OpI32Ne, wasm.OpI32Ne: wasm.OpI32Eq,
	wasm.OpI32LtS: wasm.OpI32GeS, wasm.OpI32GeS: wasm.OpI32LtS,
	wasm.OpI32LtU: wasm.OpI32GeU, wasm.OpI32GeU: wasm.OpI32LtU,
	wasm.OpI32GtS: wasm.OpI32LeS, wasm.OpI32LeS: wasm.OpI32GtS,
	wasm.OpI32GtU: wasm.OpI32LeU, wasm.OpI32LeU: wasm.OpI32GtU,
	wasm.OpI64Eq: wasm.OpI64Ne, wasm.OpI64Ne: wasm.OpI64Eq,
	wasm.OpI64LtS: wasm.OpI64GeS, wasm.OpI64GeS: wasm.OpI64LtS,
	wasm.OpI64LtU: wasm.OpI64GeU, wasm.OpI64GeU: wasm.OpI64LtU,
	wasm.OpI64GtS: wasm.OpI64LeS, wasm.OpI64LeS: wasm.OpI64GtS,
	wasm.OpI64GtU: wasm.OpI64LeU, wasm.OpI64LeU: wasm.OpI64GtU,
}

// Negate returns a condition that is non-zero exactly when cond is zero.
// Float comparisons are not flipped because of NaN.
func Negate(cond Expr) Expr {
	switch c := cond.(type) {
	case Binary:
		if op, ok := negated[c.Op]; ok {
			return Binary{Op: op, X: c.X, Y: c.Y}
		}
	case Unary:
		switch c.Op {
		case wasm.OpI32Eqz:
			if isBoolean(c.X) {
				return c.X
			}
			return Binary{Op: wasm.OpI32Ne, X: c.X, Y: I32(0)}
		case wasm.OpI64Eqz:
			return Binary{Op: wasm.OpI64Ne, X: c.X, Y: I64(0)}
		}
	case Const:
		if c.Bits == 0 {
			return I32(1)
		}
		return I32(0)
	}
	return Unary{Op: wasm.OpI32Eqz, X: cond}
}

// isBoolean reports whether e only ever evaluates to 0 or 1.
func isBoolean(e Expr) bool {
	switch x := e.(type) {
	case Binary:
		info, ok := x.Op.Info()
		return ok && info.Kind == wasm.KindCompare
	case Unary:
		info, ok := x.Op.Info()
		return ok && info.Kind == wasm.KindTest
	}
	return false
}

// FormatExpr renders e in a compact prefix form used by debug output.
func FormatExpr(e Expr) string {
	switch x := e.(type) {
	case nil:
		return "<nil>"
	case Const:
		switch x.Type {
		case types.I32:
			return fmt.Sprintf("%d", int32(uint32(x.Bits)))
		case types.I64:
			return fmt.Sprintf("%d", int64(x.Bits))
		case types.F32:
			return fmt.Sprintf("%g", math.Float32frombits(uint32(x.Bits)))
		default:
			return fmt.Sprintf("%g", math.Float64frombits(x.Bits))
		}
	case Var:
		return x.String()
	case Param:
		return fmt.Sprintf("param%d", x.Index)
	case Unary:
		return fmt.Sprintf("%s(%s)", x.Op, FormatExpr(x.X))
	case Binary:
		return fmt.Sprintf("%s(%s, %s)", x.Op, FormatExpr(x.X), FormatExpr(x.Y))
	case Select:
		return fmt.Sprintf("select(%s, %s, %s)", FormatExpr(x.Cond), FormatExpr(x.X), FormatExpr(x.Y))
	case Load:
		return fmt.Sprintf("%s(%s+%d)", x.Op, FormatExpr(x.Addr), x.Offset)
	case GlobalGet:
		return fmt.Sprintf("global%d", x.Index)
	case MemorySize:
		return "memory.size"
	case MemoryGrow:
		return fmt.Sprintf("memory.grow(%s)", FormatExpr(x.Delta))
	case Call:
		return fmt.Sprintf("call%d(%s)", x.Func, formatList(x.Args))
	case CallIndirect:
		return fmt.Sprintf("call_indirect[%d](%s)(%s)", x.TypeIdx, FormatExpr(x.Callee), formatList(x.Args))
	case Phi:
		parts := make([]string, len(x.Args))
		for i, a := range x.Args {
			parts[i] = a.String()
		}
		return "phi(" + strings.Join(parts, ", ") + ")"
	}
	return fmt.Sprintf("%T", e)
}

func formatList(es []Expr) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = FormatExpr(e)
	}
	return strings.Join(parts, ", ")
}
