package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/monolab825/soroban-auditor/internal/ir"
	"github.com/monolab825/soroban-auditor/internal/types"
	"github.com/monolab825/soroban-auditor/internal/wasm"
)

// Operator precedence, loosest first.
const (
	precLowest = iota
	precCompare
	precOr
	precXor
	precAnd
	precShift
	precAdd
	precMul
	precCast
	precUnary
	precPrimary
)

var infixPrec = map[string]int{
	"==": precCompare, "!=": precCompare, "<": precCompare, ">": precCompare, "<=": precCompare, ">=": precCompare,
	"|": precOr, "^": precXor, "&": precAnd, "<<": precShift, ">>": precShift,
	"+": precAdd, "-": precAdd, "*": precMul, "/": precMul, "%": precMul,
}

var methods = map[string]string{
	"clz": "leading_zeros", "ctz": "trailing_zeros", "popcnt": "count_ones",
	"abs": "abs", "ceil": "ceil", "floor": "floor", "trunc": "trunc", "nearest": "round_ties_even", "sqrt": "sqrt",
	"rotl": "rotate_left", "rotr": "rotate_right", "min": "min", "max": "max", "copysign": "copysign",
}

// casts spells conversions as chains of `as` casts.
var casts = map[wasm.Opcode][]string{
	wasm.OpI32WrapI64:      {"i32"},
	wasm.OpI32TruncF32S:    {"i32"},
	wasm.OpI32TruncF32U:    {"u32", "i32"},
	wasm.OpI32TruncF64S:    {"i32"},
	wasm.OpI32TruncF64U:    {"u32", "i32"},
	wasm.OpI64ExtendI32S:   {"i64"},
	wasm.OpI64ExtendI32U:   {"u32", "i64"},
	wasm.OpI64TruncF32S:    {"i64"},
	wasm.OpI64TruncF32U:    {"u64", "i64"},
	wasm.OpI64TruncF64S:    {"i64"},
	wasm.OpI64TruncF64U:    {"u64", "i64"},
	wasm.OpF32ConvertI32S:  {"f32"},
	wasm.OpF32ConvertI32U:  {"u32", "f32"},
	wasm.OpF32ConvertI64S:  {"f32"},
	wasm.OpF32ConvertI64U:  {"u64", "f32"},
	wasm.OpF32DemoteF64:    {"f32"},
	wasm.OpF64ConvertI32S:  {"f64"},
	wasm.OpF64ConvertI32U:  {"u32", "f64"},
	wasm.OpF64ConvertI64S:  {"f64"},
	wasm.OpF64ConvertI64U:  {"u64", "f64"},
	wasm.OpF64PromoteF32:   {"f64"},
	wasm.OpI32Extend8S:     {"i8", "i32"},
	wasm.OpI32Extend16S:    {"i16", "i32"},
	wasm.OpI64Extend8S:     {"i8", "i64"},
	wasm.OpI64Extend16S:    {"i16", "i64"},
	wasm.OpI64Extend32S:    {"i32", "i64"},
	wasm.OpI32TruncSatF32S: {"i32"},
	wasm.OpI32TruncSatF32U: {"u32", "i32"},
	wasm.OpI32TruncSatF64S: {"i32"},
	wasm.OpI32TruncSatF64U: {"u32", "i32"},
	wasm.OpI64TruncSatF32S: {"i64"},
	wasm.OpI64TruncSatF32U: {"u64", "i64"},
	wasm.OpI64TruncSatF64S: {"i64"},
	wasm.OpI64TruncSatF64U: {"u64", "i64"},
}

func unsigned(t types.ValType) string {
	if t == types.I64 {
		return "u64"
	}
	return "u32"
}

// expr renders e and parenthesizes it when it binds looser than outer.
func (p *printer) expr(e ir.Expr, outer int) string {
	s, prec := p.exprPrec(e)
	if prec < outer {
		return "(" + s + ")"
	}
	return s
}

func (p *printer) exprPrec(e ir.Expr) (string, int) {
	switch x := e.(type) {
	case ir.Const:
		return constant(x)
	case ir.Var:
		return p.varName(x), precPrimary
	case ir.Param:
		return p.paramName(x.Index), precPrimary
	case ir.Unary:
		return p.unary(x)
	case ir.Binary:
		return p.binary(x)
	case ir.Select:
		return fmt.Sprintf("if %s { %s } else { %s }",
			p.expr(x.Cond, precLowest), p.expr(x.X, precLowest), p.expr(x.Y, precLowest)), precLowest
	case ir.Load:
		return fmt.Sprintf("%s(%s)", loadName(x.Op), p.address(x.Addr, x.Offset)), precPrimary
	case ir.GlobalGet:
		return globalName(x.Index), precPrimary
	case ir.MemorySize:
		return "memory_size()", precPrimary
	case ir.MemoryGrow:
		return fmt.Sprintf("memory_grow(%s)", p.expr(x.Delta, precLowest)), precPrimary
	case ir.Call:
		return fmt.Sprintf("%s(%s)", p.funcName(x.Func), p.list(x.Args)), precPrimary
	case ir.CallIndirect:
		return fmt.Sprintf("table[%s](%s)", p.expr(x.Callee, precLowest), p.list(x.Args)), precPrimary
	}
	return ir.FormatExpr(e), precPrimary
}

func (p *printer) list(es []ir.Expr) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = p.expr(e, precLowest)
	}
	return strings.Join(parts, ", ")
}

func (p *printer) address(addr ir.Expr, offset uint32) string {
	if offset == 0 {
		return p.expr(addr, precLowest)
	}
	return fmt.Sprintf("%s + %d", p.expr(addr, precAdd), offset)
}

func (p *printer) unary(x ir.Unary) (string, int) {
	info, ok := x.Op.Info()
	if !ok {
		return ir.FormatExpr(x), precPrimary
	}
	switch info.Kind {
	case wasm.KindTest:
		return p.expr(x.X, precCompare+1) + " == 0", precCompare
	case wasm.KindConvert:
		switch x.Op {
		case wasm.OpI32ReinterpretF32, wasm.OpI64ReinterpretF64:
			return fmt.Sprintf("%s.to_bits() as %s", p.expr(x.X, precPrimary), info.Out), precCast
		case wasm.OpF32ReinterpretI32, wasm.OpF64ReinterpretI64:
			return fmt.Sprintf("%s::from_bits(%s as %s)", info.Out, p.expr(x.X, precCast), unsigned(info.In)), precPrimary
		}
		s := p.expr(x.X, precCast)
		for _, t := range casts[x.Op] {
			s += " as " + t
		}
		return s, precCast
	}
	if info.Symbol == "-" {
		return "-" + p.expr(x.X, precUnary), precUnary
	}
	if m, ok := methods[info.Symbol]; ok {
		return fmt.Sprintf("%s.%s()", p.expr(x.X, precPrimary), m), precPrimary
	}
	return fmt.Sprintf("%s(%s)", info.Symbol, p.expr(x.X, precLowest)), precPrimary
}

func (p *printer) binary(x ir.Binary) (string, int) {
	info, ok := x.Op.Info()
	if !ok {
		return ir.FormatExpr(x), precPrimary
	}
	if m, ok := methods[info.Symbol]; ok {
		y := p.expr(x.Y, precLowest)
		if info.In.IsInteger() {
			y = p.expr(x.Y, precCast) + " as u32"
		}
		return fmt.Sprintf("%s.%s(%s)", p.expr(x.X, precPrimary), m, y), precPrimary
	}
	prec, ok := infixPrec[info.Symbol]
	if !ok {
		return fmt.Sprintf("%s(%s, %s)", info.Symbol, p.expr(x.X, precLowest), p.expr(x.Y, precLowest)), precPrimary
	}
	// Unsigned operations reinterpret both operands.
	if strings.HasSuffix(info.Name, "_u") {
		u := unsigned(info.In)
		return fmt.Sprintf("(%s as %s) %s (%s as %s)",
			p.expr(x.X, precCast), u, info.Symbol, p.expr(x.Y, precCast), u), prec
	}
	// Comparisons do not chain, the other operators are left associative.
	left, right := prec, prec+1
	if prec == precCompare {
		left = prec + 1
	}
	return fmt.Sprintf("%s %s %s", p.expr(x.X, left), info.Symbol, p.expr(x.Y, right)), prec
}

func constant(c ir.Const) (string, int) {
	var s string
	switch c.Type {
	case types.I32:
		s = strconv.FormatInt(int64(int32(uint32(c.Bits))), 10)
	case types.I64:
		s = strconv.FormatInt(int64(c.Bits), 10)
	case types.F32:
		s = float(float64(math.Float32frombits(uint32(c.Bits))), 32, "f32")
	case types.F64:
		s = float(math.Float64frombits(c.Bits), 64, "f64")
	default:
		return ir.FormatExpr(c), precPrimary
	}
	if strings.HasPrefix(s, "-") {
		return s, precUnary
	}
	return s, precPrimary
}

func float(f float64, bits int, typ string) string {
	switch {
	case math.IsNaN(f):
		return typ + "::NAN"
	case math.IsInf(f, 1):
		return typ + "::INFINITY"
	case math.IsInf(f, -1):
		return typ + "::NEG_INFINITY"
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// loadName spells a load as load_<type>[_<bits><sign>].
func loadName(op wasm.Opcode) string {
	m, _ := op.Mem()
	if m.Size == m.Type.Size() {
		return "load_" + m.Type.String()
	}
	sign := "u"
	if m.Signed {
		sign = "s"
	}
	return fmt.Sprintf("load_%s_%d%s", m.Type, m.Size*8, sign)
}

func storeName(op wasm.Opcode) string {
	m, _ := op.Mem()
	if m.Size == m.Type.Size() {
		return "store_" + m.Type.String()
	}
	return fmt.Sprintf("store_%s_%d", m.Type, m.Size*8)
}
