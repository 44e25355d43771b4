package wasm

import (
	"fmt"

	"github.com/monolab825/soroban-auditor/internal/types"
)

// Opcode identifies an instruction. Prefixed instructions (0xfc) are stored as
// 0xfc00 | subopcode.
type Opcode uint16

const (
	OpUnreachable  Opcode = 0x00
	OpNop          Opcode = 0x01
	OpBlock        Opcode = 0x02
	OpLoop         Opcode = 0x03
	OpIf           Opcode = 0x04
	OpElse         Opcode = 0x05
	OpEnd          Opcode = 0x0b
	OpBr           Opcode = 0x0c
	OpBrIf         Opcode = 0x0d
	OpBrTable      Opcode = 0x0e
	OpReturn       Opcode = 0x0f
	OpCall         Opcode = 0x10
	OpCallIndirect Opcode = 0x11
	OpDrop         Opcode = 0x1a
	OpSelect       Opcode = 0x1b
	OpSelectT      Opcode = 0x1c
	OpLocalGet     Opcode = 0x20
	OpLocalSet     Opcode = 0x21
	OpLocalTee     Opcode = 0x22
	OpGlobalGet    Opcode = 0x23
	OpGlobalSet    Opcode = 0x24

	OpI32Load    Opcode = 0x28
	OpI64Load    Opcode = 0x29
	OpF32Load    Opcode = 0x2a
	OpF64Load    Opcode = 0x2b
	OpI32Load8S  Opcode = 0x2c
	OpI32Load8U  Opcode = 0x2d
	OpI32Load16S Opcode = 0x2e
	OpI32Load16U Opcode = 0x2f
	OpI64Load8S  Opcode = 0x30
	OpI64Load8U  Opcode = 0x31
	OpI64Load16S Opcode = 0x32
	OpI64Load16U Opcode = 0x33
	OpI64Load32S Opcode = 0x34
	OpI64Load32U Opcode = 0x35
	OpI32Store   Opcode = 0x36
	OpI64Store   Opcode = 0x37
	OpF32Store   Opcode = 0x38
	OpF64Store   Opcode = 0x39
	OpI32Store8  Opcode = 0x3a
	OpI32Store16 Opcode = 0x3b
	OpI64Store8  Opcode = 0x3c
	OpI64Store16 Opcode = 0x3d
	OpI64Store32 Opcode = 0x3e
	OpMemorySize Opcode = 0x3f
	OpMemoryGrow Opcode = 0x40

	OpI32Const Opcode = 0x41
	OpI64Const Opcode = 0x42
	OpF32Const Opcode = 0x43
	OpF64Const Opcode = 0x44

	OpI32Eqz Opcode = 0x45
	OpI32Eq  Opcode = 0x46
	OpI32Ne  Opcode = 0x47
	OpI32LtS Opcode = 0x48
	OpI32LtU Opcode = 0x49
	OpI32GtS Opcode = 0x4a
	OpI32GtU Opcode = 0x4b
	OpI32LeS Opcode = 0x4c
	OpI32LeU Opcode = 0x4d
	OpI32GeS Opcode = 0x4e
	OpI32GeU Opcode = 0x4f
	OpI64Eqz Opcode = 0x50
	OpI64Eq  Opcode = 0x51
	OpI64Ne  Opcode = 0x52
	OpI64LtS Opcode = 0x53
	OpI64LtU Opcode = 0x54
	OpI64GtS Opcode = 0x55
	OpI64GtU Opcode = 0x56
	OpI64LeS Opcode = 0x57
	OpI64LeU Opcode = 0x58
	OpI64GeS Opcode = 0x59
	OpI64GeU Opcode = 0x5a
	OpF32Eq  Opcode = 0x5b
	OpF32Ne  Opcode = 0x5c
	OpF32Lt  Opcode = 0x5d
	OpF32Gt  Opcode = 0x5e
	OpF32Le  Opcode = 0x5f
	OpF32Ge  Opcode = 0x60
	OpF64Eq  Opcode = 0x61
	OpF64Ne  Opcode = 0x62
	OpF64Lt  Opcode = 0x63
	OpF64Gt  Opcode = 0x64
	OpF64Le  Opcode = 0x65
	OpF64Ge  Opcode = 0x66

	OpI32Clz    Opcode = 0x67
	OpI32Ctz    Opcode = 0x68
	OpI32Popcnt Opcode = 0x69
	OpI32Add    Opcode = 0x6a
	OpI32Sub    Opcode = 0x6b
	OpI32Mul    Opcode = 0x6c
	OpI32DivS   Opcode = 0x6d
	OpI32DivU   Opcode = 0x6e
	OpI32RemS   Opcode = 0x6f
	OpI32RemU   Opcode = 0x70
	OpI32And    Opcode = 0x71
	OpI32Or     Opcode = 0x72
	OpI32Xor    Opcode = 0x73
	OpI32Shl    Opcode = 0x74
	OpI32ShrS   Opcode = 0x75
	OpI32ShrU   Opcode = 0x76
	OpI32Rotl   Opcode = 0x77
	OpI32Rotr   Opcode = 0x78
	OpI64Clz    Opcode = 0x79
	OpI64Ctz    Opcode = 0x7a
	OpI64Popcnt Opcode = 0x7b
	OpI64Add    Opcode = 0x7c
	OpI64Sub    Opcode = 0x7d
	OpI64Mul    Opcode = 0x7e
	OpI64DivS   Opcode = 0x7f
	OpI64DivU   Opcode = 0x80
	OpI64RemS   Opcode = 0x81
	OpI64RemU   Opcode = 0x82
	OpI64And    Opcode = 0x83
	OpI64Or     Opcode = 0x84
	OpI64Xor    Opcode = 0x85
	OpI64Shl    Opcode = 0x86
	OpI64ShrS   Opcode = 0x87
	OpI64ShrU   Opcode = 0x88
	OpI64Rotl   Opcode = 0x89
	OpI64Rotr   Opcode = 0x8a

	OpF32Abs      Opcode = 0x8b
	OpF32Neg      Opcode = 0x8c
	OpF32Ceil     Opcode = 0x8d
	OpF32Floor    Opcode = 0x8e
	OpF32Trunc    Opcode = 0x8f
	OpF32Nearest  Opcode = 0x90
	OpF32Sqrt     Opcode = 0x91
	OpF32Add      Opcode = 0x92
	OpF32Sub      Opcode = 0x93
	OpF32Mul      Opcode = 0x94
	OpF32Div      Opcode = 0x95
	OpF32Min      Opcode = 0x96
	OpF32Max      Opcode = 0x97
	OpF32Copysign Opcode = 0x98
	OpF64Abs      Opcode = 0x99
	OpF64Neg      Opcode = 0x9a
	OpF64Ceil     Opcode = 0x9b
	OpF64Floor    Opcode = 0x9c
	OpF64Trunc    Opcode = 0x9d
	OpF64Nearest  Opcode = 0x9e
	OpF64Sqrt     Opcode = 0x9f
	OpF64Add      Opcode = 0xa0
	OpF64Sub      Opcode = 0xa1
	OpF64Mul      Opcode = 0xa2
	OpF64Div      Opcode = 0xa3
	OpF64Min      Opcode = 0xa4
	OpF64Max      Opcode = 0xa5
	OpF64Copysign Opcode = 0xa6

	OpI32WrapI64        Opcode = 0xa7
	OpI32TruncF32S      Opcode = 0xa8
	OpI32TruncF32U      Opcode = 0xa9
	OpI32TruncF64S      Opcode = 0xaa
	OpI32TruncF64U      Opcode = 0xab
	OpI64ExtendI32S     Opcode = 0xac
	OpI64ExtendI32U     Opcode = 0xad
	OpI64TruncF32S      Opcode = 0xae
	OpI64TruncF32U      Opcode = 0xaf
	OpI64TruncF64S      Opcode = 0xb0
	OpI64TruncF64U      Opcode = 0xb1
	OpF32ConvertI32S    Opcode = 0xb2
	OpF32ConvertI32U    Opcode = 0xb3
	OpF32ConvertI64S    Opcode = 0xb4
	OpF32ConvertI64U    Opcode = 0xb5
	OpF32DemoteF64      Opcode = 0xb6
	OpF64ConvertI32S    Opcode = 0xb7
	OpF64ConvertI32U    Opcode = 0xb8
	OpF64ConvertI64S    Opcode = 0xb9
	OpF64ConvertI64U    Opcode = 0xba
	OpF64PromoteF32     Opcode = 0xbb
	OpI32ReinterpretF32 Opcode = 0xbc
	OpI64ReinterpretF64 Opcode = 0xbd
	OpF32ReinterpretI32 Opcode = 0xbe
	OpF64ReinterpretI64 Opcode = 0xbf
	OpI32Extend8S       Opcode = 0xc0
	OpI32Extend16S      Opcode = 0xc1
	OpI64Extend8S       Opcode = 0xc2
	OpI64Extend16S      Opcode = 0xc3
	OpI64Extend32S      Opcode = 0xc4

	OpPrefixFC Opcode = 0xfc

	OpI32TruncSatF32S Opcode = 0xfc00
	OpI32TruncSatF32U Opcode = 0xfc01
	OpI32TruncSatF64S Opcode = 0xfc02
	OpI32TruncSatF64U Opcode = 0xfc03
	OpI64TruncSatF32S Opcode = 0xfc04
	OpI64TruncSatF32U Opcode = 0xfc05
	OpI64TruncSatF64S Opcode = 0xfc06
	OpI64TruncSatF64U Opcode = 0xfc07
	OpMemoryCopy      Opcode = 0xfc0a
	OpMemoryFill      Opcode = 0xfc0b
)

// OpKind groups numeric instructions by stack shape.
type OpKind uint8

const (
	KindOther   OpKind = iota
	KindUnary          // one operand, one result
	KindBinary         // two operands, one result
	KindCompare        // two operands, i32 result
	KindTest           // eqz
	KindConvert        // one operand of another type
)

// OpInfo describes a numeric instruction.
type OpInfo struct {
	Name   string
	Symbol string // infix operator or function-like name used when rendering
	Kind   OpKind
	In     types.ValType
	Out    types.ValType
	Traps  bool // integer division/remainder and float->int truncation
	Signed bool
}

var opInfo = map[Opcode]OpInfo{}

func def(op Opcode, name, sym string, kind OpKind, in, out types.ValType, traps, signed bool) {
	opInfo[op] = OpInfo{Name: name, Symbol: sym, Kind: kind, In: in, Out: out, Traps: traps, Signed: signed}
}

func init() {
	const (
		i32 = types.I32
		i64 = types.I64
		f32 = types.F32
		f64 = types.F64
	)
	def(OpI32Eqz, "i32.eqz", "!", KindTest, i32, i32, false, false)
	def(OpI64Eqz, "i64.eqz", "!", KindTest, i64, i32, false, false)

	cmp := func(base Opcode, t types.ValType, prefix string) {
		names := []struct {
			n, s   string
			signed bool
		}{
			{"eq", "==", false}, {"ne", "!=", false},
			{"lt_s", "<", true}, {"lt_u", "<", false}, {"gt_s", ">", true}, {"gt_u", ">", false},
			{"le_s", "<=", true}, {"le_u", "<=", false}, {"ge_s", ">=", true}, {"ge_u", ">=", false},
		}
		for i, n := range names {
			def(base+Opcode(i), prefix+"."+n.n, n.s, KindCompare, t, i32, false, n.signed)
		}
	}
	cmp(OpI32Eq, i32, "i32")
	cmp(OpI64Eq, i64, "i64")
	fcmp := func(base Opcode, t types.ValType, prefix string) {
		names := [][2]string{{"eq", "=="}, {"ne", "!="}, {"lt", "<"}, {"gt", ">"}, {"le", "<="}, {"ge", ">="}}
		for i, n := range names {
			def(base+Opcode(i), prefix+"."+n[0], n[1], KindCompare, t, i32, false, true)
		}
	}
	fcmp(OpF32Eq, f32, "f32")
	fcmp(OpF64Eq, f64, "f64")

	ints := func(base Opcode, t types.ValType, prefix string) {
		def(base, prefix+".clz", "clz", KindUnary, t, t, false, false)
		def(base+1, prefix+".ctz", "ctz", KindUnary, t, t, false, false)
		def(base+2, prefix+".popcnt", "popcnt", KindUnary, t, t, false, false)
		bins := []struct {
			n, s          string
			traps, signed bool
		}{
			{"add", "+", false, false}, {"sub", "-", false, false}, {"mul", "*", false, false},
			{"div_s", "/", true, true}, {"div_u", "/", true, false},
			{"rem_s", "%", true, true}, {"rem_u", "%", true, false},
			{"and", "&", false, false}, {"or", "|", false, false}, {"xor", "^", false, false},
			{"shl", "<<", false, false}, {"shr_s", ">>", false, true}, {"shr_u", ">>", false, false},
			{"rotl", "rotl", false, false}, {"rotr", "rotr", false, false},
		}
		for i, b := range bins {
			def(base+3+Opcode(i), prefix+"."+b.n, b.s, KindBinary, t, t, b.traps, b.signed)
		}
	}
	ints(OpI32Clz, i32, "i32")
	ints(OpI64Clz, i64, "i64")

	floats := func(base Opcode, t types.ValType, prefix string) {
		uns := [][2]string{{"abs", "abs"}, {"neg", "-"}, {"ceil", "ceil"}, {"floor", "floor"}, {"trunc", "trunc"}, {"nearest", "nearest"}, {"sqrt", "sqrt"}}
		for i, u := range uns {
			def(base+Opcode(i), prefix+"."+u[0], u[1], KindUnary, t, t, false, true)
		}
		bins := [][2]string{{"add", "+"}, {"sub", "-"}, {"mul", "*"}, {"div", "/"}, {"min", "min"}, {"max", "max"}, {"copysign", "copysign"}}
		for i, b := range bins {
			def(base+7+Opcode(i), prefix+"."+b[0], b[1], KindBinary, t, t, false, true)
		}
	}
	floats(OpF32Abs, f32, "f32")
	floats(OpF64Abs, f64, "f64")

	conv := func(op Opcode, name string, in, out types.ValType, traps, signed bool) {
		def(op, name, name, KindConvert, in, out, traps, signed)
	}
	conv(OpI32WrapI64, "i32.wrap_i64", i64, i32, false, false)
	conv(OpI32TruncF32S, "i32.trunc_f32_s", f32, i32, true, true)
	conv(OpI32TruncF32U, "i32.trunc_f32_u", f32, i32, true, false)
	conv(OpI32TruncF64S, "i32.trunc_f64_s", f64, i32, true, true)
	conv(OpI32TruncF64U, "i32.trunc_f64_u", f64, i32, true, false)
	conv(OpI64ExtendI32S, "i64.extend_i32_s", i32, i64, false, true)
	conv(OpI64ExtendI32U, "i64.extend_i32_u", i32, i64, false, false)
	conv(OpI64TruncF32S, "i64.trunc_f32_s", f32, i64, true, true)
	conv(OpI64TruncF32U, "i64.trunc_f32_u", f32, i64, true, false)
	conv(OpI64TruncF64S, "i64.trunc_f64_s", f64, i64, true, true)
	conv(OpI64TruncF64U, "i64.trunc_f64_u", f64, i64, true, false)
	conv(OpF32ConvertI32S, "f32.convert_i32_s", i32, f32, false, true)
	conv(OpF32ConvertI32U, "f32.convert_i32_u", i32, f32, false, false)
	conv(OpF32ConvertI64S, "f32.convert_i64_s", i64, f32, false, true)
	conv(OpF32ConvertI64U, "f32.convert_i64_u", i64, f32, false, false)
	conv(OpF32DemoteF64, "f32.demote_f64", f64, f32, false, true)
	conv(OpF64ConvertI32S, "f64.convert_i32_s", i32, f64, false, true)
	conv(OpF64ConvertI32U, "f64.convert_i32_u", i32, f64, false, false)
	conv(OpF64ConvertI64S, "f64.convert_i64_s", i64, f64, false, true)
	conv(OpF64ConvertI64U, "f64.convert_i64_u", i64, f64, false, false)
	conv(OpF64PromoteF32, "f64.promote_f32", f32, f64, false, true)
	conv(OpI32ReinterpretF32, "i32.reinterpret_f32", f32, i32, false, false)
	conv(OpI64ReinterpretF64, "i64.reinterpret_f64", f64, i64, false, false)
	conv(OpF32ReinterpretI32, "f32.reinterpret_i32", i32, f32, false, false)
	conv(OpF64ReinterpretI64, "f64.reinterpret_i64", i64, f64, false, false)
	conv(OpI32Extend8S, "i32.extend8_s", i32, i32, false, true)
	conv(OpI32Extend16S, "i32.extend16_s", i32, i32, false, true)
	conv(OpI64Extend8S, "i64.extend8_s", i64, i64, false, true)
	conv(OpI64Extend16S, "i64.extend16_s", i64, i64, false, true)
	conv(OpI64Extend32S, "i64.extend32_s", i64, i64, false, true)
	conv(OpI32TruncSatF32S, "i32.trunc_sat_f32_s", f32, i32, false, true)
	conv(OpI32TruncSatF32U, "i32.trunc_sat_f32_u", f32, i32, false, false)
	conv(OpI32TruncSatF64S, "i32.trunc_sat_f64_s", f64, i32, false, true)
	conv(OpI32TruncSatF64U, "i32.trunc_sat_f64_u", f64, i32, false, false)
	conv(OpI64TruncSatF32S, "i64.trunc_sat_f32_s", f32, i64, false, true)
	conv(OpI64TruncSatF32U, "i64.trunc_sat_f32_u", f32, i64, false, false)
	conv(OpI64TruncSatF64S, "i64.trunc_sat_f64_s", f64, i64, false, true)
	conv(OpI64TruncSatF64U, "i64.trunc_sat_f64_u", f64, i64, false, false)
}

// Info returns the description of a numeric instruction.
func (op Opcode) Info() (OpInfo, bool) {
	info, ok := opInfo[op]
	return info, ok
}

// MemArg describes a load or store instruction.
type MemArg struct {
	Type   types.ValType // value type on the stack
	Size   int           // bytes accessed
	Signed bool          // sign extension for narrow loads
}

var memOps = map[Opcode]MemArg{
	OpI32Load: {types.I32, 4, false}, OpI64Load: {types.I64, 8, false},
	OpF32Load: {types.F32, 4, false}, OpF64Load: {types.F64, 8, false},
	OpI32Load8S: {types.I32, 1, true}, OpI32Load8U: {types.I32, 1, false},
	OpI32Load16S: {types.I32, 2, true}, OpI32Load16U: {types.I32, 2, false},
	OpI64Load8S: {types.I64, 1, true}, OpI64Load8U: {types.I64, 1, false},
	OpI64Load16S: {types.I64, 2, true}, OpI64Load16U: {types.I64, 2, false},
	OpI64Load32S: {types.I64, 4, true}, OpI64Load32U: {types.I64, 4, false},
	OpI32Store: {types.I32, 4, false}, OpI64Store: {types.I64, 8, false},
	OpF32Store: {types.F32, 4, false}, OpF64Store: {types.F64, 8, false},
	OpI32Store8: {types.I32, 1, false}, OpI32Store16: {types.I32, 2, false},
	OpI64Store8: {types.I64, 1, false}, OpI64Store16: {types.I64, 2, false},
	OpI64Store32: {types.I64, 4, false},
}

// Mem returns the memory access shape of a load or store.
func (op Opcode) Mem() (MemArg, bool) {
	m, ok := memOps[op]
	return m, ok
}

func (op Opcode) IsLoad() bool  { return op >= OpI32Load && op <= OpI64Load32U }
func (op Opcode) IsStore() bool { return op >= OpI32Store && op <= OpI64Store32 }

var controlNames = map[Opcode]string{
	OpUnreachable: "unreachable", OpNop: "nop", OpBlock: "block", OpLoop: "loop", OpIf: "if",
	OpElse: "else", OpEnd: "end", OpBr: "br", OpBrIf: "br_if", OpBrTable: "br_table",
	OpReturn: "return", OpCall: "call", OpCallIndirect: "call_indirect", OpDrop: "drop",
	OpSelect: "select", OpSelectT: "select", OpLocalGet: "local.get", OpLocalSet: "local.set",
	OpLocalTee: "local.tee", OpGlobalGet: "global.get", OpGlobalSet: "global.set",
	OpMemorySize: "memory.size", OpMemoryGrow: "memory.grow", OpI32Const: "i32.const",
	OpI64Const: "i64.const", OpF32Const: "f32.const", OpF64Const: "f64.const",
	OpMemoryCopy: "memory.copy", OpMemoryFill: "memory.fill",
}

func (op Opcode) String() string {
	if info, ok := opInfo[op]; ok {
		return info.Name
	}
	if n, ok := controlNames[op]; ok {
		return n
	}
	if op.IsLoad() || op.IsStore() {
		m := memOps[op]
		verb := "load"
		if op.IsStore() {
			verb = "store"
		}
		if m.Size == m.Type.Size() {
			return fmt.Sprintf("%s.%s", m.Type, verb)
		}
		sign := "_u"
		if op.IsStore() {
			sign = ""
		} else if m.Signed {
			sign = "_s"
		}
		return fmt.Sprintf("%s.%s%d%s", m.Type, verb, m.Size*8, sign)
	}
	return fmt.Sprintf("op(0x%x)", uint16(op))
}
