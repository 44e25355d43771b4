package ir

import (
	"math"
	"math/bits"

	"github.com/pkg/errors"

	"github.com/monolab825/soroban-auditor/internal/types"
	"github.com/monolab825/soroban-auditor/internal/wasm"
)

// ErrTrap is returned when evaluation hits a WebAssembly trap.
var ErrTrap = errors.New("trap")

// Values are carried as raw bits; i32 and f32 values use the low 32 bits.
func mask(t types.ValType, v uint64) uint64 {
	if t == types.I32 || t == types.F32 {
		return v & 0xffffffff
	}
	return v
}

func f32(v uint64) float64   { return float64(math.Float32frombits(uint32(v))) }
func f64(v uint64) float64   { return math.Float64frombits(v) }
func fromF32(f float64) uint64 { return uint64(math.Float32bits(float32(f))) }
func fromF64(f float64) uint64 { return math.Float64bits(f) }

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func floatOf(t types.ValType, v uint64) float64 {
	if t == types.F32 {
		return f32(v)
	}
	return f64(v)
}

func floatTo(t types.ValType, f float64) uint64 {
	if t == types.F32 {
		return fromF32(f)
	}
	return fromF64(f)
}

// EvalUnary applies a one-operand numeric instruction.
func EvalUnary(op wasm.Opcode, x uint64) (uint64, error) {
	info, ok := op.Info()
	if !ok {
		return 0, errors.Wrapf(ErrUnsupported, "unary %s", op)
	}
	x = mask(info.In, x)
	switch op {
	case wasm.OpI32Eqz, wasm.OpI64Eqz:
		return b2u(x == 0), nil
	case wasm.OpI32Clz:
		return uint64(bits.LeadingZeros32(uint32(x))), nil
	case wasm.OpI32Ctz:
		return uint64(bits.TrailingZeros32(uint32(x))), nil
	case wasm.OpI32Popcnt:
		return uint64(bits.OnesCount32(uint32(x))), nil
	case wasm.OpI64Clz:
		return uint64(bits.LeadingZeros64(x)), nil
	case wasm.OpI64Ctz:
		return uint64(bits.TrailingZeros64(x)), nil
	case wasm.OpI64Popcnt:
		return uint64(bits.OnesCount64(x)), nil
	case wasm.OpF32Abs:
		return x &^ (1 << 31), nil
	case wasm.OpF64Abs:
		return x &^ (1 << 63), nil
	case wasm.OpF32Neg:
		return x ^ (1 << 31), nil
	case wasm.OpF64Neg:
		return x ^ (1 << 63), nil
	case wasm.OpF32Ceil, wasm.OpF64Ceil:
		return floatTo(info.Out, math.Ceil(floatOf(info.In, x))), nil
	case wasm.OpF32Floor, wasm.OpF64Floor:
		return floatTo(info.Out, math.Floor(floatOf(info.In, x))), nil
	case wasm.OpF32Trunc, wasm.OpF64Trunc:
		return floatTo(info.Out, math.Trunc(floatOf(info.In, x))), nil
	case wasm.OpF32Nearest, wasm.OpF64Nearest:
		return floatTo(info.Out, math.RoundToEven(floatOf(info.In, x))), nil
	case wasm.OpF32Sqrt, wasm.OpF64Sqrt:
		return floatTo(info.Out, math.Sqrt(floatOf(info.In, x))), nil

	case wasm.OpI32WrapI64:
		return x & 0xffffffff, nil
	case wasm.OpI64ExtendI32S:
		return uint64(int64(int32(uint32(x)))), nil
	case wasm.OpI64ExtendI32U:
		return uint64(uint32(x)), nil
	case wasm.OpI32Extend8S:
		return mask(types.I32, uint64(int64(int8(x)))), nil
	case wasm.OpI32Extend16S:
		return mask(types.I32, uint64(int64(int16(x)))), nil
	case wasm.OpI64Extend8S:
		return uint64(int64(int8(x))), nil
	case wasm.OpI64Extend16S:
		return uint64(int64(int16(x))), nil
	case wasm.OpI64Extend32S:
		return uint64(int64(int32(x))), nil
	case wasm.OpF32DemoteF64:
		return fromF32(f64(x)), nil
	case wasm.OpF64PromoteF32:
		return fromF64(f32(x)), nil
	case wasm.OpI32ReinterpretF32, wasm.OpF32ReinterpretI32, wasm.OpI64ReinterpretF64, wasm.OpF64ReinterpretI64:
		return x, nil
	case wasm.OpF32ConvertI32S, wasm.OpF64ConvertI32S:
		return floatTo(info.Out, float64(int32(uint32(x)))), nil
	case wasm.OpF32ConvertI32U, wasm.OpF64ConvertI32U:
		return floatTo(info.Out, float64(uint32(x))), nil
	case wasm.OpF32ConvertI64S:
		return uint64(math.Float32bits(float32(int64(x)))), nil
	case wasm.OpF64ConvertI64S:
		return fromF64(float64(int64(x))), nil
	case wasm.OpF32ConvertI64U:
		return uint64(math.Float32bits(float32(x))), nil
	case wasm.OpF64ConvertI64U:
		return fromF64(float64(x)), nil
	}
	if info.Kind == wasm.KindConvert && info.In.IsFloat() && info.Out.IsInteger() {
		return truncate(info, floatOf(info.In, x))
	}
	return 0, errors.Wrapf(ErrUnsupported, "unary %s", op)
}

// truncate converts a float to an integer, trapping or saturating on NaN
// and overflow as the instruction requires.
func truncate(info wasm.OpInfo, f float64) (uint64, error) {
	var lo, hi float64
	switch {
	case info.Out == types.I32 && info.Signed:
		lo, hi = math.MinInt32, math.MaxInt32
	case info.Out == types.I32:
		lo, hi = 0, math.MaxUint32
	case info.Signed:
		lo, hi = math.MinInt64, math.MaxInt64
	default:
		lo, hi = 0, math.MaxUint64
	}
	t := math.Trunc(f)
	switch {
	case math.IsNaN(f):
		if info.Traps {
			return 0, errors.Wrap(ErrTrap, "invalid conversion to integer")
		}
		return 0, nil
	case t < lo || t > hi || (info.Out == types.I64 && t >= hi):
		if info.Traps {
			return 0, errors.Wrap(ErrTrap, "integer overflow")
		}
		if t < lo {
			t = lo
		} else {
			t = hi
		}
	}
	switch {
	case info.Out == types.I32 && info.Signed:
		return mask(types.I32, uint64(int64(int32(t)))), nil
	case info.Out == types.I32:
		return uint64(uint32(t)), nil
	case info.Signed:
		if t >= math.MaxInt64 {
			return math.MaxInt64, nil
		}
		return uint64(int64(t)), nil
	default:
		if t >= math.MaxUint64 {
			return math.MaxUint64, nil
		}
		return uint64(t), nil
	}
}

// EvalBinary applies a two-operand numeric instruction.
func EvalBinary(op wasm.Opcode, x, y uint64) (uint64, error) {
	info, ok := op.Info()
	if !ok {
		return 0, errors.Wrapf(ErrUnsupported, "binary %s", op)
	}
	x, y = mask(info.In, x), mask(info.In, y)
	if info.In.IsFloat() {
		return evalFloat(op, info, floatOf(info.In, x), floatOf(info.In, y))
	}
	is32 := info.In == types.I32
	sx, sy := int64(x), int64(y)
	if is32 {
		sx, sy = int64(int32(uint32(x))), int64(int32(uint32(y)))
	}
	width := uint64(64)
	if is32 {
		width = 32
	}
	var r uint64
	switch op {
	case wasm.OpI32Eq, wasm.OpI64Eq:
		return b2u(x == y), nil
	case wasm.OpI32Ne, wasm.OpI64Ne:
		return b2u(x != y), nil
	case wasm.OpI32LtS, wasm.OpI64LtS:
		return b2u(sx < sy), nil
	case wasm.OpI32LtU, wasm.OpI64LtU:
		return b2u(x < y), nil
	case wasm.OpI32GtS, wasm.OpI64GtS:
		return b2u(sx > sy), nil
	case wasm.OpI32GtU, wasm.OpI64GtU:
		return b2u(x > y), nil
	case wasm.OpI32LeS, wasm.OpI64LeS:
		return b2u(sx <= sy), nil
	case wasm.OpI32LeU, wasm.OpI64LeU:
		return b2u(x <= y), nil
	case wasm.OpI32GeS, wasm.OpI64GeS:
		return b2u(sx >= sy), nil
	case wasm.OpI32GeU, wasm.OpI64GeU:
		return b2u(x >= y), nil
	case wasm.OpI32Add, wasm.OpI64Add:
		r = x + y
	case wasm.OpI32Sub, wasm.OpI64Sub:
		r = x - y
	case wasm.OpI32Mul, wasm.OpI64Mul:
		r = x * y
	case wasm.OpI32DivS, wasm.OpI64DivS:
		if y == 0 {
			return 0, errors.Wrap(ErrTrap, "integer divide by zero")
		}
		if sy == -1 && ((is32 && sx == math.MinInt32) || (!is32 && sx == math.MinInt64)) {
			return 0, errors.Wrap(ErrTrap, "integer overflow")
		}
		r = uint64(sx / sy)
	case wasm.OpI32DivU, wasm.OpI64DivU:
		if y == 0 {
			return 0, errors.Wrap(ErrTrap, "integer divide by zero")
		}
		r = x / y
	case wasm.OpI32RemS, wasm.OpI64RemS:
		if y == 0 {
			return 0, errors.Wrap(ErrTrap, "integer divide by zero")
		}
		if sy == -1 {
			r = 0
		} else {
			r = uint64(sx % sy)
		}
	case wasm.OpI32RemU, wasm.OpI64RemU:
		if y == 0 {
			return 0, errors.Wrap(ErrTrap, "integer divide by zero")
		}
		r = x % y
	case wasm.OpI32And, wasm.OpI64And:
		r = x & y
	case wasm.OpI32Or, wasm.OpI64Or:
		r = x | y
	case wasm.OpI32Xor, wasm.OpI64Xor:
		r = x ^ y
	case wasm.OpI32Shl, wasm.OpI64Shl:
		r = x << (y % width)
	case wasm.OpI32ShrS:
		r = uint64(int64(int32(uint32(x)) >> (y % 32)))
	case wasm.OpI64ShrS:
		r = uint64(sx >> (y % 64))
	case wasm.OpI32ShrU, wasm.OpI64ShrU:
		r = x >> (y % width)
	case wasm.OpI32Rotl:
		r = uint64(bits.RotateLeft32(uint32(x), int(y%32)))
	case wasm.OpI32Rotr:
		r = uint64(bits.RotateLeft32(uint32(x), -int(y%32)))
	case wasm.OpI64Rotl:
		r = bits.RotateLeft64(x, int(y%64))
	case wasm.OpI64Rotr:
		r = bits.RotateLeft64(x, -int(y%64))
	default:
		return 0, errors.Wrapf(ErrUnsupported, "binary %s", op)
	}
	return mask(info.Out, r), nil
}

func evalFloat(op wasm.Opcode, info wasm.OpInfo, a, b float64) (uint64, error) {
	if info.Kind == wasm.KindCompare {
		switch op {
		case wasm.OpF32Eq, wasm.OpF64Eq:
			return b2u(a == b), nil
		case wasm.OpF32Ne, wasm.OpF64Ne:
			return b2u(a != b), nil
		case wasm.OpF32Lt, wasm.OpF64Lt:
			return b2u(a < b), nil
		case wasm.OpF32Gt, wasm.OpF64Gt:
			return b2u(a > b), nil
		case wasm.OpF32Le, wasm.OpF64Le:
			return b2u(a <= b), nil
		case wasm.OpF32Ge, wasm.OpF64Ge:
			return b2u(a >= b), nil
		}
	}
	var r float64
	switch op {
	case wasm.OpF32Add, wasm.OpF64Add:
		r = a + b
	case wasm.OpF32Sub, wasm.OpF64Sub:
		r = a - b
	case wasm.OpF32Mul, wasm.OpF64Mul:
		r = a * b
	case wasm.OpF32Div, wasm.OpF64Div:
		r = a / b
	case wasm.OpF32Min, wasm.OpF64Min:
		r = math.Min(a, b)
	case wasm.OpF32Max, wasm.OpF64Max:
		r = math.Max(a, b)
	case wasm.OpF32Copysign, wasm.OpF64Copysign:
		r = math.Copysign(a, b)
	default:
		return 0, errors.Wrapf(ErrUnsupported, "binary %s", op)
	}
	return floatTo(info.Out, r), nil
}
