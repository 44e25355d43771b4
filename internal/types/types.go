package types

import "fmt"

// ValType is a WebAssembly value type, using its binary encoding.
type ValType byte

const (
	Void ValType = 0x40
	I32  ValType = 0x7f
	I64  ValType = 0x7e
	F32  ValType = 0x7d
	F64  ValType = 0x7c
)

// Size returns the size in bytes of a value of this type.
func (t ValType) Size() int {
	switch t {
	case I32, F32:
		return 4
	case I64, F64:
		return 8
	default:
		return 0
	}
}

func (t ValType) IsFloat() bool   { return t == F32 || t == F64 }
func (t ValType) IsInteger() bool { return t == I32 || t == I64 }

// Valid reports whether t is one of the four number types.
func (t ValType) Valid() bool { return t.IsInteger() || t.IsFloat() }

func (t ValType) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case Void:
		return "void"
	default:
		return fmt.Sprintf("valtype(0x%02x)", byte(t))
	}
}

// FromByte decodes a value type from its binary encoding.
func FromByte(b byte) (ValType, error) {
	t := ValType(b)
	if !t.Valid() {
		return 0, fmt.Errorf("invalid value type 0x%02x", b)
	}
	return t, nil
}

// FromName parses the textual name of a value type ("i32", "i64", ...).
func FromName(s string) (ValType, error) {
	switch s {
	case "i32":
		return I32, nil
	case "i64":
		return I64, nil
	case "f32":
		return F32, nil
	case "f64":
		return F64, nil
	}
	return 0, fmt.Errorf("unknown value type %q", s)
}

// Type is a value type optionally refined by a source-level name coming from
// signature metadata, e.g. I64 known to carry a "Symbol".
type Type struct {
	Val  ValType
	Name string // empty when only the raw value type is known
}

func Raw(t ValType) Type { return Type{Val: t} }

func Named(t ValType, name string) Type { return Type{Val: t, Name: name} }

// String prefers the source-level name.
func (t Type) String() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Val.String()
}

// Signature is a function type.
type Signature struct {
	Params  []ValType
	Results []ValType
}

func (s Signature) String() string {
	return fmt.Sprintf("%v -> %v", s.Params, s.Results)
}
