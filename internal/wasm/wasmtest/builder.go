// Package wasmtest assembles small WebAssembly binaries for tests.
package wasmtest

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/monolab825/soroban-auditor/internal/types"
	"github.com/monolab825/soroban-auditor/internal/wasm"
)

type funcType struct {
	params  []types.ValType
	results []types.ValType
}

type importFunc struct {
	module, name string
	typeIndex    uint32
}

type function struct {
	typeIndex uint32
	locals    []types.ValType
	body      []byte
	name      string
}

type export struct {
	name  string
	index uint32
}

// Builder collects types, imports and functions and encodes a module.
// Imports must be added before functions so indices stay stable.
type Builder struct {
	types     []funcType
	imports   []importFunc
	functions []function
	exports   []export
	globals   []types.ValType
	names     []export
	memory    bool
}

func New() *Builder { return &Builder{} }

// Type interns a function type and returns its index.
func (b *Builder) Type(params, results []types.ValType) uint32 {
	for i, t := range b.types {
		if same(t.params, params) && same(t.results, results) {
			return uint32(i)
		}
	}
	b.types = append(b.types, funcType{params: params, results: results})
	return uint32(len(b.types) - 1)
}

// Import adds an imported function and returns its function index.
func (b *Builder) Import(module, name string, params, results []types.ValType) uint32 {
	b.imports = append(b.imports, importFunc{module: module, name: name, typeIndex: b.Type(params, results)})
	return uint32(len(b.imports) - 1)
}

// Func adds a function with the given body (without the trailing end) and
// returns its function index.
func (b *Builder) Func(name string, params, results, locals []types.ValType, body ...[]byte) uint32 {
	b.functions = append(b.functions, function{
		typeIndex: b.Type(params, results),
		locals:    locals,
		body:      Concat(body...),
		name:      name,
	})
	idx := uint32(len(b.imports) + len(b.functions) - 1)
	if name != "" {
		b.exports = append(b.exports, export{name: name, index: idx})
	}
	return idx
}

// Global adds a mutable global initialized to zero.
func (b *Builder) Global(t types.ValType) uint32 {
	b.globals = append(b.globals, t)
	return uint32(len(b.globals) - 1)
}

// Name records a function name in a trailing name section. It takes
// precedence over export names.
func (b *Builder) Name(index uint32, name string) {
	b.names = append(b.names, export{name: name, index: index})
}

// Memory declares one page of linear memory.
func (b *Builder) Memory() { b.memory = true }

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	var out bytes.Buffer
	out.Write([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})

	if len(b.types) > 0 {
		var s bytes.Buffer
		s.Write(U32(uint32(len(b.types))))
		for _, t := range b.types {
			s.WriteByte(0x60)
			s.Write(valTypes(t.params))
			s.Write(valTypes(t.results))
		}
		out.Write(section(1, s.Bytes()))
	}
	if len(b.imports) > 0 {
		var s bytes.Buffer
		s.Write(U32(uint32(len(b.imports))))
		for _, imp := range b.imports {
			s.Write(str(imp.module))
			s.Write(str(imp.name))
			s.WriteByte(0x00)
			s.Write(U32(imp.typeIndex))
		}
		out.Write(section(2, s.Bytes()))
	}
	if len(b.functions) > 0 {
		var s bytes.Buffer
		s.Write(U32(uint32(len(b.functions))))
		for _, f := range b.functions {
			s.Write(U32(f.typeIndex))
		}
		out.Write(section(3, s.Bytes()))
	}
	if b.memory {
		out.Write(section(5, []byte{0x01, 0x00, 0x01}))
	}
	if len(b.globals) > 0 {
		var s bytes.Buffer
		s.Write(U32(uint32(len(b.globals))))
		for _, t := range b.globals {
			s.WriteByte(byte(t))
			s.WriteByte(0x01)
			switch t {
			case types.I64:
				s.Write(I64Const(0))
			case types.F32:
				s.Write(F32Const(0))
			case types.F64:
				s.Write(F64Const(0))
			default:
				s.Write(I32Const(0))
			}
			s.WriteByte(byte(wasm.OpEnd))
		}
		out.Write(section(6, s.Bytes()))
	}
	if len(b.exports) > 0 {
		var s bytes.Buffer
		s.Write(U32(uint32(len(b.exports))))
		for _, e := range b.exports {
			s.Write(str(e.name))
			s.WriteByte(0x00)
			s.Write(U32(e.index))
		}
		out.Write(section(7, s.Bytes()))
	}
	if len(b.functions) > 0 {
		var s bytes.Buffer
		s.Write(U32(uint32(len(b.functions))))
		for _, f := range b.functions {
			var body bytes.Buffer
			body.Write(U32(uint32(len(f.locals))))
			for _, l := range f.locals {
				body.Write(U32(1))
				body.WriteByte(byte(l))
			}
			body.Write(f.body)
			body.WriteByte(byte(wasm.OpEnd))
			s.Write(U32(uint32(body.Len())))
			s.Write(body.Bytes())
		}
		out.Write(section(10, s.Bytes()))
	}
	if len(b.names) > 0 {
		var sub bytes.Buffer
		sub.Write(U32(uint32(len(b.names))))
		for _, n := range b.names {
			sub.Write(U32(n.index))
			sub.Write(str(n.name))
		}
		var s bytes.Buffer
		s.Write(str("name"))
		s.WriteByte(0x01)
		s.Write(U32(uint32(sub.Len())))
		s.Write(sub.Bytes())
		out.Write(section(0, s.Bytes()))
	}
	return out.Bytes()
}

func section(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, U32(uint32(len(payload)))...)
	return append(out, payload...)
}

func valTypes(ts []types.ValType) []byte {
	out := U32(uint32(len(ts)))
	for _, t := range ts {
		out = append(out, byte(t))
	}
	return out
}

func str(s string) []byte { return append(U32(uint32(len(s))), s...) }

func same(a, b []types.ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// U32 encodes an unsigned LEB128 value.
func U32(v uint32) []byte {
	var buf [binary.MaxVarintLen32]byte
	n := binary.PutUvarint(buf[:], uint64(v))
	return append([]byte(nil), buf[:n]...)
}

// S64 encodes a signed LEB128 value.
func S64(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// Concat joins instruction encodings.
func Concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Op encodes an instruction without immediates.
func Op(op wasm.Opcode) []byte { return []byte{byte(op)} }

func I32Const(v int32) []byte { return append([]byte{byte(wasm.OpI32Const)}, S64(int64(v))...) }
func I64Const(v int64) []byte { return append([]byte{byte(wasm.OpI64Const)}, S64(v)...) }

func F32Const(v float32) []byte {
	out := []byte{byte(wasm.OpF32Const), 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(out[1:], math.Float32bits(v))
	return out
}

func F64Const(v float64) []byte {
	out := []byte{byte(wasm.OpF64Const), 0, 0, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint64(out[1:], math.Float64bits(v))
	return out
}

func LocalGet(i uint32) []byte  { return append([]byte{byte(wasm.OpLocalGet)}, U32(i)...) }
func LocalSet(i uint32) []byte  { return append([]byte{byte(wasm.OpLocalSet)}, U32(i)...) }
func LocalTee(i uint32) []byte  { return append([]byte{byte(wasm.OpLocalTee)}, U32(i)...) }
func GlobalGet(i uint32) []byte { return append([]byte{byte(wasm.OpGlobalGet)}, U32(i)...) }
func GlobalSet(i uint32) []byte { return append([]byte{byte(wasm.OpGlobalSet)}, U32(i)...) }
func Call(f uint32) []byte      { return append([]byte{byte(wasm.OpCall)}, U32(f)...) }
func Br(l uint32) []byte        { return append([]byte{byte(wasm.OpBr)}, U32(l)...) }
func BrIf(l uint32) []byte      { return append([]byte{byte(wasm.OpBrIf)}, U32(l)...) }

func BrTable(def uint32, targets ...uint32) []byte {
	out := append([]byte{byte(wasm.OpBrTable)}, U32(uint32(len(targets)))...)
	for _, t := range targets {
		out = append(out, U32(t)...)
	}
	return append(out, U32(def)...)
}

// Block, Loop and If open a structured instruction with a void or single
// value result; close it with End.
func Block(result types.ValType) []byte { return []byte{byte(wasm.OpBlock), byte(result)} }
func Loop(result types.ValType) []byte  { return []byte{byte(wasm.OpLoop), byte(result)} }
func If(result types.ValType) []byte    { return []byte{byte(wasm.OpIf), byte(result)} }
func Else() []byte                      { return Op(wasm.OpElse) }
func End() []byte                       { return Op(wasm.OpEnd) }

// Mem encodes a load or store with natural alignment 0 and the given offset.
func Mem(op wasm.Opcode, offset uint32) []byte {
	return append(append([]byte{byte(op)}, U32(0)...), U32(offset)...)
}
