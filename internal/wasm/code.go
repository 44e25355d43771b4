package wasm

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/monolab825/soroban-auditor/internal/types"
)

// BlockType is the signature of a block, loop or if. Void means no results;
// a number type means a single result; a type index refers to Module.Types.
type BlockType struct {
	Val     types.ValType
	TypeIdx int32 // -1 unless the block uses a function type
}

// Instr is one decoded instruction. Only the immediates relevant to Op are set.
type Instr struct {
	Op      Opcode
	Index   uint32 // local, global, function, type or label index; br_table default
	Offset  uint32 // memarg offset
	Align   uint32 // memarg alignment
	Const   uint64 // constant bits for the const instructions
	Block   BlockType
	Targets []uint32 // br_table labels
	Types   []types.ValType
}

type reader struct {
	*bytes.Reader
}

func newReader(b []byte) *reader { return &reader{bytes.NewReader(b)} }

func (r *reader) u32() (uint32, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, err
	}
	if v > 0xffffffff {
		return 0, errors.New("leb128 overflow")
	}
	return uint32(v), nil
}

func (r *reader) sleb(bits uint) (int64, error) {
	var result int64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			break
		}
		if shift >= bits+7 {
			return 0, errors.New("leb128 overflow")
		}
	}
	return result, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n > r.Len() {
		return nil, io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *reader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	return string(b), err
}

func (r *reader) fixed32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) fixed64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) blockType() (BlockType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return BlockType{}, err
	}
	switch t := types.ValType(b); {
	case t == types.Void:
		return BlockType{Val: types.Void, TypeIdx: -1}, nil
	case t.Valid():
		return BlockType{Val: t, TypeIdx: -1}, nil
	}
	if err := r.UnreadByte(); err != nil {
		return BlockType{}, err
	}
	idx, err := r.sleb(33)
	if err != nil {
		return BlockType{}, err
	}
	if idx < 0 {
		return BlockType{}, errors.Errorf("invalid block type %d", idx)
	}
	return BlockType{Val: types.Void, TypeIdx: int32(idx)}, nil
}

// DecodeCode decodes a function body expression into instructions. The final
// end instruction is included.
func DecodeCode(code []byte) ([]Instr, error) {
	r := newReader(code)
	var out []Instr
	for r.Len() > 0 {
		pos := len(code) - r.Len()
		ins, err := decodeInstr(r)
		if err != nil {
			return nil, errors.Wrapf(err, "offset %d", pos)
		}
		out = append(out, ins)
	}
	return out, nil
}

func decodeInstr(r *reader) (Instr, error) {
	b, err := r.ReadByte()
	if err != nil {
		return Instr{}, err
	}
	ins := Instr{Op: Opcode(b)}
	switch op := ins.Op; {
	case op == OpBlock || op == OpLoop || op == OpIf:
		ins.Block, err = r.blockType()
	case op == OpBr || op == OpBrIf || op == OpCall || op == OpLocalGet || op == OpLocalSet ||
		op == OpLocalTee || op == OpGlobalGet || op == OpGlobalSet:
		ins.Index, err = r.u32()
	case op == OpBrTable:
		var n uint32
		if n, err = r.u32(); err != nil {
			break
		}
		ins.Targets = make([]uint32, n)
		for i := range ins.Targets {
			if ins.Targets[i], err = r.u32(); err != nil {
				break
			}
		}
		if err == nil {
			ins.Index, err = r.u32()
		}
	case op == OpCallIndirect:
		if ins.Index, err = r.u32(); err == nil {
			_, err = r.ReadByte() // table index
		}
	case op == OpSelectT:
		var n uint32
		if n, err = r.u32(); err != nil {
			break
		}
		for i := uint32(0); i < n && err == nil; i++ {
			var t byte
			if t, err = r.ReadByte(); err == nil {
				ins.Types = append(ins.Types, types.ValType(t))
			}
		}
		ins.Op = OpSelect
	case op.IsLoad() || op.IsStore():
		if ins.Align, err = r.u32(); err == nil {
			ins.Offset, err = r.u32()
		}
	case op == OpMemorySize || op == OpMemoryGrow:
		_, err = r.ReadByte()
	case op == OpI32Const:
		var v int64
		v, err = r.sleb(32)
		ins.Const = uint64(uint32(int32(v)))
	case op == OpI64Const:
		var v int64
		v, err = r.sleb(64)
		ins.Const = uint64(v)
	case op == OpF32Const:
		var v uint32
		v, err = r.fixed32()
		ins.Const = uint64(v)
	case op == OpF64Const:
		ins.Const, err = r.fixed64()
	case op == OpPrefixFC:
		var sub uint32
		if sub, err = r.u32(); err != nil {
			break
		}
		ins.Op = OpPrefixFC<<8 | Opcode(sub)
		switch ins.Op {
		case OpMemoryCopy:
			_, err = r.bytes(2)
		case OpMemoryFill:
			_, err = r.ReadByte()
		default:
			if _, ok := ins.Op.Info(); !ok {
				err = errors.Errorf("unsupported instruction 0xfc %d", sub)
			}
		}
	default:
		if _, ok := controlNames[op]; ok {
			break
		}
		if _, ok := op.Info(); !ok {
			err = errors.Errorf("unsupported instruction 0x%02x", b)
		}
	}
	return ins, err
}
