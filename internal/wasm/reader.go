package wasm

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/monolab825/soroban-auditor/internal/types"
)

const (
	sectionCustom   = 0
	sectionType     = 1
	sectionImport   = 2
	sectionFunc     = 3
	sectionTable    = 4
	sectionMemory   = 5
	sectionGlobal   = 6
	sectionExport   = 7
	sectionStart    = 8
	sectionElement  = 9
	sectionCode     = 10
	sectionData     = 11
	sectionDataCnt  = 12
	nameSubsectFunc = 1
)

var magic = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// ErrMalformed is returned for binaries the reader cannot make sense of.
var ErrMalformed = errors.New("malformed wasm module")

// Decode reads a binary module. It assumes the module is valid; use Inspect
// to validate it first.
func Decode(bin []byte) (*Module, error) {
	if len(bin) < len(magic) || !bytes.Equal(bin[:len(magic)], magic) {
		return nil, errors.Wrap(ErrMalformed, "bad magic or version")
	}
	r := newReader(bin[len(magic):])
	m := &Module{}
	var funcTypes []uint32
	var names map[uint32]string
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := r.u32()
		if err != nil {
			return nil, errors.Wrap(err, "section size")
		}
		payload, err := r.bytes(int(size))
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "section %d truncated", id)
		}
		sr := newReader(payload)
		switch id {
		case sectionType:
			err = m.readTypes(sr)
		case sectionImport:
			err = m.readImports(sr)
		case sectionFunc:
			funcTypes, err = readU32Vec(sr)
		case sectionGlobal:
			err = m.readGlobals(sr)
		case sectionExport:
			err = m.readExports(sr)
		case sectionCode:
			err = m.readCode(sr, funcTypes)
		case sectionCustom:
			var n string
			if n, err = sr.name(); err == nil && n == "name" {
				names, err = readNames(sr)
			}
		case sectionTable, sectionMemory, sectionStart, sectionElement, sectionData, sectionDataCnt:
		default:
			err = errors.Errorf("unknown section id %d", id)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "section %d", id)
		}
	}
	if len(m.Funcs) != m.NumImportedFuncs+len(funcTypes) {
		// function section without code section (or vice versa)
		return nil, errors.Wrap(ErrMalformed, "function and code section counts differ")
	}
	for idx, n := range names {
		if f := m.Func(idx); f != nil {
			f.Name = n
		}
	}
	for _, e := range m.Exports {
		if e.Kind != ExternalFunc {
			continue
		}
		if f := m.Func(e.Index); f != nil && f.Name == "" {
			f.Name = e.Name
		}
	}
	return m, nil
}

func readU32Vec(r *reader) ([]uint32, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		if out[i], err = r.u32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readValTypes(r *reader) ([]types.ValType, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]types.ValType, n)
	for i := range out {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if out[i], err = types.FromByte(b); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *Module) readTypes(r *reader) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != 0x60 {
			return errors.Errorf("unexpected type form 0x%02x", form)
		}
		var sig types.Signature
		if sig.Params, err = readValTypes(r); err != nil {
			return err
		}
		if sig.Results, err = readValTypes(r); err != nil {
			return err
		}
		m.Types = append(m.Types, sig)
	}
	return nil
}

func (r *reader) limits() error {
	flags, err := r.ReadByte()
	if err != nil {
		return err
	}
	if _, err := r.u32(); err != nil {
		return err
	}
	if flags&1 != 0 {
		_, err = r.u32()
	}
	return err
}

func (m *Module) readImports(r *reader) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		module, err := r.name()
		if err != nil {
			return err
		}
		field, err := r.name()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch ExternalKind(kind) {
		case ExternalFunc:
			idx, err := r.u32()
			if err != nil {
				return err
			}
			if int(idx) >= len(m.Types) {
				return errors.Errorf("import %s.%s: type index %d out of range", module, field, idx)
			}
			m.Funcs = append(m.Funcs, Function{
				Index:    uint32(len(m.Funcs)),
				TypeIdx:  idx,
				Type:     m.Types[idx],
				Imported: true,
				Module:   module,
				Field:    field,
			})
			m.NumImportedFuncs++
		case ExternalTable:
			if _, err := r.ReadByte(); err != nil {
				return err
			}
			if err := r.limits(); err != nil {
				return err
			}
		case ExternalMemory:
			if err := r.limits(); err != nil {
				return err
			}
		case ExternalGlobal:
			t, err := r.ReadByte()
			if err != nil {
				return err
			}
			mut, err := r.ReadByte()
			if err != nil {
				return err
			}
			m.Globals = append(m.Globals, Global{Type: types.ValType(t), Mutable: mut == 1, Module: module, Field: field})
		default:
			return errors.Errorf("unknown import kind %d", kind)
		}
	}
	return nil
}

func (m *Module) readGlobals(r *reader) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		t, err := r.ReadByte()
		if err != nil {
			return err
		}
		mut, err := r.ReadByte()
		if err != nil {
			return err
		}
		// constant initializer, terminated by end
		for {
			ins, err := decodeInstr(r)
			if err != nil {
				return err
			}
			if ins.Op == OpEnd {
				break
			}
		}
		m.Globals = append(m.Globals, Global{Type: types.ValType(t), Mutable: mut == 1})
	}
	return nil
}

func (m *Module) readExports(r *reader) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		name, err := r.name()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		idx, err := r.u32()
		if err != nil {
			return err
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: ExternalKind(kind), Index: idx})
	}
	return nil
}

func (m *Module) readCode(r *reader, funcTypes []uint32) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	if int(n) != len(funcTypes) {
		return errors.Wrapf(ErrMalformed, "%d bodies for %d functions", n, len(funcTypes))
	}
	for i := uint32(0); i < n; i++ {
		size, err := r.u32()
		if err != nil {
			return err
		}
		body, err := r.bytes(int(size))
		if err != nil {
			return err
		}
		tidx := funcTypes[i]
		if int(tidx) >= len(m.Types) {
			return errors.Errorf("function %d: type index %d out of range", i, tidx)
		}
		f := Function{Index: uint32(len(m.Funcs)), TypeIdx: tidx, Type: m.Types[tidx]}
		br := newReader(body)
		groups, err := br.u32()
		if err != nil {
			return err
		}
		for g := uint32(0); g < groups; g++ {
			count, err := br.u32()
			if err != nil {
				return err
			}
			b, err := br.ReadByte()
			if err != nil {
				return err
			}
			t, err := types.FromByte(b)
			if err != nil {
				return err
			}
			for k := uint32(0); k < count; k++ {
				f.Locals = append(f.Locals, t)
			}
		}
		if f.Code, err = DecodeCode(body[len(body)-br.Len():]); err != nil {
			return errors.Wrapf(err, "function %d", f.Index)
		}
		m.Funcs = append(m.Funcs, f)
	}
	return nil
}

func readNames(r *reader) (map[uint32]string, error) {
	names := map[uint32]string{}
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		payload, err := r.bytes(int(size))
		if err != nil {
			return nil, err
		}
		if id != nameSubsectFunc {
			continue
		}
		sr := newReader(payload)
		n, err := sr.u32()
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < n; i++ {
			idx, err := sr.u32()
			if err != nil {
				return nil, err
			}
			name, err := sr.name()
			if err != nil {
				return nil, err
			}
			names[idx] = name
		}
	}
	return names, nil
}
