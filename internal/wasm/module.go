package wasm

import (
	"fmt"

	"github.com/monolab825/soroban-auditor/internal/types"
)

// Module is the decoded subset of a WebAssembly module the decompiler needs.
// Functions are laid out in the function index space: imports first.
type Module struct {
	Types   []types.Signature
	Funcs   []Function
	Globals []Global
	Exports []Export

	NumImportedFuncs int
}

type Function struct {
	Index    uint32
	TypeIdx  uint32
	Type     types.Signature
	Name     string // from the name section or an export, may be empty
	Imported bool
	Module   string // import module name
	Field    string // import field name

	Locals []types.ValType // declared locals, excluding parameters
	Code   []Instr
}

type Global struct {
	Type    types.ValType
	Mutable bool
	Module  string
	Field   string
}

type ExternalKind byte

const (
	ExternalFunc   ExternalKind = 0x00
	ExternalTable  ExternalKind = 0x01
	ExternalMemory ExternalKind = 0x02
	ExternalGlobal ExternalKind = 0x03
)

type Export struct {
	Name  string
	Kind  ExternalKind
	Index uint32
}

// Func returns the function with the given index or nil.
func (m *Module) Func(index uint32) *Function {
	if int(index) >= len(m.Funcs) {
		return nil
	}
	return &m.Funcs[index]
}

// IsImported reports whether the function has no body in this module.
func (m *Module) IsImported(index uint32) bool {
	f := m.Func(index)
	return f != nil && f.Imported
}

// FuncByName looks a function up by name section or export name.
func (m *Module) FuncByName(name string) (*Function, bool) {
	for i := range m.Funcs {
		if m.Funcs[i].Name == name {
			return &m.Funcs[i], true
		}
	}
	for _, e := range m.Exports {
		if e.Kind == ExternalFunc && e.Name == name {
			if f := m.Func(e.Index); f != nil {
				return f, true
			}
		}
	}
	return nil, false
}

// ExportName returns the first export name of a function.
func (m *Module) ExportName(index uint32) string {
	for _, e := range m.Exports {
		if e.Kind == ExternalFunc && e.Index == index {
			return e.Name
		}
	}
	return ""
}

// DisplayName is the name a function is shown with.
func (f *Function) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return fmt.Sprintf("func_%d", f.Index)
}
