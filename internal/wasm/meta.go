package wasm

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/monolab825/soroban-auditor/internal/types"
)

// FuncMeta is what the runtime reports about an imported or exported function.
type FuncMeta struct {
	Index      uint32
	Name       string
	Exports    []string
	Module     string
	Field      string
	Imported   bool
	Params     []types.ValType
	Results    []types.ValType
	ParamNames []string
}

// Metadata holds the validated view of a module's import/export surface.
type Metadata struct {
	Name  string
	Funcs map[uint32]FuncMeta
}

// Inspect validates bin by compiling it with wazero's interpreter and collects
// the signatures of imported and exported functions.
func Inspect(ctx context.Context, bin []byte) (*Metadata, error) {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)

	cm, err := r.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Wrap(err, "invalid wasm module")
	}
	defer cm.Close(ctx)

	md := &Metadata{Name: cm.Name(), Funcs: map[uint32]FuncMeta{}}
	for _, d := range cm.ImportedFunctions() {
		md.Funcs[d.Index()] = funcMeta(d)
	}
	for _, d := range cm.ExportedFunctions() {
		if _, ok := md.Funcs[d.Index()]; ok {
			continue
		}
		md.Funcs[d.Index()] = funcMeta(d)
	}
	return md, nil
}

func funcMeta(d api.FunctionDefinition) FuncMeta {
	fm := FuncMeta{
		Index:      d.Index(),
		Name:       d.Name(),
		Exports:    append([]string(nil), d.ExportNames()...),
		ParamNames: d.ParamNames(),
	}
	sort.Strings(fm.Exports)
	fm.Module, fm.Field, fm.Imported = d.Import()
	for _, t := range d.ParamTypes() {
		fm.Params = append(fm.Params, types.ValType(t))
	}
	for _, t := range d.ResultTypes() {
		fm.Results = append(fm.Results, types.ValType(t))
	}
	return fm
}

// Apply cross-checks the decoded module against validated metadata and fills
// in names the module's own sections did not provide.
func (m *Module) Apply(md *Metadata) error {
	for idx, fm := range md.Funcs {
		f := m.Func(idx)
		if f == nil {
			return errors.Wrapf(ErrMalformed, "runtime reports function %d, decoder has %d", idx, len(m.Funcs))
		}
		if f.Imported != fm.Imported {
			return errors.Wrapf(ErrMalformed, "function %d: import status disagrees", idx)
		}
		if !sameTypes(f.Type.Params, fm.Params) || !sameTypes(f.Type.Results, fm.Results) {
			return errors.Wrapf(ErrMalformed, "function %d: signature %v disagrees with runtime", idx, f.Type)
		}
		if f.Name == "" {
			switch {
			case fm.Name != "":
				f.Name = fm.Name
			case len(fm.Exports) > 0:
				f.Name = fm.Exports[0]
			}
		}
	}
	return nil
}

func sameTypes(a, b []types.ValType) bool {
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
