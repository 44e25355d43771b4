// Package sigs loads the signature sidecar of a contract: source-level names
// and types for exported functions, and display names for host imports.
//
// The file is TOML:
//
//	[[functions]]
//	name = "transfer"
//	return = "Result<(), Error>"
//	[[functions.params]]
//	name = "from"
//	type = "Address"
//
//	[[host]]
//	module = "x"
//	field = "1"
//	name = "obj_cmp"
package sigs

import (
	"os"

	"github.com/containerd/errdefs"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/monolab825/soroban-auditor/internal/types"
)

type Param struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

// FunctionInfo describes one exported contract function.
type FunctionInfo struct {
	Name string `toml:"name"`
	// Export is the export the entry applies to. Empty means Name.
	Export string  `toml:"export"`
	Params []Param `toml:"params"`
	Return string  `toml:"return"` // empty for functions without a result
}

// HostFunc names an imported host function.
type HostFunc struct {
	Module string `toml:"module"`
	Field  string `toml:"field"`
	Name   string `toml:"name"`
}

type hostKey struct{ module, field string }

// Library is a parsed sidecar. A nil *Library knows nothing.
type Library struct {
	Functions []FunctionInfo `toml:"functions"`
	Host      []HostFunc     `toml:"host"`

	byExport map[string]int
	byHost   map[hostKey]string
}

// Parse decodes and indexes a sidecar.
func Parse(data []byte) (*Library, error) {
	l := &Library{}
	if err := toml.Unmarshal(data, l); err != nil {
		return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "signatures: %v", err)
	}
	l.byExport = make(map[string]int, len(l.Functions))
	for i, f := range l.Functions {
		if f.Name == "" {
			return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "signatures: function entry %d has no name", i)
		}
		key := f.exportName()
		if _, dup := l.byExport[key]; dup {
			return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "signatures: duplicate entry for export %q", key)
		}
		for j, p := range f.Params {
			if p.Name == "" || p.Type == "" {
				return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "signatures: %s: parameter %d needs a name and a type", f.Name, j)
			}
		}
		l.byExport[key] = i
	}
	l.byHost = make(map[hostKey]string, len(l.Host))
	for _, h := range l.Host {
		if h.Module == "" || h.Field == "" || h.Name == "" {
			return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "signatures: host entry %q/%q is incomplete", h.Module, h.Field)
		}
		l.byHost[hostKey{h.Module, h.Field}] = h.Name
	}
	return l, nil
}

// Load reads a sidecar from disk.
func Load(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "signatures")
	}
	l, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return l, nil
}

func (f *FunctionInfo) exportName() string {
	if f.Export != "" {
		return f.Export
	}
	return f.Name
}

// Lookup finds the entry for an export name.
func (l *Library) Lookup(export string) (*FunctionInfo, bool) {
	if l == nil {
		return nil, false
	}
	i, ok := l.byExport[export]
	if !ok {
		return nil, false
	}
	return &l.Functions[i], true
}

// HostName returns the display name of an imported host function.
func (l *Library) HostName(module, field string) (string, bool) {
	if l == nil {
		return "", false
	}
	n, ok := l.byHost[hostKey{module, field}]
	return n, ok
}

// Matches reports whether the entry can describe a function of type sig.
// Only the arity is checked: contract values are all passed as i64.
func (f *FunctionInfo) Matches(sig types.Signature) bool {
	return len(f.Params) == len(sig.Params)
}

// ParamTypes refines the parameter types of sig with the entry's names.
func (f *FunctionInfo) ParamTypes(sig types.Signature) []types.Type {
	out := make([]types.Type, len(sig.Params))
	for i, t := range sig.Params {
		out[i] = types.Raw(t)
		if i < len(f.Params) {
			out[i] = types.Named(t, f.Params[i].Type)
		}
	}
	return out
}
