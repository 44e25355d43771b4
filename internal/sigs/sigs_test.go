package sigs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/monolab825/soroban-auditor/internal/types"
)

const sample = `
[[functions]]
name = "transfer"
return = "Result<(), Error>"

[[functions.params]]
name = "from"
type = "Address"

[[functions.params]]
name = "amount"
type = "i128"

[[functions]]
name = "init"
export = "__constructor"

[[host]]
module = "x"
field = "1"
name = "obj_cmp"
`

func TestParse(t *testing.T) {
	l, err := Parse([]byte(sample))
	assert.NilError(t, err)
	assert.Check(t, is.Len(l.Functions, 2))

	f, ok := l.Lookup("transfer")
	assert.Assert(t, ok)
	assert.Check(t, is.Equal(f.Return, "Result<(), Error>"))
	assert.Check(t, is.DeepEqual(f.Params, []Param{{"from", "Address"}, {"amount", "i128"}}))

	_, ok = l.Lookup("init")
	assert.Check(t, !ok, "entries with an export are keyed by it")
	f, ok = l.Lookup("__constructor")
	assert.Assert(t, ok)
	assert.Check(t, is.Equal(f.Name, "init"))

	n, ok := l.HostName("x", "1")
	assert.Check(t, ok)
	assert.Check(t, is.Equal(n, "obj_cmp"))
	_, ok = l.HostName("x", "2")
	assert.Check(t, !ok)
}

func TestParseRejects(t *testing.T) {
	for name, src := range map[string]string{
		"syntax":    "[[functions]\nname=",
		"no name":   "[[functions]]\nreturn = \"u32\"\n",
		"duplicate": "[[functions]]\nname = \"a\"\n[[functions]]\nname = \"a\"\n",
		"param":     "[[functions]]\nname = \"a\"\n[[functions.params]]\nname = \"x\"\n",
		"host":      "[[host]]\nmodule = \"x\"\nname = \"y\"\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src))
			assert.Check(t, errdefs.IsInvalidArgument(err), "got %v", err)
		})
	}
}

func TestNilLibrary(t *testing.T) {
	var l *Library
	_, ok := l.Lookup("transfer")
	assert.Check(t, !ok)
	_, ok = l.HostName("x", "1")
	assert.Check(t, !ok)
}

func TestMatchesAndParamTypes(t *testing.T) {
	l, err := Parse([]byte(sample))
	assert.NilError(t, err)
	f, _ := l.Lookup("transfer")

	sig := types.Signature{Params: []types.ValType{types.I64, types.I64}, Results: []types.ValType{types.I64}}
	assert.Check(t, f.Matches(sig))
	assert.Check(t, !f.Matches(types.Signature{Params: []types.ValType{types.I64}}))

	got := f.ParamTypes(sig)
	assert.Check(t, is.DeepEqual(got, []types.Type{types.Named(types.I64, "Address"), types.Named(types.I64, "i128")}))
	assert.Check(t, is.Equal(got[0].String(), "Address"))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sigs.toml")
	assert.NilError(t, os.WriteFile(path, []byte(sample), 0o644))
	l, err := Load(path)
	assert.NilError(t, err)
	assert.Check(t, is.Len(l.Host, 1))

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Check(t, is.ErrorContains(err, "signatures"))
}
