package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/sirupsen/logrus"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/monolab825/soroban-auditor/internal/ir"
	"github.com/monolab825/soroban-auditor/internal/structure"
)

func TestDefaults(t *testing.T) {
	c := Default()
	assert.NilError(t, c.Check())
	assert.Check(t, is.DeepEqual(c.OptimizeOptions(), ir.DefaultOptimizeOptions()))
	assert.Check(t, is.DeepEqual(c.Policy(), structure.DefaultPolicy()))
	assert.Check(t, c.NumWorkers() > 0)
	assert.Check(t, is.Equal(c.Level(), logrus.InfoLevel))
}

func TestParseOverlaysDefaults(t *testing.T) {
	c, err := Parse([]byte(`
log_level = "debug"
workers = 3

[optimizer]
dead_code = false

[structuring]
max_split_blocks = 4

[signatures]
file = "contract.sigs.toml"

[patterns]
threshold = 0.75
`))
	assert.NilError(t, err)
	want := Default()
	want.LogLevel = "debug"
	want.Workers = 3
	want.Optimizer.DeadCode = false
	want.Structuring.MaxSplitBlocks = 4
	want.Signatures.File = "contract.sigs.toml"
	want.Patterns.Threshold = 0.75
	assert.Check(t, is.DeepEqual(c, want))
	assert.Check(t, is.Equal(c.NumWorkers(), 3))
	assert.Check(t, is.Equal(c.Level(), logrus.DebugLevel))
	assert.Check(t, c.Policy().SplitIrreducible, "untouched keys keep their defaults")
}

func TestParseRejects(t *testing.T) {
	for name, src := range map[string]string{
		"syntax":    "workers = ",
		"level":     `log_level = "loud"`,
		"workers":   "workers = -1",
		"split":     "[structuring]\nmax_split_blocks = -2",
		"threshold": "[patterns]\nthreshold = 1.5",
		"type":      `workers = "many"`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src))
			assert.Check(t, errdefs.IsInvalidArgument(err), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	c, err := Load("")
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(c, Default()))

	path := filepath.Join(t.TempDir(), "auditor.toml")
	assert.NilError(t, os.WriteFile(path, []byte("validate = false\n"), 0o644))
	c, err = Load(path)
	assert.NilError(t, err)
	assert.Check(t, !c.Validate)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Check(t, is.ErrorContains(err, "config"))
}
