package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/monolab825/soroban-auditor/internal/structure"
)

func TestWriteFile(t *testing.T) {
	m := New()
	m.Function(Decompiled)
	m.Function(Decompiled)
	m.Function(Skipped)
	m.Stage("ssa", 3*time.Millisecond)
	m.Phis(4)
	m.Structured(structure.Stats{Blocks: 6, Splits: 1, Loops: 3, PreTest: 1, PostTest: 1, Gotos: 2})
	m.Pattern("decode_u32")

	path := filepath.Join(t.TempDir(), "auditor.prom")
	assert.NilError(t, m.WriteFile(path))
	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	out := string(data)
	for _, line := range []string{
		`auditor_functions_total{result="decompiled"} 2`,
		`auditor_functions_total{result="skipped"} 1`,
		`auditor_functions_total{result="failed"} 0`,
		`auditor_stage_duration_seconds_count{stage="ssa"} 1`,
		`auditor_phis_total 4`,
		`auditor_split_blocks_total 1`,
		`auditor_gotos_total 2`,
		`auditor_loops_total{kind="infinite"} 1`,
		`auditor_loops_total{kind="pre_test"} 1`,
		`auditor_function_blocks_count 1`,
		`auditor_pattern_matches_total{pattern="decode_u32"} 1`,
	} {
		assert.Check(t, is.Contains(out, line))
	}
}

func TestNilIsNoop(t *testing.T) {
	var m *Metrics
	m.Function(Failed)
	m.Since("build", time.Now())
	m.Phis(1)
	m.Structured(structure.Stats{})
	m.Pattern("x")
	assert.Check(t, m.Registry() == nil)
	assert.NilError(t, m.WriteFile(filepath.Join(t.TempDir(), "x.prom")))
}
