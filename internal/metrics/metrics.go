// Package metrics counts what the decompiler did, for export in the
// Prometheus text format. A nil *Metrics records nothing.
package metrics

import (
	"time"

	gometrics "github.com/docker/go-metrics"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/monolab825/soroban-auditor/internal/structure"
)

const namespace = "auditor"

// Function results.
const (
	Decompiled = "decompiled"
	Skipped    = "skipped"
	Failed     = "failed"
)

type Metrics struct {
	reg       *prometheus.Registry
	functions gometrics.LabeledCounter
	stages    gometrics.LabeledTimer
	blocks    prometheus.Histogram
	phis      gometrics.Counter
	splits    gometrics.Counter
	gotos     gometrics.Counter
	loops     gometrics.LabeledCounter
	patterns  gometrics.LabeledCounter
}

func New() *Metrics {
	ns := gometrics.NewNamespace(namespace, "", nil)
	m := &Metrics{
		reg:       prometheus.NewRegistry(),
		functions: ns.NewLabeledCounter("functions", "The number of functions processed, by result", "result"),
		stages:    ns.NewLabeledTimer("stage_duration", "The number of seconds each pipeline stage takes per function", "stage"),
		blocks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "function_blocks",
			Help:      "The number of basic blocks per structured function",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		phis:     ns.NewCounter("phis", "The number of phi definitions placed by SSA construction"),
		splits:   ns.NewCounter("split_blocks", "The number of blocks added by node splitting"),
		gotos:    ns.NewCounter("gotos", "The number of goto statements left in structured output"),
		loops:    ns.NewLabeledCounter("loops", "The number of loops recovered, by kind", "kind"),
		patterns: ns.NewLabeledCounter("pattern_matches", "The number of library bodies replaced, by pattern", "pattern"),
	}
	ns.Add(m.blocks)
	m.reg.MustRegister(ns)
	for _, r := range []string{Decompiled, Skipped, Failed} {
		m.functions.WithValues(r)
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Function(result string) {
	if m == nil {
		return
	}
	m.functions.WithValues(result).Inc()
}

// Stage records how long one stage took.
func (m *Metrics) Stage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.WithValues(stage).Update(d)
}

// Since records the time elapsed since start, for use with defer.
func (m *Metrics) Since(stage string, start time.Time) {
	m.Stage(stage, time.Since(start))
}

func (m *Metrics) Phis(n int) {
	if m == nil {
		return
	}
	m.phis.Inc(float64(n))
}

func (m *Metrics) Structured(st structure.Stats) {
	if m == nil {
		return
	}
	m.blocks.Observe(float64(st.Blocks))
	m.splits.Inc(float64(st.Splits))
	m.gotos.Inc(float64(st.Gotos))
	m.loops.WithValues("pre_test").Inc(float64(st.PreTest))
	m.loops.WithValues("post_test").Inc(float64(st.PostTest))
	m.loops.WithValues("infinite").Inc(float64(st.Loops - st.PreTest - st.PostTest))
}

func (m *Metrics) Pattern(name string) {
	if m == nil {
		return
	}
	m.patterns.WithValues(name).Inc()
}

// WriteFile writes every metric to path in the text exposition format.
func (m *Metrics) WriteFile(path string) error {
	if m == nil {
		return nil
	}
	return errors.Wrap(prometheus.WriteToTextfile(path, m.reg), "metrics")
}
