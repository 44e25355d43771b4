// Package decompiler runs the whole pipeline over a module: decoding,
// graph construction, SSA, optimization, SSA destruction, structuring,
// rendering and pattern replacement.
package decompiler

import (
	"context"
	"strconv"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/docker/go-units"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/monolab825/soroban-auditor/internal/config"
	"github.com/monolab825/soroban-auditor/internal/ir"
	"github.com/monolab825/soroban-auditor/internal/metrics"
	"github.com/monolab825/soroban-auditor/internal/patterns"
	"github.com/monolab825/soroban-auditor/internal/render"
	"github.com/monolab825/soroban-auditor/internal/sigs"
	"github.com/monolab825/soroban-auditor/internal/structure"
	"github.com/monolab825/soroban-auditor/internal/wasm"
)

type Options struct {
	Optimize ir.OptimizeOptions
	Policy   structure.Policy
	Workers  int
	// Validate compiles the module with the wasm runtime before decoding.
	Validate bool
	// ShowGraph keeps the Graphviz form of each graph as it enters
	// structuring.
	ShowGraph bool

	Sigs     *sigs.Library
	Patterns *patterns.Set
	Metrics  *metrics.Metrics
}

// FromConfig fills the options a config file can set. Sigs and Patterns
// are loaded by the caller.
func FromConfig(c *config.Config) Options {
	return Options{
		Optimize: c.OptimizeOptions(),
		Policy:   c.Policy(),
		Workers:  c.NumWorkers(),
		Validate: c.Validate,
	}
}

type Decompiler struct {
	mod    *wasm.Module
	digest digest.Digest
	opts   Options
}

// Result is the output for one function.
type Result struct {
	Index    uint32
	Name     string
	Graph    string
	Code     string
	Stats    structure.Stats
	Optimize ir.OptimizeStats
	Matches  []patterns.Match
}

// New decodes bin. With opts.Validate the module is compiled by wazero
// first and its import/export metadata cross-checked with the decoder's.
func New(ctx context.Context, bin []byte, opts Options) (*Decompiler, error) {
	d := &Decompiler{digest: digest.FromBytes(bin), opts: opts}
	var md *wasm.Metadata
	if opts.Validate {
		var err error
		if md, err = wasm.Inspect(ctx, bin); err != nil {
			return nil, err
		}
	}
	mod, err := wasm.Decode(bin)
	if err != nil {
		return nil, err
	}
	if md != nil {
		if err := mod.Apply(md); err != nil {
			return nil, err
		}
	}
	d.mod = mod
	log.G(ctx).WithFields(log.Fields{
		"module":    d.digest.String(),
		"size":      units.HumanSize(float64(len(bin))),
		"functions": len(mod.Funcs),
		"imported":  mod.NumImportedFuncs,
	}).Debug("decoded module")
	return d, nil
}

func (d *Decompiler) Module() *wasm.Module  { return d.mod }
func (d *Decompiler) Digest() digest.Digest { return d.digest }

// Resolve finds a function by name or by decimal index.
func (d *Decompiler) Resolve(name string) (uint32, error) {
	if f, ok := d.mod.FuncByName(name); ok {
		return f.Index, nil
	}
	if i, err := strconv.ParseUint(name, 10, 32); err == nil {
		return uint32(i), nil
	}
	return 0, errors.Wrapf(errdefs.ErrNotFound, "no function named %q", name)
}

// FuncName names call targets: host imports by the signature sidecar,
// everything else by the module's own names.
func (d *Decompiler) FuncName(index uint32) string {
	f := d.mod.Func(index)
	if f == nil {
		return ""
	}
	if f.Imported {
		if n, ok := d.opts.Sigs.HostName(f.Module, f.Field); ok {
			return n
		}
	}
	return f.DisplayName()
}

func (d *Decompiler) signature(index uint32) *sigs.FunctionInfo {
	f := d.mod.Func(index)
	if f == nil {
		return nil
	}
	for _, name := range []string{d.mod.ExportName(index), f.Name} {
		if name == "" {
			continue
		}
		if fi, ok := d.opts.Sigs.Lookup(name); ok && fi.Matches(f.Type) {
			return fi
		}
	}
	return nil
}

// Recoverable reports whether err only concerns the one function, so a
// caller may skip it and go on.
func Recoverable(err error) bool {
	return errdefs.IsNotFound(err) || errdefs.IsFailedPrecondition(err) || errors.Is(err, ir.ErrUnsupported)
}

// Function decompiles one function.
func (d *Decompiler) Function(ctx context.Context, index uint32) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = log.WithLogger(ctx, log.G(ctx).WithField("func", index))
	res, err := d.function(ctx, index)
	switch {
	case err == nil:
		d.opts.Metrics.Function(metrics.Decompiled)
	case Recoverable(err):
		d.opts.Metrics.Function(metrics.Skipped)
	default:
		d.opts.Metrics.Function(metrics.Failed)
		if errors.Is(err, ir.ErrInvariant) {
			log.G(ctx).WithError(err).Error("internal invariant violated, this is a bug")
		}
	}
	return res, err
}

func (d *Decompiler) function(ctx context.Context, index uint32) (*Result, error) {
	m := d.opts.Metrics
	sig := d.signature(index)

	start := time.Now()
	c, err := ir.Build(d.mod, index, ir.BuildOptions{AssertParams: sig != nil})
	m.Since("build", start)
	if err != nil {
		return nil, err
	}
	res := &Result{Index: index, Name: c.Name}
	logger := log.G(ctx).WithField("name", c.Name)
	logger.WithField("blocks", len(c.Blocks)).Debug("built graph")

	start = time.Now()
	du, err := ir.TransformToSSA(c)
	m.Since("ssa", start)
	if err != nil {
		return nil, errors.Wrapf(err, "function %d: ssa", index)
	}
	phis := 0
	for _, b := range c.Blocks {
		phis += len(b.Phis())
	}
	m.Phis(phis)

	start = time.Now()
	res.Optimize = ir.Optimize(c, du, d.opts.Optimize)
	m.Since("optimize", start)
	logger.WithFields(log.Fields{
		"phis":       phis,
		"rounds":     res.Optimize.Rounds,
		"propagated": res.Optimize.Propagated,
		"folded":     res.Optimize.Folded,
		"removed":    res.Optimize.Removed,
	}).Debug("optimized")

	start = time.Now()
	err = ir.TransformOutOfSSA(c)
	m.Since("destruct", start)
	if err != nil {
		return nil, errors.Wrapf(err, "function %d: leaving ssa", index)
	}
	if d.opts.ShowGraph {
		res.Graph = c.Dot()
	}

	start = time.Now()
	fn, st, err := structure.Structure(c, d.opts.Policy)
	m.Since("structure", start)
	if err != nil {
		return nil, errors.Wrapf(err, "function %d: structuring", index)
	}
	res.Stats = st
	m.Structured(st)
	logger.WithFields(log.Fields{
		"loops":  st.Loops,
		"splits": st.Splits,
		"gotos":  st.Gotos,
	}).Debug("structured")

	start = time.Now()
	res.Code = render.Func(fn, render.Options{Names: d, Sig: sig})
	m.Since("render", start)

	start = time.Now()
	res.Code, res.Matches = d.opts.Patterns.Apply(res.Code)
	m.Since("patterns", start)
	for _, pm := range res.Matches {
		m.Pattern(pm.Name)
		logger.WithFields(log.Fields{"pattern": pm.Name, "prefix": pm.Prefix, "suffix": pm.Suffix, "prefix_distance": pm.PrefixDistance, "suffix_distance": pm.SuffixDistance}).Debug("replaced library body")
	}
	return res, nil
}

// Skip describes a function All left out.
type Skip struct {
	Index uint32
	Err   error
}

// All decompiles every function with a body, in parallel. Results come back
// in index order. Functions that fail recoverably are listed in skips; any
// other failure stops the run.
func (d *Decompiler) All(ctx context.Context) ([]*Result, []Skip, error) {
	out := make([]*Result, len(d.mod.Funcs))
	errs := make([]error, len(d.mod.Funcs))
	g, gctx := errgroup.WithContext(ctx)
	if d.opts.Workers > 0 {
		g.SetLimit(d.opts.Workers)
	}
	for i := range d.mod.Funcs {
		if d.mod.Funcs[i].Imported {
			continue
		}
		g.Go(func() error {
			res, err := d.Function(gctx, uint32(i))
			if err != nil {
				if Recoverable(err) {
					errs[i] = err
					return nil
				}
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	var results []*Result
	var skips []Skip
	for i := range out {
		switch {
		case out[i] != nil:
			results = append(results, out[i])
		case errs[i] != nil:
			skips = append(skips, Skip{Index: uint32(i), Err: errs[i]})
		}
	}
	return results, skips, nil
}
