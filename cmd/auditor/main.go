// Command auditor decompiles WebAssembly contracts into readable Rust-like
// source.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/containerd/log"
	"github.com/moby/sys/atomicwriter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/monolab825/soroban-auditor/internal/config"
	"github.com/monolab825/soroban-auditor/internal/decompiler"
	"github.com/monolab825/soroban-auditor/internal/metrics"
	"github.com/monolab825/soroban-auditor/internal/patterns"
	"github.com/monolab825/soroban-auditor/internal/sigs"
)

type options struct {
	configFile string
	outPath    string
	showGraph  bool

	// Overrides for config keys, applied when the flag was given.
	logLevel    string
	workers     int
	validate    bool
	split       bool
	maxSplit    int
	sigsFile    string
	patterns    string
	threshold   float64
	metricsFile string
}

func newCommand(stdout, stderr io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "auditor [OPTIONS] FILE [FUNCTION]",
		Short:         "Decompile a WebAssembly contract",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), &opts, cmd.Flags(), args, stdout, stderr)
		},
	}
	installFlags(cmd.Flags(), &opts)
	return cmd
}

func installFlags(flags *pflag.FlagSet, opts *options) {
	def := config.Default()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Configuration file")
	flags.StringVarP(&opts.outPath, "output", "o", "", "Write the decompiled code to a file instead of stdout")
	flags.BoolVar(&opts.showGraph, "show-graph", false, "Print the control-flow graph in dot format before structuring")
	flags.StringVar(&opts.logLevel, "log-level", def.LogLevel, "Set the logging level")
	flags.IntVar(&opts.workers, "workers", def.Workers, "Functions decompiled in parallel (0 for one per CPU)")
	flags.BoolVar(&opts.validate, "validate", def.Validate, "Validate the module before decoding it")
	flags.BoolVar(&opts.split, "split-irreducible", def.Structuring.SplitIrreducible, "Duplicate blocks to make irreducible loops structurable")
	flags.IntVar(&opts.maxSplit, "max-split-blocks", def.Structuring.MaxSplitBlocks, "Blocks node splitting may add per function")
	flags.StringVar(&opts.sigsFile, "signatures", "", "Signature sidecar (TOML)")
	flags.StringVar(&opts.patterns, "patterns", "", "Library patterns to replace (TOML)")
	flags.Float64Var(&opts.threshold, "threshold", def.Patterns.Threshold, "Similarity a pattern needs to match")
	flags.StringVar(&opts.metricsFile, "metrics", "", "Write pipeline metrics to a file in the Prometheus text format")
}

// loadConfig reads the config file and applies the flags given on the
// command line on top of it.
func loadConfig(opts *options, flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("workers") {
		cfg.Workers = opts.workers
	}
	if flags.Changed("validate") {
		cfg.Validate = opts.validate
	}
	if flags.Changed("split-irreducible") {
		cfg.Structuring.SplitIrreducible = opts.split
	}
	if flags.Changed("max-split-blocks") {
		cfg.Structuring.MaxSplitBlocks = opts.maxSplit
	}
	if flags.Changed("signatures") {
		cfg.Signatures.File = opts.sigsFile
	}
	if flags.Changed("patterns") {
		cfg.Patterns.File = opts.patterns
	}
	if flags.Changed("threshold") {
		cfg.Patterns.Threshold = opts.threshold
	}
	if flags.Changed("metrics") {
		cfg.Metrics.File = opts.metricsFile
	}
	return cfg, cfg.Check()
}

func run(ctx context.Context, opts *options, flags *pflag.FlagSet, args []string, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts, flags)
	if err != nil {
		return err
	}
	logger := logrus.New()
	logger.SetOutput(stderr)
	logger.SetLevel(cfg.Level())
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	ctx = log.WithLogger(ctx, logrus.NewEntry(logger))

	dopts := decompiler.FromConfig(cfg)
	dopts.ShowGraph = opts.showGraph
	if cfg.Signatures.File != "" {
		if dopts.Sigs, err = sigs.Load(cfg.Signatures.File); err != nil {
			return err
		}
	}
	if cfg.Patterns.File != "" {
		if dopts.Patterns, err = patterns.Load(cfg.Patterns.File); err != nil {
			return err
		}
		dopts.Patterns.Threshold = cfg.Patterns.Threshold
	}
	if cfg.Metrics.File != "" {
		dopts.Metrics = metrics.New()
	}

	bin, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	d, err := decompiler.New(ctx, bin, dopts)
	if err != nil {
		return errors.Wrap(err, args[0])
	}

	// With -o the file is written only after every function succeeded.
	var buf bytes.Buffer
	out := stdout
	if opts.outPath != "" {
		out = &buf
	}
	fmt.Fprintf(out, "// %s\n", d.Digest())

	var results []*decompiler.Result
	if len(args) == 2 {
		index, err := d.Resolve(args[1])
		if err != nil {
			return err
		}
		res, err := d.Function(ctx, index)
		switch {
		case err == nil:
			results = append(results, res)
		case decompiler.Recoverable(err):
			fmt.Fprintf(stderr, "skipping function %d: %v\n", index, err)
		default:
			return err
		}
	} else {
		var skips []decompiler.Skip
		results, skips, err = d.All(ctx)
		if err != nil {
			return err
		}
		for _, s := range skips {
			fmt.Fprintf(stderr, "skipping function %d: %v\n", s.Index, s.Err)
		}
	}
	for _, res := range results {
		fmt.Fprintln(out)
		if res.Graph != "" {
			fmt.Fprint(out, res.Graph)
			fmt.Fprintln(out)
		}
		fmt.Fprint(out, res.Code)
	}
	if opts.outPath != "" {
		if err := atomicwriter.WriteFile(opts.outPath, buf.Bytes(), 0o644); err != nil {
			return err
		}
	}
	return dopts.Metrics.WriteFile(cfg.Metrics.File)
}

func main() {
	cmd := newCommand(os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
