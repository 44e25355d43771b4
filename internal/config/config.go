// Package config holds the decompiler settings. They come from defaults,
// then an optional TOML file, then command-line flags.
package config

import (
	"os"
	"runtime"

	"github.com/containerd/errdefs"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/monolab825/soroban-auditor/internal/ir"
	"github.com/monolab825/soroban-auditor/internal/patterns"
	"github.com/monolab825/soroban-auditor/internal/structure"
)

type Config struct {
	LogLevel string
	// Workers bounds how many functions are decompiled at once. Zero means
	// one per CPU.
	Workers int
	// Validate runs the module through the wasm runtime's validator before
	// decoding it.
	Validate bool

	Optimizer   OptimizerCfg
	Structuring StructuringCfg
	Signatures  FileCfg
	Patterns    PatternsCfg
	Metrics     FileCfg
}

type OptimizerCfg struct {
	Propagate     bool
	Fold          bool
	DeadCode      bool
	MaxIterations int
}

type StructuringCfg struct {
	SplitIrreducible bool
	MaxSplitBlocks   int
}

type FileCfg struct {
	File string
}

type PatternsCfg struct {
	File      string
	Threshold float64
}

// Default returns the built-in settings.
func Default() *Config {
	opt := ir.DefaultOptimizeOptions()
	pol := structure.DefaultPolicy()
	return &Config{
		LogLevel: "info",
		Validate: true,
		Optimizer: OptimizerCfg{
			Propagate:     opt.Propagate,
			Fold:          opt.Fold,
			DeadCode:      opt.DeadCode,
			MaxIterations: opt.MaxIterations,
		},
		Structuring: StructuringCfg{
			SplitIrreducible: pol.SplitIrreducible,
			MaxSplitBlocks:   pol.MaxSplitBlocks,
		},
		Patterns: PatternsCfg{Threshold: patterns.DefaultThreshold},
	}
}

// fileConfig mirrors Config with pointers so keys absent from the file keep
// their defaults.
type fileConfig struct {
	LogLevel  *string `toml:"log_level"`
	Workers   *int    `toml:"workers"`
	Validate  *bool   `toml:"validate"`
	Optimizer struct {
		Propagate     *bool `toml:"propagate"`
		Fold          *bool `toml:"fold"`
		DeadCode      *bool `toml:"dead_code"`
		MaxIterations *int  `toml:"max_iterations"`
	} `toml:"optimizer"`
	Structuring struct {
		SplitIrreducible *bool `toml:"split_irreducible"`
		MaxSplitBlocks   *int  `toml:"max_split_blocks"`
	} `toml:"structuring"`
	Signatures struct {
		File *string `toml:"file"`
	} `toml:"signatures"`
	Patterns struct {
		File      *string  `toml:"file"`
		Threshold *float64 `toml:"threshold"`
	} `toml:"patterns"`
	Metrics struct {
		File *string `toml:"file"`
	} `toml:"metrics"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Parse overlays a TOML document on the defaults.
func Parse(data []byte) (*Config, error) {
	var f fileConfig
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "config: %v", err)
	}
	c := Default()
	set(&c.LogLevel, f.LogLevel)
	set(&c.Workers, f.Workers)
	set(&c.Validate, f.Validate)
	set(&c.Optimizer.Propagate, f.Optimizer.Propagate)
	set(&c.Optimizer.Fold, f.Optimizer.Fold)
	set(&c.Optimizer.DeadCode, f.Optimizer.DeadCode)
	set(&c.Optimizer.MaxIterations, f.Optimizer.MaxIterations)
	set(&c.Structuring.SplitIrreducible, f.Structuring.SplitIrreducible)
	set(&c.Structuring.MaxSplitBlocks, f.Structuring.MaxSplitBlocks)
	set(&c.Signatures.File, f.Signatures.File)
	set(&c.Patterns.File, f.Patterns.File)
	set(&c.Patterns.Threshold, f.Patterns.Threshold)
	set(&c.Metrics.File, f.Metrics.File)
	if err := c.Check(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}
	c, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return c, nil
}

// Check checks value ranges.
func (c *Config) Check() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(errdefs.ErrInvalidArgument, "config: log_level: %v", err)
	}
	if c.Workers < 0 {
		return errors.Wrapf(errdefs.ErrInvalidArgument, "config: workers must not be negative, got %d", c.Workers)
	}
	if c.Optimizer.MaxIterations < 0 {
		return errors.Wrapf(errdefs.ErrInvalidArgument, "config: optimizer.max_iterations must not be negative, got %d", c.Optimizer.MaxIterations)
	}
	if c.Structuring.MaxSplitBlocks < 0 {
		return errors.Wrapf(errdefs.ErrInvalidArgument, "config: structuring.max_split_blocks must not be negative, got %d", c.Structuring.MaxSplitBlocks)
	}
	if c.Patterns.Threshold < 0 || c.Patterns.Threshold > 1 {
		return errors.Wrapf(errdefs.ErrInvalidArgument, "config: patterns.threshold %v outside [0, 1]", c.Patterns.Threshold)
	}
	return nil
}

// Level is the parsed log level. It assumes Check passed.
func (c *Config) Level() logrus.Level {
	l, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return l
}

// NumWorkers resolves the zero value of Workers.
func (c *Config) NumWorkers() int {
	if c.Workers == 0 {
		return runtime.NumCPU()
	}
	return c.Workers
}

func (c *Config) OptimizeOptions() ir.OptimizeOptions {
	return ir.OptimizeOptions{
		Propagate:     c.Optimizer.Propagate,
		Fold:          c.Optimizer.Fold,
		DeadCode:      c.Optimizer.DeadCode,
		MaxIterations: c.Optimizer.MaxIterations,
	}
}

func (c *Config) Policy() structure.Policy {
	return structure.Policy{
		SplitIrreducible: c.Structuring.SplitIrreducible,
		MaxSplitBlocks:   c.Structuring.MaxSplitBlocks,
	}
}
