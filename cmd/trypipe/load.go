package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dcshock/trypipe/config"
	"github.com/dcshock/trypipe/failure"
	"github.com/dcshock/trypipe/httpfuncs"
	"github.com/dcshock/trypipe/pipeline"
	"github.com/dcshock/trypipe/syntax"
	"github.com/dcshock/trypipe/validate"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// newRegistry returns the functions available to pipelines run by the CLI.
func newRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterAll(httpfuncs.Funcs(nil))
	return reg
}

// target is something runnable: a text program, a built YAML pipeline or a
// sequence.
type target interface {
	Name() string
	Run(ctx context.Context, vars map[string]any, opts *pipeline.RunOptions) (any, error)
}

type programTarget struct {
	prog  *pipeline.Program
	funcs pipeline.Resolver
	types *failure.Types
	retry *pipeline.RetryPolicy
}

func (t programTarget) Name() string { return t.prog.Name() }

func (t programTarget) Run(ctx context.Context, vars map[string]any, opts *pipeline.RunOptions) (any, error) {
	return t.prog.Run(ctx, &pipeline.Env{Funcs: t.funcs, Vars: vars, Types: t.types}, withRetry(opts, t.retry))
}

type sequenceTarget struct {
	seq   *pipeline.Sequence
	funcs pipeline.Resolver
	types *failure.Types
	retry *pipeline.RetryPolicy
}

func (t sequenceTarget) Name() string { return t.seq.Name }

func (t sequenceTarget) Run(ctx context.Context, vars map[string]any, opts *pipeline.RunOptions) (any, error) {
	return t.seq.Run(ctx, &pipeline.Env{Funcs: t.funcs, Vars: vars, Types: t.types}, withRetry(opts, t.retry))
}

func withRetry(opts *pipeline.RunOptions, retry *pipeline.RetryPolicy) *pipeline.RunOptions {
	var o pipeline.RunOptions
	if opts != nil {
		o = *opts
	}
	if o.Retry == nil {
		o.Retry = retry
	}
	return &o
}

// loadTarget reads path and returns the pipeline or sequence called name.
// name may be empty when the file defines a single pipeline. A nil reg skips
// the registry check; the result is then for inspection only.
func loadTarget(path, name string, reg *config.Registry, opts *validate.Options) (target, []validate.Diagnostic, error) {
	if opts == nil {
		opts = &validate.Options{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if !isYAML(path) {
		if name != "" {
			return nil, nil, fmt.Errorf("%s: --pipeline only applies to YAML files", path)
		}
		p, err := syntax.Parse(path, string(data), syntax.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		v, err := validate.Validate(p, opts)
		if err != nil {
			return nil, nil, err
		}
		return programTarget{prog: pipeline.Compile(v), funcs: reg, types: opts.Types, retry: settings.RetryPolicy()}, v.Warnings(), nil
	}

	buildOpts := &config.BuildOptions{File: path, Validate: opts, Retry: settings.RetryPolicy(), AllowUnregistered: reg == nil}
	multi, err := config.ParseMultiPipelineConfig(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(multi.Pipelines) == 0 {
		cfg, err := config.ParsePipelineConfig(data)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		if name != "" && name != cfg.Name {
			return nil, nil, fmt.Errorf("%s: no pipeline %q", path, name)
		}
		b, err := config.BuildPipeline(reg, cfg, buildOpts)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Warnings, nil
	}

	built, err := config.BuildAllPipelines(reg, multi, buildOpts)
	if err != nil {
		return nil, nil, err
	}
	if name == "" {
		if len(built) != 1 || len(multi.Sequences) > 0 {
			return nil, nil, fmt.Errorf("%s defines several pipelines; choose one with --pipeline (%s)", path, strings.Join(targetNames(multi), ", "))
		}
		for n := range built {
			name = n
		}
	}
	if b, ok := built[name]; ok {
		return b, b.Warnings, nil
	}
	seqs, err := config.BuildAllSequences(multi, built)
	if err != nil {
		return nil, nil, err
	}
	if seq, ok := seqs[name]; ok {
		return sequenceTarget{seq: seq, funcs: reg, types: opts.Types, retry: settings.RetryPolicy()}, nil, nil
	}
	return nil, nil, fmt.Errorf("%s: no pipeline or sequence %q", path, name)
}

func targetNames(multi *config.MultiPipelineConfig) []string {
	var names []string
	for n := range multi.Pipelines {
		names = append(names, n)
	}
	for n := range multi.Sequences {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// diagnostics turns a load error into diagnostics positioned in file.
func diagnostics(file string, err error) []validate.Diagnostic {
	var ve *validate.Error
	if errors.As(err, &ve) {
		return ve.Diagnostics
	}
	if d, ok := validate.FromSyntax(err); ok {
		return []validate.Diagnostic{d}
	}
	return []validate.Diagnostic{{
		Severity: validate.SeverityError,
		Span:     syntax.Span{File: file},
		Message:  err.Error(),
	}}
}
