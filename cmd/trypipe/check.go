package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dcshock/trypipe/config"
	"github.com/dcshock/trypipe/syntax"
	"github.com/dcshock/trypipe/validate"
)

var (
	checkJSON   bool
	checkStrict bool
)

var checkCmd = &cobra.Command{
	Use:   "check FILE...",
	Short: "Parse and validate pipeline files",
	Long: `Parses and validates each file and prints its diagnostics, or "OK: FILE"
when it has no errors. Files are checked concurrently ([check] concurrency in
the settings).

YAML files may call functions the CLI does not know; use --strict to require
every called function to be builtin or bundled (http.get, http.get_json,
json.decode).`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print the reports as JSON")
	checkCmd.Flags().BoolVar(&checkStrict, "strict", false, "reject calls to unknown functions in YAML files")
}

// fileReport is the check result for one file.
type fileReport struct {
	File        string                `json:"file"`
	OK          bool                  `json:"ok"`
	Diagnostics []validate.Diagnostic `json:"diagnostics"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	opts := settings.ValidateOptions()
	reports := make([]fileReport, len(args))

	g, ctx := errgroup.WithContext(cmdContext(cmd))
	g.SetLimit(settings.Check.Concurrency)
	for i, path := range args {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			reports[i] = checkFile(path, opts)
			logger.Debug("checked", zap.String("file", path), zap.Int("diagnostics", len(reports[i].Diagnostics)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, r := range reports {
		if !r.OK {
			failed++
		}
	}
	if checkJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			for _, d := range r.Diagnostics {
				fmt.Fprintln(out, d)
			}
			if r.OK {
				fmt.Fprintf(out, "OK: %s\n", r.File)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(reports))
	}
	return nil
}

func checkFile(path string, opts *validate.Options) fileReport {
	r := fileReport{File: path}
	data, err := os.ReadFile(path)
	switch {
	case err != nil:
		r.Diagnostics = diagnostics(path, err)
	case isYAML(path):
		r.Diagnostics = checkYAML(path, data, opts)
	default:
		p, err := syntax.Parse(path, string(data), syntax.WithLogger(logger))
		if err != nil {
			r.Diagnostics = diagnostics(path, err)
		} else {
			r.Diagnostics = validate.Check(p, opts)
		}
	}
	r.OK = true
	for _, d := range r.Diagnostics {
		if d.Severity == validate.SeverityError {
			r.OK = false
		}
	}
	if r.Diagnostics == nil {
		r.Diagnostics = []validate.Diagnostic{}
	}
	return r
}

func checkYAML(path string, data []byte, opts *validate.Options) []validate.Diagnostic {
	reg := newRegistry()
	buildOpts := &config.BuildOptions{File: path, Validate: opts, AllowUnregistered: !checkStrict}

	multi, err := config.ParseMultiPipelineConfig(data)
	if err != nil {
		return diagnostics(path, err)
	}
	if len(multi.Pipelines) == 0 {
		cfg, err := config.ParsePipelineConfig(data)
		if err != nil {
			return diagnostics(path, err)
		}
		b, err := config.BuildPipeline(reg, cfg, buildOpts)
		if err != nil {
			return diagnostics(path, err)
		}
		return b.Warnings
	}

	names := make([]string, 0, len(multi.Pipelines))
	for name := range multi.Pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	var diags []validate.Diagnostic
	built := make(map[string]*config.Built, len(names))
	for _, name := range names {
		cfg := multi.Pipelines[name]
		if cfg.Name == "" {
			cfg.Name = name
		}
		b, err := config.BuildPipeline(reg, &cfg, buildOpts)
		if err != nil {
			diags = append(diags, diagnostics(path, err)...)
			continue
		}
		diags = append(diags, b.Warnings...)
		built[name] = b
	}
	if len(built) == len(names) {
		if _, err := config.BuildAllSequences(multi, built); err != nil {
			diags = append(diags, diagnostics(path, err)...)
		}
	}
	return diags
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
