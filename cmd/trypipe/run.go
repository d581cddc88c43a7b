package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dcshock/trypipe/failure"
	"github.com/dcshock/trypipe/httpfuncs"
	"github.com/dcshock/trypipe/observer"
	"github.com/dcshock/trypipe/pipeline"
)

var (
	runVars     []string
	runPipeline string
	runStore    string
	runID       string
	runTimeout  time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run FILE",
	Short: "Run a pipeline",
	Long: `Runs the pipeline in FILE and prints its result as JSON. A failure that no
stage recovered is printed with its trace and the command exits non-zero.

Variables are passed with --var name=value; values that parse as JSON are
passed decoded, anything else as a string:

  trypipe run fetch.pipe --var url=https://example.com/status --var limit=3

Runs are recorded to the sqlite store named by --store or [store] path in the
settings, when either is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runPipelineCmd,
}

func init() {
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "pipeline variable as name=value (repeatable)")
	runCmd.Flags().StringVarP(&runPipeline, "pipeline", "p", "", "pipeline or sequence to run from a multi-pipeline YAML file")
	runCmd.Flags().StringVar(&runStore, "store", "", "sqlite file to record the run in")
	runCmd.Flags().StringVar(&runID, "run-id", "", "run id to record (default: a new UUID)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "cancel the run after this long")
}

func runPipelineCmd(cmd *cobra.Command, args []string) error {
	path := args[0]
	vars, err := parseVars(runVars)
	if err != nil {
		return err
	}
	t, warnings, err := loadTarget(path, runPipeline, newRegistry(), settings.ValidateOptions())
	if err != nil {
		for _, d := range diagnostics(path, err) {
			fmt.Fprintln(cmd.ErrOrStderr(), d)
		}
		return fmt.Errorf("%s: cannot run", path)
	}
	for _, d := range warnings {
		logger.Warn("validation", zap.String("diagnostic", d.String()))
	}

	obs := pipeline.MultiObserver{observer.NewLogObserver(logger)}
	storePath := runStore
	if storePath == "" {
		storePath = settings.Store.Path
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	if storePath != "" {
		store, err := observer.Open(ctx, storePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()
		obs = append(obs, store)
	}

	result, err := t.Run(ctx, vars, &pipeline.RunOptions{Observer: obs, RunID: runID, Logger: logger})
	if err != nil {
		if pipeline.IsSignal(err) {
			return fmt.Errorf("pipeline %s: %w outside a loop", t.Name(), err)
		}
		var f *failure.Value
		if errors.As(err, &f) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%+v", f)
		} else {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
		}
		return fmt.Errorf("pipeline %s failed", t.Name())
	}
	data, err := json.Marshal(result)
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%v\n", result)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// parseVars turns name=value pairs into pipeline variables.
func parseVars(pairs []string) (map[string]any, error) {
	decode := httpfuncs.DecodeJSON()
	vars := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("--var %q: want name=value", kv)
		}
		if v, err := decode(context.Background(), value); err == nil {
			vars[name] = v
		} else {
			vars[name] = value
		}
	}
	return vars, nil
}
