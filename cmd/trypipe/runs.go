package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dcshock/trypipe/observer"
)

var (
	runsStore  string
	runsName   string
	runsStatus string
	runsLimit  int
	runsPrune  time.Duration
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs",
	Long: `Lists the runs recorded in the sqlite store, most recent first.

Use "trypipe runs show RUN_ID" for the stages and failure trace of one run, and
--prune to delete runs older than a duration.`,
	Args: cobra.NoArgs,
	RunE: listRuns,
}

var runsShowCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Show the stages and trace of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  showRun,
}

func init() {
	runsCmd.PersistentFlags().StringVar(&runsStore, "store", "", "sqlite file (default: [store] path from the settings)")
	runsCmd.Flags().StringVar(&runsName, "name", "", "only runs of this pipeline")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "only runs with this status (running, success, failed, signal)")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum runs to list")
	runsCmd.Flags().DurationVar(&runsPrune, "prune", 0, "delete runs that started longer ago than this, then list")
	runsCmd.AddCommand(runsShowCmd)
}

func openStore(cmd *cobra.Command) (*observer.Store, error) {
	path := runsStore
	if path == "" {
		path = settings.Store.Path
	}
	if path == "" {
		return nil, errors.New("no run store: pass --store or set [store] path in the settings")
	}
	return observer.Open(cmdContext(cmd), path)
}

func listRuns(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := cmdContext(cmd)

	if runsPrune > 0 {
		n, err := store.Prune(ctx, time.Now().Add(-runsPrune))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "pruned %d runs\n", n)
	}
	runs, err := store.Runs(ctx, observer.RunFilter{Name: runsName, Status: runsStatus, Limit: runsLimit})
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tPIPELINE\tSTATUS\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		duration := "-"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.Name, r.Status, r.StartedAt.Local().Format(time.DateTime), duration, r.Error)
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := cmdContext(cmd)

	run, err := store.Run(ctx, args[0])
	if err != nil {
		return err
	}
	stages, err := store.Stages(ctx, run.RunID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s (%s): %s\n", run.RunID, run.Name, run.Status)
	if len(run.Result) > 0 {
		fmt.Fprintf(out, "result: %s\n", run.Result)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tKIND\tELEMENT\tLOCATION\tSTATUS\tDURATION\tERROR")
	for _, st := range stages {
		element := "-"
		if st.Element >= 0 {
			element = fmt.Sprint(st.Element)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			st.Index, st.Kind, element, st.Location, st.Status, st.Duration, st.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	f, err := run.Failure()
	if err != nil {
		return err
	}
	if f != nil {
		fmt.Fprintf(out, "\n%+v", f)
	}
	return nil
}
