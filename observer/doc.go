// Package observer provides pipeline.Observer implementations.
//
//   - LogObserver: logs each run and stage with zap. Stage lines are at debug
//     level and carry the stage location in the pipeline source.
//   - Store: persists each run and its stages to sqlite (trypipe_run,
//     trypipe_run_stage) for monitoring. A failed run keeps its trace as
//     JSON; RunRecord.Failure decodes it back into a *failure.Value.
//
// Combine them with pipeline.MultiObserver:
//
//	store, err := observer.Open(ctx, "runs.db")
//	...
//	obs := pipeline.MultiObserver{observer.NewLogObserver(logger), store}
//	prog.Run(ctx, env, &pipeline.RunOptions{Observer: obs})
//
// Store.Attempts counts how many times a run executed its try body, which for
// `try while` pipelines is the number of retry attempts.
package observer
