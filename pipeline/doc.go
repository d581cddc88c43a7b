// Package pipeline executes validated error-handling pipelines. A Program is
// compiled from a validate.Validated pipeline and run against an Env of host
// functions and variables:
//
//	prog, err := pipeline.Load("load.pipe", src, nil)
//	...
//	v, err := prog.Run(ctx, &pipeline.Env{Funcs: funcs}, nil)
//
// Run returns the value of the try body (or of the Catch that recovered it),
// a *failure.Value carrying the trace of an unrecovered failure, or ErrBreak /
// ErrContinue when a handler asked the caller's loop to break or continue.
//
// Stages execute strictly in declaration order. A failure walks the handler
// chain once: Inspect observes it, Throw replaces it (keeping its frames and
// linking it as a cause), and the first matching Catch ends the walk. Finally
// runs exactly once on every exit path, after the outcome is fixed and before
// Run returns; its own failures are logged and never change the outcome.
//
// Iterating forms (`try for`, `try any`, `try all`) run the body once per
// element; `try while` retries under an optional RetryPolicy. In an `async try`
// a host function may return a Future (see Go and Async) which is awaited at
// the call site, so handlers only ever see resolved outcomes. Timeouts are the
// caller's concern: wrap functions with WithTimeout or pass a context with a
// deadline.
//
// Optional pre/post hooks (Observer) let you record runs, e.g. with the
// observer package's zap and sqlite observers. Pass RunOptions{Observer: o}.
// When Observer is set and RunID is empty a UUID is generated; host functions
// can read it with RunIDFromContext.
package pipeline
