package pipeline

import "errors"

// ErrBreak and ErrContinue are returned by Run when a handler body executes
// `break` or `continue`. They target a loop enclosing the pipeline, so the
// pipeline does not interpret them: Finally still runs, no other stage does.
// Treat them as "loop control", not as failures.
var (
	ErrBreak    = errors.New("pipeline: break")
	ErrContinue = errors.New("pipeline: continue")
)

func IsBreak(err error) bool    { return errors.Is(err, ErrBreak) }
func IsContinue(err error) bool { return errors.Is(err, ErrContinue) }

// IsSignal reports whether err is a loop signal rather than a failure.
func IsSignal(err error) bool { return IsBreak(err) || IsContinue(err) }
