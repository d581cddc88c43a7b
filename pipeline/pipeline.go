package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dcshock/trypipe/failure"
	"github.com/dcshock/trypipe/syntax"
	"github.com/dcshock/trypipe/validate"
)

// Observer provides pre/post hooks for pipeline and stage execution so you can
// record runs (e.g. to a DB) for monitoring. BeforePipeline is called before the
// try body runs. BeforeStage/AfterStage are called around every body the engine
// executes: the try body (once per element or attempt), then bodies and each
// handler whose type and guard matched. AfterPipeline is called with the final
// outcome after Finally has run.
type Observer interface {
	BeforePipeline(ctx context.Context, runID, name string) error
	AfterPipeline(ctx context.Context, runID string, result any, err error) error
	BeforeStage(ctx context.Context, runID string, stage StageInfo) error
	AfterStage(ctx context.Context, runID string, stage StageInfo, stageErr error, duration time.Duration) error
}

// StageInfo identifies the body being executed. Index is the position in the
// pipeline's stage list, or -1 for the try body. Element is the iteration index
// or retry attempt, -1 when the body does not repeat.
type StageInfo struct {
	Index   int
	Kind    string
	Span    syntax.Span
	Element int
}

// RunOptions is optional and used to attach an Observer, a logger and a retry
// policy. If Observer is set and RunID is empty, a new UUID is generated for the
// run. Retry applies to `try while` bodies.
type RunOptions struct {
	Observer Observer
	RunID    string
	Logger   *zap.Logger
	Retry    *RetryPolicy
}

// Program is a validated pipeline ready to run. A Program holds no run state
// and may be run concurrently; each Run owns its failures exclusively.
type Program struct {
	name string
	root *syntax.Pipeline
}

// Compile turns a validated pipeline into a Program.
func Compile(v *validate.Validated) *Program {
	p := v.Pipeline()
	return &Program{name: p.Name, root: p}
}

// Load parses, validates and compiles src.
func Load(name, src string, opts *validate.Options) (*Program, error) {
	p, err := syntax.Parse(name, src)
	if err != nil {
		return nil, err
	}
	v, err := validate.Validate(p, opts)
	if err != nil {
		return nil, err
	}
	return Compile(v), nil
}

// Name returns the pipeline name.
func (p *Program) Name() string { return p.name }

// Pipeline returns the IR the program executes.
func (p *Program) Pipeline() *syntax.Pipeline { return p.root }

// Run executes the program. The error is a *failure.Value for a failure that no
// stage recovered, or ErrBreak/ErrContinue when a handler body asked the
// enclosing loop to break or continue.
func (p *Program) Run(ctx context.Context, env *Env, opts *RunOptions) (any, error) {
	r := newRunner(env, opts)
	if opts == nil || opts.Observer == nil {
		return r.run(ctx, p.root)
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	r.obs, r.runID = opts.Observer, runID
	r.log = r.log.With(zap.String("run_id", runID))
	ctx = context.WithValue(ctx, runMetaKey{}, runMeta{RunID: runID, PipelineName: p.name})
	if err := r.obs.BeforePipeline(ctx, runID, p.name); err != nil {
		return nil, failure.Errorf("before pipeline: %w", err)
	}
	result, err := r.run(ctx, p.root)
	if postErr := r.obs.AfterPipeline(ctx, runID, result, err); postErr != nil {
		// Don't mask pipeline error
		if err == nil {
			result, err = nil, failure.Errorf("after pipeline: %w", postErr)
		}
	}
	return result, err
}

// context keys for run metadata (injected when Observer is set)
type runMetaKey struct{}

type runMeta struct {
	RunID, PipelineName string
}

// RunIDFromContext returns the run id a host function is being called under.
// It is only set when the program runs with an Observer.
func RunIDFromContext(ctx context.Context) (string, bool) {
	m, ok := ctx.Value(runMetaKey{}).(runMeta)
	return m.RunID, ok
}

// Sequence runs multiple programs in order. Every program receives the same
// environment, not the previous program's output. Stops on the first failure or
// loop signal (like shell &&).
type Sequence struct {
	Name     string
	Programs []*Program
}

// Run executes the sequence and returns the last program's result. Observer
// hooks see the sequence as one run; stage indices are offset so they stay
// unique across programs.
func (s *Sequence) Run(ctx context.Context, env *Env, opts *RunOptions) (any, error) {
	r := newRunner(env, opts)
	if opts != nil && opts.Observer != nil {
		r.obs, r.runID = opts.Observer, opts.RunID
		if r.runID == "" {
			r.runID = uuid.New().String()
		}
		r.log = r.log.With(zap.String("run_id", r.runID))
		ctx = context.WithValue(ctx, runMetaKey{}, runMeta{RunID: r.runID, PipelineName: s.Name})
		if err := r.obs.BeforePipeline(ctx, r.runID, s.Name); err != nil {
			return nil, failure.Errorf("before pipeline: %w", err)
		}
	}
	result, err := s.runPrograms(ctx, r)
	if r.obs != nil {
		if postErr := r.obs.AfterPipeline(ctx, r.runID, result, err); postErr != nil && err == nil {
			result, err = nil, failure.Errorf("after pipeline: %w", postErr)
		}
	}
	return result, err
}

func (s *Sequence) runPrograms(ctx context.Context, r *runner) (any, error) {
	var last any
	for i, p := range s.Programs {
		result, err := r.run(ctx, p.root)
		if err != nil {
			r.log.Debug("sequence stopped", zap.Int("pipeline", i), zap.String("name", p.name))
			return nil, err
		}
		last = result
		r.offset += len(p.root.Stages) + 1
	}
	return last, nil
}

// runner carries the per-invocation state shared by nested pipelines.
type runner struct {
	funcs  Resolver
	vars   map[string]any
	types  *failure.Types
	log    *zap.Logger
	retry  *RetryPolicy
	obs    Observer
	runID  string
	offset int
}

func newRunner(env *Env, opts *RunOptions) *runner {
	r := &runner{funcs: builtins, types: failure.Default, log: zap.NewNop()}
	if env != nil {
		if env.Funcs != nil {
			r.funcs = chainResolver{env.Funcs, builtins}
		}
		r.vars = env.Vars
		if env.Types != nil {
			r.types = env.Types
		}
	}
	if opts != nil {
		if opts.Logger != nil {
			r.log = opts.Logger
		}
		r.retry = opts.Retry
	}
	return r
}

// run executes a top-level pipeline.
func (r *runner) run(ctx context.Context, p *syntax.Pipeline) (any, error) {
	start := time.Now()
	v, err := r.exec(ctx, p, &scope{vars: r.vars}, true)
	switch {
	case err == nil:
		r.log.Debug("pipeline succeeded", zap.String("pipeline", p.Name), zap.Duration("duration", time.Since(start)))
	case IsSignal(err):
		r.log.Debug("pipeline signalled", zap.String("pipeline", p.Name), zap.Error(err))
	default:
		r.log.Debug("pipeline failed", zap.String("pipeline", p.Name), zap.Error(err))
	}
	return v, err
}

func (r *runner) beforeStage(ctx context.Context, info StageInfo) {
	if r.obs == nil {
		return
	}
	if info.Index >= 0 {
		info.Index += r.offset
	}
	if err := r.obs.BeforeStage(ctx, r.runID, info); err != nil {
		r.log.Warn("observer before stage", zap.Int("stage", info.Index), zap.Error(err))
	}
}

func (r *runner) afterStage(ctx context.Context, info StageInfo, stageErr error, d time.Duration) {
	if r.obs == nil {
		return
	}
	if info.Index >= 0 {
		info.Index += r.offset
	}
	if err := r.obs.AfterStage(ctx, r.runID, info, stageErr, d); err != nil {
		r.log.Warn("observer after stage", zap.Int("stage", info.Index), zap.Error(err))
	}
}

func (s StageInfo) String() string {
	if s.Element >= 0 {
		return fmt.Sprintf("%s[%d]@%s", s.Kind, s.Element, s.Span)
	}
	return fmt.Sprintf("%s@%s", s.Kind, s.Span)
}
