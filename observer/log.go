package observer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dcshock/trypipe/failure"
	"github.com/dcshock/trypipe/pipeline"
)

// LogObserver logs pipeline and stage events. It never fails a run.
type LogObserver struct {
	log *zap.Logger
}

// NewLogObserver returns an observer logging to logger. A nil logger is a no-op.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogObserver{log: logger}
}

func (o *LogObserver) BeforePipeline(_ context.Context, runID, name string) error {
	o.log.Info("pipeline started", zap.String("run_id", runID), zap.String("pipeline", name))
	return nil
}

func (o *LogObserver) AfterPipeline(_ context.Context, runID string, result any, err error) error {
	fields := []zap.Field{zap.String("run_id", runID)}
	switch {
	case err == nil:
		o.log.Info("pipeline finished", append(fields, zap.Any("result", result))...)
	case pipeline.IsSignal(err):
		o.log.Info("pipeline signalled", append(fields, zap.Error(err))...)
	default:
		var f *failure.Value
		if errors.As(err, &f) {
			fields = append(fields, zap.String("failure_type", f.Tag().Name), zap.Int("frames", len(f.Frames())))
		}
		o.log.Warn("pipeline failed", append(fields, zap.Error(err))...)
	}
	return nil
}

func (o *LogObserver) BeforeStage(_ context.Context, runID string, stage pipeline.StageInfo) error {
	if ce := o.log.Check(zap.DebugLevel, "stage started"); ce != nil {
		ce.Write(stageFields(runID, stage)...)
	}
	return nil
}

func (o *LogObserver) AfterStage(_ context.Context, runID string, stage pipeline.StageInfo, stageErr error, d time.Duration) error {
	if ce := o.log.Check(zap.DebugLevel, "stage finished"); ce != nil {
		fields := append(stageFields(runID, stage), zap.Duration("duration", d))
		if stageErr != nil {
			fields = append(fields, zap.Error(stageErr))
		}
		ce.Write(fields...)
	}
	return nil
}

func stageFields(runID string, stage pipeline.StageInfo) []zap.Field {
	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.Int("stage", stage.Index),
		zap.String("kind", stage.Kind),
		zap.String("location", stage.Span.String()),
	}
	if stage.Element >= 0 {
		fields = append(fields, zap.Int("element", stage.Element))
	}
	return fields
}

var _ pipeline.Observer = (*LogObserver)(nil)
