package pipeline

import (
	"context"
	"errors"
	"time"
)

// MultiObserver fans every hook out to each observer in order. All observers
// are called even when one fails; the errors are joined.
type MultiObserver []Observer

func (m MultiObserver) BeforePipeline(ctx context.Context, runID, name string) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.BeforePipeline(ctx, runID, name))
	}
	return errors.Join(errs...)
}

func (m MultiObserver) AfterPipeline(ctx context.Context, runID string, result any, err error) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.AfterPipeline(ctx, runID, result, err))
	}
	return errors.Join(errs...)
}

func (m MultiObserver) BeforeStage(ctx context.Context, runID string, stage StageInfo) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.BeforeStage(ctx, runID, stage))
	}
	return errors.Join(errs...)
}

func (m MultiObserver) AfterStage(ctx context.Context, runID string, stage StageInfo, stageErr error, d time.Duration) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.AfterStage(ctx, runID, stage, stageErr, d))
	}
	return errors.Join(errs...)
}
