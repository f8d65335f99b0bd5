package funnel

import (
	"context"
	"log/slog"
)

// transition carries values between the stages of one operation.
type transition struct {
	rawInput string
	msisdn   string
	pin      string
	trxID    string
}

// stage is one named step of a transition. A required stage that fails stops
// the pipeline and its onFailure result is returned. Best-effort stages are
// logged and skipped on error.
type stage struct {
	run       func(ctx context.Context, tr *transition) error
	onFailure func(ctx context.Context, tr *transition, err error) error
	name      string
	required  bool
}

func required(name string, run func(context.Context, *transition) error, onFailure func(context.Context, *transition, error) error) stage {
	return stage{name: name, run: run, onFailure: onFailure, required: true}
}

func bestEffort(name string, run func(context.Context, *transition)) stage {
	return stage{name: name, run: func(ctx context.Context, tr *transition) error {
		run(ctx, tr)
		return nil
	}}
}

func runPipeline(ctx context.Context, logger *slog.Logger, op string, stages []stage, tr *transition) error {
	for _, s := range stages {
		err := s.run(ctx, tr)
		if err == nil {
			continue
		}
		if !s.required {
			logger.Warn("Best-effort stage failed", "op", op, "stage", s.name, "error", err)
			continue
		}
		logger.Debug("Required stage failed", "op", op, "stage", s.name, "error", err)
		if s.onFailure != nil {
			return s.onFailure(ctx, tr, err)
		}
		return err
	}
	return nil
}
