package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"outletcash/backend/internal/metrics"
)

type FailurePolicy int

const (
	// SkipAndLog records the failure and moves on to the next stage.
	SkipAndLog FailurePolicy = iota
	// AbortPipeline stops the run; stages that already finished stay done.
	AbortPipeline
)

func (p FailurePolicy) String() string {
	switch p {
	case SkipAndLog:
		return "skip-and-log"
	case AbortPipeline:
		return "abort-pipeline"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

type Stage[E any] struct {
	Name   string
	Policy FailurePolicy
	Run    func(ctx context.Context, event E) error
}

type StageResult struct {
	Name    string `json:"name"`
	Err     error  `json:"-"`
	Skipped bool   `json:"skipped"`
}

type Report struct {
	Stages  []StageResult `json:"stages"`
	Aborted bool          `json:"aborted"`
}

func (r Report) Failed() []string {
	var names []string
	for _, s := range r.Stages {
		if s.Err != nil {
			names = append(names, s.Name)
		}
	}
	return names
}

// Pipeline runs named stages in order. A panicking stage counts as failed.
type Pipeline[E any] struct {
	name   string
	stages []Stage[E]
	logger *zap.Logger
}

func New[E any](name string, logger *zap.Logger, stages ...Stage[E]) *Pipeline[E] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline[E]{name: name, stages: stages, logger: logger.Named("pipeline")}
}

func (p *Pipeline[E]) Stages() []string {
	names := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		names = append(names, s.Name)
	}
	return names
}

func (p *Pipeline[E]) Run(ctx context.Context, event E) Report {
	report := Report{Stages: make([]StageResult, 0, len(p.stages))}
	for i, stage := range p.stages {
		if report.Aborted {
			for _, rest := range p.stages[i:] {
				report.Stages = append(report.Stages, StageResult{Name: rest.Name, Skipped: true})
			}
			break
		}

		err := runStage(ctx, stage, event)
		report.Stages = append(report.Stages, StageResult{Name: stage.Name, Err: err})
		if err == nil {
			continue
		}

		metrics.PipelineStageFailures.WithLabelValues(stage.Name).Inc()
		p.logger.Warn("stage failed",
			zap.String("pipeline", p.name), zap.String("stage", stage.Name),
			zap.Stringer("policy", stage.Policy), zap.Error(err))
		if stage.Policy == AbortPipeline {
			report.Aborted = true
		}
	}
	return report
}

func runStage[E any](ctx context.Context, stage Stage[E], event E) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", stage.Name, r)
		}
	}()
	return stage.Run(ctx, event)
}
