package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/grid/explainer/internal/metrics"
	"github.com/grid/explainer/internal/pipeline"
)

// StageRecorder is a pipeline.Observer that persists the current stage of a
// run and records stage durations.
type StageRecorder struct {
	repo    Repository
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewStageRecorder creates a StageRecorder. m may be nil.
func NewStageRecorder(repo Repository, m *metrics.Metrics, logger *slog.Logger) *StageRecorder {
	return &StageRecorder{repo: repo, metrics: m, logger: logger}
}

func (s *StageRecorder) StageStarted(runID string, stage pipeline.State) {
	if err := s.repo.UpdateRunStage(context.Background(), runID, StatusRunning, string(stage)); err != nil {
		s.logger.Warn("failed to record stage", "run_id", runID, "stage", stage, "error", err)
	}
}

func (s *StageRecorder) StageFinished(runID string, stage pipeline.State, elapsed time.Duration, failure *pipeline.StageError) {
	if s.metrics != nil {
		s.metrics.ObserveStage(string(stage), elapsed)
	}
}
