package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/grid/explainer/internal/prompt"
)

// Service is the entry point for submitting and inspecting runs.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Submit stores a pending run for query. A blank query is rejected with
// prompt.ErrEmptyQuery before anything is stored.
func (s *Service) Submit(ctx context.Context, query string) (*Run, error) {
	q, err := prompt.NewQuery(query)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	run := &Run{
		ID:        NewID(),
		Query:     q.String(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to store run: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("run submitted", "run_id", run.ID)
	}
	return run, nil
}

// Get returns the run with id, or ErrRunNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	run, err := s.repo.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// List returns the most recent runs first.
func (s *Service) List(ctx context.Context, limit int) ([]*Run, error) {
	return s.repo.ListRuns(ctx, limit)
}

// Count returns the number of runs in status.
func (s *Service) Count(ctx context.Context, status string) (int, error) {
	return s.repo.CountRuns(ctx, status)
}
