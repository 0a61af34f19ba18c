package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/grid/explainer/internal/logging"
	"github.com/grid/explainer/internal/metrics"
	"github.com/grid/explainer/internal/notify"
	"github.com/grid/explainer/internal/pipeline"
)

const defaultPollInterval = 5 * time.Second

// Executor runs one query to a terminal outcome. *pipeline.Controller
// satisfies it.
type Executor interface {
	Run(ctx context.Context, runID, query string) pipeline.Outcome
}

// Runner picks pending runs from the repository and executes them one at a
// time.
type Runner struct {
	repo     Repository
	exec     Executor
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	pollInterval time.Duration
	wake         chan struct{}
	running      atomic.Bool
	paused       atomic.Bool
	current      atomic.Pointer[string]
	last         atomic.Pointer[Run]
}

// NewRunner creates a Runner. notifier and m may be nil.
func NewRunner(repo Repository, exec Executor, notifier notify.Notifier, m *metrics.Metrics, logger *slog.Logger) *Runner {
	return &Runner{
		repo:         repo,
		exec:         exec,
		notifier:     notifier,
		metrics:      m,
		logger:       logging.WithComponent(logger, "runner"),
		pollInterval: defaultPollInterval,
		wake:         make(chan struct{}, 1),
	}
}

// Start blocks, draining pending runs until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("run runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if !r.paused.Load() {
			for r.processNext(ctx) {
				if ctx.Err() != nil || r.paused.Load() {
					break
				}
			}
		}

		select {
		case <-ctx.Done():
			r.logger.Info("run runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// Wake makes the runner look for pending runs without waiting for the next
// poll.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("run runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("run runner resumed")
	r.Wake()
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// CurrentRunID returns the ID of the run being executed, or "".
func (r *Runner) CurrentRunID() string {
	if id := r.current.Load(); id != nil {
		return *id
	}
	return ""
}

// LastRun returns the most recently finished run, or nil.
func (r *Runner) LastRun() *Run {
	return r.last.Load()
}

// processNext executes the oldest pending run. It reports whether a run was
// executed; a run that could not be claimed waits for the next tick.
func (r *Runner) processNext(ctx context.Context) bool {
	pending, err := r.repo.ListPendingRuns(ctx)
	if err != nil {
		r.logger.Error("failed to list pending runs", "error", err)
		return false
	}
	if len(pending) == 0 {
		return false
	}

	return r.Execute(ctx, pending[0]) != nil
}

// Execute runs one stored run to completion and persists its outcome.
func (r *Runner) Execute(ctx context.Context, run *Run) *Run {
	log := logging.WithRunID(r.logger, run.ID)

	if err := r.repo.UpdateRunStage(ctx, run.ID, StatusRunning, string(pipeline.StateBuilding)); err != nil {
		log.Error("failed to mark run running", "error", err)
		return nil
	}
	id := run.ID
	r.current.Store(&id)
	defer r.current.Store(nil)

	if r.metrics != nil {
		r.metrics.RunStarted()
	}
	log.Info("executing run")

	out := r.exec.Run(ctx, run.ID, run.Query)
	ApplyOutcome(run, out)

	// The outcome is stored even when ctx was cancelled mid-run.
	if err := r.repo.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error("failed to store run outcome", "error", err)
	}

	if r.metrics != nil {
		r.metrics.RunFinished(run.Status, run.Stage, run.FailureKind)
	}
	r.last.Store(run)

	if run.Status == StatusDone {
		log.Info("run done", "video", logging.SanitizePath(run.VideoPath), "duration_ms", run.DurationMs)
	} else {
		log.Warn("run failed", "stage", run.Stage, "kind", run.FailureKind, "diagnostic", run.Diagnostic)
	}

	if r.notifier != nil {
		if err := r.notifier.RunFinished(context.WithoutCancel(ctx), eventFor(run)); err != nil {
			log.Warn("run notification failed", "error", err)
		}
	}
	return run
}

// ApplyOutcome copies a terminal pipeline outcome onto run.
func ApplyOutcome(run *Run, out pipeline.Outcome) {
	run.Transitions = run.Transitions[:0]
	for _, s := range out.Transitions {
		run.Transitions = append(run.Transitions, string(s))
	}
	run.AnimationSource = out.Artifacts.AnimationSource
	run.NarrationScript = out.Artifacts.NarrationScript
	run.DurationMs = out.Duration.Milliseconds()
	run.UpdatedAt = time.Now()
	if out.Drift != nil {
		ratio := out.Drift.Ratio
		run.DriftRatio = &ratio
	}

	if out.Succeeded() {
		run.Status = StatusDone
		run.Stage = string(pipeline.StateDone)
		run.VideoPath = out.FinalVideoPath
		return
	}

	run.Status = StatusFailed
	if f := out.Failure; f != nil {
		run.Stage = string(f.Stage)
		run.FailureKind = string(f.Kind)
		run.Diagnostic = f.Diagnostic
		run.ExitCode = f.ExitCode
		run.Stdout = f.Stdout
		run.Stderr = f.Stderr
		run.RawOutput = f.RawOutput
	}
}

func eventFor(run *Run) notify.RunEvent {
	ev := notify.RunEvent{
		RunID:      run.ID,
		Query:      run.Query,
		State:      run.Status,
		VideoPath:  run.VideoPath,
		FinishedAt: run.UpdatedAt,
	}
	if run.Status == StatusFailed {
		ev.Failure = &notify.Failure{
			Stage:      run.Stage,
			Kind:       run.FailureKind,
			Diagnostic: run.Diagnostic,
		}
	}
	return ev
}
