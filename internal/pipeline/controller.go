package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/grid/explainer/internal/logging"
	"github.com/grid/explainer/internal/parse"
	"github.com/grid/explainer/internal/prompt"
)

const (
	// driftWarnRatio is the video/narration length mismatch that gets logged.
	driftWarnRatio = 0.25

	// maxRawOutput bounds the generation text kept on a parse failure.
	maxRawOutput = 8 * 1024
)

// Generator sends a request to the generation service and returns its raw text.
type Generator interface {
	Generate(ctx context.Context, req prompt.Request) (string, error)
}

// Publisher copies the deliverables of a finished run out of its workspace
// and returns the published video path.
type Publisher interface {
	Publish(runID, query, finalVideoPath string, art parse.Artifacts) (string, error)
}

// Timeouts bounds each stage. Zero means no deadline.
type Timeouts struct {
	Generation time.Duration
	Render     time.Duration
	Narration  time.Duration
	Mux        time.Duration
}

// Config holds controller settings.
type Config struct {
	WorkDir  string // parent of per-run workspaces; empty = system temp dir
	Parallel bool   // render and narrate concurrently
	Timeouts Timeouts
}

// Deps are the collaborators of a Controller. Prober and Observer are optional.
type Deps struct {
	Builder   *prompt.Builder
	Generator Generator
	Animator  AnimationEngine
	Speech    SpeechEngine
	Encoder   Encoder
	Prober    Prober
	Publisher Publisher
	Observer  Observer
}

// Outcome is the terminal result of one run.
type Outcome struct {
	RunID          string          `json:"run_id"`
	Query          string          `json:"query"`
	State          State           `json:"state"`
	FinalVideoPath string          `json:"final_video_path,omitempty"`
	Artifacts      parse.Artifacts `json:"artifacts"`
	Failure        *StageError     `json:"failure,omitempty"`
	Transitions    []State         `json:"transitions"`
	Drift          *Drift          `json:"drift,omitempty"`
	Duration       time.Duration   `json:"duration_ns"`
}

// Succeeded reports whether the run reached done.
func (o Outcome) Succeeded() bool { return o.State == StateDone }

// Controller runs queries through the pipeline. It holds no per-run state
// and is safe for concurrent use.
type Controller struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

// NewController validates deps and creates a Controller.
func NewController(cfg Config, deps Deps, logger *slog.Logger) (*Controller, error) {
	switch {
	case deps.Builder == nil:
		return nil, errors.New("pipeline: builder is required")
	case deps.Generator == nil:
		return nil, errors.New("pipeline: generator is required")
	case deps.Animator == nil:
		return nil, errors.New("pipeline: animation engine is required")
	case deps.Speech == nil:
		return nil, errors.New("pipeline: speech engine is required")
	case deps.Encoder == nil:
		return nil, errors.New("pipeline: encoder is required")
	case deps.Publisher == nil:
		return nil, errors.New("pipeline: publisher is required")
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	return &Controller{cfg: cfg, deps: deps, logger: logging.WithComponent(logger, "pipeline")}, nil
}

// run carries the state of one invocation of Controller.Run.
type run struct {
	c      *Controller
	id     string
	out    *Outcome
	logger *slog.Logger

	mu      sync.Mutex
	current State
}

// Run executes one query to a terminal state. It never returns an error:
// every failure is reported in Outcome.Failure. The workspace is removed
// before Run returns, including when a stage panics.
func (c *Controller) Run(ctx context.Context, runID, query string) (out Outcome) {
	start := time.Now()
	out = Outcome{RunID: runID, Query: query}
	r := &run{c: c, id: runID, out: &out, logger: logging.WithRunID(c.logger, runID)}

	r.enter(StateBuilding)
	ws, err := NewWorkspace(c.cfg.WorkDir, runID, c.deps.Speech.Ext())
	if err != nil {
		r.finish(StateBuilding, start, &StageError{Stage: StateBuilding, Kind: KindInternalFault, Diagnostic: err.Error(), Err: err})
		out.Duration = time.Since(start)
		return out
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("pipeline panic", "panic", p, "stack", string(debug.Stack()))
			r.fail(&StageError{Stage: r.stage(), Kind: KindInternalFault, Diagnostic: fmt.Sprintf("panic: %v", p)})
		}
		if err := ws.Remove(); err != nil {
			r.logger.Warn("failed to remove workspace", "dir", ws.Dir(), "error", err)
		}
		out.Duration = time.Since(start)
		if out.Failure != nil {
			r.logger.Warn("run failed",
				"stage", out.Failure.Stage,
				"kind", out.Failure.Kind,
				"diagnostic", logging.Truncate(out.Failure.Diagnostic, 512),
				"duration_ms", out.Duration.Milliseconds(),
			)
		} else {
			r.logger.Info("run complete", "video", out.FinalVideoPath, "duration_ms", out.Duration.Milliseconds())
		}
	}()

	r.execute(ctx, ws, query)
	return out
}

func (r *run) execute(ctx context.Context, ws *Workspace, raw string) {
	c := r.c

	// building
	started := time.Now()
	q, err := prompt.NewQuery(raw)
	if err != nil {
		r.finish(StateBuilding, started, &StageError{Stage: StateBuilding, Kind: KindEmptyQuery, Diagnostic: err.Error(), Err: err})
		return
	}
	req, err := c.deps.Builder.Build(q)
	if err != nil {
		r.finish(StateBuilding, started, &StageError{Stage: StateBuilding, Kind: KindInternalFault, Diagnostic: err.Error(), Err: err})
		return
	}
	r.finish(StateBuilding, started, nil)

	// requesting
	r.enter(StateRequesting)
	started = time.Now()
	gctx, cancel := withTimeout(ctx, c.cfg.Timeouts.Generation)
	text, err := c.deps.Generator.Generate(gctx, req)
	timedOut := errors.Is(gctx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		se := &StageError{Stage: StateRequesting, Kind: KindGenerationService, Diagnostic: err.Error(), Err: err}
		if timedOut {
			se.Diagnostic = "timed out: " + se.Diagnostic
		}
		r.finish(StateRequesting, started, se)
		return
	}
	r.finish(StateRequesting, started, nil)

	// parsing
	r.enter(StateParsing)
	started = time.Now()
	art, err := parse.Parse(text)
	if err != nil {
		r.finish(StateParsing, started, &StageError{
			Stage:      StateParsing,
			Kind:       KindMalformedOutput,
			Diagnostic: err.Error(),
			RawOutput:  logging.Truncate(text, maxRawOutput),
			Err:        err,
		})
		return
	}
	r.out.Artifacts = art
	r.finish(StateParsing, started, nil)

	// rendering + narrating
	var video, audio StageResult
	if c.cfg.Parallel {
		video, audio = r.renderAndNarrateParallel(ctx, ws, art)
	} else {
		video, audio = r.renderAndNarrateSequential(ctx, ws, art)
	}
	if !video.OK() {
		r.fail(video.Err)
		return
	}
	if !audio.OK() {
		r.fail(audio.Err)
		return
	}

	// muxing
	r.enter(StateMuxing)
	final := r.timed(StateMuxing, func() StageResult {
		mctx, cancel := withTimeout(ctx, c.cfg.Timeouts.Mux)
		defer cancel()
		return muxStage(mctx, ws, c.deps.Encoder, c.deps.Prober, video.Path, audio.Path)
	})
	if !final.OK() {
		r.fail(final.Err)
		return
	}

	r.measureDrift(ctx, video.Path, final.Path)

	published, err := c.deps.Publisher.Publish(r.id, q.String(), final.Path, art)
	if err != nil {
		r.fail(&StageError{
			Stage:      StateMuxing,
			Kind:       KindInternalFault,
			Diagnostic: fmt.Sprintf("publishing final video: %v", err),
			Err:        err,
		})
		return
	}
	r.out.FinalVideoPath = published
	r.enter(StateDone)
	r.out.State = StateDone
}

func (r *run) renderAndNarrateSequential(ctx context.Context, ws *Workspace, art parse.Artifacts) (StageResult, StageResult) {
	r.enter(StateRendering)
	video := r.timed(StateRendering, func() StageResult { return r.render(ctx, ws, art) })
	if !video.OK() {
		return video, StageResult{}
	}
	r.enter(StateNarrating)
	audio := r.timed(StateNarrating, func() StageResult { return r.narrate(ctx, ws, art) })
	return video, audio
}

// renderAndNarrateParallel runs both stages to completion. When both fail
// the rendering failure is the one reported.
func (r *run) renderAndNarrateParallel(ctx context.Context, ws *Workspace, art parse.Artifacts) (StageResult, StageResult) {
	r.enter(StateRendering)
	r.enter(StateNarrating)

	var video, audio StageResult
	var g errgroup.Group
	g.Go(func() error {
		video = r.timed(StateRendering, func() StageResult { return r.render(ctx, ws, art) })
		if video.Err != nil {
			return video.Err
		}
		return nil
	})
	g.Go(func() error {
		audio = r.timed(StateNarrating, func() StageResult { return r.narrate(ctx, ws, art) })
		if audio.Err != nil {
			return audio.Err
		}
		return nil
	})
	// Wait reports whichever stage failed first; the reported failure is
	// chosen from the captured results so rendering always takes priority.
	if err := g.Wait(); err != nil {
		r.logger.Debug("parallel stage failed", "first_error", err)
	}
	return video, audio
}

func (r *run) render(ctx context.Context, ws *Workspace, art parse.Artifacts) StageResult {
	ctx, cancel := withTimeout(ctx, r.c.cfg.Timeouts.Render)
	defer cancel()
	return renderStage(ctx, ws, r.c.deps.Animator, art.AnimationSource)
}

func (r *run) narrate(ctx context.Context, ws *Workspace, art parse.Artifacts) StageResult {
	ctx, cancel := withTimeout(ctx, r.c.cfg.Timeouts.Narration)
	defer cancel()
	return narrateStage(ctx, ws, r.c.deps.Speech, art.NarrationScript)
}

// timed runs fn, recovering a panic into an InternalFault for stage, and
// reports the elapsed time to the observer.
func (r *run) timed(stage State, fn func() StageResult) (res StageResult) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("stage panic", "stage", stage, "panic", p, "stack", string(debug.Stack()))
			res = StageResult{Err: &StageError{Stage: stage, Kind: KindInternalFault, Diagnostic: fmt.Sprintf("panic: %v", p)}}
		}
		r.c.deps.Observer.StageFinished(r.id, stage, time.Since(start), res.Err)
	}()
	return fn()
}

func (r *run) measureDrift(ctx context.Context, videoPath, finalPath string) {
	if r.c.deps.Prober == nil {
		return
	}
	pctx, cancel := withTimeout(ctx, r.c.cfg.Timeouts.Mux)
	defer cancel()

	v, err := r.c.deps.Prober.Probe(pctx, videoPath)
	if err != nil {
		r.logger.Debug("skipping drift check", "error", err)
		return
	}
	a, err := r.c.deps.Prober.Probe(pctx, finalPath)
	if err != nil {
		r.logger.Debug("skipping drift check", "error", err)
		return
	}
	d := ComputeDrift(v.Duration, a.AudioDuration)
	if d == nil {
		return
	}
	r.out.Drift = d
	if d.Ratio > driftWarnRatio {
		r.logger.Warn("narration and animation lengths differ",
			"video_s", d.VideoSeconds,
			"audio_s", d.AudioSeconds,
			"ratio", d.Ratio,
		)
	}
}

// ComputeDrift returns nil when either length is unknown.
func ComputeDrift(videoSeconds, audioSeconds float64) *Drift {
	if videoSeconds <= 0 || audioSeconds <= 0 {
		return nil
	}
	return &Drift{
		VideoSeconds: videoSeconds,
		AudioSeconds: audioSeconds,
		Ratio:        math.Abs(videoSeconds-audioSeconds) / math.Max(videoSeconds, audioSeconds),
	}
}

func (r *run) enter(s State) {
	r.mu.Lock()
	r.current = s
	r.out.Transitions = append(r.out.Transitions, s)
	r.mu.Unlock()
	if !s.Terminal() {
		r.logger.Debug("entering stage", "stage", s)
		r.c.deps.Observer.StageStarted(r.id, s)
	}
}

func (r *run) stage() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// finish reports a non-media stage to the observer and fails the run on error.
func (r *run) finish(stage State, started time.Time, se *StageError) {
	r.c.deps.Observer.StageFinished(r.id, stage, time.Since(started), se)
	if se != nil {
		r.fail(se)
	}
}

func (r *run) fail(se *StageError) {
	if r.out.State == StateFailed {
		return
	}
	r.out.Failure = se
	r.out.State = StateFailed
	r.out.FinalVideoPath = ""
	r.enter(StateFailed)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
