package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grid/explainer/internal/engine"
	"github.com/grid/explainer/internal/media"
	"github.com/grid/explainer/internal/parse"
	"github.com/grid/explainer/internal/prompt"
)

const goodResponse = "Sure!\n<manim>\n```python\nfrom manim import *\n\nclass AnimationScene(Scene):\n    def construct(self):\n        self.play(Create(Square()), run_time=2)\n        self.wait(2)\n```\n</manim>\n<voiceover>\nA right triangle has one right angle. The squares of its legs add up to the square of the hypotenuse.\n</voiceover>"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGenerator struct {
	mu    sync.Mutex
	text  string
	err   error
	calls atomic.Int32
	got   prompt.Request
}

func (f *fakeGenerator) Generate(ctx context.Context, req prompt.Request) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.got = req
	f.mu.Unlock()
	return f.text, f.err
}

// fakeAnimator writes a fake video unless skipOutput is set.
type fakeAnimator struct {
	mu         sync.Mutex
	err        error
	skipOutput bool
	block      bool
	panicMsg   string
	calls      atomic.Int32
	source     string
}

func (f *fakeAnimator) Render(ctx context.Context, sourcePath, scene, outputPath string) error {
	f.calls.Add(1)
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	b, err := os.ReadFile(sourcePath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.source = string(b)
	f.mu.Unlock()
	if scene != prompt.SceneName {
		return fmt.Errorf("unexpected scene %q", scene)
	}
	if f.err != nil {
		return f.err
	}
	if f.skipOutput {
		return nil
	}
	return os.WriteFile(outputPath, []byte("VIDEO"), 0o644)
}

type fakeSpeech struct {
	mu         sync.Mutex
	err        error
	skipOutput bool
	calls      atomic.Int32
	script     string
}

func (f *fakeSpeech) Ext() string { return "mp3" }

func (f *fakeSpeech) Synthesize(ctx context.Context, text, outPath string) error {
	f.calls.Add(1)
	f.mu.Lock()
	f.script = text
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.skipOutput {
		return nil
	}
	return os.WriteFile(outPath, []byte("AUDIO"), 0o644)
}

type fakeEncoder struct {
	err        error
	skipOutput bool
	calls      atomic.Int32
}

func (f *fakeEncoder) Mux(ctx context.Context, videoPath, audioPath, outputPath string) error {
	f.calls.Add(1)
	if f.err != nil {
		return f.err
	}
	if f.skipOutput {
		return nil
	}
	v, _ := os.ReadFile(videoPath)
	a, _ := os.ReadFile(audioPath)
	return os.WriteFile(outputPath, append(v, a...), 0o644)
}

// fakeProber answers by file name.
type fakeProber struct {
	byName map[string]*media.ProbeResult
	err    error
}

func (f *fakeProber) Probe(ctx context.Context, path string) (*media.ProbeResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if pr, ok := f.byName[filepath.Base(path)]; ok {
		return pr, nil
	}
	return nil, fmt.Errorf("no probe for %s", path)
}

type fakePublisher struct {
	mu  sync.Mutex
	dir string
	err error
	art parse.Artifacts
}

func (f *fakePublisher) Publish(runID, query, finalVideoPath string, art parse.Artifacts) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	f.art = art
	f.mu.Unlock()
	data, err := os.ReadFile(finalVideoPath)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(f.dir, runID+".mp4")
	return dst, os.WriteFile(dst, data, 0o644)
}

type event struct {
	stage    State
	started  bool
	failKind ErrorKind
}

type recordingObserver struct {
	mu     sync.Mutex
	events []event
}

func (o *recordingObserver) StageStarted(runID string, stage State) {
	o.mu.Lock()
	o.events = append(o.events, event{stage: stage, started: true})
	o.mu.Unlock()
}

func (o *recordingObserver) StageFinished(runID string, stage State, elapsed time.Duration, failure *StageError) {
	e := event{stage: stage}
	if failure != nil {
		e.failKind = failure.Kind
	}
	o.mu.Lock()
	o.events = append(o.events, e)
	o.mu.Unlock()
}

type harness struct {
	gen     *fakeGenerator
	anim    *fakeAnimator
	speech  *fakeSpeech
	enc     *fakeEncoder
	prober  *fakeProber
	pub     *fakePublisher
	obs     *recordingObserver
	cfg     Config
	workDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	work := filepath.Join(t.TempDir(), "work")
	return &harness{
		gen:     &fakeGenerator{text: goodResponse},
		anim:    &fakeAnimator{},
		speech:  &fakeSpeech{},
		enc:     &fakeEncoder{},
		pub:     &fakePublisher{dir: t.TempDir()},
		obs:     &recordingObserver{},
		cfg:     Config{WorkDir: work},
		workDir: work,
	}
}

func (h *harness) controller(t *testing.T) *Controller {
	t.Helper()
	b, err := prompt.NewBuilder("gemini-1.5-flash")
	if err != nil {
		t.Fatal(err)
	}
	deps := Deps{
		Builder:   b,
		Generator: h.gen,
		Animator:  h.anim,
		Speech:    h.speech,
		Encoder:   h.enc,
		Publisher: h.pub,
		Observer:  h.obs,
	}
	if h.prober != nil {
		deps.Prober = h.prober
	}
	c, err := NewController(h.cfg, deps, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// assertWorkspaceRemoved checks that no run directory is left in the work dir.
func (h *harness) assertWorkspaceRemoved(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.workDir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("workspace not removed: %d entries left in %s", len(entries), h.workDir)
	}
}

func exitErr(tool string, code int, stdout, stderr string) error {
	return fmt.Errorf("%s: %w", tool, &engine.ExitError{
		Tool:   tool,
		Result: engine.Result{ExitCode: code, Stdout: stdout, Stderr: stderr},
	})
}
