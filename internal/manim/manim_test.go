package manim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"testing"

	"github.com/grid/explainer/internal/engine"
)

type recordingRunner struct {
	got    engine.Command
	result engine.Result
	err    error
}

func (r *recordingRunner) Run(ctx context.Context, c engine.Command) (engine.Result, error) {
	r.got = c
	return r.result, r.err
}

func (r *recordingRunner) LookPath(tool string) (string, error) { return tool, nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestArgs(t *testing.T) {
	r := NewRenderer(&recordingRunner{}, "manim", "", testLogger())
	got := r.Args("/ws/Animation.py", "AnimationScene", "/ws/video.mp4")
	want := []string{
		"-ql", "/ws/Animation.py", "AnimationScene",
		"--output_file", "/ws/video.mp4",
		"--media_dir", "/ws/media",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Args() = %v, want %v", got, want)
	}
}

func TestRender_PassesCommand(t *testing.T) {
	rr := &recordingRunner{}
	r := NewRenderer(rr, "/opt/manim/bin/manim", "h", testLogger())

	if err := r.Render(context.Background(), "/ws/Animation.py", "AnimationScene", "/ws/video.mp4"); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if rr.got.Tool != "/opt/manim/bin/manim" {
		t.Errorf("Tool = %q", rr.got.Tool)
	}
	if rr.got.Dir != "/ws" {
		t.Errorf("Dir = %q, want /ws", rr.got.Dir)
	}
	if rr.got.Args[0] != "-qh" {
		t.Errorf("quality flag = %q, want -qh", rr.got.Args[0])
	}
}

func TestRender_PreservesErrorTypes(t *testing.T) {
	exit := &engine.ExitError{Tool: "manim", Result: engine.Result{ExitCode: 1, Stderr: "SyntaxError"}}
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not available", fmt.Errorf("%w: manim", engine.ErrNotAvailable), func(err error) bool {
			return errors.Is(err, engine.ErrNotAvailable)
		}},
		{"exit error", exit, func(err error) bool {
			var ee *engine.ExitError
			return errors.As(err, &ee) && ee.Result.Stderr == "SyntaxError"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRenderer(&recordingRunner{err: tt.err}, "manim", "l", testLogger())
			err := r.Render(context.Background(), "a.py", "AnimationScene", "v.mp4")
			if !tt.check(err) {
				t.Errorf("Render() error = %v lost its type", err)
			}
		})
	}
}
