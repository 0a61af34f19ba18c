package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/grid/explainer/internal/engine"
	"github.com/grid/explainer/internal/media"
	"github.com/grid/explainer/internal/prompt"
)

// AnimationEngine renders scene from sourcePath into outputPath.
type AnimationEngine interface {
	Render(ctx context.Context, sourcePath, scene, outputPath string) error
}

// SpeechEngine synthesizes text into outPath.
type SpeechEngine interface {
	Synthesize(ctx context.Context, text, outPath string) error
	Ext() string
}

// Encoder writes outputPath from a silent video and a narration track.
type Encoder interface {
	Mux(ctx context.Context, videoPath, audioPath, outputPath string) error
}

// Prober inspects a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (*media.ProbeResult, error)
}

// renderStage writes the animation source and renders it into the video slot.
func renderStage(ctx context.Context, ws *Workspace, animator AnimationEngine, source string) StageResult {
	srcPath, err := ws.Claim(SlotAnimationSource)
	if err != nil {
		return failed(StateRendering, KindInternalFault, err)
	}
	if err := os.WriteFile(srcPath, []byte(source), 0o644); err != nil {
		return failed(StateRendering, KindInternalFault, fmt.Errorf("writing animation source: %w", err))
	}
	videoPath, err := ws.Claim(SlotRenderedVideo)
	if err != nil {
		return failed(StateRendering, KindInternalFault, err)
	}

	if err := animator.Render(ctx, srcPath, prompt.SceneName, videoPath); err != nil {
		return StageResult{Err: classify(ctx, StateRendering, KindRenderFailed, err)}
	}
	if err := nonEmptyFile(videoPath); err != nil {
		return failed(StateRendering, KindOutputMissing, fmt.Errorf("renderer exited cleanly but %w", err))
	}
	return StageResult{Path: videoPath}
}

// narrateStage synthesizes the script into the narration slot.
func narrateStage(ctx context.Context, ws *Workspace, speech SpeechEngine, script string) StageResult {
	audioPath, err := ws.Claim(SlotNarrationAudio)
	if err != nil {
		return failed(StateNarrating, KindInternalFault, err)
	}
	if err := speech.Synthesize(ctx, script, audioPath); err != nil {
		return StageResult{Err: classify(ctx, StateNarrating, KindSynthesisFailed, err)}
	}
	if err := nonEmptyFile(audioPath); err != nil {
		return failed(StateNarrating, KindOutputMissing, fmt.Errorf("speech engine returned but %w", err))
	}
	return StageResult{Path: audioPath}
}

// muxStage combines the rendered video and narration into the final slot.
// When prober is set the result must carry audible narration.
func muxStage(ctx context.Context, ws *Workspace, enc Encoder, prober Prober, videoPath, audioPath string) StageResult {
	if err := checkInputs(videoPath, audioPath); err != nil {
		return failed(StateMuxing, KindInputMissing, err)
	}
	finalPath, err := ws.Claim(SlotFinalVideo)
	if err != nil {
		return failed(StateMuxing, KindInternalFault, err)
	}

	if err := enc.Mux(ctx, videoPath, audioPath, finalPath); err != nil {
		return StageResult{Err: classify(ctx, StateMuxing, KindMuxFailed, err)}
	}
	if err := nonEmptyFile(finalPath); err != nil {
		return failed(StateMuxing, KindOutputMissing, fmt.Errorf("encoder exited cleanly but %w", err))
	}

	if prober != nil {
		pr, err := prober.Probe(ctx, finalPath)
		if err != nil {
			return failed(StateMuxing, KindMuxFailed, fmt.Errorf("verifying output: %w", err))
		}
		if !pr.HasAudio || pr.AudioDuration <= 0 {
			return failed(StateMuxing, KindMuxFailed, errors.New("output has no audible narration track"))
		}
	}
	return StageResult{Path: finalPath}
}

// checkInputs opens every path to confirm it exists and is non-empty. Each
// handle is closed before returning.
func checkInputs(paths ...string) error {
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("input unavailable: %w", err)
		}
		info, err := f.Stat()
		f.Close()
		if err != nil {
			return fmt.Errorf("input unavailable: %w", err)
		}
		if info.Size() == 0 {
			return fmt.Errorf("input %s is empty", p)
		}
	}
	return nil
}

func nonEmptyFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s was not produced", path)
		}
		return err
	}
	if info.IsDir() || info.Size() == 0 {
		return fmt.Errorf("%s is empty", path)
	}
	return nil
}

func failed(stage State, kind ErrorKind, err error) StageResult {
	return StageResult{Err: &StageError{Stage: stage, Kind: kind, Diagnostic: err.Error(), Err: err}}
}

// classify maps an engine error to a failure. processKind is used for
// anything that is not a missing engine.
func classify(ctx context.Context, stage State, processKind ErrorKind, err error) *StageError {
	se := &StageError{Stage: stage, Kind: processKind, Diagnostic: err.Error(), Err: err}

	if errors.Is(err, engine.ErrNotAvailable) {
		se.Kind = KindEngineNotAvailable
		return se
	}

	var exitErr *engine.ExitError
	if errors.As(err, &exitErr) {
		se.ExitCode = exitErr.Result.ExitCode
		se.Stdout = exitErr.Result.Stdout
		se.Stderr = exitErr.Result.Stderr
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) && (exitErr == nil || !exitErr.Result.TimedOut) {
		se.Diagnostic = "timed out: " + se.Diagnostic
	}
	return se
}
