// Package pipeline sequences one explainer run: build the request, call the
// generation service, parse its answer, render, narrate and mux, inside a
// workspace that is removed whatever the outcome.
package pipeline

import (
	"fmt"
	"time"
)

// State is a position in the run state machine.
type State string

const (
	StateBuilding   State = "building"
	StateRequesting State = "requesting"
	StateParsing    State = "parsing"
	StateRendering  State = "rendering"
	StateNarrating  State = "narrating"
	StateMuxing     State = "muxing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// ErrorKind classifies a failure.
type ErrorKind string

const (
	KindEmptyQuery         ErrorKind = "EmptyQuery"
	KindGenerationService  ErrorKind = "GenerationServiceError"
	KindMalformedOutput    ErrorKind = "MalformedOutput"
	KindEngineNotAvailable ErrorKind = "EngineNotAvailable"
	KindRenderFailed       ErrorKind = "RenderFailed"
	KindSynthesisFailed    ErrorKind = "SynthesisFailed"
	KindMuxFailed          ErrorKind = "MuxFailed"
	KindOutputMissing      ErrorKind = "OutputMissing"
	KindInputMissing       ErrorKind = "InputMissing"
	KindInternalFault      ErrorKind = "InternalFault"
)

// StageError is the terminal failure of a run.
type StageError struct {
	Stage      State     `json:"stage"`
	Kind       ErrorKind `json:"kind"`
	Diagnostic string    `json:"diagnostic"`
	ExitCode   int       `json:"exit_code,omitempty"`
	Stdout     string    `json:"stdout,omitempty"`
	Stderr     string    `json:"stderr,omitempty"`
	// RawOutput holds the (bounded) generation text when it could not be parsed.
	RawOutput string `json:"raw_output,omitempty"`
	Err       error  `json:"-"`
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Kind, e.Diagnostic)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageResult is what a media stage hands to the next one: the path of the
// artifact it produced, or its failure.
type StageResult struct {
	Path string
	Err  *StageError
}

// OK reports whether the stage succeeded.
func (r StageResult) OK() bool { return r.Err == nil }

// Drift compares rendered video length with narration length.
type Drift struct {
	VideoSeconds float64 `json:"video_seconds"`
	AudioSeconds float64 `json:"audio_seconds"`
	// Ratio is |video-audio| / max(video, audio).
	Ratio float64 `json:"ratio"`
}

// Observer receives stage progress. In parallel mode the rendering and
// narrating callbacks arrive from different goroutines.
type Observer interface {
	StageStarted(runID string, stage State)
	StageFinished(runID string, stage State, elapsed time.Duration, failure *StageError)
}

type nopObserver struct{}

func (nopObserver) StageStarted(string, State)                              {}
func (nopObserver) StageFinished(string, State, time.Duration, *StageError) {}
