// Package speech turns a narration script into an audio file.
package speech

import (
	"context"
	"errors"
	"fmt"
)

// Engine names accepted by New.
const (
	EngineGTTS    = "gtts"
	EngineCommand = "command"
)

var (
	// ErrEmptyText is returned when attempting to synthesize empty text.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrSynthesisFailed is returned when a synthesis service rejects or
	// fails a request.
	ErrSynthesisFailed = errors.New("speech synthesis failed")
)

// Engine synthesizes text into a file at outPath.
type Engine interface {
	Synthesize(ctx context.Context, text, outPath string) error
	// Ext is the file extension (without dot) of the audio the engine writes.
	Ext() string
	Name() string
}

// SynthesisError carries detail from a failing engine.
type SynthesisError struct {
	Engine  string
	Status  int // HTTP status, 0 when not applicable
	Message string
	Cause   error
}

func (e *SynthesisError) Error() string {
	msg := e.Engine + ": " + e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SynthesisError) Unwrap() error { return e.Cause }

// Is makes every SynthesisError match ErrSynthesisFailed.
func (e *SynthesisError) Is(target error) bool { return target == ErrSynthesisFailed }
