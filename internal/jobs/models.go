// Package jobs stores explainer runs and executes them in the background.
package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one query submitted for explanation and everything known about its
// progress and outcome.
type Run struct {
	ID     string `json:"id"`
	Query  string `json:"query"`
	Status string `json:"status"`
	// Stage is the stage being executed while running, the failing stage
	// once failed, and "done" on success.
	Stage       string   `json:"stage,omitempty"`
	Transitions []string `json:"transitions,omitempty"`

	FailureKind string `json:"failure_kind,omitempty"`
	Diagnostic  string `json:"diagnostic,omitempty"`
	ExitCode    int    `json:"exit_code,omitempty"`
	Stdout      string `json:"stdout,omitempty"`
	Stderr      string `json:"stderr,omitempty"`
	RawOutput   string `json:"raw_output,omitempty"`

	VideoPath       string   `json:"video_path,omitempty"`
	AnimationSource string   `json:"animation_source,omitempty"`
	NarrationScript string   `json:"narration_script,omitempty"`
	DriftRatio      *float64 `json:"drift_ratio,omitempty"`
	DurationMs      int64    `json:"duration_ms"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Finished reports whether the run reached a terminal status.
func (r *Run) Finished() bool {
	return r.Status == StatusDone || r.Status == StatusFailed
}

// NewID returns a fresh run identifier.
func NewID() string {
	return uuid.NewString()
}
