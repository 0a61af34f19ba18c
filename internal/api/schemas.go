package api

import (
	"time"

	"github.com/grid/explainer/internal/engine"
	"github.com/grid/explainer/internal/jobs"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State        string         `json:"state"`
	CurrentRunID string         `json:"current_run_id,omitempty"`
	RunsPending  int            `json:"runs_pending"`
	LastRun      *RunSummary    `json:"last_run,omitempty"`
	Tools        *ToolsResponse `json:"tools,omitempty"`
}

type ToolsResponse struct {
	HasRender   bool              `json:"has_render"`
	HasMux      bool              `json:"has_mux"`
	HasProbe    bool              `json:"has_probe"`
	HasSpeech   bool              `json:"has_speech"`
	LastProbeAt string            `json:"last_probe_at,omitempty"`
	Tools       []engine.ToolInfo `json:"tools"`
}

type SubmitRunRequest struct {
	Query string `json:"query"`
}

type SubmitRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

type RunnerStateResponse struct {
	Running bool `json:"running"`
	Paused  bool `json:"paused"`
}

// RunSummary is the short form of a run used in lists.
type RunSummary struct {
	ID          string `json:"id"`
	Query       string `json:"query"`
	Status      string `json:"status"`
	Stage       string `json:"stage,omitempty"`
	FailureKind string `json:"failure_kind,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type RunsResponse struct {
	Runs []RunSummary `json:"runs"`
}

type FailureResponse struct {
	Stage      string `json:"stage"`
	Kind       string `json:"kind"`
	Diagnostic string `json:"diagnostic"`
	ExitCode   int    `json:"exit_code,omitempty"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	RawOutput  string `json:"raw_output,omitempty"`
}

type RunResponse struct {
	RunSummary
	Transitions     []string         `json:"transitions,omitempty"`
	VideoURL        string           `json:"video_url,omitempty"`
	AnimationSource string           `json:"animation_source,omitempty"`
	NarrationScript string           `json:"narration_script,omitempty"`
	DriftRatio      *float64         `json:"drift_ratio,omitempty"`
	DurationMs      int64            `json:"duration_ms"`
	Failure         *FailureResponse `json:"failure,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func RunToSummary(r *jobs.Run) RunSummary {
	return RunSummary{
		ID:          r.ID,
		Query:       r.Query,
		Status:      r.Status,
		Stage:       r.Stage,
		FailureKind: r.FailureKind,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   r.UpdatedAt.Format(time.RFC3339),
	}
}

func RunToResponse(r *jobs.Run) RunResponse {
	resp := RunResponse{
		RunSummary:      RunToSummary(r),
		Transitions:     r.Transitions,
		AnimationSource: r.AnimationSource,
		NarrationScript: r.NarrationScript,
		DriftRatio:      r.DriftRatio,
		DurationMs:      r.DurationMs,
	}
	if r.Status == jobs.StatusDone && r.VideoPath != "" {
		resp.VideoURL = "/runs/" + r.ID + "/video"
	}
	if r.Status == jobs.StatusFailed {
		resp.Failure = &FailureResponse{
			Stage:      r.Stage,
			Kind:       r.FailureKind,
			Diagnostic: r.Diagnostic,
			ExitCode:   r.ExitCode,
			Stdout:     r.Stdout,
			Stderr:     r.Stderr,
			RawOutput:  r.RawOutput,
		}
	}
	return resp
}

func CapsToResponse(c *engine.Capabilities) *ToolsResponse {
	resp := &ToolsResponse{
		HasRender: c.HasRender,
		HasMux:    c.HasMux,
		HasProbe:  c.HasProbe,
		HasSpeech: c.HasSpeech,
		Tools:     c.Tools,
	}
	if !c.ProbedAt.IsZero() {
		resp.LastProbeAt = c.ProbedAt.Format(time.RFC3339)
	}
	return resp
}
