package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/grid/explainer/internal/jobs"
	"github.com/grid/explainer/internal/prompt"
)

const maxQueryBytes = 16 * 1024

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Config, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/runs", submitRunHandler(cfg))
		r.Get("/runs", listRunsHandler(cfg))
		r.Get("/runs/{id}", getRunHandler(cfg))
		r.Get("/runs/{id}/source", runTextHandler(cfg, "text/x-python; charset=utf-8", func(run *jobs.Run) string {
			return run.AnimationSource
		}))
		r.Get("/runs/{id}/script", runTextHandler(cfg, "text/plain; charset=utf-8", func(run *jobs.Run) string {
			return run.NarrationScript
		}))
		r.With(LoopbackGuard()).Get("/runs/{id}/video", videoHandler(cfg))
		r.With(LoopbackGuard()).Head("/runs/{id}/video", videoHandler(cfg))
		r.Post("/runner/pause", pauseHandler(cfg))
		r.Post("/runner/resume", resumeHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		resp := StatusResponse{State: "idle"}
		if cfg.Runner != nil {
			resp.CurrentRunID = cfg.Runner.CurrentRunID()
			switch {
			case cfg.Runner.IsPaused():
				resp.State = "paused"
			case resp.CurrentRunID != "":
				resp.State = "running"
			}
		}

		resp.RunsPending, _ = cfg.Service.Count(ctx, jobs.StatusPending)
		if recent, err := cfg.Service.List(ctx, 1); err == nil && len(recent) > 0 {
			last := RunToSummary(recent[0])
			resp.LastRun = &last
			if resp.State == "idle" && last.Status == jobs.StatusFailed {
				resp.State = "error"
			}
		}

		if cfg.Doctor != nil {
			if caps, err := cfg.Doctor.Get(ctx); err == nil && caps != nil {
				resp.Tools = CapsToResponse(caps)
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func submitRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitRunRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBytes)).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		run, err := cfg.Service.Submit(r.Context(), req.Query)
		if errors.Is(err, prompt.ErrEmptyQuery) {
			WriteError(w, http.StatusBadRequest, "query is empty", "EMPTY_QUERY")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		if cfg.Runner != nil {
			cfg.Runner.Wake()
		}
		WriteJSON(w, http.StatusAccepted, SubmitRunResponse{RunID: run.ID, Status: run.Status})
	}
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 || n > 500 {
				WriteError(w, http.StatusBadRequest, "limit must be between 1 and 500", "BAD_REQUEST")
				return
			}
			limit = n
		}

		runs, err := cfg.Service.List(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}

		resp := RunsResponse{Runs: make([]RunSummary, len(runs))}
		for i, run := range runs {
			resp.Runs[i] = RunToSummary(run)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// lookupRun resolves {id} and writes the error response itself when the run
// cannot be loaded.
func lookupRun(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*jobs.Run, bool) {
	id := chi.URLParam(r, "id")
	run, err := cfg.Service.Get(r.Context(), id)
	if errors.Is(err, jobs.ErrRunNotFound) {
		WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
		return nil, false
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, false
	}
	return run, true
}

func getRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, RunToResponse(run))
	}
}

func runTextHandler(cfg ServerConfig, contentType string, field func(*jobs.Run) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(cfg, w, r)
		if !ok {
			return
		}
		text := field(run)
		if text == "" {
			WriteError(w, http.StatusNotFound, "artifact not available for this run", "NOT_AVAILABLE")
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(text))
	}
}

func videoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(cfg, w, r)
		if !ok {
			return
		}
		if run.Status != jobs.StatusDone || run.VideoPath == "" {
			WriteError(w, http.StatusConflict, "run has no video", "NOT_READY")
			return
		}
		if cfg.Playback == nil {
			WriteError(w, http.StatusNotFound, "video serving disabled", "NOT_AVAILABLE")
			return
		}
		if err := cfg.Playback.ServeVideo(w, r, run.VideoPath); err != nil {
			cfg.Logger.Error("video serving failed", "run_id", run.ID, "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to serve video", "INTERNAL_ERROR")
		}
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not configured", "UNAVAILABLE")
			return
		}
		cfg.Runner.Pause()
		WriteJSON(w, http.StatusOK, runnerState(cfg.Runner))
	}
}

func resumeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "runner not configured", "UNAVAILABLE")
			return
		}
		cfg.Runner.Resume()
		WriteJSON(w, http.StatusOK, runnerState(cfg.Runner))
	}
}

func runnerState(rc RunnerControl) RunnerStateResponse {
	return RunnerStateResponse{Running: rc.IsRunning(), Paused: rc.IsPaused()}
}
