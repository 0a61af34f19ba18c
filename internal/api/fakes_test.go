package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/grid/explainer/internal/engine"
	"github.com/grid/explainer/internal/jobs"
	"github.com/grid/explainer/internal/prompt"
)

const testToken = "test-token-123"

type fakeService struct {
	mu   sync.Mutex
	runs []*jobs.Run
	err  error
}

func (f *fakeService) Submit(ctx context.Context, query string) (*jobs.Run, error) {
	q, err := prompt.NewQuery(query)
	if err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	run := &jobs.Run{
		ID:        fmt.Sprintf("run-%d", len(f.runs)+1),
		Query:     q.String(),
		Status:    jobs.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.runs = append(f.runs, run)
	return run, nil
}

func (f *fakeService) Get(ctx context.Context, id string) (*jobs.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", jobs.ErrRunNotFound, id)
}

func (f *fakeService) List(ctx context.Context, limit int) ([]*jobs.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []*jobs.Run
	for i := len(f.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.runs[i])
	}
	return out, nil
}

func (f *fakeService) Count(ctx context.Context, status string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.runs {
		if r.Status == status {
			n++
		}
	}
	return n, nil
}

func (f *fakeService) add(run *jobs.Run) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
}

type fakeRunner struct {
	paused  bool
	current string
	wakes   int
}

func (f *fakeRunner) Pause()               { f.paused = true }
func (f *fakeRunner) Resume()              { f.paused = false }
func (f *fakeRunner) Wake()                { f.wakes++ }
func (f *fakeRunner) IsPaused() bool       { return f.paused }
func (f *fakeRunner) IsRunning() bool      { return true }
func (f *fakeRunner) CurrentRunID() string { return f.current }

type fakeConfig struct {
	values map[string]string
	err    error
}

func (f *fakeConfig) GetConfig(ctx context.Context, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.values[key], nil
}

type fakePlayback struct {
	served []string
}

func (f *fakePlayback) ServeVideo(w http.ResponseWriter, r *http.Request, path string) error {
	f.served = append(f.served, path)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", "video/mp4")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		io.WriteString(w, "mp4data")
	}
	return nil
}

type fakeProber struct {
	caps *engine.Capabilities
}

func (f *fakeProber) Probe(ctx context.Context) (*engine.Capabilities, error) {
	return f.caps, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() (ServerConfig, *fakeService, *fakeRunner, *fakePlayback) {
	svc := &fakeService{}
	runner := &fakeRunner{}
	pb := &fakePlayback{}
	return ServerConfig{
		Version:   "test",
		Service:   svc,
		Runner:    runner,
		Config:    &fakeConfig{values: map[string]string{AuthTokenKey: testToken}},
		Playback:  pb,
		Logger:    testLogger(),
		StartTime: time.Now().Add(-10 * time.Second),
	}, svc, runner, pb
}

// do sends an authenticated request through the full router.
func do(t *testing.T, h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.RemoteAddr = "127.0.0.1:40000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", rr.Body.String(), err)
	}
	return body
}
