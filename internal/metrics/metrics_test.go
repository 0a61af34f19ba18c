package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRunLifecycle(t *testing.T) {
	m := New()

	m.RunStarted()
	m.RunStarted()
	if got := testutil.ToFloat64(m.runsActive); got != 2 {
		t.Errorf("runs_active = %v, want 2", got)
	}

	m.RunFinished("done", "", "")
	m.RunFinished("failed", "rendering", "RenderFailed")
	if got := testutil.ToFloat64(m.runsActive); got != 0 {
		t.Errorf("runs_active = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.runsTotal.WithLabelValues("failed", "rendering", "RenderFailed")); got != 1 {
		t.Errorf("failed runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.runsTotal.WithLabelValues("done", "", "")); got != 1 {
		t.Errorf("done runs = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveStage("rendering", 3*time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`grid_stage_duration_seconds_count{stage="rendering"} 1`,
		"grid_runs_active 0",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
