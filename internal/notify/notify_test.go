package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestWebhook_Delivers(t *testing.T) {
	var got RunEvent
	var event, reqID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		event = r.Header.Get("X-Grid-Event")
		reqID = r.Header.Get("X-Grid-Request-Id")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	w := NewWebhook(server.URL+"/hook", testLogger())
	ev := RunEvent{
		RunID:      "r1",
		Query:      "Explain entropy",
		State:      "failed",
		Failure:    &Failure{Stage: "rendering", Kind: "RenderFailed", Diagnostic: "manim exited 1"},
		FinishedAt: time.Now().UTC(),
	}
	if err := w.RunFinished(context.Background(), ev); err != nil {
		t.Fatalf("RunFinished() error = %v", err)
	}
	if got.RunID != "r1" || got.Failure == nil || got.Failure.Kind != "RenderFailed" {
		t.Errorf("payload = %+v", got)
	}
	if event != "run.failed" {
		t.Errorf("X-Grid-Event = %q", event)
	}
	if _, err := uuid.Parse(reqID); err != nil {
		t.Errorf("X-Grid-Request-Id = %q is not a uuid", reqID)
	}
}

func TestWebhook_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	err := NewWebhook(server.URL, testLogger()).RunFinished(context.Background(), RunEvent{RunID: "r1", State: "done"})
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DeliveryError", err)
	}
	if de.StatusCode != http.StatusBadGateway || de.Body != "upstream down" {
		t.Errorf("DeliveryError = %+v", de)
	}
}

func TestNew(t *testing.T) {
	if _, ok := New("", testLogger()).(*Stub); !ok {
		t.Error("New(\"\") should return a Stub")
	}
	if _, ok := New("http://localhost/hook", testLogger()).(*Webhook); !ok {
		t.Error("New(url) should return a Webhook")
	}
	if err := NewStub(testLogger()).RunFinished(context.Background(), RunEvent{}); err != nil {
		t.Errorf("Stub error = %v", err)
	}
}
