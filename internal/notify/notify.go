// Package notify delivers run outcomes to an external webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Failure mirrors the failure fields of a run.
type Failure struct {
	Stage      string `json:"stage"`
	Kind       string `json:"kind"`
	Diagnostic string `json:"diagnostic"`
}

// RunEvent is the payload posted when a run reaches a terminal state.
type RunEvent struct {
	RunID      string    `json:"run_id"`
	Query      string    `json:"query"`
	State      string    `json:"state"`
	VideoPath  string    `json:"video_path,omitempty"`
	Failure    *Failure  `json:"failure,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Notifier is told about every finished run.
type Notifier interface {
	RunFinished(ctx context.Context, ev RunEvent) error
}

// DeliveryError represents a non-2xx answer from the webhook.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook delivery failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// Webhook posts events as JSON. Each event is attempted once.
type Webhook struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhook creates a Webhook posting to url.
func NewWebhook(url string, logger *slog.Logger) *Webhook {
	return &Webhook{
		url: url,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

func (w *Webhook) RunFinished(ctx context.Context, ev RunEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Grid-Request-Id", uuid.NewString())
	req.Header.Set("X-Grid-Event", "run."+ev.State)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		w.logger.Info("webhook delivered", "run_id", ev.RunID, "state", ev.State, "status", resp.StatusCode)
		return nil
	}
	return &DeliveryError{StatusCode: resp.StatusCode, Body: string(respBody)}
}

// Stub logs events instead of delivering them. Used when no webhook is set.
type Stub struct {
	logger *slog.Logger
}

func NewStub(logger *slog.Logger) *Stub {
	return &Stub{logger: logger}
}

func (s *Stub) RunFinished(ctx context.Context, ev RunEvent) error {
	s.logger.Debug("notify stub: run finished", "run_id", ev.RunID, "state", ev.State)
	return nil
}

// New returns a Webhook when url is set and a Stub otherwise.
func New(url string, logger *slog.Logger) Notifier {
	if url == "" {
		return NewStub(logger)
	}
	return NewWebhook(url, logger)
}
