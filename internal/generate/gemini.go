// Package generate sends generation requests to the Gemini API.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/grid/explainer/internal/prompt"
)

const defaultTemperature = float32(0.4)

var (
	// ErrNoAPIKey is returned by NewGemini when no key is configured.
	ErrNoAPIKey = errors.New("gemini api key not configured")

	// ErrEmptyResponse is returned when the service answers without text.
	ErrEmptyResponse = errors.New("generation service returned no text")
)

// ServiceError is a non-success answer from the generation service.
type ServiceError struct {
	Code    int
	Status  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("gemini: %d %s: %s", e.Code, e.Status, e.Message)
}

// GeminiConfig configures the client.
type GeminiConfig struct {
	APIKey  string
	BaseURL string // empty = public endpoint
}

// Gemini implements generation with google.golang.org/genai.
type Gemini struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Gemini{client: client, logger: logger}, nil
}

// Generate sends req and returns the raw response text. The text is not
// inspected beyond checking that it is non-blank.
func (g *Gemini) Generate(ctx context.Context, req prompt.Request) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(defaultTemperature),
	}
	resp, err := g.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &ServiceError{Code: apiErr.Code, Status: apiErr.Status, Message: apiErr.Message}
		}
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		reason := ""
		if len(resp.Candidates) > 0 {
			reason = string(resp.Candidates[0].FinishReason)
		}
		return "", fmt.Errorf("%w (finish reason %q)", ErrEmptyResponse, reason)
	}

	g.logger.Debug("generation complete",
		"model", req.Model,
		"template", req.TemplateVersion,
		"chars", len(text),
	)
	return text, nil
}
