// Package agent holds the pipeline steps that call Gemini: the planner, the
// script writer and the validator. Every step checks the budget ledger before
// spending API units and records what it produced.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/qanatlabs/qanat/internal/config"
	"github.com/qanatlabs/qanat/internal/metrics"
)

// TextGenerator produces text from a prompt. Tests swap in a canned
// implementation.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Close() error
}

// GeminiText implements TextGenerator against the Gemini generation API.
type GeminiText struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
	mets   *metrics.Metrics
}

// NewGeminiText creates a text generator from the Gemini section of the
// config.
func NewGeminiText(ctx context.Context, cfg config.GeminiConfig) (*GeminiText, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(cfg.Temperature)
	model.SetMaxOutputTokens(cfg.MaxOutputTokens)
	model.SetTopP(cfg.TopP)
	model.SetTopK(cfg.TopK)

	return &GeminiText{client: client, model: model, name: cfg.Model, mets: metrics.NewMetrics()}, nil
}

// Generate runs one prompt and returns the concatenated text parts of the
// first candidate.
func (g *GeminiText) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	g.mets.GeminiRequests.WithLabelValues("generate").Inc()
	g.mets.GeminiLatency.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	if err != nil {
		g.mets.GeminiErrors.WithLabelValues("generate").Inc()
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("gemini returned an empty response")
	}
	return out, nil
}

// Close releases the underlying API client.
func (g *GeminiText) Close() error {
	return g.client.Close()
}
