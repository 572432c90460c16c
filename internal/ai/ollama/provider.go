// Package ollama implements the content provider against a local Ollama
// server's generate API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/heraldhq/herald/internal/ai/prompt"
	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/pkg/models"
)

// Provider implements models.ContentProvider using Ollama.
type Provider struct {
	cfg    config.OllamaConfig
	client *http.Client
}

func NewProvider(cfg config.OllamaConfig) *Provider {
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *Provider) Name() string { return "ollama" }

func (p *Provider) GenerateSections(ctx context.Context, req models.GenerationRequest) (models.Draft, error) {
	text, err := p.generate(ctx, prompt.Generation(req), true)
	if err != nil {
		return models.Draft{}, err
	}
	return prompt.DecodeDraft(text, p.cfg.Model)
}

func (p *Provider) SummarizeItems(ctx context.Context, items []models.FeedItem) (string, error) {
	return p.generate(ctx, prompt.Summary(items), false)
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (p *Provider) generate(ctx context.Context, promptText string, jsonMode bool) (string, error) {
	body := generateRequest{Model: p.cfg.Model, Prompt: promptText}
	if jsonMode {
		body.Format = "json"
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/api/generate", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding ollama response: %w", err)
	}
	return out.Response, nil
}

var _ models.ContentProvider = (*Provider)(nil)
