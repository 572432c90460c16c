// Package openai implements the content provider against the OpenAI chat
// completions API.
package openai

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

const baseURL = "https://api.openai.com/v1"

// Provider implements models.ContentProvider using OpenAI.
type Provider struct {
	cfg    config.OpenAIConfig
	client *http.Client
}

func NewProvider(cfg config.OpenAIConfig) *Provider {
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) GenerateSections(ctx context.Context, req models.GenerationRequest) (models.Draft, error) {
	text, err := p.chat(ctx, prompt.Generation(req))
	if err != nil {
		return models.Draft{}, err
	}
	return prompt.DecodeDraft(text, p.cfg.Model)
}

func (p *Provider) SummarizeItems(ctx context.Context, items []models.FeedItem) (string, error) {
	return p.chat(ctx, prompt.Summary(items))
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *Provider) chat(ctx context.Context, promptText string) (string, error) {
	raw, err := json.Marshal(chatRequest{
		Model:    p.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: promptText}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai returned status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding openai response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

var _ models.ContentProvider = (*Provider)(nil)
