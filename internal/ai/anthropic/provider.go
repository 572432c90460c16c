// Package anthropic implements the content provider against the Anthropic
// messages API.
package anthropic

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

const (
	baseURL    = "https://api.anthropic.com/v1"
	apiVersion = "2023-06-01"
	maxTokens  = 4096
)

// Provider implements models.ContentProvider using Anthropic.
type Provider struct {
	cfg    config.AnthropicConfig
	client *http.Client
}

func NewProvider(cfg config.AnthropicConfig) *Provider {
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) GenerateSections(ctx context.Context, req models.GenerationRequest) (models.Draft, error) {
	text, err := p.message(ctx, prompt.Generation(req))
	if err != nil {
		return models.Draft{}, err
	}
	return prompt.DecodeDraft(text, p.cfg.Model)
}

func (p *Provider) SummarizeItems(ctx context.Context, items []models.FeedItem) (string, error) {
	return p.message(ctx, prompt.Summary(items))
}

type messageRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *Provider) message(ctx context.Context, promptText string) (string, error) {
	raw, err := json.Marshal(messageRequest{
		Model:     p.cfg.Model,
		MaxTokens: maxTokens,
		Messages:  []chatMessage{{Role: "user", Content: promptText}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal message request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/messages", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic returned status %d", resp.StatusCode)
	}

	var out messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding anthropic response: %w", err)
	}
	for _, block := range out.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic returned no text content")
}

var _ models.ContentProvider = (*Provider)(nil)
