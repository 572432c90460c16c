// Package vllm implements the content provider against a vLLM server's
// OpenAI-compatible chat API.
package vllm

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

// Provider implements models.ContentProvider using vLLM.
type Provider struct {
	cfg    config.VLLMConfig
	client *http.Client
}

func NewProvider(cfg config.VLLMConfig) *Provider {
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *Provider) Name() string { return "vllm" }

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
		p.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("vllm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vllm returned status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding vllm response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("vllm returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

var _ models.ContentProvider = (*Provider)(nil)
