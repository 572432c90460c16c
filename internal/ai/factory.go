package ai

import (
	"fmt"

	"github.com/heraldhq/herald/internal/ai/anthropic"
	"github.com/heraldhq/herald/internal/ai/mock"
	"github.com/heraldhq/herald/internal/ai/ollama"
	"github.com/heraldhq/herald/internal/ai/openai"
	"github.com/heraldhq/herald/internal/ai/vllm"
	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/pkg/models"
)

// NewProvider constructs the appropriate content provider based on config.
// Called once at server startup.
func NewProvider(cfg config.AIConfig) (models.ContentProvider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic), nil
	case "mock":
		return mock.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, vllm, openai, anthropic, mock", cfg.Provider)
	}
}
