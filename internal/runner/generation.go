package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/heraldhq/herald/internal/ai"
	"github.com/heraldhq/herald/internal/jobs"
	"github.com/heraldhq/herald/pkg/models"
)

// GenerationParams is the metadata payload expected by the generation runner.
type GenerationParams struct {
	Title    string         `json:"title"`
	Audience string         `json:"audience,omitempty"`
	Tone     string         `json:"tone,omitempty"`
	Stories  []models.Story `json:"stories"`
}

// NewGeneration builds the generation runner: draft newsletter sections from
// curated stories through the configured content provider.
func NewGeneration(provider models.ContentProvider, timeout time.Duration) jobs.Runner {
	return func(ctx context.Context, job *models.Job, report jobs.ProgressFunc) (json.RawMessage, error) {
		var params GenerationParams
		if err := json.Unmarshal(job.Metadata, &params); err != nil {
			return nil, fmt.Errorf("invalid generation parameters: %w", err)
		}
		if params.Title == "" {
			return nil, fmt.Errorf("invalid generation parameters: title is required")
		}
		if len(params.Stories) == 0 {
			return nil, fmt.Errorf("invalid generation parameters: at least one story is required")
		}

		if err := report(ctx, "drafting", 10,
			fmt.Sprintf("drafting %d sections via %s", len(params.Stories), provider.Name())); err != nil {
			return nil, err
		}

		genCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		draft, err := provider.GenerateSections(genCtx, models.GenerationRequest{
			Title:    params.Title,
			Audience: params.Audience,
			Tone:     params.Tone,
			Stories:  params.Stories,
		})
		if err != nil {
			return nil, ai.Classify(err)
		}

		if err := report(ctx, "done", 100, "draft ready"); err != nil {
			return nil, err
		}

		return json.Marshal(draft)
	}
}
