// Package mock provides a deterministic content provider for tests and local
// development without network access.
package mock

import (
	"context"
	"fmt"
	"strings"

	"github.com/heraldhq/herald/pkg/models"
)

// Provider implements models.ContentProvider with canned, deterministic
// output derived from its input.
type Provider struct {
	// GenerateErr and SummarizeErr, when set, are returned instead of output.
	GenerateErr  error
	SummarizeErr error
}

func NewProvider() *Provider { return &Provider{} }

func (p *Provider) Name() string { return "mock" }

func (p *Provider) GenerateSections(_ context.Context, req models.GenerationRequest) (models.Draft, error) {
	if p.GenerateErr != nil {
		return models.Draft{}, p.GenerateErr
	}

	sections := make([]models.Section, 0, len(req.Stories))
	for _, st := range req.Stories {
		sections = append(sections, models.Section{
			Heading: st.Title,
			Body:    fmt.Sprintf("Mock copy about %s.", st.Title),
			URL:     st.URL,
		})
	}
	if len(sections) == 0 {
		sections = append(sections, models.Section{Heading: "Nothing this week", Body: "No stories were curated."})
	}

	return models.Draft{
		Subject:  fmt.Sprintf("%s: %d stories", req.Title, len(req.Stories)),
		Sections: sections,
		Model:    "mock-v1",
	}, nil
}

func (p *Provider) SummarizeItems(_ context.Context, items []models.FeedItem) (string, error) {
	if p.SummarizeErr != nil {
		return "", p.SummarizeErr
	}

	titles := make([]string, 0, len(items))
	for _, it := range items {
		titles = append(titles, it.Title)
	}
	return "Digest: " + strings.Join(titles, "; "), nil
}

var _ models.ContentProvider = (*Provider)(nil)
