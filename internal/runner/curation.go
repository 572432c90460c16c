// Package runner provides the built-in job runners: curation, generation,
// and search. Each reports progress at bounded intervals so its job stays
// cancellable and observable.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/heraldhq/herald/internal/curation"
	"github.com/heraldhq/herald/internal/feeds"
	"github.com/heraldhq/herald/internal/jobs"
	"github.com/heraldhq/herald/pkg/models"
)

// CurationParams is the metadata payload expected by the curation runner.
type CurationParams struct {
	Feeds    []string `json:"feeds"`
	Keywords []string `json:"keywords,omitempty"`
	MaxItems int      `json:"max_items,omitempty"`
}

// CurationResult is the curation runner's job result.
type CurationResult struct {
	Stories      []models.Story `json:"stories"`
	ItemsFetched int            `json:"items_fetched"`
	FeedsFailed  []string       `json:"feeds_failed,omitempty"`
}

// NewCuration builds the curation runner: fetch the tenant's feeds, then
// dedupe and rank the items into stories. Individual feed failures are
// tolerated; the job fails only when every feed fails.
func NewCuration(client feeds.Client) jobs.Runner {
	return func(ctx context.Context, job *models.Job, report jobs.ProgressFunc) (json.RawMessage, error) {
		var params CurationParams
		if err := json.Unmarshal(job.Metadata, &params); err != nil {
			return nil, fmt.Errorf("invalid curation parameters: %w", err)
		}
		if len(params.Feeds) == 0 {
			return nil, fmt.Errorf("invalid curation parameters: at least one feed is required")
		}

		if err := report(ctx, "fetching", 5, fmt.Sprintf("fetching %d feeds", len(params.Feeds))); err != nil {
			return nil, err
		}

		var (
			items  []models.FeedItem
			failed []string
		)
		for i, feedURL := range params.Feeds {
			fetched, err := client.Fetch(ctx, feedURL)
			if err != nil {
				failed = append(failed, feedURL)
			} else {
				items = append(items, fetched...)
			}

			// 5..70 across the fetch phase.
			progress := 5 + (i+1)*65/len(params.Feeds)
			if err := report(ctx, "fetching", progress, ""); err != nil {
				return nil, err
			}
		}

		if len(failed) == len(params.Feeds) {
			return nil, fmt.Errorf("all %d feeds failed to fetch", len(params.Feeds))
		}

		if err := report(ctx, "curating", 80, fmt.Sprintf("curating %d items", len(items))); err != nil {
			return nil, err
		}

		stories := curation.Curate(items, curation.Options{
			Keywords: params.Keywords,
			HalfLife: 24 * time.Hour,
		})
		if params.MaxItems > 0 && len(stories) > params.MaxItems {
			stories = stories[:params.MaxItems]
		}

		if err := report(ctx, "done", 100, fmt.Sprintf("curated %d stories", len(stories))); err != nil {
			return nil, err
		}

		return json.Marshal(CurationResult{
			Stories:      stories,
			ItemsFetched: len(items),
			FeedsFailed:  failed,
		})
	}
}
