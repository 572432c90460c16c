package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/heraldhq/herald/internal/feeds"
	"github.com/heraldhq/herald/internal/jobs"
	"github.com/heraldhq/herald/pkg/models"
)

// SearchParams is the metadata payload expected by the search runner.
type SearchParams struct {
	Query string   `json:"query"`
	Feeds []string `json:"feeds"`
	Limit int      `json:"limit,omitempty"`
}

// SearchResult is the search runner's job result.
type SearchResult struct {
	Query   string            `json:"query"`
	Matches []models.FeedItem `json:"matches"`
	Scanned int               `json:"scanned"`
}

const defaultSearchLimit = 50

// NewSearch builds the search runner: scan the tenant's feeds for items
// matching the query string.
func NewSearch(client feeds.Client) jobs.Runner {
	return func(ctx context.Context, job *models.Job, report jobs.ProgressFunc) (json.RawMessage, error) {
		var params SearchParams
		if err := json.Unmarshal(job.Metadata, &params); err != nil {
			return nil, fmt.Errorf("invalid search parameters: %w", err)
		}
		if strings.TrimSpace(params.Query) == "" {
			return nil, fmt.Errorf("invalid search parameters: query is required")
		}
		if len(params.Feeds) == 0 {
			return nil, fmt.Errorf("invalid search parameters: at least one feed is required")
		}
		limit := params.Limit
		if limit <= 0 || limit > 500 {
			limit = defaultSearchLimit
		}

		query := strings.ToLower(params.Query)
		var (
			matches []models.FeedItem
			scanned int
		)

		for i, feedURL := range params.Feeds {
			if err := report(ctx, "searching", (i*100)/len(params.Feeds),
				fmt.Sprintf("searching %s", feedURL)); err != nil {
				return nil, err
			}

			items, err := client.Fetch(ctx, feedURL)
			if err != nil {
				// Skip unreachable feeds; search is best-effort across sources.
				continue
			}
			scanned += len(items)

			for _, it := range items {
				text := strings.ToLower(it.Title + " " + it.Summary)
				if strings.Contains(text, query) {
					matches = append(matches, it)
					if len(matches) >= limit {
						break
					}
				}
			}
			if len(matches) >= limit {
				break
			}
		}

		if err := report(ctx, "done", 100, fmt.Sprintf("found %d matches", len(matches))); err != nil {
			return nil, err
		}

		if matches == nil {
			matches = []models.FeedItem{}
		}
		return json.Marshal(SearchResult{Query: params.Query, Matches: matches, Scanned: scanned})
	}
}
