// Package curation deduplicates and ranks feed items into curated stories.
package curation

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/heraldhq/herald/pkg/models"
)

// Normalization regexes compiled once at package init.
var (
	rePossessive = regexp.MustCompile(`'s\b`)
	rePunct      = regexp.MustCompile(`[^\p{L}\p{N} ]+`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// Stop words excluded from title fingerprints so republished headlines with
// minor wording changes collapse into one story.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"of": true, "in": true, "on": true, "to": true, "for": true,
	"with": true, "is": true, "are": true, "at": true, "by": true,
}

// Options tunes scoring. Zero values get sensible defaults.
type Options struct {
	// Keywords boost matching stories; matching is case-insensitive.
	Keywords []string
	// HalfLife is the recency decay half-life. Default 24h.
	HalfLife time.Duration
	// Now anchors recency scoring. Defaults to time.Now.
	Now time.Time
}

// Curate groups near-duplicate feed items by fingerprint and returns stories
// sorted by score descending. Empty input yields an empty slice, never nil.
func Curate(items []models.FeedItem, opts Options) []models.Story {
	if len(items) == 0 {
		return []models.Story{}
	}
	if opts.HalfLife <= 0 {
		opts.HalfLife = 24 * time.Hour
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}

	type storyState struct {
		item    models.FeedItem
		sources map[string]bool
	}

	groups := make(map[string]*storyState)
	order := make([]string, 0, len(items))

	for _, it := range items {
		fp := Fingerprint(it.Title)
		st, exists := groups[fp]
		if !exists {
			st = &storyState{item: it, sources: make(map[string]bool)}
			groups[fp] = st
			order = append(order, fp)
		}
		st.sources[it.Source] = true
		// Keep the earliest publication as the canonical copy; later
		// republications only add source weight.
		if !it.PublishedAt.IsZero() &&
			(st.item.PublishedAt.IsZero() || it.PublishedAt.Before(st.item.PublishedAt)) {
			st.item = mergeItem(st.item, it)
		}
	}

	stories := make([]models.Story, 0, len(groups))
	for _, fp := range order {
		st := groups[fp]
		sources := make([]string, 0, len(st.sources))
		for s := range st.sources {
			sources = append(sources, s)
		}
		sort.Strings(sources)

		stories = append(stories, models.Story{
			Fingerprint: fp,
			Title:       st.item.Title,
			URL:         st.item.URL,
			Summary:     truncateString(st.item.Summary, 2000),
			Sources:     sources,
			Score:       score(st.item, len(sources), opts),
			PublishedAt: st.item.PublishedAt,
		})
	}

	sort.SliceStable(stories, func(i, j int) bool {
		return stories[i].Score > stories[j].Score
	})

	return stories
}

// Fingerprint computes a stable SHA-256 fingerprint for a story title.
func Fingerprint(title string) string {
	normalized := NormalizeTitle(title)
	hash := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", hash)
}

// NormalizeTitle applies all normalization rules to a story title.
func NormalizeTitle(title string) string {
	title = strings.ToLower(title)
	title = rePossessive.ReplaceAllString(title, "")
	title = rePunct.ReplaceAllString(title, " ")
	title = reWhitespace.ReplaceAllString(title, " ")
	title = strings.TrimSpace(title)

	words := strings.Split(title, " ")
	kept := words[:0]
	for _, w := range words {
		if w != "" && !stopWords[w] {
			kept = append(kept, w)
		}
	}
	return truncateString(strings.Join(kept, " "), 500)
}

// score combines recency decay, multi-source corroboration, and keyword
// matches.
func score(item models.FeedItem, sourceCount int, opts Options) float64 {
	s := 1.0

	if !item.PublishedAt.IsZero() {
		age := opts.Now.Sub(item.PublishedAt)
		if age < 0 {
			age = 0
		}
		halves := float64(age) / float64(opts.HalfLife)
		s *= 1.0 / (1.0 + halves)
	} else {
		s *= 0.25
	}

	s *= 1.0 + 0.5*float64(sourceCount-1)

	text := strings.ToLower(item.Title + " " + item.Summary)
	for _, kw := range opts.Keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			s *= 1.5
		}
	}

	return s
}

func mergeItem(existing, earlier models.FeedItem) models.FeedItem {
	merged := earlier
	if merged.Summary == "" {
		merged.Summary = existing.Summary
	}
	if merged.URL == "" {
		merged.URL = existing.URL
	}
	return merged
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
