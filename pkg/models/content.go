package models

import (
	"context"
	"time"
)

// ContentProvider is the core interface that all AI integrations must
// implement. Callers inject this interface rather than a concrete provider.
type ContentProvider interface {
	// GenerateSections drafts newsletter sections from curated stories.
	GenerateSections(ctx context.Context, req GenerationRequest) (Draft, error)
	// SummarizeItems condenses a set of feed items into a short digest.
	SummarizeItems(ctx context.Context, items []FeedItem) (string, error)
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
}

// GenerationRequest is the input to a newsletter generation operation.
type GenerationRequest struct {
	Title    string
	Audience string
	Tone     string
	Stories  []Story // Curated stories to write about, ranked best-first
}

// Draft is the output of a generation operation.
type Draft struct {
	Subject  string    `json:"subject"`
	Sections []Section `json:"sections"`
	Model    string    `json:"model"`
}

// Section is one block of generated newsletter copy.
type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
	URL     string `json:"url,omitempty"`
}

// FeedItem represents a single entry fetched from an RSS/Atom feed.
type FeedItem struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Summary     string    `json:"summary"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// Story is a deduplicated, scored feed item produced by curation.
type Story struct {
	Fingerprint string    `json:"fingerprint"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Summary     string    `json:"summary"`
	Sources     []string  `json:"sources"`
	Score       float64   `json:"score"`
	PublishedAt time.Time `json:"published_at"`
}
