// Package feeds fetches and parses RSS and Atom feeds over HTTP.
package feeds

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/heraldhq/herald/pkg/models"
)

// Sentinel errors for feed client failures.
var (
	ErrFeedUnreachable = errors.New("feed unreachable")
	ErrFeedTimeout     = errors.New("feed fetch timeout")
	ErrFeedMalformed   = errors.New("feed malformed")
)

// Client is the interface for fetching feeds.
type Client interface {
	Fetch(ctx context.Context, feedURL string) ([]models.FeedItem, error)
}

// HTTPClient implements Client over plain HTTP.
type HTTPClient struct {
	userAgent string
	client    *http.Client
}

// NewHTTPClient creates a new feed HTTP client.
func NewHTTPClient(userAgent string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

// Fetch downloads one feed and returns its entries, newest-first order
// preserved as published. Both RSS 2.0 and Atom documents are accepted.
func (c *HTTPClient) Fetch(ctx context.Context, feedURL string) ([]models.FeedItem, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFeedUnreachable, resp.StatusCode)
	}

	var doc feedDocument
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedMalformed, err)
	}

	return doc.items(feedURL), nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrFeedTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrFeedTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrFeedUnreachable, err)
}

// --- feed document types ---

// feedDocument decodes either an <rss> or a <feed> (Atom) root element.
type feedDocument struct {
	XMLName xml.Name
	Title   string      `xml:"title"` // Atom
	Entries []atomEntry `xml:"entry"` // Atom
	Channel rssChannel  `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Updated   string     `xml:"updated"`
	Published string     `xml:"published"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

func (d feedDocument) items(feedURL string) []models.FeedItem {
	if d.XMLName.Local == "feed" {
		return d.atomItems(feedURL)
	}
	return d.rssItems(feedURL)
}

func (d feedDocument) rssItems(feedURL string) []models.FeedItem {
	source := d.Channel.Title
	if source == "" {
		source = feedURL
	}
	items := make([]models.FeedItem, 0, len(d.Channel.Items))
	for _, it := range d.Channel.Items {
		items = append(items, models.FeedItem{
			Title:       strings.TrimSpace(it.Title),
			URL:         strings.TrimSpace(it.Link),
			Summary:     strings.TrimSpace(it.Description),
			Source:      source,
			PublishedAt: parseFeedTime(it.PubDate),
		})
	}
	return items
}

func (d feedDocument) atomItems(feedURL string) []models.FeedItem {
	source := d.Title
	if source == "" {
		source = feedURL
	}
	items := make([]models.FeedItem, 0, len(d.Entries))
	for _, e := range d.Entries {
		published := e.Published
		if published == "" {
			published = e.Updated
		}
		items = append(items, models.FeedItem{
			Title:       strings.TrimSpace(e.Title),
			URL:         e.link(),
			Summary:     strings.TrimSpace(e.Summary),
			Source:      source,
			PublishedAt: parseFeedTime(published),
		})
	}
	return items
}

func (e atomEntry) link() string {
	for _, l := range e.Links {
		if l.Rel == "" || l.Rel == "alternate" {
			return strings.TrimSpace(l.Href)
		}
	}
	if len(e.Links) > 0 {
		return strings.TrimSpace(e.Links[0].Href)
	}
	return ""
}

// Feed timestamp formats seen in the wild, tried in order.
var feedTimeFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"Mon, 2 Jan 2006 15:04:05 -0700",
}

func parseFeedTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range feedTimeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
