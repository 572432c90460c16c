// Package prompt builds the prompts shared by all content providers and
// decodes their replies into drafts.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/heraldhq/herald/pkg/models"
)

const maxStoriesInPrompt = 12

// Generation renders the newsletter-drafting prompt. The provider is asked
// for a strict JSON object matching models.Draft so replies can be decoded
// without scraping.
func Generation(req models.GenerationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are drafting the newsletter %q for an audience of %s.\n", req.Title, orDefault(req.Audience, "general readers"))
	fmt.Fprintf(&b, "Write in a %s tone.\n\n", orDefault(req.Tone, "clear, friendly"))
	b.WriteString("Stories to cover, best first:\n")

	stories := req.Stories
	if len(stories) > maxStoriesInPrompt {
		stories = stories[:maxStoriesInPrompt]
	}
	for i, st := range stories {
		fmt.Fprintf(&b, "%d. %s: %s (%s)\n", i+1, st.Title, st.Summary, st.URL)
	}

	b.WriteString(`
Respond with only a JSON object of the form:
{"subject": "...", "sections": [{"heading": "...", "body": "...", "url": "..."}]}
One section per story, two to four sentences each.`)
	return b.String()
}

// Summary renders the digest prompt for a set of feed items.
func Summary(items []models.FeedItem) string {
	var b strings.Builder
	b.WriteString("Summarize the following headlines into one short paragraph for a newsletter editor:\n\n")
	for _, it := range items {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", it.Source, it.Title, it.Summary)
	}
	return b.String()
}

// DecodeDraft parses a provider reply into a Draft. Providers occasionally
// wrap JSON in code fences; strip them before decoding.
func DecodeDraft(text, model string) (models.Draft, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var d models.Draft
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &d); err != nil {
		return models.Draft{}, fmt.Errorf("decode draft: %w", err)
	}
	if d.Subject == "" || len(d.Sections) == 0 {
		return models.Draft{}, fmt.Errorf("decode draft: missing subject or sections")
	}
	d.Model = model
	return d, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
