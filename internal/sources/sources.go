package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/disinfo-zone/voidwire-sub000/config"
)

// RawItem is one fetched content item before distillation.
type RawItem struct {
	Source       string  `json:"source"`
	SourceWeight float64 `json:"source_weight"`
	Title        string  `json:"title"`
	URL          string  `json:"url"`
	Body         string  `json:"body"`
	PublishedAt  string  `json:"published_at,omitempty"`
}

// Fetcher pulls raw items from configured feeds. A failing source must not
// abort the caller; it just contributes nothing.
type Fetcher interface {
	Fetch(ctx context.Context, feeds []config.FeedConfig) []RawItem
}

// HTTPFetcher fetches JSON Feed endpoints and plain HTML pages.
type HTTPFetcher struct {
	client *http.Client
	logger *log.Logger
}

// NewHTTPFetcher builds a fetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration, logger *log.Logger) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SOURCES] ", log.LstdFlags)
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}, logger: logger}
}

// Fetch collects items from every feed, isolating per-source failures.
func (f *HTTPFetcher) Fetch(ctx context.Context, feeds []config.FeedConfig) []RawItem {
	var items []RawItem
	for _, feed := range feeds {
		fetched, err := f.fetchOne(ctx, feed)
		if err != nil {
			f.logger.Printf("source %s failed: %v", feed.Name, err)
			continue
		}
		items = append(items, fetched...)
	}
	return items
}

func (f *HTTPFetcher) fetchOne(ctx context.Context, feed config.FeedConfig) ([]RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", "voidwire/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source returned status %s", resp.Status)
	}

	switch feed.Kind {
	case "html":
		return f.parseHTML(feed, resp)
	default:
		return f.parseJSONFeed(feed, resp)
	}
}

// jsonFeed is the subset of JSON Feed v1 we consume.
type jsonFeed struct {
	Items []struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		ContentText   string `json:"content_text"`
		ContentHTML   string `json:"content_html"`
		Summary       string `json:"summary"`
		DatePublished string `json:"date_published"`
	} `json:"items"`
}

func (f *HTTPFetcher) parseJSONFeed(feed config.FeedConfig, resp *http.Response) ([]RawItem, error) {
	var parsed jsonFeed
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding feed: %w", err)
	}

	maxItems := feed.MaxItems
	if maxItems <= 0 {
		maxItems = 25
	}

	var items []RawItem
	for _, it := range parsed.Items {
		if len(items) >= maxItems {
			break
		}
		body := it.ContentText
		if body == "" {
			body = it.Summary
		}
		if body == "" && it.ContentHTML != "" {
			body = stripTags(it.ContentHTML)
		}
		if strings.TrimSpace(it.Title) == "" && strings.TrimSpace(body) == "" {
			continue
		}
		items = append(items, RawItem{
			Source:       feed.Name,
			SourceWeight: feed.Weight,
			Title:        strings.TrimSpace(it.Title),
			URL:          it.URL,
			Body:         strings.TrimSpace(body),
			PublishedAt:  it.DatePublished,
		})
	}
	return items, nil
}

// parseHTML runs readability extraction over a single page and yields one
// item carrying the page's main text.
func (f *HTTPFetcher) parseHTML(feed config.FeedConfig, resp *http.Response) ([]RawItem, error) {
	pageURL, err := url.Parse(feed.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing feed url: %w", err)
	}
	article, err := readability.FromReader(resp.Body, pageURL)
	if err != nil {
		return nil, fmt.Errorf("extracting readable content: %w", err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return nil, fmt.Errorf("no readable content")
	}
	if len(text) > 8000 {
		text = text[:8000]
	}
	return []RawItem{{
		Source:       feed.Name,
		SourceWeight: feed.Weight,
		Title:        strings.TrimSpace(article.Title),
		URL:          feed.URL,
		Body:         text,
	}}, nil
}

// stripTags is a crude fallback for feeds that only carry HTML bodies.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
