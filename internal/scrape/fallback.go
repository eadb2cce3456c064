package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/d-kowalski/signalpipe/internal/fetchutil"
	"github.com/d-kowalski/signalpipe/internal/model"
	"github.com/mmcdole/gofeed"
)

// fallbackChain escalates a blocked feed fetch: first the hosting
// platform's archive API (when the feed lives on a known platform),
// then a site-scoped news-search feed. Stages run strictly in order
// and the chain stops at the first stage that yields signals.
type fallbackChain struct {
	client *fetchutil.Client
	// searchBase and archiveSuffix are swapped in tests.
	searchBase    string
	archiveSuffix string
}

const (
	newsSearchBase    = "https://news.google.com/rss/search"
	archiveHostSuffix = ".substack.com"
)

func newFallbackChain(client *fetchutil.Client) *fallbackChain {
	return &fallbackChain{client: client, searchBase: newsSearchBase, archiveSuffix: archiveHostSuffix}
}

// run executes the chain for a feed whose primary fetch failed with
// primaryErr. It returns the recovered signals, the endpoints actually
// attempted, and an error only when every stage failed.
func (c *fallbackChain) run(ctx context.Context, feedURL string, primaryErr error, category CategoryFunc) ([]model.ScrapedSignal, []string, error) {
	var attempted []string
	lastErr := primaryErr

	// Stage 2: platform archive, only for blocked responses on a feed
	// we know how to reach through the platform API.
	if fetchutil.IsBlocked(primaryErr) {
		if archiveURL, ok := c.archiveEndpoint(feedURL); ok {
			attempted = append(attempted, archiveURL)
			signals, err := c.fetchArchive(ctx, archiveURL)
			if err == nil {
				return signals, attempted, nil
			}
			log.Printf("fallback: archive %s failed: %v", archiveURL, err)
			lastErr = err
		}
	}

	// Stage 3: site-scoped search feed, for blocked or transport-level
	// failures anywhere earlier in the chain.
	if fetchutil.IsBlocked(lastErr) || fetchutil.IsTransport(lastErr) {
		searchURL, ok := c.searchEndpoint(feedURL)
		if ok {
			attempted = append(attempted, searchURL)
			signals, err := c.fetchSearch(ctx, searchURL, category)
			if err == nil {
				return signals, attempted, nil
			}
			log.Printf("fallback: search %s failed: %v", searchURL, err)
			lastErr = err
		}
	}

	return nil, attempted, fmt.Errorf("all fetch stages failed: %w", lastErr)
}

// archiveEndpoint maps a platform-hosted feed URL to the platform's
// archive API. Currently only Substack-hosted feeds qualify.
func (c *fallbackChain) archiveEndpoint(feedURL string) (string, bool) {
	u, err := url.Parse(feedURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	path := strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(host, c.archiveSuffix) || !strings.HasSuffix(path, "/feed") {
		return "", false
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/api/v1/archive", RawQuery: "sort=new&limit=20"}).String(), true
}

// archiveItem is the subset of the platform archive schema the chain
// maps into signals.
type archiveItem struct {
	ID           json.Number `json:"id"`
	Title        string      `json:"title"`
	CanonicalURL string      `json:"canonical_url"`
	Subtitle     string      `json:"subtitle"`
}

func (c *fallbackChain) fetchArchive(ctx context.Context, archiveURL string) ([]model.ScrapedSignal, error) {
	body, err := c.client.Get(ctx, archiveURL)
	if err != nil {
		return nil, err
	}
	var items []archiveItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	var signals []model.ScrapedSignal
	for _, it := range items {
		if it.CanonicalURL == "" || it.Title == "" {
			continue
		}
		signals = append(signals, model.ScrapedSignal{
			Title:      CleanText(it.Title),
			URL:        it.CanonicalURL,
			Summary:    Preview(it.Subtitle),
			ExternalID: it.ID.String(),
		})
	}
	return signals, nil
}

// searchEndpoint builds a site: query against the news-search feed.
// Per-author feeds (paths starting with /@name or /author/name) narrow
// the query to that path prefix.
func (c *fallbackChain) searchEndpoint(feedURL string) (string, bool) {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	site := u.Hostname()
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) > 0 {
		if strings.HasPrefix(segments[0], "@") {
			site += "/" + segments[0]
		} else if segments[0] == "author" && len(segments) > 1 {
			site += "/author/" + segments[1]
		}
	}
	q := url.Values{}
	q.Set("q", "site:"+site)
	q.Set("hl", "en-US")
	return c.searchBase + "?" + q.Encode(), true
}

func (c *fallbackChain) fetchSearch(ctx context.Context, searchURL string, category CategoryFunc) ([]model.ScrapedSignal, error) {
	body, err := c.client.Get(ctx, searchURL)
	if err != nil {
		return nil, err
	}
	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse search feed: %w", err)
	}
	var signals []model.ScrapedSignal
	for _, item := range parsed.Items {
		if item.Link == "" || item.Title == "" {
			continue
		}
		sig := model.ScrapedSignal{
			Title:      CleanText(item.Title),
			URL:        item.Link,
			Summary:    Preview(item.Description),
			ExternalID: item.GUID,
		}
		if category != nil {
			sig.Category = category(item)
		}
		signals = append(signals, sig)
	}
	return signals, nil
}
