package scrape

import (
	"context"
	"log"

	"github.com/d-kowalski/signalpipe/internal/fetchutil"
	"github.com/d-kowalski/signalpipe/internal/model"
	"github.com/mmcdole/gofeed"
)

// CategoryFunc derives the category for one feed item. The rest of the
// feed handling is identical across feed sources; this is the only
// customization point.
type CategoryFunc func(item *gofeed.Item) string

// FeedStrategy fetches an RSS/Atom feed, escalating through the
// fallback chain when the primary feed is blocked.
type FeedStrategy struct {
	client   *fetchutil.Client
	name     string
	feedURL  string
	category CategoryFunc
	chain    *fallbackChain

	// Attempted lists the endpoints tried during the last Fetch, for
	// diagnostics.
	Attempted []string
}

// NewFeedStrategy builds a feed strategy. category may be nil.
func NewFeedStrategy(client *fetchutil.Client, name, feedURL string, category CategoryFunc) *FeedStrategy {
	return &FeedStrategy{
		client:   client,
		name:     name,
		feedURL:  feedURL,
		category: category,
		chain:    newFallbackChain(client),
	}
}

// Fetch runs the primary fetch and the fallback chain. It never
// panics; total failure returns an empty list plus the error for
// accounting.
func (s *FeedStrategy) Fetch(ctx context.Context) ([]model.ScrapedSignal, error) {
	s.Attempted = []string{s.feedURL}

	body, err := s.client.Get(ctx, s.feedURL)
	if err == nil {
		return s.parseFeed(string(body)), nil
	}
	log.Printf("feed %s: primary fetch failed: %v", s.name, err)

	signals, attempted, ferr := s.chain.run(ctx, s.feedURL, err, s.category)
	s.Attempted = append(s.Attempted, attempted...)
	if ferr != nil {
		return nil, ferr
	}
	return signals, nil
}

// parseFeed converts feed items into signals. Items without a link are
// dropped; title and description are cleaned and the description is
// truncated to a bounded preview.
func (s *FeedStrategy) parseFeed(raw string) []model.ScrapedSignal {
	parsed, err := gofeed.NewParser().ParseString(raw)
	if err != nil {
		log.Printf("feed %s: parse failed: %v", s.name, err)
		return nil
	}
	var signals []model.ScrapedSignal
	for _, item := range parsed.Items {
		if item.Link == "" {
			continue
		}
		sig := model.ScrapedSignal{
			Title:      CleanText(item.Title),
			URL:        item.Link,
			Summary:    Preview(item.Description),
			ExternalID: item.GUID,
		}
		if sig.Title == "" {
			continue
		}
		if s.category != nil {
			sig.Category = s.category(item)
		}
		signals = append(signals, sig)
	}
	return signals
}

// categoryForFeed returns the per-source category derivation for the
// built-in feed sources.
func categoryForFeed(slug string) CategoryFunc {
	switch slug {
	case "techcrunch":
		return firstFeedCategory("Startup")
	case "ars-technica":
		return firstFeedCategory("Tech")
	case "indie-hackers":
		return func(*gofeed.Item) string { return "Indie" }
	default:
		return firstFeedCategory("")
	}
}

// firstFeedCategory takes the item's first feed-declared category,
// falling back to a fixed default.
func firstFeedCategory(fallback string) CategoryFunc {
	return func(item *gofeed.Item) string {
		if len(item.Categories) > 0 {
			if c := CleanText(item.Categories[0]); c != "" {
				return c
			}
		}
		return fallback
	}
}
