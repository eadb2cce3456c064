package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/d-kowalski/signalpipe/internal/fetchutil"
	"github.com/d-kowalski/signalpipe/internal/model"
	"github.com/d-kowalski/signalpipe/internal/safeurl"
	"github.com/mmcdole/gofeed"
)

// NewUserFeedStrategy builds a feed strategy whose URL and display name
// come from the source's config blob instead of code, so users can add
// feeds without a release. The URL is user-supplied and therefore
// SSRF-guarded at construction; a rejected URL yields a strategy that
// logs and returns nothing.
func NewUserFeedStrategy(client *fetchutil.Client, src model.Source) (Strategy, error) {
	var cfg struct {
		FeedURL  string `json:"feedUrl"`
		Name     string `json:"name"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(src.Config), &cfg); err != nil || cfg.FeedURL == "" {
		// Fall back to the base URL for sources created before the blob
		// carried the feed URL.
		cfg.FeedURL = src.BaseURL
	}
	if cfg.FeedURL == "" {
		return nil, fmt.Errorf("user feed %q has no feed url", src.Slug)
	}
	name := cfg.Name
	if name == "" {
		name = src.Name
	}
	if err := safeurl.Validate(cfg.FeedURL); err != nil {
		log.Printf("userfeed %s: rejected feed url %q: %v", name, cfg.FeedURL, err)
		return emptyStrategy{}, nil
	}
	category := cfg.Category
	return NewFeedStrategy(client, name, cfg.FeedURL, func(item *gofeed.Item) string {
		if len(item.Categories) > 0 {
			if c := CleanText(item.Categories[0]); c != "" {
				return c
			}
		}
		return category
	}), nil
}

// emptyStrategy satisfies the contract for sources that failed the
// SSRF check: logged once, fetches nothing, never errors.
type emptyStrategy struct{}

func (emptyStrategy) Fetch(ctx context.Context) ([]model.ScrapedSignal, error) { return nil, nil }
