package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/d-kowalski/signalpipe/internal/fetchutil"
	"github.com/d-kowalski/signalpipe/internal/model"
	"github.com/mmcdole/gofeed"
)

const arxivEndpoint = "https://export.arxiv.org/api/query"

// ArxivStrategy queries the arXiv Atom API for recent submissions in a
// category taken from the config blob (default cs.AI).
type ArxivStrategy struct {
	client   *fetchutil.Client
	endpoint string
	category string
}

func NewArxivStrategy(client *fetchutil.Client, src model.Source) *ArxivStrategy {
	cat := "cs.AI"
	var cfg struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(src.Config), &cfg); err == nil && cfg.Category != "" {
		cat = cfg.Category
	}
	return &ArxivStrategy{client: client, endpoint: arxivEndpoint, category: cat}
}

// Fetch returns recent papers, newest first.
func (s *ArxivStrategy) Fetch(ctx context.Context) ([]model.ScrapedSignal, error) {
	q := url.Values{}
	q.Set("search_query", "cat:"+s.category)
	q.Set("sortBy", "submittedDate")
	q.Set("sortOrder", "descending")
	q.Set("max_results", "30")

	body, err := s.client.Get(ctx, s.endpoint+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse arxiv feed: %w", err)
	}
	var signals []model.ScrapedSignal
	for _, item := range parsed.Items {
		if item.Link == "" || item.Title == "" {
			continue
		}
		meta := map[string]string{"arxiv_category": s.category}
		if len(item.Authors) > 0 {
			meta["first_author"] = item.Authors[0].Name
		}
		signals = append(signals, model.ScrapedSignal{
			Title:      CleanText(item.Title),
			URL:        item.Link,
			Summary:    Preview(item.Description),
			Category:   "Research",
			ExternalID: item.GUID,
			Metadata:   meta,
		})
	}
	return signals, nil
}
