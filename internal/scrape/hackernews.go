package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/d-kowalski/signalpipe/internal/fetchutil"
	"github.com/d-kowalski/signalpipe/internal/model"
)

const hnEndpoint = "https://hn.algolia.com/api/v1/search?tags=front_page&hitsPerPage=30"

// HackerNewsStrategy queries the Algolia front-page API. The endpoint
// is fixed and public, so the strategy is exempt from the SSRF guard.
type HackerNewsStrategy struct {
	client   *fetchutil.Client
	endpoint string
}

func NewHackerNewsStrategy(client *fetchutil.Client) *HackerNewsStrategy {
	return &HackerNewsStrategy{client: client, endpoint: hnEndpoint}
}

type hnResponse struct {
	Hits []struct {
		ObjectID    string `json:"objectID"`
		Title       string `json:"title"`
		URL         string `json:"url"`
		Points      int    `json:"points"`
		NumComments int    `json:"num_comments"`
	} `json:"hits"`
}

// Fetch returns the current front page. Items without an external URL
// fall back to their discussion page.
func (s *HackerNewsStrategy) Fetch(ctx context.Context) ([]model.ScrapedSignal, error) {
	body, err := s.client.Get(ctx, s.endpoint)
	if err != nil {
		return nil, err
	}
	var resp hnResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode hn response: %w", err)
	}
	var signals []model.ScrapedSignal
	for _, hit := range resp.Hits {
		if hit.Title == "" {
			continue
		}
		u := hit.URL
		if u == "" {
			u = "https://news.ycombinator.com/item?id=" + hit.ObjectID
		}
		signals = append(signals, model.ScrapedSignal{
			Title:      CleanText(hit.Title),
			URL:        u,
			Score:      float64(hit.Points),
			Category:   "Tech",
			ExternalID: hit.ObjectID,
			Metadata:   map[string]string{"comments": strconv.Itoa(hit.NumComments)},
		})
	}
	return signals, nil
}
