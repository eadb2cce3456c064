package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/d-kowalski/signalpipe/internal/fetchutil"
	"github.com/d-kowalski/signalpipe/internal/model"
)

// AppStoreStrategy reads the app-store top-apps RSS (JSON flavor).
// Region and list size come from the config blob.
type AppStoreStrategy struct {
	client   *fetchutil.Client
	endpoint string
}

func NewAppStoreStrategy(client *fetchutil.Client, src model.Source) *AppStoreStrategy {
	region, limit := "us", 25
	var cfg struct {
		Region string `json:"region"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal([]byte(src.Config), &cfg); err == nil {
		if cfg.Region != "" {
			region = cfg.Region
		}
		if cfg.Limit > 0 && cfg.Limit <= 100 {
			limit = cfg.Limit
		}
	}
	endpoint := fmt.Sprintf("https://itunes.apple.com/%s/rss/topfreeapplications/limit=%d/json", region, limit)
	return &AppStoreStrategy{client: client, endpoint: endpoint}
}

// appStoreFeed mirrors the awkward nesting of the store's RSS JSON.
type appStoreFeed struct {
	Feed struct {
		Entry []struct {
			Name struct {
				Label string `json:"label"`
			} `json:"im:name"`
			Summary struct {
				Label string `json:"label"`
			} `json:"summary"`
			ID struct {
				Label      string `json:"label"`
				Attributes struct {
					ID string `json:"im:id"`
				} `json:"attributes"`
			} `json:"id"`
		} `json:"entry"`
	} `json:"feed"`
}

// Fetch returns the ranked app list; rank is carried in metadata and
// doubles, inverted, as the score so higher-ranked apps sort first.
func (s *AppStoreStrategy) Fetch(ctx context.Context) ([]model.ScrapedSignal, error) {
	body, err := s.client.Get(ctx, s.endpoint)
	if err != nil {
		return nil, err
	}
	var parsed appStoreFeed
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode appstore feed: %w", err)
	}
	var signals []model.ScrapedSignal
	for i, e := range parsed.Feed.Entry {
		if e.Name.Label == "" || e.ID.Label == "" {
			continue
		}
		signals = append(signals, model.ScrapedSignal{
			Title:      CleanText(e.Name.Label),
			URL:        e.ID.Label,
			Summary:    Preview(e.Summary.Label),
			Score:      float64(len(parsed.Feed.Entry) - i),
			Category:   "Apps",
			ExternalID: e.ID.Attributes.ID,
			Metadata:   map[string]string{"rank": strconv.Itoa(i + 1)},
		})
	}
	return signals, nil
}
