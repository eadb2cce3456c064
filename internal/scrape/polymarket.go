package scrape

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/d-kowalski/signalpipe/internal/fetchutil"
	"github.com/d-kowalski/signalpipe/internal/model"
)

const polymarketEndpoint = "https://gamma-api.polymarket.com/markets?closed=false&limit=30&order=volume&ascending=false"

// PolymarketStrategy lists open prediction markets by volume.
type PolymarketStrategy struct {
	client   *fetchutil.Client
	endpoint string
}

func NewPolymarketStrategy(client *fetchutil.Client) *PolymarketStrategy {
	return &PolymarketStrategy{client: client, endpoint: polymarketEndpoint}
}

type polymarketMarket struct {
	ID       string      `json:"id"`
	Question string      `json:"question"`
	Slug     string      `json:"slug"`
	Volume   json.Number `json:"volume"`
}

// Fetch returns open markets as signals scored by traded volume.
func (s *PolymarketStrategy) Fetch(ctx context.Context) ([]model.ScrapedSignal, error) {
	body, err := s.client.Get(ctx, s.endpoint)
	if err != nil {
		return nil, err
	}
	var markets []polymarketMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}
	var signals []model.ScrapedSignal
	for _, m := range markets {
		if m.Question == "" || m.Slug == "" {
			continue
		}
		volume, _ := m.Volume.Float64()
		signals = append(signals, model.ScrapedSignal{
			Title:      CleanText(m.Question),
			URL:        "https://polymarket.com/market/" + m.Slug,
			Score:      volume,
			Category:   "Markets",
			ExternalID: m.ID,
		})
	}
	return signals, nil
}
