package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/d-kowalski/signalpipe/internal/fetchutil"
	"github.com/d-kowalski/signalpipe/internal/model"
	"github.com/d-kowalski/signalpipe/internal/safeurl"
)

// AppRankStrategy reads a app-ranking JSON listing from an
// admin-configured endpoint. SSRF-guarded.
type AppRankStrategy struct {
	client  *fetchutil.Client
	name    string
	baseURL string
}

func NewAppRankStrategy(client *fetchutil.Client, src model.Source) *AppRankStrategy {
	return &AppRankStrategy{client: client, name: src.Name, baseURL: src.BaseURL}
}

type rankedApp struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	URL       string      `json:"url"`
	Rank      int         `json:"rank"`
	Downloads json.Number `json:"downloads"`
}

func (s *AppRankStrategy) Fetch(ctx context.Context) ([]model.ScrapedSignal, error) {
	if err := safeurl.Validate(s.baseURL); err != nil {
		log.Printf("apprank %s: rejected base url %q: %v", s.name, s.baseURL, err)
		return nil, nil
	}
	body, err := s.client.Get(ctx, s.baseURL)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Apps []rankedApp `json:"apps"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode app ranking: %w", err)
	}
	var signals []model.ScrapedSignal
	for i, app := range payload.Apps {
		if app.Name == "" || app.URL == "" {
			continue
		}
		downloads, _ := app.Downloads.Float64()
		score := downloads
		if score == 0 {
			score = float64(len(payload.Apps) - i)
		}
		rank := app.Rank
		if rank == 0 {
			rank = i + 1
		}
		signals = append(signals, model.ScrapedSignal{
			Title:      CleanText(app.Name),
			URL:        app.URL,
			Score:      score,
			Category:   "Apps",
			ExternalID: app.ID,
			Metadata:   map[string]string{"rank": strconv.Itoa(rank)},
		})
	}
	return signals, nil
}
