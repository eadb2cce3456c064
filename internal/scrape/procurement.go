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
	"github.com/d-kowalski/signalpipe/internal/safeurl"
)

// ProcurementStrategy lists government procurement notices from an
// admin-configured JSON endpoint. The base URL is attacker-influenced,
// so it passes the SSRF guard before any request.
type ProcurementStrategy struct {
	client  *fetchutil.Client
	name    string
	baseURL string
	region  string
}

func NewProcurementStrategy(client *fetchutil.Client, src model.Source) *ProcurementStrategy {
	var cfg struct {
		Region string `json:"region"`
	}
	json.Unmarshal([]byte(src.Config), &cfg)
	return &ProcurementStrategy{client: client, name: src.Name, baseURL: src.BaseURL, region: cfg.Region}
}

type procurementNotice struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	URL      string      `json:"url"`
	Budget   json.Number `json:"budget"`
	Agency   string      `json:"agency"`
	Deadline string      `json:"deadline"`
}

// Fetch returns open notices scored by budget. An SSRF rejection logs
// and yields an empty set without error.
func (s *ProcurementStrategy) Fetch(ctx context.Context) ([]model.ScrapedSignal, error) {
	if err := safeurl.Validate(s.baseURL); err != nil {
		log.Printf("procurement %s: rejected base url %q: %v", s.name, s.baseURL, err)
		return nil, nil
	}
	q := url.Values{}
	if s.region != "" {
		q.Set("region", s.region)
	}
	endpoint := strings.TrimRight(s.baseURL, "/") + "/api/notices"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	body, err := s.client.Get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var notices []procurementNotice
	if err := json.Unmarshal(body, &notices); err != nil {
		return nil, fmt.Errorf("decode notices: %w", err)
	}
	var signals []model.ScrapedSignal
	for _, n := range notices {
		if n.Title == "" || n.URL == "" {
			continue
		}
		budget, _ := n.Budget.Float64()
		meta := map[string]string{}
		if n.Agency != "" {
			meta["agency"] = n.Agency
		}
		if n.Deadline != "" {
			meta["deadline"] = n.Deadline
		}
		signals = append(signals, model.ScrapedSignal{
			Title:      CleanText(n.Title),
			URL:        n.URL,
			Score:      budget,
			Category:   "Procurement",
			ExternalID: n.ID,
			Metadata:   meta,
		})
	}
	return signals, nil
}
