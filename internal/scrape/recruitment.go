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

// RecruitmentStrategy lists job posts from an admin-configured JSON
// endpoint, scored by salary midpoint. SSRF-guarded.
type RecruitmentStrategy struct {
	client  *fetchutil.Client
	name    string
	baseURL string
	keyword string
	region  string
}

func NewRecruitmentStrategy(client *fetchutil.Client, src model.Source) *RecruitmentStrategy {
	var cfg struct {
		Keyword string `json:"keyword"`
		Region  string `json:"region"`
	}
	json.Unmarshal([]byte(src.Config), &cfg)
	return &RecruitmentStrategy{client: client, name: src.Name, baseURL: src.BaseURL, keyword: cfg.Keyword, region: cfg.Region}
}

type jobPost struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	URL       string      `json:"url"`
	SalaryMin json.Number `json:"salaryMin"`
	SalaryMax json.Number `json:"salaryMax"`
	Company   string      `json:"company"`
	Location  string      `json:"location"`
}

func (s *RecruitmentStrategy) Fetch(ctx context.Context) ([]model.ScrapedSignal, error) {
	if err := safeurl.Validate(s.baseURL); err != nil {
		log.Printf("recruitment %s: rejected base url %q: %v", s.name, s.baseURL, err)
		return nil, nil
	}
	q := url.Values{}
	if s.keyword != "" {
		q.Set("keyword", s.keyword)
	}
	if s.region != "" {
		q.Set("region", s.region)
	}
	endpoint := strings.TrimRight(s.baseURL, "/") + "/api/jobs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	body, err := s.client.Get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var posts []jobPost
	if err := json.Unmarshal(body, &posts); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}
	var signals []model.ScrapedSignal
	for _, p := range posts {
		if p.Title == "" || p.URL == "" {
			continue
		}
		lo, _ := p.SalaryMin.Float64()
		hi, _ := p.SalaryMax.Float64()
		meta := map[string]string{}
		if p.Company != "" {
			meta["company"] = p.Company
		}
		if p.Location != "" {
			meta["location"] = p.Location
		}
		signals = append(signals, model.ScrapedSignal{
			Title:      CleanText(p.Title),
			URL:        p.URL,
			Score:      (lo + hi) / 2,
			Category:   "Jobs",
			ExternalID: p.ID,
			Metadata:   meta,
		})
	}
	return signals, nil
}
