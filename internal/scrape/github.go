package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/d-kowalski/signalpipe/internal/fetchutil"
	"github.com/d-kowalski/signalpipe/internal/model"
)

const ghTrendingEndpoint = "https://github.com/trending"

// GitHubTrendingStrategy scrapes the trending-repositories page. The
// optional config blob key "language" narrows the listing.
type GitHubTrendingStrategy struct {
	client   *fetchutil.Client
	endpoint string
}

func NewGitHubTrendingStrategy(client *fetchutil.Client, src model.Source) *GitHubTrendingStrategy {
	endpoint := ghTrendingEndpoint
	var cfg struct {
		Language string `json:"language"`
	}
	// Missing or malformed config just means the default listing.
	if err := json.Unmarshal([]byte(src.Config), &cfg); err == nil && cfg.Language != "" {
		endpoint += "/" + cfg.Language
	}
	return &GitHubTrendingStrategy{client: client, endpoint: endpoint}
}

// Fetch scrapes one trending page. Rows that fail to parse are skipped
// individually.
func (s *GitHubTrendingStrategy) Fetch(ctx context.Context) ([]model.ScrapedSignal, error) {
	body, err := s.client.Get(ctx, s.endpoint)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse trending page: %w", err)
	}

	var signals []model.ScrapedSignal
	doc.Find("article.Box-row").Each(func(i int, row *goquery.Selection) {
		href, ok := row.Find("h2 a").Attr("href")
		if !ok || href == "" {
			return
		}
		repo := strings.Trim(href, "/")
		stars := parseCount(row.Find(`a[href$="/stargazers"]`).First().Text())
		signals = append(signals, model.ScrapedSignal{
			Title:    repo,
			URL:      "https://github.com/" + repo,
			Summary:  Preview(row.Find("p").First().Text()),
			Score:    stars,
			Category: "Open Source",
			Metadata: map[string]string{"rank": strconv.Itoa(i + 1)},
		})
	})
	if len(signals) == 0 {
		log.Printf("github-trending: no rows parsed from %s", s.endpoint)
	}
	return signals, nil
}

// parseCount reads counts like "12,345" or "1.2k".
func parseCount(s string) float64 {
	s = strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, ",", "")))
	if s == "" {
		return 0
	}
	mult := 1.0
	if strings.HasSuffix(s, "k") {
		mult = 1000
		s = strings.TrimSuffix(s, "k")
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return n * mult
}
