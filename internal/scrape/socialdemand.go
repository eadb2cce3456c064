package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/d-kowalski/signalpipe/internal/fetchutil"
	"github.com/d-kowalski/signalpipe/internal/model"
	"github.com/d-kowalski/signalpipe/internal/safeurl"
)

// SocialDemandStrategy scrapes a forum or hot-list page configured by
// an admin. Selectors come from the config blob so one strategy covers
// many community sites; every key has a forgiving default. SSRF-guarded.
type SocialDemandStrategy struct {
	client       *fetchutil.Client
	name         string
	baseURL      string
	itemSelector string
	linkSelector string
	voteSelector string
}

func NewSocialDemandStrategy(client *fetchutil.Client, src model.Source) *SocialDemandStrategy {
	s := &SocialDemandStrategy{
		client:       client,
		name:         src.Name,
		baseURL:      src.BaseURL,
		itemSelector: "li, article",
		linkSelector: "a",
	}
	var cfg struct {
		ItemSelector string `json:"itemSelector"`
		LinkSelector string `json:"linkSelector"`
		VoteSelector string `json:"voteSelector"`
	}
	if err := json.Unmarshal([]byte(src.Config), &cfg); err == nil {
		if cfg.ItemSelector != "" {
			s.itemSelector = cfg.ItemSelector
		}
		if cfg.LinkSelector != "" {
			s.linkSelector = cfg.LinkSelector
		}
		s.voteSelector = cfg.VoteSelector
	}
	return s
}

// Fetch scrapes the configured page. Items without a resolvable link
// are dropped; score comes from the vote selector when present,
// otherwise from inverse list position.
func (s *SocialDemandStrategy) Fetch(ctx context.Context) ([]model.ScrapedSignal, error) {
	if err := safeurl.Validate(s.baseURL); err != nil {
		log.Printf("socialdemand %s: rejected base url %q: %v", s.name, s.baseURL, err)
		return nil, nil
	}
	return s.fetchUnguarded(ctx)
}

func (s *SocialDemandStrategy) fetchUnguarded(ctx context.Context) ([]model.ScrapedSignal, error) {
	base, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	body, err := s.client.Get(ctx, s.baseURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	var signals []model.ScrapedSignal
	items := doc.Find(s.itemSelector)
	items.Each(func(i int, item *goquery.Selection) {
		link := item.Find(s.linkSelector).First()
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		title := CleanText(link.Text())
		if title == "" {
			title = CleanText(item.Text())
		}
		if title == "" {
			return
		}
		score := float64(items.Length() - i)
		if s.voteSelector != "" {
			if votes := parseCount(item.Find(s.voteSelector).First().Text()); votes > 0 {
				score = votes
			}
		}
		signals = append(signals, model.ScrapedSignal{
			Title:    Truncate(title, 200),
			URL:      abs,
			Score:    score,
			Category: "Demand",
			Metadata: map[string]string{"rank": strconv.Itoa(i + 1), "platform": strings.ToLower(s.name)},
		})
	})
	return signals, nil
}
