package scrape

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/d-kowalski/signalpipe/internal/fetchutil"
	"github.com/d-kowalski/signalpipe/internal/model"
	"github.com/d-kowalski/signalpipe/internal/safeurl"
	readability "github.com/go-shiori/go-readability"
)

// pageTimeout is longer than the catalog fetch timeout; arbitrary
// article pages are slower than APIs.
const pageTimeout = 30 * time.Second

// pageContentMax bounds the extracted text carried in metadata.
const pageContentMax = 20000

// PageStrategy fetches one arbitrary page and extracts its main
// content. This is the on-demand "read this article" path: it returns
// a single signal whose metadata carries the full text for downstream
// summarization.
type PageStrategy struct {
	client  *fetchutil.Client
	pageURL string
	guarded bool
}

// NewPageStrategy builds the strategy. guarded should be true whenever
// the URL is user-supplied.
func NewPageStrategy(client *fetchutil.Client, pageURL string, guarded bool) *PageStrategy {
	return &PageStrategy{client: client, pageURL: pageURL, guarded: guarded}
}

func (s *PageStrategy) Fetch(ctx context.Context) ([]model.ScrapedSignal, error) {
	if s.guarded {
		if err := safeurl.Validate(s.pageURL); err != nil {
			log.Printf("page: rejected url %q: %v", s.pageURL, err)
			return nil, nil
		}
	}
	ctx, cancel := context.WithTimeout(ctx, pageTimeout)
	defer cancel()

	body, err := s.client.Get(ctx, s.pageURL)
	if err != nil {
		return nil, err
	}
	title, text := extractContent(body, s.pageURL)
	if text == "" {
		return nil, fmt.Errorf("no readable content at %s", s.pageURL)
	}
	if title == "" {
		title = s.pageURL
	}
	return []model.ScrapedSignal{{
		Title:    Truncate(title, 200),
		URL:      s.pageURL,
		Summary:  Truncate(text, SummaryPreviewLen),
		Category: "Article",
		Metadata: map[string]string{"content": Truncate(text, pageContentMax)},
	}}, nil
}

// extractContent tries readability first and falls back to picking the
// largest plausible content container by hand.
func extractContent(body []byte, pageURL string) (title, text string) {
	parsedURL, _ := url.Parse(pageURL)
	if article, err := readability.FromReader(bytes.NewReader(body), parsedURL); err == nil {
		title = CleanText(article.Title)
		text = CleanText(article.TextContent)
		if len(text) > 200 {
			return title, text
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", ""
	}
	if title == "" {
		title = CleanText(doc.Find("title").First().Text())
	}
	doc.Find("script, style, nav, footer, header, aside, iframe, noscript").Remove()

	// Largest of the usual content containers wins; whole body as a
	// last resort.
	best := ""
	doc.Find("article, main, #content, .content, .post, .article-body").Each(func(_ int, sel *goquery.Selection) {
		if t := CleanText(sel.Text()); len(t) > len(best) {
			best = t
		}
	})
	if best == "" {
		best = CleanText(doc.Find("body").Text())
	}
	return title, best
}
