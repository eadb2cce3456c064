// Package enrich attaches LLM-derived summaries, categories, tags and
// translations to freshly ingested signals.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/d-kowalski/signalpipe/internal/database"
	"github.com/d-kowalski/signalpipe/internal/llm"
	"github.com/d-kowalski/signalpipe/internal/model"
)

const (
	// MaxAttempts bounds LLM retries per signal or batch.
	MaxAttempts = 5
	// MaxConcurrent caps in-flight LLM calls in per-item mode.
	MaxConcurrent = 5
	// FallbackCategory is applied when enrichment gives up.
	FallbackCategory = "Uncategorized"

	contentMax = 4000
)

// Engine runs the enrichment pass. The LLM client is injected at
// construction; there is no shared global.
type Engine struct {
	db     database.Store
	client llm.Client
	// Batch sends one prompt per claimed batch instead of one call per
	// signal.
	Batch bool
	// baseDelay is the first retry backoff step, shortened in tests.
	baseDelay time.Duration
}

// New creates an engine.
func New(db database.Store, client llm.Client, batch bool) *Engine {
	return &Engine{db: db, client: client, Batch: batch, baseDelay: time.Second}
}

// ProcessSignals claims up to batchSize unenriched signals (newest
// first) and enriches them. Returns how many signals were written.
// Per-signal persistence failures are logged and counted, never
// propagated.
func (e *Engine) ProcessSignals(ctx context.Context, batchSize int) (int, error) {
	signals, err := e.db.ClaimUnenriched(batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim signals: %w", err)
	}
	if len(signals) == 0 {
		return 0, nil
	}
	log.Printf("enrich: processing %d signals (batch=%v)", len(signals), e.Batch)

	var results []model.EnrichmentResult
	if e.Batch {
		results = e.enrichBatch(ctx, signals)
	} else {
		results = e.enrichEach(ctx, signals)
	}

	written := 0
	for _, res := range results {
		if err := e.db.UpdateEnrichment(res); err != nil {
			log.Printf("enrich: write signal %d failed: %v", res.SignalID, err)
			continue
		}
		written++
	}
	return written, nil
}

// --- Per-item mode ---

func (e *Engine) enrichEach(ctx context.Context, signals []model.Signal) []model.EnrichmentResult {
	results := make([]model.EnrichmentResult, len(signals))
	sem := make(chan struct{}, MaxConcurrent)
	var wg sync.WaitGroup
	for i := range signals {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.enrichOne(ctx, signals[i])
		}(i)
	}
	wg.Wait()
	return results
}

// enrichPayload is the strict JSON shape the prompt asks for.
type enrichPayload struct {
	Summary         string   `json:"summary"`
	SummaryZh       string   `json:"summaryZh"`
	Category        string   `json:"category"`
	Tags            []string `json:"tags"`
	TagsZh          []string `json:"tagsZh"`
	TitleTranslated string   `json:"titleTranslated"`
}

func (e *Engine) enrichOne(ctx context.Context, sig model.Signal) model.EnrichmentResult {
	prompt := buildPrompt(sig)
	var payload enrichPayload
	err := e.withRetry(ctx, func() error {
		text, err := e.client.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		return parsePayload(text, &payload)
	})
	if err != nil {
		log.Printf("enrich: signal %d falling back to defaults: %v", sig.ID, err)
		return fallbackResult(sig)
	}
	return payloadToResult(sig, payload)
}

// malformedError marks output that arrived but could not be parsed;
// it is retried like a rate limit, unlike provider errors.
type malformedError struct{ cause error }

func (m *malformedError) Error() string { return "malformed llm output: " + m.cause.Error() }

func parsePayload(text string, out *enrichPayload) error {
	if err := json.Unmarshal([]byte(llm.StripFences(text)), out); err != nil {
		return &malformedError{cause: err}
	}
	return nil
}

// withRetry retries rate-limit and malformed-output errors with
// exponential backoff; any other error aborts immediately.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	delay := e.baseDelay
	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		var rl *llm.RateLimitError
		var mf *malformedError
		if !errors.As(err, &rl) && !errors.As(err, &mf) {
			return err
		}
		if attempt == MaxAttempts {
			break
		}
		wait := delay
		if errors.As(err, &rl) && rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return fmt.Errorf("retries exhausted: %w", lastErr)
}

// fallbackResult never leaves the summary empty: a signal that went
// through one pass must not be picked up again.
func fallbackResult(sig model.Signal) model.EnrichmentResult {
	summary := sig.Summary
	if summary == "" {
		summary = sig.Title
	}
	return model.EnrichmentResult{
		SignalID:  sig.ID,
		AISummary: summary,
		Category:  FallbackCategory,
		Tags:      []string{},
		TagsZh:    []string{},
	}
}

func payloadToResult(sig model.Signal, p enrichPayload) model.EnrichmentResult {
	res := model.EnrichmentResult{
		SignalID:        sig.ID,
		AISummary:       strings.TrimSpace(p.Summary),
		AISummaryZh:     strings.TrimSpace(p.SummaryZh),
		Category:        strings.TrimSpace(p.Category),
		Tags:            p.Tags,
		TagsZh:          p.TagsZh,
		TitleTranslated: strings.TrimSpace(p.TitleTranslated),
	}
	if res.Category == "" {
		res.Category = FallbackCategory
	}
	if res.AISummary == "" {
		res.AISummary = sig.Title
	}
	if res.Tags == nil {
		res.Tags = []string{}
	}
	if res.TagsZh == nil {
		res.TagsZh = []string{}
	}
	return res
}

func signalContent(sig model.Signal) string {
	content := sig.Summary
	if c, ok := sig.Metadata["content"]; ok && len(c) > len(content) {
		content = c
	}
	if len(content) > contentMax {
		// Cut on a rune boundary; scraped content is often multi-byte.
		runes := []rune(content)
		if len(runes) > contentMax {
			runes = runes[:contentMax]
		}
		content = string(runes)
	}
	return content
}

func buildPrompt(sig model.Signal) string {
	var b strings.Builder
	b.WriteString("You are a content analyst. For the item below, respond with strict JSON only, no prose, matching exactly:\n")
	b.WriteString(`{"summary":"...","summaryZh":"...","category":"...","tags":["..."],"tagsZh":["..."],"titleTranslated":"..."}` + "\n")
	b.WriteString("summary: 2-3 sentences in the source language. summaryZh: the same in Chinese. ")
	b.WriteString("category: one short label. tags: up to 5. tagsZh: the tags in Chinese. titleTranslated: the title in Chinese.\n\n")
	b.WriteString("Title: " + sig.Title + "\n")
	if content := signalContent(sig); content != "" {
		b.WriteString("Content: " + content + "\n")
	}
	return b.String()
}

// --- Batch mode ---

// batchItem is one element of the N-length array the batch prompt asks
// for. Index is 1-based.
type batchItem struct {
	Index int `json:"index"`
	enrichPayload
}

func (e *Engine) enrichBatch(ctx context.Context, signals []model.Signal) []model.EnrichmentResult {
	prompt := buildBatchPrompt(signals)
	var items []batchItem
	err := e.withRetry(ctx, func() error {
		text, err := e.client.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		cleaned := llm.StripFences(text)
		if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
			// Models sometimes wrap the array in prose; take the first
			// balanced array before giving up.
			if arr := llm.FirstJSONArray(cleaned); arr != "" {
				if err2 := json.Unmarshal([]byte(arr), &items); err2 == nil {
					return nil
				}
			}
			return &malformedError{cause: err}
		}
		return nil
	})

	results := make([]model.EnrichmentResult, len(signals))
	for i := range signals {
		results[i] = fallbackResult(signals[i])
	}
	if err != nil {
		log.Printf("enrich: batch falling back to defaults: %v", err)
		return results
	}
	// Match by 1-based index, tolerating short or reordered responses;
	// out-of-range indexes are dropped.
	for _, it := range items {
		if it.Index < 1 || it.Index > len(signals) {
			continue
		}
		results[it.Index-1] = payloadToResult(signals[it.Index-1], it.enrichPayload)
	}
	return results
}

func buildBatchPrompt(signals []model.Signal) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("You are a content analyst. For each of the %d items below, produce one JSON object. Respond with strict JSON only: an array of exactly %d objects of the form\n", len(signals), len(signals)))
	b.WriteString(`{"index":1,"summary":"...","summaryZh":"...","category":"...","tags":["..."],"tagsZh":["..."],"titleTranslated":"..."}` + "\n")
	b.WriteString("index is the 1-based number of the item the object describes.\n\n")
	for i, sig := range signals {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, sig.Title))
		if content := signalContent(sig); content != "" {
			b.WriteString("   " + content + "\n")
		}
	}
	return b.String()
}
