// Package ingest orchestrates the periodic pipeline: fetch every active
// source, persist the signals, then enrich the backlog.
package ingest

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/d-kowalski/signalpipe/internal/database"
	"github.com/d-kowalski/signalpipe/internal/enrich"
	"github.com/d-kowalski/signalpipe/internal/model"
	"github.com/d-kowalski/signalpipe/internal/scrape"
)

const (
	// MaxConsecutiveFailures deactivates a source after this many
	// failed runs in a row.
	MaxConsecutiveFailures = 10
	// EnrichPasses and EnrichBatchSize bound per-run LLM spend while
	// keeping the backlog bounded across runs.
	EnrichPasses    = 3
	EnrichBatchSize = 50
)

// Stats aggregates one run. The runner reports through this value and
// never lets a single source's failure escape.
type Stats struct {
	Total        int
	New          int
	Updated      int
	Errors       int
	Enriched     int
	StatusCounts map[string]int
	FailureStats map[string]string
}

// Runner drives the ingestion loop.
type Runner struct {
	db       database.Store
	registry *scrape.Registry
	engine   *enrich.Engine
	// Workers caps parallel source fetches. Forced to 1 on stores
	// without high-concurrency support; each source's own fallback
	// chain stays sequential either way.
	Workers int
}

// NewRunner creates a runner. engine may be nil to skip enrichment.
func NewRunner(db database.Store, registry *scrape.Registry, engine *enrich.Engine, workers int) *Runner {
	if workers < 1 || !db.SupportsHighConcurrency() {
		workers = 1
	}
	if workers > 8 {
		workers = 8
	}
	return &Runner{db: db, registry: registry, engine: engine, Workers: workers}
}

type sourceResult struct {
	total, added, updated int
	err                   error
}

// RunAll fetches every active source, upserts the results, stamps
// fetch timestamps, and finishes with bounded enrichment passes.
func (r *Runner) RunAll(ctx context.Context) (Stats, error) {
	stats := Stats{
		StatusCounts: make(map[string]int),
		FailureStats: make(map[string]string),
	}
	sources, err := r.db.GetActiveSources()
	if err != nil {
		return stats, fmt.Errorf("load sources: %w", err)
	}
	log.Printf("runner: %d active sources, workers=%d", len(sources), r.Workers)

	var mu sync.Mutex
	record := func(src model.Source, res sourceResult) {
		mu.Lock()
		defer mu.Unlock()
		stats.Total += res.total
		stats.New += res.added
		stats.Updated += res.updated
		if res.err != nil {
			stats.Errors++
			stats.StatusCounts["failed"]++
			stats.FailureStats[src.Slug] = res.err.Error()
		} else {
			stats.StatusCounts["ok"]++
		}
	}

	if r.Workers <= 1 {
		for _, src := range sources {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			default:
			}
			record(src, r.processSource(ctx, src))
		}
	} else {
		srcChan := make(chan model.Source, len(sources))
		var wg sync.WaitGroup
		for i := 0; i < r.Workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for src := range srcChan {
					select {
					case <-ctx.Done():
						return
					default:
					}
					record(src, r.processSource(ctx, src))
				}
			}()
		}
		for _, src := range sources {
			srcChan <- src
		}
		close(srcChan)
		wg.Wait()
	}

	if r.engine != nil {
		stats.Enriched = r.runEnrichment(ctx)
	}
	return stats, nil
}

// processSource runs one source end to end. Every failure is captured
// in the result; nothing propagates.
func (r *Runner) processSource(ctx context.Context, src model.Source) (res sourceResult) {
	strategy, err := r.registry.Resolve(src)
	if err != nil {
		// Unknown types are skipped, not failed: the row predates or
		// postdates this binary.
		log.Printf("runner: skipping source %s: %v", src.Slug, err)
		return sourceResult{}
	}

	signals, err := strategy.Fetch(ctx)
	if err != nil {
		log.Printf("runner: source %s fetch failed: %v", src.Slug, err)
		r.recordFailure(src)
		return sourceResult{err: err}
	}

	for _, scraped := range signals {
		sig := Normalize(src, scraped)
		_, isNew, err := r.db.UpsertSignal(sig)
		if err != nil {
			// Per-record persistence errors are counted, the batch
			// continues.
			log.Printf("runner: upsert %s failed: %v", sig.URL, err)
			res.err = err
			continue
		}
		res.total++
		if isNew {
			res.added++
		} else {
			res.updated++
		}
	}

	// Stamped even when the source yielded nothing, so persistently
	// empty sources still show as attempted.
	if err := r.db.UpdateSourceLastFetched(src.ID, time.Now()); err != nil {
		log.Printf("runner: stamp lastFetched for %s failed: %v", src.Slug, err)
	}
	if res.err == nil {
		if _, err := r.db.RecordSourceResult(src.ID, true, MaxConsecutiveFailures); err != nil {
			log.Printf("runner: reset fail streak for %s failed: %v", src.Slug, err)
		}
	}
	return res
}

func (r *Runner) recordFailure(src model.Source) {
	streak, err := r.db.RecordSourceResult(src.ID, false, MaxConsecutiveFailures)
	if err != nil {
		log.Printf("runner: record failure for %s failed: %v", src.Slug, err)
		return
	}
	if streak >= MaxConsecutiveFailures {
		log.Printf("runner: source %s deactivated after %d consecutive failures", src.Slug, streak)
	}
}

// runEnrichment drains the backlog in bounded passes, stopping early
// once nothing is left.
func (r *Runner) runEnrichment(ctx context.Context) int {
	enriched := 0
	for pass := 0; pass < EnrichPasses; pass++ {
		n, err := r.engine.ProcessSignals(ctx, EnrichBatchSize)
		if err != nil {
			log.Printf("runner: enrichment pass %d failed: %v", pass+1, err)
			break
		}
		enriched += n
		remaining, err := r.db.CountUnenriched()
		if err != nil {
			log.Printf("runner: counting unenriched failed: %v", err)
			break
		}
		if remaining == 0 {
			break
		}
	}
	return enriched
}

// Normalize converts a strategy's output into the persisted shape,
// binding it to its owning source.
func Normalize(src model.Source, scraped model.ScrapedSignal) *model.Signal {
	return &model.Signal{
		SourceID:   src.ID,
		SourceType: src.Type,
		Title:      scraped.Title,
		URL:        scraped.URL,
		Summary:    scraped.Summary,
		Score:      scraped.Score,
		Category:   scraped.Category,
		ExternalID: scraped.ExternalID,
		Metadata:   scraped.Metadata,
	}
}
