package ingest

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/d-kowalski/signalpipe/internal/database"
	"github.com/d-kowalski/signalpipe/internal/validate"
)

// MinPollIntervalMinutes is the minimum allowed interval.
const MinPollIntervalMinutes = 15

// SettingPollInterval is the settings key overriding the configured
// poll interval.
const SettingPollInterval = "poll_interval_minutes"

// runTimeout bounds one full pipeline run.
const runTimeout = 30 * time.Minute

// Poller reruns the full pipeline (ingest, enrich, validate) on an
// interval, for the long-running server mode.
type Poller struct {
	db        database.Store
	runner    *Runner
	validator *validate.Validator
	interval  time.Duration
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewPoller creates a background poller. validator may be nil.
func NewPoller(db database.Store, runner *Runner, validator *validate.Validator, interval time.Duration) *Poller {
	if interval < MinPollIntervalMinutes*time.Minute {
		interval = MinPollIntervalMinutes * time.Minute
	}
	return &Poller{
		db:        db,
		runner:    runner,
		validator: validator,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the polling loop.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			interval := p.currentInterval()
			log.Printf("poller: running pipeline (interval: %s)", interval)

			ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
			stats, err := p.runner.RunAll(ctx)
			if err != nil {
				log.Printf("poller: run error: %v", err)
			} else {
				log.Printf("poller: %d signals (%d new, %d updated, %d errors), %d enriched",
					stats.Total, stats.New, stats.Updated, stats.Errors, stats.Enriched)
			}
			if p.validator != nil {
				if n, err := p.validator.ValidateAndUpdate(ctx); err != nil {
					log.Printf("poller: validation error: %v", err)
				} else if n > 0 {
					log.Printf("poller: validated %d demand signals", n)
				}
			}
			cancel()

			select {
			case <-p.stopChan:
				return
			case <-time.After(interval):
			}
		}
	}()
}

// currentInterval prefers the settings row over the configured value.
func (p *Poller) currentInterval() time.Duration {
	val, err := p.db.GetSetting(SettingPollInterval)
	if err != nil {
		return p.interval
	}
	mins, err := strconv.Atoi(val)
	if err != nil || mins < MinPollIntervalMinutes {
		return p.interval
	}
	return time.Duration(mins) * time.Minute
}

// Stop stops the poller gracefully.
func (p *Poller) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}
