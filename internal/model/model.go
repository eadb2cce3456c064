// Package model defines shared data structures.
package model

import "time"

// Source type tags. Each tag selects a fetch strategy in the registry;
// registering a strategy under an unknown tag fails at construction time.
const (
	TypeFeed           = "feed"
	TypeUserFeed       = "userfeed"
	TypeHackerNews     = "hackernews"
	TypeGitHubTrending = "github-trending"
	TypeArxiv          = "arxiv"
	TypePolymarket     = "polymarket"
	TypeAppStore       = "appstore"
	TypeProcurement    = "procurement"
	TypeRecruitment    = "recruitment"
	TypeSocialDemand   = "socialdemand"
	TypeAppRank        = "apprank"
	TypePage           = "page"
)

// DemandTypes are the source types whose signals go through demand
// validation.
var DemandTypes = []string{TypeSocialDemand, TypeRecruitment, TypeProcurement}

// Source is a configured origin of signals.
type Source struct {
	ID          int64
	Slug        string // stable identifier, unique
	Name        string
	Type        string // one of the Type* constants
	BaseURL     string
	Config      string // opaque JSON blob, interpreted only by the strategy
	Active      bool
	UserAdded   bool
	FailStreak  int // consecutive failed runs
	LastFetched time.Time
}

// ScrapedSignal is the normalized output contract of every fetch
// strategy. It is never persisted directly.
type ScrapedSignal struct {
	Title      string
	URL        string
	Summary    string
	Score      float64 // source-specific: upvotes, salary midpoint, budget...
	Category   string
	ExternalID string
	Metadata   map[string]string
}

// Signal is a persisted content item. URL is the natural key:
// re-ingesting the same url updates the existing row, never duplicates.
type Signal struct {
	ID         int64
	SourceID   int64
	SourceType string // denormalized for demand-validation selection
	Title      string
	URL        string
	Summary    string
	Score      float64
	Category   string
	ExternalID string
	Metadata   map[string]string

	// Enrichment fields, owned by the Enrichment Engine.
	AISummary       string
	AISummaryZh     string
	Tags            []string
	TagsZh          []string
	TitleTranslated string
	Enriched        bool // set once a pass completed, even on fallback defaults

	// Demand validation, owned by the Demand Validator.
	// nil = unvalidated, otherwise the classification.
	IsValidDemand  *bool
	ValidationNote string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EnrichmentResult carries one signal's LLM-derived fields back to the
// store.
type EnrichmentResult struct {
	SignalID        int64
	AISummary       string
	AISummaryZh     string
	Category        string
	Tags            []string
	TagsZh          []string
	TitleTranslated string
}

// ValidationResult is one demand-validation verdict.
type ValidationResult struct {
	SignalID int64
	IsValid  bool
	Reason   string
}

// RunSummary is the artifact written after a one-shot pipeline run.
type RunSummary struct {
	RunID        string            `json:"run_id"`
	StartedAt    time.Time         `json:"started_at"`
	Duration     string            `json:"duration"`
	Total        int               `json:"total"`
	New          int               `json:"new"`
	Updated      int               `json:"updated"`
	Errors       int               `json:"errors"`
	Enriched     int               `json:"enriched"`
	Validated    int               `json:"validated"`
	StatusCounts map[string]int    `json:"status_counts"`
	FailureStats map[string]string `json:"failure_stats,omitempty"`
}
