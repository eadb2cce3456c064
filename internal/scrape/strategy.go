// Package scrape contains the per-source-type fetch strategies and the
// registry that maps a source's type tag to one of them.
package scrape

import (
	"context"
	"fmt"
	"sort"

	"github.com/d-kowalski/signalpipe/internal/fetchutil"
	"github.com/d-kowalski/signalpipe/internal/model"
)

// Strategy fetches and normalizes signals for one source. Fetch returns
// whatever it could recover; a non-nil error means the whole attempt
// failed and is used only for failure accounting, never re-raised past
// the runner.
type Strategy interface {
	Fetch(ctx context.Context) ([]model.ScrapedSignal, error)
}

// Builder constructs a strategy bound to one source row.
type Builder func(src model.Source) (Strategy, error)

// Registry is the closed set of known source types.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register binds a builder to a type tag. Duplicate registration is a
// programming error and fails immediately.
func (r *Registry) Register(typ string, b Builder) error {
	if typ == "" || b == nil {
		return fmt.Errorf("register %q: empty type or nil builder", typ)
	}
	if _, ok := r.builders[typ]; ok {
		return fmt.Errorf("register %q: duplicate strategy", typ)
	}
	r.builders[typ] = b
	return nil
}

// Resolve builds the strategy for a source. Unknown types return an
// error so the runner can warn and skip the source.
func (r *Registry) Resolve(src model.Source) (Strategy, error) {
	b, ok := r.builders[src.Type]
	if !ok {
		return nil, fmt.Errorf("unknown source type %q", src.Type)
	}
	return b(src)
}

// Types returns the registered type tags, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.builders))
	for t := range r.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// DefaultRegistry registers every built-in strategy. The shared client
// carries the browser header set, retry policy and per-host limits all
// strategies use.
func DefaultRegistry(client *fetchutil.Client) (*Registry, error) {
	if client == nil {
		client = fetchutil.New()
	}
	r := NewRegistry()
	regs := map[string]Builder{
		model.TypeFeed: func(src model.Source) (Strategy, error) {
			return NewFeedStrategy(client, src.Name, src.BaseURL, categoryForFeed(src.Slug)), nil
		},
		model.TypeUserFeed:       func(src model.Source) (Strategy, error) { return NewUserFeedStrategy(client, src) },
		model.TypeHackerNews:     func(src model.Source) (Strategy, error) { return NewHackerNewsStrategy(client), nil },
		model.TypeGitHubTrending: func(src model.Source) (Strategy, error) { return NewGitHubTrendingStrategy(client, src), nil },
		model.TypeArxiv:          func(src model.Source) (Strategy, error) { return NewArxivStrategy(client, src), nil },
		model.TypePolymarket:     func(src model.Source) (Strategy, error) { return NewPolymarketStrategy(client), nil },
		model.TypeAppStore:       func(src model.Source) (Strategy, error) { return NewAppStoreStrategy(client, src), nil },
		model.TypeProcurement:    func(src model.Source) (Strategy, error) { return NewProcurementStrategy(client, src), nil },
		model.TypeRecruitment:    func(src model.Source) (Strategy, error) { return NewRecruitmentStrategy(client, src), nil },
		model.TypeSocialDemand:   func(src model.Source) (Strategy, error) { return NewSocialDemandStrategy(client, src), nil },
		model.TypeAppRank:        func(src model.Source) (Strategy, error) { return NewAppRankStrategy(client, src), nil },
		model.TypePage:           func(src model.Source) (Strategy, error) { return NewPageStrategy(client, src.BaseURL, true), nil },
	}
	for typ, b := range regs {
		if err := r.Register(typ, b); err != nil {
			return nil, err
		}
	}
	return r, nil
}
