package ingest

import (
	"log"

	"github.com/d-kowalski/signalpipe/internal/database"
	"github.com/d-kowalski/signalpipe/internal/model"
)

// builtinSources is the fixed catalog registered on startup. User-added
// sources live alongside these in the same table.
var builtinSources = []model.Source{
	{Slug: "hackernews", Name: "Hacker News", Type: model.TypeHackerNews, Active: true},
	{Slug: "github-trending", Name: "GitHub Trending", Type: model.TypeGitHubTrending, Active: true},
	{Slug: "arxiv-ai", Name: "arXiv cs.AI", Type: model.TypeArxiv, Config: `{"category":"cs.AI"}`, Active: true},
	{Slug: "polymarket", Name: "Polymarket", Type: model.TypePolymarket, Active: true},
	{Slug: "appstore-us", Name: "App Store Top Free (US)", Type: model.TypeAppStore, Config: `{"region":"us","limit":25}`, Active: true},
	{Slug: "techcrunch", Name: "TechCrunch", Type: model.TypeFeed, BaseURL: "https://techcrunch.com/feed/", Active: true},
	{Slug: "ars-technica", Name: "Ars Technica", Type: model.TypeFeed, BaseURL: "https://feeds.arstechnica.com/arstechnica/index", Active: true},
	{Slug: "indie-hackers", Name: "Indie Hackers", Type: model.TypeFeed, BaseURL: "https://www.indiehackers.com/feed", Active: true},
}

// Seed makes sure every built-in source exists. Existing rows are left
// untouched so operator deactivations survive restarts.
func Seed(db database.Store) error {
	for _, src := range builtinSources {
		s := src
		if _, created, err := db.GetOrCreateSource(&s); err != nil {
			return err
		} else if created {
			log.Printf("seed: created source %s", s.Slug)
		}
	}
	return nil
}
