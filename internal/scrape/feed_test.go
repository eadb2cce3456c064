package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/d-kowalski/signalpipe/internal/fetchutil"
)

const sampleFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Sample</title>
<item><title>First &amp; Foremost</title><link>https://example.com/a</link>
<description><![CDATA[<p>Some <b>bold</b> text</p>]]></description></item>
<item><title>No Link Item</title><description>dropped</description></item>
<item><title>Second</title><link>https://example.com/b</link>
<description>plain</description></item>
</channel></rss>`

func TestFeedStrategyParsesAndDrops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	s := NewFeedStrategy(fetchutil.New(), "sample", srv.URL, nil)
	signals, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch = %v, want nil", err)
	}
	if len(signals) != 2 {
		t.Fatalf("got %d signals, want 2 (link-less item dropped)", len(signals))
	}
	if signals[0].Title != "First & Foremost" {
		t.Errorf("title = %q, want entities decoded", signals[0].Title)
	}
	if strings.Contains(signals[0].Summary, "<") {
		t.Errorf("summary = %q, want tags stripped", signals[0].Summary)
	}
}

func TestFeedStrategyTruncatesDescription(t *testing.T) {
	long := strings.Repeat("word ", 400)
	feed := `<?xml version="1.0"?><rss version="2.0"><channel>
<item><title>Long</title><link>https://example.com/x</link><description>` + long + `</description></item>
</channel></rss>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feed))
	}))
	defer srv.Close()

	s := NewFeedStrategy(fetchutil.New(), "long", srv.URL, nil)
	signals, err := s.Fetch(context.Background())
	if err != nil || len(signals) != 1 {
		t.Fatalf("Fetch = %d signals, %v", len(signals), err)
	}
	if got := len([]rune(signals[0].Summary)); got > SummaryPreviewLen+1 {
		t.Errorf("summary length = %d, want <= %d", got, SummaryPreviewLen+1)
	}
}

func TestFallbackArchiveStopsChain(t *testing.T) {
	// Primary always 429; archive succeeds; search must not be hit.
	var searchCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/api/v1/archive", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":1,"title":"Archived Post","canonical_url":"https://example.com/p1","subtitle":"sub"}]`))
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&searchCalls, 1)
		w.Write([]byte(sampleFeed))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	host, _ := url.Parse(srv.URL)
	s := NewFeedStrategy(fetchutil.New(), "blocked", srv.URL+"/feed", nil)
	s.chain.archiveSuffix = host.Hostname()
	s.chain.searchBase = srv.URL + "/search"

	signals, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch = %v, want nil (archive should recover)", err)
	}
	if len(signals) != 1 || signals[0].Title != "Archived Post" {
		t.Fatalf("signals = %+v, want the archived post", signals)
	}
	if searchCalls != 0 {
		t.Errorf("search fallback called %d times, want 0 once archive succeeded", searchCalls)
	}
	if len(s.Attempted) != 2 {
		t.Errorf("attempted = %v, want primary + archive", s.Attempted)
	}
}

func TestFallbackSearchWhenNoArchive(t *testing.T) {
	// 403 primary on a non-platform host: chain must skip archive and
	// go straight to search.
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "site%3A") {
			t.Errorf("search query = %q, want site: scoped", r.URL.RawQuery)
		}
		w.Write([]byte(sampleFeed))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewFeedStrategy(fetchutil.New(), "blocked", srv.URL+"/feed", nil)
	s.chain.searchBase = srv.URL + "/search"

	signals, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch = %v, want nil (search should recover)", err)
	}
	if len(signals) != 2 {
		t.Errorf("got %d signals from search fallback, want 2", len(signals))
	}
}

func TestFallbackAllStagesFail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewFeedStrategy(fetchutil.New(), "dead", srv.URL+"/feed", nil)
	s.chain.searchBase = srv.URL + "/search"

	signals, err := s.Fetch(context.Background())
	if err == nil {
		t.Fatal("Fetch = nil error, want failure after all stages")
	}
	if len(signals) != 0 {
		t.Errorf("signals = %d, want 0", len(signals))
	}
}
