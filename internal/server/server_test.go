package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/d-kowalski/signalpipe/internal/database"
	"github.com/d-kowalski/signalpipe/internal/ingest"
	"github.com/d-kowalski/signalpipe/internal/model"
	"github.com/d-kowalski/signalpipe/internal/scrape"
)

func newTestServer(t *testing.T) (*Server, *database.DB) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	runner := ingest.NewRunner(db, scrape.NewRegistry(), nil, 1)
	return New(db, runner, nil, nil), db
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSignalsEndpoint(t *testing.T) {
	s, db := newTestServer(t)
	srcID, err := db.CreateSource(&model.Source{Slug: "hn", Name: "HN", Type: model.TypeHackerNews, Active: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := db.UpsertSignal(&model.Signal{
		SourceID: srcID, SourceType: model.TypeHackerNews,
		Title: "Hello", URL: "https://example.com/1",
	}); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/signals", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Signals []model.Signal `json:"signals"`
		Count   int            `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Signals[0].Title != "Hello" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestAddSource(t *testing.T) {
	s, db := newTestServer(t)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/sources",
		map[string]string{"name": "Blog", "feed_url": "https://blog.example.com/feed", "category": "Tech"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	sources, err := db.GetAllSources()
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 1 {
		t.Fatalf("got %d sources", len(sources))
	}
	src := sources[0]
	if src.Type != model.TypeUserFeed || !src.UserAdded || !src.Active {
		t.Errorf("source: %+v", src)
	}
	if !strings.Contains(src.Config, "blog.example.com") {
		t.Errorf("config missing feed url: %s", src.Config)
	}

	// Same URL again must dedupe on the slug, not create a second row.
	rec = doJSON(t, s.Handler(), http.MethodPost, "/api/sources",
		map[string]string{"feed_url": "https://blog.example.com/feed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	sources, _ = db.GetAllSources()
	if len(sources) != 1 {
		t.Errorf("duplicate add created %d sources", len(sources))
	}
}

func TestAddSourceRejectsPrivateURLs(t *testing.T) {
	s, db := newTestServer(t)
	for _, u := range []string{
		"http://localhost/feed",
		"http://127.0.0.1:8080/feed",
		"http://169.254.169.254/latest/meta-data",
		"ftp://example.com/feed",
	} {
		rec := doJSON(t, s.Handler(), http.MethodPost, "/api/sources", map[string]string{"feed_url": u})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", u, rec.Code)
		}
	}
	sources, _ := db.GetAllSources()
	if len(sources) != 0 {
		t.Errorf("rejected urls created %d sources", len(sources))
	}
}

func TestDeactivateSource(t *testing.T) {
	s, db := newTestServer(t)
	id, err := db.CreateSource(&model.Source{Slug: "hn", Name: "HN", Type: model.TypeHackerNews, Active: true})
	if err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, s.Handler(), http.MethodDelete, "/api/sources/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	src, _ := db.GetSourceByID(id)
	if src.Active {
		t.Error("source still active")
	}

	rec = doJSON(t, s.Handler(), http.MethodDelete, "/api/sources/not-a-number", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestImportExportOPML(t *testing.T) {
	s, _ := newTestServer(t)

	doc := `<?xml version="1.0"?><opml version="2.0"><head/><body>
		<outline text="Good" type="rss" xmlUrl="https://good.example.com/feed"/>
		<outline text="Evil" type="rss" xmlUrl="http://127.0.0.1/feed"/>
	</body></opml>`

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("opml", "feeds.opml")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(doc))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/import-opml", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("import status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Imported int `json:"imported"`
		Rejected int `json:"rejected"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Imported != 1 || resp.Rejected != 1 {
		t.Errorf("imported=%d rejected=%d, want 1/1", resp.Imported, resp.Rejected)
	}

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/export-opml", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "good.example.com") {
		t.Error("export missing the imported feed")
	}
	if strings.Contains(rec.Body.String(), "127.0.0.1") {
		t.Error("export contains the rejected feed")
	}
}

func TestSlugify(t *testing.T) {
	got := slugify("https://Blog.Example.com/Feed?x=1")
	if got != "blog-example-com-feed-x-1" {
		t.Errorf("slugify = %q", got)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s, db := newTestServer(t)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/settings",
		map[string]any{"poll_interval_minutes": 45})
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d: %s", rec.Code, rec.Body.String())
	}
	if val, err := db.GetSetting(ingest.SettingPollInterval); err != nil || val != "45" {
		t.Errorf("stored setting = %q, %v; want 45", val, err)
	}

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var resp struct {
		PollIntervalMinutes int `json:"poll_interval_minutes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PollIntervalMinutes != 45 {
		t.Errorf("poll_interval_minutes = %d, want 45", resp.PollIntervalMinutes)
	}
}

func TestSettingsFloorsToMinimum(t *testing.T) {
	s, db := newTestServer(t)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/settings",
		map[string]any{"poll_interval_minutes": 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d", rec.Code)
	}
	want := strconv.Itoa(ingest.MinPollIntervalMinutes)
	if val, _ := db.GetSetting(ingest.SettingPollInterval); val != want {
		t.Errorf("stored setting = %q, want %s", val, want)
	}

	if rec := doJSON(t, s.Handler(), http.MethodPost, "/api/settings", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("empty body status = %d, want 400", rec.Code)
	}
}
