package enrich

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/d-kowalski/signalpipe/internal/database"
	"github.com/d-kowalski/signalpipe/internal/llm"
	"github.com/d-kowalski/signalpipe/internal/model"
)

// stubStore overrides only the store methods the engine touches.
type stubStore struct {
	database.Store
	claimed []model.Signal
	written []model.EnrichmentResult
}

func (s *stubStore) ClaimUnenriched(limit int) ([]model.Signal, error) {
	if limit < len(s.claimed) {
		return s.claimed[:limit], nil
	}
	return s.claimed, nil
}

func (s *stubStore) UpdateEnrichment(res model.EnrichmentResult) error {
	s.written = append(s.written, res)
	return nil
}

// fakeLLM replays canned responses, one per Generate call. The last
// entry repeats once exhausted.
type fakeLLM struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.responses[i], err
}

func (f *fakeLLM) Stream(ctx context.Context, prompt string) (<-chan string, error) {
	ch := make(chan string)
	close(ch)
	return ch, nil
}

func testEngine(db *stubStore, client *fakeLLM, batch bool) *Engine {
	e := New(db, client, batch)
	e.baseDelay = time.Millisecond
	return e
}

func TestEnrichPersistentGarbageFallsBack(t *testing.T) {
	db := &stubStore{claimed: []model.Signal{
		{ID: 1, Title: "A title", Summary: "a summary"},
	}}
	client := &fakeLLM{responses: []string{"I cannot produce JSON, sorry."}}

	e := testEngine(db, client, false)
	n, err := e.ProcessSignals(context.Background(), 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 1 {
		t.Fatalf("written = %d, want 1", n)
	}
	if client.calls != MaxAttempts {
		t.Errorf("llm calls = %d, want %d (malformed output retries)", client.calls, MaxAttempts)
	}
	res := db.written[0]
	if res.Category != FallbackCategory {
		t.Errorf("category = %q, want %q", res.Category, FallbackCategory)
	}
	if res.AISummary == "" {
		t.Error("fallback must not leave the summary empty")
	}
	if res.AISummary != "a summary" {
		t.Errorf("summary = %q, want the scraped summary", res.AISummary)
	}
	if res.Tags == nil || res.TagsZh == nil || len(res.Tags) != 0 {
		t.Errorf("tags = %v / %v, want empty non-nil slices", res.Tags, res.TagsZh)
	}
}

func TestEnrichFallbackUsesTitleWhenNoSummary(t *testing.T) {
	res := fallbackResult(model.Signal{ID: 7, Title: "only a title"})
	if res.AISummary != "only a title" {
		t.Errorf("summary = %q, want the title", res.AISummary)
	}
}

func TestEnrichFencedJSONSucceeds(t *testing.T) {
	db := &stubStore{claimed: []model.Signal{{ID: 1, Title: "T"}}}
	client := &fakeLLM{responses: []string{
		"```json\n{\"summary\":\"clean\",\"summaryZh\":\"干净\",\"category\":\"Tech\",\"tags\":[\"go\"],\"tagsZh\":[\"围棋\"],\"titleTranslated\":\"标题\"}\n```",
	}}

	e := testEngine(db, client, false)
	if _, err := e.ProcessSignals(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	if client.calls != 1 {
		t.Errorf("llm calls = %d, want 1", client.calls)
	}
	res := db.written[0]
	if res.AISummary != "clean" || res.Category != "Tech" || res.TitleTranslated != "标题" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestEnrichProviderErrorAbortsWithoutRetry(t *testing.T) {
	db := &stubStore{claimed: []model.Signal{{ID: 1, Title: "T"}}}
	client := &fakeLLM{
		responses: []string{""},
		errs:      []error{errors.New("invalid api key")},
	}

	e := testEngine(db, client, false)
	if _, err := e.ProcessSignals(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	if client.calls != 1 {
		t.Errorf("llm calls = %d, want 1 (non-retryable error)", client.calls)
	}
	if db.written[0].Category != FallbackCategory {
		t.Errorf("category = %q, want fallback", db.written[0].Category)
	}
}

func TestEnrichBatchIndexMatching(t *testing.T) {
	db := &stubStore{claimed: []model.Signal{
		{ID: 10, Title: "first"},
		{ID: 11, Title: "second"},
		{ID: 12, Title: "third"},
	}}
	// Out of order, one missing, one index out of range.
	client := &fakeLLM{responses: []string{`Here you go:
[{"index":3,"summary":"s3","category":"C3","tags":[],"tagsZh":[]},
 {"index":1,"summary":"s1","category":"C1","tags":[],"tagsZh":[]},
 {"index":9,"summary":"bogus","category":"X","tags":[],"tagsZh":[]}]`}}

	e := testEngine(db, client, true)
	n, err := e.ProcessSignals(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("written = %d, want 3", n)
	}
	byID := map[int64]model.EnrichmentResult{}
	for _, r := range db.written {
		byID[r.SignalID] = r
	}
	if byID[10].AISummary != "s1" || byID[10].Category != "C1" {
		t.Errorf("signal 10: %+v", byID[10])
	}
	if byID[12].AISummary != "s3" {
		t.Errorf("signal 12: %+v", byID[12])
	}
	// The unmatched signal gets defaults, not the out-of-range object.
	if byID[11].Category != FallbackCategory || byID[11].AISummary != "second" {
		t.Errorf("signal 11 should fall back: %+v", byID[11])
	}
}

func TestEnrichRateLimitRetries(t *testing.T) {
	db := &stubStore{claimed: []model.Signal{{ID: 1, Title: "T"}}}
	ok := `{"summary":"fine","summaryZh":"","category":"News","tags":[],"tagsZh":[],"titleTranslated":""}`
	client := &fakeLLM{
		responses: []string{"", "", ok},
		errs:      []error{&llm.RateLimitError{}, &llm.RateLimitError{}, nil},
	}

	e := testEngine(db, client, false)
	if _, err := e.ProcessSignals(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	if client.calls != 3 {
		t.Errorf("llm calls = %d, want 3", client.calls)
	}
	if db.written[0].Category != "News" {
		t.Errorf("category = %q, want News", db.written[0].Category)
	}
}

func TestSignalContentTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("信号情報と解析", contentMax) // well past the cap, all multi-byte
	sig := model.Signal{Summary: "short", Metadata: map[string]string{"content": long}}

	content := signalContent(sig)
	if !utf8.ValidString(content) {
		t.Fatal("truncated content is not valid UTF-8")
	}
	if got := len([]rune(content)); got != contentMax {
		t.Errorf("rune length = %d, want %d", got, contentMax)
	}
}
