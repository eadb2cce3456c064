package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/d-kowalski/signalpipe/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestSource(t *testing.T, db *DB, slug, typ string) int64 {
	t.Helper()
	id, err := db.CreateSource(&model.Source{Slug: slug, Name: slug, Type: typ, Active: true})
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	return id
}

func TestUpsertSignalSeesRowsFromOtherConnections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	dbA, err := New(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { dbA.Close() })
	dbB, err := New(path)
	if err != nil {
		t.Fatalf("open second handle: %v", err)
	}
	t.Cleanup(func() { dbB.Close() })

	srcID := createTestSource(t, dbA, "hn", model.TypeHackerNews)

	sig := &model.Signal{
		SourceID: srcID, SourceType: model.TypeHackerNews,
		Title: "First", URL: "https://example.com/race",
		Score: 10, Summary: "v1",
	}
	idB, isNew, err := dbB.UpsertSignal(sig)
	if err != nil || !isNew {
		t.Fatalf("insert via second handle: id=%d new=%v err=%v", idB, isNew, err)
	}

	// The other handle must take the conflict path and report the
	// existing row, not a phantom insert.
	sig.Score = 42
	idA, isNew, err := dbA.UpsertSignal(sig)
	if err != nil {
		t.Fatalf("upsert via first handle: %v", err)
	}
	if isNew {
		t.Error("upsert of existing url reported new")
	}
	if idA != idB {
		t.Errorf("id = %d, want %d", idA, idB)
	}
}

func TestUpsertSignalIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	srcID := createTestSource(t, db, "hn", model.TypeHackerNews)

	sig := &model.Signal{
		SourceID: srcID, SourceType: model.TypeHackerNews,
		Title: "First", URL: "https://example.com/a",
		Score: 10, Summary: "v1", Metadata: map[string]string{"comments": "1"},
	}
	id1, isNew, err := db.UpsertSignal(sig)
	if err != nil || !isNew {
		t.Fatalf("first upsert: id=%d new=%v err=%v", id1, isNew, err)
	}

	sig.Score = 99
	sig.Summary = "v2"
	sig.Title = "Changed Title Is Ignored"
	id2, isNew, err := db.UpsertSignal(sig)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if isNew {
		t.Error("second upsert reported new, want update")
	}
	if id1 != id2 {
		t.Errorf("ids differ: %d vs %d", id1, id2)
	}

	signals, err := db.GetSignals(10, 0)
	if err != nil {
		t.Fatalf("get signals: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("got %d rows, want 1", len(signals))
	}
	got := signals[0]
	if got.Score != 99 || got.Summary != "v2" {
		t.Errorf("volatile fields not updated: score=%v summary=%q", got.Score, got.Summary)
	}
	if got.Title != "First" {
		t.Errorf("title = %q, want original preserved on conflict", got.Title)
	}
}

func TestUpsertKeepsSummaryWhenIncomingEmpty(t *testing.T) {
	db := openTestDB(t)
	srcID := createTestSource(t, db, "hn", model.TypeHackerNews)

	sig := &model.Signal{SourceID: srcID, SourceType: model.TypeHackerNews,
		Title: "T", URL: "https://example.com/a", Summary: "keep me"}
	if _, _, err := db.UpsertSignal(sig); err != nil {
		t.Fatal(err)
	}
	sig.Summary = ""
	if _, _, err := db.UpsertSignal(sig); err != nil {
		t.Fatal(err)
	}
	signals, _ := db.GetSignals(1, 0)
	if signals[0].Summary != "keep me" {
		t.Errorf("summary = %q, want preserved", signals[0].Summary)
	}
}

func TestClaimUnenriched(t *testing.T) {
	db := openTestDB(t)
	srcID := createTestSource(t, db, "hn", model.TypeHackerNews)

	for _, u := range []string{"https://e.com/1", "https://e.com/2", "https://e.com/3"} {
		if _, _, err := db.UpsertSignal(&model.Signal{SourceID: srcID, SourceType: model.TypeHackerNews, Title: u, URL: u}); err != nil {
			t.Fatal(err)
		}
	}

	first, err := db.ClaimUnenriched(2)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("claimed %d, want 2", len(first))
	}
	// A second claim must not hand out the same rows.
	second, err := db.ClaimUnenriched(10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("claimed %d, want the 1 unclaimed row", len(second))
	}

	// Enrichment releases the row for good.
	if err := db.UpdateEnrichment(model.EnrichmentResult{
		SignalID: first[0].ID, AISummary: "sum", Category: "Tech",
		Tags: []string{"a"}, TagsZh: []string{"b"},
	}); err != nil {
		t.Fatalf("update enrichment: %v", err)
	}
	n, err := db.CountUnenriched()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("unenriched = %d, want 2", n)
	}
	got, _ := db.GetSignalByID(first[0].ID)
	if !got.Enriched || got.AISummary != "sum" || len(got.Tags) != 1 {
		t.Errorf("enrichment not persisted: %+v", got)
	}
}

func TestDemandValidationLifecycle(t *testing.T) {
	db := openTestDB(t)
	demandID := createTestSource(t, db, "forum", model.TypeSocialDemand)
	newsID := createTestSource(t, db, "hn", model.TypeHackerNews)

	if _, _, err := db.UpsertSignal(&model.Signal{SourceID: demandID, SourceType: model.TypeSocialDemand, Title: "need tool", URL: "https://e.com/d1"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := db.UpsertSignal(&model.Signal{SourceID: newsID, SourceType: model.TypeHackerNews, Title: "news", URL: "https://e.com/n1"}); err != nil {
		t.Fatal(err)
	}

	since := time.Now().Add(-24 * time.Hour)
	pending, err := db.GetUnvalidatedDemandSignals(model.DemandTypes, since, 100)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want only the demand-type signal", len(pending))
	}
	if pending[0].IsValidDemand != nil {
		t.Error("fresh signal should be unvalidated (nil)")
	}

	demandSigID := pending[0].ID
	if err := db.UpdateDemandValidation(demandSigID, false, "chit-chat"); err != nil {
		t.Fatalf("update: %v", err)
	}
	pending, _ = db.GetUnvalidatedDemandSignals(model.DemandTypes, since, 100)
	if len(pending) != 0 {
		t.Errorf("pending after validation = %d, want 0", len(pending))
	}
	got, _ := db.GetSignalByID(demandSigID)
	if got.IsValidDemand == nil || *got.IsValidDemand {
		t.Errorf("IsValidDemand = %v, want false", got.IsValidDemand)
	}
	if got.ValidationNote != "chit-chat" {
		t.Errorf("note = %q", got.ValidationNote)
	}
}

func TestRecordSourceResultDeactivates(t *testing.T) {
	db := openTestDB(t)
	id := createTestSource(t, db, "flaky", model.TypeFeed)

	for i := 1; i <= 3; i++ {
		streak, err := db.RecordSourceResult(id, false, 3)
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if streak != i {
			t.Errorf("streak = %d, want %d", streak, i)
		}
	}
	src, _ := db.GetSourceByID(id)
	if src.Active {
		t.Error("source still active after reaching failure threshold")
	}

	if _, err := db.RecordSourceResult(id, true, 3); err != nil {
		t.Fatal(err)
	}
	src, _ = db.GetSourceByID(id)
	if src.FailStreak != 0 {
		t.Errorf("streak = %d after success, want 0", src.FailStreak)
	}
}

func TestLastFetchedStamp(t *testing.T) {
	db := openTestDB(t)
	id := createTestSource(t, db, "hn", model.TypeHackerNews)

	now := time.Now()
	if err := db.UpdateSourceLastFetched(id, now); err != nil {
		t.Fatal(err)
	}
	src, _ := db.GetSourceByID(id)
	if src.LastFetched.IsZero() {
		t.Error("last_fetched not stamped")
	}
}
