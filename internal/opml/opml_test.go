package opml

import (
	"strings"
	"testing"
)

const sampleOPML = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>Subscriptions</title></head>
  <body>
    <outline text="Tech">
      <outline text="Example Blog" type="rss" xmlUrl="https://example.com/feed" htmlUrl="https://example.com"/>
      <outline title="Titled Feed" text="" type="rss" xmlUrl="https://titled.example.com/rss"/>
    </outline>
    <outline text="Ungrouped Feed" type="rss" xmlUrl="https://solo.example.com/feed"/>
    <outline text="Empty Group"></outline>
  </body>
</opml>`

func TestParse(t *testing.T) {
	entries, err := Parse(strings.NewReader(sampleOPML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Title != "Example Blog" || entries[0].URL != "https://example.com/feed" || entries[0].Category != "Tech" {
		t.Errorf("entry 0: %+v", entries[0])
	}
	if entries[1].Title != "Titled Feed" {
		t.Errorf("entry 1 should prefer the title attr: %+v", entries[1])
	}
	if entries[2].Category != "" {
		t.Errorf("ungrouped entry has category %q", entries[2].Category)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse(strings.NewReader("not xml at all <<<")); err == nil {
		t.Fatal("want error on malformed input")
	}
}

func TestExportRoundTrip(t *testing.T) {
	in := []FeedEntry{
		{Title: "A", URL: "https://a.example.com/feed", Category: "News"},
		{Title: "B", URL: "https://b.example.com/feed", Category: "News"},
		{Title: "C", URL: "https://c.example.com/feed"},
	}
	out, err := Export("My Feeds", in)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	entries, err := Parse(strings.NewReader(string(out)))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("round trip lost entries: %d", len(entries))
	}
	byTitle := map[string]FeedEntry{}
	for _, e := range entries {
		byTitle[e.Title] = e
	}
	if byTitle["A"].Category != "News" || byTitle["B"].Category != "News" {
		t.Errorf("grouping lost: %+v", entries)
	}
	if byTitle["C"].Category != "" {
		t.Errorf("C gained a category: %+v", byTitle["C"])
	}
}
