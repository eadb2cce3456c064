// Package opml imports and exports user feed sources as OPML, so a
// reader subscription list can be loaded in one request.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (group or feed).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// FeedEntry is a flattened feed. Group names become the default
// category of the resulting source.
type FeedEntry struct {
	Title    string
	URL      string
	Category string
}

// Parse reads an OPML document and returns a flat list of FeedEntry.
func Parse(r io.Reader) ([]FeedEntry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []FeedEntry
	var walk func(outlines []Outline, group string)
	walk = func(outlines []Outline, group string) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, FeedEntry{
					Title:    title,
					URL:      o.XMLURL,
					Category: group,
				})
			} else if len(o.Outlines) > 0 {
				name := o.Text
				if name == "" {
					name = o.Title
				}
				walk(o.Outlines, name)
			}
		}
	}
	walk(doc.Body.Outlines, "")
	return entries, nil
}

// Export generates an OPML document from feed entries, grouped by
// category.
func Export(title string, entries []FeedEntry) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}

	groups := make(map[string]*Outline)
	var order []string
	for _, e := range entries {
		feed := Outline{Text: e.Title, Title: e.Title, Type: "rss", XMLURL: e.URL}
		if e.Category == "" {
			doc.Body.Outlines = append(doc.Body.Outlines, feed)
			continue
		}
		g, ok := groups[e.Category]
		if !ok {
			g = &Outline{Text: e.Category, Title: e.Category}
			groups[e.Category] = g
			order = append(order, e.Category)
		}
		g.Outlines = append(g.Outlines, feed)
	}
	for _, name := range order {
		doc.Body.Outlines = append(doc.Body.Outlines, *groups[name])
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
