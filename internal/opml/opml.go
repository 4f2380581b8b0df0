// Package opml handles importing and exporting subscription lists as OPML.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bryan-buckman/inkwell/internal/model"
	"github.com/samber/lo"
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

// Outline represents a single outline element (category or feed).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Subscription is one feed listed in an OPML document.
type Subscription struct {
	Title string
	URL   string
}

// Parse reads an OPML document and returns every feed outline, flattening
// categories. A URL listed more than once is returned once.
func Parse(r io.Reader) ([]Subscription, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var subs []Subscription
	var walk func(outlines []Outline)
	walk = func(outlines []Outline) {
		for _, o := range outlines {
			if u := strings.TrimSpace(o.XMLURL); u != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				subs = append(subs, Subscription{Title: title, URL: u})
			}
			walk(o.Outlines)
		}
	}
	walk(doc.Body.Outlines)
	return lo.UniqBy(subs, func(s Subscription) string { return s.URL }), nil
}

// Export generates an OPML 2.0 document listing feeds.
func Export(title string, feeds []model.Feed, now time.Time) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: now.Format(time.RFC1123Z),
		},
	}
	doc.Body.Outlines = lo.Map(feeds, func(f model.Feed, _ int) Outline {
		return Outline{
			Text:    f.Title,
			Title:   f.Title,
			Type:    outlineType(f.Kind),
			XMLURL:  f.FeedLink,
			HTMLURL: f.Link,
		}
	})

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}

func outlineType(kind model.FeedKind) string {
	switch kind {
	case model.FeedKindAtom:
		return "atom"
	case model.FeedKindJSON:
		return "json"
	default:
		return "rss"
	}
}
