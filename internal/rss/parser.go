package rss

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bryan-buckman/inkwell/internal/model"
	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"
)

// ErrMissingTitle is returned when a feed document declares no title.
var ErrMissingTitle = errors.New("feed document has no title")

// Parser decodes feed documents and maps them onto model records.
type Parser struct {
	lib *gofeed.Parser
}

// NewParser creates a parser for RSS, Atom and JSON feed documents.
func NewParser() *Parser {
	return &Parser{lib: gofeed.NewParser()}
}

// Parse decodes an RSS, Atom or JSON feed document.
func (p *Parser) Parse(body []byte) (*gofeed.Feed, error) {
	parsed, err := p.lib.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return parsed, nil
}

// Transform builds the Feed record and one Entry per parsed item. Item fields
// the source omits stay nil.
func (p *Parser) Transform(feedLink string, parsed *gofeed.Feed, etag string, now time.Time) (*model.Feed, []model.Entry, error) {
	title := strings.TrimSpace(parsed.Title)
	if title == "" {
		return nil, nil, ErrMissingTitle
	}

	kind, err := model.ParseFeedKind(parsed.FeedType)
	if err != nil {
		return nil, nil, fmt.Errorf("feed type: %w", err)
	}

	refreshedAt := now.UTC()
	feed := &model.Feed{
		Title:       title,
		FeedLink:    feedLink,
		Link:        strings.TrimSpace(parsed.Link),
		Kind:        kind,
		RefreshedAt: &refreshedAt,
		LatestETag:  optional(etag),
	}

	entries := lo.Map(parsed.Items, func(item *gofeed.Item, _ int) model.Entry {
		return transformItem(item)
	})
	return feed, entries, nil
}

func transformItem(item *gofeed.Item) model.Entry {
	return model.Entry{
		Title:       optional(item.Title),
		Author:      itemAuthor(item),
		PubDate:     itemPubDate(item),
		Description: optional(item.Description),
		Content:     optional(item.Content),
		Link:        optional(item.Link),
	}
}

func itemAuthor(item *gofeed.Item) *string {
	if item.Author != nil {
		if name := optional(item.Author.Name); name != nil {
			return name
		}
	}
	for _, a := range item.Authors {
		if a == nil {
			continue
		}
		if name := optional(a.Name); name != nil {
			return name
		}
	}
	return nil
}

// itemPubDate prefers the declared publication date and falls back to the
// update date Atom entries often carry instead.
func itemPubDate(item *gofeed.Item) *time.Time {
	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		return &t
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		return &t
	}
	return nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
