// Package model defines shared data structures.
package model

import (
	"fmt"
	"strings"
	"time"
)

// FeedKind is the syndication format of a feed. RSS 0.9x, 1.0 and 2.0 all
// collapse into RSS.
type FeedKind string

const (
	FeedKindAtom FeedKind = "Atom"
	FeedKindJSON FeedKind = "JSON"
	FeedKindRSS  FeedKind = "RSS"
)

// ParseFeedKind maps a stored or parser-reported format name to a FeedKind.
func ParseFeedKind(s string) (FeedKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "atom":
		return FeedKindAtom, nil
	case "json":
		return FeedKindJSON, nil
	case "rss":
		return FeedKindRSS, nil
	}
	return "", fmt.Errorf("unknown feed kind %q", s)
}

// Feed represents a subscribed syndication source.
type Feed struct {
	ID          int64
	Title       string
	FeedLink    string // subscription URL, unique across feeds
	Link        string // human-facing site URL
	Kind        FeedKind
	RefreshedAt *time.Time
	LatestETag  *string
	InsertedAt  time.Time
	UpdatedAt   time.Time
}

// Entry represents a single item of a feed. Optional fields are nil when the
// source item did not carry them.
type Entry struct {
	ID          int64
	FeedID      int64
	Title       *string
	Author      *string
	PubDate     *time.Time
	Description *string
	Content     *string
	Link        *string
	ReadAt      *time.Time
	InsertedAt  time.Time
	UpdatedAt   time.Time
}

// IsRead reports whether the entry has been marked read.
func (e Entry) IsRead() bool {
	return e.ReadAt != nil
}

// Body returns the longer of content and description.
func (e Entry) Body() string {
	content := deref(e.Content)
	description := deref(e.Description)
	if len(content) >= len(description) {
		return content
	}
	return description
}

// FeedSummary is a feed with aggregate entry counts for listings.
type FeedSummary struct {
	Feed
	UnreadEntries int64
	ReadEntries   int64
	LatestPubDate *time.Time
}

// ReadState is the outcome of toggling an entry.
type ReadState struct {
	EntryID int64
	ReadAt  *time.Time
}

// IsRead reports whether the entry ended up read.
func (s ReadState) IsRead() bool {
	return s.ReadAt != nil
}

// String names the resulting state.
func (s ReadState) String() string {
	if s.IsRead() {
		return "read"
	}
	return "unread"
}

// NextActionLabel describes the action now available to the user.
func (s ReadState) NextActionLabel() string {
	if s.IsRead() {
		return "Mark unread"
	}
	return "Mark read"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
