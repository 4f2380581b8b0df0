// Package database provides storage backends for the feed reader.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/bryan-buckman/inkwell/internal/model"
)

var (
	// ErrNotFound is returned when the addressed feed or entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrFeedExists is returned when a feed with the same feed_link is already stored.
	ErrFeedExists = errors.New("feed already exists")
)

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL backends satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// Schema operations
	SchemaVersion(ctx context.Context) (int, error)
	Migrate(ctx context.Context) (int, error)

	// Feed operations
	FeedExists(ctx context.Context, feedLink string) (bool, error)
	CreateFeedWithEntries(ctx context.Context, feed *model.Feed, entries []model.Entry) (int64, error)
	GetFeedByID(ctx context.Context, feedID int64) (*model.Feed, error)
	GetAllFeeds(ctx context.Context) ([]model.Feed, error)
	GetFeedSummaries(ctx context.Context) ([]model.FeedSummary, error)
	DeleteFeed(ctx context.Context, feedID int64) error

	// Entry operations
	GetEntries(ctx context.Context, feedID int64, visibility model.Visibility) ([]model.Entry, error)
	GetEntryByID(ctx context.Context, entryID int64) (*model.Entry, error)
	ToggleEntryRead(ctx context.Context, entryID int64, now time.Time) (model.ReadState, error)
}
