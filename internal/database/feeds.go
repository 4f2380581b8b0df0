package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bryan-buckman/inkwell/internal/model"
	"go.uber.org/zap"
)

const feedColumns = "id, title, feed_link, link, feed_kind, refreshed_at, latest_etag, inserted_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner, extra ...any) (model.Feed, error) {
	var f model.Feed
	var link, kind, etag sql.NullString
	var refreshedAt, insertedAt, updatedAt nullTime
	dest := append([]any{&f.ID, &f.Title, &f.FeedLink, &link, &kind, &refreshedAt, &etag, &insertedAt, &updatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return f, err
	}
	f.Link = link.String
	f.Kind = model.FeedKind(kind.String)
	f.RefreshedAt = refreshedAt.ptr()
	f.LatestETag = stringPtr(etag)
	f.InsertedAt = insertedAt.Time
	f.UpdatedAt = updatedAt.Time
	return f, nil
}

// FeedExists reports whether a feed with exactly this feed_link is stored.
func (db *DB) FeedExists(ctx context.Context, feedLink string) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx, db.q("SELECT 1 FROM feeds WHERE feed_link = ? LIMIT 1"), feedLink).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateFeedWithEntries inserts a feed and all of its entries in one
// transaction. Either every row is committed or none is. A feed_link that is
// already stored yields ErrFeedExists.
func (db *DB) CreateFeedWithEntries(ctx context.Context, feed *model.Feed, entries []model.Entry) (int64, error) {
	now := time.Now().UTC()
	if feed.InsertedAt.IsZero() {
		feed.InsertedAt = now
	}
	if feed.UpdatedAt.IsZero() {
		feed.UpdatedAt = feed.InsertedAt
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var feedID int64
	err = tx.QueryRowContext(ctx, db.q(`
		INSERT INTO feeds (title, feed_link, link, feed_kind, refreshed_at, latest_etag, inserted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		feed.Title, feed.FeedLink, nullIfEmpty(feed.Link), string(feed.Kind),
		toNullTime(feed.RefreshedAt), toNullString(feed.LatestETag),
		feed.InsertedAt.UTC(), feed.UpdatedAt.UTC(),
	).Scan(&feedID)
	if err != nil {
		if db.dialect.isUniqueViolation(err) {
			return 0, ErrFeedExists
		}
		return 0, fmt.Errorf("insert feed: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, db.q(`
		INSERT INTO entries (feed_id, title, author, pub_date, description, content, link, inserted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return 0, fmt.Errorf("prepare entry insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		_, err := stmt.ExecContext(ctx, feedID,
			toNullString(e.Title), toNullString(e.Author), toNullTime(e.PubDate),
			toNullString(e.Description), toNullString(e.Content), toNullString(e.Link),
			feed.InsertedAt.UTC(), feed.InsertedAt.UTC())
		if err != nil {
			return 0, fmt.Errorf("insert entry %d of %d: %w", i+1, len(entries), err)
		}
	}

	if err := tx.Commit(); err != nil {
		if db.dialect.isUniqueViolation(err) {
			return 0, ErrFeedExists
		}
		return 0, fmt.Errorf("commit: %w", err)
	}

	feed.ID = feedID
	return feedID, nil
}

// GetFeedByID returns a single feed.
func (db *DB) GetFeedByID(ctx context.Context, feedID int64) (*model.Feed, error) {
	row := db.conn.QueryRowContext(ctx, db.q("SELECT "+feedColumns+" FROM feeds WHERE id = ?"), feedID)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetAllFeeds returns all feeds ordered by title.
func (db *DB) GetAllFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT "+feedColumns+" FROM feeds ORDER BY title, id")
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer db.closeRows(rows, "GetAllFeeds")

	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// GetFeedSummaries returns every feed with its unread and read entry counts
// and the newest publication date among its entries.
func (db *DB) GetFeedSummaries(ctx context.Context) ([]model.FeedSummary, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT f.id, f.title, f.feed_link, f.link, f.feed_kind, f.refreshed_at, f.latest_etag, f.inserted_at, f.updated_at,
			COALESCE(SUM(CASE WHEN e.id IS NOT NULL AND e.read_at IS NULL THEN 1 ELSE 0 END), 0) AS unread_entries,
			COALESCE(SUM(CASE WHEN e.read_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS read_entries,
			MAX(e.pub_date) AS latest_pub_date
		FROM feeds f
		LEFT JOIN entries e ON e.feed_id = f.id
		GROUP BY f.id, f.title, f.feed_link, f.link, f.feed_kind, f.refreshed_at, f.latest_etag, f.inserted_at, f.updated_at
		ORDER BY f.title ASC, f.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer db.closeRows(rows, "GetFeedSummaries")

	var summaries []model.FeedSummary
	for rows.Next() {
		var s model.FeedSummary
		var latest nullTime
		f, err := scanFeed(rows, &s.UnreadEntries, &s.ReadEntries, &latest)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		s.Feed = f
		s.LatestPubDate = latest.ptr()
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// DeleteFeed removes a feed; its entries are removed by the foreign key cascade.
func (db *DB) DeleteFeed(ctx context.Context, feedID int64) error {
	res, err := db.conn.ExecContext(ctx, db.q("DELETE FROM feeds WHERE id = ?"), feedID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) closeRows(rows *sql.Rows, operation string) {
	if err := rows.Close(); err != nil {
		db.log.Error("Failed to close rows",
			zap.Error(err),
			zap.String("operation", operation))
	}
}
