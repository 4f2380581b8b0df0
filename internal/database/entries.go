package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bryan-buckman/inkwell/internal/model"
)

var entryColumns = []string{
	"id", "feed_id", "title", "author", "pub_date", "description", "content", "link", "read_at", "inserted_at", "updated_at",
}

func scanEntry(row rowScanner) (model.Entry, error) {
	var e model.Entry
	var title, author, description, content, link sql.NullString
	var pubDate, readAt, insertedAt, updatedAt nullTime
	if err := row.Scan(&e.ID, &e.FeedID, &title, &author, &pubDate, &description, &content, &link, &readAt, &insertedAt, &updatedAt); err != nil {
		return e, err
	}
	e.Title = stringPtr(title)
	e.Author = stringPtr(author)
	e.PubDate = pubDate.ptr()
	e.Description = stringPtr(description)
	e.Content = stringPtr(content)
	e.Link = stringPtr(link)
	e.ReadAt = readAt.ptr()
	e.InsertedAt = insertedAt.Time
	e.UpdatedAt = updatedAt.Time
	return e, nil
}

// GetEntries returns a feed's entries filtered by read state, newest
// publication date first. Entries without a publication date come last, in
// insertion order.
func (db *DB) GetEntries(ctx context.Context, feedID int64, visibility model.Visibility) ([]model.Entry, error) {
	var one int
	err := db.conn.QueryRowContext(ctx, db.q("SELECT 1 FROM feeds WHERE id = ?"), feedID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sb := db.dialect.flavor.NewSelectBuilder()
	sb.Select(entryColumns...)
	sb.From("entries")
	sb.Where(sb.Equal("feed_id", feedID))
	switch visibility {
	case model.VisibilityUnread:
		sb.Where(sb.IsNull("read_at"))
	case model.VisibilityRead:
		sb.Where(sb.IsNotNull("read_at"))
	case model.VisibilityAll:
	default:
		return nil, fmt.Errorf("unsupported visibility %d", visibility)
	}
	sb.OrderBy("pub_date DESC NULLS LAST", "id ASC")

	query, args := sb.Build()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer db.closeRows(rows, "GetEntries")

	entries := []model.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetEntryByID returns a single entry.
func (db *DB) GetEntryByID(ctx context.Context, entryID int64) (*model.Entry, error) {
	sb := db.dialect.flavor.NewSelectBuilder()
	sb.Select(entryColumns...)
	sb.From("entries")
	sb.Where(sb.Equal("id", entryID))
	query, args := sb.Build()

	e, err := scanEntry(db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ToggleEntryRead flips an entry between read and unread. The read and the
// write share one transaction that holds the write lock from its first
// statement, so concurrent toggles of the same entry serialize in commit
// order.
func (db *DB) ToggleEntryRead(ctx context.Context, entryID int64, now time.Time) (model.ReadState, error) {
	state := model.ReadState{EntryID: entryID}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return state, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var readAt nullTime
	err = tx.QueryRowContext(ctx, db.q("SELECT read_at FROM entries WHERE id = ?"+db.dialect.lockRow), entryID).Scan(&readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return state, ErrNotFound
	}
	if err != nil {
		return state, fmt.Errorf("read entry state: %w", err)
	}

	now = now.UTC()
	if readAt.Valid {
		_, err = tx.ExecContext(ctx, db.q("UPDATE entries SET read_at = NULL, updated_at = ? WHERE id = ?"), now, entryID)
	} else {
		_, err = tx.ExecContext(ctx, db.q("UPDATE entries SET read_at = ?, updated_at = ? WHERE id = ?"), now, now, entryID)
		state.ReadAt = &now
	}
	if err != nil {
		return model.ReadState{EntryID: entryID}, fmt.Errorf("update entry state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.ReadState{EntryID: entryID}, fmt.Errorf("commit: %w", err)
	}
	return state, nil
}
