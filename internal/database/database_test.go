package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bryan-buckman/inkwell/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feeds.db")
	db, err := New(context.Background(), path, Options{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func count(t *testing.T, db *DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.conn.QueryRow(query, args...).Scan(&n))
	return n
}

func schemaObjects(t *testing.T, db *DB) []string {
	t.Helper()
	rows, err := db.conn.Query("SELECT type || ':' || name || ':' || COALESCE(sql, '') FROM sqlite_master ORDER BY type, name")
	require.NoError(t, err)
	defer rows.Close()
	var objects []string
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		objects = append(objects, s)
	}
	require.NoError(t, rows.Err())
	return objects
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, path := newTestDB(t)

	version, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
	assert.Equal(t, LatestSchemaVersion(), version)
	before := schemaObjects(t, db)

	version, err = db.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
	assert.Equal(t, before, schemaObjects(t, db))

	reopened, err := New(ctx, path, Options{}, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()
	version, err = reopened.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
	assert.Equal(t, before, schemaObjects(t, reopened))

	joined := strings.Join(before, "\n")
	assert.Contains(t, joined, "index:entries_feed_id_and_pub_date_and_inserted_at_index")
	assert.Contains(t, joined, "index:feeds_feed_link")
	assert.Contains(t, joined, "latest_etag")
}

func TestMigrateFromVersionOne(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "feeds.db")

	raw, err := sql.Open("sqlite", sqliteDSN(path, Options{}))
	require.NoError(t, err)
	for _, stmt := range sqliteDialect.steps[0].statements {
		_, err := raw.Exec(stmt)
		require.NoError(t, err)
	}
	_, err = raw.Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	_, err = raw.Exec("INSERT INTO feeds (title, feed_link, link, feed_kind) VALUES ('Old', 'https://old.example/feed', '', 'RSS')")
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	db, err := New(ctx, path, Options{}, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	version, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	feeds, err := db.GetAllFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, "Old", feeds[0].Title)
	assert.Nil(t, feeds[0].LatestETag)
}

func TestCreateFeedWithEntries(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)

	pub := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	feed := &model.Feed{
		Title:       "Example Feed",
		FeedLink:    "https://example.com/feed.xml",
		Link:        "https://example.com",
		Kind:        model.FeedKindRSS,
		RefreshedAt: timePtr(time.Now()),
		LatestETag:  strPtr(`"abc"`),
	}
	entries := []model.Entry{
		{Title: strPtr("First"), PubDate: &pub, Link: strPtr("https://example.com/1"), Author: strPtr("Ann")},
		{Title: strPtr("Second")},
		{},
	}

	id, err := db.CreateFeedWithEntries(ctx, feed, entries)
	require.NoError(t, err)
	assert.Equal(t, id, feed.ID)
	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM feeds"))
	assert.Equal(t, 3, count(t, db, "SELECT COUNT(*) FROM entries WHERE feed_id = ?", id))

	got, err := db.GetFeedByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Example Feed", got.Title)
	assert.Equal(t, model.FeedKindRSS, got.Kind)
	require.NotNil(t, got.LatestETag)
	assert.Equal(t, `"abc"`, *got.LatestETag)
	assert.NotNil(t, got.RefreshedAt)

	all, err := db.GetEntries(ctx, id, model.VisibilityAll)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "First", *all[0].Title)
	require.NotNil(t, all[0].PubDate)
	assert.True(t, pub.Equal(*all[0].PubDate))
	assert.Equal(t, "Ann", *all[0].Author)
	assert.Nil(t, all[1].PubDate)
	assert.Nil(t, all[1].Author)
	assert.Nil(t, all[2].Title)
	assert.Nil(t, all[2].Link)
}

func TestCreateFeedWithEntriesDuplicateFeedLink(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)

	_, err := db.CreateFeedWithEntries(ctx, &model.Feed{Title: "A", FeedLink: "https://example.com/feed", Kind: model.FeedKindAtom},
		[]model.Entry{{Title: strPtr("one")}})
	require.NoError(t, err)

	_, err = db.CreateFeedWithEntries(ctx, &model.Feed{Title: "B", FeedLink: "https://example.com/feed", Kind: model.FeedKindAtom},
		[]model.Entry{{Title: strPtr("two")}, {Title: strPtr("three")}})
	require.ErrorIs(t, err, ErrFeedExists)

	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM feeds"))
	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM entries"))

	exists, err := db.FeedExists(ctx, "https://example.com/feed")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = db.FeedExists(ctx, "https://example.com/feed/")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateFeedWithoutSiteLinkStoresNull(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)

	id, err := db.CreateFeedWithEntries(ctx, &model.Feed{Title: "No site", FeedLink: "https://nosite.example/feed", Kind: model.FeedKindRSS}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM feeds WHERE id = ? AND link IS NULL", id))

	got, err := db.GetFeedByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "", got.Link)

	_, err = db.CreateFeedWithEntries(ctx, &model.Feed{Title: "Site", FeedLink: "https://site.example/feed", Link: "https://site.example", Kind: model.FeedKindRSS}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM feeds WHERE link = ?", "https://site.example"))
}

func TestCreateFeedWithEntriesRollsBackOnEntryFailure(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)

	_, err := db.conn.Exec(`
		CREATE TRIGGER reject_poison BEFORE INSERT ON entries
		WHEN NEW.title = 'poison'
		BEGIN SELECT RAISE(ABORT, 'injected failure'); END`)
	require.NoError(t, err)

	entries := []model.Entry{
		{Title: strPtr("ok 1")},
		{Title: strPtr("ok 2")},
		{Title: strPtr("poison")},
		{Title: strPtr("ok 3")},
	}
	_, err = db.CreateFeedWithEntries(ctx, &model.Feed{Title: "Broken", FeedLink: "https://broken.example/feed", Kind: model.FeedKindRSS}, entries)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrFeedExists)
	assert.Contains(t, err.Error(), "insert entry 3 of 4")

	assert.Equal(t, 0, count(t, db, "SELECT COUNT(*) FROM feeds WHERE feed_link = ?", "https://broken.example/feed"))
	assert.Equal(t, 0, count(t, db, "SELECT COUNT(*) FROM entries"))
}

func TestGetFeedByIDNotFound(t *testing.T) {
	db, _ := newTestDB(t)
	_, err := db.GetFeedByID(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteFeedCascades(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)

	id, err := db.CreateFeedWithEntries(ctx, &model.Feed{Title: "A", FeedLink: "https://a.example/feed", Kind: model.FeedKindRSS},
		[]model.Entry{{Title: strPtr("1")}, {Title: strPtr("2")}})
	require.NoError(t, err)

	require.NoError(t, db.DeleteFeed(ctx, id))
	assert.Equal(t, 0, count(t, db, "SELECT COUNT(*) FROM entries"))
	assert.ErrorIs(t, db.DeleteFeed(ctx, id), ErrNotFound)
}

func TestGetFeedSummaries(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)

	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	id, err := db.CreateFeedWithEntries(ctx, &model.Feed{Title: "Beta", FeedLink: "https://b.example/feed", Kind: model.FeedKindRSS},
		[]model.Entry{{PubDate: &older}, {PubDate: &newer}, {}})
	require.NoError(t, err)
	_, err = db.CreateFeedWithEntries(ctx, &model.Feed{Title: "Alpha", FeedLink: "https://a.example/feed", Kind: model.FeedKindAtom}, nil)
	require.NoError(t, err)

	entries, err := db.GetEntries(ctx, id, model.VisibilityAll)
	require.NoError(t, err)
	_, err = db.ToggleEntryRead(ctx, entries[0].ID, time.Now())
	require.NoError(t, err)

	summaries, err := db.GetFeedSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, "Alpha", summaries[0].Title)
	assert.Zero(t, summaries[0].UnreadEntries)
	assert.Zero(t, summaries[0].ReadEntries)
	assert.Nil(t, summaries[0].LatestPubDate)

	assert.Equal(t, "Beta", summaries[1].Title)
	assert.EqualValues(t, 2, summaries[1].UnreadEntries)
	assert.EqualValues(t, 1, summaries[1].ReadEntries)
	require.NotNil(t, summaries[1].LatestPubDate)
	assert.True(t, newer.Equal(*summaries[1].LatestPubDate))
}

func TestPostgresRebind(t *testing.T) {
	assert.Equal(t, "SELECT 1 FROM feeds WHERE feed_link = $1 AND id = $2",
		postgresDialect.rebind("SELECT 1 FROM feeds WHERE feed_link = ? AND id = ?"))
	assert.Equal(t, "SELECT ?", sqliteDialect.rebind("SELECT ?"))
}

func TestNullTimeScan(t *testing.T) {
	want := time.Date(2025, 2, 3, 4, 5, 6, 700000000, time.UTC)
	for _, in := range []any{
		want,
		"2025-02-03 04:05:06.7+00:00",
		"2025-02-03T04:05:06.7Z",
		[]byte("2025-02-03 04:05:06.7+00:00"),
	} {
		var n nullTime
		require.NoError(t, n.Scan(in))
		require.True(t, n.Valid)
		assert.True(t, want.Equal(n.Time), "%v", in)
	}

	var n nullTime
	require.NoError(t, n.Scan(nil))
	assert.False(t, n.Valid)
	assert.Nil(t, n.ptr())
	assert.Error(t, n.Scan("yesterday"))
}
