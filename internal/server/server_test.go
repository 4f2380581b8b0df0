package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bryan-buckman/inkwell/internal/database"
	"github.com/bryan-buckman/inkwell/internal/metrics"
	"github.com/bryan-buckman/inkwell/internal/reader"
	"github.com/bryan-buckman/inkwell/internal/rss"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Server Feed</title>
    <link>https://server.example</link>
    <description>d</description>
    <item>
      <title>Newest</title>
      <link>https://server.example/2</link>
      <pubDate>Tue, 07 Jan 2025 10:00:00 +0000</pubDate>
      <description><![CDATA[<p>hello</p><img src="x" onerror="alert(1)">]]></description>
    </item>
    <item>
      <title>Oldest</title>
      <link>https://server.example/1</link>
      <pubDate>Mon, 06 Jan 2025 10:00:00 +0000</pubDate>
      <description>old</description>
    </item>
  </channel>
</rss>`

type serverFixture struct {
	api   *httptest.Server
	feeds *httptest.Server
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "server.db"), database.Options{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	feeds := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ".xml"):
			w.Write([]byte(testFeed))
		case r.URL.Path == "/page.html":
			w.Write([]byte("<html><body>not a feed</body></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(feeds.Close)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	fetcher := rss.NewFetcher(rss.FetcherOptions{Timeout: 5 * time.Second, UserAgent: "inkwell-test", MaxBytes: 1 << 20, PerHostFetches: 4}, m)
	ingester := rss.NewIngester(db, fetcher, rss.NewParser(), 5*time.Second, m, zap.NewNop())
	svc := reader.New(db, ingester, 2, m, zap.NewNop())

	api := httptest.NewServer(New(svc, reg, zap.NewNop()).Handler())
	t.Cleanup(api.Close)
	return &serverFixture{api: api, feeds: feeds}
}

func (f *serverFixture) do(t *testing.T, method, path string, body io.Reader, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.api.URL+path, body)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func (f *serverFixture) createFeed(t *testing.T, path string) FeedView {
	t.Helper()
	res := f.do(t, http.MethodPost, "/feeds", nil, http.Header{"Hx-Prompt": {f.feeds.URL + path}})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	var feed FeedView
	require.NoError(t, json.NewDecoder(res.Body).Decode(&feed))
	return feed
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func TestCreateFeedFromPrompt(t *testing.T) {
	f := newServerFixture(t)

	res := f.do(t, http.MethodPost, "/feeds", nil, http.Header{"Hx-Prompt": {f.feeds.URL + "/feed.xml"}})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	feed := decode[FeedView](t, res)
	assert.Equal(t, "Server Feed", feed.Title)
	assert.Equal(t, "RSS", feed.Kind)
	assert.Equal(t, "/feeds/"+itoa(feed.ID), res.Header.Get("HX-Redirect"))
}

func TestCreateFeedFromForm(t *testing.T) {
	f := newServerFixture(t)

	form := url.Values{"url": {f.feeds.URL + "/form.xml"}}
	res := f.do(t, http.MethodPost, "/feeds", strings.NewReader(form.Encode()),
		http.Header{"Content-Type": {"application/x-www-form-urlencoded"}})
	assert.Equal(t, http.StatusCreated, res.StatusCode)
}

func TestCreateFeedErrors(t *testing.T) {
	f := newServerFixture(t)
	f.createFeed(t, "/feed.xml")

	tests := []struct {
		name   string
		url    string
		status int
		kind   string
	}{
		{name: "missing", url: "", status: http.StatusBadRequest, kind: "bad_input"},
		{name: "relative", url: "/feed.xml", status: http.StatusBadRequest, kind: "bad_input"},
		{name: "duplicate", url: f.feeds.URL + "/feed.xml", status: http.StatusConflict, kind: "bad_input"},
		{name: "not found upstream", url: f.feeds.URL + "/gone", status: http.StatusBadGateway, kind: "network_error"},
		{name: "not a feed", url: f.feeds.URL + "/page.html", status: http.StatusUnprocessableEntity, kind: "feed_parse_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.do(t, http.MethodPost, "/feeds", nil, http.Header{"Hx-Prompt": {tt.url}})
			assert.Equal(t, tt.status, res.StatusCode)
			assert.Empty(t, res.Header.Get("HX-Redirect"))

			var trigger map[string]ErrorView
			require.NoError(t, json.Unmarshal([]byte(res.Header.Get("HX-Trigger")), &trigger))
			assert.Equal(t, tt.kind, trigger["feedError"].Kind)
			assert.NotEmpty(t, trigger["feedError"].Message)

			body := decode[ErrorView](t, res)
			assert.Equal(t, tt.kind, body.Kind)
		})
	}
}

func TestShowFeedAndToggle(t *testing.T) {
	f := newServerFixture(t)
	feed := f.createFeed(t, "/feed.xml")
	feedPath := "/feeds/" + itoa(feed.ID)

	res := f.do(t, http.MethodGet, feedPath, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	page := decode[FeedPageView](t, res)
	assert.Equal(t, "unread", page.Visibility)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "Newest", *page.Entries[0].Title)
	assert.Equal(t, "Mark read", page.Entries[0].NextAction)

	entryPath := "/entries/" + itoa(page.Entries[0].ID)
	res = f.do(t, http.MethodPut, entryPath+"?action=toggle_read_unread", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", res.Header.Get("Content-Type"))
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "Mark unread", string(body))

	res = f.do(t, http.MethodGet, feedPath+"?entries_visibility=read", nil, nil)
	read := decode[FeedPageView](t, res)
	require.Len(t, read.Entries, 1)
	assert.True(t, read.Entries[0].Read)

	res = f.do(t, http.MethodPut, entryPath+"?action=refresh", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body, err = io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, reader.RefreshStatus, string(body))

	res = f.do(t, http.MethodGet, "/", nil, nil)
	summaries := decode[[]FeedSummaryView](t, res)
	require.Len(t, summaries, 1)
	assert.EqualValues(t, 1, summaries[0].UnreadEntries)
	assert.EqualValues(t, 1, summaries[0].ReadEntries)
}

func TestRequestErrors(t *testing.T) {
	f := newServerFixture(t)
	feed := f.createFeed(t, "/feed.xml")

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/feeds/" + itoa(feed.ID) + "?entries_visibility=starred", http.StatusBadRequest},
		{http.MethodGet, "/feeds/abc", http.StatusBadRequest},
		{http.MethodGet, "/feeds/9999", http.StatusNotFound},
		{http.MethodGet, "/entries/9999", http.StatusNotFound},
		{http.MethodPut, "/entries/9999?action=toggle_read_unread", http.StatusNotFound},
		{http.MethodPut, "/entries/1?action=archive", http.StatusBadRequest},
		{http.MethodPut, "/entries/1", http.StatusBadRequest},
		{http.MethodDelete, "/feeds/9999", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			res := f.do(t, tt.method, tt.path, nil, nil)
			assert.Equal(t, tt.status, res.StatusCode)
		})
	}
}

func TestShowEntry(t *testing.T) {
	f := newServerFixture(t)
	feed := f.createFeed(t, "/feed.xml")
	page := decode[FeedPageView](t, f.do(t, http.MethodGet, "/feeds/"+itoa(feed.ID), nil, nil))

	res := f.do(t, http.MethodGet, "/entries/"+itoa(page.Entries[0].ID), nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	entry := decode[EntryPageView](t, res)
	assert.Equal(t, feed.ID, entry.Feed.ID)
	assert.Contains(t, entry.ContentHTML, "<p>hello</p>")
	assert.NotContains(t, entry.ContentHTML, "onerror")
}

func TestDeleteFeed(t *testing.T) {
	f := newServerFixture(t)
	feed := f.createFeed(t, "/feed.xml")

	res := f.do(t, http.MethodDelete, "/feeds/"+itoa(feed.ID), nil, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res = f.do(t, http.MethodGet, "/feeds/"+itoa(feed.ID), nil, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestOPMLRoundTrip(t *testing.T) {
	f := newServerFixture(t)
	f.createFeed(t, "/feed.xml")

	res := f.do(t, http.MethodGet, "/opml", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	exported, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(exported), f.feeds.URL+"/feed.xml")

	doc := `<?xml version="1.0"?><opml version="2.0"><body>
<outline text="one" xmlUrl="` + f.feeds.URL + `/one.xml"/>
<outline text="dup" xmlUrl="` + f.feeds.URL + `/feed.xml"/>
</body></opml>`
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("opml", "subs.opml")
	require.NoError(t, err)
	part.Write([]byte(doc))
	require.NoError(t, mw.Close())

	res = f.do(t, http.MethodPost, "/opml", &buf, http.Header{"Content-Type": {mw.FormDataContentType()}})
	require.Equal(t, http.StatusOK, res.StatusCode)
	report := decode[ImportReportView](t, res)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "bad_input", report.Results[1].ErrKind)
}

func TestImportOPMLWithoutFile(t *testing.T) {
	f := newServerFixture(t)
	res := f.do(t, http.MethodPost, "/opml", nil, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newServerFixture(t)
	f.createFeed(t, "/feed.xml")

	res := f.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `inkwell_ingestions_total{result="ok"} 1`)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
