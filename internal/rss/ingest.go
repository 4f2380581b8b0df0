package rss

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bryan-buckman/inkwell/internal/apperr"
	"github.com/bryan-buckman/inkwell/internal/database"
	"github.com/bryan-buckman/inkwell/internal/metrics"
	"github.com/bryan-buckman/inkwell/internal/model"
	"go.uber.org/zap"
)

// DocumentFetcher retrieves a remote feed document.
type DocumentFetcher interface {
	Fetch(ctx context.Context, feedURL string) (*Document, error)
}

// Ingester subscribes to new feeds: validate, dedupe, fetch, parse,
// transform and persist. No store transaction is open while the document is
// fetched or parsed.
type Ingester struct {
	db      database.Store
	fetcher DocumentFetcher
	parser  *Parser
	timeout time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewIngester wires an Ingester. timeout bounds each Subscribe call as a whole.
func NewIngester(
	db database.Store,
	fetcher DocumentFetcher,
	parser *Parser,
	timeout time.Duration,
	m *metrics.Metrics,
	log *zap.Logger,
) *Ingester {
	return &Ingester{
		db:      db,
		fetcher: fetcher,
		parser:  parser,
		timeout: timeout,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// Subscribe ingests the feed at rawURL and returns the stored Feed. Failures
// are classified as apperr BadInput, NetworkError, FeedParseError or
// DatabaseError; none are retried.
func (in *Ingester) Subscribe(ctx context.Context, rawURL string) (feed *model.Feed, err error) {
	var entries []model.Entry
	defer func() {
		in.metrics.ObserveIngestion(ingestionResult(err), len(entries))
		if err != nil {
			in.log.Warn("Failed to subscribe to feed",
				zap.String("feedURL", rawURL),
				zap.Stringer("kind", apperr.KindOf(err)),
				zap.Error(err))
		}
	}()

	if err = validateFeedURL(rawURL); err != nil {
		return nil, err
	}

	exists, existsErr := in.db.FeedExists(ctx, rawURL)
	if existsErr != nil {
		return nil, apperr.Database("check existing feeds", existsErr)
	}
	if exists {
		return nil, &apperr.Error{Kind: apperr.KindBadInput, Message: "feed already exists", Err: database.ErrFeedExists}
	}

	if in.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.timeout)
		defer cancel()
	}

	doc, fetchErr := in.fetcher.Fetch(ctx, rawURL)
	if fetchErr != nil {
		return nil, apperr.Network("fetch feed", fetchErr)
	}

	parsed, parseErr := in.parser.Parse(doc.Body)
	if parseErr != nil {
		return nil, apperr.FeedParse("parse feed", parseErr)
	}

	feed, entries, err = in.parser.Transform(rawURL, parsed, doc.ETag, in.now())
	if err != nil {
		entries = nil
		return nil, apperr.FeedParse("parse feed", err)
	}

	if _, err = in.db.CreateFeedWithEntries(ctx, feed, entries); err != nil {
		if errors.Is(err, database.ErrFeedExists) {
			return nil, &apperr.Error{Kind: apperr.KindBadInput, Message: "feed already exists", Err: err}
		}
		return nil, apperr.Database("save feed", err)
	}

	in.log.Info("Subscribed to feed",
		zap.String("feedURL", rawURL),
		zap.Int64("feedID", feed.ID),
		zap.String("kind", string(feed.Kind)),
		zap.Int("entries", len(entries)))
	return feed, nil
}

func validateFeedURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &apperr.Error{Kind: apperr.KindBadInput, Message: fmt.Sprintf("invalid feed URL %q", rawURL), Err: err}
	}
	if !u.IsAbs() || u.Host == "" {
		return apperr.BadInput(fmt.Sprintf("feed URL %q must be absolute", rawURL))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperr.BadInput(fmt.Sprintf("feed URL %q must use http or https", rawURL))
	}
	return nil
}

func ingestionResult(err error) string {
	if err == nil {
		return metrics.ResultOK
	}
	switch apperr.KindOf(err) {
	case apperr.KindBadInput:
		return metrics.ResultBadInput
	case apperr.KindNetwork:
		return metrics.ResultNetwork
	case apperr.KindFeedParse:
		return metrics.ResultFeedParse
	default:
		return metrics.ResultDatabase
	}
}
