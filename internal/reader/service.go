// Package reader is the transport-agnostic entry point to the feed reader:
// subscriptions, feed and entry views, and read-state changes.
package reader

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/bryan-buckman/inkwell/internal/apperr"
	"github.com/bryan-buckman/inkwell/internal/database"
	"github.com/bryan-buckman/inkwell/internal/metrics"
	"github.com/bryan-buckman/inkwell/internal/model"
	"github.com/bryan-buckman/inkwell/internal/opml"
	"github.com/bryan-buckman/inkwell/internal/sanitize"
	"go.uber.org/zap"
)

// Subscriber ingests a new feed.
type Subscriber interface {
	Subscribe(ctx context.Context, rawURL string) (*model.Feed, error)
}

// RefreshStatus is returned by the refresh action.
const RefreshStatus = "ok"

// Service implements the reader operations on top of a Store.
type Service struct {
	db                database.Store
	subscriber        Subscriber
	metrics           *metrics.Metrics
	log               *zap.Logger
	importConcurrency int
	now               func() time.Time
}

// New creates a Service. importConcurrency below one is treated as one.
func New(db database.Store, subscriber Subscriber, importConcurrency int, m *metrics.Metrics, log *zap.Logger) *Service {
	if importConcurrency <= 0 {
		importConcurrency = 1
	}
	return &Service{
		db:                db,
		subscriber:        subscriber,
		metrics:           m,
		log:               log,
		importConcurrency: importConcurrency,
		now:               time.Now,
	}
}

// FeedPage is a feed with its entries under one visibility filter.
type FeedPage struct {
	Feed       model.Feed
	Visibility model.Visibility
	Entries    []model.Entry
}

// EntryPage is an entry with its feed and sanitized body.
type EntryPage struct {
	Entry       model.Entry
	Feed        model.Feed
	ContentHTML string
}

// ListFeeds returns all feeds with unread/read counts.
func (s *Service) ListFeeds(ctx context.Context) ([]model.FeedSummary, error) {
	summaries, err := s.db.GetFeedSummaries(ctx)
	if err != nil {
		return nil, s.storeError("list feeds", err)
	}
	return summaries, nil
}

// Subscribe runs the ingestion pipeline for rawURL.
func (s *Service) Subscribe(ctx context.Context, rawURL string) (*model.Feed, error) {
	return s.subscriber.Subscribe(ctx, rawURL)
}

// ShowFeed returns a feed and its entries filtered by the visibility token
// ("unread", "read", "all"; empty means unread).
func (s *Service) ShowFeed(ctx context.Context, feedID int64, visibilityToken string) (*FeedPage, error) {
	visibility, err := model.ParseVisibility(visibilityToken)
	if err != nil {
		return nil, apperr.BadInput(err.Error())
	}

	feed, err := s.db.GetFeedByID(ctx, feedID)
	if err != nil {
		return nil, s.storeError("feed", err)
	}
	entries, err := s.db.GetEntries(ctx, feedID, visibility)
	if err != nil {
		return nil, s.storeError("feed", err)
	}
	return &FeedPage{Feed: *feed, Visibility: visibility, Entries: entries}, nil
}

// ShowEntry returns an entry, its feed, and the sanitized longer of its
// content and description.
func (s *Service) ShowEntry(ctx context.Context, entryID int64) (*EntryPage, error) {
	entry, err := s.db.GetEntryByID(ctx, entryID)
	if err != nil {
		return nil, s.storeError("entry", err)
	}
	feed, err := s.db.GetFeedByID(ctx, entry.FeedID)
	if err != nil {
		return nil, s.storeError("feed", err)
	}
	return &EntryPage{
		Entry:       *entry,
		Feed:        *feed,
		ContentHTML: sanitize.HTML(entry.Body()),
	}, nil
}

// UpdateEntry applies the action named by actionToken and returns the status
// token for the caller: the next-action label after a toggle, RefreshStatus
// after a refresh.
func (s *Service) UpdateEntry(ctx context.Context, entryID int64, actionToken string) (string, error) {
	action, err := model.ParseUpdateAction(actionToken)
	if err != nil {
		return "", apperr.BadInput(err.Error())
	}

	switch action {
	case model.ActionToggleReadUnread:
		state, err := s.ToggleRead(ctx, entryID)
		if err != nil {
			return "", err
		}
		return state.NextActionLabel(), nil
	case model.ActionRefresh:
		// Refresh only confirms the entry exists; it never rewrites entry state.
		if _, err := s.db.GetEntryByID(ctx, entryID); err != nil {
			return "", s.storeError("entry", err)
		}
		return RefreshStatus, nil
	}
	return "", apperr.BadInput("unsupported entry action")
}

// ToggleRead flips an entry between read and unread.
func (s *Service) ToggleRead(ctx context.Context, entryID int64) (model.ReadState, error) {
	state, err := s.db.ToggleEntryRead(ctx, entryID, s.now())
	if err != nil {
		return state, s.storeError("entry", err)
	}
	s.metrics.ObserveToggle(state.String())
	s.log.Debug("Toggled entry read state",
		zap.Int64("entryID", entryID),
		zap.Stringer("state", state))
	return state, nil
}

// DeleteFeed unsubscribes from a feed and removes its entries.
func (s *Service) DeleteFeed(ctx context.Context, feedID int64) error {
	if err := s.db.DeleteFeed(ctx, feedID); err != nil {
		return s.storeError("feed", err)
	}
	s.log.Info("Deleted feed", zap.Int64("feedID", feedID))
	return nil
}

// ImportResult is the outcome of subscribing to one OPML outline.
type ImportResult struct {
	URL    string
	Title  string
	FeedID int64
	Err    error
}

// ImportReport summarizes an OPML import.
type ImportReport struct {
	Results  []ImportResult
	Imported int
	Failed   int
}

// ImportOPML subscribes to every feed listed in the document using a bounded
// pool of workers. Each URL goes through the full ingestion pipeline, so
// feeds that are already stored fail individually without stopping the rest.
func (s *Service) ImportOPML(ctx context.Context, r io.Reader) (*ImportReport, error) {
	subs, err := opml.Parse(r)
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindBadInput, Message: "invalid OPML document", Err: err}
	}

	results := make([]ImportResult, len(subs))
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := min(s.importConcurrency, len(subs))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				sub := subs[idx]
				res := ImportResult{URL: sub.URL, Title: sub.Title}
				feed, err := s.subscriber.Subscribe(ctx, sub.URL)
				if err != nil {
					res.Err = err
				} else {
					res.FeedID = feed.ID
				}
				results[idx] = res
			}
		}()
	}

	// Send jobs to workers
	for idx := range subs {
		select {
		case <-ctx.Done():
			for rest := idx; rest < len(subs); rest++ {
				results[rest] = ImportResult{URL: subs[rest].URL, Title: subs[rest].Title, Err: ctx.Err()}
			}
		case jobs <- idx:
			continue
		}
		break
	}
	close(jobs)
	wg.Wait()

	report := &ImportReport{Results: results}
	for _, res := range results {
		if res.Err != nil {
			report.Failed++
		} else {
			report.Imported++
		}
	}
	s.log.Info("Imported OPML",
		zap.Int("total", len(subs)),
		zap.Int("imported", report.Imported),
		zap.Int("failed", report.Failed))
	return report, nil
}

// ExportOPML lists every subscription as an OPML document.
func (s *Service) ExportOPML(ctx context.Context) ([]byte, error) {
	feeds, err := s.db.GetAllFeeds(ctx)
	if err != nil {
		return nil, s.storeError("list feeds", err)
	}
	data, err := opml.Export("inkwell subscriptions", feeds, s.now())
	if err != nil {
		return nil, apperr.Database("export feeds", err)
	}
	return data, nil
}

// storeError classifies a store failure. Missing rows become NotFound; all
// else is an opaque DatabaseError whose cause is logged.
func (s *Service) storeError(what string, err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return apperr.NotFound(what + " not found")
	}
	var classified *apperr.Error
	if errors.As(err, &classified) {
		return err
	}
	s.log.Error("Store operation failed",
		zap.String("operation", what),
		zap.Error(err))
	return apperr.Database(what, err)
}
