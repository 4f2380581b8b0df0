package server

import (
	"time"

	"github.com/bryan-buckman/inkwell/internal/apperr"
	"github.com/bryan-buckman/inkwell/internal/model"
	"github.com/bryan-buckman/inkwell/internal/reader"
	"github.com/samber/lo"
)

type FeedView struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	FeedLink    string     `json:"feed_link"`
	Link        string     `json:"link"`
	Kind        string     `json:"kind"`
	RefreshedAt *time.Time `json:"refreshed_at"`
	InsertedAt  time.Time  `json:"inserted_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type FeedSummaryView struct {
	FeedView
	UnreadEntries int64      `json:"unread_entries"`
	ReadEntries   int64      `json:"read_entries"`
	LatestPubDate *time.Time `json:"latest_pub_date"`
}

type EntryView struct {
	ID          int64      `json:"id"`
	FeedID      int64      `json:"feed_id"`
	Title       *string    `json:"title"`
	Author      *string    `json:"author"`
	PubDate     *time.Time `json:"pub_date"`
	Description *string    `json:"description"`
	Link        *string    `json:"link"`
	Read        bool       `json:"read"`
	ReadAt      *time.Time `json:"read_at"`
	NextAction  string     `json:"next_action"`
}

type FeedPageView struct {
	Feed       FeedView    `json:"feed"`
	Visibility string      `json:"visibility"`
	Entries    []EntryView `json:"entries"`
}

type EntryPageView struct {
	Entry       EntryView `json:"entry"`
	Feed        FeedView  `json:"feed"`
	ContentHTML string    `json:"content_html"`
}

type ImportResultView struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	FeedID  int64  `json:"feed_id,omitempty"`
	Error   string `json:"error,omitempty"`
	ErrKind string `json:"error_kind,omitempty"`
}

type ImportReportView struct {
	Imported int                `json:"imported"`
	Failed   int                `json:"failed"`
	Results  []ImportResultView `json:"results"`
}

type ErrorView struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (view FeedView) From(f *model.Feed) FeedView {
	return FeedView{
		ID:          f.ID,
		Title:       f.Title,
		FeedLink:    f.FeedLink,
		Link:        f.Link,
		Kind:        string(f.Kind),
		RefreshedAt: f.RefreshedAt,
		InsertedAt:  f.InsertedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

func (view FeedSummaryView) From(s *model.FeedSummary) FeedSummaryView {
	return FeedSummaryView{
		FeedView:      FeedView{}.From(&s.Feed),
		UnreadEntries: s.UnreadEntries,
		ReadEntries:   s.ReadEntries,
		LatestPubDate: s.LatestPubDate,
	}
}

func (view EntryView) From(e *model.Entry) EntryView {
	state := model.ReadState{EntryID: e.ID, ReadAt: e.ReadAt}
	return EntryView{
		ID:          e.ID,
		FeedID:      e.FeedID,
		Title:       e.Title,
		Author:      e.Author,
		PubDate:     e.PubDate,
		Description: e.Description,
		Link:        e.Link,
		Read:        e.IsRead(),
		ReadAt:      e.ReadAt,
		NextAction:  state.NextActionLabel(),
	}
}

func (view FeedPageView) From(p *reader.FeedPage) FeedPageView {
	return FeedPageView{
		Feed:       FeedView{}.From(&p.Feed),
		Visibility: p.Visibility.String(),
		Entries: lo.Map(p.Entries, func(e model.Entry, _ int) EntryView {
			return EntryView{}.From(&e)
		}),
	}
}

func (view EntryPageView) From(p *reader.EntryPage) EntryPageView {
	return EntryPageView{
		Entry:       EntryView{}.From(&p.Entry),
		Feed:        FeedView{}.From(&p.Feed),
		ContentHTML: p.ContentHTML,
	}
}

func (view ImportReportView) From(r *reader.ImportReport) ImportReportView {
	return ImportReportView{
		Imported: r.Imported,
		Failed:   r.Failed,
		Results: lo.Map(r.Results, func(res reader.ImportResult, _ int) ImportResultView {
			out := ImportResultView{URL: res.URL, Title: res.Title, FeedID: res.FeedID}
			if res.Err != nil {
				out.Error = publicMessage(res.Err)
				out.ErrKind = apperr.KindOf(res.Err).String()
			}
			return out
		}),
	}
}
