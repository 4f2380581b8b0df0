// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bryan-buckman/inkwell/internal/apperr"
	"github.com/bryan-buckman/inkwell/internal/database"
	"github.com/bryan-buckman/inkwell/internal/model"
	"github.com/bryan-buckman/inkwell/internal/reader"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const maxOPMLUpload = 10 << 20

// Server is the main HTTP server.
type Server struct {
	reader   *reader.Service
	gatherer prometheus.Gatherer
	log      *zap.Logger
	router   chi.Router
}

// New creates a new server. Metrics are served from gatherer.
func New(svc *reader.Service, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	s := &Server{
		reader:   svc,
		gatherer: gatherer,
		log:      log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/", s.handleListFeeds)
	r.Get("/api/feeds", s.handleListFeeds)

	r.Route("/feeds", func(r chi.Router) {
		r.Post("/", s.handleCreateFeed)
		r.Get("/{feedID}", s.handleShowFeed)
		r.Delete("/{feedID}", s.handleDeleteFeed)
	})

	r.Route("/entries", func(r chi.Router) {
		r.Get("/{entryID}", s.handleShowEntry)
		r.Put("/{entryID}", s.handleUpdateEntry)
	})

	r.Get("/opml", s.handleExportOPML)
	r.Post("/opml", s.handleImportOPML)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Server starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Gracefully shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- Feed Handlers ---

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.reader.ListFeeds(r.Context())
	if err != nil {
		s.reject(w, r, err)
		return
	}
	s.resolve(w, http.StatusOK, lo.Map(summaries, func(fs model.FeedSummary, _ int) FeedSummaryView {
		return FeedSummaryView{}.From(&fs)
	}))
}

// handleCreateFeed accepts the URL from an htmx prompt or a plain form post.
func (s *Server) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	feedURL := strings.TrimSpace(r.Header.Get("HX-Prompt"))
	if feedURL == "" {
		feedURL = strings.TrimSpace(r.FormValue("url"))
	}
	if feedURL == "" {
		s.rejectFeed(w, r, apperr.BadInput("feed URL is required"))
		return
	}

	feed, err := s.reader.Subscribe(r.Context(), feedURL)
	if err != nil {
		s.rejectFeed(w, r, err)
		return
	}
	w.Header().Set("HX-Redirect", fmt.Sprintf("/feeds/%d", feed.ID))
	s.resolve(w, http.StatusCreated, FeedView{}.From(feed))
}

func (s *Server) handleShowFeed(w http.ResponseWriter, r *http.Request) {
	feedID, err := pathID(r, "feedID")
	if err != nil {
		s.reject(w, r, err)
		return
	}
	page, err := s.reader.ShowFeed(r.Context(), feedID, r.URL.Query().Get("entries_visibility"))
	if err != nil {
		s.reject(w, r, err)
		return
	}
	s.resolve(w, http.StatusOK, FeedPageView{}.From(page))
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	feedID, err := pathID(r, "feedID")
	if err != nil {
		s.reject(w, r, err)
		return
	}
	if err := s.reader.DeleteFeed(r.Context(), feedID); err != nil {
		s.reject(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Entry Handlers ---

func (s *Server) handleShowEntry(w http.ResponseWriter, r *http.Request) {
	entryID, err := pathID(r, "entryID")
	if err != nil {
		s.reject(w, r, err)
		return
	}
	page, err := s.reader.ShowEntry(r.Context(), entryID)
	if err != nil {
		s.reject(w, r, err)
		return
	}
	s.resolve(w, http.StatusOK, EntryPageView{}.From(page))
}

// handleUpdateEntry replies with a bare status token so htmx can swap it
// into the action button.
func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	entryID, err := pathID(r, "entryID")
	if err != nil {
		s.reject(w, r, err)
		return
	}
	status, err := s.reader.UpdateEntry(r.Context(), entryID, r.URL.Query().Get("action"))
	if err != nil {
		s.reject(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(status))
}

// --- OPML Handlers ---

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxOPMLUpload)
	file, _, err := r.FormFile("opml")
	if err != nil {
		s.reject(w, r, apperr.BadInput("no OPML file provided"))
		return
	}
	defer file.Close()

	report, err := s.reader.ImportOPML(r.Context(), file)
	if err != nil {
		s.reject(w, r, err)
		return
	}
	s.resolve(w, http.StatusOK, ImportReportView{}.From(report))
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	data, err := s.reader.ExportOPML(r.Context())
	if err != nil {
		s.reject(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=inkwell-feeds.opml")
	w.Write(data)
}

// --- Helpers ---

func (s *Server) resolve(w http.ResponseWriter, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		s.log.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("requestID", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	s.resolve(w, status, ErrorView{Kind: apperr.KindOf(err).String(), Message: publicMessage(err)})
}

// rejectFeed also raises a feedError event for htmx listeners.
func (s *Server) rejectFeed(w http.ResponseWriter, r *http.Request, err error) {
	trigger, _ := json.Marshal(map[string]ErrorView{
		"feedError": {Kind: apperr.KindOf(err).String(), Message: publicMessage(err)},
	})
	w.Header().Set("HX-Trigger", string(trigger))
	s.reject(w, r, err)
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindBadInput:
		if errors.Is(err, database.ErrFeedExists) {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindNetwork:
		return http.StatusBadGateway
	case apperr.KindFeedParse:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the text shown to users. Network failures carry their
// cause; database failures stay opaque.
func publicMessage(err error) string {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	switch e.Kind {
	case apperr.KindDatabase:
		return "internal database error"
	case apperr.KindNetwork:
		return e.Error()
	default:
		return e.Message
	}
}

func pathID(r *http.Request, param string) (int64, error) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.BadInput(fmt.Sprintf("invalid id %q", raw))
	}
	return id, nil
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("Served request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("requestID", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
