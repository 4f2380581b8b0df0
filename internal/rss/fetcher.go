// Package rss provides feed fetching, parsing and ingestion.
package rss

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bryan-buckman/inkwell/internal/metrics"
	"github.com/carlmjohnson/requests"
)

const acceptFeeds = "application/rss+xml, application/atom+xml, application/feed+json, application/json;q=0.9, application/xml;q=0.9, text/xml;q=0.9, */*;q=0.8"

// domainLimiter controls rate limiting per domain to avoid overwhelming hosts.
type domainLimiter struct {
	mu          sync.Mutex
	semaphores  map[string]chan struct{}
	lastRequest map[string]time.Time
	perDomain   int
	delay       time.Duration
}

// newDomainLimiter creates a new per-domain rate limiter.
func newDomainLimiter(perDomain int, delay time.Duration) *domainLimiter {
	if perDomain <= 0 {
		perDomain = 1
	}
	return &domainLimiter{
		semaphores:  make(map[string]chan struct{}),
		lastRequest: make(map[string]time.Time),
		perDomain:   perDomain,
		delay:       delay,
	}
}

// acquire gets a slot for the domain, blocking if necessary.
// It also enforces the minimum delay between requests to the same domain.
func (dl *domainLimiter) acquire(ctx context.Context, domain string) error {
	dl.mu.Lock()
	sem, ok := dl.semaphores[domain]
	if !ok {
		sem = make(chan struct{}, dl.perDomain)
		dl.semaphores[domain] = sem
	}
	dl.mu.Unlock()

	// Acquire semaphore slot
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Enforce delay between requests to same domain
	dl.mu.Lock()
	lastReq := dl.lastRequest[domain]
	dl.mu.Unlock()

	if !lastReq.IsZero() {
		elapsed := time.Since(lastReq)
		if elapsed < dl.delay {
			timer := time.NewTimer(dl.delay - elapsed)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				// Release the semaphore on cancel
				<-sem
				return ctx.Err()
			}
		}
	}

	return nil
}

// release returns a slot for the domain and records the request time.
func (dl *domainLimiter) release(domain string) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.lastRequest[domain] = time.Now()
	if sem, ok := dl.semaphores[domain]; ok {
		<-sem
	}
}

// extractDomain gets the host from a URL.
func extractDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL // fallback to full URL
	}
	return u.Host
}

// Document is a fetched feed document.
type Document struct {
	URL         string
	Body        []byte
	ETag        string
	ContentType string
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	Timeout        time.Duration
	UserAgent      string
	MaxBytes       int64
	PerHostFetches int
	PerHostDelay   time.Duration
}

// Fetcher retrieves remote feed documents.
type Fetcher struct {
	client        *http.Client
	userAgent     string
	maxBytes      int64
	domainLimiter *domainLimiter
	metrics       *metrics.Metrics
}

// NewFetcher creates a fetcher. Redirects are followed by the client.
func NewFetcher(opts FetcherOptions, m *metrics.Metrics) *Fetcher {
	return &Fetcher{
		client:        &http.Client{Timeout: opts.Timeout},
		userAgent:     opts.UserAgent,
		maxBytes:      opts.MaxBytes,
		domainLimiter: newDomainLimiter(opts.PerHostFetches, opts.PerHostDelay),
		metrics:       m,
	}
}

// Fetch issues a single GET for feedURL. Transport failures, timeouts,
// non-2xx replies and bodies over the size limit are all returned as errors;
// nothing is retried.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) (*Document, error) {
	// Apply per-domain rate limiting
	domain := extractDomain(feedURL)
	if err := f.domainLimiter.acquire(ctx, domain); err != nil {
		return nil, fmt.Errorf("rate limit cancelled for %s: %w", feedURL, err)
	}
	defer f.domainLimiter.release(domain)

	doc := &Document{URL: feedURL}
	start := time.Now()
	err := requests.
		URL(feedURL).
		Client(f.client).
		UserAgent(f.userAgent).
		Accept(acceptFeeds).
		Handle(func(res *http.Response) error {
			doc.ETag = res.Header.Get("ETag")
			doc.ContentType = res.Header.Get("Content-Type")
			return f.readBody(res.Body, doc)
		}).
		Fetch(ctx)
	f.metrics.ObserveFetch(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", feedURL, err)
	}
	return doc, nil
}

func (f *Fetcher) readBody(r io.Reader, doc *Document) error {
	if f.maxBytes > 0 {
		r = io.LimitReader(r, f.maxBytes+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if f.maxBytes > 0 && int64(len(body)) > f.maxBytes {
		return fmt.Errorf("feed document exceeds %d bytes", f.maxBytes)
	}
	doc.Body = body
	return nil
}
