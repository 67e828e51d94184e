package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TheBoringRats/ratcrowler/internal/fingerprint"
	"github.com/TheBoringRats/ratcrowler/internal/model"
	"github.com/TheBoringRats/ratcrowler/pkg/useragent"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	fetcher, err := NewFetcher(FetchConfig{
		Timeout:     5 * time.Second,
		Fingerprint: fingerprint.ProfileGo,
		UAPool:      useragent.NewPool([]string{"TestBrowser/1.0"}),
	})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	return fetcher
}

func TestPageFetcher_SuccessProducesPage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<html><head><title>Hi</title></head><body><p>hello world</p></body></html>`))
	}))
	defer ts.Close()

	pf := NewPageFetcher(newTestFetcher(t), nil, PageFetchConfig{MaxRetries: 2}, nil)

	outcome := pf.Fetch(context.Background(), 1, ts.URL)
	if outcome.Err != nil {
		t.Fatalf("unexpected error: %+v", outcome.Err)
	}
	if outcome.Page == nil {
		t.Fatal("expected a page")
	}
	if outcome.Page.Title != "Hi" {
		t.Errorf("Title = %q", outcome.Page.Title)
	}
	if outcome.Page.HTTPStatus != 200 {
		t.Errorf("HTTPStatus = %d", outcome.Page.HTTPStatus)
	}
	if outcome.Page.ContentHash == "" {
		t.Error("expected non-empty content hash")
	}
}

func TestPageFetcher_404IsTerminalError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	pf := NewPageFetcher(newTestFetcher(t), nil, PageFetchConfig{MaxRetries: 3}, nil)
	outcome := pf.Fetch(context.Background(), 1, ts.URL)

	if outcome.Err == nil {
		t.Fatal("expected an error")
	}
	if outcome.Err.StatusCode != 404 {
		t.Errorf("StatusCode = %d, want 404", outcome.Err.StatusCode)
	}
}

func TestPageFetcher_DuplicateContentIsSkippedNotErrored(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<html><body>same content</body></html>`))
	}))
	defer ts.Close()

	pf := NewPageFetcher(newTestFetcher(t), nil, PageFetchConfig{MaxRetries: 2}, nil)

	first := pf.Fetch(context.Background(), 1, ts.URL+"/a")
	if first.Page == nil {
		t.Fatalf("expected first fetch to produce a page, got %+v", first)
	}

	second := pf.Fetch(context.Background(), 1, ts.URL+"/b")
	if second.Page != nil {
		t.Errorf("expected duplicate content to be skipped, got a page")
	}
	if !second.Skipped || second.SkipCause != "duplicate_content" {
		t.Errorf("expected duplicate_content skip, got %+v", second)
	}
}

func TestPageFetcher_RecrawlWindowSkipsRecentURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<html><body>x</body></html>`))
	}))
	defer ts.Close()

	pf := NewPageFetcher(newTestFetcher(t), nil, PageFetchConfig{MaxRetries: 2, RecrawlAfter: time.Hour}, nil)

	first := pf.Fetch(context.Background(), 1, ts.URL)
	if first.Page == nil {
		t.Fatalf("expected first fetch to succeed, got %+v", first)
	}

	second := pf.Fetch(context.Background(), 1, ts.URL)
	if !second.Skipped || second.SkipCause != "recrawl_window" {
		t.Errorf("expected recrawl_window skip, got %+v", second)
	}
}

func TestPageFetcher_InvalidURLProducesClientError(t *testing.T) {
	pf := NewPageFetcher(newTestFetcher(t), nil, PageFetchConfig{}, nil)
	outcome := pf.Fetch(context.Background(), 1, "not-a-url")
	if outcome.Err == nil || outcome.Err.ErrorType != model.ErrClientError {
		t.Errorf("expected ErrClientError, got %+v", outcome.Err)
	}
}

func TestPageFetcher_CanonicalMismatchDropsRecentlyCrawledTarget(t *testing.T) {
	var canonicalURL string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dup-target":
			_, _ = w.Write([]byte(`<html><body>canonical target content</body></html>`))
		case "/alias":
			_, _ = fmt.Fprintf(w, `<html><head><link rel="canonical" href="%s"></head><body>alias content, longer than the target</body></html>`, canonicalURL)
		}
	}))
	defer ts.Close()
	canonicalURL = ts.URL + "/dup-target"

	pf := NewPageFetcher(newTestFetcher(t), nil, PageFetchConfig{MaxRetries: 2, RecrawlAfter: time.Hour}, nil)

	target := pf.Fetch(context.Background(), 1, ts.URL+"/dup-target")
	if target.Page == nil {
		t.Fatalf("expected canonical target fetch to succeed, got %+v", target)
	}

	alias := pf.Fetch(context.Background(), 1, ts.URL+"/alias")
	if !alias.Skipped || alias.SkipCause != "canonical_duplicate" {
		t.Errorf("expected canonical_duplicate skip, got %+v", alias)
	}
}

func TestPageFetcher_CanonicalMismatchWithoutPriorVisitIsNotDropped(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><link rel="canonical" href="https://elsewhere.test/never-crawled"></head><body>fresh content</body></html>`))
	}))
	defer ts.Close()

	pf := NewPageFetcher(newTestFetcher(t), nil, PageFetchConfig{MaxRetries: 2, RecrawlAfter: time.Hour}, nil)

	outcome := pf.Fetch(context.Background(), 1, ts.URL)
	if outcome.Skipped {
		t.Errorf("expected page to be kept when its canonical target was never crawled, got %+v", outcome)
	}
	if outcome.Page == nil {
		t.Fatal("expected a page")
	}
}

func TestPageFetcher_RetriesOn503ThenSucceeds(t *testing.T) {
	var requests int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<html><body>recovered</body></html>`))
	}))
	defer ts.Close()

	pf := NewPageFetcher(newTestFetcher(t), nil, PageFetchConfig{MaxRetries: 3, BaseDelay: time.Millisecond}, nil)
	outcome := pf.Fetch(context.Background(), 1, ts.URL)

	if outcome.Err != nil {
		t.Fatalf("unexpected error after recovering: %+v", outcome.Err)
	}
	if outcome.Page == nil || outcome.Page.HTTPStatus != 200 {
		t.Fatalf("expected a 200 page, got %+v", outcome)
	}
	if got := atomic.LoadInt32(&requests); got != 3 {
		t.Errorf("expected exactly 3 requests (1 + 2 retries), got %d", got)
	}
}

func TestPageFetcher_ExhaustsRetriesOnPersistent503(t *testing.T) {
	var requests int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	pf := NewPageFetcher(newTestFetcher(t), nil, PageFetchConfig{MaxRetries: 3, BaseDelay: time.Millisecond}, nil)
	outcome := pf.Fetch(context.Background(), 1, ts.URL)

	if outcome.Err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if got := atomic.LoadInt32(&requests); got != 3 {
		t.Errorf("expected exactly 3 requests, got %d", got)
	}
}
