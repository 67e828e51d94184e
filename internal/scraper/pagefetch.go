package scraper

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/TheBoringRats/ratcrowler/internal/metrics"
	"github.com/TheBoringRats/ratcrowler/internal/model"
	"github.com/TheBoringRats/ratcrowler/internal/normalize"
	"github.com/TheBoringRats/ratcrowler/internal/parser"
	"golang.org/x/text/encoding/charmap"
)

// PageFetchConfig tunes the per-URL algorithm in spec.md §4.7.
type PageFetchConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	RecrawlAfter time.Duration // default 7 days
	ConfigDelay  time.Duration // politeness floor applied between fetches
	SocialHosts  []string      // hosts granted the 60s timeout + 401/403 retry allowance
}

func (c *PageFetchConfig) withDefaults() PageFetchConfig {
	cfg := *c
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.RecrawlAfter <= 0 {
		cfg.RecrawlAfter = 7 * 24 * time.Hour
	}
	return cfg
}

// PageFetcher wraps a Fetcher and RobotsTxtAuditor to turn a raw HTTP fetch
// into the crawler's domain types (model.CrawledPage / model.CrawlError),
// applying the retry ladder, recrawl window, and content-hash dedup from
// spec.md §4.7.
type PageFetcher struct {
	fetcher *Fetcher
	robots  *RobotsTxtAuditor
	cfg     PageFetchConfig
	logger  *slog.Logger

	mu          sync.Mutex
	lastCrawled map[string]time.Time
	seenHashes  map[string]struct{}
}

// NewPageFetcher builds a PageFetcher. robots may be nil to skip robots.txt
// enforcement entirely.
func NewPageFetcher(fetcher *Fetcher, robots *RobotsTxtAuditor, cfg PageFetchConfig, logger *slog.Logger) *PageFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageFetcher{
		fetcher:     fetcher,
		robots:      robots,
		cfg:         cfg.withDefaults(),
		logger:      logger,
		lastCrawled: make(map[string]time.Time),
		seenHashes:  make(map[string]struct{}),
	}
}

// Outcome is the result of fetching one URL: either a page, an error, or
// neither (when the URL is skipped as recently-crawled or duplicate
// content — still a valid outcome, not a failure).
type Outcome struct {
	Page      *model.CrawledPage
	Err       *model.CrawlError
	Skipped   bool
	SkipCause string
	ParsedLinks []parser.Link
}

// Fetch runs the full per-URL algorithm against rawURL for sessionID.
func (pf *PageFetcher) Fetch(ctx context.Context, sessionID int64, rawURL string) Outcome {
	normalized, err := normalize.URL(rawURL)
	if err != nil {
		return Outcome{Err: &model.CrawlError{
			SessionID: sessionID,
			URL:       rawURL,
			ErrorType: model.ErrClientError,
			ErrorMsg:  err.Error(),
			Timestamp: time.Now().UTC(),
		}}
	}

	if pf.recentlyCrawled(normalized) {
		return Outcome{Skipped: true, SkipCause: "recrawl_window"}
	}

	host := normalize.Host(normalized)
	// robots.txt group lookup uses a fixed identity token, not the
	// per-request rotated UA, so robots decisions stay stable.
	const userAgent = "ratcrowler"

	if pf.robots != nil {
		allowed, err := pf.robots.IsAllowed(ctx, normalized, userAgent)
		if err == nil && !allowed {
			return Outcome{Err: &model.CrawlError{
				SessionID: sessionID,
				URL:       normalized,
				ErrorType: model.ErrRobotsBlocked,
				ErrorMsg:  "disallowed by robots.txt",
				Timestamp: time.Now().UTC(),
			}}
		}
	}

	fetchCtx := ctx
	if pf.isSocialHost(host) {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
	}

	page, crawlErr := pf.fetchWithRetries(fetchCtx, sessionID, normalized, host)

	politeDelay := pf.cfg.ConfigDelay
	if d := pf.crawlDelay(host); d > politeDelay {
		politeDelay = d
	}
	if politeDelay > 0 {
		select {
		case <-time.After(politeDelay):
		case <-ctx.Done():
		}
	}

	pf.markCrawled(normalized)

	if crawlErr != nil {
		return Outcome{Err: crawlErr}
	}
	if page == nil {
		return Outcome{Skipped: true, SkipCause: "duplicate_content"}
	}

	parsed, perr := parser.Parse(normalized, []byte(page.ContentHTML))
	if perr != nil {
		return Outcome{Page: page}
	}
	applyParsed(page, parsed)

	if strings.Contains(strings.ToLower(parsed.RobotsMeta), "noindex") {
		return Outcome{Skipped: true, SkipCause: "noindex"}
	}

	if pf.isCanonicalDuplicate(normalized, parsed.CanonicalURL) {
		return Outcome{Skipped: true, SkipCause: "canonical_duplicate"}
	}

	return Outcome{Page: page, ParsedLinks: parsed.Links}
}

func applyParsed(page *model.CrawledPage, parsed parser.Result) {
	page.Title = parsed.Title
	page.MetaDescription = parsed.MetaDescription
	page.MetaKeywords = parsed.MetaKeywords
	page.H1Tags = parsed.H1Tags
	page.H2Tags = parsed.H2Tags
	page.CanonicalURL = parsed.CanonicalURL
	page.RobotsMeta = parsed.RobotsMeta
	page.Language = parsed.Language
	page.ContentText = parsed.ContentText
	page.WordCount = parsed.WordCount
	page.InternalLinksCount = parsed.InternalLinksCount
	page.ExternalLinksCount = parsed.ExternalLinksCount
	page.ImagesCount = parsed.ImagesCount
}

// fetchWithRetries runs the status-classification ladder from spec.md
// §4.7 step 5, retrying according to step 6's backoff formula.
func (pf *PageFetcher) fetchWithRetries(ctx context.Context, sessionID int64, normalized, host string) (*model.CrawledPage, *model.CrawlError) {
	var redirectChain []string
	originalURL := normalized

	for attempt := 1; attempt <= pf.cfg.MaxRetries; attempt++ {
		start := time.Now()
		result, err := pf.fetcher.Fetch(ctx, normalized)
		elapsed := time.Since(start)
		metrics.RecordScrape(host, result)

		if err != nil || result.Error != "" {
			msg := ""
			if err != nil {
				msg = err.Error()
			} else {
				msg = result.Error
			}
			if attempt >= pf.cfg.MaxRetries {
				return nil, &model.CrawlError{
					SessionID: sessionID, URL: normalized, ErrorType: model.ErrTimeout,
					ErrorMsg: msg, Timestamp: time.Now().UTC(),
				}
			}
			pf.backoffSleep(ctx, attempt)
			continue
		}

		switch {
		case result.StatusCode >= 200 && result.StatusCode < 300:
			ct, ext := parser.ClassifyExtension(normalized)
			hash := contentHash(result.Body)

			page := &model.CrawledPage{
				URL:            normalized,
				SessionID:      sessionID,
				OriginalURL:    originalURL,
				RedirectChain:  redirectChain,
				ContentHash:    hash,
				PageSize:       len(result.Body),
				HTTPStatus:     result.StatusCode,
				ResponseTimeMs: elapsed.Milliseconds(),
				ContentType:    ct,
				FileExtension:  ext,
				CrawlTime:      time.Now().UTC(),
			}
			charset, text := decodeBody(result.Body)
			page.Charset = charset
			page.ContentHTML = text

			if pf.isDuplicate(hash) {
				return nil, nil
			}
			pf.markHash(hash)
			return page, nil

		case result.StatusCode == 401 || result.StatusCode == 403:
			if pf.isSocialHost(host) && attempt < pf.cfg.MaxRetries {
				pf.backoffSleep(ctx, attempt)
				continue
			}
			return nil, &model.CrawlError{
				SessionID: sessionID, URL: normalized, ErrorType: model.ErrHTTPError,
				ErrorMsg: "access denied", StatusCode: result.StatusCode, Timestamp: time.Now().UTC(),
			}

		case result.StatusCode == 404:
			return nil, &model.CrawlError{
				SessionID: sessionID, URL: normalized, ErrorType: model.ErrHTTPError,
				ErrorMsg: "not found", StatusCode: 404, Timestamp: time.Now().UTC(),
			}

		case result.StatusCode == 429:
			if attempt >= pf.cfg.MaxRetries {
				return nil, &model.CrawlError{
					SessionID: sessionID, URL: normalized, ErrorType: model.ErrHTTPError,
					ErrorMsg: "rate limited", StatusCode: 429, Timestamp: time.Now().UTC(),
				}
			}
			wait := 10*time.Second + time.Duration(rand.Float64()*10)*time.Second
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, &model.CrawlError{
					SessionID: sessionID, URL: normalized, ErrorType: model.ErrTimeout,
					ErrorMsg: ctx.Err().Error(), Timestamp: time.Now().UTC(),
				}
			}

		case result.StatusCode == 502 || result.StatusCode == 503 || result.StatusCode == 504:
			if attempt >= pf.cfg.MaxRetries {
				return nil, &model.CrawlError{
					SessionID: sessionID, URL: normalized, ErrorType: model.ErrHTTPError,
					ErrorMsg: "upstream unavailable", StatusCode: result.StatusCode, Timestamp: time.Now().UTC(),
				}
			}
			pf.backoffSleep(ctx, attempt)

		default:
			if attempt >= pf.cfg.MaxRetries {
				return nil, &model.CrawlError{
					SessionID: sessionID, URL: normalized, ErrorType: model.ErrHTTPError,
					ErrorMsg: "unexpected status", StatusCode: result.StatusCode, Timestamp: time.Now().UTC(),
				}
			}
			pf.backoffSleep(ctx, attempt)
		}
	}

	return nil, &model.CrawlError{
		SessionID: sessionID, URL: normalized, ErrorType: model.ErrHTTPError,
		ErrorMsg: "retry budget exhausted", Timestamp: time.Now().UTC(),
	}
}

func (pf *PageFetcher) backoffSleep(ctx context.Context, attempt int) {
	delay := time.Duration(float64(pf.cfg.BaseDelay) * float64(attempt) * (1 + rand.Float64()))
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

func (pf *PageFetcher) isSocialHost(host string) bool {
	for _, h := range pf.cfg.SocialHosts {
		if normalize.SameOrSubdomain(host, h) {
			return true
		}
	}
	return false
}

func (pf *PageFetcher) crawlDelay(host string) time.Duration {
	if pf.robots == nil {
		return 0
	}
	return pf.robots.CrawlDelay(host)
}

// isCanonicalDuplicate reports whether the page's canonical URL points
// somewhere other than the fetched URL, and that other URL was already
// crawled within the recrawl window (spec.md §4.8): a canonical mismatch
// alone isn't enough to drop the page, only a mismatch onto content this
// crawler already has fresh.
func (pf *PageFetcher) isCanonicalDuplicate(fetchedURL, canonicalURL string) bool {
	if canonicalURL == "" {
		return false
	}
	normalizedCanonical, err := normalize.URL(canonicalURL)
	if err != nil || normalizedCanonical == fetchedURL {
		return false
	}
	return pf.recentlyCrawled(normalizedCanonical)
}

func (pf *PageFetcher) recentlyCrawled(normalized string) bool {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	last, ok := pf.lastCrawled[normalized]
	if !ok {
		return false
	}
	return time.Since(last) < pf.cfg.RecrawlAfter
}

func (pf *PageFetcher) markCrawled(normalized string) {
	pf.mu.Lock()
	pf.lastCrawled[normalized] = time.Now()
	pf.mu.Unlock()
}

func (pf *PageFetcher) isDuplicate(hash string) bool {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	_, ok := pf.seenHashes[hash]
	return ok
}

func (pf *PageFetcher) markHash(hash string) {
	pf.mu.Lock()
	pf.seenHashes[hash] = struct{}{}
	pf.mu.Unlock()
}

func contentHash(body []byte) string {
	sum := md5.Sum(body)
	return hex.EncodeToString(sum[:])
}

// decodeBody decodes raw bytes as UTF-8, falling back to Latin-1, and
// finally to UTF-8 with invalid sequences replaced, per spec.md §4.7 step
// 7. It returns the effective charset name alongside the decoded text.
func decodeBody(body []byte) (charset, text string) {
	if utf8.Valid(body) {
		return "utf-8", string(body)
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(body)
	if err == nil {
		return "iso-8859-1", string(decoded)
	}

	return "utf-8", strings.ToValidUTF8(string(body), "�")
}
